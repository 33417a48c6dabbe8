// Package ethlog implements a SourceFactory that polls an Ethereum-style
// JSON-RPC endpoint's eth_getLogs for log events emitted by a contract (or
// by every contract, when Config.Address is empty) and maps each log onto
// a single fixed schema, the way dozer-ingestion's Ethereum log connector
// does when no ABI-to-address mapping is configured for a given address.
//
// There is no JSON-RPC client library anywhere in the retrieved pack, so
// this package speaks eth_getLogs/eth_blockNumber directly over net/http,
// the same way the teacher's own pkg/client reaches for net/http rather
// than a generated or third-party client where gRPC isn't already in play.
package ethlog

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

const outputPort types.PortHandle = 0

// logSchema mirrors dozer-ingestion's get_eth_schema, field for field, plus
// one supplemental base58-encoded transaction hash column not present in
// the original.
var logSchema = types.Schema{
	Fields: []types.FieldDefinition{
		{Name: "id", Type: types.FieldTypeUInt},
		{Name: "address", Type: types.FieldTypeString},
		{Name: "topics", Type: types.FieldTypeString},
		{Name: "data", Type: types.FieldTypeBinary},
		{Name: "block_hash", Type: types.FieldTypeString, Nullable: true},
		{Name: "block_number", Type: types.FieldTypeUInt, Nullable: true},
		{Name: "transaction_hash", Type: types.FieldTypeString, Nullable: true},
		{Name: "transaction_index", Type: types.FieldTypeInt, Nullable: true},
		{Name: "log_index", Type: types.FieldTypeInt, Nullable: true},
		{Name: "transaction_log_index", Type: types.FieldTypeInt, Nullable: true},
		{Name: "log_type", Type: types.FieldTypeString, Nullable: true},
		{Name: "removed", Type: types.FieldTypeBoolean, Nullable: true},
		{Name: "transaction_hash_b58", Type: types.FieldTypeString, Nullable: true},
	},
	PrimaryKey: []int{0},
}

// Config configures an ethlog node.
type Config struct {
	RPCEndpoint  string
	Address      string // contract address filter; empty matches every address
	Topics       []string
	FromBlock    uint64
	PollInterval time.Duration
	Confirmations uint64 // blocks to hold back from the chain head before polling them
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	return c
}

// Factory is the SourceFactory for an ethlog node.
type Factory struct {
	cfg Config
}

// NewFactory builds a Factory for the given RPC endpoint and filter.
func NewFactory(cfg Config) *Factory {
	return &Factory{cfg: cfg.withDefaults()}
}

func (f *Factory) OutputPorts() []types.PortHandle { return []types.PortHandle{outputPort} }

func (f *Factory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{
		outputPort: {Schema: logSchema, Persist: types.PersistencePrimaryKey},
	}, nil
}

func (f *Factory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, lastCheckpoint *types.SourceState) (engine.Source, error) {
	cursor := f.cfg.FromBlock
	if lastCheckpoint != nil && lastCheckpoint.TxID > 0 {
		cursor = lastCheckpoint.TxID + 1
	}
	return &source{
		cfg:       f.cfg,
		client:    &http.Client{Timeout: 15 * time.Second},
		nextBlock: cursor,
		senders:   senders[outputPort],
		logger:    log.WithComponent("ethlog"),
	}, nil
}

type source struct {
	cfg       Config
	client    *http.Client
	nextBlock uint64
	senders   []*exec.Sender
	logger    zerolog.Logger
}

func (s *source) Start(ing engine.Ingestor) error {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		n, err := s.pollOnce()
		if err != nil {
			s.logger.Error().Err(err).Msg("poll failed, will retry")
		} else if n > 0 {
			if _, err := ing.ReportState(types.SourceState{TxID: s.nextBlock - 1, SeqNo: 0}); err != nil {
				return err
			}
		}

		select {
		case <-ticker.C:
		case <-ing.Done():
			return nil
		}
	}
}

func (s *source) pollOnce() (int, error) {
	head, err := s.blockNumber()
	if err != nil {
		return 0, fmt.Errorf("ethlog: eth_blockNumber: %w", err)
	}
	safeHead := head
	if s.cfg.Confirmations > 0 {
		if s.cfg.Confirmations > head {
			return 0, nil
		}
		safeHead = head - s.cfg.Confirmations
	}
	if s.nextBlock > safeHead {
		return 0, nil
	}

	logs, err := s.getLogs(s.nextBlock, safeHead)
	if err != nil {
		return 0, fmt.Errorf("ethlog: eth_getLogs %d-%d: %w", s.nextBlock, safeHead, err)
	}

	for _, l := range logs {
		rec, err := mapLogToRecord(l)
		if err != nil {
			return 0, fmt.Errorf("ethlog: decode log: %w", err)
		}
		if err := emit(s.senders, types.Insert(rec)); err != nil {
			return 0, err
		}
	}

	s.logger.Info().Uint64("from", s.nextBlock).Uint64("to", safeHead).Int("logs", len(logs)).Msg("polled logs")
	s.nextBlock = safeHead + 1
	return len(logs), nil
}

func emit(senders []*exec.Sender, op types.Operation) error {
	for _, s := range senders {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

// rawLog is the JSON shape returned by eth_getLogs, matching go-ethereum's
// wire format: every numeric field is a 0x-prefixed hex string.
type rawLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockHash        *string  `json:"blockHash"`
	BlockNumber      *string  `json:"blockNumber"`
	TransactionHash  *string  `json:"transactionHash"`
	TransactionIndex *string  `json:"transactionIndex"`
	LogIndex         *string  `json:"logIndex"`
	Removed          *bool    `json:"removed"`
}

// mapLogToRecord mirrors dozer-ingestion's map_log_to_values/get_id: the
// primary id is block_no*100_000 + log_idx*2, and every hex-encoded
// quantity is parsed through uint256 since eth_getLogs numeric fields can
// in principle exceed 64 bits (block and log indices never do in
// practice, but the wire format gives no such guarantee).
func mapLogToRecord(l rawLog) (types.Record, error) {
	blockNo, err := parseHexUint256(l.BlockNumber)
	if err != nil {
		return types.Record{}, fmt.Errorf("block number: %w", err)
	}
	logIdx, err := parseHexUint256(l.LogIndex)
	if err != nil {
		return types.Record{}, fmt.Errorf("log index: %w", err)
	}
	txIdx, err := parseHexUint256(l.TransactionIndex)
	if err != nil {
		return types.Record{}, fmt.Errorf("transaction index: %w", err)
	}

	id := blockNo.Uint64()*100_000 + logIdx.Uint64()*2

	data, err := hexDecode(l.Data)
	if err != nil {
		return types.Record{}, fmt.Errorf("data: %w", err)
	}

	fields := []types.Field{
		types.UIntField(id),
		types.StringField(l.Address),
		types.StringField(strings.Join(l.Topics, " ")),
		types.BinaryField(data),
		stringOrNull(l.BlockHash),
		uintOrNull(blockNo, l.BlockNumber != nil),
		stringOrNull(l.TransactionHash),
		intOrNull(txIdx, l.TransactionIndex != nil),
		intOrNull(logIdx, l.LogIndex != nil),
		types.NullField(), // transaction_log_index: not exposed by eth_getLogs
		types.NullField(), // log_type: pre-Byzantium field, unused on modern chains
		boolOrNull(l.Removed),
		transactionHashB58(l.TransactionHash),
	}

	return types.Record{Fields: fields, SchemaID: &logSchema.ID}, nil
}

func parseHexUint256(h *string) (*uint256.Int, error) {
	if h == nil {
		return uint256.NewInt(0), nil
	}
	v, err := uint256.FromHex(*h)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func hexDecode(h string) ([]byte, error) {
	h = strings.TrimPrefix(h, "0x")
	if len(h)%2 != 0 {
		h = "0" + h
	}
	return hex.DecodeString(h)
}

func stringOrNull(s *string) types.Field {
	if s == nil {
		return types.NullField()
	}
	return types.StringField(*s)
}

func uintOrNull(v *uint256.Int, present bool) types.Field {
	if !present {
		return types.NullField()
	}
	return types.UIntField(v.Uint64())
}

func intOrNull(v *uint256.Int, present bool) types.Field {
	if !present {
		return types.NullField()
	}
	return types.IntField(int64(v.Uint64()))
}

func boolOrNull(b *bool) types.Field {
	if b == nil {
		return types.NullField()
	}
	return types.BoolField(*b)
}

// transactionHashB58 renders the transaction hash in base58 alongside its
// canonical 0x-hex form, the way block explorers offer a shorter copyable
// id; not part of the original schema, a supplemental column.
func transactionHashB58(h *string) types.Field {
	if h == nil {
		return types.NullField()
	}
	raw, err := hexDecode(*h)
	if err != nil {
		return types.NullField()
	}
	return types.StringField(base58.Encode(raw))
}

// rpcRequest/rpcResponse implement just enough of JSON-RPC 2.0 to drive
// eth_blockNumber and eth_getLogs.
type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int         `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (s *source) call(method string, params interface{}, out interface{}) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params})
	if err != nil {
		return err
	}
	resp, err := s.client.Post(s.cfg.RPCEndpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(rpcResp.Result, out)
}

func (s *source) blockNumber() (uint64, error) {
	var hexResult string
	if err := s.call("eth_blockNumber", []interface{}{}, &hexResult); err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(hexResult, "0x"), 16, 64)
}

func (s *source) getLogs(from, to uint64) ([]rawLog, error) {
	filter := map[string]interface{}{
		"fromBlock": "0x" + strconv.FormatUint(from, 16),
		"toBlock":   "0x" + strconv.FormatUint(to, 16),
	}
	if s.cfg.Address != "" {
		filter["address"] = s.cfg.Address
	}
	if len(s.cfg.Topics) > 0 {
		filter["topics"] = s.cfg.Topics
	}

	var logs []rawLog
	if err := s.call("eth_getLogs", []interface{}{filter}, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}
