package ethlog

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestMapLogToRecordComputesIDAndFields(t *testing.T) {
	l := rawLog{
		Address:          "0xabc",
		Topics:           []string{"0x1", "0x2"},
		Data:             "0xdead",
		BlockHash:        strPtr("0xblockhash"),
		BlockNumber:      strPtr("0x2"),
		TransactionHash:  strPtr("0x1234"),
		TransactionIndex: strPtr("0x3"),
		LogIndex:         strPtr("0x1"),
		Removed:          nil,
	}

	rec, err := mapLogToRecord(l)
	require.NoError(t, err)
	require.Len(t, rec.Fields, 13)

	// id = block_no*100_000 + log_idx*2 = 2*100_000 + 1*2
	assert.Equal(t, uint64(200002), rec.Fields[0].UIntVal)
	assert.Equal(t, "0xabc", rec.Fields[1].StrVal)
	assert.Equal(t, "0x1 0x2", rec.Fields[2].StrVal)
	assert.Equal(t, []byte{0xde, 0xad}, rec.Fields[3].BinVal)
	assert.Equal(t, "0xblockhash", rec.Fields[4].StrVal)
	assert.Equal(t, uint64(2), rec.Fields[5].UIntVal)
	assert.Equal(t, "0x1234", rec.Fields[6].StrVal)
	assert.Equal(t, int64(3), rec.Fields[7].IntVal)
	assert.Equal(t, int64(1), rec.Fields[8].IntVal)
	assert.Equal(t, types.NullField(), rec.Fields[9])
	assert.Equal(t, types.NullField(), rec.Fields[10])
	assert.Equal(t, types.NullField(), rec.Fields[11])
	assert.NotEmpty(t, rec.Fields[12].StrVal)
}

func TestMapLogToRecordNullsAbsentFields(t *testing.T) {
	l := rawLog{Address: "0xabc", Data: "0x"}
	rec, err := mapLogToRecord(l)
	require.NoError(t, err)
	assert.Equal(t, types.NullField(), rec.Fields[4])
	assert.Equal(t, types.NullField(), rec.Fields[5])
	assert.Equal(t, types.NullField(), rec.Fields[12])
}

func TestHexDecodeOddLength(t *testing.T) {
	b, err := hexDecode("0xabc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xbc}, b)
}

func TestTransactionHashB58RoundTripsThroughHexDecode(t *testing.T) {
	assert.Equal(t, types.NullField(), transactionHashB58(nil))
	got := transactionHashB58(strPtr("0x00"))
	assert.NotEqual(t, types.NullField(), got)
}

func TestFactoryResumesFromCheckpoint(t *testing.T) {
	f := NewFactory(Config{RPCEndpoint: "http://example.invalid", FromBlock: 10})
	checkpoint := &types.SourceState{TxID: 99}
	src, err := f.Build(nil, nil, checkpoint)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), src.(*source).nextBlock)
}

func TestFactoryUsesFromBlockWithNoCheckpoint(t *testing.T) {
	f := NewFactory(Config{RPCEndpoint: "http://example.invalid", FromBlock: 10})
	src, err := f.Build(nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(10), src.(*source).nextBlock)
}

// rpcServer fakes just enough of an Ethereum JSON-RPC endpoint to drive
// blockNumber/getLogs against a real net/http round trip.
func rpcServer(t *testing.T, head uint64, logs []rawLog) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result interface{}
		switch req.Method {
		case "eth_blockNumber":
			result = "0x" + fmtHex(head)
		case "eth_getLogs":
			result = logs
		}
		resultBytes, err := json.Marshal(result)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode(rpcResponse{Result: resultBytes})
	}))
}

func fmtHex(v uint64) string {
	const hexDigits = "0123456789abcdef"
	if v == 0 {
		return "0"
	}
	var buf []byte
	for v > 0 {
		buf = append([]byte{hexDigits[v%16]}, buf...)
		v /= 16
	}
	return string(buf)
}

func TestPollOnceAdvancesNextBlockAndEmits(t *testing.T) {
	srv := rpcServer(t, 5, []rawLog{{Address: "0xabc", Data: "0x", BlockNumber: strPtr("0x1"), LogIndex: strPtr("0x0")}})
	defer srv.Close()

	f := NewFactory(Config{RPCEndpoint: srv.URL, FromBlock: 0})
	s := &source{cfg: f.cfg, client: srv.Client(), nextBlock: 0}
	n, err := s.pollOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint64(6), s.nextBlock)
}
