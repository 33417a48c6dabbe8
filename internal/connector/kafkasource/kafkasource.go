// Package kafkasource implements a SourceFactory over a Kafka topic using
// sarama's consumer-group API. Every message on the topic is treated as an
// Insert carrying its raw key/value/partition/offset/timestamp; there is no
// schema negotiation with the broker, so the schema is fixed ahead of time
// the same way a dozer-ingestion Kafka connector treats every topic as an
// opaque byte stream rather than parsing Avro/Protobuf payloads itself.
package kafkasource

import (
	"context"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/rs/zerolog"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

const outputPort types.PortHandle = 0

var messageSchema = types.Schema{
	Fields: []types.FieldDefinition{
		{Name: "partition", Type: types.FieldTypeInt},
		{Name: "offset", Type: types.FieldTypeInt},
		{Name: "key", Type: types.FieldTypeBinary, Nullable: true},
		{Name: "value", Type: types.FieldTypeBinary, Nullable: true},
		{Name: "timestamp", Type: types.FieldTypeTimestamp},
	},
	PrimaryKey: []int{0, 1},
}

// Config configures a kafkasource node.
type Config struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
	// StateInterval bounds how often ReportState is called; every message
	// advancing the low-water mark does not need its own epoch.
	StateInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StateInterval <= 0 {
		c.StateInterval = time.Second
	}
	if c.ConsumerGroup == "" {
		c.ConsumerGroup = "dagflow-" + c.Topic
	}
	return c
}

// Factory is the SourceFactory for a kafkasource node.
type Factory struct {
	cfg Config
}

// NewFactory builds a Factory for the given topic.
func NewFactory(cfg Config) *Factory { return &Factory{cfg: cfg.withDefaults()} }

func (f *Factory) OutputPorts() []types.PortHandle { return []types.PortHandle{outputPort} }

func (f *Factory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{
		outputPort: {Schema: messageSchema, Persist: types.PersistencePrimaryKey},
	}, nil
}

func (f *Factory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, lastCheckpoint *types.SourceState) (engine.Source, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Version = sarama.V2_6_0_0
	saramaCfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	saramaCfg.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(f.cfg.Brokers, f.cfg.ConsumerGroup, saramaCfg)
	if err != nil {
		return nil, err
	}

	return &source{
		cfg:     f.cfg,
		group:   group,
		senders: senders[outputPort],
		logger:  log.WithComponent("kafkasource"),
	}, nil
}

type source struct {
	cfg     Config
	group   sarama.ConsumerGroup
	senders []*exec.Sender
	logger  zerolog.Logger

	mu      sync.Mutex
	low     map[int32]int64 // lowest unacknowledged offset per partition
}

func (s *source) Start(ing engine.Ingestor) error {
	s.low = make(map[int32]int64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handler := &groupHandler{source: s, ing: ing}

	errCh := make(chan error, 1)
	go func() {
		for {
			if err := s.group.Consume(ctx, []string{s.cfg.Topic}, handler); err != nil {
				errCh <- err
				return
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		for err := range s.group.Errors() {
			s.logger.Error().Err(err).Msg("consumer group error")
		}
	}()

	ticker := time.NewTicker(s.cfg.StateInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errCh:
			return err
		case <-ticker.C:
			if err := s.reportLowWaterMark(ing); err != nil {
				return err
			}
		case <-ing.Done():
			cancel()
			return s.group.Close()
		}
	}
}

func (s *source) reportLowWaterMark(ing engine.Ingestor) error {
	s.mu.Lock()
	var havePartition bool
	var minPartition int32
	var minOffset int64
	for p, off := range s.low {
		if !havePartition || off < minOffset {
			minPartition, minOffset, havePartition = p, off, true
		}
	}
	s.mu.Unlock()

	if !havePartition {
		return nil
	}
	_, err := ing.ReportState(types.SourceState{TxID: uint64(minPartition), SeqNo: uint64(minOffset)})
	return err
}

func (s *source) recordOffset(partition int32, offset int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.low[partition]; !ok || offset > cur {
		s.low[partition] = offset
	}
}

func emit(senders []*exec.Sender, op types.Operation) error {
	for _, s := range senders {
		if err := s.Send(op); err != nil {
			return err
		}
	}
	return nil
}

// groupHandler implements sarama.ConsumerGroupHandler.
type groupHandler struct {
	source *source
	ing    engine.Ingestor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		rec := types.Record{Fields: []types.Field{
			types.IntField(int64(msg.Partition)),
			types.IntField(msg.Offset),
			binaryOrNull(msg.Key),
			binaryOrNull(msg.Value),
			types.TimestampField(msg.Timestamp),
		}}

		if err := emit(h.source.senders, types.Insert(rec)); err != nil {
			return err
		}

		sess.MarkMessage(msg, "")
		h.source.recordOffset(msg.Partition, msg.Offset+1)
	}
	return nil
}

func binaryOrNull(b []byte) types.Field {
	if b == nil {
		return types.NullField()
	}
	return types.BinaryField(b)
}
