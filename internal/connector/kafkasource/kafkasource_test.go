package kafkasource

import (
	"testing"
	"time"

	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{Topic: "orders"}.withDefaults()
	assert.Equal(t, time.Second, c.StateInterval)
	assert.Equal(t, "dagflow-orders", c.ConsumerGroup)
}

func TestConfigDefaultsPreservesExplicitGroup(t *testing.T) {
	c := Config{Topic: "orders", ConsumerGroup: "custom-group"}.withDefaults()
	assert.Equal(t, "custom-group", c.ConsumerGroup)
}

func TestFactoryPortsAndSchema(t *testing.T) {
	f := NewFactory(Config{Topic: "orders"})
	assert.Equal(t, []types.PortHandle{outputPort}, f.OutputPorts())

	schemas, err := f.OutputSchemas()
	require.NoError(t, err)
	port := schemas[outputPort]
	assert.Equal(t, []int{0, 1}, port.Schema.PrimaryKey)

	names := make([]string, len(port.Schema.Fields))
	for i, fd := range port.Schema.Fields {
		names[i] = fd.Name
	}
	assert.Equal(t, []string{"partition", "offset", "key", "value", "timestamp"}, names)
}

func TestBinaryOrNull(t *testing.T) {
	assert.Equal(t, types.NullField(), binaryOrNull(nil))
	assert.Equal(t, types.BinaryField([]byte("v")), binaryOrNull([]byte("v")))
}

func TestRecordOffsetTracksHighWaterMark(t *testing.T) {
	s := &source{low: make(map[int32]int64)}
	s.recordOffset(0, 5)
	s.recordOffset(0, 3) // stale, should not regress
	s.recordOffset(1, 10)

	assert.Equal(t, int64(5), s.low[0])
	assert.Equal(t, int64(10), s.low[1])
}

type fakeIngestor struct {
	reported types.SourceState
}

func (f *fakeIngestor) Emit(port types.PortHandle, op types.Operation) error { return nil }

func (f *fakeIngestor) ReportState(st types.SourceState) (types.Epoch, error) {
	f.reported = st
	return types.Epoch{}, nil
}
func (f *fakeIngestor) SnapshottingDone() error { return nil }
func (f *fakeIngestor) Done() <-chan struct{}   { return nil }

func TestReportLowWaterMarkPicksSlowestPartition(t *testing.T) {
	s := &source{low: map[int32]int64{0: 42, 1: 7, 2: 100}}
	ing := &fakeIngestor{}

	require.NoError(t, s.reportLowWaterMark(ing))

	assert.Equal(t, uint64(1), ing.reported.TxID)
	assert.Equal(t, uint64(7), ing.reported.SeqNo)
}

func TestReportLowWaterMarkNoPartitionsIsNoOp(t *testing.T) {
	s := &source{low: map[int32]int64{}}
	ing := &fakeIngestor{reported: types.SourceState{TxID: 99}}

	require.NoError(t, s.reportLowWaterMark(ing))
	assert.Equal(t, uint64(99), ing.reported.TxID) // untouched
}
