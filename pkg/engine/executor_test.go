package engine

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = types.Schema{
	Fields: []types.FieldDefinition{
		{Name: "id", Type: types.FieldTypeInt},
		{Name: "val", Type: types.FieldTypeString},
	},
	PrimaryKey: []int{0},
}

type countingSource struct {
	n int
}

func (s *countingSource) Start(ing Ingestor) error {
	for i := 0; i < s.n; i++ {
		rec := types.Record{Fields: []types.Field{types.IntField(int64(i)), types.StringField(fmt.Sprintf("v%d", i))}}
		if err := ing.Emit(0, types.Insert(rec)); err != nil {
			return err
		}
	}
	if err := ing.SnapshottingDone(); err != nil {
		return err
	}
	if _, err := ing.ReportState(types.SourceState{TxID: 1, SeqNo: uint64(s.n)}); err != nil {
		return err
	}
	return nil
}

type countingSourceFactory struct {
	n       int
	persist types.PersistenceMode
}

func (f *countingSourceFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *countingSourceFactory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{0: {Schema: testSchema, Persist: f.persist}}, nil
}
func (f *countingSourceFactory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, last *types.SourceState) (Source, error) {
	return &countingSource{n: f.n}, nil
}

type countingSink struct {
	mu       sync.Mutex
	count    int
	lastID   int64
	sealedID uint64
}

func (s *countingSink) Process(fromPort types.PortHandle, op types.Operation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	s.lastID = op.New.Fields[0].IntVal
	return nil
}

func (s *countingSink) Commit(epoch types.Epoch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sealedID = epoch.ID
	return nil
}

type countingSinkFactory struct {
	sink *countingSink
}

func (f *countingSinkFactory) InputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *countingSinkFactory) Build() (Sink, error) {
	f.sink = &countingSink{}
	return f.sink, nil
}

func buildSimpleDag(t *testing.T, n int) (*dag.BuilderDag, *countingSinkFactory) {
	t.Helper()
	b := dag.NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	sinkFactory := &countingSinkFactory{}
	require.NoError(t, b.AddSource(src, &countingSourceFactory{n: n, persist: types.PersistenceNone}))
	require.NoError(t, b.AddSink(sink, sinkFactory))
	require.NoError(t, b.Connect(src, 0, sink, 0))

	d, err := b.Build()
	require.NoError(t, err)
	return d, sinkFactory
}

func TestExecutorSourceToSink(t *testing.T) {
	d, sinkFactory := buildSimpleDag(t, 100)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h, err := Start(d, st, nil, nil, Options{})
	require.NoError(t, err)

	require.NoError(t, h.Join())

	require.NotNil(t, sinkFactory.sink)
	assert.Equal(t, 100, sinkFactory.sink.count)
	assert.Equal(t, int64(99), sinkFactory.sink.lastID)
}

type idleSource struct {
	emitted int32
}

func (s *idleSource) Start(ing Ingestor) error {
	rec := types.Record{Fields: []types.Field{types.IntField(0), types.StringField("v0")}}
	if err := ing.Emit(0, types.Insert(rec)); err != nil {
		return err
	}
	atomic.AddInt32(&s.emitted, 1)
	if err := ing.SnapshottingDone(); err != nil {
		return err
	}
	<-ing.Done()
	return nil
}

type idleSourceFactory struct {
	source *idleSource
}

func (f *idleSourceFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *idleSourceFactory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{0: {Schema: testSchema, Persist: types.PersistenceNone}}, nil
}
func (f *idleSourceFactory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, last *types.SourceState) (Source, error) {
	f.source = &idleSource{}
	return f.source, nil
}

// noopJoinProcessor forwards every operation it receives, on either input
// port, to its single output port unchanged — the "noop-join" fan-in
// scenario from the engine's testable properties.
type noopJoinProcessor struct{}

func (p *noopJoinProcessor) Process(fromPort types.PortHandle, op types.Operation, fw Forwarder, txn *store.PrefixTxn) error {
	return fw.Forward(0, op)
}

func (p *noopJoinProcessor) Commit(epoch types.Epoch, txn *store.PrefixTxn) error { return nil }

type noopJoinFactory struct{}

func (f *noopJoinFactory) InputPorts() []types.PortHandle  { return []types.PortHandle{0, 1} }
func (f *noopJoinFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *noopJoinFactory) OutputSchemas(inputs map[types.PortHandle]types.Schema) (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{0: {Schema: testSchema, Persist: types.PersistenceNone}}, nil
}
func (f *noopJoinFactory) Build(inputSchemas map[types.PortHandle]types.Schema, senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter) (Processor, error) {
	return &noopJoinProcessor{}, nil
}

// TestExecutorFanInJoin is scenario S1: five sources of 25,000 records
// each, feeding four noop-join processors (join_i takes src_i and
// src_{i+1}), each with its own counting sink. Every sink should see
// 25,000*2 records.
func TestExecutorFanInJoin(t *testing.T) {
	const perSource = 25000

	b := dag.NewBuilder()

	srcHandles := make([]types.NodeHandle, 5)
	for i := range srcHandles {
		srcHandles[i] = types.NodeHandle{Name: fmt.Sprintf("src%d", i+1)}
		require.NoError(t, b.AddSource(srcHandles[i], &countingSourceFactory{n: perSource, persist: types.PersistenceNone}))
	}

	sinkFactories := make([]*countingSinkFactory, 4)
	for i := 0; i < 4; i++ {
		joinHandle := types.NodeHandle{Name: fmt.Sprintf("join%d", i+1)}
		require.NoError(t, b.AddProcessor(joinHandle, &noopJoinFactory{}))

		sinkHandle := types.NodeHandle{Name: fmt.Sprintf("sink%d", i+1)}
		sinkFactories[i] = &countingSinkFactory{}
		require.NoError(t, b.AddSink(sinkHandle, sinkFactories[i]))

		require.NoError(t, b.Connect(srcHandles[i], 0, joinHandle, 0))
		require.NoError(t, b.Connect(srcHandles[i+1], 0, joinHandle, 1))
		require.NoError(t, b.Connect(joinHandle, 0, sinkHandle, 0))
	}

	d, err := b.Build()
	require.NoError(t, err)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h, err := Start(d, st, nil, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, h.Join())

	for i, sf := range sinkFactories {
		require.NotNil(t, sf.sink, "sink%d", i+1)
		assert.Equal(t, perSource*2, sf.sink.count, "sink%d", i+1)
	}
}

// TestExecutorPersistedPortReadableAfterSeal is scenario S3: a source
// emits 10 inserts on a primary-key port; after the first epoch seals, a
// RecordReader built independently of the engine's own wiring (the way
// an API layer would open one) can look up a record by key.
func TestExecutorPersistedPortReadableAfterSeal(t *testing.T) {
	b := dag.NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	srcFactory := &countingSourceFactory{n: 10, persist: types.PersistencePrimaryKey}
	sinkFactory := &countingSinkFactory{}
	require.NoError(t, b.AddSource(src, srcFactory))
	require.NoError(t, b.AddSink(sink, sinkFactory))
	require.NoError(t, b.Connect(src, 0, sink, 0))

	d, err := b.Build()
	require.NoError(t, err)

	srcNode, ok := d.Node(src)
	require.True(t, ok)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h, err := Start(d, st, nil, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, h.Join())

	require.NotNil(t, sinkFactory.sink)
	assert.Equal(t, 10, sinkFactory.sink.count)

	prefix := append(store.NodePrefix(srcNode.Index), store.PortPrefix(0)...)
	reader := store.NewRecordReader(st, prefix, testSchema)

	key, err := types.EncodeKey([]types.Field{types.IntField(5)})
	require.NoError(t, err)

	rec, found, err := reader.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(5), rec.Fields[0].IntVal)
	assert.Equal(t, "v5", rec.Fields[1].StrVal)
}

// onceThenIdleSource emits n records, reports its state exactly once, and
// then goes quiet until shutdown — the straggler half of scenario S4.
type onceThenIdleSource struct {
	n int
}

func (s *onceThenIdleSource) Start(ing Ingestor) error {
	for i := 0; i < s.n; i++ {
		rec := types.Record{Fields: []types.Field{types.IntField(int64(i)), types.StringField(fmt.Sprintf("v%d", i))}}
		if err := ing.Emit(0, types.Insert(rec)); err != nil {
			return err
		}
	}
	if err := ing.SnapshottingDone(); err != nil {
		return err
	}
	if _, err := ing.ReportState(types.SourceState{TxID: 1, SeqNo: uint64(s.n)}); err != nil {
		return err
	}
	<-ing.Done()
	return nil
}

type onceThenIdleFactory struct{ n int }

func (f *onceThenIdleFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *onceThenIdleFactory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{0: {Schema: testSchema, Persist: types.PersistenceNone}}, nil
}
func (f *onceThenIdleFactory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, last *types.SourceState) (Source, error) {
	return &onceThenIdleSource{n: f.n}, nil
}

// keepReportingSource reports a fresh state every round so the barrier
// keeps making progress even though its sibling source has gone idle,
// forcing the epoch manager's idle ticker to be what actually seals the
// rounds after the first.
type keepReportingSource struct {
	rounds int
	epochs chan<- types.Epoch
}

func (s *keepReportingSource) Start(ing Ingestor) error {
	rec := types.Record{Fields: []types.Field{types.IntField(0), types.StringField("v0")}}
	if err := ing.Emit(0, types.Insert(rec)); err != nil {
		return err
	}
	if err := ing.SnapshottingDone(); err != nil {
		return err
	}
	for i := 0; i < s.rounds; i++ {
		epoch, err := ing.ReportState(types.SourceState{TxID: 1, SeqNo: uint64(i + 1)})
		if err != nil {
			return err
		}
		s.epochs <- epoch
	}
	<-ing.Done()
	return nil
}

type keepReportingFactory struct {
	rounds int
	epochs chan<- types.Epoch
}

func (f *keepReportingFactory) OutputPorts() []types.PortHandle { return []types.PortHandle{0} }
func (f *keepReportingFactory) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{0: {Schema: testSchema, Persist: types.PersistenceNone}}, nil
}
func (f *keepReportingFactory) Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, last *types.SourceState) (Source, error) {
	return &keepReportingSource{rounds: f.rounds, epochs: f.epochs}, nil
}

// TestEpochSealedUnderSourceIdleness is scenario S4: one source emits 10
// records and then goes idle; the epoch manager must still seal epochs
// within the configured idle interval, carrying forward the idle
// source's last (txid, seqno) rather than blocking on it forever.
func TestEpochSealedUnderSourceIdleness(t *testing.T) {
	b := dag.NewBuilder()
	idleSrc := types.NodeHandle{Name: "idle-src"}
	activeSrc := types.NodeHandle{Name: "active-src"}
	idleSink := types.NodeHandle{Name: "idle-sink"}
	activeSink := types.NodeHandle{Name: "active-sink"}

	epochs := make(chan types.Epoch, 4)
	require.NoError(t, b.AddSource(idleSrc, &onceThenIdleFactory{n: 10}))
	require.NoError(t, b.AddSource(activeSrc, &keepReportingFactory{rounds: 2, epochs: epochs}))
	require.NoError(t, b.AddSink(idleSink, &countingSinkFactory{}))
	require.NoError(t, b.AddSink(activeSink, &countingSinkFactory{}))
	require.NoError(t, b.Connect(idleSrc, 0, idleSink, 0))
	require.NoError(t, b.Connect(activeSrc, 0, activeSink, 0))

	d, err := b.Build()
	require.NoError(t, err)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h, err := Start(d, st, nil, nil, Options{IdleEpochInterval: 20 * time.Millisecond})
	require.NoError(t, err)

	// First epoch seals the ordinary way: both sources report once.
	select {
	case <-epochs:
	case <-time.After(2 * time.Second):
		t.Fatal("first epoch never sealed")
	}

	// Second epoch: idle-src never reports again, so only the idle
	// ticker can seal it.
	var idleRoundEpoch types.Epoch
	select {
	case idleRoundEpoch = <-epochs:
	case <-time.After(2 * time.Second):
		t.Fatal("idle ticker never sealed a second epoch")
	}

	idleState, ok := idleRoundEpoch.SourceStates[idleSrc]
	require.True(t, ok)
	assert.Equal(t, uint64(1), idleState.TxID)
	assert.Equal(t, uint64(10), idleState.SeqNo)

	activeState, ok := idleRoundEpoch.SourceStates[activeSrc]
	require.True(t, ok)
	assert.Equal(t, uint64(2), activeState.SeqNo)

	h.Stop()
	require.NoError(t, h.Join())
}

func TestExecutorShutdownLiveness(t *testing.T) {
	b := dag.NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	srcFactory := &idleSourceFactory{}
	sinkFactory := &countingSinkFactory{}
	require.NoError(t, b.AddSource(src, srcFactory))
	require.NoError(t, b.AddSink(sink, sinkFactory))
	require.NoError(t, b.Connect(src, 0, sink, 0))
	d, err := b.Build()
	require.NoError(t, err)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	h, err := Start(d, st, nil, nil, Options{})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Join() }()

	time.Sleep(20 * time.Millisecond)
	h.Stop()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("join did not return within bounded time after shutdown")
	}
}
