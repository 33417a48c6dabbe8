package exec

import (
	"testing"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = types.Schema{
	Fields: []types.FieldDefinition{
		{Name: "id", Type: types.FieldTypeInt},
	},
	PrimaryKey: []int{0},
}

type fakeSource struct{ ports []types.PortHandle }

func (f *fakeSource) OutputPorts() []types.PortHandle { return f.ports }
func (f *fakeSource) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	out := make(map[types.PortHandle]dag.PortSchema)
	for _, p := range f.ports {
		out[p] = dag.PortSchema{Schema: testSchema, Persist: types.PersistencePrimaryKey}
	}
	return out, nil
}

type fakeSink struct{ ports []types.PortHandle }

func (f *fakeSink) InputPorts() []types.PortHandle { return f.ports }

func buildTestDag(t *testing.T) *dag.BuilderDag {
	t.Helper()
	b := dag.NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}
	require.NoError(t, b.AddSource(src, &fakeSource{ports: []types.PortHandle{0}}))
	require.NoError(t, b.AddSink(sink, &fakeSink{ports: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(src, 0, sink, 0))
	d, err := b.Build()
	require.NoError(t, err)
	return d
}

func TestBuildWiresChannelAndWriter(t *testing.T) {
	d := buildTestDag(t)
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ed, err := Build(d, st, Options{})
	require.NoError(t, err)

	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	senders, err := ed.CollectSenders(src)
	require.NoError(t, err)
	require.Len(t, senders[0], 1)

	receivers, err := ed.CollectReceivers(sink)
	require.NoError(t, err)
	require.NotNil(t, receivers[0])

	writers, err := ed.CollectRecordWriters(src)
	require.NoError(t, err)
	assert.NotNil(t, writers[0])
}

func TestCollectSendersTwiceFails(t *testing.T) {
	d := buildTestDag(t)
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ed, err := Build(d, st, Options{})
	require.NoError(t, err)

	src := types.NodeHandle{Name: "src"}
	_, err = ed.CollectSenders(src)
	require.NoError(t, err)

	_, err = ed.CollectSenders(src)
	assert.Error(t, err)
}

func TestSendAndReceive(t *testing.T) {
	d := buildTestDag(t)
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ed, err := Build(d, st, Options{ChannelCapacity: 4})
	require.NoError(t, err)

	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	senders, err := ed.CollectSenders(src)
	require.NoError(t, err)
	receivers, err := ed.CollectReceivers(sink)
	require.NoError(t, err)

	rec := types.Record{Fields: []types.Field{types.IntField(1)}}
	op := types.Insert(rec)

	require.NoError(t, senders[0][0].Send(op))
	got, ok, err := receivers[0].Recv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.OpInsert, got.Kind)
}

func TestSendRespectsShutdown(t *testing.T) {
	d := buildTestDag(t)
	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ed, err := Build(d, st, Options{ChannelCapacity: 1})
	require.NoError(t, err)

	src := types.NodeHandle{Name: "src"}
	senders, err := ed.CollectSenders(src)
	require.NoError(t, err)

	rec := types.Record{Fields: []types.Field{types.IntField(1)}}
	require.NoError(t, senders[0][0].Send(types.Insert(rec))) // fills capacity 1

	ed.Shutdown.Trigger()
	err = senders[0][0].Send(types.Insert(rec))
	assert.ErrorIs(t, err, ErrShutdownRequested)
}
