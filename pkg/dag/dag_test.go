package dag

import (
	"testing"

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

type fakeSource struct {
	ports   []types.PortHandle
	schemas map[types.PortHandle]PortSchema
}

func (f *fakeSource) OutputPorts() []types.PortHandle { return f.ports }
func (f *fakeSource) OutputSchemas() (map[types.PortHandle]PortSchema, error) {
	return f.schemas, nil
}

type fakeProcessor struct {
	in, out []types.PortHandle
}

func (f *fakeProcessor) InputPorts() []types.PortHandle  { return f.in }
func (f *fakeProcessor) OutputPorts() []types.PortHandle { return f.out }
func (f *fakeProcessor) OutputSchemas(input map[types.PortHandle]types.Schema) (map[types.PortHandle]PortSchema, error) {
	out := make(map[types.PortHandle]PortSchema)
	for _, p := range f.out {
		out[p] = PortSchema{Schema: input[0], Persist: types.PersistencePrimaryKey}
	}
	return out, nil
}

type fakeSink struct {
	in []types.PortHandle
}

func (f *fakeSink) InputPorts() []types.PortHandle { return f.in }

func oneOutSource() *fakeSource {
	return &fakeSource{
		ports:   []types.PortHandle{0},
		schemas: map[types.PortHandle]PortSchema{0: {Schema: testSchema, Persist: types.PersistencePrimaryKey}},
	}
}

func TestBuildSimpleSourceToSink(t *testing.T) {
	b := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}

	require.NoError(t, b.AddSource(src, oneOutSource()))
	require.NoError(t, b.AddSink(sink, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(src, 0, sink, 0))

	d, err := b.Build()
	require.NoError(t, err)
	require.Len(t, d.Nodes, 2)
	require.Len(t, d.Edges, 1)
	assert.True(t, d.Edges[0].Schema.Equal(testSchema))
}

func TestBuildSchemaPropagatesThroughProcessor(t *testing.T) {
	b := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	proc := types.NodeHandle{Name: "proc"}
	sink := types.NodeHandle{Name: "sink"}

	require.NoError(t, b.AddSource(src, oneOutSource()))
	require.NoError(t, b.AddProcessor(proc, &fakeProcessor{in: []types.PortHandle{0}, out: []types.PortHandle{0}}))
	require.NoError(t, b.AddSink(sink, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(src, 0, proc, 0))
	require.NoError(t, b.Connect(proc, 0, sink, 0))

	d, err := b.Build()
	require.NoError(t, err)

	n, ok := d.Node(proc)
	require.True(t, ok)
	assert.True(t, n.OutputSchemas[0].Schema.Equal(testSchema))
}

func TestBuildRejectsUnconnectedInputPort(t *testing.T) {
	b := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}
	require.NoError(t, b.AddSource(src, oneOutSource()))
	require.NoError(t, b.AddSink(sink, &fakeSink{in: []types.PortHandle{0}}))

	_, err := b.Build()
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, UnconnectedInputPort, be.Kind)
}

func TestBuildRejectsDuplicateHandle(t *testing.T) {
	b := NewBuilder()
	h := types.NodeHandle{Name: "dup"}
	require.NoError(t, b.AddSource(h, oneOutSource()))
	err := b.AddSource(h, oneOutSource())
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, DuplicateNodeHandle, be.Kind)
}

func TestBuildRejectsCycle(t *testing.T) {
	b := NewBuilder()
	a := types.NodeHandle{Name: "a"}
	c := types.NodeHandle{Name: "c"}

	require.NoError(t, b.AddProcessor(a, &fakeProcessor{in: []types.PortHandle{0}, out: []types.PortHandle{0}}))
	require.NoError(t, b.AddProcessor(c, &fakeProcessor{in: []types.PortHandle{0}, out: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(a, 0, c, 0))
	require.NoError(t, b.Connect(c, 0, a, 0))

	_, err := b.Build()
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, CycleDetected, be.Kind)
}

func TestBuildRejectsUnreachableSink(t *testing.T) {
	b := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}
	orphan := types.NodeHandle{Name: "orphan"}
	feeder := types.NodeHandle{Name: "feeder"}

	require.NoError(t, b.AddSource(src, oneOutSource()))
	require.NoError(t, b.AddSink(sink, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.AddSink(orphan, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(src, 0, sink, 0))

	// orphan's input is fed by a processor with no input ports: every input
	// port is connected and the graph is acyclic, but no source reaches
	// orphan.
	require.NoError(t, b.AddProcessor(feeder, &fakeProcessor{out: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(feeder, 0, orphan, 0))

	_, err := b.Build()
	require.Error(t, err)
	var be *BuildError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, UnreachableSink, be.Kind)
}

func TestMergeNamespacesNodes(t *testing.T) {
	inner := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sink := types.NodeHandle{Name: "sink"}
	require.NoError(t, inner.AddSource(src, oneOutSource()))
	require.NoError(t, inner.AddSink(sink, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, inner.Connect(src, 0, sink, 0))

	outer := NewBuilder()
	require.NoError(t, outer.Merge("sub1", inner))

	d, err := outer.Build()
	require.NoError(t, err)
	_, ok := d.Node(types.NodeHandle{Namespace: "sub1", Name: "src"})
	assert.True(t, ok)
}

func TestFanOutToMultipleSinks(t *testing.T) {
	b := NewBuilder()
	src := types.NodeHandle{Name: "src"}
	s1 := types.NodeHandle{Name: "s1"}
	s2 := types.NodeHandle{Name: "s2"}

	require.NoError(t, b.AddSource(src, oneOutSource()))
	require.NoError(t, b.AddSink(s1, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.AddSink(s2, &fakeSink{in: []types.PortHandle{0}}))
	require.NoError(t, b.Connect(src, 0, s1, 0))
	require.NoError(t, b.Connect(src, 0, s2, 0))

	d, err := b.Build()
	require.NoError(t, err)
	assert.Len(t, d.OutEdges(src), 2)
}
