package pgsource

import (
	"database/sql"
	"testing"
	"time"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{Table: "events"}.withDefaults()
	assert.Equal(t, 2*time.Second, c.PollInterval)
	assert.Equal(t, 500, c.BatchSize)
}

func TestNewFactorySchemaShape(t *testing.T) {
	f := NewFactory(Config{
		Table:           "events",
		IDColumn:        "id",
		UpdatedAtColumn: "updated_at",
		Columns: []Column{
			{Name: "name", Type: types.FieldTypeString},
			{Name: "payload", Type: types.FieldTypeBinary},
		},
	})

	assert.Equal(t, []types.PortHandle{outputPort}, f.OutputPorts())

	schemas, err := f.OutputSchemas()
	require.NoError(t, err)
	port, ok := schemas[outputPort]
	require.True(t, ok)
	assert.Equal(t, types.PersistencePrimaryKey, port.Persist)
	require.Len(t, port.Schema.Fields, 4)
	assert.Equal(t, "id", port.Schema.Fields[0].Name)
	assert.Equal(t, "updated_at", port.Schema.Fields[1].Name)
	assert.Equal(t, "name", port.Schema.Fields[2].Name)
	assert.True(t, port.Schema.Fields[2].Nullable)
	assert.Equal(t, []int{0}, port.Schema.PrimaryKey)
}

func TestExtraColumnList(t *testing.T) {
	assert.Equal(t, "", extraColumnList(nil))
	assert.Equal(t, ", name, payload", extraColumnList([]Column{{Name: "name"}, {Name: "payload"}}))
}

func TestDecodeColumn(t *testing.T) {
	assert.Equal(t, types.NullField(), decodeColumn(types.FieldTypeString, nil))
	assert.Equal(t, types.StringField("hi"), decodeColumn(types.FieldTypeString, sql.RawBytes("hi")))
	assert.Equal(t, types.BinaryField([]byte("raw")), decodeColumn(types.FieldTypeBinary, sql.RawBytes("raw")))
}

func TestEmitFansOutToEverySender(t *testing.T) {
	b := dag.NewBuilder()
	src := types.NodeHandle{Name: "src"}
	sinkA := types.NodeHandle{Name: "sink-a"}
	sinkB := types.NodeHandle{Name: "sink-b"}

	schema := types.Schema{Fields: []types.FieldDefinition{{Name: "id", Type: types.FieldTypeInt}}, PrimaryKey: []int{0}}
	require.NoError(t, b.AddSource(src, &stubSource{schema: schema}))
	require.NoError(t, b.AddSink(sinkA, &stubSink{}))
	require.NoError(t, b.AddSink(sinkB, &stubSink{}))
	require.NoError(t, b.Connect(src, outputPort, sinkA, 0))
	require.NoError(t, b.Connect(src, outputPort, sinkB, 0))

	built, err := b.Build()
	require.NoError(t, err)

	st, err := store.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	ed, err := exec.Build(built, st, exec.Options{ChannelCapacity: 4})
	require.NoError(t, err)

	senders, err := ed.CollectSenders(src)
	require.NoError(t, err)

	op := types.Insert(types.Record{Fields: []types.Field{types.IntField(1)}})
	require.NoError(t, emit(senders[outputPort], op))

	ra, err := ed.CollectReceivers(sinkA)
	require.NoError(t, err)
	rb, err := ed.CollectReceivers(sinkB)
	require.NoError(t, err)

	gotA, ok, err := ra[0].Recv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.OpInsert, gotA.Kind)

	gotB, ok, err := rb[0].Recv()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, types.OpInsert, gotB.Kind)
}

type stubSource struct{ schema types.Schema }

func (s *stubSource) OutputPorts() []types.PortHandle { return []types.PortHandle{outputPort} }
func (s *stubSource) OutputSchemas() (map[types.PortHandle]dag.PortSchema, error) {
	return map[types.PortHandle]dag.PortSchema{outputPort: {Schema: s.schema, Persist: types.PersistencePrimaryKey}}, nil
}

type stubSink struct{}

func (s *stubSink) InputPorts() []types.PortHandle { return []types.PortHandle{0} }
