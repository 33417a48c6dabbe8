package objectstore

import (
	"testing"

	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceFactoryPortsAndSchema(t *testing.T) {
	f := NewSourceFactory(Config{Bucket: "events", Prefix: "raw/"})

	assert.Equal(t, []types.PortHandle{outputPort}, f.OutputPorts())

	schemas, err := f.OutputSchemas()
	require.NoError(t, err)
	port, ok := schemas[outputPort]
	require.True(t, ok)
	assert.Equal(t, types.PersistencePrimaryKey, port.Persist)
	assert.Equal(t, []int{0}, port.Schema.PrimaryKey)

	names := make([]string, len(port.Schema.Fields))
	for i, fd := range port.Schema.Fields {
		names[i] = fd.Name
	}
	assert.Equal(t, []string{"key", "size", "etag", "last_modified", "body"}, names)
}

func TestSinkFactoryInputPorts(t *testing.T) {
	f := NewSinkFactory(Config{Bucket: "events"})
	assert.Equal(t, []types.PortHandle{inputPort}, f.InputPorts())
}

func TestSinkProcessIgnoresUnknownOpKind(t *testing.T) {
	s := &sink{cfg: Config{Bucket: "events"}}
	// Commit is a no-op by design; Process on a Commit/SnapshottingDone/
	// Terminate marker must not attempt to reach the (nil, in this test)
	// minio client.
	err := s.Process(inputPort, types.Commit(types.Epoch{ID: 1}))
	assert.NoError(t, err)
	err = s.Process(inputPort, types.SnapshottingDone())
	assert.NoError(t, err)
}

func TestSinkCommitIsNoOp(t *testing.T) {
	s := &sink{cfg: Config{Bucket: "events"}}
	assert.NoError(t, s.Commit(types.Epoch{ID: 1}))
}
