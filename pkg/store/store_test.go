package store

import (
	"testing"

	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPrefixIsolation(t *testing.T) {
	s := openTestStore(t)

	txn, err := s.BeginTxn(true)
	require.NoError(t, err)

	a := txn.Prefix(NodePrefix(1))
	b := txn.Prefix(NodePrefix(2))

	require.NoError(t, a.Put([]byte("k"), []byte("from-a")))
	require.NoError(t, b.Put([]byte("k"), []byte("from-b")))
	require.NoError(t, txn.Commit())

	txn2, err := s.BeginTxn(false)
	require.NoError(t, err)
	defer txn2.Abort()

	assert.Equal(t, []byte("from-a"), txn2.Prefix(NodePrefix(1)).Get([]byte("k")))
	assert.Equal(t, []byte("from-b"), txn2.Prefix(NodePrefix(2)).Get([]byte("k")))
}

func testSchema() types.Schema {
	return types.Schema{
		Fields: []types.FieldDefinition{
			{Name: "id", Type: types.FieldTypeInt},
			{Name: "val", Type: types.FieldTypeString},
		},
		PrimaryKey: []int{0},
	}
}

func TestPKWriterUpdateInPlace(t *testing.T) {
	s := openTestStore(t)
	schema := testSchema()
	w := NewPKWriter(schema)

	rec := types.Record{Fields: []types.Field{types.IntField(5), types.StringField("v5")}}

	txn, err := s.BeginTxn(true)
	require.NoError(t, err)
	pt := txn.Prefix(NodePrefix(0)).Prefix(PortPrefix(0))
	require.NoError(t, w.Apply(pt, types.Insert(rec)))
	require.NoError(t, txn.Commit())

	reader := NewRecordReader(s, append(NodePrefix(0), PortPrefix(0)...), schema)
	key, err := types.EncodeKey(rec.PrimaryKey(schema))
	require.NoError(t, err)

	got, ok, err := reader.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), got.Fields[0].IntVal)
	assert.Equal(t, "v5", got.Fields[1].StrVal)

	updated := types.Record{Fields: []types.Field{types.IntField(5), types.StringField("v5-updated")}}
	txn2, err := s.BeginTxn(true)
	require.NoError(t, err)
	pt2 := txn2.Prefix(NodePrefix(0)).Prefix(PortPrefix(0))
	require.NoError(t, w.Apply(pt2, types.Update(rec, updated)))
	require.NoError(t, txn2.Commit())

	got2, ok, err := reader.Get(key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v5-updated", got2.Fields[1].StrVal)
}

func TestAutogenWriterRejectsNonInsert(t *testing.T) {
	s := openTestStore(t)
	w := NewAutogenWriter(0)

	txn, err := s.BeginTxn(true)
	require.NoError(t, err)
	defer txn.Abort()
	pt := txn.Prefix(NodePrefix(0)).Prefix(PortPrefix(0))

	rec := types.Record{Fields: []types.Field{types.IntField(1)}}
	require.NoError(t, w.Apply(pt, types.Insert(rec)))

	err = w.Apply(pt, types.Delete(rec))
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	epoch := types.Epoch{
		ID: 7,
		SourceStates: map[types.NodeHandle]types.SourceState{
			{Name: "src1"}: {TxID: 1, SeqNo: 42},
			{Name: "src2"}: {TxID: 2, SeqNo: 7},
		},
	}

	txn, err := s.BeginTxn(true)
	require.NoError(t, err)
	require.NoError(t, SaveCheckpoint(txn, epoch))
	require.NoError(t, txn.Commit())

	txn2, err := s.BeginTxn(false)
	require.NoError(t, err)
	defer txn2.Abort()

	got, ok, err := LoadLatestCheckpoint(txn2)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, epoch.ID, got.ID)
	assert.Equal(t, epoch.SourceStates, got.SourceStates)
}
