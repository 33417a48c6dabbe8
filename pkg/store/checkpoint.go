package store

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/dagflow/dagflow/pkg/types"
)

// EncodeCheckpoint serializes an epoch's source states to the wire layout
// spec.md section 6 names:
//
//	u64 epoch_id ‖ u32 num_sources ‖ (len-prefixed NodeHandle ‖ u64 txid ‖ u64 seqno)*
//
// The len-prefixed NodeHandle is itself namespace and name, each
// len-prefixed in turn, so a handle round-trips as the same
// (namespace, name) pair it was checkpointed with rather than a single
// flattened display string.
func EncodeCheckpoint(epoch types.Epoch) []byte {
	var buf bytes.Buffer

	var b8 [8]byte
	binary.BigEndian.PutUint64(b8[:], epoch.ID)
	buf.Write(b8[:])

	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], uint32(len(epoch.SourceStates)))
	buf.Write(b4[:])

	for handle, state := range epoch.SourceStates {
		writeLenPrefixed(&buf, handle.Namespace)
		writeLenPrefixed(&buf, handle.Name)

		binary.BigEndian.PutUint64(b8[:], state.TxID)
		buf.Write(b8[:])
		binary.BigEndian.PutUint64(b8[:], state.SeqNo)
		buf.Write(b8[:])
	}

	return buf.Bytes()
}

func writeLenPrefixed(buf *bytes.Buffer, s string) {
	var b4 [4]byte
	binary.BigEndian.PutUint32(b4[:], uint32(len(s)))
	buf.Write(b4[:])
	buf.WriteString(s)
}

func readLenPrefixed(r *bytes.Reader) (string, error) {
	var b4 [4]byte
	if _, err := io.ReadFull(r, b4[:]); err != nil {
		return "", err
	}
	n := binary.BigEndian.Uint32(b4[:])
	raw := make([]byte, n)
	if _, err := io.ReadFull(r, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeCheckpoint is the inverse of EncodeCheckpoint.
func DecodeCheckpoint(data []byte) (types.Epoch, error) {
	r := bytes.NewReader(data)

	var b8 [8]byte
	if _, err := io.ReadFull(r, b8[:]); err != nil {
		return types.Epoch{}, fmt.Errorf("store: decode checkpoint epoch id: %w", err)
	}
	epoch := types.Epoch{ID: binary.BigEndian.Uint64(b8[:]), SourceStates: map[types.NodeHandle]types.SourceState{}}

	var b4 [4]byte
	if _, err := io.ReadFull(r, b4[:]); err != nil {
		return types.Epoch{}, fmt.Errorf("store: decode checkpoint num_sources: %w", err)
	}
	numSources := binary.BigEndian.Uint32(b4[:])

	for i := uint32(0); i < numSources; i++ {
		namespace, err := readLenPrefixed(r)
		if err != nil {
			return types.Epoch{}, fmt.Errorf("store: decode checkpoint namespace: %w", err)
		}
		name, err := readLenPrefixed(r)
		if err != nil {
			return types.Epoch{}, fmt.Errorf("store: decode checkpoint name: %w", err)
		}

		if _, err := io.ReadFull(r, b8[:]); err != nil {
			return types.Epoch{}, err
		}
		txID := binary.BigEndian.Uint64(b8[:])
		if _, err := io.ReadFull(r, b8[:]); err != nil {
			return types.Epoch{}, err
		}
		seqNo := binary.BigEndian.Uint64(b8[:])

		epoch.SourceStates[types.NodeHandle{Namespace: namespace, Name: name}] = types.SourceState{TxID: txID, SeqNo: seqNo}
	}

	return epoch, nil
}

// SaveCheckpoint persists an epoch's checkpoint record under the fixed E
// prefix, scoped by the caller's transaction.
func SaveCheckpoint(txn *Txn, epoch types.Epoch) error {
	pt := txn.Prefix(EpochCheckpointPrefix)
	return pt.Put(EpochKey(epoch.ID), EncodeCheckpoint(epoch))
}

// LoadLatestCheckpoint returns the highest-numbered checkpoint stored, or
// ok=false if none exists yet.
func LoadLatestCheckpoint(txn *Txn) (types.Epoch, bool, error) {
	pt := txn.Prefix(EpochCheckpointPrefix)
	kvs, err := pt.Range(nil, nil)
	if err != nil {
		return types.Epoch{}, false, err
	}
	if len(kvs) == 0 {
		return types.Epoch{}, false, nil
	}
	last := kvs[len(kvs)-1]
	epoch, err := DecodeCheckpoint(last.Value)
	if err != nil {
		return types.Epoch{}, false, err
	}
	return epoch, true, nil
}
