package store

import "encoding/binary"

// NodePrefix returns the storage prefix owned by node index idx: N‖idx.
func NodePrefix(idx uint16) []byte {
	var b [3]byte
	b[0] = 'N'
	binary.BigEndian.PutUint16(b[1:], idx)
	return b[:]
}

// PortPrefix returns the sub-prefix for one output port beneath a node's
// prefix: W‖port.
func PortPrefix(port uint16) []byte {
	var b [3]byte
	b[0] = 'W'
	binary.BigEndian.PutUint16(b[1:], port)
	return b[:]
}

// EpochCheckpointPrefix is the fixed prefix under which epoch checkpoint
// records are stored, keyed by epoch id.
var EpochCheckpointPrefix = []byte("E")

// EpochKey encodes an epoch id as the big-endian key used under
// EpochCheckpointPrefix, so checkpoints iterate in epoch order.
func EpochKey(epochID uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], epochID)
	return b[:]
}
