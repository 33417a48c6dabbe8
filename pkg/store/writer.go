package store

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/types"
)

// RecordWriter is implemented by both writer flavors. It is owned by the
// worker that emits operations on its output port; downstream nodes never
// call Put/Delete — they only read, through a RecordReader sharing the same
// prefix.
type RecordWriter interface {
	// Apply persists the effect of op within txn. txn must already be
	// scoped to this writer's node/port prefix (see PrefixTxn).
	Apply(txn *PrefixTxn, op types.Operation) error
}

// PKWriter is an update-in-place writer keyed by a schema's primary key.
type PKWriter struct {
	Schema types.Schema
}

// NewPKWriter builds a primary-key writer for the given schema.
func NewPKWriter(schema types.Schema) *PKWriter {
	return &PKWriter{Schema: schema}
}

func (w *PKWriter) Apply(txn *PrefixTxn, op types.Operation) error {
	switch op.Kind {
	case types.OpInsert:
		return w.put(txn, op.New)
	case types.OpUpdate:
		oldKey, err := types.EncodeKey(op.Old.PrimaryKey(w.Schema))
		if err != nil {
			return err
		}
		newKey, err := types.EncodeKey(op.New.PrimaryKey(w.Schema))
		if err != nil {
			return err
		}
		// A changed primary key is modeled as delete(old) + insert(new);
		// this is not a documented invariant upstream, just the most
		// honest interpretation of "update" when identity itself moves.
		if string(oldKey) != string(newKey) {
			if err := txn.Delete(oldKey); err != nil {
				return err
			}
		}
		return w.put(txn, op.New)
	case types.OpDelete:
		key, err := types.EncodeKey(op.Old.PrimaryKey(w.Schema))
		if err != nil {
			return err
		}
		return txn.Delete(key)
	default:
		return nil
	}
}

func (w *PKWriter) put(txn *PrefixTxn, rec types.Record) error {
	timer := metrics.NewTimer()
	key, err := types.EncodeKey(rec.PrimaryKey(w.Schema))
	if err != nil {
		return fmt.Errorf("store: encode primary key: %w", err)
	}
	val, err := types.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	if err := txn.Put(key, val); err != nil {
		return err
	}
	timer.ObserveDurationVec(metrics.StorageWriteDuration, "pk")
	return nil
}

// AutogenWriter is an insert-only writer keyed by a monotonically assigned
// uint64. Deletes are not supported, matching spec.md's persistence-mode
// contract for Autogen-PK ports.
type AutogenWriter struct {
	next atomic.Uint64
}

// NewAutogenWriter builds an autogen-key writer starting after last, the
// highest key previously assigned (0 if this is a fresh port).
func NewAutogenWriter(last uint64) *AutogenWriter {
	w := &AutogenWriter{}
	w.next.Store(last)
	return w
}

func (w *AutogenWriter) Apply(txn *PrefixTxn, op types.Operation) error {
	if op.Kind != types.OpInsert {
		return fmt.Errorf("store: autogen writer only supports inserts, got %v", op.Kind)
	}
	timer := metrics.NewTimer()
	id := w.next.Add(1)
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], id)

	val, err := types.EncodeRecord(op.New)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	if err := txn.Put(key[:], val); err != nil {
		return err
	}
	timer.ObserveDurationVec(metrics.StorageWriteDuration, "autogen")
	return nil
}

// RecordReader gives downstream consumers (typically the API layer) shared,
// read-only access to a persisted output port: point lookups by primary key
// and full scans. Multiple readers may reference the same writer's prefix
// concurrently; they only ever read committed state.
type RecordReader struct {
	store  *Store
	prefix []byte
	schema types.Schema
}

// NewRecordReader builds a reader over the given node/port prefix.
func NewRecordReader(s *Store, prefix []byte, schema types.Schema) *RecordReader {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &RecordReader{store: s, prefix: p, schema: schema}
}

// Get looks up a record by its encoded primary key bytes.
func (r *RecordReader) Get(key []byte) (types.Record, bool, error) {
	txn, err := r.store.BeginTxn(false)
	if err != nil {
		return types.Record{}, false, err
	}
	defer txn.Abort()

	pt := txn.Prefix(r.prefix)
	v := pt.Get(key)
	if v == nil {
		return types.Record{}, false, nil
	}
	rec, err := types.DecodeRecord(v)
	if err != nil {
		return types.Record{}, false, err
	}
	return rec, true, nil
}

// Scan returns every record currently stored under the port's prefix, in
// key order.
func (r *RecordReader) Scan() ([]types.Record, error) {
	txn, err := r.store.BeginTxn(false)
	if err != nil {
		return nil, err
	}
	defer txn.Abort()

	pt := txn.Prefix(r.prefix)
	kvs, err := pt.Range(nil, nil)
	if err != nil {
		return nil, err
	}

	records := make([]types.Record, 0, len(kvs))
	for _, kv := range kvs {
		rec, err := types.DecodeRecord(kv.Value)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
