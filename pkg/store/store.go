package store

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dagflow/dagflow/pkg/log"
	"github.com/dagflow/dagflow/pkg/metrics"
	bolt "go.etcd.io/bbolt"
)

var rootBucket = []byte("records")

// Store is the pluggable ordered key/value abstraction every node's
// persisted state sits on top of. It is backed by a single bbolt database
// shared by the whole engine; every node gets its own key prefix (see
// Prefix) so co-located components never collide.
type Store struct {
	db *bolt.DB
}

// Open creates or opens the on-disk bbolt database at dataDir/engine.db.
func Open(dataDir string) (*Store, error) {
	path := filepath.Join(dataDir, "engine.db")
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create root bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginTxn starts a read/write or read-only transaction. Concurrent readers
// during a write are served bbolt's MVCC snapshot, so reads never block on
// an in-flight write.
func (s *Store) BeginTxn(writable bool) (*Txn, error) {
	tx, err := s.db.Begin(writable)
	if err != nil {
		return nil, fmt.Errorf("store: begin txn: %w", err)
	}
	return &Txn{tx: tx, bucket: tx.Bucket(rootBucket), writable: writable, openedAt: time.Now()}, nil
}

// Txn is a transaction over the whole shared store. Components should not
// use it directly — they should scope it with Prefix first.
type Txn struct {
	tx       *bolt.Tx
	bucket   *bolt.Bucket
	writable bool
	openedAt time.Time
}

// Commit durably commits the transaction. A read-only Txn is simply rolled
// back, since bbolt has no separate read-commit concept.
func (t *Txn) Commit() error {
	defer metrics.StorageTxnDuration.WithLabelValues(strconv.FormatBool(t.writable)).Observe(time.Since(t.openedAt).Seconds())
	if !t.writable {
		return t.tx.Rollback()
	}
	if err := t.tx.Commit(); err != nil {
		log.WithComponent("store").Error().Err(err).Msg("transaction commit failed")
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Abort discards any writes made in the transaction.
func (t *Txn) Abort() error {
	return t.tx.Rollback()
}

// Prefix scopes a transaction to a fixed byte prefix: every Get/Put/Delete
// and Range call transparently prepends prefix to the key, so two
// components sharing one physical store never see each other's keys.
func (t *Txn) Prefix(prefix []byte) *PrefixTxn {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixTxn{txn: t, prefix: p}
}

// PrefixTxn is a sub-scoped view of a Txn.
type PrefixTxn struct {
	txn    *Txn
	prefix []byte
}

func (p *PrefixTxn) key(k []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(k))
	out = append(out, p.prefix...)
	out = append(out, k...)
	return out
}

// Prefix returns a further-scoped PrefixTxn nested under this one, used to
// give a single node's storage area independent sub-regions (for example
// one per output port).
func (p *PrefixTxn) Prefix(sub []byte) *PrefixTxn {
	return &PrefixTxn{txn: p.txn, prefix: p.key(sub)}
}

// Get returns the value stored at key, or nil if absent. The returned slice
// is a copy safe to retain past the transaction's lifetime.
func (p *PrefixTxn) Get(key []byte) []byte {
	v := p.txn.bucket.Get(p.key(key))
	if v == nil {
		return nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out
}

// Put writes key=value, scoped to the prefix.
func (p *PrefixTxn) Put(key, value []byte) error {
	k := p.key(key)
	if err := p.txn.bucket.Put(k, value); err != nil {
		return err
	}
	metrics.StorageBytesTotal.Add(float64(len(k) + len(value)))
	return nil
}

// Delete removes key, scoped to the prefix.
func (p *PrefixTxn) Delete(key []byte) error {
	return p.txn.bucket.Delete(p.key(key))
}

// KV is one key/value pair returned by Range, with the prefix already
// stripped back off the key.
type KV struct {
	Key   []byte
	Value []byte
}

// Range iterates [from, to) in lexicographic key order, scoped to the
// prefix. A nil `to` means "to the end of the prefix's keyspace".
func (p *PrefixTxn) Range(from, to []byte) ([]KV, error) {
	c := p.txn.bucket.Cursor()
	var out []KV

	seek := p.key(from)
	var upper []byte
	if to != nil {
		upper = p.key(to)
	}

	for k, v := c.Seek(seek); k != nil; k, v = c.Next() {
		if !bytes.HasPrefix(k, p.prefix) {
			break
		}
		if upper != nil && bytes.Compare(k, upper) >= 0 {
			break
		}
		stripped := make([]byte, len(k)-len(p.prefix))
		copy(stripped, k[len(p.prefix):])
		val := make([]byte, len(v))
		copy(val, v)
		out = append(out, KV{Key: stripped, Value: val})
	}
	return out, nil
}
