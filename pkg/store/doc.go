/*
Package store is the engine's Record Store: a transactional ordered
key/value abstraction over an embedded bbolt database, with a
prefix-scoped sub-transaction mechanism so independent nodes share one
physical file without key collisions.

# Architecture

	┌───────────────────────── bbolt database ─────────────────────────┐
	│  single "records" bucket, flat byte-string keyspace               │
	│                                                                     │
	│   N‖<node idx>  W‖<port>  <pk bytes>      → encoded record        │
	│   N‖<node idx>  W‖<port>  <autogen u64>   → encoded record        │
	│   E             <epoch id>                → encoded checkpoint     │
	└─────────────────────────────────────────────────────────────────┘

Txn wraps one bbolt transaction; Prefix carves out a PrefixTxn that
transparently prepends a fixed byte string to every key, so the Execution
DAG can hand each node its own prefix (NodePrefix) and each output port its
own sub-prefix (PortPrefix) without any component needing to know about any
other's keys.

Two RecordWriter implementations sit on top of a PrefixTxn: PKWriter
(update-in-place, keyed by a schema's primary key) and AutogenWriter
(insert-only, keyed by a monotonic counter). A RecordReader gives
downstream consumers read access to the same prefix without ever touching
the writer directly — it always opens its own transaction, so it is safe to
share across goroutines.
*/
package store
