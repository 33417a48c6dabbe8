package types

// Record is an ordered tuple of field values, optionally tied to a schema
// and carrying a monotonic version used for conflict-free last-writer-wins
// comparisons downstream.
type Record struct {
	Fields   []Field
	SchemaID *SchemaID
	Version  *uint64
}

// PrimaryKey extracts the key fields named by a schema's PrimaryKey
// positions, in order.
func (r Record) PrimaryKey(schema Schema) []Field {
	key := make([]Field, len(schema.PrimaryKey))
	for i, pos := range schema.PrimaryKey {
		key[i] = r.Fields[pos]
	}
	return key
}

// EncodeKey concatenates the encoded bytes of a set of key fields. The
// primary-key record writer uses it to build the storage key.
func EncodeKey(fields []Field) ([]byte, error) {
	var out []byte
	for _, f := range fields {
		b, err := f.Encode()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

// OpKind tags the variant of an Operation.
type OpKind int

const (
	OpInsert OpKind = iota
	OpDelete
	OpUpdate
	OpCommit
	OpSnapshottingDone
	OpTerminate
)

func (k OpKind) String() string {
	switch k {
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	case OpUpdate:
		return "update"
	case OpCommit:
		return "commit"
	case OpSnapshottingDone:
		return "snapshotting_done"
	case OpTerminate:
		return "terminate"
	default:
		return "unknown"
	}
}

// SourceState is the per-source replication position carried in an Epoch.
type SourceState struct {
	TxID  uint64
	SeqNo uint64
}

// Less gives SourceState the lexicographic order the checkpoint-monotonicity
// property (spec.md section 8, property 4) is checked against.
func (s SourceState) Less(other SourceState) bool {
	if s.TxID != other.TxID {
		return s.TxID < other.TxID
	}
	return s.SeqNo < other.SeqNo
}

// Epoch is the global progress marker: a monotonically increasing id plus
// the replication position every source had reached when the epoch closed.
type Epoch struct {
	ID           uint64
	SourceStates map[NodeHandle]SourceState
}

// Operation is the tagged variant that flows along every edge in the
// execution DAG.
type Operation struct {
	Kind  OpKind
	Old   Record // OpUpdate, OpDelete
	New   Record // OpInsert, OpUpdate
	Epoch Epoch  // OpCommit
}

func Insert(r Record) Operation { return Operation{Kind: OpInsert, New: r} }
func Delete(r Record) Operation { return Operation{Kind: OpDelete, Old: r} }
func Update(old, new Record) Operation {
	return Operation{Kind: OpUpdate, Old: old, New: new}
}
func Commit(e Epoch) Operation        { return Operation{Kind: OpCommit, Epoch: e} }
func SnapshottingDone() Operation     { return Operation{Kind: OpSnapshottingDone} }
func Terminate() Operation            { return Operation{Kind: OpTerminate} }
