package types

// SchemaID identifies a schema across restarts; Version bumps whenever the
// field list changes incompatibly. The engine never reconciles across a
// version change itself — spec.md's schema-evolution Non-goal.
type SchemaID struct {
	ID      uint32
	Version uint32
}

// FieldProvenance records whether a field came straight from the source or
// was derived by a processor, useful for debugging but not interpreted by
// the engine itself.
type FieldProvenance int

const (
	ProvenanceSource FieldProvenance = iota
	ProvenanceDerived
)

// FieldDefinition describes one column of a Schema.
type FieldDefinition struct {
	Name       string
	Type       FieldType
	Nullable   bool
	Provenance FieldProvenance
}

// Schema is an ordered list of field definitions plus the positions that
// make up the primary key.
type Schema struct {
	ID         SchemaID
	Fields     []FieldDefinition
	PrimaryKey []int // positions into Fields
}

// FieldIndex returns the position of a field by name, or -1.
func (s Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// Equal reports whether two schemas are field-for-field identical,
// ignoring SchemaID: it compares shape, not identity.
func (s Schema) Equal(other Schema) bool {
	if len(s.Fields) != len(other.Fields) || len(s.PrimaryKey) != len(other.PrimaryKey) {
		return false
	}
	for i := range s.Fields {
		if s.Fields[i] != other.Fields[i] {
			return false
		}
	}
	for i := range s.PrimaryKey {
		if s.PrimaryKey[i] != other.PrimaryKey[i] {
			return false
		}
	}
	return true
}
