package types

import "fmt"

// PortHandle names an input or output port of a node. Unique within that
// node only; two different nodes may both have port 0.
type PortHandle uint16

// NodeHandle identifies a node globally after sub-DAG merging. Namespace
// disambiguates names when two sub-DAGs are composed with Builder.Merge.
type NodeHandle struct {
	Namespace string // empty for the top-level DAG
	Name      string
}

func (h NodeHandle) String() string {
	if h.Namespace == "" {
		return h.Name
	}
	return fmt.Sprintf("%s/%s", h.Namespace, h.Name)
}

// Namespaced returns a copy of h rewritten under ns, used when Builder.Merge
// composes a sub-DAG. A handle that already carries a namespace is nested
// dot-separated so repeated merges stay unambiguous.
func (h NodeHandle) Namespaced(ns string) NodeHandle {
	if h.Namespace == "" {
		return NodeHandle{Namespace: ns, Name: h.Name}
	}
	return NodeHandle{Namespace: ns + "." + h.Namespace, Name: h.Name}
}

// PersistenceMode selects what record writer, if any, is attached to an
// output port.
type PersistenceMode int

const (
	PersistenceNone PersistenceMode = iota
	PersistenceAutogenPK
	PersistencePrimaryKey
)

func (m PersistenceMode) String() string {
	switch m {
	case PersistenceAutogenPK:
		return "autogen-pk"
	case PersistencePrimaryKey:
		return "primary-key"
	default:
		return "none"
	}
}

// Edge describes one connection in the Builder DAG.
type Edge struct {
	FromNode   NodeHandle
	FromPort   PortHandle
	ToNode     NodeHandle
	ToPort     PortHandle
	Schema     Schema
	Persist    PersistenceMode
}
