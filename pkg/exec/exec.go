// Package exec implements the Execution DAG: it takes a frozen
// dag.BuilderDag and a Record Store and wires a bounded channel for every
// edge, plus a RecordWriter/RecordReader pair for every output port that
// asked for persistence.
//
// Wiring is claimed exactly once per node. CollectSenders,
// CollectReceivers, CollectRecordWriters and CollectRecordReaders each
// mark the node as claimed, so a second call for the same node fails
// instead of handing the same senders or receivers to a second owner.
package exec

import (
	"fmt"

	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

// ExecutionDag is the channel-wired, claim-once view of a BuilderDag ready
// to be handed to the Executor.
type ExecutionDag struct {
	Source   *dag.BuilderDag
	Shutdown *ShutdownToken

	senders       map[types.NodeHandle]map[types.PortHandle][]*Sender
	receivers     map[types.NodeHandle]map[types.PortHandle]*Receiver
	recordWriters map[types.NodeHandle]map[types.PortHandle]store.RecordWriter
	recordReaders map[types.NodeHandle]map[types.PortHandle]*store.RecordReader

	claimedSenders       map[types.NodeHandle]bool
	claimedReceivers     map[types.NodeHandle]bool
	claimedWriters       map[types.NodeHandle]bool
	claimedReaders       map[types.NodeHandle]bool
}

// Options configures Build.
type Options struct {
	// ChannelCapacity overrides DefaultChannelCapacity for every edge.
	ChannelCapacity int
}

// Build wires every edge of d into a bounded channel, and every
// persistence-requesting output port into a record writer plus a record
// reader over the same prefix (so a processor can look up rows previously written to its
// own output when it needs to reconcile state, same as any other
// consumer).
func Build(d *dag.BuilderDag, st *store.Store, opts Options) (*ExecutionDag, error) {
	capacity := opts.ChannelCapacity
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}

	e := &ExecutionDag{
		Source:   d,
		Shutdown: NewShutdownToken(),

		senders:       make(map[types.NodeHandle]map[types.PortHandle][]*Sender),
		receivers:     make(map[types.NodeHandle]map[types.PortHandle]*Receiver),
		recordWriters: make(map[types.NodeHandle]map[types.PortHandle]store.RecordWriter),
		recordReaders: make(map[types.NodeHandle]map[types.PortHandle]*store.RecordReader),

		claimedSenders:   make(map[types.NodeHandle]bool),
		claimedReceivers: make(map[types.NodeHandle]bool),
		claimedWriters:   make(map[types.NodeHandle]bool),
		claimedReaders:   make(map[types.NodeHandle]bool),
	}

	for _, n := range d.Nodes {
		if n.IsSink() {
			continue
		}
		for port, ps := range n.OutputSchemas {
			writer, err := newWriter(ps.Persist, ps.Schema)
			if err != nil {
				return nil, fmt.Errorf("exec: build writer for %s port %d: %w", n.Handle, port, err)
			}
			if writer != nil {
				if e.recordWriters[n.Handle] == nil {
					e.recordWriters[n.Handle] = make(map[types.PortHandle]store.RecordWriter)
				}
				e.recordWriters[n.Handle][port] = writer

				prefix := append(append([]byte{}, store.NodePrefix(n.Index)...), store.PortPrefix(uint16(port))...)
				if e.recordReaders[n.Handle] == nil {
					e.recordReaders[n.Handle] = make(map[types.PortHandle]*store.RecordReader)
				}
				e.recordReaders[n.Handle][port] = store.NewRecordReader(st, prefix, ps.Schema)
			}
		}
	}

	for _, edge := range d.Edges {
		sender, receiver := newChannel(capacity, e.Shutdown, edge.FromNode, edge.FromPort)

		if e.senders[edge.FromNode] == nil {
			e.senders[edge.FromNode] = make(map[types.PortHandle][]*Sender)
		}
		e.senders[edge.FromNode][edge.FromPort] = append(e.senders[edge.FromNode][edge.FromPort], sender)

		if e.receivers[edge.ToNode] == nil {
			e.receivers[edge.ToNode] = make(map[types.PortHandle]*Receiver)
		}
		if _, exists := e.receivers[edge.ToNode][edge.ToPort]; exists {
			return nil, fmt.Errorf("exec: %s input port %d wired twice", edge.ToNode, edge.ToPort)
		}
		e.receivers[edge.ToNode][edge.ToPort] = receiver
	}

	return e, nil
}

func newWriter(mode types.PersistenceMode, schema types.Schema) (store.RecordWriter, error) {
	switch mode {
	case types.PersistenceNone:
		return nil, nil
	case types.PersistencePrimaryKey:
		return store.NewPKWriter(schema), nil
	case types.PersistenceAutogenPK:
		return store.NewAutogenWriter(0), nil
	default:
		return nil, fmt.Errorf("unknown persistence mode %v", mode)
	}
}

// CollectSenders returns and claims every Sender registered for handle's
// output ports. Calling it twice for the same handle is a bug in the
// caller and returns an error rather than handing out the same Sender to
// two owners.
func (e *ExecutionDag) CollectSenders(handle types.NodeHandle) (map[types.PortHandle][]*Sender, error) {
	if e.claimedSenders[handle] {
		return nil, fmt.Errorf("exec: senders for %s already claimed", handle)
	}
	e.claimedSenders[handle] = true
	return e.senders[handle], nil
}

// CollectReceivers returns and claims every Receiver registered for
// handle's input ports.
func (e *ExecutionDag) CollectReceivers(handle types.NodeHandle) (map[types.PortHandle]*Receiver, error) {
	if e.claimedReceivers[handle] {
		return nil, fmt.Errorf("exec: receivers for %s already claimed", handle)
	}
	e.claimedReceivers[handle] = true
	return e.receivers[handle], nil
}

// CollectRecordWriters returns and claims every RecordWriter registered
// for handle's output ports.
func (e *ExecutionDag) CollectRecordWriters(handle types.NodeHandle) (map[types.PortHandle]store.RecordWriter, error) {
	if e.claimedWriters[handle] {
		return nil, fmt.Errorf("exec: record writers for %s already claimed", handle)
	}
	e.claimedWriters[handle] = true
	return e.recordWriters[handle], nil
}

// CollectRecordReaders returns and claims every RecordReader registered
// for handle's output ports.
func (e *ExecutionDag) CollectRecordReaders(handle types.NodeHandle) (map[types.PortHandle]*store.RecordReader, error) {
	if e.claimedReaders[handle] {
		return nil, fmt.Errorf("exec: record readers for %s already claimed", handle)
	}
	e.claimedReaders[handle] = true
	return e.recordReaders[handle], nil
}

// CloseSenders closes every Sender owned by handle. The executor calls
// this once a node's worker goroutine has finished emitting, so
// downstream receivers observe channel closure and can shut down cleanly.
func (e *ExecutionDag) CloseSenders(handle types.NodeHandle) {
	for _, senders := range e.senders[handle] {
		for _, s := range senders {
			s.Close()
		}
	}
}
