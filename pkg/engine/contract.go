package engine

import (
	"github.com/dagflow/dagflow/pkg/dag"
	"github.com/dagflow/dagflow/pkg/exec"
	"github.com/dagflow/dagflow/pkg/store"
	"github.com/dagflow/dagflow/pkg/types"
)

// Ingestor is handed to Source.Start; it is the only way a source emits
// operations and reports its progress to the Epoch Manager.
type Ingestor interface {
	// Emit sends an Insert/Delete/Update operation on the given output
	// port. Blocks under back-pressure. Once shutdown has been requested
	// it returns an error if it has to wait, and may still deliver op if
	// the channel has room.
	Emit(port types.PortHandle, op types.Operation) error

	// SnapshottingDone emits SnapshottingDone on every output port the
	// source owns, marking the end of its initial bulk load.
	SnapshottingDone() error

	// ReportState yields the source's current (txid, seqno) to the
	// Epoch Manager and blocks until the epoch barrier for this round
	// closes. Once it returns, the ingestor has already emitted
	// Commit(epoch) on every output port on the source's behalf.
	ReportState(state types.SourceState) (types.Epoch, error)

	// Done is closed once the engine has requested shutdown. A pump
	// loop should stop emitting and return promptly once this fires;
	// the engine itself emits Terminate and closes the source's
	// senders after Start returns.
	Done() <-chan struct{}
}

// Source is the runtime contract a built source instance implements.
type Source interface {
	Start(ing Ingestor) error
}

// Forwarder lets a Processor emit zero or more operations on any of its
// output ports while handling one incoming operation.
type Forwarder interface {
	Forward(port types.PortHandle, op types.Operation) error
}

// Processor is the runtime contract a built processor instance
// implements.
type Processor interface {
	// Process handles one data operation received on fromPort.
	Process(fromPort types.PortHandle, op types.Operation, fw Forwarder, txn *store.PrefixTxn) error
	// Commit runs once the epoch barrier has closed on every input
	// port, before Commit(epoch) is forwarded downstream.
	Commit(epoch types.Epoch, txn *store.PrefixTxn) error
}

// Sink is the runtime contract a built sink instance implements.
type Sink interface {
	Process(fromPort types.PortHandle, op types.Operation) error
	Commit(epoch types.Epoch) error
}

// SourceFactory is the full contract a source collaborator implements: the
// build-time declarations the Builder DAG needs, plus Build which
// constructs the runtime Source once channels and writers are wired.
type SourceFactory interface {
	dag.SourceFactory
	Build(senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter, lastCheckpoint *types.SourceState) (Source, error)
}

// ProcessorFactory is the full contract a processor collaborator
// implements.
type ProcessorFactory interface {
	dag.ProcessorFactory
	Build(inputSchemas map[types.PortHandle]types.Schema, senders map[types.PortHandle][]*exec.Sender, writers map[types.PortHandle]store.RecordWriter) (Processor, error)
}

// SinkFactory is the full contract a sink collaborator implements. Sinks
// have no output ports and so own no record writers.
type SinkFactory interface {
	dag.SinkFactory
	Build() (Sink, error)
}

// EventKind tags the variant of an Event published to the broadcast
// fan-out.
type EventKind int

const (
	EventSchema EventKind = iota
	EventOp
	EventEpochSealed
)

// Event is a tagged union of the three things the engine publishes to its
// external API boundary: a schema declaration, a live operation, or an
// epoch seal notification.
type Event struct {
	Kind     EventKind
	Endpoint types.NodeHandle
	Port     types.PortHandle
	Schema   types.Schema
	Op       types.Operation
	Epoch    types.Epoch
}

// Publisher is the engine's view of the broadcast fan-out: wherever an
// Event would be produced, the engine calls one of these instead of
// knowing anything about subscribers, lag, or replay. pkg/broadcast's
// Broker implements this.
type Publisher interface {
	PublishSchema(node types.NodeHandle, port types.PortHandle, schema types.Schema)
	PublishOp(node types.NodeHandle, port types.PortHandle, op types.Operation)
	PublishEpochSealed(epoch types.Epoch)
}

// SchemaEvent builds an EventSchema event.
func SchemaEvent(endpoint types.NodeHandle, port types.PortHandle, schema types.Schema) Event {
	return Event{Kind: EventSchema, Endpoint: endpoint, Port: port, Schema: schema}
}

// OpEvent builds an EventOp event.
func OpEvent(endpoint types.NodeHandle, port types.PortHandle, op types.Operation) Event {
	return Event{Kind: EventOp, Endpoint: endpoint, Port: port, Op: op}
}

// EpochSealedEvent builds an EventEpochSealed event.
func EpochSealedEvent(epoch types.Epoch) Event {
	return Event{Kind: EventEpochSealed, Epoch: epoch}
}
