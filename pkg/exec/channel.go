package exec

import (
	"strconv"
	"time"

	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/types"
)

// DefaultChannelCapacity is the bounded capacity used for an edge's
// channel when the caller does not override it.
const DefaultChannelCapacity = 1000

// DefaultSendStallWarning is how often a blocked Send counts a stall in
// SendStallsTotal while it keeps waiting. A source or
// processor stuck here is back-pressured by a slow downstream node, not
// failing outright.
const DefaultSendStallWarning = 5 * time.Second

// ShutdownToken is a cooperative cancellation signal shared by every
// worker goroutine in an Execution DAG. Closing Done tells every node
// blocked on a channel send to give up and unwind.
type ShutdownToken struct {
	done chan struct{}
}

// NewShutdownToken returns a ready-to-use, not-yet-triggered token.
func NewShutdownToken() *ShutdownToken {
	return &ShutdownToken{done: make(chan struct{})}
}

// Done returns a channel that is closed once shutdown has been requested.
func (t *ShutdownToken) Done() <-chan struct{} { return t.done }

// Trigger requests shutdown. Safe to call more than once.
func (t *ShutdownToken) Trigger() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// Triggered reports whether shutdown has been requested.
func (t *ShutdownToken) Triggered() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Sender is the send half of one edge's bounded channel. A node holds one
// Sender per output port it fans out to; Send blocks on a full channel
// until there is room or the shutdown token fires, counting a stall in
// SendStallsTotal every DefaultSendStallWarning while it waits.
type Sender struct {
	ch       chan types.Operation
	shutdown *ShutdownToken

	node string
	port string
}

// label tags s with the node/port it serves, for metrics only. Called once
// by newChannel; safe to skip in tests that build a Sender directly.
func (s *Sender) label(node types.NodeHandle, port types.PortHandle) {
	s.node = node.String()
	s.port = strconv.Itoa(int(port))
	metrics.ChannelCapacity.WithLabelValues(s.node, s.port).Set(float64(cap(s.ch)))
}

// Send delivers op, blocking if the channel is full. Returns
// ErrShutdownRequested if shutdown fires while it is blocked; once
// shutdown has been requested, a call that finds room in the channel may
// still deliver op instead.
func (s *Sender) Send(op types.Operation) error {
	ticker := time.NewTicker(DefaultSendStallWarning)
	defer ticker.Stop()
	for {
		select {
		case s.ch <- op:
			if s.node != "" {
				metrics.ChannelQueueDepth.WithLabelValues(s.node, s.port).Set(float64(len(s.ch)))
			}
			return nil
		case <-s.shutdown.Done():
			return ErrShutdownRequested
		case <-ticker.C:
			// Back-pressure stall: keep trying, caller's logger (if any)
			// is expected to have its own periodic health reporting.
			if s.node != "" {
				metrics.SendStallsTotal.WithLabelValues(s.node, s.port).Inc()
			}
		}
	}
}

// SendFinal delivers a terminal operation (Terminate) unconditionally,
// ignoring the shutdown token: once a node decides to drain, the
// Terminate marker it emits must still reach every downstream receiver so
// they too can reach Exited, even though shutdown has already been
// requested. It only blocks on the channel itself being full.
func (s *Sender) SendFinal(op types.Operation) {
	s.ch <- op
}

// Close closes the underlying channel. Called exactly once, by whichever
// node owns the sending end, after it has finished emitting.
func (s *Sender) Close() { close(s.ch) }

// Receiver is the receive half of one edge's bounded channel.
type Receiver struct {
	ch       chan types.Operation
	shutdown *ShutdownToken
}

// Chan exposes the underlying channel for callers that need to multiplex
// several receivers together with reflect.Select.
func (r *Receiver) Chan() <-chan types.Operation { return r.ch }

// Recv blocks until an operation arrives, the channel is closed (ok=false),
// or shutdown fires (returns ErrShutdownRequested).
func (r *Receiver) Recv() (types.Operation, bool, error) {
	select {
	case op, ok := <-r.ch:
		return op, ok, nil
	case <-r.shutdown.Done():
		return types.Operation{}, false, ErrShutdownRequested
	}
}

// newChannel creates a connected Sender/Receiver pair with the given
// bounded capacity, labeled for metrics with the node/port the Sender
// serves.
func newChannel(capacity int, shutdown *ShutdownToken, node types.NodeHandle, port types.PortHandle) (*Sender, *Receiver) {
	ch := make(chan types.Operation, capacity)
	s := &Sender{ch: ch, shutdown: shutdown}
	s.label(node, port)
	return s, &Receiver{ch: ch, shutdown: shutdown}
}
