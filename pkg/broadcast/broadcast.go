// Package broadcast bridges the engine to its external API boundary: a
// bounded pub/sub channel per subscriber, with lag-drop semantics for
// operations and schema replay for late joiners.
//
// It is modeled on the teacher's event broker (pkg/events), generalized
// from a single shared fan-out channel into per-subscriber channels so one
// slow subscriber cannot stall another, and extended with a schema
// snapshot map so a subscriber that joins after startup still receives
// every endpoint's schema before any operation referencing it.
package broadcast

import (
	"sync"

	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/metrics"
	"github.com/dagflow/dagflow/pkg/types"
)

// DefaultSubscriberBuffer is the bounded capacity of each subscriber's
// channel. A subscriber that falls this far behind starts missing
// operations rather than blocking the engine.
const DefaultSubscriberBuffer = 256

// Subscription is the receive side of one subscriber's feed.
type Subscription <-chan engine.Event

// Broker fans engine.Event values out to any number of subscribers. It
// implements engine.Publisher.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[chan engine.Event]bool
	schemas     map[types.NodeHandle]map[types.PortHandle]types.Schema
	bufferSize  int
}

// NewBroker returns a ready-to-use Broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[chan engine.Event]bool),
		schemas:     make(map[types.NodeHandle]map[types.PortHandle]types.Schema),
		bufferSize:  DefaultSubscriberBuffer,
	}
}

// Subscribe registers a new subscriber and immediately replays every
// schema published so far, so the caller sees every schema published
// before it joined ahead of any later event.
func (b *Broker) Subscribe() Subscription {
	ch := make(chan engine.Event, b.bufferSize)

	b.mu.Lock()
	b.subscribers[ch] = true
	for node, ports := range b.schemas {
		for port, schema := range ports {
			ch <- engine.SchemaEvent(node, port, schema)
		}
	}
	b.mu.Unlock()

	metrics.BroadcastSubscribers.Inc()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(sub Subscription) {
	ch, ok := sub.(chan engine.Event)
	if !ok {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subscribers[ch] {
		delete(b.subscribers, ch)
		close(ch)
		metrics.BroadcastSubscribers.Dec()
	}
}

func (b *Broker) publish(evt engine.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			// Subscriber is lagging; drop this event rather than block
			// the engine. Schema events are replayed from the snapshot
			// map only when a subscriber joins, so a schema event dropped
			// here is not resent to this subscriber.
			metrics.BroadcastDroppedTotal.Inc()
		}
	}
}

// PublishSchema records node/port's schema in the replay snapshot and
// forwards it to every current subscriber.
func (b *Broker) PublishSchema(node types.NodeHandle, port types.PortHandle, schema types.Schema) {
	b.mu.Lock()
	if b.schemas[node] == nil {
		b.schemas[node] = make(map[types.PortHandle]types.Schema)
	}
	b.schemas[node][port] = schema
	b.mu.Unlock()

	b.publish(engine.SchemaEvent(node, port, schema))
}

// PublishOp forwards a live operation to every current subscriber.
func (b *Broker) PublishOp(node types.NodeHandle, port types.PortHandle, op types.Operation) {
	b.publish(engine.OpEvent(node, port, op))
}

// PublishEpochSealed forwards an epoch-sealed notification to every
// current subscriber.
func (b *Broker) PublishEpochSealed(epoch types.Epoch) {
	b.publish(engine.EpochSealedEvent(epoch))
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
