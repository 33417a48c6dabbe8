package broadcast

import (
	"testing"

	"github.com/dagflow/dagflow/pkg/engine"
	"github.com/dagflow/dagflow/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSchema = types.Schema{
	Fields: []types.FieldDefinition{{Name: "id", Type: types.FieldTypeInt}},
}

func TestSubscribeReplaysSchemaSnapshot(t *testing.T) {
	b := NewBroker()
	node := types.NodeHandle{Name: "sink1"}
	b.PublishSchema(node, 0, testSchema)

	sub := b.Subscribe()
	evt := <-sub
	assert.Equal(t, engine.EventSchema, evt.Kind)
	assert.Equal(t, node, evt.Endpoint)
	assert.True(t, evt.Schema.Equal(testSchema))
}

func TestPublishOpReachesSubscriber(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()

	node := types.NodeHandle{Name: "sink1"}
	rec := types.Record{Fields: []types.Field{types.IntField(1)}}
	b.PublishOp(node, 0, types.Insert(rec))

	evt := <-sub
	assert.Equal(t, engine.EventOp, evt.Kind)
	assert.Equal(t, types.OpInsert, evt.Op.Kind)
}

func TestLaggingSubscriberDropsRatherThanBlocks(t *testing.T) {
	b := NewBroker()
	b.bufferSize = 1
	sub := b.Subscribe()

	node := types.NodeHandle{Name: "sink1"}
	rec := types.Record{Fields: []types.Field{types.IntField(1)}}
	for i := 0; i < 10; i++ {
		b.PublishOp(node, 0, types.Insert(rec))
	}

	// The publish loop above must not have blocked despite a 1-slot buffer.
	require.Len(t, sub, 1)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())

	b.Unsubscribe(sub)
	assert.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	assert.False(t, ok)
}
