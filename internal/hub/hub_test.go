package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func event(id, topic string) Event {
	return Event{ID: id, Topic: topic, Type: MessageTypeConsumptionUpdate, Operation: "INSERT", Record: []byte(`{"codigo":1}`)}
}

func TestPublish_OnlyMatchingTopic(t *testing.T) {
	h := New(zap.NewNop())
	consumption := h.Subscribe(TopicConsumption, 4)
	other := h.Subscribe("facturas", 4)

	n := h.Publish(event("e1", TopicConsumption))
	assert.Equal(t, 1, n)

	got := <-consumption.Events()
	assert.Equal(t, "e1", got.ID)
	assert.Len(t, other.Events(), 0)
}

func TestUnsubscribe_StopsDeliveryAndClosesChannel(t *testing.T) {
	h := New(zap.NewNop())
	sub := h.Subscribe(TopicConsumption, 1)
	require.Equal(t, 1, h.SubscriberCount(TopicConsumption))

	sub.Unsubscribe()
	sub.Unsubscribe()

	assert.Equal(t, 0, h.SubscriberCount(TopicConsumption))
	assert.Equal(t, 0, h.Publish(event("e1", TopicConsumption)))

	_, open := <-sub.Events()
	assert.False(t, open)
}

func TestPublish_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := New(zap.NewNop())
	slow := h.Subscribe(TopicConsumption, 1)
	fast := h.Subscribe(TopicConsumption, 8)

	for i := 0; i < 3; i++ {
		h.Publish(event("e", TopicConsumption))
	}

	assert.Len(t, slow.Events(), 1)
	assert.Len(t, fast.Events(), 3)
	assert.Equal(t, uint64(2), h.Dropped())
}

func TestClose(t *testing.T) {
	h := New(zap.NewNop())
	sub := h.Subscribe(TopicConsumption, 1)

	h.Close()
	_, open := <-sub.Events()
	assert.False(t, open)

	late := h.Subscribe(TopicConsumption, 1)
	_, open = <-late.Events()
	assert.False(t, open)

	// unsubscribing after close is harmless
	sub.Unsubscribe()
	late.Unsubscribe()
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	h := New(zap.NewNop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		sub := h.Subscribe(TopicConsumption, 16)
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h.Publish(event("e", TopicConsumption))
			}
		}()
		go func() {
			defer wg.Done()
			sub.Unsubscribe()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, h.SubscriberCount(TopicConsumption))
}
