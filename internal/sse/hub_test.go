package sse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublish(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe(TopicInvoices)
	other, unsubscribeOther := hub.Subscribe("other")
	defer unsubscribeOther()

	assert.Equal(t, 1, hub.Subscribers(TopicInvoices))
	hub.Publish(TopicInvoices, "stored", map[string]int{"count": 3})

	select {
	case payload := <-ch:
		assert.Equal(t, "event: stored\ndata: {\"count\":3}\n\n", string(payload))
	default:
		t.Fatal("expected an event")
	}
	select {
	case <-other:
		t.Fatal("unrelated topic received an event")
	default:
	}

	unsubscribe()
	unsubscribe()
	assert.Zero(t, hub.Subscribers(TopicInvoices))
	_, open := <-ch
	assert.False(t, open)
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub()
	ch, unsubscribe := hub.Subscribe(TopicInvoices)
	defer unsubscribe()

	for range cap(ch) + 5 {
		hub.Broadcast([]string{TopicInvoices, TopicInvoices, ""}, []byte("x"))
	}
	require.Len(t, ch, cap(ch))
}

func TestNilHubIsNoop(t *testing.T) {
	var hub *Hub
	assert.NotPanics(t, func() { hub.Publish(TopicInvoices, "cleared", nil) })
}
