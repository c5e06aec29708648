package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe("order-1")

	h.Publish(Message{Type: MessagePriceTick, OrderID: "order-1"})

	msg := <-sub.Ch
	require.Equal(t, MessagePriceTick, msg.Type)
}

func TestPublishIgnoresUnrelatedOrder(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe("order-1")

	h.Publish(Message{Type: MessagePriceTick, OrderID: "order-2"})

	select {
	case <-sub.Ch:
		t.Fatal("subscriber for order-1 should not receive order-2 traffic")
	default:
	}
}

// TestSlowSubscriberIsDroppedNotBlocking asserts a full mailbox causes
// the hub to drop that subscriber rather than block the publisher.
func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	h := NewHub(zap.NewNop())
	h.Subscribe("order-1")

	for i := 0; i < subscriberQueueSize+10; i++ {
		h.Publish(Message{Type: MessagePriceTick, OrderID: "order-1"})
	}

	require.Equal(t, 0, h.SubscriberCount("order-1"))
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	h := NewHub(zap.NewNop())
	sub := h.Subscribe("order-1")
	h.Unsubscribe(sub)
	require.NotPanics(t, func() { h.Unsubscribe(sub) })
}
