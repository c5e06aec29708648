// Package eventbus fans progress and auction-lifecycle messages out to
// subscribers (resolvers and buyers watching an order over a websocket
// connection), grounded on the Hub/Client pattern in
// uhyunpark-hyperlicked/pkg/api/websocket.go. A slow subscriber is
// dropped rather than allowed to block the publisher.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// subscriberQueueSize bounds how far a subscriber may lag before the
// hub drops it — the publisher must never block on a stalled reader.
const subscriberQueueSize = 64

// MessageType is the tagged-union discriminant for bus messages.
type MessageType string

const (
	MessageAuctionOpened          MessageType = "auction_opened"
	MessagePriceTick              MessageType = "price_tick"
	MessageSegmentTick            MessageType = "segment_tick"
	MessageWinnerDeclared         MessageType = "winner_declared"
	MessageSegmentWinnerDeclared  MessageType = "segment_winner_declared"
	MessageAuctionClosed          MessageType = "auction_closed"
	MessageResolverProgress       MessageType = "resolver_progress"
	MessageEscrowCreated          MessageType = "escrow_created"
	MessageWithdrawalCompleted    MessageType = "withdrawal_completed"
	MessageSecretReleased         MessageType = "secret_released"
)

// Message is the tagged union broadcast to subscribers of an order's
// channel. Payload is one of the Auction*/Escrow*/Secret* structs in
// payloads.go matching Type.
type Message struct {
	Type      MessageType `json:"type"`
	OrderID   string      `json:"orderId"`
	SegmentID *int        `json:"segmentId,omitempty"`
	Ts        time.Time   `json:"ts"`
	Payload   interface{} `json:"payload,omitempty"`
}

// Subscriber is a bounded mailbox the hub owns; the hub closes Ch when
// the subscriber is dropped or unsubscribes.
type Subscriber struct {
	id      uint64
	orderID string
	Ch      chan Message
}

// Hub is the in-process publish/subscribe broker for order channels.
// One Hub instance serves every order; subscriptions are scoped by
// orderID so a connection watching order A never sees order B's
// traffic.
type Hub struct {
	mu          sync.RWMutex
	log         *zap.Logger
	subscribers map[string]map[uint64]*Subscriber
	nextID      uint64
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		log:         log.Named("eventbus"),
		subscribers: make(map[string]map[uint64]*Subscriber),
	}
}

// Subscribe registers a new mailbox for orderID's channel.
func (h *Hub) Subscribe(orderID string) *Subscriber {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	sub := &Subscriber{id: h.nextID, orderID: orderID, Ch: make(chan Message, subscriberQueueSize)}

	set, ok := h.subscribers[orderID]
	if !ok {
		set = make(map[uint64]*Subscriber)
		h.subscribers[orderID] = set
	}
	set[sub.id] = sub
	return sub
}

// Unsubscribe removes sub and closes its mailbox. Safe to call more
// than once.
func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.subscribers[sub.orderID]
	if !ok {
		return
	}
	if _, ok := set[sub.id]; !ok {
		return
	}
	delete(set, sub.id)
	if len(set) == 0 {
		delete(h.subscribers, sub.orderID)
	}
	close(sub.Ch)
}

// Publish fans msg out to every subscriber of msg.OrderID. A subscriber
// whose mailbox is full is dropped and logged — the publisher (the
// auction tick loop or the verifier) must never block. A zero Ts is
// stamped with the publish time.
func (h *Hub) Publish(msg Message) {
	if msg.Ts.IsZero() {
		msg.Ts = time.Now()
	}
	h.mu.RLock()
	set := h.subscribers[msg.OrderID]
	dropped := make([]*Subscriber, 0)
	for _, sub := range set {
		select {
		case sub.Ch <- msg:
		default:
			dropped = append(dropped, sub)
		}
	}
	h.mu.RUnlock()

	for _, sub := range dropped {
		h.log.Warn("dropping slow subscriber", zap.String("order_id", msg.OrderID), zap.Uint64("subscriber_id", sub.id))
		h.Unsubscribe(sub)
	}
}

// SubscriberCount reports how many mailboxes are open for orderID,
// exposed for tests and for /health diagnostics.
func (h *Hub) SubscriberCount(orderID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[orderID])
}
