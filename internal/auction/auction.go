// Package auction runs the Dutch-auction price discovery and winner
// selection for both single-secret and four-way segmented orders.
// Grounded on the AuctionEngine/ActiveAuction shape in
// internal/fusion/auction.go and the segment bookkeeping in
// internal/fusion/partialfill.go, replacing the closure-captured
// per-auction timers there with a tick scheduler that re-reads
// currentPrice/tickCount from the order store on every tick, so a
// crashed-and-restarted process resumes the correct price instead of
// restarting the curve from the top.
package auction

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/pkg/swapmath"
)

// inactivityTimeout is the soft deadline after which an auction scope
// with no claim and no fresh tick is forcibly closed as expired.
const inactivityTimeout = 15 * time.Minute

// Engine drives auction admission, tick scheduling, and the claim
// protocol. One Engine instance serves every order in the coordinator.
type Engine struct {
	store    orderstore.Store
	bus      *eventbus.Hub
	registry *Registry
	log      *zap.Logger

	mu      sync.Mutex
	tickers map[string]*time.Ticker  // single-order tickers, keyed by orderID
	segTick map[string]*time.Ticker  // segment tickers, keyed by orderID:segmentID
	watchdog map[string]*time.Timer  // inactivity watchdogs, same keys as above
	stop    map[string]chan struct{}

	claims chan claimRequest
	done   chan struct{}
}

type claimRequest struct {
	ctx        context.Context
	orderID    string
	segmentID  *int
	resolverID string
	reply      chan claimResult
}

type claimResult struct {
	price *big.Int
	err   error
}

func New(store orderstore.Store, bus *eventbus.Hub, registry *Registry, log *zap.Logger) *Engine {
	e := &Engine{
		store:    store,
		bus:      bus,
		registry: registry,
		log:      log.Named("auction"),
		tickers:  make(map[string]*time.Ticker),
		segTick:  make(map[string]*time.Ticker),
		watchdog: make(map[string]*time.Timer),
		stop:     make(map[string]chan struct{}),
		claims:   make(chan claimRequest),
		done:     make(chan struct{}),
	}
	go e.run()
	return e
}

// Close stops the claim-processing loop and every running ticker.
func (e *Engine) Close() {
	e.mu.Lock()
	for _, stopCh := range e.stop {
		close(stopCh)
	}
	e.mu.Unlock()
	close(e.claims)
	<-e.done
}

// run is the single-threaded claim-processing loop: claims are
// serialized through this channel in arrival order, giving the engine
// FIFO tie-breaking for claims that land within the same tick.
func (e *Engine) run() {
	defer close(e.done)
	for req := range e.claims {
		price, err := e.processClaim(req.orderID, req.segmentID, req.resolverID)
		req.reply <- claimResult{price: price, err: err}
	}
}

func scopeKey(orderID string, segmentID *int) string {
	if segmentID == nil {
		return orderID
	}
	return fmt.Sprintf("%s:%d", orderID, *segmentID)
}

// StartAuction admits order into the auction phase: for a single order
// it sets the order-level price curve and starts one ticker; for a
// segmented order it creates the four child segments with their tiered
// start prices and starts one ticker per segment.
func (e *Engine) StartAuction(order *types.Order) error {
	start := swapmath.StartPrice(order.MarketPrice)
	end := swapmath.EndPrice(order.MarketPrice, order.Slippage)

	if order.Kind == types.KindSingle {
		_, err := e.store.Patch(order.OrderID, func(o *types.Order) error {
			o.StartPrice = start
			o.EndPrice = end
			o.CurrentPrice = swapmath.PriceAtTick(start, end, 0)
			o.TickCount = 0
			o.AuctionStatus = types.AuctionActive
			o.Status = types.StatusAuctionActive
			return nil
		})
		if err != nil {
			return fmt.Errorf("auction: admit single order: %w", err)
		}
		e.bus.Publish(eventbus.Message{
			Type: eventbus.MessageAuctionOpened, OrderID: order.OrderID,
			Payload: eventbus.AuctionOpenedPayload{Kind: string(order.Kind), StartPrice: swapmath.RoundToInt(start), EndPrice: order.DisplayEndPrice()},
		})
		e.startTicker(order.OrderID, nil)
		return nil
	}

	if _, err := e.store.Patch(order.OrderID, func(o *types.Order) error {
		o.Status = types.StatusAuctionActive
		return nil
	}); err != nil {
		return fmt.Errorf("auction: admit segmented order: %w", err)
	}

	n := len(order.SegmentLeafHashes)
	amount := new(big.Int).Div(order.SrcAmount, big.NewInt(int64(n)))
	remainder := new(big.Int).Mod(order.SrcAmount, big.NewInt(int64(n)))

	for i := 0; i < n; i++ {
		segAmount := new(big.Int).Set(amount)
		if i == n-1 {
			segAmount.Add(segAmount, remainder)
		}
		segStart := swapmath.SegmentStartPrice(order.MarketPrice, i)
		seg := &types.Segment{
			OrderID:      order.OrderID,
			ID:           i + 1,
			Amount:       segAmount,
			StartPrice:   segStart,
			EndPrice:     end,
			CurrentPrice: swapmath.PriceAtTick(segStart, end, 0),
			TickCount:    0,
			Status:       types.AuctionActive,
			LeafHash:     order.SegmentLeafHashes[i],
		}
		if err := e.store.PutSegment(seg); err != nil {
			return fmt.Errorf("auction: put segment %d: %w", seg.ID, err)
		}
		segID := seg.ID
		e.bus.Publish(eventbus.Message{
			Type: eventbus.MessageAuctionOpened, OrderID: order.OrderID, SegmentID: &segID,
			Payload: eventbus.AuctionOpenedPayload{Kind: string(order.Kind), StartPrice: swapmath.RoundToInt(segStart), EndPrice: seg.DisplayEndPrice()},
		})
		e.startTicker(order.OrderID, &segID)
	}
	return nil
}

func (e *Engine) startTicker(orderID string, segmentID *int) {
	key := scopeKey(orderID, segmentID)

	e.mu.Lock()
	if _, exists := e.stop[key]; exists {
		e.mu.Unlock()
		return
	}
	stopCh := make(chan struct{})
	e.stop[key] = stopCh
	e.mu.Unlock()

	ticker := time.NewTicker(swapmath.TickIntervalSeconds * time.Second)
	e.resetWatchdog(orderID, segmentID)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ticker.C:
				done := e.applyTick(orderID, segmentID)
				if done {
					return
				}
			}
		}
	}()
}

func (e *Engine) resetWatchdog(orderID string, segmentID *int) {
	key := scopeKey(orderID, segmentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.watchdog[key]; ok {
		t.Stop()
	}
	e.watchdog[key] = time.AfterFunc(inactivityTimeout, func() {
		e.expireScope(orderID, segmentID)
	})
}

func (e *Engine) stopScope(orderID string, segmentID *int) {
	key := scopeKey(orderID, segmentID)
	e.mu.Lock()
	defer e.mu.Unlock()
	if stopCh, ok := e.stop[key]; ok {
		close(stopCh)
		delete(e.stop, key)
	}
	if t, ok := e.watchdog[key]; ok {
		t.Stop()
		delete(e.watchdog, key)
	}
}

// applyTick recomputes the scope's current price from scratch using
// the persisted tick count, so a tick task that dies and is rescheduled
// (or a process that crashes and restarts) always resumes from the
// order store's last-known state rather than replaying history.
// Returns true once the scope no longer needs further ticking.
func (e *Engine) applyTick(orderID string, segmentID *int) bool {
	if segmentID == nil {
		return e.applyOrderTick(orderID)
	}
	return e.applySegmentTick(orderID, *segmentID)
}

func (e *Engine) applyOrderTick(orderID string) bool {
	order, err := e.store.Get(orderID)
	if err != nil {
		e.log.Warn("tick: order vanished", zap.String("order_id", orderID), zap.Error(err))
		return true
	}
	if order.AuctionStatus != types.AuctionActive {
		return true
	}

	nextTick := order.TickCount + 1
	current := swapmath.PriceAtTick(order.StartPrice, order.EndPrice, nextTick)
	endInt := swapmath.RoundToInt(order.EndPrice)
	floorReached := swapmath.AtOrBelowFloor(current, endInt)

	updated, err := e.store.Patch(orderID, func(o *types.Order) error {
		o.CurrentPrice = current
		o.TickCount = nextTick
		if floorReached {
			o.AuctionStatus = types.AuctionPriceFloorReached
		}
		return nil
	})
	if err != nil {
		e.log.Warn("tick: patch failed", zap.String("order_id", orderID), zap.Error(err))
		return true
	}

	e.bus.Publish(eventbus.Message{
		Type: eventbus.MessagePriceTick, OrderID: orderID,
		Payload: eventbus.PriceTickPayload{TickCount: nextTick, CurrentPrice: current},
	})
	e.resetWatchdog(orderID, nil)

	// Price-floor does not auto-expire: the ticker stops advancing the
	// price but the scope stays claimable at `end` until a claim or the
	// inactivity watchdog fires.
	_ = updated
	return floorReached
}

func (e *Engine) applySegmentTick(orderID string, segmentID int) bool {
	seg, err := e.store.GetSegment(orderID, segmentID)
	if err != nil {
		e.log.Warn("tick: segment vanished", zap.String("order_id", orderID), zap.Int("segment_id", segmentID), zap.Error(err))
		return true
	}
	if seg.Status != types.AuctionActive {
		return true
	}

	nextTick := seg.TickCount + 1
	current := swapmath.PriceAtTick(seg.StartPrice, seg.EndPrice, nextTick)
	endInt := swapmath.RoundToInt(seg.EndPrice)
	floorReached := swapmath.AtOrBelowFloor(current, endInt)

	_, err = e.store.PatchSegment(orderID, segmentID, func(s *types.Segment) error {
		s.CurrentPrice = current
		s.TickCount = nextTick
		if floorReached {
			s.Status = types.AuctionPriceFloorReached
		}
		return nil
	})
	if err != nil {
		e.log.Warn("tick: patch segment failed", zap.String("order_id", orderID), zap.Int("segment_id", segmentID), zap.Error(err))
		return true
	}

	segID := segmentID
	e.bus.Publish(eventbus.Message{
		Type: eventbus.MessageSegmentTick, OrderID: orderID, SegmentID: &segID,
		Payload: eventbus.PriceTickPayload{TickCount: nextTick, CurrentPrice: current},
	})
	e.resetWatchdog(orderID, &segID)
	return floorReached
}

func (e *Engine) expireScope(orderID string, segmentID *int) {
	if segmentID == nil {
		if _, err := e.store.Patch(orderID, func(o *types.Order) error {
			if o.AuctionStatus == types.AuctionCompleted {
				return types.ErrInvalidTransition
			}
			o.AuctionStatus = types.AuctionExpired
			o.Status = types.StatusExpired
			return nil
		}); err != nil {
			return
		}
		e.bus.Publish(eventbus.Message{Type: eventbus.MessageAuctionClosed, OrderID: orderID, Payload: eventbus.AuctionClosedPayload{Reason: "expired"}})
	} else {
		if _, err := e.store.PatchSegment(orderID, *segmentID, func(s *types.Segment) error {
			if s.Status == types.AuctionCompleted {
				return types.ErrInvalidTransition
			}
			s.Status = types.AuctionExpired
			return nil
		}); err != nil {
			return
		}
		segID := *segmentID
		e.bus.Publish(eventbus.Message{Type: eventbus.MessageAuctionClosed, OrderID: orderID, SegmentID: &segID, Payload: eventbus.AuctionClosedPayload{Reason: "expired"}})
	}
	e.stopScope(orderID, segmentID)
}

// Claim submits a resolver's claim for an order (segmentID == nil) or a
// specific segment, through the single-threaded claim queue. The
// engine accepts the first valid claim for a scope and rejects the
// rest with ErrAlreadyClaimed.
func (e *Engine) Claim(ctx context.Context, orderID string, segmentID *int, resolverID string) (*big.Int, error) {
	if !e.registry.IsEligible(resolverID) {
		return nil, fmt.Errorf("auction: resolver %s not eligible to claim", resolverID)
	}

	reply := make(chan claimResult, 1)
	select {
	case e.claims <- claimRequest{ctx: ctx, orderID: orderID, segmentID: segmentID, resolverID: resolverID, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-reply:
		return res.price, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) processClaim(orderID string, segmentID *int, resolverID string) (*big.Int, error) {
	if segmentID == nil {
		return e.processOrderClaim(orderID, resolverID)
	}
	return e.processSegmentClaim(orderID, *segmentID, resolverID)
}

func (e *Engine) processOrderClaim(orderID string, resolverID string) (*big.Int, error) {
	order, err := e.store.Get(orderID)
	if err != nil {
		return nil, err
	}
	if order.Winner != "" {
		return nil, types.ErrAlreadyClaimed
	}
	if order.AuctionStatus != types.AuctionActive && order.AuctionStatus != types.AuctionPriceFloorReached {
		return nil, types.ErrAlreadyClaimed
	}

	price := new(big.Int).Set(order.CurrentPrice)
	_, err = e.store.Patch(orderID, func(o *types.Order) error {
		if o.Winner != "" {
			return types.ErrAlreadyClaimed
		}
		o.Winner = resolverID
		o.AuctionStatus = types.AuctionCompleted
		o.Status = types.StatusWinnerDeclared
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.stopScope(orderID, nil)
	e.bus.Publish(eventbus.Message{
		Type: eventbus.MessageWinnerDeclared, OrderID: orderID,
		Payload: eventbus.WinnerDeclaredPayload{ResolverID: resolverID, Price: price},
	})
	e.bus.Publish(eventbus.Message{Type: eventbus.MessageAuctionClosed, OrderID: orderID, Payload: eventbus.AuctionClosedPayload{Reason: "claimed"}})
	return price, nil
}

func (e *Engine) processSegmentClaim(orderID string, segmentID int, resolverID string) (*big.Int, error) {
	seg, err := e.store.GetSegment(orderID, segmentID)
	if err != nil {
		return nil, err
	}
	if seg.Winner != "" {
		return nil, types.ErrAlreadyClaimed
	}
	if seg.Status != types.AuctionActive && seg.Status != types.AuctionPriceFloorReached {
		return nil, types.ErrAlreadyClaimed
	}

	price := new(big.Int).Set(seg.CurrentPrice)
	_, err = e.store.PatchSegment(orderID, segmentID, func(s *types.Segment) error {
		if s.Winner != "" {
			return types.ErrAlreadyClaimed
		}
		s.Winner = resolverID
		s.Status = types.AuctionCompleted
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.stopScope(orderID, &segmentID)

	segID := segmentID
	e.bus.Publish(eventbus.Message{
		Type: eventbus.MessageSegmentWinnerDeclared, OrderID: orderID, SegmentID: &segID,
		Payload: eventbus.WinnerDeclaredPayload{ResolverID: resolverID, Price: price},
	})

	// Advance the parent order to winner_declared on the first segment
	// claim; later segment claims leave it as-is.
	if _, err := e.store.Patch(orderID, func(o *types.Order) error {
		if o.Status == types.StatusAuctionActive {
			o.Status = types.StatusWinnerDeclared
		}
		return nil
	}); err != nil && err != types.ErrInvalidTransition {
		e.log.Warn("advance order after segment claim", zap.String("order_id", orderID), zap.Error(err))
	}

	if e.allSegmentsTerminal(orderID) {
		segID := segmentID
		e.bus.Publish(eventbus.Message{Type: eventbus.MessageAuctionClosed, OrderID: orderID, SegmentID: &segID, Payload: eventbus.AuctionClosedPayload{Reason: "all_segments_terminal"}})
	}

	return price, nil
}

func (e *Engine) allSegmentsTerminal(orderID string) bool {
	segs, err := e.store.ListSegments(orderID)
	if err != nil {
		return false
	}
	for _, s := range segs {
		if s.Status == types.AuctionActive {
			return false
		}
	}
	return true
}
