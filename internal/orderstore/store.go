// Package orderstore implements the order store: a keyed
// map from orderId to Order with atomic compare-and-set on status
// transitions, plus segment/escrow/progress child records.
package orderstore

import (
	"github.com/relayforge/htlc-coordinator/internal/types"
)

// Filter narrows Scan results; zero-value Filter matches everything.
type Filter struct {
	Status *types.OrderStatus
	Maker  string
}

func (f Filter) matches(o *types.Order) bool {
	if f.Status != nil && o.Status != *f.Status {
		return false
	}
	if f.Maker != "" && o.BuyerSrcAddress != f.Maker {
		return false
	}
	return true
}

// Mutator is applied to an order under the store's per-order lock;
// returning an error aborts the patch without persisting partial
// changes. Mutators must not change OrderID.
type Mutator func(o *types.Order) error

// Store is the order-store interface: put/get/patch/scan over Order
// records, plus the segment/escrow/progress child record types.
type Store interface {
	Put(order *types.Order) error
	Get(orderID string) (*types.Order, error)
	// Patch applies mutate under the order's lock and performs the
	// status-DAG compare-and-set: if mutate changes Status, the new
	// status must be reachable from the old one per
	// types.CanTransition, else ErrInvalidTransition is returned and
	// no change is persisted.
	Patch(orderID string, mutate Mutator) (*types.Order, error)
	Scan(filter Filter) ([]*types.Order, error)

	PutSegment(seg *types.Segment) error
	GetSegment(orderID string, segmentID int) (*types.Segment, error)
	PatchSegment(orderID string, segmentID int, mutate func(*types.Segment) error) (*types.Segment, error)
	ListSegments(orderID string) ([]*types.Segment, error)

	PutEscrow(rec *types.EscrowRecord) error
	GetEscrow(orderID string, segmentID *int, side types.EscrowSide) (*types.EscrowRecord, error)

	AppendProgress(ev types.ProgressEvent) error
	ListProgress(orderID string) ([]types.ProgressEvent, error)
}
