package orderstore

import (
	"sync"
	"time"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// MemoryStore is a map-backed Store with per-order locking: a keyed map
// (orderId → Order) with atomic compare-and-set on status transitions.
// It is the reference implementation used by tests and by the single
// event loop when no Postgres/Pebble backing is configured (e.g. local
// development).
type MemoryStore struct {
	mu       sync.RWMutex
	orders   map[string]*types.Order
	locks    map[string]*sync.Mutex
	segments map[string]map[int]*types.Segment
	escrows  map[string]map[string]*types.EscrowRecord
	progress map[string][]types.ProgressEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:   make(map[string]*types.Order),
		locks:    make(map[string]*sync.Mutex),
		segments: make(map[string]map[int]*types.Segment),
		escrows:  make(map[string]map[string]*types.EscrowRecord),
		progress: make(map[string][]types.ProgressEvent),
	}
}

func (s *MemoryStore) orderLock(orderID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[orderID] = l
	}
	return l
}

func (s *MemoryStore) Put(order *types.Order) error {
	l := s.orderLock(order.OrderID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *order
	s.orders[order.OrderID] = &cp
	return nil
}

func (s *MemoryStore) Get(orderID string) (*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, types.ErrUnknownOrder
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryStore) Patch(orderID string, mutate Mutator) (*types.Order, error) {
	l := s.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	existing, ok := s.orders[orderID]
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrUnknownOrder
	}

	cp := *existing
	prevStatus := cp.Status
	if types.TerminalStatuses[prevStatus] {
		return nil, types.ErrInvalidTransition
	}
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	if cp.Status != prevStatus && !types.CanTransition(prevStatus, cp.Status) {
		return nil, types.ErrInvalidTransition
	}
	cp.UpdatedAt = time.Now()

	s.mu.Lock()
	s.orders[orderID] = &cp
	s.mu.Unlock()

	out := cp
	return &out, nil
}

func (s *MemoryStore) Scan(filter Filter) ([]*types.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Order
	for _, o := range s.orders {
		if filter.matches(o) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) PutSegment(seg *types.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.segments[seg.OrderID]
	if !ok {
		m = make(map[int]*types.Segment)
		s.segments[seg.OrderID] = m
	}
	cp := *seg
	m[seg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSegment(orderID string, segmentID int) (*types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.segments[orderID]
	if !ok {
		return nil, types.ErrUnknownSegment
	}
	seg, ok := m[segmentID]
	if !ok {
		return nil, types.ErrUnknownSegment
	}
	cp := *seg
	return &cp, nil
}

func (s *MemoryStore) PatchSegment(orderID string, segmentID int, mutate func(*types.Segment) error) (*types.Segment, error) {
	l := s.orderLock(orderID + ":seg") // segments of one order serialize with each other, under a lock separate from the order's own
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	m, ok := s.segments[orderID]
	var existing *types.Segment
	if ok {
		existing, ok = m[segmentID]
	}
	s.mu.Unlock()
	if !ok {
		return nil, types.ErrUnknownSegment
	}

	cp := *existing
	if err := mutate(&cp); err != nil {
		return nil, err
	}
	cp.UpdatedAt = time.Now()

	s.mu.Lock()
	s.segments[orderID][segmentID] = &cp
	s.mu.Unlock()

	out := cp
	return &out, nil
}

func (s *MemoryStore) ListSegments(orderID string) ([]*types.Segment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.segments[orderID]
	out := make([]*types.Segment, 0, len(m))
	for i := 1; i <= len(m); i++ {
		if seg, ok := m[i]; ok {
			cp := *seg
			out = append(out, &cp)
		}
	}
	return out, nil
}

func escrowKey(segmentID *int, side types.EscrowSide) string {
	k := string(side) + ":"
	if segmentID != nil {
		k += string(rune('0' + *segmentID))
	}
	return k
}

func (s *MemoryStore) PutEscrow(rec *types.EscrowRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.escrows[rec.OrderID]
	if !ok {
		m = make(map[string]*types.EscrowRecord)
		s.escrows[rec.OrderID] = m
	}
	cp := *rec
	m[escrowKey(rec.SegmentID, rec.Side)] = &cp
	return nil
}

func (s *MemoryStore) GetEscrow(orderID string, segmentID *int, side types.EscrowSide) (*types.EscrowRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.escrows[orderID]
	if !ok {
		return nil, types.ErrUnknownOrder
	}
	rec, ok := m[escrowKey(segmentID, side)]
	if !ok {
		return nil, types.ErrUnknownOrder
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) AppendProgress(ev types.ProgressEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress[ev.OrderID] = append(s.progress[ev.OrderID], ev)
	return nil
}

func (s *MemoryStore) ListProgress(orderID string) ([]types.ProgressEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.ProgressEvent, len(s.progress[orderID]))
	copy(out, s.progress[orderID])
	return out, nil
}
