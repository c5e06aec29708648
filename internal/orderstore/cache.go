package orderstore

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// Cache is the in-process active-order working set the single event
// loop treats as authoritative for orders currently being
// driven through an auction or escrow lifecycle, backed by Pebble for
// crash-recoverability. Grounded on
// uhyunpark-hyperlicked/pkg/storage/pebble_store.go's key-prefix +
// gob-encoding scheme. Mutating methods still take the per-order lock
// a MemoryStore would, because the event loop is the only writer but
// Scan/Get may be called concurrently from API handlers reading
// snapshots.
type Cache struct {
	db       *pebble.DB
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	children *MemoryStore
}

func NewCache(path string) (*Cache, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("orderstore: open cache: %w", err)
	}
	return &Cache{db: db, locks: make(map[string]*sync.Mutex), children: NewMemoryStore()}, nil
}

func (c *Cache) Close() error { return c.db.Close() }

func orderKey(orderID string) []byte { return append([]byte("order:"), orderID...) }

func encodeGob(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (c *Cache) lockFor(orderID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[orderID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[orderID] = l
	}
	return l
}

func (c *Cache) Put(order *types.Order) error {
	l := c.lockFor(order.OrderID)
	l.Lock()
	defer l.Unlock()

	data, err := encodeGob(order)
	if err != nil {
		return fmt.Errorf("orderstore: encode order: %w", err)
	}
	if err := c.db.Set(orderKey(order.OrderID), data, pebble.Sync); err != nil {
		return fmt.Errorf("orderstore: cache put: %w", err)
	}
	return nil
}

func (c *Cache) Get(orderID string) (*types.Order, error) {
	val, closer, err := c.db.Get(orderKey(orderID))
	if err == pebble.ErrNotFound {
		return nil, types.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("orderstore: cache get: %w", err)
	}
	defer closer.Close()

	var o types.Order
	if err := decodeGob(val, &o); err != nil {
		return nil, fmt.Errorf("orderstore: decode order: %w", err)
	}
	return &o, nil
}

func (c *Cache) Patch(orderID string, mutate Mutator) (*types.Order, error) {
	l := c.lockFor(orderID)
	l.Lock()
	defer l.Unlock()

	order, err := c.Get(orderID)
	if err != nil {
		return nil, err
	}
	prevStatus := order.Status
	if types.TerminalStatuses[prevStatus] {
		return nil, types.ErrInvalidTransition
	}
	if err := mutate(order); err != nil {
		return nil, err
	}
	if order.Status != prevStatus && !types.CanTransition(prevStatus, order.Status) {
		return nil, types.ErrInvalidTransition
	}
	order.UpdatedAt = time.Now()

	data, err := encodeGob(order)
	if err != nil {
		return nil, fmt.Errorf("orderstore: encode patched order: %w", err)
	}
	if err := c.db.Set(orderKey(orderID), data, pebble.Sync); err != nil {
		return nil, fmt.Errorf("orderstore: cache patch: %w", err)
	}
	return order, nil
}

func (c *Cache) Scan(filter Filter) ([]*types.Order, error) {
	iter, err := c.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("order:"),
		UpperBound: []byte("order;"),
	})
	if err != nil {
		return nil, fmt.Errorf("orderstore: scan iter: %w", err)
	}
	defer iter.Close()

	var out []*types.Order
	for iter.First(); iter.Valid(); iter.Next() {
		var o types.Order
		if err := decodeGob(iter.Value(), &o); err != nil {
			continue
		}
		if filter.matches(&o) {
			cp := o
			out = append(out, &cp)
		}
	}
	return out, nil
}

// Segment/escrow/progress child records delegate to a MemoryStore
// instance scoped to this cache; the event loop's hot path only needs
// CAS semantics on the parent Order, so these are kept simple rather
// than duplicating the pebble key-scheme for every child type.
func (c *Cache) childStore() *MemoryStore { return c.children }

func (c *Cache) PutSegment(seg *types.Segment) error { return c.childStore().PutSegment(seg) }
func (c *Cache) GetSegment(orderID string, segmentID int) (*types.Segment, error) {
	return c.childStore().GetSegment(orderID, segmentID)
}
func (c *Cache) PatchSegment(orderID string, segmentID int, mutate func(*types.Segment) error) (*types.Segment, error) {
	return c.childStore().PatchSegment(orderID, segmentID, mutate)
}
func (c *Cache) ListSegments(orderID string) ([]*types.Segment, error) {
	return c.childStore().ListSegments(orderID)
}
func (c *Cache) PutEscrow(rec *types.EscrowRecord) error { return c.childStore().PutEscrow(rec) }
func (c *Cache) GetEscrow(orderID string, segmentID *int, side types.EscrowSide) (*types.EscrowRecord, error) {
	return c.childStore().GetEscrow(orderID, segmentID, side)
}
func (c *Cache) AppendProgress(ev types.ProgressEvent) error {
	return c.childStore().AppendProgress(ev)
}
func (c *Cache) ListProgress(orderID string) ([]types.ProgressEvent, error) {
	return c.childStore().ListProgress(orderID)
}
