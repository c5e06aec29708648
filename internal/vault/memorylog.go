package vault

import (
	"sync"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// MemoryReleaseLog is an in-process ReleaseLog used by tests and by
// short-lived tooling that doesn't need durability across process
// restarts.
type MemoryReleaseLog struct {
	mu      sync.Mutex
	entries map[string]types.SecretReleaseLogEntry
}

func NewMemoryReleaseLog() *MemoryReleaseLog {
	return &MemoryReleaseLog{entries: make(map[string]types.SecretReleaseLogEntry)}
}

func (m *MemoryReleaseLog) Append(entry types.SecretReleaseLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[string(releaseKey(entry.OrderID, entry.SegmentID))] = entry
	return nil
}

func (m *MemoryReleaseLog) Has(orderID string, segmentID *int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[string(releaseKey(orderID, segmentID))]
	return ok, nil
}
