package vault

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// PebbleReleaseLog durably persists SecretReleaseLogEntry rows keyed by
// scope, grounded on the key-prefix + pebble.Sync write pattern in
// uhyunpark-hyperlicked/pkg/storage/pebble_store.go.
type PebbleReleaseLog struct {
	db *pebble.DB
}

// NewPebbleReleaseLog opens (or creates) a Pebble database at path for
// use as the vault's durable release log.
func NewPebbleReleaseLog(path string) (*PebbleReleaseLog, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("vault: open pebble release log: %w", err)
	}
	return &PebbleReleaseLog{db: db}, nil
}

func (p *PebbleReleaseLog) Close() error { return p.db.Close() }

func releaseKey(orderID string, segmentID *int) []byte {
	key := "release:" + orderID + ":"
	if segmentID != nil {
		key += strconv.Itoa(*segmentID)
	} else {
		key += "-"
	}
	return []byte(key)
}

func (p *PebbleReleaseLog) Append(entry types.SecretReleaseLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("vault: marshal release entry: %w", err)
	}
	key := releaseKey(entry.OrderID, entry.SegmentID)
	if err := p.db.Set(key, data, pebble.Sync); err != nil {
		return fmt.Errorf("vault: persist release entry: %w", err)
	}
	return nil
}

func (p *PebbleReleaseLog) Has(orderID string, segmentID *int) (bool, error) {
	_, closer, err := p.db.Get(releaseKey(orderID, segmentID))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("vault: read release log: %w", err)
	}
	defer closer.Close()
	return true, nil
}
