// Package vault implements the secret vault: mints the
// per-order and per-segment secrets behind a hashlock, and releases
// them at most once per (orderId, segmentId?) scope, only after the
// escrow verifier has asserted both sides funded.
package vault

import (
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/merkle"
	"github.com/relayforge/htlc-coordinator/internal/types"
)

// ReleaseLog durably appends SecretReleaseLogEntry records before a
// secret is handed back to the caller — crash-safe log-before-return
// ordering. Grounded on the key-prefixed Pebble store in the example
// pack; MemoryReleaseLog and PebbleReleaseLog both satisfy this
// interface.
type ReleaseLog interface {
	Append(entry types.SecretReleaseLogEntry) error
	Has(orderID string, segmentID *int) (bool, error)
}

// storedSecret is what the vault holds per scope — never exposed
// outside Release.
type storedSecret struct {
	secret   []byte
	hash     [32]byte
	released bool
}

// Vault mints and releases secrets, keeping an in-memory map of
// per-scope secrets behind an RWMutex, extended with a durable release
// log and the sorted-pair Merkle tree from internal/merkle.
type Vault struct {
	mu      sync.RWMutex
	log     *zap.Logger
	relLog  ReleaseLog
	single  map[string]*storedSecret            // orderID -> secret
	segment map[string]map[int]*storedSecret    // orderID -> segmentID -> secret
	roots   map[string]merkle.Tree              // orderID -> tree (proofs + root)
}

// New constructs a Vault backed by the given durable release log.
func New(log *zap.Logger, relLog ReleaseLog) *Vault {
	return &Vault{
		log:     log.Named("vault"),
		relLog:  relLog,
		single:  make(map[string]*storedSecret),
		segment: make(map[string]map[int]*storedSecret),
		roots:   make(map[string]merkle.Tree),
	}
}

func randomSecret() ([]byte, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("vault: generate secret: %w", err)
	}
	return b, nil
}

// MintSingle mints a single order's secret: 32 random bytes, hash =
// SHA-256(secret).
func (v *Vault) MintSingle(orderID string) (secret []byte, hash [32]byte, err error) {
	secret, err = randomSecret()
	if err != nil {
		return nil, [32]byte{}, err
	}
	hash = merkle.HashLeaf(secret)

	v.mu.Lock()
	defer v.mu.Unlock()
	v.single[orderID] = &storedSecret{secret: secret, hash: hash}
	v.log.Debug("minted single secret", zap.String("order_id", orderID))
	return secret, hash, nil
}

// MintSegmented mints N random leaf secrets, their hashes, the Merkle
// root over them, and per-leaf proofs, via internal/merkle.BuildTree.
func (v *Vault) MintSegmented(orderID string, n int) (leafSecrets [][]byte, leafHashes [][32]byte, root [32]byte, proofs [][]merkle.ProofStep, err error) {
	leafSecrets = make([][]byte, n)
	leafHashes = make([]merkle.Leaf, n)
	for i := 0; i < n; i++ {
		s, err := randomSecret()
		if err != nil {
			return nil, nil, [32]byte{}, nil, err
		}
		leafSecrets[i] = s
		leafHashes[i] = merkle.HashLeaf(s)
	}

	tree, err := merkle.BuildTree(leafHashes)
	if err != nil {
		return nil, nil, [32]byte{}, nil, fmt.Errorf("vault: build tree: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	segs := make(map[int]*storedSecret, n)
	for i := 0; i < n; i++ {
		segs[i+1] = &storedSecret{secret: leafSecrets[i], hash: leafHashes[i]}
	}
	v.segment[orderID] = segs
	v.roots[orderID] = tree
	v.log.Debug("minted segmented secrets", zap.String("order_id", orderID), zap.Int("n", n))

	return leafSecrets, leafHashes, tree.Root, tree.Proofs, nil
}

// RegisterSecret stores a buyer-supplied secret for a single order,
// validating it against the hashLock the order was created with.
// This is the path a buyer who does not want the coordinator to
// custody its secret from order creation takes: the hash is already
// committed on both escrow contracts, and the secret itself is
// uploaded only once the buyer is ready for it to be released.
func (v *Vault) RegisterSecret(orderID string, secret []byte, expectedHash [32]byte) error {
	hash := merkle.HashLeaf(secret)
	if hash != expectedHash {
		return types.ErrHashMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if existing, ok := v.single[orderID]; ok && existing.released {
		return types.ErrAlreadyReleased
	}
	v.single[orderID] = &storedSecret{secret: secret, hash: hash}
	v.log.Debug("registered buyer-supplied secret", zap.String("order_id", orderID))
	return nil
}

// RegisterSegmentSecret is RegisterSecret's segmented-order counterpart,
// validated against the leaf hash the order committed to for that
// segment rather than the order's Merkle root.
func (v *Vault) RegisterSegmentSecret(orderID string, segmentID int, secret []byte, expectedLeafHash [32]byte) error {
	hash := merkle.HashLeaf(secret)
	if hash != expectedLeafHash {
		return types.ErrHashMismatch
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	segs, ok := v.segment[orderID]
	if !ok {
		segs = make(map[int]*storedSecret)
		v.segment[orderID] = segs
	}
	if existing, ok := segs[segmentID]; ok && existing.released {
		return types.ErrAlreadyReleased
	}
	segs[segmentID] = &storedSecret{secret: secret, hash: hash}
	v.log.Debug("registered buyer-supplied segment secret", zap.String("order_id", orderID), zap.Int("segment_id", segmentID))
	return nil
}

// ProofFor returns the Merkle proof for a given segment, for callers
// (e.g. the API's request_secret response) that need to hand it back
// to a resolver alongside the released secret.
func (v *Vault) ProofFor(orderID string, segmentID int) ([]merkle.ProofStep, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	tree, ok := v.roots[orderID]
	if !ok || segmentID < 1 || segmentID > len(tree.Proofs) {
		return nil, false
	}
	return tree.Proofs[segmentID-1], true
}

// Verified is the boolean the escrow verifier asserts before Release
// may succeed.
type Verified func(orderID string, segmentID *int) bool

// Release succeeds only if isVerified returns true AND no prior release
// exists for the same (orderId, segmentId?) scope, appending to the
// release log before returning the secret (crash-safe ordering).
func (v *Vault) Release(orderID string, segmentID *int, releasedTo string, isVerified Verified) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	entry, ok := v.lookupLocked(orderID, segmentID)
	if !ok {
		return nil, types.ErrUnknownSegment
	}
	if entry.released {
		return nil, types.ErrAlreadyReleased
	}

	already, err := v.relLog.Has(orderID, segmentID)
	if err != nil {
		return nil, fmt.Errorf("vault: check release log: %w", err)
	}
	if already {
		entry.released = true
		return nil, types.ErrAlreadyReleased
	}

	if !isVerified(orderID, segmentID) {
		return nil, types.ErrNotVerified
	}

	if err := v.relLog.Append(types.SecretReleaseLogEntry{
		OrderID:    orderID,
		SegmentID:  segmentID,
		ReleasedTo: releasedTo,
		ReleasedAt: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("vault: append release log: %w", err)
	}

	entry.released = true
	v.log.Info("released secret",
		zap.String("order_id", orderID),
		zap.String("released_to", releasedTo))

	out := make([]byte, len(entry.secret))
	copy(out, entry.secret)
	return out, nil
}

func (v *Vault) lookupLocked(orderID string, segmentID *int) (*storedSecret, bool) {
	if segmentID == nil {
		s, ok := v.single[orderID]
		return s, ok
	}
	segs, ok := v.segment[orderID]
	if !ok {
		return nil, false
	}
	s, ok := segs[*segmentID]
	return s, ok
}
