// Package verifier implements the escrow verifier: pulls chain-side
// evidence that a src or dst escrow is funded with at least the
// expected amount, within a freshness window, and exposes a composite
// result the secret vault consumes as its Release gate.
//
// EVM-family evidence is an asset-transfer scan (internal/chain.EVMAdapter,
// grounded on internal/adapters/anvil.go's go-ethereum usage);
// Stellar-family evidence is "first account effect is a credit"
// (internal/chain.StellarAdapter, grounded on
// withObsrvr-ttp-processor-demo's github.com/stellar/go usage),
// replacing the original Sui cursor-polling adapter with a chain
// family this system actually targets.
package verifier

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/types"
)

// Evidence is the per-side record the verifier hands back, regardless
// of which chain family produced it.
type Evidence struct {
	Side       types.EscrowSide
	ChainID    string
	Address    string
	TxHash     string
	Amount     *big.Int
	ObservedAt time.Time
}

// Request describes one composite verification.
type Request struct {
	OrderID          string
	SegmentID        *int
	SrcChain         string
	DstChain         string
	SrcEscrowAddress string
	DstEscrowAddress string
	SrcMinAmount     *big.Int
	DstMinAmount     *big.Int
}

// Result is the composite boolean plus per-side evidence.
type Result struct {
	Verified bool
	Src      *Evidence
	Dst      *Evidence
}

type binding struct {
	evm       chain.TransferHistoryObserver
	stellar   chain.AccountEffectsObserver
	freshness time.Duration
}

// Verifier holds, per symbolic chain id, the observer capable of
// pulling that chain's funding evidence and the freshness window Δ
// policy constant for it. Δ_src and Δ_dst are independent per-chain
// values rather than a single shared constant, since EVM
// transfer-history scans and Stellar effect feeds have different
// natural recency windows.
type Verifier struct {
	mu       sync.RWMutex
	bindings map[string]binding
	backoff  backoffPolicy
	log      *zap.Logger
}

func New(log *zap.Logger) *Verifier {
	return &Verifier{
		bindings: make(map[string]binding),
		backoff:  defaultBackoff,
		log:      log.Named("verifier"),
	}
}

// SetBackoff overrides the retry policy. Production callers use it to
// apply configured values; tests use it to avoid waiting out the real
// verification deadline.
func (v *Verifier) SetBackoff(initial, max time.Duration, factor float64, overall time.Duration) {
	v.backoff = backoffPolicy{initial: initial, max: max, factor: factor, overall: overall}
}

// RegisterEVM binds a symbolic chain id to an EVM-family observer and
// its freshness window.
func (v *Verifier) RegisterEVM(chainID string, observer chain.TransferHistoryObserver, freshness time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bindings[chainID] = binding{evm: observer, freshness: freshness}
}

// RegisterStellar binds a symbolic chain id to a Stellar-family
// observer and its freshness window.
func (v *Verifier) RegisterStellar(chainID string, observer chain.AccountEffectsObserver, freshness time.Duration) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.bindings[chainID] = binding{stellar: observer, freshness: freshness}
}

// Verify pulls evidence for both sides, retrying each with backoff up
// to the backoff policy's overall deadline. It returns
// ErrVerificationPending (not ErrVerificationFailed) when the deadline
// elapses without evidence, so the caller can retry the whole
// request later rather than treat it as a dead end.
func (v *Verifier) Verify(ctx context.Context, req Request) (*Result, error) {
	src, err := v.verifySide(ctx, req.SrcChain, req.SrcEscrowAddress, req.SrcMinAmount, types.EscrowSideSrc)
	if err != nil {
		return nil, err
	}
	dst, err := v.verifySide(ctx, req.DstChain, req.DstEscrowAddress, req.DstMinAmount, types.EscrowSideDst)
	if err != nil {
		return nil, err
	}

	if src == nil || dst == nil {
		v.log.Debug("verification pending",
			zap.String("order_id", req.OrderID),
			zap.Bool("src_found", src != nil),
			zap.Bool("dst_found", dst != nil))
		return &Result{Src: src, Dst: dst}, types.ErrVerificationPending
	}

	v.log.Info("verification succeeded",
		zap.String("order_id", req.OrderID),
		zap.String("src_tx", src.TxHash),
		zap.String("dst_tx", dst.TxHash))
	return &Result{Verified: true, Src: src, Dst: dst}, nil
}

func (v *Verifier) verifySide(ctx context.Context, chainID, address string, minAmount *big.Int, side types.EscrowSide) (*Evidence, error) {
	v.mu.RLock()
	b, ok := v.bindings[chainID]
	v.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("verifier: no observer registered for chain %q", chainID)
	}

	since := time.Now().Add(-b.freshness)
	var out *Evidence

	found, err := retryUntil(ctx, v.backoff, func(ctx context.Context) (bool, error) {
		switch {
		case b.evm != nil:
			ev, err := b.evm.ObserveTransferTo(ctx, address, minAmount, since)
			if err != nil {
				if isNotFound(err) {
					return false, nil
				}
				return false, fmt.Errorf("verifier: evm observe %s: %w", address, err)
			}
			out = &Evidence{Side: side, ChainID: chainID, Address: address, TxHash: ev.TxHash, Amount: ev.Amount, ObservedAt: ev.ObservedAt}
			return true, nil
		case b.stellar != nil:
			ev, err := b.stellar.ObserveAccountEffects(ctx, address, minAmount, since)
			if err != nil {
				if isNotFound(err) {
					return false, nil
				}
				return false, fmt.Errorf("verifier: stellar observe %s: %w", address, err)
			}
			out = &Evidence{Side: side, ChainID: chainID, Address: address, TxHash: ev.TxHash, Amount: ev.Amount, ObservedAt: ev.ObservedAt}
			return true, nil
		default:
			return false, fmt.Errorf("verifier: chain %q has no observer bound", chainID)
		}
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return out, nil
}

func isNotFound(err error) bool {
	_, ok := err.(*chain.ErrEvidenceNotFound)
	return ok
}
