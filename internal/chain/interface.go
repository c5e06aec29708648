// Package chain unifies the two chain families this coordinator spans
// — EVM-style chains and Stellar/Soroban-style chains — behind one
// capability interface, so the orchestrator in internal/orchestrator
// never special-cases a chain by name. Generalized from
// internal/adapters.ChainAdapter, which already had two near-identical
// implementations (AnvilAdapter, SuiLocalAdapter); here the two
// concrete drivers are EVMAdapter and StellarAdapter, and the verbs are
// renamed onto approve/transfer/invoke/observe rather than the
// original swap-specific lock/unlock pair.
package chain

import (
	"context"
	"math/big"
	"time"
)

// Adapter is the capability interface the orchestrator dispatches
// through: every chain family implements approve/transfer/invoke the
// same way a resolver would drive it, whatever the underlying
// transaction model looks like.
type Adapter interface {
	ChainID() string
	Address() string

	// Approve grants a spender an allowance, for chains where the
	// escrow contract must pull funds rather than receive a push
	// transfer (EVM-like). Chains without an allowance model (most
	// Stellar paths) may implement this as a no-op returning "".
	Approve(ctx context.Context, spender string, amount *big.Int) (txHash string, err error)

	// Transfer pushes amount to recipient directly.
	Transfer(ctx context.Context, recipient string, amount *big.Int) (txHash string, err error)

	// Invoke calls a contract method by name with positional args; used
	// for escrow creation, withdrawal and cancellation, all of which
	// are contract calls on both chain families in this system.
	Invoke(ctx context.Context, contract, method string, args ...interface{}) (txHash string, err error)

	BlockTime() time.Duration
	FinalityDepth() uint64
}

// TransferEvidence is what an EVM-family observer returns: a matching
// entry from the recipient's asset-transfer history.
type TransferEvidence struct {
	TxHash      string
	Amount      *big.Int
	BlockNumber uint64
	ObservedAt  time.Time
}

// TransferHistoryObserver is implemented by EVM-family adapters: the
// verifier queries asset-transfer history filtered by recipient and
// value.
type TransferHistoryObserver interface {
	ObserveTransferTo(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*TransferEvidence, error)
}

// EffectEvidence is what a Stellar-family observer returns: the first
// ledger effect on the escrow account since the freshness window
// opened.
type EffectEvidence struct {
	TxHash     string
	Amount     *big.Int
	LedgerSeq  uint32
	ObservedAt time.Time
}

// AccountEffectsObserver is implemented by Stellar-family adapters: the
// verifier pulls recent transactions on the escrow account and
// requires the first effect to be a credit of the expected asset and
// amount.
type AccountEffectsObserver interface {
	ObserveAccountEffects(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*EffectEvidence, error)
}

// ErrEvidenceNotFound is returned by an observer when no matching
// transfer/effect exists yet within the freshness window; the verifier
// treats this as "not yet", not as a permanent failure.
type ErrEvidenceNotFound struct {
	Address string
}

func (e *ErrEvidenceNotFound) Error() string {
	return "chain: no matching evidence for " + e.Address + " yet"
}
