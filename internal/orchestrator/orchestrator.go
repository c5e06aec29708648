package orchestrator

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/merkle"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"
)

// Vault is the subset of *vault.Vault the orchestrator drives: it
// never mints secrets itself, only releases ones the vault already
// holds (minted or registered before Run is called).
type Vault interface {
	Release(orderID string, segmentID *int, releasedTo string, isVerified vault.Verified) ([]byte, error)
	ProofFor(orderID string, segmentID int) ([]merkle.ProofStep, bool)
}

// Orchestrator drives the winning resolver's per-order pipeline:
// escrow creation on both chains, composite verification, and secret
// release, fully serialized per order by routing every step through
// orderstore.Store.Patch's compare-and-set.
type Orchestrator struct {
	store    orderstore.Store
	bus      *eventbus.Hub
	verifier *verifier.Verifier
	vault    Vault
	safety   *SafetyLedger
	policy   Policy
	adapters map[string]chain.Adapter
	log      *zap.Logger
}

func New(store orderstore.Store, bus *eventbus.Hub, v *verifier.Verifier, vlt Vault, safety *SafetyLedger, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		bus:      bus,
		verifier: v,
		vault:    vlt,
		safety:   safety,
		policy:   DefaultPolicy,
		adapters: make(map[string]chain.Adapter),
		log:      log.Named("orchestrator"),
	}
}

// RegisterChain binds a symbolic chain id to the capability driver the
// orchestrator dispatches Approve/Transfer/Invoke/Observe calls
// through; EVMAdapter and StellarAdapter are the two drivers currently
// implemented.
func (o *Orchestrator) RegisterChain(chainID string, adapter chain.Adapter) {
	o.adapters[chainID] = adapter
}

func (o *Orchestrator) adapter(chainID string) (chain.Adapter, error) {
	a, ok := o.adapters[chainID]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no chain adapter registered for %q", chainID)
	}
	return a, nil
}

// Run drives a single claimed order (or segment) from winner_declared
// through completed. It is meant to be invoked once per (order,
// segment) by the resolver's own client after Claim succeeds; the
// coordinator does not run resolver-side chain transactions itself in
// the happy path, cmd/resolver is the reference driver for this step.
func (o *Orchestrator) Run(ctx context.Context, orderID string, segmentID *int, resolverID string) error {
	order, err := o.store.Get(orderID)
	if err != nil {
		return err
	}

	amount, _ := o.scopeAmount(order, segmentID)

	srcAdapter, err := o.adapter(order.SrcChain)
	if err != nil {
		return err
	}
	dstAdapter, err := o.adapter(order.DstChain)
	if err != nil {
		return err
	}

	now := time.Now()
	srcWindows := o.policy.ComputeWindows(now)
	dstWindows := o.policy.ComputeWindows(now)
	tolerance := srcAdapter.BlockTime()
	if dstAdapter.BlockTime() > tolerance {
		tolerance = dstAdapter.BlockTime()
	}
	if err := CrossCheck(srcWindows, dstWindows, tolerance); err != nil {
		return err
	}

	if err := o.createEscrow(ctx, order, segmentID, types.EscrowSideSrc, order.SrcChain, order.BuyerSrcAddress, amount, srcWindows); err != nil {
		return err
	}
	if err := o.createEscrow(ctx, order, segmentID, types.EscrowSideDst, order.DstChain, order.BuyerDstAddress, amount, dstWindows); err != nil {
		return err
	}

	if _, err := o.store.Patch(orderID, func(ord *types.Order) error {
		ord.Status = types.StatusSecretRequested
		return nil
	}); err != nil {
		return err
	}

	secret, err := o.verifyAndRelease(ctx, order, segmentID, resolverID, amount)
	if err != nil {
		return err
	}

	if err := o.withdraw(ctx, order, segmentID, types.EscrowSideSrc, order.SrcChain, secret); err != nil {
		return err
	}
	if _, err := o.store.Patch(orderID, func(ord *types.Order) error {
		ord.Status = types.StatusSrcWithdrawn
		return nil
	}); err != nil {
		return err
	}

	if err := o.withdraw(ctx, order, segmentID, types.EscrowSideDst, order.DstChain, secret); err != nil {
		return err
	}
	if _, err := o.store.Patch(orderID, func(ord *types.Order) error {
		ord.Status = types.StatusDstWithdrawn
		return nil
	}); err != nil {
		return err
	}

	if _, err := o.store.Patch(orderID, func(ord *types.Order) error {
		ord.Status = types.StatusCompleted
		return nil
	}); err != nil {
		return err
	}

	if o.safety != nil {
		_ = o.safety.Release(orderID, ClaimReasonCompleted)
	}

	o.bus.Publish(eventbus.Message{
		Type:      eventbus.MessageWithdrawalCompleted,
		OrderID:   orderID,
		SegmentID: segmentID,
		Payload:   eventbus.WithdrawalCompletedPayload{Side: string(types.EscrowSideDst)},
	})
	return nil
}

func (o *Orchestrator) scopeAmount(order *types.Order, segmentID *int) (*big.Int, [32]byte) {
	if segmentID == nil {
		return order.SrcAmount, order.HashLock
	}
	seg, err := o.store.GetSegment(order.OrderID, *segmentID)
	if err != nil {
		return order.SrcAmount, order.HashLock
	}
	return seg.Amount, order.HashLock
}

func (o *Orchestrator) createEscrow(ctx context.Context, order *types.Order, segmentID *int, side types.EscrowSide, chainID, recipient string, amount *big.Int, windows Windows) error {
	adapter, err := o.adapter(chainID)
	if err != nil {
		return err
	}

	if err := windows.Validate(); err != nil {
		return err
	}

	args := []interface{}{
		fmt.Sprintf("%x", order.HashLock),
		recipient,
		amount,
		windows.WithdrawalStart,
		windows.PublicWithdrawalStart,
		windows.CancellationStart,
		windows.PublicCancellationStart,
	}
	if segmentID != nil {
		args = append(args, *segmentID, len(order.SegmentLeafHashes))
	}

	method := "create_src_escrow"
	nextStatus := types.StatusSrcEscrowCreated
	if side == types.EscrowSideDst {
		method = "create_dst_escrow"
		nextStatus = types.StatusDstEscrowCreated
	}

	txHash, err := adapter.Invoke(ctx, adapter.Address(), method, args...)
	if err != nil {
		return fmt.Errorf("orchestrator: create %s escrow: %w", side, err)
	}

	if err := o.store.PutEscrow(&types.EscrowRecord{
		OrderID:        order.OrderID,
		SegmentID:      segmentID,
		Side:           side,
		Address:        adapter.Address(),
		CreationTxHash: txHash,
		CreatedAt:      time.Now(),
	}); err != nil {
		return err
	}

	if _, err := o.store.Patch(order.OrderID, func(ord *types.Order) error {
		ord.Status = nextStatus
		return nil
	}); err != nil {
		return err
	}

	o.bus.Publish(eventbus.Message{
		Type:      eventbus.MessageEscrowCreated,
		OrderID:   order.OrderID,
		SegmentID: segmentID,
		Payload:   eventbus.EscrowCreatedPayload{Side: string(side), Address: adapter.Address(), CreationTxHash: txHash},
	})
	return nil
}

func (o *Orchestrator) verifyAndRelease(ctx context.Context, order *types.Order, segmentID *int, resolverID string, amount *big.Int) ([]byte, error) {
	srcRec, err := o.store.GetEscrow(order.OrderID, segmentID, types.EscrowSideSrc)
	if err != nil {
		return nil, err
	}
	dstRec, err := o.store.GetEscrow(order.OrderID, segmentID, types.EscrowSideDst)
	if err != nil {
		return nil, err
	}

	result, err := o.verifier.Verify(ctx, verifier.Request{
		OrderID:          order.OrderID,
		SegmentID:        segmentID,
		SrcChain:         order.SrcChain,
		DstChain:         order.DstChain,
		SrcEscrowAddress: srcRec.Address,
		DstEscrowAddress: dstRec.Address,
		SrcMinAmount:     amount,
		DstMinAmount:     amount,
	})
	if err != nil {
		return nil, err
	}

	secret, err := o.vault.Release(order.OrderID, segmentID, resolverID, func(string, *int) bool { return result.Verified })
	if err != nil {
		return nil, err
	}

	o.bus.Publish(eventbus.Message{
		Type:      eventbus.MessageSecretReleased,
		OrderID:   order.OrderID,
		SegmentID: segmentID,
		Payload:   eventbus.SecretReleasedPayload{Secret: fmt.Sprintf("%x", secret), ReleasedAt: time.Now()},
	})
	return secret, nil
}

func (o *Orchestrator) withdraw(ctx context.Context, order *types.Order, segmentID *int, side types.EscrowSide, chainID string, secret []byte) error {
	adapter, err := o.adapter(chainID)
	if err != nil {
		return err
	}

	method := "withdraw"
	args := []interface{}{fmt.Sprintf("%x", secret)}
	if segmentID != nil {
		proof, ok := o.vault.ProofFor(order.OrderID, *segmentID)
		if !ok {
			return fmt.Errorf("orchestrator: no merkle proof for order %s segment %d", order.OrderID, *segmentID)
		}
		if !merkle.Verify(merkle.HashLeaf(secret), proof, order.HashLock) {
			return types.ErrProofInvalid
		}
		method = "withdraw_with_proof"
		args = append(args, proof)
	}

	txHash, err := adapter.Invoke(ctx, adapter.Address(), method, args...)
	if err != nil {
		return fmt.Errorf("orchestrator: withdraw %s: %w", side, err)
	}

	rec, err := o.store.GetEscrow(order.OrderID, segmentID, side)
	if err != nil {
		return err
	}
	rec.WithdrawalTx = txHash
	return o.store.PutEscrow(rec)
}
