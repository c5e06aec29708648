package orchestrator

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/merkle"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"
)

// fakeAdapter implements chain.Adapter plus both observer interfaces
// so a single stub can stand in for either chain family in a test.
// Funding is modeled as an immediate side effect of the escrow-create
// Invoke call, rather than a separately scheduled transfer.
type fakeAdapter struct {
	chainID string
	addr    string
	funded  bool
}

func (f *fakeAdapter) ChainID() string { return f.chainID }
func (f *fakeAdapter) Address() string { return f.addr }
func (f *fakeAdapter) Approve(ctx context.Context, spender string, amount *big.Int) (string, error) {
	return "0xapprove", nil
}
func (f *fakeAdapter) Transfer(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	return "0xtransfer", nil
}
func (f *fakeAdapter) Invoke(ctx context.Context, contract, method string, args ...interface{}) (string, error) {
	if method == "create_src_escrow" || method == "create_dst_escrow" {
		f.funded = true
	}
	return "0x" + method, nil
}
func (f *fakeAdapter) BlockTime() time.Duration { return time.Second }
func (f *fakeAdapter) FinalityDepth() uint64    { return 1 }

func (f *fakeAdapter) ObserveTransferTo(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.TransferEvidence, error) {
	if !f.funded {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return &chain.TransferEvidence{TxHash: "0xevidence", Amount: minAmount, ObservedAt: time.Now()}, nil
}

func (f *fakeAdapter) ObserveAccountEffects(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.EffectEvidence, error) {
	if !f.funded {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return &chain.EffectEvidence{TxHash: "stellarevidence", Amount: minAmount, ObservedAt: time.Now()}, nil
}

type memoryLog struct {
	released map[string]bool
}

func (m *memoryLog) Append(entry types.SecretReleaseLogEntry) error {
	m.released[entry.OrderID] = true
	return nil
}
func (m *memoryLog) Has(orderID string, segmentID *int) (bool, error) {
	return m.released[orderID], nil
}

// TestCrossChainAsymmetricClaim drives an EVM src escrow and a Stellar
// dst escrow both getting funded: verification succeeds, the secret is
// released once, and the order reaches `completed`.
func TestCrossChainAsymmetricClaim(t *testing.T) {
	store := orderstore.NewMemoryStore()
	bus := eventbus.NewHub(zap.NewNop())
	v := verifier.New(zap.NewNop())

	evmAdapter := &fakeAdapter{chainID: "evm-sepolia", addr: "0xescrow"}
	stellarAdapter := &fakeAdapter{chainID: "stellar-testnet", addr: "GESCROW"}
	v.RegisterEVM("evm-sepolia", evmAdapter, time.Hour)
	v.RegisterStellar("stellar-testnet", stellarAdapter, time.Hour)
	v.SetBackoff(time.Millisecond, 5*time.Millisecond, 2, 50*time.Millisecond)

	vlt := vault.New(zap.NewNop(), &memoryLog{released: make(map[string]bool)})
	secret, hash, err := vlt.MintSingle("order-1")
	require.NoError(t, err)
	_ = secret

	order := &types.Order{
		OrderID:         "order-1",
		Kind:            types.KindSingle,
		SrcChain:        "evm-sepolia",
		DstChain:        "stellar-testnet",
		SrcAmount:       big.NewInt(100),
		DstAmount:       big.NewInt(100),
		BuyerSrcAddress: "0xbuyer",
		BuyerDstAddress: "GBUYER",
		HashLock:        hash,
		Status:          types.StatusWinnerDeclared,
		Winner:          "resolver-a",
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
	require.NoError(t, store.Put(order))

	o := New(store, bus, v, vlt, NewSafetyLedger(big.NewInt(1)), zap.NewNop())
	o.RegisterChain("evm-sepolia", evmAdapter)
	o.RegisterChain("stellar-testnet", stellarAdapter)
	require.NoError(t, o.safety.Post("order-1", "resolver-a", big.NewInt(10)))

	require.NoError(t, o.Run(context.Background(), "order-1", nil, "resolver-a"))

	got, err := store.Get("order-1")
	require.NoError(t, err)
	require.Equal(t, types.StatusCompleted, got.Status)

	srcRec, err := store.GetEscrow("order-1", nil, types.EscrowSideSrc)
	require.NoError(t, err)
	require.NotEmpty(t, srcRec.WithdrawalTx)

	dep, ok := o.safety.Get("order-1")
	require.True(t, ok)
	require.Equal(t, DepositRefunded, dep.Status)
}

// TestWindowsValidateRejectsOutOfOrder exercises testable property 7.
func TestWindowsValidateRejectsOutOfOrder(t *testing.T) {
	now := time.Now()
	w := Windows{
		WithdrawalStart:         now.Add(10 * time.Minute),
		PublicWithdrawalStart:   now.Add(5 * time.Minute),
		CancellationStart:       now.Add(60 * time.Minute),
		PublicCancellationStart: now.Add(90 * time.Minute),
	}
	require.Error(t, w.Validate())
}

func TestCrossCheckToleratesBlockTimeDrift(t *testing.T) {
	now := time.Now()
	src := DefaultPolicy.ComputeWindows(now)
	dst := DefaultPolicy.ComputeWindows(now.Add(2 * time.Second))
	require.NoError(t, CrossCheck(src, dst, 5*time.Second))
	require.Error(t, CrossCheck(src, dst, time.Second))
}

func TestMerkleProofValidatesSegmentWithdrawal(t *testing.T) {
	leaves := make([]merkle.Leaf, 4)
	for i := range leaves {
		leaves[i] = merkle.HashLeaf([]byte{byte(i + 1)})
	}
	tree, err := merkle.BuildTree(leaves)
	require.NoError(t, err)
	require.True(t, merkle.Verify(leaves[1], tree.Proofs[1], tree.Root))

	bad := tree.Proofs[1]
	if len(bad) > 0 {
		bad[0].Sibling[0] ^= 0xFF
	}
	require.False(t, merkle.Verify(leaves[1], bad, tree.Root))
}
