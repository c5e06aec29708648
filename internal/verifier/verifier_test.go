package verifier

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/types"
)

type fakeEVM struct {
	evidence *chain.TransferEvidence
}

func (f *fakeEVM) ObserveTransferTo(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.TransferEvidence, error) {
	if f.evidence == nil {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return f.evidence, nil
}

type fakeStellar struct {
	evidence *chain.EffectEvidence
}

func (f *fakeStellar) ObserveAccountEffects(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.EffectEvidence, error) {
	if f.evidence == nil {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return f.evidence, nil
}

func fastBackoff() backoffPolicy {
	return backoffPolicy{initial: time.Millisecond, max: 5 * time.Millisecond, factor: 2, overall: 30 * time.Millisecond}
}

func newTestVerifier(evm *fakeEVM, stellar *fakeStellar) *Verifier {
	v := New(zap.NewNop())
	v.backoff = fastBackoff()
	v.RegisterEVM("evm-sepolia", evm, time.Hour)
	v.RegisterStellar("stellar-testnet", stellar, time.Hour)
	return v
}

func TestVerifyPendingWhenNeitherSideFunded(t *testing.T) {
	v := newTestVerifier(&fakeEVM{}, &fakeStellar{})

	_, err := v.Verify(context.Background(), Request{
		OrderID:          "order-1",
		SrcChain:         "evm-sepolia",
		DstChain:         "stellar-testnet",
		SrcEscrowAddress: "0xsrc",
		DstEscrowAddress: "GDST",
		SrcMinAmount:     big.NewInt(100),
		DstMinAmount:     big.NewInt(100),
	})
	require.ErrorIs(t, err, types.ErrVerificationPending)
}

func TestVerifyPendingWhenOnlySrcFunded(t *testing.T) {
	v := newTestVerifier(&fakeEVM{evidence: &chain.TransferEvidence{TxHash: "0xabc", Amount: big.NewInt(100), ObservedAt: time.Now()}}, &fakeStellar{})

	_, err := v.Verify(context.Background(), Request{
		OrderID:          "order-1",
		SrcChain:         "evm-sepolia",
		DstChain:         "stellar-testnet",
		SrcEscrowAddress: "0xsrc",
		DstEscrowAddress: "GDST",
		SrcMinAmount:     big.NewInt(100),
		DstMinAmount:     big.NewInt(100),
	})
	require.ErrorIs(t, err, types.ErrVerificationPending)
}

func TestVerifySucceedsWhenBothSidesFunded(t *testing.T) {
	evm := &fakeEVM{evidence: &chain.TransferEvidence{TxHash: "0xabc", Amount: big.NewInt(100), ObservedAt: time.Now()}}
	stellar := &fakeStellar{evidence: &chain.EffectEvidence{TxHash: "stellartx", Amount: big.NewInt(100), ObservedAt: time.Now()}}
	v := newTestVerifier(evm, stellar)

	result, err := v.Verify(context.Background(), Request{
		OrderID:          "order-1",
		SrcChain:         "evm-sepolia",
		DstChain:         "stellar-testnet",
		SrcEscrowAddress: "0xsrc",
		DstEscrowAddress: "GDST",
		SrcMinAmount:     big.NewInt(100),
		DstMinAmount:     big.NewInt(100),
	})
	require.NoError(t, err)
	require.True(t, result.Verified)
	require.Equal(t, "0xabc", result.Src.TxHash)
	require.Equal(t, "stellartx", result.Dst.TxHash)
}

func TestVerifyUnknownChainErrors(t *testing.T) {
	v := newTestVerifier(&fakeEVM{}, &fakeStellar{})

	_, err := v.Verify(context.Background(), Request{
		OrderID:          "order-1",
		SrcChain:         "unknown-chain",
		DstChain:         "stellar-testnet",
		SrcEscrowAddress: "0xsrc",
		DstEscrowAddress: "GDST",
		SrcMinAmount:     big.NewInt(1),
		DstMinAmount:     big.NewInt(1),
	})
	require.Error(t, err)
}
