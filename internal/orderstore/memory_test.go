package orderstore

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

func newOrder(id string, status types.OrderStatus) *types.Order {
	return &types.Order{
		OrderID:         id,
		Kind:            types.KindSingle,
		SrcChain:        "evm-sepolia",
		DstChain:        "stellar-testnet",
		SrcToken:        "USDC",
		DstToken:        "XLM",
		SrcAmount:       big.NewInt(1_000_000),
		DstAmount:       big.NewInt(2_000_000),
		MarketPrice:     big.NewFloat(3900),
		Slippage:        0.02,
		BuyerSrcAddress: "0xbuyer",
		BuyerDstAddress: "GBUYER",
		Status:          status,
		CreatedAt:       time.Now(),
		UpdatedAt:       time.Now(),
	}
}

// TestStatusDAGClosure asserts no code path transitions an order out
// of a terminal status.
func TestStatusDAGClosure(t *testing.T) {
	for terminal := range types.TerminalStatuses {
		s := NewMemoryStore()
		require.NoError(t, s.Put(newOrder("o1", terminal)))

		for _, to := range []types.OrderStatus{
			types.StatusPending, types.StatusAuctionActive, types.StatusWinnerDeclared,
			types.StatusSrcEscrowCreated, types.StatusCompleted, types.StatusCancelled,
		} {
			_, err := s.Patch("o1", func(o *types.Order) error {
				o.Status = to
				return nil
			})
			require.ErrorIs(t, err, types.ErrInvalidTransition, "terminal %s must reject transition to %s", terminal, to)
		}
	}
}

func TestPatchRejectsIllegalTransition(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(newOrder("o1", types.StatusPending)))

	_, err := s.Patch("o1", func(o *types.Order) error {
		o.Status = types.StatusCompleted
		return nil
	})
	require.ErrorIs(t, err, types.ErrInvalidTransition)
}

func TestPatchAllowsLegalTransition(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(newOrder("o1", types.StatusPending)))

	o, err := s.Patch("o1", func(o *types.Order) error {
		o.Status = types.StatusAuctionActive
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, types.StatusAuctionActive, o.Status)
}

func TestPatchUnknownOrder(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Patch("missing", func(o *types.Order) error { return nil })
	require.ErrorIs(t, err, types.ErrUnknownOrder)
}

func TestScanFiltersByStatus(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(newOrder("o1", types.StatusPending)))
	require.NoError(t, s.Put(newOrder("o2", types.StatusCompleted)))

	pending := types.StatusPending
	out, err := s.Scan(Filter{Status: &pending})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "o1", out[0].OrderID)
}
