package auction

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/pkg/swapmath"
)

func newTestEngine(t *testing.T) (*Engine, orderstore.Store, *eventbus.Hub, *Registry) {
	t.Helper()
	store := orderstore.NewMemoryStore()
	bus := eventbus.NewHub(zap.NewNop())
	registry := NewRegistry()
	e := New(store, bus, registry, zap.NewNop())
	t.Cleanup(e.Close)
	return e, store, bus, registry
}

func eligibleResolver(registry *Registry, id string) {
	registry.Register(id)
	registry.ApproveKYC(id)
	registry.PostSafetyDeposit(id, big.NewInt(1000))
}

func singleOrder(id string) *types.Order {
	now := time.Now()
	return &types.Order{
		OrderID:         id,
		Kind:            types.KindSingle,
		SrcChain:        "evm-sepolia",
		DstChain:        "stellar-testnet",
		SrcToken:        "USDC",
		DstToken:        "XLM",
		SrcAmount:       big.NewInt(1),
		DstAmount:       big.NewInt(1),
		MarketPrice:     big.NewFloat(3900),
		Slippage:        0.02,
		BuyerSrcAddress: "0xbuyer",
		BuyerDstAddress: "GBUYER",
		Status:          types.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// TestSingleAuctionHappyPath starts an auction at 4680, decaying to
// 3822, and checks that after 3 ticks with no claim the price is 4011.
func TestSingleAuctionHappyPath(t *testing.T) {
	e, store, _, registry := newTestEngine(t)
	order := singleOrder("order-1")
	require.NoError(t, store.Put(order))
	require.NoError(t, e.StartAuction(order))

	got, _ := store.Get("order-1")
	require.Equal(t, big.NewInt(4680), swapmath.RoundToInt(got.StartPrice))
	require.Equal(t, big.NewInt(3822), got.DisplayEndPrice())

	for i := 0; i < 3; i++ {
		e.applyOrderTick("order-1")
	}
	got, _ = store.Get("order-1")
	require.Equal(t, big.NewInt(4011), got.CurrentPrice)

	eligibleResolver(registry, "resolver-a")
	price, err := e.Claim(context.Background(), "order-1", nil, "resolver-a")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(4011), price)

	got, _ = store.Get("order-1")
	require.Equal(t, types.StatusWinnerDeclared, got.Status)
	require.Equal(t, "resolver-a", got.Winner)
}

func TestClaimRejectsSecondResolver(t *testing.T) {
	e, store, _, registry := newTestEngine(t)
	order := singleOrder("order-1")
	require.NoError(t, store.Put(order))
	require.NoError(t, e.StartAuction(order))

	eligibleResolver(registry, "resolver-a")
	eligibleResolver(registry, "resolver-b")

	_, err := e.Claim(context.Background(), "order-1", nil, "resolver-a")
	require.NoError(t, err)

	_, err = e.Claim(context.Background(), "order-1", nil, "resolver-b")
	require.ErrorIs(t, err, types.ErrAlreadyClaimed)
}

func TestClaimRejectsIneligibleResolver(t *testing.T) {
	e, store, _, _ := newTestEngine(t)
	order := singleOrder("order-1")
	require.NoError(t, store.Put(order))
	require.NoError(t, e.StartAuction(order))

	_, err := e.Claim(context.Background(), "order-1", nil, "unregistered")
	require.Error(t, err)
}

func segmentedOrder(id string) *types.Order {
	now := time.Now()
	leaves := make([][32]byte, 4)
	for i := range leaves {
		leaves[i] = [32]byte{byte(i + 1)}
	}
	return &types.Order{
		OrderID:           id,
		Kind:              types.KindSegmented,
		SrcChain:          "evm-sepolia",
		DstChain:          "stellar-testnet",
		SrcToken:          "USDC",
		DstToken:          "XLM",
		SrcAmount:         big.NewInt(4_000_000),
		DstAmount:         big.NewInt(4_000_000),
		MarketPrice:       big.NewFloat(3900),
		Slippage:          0.02,
		BuyerSrcAddress:   "0xbuyer",
		BuyerDstAddress:   "GBUYER",
		Status:            types.StatusPending,
		SegmentLeafHashes: leaves,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// TestSegmentedAuctionHappyPath uses tiered segment starts
// {4200, 4099, 4001, 3900}, segments 1 and 3 claimed immediately,
// segments 2 and 4 driven to the price floor without a claim.
func TestSegmentedAuctionHappyPath(t *testing.T) {
	e, store, _, registry := newTestEngine(t)
	order := segmentedOrder("order-2")
	require.NoError(t, store.Put(order))
	require.NoError(t, e.StartAuction(order))

	wantStarts := []int64{4200, 4099, 4001, 3900}
	for i, want := range wantStarts {
		seg, err := store.GetSegment("order-2", i+1)
		require.NoError(t, err)
		require.Equal(t, big.NewInt(want), swapmath.RoundToInt(seg.StartPrice))
		require.Equal(t, big.NewInt(3822), seg.DisplayEndPrice())
	}

	eligibleResolver(registry, "resolver-a")
	eligibleResolver(registry, "resolver-b")

	seg1 := 1
	_, err := e.Claim(context.Background(), "order-2", &seg1, "resolver-a")
	require.NoError(t, err)
	seg3 := 3
	_, err = e.Claim(context.Background(), "order-2", &seg3, "resolver-b")
	require.NoError(t, err)

	for tick := 0; tick < 400; tick++ {
		e.applySegmentTick("order-2", 2)
		e.applySegmentTick("order-2", 4)
	}

	seg2, _ := store.GetSegment("order-2", 2)
	require.Equal(t, types.AuctionPriceFloorReached, seg2.Status)
	require.Equal(t, big.NewInt(3822), seg2.CurrentPrice)
	require.Empty(t, seg2.Winner)

	seg4, _ := store.GetSegment("order-2", 4)
	require.Equal(t, types.AuctionPriceFloorReached, seg4.Status)
	require.Empty(t, seg4.Winner)

	gotOrder, _ := store.Get("order-2")
	require.Equal(t, types.StatusWinnerDeclared, gotOrder.Status)
}

func TestClaimAtFloorStillSucceeds(t *testing.T) {
	e, store, _, registry := newTestEngine(t)
	order := singleOrder("order-1")
	require.NoError(t, store.Put(order))
	require.NoError(t, e.StartAuction(order))

	for i := 0; i < 100; i++ {
		e.applyOrderTick("order-1")
	}
	got, _ := store.Get("order-1")
	require.Equal(t, types.AuctionPriceFloorReached, got.AuctionStatus)

	eligibleResolver(registry, "resolver-a")
	price, err := e.Claim(context.Background(), "order-1", nil, "resolver-a")
	require.NoError(t, err)
	require.Equal(t, big.NewInt(3822), price)
}
