package eventbus

import (
	"math/big"
	"time"
)

// AuctionOpenedPayload accompanies MessageAuctionOpened.
type AuctionOpenedPayload struct {
	Kind       string   `json:"kind"`
	StartPrice *big.Int `json:"startPrice"`
	EndPrice   *big.Int `json:"endPrice"`
}

// PriceTickPayload accompanies MessagePriceTick/MessageSegmentTick.
type PriceTickPayload struct {
	TickCount    int      `json:"tickCount"`
	CurrentPrice *big.Int `json:"currentPrice"`
}

// WinnerDeclaredPayload accompanies MessageWinnerDeclared/
// MessageSegmentWinnerDeclared.
type WinnerDeclaredPayload struct {
	ResolverID string   `json:"resolverId"`
	Price      *big.Int `json:"price"`
}

// AuctionClosedPayload accompanies MessageAuctionClosed.
type AuctionClosedPayload struct {
	Reason string `json:"reason"` // "claimed", "expired", "all_segments_terminal"
}

// ResolverProgressPayload accompanies MessageResolverProgress.
type ResolverProgressPayload struct {
	Step    string `json:"step"`
	Details string `json:"details"`
}

// EscrowCreatedPayload accompanies MessageEscrowCreated.
type EscrowCreatedPayload struct {
	Side           string `json:"side"`
	Address        string `json:"address"`
	CreationTxHash string `json:"creationTxHash"`
}

// WithdrawalCompletedPayload accompanies MessageWithdrawalCompleted.
type WithdrawalCompletedPayload struct {
	Side         string `json:"side"`
	WithdrawalTx string `json:"withdrawalTxHash"`
}

// SecretReleasedPayload accompanies MessageSecretReleased. Secret is
// hex-encoded; it is only ever sent to the winning resolver's own
// connection, never broadcast to unrelated subscribers.
type SecretReleasedPayload struct {
	Secret     string    `json:"secret"`
	ReleasedAt time.Time `json:"releasedAt"`
}
