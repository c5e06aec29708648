package types

import (
	"math/big"
	"time"
)

// OrderKind distinguishes a single-secret swap from a Merkle-gated
// segmented (partial-fill) swap.
type OrderKind string

const (
	KindSingle    OrderKind = "single"
	KindSegmented OrderKind = "segmented"
)

// OrderStatus is a node in the order-level status DAG. Once an order
// reaches a terminal status (Completed, Expired, Cancelled) it may only
// accept read operations.
type OrderStatus string

const (
	StatusPending           OrderStatus = "pending"
	StatusAuctionActive     OrderStatus = "auction_active"
	StatusWinnerDeclared    OrderStatus = "winner_declared"
	StatusSrcEscrowCreated  OrderStatus = "src_escrow_created"
	StatusDstEscrowCreated  OrderStatus = "dst_escrow_created"
	StatusSecretRequested   OrderStatus = "secret_requested"
	StatusSrcWithdrawn      OrderStatus = "src_withdrawn"
	StatusDstWithdrawn      OrderStatus = "dst_withdrawn"
	StatusCompleted         OrderStatus = "completed"
	StatusExpired           OrderStatus = "expired"
	StatusCancelled         OrderStatus = "cancelled"
)

// TerminalStatuses may only accept read operations
var TerminalStatuses = map[OrderStatus]bool{
	StatusCompleted: true,
	StatusExpired:   true,
	StatusCancelled: true,
}

// statusTransitions holds, for each status, the set of statuses an
// order may advance to from it. Any edge not listed here is illegal and
// patch() must reject it with ErrInvalidTransition.
var statusTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPending: {
		StatusAuctionActive: true,
		StatusCancelled:     true,
	},
	StatusAuctionActive: {
		StatusWinnerDeclared: true,
		StatusExpired:        true,
		StatusCancelled:      true,
	},
	StatusWinnerDeclared: {
		StatusSrcEscrowCreated: true,
		StatusCancelled:        true,
	},
	StatusSrcEscrowCreated: {
		StatusDstEscrowCreated: true,
		StatusCancelled:        true,
	},
	StatusDstEscrowCreated: {
		StatusSecretRequested: true,
		StatusCancelled:       true,
	},
	StatusSecretRequested: {
		StatusSrcWithdrawn: true,
		StatusCancelled:    true,
	},
	StatusSrcWithdrawn: {
		StatusDstWithdrawn: true,
		StatusCancelled:    true,
	},
	StatusDstWithdrawn: {
		StatusCompleted: true,
	},
	StatusCompleted: {},
	StatusExpired:   {},
	StatusCancelled: {},
}

// CanTransition reports whether the order-level status DAG permits
// advancing from `from` to `to`.
func CanTransition(from, to OrderStatus) bool {
	if TerminalStatuses[from] {
		return false
	}
	edges, ok := statusTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// EscrowSide discriminates the two sides of an escrow pair explicitly;
// this module never infers it from a substring match on the escrow
// address.
type EscrowSide string

const (
	EscrowSideSrc EscrowSide = "src"
	EscrowSideDst EscrowSide = "dst"
)

// Order is the persisted record for a swap.
type Order struct {
	OrderID  string    `json:"orderId"`
	Kind     OrderKind `json:"kind"`
	SrcChain string    `json:"srcChain"`
	DstChain string    `json:"dstChain"`

	SrcToken  string `json:"srcToken"`
	DstToken  string `json:"dstToken"`
	SrcAmount *big.Int `json:"srcAmount"`
	DstAmount *big.Int `json:"dstAmount"`

	MarketPrice *big.Float `json:"marketPrice"`
	Slippage    float64    `json:"slippage"`

	BuyerSrcAddress string `json:"buyerSrcAddress"`
	BuyerDstAddress string `json:"buyerDstAddress"`

	// HashLock is the 32-byte root: SHA-256(secret) for single orders,
	// or the Merkle root over segment leaves for segmented orders.
	HashLock [32]byte `json:"hashLock"`

	Status OrderStatus `json:"status"`

	SegmentLeafHashes [][32]byte `json:"segmentLeafHashes,omitempty"`

	// Auction fields populated for Kind == KindSingle; segmented orders
	// carry their price state on each child Segment instead.
	StartPrice    *big.Float    `json:"startPrice,omitempty"`
	EndPrice      *big.Float    `json:"endPrice,omitempty"`
	CurrentPrice  *big.Int      `json:"currentPrice,omitempty"`
	TickCount     int           `json:"tickCount,omitempty"`
	Winner        string        `json:"winner,omitempty"`
	AuctionStatus AuctionStatus `json:"auctionStatus,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsTerminal reports whether the order can no longer accept mutating
// operations.
func (o *Order) IsTerminal() bool {
	return TerminalStatuses[o.Status]
}

// AuctionStatus is the per-scope (single order or segment) auction
// status: `{active, price_floor_reached, completed,
// expired}`.
type AuctionStatus string

const (
	AuctionActive            AuctionStatus = "active"
	AuctionPriceFloorReached AuctionStatus = "price_floor_reached"
	AuctionCompleted         AuctionStatus = "completed"
	AuctionExpired           AuctionStatus = "expired"
)

// SegmentStatus is retained as an alias so older call sites and tests
// that speak in segment terms still read naturally; segments and a
// single order's own auction scope share one status vocabulary.
type SegmentStatus = AuctionStatus

const (
	SegmentActive            = AuctionActive
	SegmentPriceFloorReached = AuctionPriceFloorReached
	SegmentCompleted         = AuctionCompleted
	SegmentExpired           = AuctionExpired
)

// Segment is a child of a segmented order; N=4 in this system.
// StartPrice/EndPrice are kept at full precision; CurrentPrice is the
// integer fixed-point quantity a resolver actually claims at, computed
// tick-by-tick by pkg/swapmath.PriceAtTick. TickCount is persisted so a
// crashed tick task resumes from the order store instead of replaying
// history.
type Segment struct {
	OrderID string `json:"orderId"`
	ID      int    `json:"id"` // 1..N

	Amount *big.Int `json:"amount"`

	StartPrice   *big.Float `json:"startPrice"`
	EndPrice     *big.Float `json:"endPrice"`
	CurrentPrice *big.Int   `json:"currentPrice"`
	TickCount    int        `json:"tickCount"`

	Winner string        `json:"winner,omitempty"`
	Status AuctionStatus `json:"status"`

	LeafHash    [32]byte   `json:"leafHash"`
	MerkleProof [][32]byte `json:"merkleProof,omitempty"`

	UpdatedAt time.Time `json:"updatedAt"`
}

// DisplayEndPrice rounds the full-precision EndPrice to an integer for
// client display; internal comparisons always use the full-precision
// *big.Float, only the wire representation is integer-rounded.
func (s *Segment) DisplayEndPrice() *big.Int {
	half := big.NewFloat(0.5)
	shifted := new(big.Float).Add(s.EndPrice, half)
	i, _ := shifted.Int(nil)
	return i
}

// DisplayEndPrice is the Order-level counterpart for a single-auction
// order.
func (o *Order) DisplayEndPrice() *big.Int {
	half := big.NewFloat(0.5)
	shifted := new(big.Float).Add(o.EndPrice, half)
	i, _ := shifted.Int(nil)
	return i
}

// EscrowRecord is keyed by (order, segmentId?, side).
type EscrowRecord struct {
	OrderID   string     `json:"orderId"`
	SegmentID *int       `json:"segmentId,omitempty"`
	Side      EscrowSide `json:"side"`

	Address        string     `json:"address"`
	CreationTxHash string     `json:"creationTxHash"`
	CreatedAt      time.Time  `json:"createdAt"`
	ObservedFunded *time.Time `json:"observedFundedAt,omitempty"`
	WithdrawalTx   string     `json:"withdrawalTxHash,omitempty"`
}

// SecretReleaseLogEntry is an append-only durable record of a secret
// release, keyed by (orderId, segmentId?).
type SecretReleaseLogEntry struct {
	OrderID    string    `json:"orderId"`
	SegmentID  *int      `json:"segmentId,omitempty"`
	ReleasedTo string    `json:"releasedTo"`
	ReleasedAt time.Time `json:"releasedAt"`
}

// ProgressEvent is a resolver-emitted lifecycle breadcrumb, persisted
// into an order's progress log.
type ProgressEvent struct {
	OrderID   string    `json:"orderId"`
	SegmentID *int      `json:"segmentId,omitempty"`
	Step      string    `json:"step"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// ParseBigInt parses a base-10 string into a *big.Int, returning zero
// for an empty string.
func ParseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	result := new(big.Int)
	if _, ok := result.SetString(s, 10); !ok {
		return nil, ErrMalformedRequest
	}
	return result, nil
}
