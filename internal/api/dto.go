package api

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/relayforge/htlc-coordinator/internal/merkle"
	"github.com/relayforge/htlc-coordinator/internal/types"
)

func decodeHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, fmt.Errorf("%w: want 32-byte hex string", types.ErrMalformedRequest)
	}
	copy(out[:], raw)
	return out, nil
}

func encodeHash(h [32]byte) string { return hex.EncodeToString(h[:]) }

func decodeSecret(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return nil, fmt.Errorf("%w: secret must be hex-encoded", types.ErrMalformedRequest)
	}
	return raw, nil
}

func parseBigFloat(s string) (*big.Float, error) {
	f, ok := new(big.Float).SetString(s)
	if !ok {
		return nil, fmt.Errorf("%w: invalid decimal %q", types.ErrMalformedRequest, s)
	}
	return f, nil
}

// createOrderRequest is the wire shape for create_order.
type createOrderRequest struct {
	Kind              string   `json:"kind"`
	SrcChain          string   `json:"srcChain"`
	DstChain          string   `json:"dstChain"`
	SrcToken          string   `json:"srcToken"`
	DstToken          string   `json:"dstToken"`
	SrcAmount         string   `json:"srcAmount"`
	DstAmount         string   `json:"dstAmount"`
	MarketPrice       string   `json:"marketPrice"`
	Slippage          float64  `json:"slippage"`
	BuyerSrcAddress   string   `json:"buyerSrcAddress"`
	BuyerDstAddress   string   `json:"buyerDstAddress"`
	HashLock          string   `json:"hashLock"`
	SegmentLeafHashes []string `json:"segmentLeafHashes,omitempty"`
}

func (r *createOrderRequest) toOrder(orderID string, now time.Time) (*types.Order, error) {
	kind := types.OrderKind(r.Kind)
	if kind != types.KindSingle && kind != types.KindSegmented {
		return nil, fmt.Errorf("%w: kind must be \"single\" or \"segmented\"", types.ErrMalformedRequest)
	}

	srcAmount, err := types.ParseBigInt(r.SrcAmount)
	if err != nil {
		return nil, err
	}
	dstAmount, err := types.ParseBigInt(r.DstAmount)
	if err != nil {
		return nil, err
	}
	marketPrice, err := parseBigFloat(r.MarketPrice)
	if err != nil {
		return nil, err
	}
	hashLock, err := decodeHash(r.HashLock)
	if err != nil {
		return nil, err
	}

	var leaves [][32]byte
	if kind == types.KindSegmented {
		if len(r.SegmentLeafHashes) == 0 {
			return nil, fmt.Errorf("%w: segmented orders require segmentLeafHashes", types.ErrMalformedRequest)
		}
		leaves = make([][32]byte, len(r.SegmentLeafHashes))
		for i, s := range r.SegmentLeafHashes {
			h, err := decodeHash(s)
			if err != nil {
				return nil, err
			}
			leaves[i] = h
		}
		tree, err := merkle.BuildTree(leaves)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", types.ErrMalformedRequest, err)
		}
		if tree.Root != hashLock {
			return nil, fmt.Errorf("%w: hashLock does not match the Merkle root over segmentLeafHashes", types.ErrHashMismatch)
		}
	}

	return &types.Order{
		OrderID:           orderID,
		Kind:              kind,
		SrcChain:          r.SrcChain,
		DstChain:          r.DstChain,
		SrcToken:          r.SrcToken,
		DstToken:          r.DstToken,
		SrcAmount:         srcAmount,
		DstAmount:         dstAmount,
		MarketPrice:       marketPrice,
		Slippage:          r.Slippage,
		BuyerSrcAddress:   r.BuyerSrcAddress,
		BuyerDstAddress:   r.BuyerDstAddress,
		HashLock:          hashLock,
		SegmentLeafHashes: leaves,
		Status:            types.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// orderView is the wire shape an Order is rendered as: big.Int/big.Float
// fields become decimal strings and the hash fields become hex, since
// Go's default JSON encoding of [32]byte and *big.Int would otherwise
// leak internal representation (a byte array, a struct) onto the wire.
type orderView struct {
	OrderID           string   `json:"orderId"`
	Kind              string   `json:"kind"`
	SrcChain          string   `json:"srcChain"`
	DstChain          string   `json:"dstChain"`
	SrcToken          string   `json:"srcToken"`
	DstToken          string   `json:"dstToken"`
	SrcAmount         string   `json:"srcAmount"`
	DstAmount         string   `json:"dstAmount"`
	BuyerSrcAddress   string   `json:"buyerSrcAddress"`
	BuyerDstAddress   string   `json:"buyerDstAddress"`
	HashLock          string   `json:"hashLock"`
	SegmentLeafHashes []string `json:"segmentLeafHashes,omitempty"`
	Status            string   `json:"status"`
	CurrentPrice      string   `json:"currentPrice,omitempty"`
	TickCount         int      `json:"tickCount,omitempty"`
	Winner            string   `json:"winner,omitempty"`
	AuctionStatus     string   `json:"auctionStatus,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func newOrderView(o *types.Order) orderView {
	v := orderView{
		OrderID:         o.OrderID,
		Kind:            string(o.Kind),
		SrcChain:        o.SrcChain,
		DstChain:        o.DstChain,
		SrcToken:        o.SrcToken,
		DstToken:        o.DstToken,
		SrcAmount:       o.SrcAmount.String(),
		DstAmount:       o.DstAmount.String(),
		BuyerSrcAddress: o.BuyerSrcAddress,
		BuyerDstAddress: o.BuyerDstAddress,
		HashLock:        encodeHash(o.HashLock),
		Status:          string(o.Status),
		TickCount:       o.TickCount,
		Winner:          o.Winner,
		AuctionStatus:   string(o.AuctionStatus),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.CurrentPrice != nil {
		v.CurrentPrice = o.CurrentPrice.String()
	}
	if len(o.SegmentLeafHashes) > 0 {
		v.SegmentLeafHashes = make([]string, len(o.SegmentLeafHashes))
		for i, h := range o.SegmentLeafHashes {
			v.SegmentLeafHashes[i] = encodeHash(h)
		}
	}
	return v
}

type segmentView struct {
	ID           int    `json:"id"`
	Amount       string `json:"amount"`
	CurrentPrice string `json:"currentPrice"`
	TickCount    int    `json:"tickCount"`
	Winner       string `json:"winner,omitempty"`
	Status       string `json:"status"`
	LeafHash     string `json:"leafHash"`
}

func newSegmentView(s *types.Segment) segmentView {
	return segmentView{
		ID:           s.ID,
		Amount:       s.Amount.String(),
		CurrentPrice: s.CurrentPrice.String(),
		TickCount:    s.TickCount,
		Winner:       s.Winner,
		Status:       string(s.Status),
		LeafHash:     encodeHash(s.LeafHash),
	}
}

// registerSecretRequest is the wire shape for register_secret.
type registerSecretRequest struct {
	Secret string `json:"secret"`
}

// registerSegmentSecretRequest is the wire shape for
// register_segment_secret.
type registerSegmentSecretRequest struct {
	Secret   string `json:"secret"`
	LeafHash string `json:"leafHash"`
}

// requestSecretRequest is the wire shape for request_secret.
type requestSecretRequest struct {
	SegmentID         *int   `json:"segmentId,omitempty"`
	SrcEscrowAddress  string `json:"srcEscrowAddress"`
	DstEscrowAddress  string `json:"dstEscrowAddress"`
	SourceChain       string `json:"sourceChain"`
	DestinationChain  string `json:"destinationChain"`
}

type proofStepView struct {
	Sibling string `json:"sibling"`
}

type requestSecretResponse struct {
	Secret      string          `json:"secret"`
	MerkleProof []proofStepView `json:"merkleProof,omitempty"`
}

func newMerkleProofView(proof []merkle.ProofStep) []proofStepView {
	if len(proof) == 0 {
		return nil
	}
	out := make([]proofStepView, len(proof))
	for i, step := range proof {
		out[i] = proofStepView{Sibling: encodeHash(step.Sibling)}
	}
	return out
}

// notifyProgressRequest is the wire shape for notify_progress.
type notifyProgressRequest struct {
	Step      string `json:"step"`
	Details   string `json:"details"`
	SegmentID *int   `json:"segmentId,omitempty"`
}

type progressEventView struct {
	Step      string    `json:"step"`
	Details   string    `json:"details"`
	SegmentID *int      `json:"segmentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newProgressEventView(ev types.ProgressEvent) progressEventView {
	return progressEventView{Step: ev.Step, Details: ev.Details, SegmentID: ev.SegmentID, Timestamp: ev.Timestamp}
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}
