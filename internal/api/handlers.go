package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/internal/verifier"
)

func newOrderID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("api: generate order id: %w", err)
	}
	return "order-" + hex.EncodeToString(b), nil
}

func decodeBody(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedRequest, err)
	}
	return nil
}

// handleCreateOrder implements create_order: admits the order and
// starts its auction.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	orderID, err := newOrderID()
	if err != nil {
		respondError(w, err)
		return
	}

	order, err := req.toOrder(orderID, time.Now())
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.store.Put(order); err != nil {
		respondError(w, err)
		return
	}
	if err := s.engine.StartAuction(order); err != nil {
		respondError(w, err)
		return
	}

	fresh, err := s.store.Get(orderID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newOrderView(fresh))
}

// handleRegisterSecret implements register_secret: a buyer uploads its
// secret for a single order, validated against the hashLock already
// committed at order creation.
func (s *Server) handleRegisterSecret(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	order, err := s.store.Get(orderID)
	if err != nil {
		respondError(w, err)
		return
	}

	var req registerSecretRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	secret, err := decodeSecret(req.Secret)
	if err != nil {
		respondError(w, err)
		return
	}

	if err := s.vault.RegisterSecret(orderID, secret, order.HashLock); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleRegisterSegmentSecret implements register_segment_secret.
func (s *Server) handleRegisterSegmentSecret(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	orderID := vars["orderId"]
	segmentID, err := strconv.Atoi(vars["segmentId"])
	if err != nil {
		respondError(w, fmt.Errorf("%w: segmentId must be an integer", types.ErrMalformedRequest))
		return
	}

	var req registerSegmentSecretRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	secret, err := decodeSecret(req.Secret)
	if err != nil {
		respondError(w, err)
		return
	}
	leafHash, err := decodeHash(req.LeafHash)
	if err != nil {
		respondError(w, err)
		return
	}

	seg, err := s.store.GetSegment(orderID, segmentID)
	if err != nil {
		respondError(w, err)
		return
	}
	if seg.LeafHash != leafHash {
		respondError(w, fmt.Errorf("%w: leafHash does not match the order's committed segment leaf", types.ErrHashMismatch))
		return
	}

	if err := s.vault.RegisterSegmentSecret(orderID, segmentID, secret, leafHash); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "registered"})
}

// handleRequestSecret implements request_secret: runs the escrow
// verifier synchronously and, on success, releases the secret exactly
// once.
func (s *Server) handleRequestSecret(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	order, err := s.store.Get(orderID)
	if err != nil {
		respondError(w, err)
		return
	}

	var req requestSecretRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	amount, err := s.scopedAmount(order, req.SegmentID)
	if err != nil {
		respondError(w, err)
		return
	}

	if order.Status == types.StatusDstEscrowCreated {
		if _, err := s.store.Patch(orderID, func(o *types.Order) error {
			o.Status = types.StatusSecretRequested
			return nil
		}); err != nil && err != types.ErrInvalidTransition {
			respondError(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 90*time.Second)
	defer cancel()

	result, err := s.verifier.Verify(ctx, verifier.Request{
		OrderID:          orderID,
		SegmentID:        req.SegmentID,
		SrcChain:         req.SourceChain,
		DstChain:         req.DestinationChain,
		SrcEscrowAddress: req.SrcEscrowAddress,
		DstEscrowAddress: req.DstEscrowAddress,
		SrcMinAmount:     amount,
		DstMinAmount:     amount,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	secret, err := s.vault.Release(orderID, req.SegmentID, order.Winner, func(string, *int) bool { return result.Verified })
	if err != nil {
		respondError(w, err)
		return
	}

	s.bus.Publish(secretReleasedMessage(orderID, req.SegmentID, secret))

	resp := requestSecretResponse{Secret: hexEncode(secret)}
	if req.SegmentID != nil {
		if proof, ok := s.vault.ProofFor(orderID, *req.SegmentID); ok {
			resp.MerkleProof = newMerkleProofView(proof)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) scopedAmount(order *types.Order, segmentID *int) (*big.Int, error) {
	if segmentID == nil {
		return order.SrcAmount, nil
	}
	seg, err := s.store.GetSegment(order.OrderID, *segmentID)
	if err != nil {
		return nil, err
	}
	return seg.Amount, nil
}

// handleNotifyProgress implements notify_progress: persists the
// breadcrumb and broadcasts it to the order's subscribers.
func (s *Server) handleNotifyProgress(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	if _, err := s.store.Get(orderID); err != nil {
		respondError(w, err)
		return
	}

	var req notifyProgressRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	ev := types.ProgressEvent{
		OrderID:   orderID,
		SegmentID: req.SegmentID,
		Step:      req.Step,
		Details:   req.Details,
		Timestamp: time.Now(),
	}
	if err := s.store.AppendProgress(ev); err != nil {
		respondError(w, err)
		return
	}

	s.bus.Publish(progressMessage(ev))
	respondJSON(w, http.StatusOK, newProgressEventView(ev))
}

// handleGetOrder implements get_order, including the per-segment
// breakdown for segmented orders.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]
	order, err := s.store.Get(orderID)
	if err != nil {
		respondError(w, err)
		return
	}

	resp := struct {
		orderView
		Segments []segmentView `json:"segments,omitempty"`
	}{orderView: newOrderView(order)}

	if order.Kind == types.KindSegmented {
		segs, err := s.store.ListSegments(orderID)
		if err != nil {
			respondError(w, err)
			return
		}
		resp.Segments = make([]segmentView, len(segs))
		for i, seg := range segs {
			resp.Segments[i] = newSegmentView(seg)
		}
	}
	respondJSON(w, http.StatusOK, resp)
}

// handleListOrders implements list_orders, filtering on the optional
// `status` and `maker` query parameters.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	var filter orderstore.Filter
	if status := r.URL.Query().Get("status"); status != "" {
		st := types.OrderStatus(status)
		filter.Status = &st
	}
	filter.Maker = r.URL.Query().Get("maker")

	orders, err := s.store.Scan(filter)
	if err != nil {
		respondError(w, err)
		return
	}

	views := make([]orderView, len(orders))
	for i, o := range orders {
		views[i] = newOrderView(o)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"orders": views, "count": len(views)})
}

// handleClaim submits a resolver's auction claim. The claim protocol
// otherwise has no external entry point for a resolver to actually
// reach auction.Engine.Claim.
func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	var req struct {
		SegmentID  *int   `json:"segmentId,omitempty"`
		ResolverID string `json:"resolverId"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ResolverID == "" {
		respondError(w, fmt.Errorf("%w: resolverId is required", types.ErrMalformedRequest))
		return
	}

	price, err := s.engine.Claim(r.Context(), orderID, req.SegmentID, req.ResolverID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"price": price.String()})
}

func hexEncode(b []byte) string { return hex.EncodeToString(b) }
