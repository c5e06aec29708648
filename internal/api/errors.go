package api

import (
	"errors"
	"net/http"

	"github.com/relayforge/htlc-coordinator/internal/types"
)

// statusForError maps the error taxonomy in internal/types/errors.go to
// HTTP status codes and machine-readable codes, per the propagation
// policy: validation failures are 400, concurrency conflicts are 409,
// a pending verification is 202, a failed one is 424, chain RPC errors
// are 502/504, and cryptographic mismatches are 422.
func statusForError(err error) (int, string) {
	var coordErr *types.CoordinatorError
	if errors.As(err, &coordErr) && coordErr.Code != "" {
		return statusForCode(coordErr.Code), coordErr.Code
	}

	switch {
	case errors.Is(err, types.ErrUnknownOrder):
		return http.StatusNotFound, "unknown_order"
	case errors.Is(err, types.ErrUnknownSegment):
		return http.StatusNotFound, "unknown_segment"
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusBadRequest, "invalid_transition"
	case errors.Is(err, types.ErrMalformedRequest):
		return http.StatusBadRequest, "malformed_request"
	case errors.Is(err, types.ErrAlreadyClaimed):
		return http.StatusConflict, "already_claimed"
	case errors.Is(err, types.ErrAlreadyReleased):
		return http.StatusConflict, "already_released"
	case errors.Is(err, types.ErrCASConflict):
		return http.StatusConflict, "cas_conflict"
	case errors.Is(err, types.ErrNotVerified):
		return http.StatusConflict, "not_verified"
	case errors.Is(err, types.ErrVerificationPending):
		return http.StatusAccepted, "verification_pending"
	case errors.Is(err, types.ErrVerificationFailed):
		return http.StatusFailedDependency, "verification_failed"
	case errors.Is(err, types.ErrChainRPCTransient):
		return http.StatusBadGateway, "chain_rpc_transient"
	case errors.Is(err, types.ErrChainRPCPermanent):
		return http.StatusGatewayTimeout, "chain_rpc_permanent"
	case errors.Is(err, types.ErrProofInvalid):
		return http.StatusUnprocessableEntity, "proof_invalid"
	case errors.Is(err, types.ErrHashMismatch):
		return http.StatusUnprocessableEntity, "hash_mismatch"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func statusForCode(code string) int {
	switch code {
	case "unknown_order", "unknown_segment":
		return http.StatusNotFound
	case "invalid_transition", "malformed_request":
		return http.StatusBadRequest
	case "already_claimed", "already_released", "cas_conflict", "not_verified":
		return http.StatusConflict
	case "verification_pending":
		return http.StatusAccepted
	case "verification_failed":
		return http.StatusFailedDependency
	case "chain_rpc_transient":
		return http.StatusBadGateway
	case "chain_rpc_permanent":
		return http.StatusGatewayTimeout
	case "proof_invalid", "hash_mismatch":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
