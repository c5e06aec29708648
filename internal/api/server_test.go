package api

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/auction"
	"github.com/relayforge/htlc-coordinator/internal/chain"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/merkle"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"
)

// fakeEvidenceAdapter implements both observer interfaces; funded
// flips to true once a test wants the verifier to see evidence, mirroring
// internal/orchestrator's fakeAdapter but without needing the full
// chain.Adapter surface the API package never calls.
type fakeEvidenceAdapter struct {
	funded bool
}

func (f *fakeEvidenceAdapter) ObserveTransferTo(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.TransferEvidence, error) {
	if !f.funded {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return &chain.TransferEvidence{TxHash: "0xevidence", Amount: minAmount, ObservedAt: time.Now()}, nil
}

func (f *fakeEvidenceAdapter) ObserveAccountEffects(ctx context.Context, address string, minAmount *big.Int, since time.Time) (*chain.EffectEvidence, error) {
	if !f.funded {
		return nil, &chain.ErrEvidenceNotFound{Address: address}
	}
	return &chain.EffectEvidence{TxHash: "stellarevidence", Amount: minAmount, ObservedAt: time.Now()}, nil
}

type memoryReleaseLog struct {
	released map[string]bool
}

func (m *memoryReleaseLog) Append(entry types.SecretReleaseLogEntry) error {
	m.released[entry.OrderID] = true
	return nil
}
func (m *memoryReleaseLog) Has(orderID string, segmentID *int) (bool, error) {
	return m.released[orderID], nil
}

func newTestServer(t *testing.T) (*Server, *fakeEvidenceAdapter) {
	t.Helper()
	store := orderstore.NewMemoryStore()
	registry := auction.NewRegistry()
	engine := auction.New(store, eventbus.NewHub(zap.NewNop()), registry, zap.NewNop())
	t.Cleanup(engine.Close)

	registry.Register("resolver-a")
	registry.ApproveKYC("resolver-a")
	registry.PostSafetyDeposit("resolver-a", big.NewInt(10))

	v := verifier.New(zap.NewNop())
	v.SetBackoff(time.Millisecond, 5*time.Millisecond, 2, 50*time.Millisecond)
	adapter := &fakeEvidenceAdapter{}
	v.RegisterEVM("evm-sepolia", adapter, time.Hour)
	v.RegisterStellar("stellar-testnet", adapter, time.Hour)

	vlt := vault.New(zap.NewNop(), &memoryReleaseLog{released: make(map[string]bool)})
	bus := eventbus.NewHub(zap.NewNop())

	s := New(Config{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, store, engine, registry, vlt, v, bus, zap.NewNop())
	return s, adapter
}

func doRequest(s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func createTestOrder(t *testing.T, s *Server, secret []byte) string {
	t.Helper()
	hash := merkle.HashLeaf(secret)
	req := createOrderRequest{
		Kind:            "single",
		SrcChain:        "evm-sepolia",
		DstChain:        "stellar-testnet",
		SrcToken:        "0xTOKEN",
		DstToken:        "STOKEN",
		SrcAmount:       "1000",
		DstAmount:       "1000",
		MarketPrice:     "1.0",
		Slippage:        0.01,
		BuyerSrcAddress: "0xbuyer",
		BuyerDstAddress: "GBUYER",
		HashLock:        hex.EncodeToString(hash[:]),
	}
	rec := doRequest(s, http.MethodPost, "/api/v1/orders", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var view orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	return view.OrderID
}

func TestCreateOrderAdmitsAuction(t *testing.T) {
	s, _ := newTestServer(t)
	secret := []byte("buyer-secret-bytes-0001")
	orderID := createTestOrder(t, s, secret)
	require.NotEmpty(t, orderID)

	rec := doRequest(s, http.MethodGet, "/api/v1/orders/"+orderID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view orderView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, string(types.StatusAuctionActive), view.Status)
}

func TestCreateOrderRejectsMalformedAmount(t *testing.T) {
	s, _ := newTestServer(t)
	secret := []byte("buyer-secret-bytes-0002")
	hash := merkle.HashLeaf(secret)
	req := createOrderRequest{
		Kind:        "single",
		SrcChain:    "evm-sepolia",
		DstChain:    "stellar-testnet",
		SrcAmount:   "not-a-number",
		DstAmount:   "1000",
		MarketPrice: "1.0",
		HashLock:    hex.EncodeToString(hash[:]),
	}
	rec := doRequest(s, http.MethodPost, "/api/v1/orders", req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "malformed_request", errResp.Code)
}

// TestClaimThenRequestSecretReleasesOnce walks create -> claim ->
// register_secret -> request_secret (pending, then funded) -> request_secret
// again, asserting the second call observes ErrAlreadyReleased rather than
// minting a fresh secret.
func TestClaimThenRequestSecretReleasesOnce(t *testing.T) {
	s, adapter := newTestServer(t)
	secret := []byte("buyer-secret-bytes-0003")
	orderID := createTestOrder(t, s, secret)

	claimRec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/claim", map[string]string{"resolverId": "resolver-a"})
	require.Equal(t, http.StatusOK, claimRec.Code, claimRec.Body.String())

	secretRec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/secret", registerSecretRequest{Secret: hex.EncodeToString(secret)})
	require.Equal(t, http.StatusOK, secretRec.Code, secretRec.Body.String())

	reqBody := requestSecretRequest{
		SrcEscrowAddress: "0xescrow",
		DstEscrowAddress: "GESCROW",
		SourceChain:      "evm-sepolia",
		DestinationChain: "stellar-testnet",
	}

	pendingRec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/request-secret", reqBody)
	require.Equal(t, http.StatusAccepted, pendingRec.Code, pendingRec.Body.String())

	adapter.funded = true

	okRec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/request-secret", reqBody)
	require.Equal(t, http.StatusOK, okRec.Code, okRec.Body.String())

	var resp requestSecretResponse
	require.NoError(t, json.Unmarshal(okRec.Body.Bytes(), &resp))
	decoded, err := hex.DecodeString(resp.Secret)
	require.NoError(t, err)
	require.Equal(t, secret, decoded)

	replayRec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/request-secret", reqBody)
	require.Equal(t, http.StatusConflict, replayRec.Code, replayRec.Body.String())

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(replayRec.Body.Bytes(), &errResp))
	require.Equal(t, "already_released", errResp.Code)
}

func TestRegisterSecretRejectsHashMismatch(t *testing.T) {
	s, _ := newTestServer(t)
	secret := []byte("buyer-secret-bytes-0004")
	orderID := createTestOrder(t, s, secret)

	wrong := []byte("a-completely-different-secret-x")
	rec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/secret", registerSecretRequest{Secret: hex.EncodeToString(wrong)})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var errResp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
	require.Equal(t, "hash_mismatch", errResp.Code)
}

func TestNotifyProgressPublishesToSubscribers(t *testing.T) {
	s, _ := newTestServer(t)
	secret := []byte("buyer-secret-bytes-0005")
	orderID := createTestOrder(t, s, secret)

	sub := s.bus.Subscribe(orderID)
	defer s.bus.Unsubscribe(sub)

	rec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/progress", notifyProgressRequest{
		Step:    "src_escrow_submitted",
		Details: "tx 0xdeadbeef",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	select {
	case msg := <-sub.Ch:
		require.Equal(t, eventbus.MessageResolverProgress, msg.Type)
		require.Equal(t, orderID, msg.OrderID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for progress message")
	}
}

func TestListOrdersFiltersByStatus(t *testing.T) {
	s, _ := newTestServer(t)
	createTestOrder(t, s, []byte("buyer-secret-bytes-0006"))
	createTestOrder(t, s, []byte("buyer-secret-bytes-0007"))

	status := string(types.StatusAuctionActive)
	rec := doRequest(s, http.MethodGet, fmt.Sprintf("/api/v1/orders?status=%s", status), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Orders []orderView `json:"orders"`
		Count  int         `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	for _, o := range body.Orders {
		require.Equal(t, status, o.Status)
	}
}

func TestGetOrderUnknownReturnsNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/v1/orders/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestClaimRejectsIneligibleResolver(t *testing.T) {
	s, _ := newTestServer(t)
	orderID := createTestOrder(t, s, []byte("buyer-secret-bytes-0008"))

	rec := doRequest(s, http.MethodPost, "/api/v1/orders/"+orderID+"/claim", map[string]string{"resolverId": "unregistered-resolver"})
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}
