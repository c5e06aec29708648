// Package api implements the relayer's external HTTP/WebSocket
// surface: order creation, secret registration, the synchronous
// request_secret release path, progress notifications, and order
// queries, plus a streaming /ws route. Grounded on the gorilla/mux +
// rs/cors server shape in uhyunpark-hyperlicked/pkg/api/server.go,
// replacing the two pre-existing, overlapping hand-rolled ServeMux
// servers (internal/fusion/api.go's FusionAPIServer and the
// OrderService-based Server formerly in this file), both of which left
// several handlers as literal "not implemented" stubs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/relayforge/htlc-coordinator/internal/auction"
	"github.com/relayforge/htlc-coordinator/internal/eventbus"
	"github.com/relayforge/htlc-coordinator/internal/orderstore"
	"github.com/relayforge/htlc-coordinator/internal/types"
	"github.com/relayforge/htlc-coordinator/internal/vault"
	"github.com/relayforge/htlc-coordinator/internal/verifier"
)

// Config holds the server's own listen/timeout settings, split out of
// internal/config.Config so this package does not import the whole
// process configuration surface.
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// Server is the merged relayer API: one router, one CORS policy, one
// set of handlers over the coordinator's core components.
type Server struct {
	cfg      Config
	router   *mux.Router
	http     *http.Server
	store    orderstore.Store
	engine   *auction.Engine
	registry *auction.Registry
	vault    *vault.Vault
	verifier *verifier.Verifier
	bus      *eventbus.Hub
	log      *zap.Logger
}

// New constructs the router and registers every route; Start binds the
// listener.
func New(cfg Config, store orderstore.Store, engine *auction.Engine, registry *auction.Registry, vlt *vault.Vault, v *verifier.Verifier, bus *eventbus.Hub, log *zap.Logger) *Server {
	s := &Server{
		cfg:      cfg,
		router:   mux.NewRouter(),
		store:    store,
		engine:   engine,
		registry: registry,
		vault:    vlt,
		verifier: v,
		bus:      bus,
		log:      log.Named("api"),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{orderId}/secret", s.handleRegisterSecret).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}/segments/{segmentId}/secret", s.handleRegisterSegmentSecret).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}/request-secret", s.handleRequestSecret).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}/progress", s.handleNotifyProgress).Methods(http.MethodPost)
	api.HandleFunc("/orders/{orderId}/claim", s.handleClaim).Methods(http.MethodPost)

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Start binds the listener and serves until ctx is cancelled, then
// shuts down gracefully within the configured timeout.
func (s *Server) Start(ctx context.Context) error {
	handler := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(s.router)

	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:      handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.log.Info("api server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return s.cfg.AllowedOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "htlc-coordinator",
		"timestamp": time.Now().Unix(),
	})
}

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		// Response headers are already committed; nothing left to do but
		// surface it in logs via the caller, which respondJSON doesn't have
		// access to. Encoding a map/struct we built ourselves should never
		// actually fail.
		_ = err
	}
}

func respondError(w http.ResponseWriter, err error) {
	status, code := statusForError(err)
	orderStatus := ""
	var coordErr *types.CoordinatorError
	if errors.As(err, &coordErr) {
		orderStatus = string(coordErr.Status)
	}
	respondJSON(w, status, errorResponse{Code: code, Message: err.Error(), Status: orderStatus})
}
