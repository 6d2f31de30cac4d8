package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/keyproof/keyproofd/pkg/chainsearch"
	"github.com/keyproof/keyproofd/pkg/log"
	"github.com/keyproof/keyproofd/pkg/proof"
	"github.com/keyproof/keyproofd/pkg/sign"
)

// RecoveryService is the service surface the API exposes.
type RecoveryService interface {
	RecoverPublicKey(ctx context.Context, addr sign.Address) (*proof.RecoveryResult, error)
	VerifySignedMessage(message []byte, signatureHex string, addr sign.Address) (bool, error)
	Cached(addr sign.Address) bool
}

// API serves the JSON endpoints and the live attempt stream.
type API struct {
	service RecoveryService
	hub     *AttemptHub
	metrics *Metrics
	logger  log.Logger

	// upgrader handles the HTTP to WebSocket protocol upgrade
	upgrader websocket.Upgrader
}

// NewAPI creates the HTTP API around the recovery service.
func NewAPI(service RecoveryService, hub *AttemptHub, metrics *Metrics, logger log.Logger) *API {
	return &API{
		service: service,
		hub:     hub,
		metrics: metrics,
		logger:  logger.WithName("api"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes attaches the API handlers to mux.
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /recover", a.handleRecover)
	mux.HandleFunc("POST /verify", a.handleVerify)
	mux.HandleFunc("GET /ws", a.handleAttemptStream)
}

type recoverRequest struct {
	Address string `json:"address"`
}

type verifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

func (a *API) handleRecover(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	logger := a.logger.WithKV("requestID", requestID)

	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	addr, err := sign.AddressFromHex(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, errorKind(err), err)
		return
	}

	a.metrics.RecoveryRequestsTotal.Inc()
	cached := a.service.Cached(addr)
	if !cached {
		a.metrics.SearchesInFlight.Inc()
		defer a.metrics.SearchesInFlight.Dec()
	}

	result, err := a.service.RecoverPublicKey(r.Context(), addr)
	if err != nil {
		kind := errorKind(err)
		a.metrics.RecoveryRequestsFail.WithLabelValues(kind).Inc()
		logger.Warn("recovery failed", "address", addr, "kind", kind, "error", err)
		writeError(w, errorStatus(err), kind, err)
		return
	}

	a.metrics.RecoveryRequestsSuccess.Inc()
	if cached {
		a.metrics.CacheHits.Inc()
	}
	logger.Info("recovery served", "address", addr, "cached", cached)
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	addr, err := sign.AddressFromHex(req.Address)
	if err != nil {
		a.metrics.VerifyRequests.WithLabelValues("error").Inc()
		writeError(w, http.StatusBadRequest, errorKind(err), err)
		return
	}

	valid, err := a.service.VerifySignedMessage([]byte(req.Message), req.Signature, addr)
	if err != nil {
		a.metrics.VerifyRequests.WithLabelValues("error").Inc()
		writeError(w, errorStatus(err), errorKind(err), err)
		return
	}

	if valid {
		a.metrics.VerifyRequests.WithLabelValues("valid").Inc()
	} else {
		a.metrics.VerifyRequests.WithLabelValues("invalid").Inc()
	}
	writeJSON(w, http.StatusOK, verifyResponse{Valid: valid})
}

// handleAttemptStream upgrades the connection and forwards every endpoint
// probe outcome until the client disconnects.
func (a *API) handleAttemptStream(w http.ResponseWriter, r *http.Request) {
	conn, err := a.upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	a.metrics.ConnectionsTotal.Inc()
	a.metrics.ConnectedClients.Inc()
	defer a.metrics.ConnectedClients.Dec()

	attempts := a.hub.Subscribe()
	defer a.hub.Unsubscribe(attempts)

	// Drain incoming frames so close frames are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case attempt := <-attempts:
			if err := conn.WriteJSON(attempt); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, kind string, err error) {
	writeJSON(w, status, errorResponse{Kind: kind, Error: err.Error()})
}

// errorKind maps the closed error set to stable response strings.
func errorKind(err error) string {
	switch {
	case errors.Is(err, sign.ErrMalformedSignature):
		return "malformed_signature"
	case errors.Is(err, sign.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, sign.ErrInvalidPublicKey):
		return "invalid_public_key"
	case errors.Is(err, sign.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, chainsearch.ErrNoSignedTransactionFound):
		return "no_signed_transaction_found"
	case errors.Is(err, chainsearch.ErrSearchTimedOut):
		return "search_timed_out"
	case errors.Is(err, proof.ErrVerificationMismatch):
		return "verification_mismatch"
	default:
		return "internal_error"
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, sign.ErrMalformedSignature),
		errors.Is(err, sign.ErrInvalidSignature),
		errors.Is(err, sign.ErrInvalidPublicKey),
		errors.Is(err, sign.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, chainsearch.ErrNoSignedTransactionFound),
		errors.Is(err, proof.ErrVerificationMismatch):
		return http.StatusNotFound
	case errors.Is(err, chainsearch.ErrSearchTimedOut):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// AttemptHub fans search attempts out to stream subscribers. Slow consumers
// drop attempts instead of blocking the search.
type AttemptHub struct {
	mu   sync.RWMutex
	subs map[chan chainsearch.SearchAttempt]struct{}
}

// NewAttemptHub creates an empty hub.
func NewAttemptHub() *AttemptHub {
	return &AttemptHub{subs: make(map[chan chainsearch.SearchAttempt]struct{})}
}

// Publish delivers an attempt to every subscriber; wired into the
// orchestrator's attempt observer.
func (h *AttemptHub) Publish(attempt chainsearch.SearchAttempt) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		select {
		case sub <- attempt:
		default:
		}
	}
}

// Subscribe registers a new consumer channel.
func (h *AttemptHub) Subscribe() chan chainsearch.SearchAttempt {
	sub := make(chan chainsearch.SearchAttempt, 64)
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

// Unsubscribe removes a consumer channel.
func (h *AttemptHub) Unsubscribe(sub chan chainsearch.SearchAttempt) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}
