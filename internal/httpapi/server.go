// Package httpapi exposes the fee ledger over HTTP: public reads, caller
// authenticated mutations, owner administration and a websocket stream of
// committed events.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/token_ledger/internal/errors"
	"github.com/R3E-Network/token_ledger/internal/feeledger"
	"github.com/R3E-Network/token_ledger/internal/httputil"
	"github.com/R3E-Network/token_ledger/internal/logging"
	"github.com/R3E-Network/token_ledger/internal/metrics"
	"github.com/R3E-Network/token_ledger/internal/middleware"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000

	streamBuffer     = 256
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
	streamPongWait   = 2 * streamPingPeriod
)

// Options configures the HTTP surface.
type Options struct {
	Logger *logging.Logger

	// Auth validates bearer tokens on mutating routes. Required.
	Auth *middleware.AuthMiddleware

	// RateLimiter is applied to every route when set.
	RateLimiter *middleware.RateLimiter

	// AllowedOrigins enables CORS for the listed origins.
	AllowedOrigins []string
}

// Server serves the ledger API.
type Server struct {
	ledger   *feeledger.Ledger
	log      *logging.Logger
	auth     *middleware.AuthMiddleware
	limiter  *middleware.RateLimiter
	origins  []string
	upgrader websocket.Upgrader
}

// New creates a Server for ledger.
func New(ledger *feeledger.Ledger, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logging.Default("httpapi")
	}
	s := &Server{
		ledger:  ledger,
		log:     log,
		auth:    opts.Auth,
		limiter: opts.RateLimiter,
		origins: opts.AllowedOrigins,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler returns the complete middleware chain and router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.NewTracingMiddleware(s.log).Handler)
	router.Use(middleware.MetricsMiddleware)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteServiceError(w, r, errors.NotFound("route"))
	})

	router.Handle("/healthz", s.public(s.handleHealth)).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()

	// reads
	v1.Handle("/token", s.public(s.handleToken)).Methods(http.MethodGet)
	v1.Handle("/balances/{address}", s.public(s.handleBalance)).Methods(http.MethodGet)
	v1.Handle("/allowances/{owner}/{spender}", s.public(s.handleAllowance)).Methods(http.MethodGet)
	v1.Handle("/pairs", s.public(s.handleListPairs)).Methods(http.MethodGet)
	v1.Handle("/pairs/{address}", s.public(s.handleIsPair)).Methods(http.MethodGet)
	v1.Handle("/fees/quote", s.public(s.handleQuote)).Methods(http.MethodGet)
	v1.Handle("/events", s.public(s.handleEvents)).Methods(http.MethodGet)
	v1.Handle("/events/stream", s.public(s.handleStream)).Methods(http.MethodGet)

	// caller operations
	v1.Handle("/transfer", s.authed(s.handleTransfer)).Methods(http.MethodPost)
	v1.Handle("/transfer-from", s.authed(s.handleTransferFrom)).Methods(http.MethodPost)
	v1.Handle("/approve", s.authed(s.handleApprove)).Methods(http.MethodPost)
	v1.Handle("/allowances/increase", s.authed(s.handleIncreaseAllowance)).Methods(http.MethodPost)
	v1.Handle("/allowances/decrease", s.authed(s.handleDecreaseAllowance)).Methods(http.MethodPost)
	v1.Handle("/burn", s.authed(s.handleBurn)).Methods(http.MethodPost)

	// owner administration
	admin := v1.PathPrefix("/admin").Subrouter()
	admin.Handle("/fee-address", s.authed(s.handleSetFeeAddress)).Methods(http.MethodPost)
	admin.Handle("/fee-rate", s.authed(s.handleSetFeeRate)).Methods(http.MethodPost)
	admin.Handle("/pairs", s.authed(s.handleAddPair)).Methods(http.MethodPost)
	admin.Handle("/pairs/{address}", s.authed(s.handleRemovePair)).Methods(http.MethodDelete)
	admin.Handle("/ownership/transfer", s.authed(s.handleTransferOwnership)).Methods(http.MethodPost)
	admin.Handle("/ownership/confirm", s.authed(s.handleConfirmOwnership)).Methods(http.MethodPost)
	admin.Handle("/ownership/cancel", s.authed(s.handleCancelOwnership)).Methods(http.MethodPost)
	admin.Handle("/pause", s.authed(s.handlePause)).Methods(http.MethodPost)
	admin.Handle("/unpause", s.authed(s.handleUnpause)).Methods(http.MethodPost)

	// CORS sits outside the router so preflight requests reach it.
	return middleware.NewCORSMiddleware(s.origins).Handler(router)
}

func (s *Server) public(fn http.HandlerFunc) http.Handler {
	var h http.Handler = fn
	if s.limiter != nil {
		h = s.limiter.Handler(h)
	}
	return h
}

// authed rate limits after authentication so the limiter keys on the caller.
func (s *Server) authed(fn http.HandlerFunc) http.Handler {
	h := middleware.RequireCaller(fn)
	if s.limiter != nil {
		h = s.limiter.Handler(h)
	}
	return s.auth.Handler(h)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.origins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.CheckInvariants(); err != nil {
		s.log.WithContext(r.Context()).WithError(err).Error("Ledger invariant violated")
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
