// Package server exposes the market over HTTP: read-only views, account
// operations, keeper liquidations, operator controls and an event stream.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"usvprotocol/native/cdp"
	nativecommon "usvprotocol/native/common"
	"usvprotocol/native/pricefeed"
	"usvprotocol/observability/metrics"
	"usvprotocol/services/usvd/journal"
)

const maxBodyBytes = 1 << 20

// FeedView exposes the price feed state.
type FeedView interface {
	State() pricefeed.State
}

// EventLog lists journaled events.
type EventLog interface {
	List(ctx context.Context, after uint64, limit int) ([]journal.Entry, error)
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Engine    *cdp.Engine
	Feed      FeedView
	Pauses    *nativecommon.Pauses
	Journal   EventLog
	Hub       *Hub
	Auth      AuthConfig
	RateLimit RateLimit
	Logger    *slog.Logger
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	engine  *cdp.Engine
	feed    FeedView
	pauses  *nativecommon.Pauses
	journal EventLog
	hub     *Hub
	auth    *Authenticator
	limiter *RateLimiter
	logger  *slog.Logger

	router http.Handler
}

// New constructs the HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("engine required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Pauses == nil {
		cfg.Pauses = nativecommon.NewPauses()
	}
	if cfg.Hub == nil {
		cfg.Hub = NewHub(0, cfg.Logger)
	}
	s := &Server{
		engine:  cfg.Engine,
		feed:    cfg.Feed,
		pauses:  cfg.Pauses,
		journal: cfg.Journal,
		hub:     cfg.Hub,
		auth:    NewAuthenticator(cfg.Auth, cfg.Logger),
		limiter: NewRateLimiter(cfg.RateLimit),
		logger:  cfg.Logger,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Handler exposes the configured HTTP router wrapped in tracing.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "usvd.http")
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.observe)
	r.Use(s.limiter.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v chi.Router) {
		v.Get("/system", s.handleSystem)
		v.Get("/troves", s.handleListTroves)
		v.Get("/troves/{owner}", s.handleGetTrove)
		v.Get("/troves/{owner}/pending", s.handlePendingRewards)
		v.Get("/hints/insert", s.handleInsertHint)
		v.Get("/stability-pool", s.handleStabilityPool)
		v.Get("/stability-pool/deposits/{depositor}", s.handleDeposit)
		v.Get("/balances/{account}", s.handleBalances)
		v.Get("/events", s.handleEvents)
		v.Get("/events/stream", s.hub.ServeWS)

		v.Group(func(acct chi.Router) {
			acct.Use(s.auth.Middleware(ScopeAccount))
			acct.Post("/troves", s.handleOpenTrove)
			acct.Post("/troves/adjust", s.handleAdjustTrove)
			acct.Post("/troves/close", s.handleCloseTrove)
			acct.Post("/troves/apply-rewards", s.handleApplyRewards)
			acct.Post("/troves/claim-surplus", s.handleClaimSurplus)
			acct.Post("/redemptions", s.handleRedeem)
			acct.Post("/stability-pool/deposits", s.handleProvide)
			acct.Post("/stability-pool/withdrawals", s.handleWithdraw)
			acct.Post("/stability-pool/claims", s.handleClaimGains)
		})
		v.With(s.auth.Middleware(ScopeKeeper)).Post("/liquidations", s.handleLiquidate)

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(s.auth.Middleware(ScopeOperator))
			admin.Post("/price", s.handleDevPrice)
			admin.Post("/timestamp", s.handleDevTimestamp)
			admin.Post("/pause", s.handlePause)
			admin.Post("/mint-collateral", s.handleMintCollateral)
			admin.Post("/fund-issuance", s.handleFundIssuance)
		})
	})
	return r
}

// requestID keeps a caller supplied X-Request-ID or assigns a UUID, and
// stores it where chimw.GetReqID finds it.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(chimw.RequestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		w.Header().Set(chimw.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), chimw.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.API().Observe(route, status, time.Since(start))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if _, err := s.engine.Pool(); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// statusFor maps engine errors onto HTTP status codes. Invariant violations
// are server faults; everything else is a rejected request.
func statusFor(err error) int {
	switch {
	case cdp.IsFatal(err):
		return http.StatusInternalServerError
	case errors.Is(err, nativecommon.ErrModulePaused),
		errors.Is(err, cdp.ErrNotInitialized),
		errors.Is(err, pricefeed.ErrNotInitialized),
		errors.Is(err, pricefeed.ErrPoolNotUpdated),
		errors.Is(err, pricefeed.ErrInvalidRate):
		return http.StatusServiceUnavailable
	case errors.Is(err, cdp.ErrOnlyDevMode), errors.Is(err, pricefeed.ErrOnlyDevMode):
		return http.StatusForbidden
	default:
		return http.StatusUnprocessableEntity
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "request_id", chimw.GetReqID(r.Context()), "error", err)
	}
	writeError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
