// Package dashboard serves the local JSON API and WebSocket stream used by
// dashboard tabs.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"perq/config"
	"perq/native/alerts"
	"perq/native/ledger"
	"perq/native/premium"
	"perq/native/simulator"
	"perq/observability"
	"perq/storage/journal"
)

const transactionsRoute = "transactions"

// Config holds the HTTP settings.
type Config struct {
	ListenAddress     string
	RequestsPerMinute int
	Burst             int
	AllowedOrigins    []string
}

// ConfigFrom maps the engine configuration onto the server settings.
func ConfigFrom(cfg config.HTTPConfig) Config {
	return Config{
		ListenAddress:     cfg.ListenAddress,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Burst:             cfg.Burst,
		AllowedOrigins:    cfg.AllowedOrigins,
	}
}

// Deps are the engine components the API exposes. Journal and Hub are
// optional.
type Deps struct {
	Ledger    *ledger.Ledger
	Simulator *simulator.Simulator
	Scanner   *alerts.Scanner
	Premium   *premium.Service
	Catalog   *config.Catalog
	Journal   *journal.Journal
	Hub       *Hub
}

// Server is the dashboard HTTP API.
type Server struct {
	cfg     Config
	deps    Deps
	limiter *RateLimiter
	logger  *slog.Logger
}

// New validates deps and builds a server.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if deps.Ledger == nil || deps.Simulator == nil || deps.Scanner == nil || deps.Premium == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("dashboard: ledger, simulator, scanner, premium and catalog are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	limits := map[string]RateLimit{}
	if cfg.RequestsPerMinute > 0 {
		limits[transactionsRoute] = RateLimit{RequestsPerMinute: float64(cfg.RequestsPerMinute), Burst: cfg.Burst}
	}
	return &Server{
		cfg:     cfg,
		deps:    deps,
		limiter: NewRateLimiter(limits, logger),
		logger:  logger,
	}, nil
}

// Handler returns the instrumented router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/snapshot", s.handleSnapshot)
		api.Get("/accounts", s.handleListAccounts)
		api.Patch("/accounts/{id}", s.handlePatchAccount)
		api.Delete("/accounts/{id}", s.handleDeleteAccount)
		api.Post("/cards", s.handleAddCard)
		api.Post("/listings", s.handleAddListing)

		api.Post("/pool", s.handleCreatePool)
		api.Delete("/pool", s.handleLeavePool)
		api.Post("/pool/invites", s.handleInvite)
		api.Delete("/pool/members/{id}", s.handleRemoveMember)

		api.Group(func(tx chi.Router) {
			tx.Use(s.limiter.Middleware(transactionsRoute))
			tx.Post("/transactions", s.handleExecute)
		})
		api.Get("/transactions", s.handleListTransactions)

		api.Get("/alerts", s.handleAlerts)
		api.Get("/premium", s.handlePremium)
		api.Post("/premium/insurance", s.handleSubscribe)
		api.Delete("/premium/insurance", s.handleCancelInsurance)
		api.Put("/premium/membership", s.handleMembership)
		api.Get("/premium/liquidity", s.handleLiquidity)
		api.Get("/catalog", s.handleCatalog)

		if s.deps.Hub != nil {
			api.Handle("/ws", s.deps.Hub)
		}
	})
	return otelhttp.NewHandler(r, "perq.dashboard")
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		observability.ModuleMetrics().Observe(route, r.Method, ww.Status(), time.Since(start))
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()))
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("dashboard: listen %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("dashboard listening", "address", ln.Addr().String())
	err := srv.Serve(ln)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("dashboard: serve: %w", err)
	}
	<-done
	return nil
}
