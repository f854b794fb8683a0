// Package api provides the HTTP chassis for the entitlement service. It
// creates a chi router, enforces cross-cutting concerns (panic recovery,
// request correlation, security headers, structured request logging) before
// requests reach the domain handlers, and keeps every handler thin: resolve
// identity, call into the domain packages, translate the outcome to JSON.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sowhat82/cravemap/internal/abuse"
	"github.com/sowhat82/cravemap/internal/admin"
	"github.com/sowhat82/cravemap/internal/backup"
	"github.com/sowhat82/cravemap/internal/billing"
	"github.com/sowhat82/cravemap/internal/config"
	"github.com/sowhat82/cravemap/internal/entitlement"
	"github.com/sowhat82/cravemap/internal/external"
	"github.com/sowhat82/cravemap/internal/identity"
	"github.com/sowhat82/cravemap/internal/metrics"
	"github.com/sowhat82/cravemap/internal/quota"
	"github.com/sowhat82/cravemap/internal/store"
	"github.com/sowhat82/cravemap/internal/types"
)

// defaultRequestTimeout is the soft deadline applied to every request
// context. Long slow-path work (the billing oracle, venue lookup, the
// completion client) carries its own tighter timeout beneath this.
const defaultRequestTimeout = 29 * time.Second

// SearchProvider returns venue results for a query. The search handler
// treats failures as a degraded response, not a request failure.
type SearchProvider interface {
	Search(ctx context.Context, query, location string) ([]types.VenueSummary, error)
}

// Summarizer produces a short text summary for a prompt. Implementations
// are expected to degrade to a canned message rather than fail.
type Summarizer interface {
	Complete(ctx context.Context, prompt string) (text string, model string, err error)
}

// Server encapsulates all dependencies for the entitlement API, allowing
// injection during testing and distinct wiring per environment.
type Server struct {
	Config     *config.Config
	Logger     *slog.Logger
	Records    store.RecordStore
	Resolver   *identity.Resolver
	Evaluator  *entitlement.Evaluator
	Tracker    *quota.Tracker
	Guard      *abuse.Guard
	Dispatcher *admin.Dispatcher
	Processor  *billing.Processor
	Verifier   external.WebhookVerifier
	Backups    *backup.Manager
	Places     SearchProvider
	Completion Summarizer
	Metrics    metrics.Collector

	router *chi.Mux
}

// NewServer validates the critical dependencies and prepares the router.
// The caller mounts routes via MountRoutes after construction; the
// separation lets tests customize registration.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	return &Server{
		Config: cfg,
		Logger: logger,
		router: chi.NewRouter(),
	}, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Router returns the underlying chi.Mux for route registration in tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// MountRoutes registers the global middleware chain and all endpoints.
//
// Middleware order matters: Recoverer is outermost so every panic is
// caught; the request ID must exist before the logger runs so log lines
// correlate; security headers go on before any handler can write.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(defaultRequestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(s.SecurityHeadersMiddleware)
	s.router.Use(RequestLogger(s.Logger))

	s.router.Route("/v1", func(r chi.Router) {
		r.Post("/searches", s.HandleSearch)
		r.Get("/entitlement", s.HandleEntitlement)
		r.Post("/promo", s.HandlePromo)
		r.Post("/webhooks/stripe", s.HandleStripeWebhook)
		r.Post("/admin/backup", s.HandleBackup)
	})

	s.router.Get("/health", s.HandleHealth)
}
