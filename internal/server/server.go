package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	vanotel "github.com/vantage-io/vantage/internal/otel"
	"github.com/vantage-io/vantage/internal/pipeline"
	"github.com/vantage-io/vantage/internal/proposal"
	"github.com/vantage-io/vantage/internal/schedule"
	"github.com/vantage-io/vantage/internal/tenant"
)

const defaultTimeout = 60 * time.Second

// Server holds the dependencies for the HTTP API.
type Server struct {
	router        *chi.Mux
	pipeline      *pipeline.Pipeline
	proposals     *proposal.Store
	workflow      *proposal.Workflow
	scheduler     *schedule.Store
	tenantManager *tenant.Manager
	apiKeys       map[string]string
	startTime     time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithTenantManager sets the tenant manager for per-tenant rate limiting.
func WithTenantManager(tm *tenant.Manager) Option {
	return func(s *Server) { s.tenantManager = tm }
}

// WithScheduler exposes the deferred-retry backlog on the health endpoint.
func WithScheduler(sched *schedule.Store) Option {
	return func(s *Server) { s.scheduler = sched }
}

// NewServer builds a Server with the required dependencies and options.
func NewServer(
	pipe *pipeline.Pipeline,
	proposals *proposal.Store,
	workflow *proposal.Workflow,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		pipeline:  pipe,
		proposals: proposals,
		workflow:  workflow,
		apiKeys:   apiKeys,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.apiKeys == nil {
		s.apiKeys = make(map[string]string)
	}
	return s
}

// Routes returns the configured http.Handler.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(vanotel.Middleware())

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.tenantManager))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/decisions/evaluate", s.handleEvaluateDecision)
		r.Get("/v1/decisions/{id}", s.handleGetDecision)
		r.Get("/v1/accounts/{id}/decisions", s.handleAccountDecisions)

		r.Post("/v1/actions/{ref}/approve", s.handleApproveAction)
		r.Post("/v1/actions/{ref}/reject", s.handleRejectAction)
	})

	return r
}
