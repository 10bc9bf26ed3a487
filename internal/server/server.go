package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wardenhq/warden/internal/audit"
	"github.com/wardenhq/warden/internal/controller"
	"github.com/wardenhq/warden/internal/memory"
	wardenotel "github.com/wardenhq/warden/internal/otel"
	"github.com/wardenhq/warden/internal/retrieval"
	"github.com/wardenhq/warden/internal/tenant"
)

const defaultTimeout = 60 * time.Second

// QueryEngine runs one query through the decision pipeline.
type QueryEngine interface {
	Query(ctx context.Context, req controller.Request) (*controller.Decision, error)
}

// Server holds all dependencies for the HTTP API.
type Server struct {
	router    *chi.Mux
	engine    QueryEngine
	decisions *audit.Store
	mem       *memory.Manager
	registry  *tenant.Registry
	index     *retrieval.Store
	apiKeys   map[string]string
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRegistry sets the tenant registry for rate limiting.
func WithRegistry(r *tenant.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithIndex sets the retrieval store so /v1/status can report index stats.
func WithIndex(idx *retrieval.Store) Option {
	return func(s *Server) { s.index = idx }
}

// NewServer builds a Server with the required dependencies and optional
// Option(s). apiKeys maps API key -> tenant_id.
func NewServer(
	engine QueryEngine,
	decisions *audit.Store,
	mem *memory.Manager,
	apiKeys map[string]string,
	opts ...Option,
) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    engine,
		decisions: decisions,
		mem:       mem,
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
	r.Use(wardenotel.MiddlewareWithStatus())

	// Unauthenticated
	r.Get("/health", s.handleHealth)
	r.Get("/v1/health", s.handleHealth)

	// Authenticated API group
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.apiKeys))
		r.Use(RateLimitMiddleware(s.registry))
		r.Use(middleware.Timeout(defaultTimeout))

		r.Post("/v1/query", s.handleQuery)

		r.Get("/v1/decisions", s.handleDecisionsList)
		r.Get("/v1/decisions/verify", s.handleDecisionsVerify)
		r.Get("/v1/decisions/export", s.handleDecisionsExport)
		r.Get("/v1/decisions/{id}", s.handleDecisionGet)

		r.Get("/v1/memory/mode", s.handleMemoryModeGet)
		r.Post("/v1/memory/mode", s.handleMemoryModeSet)
		r.Post("/v1/memory/clear", s.handleMemoryClear)

		r.Get("/v1/status", s.handleStatus)
	})

	return r
}
