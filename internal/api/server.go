// Package api implements C8: the gateway's HTTP and WebSocket front-end. It
// composes the rate limiter (C6) and auth store (C7) around the router
// (C4), exposing the fixed surface described by the specification.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/metrics"
	"github.com/nova-gateway/gateway/internal/infra/router"
	"github.com/nova-gateway/gateway/internal/infra/training"
)

const version = "0.1.0"

// AuditLog is the subset of the sqlite store the API depends on. Kept
// narrow, and defined here rather than imported from infra/sqlite, so the
// gateway -> storage edge stays one-way: daemon wiring supplies an adapter,
// the api package never imports infra/sqlite directly.
type AuditLog interface {
	RecordRequest(e AuditEntry) error
	Stats(since time.Time) (AuditStats, error)
}

// AuditEntry mirrors sqlite.AuditEntry without importing the sqlite package
// from the api package's public surface.
type AuditEntry struct {
	RequestID  string
	Principal  string
	Endpoint   string
	StatusCode int
	LatencyMs  int64
	At         time.Time
}

// AuditStats mirrors sqlite.Stats.
type AuditStats struct {
	TotalRequests  int64
	ErrorCount     int64
	AvgLatencyMs   float64
	RequestsByUser map[string]int64
}

// Server is the gateway's HTTP API server.
type Server struct {
	log        zerolog.Logger
	router     *router.Router
	auth       domain.PrincipalStore
	ratelimit  domain.RateLimiter
	metrics    *metrics.Aggregator
	gatherer   prometheus.Gatherer
	supervisor *training.Supervisor
	registry   domain.WorkerRegistry
	audit      AuditLog
	validate   *validator.Validate
	tokenTTL   time.Duration
	corsOrigins []string
	startedAt  time.Time
}

// Dependencies bundles everything Server needs; passed as a single value so
// New's signature doesn't grow with every new component.
type Dependencies struct {
	Log         zerolog.Logger
	Router      *router.Router
	Auth        domain.PrincipalStore
	RateLimiter domain.RateLimiter
	Metrics     *metrics.Aggregator
	Gatherer    prometheus.Gatherer
	Supervisor  *training.Supervisor
	Registry    domain.WorkerRegistry
	Audit       AuditLog
	TokenTTL    time.Duration
	CORSOrigins []string
}

// NewServer constructs a Server from its dependencies.
func NewServer(deps Dependencies) *Server {
	return &Server{
		log:         deps.Log.With().Str("component", "api").Logger(),
		router:      deps.Router,
		auth:        deps.Auth,
		ratelimit:   deps.RateLimiter,
		metrics:     deps.Metrics,
		gatherer:    deps.Gatherer,
		supervisor:  deps.Supervisor,
		registry:    deps.Registry,
		audit:       deps.Audit,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		tokenTTL:    deps.TokenTTL,
		corsOrigins: deps.CORSOrigins,
		startedAt:   time.Now(),
	}
}

// Handler returns the chi router with every route mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		// Mutating/compute endpoints: authenticate -> rate_limit -> handle -> record_metrics.
		r.With(s.authenticate, s.rateLimit, s.recordMetrics("/v1/query")).Post("/query", s.handleQuery)
		r.With(s.authenticate, s.rateLimit, s.recordMetrics("/v1/analyze")).Post("/analyze", s.handleAnalyze)
		// Read endpoints: authenticate -> handle -> record_metrics, no bucket charge.
		r.With(s.authenticate, s.recordMetrics("/v1/workers")).Get("/workers", s.handleListWorkers)
		r.With(s.authenticate, s.recordMetrics("/v1/workers")).Get("/workers/{name}", s.handleGetWorker)
		r.With(s.authenticate, s.recordMetrics("/v1/metrics")).Get("/metrics", s.handleTierMetrics)
		r.With(s.authenticate, s.recordMetrics("/v1/stats")).Get("/stats", s.handleStats)
	})

	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "nova-gateway",
		"version": version,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"version":   version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeGatewayError translates a *domain.Error (or any error) to the HTTP
// shape the specification assigns its Kind.
func writeGatewayError(w http.ResponseWriter, err error) {
	ge := domain.AsGatewayError(err)
	body := map[string]any{"error": ge.Error(), "kind": string(ge.Kind)}
	switch ge.Kind {
	case domain.KindRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(ge.RetryAfterS))
		body["remaining"] = ge.Remaining
		body["retry_after_s"] = ge.RetryAfterS
	}
	writeJSON(w, ge.Kind.HTTPStatus(), body)
}

// principalFromContext and requestIDFromContext are defined in middleware.go.
