package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/nova-gateway/gateway/internal/domain"
)

type ctxKey int

const principalCtxKey ctxKey = iota

// authenticate resolves the caller's Principal from either an API key
// (X-API-Key header) or a bearer token (Authorization header), in that
// order, and rejects the request with 401 if neither resolves.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		bearer := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

		p, err := s.auth.Authenticate(apiKey, bearer)
		if err != nil {
			writeGatewayError(w, err)
			return
		}

		ctx := context.WithValue(r.Context(), principalCtxKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// rateLimit admits the request against the caller's bucket, per §4.6.
func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := principalFromContext(r.Context())
		ok, remaining, retryAfterS := s.ratelimit.Admit(p.Username, p.Tier)
		if !ok {
			writeGatewayError(w, domain.RateLimited(remaining, retryAfterS))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code a handler wrote, for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

// recordMetrics wraps the handler, timing it and recording the outcome to
// the metrics aggregator and the audit log.
func (s *Server) recordMetrics(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			p := principalFromContext(r.Context())
			s.metrics.RecordRequest(endpoint, p.Username, string(p.Tier), sr.status, duration)

			if s.audit != nil {
				_ = s.audit.RecordRequest(AuditEntry{
					RequestID:  requestIDFromContext(r),
					Principal:  p.Username,
					Endpoint:   endpoint,
					StatusCode: sr.status,
					LatencyMs:  duration.Milliseconds(),
					At:         time.Now(),
				})
			}
		})
	}
}

func principalFromContext(ctx context.Context) domain.Principal {
	p, _ := ctx.Value(principalCtxKey).(domain.Principal)
	return p
}

// requestIDFromContext returns chi's per-request ID (set by
// middleware.RequestID), falling back to a fresh uuid if it is somehow
// unset. The audit log keys on this value, so it must be unique per
// request rather than per path.
func requestIDFromContext(r *http.Request) string {
	if id := middleware.GetReqID(r.Context()); id != "" {
		return id
	}
	return uuid.NewString()
}
