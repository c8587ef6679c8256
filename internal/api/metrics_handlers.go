package api

import (
	"net/http"
	"time"

	"github.com/nova-gateway/gateway/internal/domain"
)

// handleTierMetrics backs GET /v1/metrics, gated to principals whose tier
// may see aggregated counters (beta/premium).
func (s *Server) handleTierMetrics(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())
	if !p.Tier.CanSeeMetrics() {
		writeGatewayError(w, domain.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// handleStats backs GET /v1/stats: request statistics drawn from the audit
// log, over the last 24 hours. No router counters are included.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, AuditStats{RequestsByUser: map[string]int64{}})
		return
	}
	stats, err := s.audit.Stats(time.Now().Add(-24 * time.Hour))
	if err != nil {
		writeGatewayError(w, domain.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
