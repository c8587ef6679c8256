// Package metrics is the gateway's metrics sink (C10): counters, timing
// histograms, and per-user/per-endpoint/per-tier tallies, exported both as
// Prometheus series and as a JSON summary for the /v1/metrics endpoint.
//
// Unlike a module-level var block, every metric here is owned by an
// Aggregator value constructed at startup against an explicit
// prometheus.Registerer — there is no package-level registry singleton.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Aggregator is a sink with no back-edges: every other component may record
// into it, but it depends on nothing else in the gateway.
type Aggregator struct {
	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	cacheHits          atomic.Int64
	singleAgent        atomic.Int64
	multiAgent         atomic.Int64
	synthesisUsed      atomic.Int64

	mu         sync.Mutex
	byUser     map[string]int64
	byEndpoint map[string]int64
	byTier     map[string]int64

	responseTime *prometheus.HistogramVec
	requests     *prometheus.CounterVec
}

// New constructs an Aggregator and registers its Prometheus collectors
// against reg (typically prometheus.NewRegistry(), not the global default).
func New(reg prometheus.Registerer) *Aggregator {
	factory := promauto.With(reg)
	return &Aggregator{
		byUser:     make(map[string]int64),
		byEndpoint: make(map[string]int64),
		byTier:     make(map[string]int64),
		responseTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "response_time_ms",
			Help:      "Request response time in milliseconds, per endpoint.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
		}, []string{"endpoint"}),
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Name:      "requests_total",
			Help:      "Total requests by endpoint, tier, and status.",
		}, []string{"endpoint", "tier", "status"}),
	}
}

// RecordRequest records one completed HTTP request.
func (a *Aggregator) RecordRequest(endpoint, username, tier string, status int, duration time.Duration) {
	a.totalRequests.Add(1)
	if status >= 200 && status < 400 {
		a.successfulRequests.Add(1)
	} else {
		a.failedRequests.Add(1)
	}

	a.mu.Lock()
	a.byUser[username]++
	a.byEndpoint[endpoint]++
	a.byTier[tier]++
	a.mu.Unlock()

	a.responseTime.WithLabelValues(endpoint).Observe(float64(duration.Milliseconds()))
	a.requests.WithLabelValues(endpoint, tier, statusBucket(status)).Inc()
}

// RecordRouting records one router dispatch outcome.
func (a *Aggregator) RecordRouting(cached, synthesisUsed bool, workerCount int) {
	if cached {
		a.cacheHits.Add(1)
		return
	}
	if workerCount <= 1 {
		a.singleAgent.Add(1)
	} else {
		a.multiAgent.Add(1)
	}
	if synthesisUsed {
		a.synthesisUsed.Add(1)
	}
}

// Snapshot is the JSON-facing view of the aggregator's counters, exposed by
// GET /v1/metrics.
type Snapshot struct {
	TotalRequests      int64              `json:"total_requests"`
	SuccessfulRequests int64              `json:"successful_requests"`
	FailedRequests     int64              `json:"failed_requests"`
	CacheHits          int64              `json:"cache_hits"`
	SingleAgent        int64              `json:"single_agent"`
	MultiAgent         int64              `json:"multi_agent"`
	SynthesisUsed      int64              `json:"synthesis_used"`
	SuccessRate        float64            `json:"success_rate"`
	MultiAgentRate     float64            `json:"multi_agent_rate"`
	ByUser             map[string]int64   `json:"by_user"`
	ByEndpoint         map[string]int64   `json:"by_endpoint"`
	ByTier             map[string]int64   `json:"by_tier"`
}

// Snapshot returns a point-in-time, non-torn copy of the aggregator's state.
func (a *Aggregator) Snapshot() Snapshot {
	total := a.totalRequests.Load()
	successful := a.successfulRequests.Load()
	single := a.singleAgent.Load()
	multi := a.multiAgent.Load()

	a.mu.Lock()
	byUser := make(map[string]int64, len(a.byUser))
	for k, v := range a.byUser {
		byUser[k] = v
	}
	byEndpoint := make(map[string]int64, len(a.byEndpoint))
	for k, v := range a.byEndpoint {
		byEndpoint[k] = v
	}
	byTier := make(map[string]int64, len(a.byTier))
	for k, v := range a.byTier {
		byTier[k] = v
	}
	a.mu.Unlock()

	var successRate, multiAgentRate float64
	if total > 0 {
		successRate = float64(successful) / float64(total)
	}
	if dispatched := single + multi; dispatched > 0 {
		multiAgentRate = float64(multi) / float64(dispatched)
	}

	return Snapshot{
		TotalRequests:      total,
		SuccessfulRequests: successful,
		FailedRequests:     a.failedRequests.Load(),
		CacheHits:          a.cacheHits.Load(),
		SingleAgent:        single,
		MultiAgent:         multi,
		SynthesisUsed:      a.synthesisUsed.Load(),
		SuccessRate:        successRate,
		MultiAgentRate:     multiAgentRate,
		ByUser:             byUser,
		ByEndpoint:         byEndpoint,
		ByTier:             byTier,
	}
}

func statusBucket(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
