// Package registry holds the immutable worker catalogue and the mutable
// runtime status map, and runs the periodic health probe loop. WorkerStatus
// is written only inside this package (the probe loop, ProbeOnce and
// Register); every other component only reads snapshots.
package registry

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/metrics"
)

// keywordWeights is the fixed per-domain keyword dictionary used by
// Recommend. It is frozen at package init and never mutated, per the
// "precompile and freeze" design note applied to dictionaries generally.
var keywordWeights = map[domain.Domain][]string{
	domain.DomainArchitecture:   {"design", "architecture", "structure", "scalable", "api", "system"},
	domain.DomainSecurity:       {"secure", "security", "vulnerability", "auth", "encrypt", "attack"},
	domain.DomainWisdom:         {"wisdom", "advice", "philosophy", "meaning", "guidance"},
	domain.DomainTransformation: {"adapt", "change", "transform", "migrate", "evolve"},
	domain.DomainTiming:         {"schedule", "timing", "deadline", "when", "sequence"},
	domain.DomainStrategy:       {"strategy", "plan", "roadmap", "priorit", "goal"},
	domain.DomainCommunication:  {"communicate", "message", "explain", "document", "write"},
	domain.DomainProtection:     {"protect", "defend", "backup", "resilien", "recover"},
	domain.DomainSynthesis:      {"integrate", "combine", "synthesize", "synthesise", "together"},
}

// Registry holds the worker catalogue and runtime status table.
type Registry struct {
	log           zerolog.Logger
	metrics       *metrics.Aggregator
	probeInterval time.Duration
	probeTimeout  time.Duration
	httpClient    *http.Client

	catalogue []domain.Worker // immutable after construction

	mu       sync.RWMutex
	statuses map[string]domain.WorkerStatus
}

// New constructs a Registry over an initial catalogue. The catalogue only
// grows, through Register, which appends under the write lock so
// newly-deployed workers (from the training supervisor) can join at
// runtime; readers take copies or fixed-length slices, so in-flight reads
// are unaffected.
func New(log zerolog.Logger, m *metrics.Aggregator, catalogue []domain.Worker, probeInterval, probeTimeout time.Duration) *Registry {
	statuses := make(map[string]domain.WorkerStatus, len(catalogue))
	for _, w := range catalogue {
		statuses[w.Name] = domain.WorkerStatus{Name: w.Name, State: domain.StateUnknown}
	}
	return &Registry{
		log:           log.With().Str("component", "registry").Logger(),
		metrics:       m,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		httpClient:    &http.Client{Timeout: probeTimeout},
		catalogue:     append([]domain.Worker(nil), catalogue...),
		statuses:      statuses,
	}
}

// List returns the immutable worker catalogue.
func (r *Registry) List() []domain.Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Worker, len(r.catalogue))
	copy(out, r.catalogue)
	return out
}

// Status returns a consistent, non-torn snapshot of one worker's runtime
// status.
func (r *Registry) Status(name string) (domain.WorkerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.statuses[name]
	return s, ok
}

// Available returns the names of workers currently Running within the
// freshness window (3x probe interval).
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := time.Now()
	var names []string
	for name, s := range r.statuses {
		if s.Live(r.probeInterval, now) {
			names = append(names, name)
		}
	}
	return names
}

// FindByDomain returns the worker bound to d, if any.
func (r *Registry) FindByDomain(d domain.Domain) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.catalogue {
		if w.Domain == d {
			return w.Name, true
		}
	}
	return "", false
}

// Recommend scores workers by keyword hits against the query and returns
// the highest-scoring currently-available worker. Ties are broken by
// catalogue (insertion) order. Returns false if no worker scores above
// zero among available workers.
func (r *Registry) Recommend(query string) (string, bool) {
	available := make(map[string]bool)
	for _, n := range r.Available() {
		available[n] = true
	}

	lower := toLower(query)

	type scored struct {
		name  string
		score int
	}
	var best scored

	r.mu.RLock()
	catalogue := r.catalogue
	r.mu.RUnlock()

	for _, w := range catalogue {
		if !available[w.Name] {
			continue
		}
		score := 0
		for _, kw := range keywordWeights[w.Domain] {
			if contains(lower, kw) {
				score++
			}
		}
		if score > best.score {
			best = scored{name: w.Name, score: score}
		}
	}
	if best.score == 0 {
		return "", false
	}
	return best.name, true
}

// Register adds a newly-deployed worker to the catalogue and marks it
// Starting. Called by the training supervisor on successful deployment.
func (r *Registry) Register(w domain.Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.catalogue {
		if existing.Name == w.Name {
			return fmt.Errorf("worker %s already registered", w.Name)
		}
	}
	r.catalogue = append(r.catalogue, w)
	r.statuses[w.Name] = domain.WorkerStatus{Name: w.Name, State: domain.StateStarting}
	return nil
}

// ProbeOnce synchronously probes w outside the periodic loop and stores the
// result, returning an error if the worker did not come back healthy. The
// training supervisor calls this once, right after deployment, so
// "deployed" means "passed its initial health probe" rather than leaving
// the worker in StateStarting until the next ticker fires.
func (r *Registry) ProbeOnce(ctx context.Context, w domain.Worker) (domain.WorkerStatus, error) {
	r.probeOne(ctx, w)
	status, _ := r.Status(w.Name)
	if status.State != domain.StateRunning {
		return status, fmt.Errorf("worker %s failed initial health probe", w.Name)
	}
	return status, nil
}

// Run starts the periodic probe loop. Call in a goroutine; cancel ctx to
// stop. Probes never block dispatch — each worker is probed independently
// and failures only update that worker's status.
func (r *Registry) Run(ctx context.Context) {
	r.probeAll(ctx)

	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeAll(ctx)
		}
	}
}

func (r *Registry) probeAll(ctx context.Context) {
	r.mu.RLock()
	catalogue := append([]domain.Worker(nil), r.catalogue...)
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, w := range catalogue {
		wg.Add(1)
		go func(w domain.Worker) {
			defer wg.Done()
			r.probeOne(ctx, w)
		}(w)
	}
	wg.Wait()
}

func (r *Registry) probeOne(ctx context.Context, w domain.Worker) {
	probeCtx, cancel := context.WithTimeout(ctx, r.probeTimeout)
	defer cancel()

	start := time.Now()
	status, err := fetchHealth(probeCtx, r.httpClient, w)
	elapsed := time.Since(start)

	if err != nil {
		r.log.Warn().Str("worker", w.Name).Err(err).Msg("probe failed")
		r.mu.Lock()
		prev := r.statuses[w.Name]
		prev.Name = w.Name
		prev.State = domain.StateError
		prev.LastProbeAt = start
		r.statuses[w.Name] = prev
		r.mu.Unlock()
		return
	}

	status.Name = w.Name
	status.State = domain.StateRunning
	status.LastProbeAt = start
	status.ResponseTimeMs = elapsed.Milliseconds()

	r.mu.Lock()
	r.statuses[w.Name] = status
	r.mu.Unlock()
}

func fetchHealth(ctx context.Context, client *http.Client, w domain.Worker) (domain.WorkerStatus, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/health", w.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.WorkerStatus{}, err
	}

	resp, err := client.Do(req)
	if err != nil {
		return domain.WorkerStatus{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.WorkerStatus{}, fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	var body domain.WorkerHealthResponse
	if err := decodeJSON(resp, &body); err != nil {
		return domain.WorkerStatus{}, err
	}

	return domain.WorkerStatus{
		RequestsServed: body.RequestsServed,
		ErrorCount:     body.ErrorCount,
		UptimeS:        body.UptimeSeconds,
		CPUPct:         body.CPUPercent,
		MemoryMB:       body.MemoryMB,
		GPUMemoryMB:    body.GPUMemoryMB,
	}, nil
}
