package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/analyzer"
	"github.com/nova-gateway/gateway/internal/infra/cache"
)

// ─── Fakes ───────────────────────────────────────────────────────────────

type fakeRegistry struct {
	workers map[string]domain.Worker
	status  map[string]domain.WorkerStatus
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{workers: map[string]domain.Worker{}, status: map[string]domain.WorkerStatus{}}
}

func (f *fakeRegistry) add(name string, d domain.Domain, live bool) {
	f.workers[name] = domain.Worker{Name: name, Domain: d}
	state := domain.StateRunning
	if !live {
		state = domain.StateStopped
	}
	f.status[name] = domain.WorkerStatus{Name: name, State: state}
}

func (f *fakeRegistry) List() []domain.Worker {
	out := make([]domain.Worker, 0, len(f.workers))
	for _, w := range f.workers {
		out = append(out, w)
	}
	return out
}
func (f *fakeRegistry) Status(name string) (domain.WorkerStatus, bool) {
	s, ok := f.status[name]
	return s, ok
}
func (f *fakeRegistry) Available() []string {
	var out []string
	for name, s := range f.status {
		if s.State == domain.StateRunning {
			out = append(out, name)
		}
	}
	return out
}
func (f *fakeRegistry) FindByDomain(d domain.Domain) (string, bool) {
	for _, w := range f.workers {
		if w.Domain == d {
			return w.Name, true
		}
	}
	return "", false
}
func (f *fakeRegistry) Recommend(string) (string, bool) { return "", false }
func (f *fakeRegistry) Register(domain.Worker) error    { return nil }
func (f *fakeRegistry) ProbeOnce(ctx context.Context, w domain.Worker) (domain.WorkerStatus, error) {
	return f.status[w.Name], nil
}

type fakeClient struct {
	responses map[string]string
	errs      map[string]error
}

func (f *fakeClient) Generate(ctx context.Context, w domain.Worker, prompt string, maxTokens int) (domain.WorkerGenerateResponse, int64, error) {
	if err, ok := f.errs[w.Name]; ok {
		return domain.WorkerGenerateResponse{}, 0, err
	}
	return domain.WorkerGenerateResponse{Text: f.responses[w.Name]}, 1, nil
}

type fakeMetrics struct {
	routingCalls int
}

func (f *fakeMetrics) RecordRequest(string, string, string, int, time.Duration) {}
func (f *fakeMetrics) RecordRouting(cached, synthesisUsed bool, workerCount int) {
	f.routingCalls++
}

func analyzerForTest() *analyzer.Analyzer {
	m := make(map[domain.Domain]string, len(domain.Domains))
	for _, d := range domain.Domains {
		m[d] = string(d)
	}
	return analyzer.New(m)
}

// ─── Scenario 1: single-agent cache hit ─────────────────────────────────────

func TestRoute_SingleAgentCacheHit(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, true)

	client := &fakeClient{responses: map[string]string{"architecture": "a scalable design"}}
	c := cache.New(true, time.Hour, 100)
	m := &fakeMetrics{}
	r := New(zerolog.Nop(), reg, client, analyzerForTest(), c, m)

	first, err := r.Route(context.Background(), "design a scalable API", 64)
	if err != nil {
		t.Fatalf("first Route() error: %v", err)
	}
	if first.Performance.Cached {
		t.Error("first call should not be cached")
	}
	if len(first.RoutingDecision.Selected) != 1 || first.RoutingDecision.Selected[0] != "architecture" {
		t.Errorf("Selected = %v, want [architecture]", first.RoutingDecision.Selected)
	}

	second, err := r.Route(context.Background(), "design a scalable API", 64)
	if err != nil {
		t.Fatalf("second Route() error: %v", err)
	}
	if !second.Performance.Cached {
		t.Error("second call should be cached")
	}
	if second.Text != first.Text {
		t.Errorf("cached text = %q, want %q", second.Text, first.Text)
	}
}

// ─── Scenario 2: multi-agent with synthesis ────────────────────────────────

func TestRoute_MultiAgentWithSynthesis(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, true)
	reg.add("security", domain.DomainSecurity, true)
	reg.add("transformation", domain.DomainTransformation, true)
	reg.add("synthesis", domain.DomainSynthesis, true)

	client := &fakeClient{responses: map[string]string{
		"architecture":   "design response",
		"security":       "security response",
		"transformation": "adapt response",
		"synthesis":      "synthesised answer",
	}}
	c := cache.New(true, time.Hour, 100)
	r := New(zerolog.Nop(), reg, client, analyzerForTest(), c, &fakeMetrics{})

	result, err := r.Route(context.Background(), "design a secure api that we can adapt later", 128)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if result.Tag != domain.ResultMultiAgent {
		t.Fatalf("Tag = %v, want MultiAgent", result.Tag)
	}
	if len(result.Responses) != 3 {
		t.Fatalf("Responses = %v, want 3 entries", result.Responses)
	}
	if result.Text != "synthesised answer" {
		t.Errorf("Text = %q, want synthesised answer", result.Text)
	}
}

// ─── Scenario 4: degraded synthesis ─────────────────────────────────────────

func TestRoute_DegradedSynthesis(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, true)
	reg.add("security", domain.DomainSecurity, true)
	reg.add("transformation", domain.DomainTransformation, true)
	reg.add("synthesis", domain.DomainSynthesis, false) // killed

	client := &fakeClient{responses: map[string]string{
		"architecture":   "design response",
		"security":       "security response",
		"transformation": "adapt response",
	}}
	c := cache.New(true, time.Hour, 100)
	r := New(zerolog.Nop(), reg, client, analyzerForTest(), c, &fakeMetrics{})

	result, err := r.Route(context.Background(), "design a secure api that we can adapt later", 128)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if result.Tag != domain.ResultDegraded {
		t.Fatalf("Tag = %v, want Degraded", result.Tag)
	}
	if !result.SynthesisDegraded {
		t.Error("SynthesisDegraded should be true")
	}
	want := "design response\n\nsecurity response\n\nadapt response"
	if result.Text != want {
		t.Errorf("Text = %q, want %q", result.Text, want)
	}

	foundSynthesisErr := false
	for _, e := range result.Errors {
		if e.Worker == "synthesis" {
			foundSynthesisErr = true
		}
	}
	if !foundSynthesisErr {
		t.Error("Errors should include the unreachable synthesis worker")
	}
}

// ─── Scenario 6: partial fan-out failure ────────────────────────────────────

func TestRoute_PartialFailure(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, true)
	reg.add("security", domain.DomainSecurity, true)

	client := &fakeClient{
		responses: map[string]string{"architecture": "design response"},
		errs:      map[string]error{"security": domain.WorkerFailure("security", domain.WorkerHTTP, 500, nil)},
	}
	c := cache.New(true, time.Hour, 100)
	r := New(zerolog.Nop(), reg, client, analyzerForTest(), c, &fakeMetrics{})

	result, err := r.Route(context.Background(), "design a secure api", 64)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if len(result.Errors) != 1 || result.Errors[0].Worker != "security" {
		t.Errorf("Errors = %v, want one entry for security", result.Errors)
	}
}

// ─── Boundary: all workers offline ──────────────────────────────────────────

func TestRoute_NoBackends(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, false)

	c := cache.New(true, time.Hour, 100)
	r := New(zerolog.Nop(), reg, &fakeClient{}, analyzerForTest(), c, &fakeMetrics{})

	_, err := r.Route(context.Background(), "design something", 64)
	if !errors.Is(err, domain.ErrNoBackends) {
		t.Errorf("Route() error = %v, want ErrNoBackends", err)
	}

	if _, ok := c.Get(cache.Fingerprint(analyzer.Normalise("design something"))); ok {
		t.Error("a NoBackends failure must not write to the cache")
	}
}

// ─── Boundary: zero domains matched ─────────────────────────────────────────

func TestRoute_ZeroDomains_DispatchesArchitectureOnly(t *testing.T) {
	reg := newFakeRegistry()
	reg.add("architecture", domain.DomainArchitecture, true)

	client := &fakeClient{responses: map[string]string{"architecture": "default response"}}
	c := cache.New(true, time.Hour, 100)
	r := New(zerolog.Nop(), reg, client, analyzerForTest(), c, &fakeMetrics{})

	result, err := r.Route(context.Background(), "what flavour of ice cream is best", 64)
	if err != nil {
		t.Fatalf("Route() error: %v", err)
	}
	if len(result.RoutingDecision.Selected) != 1 || result.RoutingDecision.Selected[0] != "architecture" {
		t.Errorf("Selected = %v, want [architecture]", result.RoutingDecision.Selected)
	}
}
