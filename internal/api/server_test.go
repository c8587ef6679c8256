package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/analyzer"
	"github.com/nova-gateway/gateway/internal/infra/auth"
	"github.com/nova-gateway/gateway/internal/infra/cache"
	"github.com/nova-gateway/gateway/internal/infra/metrics"
	"github.com/nova-gateway/gateway/internal/infra/ratelimit"
	"github.com/nova-gateway/gateway/internal/infra/router"
)

type fakeRegistry struct {
	workers map[string]domain.Worker
	status  map[string]domain.WorkerStatus
}

func (f *fakeRegistry) add(name string, d domain.Domain, live bool) {
	f.workers[name] = domain.Worker{Name: name, Domain: d, Description: "test worker"}
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
}

func (f *fakeClient) Generate(ctx context.Context, w domain.Worker, prompt string, maxTokens int) (domain.WorkerGenerateResponse, int64, error) {
	return domain.WorkerGenerateResponse{Text: f.responses[w.Name]}, 1, nil
}

type fakeAudit struct {
	entries []AuditEntry
}

func (f *fakeAudit) RecordRequest(e AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}
func (f *fakeAudit) Stats(since time.Time) (AuditStats, error) {
	return AuditStats{TotalRequests: int64(len(f.entries)), RequestsByUser: map[string]int64{}}, nil
}

func newTestServer(t *testing.T) (*Server, *fakeRegistry) {
	t.Helper()
	workers := &fakeRegistry{workers: map[string]domain.Worker{}, status: map[string]domain.WorkerStatus{}}
	workers.add("architecture", domain.DomainArchitecture, true)

	domainMap := make(map[domain.Domain]string, len(domain.Domains))
	for _, d := range domain.Domains {
		domainMap[d] = string(d)
	}
	an := analyzer.New(domainMap)
	c := cache.New(true, time.Hour, 100)
	promReg := prometheus.NewRegistry()
	m := metrics.New(promReg)

	client := &fakeClient{responses: map[string]string{"architecture": "a scalable design"}}
	rt := router.New(zerolog.Nop(), workers, client, an, c, m)

	secret := []byte("test-secret-at-least-32-bytes-long!!")
	store := auth.New(secret, []domain.Principal{
		{Username: "alice", Email: "alice@example.com", Tier: domain.TierFree, APIKey: "alice-key"},
		{Username: "bea", Email: "bea@example.com", Tier: domain.TierBeta, APIKey: "bea-key"},
	})

	rl := ratelimit.New(60, 60, domain.TierMultipliers{Free: 1, Beta: 5, Premium: 20})
	audit := &fakeAudit{}

	srv := NewServer(Dependencies{
		Log:         zerolog.Nop(),
		Router:      rt,
		Auth:        store,
		RateLimiter: rl,
		Metrics:     m,
		Gatherer:    promReg,
		Registry:    workers,
		Audit:       audit,
		TokenTTL:    time.Hour,
		CORSOrigins: []string{"*"},
	})
	return srv, workers
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestQuery_RequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(queryRequest{Query: "design something"})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestQuery_WithAPIKey(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(queryRequest{Query: "design a scalable API", MaxTokens: 64})
	req := httptest.NewRequest(http.MethodPost, "/v1/query", bytes.NewReader(body))
	req.Header.Set("X-API-Key", "alice-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var result domain.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(result.RoutingDecision.Selected) != 1 || result.RoutingDecision.Selected[0] != "architecture" {
		t.Errorf("Selected = %v, want [architecture]", result.RoutingDecision.Selected)
	}
}

func TestMetrics_ForbiddenForFreeTier(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("X-API-Key", "alice-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestMetrics_AllowedForBetaTier(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/metrics", nil)
	req.Header.Set("X-API-Key", "bea-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListWorkers(t *testing.T) {
	srv, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/workers", nil)
	req.Header.Set("X-API-Key", "alice-key")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	srv, _ := newTestServer(t)
	body, _ := json.Marshal(loginRequest{Username: "alice", Secret: "anything"})
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}

	var resp loginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.AccessToken == "" {
		t.Error("AccessToken should not be empty")
	}
}
