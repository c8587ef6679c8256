package registry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/metrics"
)

func testAggregator() *metrics.Aggregator {
	return metrics.New(prometheus.NewRegistry())
}

func healthyWorkerServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(domain.WorkerHealthResponse{
			Status:         "healthy",
			RequestsServed: 5,
			UptimeSeconds:  120,
		})
	}))
}

func TestRegistry_ListReturnsCopy(t *testing.T) {
	catalogue := []domain.Worker{{Name: "architecture", Port: 9001, Domain: domain.DomainArchitecture}}
	r := New(zerolog.Nop(), testAggregator(), catalogue, 30*time.Second, 5*time.Second)

	got := r.List()
	got[0].Name = "mutated"

	if r.List()[0].Name != "architecture" {
		t.Error("List() should return a defensive copy")
	}
}

func TestRegistry_FindByDomain(t *testing.T) {
	catalogue := []domain.Worker{{Name: "security", Port: 9002, Domain: domain.DomainSecurity}}
	r := New(zerolog.Nop(), testAggregator(), catalogue, 30*time.Second, 5*time.Second)

	name, ok := r.FindByDomain(domain.DomainSecurity)
	if !ok || name != "security" {
		t.Errorf("FindByDomain() = %q, %v, want security, true", name, ok)
	}

	if _, ok := r.FindByDomain(domain.DomainTiming); ok {
		t.Error("FindByDomain() should miss for an unregistered domain")
	}
}

func TestRegistry_ProbeMarksRunning(t *testing.T) {
	srv := healthyWorkerServer(t)
	defer srv.Close()

	port := mustPort(t, srv.URL)
	catalogue := []domain.Worker{{Name: "architecture", Port: port, Domain: domain.DomainArchitecture}}
	r := New(zerolog.Nop(), testAggregator(), catalogue, 30*time.Second, 2*time.Second)

	r.probeAll(testContext(t))

	status, ok := r.Status("architecture")
	if !ok {
		t.Fatal("Status() missing entry for architecture")
	}
	if status.State != domain.StateRunning {
		t.Errorf("State = %v, want Running", status.State)
	}
	if status.RequestsServed != 5 {
		t.Errorf("RequestsServed = %d, want 5", status.RequestsServed)
	}

	available := r.Available()
	if len(available) != 1 || available[0] != "architecture" {
		t.Errorf("Available() = %v, want [architecture]", available)
	}
}

func TestRegistry_ProbeFailureMarksError(t *testing.T) {
	catalogue := []domain.Worker{{Name: "unreachable", Port: 1, Domain: domain.DomainTiming}}
	r := New(zerolog.Nop(), testAggregator(), catalogue, 30*time.Second, 200*time.Millisecond)

	r.probeAll(testContext(t))

	status, _ := r.Status("unreachable")
	if status.State != domain.StateError {
		t.Errorf("State = %v, want Error", status.State)
	}
	if len(r.Available()) != 0 {
		t.Error("Available() should be empty after a failed probe")
	}
}

func TestRegistry_RecommendPicksHighestScoringAvailable(t *testing.T) {
	srv := healthyWorkerServer(t)
	defer srv.Close()
	port := mustPort(t, srv.URL)

	catalogue := []domain.Worker{
		{Name: "architecture", Port: port, Domain: domain.DomainArchitecture},
		{Name: "security", Port: 1, Domain: domain.DomainSecurity}, // unreachable, stays unavailable
	}
	r := New(zerolog.Nop(), testAggregator(), catalogue, 30*time.Second, 2*time.Second)
	r.probeAll(testContext(t))

	name, ok := r.Recommend("design a scalable api")
	if !ok || name != "architecture" {
		t.Errorf("Recommend() = %q, %v, want architecture, true", name, ok)
	}

	if _, ok := r.Recommend("secure the vulnerability"); ok {
		t.Error("Recommend() should miss when the matching worker is unavailable")
	}
}

func TestRegistry_Register(t *testing.T) {
	r := New(zerolog.Nop(), testAggregator(), nil, 30*time.Second, 2*time.Second)

	w := domain.Worker{Name: "rhys", Port: 9100, Domain: domain.DomainWisdom}
	if err := r.Register(w); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := r.Register(w); err == nil {
		t.Error("Register() should reject a duplicate worker name")
	}

	status, ok := r.Status("rhys")
	if !ok || status.State != domain.StateStarting {
		t.Errorf("Status(rhys) = %v, %v, want Starting, true", status, ok)
	}
}
