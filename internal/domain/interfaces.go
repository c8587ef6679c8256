package domain

import (
	"context"
	"time"
)

// These interfaces define the one-way dependency graph required by the
// design notes: Gateway -> Router -> WorkerRegistry, Gateway -> Auth,
// Gateway -> RateLimiter, and everything -> Metrics. Metrics is a sink with
// no back-edges; nothing here depends on the metrics package.

// WorkerRegistry resolves the live worker set. Implemented by
// infra/registry.Registry.
type WorkerRegistry interface {
	List() []Worker
	Status(name string) (WorkerStatus, bool)
	Available() []string
	FindByDomain(d Domain) (string, bool)
	Recommend(query string) (string, bool)
	Register(w Worker) error
	// ProbeOnce synchronously probes w's health endpoint, updates its
	// stored status, and returns an error if it did not come back healthy.
	// Used to enforce that a newly deployed worker has passed at least one
	// health check before it is considered live.
	ProbeOnce(ctx context.Context, w Worker) (WorkerStatus, error)
}

// WorkerClient dispatches a single generate call to one worker. Implemented
// by infra/workerclient.Client.
type WorkerClient interface {
	Generate(ctx context.Context, w Worker, prompt string, maxTokens int) (WorkerGenerateResponse, int64, error)
}

// Analyzer turns a raw query into a QueryAnalysis. Implemented by
// infra/analyzer.Analyzer; pure and allocation-light.
type Analyzer interface {
	Analyse(query string) QueryAnalysis
}

// Cache is the fingerprint-keyed, single-flight result store consumed by
// the router. Implemented by infra/cache.Cache.
type Cache interface {
	// Get returns a fresh entry, or ok=false on miss.
	Get(fingerprint string) (Result, bool)
	// Set stores a result for fingerprint. Waiting callers receive the
	// leader's result through Do, not through Set.
	Set(fingerprint string, result Result)
	// Do runs fn at most once per in-flight fingerprint; concurrent callers
	// with the same fingerprint block on the same result.
	Do(fingerprint string, fn func() (Result, error)) (Result, error, bool)
}

// RateLimiter admits or rejects a request for a principal.
type RateLimiter interface {
	Admit(username string, tier Tier) (ok bool, remaining float64, retryAfterS int)
}

// PrincipalStore resolves and authenticates principals.
type PrincipalStore interface {
	ByAPIKey(key string) (Principal, bool)
	ByUsername(username string) (Principal, bool)
	VerifyCredentials(username, secret string) (Principal, error)
	IssueToken(p Principal, lifetime time.Duration) (string, TokenClaims, error)
	VerifyToken(token string) (TokenClaims, error)
	// Authenticate tries the API key path then the bearer token path, in
	// that order.
	Authenticate(apiKey, bearerToken string) (Principal, error)
}

// MetricsSink records router and gateway events. Implemented by
// infra/metrics.Aggregator. Every other component may depend on it; it
// depends on nothing in this package.
type MetricsSink interface {
	RecordRequest(endpoint, username, tier string, status int, duration time.Duration)
	RecordRouting(cached, synthesisUsed bool, workerCount int)
}
