// Package router implements C4: cache lookup, query analysis, dispatch
// planning, parallel fan-out, and optional synthesis. It depends only on
// the one-way edges the design notes require: Router -> WorkerRegistry,
// Router -> Cache, Router -> Analyzer, Router -> WorkerClient, and
// Router -> Metrics (a sink with no back-edges).
package router

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nova-gateway/gateway/internal/domain"
	"github.com/nova-gateway/gateway/internal/infra/analyzer"
	"github.com/nova-gateway/gateway/internal/infra/cache"
)

// Router ties C1/C2/C3/C5/C10 together behind one public entry point.
type Router struct {
	registry domain.WorkerRegistry
	client   domain.WorkerClient
	analyzer domain.Analyzer
	cache    domain.Cache
	metrics  domain.MetricsSink
	log      zerolog.Logger
}

// New constructs a Router.
func New(log zerolog.Logger, registry domain.WorkerRegistry, client domain.WorkerClient, an domain.Analyzer, c domain.Cache, m domain.MetricsSink) *Router {
	return &Router{
		registry: registry,
		client:   client,
		analyzer: an,
		cache:    c,
		metrics:  m,
		log:      log.With().Str("component", "router").Logger(),
	}
}

// Analyse runs only the analysis + decision stages, without dispatching —
// backs POST /v1/analyze.
func (r *Router) Analyse(query string) (domain.QueryAnalysis, domain.RoutingDecision) {
	analysis := r.analyzer.Analyse(query)
	decision := r.buildDecision(analysis)
	return analysis, decision
}

// Route executes the full C4 algorithm: cache probe, single-flight analysis
// and dispatch, optional synthesis, cache store, and metrics recording.
func (r *Router) Route(ctx context.Context, query string, maxTokens int) (domain.Result, error) {
	start := time.Now()
	fingerprint := cache.Fingerprint(analyzer.Normalise(query))

	if hit, ok := r.cache.Get(fingerprint); ok {
		hit.Performance.Cached = true
		hit.Performance.ResponseTimeMs = time.Since(start).Milliseconds()
		r.metrics.RecordRouting(true, false, len(hit.RoutingDecision.Selected))
		return hit, nil
	}

	result, err, _ := r.cache.Do(fingerprint, func() (domain.Result, error) {
		return r.dispatch(ctx, query, maxTokens)
	})
	if err != nil {
		return domain.Result{}, err
	}

	result.Performance.ResponseTimeMs = time.Since(start).Milliseconds()
	r.metrics.RecordRouting(false, result.Tag == domain.ResultMultiAgent, len(result.RoutingDecision.Selected))
	return result, nil
}

func (r *Router) buildDecision(analysis domain.QueryAnalysis) domain.RoutingDecision {
	estimated := 300 * len(analysis.EgregoresNeeded)
	if analysis.RequiresSynthesis {
		estimated += 500
	}
	if estimated == 0 {
		estimated = 300
	}

	reasoning := fmt.Sprintf("matched domains %v -> workers %v", analysis.Domains, analysis.EgregoresNeeded)

	return domain.RoutingDecision{
		Selected:           append([]string(nil), analysis.EgregoresNeeded...),
		SynthesisRequired:  analysis.RequiresSynthesis,
		Reasoning:          reasoning,
		EstimatedLatencyMs: estimated,
	}
}

// dispatch runs steps 2-9 of the C4 algorithm; it is the single-flight
// leader body.
func (r *Router) dispatch(ctx context.Context, query string, maxTokens int) (domain.Result, error) {
	analysis := r.analyzer.Analyse(query)
	decision := r.buildDecision(analysis)

	live := make(map[string]bool, len(r.registry.Available()))
	for _, name := range r.registry.Available() {
		live[name] = true
	}

	liveWorkers := make([]domain.Worker, 0, len(decision.Selected))
	liveNames := make([]string, 0, len(decision.Selected))
	catalogue := indexByName(r.registry.List())
	for _, name := range decision.Selected {
		if live[name] {
			if w, ok := catalogue[name]; ok {
				liveWorkers = append(liveWorkers, w)
				liveNames = append(liveNames, name)
			}
		}
	}
	if len(liveWorkers) == 0 {
		return domain.Result{}, domain.ErrNoBackends
	}

	deadline := time.Duration(decision.EstimatedLatencyMs)*3*time.Millisecond + 5*time.Second
	fanoutCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	responses, workerErrs := r.fanOut(fanoutCtx, liveWorkers, query, maxTokens)

	successCount := 0
	for _, resp := range responses {
		if resp != nil {
			successCount++
		}
	}
	if successCount == 0 {
		return domain.Result{}, domain.ErrNoBackends
	}

	workerResponses := make([]domain.WorkerResponse, 0, successCount)
	for i, resp := range responses {
		if resp != nil {
			workerResponses = append(workerResponses, domain.WorkerResponse{Worker: liveNames[i], Text: resp.Text})
		}
	}

	perf := domain.Performance{EstimatedLatencyMs: decision.EstimatedLatencyMs}

	var result domain.Result
	switch {
	case decision.SynthesisRequired && successCount > 1:
		result = r.synthesise(fanoutCtx, analysis, decision, workerResponses, perf, workerErrs)
	default:
		text := ""
		if len(workerResponses) > 0 {
			text = workerResponses[0].Text
		}
		result = domain.SingleAgentResult(text, analysis, decision, perf, workerErrs)
	}

	r.cache.Set(cache.Fingerprint(analyzer.Normalise(query)), result)
	return result, nil
}

// fanOut dispatches to every worker in parallel, preserving presentation
// order by index regardless of completion order. A nil entry in responses
// means that worker failed; its error is appended to workerErrs.
func (r *Router) fanOut(ctx context.Context, workers []domain.Worker, query string, maxTokens int) ([]*domain.WorkerGenerateResponse, []domain.WorkerErrInfo) {
	responses := make([]*domain.WorkerGenerateResponse, len(workers))
	errs := make([]domain.WorkerErrInfo, len(workers))
	hasErr := make([]bool, len(workers))

	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func(i int, w domain.Worker) {
			defer wg.Done()
			resp, _, err := r.client.Generate(ctx, w, query, maxTokens)
			if err != nil {
				ge := domain.AsGatewayError(err)
				errs[i] = domain.WorkerErrInfo{Worker: w.Name, Kind: errKind(ge)}
				hasErr[i] = true
				return
			}
			responses[i] = &resp
		}(i, w)
	}
	wg.Wait()

	var collected []domain.WorkerErrInfo
	for i, failed := range hasErr {
		if failed {
			collected = append(collected, errs[i])
		}
	}
	return responses, collected
}

// synthesise builds a synthesis prompt from every successful response and
// dispatches it to the aggregator worker. If the aggregator is not live,
// responses are concatenated deterministically in selected order and the
// result is flagged degraded.
func (r *Router) synthesise(ctx context.Context, analysis domain.QueryAnalysis, decision domain.RoutingDecision, responses []domain.WorkerResponse, perf domain.Performance, workerErrs []domain.WorkerErrInfo) domain.Result {
	aggregatorName, hasAggregator := r.registry.FindByDomain(domain.DomainSynthesis)
	var aggregator domain.Worker
	aggregatorLive := false
	if hasAggregator {
		for _, name := range r.registry.Available() {
			if name == aggregatorName {
				for _, w := range r.registry.List() {
					if w.Name == aggregatorName {
						aggregator = w
						aggregatorLive = true
						break
					}
				}
				break
			}
		}
	}

	if !aggregatorLive {
		concatenated := concatenateResponses(responses)
		errs := append(append([]domain.WorkerErrInfo(nil), workerErrs...), domain.WorkerErrInfo{Worker: "synthesis", Kind: string(domain.WorkerUnreachable)})
		return domain.DegradedResult(concatenated, responses, analysis, decision, perf, errs)
	}

	prompt := buildSynthesisPrompt(analysis.Query, responses)
	synthResp, _, err := r.client.Generate(ctx, aggregator, prompt, 1024)
	if err != nil {
		concatenated := concatenateResponses(responses)
		ge := domain.AsGatewayError(err)
		errs := append(append([]domain.WorkerErrInfo(nil), workerErrs...), domain.WorkerErrInfo{Worker: "synthesis", Kind: errKind(ge)})
		return domain.DegradedResult(concatenated, responses, analysis, decision, perf, errs)
	}

	return domain.MultiAgentResult(synthResp.Text, responses, analysis, decision, perf, workerErrs)
}

func buildSynthesisPrompt(query string, responses []domain.WorkerResponse) string {
	var b strings.Builder
	b.WriteString("Original query: ")
	b.WriteString(query)
	b.WriteString("\n\n")
	for _, resp := range responses {
		b.WriteString(resp.Worker)
		b.WriteString(": ")
		b.WriteString(resp.Text)
		b.WriteString("\n")
	}
	return b.String()
}

func concatenateResponses(responses []domain.WorkerResponse) string {
	parts := make([]string, len(responses))
	for i, resp := range responses {
		parts[i] = resp.Text
	}
	return strings.Join(parts, "\n\n")
}

// errKind formats a worker error's kind for presentation. HTTP failures
// carry their status code, e.g. "HTTP(500)"; every other kind is reported
// bare.
func errKind(ge *domain.Error) string {
	if ge.WorkerKind == domain.WorkerHTTP {
		return fmt.Sprintf("HTTP(%d)", ge.HTTPCode)
	}
	return string(ge.WorkerKind)
}

func indexByName(workers []domain.Worker) map[string]domain.Worker {
	m := make(map[string]domain.Worker, len(workers))
	for _, w := range workers {
		m[w.Name] = w
	}
	return m
}
