// Package analyzer implements C3: a pure, deterministic query analyser.
// Patterns are regular expressions, precompiled once at construction and
// never mutated afterward — the "precompile and freeze" design note.
// Analyse itself performs no I/O and retains no state across calls.
package analyzer

import (
	"regexp"
	"strings"

	"github.com/nova-gateway/gateway/internal/domain"
)

// domainPatternSource is the fixed, closed pattern dictionary. Order matters:
// it is the order domains are considered, which in turn is the order
// egregores_needed is built in when multiple domains hit.
var domainPatternSource = []struct {
	domain   domain.Domain
	patterns []string
}{
	{domain.DomainArchitecture, []string{`\bdesign\b`, `\barchitect`, `\bstructure\b`, `\bscalable\b`, `\bapi\b`, `\bsystem\b`}},
	{domain.DomainSecurity, []string{`\bsecur`, `\bvulnerab`, `\bauth`, `\bencrypt`, `\battack`}},
	{domain.DomainTransformation, []string{`\badapt`, `\btransform`, `\bmigrat`, `\bevolve\b`, `\bchange\b`}},
	{domain.DomainWisdom, []string{`\bwisdom\b`, `\badvice\b`, `\bphilosoph`, `\bmeaning\b`, `\bguidance\b`}},
	{domain.DomainTiming, []string{`\bschedul`, `\btiming\b`, `\bdeadline\b`, `\bwhen\b`, `\bsequence\b`}},
	{domain.DomainStrategy, []string{`\bstrateg`, `\bplan\b`, `\broadmap\b`, `\bpriorit`, `\bgoal\b`}},
	{domain.DomainCommunication, []string{`\bcommunicat`, `\bmessage\b`, `\bexplain\b`, `\bdocument`, `\bwrite\b`}},
	{domain.DomainProtection, []string{`\bprotect`, `\bdefend`, `\bbackup\b`, `\bresilien`, `\brecover`}},
}

// synthesisKeywordSource is the closed set of explicit synthesis-request phrases.
var synthesisKeywordSource = []string{"integrate", "combine", "multiple perspectives", "synthesize", "together"}

type compiledDomain struct {
	domain   domain.Domain
	patterns []*regexp.Regexp
}

// Analyzer holds the precompiled, frozen pattern dictionary.
type Analyzer struct {
	domains          []compiledDomain
	synthesisRegexes []*regexp.Regexp
	domainToWorker   map[domain.Domain]string
}

// New compiles the pattern dictionary once. domainToWorker is the fixed
// bijection from domain to worker name (ordinarily identity, but kept
// explicit so the catalogue's naming is never assumed).
func New(domainToWorker map[domain.Domain]string) *Analyzer {
	a := &Analyzer{domainToWorker: domainToWorker}
	for _, dp := range domainPatternSource {
		cd := compiledDomain{domain: dp.domain}
		for _, p := range dp.patterns {
			cd.patterns = append(cd.patterns, regexp.MustCompile(`(?i)`+p))
		}
		a.domains = append(a.domains, cd)
	}
	for _, kw := range synthesisKeywordSource {
		a.synthesisRegexes = append(a.synthesisRegexes, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(kw)+`\b`))
	}
	return a
}

// Analyse turns a query into a QueryAnalysis. Pure and deterministic:
// identical input always yields identical output.
func (a *Analyzer) Analyse(query string) domain.QueryAnalysis {
	var domains []domain.Domain
	for _, cd := range a.domains {
		if matchesAny(cd.patterns, query) {
			domains = append(domains, cd.domain)
		}
	}

	explicitSynthesis := matchesAny(a.synthesisRegexes, query)

	egregores := make([]string, 0, len(domains)+1)
	if len(domains) == 0 {
		// Zero domains matched -> default to exactly one worker: architecture.
		if name, ok := a.domainToWorker[domain.DomainArchitecture]; ok {
			egregores = append(egregores, name)
		}
	} else {
		for _, d := range domains {
			if name, ok := a.domainToWorker[d]; ok {
				egregores = append(egregores, name)
			}
		}
	}

	complexity, consciousness := classify(len(domains))
	if explicitSynthesis {
		consciousness = domain.ConsciousnessComplex
	}

	requiresSynthesis := len(egregores) > 1 || explicitSynthesis

	confidence := 0.4 + 0.3*float64(len(domains))
	if confidence > 1 {
		confidence = 1
	}

	return domain.QueryAnalysis{
		Query:              query,
		Complexity:         complexity,
		Domains:            domains,
		EgregoresNeeded:    egregores,
		RequiresSynthesis:  requiresSynthesis,
		ConsciousnessLevel: consciousness,
		RoutingConfidence:  confidence,
	}
}

func classify(domainCount int) (domain.Complexity, float64) {
	switch {
	case domainCount <= 1:
		return domain.ComplexitySimple, domain.ConsciousnessSimple
	case domainCount <= 3:
		return domain.ComplexityModerate, domain.ConsciousnessModerate
	default:
		return domain.ComplexityComplex, domain.ConsciousnessComplex
	}
}

func matchesAny(patterns []*regexp.Regexp, query string) bool {
	for _, p := range patterns {
		if p.MatchString(query) {
			return true
		}
	}
	return false
}

// Normalise produces the canonical query form fingerprinting hashes.
func Normalise(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}
