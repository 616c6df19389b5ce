package secrets

import (
	"cmp"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var findingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "assistd",
	Subsystem: "secrets",
	Name:      "findings_total",
	Help:      "Secrets redacted from run output, by rule.",
}, []string{"rule"})

// Scrubber detects and redacts secrets from content.
type Scrubber interface {
	// Scrub redacts secrets from the content.
	Scrub(content string) *Result
	// Check detects secrets without redacting.
	Check(content string) *Result
	IsEnabled() bool
}

type scrubber struct {
	config *Config
}

type span struct {
	start, end int
}

// New creates a Scrubber. A nil config means DefaultConfig().
func New(cfg *Config) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		return NoopScrubber{}, nil
	}
	return &scrubber{config: cfg}, nil
}

// MustNew creates a Scrubber, panicking on error.
func MustNew(cfg *Config) Scrubber {
	s, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	result, spans := s.detect(content)
	if len(spans) == 0 {
		return result
	}

	merged := mergeSpans(spans)
	out := make([]byte, 0, len(content))
	last := 0
	for _, sp := range merged {
		out = append(out, content[last:sp.start]...)
		out = append(out, s.config.RedactionString...)
		last = sp.end
	}
	out = append(out, content[last:]...)
	result.Scrubbed = string(out)

	for rule, n := range result.ByRule {
		findingsTotal.WithLabelValues(rule).Add(float64(n))
	}
	return result
}

func (s *scrubber) Check(content string) *Result {
	result, _ := s.detect(content)
	return result
}

func (s *scrubber) IsEnabled() bool { return true }

func (s *scrubber) detect(content string) (*Result, []span) {
	result := cleanResult(content)
	var spans []span

	for _, rule := range s.config.compiledRules {
		if !rule.applies(content) {
			continue
		}
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			if s.isAllowed(content[m[0]:m[1]]) {
				continue
			}
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Severity:    rule.Severity,
				StartIndex:  m[0],
				EndIndex:    m[1],
			})
			result.ByRule[rule.ID]++
			spans = append(spans, span{m[0], m[1]})
		}
	}
	result.TotalFindings = len(result.Findings)
	return result, spans
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}

func (s *scrubber) isAllowed(match string) bool {
	for _, pattern := range s.config.compiledAllowList {
		if pattern.MatchString(match) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and collapses overlapping ones.
func mergeSpans(spans []span) []span {
	slices.SortFunc(spans, func(a, b span) int { return cmp.Compare(a.start, b.start) })
	merged := []span{spans[0]}
	for _, curr := range spans[1:] {
		last := &merged[len(merged)-1]
		if curr.start <= last.end {
			last.end = max(last.end, curr.end)
			continue
		}
		merged = append(merged, curr)
	}
	return merged
}

// NoopScrubber returns content unchanged.
type NoopScrubber struct{}

func (NoopScrubber) Scrub(content string) *Result { return cleanResult(content) }
func (NoopScrubber) Check(content string) *Result { return cleanResult(content) }
func (NoopScrubber) IsEnabled() bool              { return false }

// ScrubAll redacts each non-nil string in place and returns the number of
// findings across all of them.
func ScrubAll(s Scrubber, fields ...*string) int {
	total := 0
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		r := s.Scrub(*f)
		*f = r.Scrubbed
		total += r.TotalFindings
	}
	return total
}

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = NoopScrubber{}
)
