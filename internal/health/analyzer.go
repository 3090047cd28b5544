package health

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
)

// Expectation is the expected data-count range for one source. Zero values
// disable the corresponding bound.
type Expectation struct {
	MinCount int
	MaxCount int
}

// Analysis is the scored view of one collection result.
type Analysis struct {
	Source          string                  `json:"source"`
	Success         bool                    `json:"success"`
	DataCount       int                     `json:"data_count"`
	ConfidenceScore float64                 `json:"confidence_score"`
	FreshnessScore  float64                 `json:"freshness_score"`
	SchemaValid     bool                    `json:"schema_valid"`
	Warnings        []string                `json:"warnings,omitempty"`
	Errors          []string                `json:"errors,omitempty"`
	FailurePatterns []domain.FailurePattern `json:"failure_patterns,omitempty"`
	AutoRecoverable bool                    `json:"auto_recoverable"`
	Suggestions     []string                `json:"suggestions,omitempty"`
}

// HasPattern reports whether the analysis detected the pattern.
func (a *Analysis) HasPattern(p domain.FailurePattern) bool {
	for _, fp := range a.FailurePatterns {
		if fp == p {
			return true
		}
	}
	return false
}

// rollingHistory keeps the recent per-source observations the pattern
// detector compares against.
type rollingHistory struct {
	counts    []int
	latencies []float64
}

const historyWindow = 50

func (h *rollingHistory) meanCount() (float64, bool) {
	if len(h.counts) < 3 {
		return 0, false
	}
	sum := 0
	for _, c := range h.counts {
		sum += c
	}
	return float64(sum) / float64(len(h.counts)), true
}

func (h *rollingHistory) meanLatency() (float64, bool) {
	if len(h.latencies) < 3 {
		return 0, false
	}
	var sum float64
	for _, l := range h.latencies {
		sum += l
	}
	return sum / float64(len(h.latencies)), true
}

func (h *rollingHistory) push(count int, latency float64) {
	h.counts = append(h.counts, count)
	if len(h.counts) > historyWindow {
		h.counts = h.counts[1:]
	}
	if latency > 0 {
		h.latencies = append(h.latencies, latency)
		if len(h.latencies) > historyWindow {
			h.latencies = h.latencies[1:]
		}
	}
}

// Analyzer scores collection results, detects failure patterns and keeps the
// per-source rolling health metrics.
type Analyzer struct {
	mu      sync.Mutex
	history map[string]*rollingHistory
	metrics map[string]*domain.CollectionHealthMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewAnalyzer creates an analyzer with empty rolling state.
func NewAnalyzer(logger *slog.Logger) *Analyzer {
	return &Analyzer{
		history: make(map[string]*rollingHistory),
		metrics: make(map[string]*domain.CollectionHealthMetrics),
		logger:  logger,
		now:     time.Now,
	}
}

// Analyze scores one result and folds it into the source's rolling metrics.
func (a *Analyzer) Analyze(res *collector.CollectionResult, expect Expectation) *Analysis {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.history[res.Source]
	if hist == nil {
		hist = &rollingHistory{}
		a.history[res.Source] = hist
	}

	analysis := &Analysis{
		Source:          res.Source,
		Success:         res.Success,
		DataCount:       len(res.Data),
		Errors:          res.Errors,
		SchemaValid:     true,
		AutoRecoverable: true,
		FreshnessScore:  a.freshness(res.Timestamp),
	}

	a.detectPatterns(analysis, res, hist)
	analysis.ConfidenceScore = a.confidence(analysis, expect)
	analysis.Suggestions = recoverySuggestions(analysis.FailurePatterns)

	hist.push(analysis.DataCount, res.ResponseTimeMS)
	a.updateMetricsLocked(res, analysis)

	return analysis
}

// detectPatterns applies the failure-pattern rules.
func (a *Analyzer) detectPatterns(analysis *Analysis, res *collector.CollectionResult, hist *rollingHistory) {
	addPattern := func(p domain.FailurePattern) {
		if !analysis.HasPattern(p) {
			analysis.FailurePatterns = append(analysis.FailurePatterns, p)
		}
	}

	for _, msg := range res.Errors {
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "429") || strings.Contains(lower, "rate limit") {
			addPattern(domain.PatternRateLimiting)
		}
		if strings.Contains(lower, "timeout") || strings.Contains(lower, "timed out") {
			addPattern(domain.PatternNetworkTimeout)
		}
	}

	// A successful fetch with zero items and no errors is the signature of
	// a silent provider schema change, and is not auto-recoverable.
	if res.Success && len(res.Data) == 0 && len(res.Errors) == 0 && !res.DegradedMode {
		addPattern(domain.PatternSchemaChange)
		analysis.SchemaValid = false
		analysis.AutoRecoverable = false
	}

	if mean, ok := hist.meanCount(); ok && mean > 0 {
		if float64(len(res.Data)) < mean*0.7 && len(res.Data) > 0 {
			addPattern(domain.PatternDataCorruption)
			analysis.Warnings = append(analysis.Warnings, "data count well below historical mean")
		}
	}

	if mean, ok := hist.meanLatency(); ok && mean > 0 && res.ResponseTimeMS > mean*2 {
		addPattern(domain.PatternNetworkTimeout)
		analysis.Warnings = append(analysis.Warnings, "response time above twice historical mean")
	}
}

// confidence computes the clamped confidence score.
func (a *Analyzer) confidence(analysis *Analysis, expect Expectation) float64 {
	score := 1.0
	score -= 0.3 * float64(len(analysis.Errors))
	score -= 0.1 * float64(len(analysis.Warnings))
	score -= 0.15 * float64(len(analysis.FailurePatterns))
	if !analysis.SchemaValid {
		score -= 0.2
	}

	score *= analysis.FreshnessScore

	switch {
	case analysis.DataCount == 0:
		score -= 0.4
	case expect.MinCount > 0 && analysis.DataCount < expect.MinCount:
		score -= 0.2
	case expect.MaxCount > 0 && analysis.DataCount > expect.MaxCount:
		score -= 0.1
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// freshness grades how recent the collection timestamp is.
func (a *Analyzer) freshness(ts time.Time) float64 {
	if ts.IsZero() {
		return 1.0
	}
	age := a.now().Sub(ts)
	if age <= 5*time.Minute {
		return 1.0
	}
	score := 1.0 - age.Hours()/24
	if score < 0.5 {
		return 0.5
	}
	return score
}

// updateMetricsLocked folds the analysis into the rolling per-source state.
func (a *Analyzer) updateMetricsLocked(res *collector.CollectionResult, analysis *Analysis) {
	m := a.metrics[res.Source]
	if m == nil {
		m = &domain.CollectionHealthMetrics{Source: res.Source}
		a.metrics[res.Source] = m
	}

	now := a.now()
	m.TotalAttempts++
	if res.Success && !res.DegradedMode {
		m.TotalSuccesses++
		m.ConsecutiveFailures = 0
		t := now
		m.LastSuccessAt = &t
	} else if !res.Success {
		m.TotalFailures++
		m.ConsecutiveFailures++
	}

	if m.LastSuccessAt != nil {
		m.GapDuration = now.Sub(*m.LastSuccessAt)
	}
	m.SuccessRate = float64(m.TotalSuccesses) / float64(m.TotalAttempts)

	if res.ResponseTimeMS > 0 {
		if m.AvgResponseTimeMS == 0 {
			m.AvgResponseTimeMS = res.ResponseTimeMS
		} else {
			m.AvgResponseTimeMS = m.AvgResponseTimeMS*0.9 + res.ResponseTimeMS*0.1
		}
	}

	m.ConfidenceScore = analysis.ConfidenceScore
	for _, p := range analysis.FailurePatterns {
		if !m.HasPattern(p) {
			m.FailurePatterns = append(m.FailurePatterns, p)
		}
	}
	m.AlertLevel = m.Level()
	m.UpdatedAt = now
}

// Metrics returns a copy of one source's rolling metrics.
func (a *Analyzer) Metrics(source string) (domain.CollectionHealthMetrics, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.metrics[source]
	if !ok {
		return domain.CollectionHealthMetrics{}, false
	}
	return *m, true
}

// AllMetrics returns a copy of every source's rolling metrics.
func (a *Analyzer) AllMetrics() map[string]domain.CollectionHealthMetrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]domain.CollectionHealthMetrics, len(a.metrics))
	for src, m := range a.metrics {
		out[src] = *m
	}
	return out
}

// recoverySuggestions maps detected patterns to operator guidance.
func recoverySuggestions(patterns []domain.FailurePattern) []string {
	var out []string
	for _, p := range patterns {
		switch p {
		case domain.PatternRateLimiting:
			out = append(out, "reduce request rate and let the adaptive limiter back off")
		case domain.PatternNetworkTimeout:
			out = append(out, "increase the per-source timeout and retry")
		case domain.PatternSchemaChange:
			out = append(out, "provider response shape changed; manual investigation required")
		case domain.PatternDataCorruption:
			out = append(out, "cross-validate counts against another source")
		case domain.PatternSystematic:
			out = append(out, "restart the collector and check provider status")
		}
	}
	return out
}
