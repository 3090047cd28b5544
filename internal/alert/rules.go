package alert

import (
	"time"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/health"
)

// The rule condition language is a closed set of atoms combined with AND or
// OR. There is no expression evaluation.

// AtomKind names one condition atom.
type AtomKind string

const (
	AtomConfidenceBelow            AtomKind = "confidence_below"
	AtomGapHoursAtLeast            AtomKind = "gap_hours_at_least"
	AtomConsecutiveFailuresAtLeast AtomKind = "consecutive_failures_at_least"
	AtomHasPattern                 AtomKind = "has_pattern"
)

// Atom is one primitive condition.
type Atom struct {
	Kind      AtomKind              `json:"kind"`
	Threshold float64               `json:"threshold,omitempty"`
	Pattern   domain.FailurePattern `json:"pattern,omitempty"`
}

func (a Atom) eval(an *health.Analysis, m domain.CollectionHealthMetrics) bool {
	switch a.Kind {
	case AtomConfidenceBelow:
		return an.ConfidenceScore < a.Threshold
	case AtomGapHoursAtLeast:
		return m.GapDuration.Hours() >= a.Threshold
	case AtomConsecutiveFailuresAtLeast:
		return float64(m.ConsecutiveFailures) >= a.Threshold
	case AtomHasPattern:
		return an.HasPattern(a.Pattern) || m.HasPattern(a.Pattern)
	}
	return false
}

// CondOp combines atoms.
type CondOp string

const (
	OpAnd CondOp = "and"
	OpOr  CondOp = "or"
)

// Condition is an AND/OR combination of atoms.
type Condition struct {
	Op    CondOp `json:"op"`
	Atoms []Atom `json:"atoms"`
}

// Eval applies the condition against one analysis and the source's rolling
// metrics.
func (c Condition) Eval(an *health.Analysis, m domain.CollectionHealthMetrics) bool {
	if len(c.Atoms) == 0 {
		return false
	}
	if c.Op == OpAnd {
		for _, a := range c.Atoms {
			if !a.eval(an, m) {
				return false
			}
		}
		return true
	}
	for _, a := range c.Atoms {
		if a.eval(an, m) {
			return true
		}
	}
	return false
}

// ChannelFlags selects the delivery channels for a rule.
type ChannelFlags struct {
	Email   bool `json:"email"`
	Webhook bool `json:"webhook"`
	Chat    bool `json:"chat"`
}

// Rule is one alert rule.
type Rule struct {
	ID               string               `json:"id"`
	Condition        Condition            `json:"condition"`
	Severity         domain.AlertSeverity `json:"severity"`
	FailureThreshold int                  `json:"failure_threshold"`
	TimeWindow       time.Duration        `json:"time_window"`
	Cooldown         time.Duration        `json:"cooldown"`
	MaxAlertsPerHour int                  `json:"max_alerts_per_hour"`
	Channels         ChannelFlags         `json:"channels"`
	Enabled          bool                 `json:"enabled"`
}

// DefaultRules returns the standing rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID: "low_confidence",
			Condition: Condition{Op: OpAnd, Atoms: []Atom{
				{Kind: AtomConfidenceBelow, Threshold: 0.5},
			}},
			Severity:         domain.SeverityWarning,
			Cooldown:         15 * time.Minute,
			MaxAlertsPerHour: 4,
			Channels:         ChannelFlags{Webhook: true, Chat: true},
			Enabled:          true,
		},
		{
			ID: "repeated_failures",
			Condition: Condition{Op: OpAnd, Atoms: []Atom{
				{Kind: AtomConsecutiveFailuresAtLeast, Threshold: 3},
			}},
			Severity:         domain.SeverityCritical,
			Cooldown:         10 * time.Minute,
			MaxAlertsPerHour: 6,
			Channels:         ChannelFlags{Email: true, Webhook: true, Chat: true},
			Enabled:          true,
		},
		{
			ID: "schema_change",
			Condition: Condition{Op: OpOr, Atoms: []Atom{
				{Kind: AtomHasPattern, Pattern: domain.PatternSchemaChange},
			}},
			Severity:         domain.SeverityCritical,
			Cooldown:         30 * time.Minute,
			MaxAlertsPerHour: 2,
			Channels:         ChannelFlags{Email: true, Webhook: true, Chat: true},
			Enabled:          true,
		},
		{
			ID: "stale_source",
			Condition: Condition{Op: OpOr, Atoms: []Atom{
				{Kind: AtomGapHoursAtLeast, Threshold: 2},
			}},
			Severity:         domain.SeverityWarning,
			Cooldown:         time.Hour,
			MaxAlertsPerHour: 2,
			Channels:         ChannelFlags{Webhook: true},
			Enabled:          true,
		},
	}
}
