package domain

import (
	"time"
)

// HealthStatus is the derived per-source health level.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
)

// AlertLevel follows the health status.
type AlertLevel string

const (
	AlertLevelNormal   AlertLevel = "normal"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelCritical AlertLevel = "critical"
)

// FailurePattern is a detected collection failure category.
type FailurePattern string

const (
	PatternRateLimiting   FailurePattern = "rate_limiting"
	PatternNetworkTimeout FailurePattern = "network_timeout"
	PatternSchemaChange   FailurePattern = "schema_change"
	PatternDataCorruption FailurePattern = "data_corruption"
	PatternSystematic     FailurePattern = "systematic"
)

// CollectionHealthMetrics is the per-source rolling health state.
type CollectionHealthMetrics struct {
	Source              string           `json:"source"`
	TotalAttempts       int64            `json:"total_attempts"`
	TotalSuccesses      int64            `json:"total_successes"`
	TotalFailures       int64            `json:"total_failures"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	LastSuccessAt       *time.Time       `json:"last_success_at,omitempty"`
	GapDuration         time.Duration    `json:"gap_duration"`
	SuccessRate         float64          `json:"success_rate"`
	AvgResponseTimeMS   float64          `json:"avg_response_time_ms"`
	ConfidenceScore     float64          `json:"confidence_score"`
	FailurePatterns     []FailurePattern `json:"failure_patterns,omitempty"`
	AlertLevel          AlertLevel       `json:"alert_level"`
	UpdatedAt           time.Time        `json:"updated_at"`
}

// Status derives the health level from the rolling thresholds.
func (m *CollectionHealthMetrics) Status() HealthStatus {
	gapHours := m.GapDuration.Hours()
	switch {
	case m.SuccessRate >= 0.9 && m.ConfidenceScore >= 0.8 && gapHours < 1 && m.ConsecutiveFailures < 3:
		return HealthHealthy
	case (m.SuccessRate >= 0.5 && m.SuccessRate < 0.9) ||
		(m.ConfidenceScore >= 0.5 && m.ConfidenceScore < 0.8) ||
		(gapHours >= 1 && gapHours < 4) ||
		(m.ConsecutiveFailures >= 3 && m.ConsecutiveFailures <= 4):
		return HealthDegraded
	default:
		return HealthCritical
	}
}

// Level maps the health status to an alert level.
func (m *CollectionHealthMetrics) Level() AlertLevel {
	switch m.Status() {
	case HealthHealthy:
		return AlertLevelNormal
	case HealthDegraded:
		return AlertLevelWarning
	default:
		return AlertLevelCritical
	}
}

// HasPattern reports whether the pattern was detected in the rolling state.
func (m *CollectionHealthMetrics) HasPattern(p FailurePattern) bool {
	for _, fp := range m.FailurePatterns {
		if fp == p {
			return true
		}
	}
	return false
}
