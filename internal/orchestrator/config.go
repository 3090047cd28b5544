package orchestrator

import (
	"time"

	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/guard"
	"github.com/sharpline/pipeline/internal/health"
)

// Priority orders task selection; higher runs first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// SourceConfig describes one collection source. Passed at construction;
// never mutated afterwards.
type SourceConfig struct {
	Name                string
	Enabled             bool
	Priority            Priority
	Interval            time.Duration
	MaxRetries          int
	Timeout             time.Duration
	EnableValidation    bool
	EnableDeduplication bool
	DependsOn           []string // source names whose tasks must finish first
	Params              collector.Params
	Expectation         health.Expectation
	RateLimit           guard.RateLimitConfig
	Breaker             guard.BreakerConfig
}

// DefaultSourceConfigs returns the standing per-source setup. The schedule
// runs first and at the highest priority — every other source's game-id
// resolution leans on it.
func DefaultSourceConfigs() []SourceConfig {
	scrape := guard.RateLimitConfig{
		Strategy:           guard.StrategySlidingWindow,
		MaxRequests:        30,
		Window:             time.Minute,
		AdaptiveEnabled:    true,
		SuccessThreshold:   0.8,
		AdaptationFactor:   0.5,
		ExponentialBackoff: true,
		BaseDelay:          2 * time.Second,
		MaxDelay:           2 * time.Minute,
		Jitter:             true,
	}

	return []SourceConfig{
		{
			Name:             domain.SourceMLBSchedule,
			Enabled:          true,
			Priority:         PriorityCritical,
			Interval:         6 * time.Hour,
			MaxRetries:       3,
			Timeout:          45 * time.Second,
			EnableValidation: true,
			Expectation:      health.Expectation{MinCount: 1, MaxCount: 20},
			RateLimit:        guard.DefaultRateLimitConfig(),
			Breaker:          guard.DefaultBreakerConfig(),
		},
		{
			Name:                domain.SourceActionNetwork,
			Enabled:             true,
			Priority:            PriorityHigh,
			Interval:            30 * time.Minute,
			MaxRetries:          3,
			Timeout:             90 * time.Second,
			EnableValidation:    true,
			EnableDeduplication: true,
			DependsOn:           []string{domain.SourceMLBSchedule},
			Expectation:         health.Expectation{MinCount: 5, MaxCount: 400},
			RateLimit:           guard.DefaultRateLimitConfig(),
			Breaker:             guard.DefaultBreakerConfig(),
		},
		{
			Name:             domain.SourceVSIN,
			Enabled:          true,
			Priority:         PriorityNormal,
			Interval:         time.Hour,
			MaxRetries:       2,
			Timeout:          60 * time.Second,
			EnableValidation: true,
			DependsOn:        []string{domain.SourceMLBSchedule},
			Expectation:      health.Expectation{MinCount: 3, MaxCount: 120},
			RateLimit:        scrape,
			Breaker:          guard.DefaultBreakerConfig(),
		},
		{
			Name:             domain.SourceSBD,
			Enabled:          true,
			Priority:         PriorityNormal,
			Interval:         time.Hour,
			MaxRetries:       2,
			Timeout:          60 * time.Second,
			EnableValidation: true,
			DependsOn:        []string{domain.SourceMLBSchedule},
			Expectation:      health.Expectation{MinCount: 3, MaxCount: 120},
			RateLimit:        scrape,
			Breaker:          guard.DefaultBreakerConfig(),
		},
	}
}
