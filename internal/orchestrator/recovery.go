package orchestrator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/domain"
)

// RecoveryAction is one step of a recovery plan.
type RecoveryAction string

const (
	ActionRetry                   RecoveryAction = "retry"
	ActionRetryWithBackoff        RecoveryAction = "retry_with_backoff"
	ActionRestartCollector        RecoveryAction = "restart_collector"
	ActionSwitchToFallback        RecoveryAction = "switch_to_fallback"
	ActionEnableDegraded          RecoveryAction = "enable_degraded"
	ActionAlertManualIntervention RecoveryAction = "alert_manual_intervention"
)

// RecoveryPlan is an ordered list of actions executed for one failing
// source.
type RecoveryPlan struct {
	ID        string
	Source    string
	Actions   []RecoveryAction
	Current   int
	CreatedAt time.Time
	Completed bool
	Succeeded bool
}

const maxAttemptsPerAction = 3

// buildRecoveryPlan maps detected failure patterns to an action sequence.
func buildRecoveryPlan(source string, patterns []domain.FailurePattern, now time.Time) *RecoveryPlan {
	var actions []RecoveryAction

	has := func(p domain.FailurePattern) bool {
		for _, fp := range patterns {
			if fp == p {
				return true
			}
		}
		return false
	}

	switch {
	case has(domain.PatternSchemaChange):
		actions = []RecoveryAction{ActionAlertManualIntervention, ActionEnableDegraded}
	case has(domain.PatternRateLimiting):
		actions = []RecoveryAction{ActionRetryWithBackoff, ActionEnableDegraded}
	case has(domain.PatternNetworkTimeout):
		actions = []RecoveryAction{ActionRetryWithBackoff, ActionRestartCollector, ActionSwitchToFallback}
	case has(domain.PatternSystematic):
		actions = []RecoveryAction{ActionRestartCollector, ActionSwitchToFallback, ActionAlertManualIntervention}
	default:
		actions = []RecoveryAction{ActionRetry, ActionRestartCollector, ActionEnableDegraded, ActionAlertManualIntervention}
	}

	return &RecoveryPlan{
		ID:        uuid.New().String(),
		Source:    source,
		Actions:   actions,
		CreatedAt: now,
	}
}

// executeRecoveryPlan walks the actions in order, re-probing the source
// after each attempt and stopping at the first probe that passes. The loop
// checks for cancellation before every sleep.
func (o *Orchestrator) executeRecoveryPlan(ctx context.Context, plan *RecoveryPlan) {
	defer func() {
		plan.Completed = true
		o.mu.Lock()
		delete(o.recovering, plan.Source)
		o.mu.Unlock()
	}()

	col := o.collectors[plan.Source]
	if col == nil {
		return
	}

	for i, action := range plan.Actions {
		plan.Current = i
		o.logger.Info("recovery action", "source", plan.Source, "action", string(action), "step", i+1)

		switch action {
		case ActionAlertManualIntervention:
			a := &domain.Alert{
				ID:                  uuid.New(),
				Source:              plan.Source,
				Type:                domain.AlertCollectionFailure,
				Severity:            domain.SeverityCritical,
				Message:             fmt.Sprintf("automatic recovery for %s requires manual intervention", plan.Source),
				CreatedAt:           o.now(),
				IsActive:            true,
				AutoRecoverable:     false,
				RecoverySuggestions: []string{"inspect recent provider responses", "verify parser assumptions"},
			}
			o.alerts.EmitOperational(ctx, a)
			// Manual intervention is a stop, not a retry path.
			continue

		case ActionEnableDegraded, ActionSwitchToFallback:
			// The breaker already carries the degraded factory; flagging the
			// source keeps serving empty-successful results while open.
			o.logger.Info("degraded mode active", "source", plan.Source)
			continue
		}

		for attempt := 1; attempt <= maxAttemptsPerAction; attempt++ {
			if ctx.Err() != nil {
				return
			}

			switch action {
			case ActionRetryWithBackoff:
				delay := time.Duration(float64(time.Second) * math.Pow(2, float64(attempt)))
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				if err := o.sleep(ctx, delay); err != nil {
					return
				}
			case ActionRestartCollector:
				col.Cleanup()
			}

			if col.TestConnection(ctx) {
				plan.Succeeded = true
				o.breakers.For(plan.Source).Reset()
				o.logger.Info("recovery succeeded", "source", plan.Source, "action", string(action), "attempt", attempt)
				return
			}
		}
	}
}

// maybeStartRecovery launches a recovery plan when the source crossed the
// failure thresholds and no plan is already active for it.
func (o *Orchestrator) maybeStartRecovery(source string, metrics domain.CollectionHealthMetrics, confidence float64, patterns []domain.FailurePattern) {
	needsRecovery := metrics.ConsecutiveFailures >= 3 ||
		confidence < 0.5 ||
		metrics.GapDuration >= 2*time.Hour
	if !needsRecovery {
		return
	}

	o.mu.Lock()
	if _, active := o.recovering[source]; active {
		o.mu.Unlock()
		return
	}
	plan := buildRecoveryPlan(source, patterns, o.now())
	o.recovering[source] = plan
	o.mu.Unlock()

	o.logger.Warn("starting recovery plan",
		"source", source, "plan_id", plan.ID, "actions", plan.Actions)

	go o.executeRecoveryPlan(o.baseCtx, plan)
}

// ActiveRecoveryPlans snapshots the in-flight recovery plans.
func (o *Orchestrator) ActiveRecoveryPlans() map[string]RecoveryPlan {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make(map[string]RecoveryPlan, len(o.recovering))
	for src, p := range o.recovering {
		out[src] = *p
	}
	return out
}
