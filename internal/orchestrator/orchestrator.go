package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/guard"
	"github.com/sharpline/pipeline/internal/health"
	"github.com/sharpline/pipeline/internal/resolver"
	"github.com/sharpline/pipeline/internal/timesync"
)

// RawSink lands collected raw records durably.
type RawSink interface {
	InsertRaw(ctx context.Context, records []domain.RawRecord) (int, error)
}

// SnapshotSink stores rolling health metric snapshots for history.
type SnapshotSink interface {
	SaveHealthSnapshot(ctx context.Context, m domain.CollectionHealthMetrics) error
}

// Options bound plan execution.
type Options struct {
	MaxConcurrentTasks int
	PlanDeadline       time.Duration
}

// schedulerTick bounds how long the execution loop waits before re-checking
// task readiness.
const schedulerTick = 10 * time.Second

// confidenceFloor is the score below which a structurally successful
// collection still counts as failed.
const confidenceFloor = 0.7

// Orchestrator plans, schedules and executes collection tasks with
// dependency and concurrency control, wiring the rate limiter, circuit
// breakers, health analyzer and alert manager together. It exclusively owns
// the collectors and the synchronizer buffer for the lifetime of a plan.
type Orchestrator struct {
	mu         sync.Mutex
	sources    map[string]SourceConfig
	order      []string
	collectors map[string]collector.Collector
	recovering map[string]*RecoveryPlan

	limiter   *guard.SourceLimiter
	breakers  *guard.BreakerSet
	analyzer  *health.Analyzer
	alerts    *alert.Manager
	resolver  *resolver.Resolver
	syncBuf   *timesync.Synchronizer
	raw       RawSink
	snapshots SnapshotSink

	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	baseCtx context.Context
}

// New creates an orchestrator with no sources registered.
func New(
	limiter *guard.SourceLimiter,
	breakers *guard.BreakerSet,
	analyzer *health.Analyzer,
	alerts *alert.Manager,
	gameResolver *resolver.Resolver,
	syncBuf *timesync.Synchronizer,
	raw RawSink,
	snapshots SnapshotSink,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	if opts.MaxConcurrentTasks <= 0 {
		opts.MaxConcurrentTasks = 5
	}
	if opts.PlanDeadline <= 0 {
		opts.PlanDeadline = 10 * time.Minute
	}
	return &Orchestrator{
		sources:    make(map[string]SourceConfig),
		collectors: make(map[string]collector.Collector),
		recovering: make(map[string]*RecoveryPlan),
		limiter:    limiter,
		breakers:   breakers,
		analyzer:   analyzer,
		alerts:     alerts,
		resolver:   gameResolver,
		syncBuf:    syncBuf,
		raw:        raw,
		snapshots:  snapshots,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
		baseCtx:    context.Background(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetSynchronizer installs the shared buffer after construction; the
// synchronizer's re-collection hook points back at this orchestrator, so
// the two are wired in two steps.
func (o *Orchestrator) SetSynchronizer(s *timesync.Synchronizer) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.syncBuf = s
}

// RegisterSource wires one source: its collector, rate limit, and circuit
// breaker with degraded-mode result, health probe and lifecycle alerts.
func (o *Orchestrator) RegisterSource(cfg SourceConfig, col collector.Collector) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sources[cfg.Name] = cfg
	o.order = append(o.order, cfg.Name)
	o.collectors[cfg.Name] = col
	o.limiter.Configure(cfg.Name, cfg.RateLimit)

	source := cfg.Name
	b := guard.NewBreaker(source, cfg.Breaker, o.logger)
	b.SetDegraded(func() any {
		return collector.DegradedResult(source, o.now())
	})
	b.SetHealthCheck(func(ctx context.Context) bool {
		return col.TestConnection(ctx)
	})
	b.Observe(func(ev guard.BreakerEvent) {
		switch {
		case ev.To == guard.CircuitOpen && cfg.Breaker.AlertOnOpen:
			o.alerts.CircuitOpened(o.baseCtx, ev.Source, ev.Reason)
		case ev.To == guard.CircuitClosed && ev.From == guard.CircuitHalfOpen && cfg.Breaker.AlertOnRecovery:
			o.alerts.CircuitRecovered(o.baseCtx, ev.Source)
		}
	})
	o.breakers.Put(source, b)
}

// Sources returns the registered source names in registration order.
func (o *Orchestrator) Sources() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, len(o.order))
	copy(out, o.order)
	return out
}

// CreatePlan builds a plan over the named sources (all enabled sources when
// names is empty).
func (o *Orchestrator) CreatePlan(name string, names []string, concurrency int, deadline time.Duration) (*CollectionPlan, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if concurrency <= 0 {
		concurrency = o.opts.MaxConcurrentTasks
	}
	if deadline <= 0 {
		deadline = o.opts.PlanDeadline
	}

	var selected []SourceConfig
	if len(names) == 0 {
		for _, src := range o.order {
			if cfg := o.sources[src]; cfg.Enabled {
				selected = append(selected, cfg)
			}
		}
	} else {
		for _, n := range names {
			cfg, ok := o.sources[n]
			if !ok {
				return nil, domain.ErrNotFound("source", n)
			}
			if cfg.Enabled {
				selected = append(selected, cfg)
			}
		}
	}
	if len(selected) == 0 {
		return nil, domain.ErrValidation("no enabled sources selected")
	}

	return newPlan(name, selected, concurrency, deadline, o.now()), nil
}

// ExecutePlan runs the plan to completion or its deadline. Tasks launch in
// priority order as their dependencies complete, capped by the plan's
// concurrency. On deadline every running task's I/O is aborted via context
// and the plan is marked timed out; partial results from cancelled tasks
// are discarded, raw fetches already persisted remain.
func (o *Orchestrator) ExecutePlan(ctx context.Context, plan *CollectionPlan) (*CollectionPlan, error) {
	started := o.now()
	plan.Status = PlanRunning
	plan.StartedAt = &started
	if o.resolver != nil {
		o.resolver.ResetSession()
	}

	planCtx, cancel := context.WithTimeout(ctx, plan.Deadline)
	defer cancel()

	completed := make(map[string]bool)
	// Buffered so a finishing goroutine never blocks: a task turns terminal
	// before it reports, and the loop may observe plan.done() in between.
	doneCh := make(chan *CollectionTask, len(plan.Tasks))
	running := 0

	launch := func(t *CollectionTask) {
		t.Status = TaskRunning
		at := o.now()
		t.StartedAt = &at
		running++
		go func() {
			o.executeTask(planCtx, t)
			doneCh <- t
		}()
	}

	finished := 0
	finish := func(t *CollectionTask) {
		running--
		finished++
		at := o.now()
		t.CompletedAt = &at
		completed[t.ID] = true
		if t.Status == TaskSuccess {
			plan.Succeeded++
		} else {
			plan.Failed++
		}
		o.logger.Info("task complete",
			"plan_id", plan.ID, "task_id", t.ID, "source", t.Source,
			"status", string(t.Status), "attempts", t.Attempts,
			"duration_ms", t.Duration().Milliseconds())
	}

	for finished < len(plan.Tasks) {
		for _, t := range plan.readyTasks(completed) {
			if running >= plan.Concurrency {
				break
			}
			launch(t)
		}

		if running == 0 {
			// Remaining tasks are unreachable (their dependencies left the
			// plan or were cancelled). Cancel them.
			for _, t := range plan.Tasks {
				if t.Status == TaskPending {
					t.Status = TaskCancelled
					completed[t.ID] = true
					finished++
					plan.Failed++
				}
			}
			continue
		}

		select {
		case t := <-doneCh:
			finish(t)
		case <-time.After(schedulerTick):
			// Re-check readiness promptly even when nothing finished.
		case <-planCtx.Done():
			// Deadline: running tasks see the cancelled context and unwind;
			// collect them so no goroutine leaks, then mark the plan.
			for running > 0 {
				t := <-doneCh
				if !t.Status.terminal() || t.Status == TaskRunning {
					t.Status = TaskCancelled
				}
				finish(t)
			}
			for _, t := range plan.Tasks {
				if t.Status == TaskPending {
					t.Status = TaskCancelled
				}
			}
			plan.Status = PlanTimeout
			at := o.now()
			plan.CompletedAt = &at
			o.logger.Warn("plan deadline exceeded", "plan_id", plan.ID, "deadline", plan.Deadline)
			return plan, fmt.Errorf("plan %s deadline exceeded", plan.ID)
		}
	}

	plan.Status = PlanCompleted
	at := o.now()
	plan.CompletedAt = &at
	o.logger.Info("plan complete",
		"plan_id", plan.ID, "succeeded", plan.Succeeded, "failed", plan.Failed,
		"duration_ms", at.Sub(started).Milliseconds())
	return plan, nil
}

// executeTask is the per-task path: rate limit, breaker-guarded collection
// with retries, health analysis, persistence, alerting and recovery.
func (o *Orchestrator) executeTask(ctx context.Context, task *CollectionTask) {
	o.mu.Lock()
	cfg := o.sources[task.Source]
	col := o.collectors[task.Source]
	o.mu.Unlock()
	if col == nil {
		task.Status = TaskFailed
		task.Error = "no collector registered"
		return
	}

	if _, err := o.limiter.Acquire(ctx, task.Source, 1); err != nil {
		task.Status = TaskCancelled
		task.Error = "cancelled while rate limited: " + err.Error()
		return
	}

	res, err := o.collectWithRetries(ctx, task, col)
	success := err == nil && res != nil && res.Success
	o.limiter.RecordResult(task.Source, success)

	if err != nil {
		if ctx.Err() != nil {
			task.Status = TaskCancelled
			task.Error = ctx.Err().Error()
			return
		}
		task.Error = err.Error()
		var cerr *domain.CollectionError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			task.Status = TaskTimeout
		case errors.As(err, &cerr) && cerr.Kind == domain.ErrKindThrottled:
			task.Status = TaskRateLimited
		default:
			task.Status = TaskFailed
		}
		// Failed attempts still feed health metrics.
		res = &collector.CollectionResult{
			Success: false, Source: task.Source,
			Timestamp: domain.NormalizeInstant(o.now()),
			Errors:    []string{err.Error()},
		}
	}
	task.Result = res

	analysis := o.analyzer.Analyze(res, cfg.Expectation)
	task.Analysis = analysis

	metrics, _ := o.analyzer.Metrics(task.Source)
	if o.snapshots != nil {
		if err := o.snapshots.SaveHealthSnapshot(ctx, metrics); err != nil {
			o.logger.Error("save health snapshot failed", "source", task.Source, "error", err)
		}
	}
	o.alerts.EvaluateResult(ctx, analysis, metrics)

	// Persist raw records and feed the synchronizer. Cancelled tasks never
	// reach this point, so partial results are dropped.
	if res.Success && len(res.Data) > 0 {
		if o.raw != nil {
			if _, err := o.raw.InsertRaw(ctx, res.Data); err != nil {
				o.logger.Error("persist raw records failed", "source", task.Source, "error", err)
			}
		}
		if o.syncBuf != nil {
			o.syncBuf.AddData(res.Data, task.Source, res.Timestamp)
		}
	}

	if task.Status == TaskPending || task.Status == TaskRunning {
		if res.Success && analysis.ConfidenceScore >= confidenceFloor {
			task.Status = TaskSuccess
		} else {
			task.Status = TaskFailed
		}
	}

	o.maybeStartRecovery(task.Source, metrics, analysis.ConfidenceScore, analysis.FailurePatterns)
}

// collectWithRetries drives the breaker-guarded collector with the task's
// timeout and exponential-backoff retries on transient failures. A task
// timeout is terminal — no retry within the same task.
func (o *Orchestrator) collectWithRetries(ctx context.Context, task *CollectionTask, col collector.Collector) (*collector.CollectionResult, error) {
	breaker := o.breakers.For(task.Source)
	var lastErr error

	for attempt := 0; attempt <= task.MaxRetries; attempt++ {
		task.Attempts++

		attemptCtx := ctx
		var cancel context.CancelFunc
		if task.Timeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, task.Timeout)
		}

		out, err := breaker.Call(attemptCtx, func(c context.Context) (any, error) {
			return col.Collect(c, task.Params)
		})
		if cancel != nil {
			cancel()
		}

		if err == nil {
			res, ok := out.(*collector.CollectionResult)
			if !ok {
				return nil, fmt.Errorf("unexpected result type %T from %s", out, task.Source)
			}
			return res, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return nil, err
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}

		var cerr *domain.CollectionError
		retryable := errors.As(err, &cerr) && cerr.Retryable()
		if errors.Is(err, guard.ErrCircuitOpen) {
			retryable = false
		}
		if !retryable || attempt == task.MaxRetries {
			return nil, err
		}

		backoff := time.Duration(float64(time.Second) * math.Pow(2, float64(attempt)))
		if backoff > time.Minute {
			backoff = time.Minute
		}
		o.logger.Warn("collection attempt failed, retrying",
			"source", task.Source, "attempt", task.Attempts, "backoff", backoff, "error", err)
		if sleepErr := o.sleep(ctx, backoff); sleepErr != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

// EnhancedMetrics is the nested operational view served by the health API.
func (o *Orchestrator) EnhancedMetrics(ctx context.Context) map[string]any {
	perSource := make(map[string]any)
	for src, m := range o.analyzer.AllMetrics() {
		var lastSuccess any
		if m.LastSuccessAt != nil {
			lastSuccess = m.LastSuccessAt.Format(time.RFC3339)
		}
		perSource[src] = map[string]any{
			"status":               string(m.Status()),
			"success_rate":         m.SuccessRate,
			"confidence_score":     m.ConfidenceScore,
			"consecutive_failures": m.ConsecutiveFailures,
			"gap_hours":            m.GapDuration.Hours(),
			"last_success":         lastSuccess,
			"avg_response_ms":      m.AvgResponseTimeMS,
			"alert_level":          string(m.AlertLevel),
		}
	}

	recovery := make(map[string]any)
	for src, p := range o.ActiveRecoveryPlans() {
		recovery[src] = map[string]any{
			"plan_id": p.ID,
			"actions": p.Actions,
			"current": p.Current,
		}
	}

	summary := map[string]int{}
	if active, err := o.alerts.ListActive(ctx, alert.Filter{}); err == nil {
		for _, a := range active {
			summary[string(a.Severity)]++
		}
	}

	return map[string]any{
		"sources":          perSource,
		"circuit_breakers": o.breakers.Snapshots(),
		"recovery_plans":   recovery,
		"alert_summary":    summary,
		"rate_limits":      o.rateLimitMetrics(),
	}
}

func (o *Orchestrator) rateLimitMetrics() map[string]any {
	out := make(map[string]any)
	o.mu.Lock()
	order := make([]string, len(o.order))
	copy(order, o.order)
	o.mu.Unlock()
	for _, src := range order {
		out[src] = o.limiter.Metrics(src)
	}
	return out
}

// TestSource probes one source's connectivity.
func (o *Orchestrator) TestSource(ctx context.Context, source string) (bool, error) {
	o.mu.Lock()
	col, ok := o.collectors[source]
	o.mu.Unlock()
	if !ok {
		return false, domain.ErrNotFound("source", source)
	}
	return col.TestConnection(ctx), nil
}

// ResetBreaker forces a source's circuit closed.
func (o *Orchestrator) ResetBreaker(source string) error {
	o.mu.Lock()
	_, ok := o.collectors[source]
	o.mu.Unlock()
	if !ok {
		return domain.ErrNotFound("source", source)
	}
	o.breakers.For(source).Reset()
	return nil
}

// Cleanup releases every collector.
func (o *Orchestrator) Cleanup() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, col := range o.collectors {
		col.Cleanup()
	}
}
