package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharpline/pipeline/internal/alert"
	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/guard"
	"github.com/sharpline/pipeline/internal/health"
	"github.com/sharpline/pipeline/internal/timesync"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockCollector scripts per-call outcomes.
type mockCollector struct {
	mu            sync.Mutex
	name          string
	source        string
	results       []*collector.CollectionResult
	errs          []error
	calls         int
	testConnCalls int32
	testConnOK    bool
	cleanups      int
	collectDelay  time.Duration
	started       []time.Time
}

func (m *mockCollector) Name() string { return m.name }

func (m *mockCollector) TestConnection(ctx context.Context) bool {
	atomic.AddInt32(&m.testConnCalls, 1)
	return m.testConnOK
}

func (m *mockCollector) Cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleanups++
}

func (m *mockCollector) Collect(ctx context.Context, _ collector.Params) (*collector.CollectionResult, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.started = append(m.started, time.Now())
	delay := m.collectDelay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if idx < len(m.errs) && m.errs[idx] != nil {
		return nil, m.errs[idx]
	}
	if idx < len(m.results) {
		return m.results[idx], nil
	}
	if len(m.results) > 0 {
		return m.results[len(m.results)-1], nil
	}
	return &collector.CollectionResult{Success: true, Source: m.source, Timestamp: time.Now().UTC()}, nil
}

func okRecords(source string, n int) *collector.CollectionResult {
	data := make([]domain.RawRecord, n)
	for i := range data {
		data[i] = domain.RawRecord{Source: source, CollectorName: "mock", ExternalGameID: "g", Payload: []byte("{}")}
	}
	return &collector.CollectionResult{
		Success:   true,
		Data:      data,
		Source:    source,
		Timestamp: time.Now().UTC(),
	}
}

type memorySinks struct {
	mu        sync.Mutex
	raw       []domain.RawRecord
	snapshots []domain.CollectionHealthMetrics
}

func (s *memorySinks) InsertRaw(_ context.Context, records []domain.RawRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.raw = append(s.raw, records...)
	return len(records), nil
}

func (s *memorySinks) SaveHealthSnapshot(_ context.Context, m domain.CollectionHealthMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots = append(s.snapshots, m)
	return nil
}

type alertStore struct {
	mu     sync.Mutex
	alerts []*domain.Alert
}

func (s *alertStore) Insert(_ context.Context, a *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}
func (s *alertStore) Resolve(_ context.Context, id uuid.UUID, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.alerts {
		if a.ID == id {
			a.Resolve(at, notes)
		}
	}
	return nil
}
func (s *alertStore) ListActive(_ context.Context, f alert.Filter) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if a.IsActive {
			out = append(out, *a)
		}
	}
	return out, nil
}
func (s *alertStore) LatestCollectionTimes(context.Context) (map[string]time.Time, error) {
	return nil, nil
}
func (s *alertStore) DeadTupleRatios(context.Context) (map[string]float64, error) {
	return nil, nil
}

func (s *alertStore) bySeverity(sev domain.AlertSeverity) []*domain.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Alert
	for _, a := range s.alerts {
		if a.Severity == sev {
			out = append(out, a)
		}
	}
	return out
}

type testRig struct {
	orch   *Orchestrator
	sinks  *memorySinks
	alerts *alertStore
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	logger := discardLogger()
	sinks := &memorySinks{}
	store := &alertStore{}

	limiter := guard.NewSourceLimiter(logger)
	breakers := guard.NewBreakerSet(guard.DefaultBreakerConfig(), logger)
	analyzer := health.NewAnalyzer(logger)
	alerts := alert.NewManager(store, alert.NewMemoryBookkeeper(), nil, logger)
	syncBuf := timesync.New(timesync.DefaultConfig(), nil, logger)

	orch := New(limiter, breakers, analyzer, alerts, nil, syncBuf, sinks, sinks,
		Options{MaxConcurrentTasks: 5, PlanDeadline: time.Minute}, logger)
	orch.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return &testRig{orch: orch, sinks: sinks, alerts: store}
}

func fastConfig(source string, prio Priority, deps ...string) SourceConfig {
	return SourceConfig{
		Name:       source,
		Enabled:    true,
		Priority:   prio,
		MaxRetries: 2,
		Timeout:    5 * time.Second,
		DependsOn:  deps,
		RateLimit: guard.RateLimitConfig{
			Strategy:          guard.StrategyTokenBucket,
			RequestsPerSecond: 1000,
			Burst:             1000,
		},
		Breaker: guard.DefaultBreakerConfig(),
	}
}

func TestHappyPath(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "mock", source: "src", testConnOK: true,
		results: []*collector.CollectionResult{okRecords("src", 10)}}
	rig.orch.RegisterSource(fastConfig("src", PriorityNormal), mock)

	plan, err := rig.orch.CreatePlan("happy", nil, 0, 0)
	require.NoError(t, err)

	plan, err = rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, PlanCompleted, plan.Status)
	assert.Equal(t, 1, plan.Succeeded)
	assert.Zero(t, plan.Failed)

	task := plan.TaskBySource("src")
	require.NotNil(t, task)
	assert.Equal(t, TaskSuccess, task.Status)

	assert.Len(t, rig.sinks.raw, 10, "all ten records persisted")
	assert.Empty(t, rig.alerts.alerts, "healthy run emits no alerts")

	m, ok := rig.orch.analyzer.Metrics("src")
	require.True(t, ok)
	assert.Equal(t, domain.HealthHealthy, m.Status())
}

func TestSilentSchemaChange(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "mock", source: "src", testConnOK: true,
		results: []*collector.CollectionResult{{
			Success: true, Source: "src", Timestamp: time.Now().UTC(),
		}}}
	rig.orch.RegisterSource(fastConfig("src", PriorityNormal), mock)

	plan, _ := rig.orch.CreatePlan("schema", nil, 0, 0)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	task := plan.TaskBySource("src")
	assert.Equal(t, TaskFailed, task.Status, "empty-but-successful fails the confidence floor")
	assert.True(t, task.Analysis.HasPattern(domain.PatternSchemaChange))
	assert.Empty(t, rig.sinks.raw, "no staging input from a schema-change result")

	critical := rig.alerts.bySeverity(domain.SeverityCritical)
	require.NotEmpty(t, critical)
	foundNonRecoverable := false
	for _, a := range critical {
		if !a.AutoRecoverable {
			foundNonRecoverable = true
		}
	}
	assert.True(t, foundNonRecoverable)

	// The recovery plan stops at manual intervention — the probe never runs.
	require.Eventually(t, func() bool {
		return len(rig.orch.ActiveRecoveryPlans()) == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&mock.testConnCalls), "no automatic retry beyond the manual-intervention alert")
}

func TestDependencyOrdering(t *testing.T) {
	rig := newRig(t)
	var order []string
	var mu sync.Mutex

	track := func(source string) *mockCollector {
		m := &mockCollector{name: source, source: source, testConnOK: true}
		m.results = []*collector.CollectionResult{okRecords(source, 5)}
		return m
	}

	schedule := track("schedule")
	odds := track("odds")

	rig.orch.RegisterSource(fastConfig("schedule", PriorityCritical), wrapOrdered(schedule, &mu, &order))
	rig.orch.RegisterSource(fastConfig("odds", PriorityNormal, "schedule"), wrapOrdered(odds, &mu, &order))

	plan, _ := rig.orch.CreatePlan("deps", nil, 0, 0)
	_, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, []string{"schedule", "odds"}, order, "dependency runs strictly first")
}

// wrapOrdered records collection start order.
type orderedCollector struct {
	*mockCollector
	mu    *sync.Mutex
	order *[]string
}

func wrapOrdered(m *mockCollector, mu *sync.Mutex, order *[]string) collector.Collector {
	return &orderedCollector{mockCollector: m, mu: mu, order: order}
}

func (o *orderedCollector) Collect(ctx context.Context, p collector.Params) (*collector.CollectionResult, error) {
	o.mu.Lock()
	*o.order = append(*o.order, o.source)
	o.mu.Unlock()
	return o.mockCollector.Collect(ctx, p)
}

func TestConcurrencyCap(t *testing.T) {
	rig := newRig(t)

	var inFlight, peak int32
	for _, name := range []string{"a", "b", "c", "d"} {
		name := name
		m := &concurrencyProbe{
			mockCollector: &mockCollector{name: name, source: name, testConnOK: true,
				results: []*collector.CollectionResult{okRecords(name, 3)}},
			inFlight: &inFlight, peak: &peak,
		}
		rig.orch.RegisterSource(fastConfig(name, PriorityNormal), m)
	}

	plan, _ := rig.orch.CreatePlan("cap", nil, 2, time.Minute)
	_, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2), "concurrency cap honored")
}

type concurrencyProbe struct {
	*mockCollector
	inFlight *int32
	peak     *int32
}

func (c *concurrencyProbe) Collect(ctx context.Context, p collector.Params) (*collector.CollectionResult, error) {
	cur := atomic.AddInt32(c.inFlight, 1)
	for {
		old := atomic.LoadInt32(c.peak)
		if cur <= old || atomic.CompareAndSwapInt32(c.peak, old, cur) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	defer atomic.AddInt32(c.inFlight, -1)
	return c.mockCollector.Collect(ctx, p)
}

func TestPlanDeadlineCancelsTasks(t *testing.T) {
	rig := newRig(t)
	slow := &mockCollector{name: "slow", source: "slow", testConnOK: true, collectDelay: 10 * time.Second}
	cfg := fastConfig("slow", PriorityNormal)
	cfg.Timeout = 30 * time.Second
	rig.orch.RegisterSource(cfg, slow)

	plan, _ := rig.orch.CreatePlan("deadline", nil, 1, 100*time.Millisecond)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.Error(t, err)

	assert.Equal(t, PlanTimeout, plan.Status)
	task := plan.TaskBySource("slow")
	assert.Equal(t, TaskCancelled, task.Status)
	assert.Empty(t, rig.sinks.raw, "partial results from cancelled tasks are discarded")
}

func TestTaskTimeoutIsTerminal(t *testing.T) {
	rig := newRig(t)
	slow := &mockCollector{name: "slow", source: "slow", testConnOK: true, collectDelay: time.Second}
	cfg := fastConfig("slow", PriorityNormal)
	cfg.Timeout = 50 * time.Millisecond
	cfg.MaxRetries = 3
	rig.orch.RegisterSource(cfg, slow)

	plan, _ := rig.orch.CreatePlan("timeout", nil, 0, time.Minute)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	task := plan.TaskBySource("slow")
	assert.Equal(t, TaskTimeout, task.Status)
	assert.Equal(t, 1, slow.calls, "no retry after a task-level timeout")
}

func TestRetriesOnTransientThenSuccess(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "m", source: "src", testConnOK: true,
		errs: []error{
			domain.NewTransientError("src", "flaky", nil),
			domain.NewTransientError("src", "flaky", nil),
		},
		results: []*collector.CollectionResult{nil, nil, okRecords("src", 5)},
	}
	rig.orch.RegisterSource(fastConfig("src", PriorityNormal), mock)

	plan, _ := rig.orch.CreatePlan("retry", nil, 0, 0)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	task := plan.TaskBySource("src")
	assert.Equal(t, TaskSuccess, task.Status)
	assert.Equal(t, 3, task.Attempts)
}

func TestThrottledFailureMarksRateLimited(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "m", source: "src", testConnOK: true,
		errs: []error{
			domain.NewThrottledError("src", "429"),
			domain.NewThrottledError("src", "429"),
			domain.NewThrottledError("src", "429"),
		}}
	cfg := fastConfig("src", PriorityNormal)
	cfg.MaxRetries = 2
	rig.orch.RegisterSource(cfg, mock)

	plan, _ := rig.orch.CreatePlan("throttle", nil, 0, 0)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	task := plan.TaskBySource("src")
	assert.Equal(t, TaskRateLimited, task.Status)
}

func TestBreakerOpensAndAlerts(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "m", source: "src", testConnOK: false}
	mock.errs = make([]error, 20)
	for i := range mock.errs {
		mock.errs[i] = domain.NewTransientError("src", "down", nil)
	}
	cfg := fastConfig("src", PriorityNormal)
	cfg.MaxRetries = 5
	cfg.Breaker.FailureThreshold = 3
	cfg.Breaker.EnableAutomaticRecovery = false
	rig.orch.RegisterSource(cfg, mock)

	plan, _ := rig.orch.CreatePlan("breaker", nil, 0, 0)
	plan, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	task := plan.TaskBySource("src")
	assert.Equal(t, TaskFailed, task.Status)

	var opened bool
	rig.alerts.mu.Lock()
	for _, a := range rig.alerts.alerts {
		if a.Type == domain.AlertCircuitOpen {
			opened = true
		}
	}
	rig.alerts.mu.Unlock()
	assert.True(t, opened, "breaker open raised an alert")

	snaps := rig.orch.breakers.Snapshots()
	assert.Equal(t, "open", snaps["src"]["state"])

	require.NoError(t, rig.orch.ResetBreaker("src"))
	snaps = rig.orch.breakers.Snapshots()
	assert.Equal(t, "closed", snaps["src"]["state"])
}

func TestPriorityOrderWithinTick(t *testing.T) {
	rig := newRig(t)
	var order []string
	var mu sync.Mutex

	for _, tc := range []struct {
		name string
		prio Priority
	}{
		{"low", PriorityLow},
		{"critical", PriorityCritical},
		{"normal", PriorityNormal},
	} {
		m := &mockCollector{name: tc.name, source: tc.name, testConnOK: true,
			results: []*collector.CollectionResult{okRecords(tc.name, 2)}}
		rig.orch.RegisterSource(fastConfig(tc.name, tc.prio), wrapOrdered(m, &mu, &order))
	}

	plan, _ := rig.orch.CreatePlan("prio", nil, 1, time.Minute)
	_, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	require.Equal(t, []string{"critical", "normal", "low"}, order)
}

func TestEnhancedMetricsShape(t *testing.T) {
	rig := newRig(t)
	mock := &mockCollector{name: "m", source: "src", testConnOK: true,
		results: []*collector.CollectionResult{okRecords("src", 5)}}
	rig.orch.RegisterSource(fastConfig("src", PriorityNormal), mock)

	plan, _ := rig.orch.CreatePlan("metrics", nil, 0, 0)
	_, err := rig.orch.ExecutePlan(context.Background(), plan)
	require.NoError(t, err)

	m := rig.orch.EnhancedMetrics(context.Background())
	sources, ok := m["sources"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, sources, "src")
	src := sources["src"].(map[string]any)
	assert.Equal(t, "healthy", src["status"])
	assert.Contains(t, m, "circuit_breakers")
	assert.Contains(t, m, "recovery_plans")
	assert.Contains(t, m, "alert_summary")
}

func TestCreatePlanUnknownSource(t *testing.T) {
	rig := newRig(t)
	_, err := rig.orch.CreatePlan("bad", []string{"nope"}, 0, 0)
	assert.Error(t, err)
}

func TestRecoveryPlanMapping(t *testing.T) {
	now := time.Now()
	p := buildRecoveryPlan("s", []domain.FailurePattern{domain.PatternSchemaChange}, now)
	assert.Equal(t, []RecoveryAction{ActionAlertManualIntervention, ActionEnableDegraded}, p.Actions)

	p = buildRecoveryPlan("s", []domain.FailurePattern{domain.PatternRateLimiting}, now)
	assert.Equal(t, []RecoveryAction{ActionRetryWithBackoff, ActionEnableDegraded}, p.Actions)

	p = buildRecoveryPlan("s", []domain.FailurePattern{domain.PatternNetworkTimeout}, now)
	assert.Equal(t, []RecoveryAction{ActionRetryWithBackoff, ActionRestartCollector, ActionSwitchToFallback}, p.Actions)

	p = buildRecoveryPlan("s", nil, now)
	assert.Equal(t, []RecoveryAction{ActionRetry, ActionRestartCollector, ActionEnableDegraded, ActionAlertManualIntervention}, p.Actions)
}
