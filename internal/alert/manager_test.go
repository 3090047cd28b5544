package alert

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/health"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var T = time.Date(2024, 7, 18, 18, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu       sync.Mutex
	alerts   []*domain.Alert
	latest   map[string]time.Time
	ratios   map[string]float64
	resolved []uuid.UUID
}

func newFakeStore() *fakeStore {
	return &fakeStore{latest: map[string]time.Time{}, ratios: map[string]float64{}}
}

func (s *fakeStore) Insert(_ context.Context, a *domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, a)
	return nil
}

func (s *fakeStore) Resolve(_ context.Context, id uuid.UUID, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolved = append(s.resolved, id)
	for _, a := range s.alerts {
		if a.ID == id {
			a.Resolve(at, notes)
		}
	}
	return nil
}

func (s *fakeStore) ListActive(_ context.Context, f Filter) ([]domain.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Alert
	for _, a := range s.alerts {
		if !a.IsActive {
			continue
		}
		if f.Source != "" && a.Source != f.Source {
			continue
		}
		if f.Severity != "" && a.Severity != f.Severity {
			continue
		}
		if f.Type != "" && a.Type != f.Type {
			continue
		}
		out = append(out, *a)
	}
	return out, nil
}

func (s *fakeStore) LatestCollectionTimes(_ context.Context) (map[string]time.Time, error) {
	return s.latest, nil
}

func (s *fakeStore) DeadTupleRatios(_ context.Context) (map[string]float64, error) {
	return s.ratios, nil
}

type recordingChannel struct {
	name      string
	delivered []*domain.Alert
	fail      bool
}

func (c *recordingChannel) Name() string { return c.name }
func (c *recordingChannel) Deliver(_ context.Context, a *domain.Alert) error {
	if c.fail {
		return assert.AnError
	}
	c.delivered = append(c.delivered, a)
	return nil
}

func newTestManager(store *fakeStore, channels ...Channel) *Manager {
	m := NewManager(store, NewMemoryBookkeeper(), channels, discardLogger())
	m.now = func() time.Time { return T }
	return m
}

func TestConditionEval(t *testing.T) {
	an := &health.Analysis{ConfidenceScore: 0.3, FailurePatterns: []domain.FailurePattern{domain.PatternSchemaChange}}
	m := domain.CollectionHealthMetrics{ConsecutiveFailures: 4, GapDuration: 3 * time.Hour}

	and := Condition{Op: OpAnd, Atoms: []Atom{
		{Kind: AtomConfidenceBelow, Threshold: 0.5},
		{Kind: AtomConsecutiveFailuresAtLeast, Threshold: 3},
	}}
	assert.True(t, and.Eval(an, m))

	and.Atoms[1].Threshold = 10
	assert.False(t, and.Eval(an, m))

	or := Condition{Op: OpOr, Atoms: []Atom{
		{Kind: AtomGapHoursAtLeast, Threshold: 10},
		{Kind: AtomHasPattern, Pattern: domain.PatternSchemaChange},
	}}
	assert.True(t, or.Eval(an, m))

	assert.False(t, Condition{}.Eval(an, m), "empty condition never fires")
}

func TestEvaluateResultEmitsSchemaChangeAlert(t *testing.T) {
	store := newFakeStore()
	chat := &recordingChannel{name: "chat"}
	m := newTestManager(store, chat)

	an := &health.Analysis{
		Source:          "action_network",
		ConfidenceScore: 0.2,
		FailurePatterns: []domain.FailurePattern{domain.PatternSchemaChange},
		AutoRecoverable: false,
	}
	emitted := m.EvaluateResult(context.Background(), an, domain.CollectionHealthMetrics{})

	require.NotEmpty(t, emitted)
	// low_confidence fires too and its alert carries the same type; pick the
	// schema_change rule's alert.
	var schema *domain.Alert
	for _, a := range emitted {
		if a.Type == domain.AlertSchemaChange && strings.Contains(string(a.Metadata), `"rule_id":"schema_change"`) {
			schema = a
		}
	}
	require.NotNil(t, schema)
	assert.Equal(t, domain.SeverityCritical, schema.Severity)
	assert.False(t, schema.AutoRecoverable)
	assert.NotEmpty(t, chat.delivered)
}

func TestCooldownSuppressesRepeatAlerts(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	an := &health.Analysis{Source: "vsin", ConfidenceScore: 0.1, AutoRecoverable: true}
	metrics := domain.CollectionHealthMetrics{ConsecutiveFailures: 5}

	first := m.EvaluateResult(context.Background(), an, metrics)
	second := m.EvaluateResult(context.Background(), an, metrics)

	assert.NotEmpty(t, first)
	assert.Empty(t, second, "cooldown suppresses the immediate repeat")
}

func TestChannelFailureDoesNotSuppressOthers(t *testing.T) {
	store := newFakeStore()
	bad := &recordingChannel{name: "webhook", fail: true}
	good := &recordingChannel{name: "chat"}
	m := newTestManager(store, bad, good)

	a := &domain.Alert{ID: uuid.New(), Source: "s", Type: domain.AlertCollectionFailure,
		Severity: domain.SeverityWarning, CreatedAt: T, IsActive: true}
	m.Emit(context.Background(), a, ChannelFlags{Webhook: true, Chat: true})

	assert.Len(t, good.delivered, 1, "chat delivery survives the webhook failure")
	assert.Len(t, store.alerts, 1)
}

func TestResolveAlert(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	a := &domain.Alert{ID: uuid.New(), Source: "s", IsActive: true, CreatedAt: T}
	store.Insert(context.Background(), a)

	require.NoError(t, m.ResolveAlert(context.Background(), a.ID, "fixed upstream"))
	assert.False(t, a.IsActive)
	require.NotNil(t, a.ResolvedAt)
	assert.Equal(t, "fixed upstream", a.ResolutionNotes)
}

func TestGapDetectorSeverities(t *testing.T) {
	store := newFakeStore()
	store.latest["five_hours"] = T.Add(-5 * time.Hour)
	store.latest["nine_hours"] = T.Add(-9 * time.Hour)
	store.latest["fresh"] = T.Add(-30 * time.Minute)
	m := newTestManager(store)

	alerts, err := m.CheckCollectionGaps(context.Background(), 4)
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	bySource := map[string]*domain.Alert{}
	for _, a := range alerts {
		bySource[a.Source] = a
	}
	require.Contains(t, bySource, "five_hours")
	require.Contains(t, bySource, "nine_hours")
	assert.Equal(t, domain.SeverityWarning, bySource["five_hours"].Severity)
	assert.Equal(t, domain.SeverityCritical, bySource["nine_hours"].Severity)
}

func TestDeadTupleDetector(t *testing.T) {
	store := newFakeStore()
	store.ratios["staging.unified_odds"] = 0.6
	store.ratios["raw_data.vsin_splits"] = 0.9
	store.ratios["curated.games"] = 0.1
	m := newTestManager(store)

	alerts, err := m.CheckDeadTuples(context.Background())
	require.NoError(t, err)
	require.Len(t, alerts, 2)

	for _, a := range alerts {
		assert.False(t, a.AutoRecoverable, "bloat needs a vacuum, not a retry")
		switch a.Source {
		case "staging.unified_odds":
			assert.Equal(t, domain.SeverityWarning, a.Severity)
		case "raw_data.vsin_splits":
			assert.Equal(t, domain.SeverityCritical, a.Severity)
		}
	}
}

func TestCascadeDetector(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	for _, src := range []string{"a", "b", "c"} {
		store.Insert(context.Background(), &domain.Alert{
			ID: uuid.New(), Source: src, Type: domain.AlertCollectionFailure,
			Severity: domain.SeverityCritical, CreatedAt: T.Add(-5 * time.Minute), IsActive: true,
		})
	}

	a, err := m.CheckCascade(context.Background(), 3, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, a)
	assert.Equal(t, domain.AlertCascade, a.Type)
	assert.Equal(t, domain.SeverityCritical, a.Severity)

	// Below the source threshold nothing fires.
	store2 := newFakeStore()
	m2 := newTestManager(store2)
	store2.Insert(context.Background(), &domain.Alert{
		ID: uuid.New(), Source: "only", Severity: domain.SeverityCritical,
		CreatedAt: T, IsActive: true, Type: domain.AlertCollectionFailure,
	})
	a, err = m2.CheckCascade(context.Background(), 3, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, a)
}

func TestCircuitLifecycleAlerts(t *testing.T) {
	store := newFakeStore()
	m := newTestManager(store)

	opened := m.CircuitOpened(context.Background(), "sbd", "failure threshold 5 reached")
	assert.Equal(t, domain.AlertCircuitOpen, opened.Type)
	assert.True(t, opened.IsActive)

	recovered := m.CircuitRecovered(context.Background(), "sbd")
	assert.Equal(t, domain.AlertCircuitRecovered, recovered.Type)
	assert.Contains(t, store.resolved, opened.ID, "recovery resolves the open alert")
}

func TestSetRuleEnabled(t *testing.T) {
	m := newTestManager(newFakeStore())

	require.NoError(t, m.SetRuleEnabled("low_confidence", false))
	for _, r := range m.Rules() {
		if r.ID == "low_confidence" {
			assert.False(t, r.Enabled)
		}
	}
	assert.Error(t, m.SetRuleEnabled("nope", true))
}

func TestMemoryBookkeeperBudget(t *testing.T) {
	b := NewMemoryBookkeeper()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := b.Allow(ctx, "r", "s", 0, 3)
		require.NoError(t, err)
		assert.True(t, ok, "emission %d within budget", i)
	}
	ok, err := b.Allow(ctx, "r", "s", 0, 3)
	require.NoError(t, err)
	assert.False(t, ok, "hourly budget exhausted")

	ok, _ = b.Allow(ctx, "r", "other-source", 0, 3)
	assert.True(t, ok, "budgets are per (rule, source)")
}
