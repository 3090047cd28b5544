package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/health"
)

// Filter narrows active-alert listings.
type Filter struct {
	Source   string
	Severity domain.AlertSeverity
	Type     domain.AlertType
}

// Store is the durable alert state: the audit table plus the operational
// queries the detectors run.
type Store interface {
	Insert(ctx context.Context, a *domain.Alert) error
	Resolve(ctx context.Context, id uuid.UUID, notes string, at time.Time) error
	ListActive(ctx context.Context, f Filter) ([]domain.Alert, error)
	LatestCollectionTimes(ctx context.Context) (map[string]time.Time, error)
	DeadTupleRatios(ctx context.Context) (map[string]float64, error)
}

// Manager owns the alert lifecycle: rule evaluation, rate limiting,
// deduplicated emission, multi-channel delivery and resolution.
type Manager struct {
	mu       sync.Mutex
	rules    map[string]*Rule
	store    Store
	book     Bookkeeper
	channels []Channel
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager creates the alert manager. The process constructs exactly one.
func NewManager(store Store, book Bookkeeper, channels []Channel, logger *slog.Logger) *Manager {
	m := &Manager{
		rules:    make(map[string]*Rule),
		store:    store,
		book:     book,
		channels: channels,
		logger:   logger,
		now:      time.Now,
	}
	for _, r := range DefaultRules() {
		rule := r
		m.rules[rule.ID] = &rule
	}
	return m
}

// Rules returns a copy of the rule set.
func (m *Manager) Rules() []Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Rule, 0, len(m.rules))
	for _, r := range m.rules {
		out = append(out, *r)
	}
	return out
}

// SetRuleEnabled toggles one rule.
func (m *Manager) SetRuleEnabled(id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rules[id]
	if !ok {
		return domain.ErrNotFound("alert rule", id)
	}
	r.Enabled = enabled
	return nil
}

// EvaluateResult runs every enabled rule against one analyzed result and
// emits the alerts whose cooldown and hourly budget allow it.
func (m *Manager) EvaluateResult(ctx context.Context, an *health.Analysis, metrics domain.CollectionHealthMetrics) []*domain.Alert {
	m.mu.Lock()
	rules := make([]*Rule, 0, len(m.rules))
	for _, r := range m.rules {
		if r.Enabled {
			rules = append(rules, r)
		}
	}
	m.mu.Unlock()

	var emitted []*domain.Alert
	for _, rule := range rules {
		if !rule.Condition.Eval(an, metrics) {
			continue
		}

		ok, err := m.book.Allow(ctx, rule.ID, an.Source, rule.Cooldown, rule.MaxAlertsPerHour)
		if err != nil {
			m.logger.Error("alert bookkeeping failed", "rule", rule.ID, "source", an.Source, "error", err)
			continue
		}
		if !ok {
			continue
		}

		a := m.buildAlert(rule, an, metrics)
		m.Emit(ctx, a, rule.Channels)
		emitted = append(emitted, a)
	}
	return emitted
}

func (m *Manager) buildAlert(rule *Rule, an *health.Analysis, metrics domain.CollectionHealthMetrics) *domain.Alert {
	alertType := domain.AlertCollectionFailure
	if an.HasPattern(domain.PatternSchemaChange) {
		alertType = domain.AlertSchemaChange
	}

	meta, _ := json.Marshal(map[string]any{
		"rule_id":              rule.ID,
		"confidence_score":     an.ConfidenceScore,
		"consecutive_failures": metrics.ConsecutiveFailures,
		"gap_hours":            metrics.GapDuration.Hours(),
		"failure_patterns":     an.FailurePatterns,
	})

	return &domain.Alert{
		ID:       uuid.New(),
		Source:   an.Source,
		Type:     alertType,
		Severity: rule.Severity,
		Message: fmt.Sprintf("rule %s matched for %s (confidence %.2f, consecutive failures %d)",
			rule.ID, an.Source, an.ConfidenceScore, metrics.ConsecutiveFailures),
		CreatedAt:           m.now(),
		IsActive:            true,
		AutoRecoverable:     an.AutoRecoverable,
		Metadata:            meta,
		RecoverySuggestions: an.Suggestions,
	}
}

// Emit stores the alert and delivers it on the selected channels. A failing
// channel is logged and skipped; the rest still deliver.
func (m *Manager) Emit(ctx context.Context, a *domain.Alert, flags ChannelFlags) {
	if err := m.store.Insert(ctx, a); err != nil {
		m.logger.Error("store alert failed", "alert_id", a.ID, "error", err)
	}

	for _, ch := range m.channels {
		if !channelSelected(ch.Name(), flags) {
			continue
		}
		if err := ch.Deliver(ctx, a); err != nil {
			m.logger.Error("alert delivery failed",
				"channel", ch.Name(), "alert_id", a.ID, "error", err)
		}
	}

	m.logger.Warn("alert emitted",
		"alert_id", a.ID, "source", a.Source, "type", a.Type,
		"severity", a.Severity, "message", a.Message)
}

func channelSelected(name string, flags ChannelFlags) bool {
	switch name {
	case "email":
		return flags.Email
	case "webhook":
		return flags.Webhook
	case "chat":
		return flags.Chat
	}
	return false
}

// EmitOperational stores and broadcasts an alert built outside the rule
// path (recovery loops, detectors wired elsewhere).
func (m *Manager) EmitOperational(ctx context.Context, a *domain.Alert) {
	m.Emit(ctx, a, ChannelFlags{Email: true, Webhook: true, Chat: true})
}

// CircuitOpened emits the breaker-open alert for a source.
func (m *Manager) CircuitOpened(ctx context.Context, source, reason string) *domain.Alert {
	a := &domain.Alert{
		ID:              uuid.New(),
		Source:          source,
		Type:            domain.AlertCircuitOpen,
		Severity:        domain.SeverityCritical,
		Message:         fmt.Sprintf("circuit breaker opened for %s: %s", source, reason),
		CreatedAt:       m.now(),
		IsActive:        true,
		AutoRecoverable: true,
	}
	m.Emit(ctx, a, ChannelFlags{Email: true, Webhook: true, Chat: true})
	return a
}

// CircuitRecovered emits the recovery notice and resolves any active
// circuit-open alerts for the source.
func (m *Manager) CircuitRecovered(ctx context.Context, source string) *domain.Alert {
	active, err := m.store.ListActive(ctx, Filter{Source: source, Type: domain.AlertCircuitOpen})
	if err == nil {
		for _, prev := range active {
			if err := m.store.Resolve(ctx, prev.ID, "circuit recovered", m.now()); err != nil {
				m.logger.Error("resolve circuit alert failed", "alert_id", prev.ID, "error", err)
			}
		}
	}

	a := &domain.Alert{
		ID:              uuid.New(),
		Source:          source,
		Type:            domain.AlertCircuitRecovered,
		Severity:        domain.SeverityInfo,
		Message:         fmt.Sprintf("circuit breaker recovered for %s", source),
		CreatedAt:       m.now(),
		IsActive:        false,
		AutoRecoverable: true,
	}
	m.Emit(ctx, a, ChannelFlags{Webhook: true, Chat: true})
	return a
}

// ResolveAlert marks an alert inactive with notes.
func (m *Manager) ResolveAlert(ctx context.Context, id uuid.UUID, notes string) error {
	return m.store.Resolve(ctx, id, notes, m.now())
}

// ListActive lists active alerts, optionally filtered.
func (m *Manager) ListActive(ctx context.Context, f Filter) ([]domain.Alert, error) {
	return m.store.ListActive(ctx, f)
}
