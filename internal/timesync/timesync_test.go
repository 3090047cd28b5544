package timesync

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var T = time.Date(2024, 7, 18, 18, 0, 0, 0, time.UTC)

func TestBufferWindowGroupsAndSorts(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.now = func() time.Time { return T }

	b.Add("a2", "A", T.Add(20*time.Second))
	b.Add("a1", "A", T.Add(10*time.Second))
	b.Add("b1", "B", T.Add(15*time.Second))
	b.Add("outside", "A", T.Add(10*time.Minute))

	sets, err := b.Window(T.Add(15*time.Second), 30*time.Second, nil, true)
	require.NoError(t, err)
	require.Len(t, sets["A"], 2)
	require.Len(t, sets["B"], 1)
	assert.Equal(t, "a1", sets["A"][0].Data, "entries sorted by timestamp")
	assert.Equal(t, "a2", sets["A"][1].Data)
}

func TestBufferWindowRequiredSources(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.now = func() time.Time { return T }
	b.Add("a1", "A", T)

	_, err := b.Window(T, time.Minute, []string{"A", "B"}, false)
	assert.Error(t, err, "missing required source raises")

	sets, err := b.Window(T, time.Minute, []string{"A", "B"}, true)
	require.NoError(t, err)
	assert.Len(t, sets["A"], 1, "partial mode returns what exists")
}

func TestBufferCleanupEvictsByAge(t *testing.T) {
	b := NewBuffer(time.Hour)
	now := T
	b.now = func() time.Time { return now }

	b.Add("old", "A", T.Add(-30*time.Minute))
	b.Add("fresh", "A", T.Add(-30*time.Second))

	removed := b.Cleanup(time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, b.Len())
}

func TestBufferSequenceIDsMonotonic(t *testing.T) {
	b := NewBuffer(time.Hour)
	b.now = func() time.Time { return T }
	b.Add("x", "A", T)
	b.Add("y", "A", T)

	sets, _ := b.Window(T, time.Minute, nil, true)
	require.Len(t, sets["A"], 2)
	assert.Less(t, sets["A"][0].SequenceID, sets["A"][1].SequenceID)
}

func TestBestAlignmentPicksTightestCombination(t *testing.T) {
	sets := map[string][]Entry{
		"A": {
			{Source: "A", CollectedAt: T},
			{Source: "A", CollectedAt: T.Add(100 * time.Second)},
		},
		"B": {
			{Source: "B", CollectedAt: T.Add(95 * time.Second)},
		},
	}

	aligned, ok := BestAlignment(sets, 180*time.Second)
	require.True(t, ok)
	assert.Equal(t, T.Add(100*time.Second), aligned["A"].CollectedAt, "the 5s spread beats the 95s spread")
}

func TestBestAlignmentRespectsMaxDiff(t *testing.T) {
	sets := map[string][]Entry{
		"A": {{Source: "A", CollectedAt: T}},
		"B": {{Source: "B", CollectedAt: T.Add(10 * time.Minute)}},
	}
	_, ok := BestAlignment(sets, 180*time.Second)
	assert.False(t, ok)
}

func TestBestAlignmentEmptySourceFails(t *testing.T) {
	sets := map[string][]Entry{
		"A": {{Source: "A", CollectedAt: T}},
		"B": {},
	}
	_, ok := BestAlignment(sets, time.Minute)
	assert.False(t, ok)
}

func TestQualityScorePerfectSpacing(t *testing.T) {
	stamps := []time.Time{T, T.Add(60 * time.Second), T.Add(120 * time.Second), T.Add(180 * time.Second)}
	assert.Equal(t, 1.0, QualityScore(stamps, 60*time.Second))
}

func TestQualityScoreDegradesWithUnevenSpacing(t *testing.T) {
	stamps := []time.Time{T, T.Add(120 * time.Second)}
	q := QualityScore(stamps, 60*time.Second)
	assert.Less(t, q, 0.7)
	assert.GreaterOrEqual(t, q, 0.0)
}

func TestTimingAnomalies(t *testing.T) {
	assert.Empty(t, TimingAnomalies([]time.Time{T, T.Add(120 * time.Second)}))
	assert.NotEmpty(t, TimingAnomalies([]time.Time{T, T.Add(200 * time.Second)}))
}

func TestIsHighQuality(t *testing.T) {
	assert.True(t, IsHighQuality(0.8, nil))
	assert.False(t, IsHighQuality(0.6, nil))
	assert.False(t, IsHighQuality(0.9, []string{"spread"}))
}

// Cross-source alignment scenario: A emits at T+0, B at T+120. The aligned
// pair is within tolerance but stale for a 60s freshness requirement until a
// wider re-collection runs.
func TestCrossSourceAlignmentScenario(t *testing.T) {
	cfg := DefaultConfig()
	now := T.Add(130 * time.Second)

	collected := false
	var s *Synchronizer
	s = New(cfg, func(ctx context.Context, sources []string, deadline time.Time) error {
		collected = true
		// The triggered attempt lands fresh results for both sources.
		s.AddData("a-fresh", "A", now.Add(5*time.Second))
		s.AddData("b-fresh", "B", now.Add(8*time.Second))
		now = now.Add(10 * time.Second)
		return nil
	}, discardLogger())
	s.now = func() time.Time { return now }
	s.buffer.now = s.now

	s.AddData("a0", "A", T)
	s.AddData("b0", "B", T.Add(120*time.Second))

	// The buffered pair aligns within the 180s tolerance...
	sets, err := s.Window(T.Add(60*time.Second), 240*time.Second, []string{"A", "B"})
	require.NoError(t, err)
	aligned, ok := BestAlignment(sets, 180*time.Second)
	require.True(t, ok)
	assert.Len(t, aligned, 2)

	// ...but its quality is poor and it fails a 60s freshness bound, so the
	// service triggers a fresh synchronized collection.
	got := s.GetTimeAlignedData(context.Background(), []string{"A", "B"}, 60*time.Second, 240*time.Second)
	require.NotNil(t, got)
	assert.True(t, collected, "stale alignment forced a re-collection")
	assert.Equal(t, "a-fresh", got["A"].Data)
	assert.Equal(t, "b-fresh", got["B"].Data)
}

func TestGetTimeAlignedDataServesCache(t *testing.T) {
	now := T
	calls := 0
	var s *Synchronizer
	s = New(DefaultConfig(), func(ctx context.Context, sources []string, deadline time.Time) error {
		calls++
		s.AddData("a", "A", now)
		s.AddData("b", "B", now)
		return nil
	}, discardLogger())
	s.now = func() time.Time { return now }
	s.buffer.now = s.now

	got := s.GetTimeAlignedData(context.Background(), []string{"A", "B"}, time.Minute, time.Minute)
	require.NotNil(t, got)
	require.Equal(t, 1, calls)

	// Within maxAge the cached alignment is reused without re-collecting.
	now = now.Add(30 * time.Second)
	got = s.GetTimeAlignedData(context.Background(), []string{"A", "B"}, time.Minute, time.Minute)
	require.NotNil(t, got)
	assert.Equal(t, 1, calls)
}

func TestGetTimeAlignedDataNeverServesWideSpread(t *testing.T) {
	s := New(DefaultConfig(), nil, discardLogger())
	now := T.Add(300 * time.Second)
	s.now = func() time.Time { return now }
	s.buffer.now = s.now

	// 200s apart: inside the buffer, but past the 3-minute spread rule.
	s.AddData("a", "A", T)
	s.AddData("b", "B", T.Add(200*time.Second))

	got := s.GetTimeAlignedData(context.Background(), []string{"A", "B"}, 600*time.Second, 600*time.Second)
	assert.Nil(t, got)
}
