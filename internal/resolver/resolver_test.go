package resolver

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeGameStore struct {
	mu       sync.Mutex
	rows     map[string]string // "source:externalID" -> canonicalID
	lookups  int32
	attached []string
	slow     chan struct{} // when set, FindCanonicalByExternalID blocks until closed
}

func newFakeGameStore() *fakeGameStore {
	return &fakeGameStore{rows: map[string]string{}}
}

func (s *fakeGameStore) FindCanonicalByExternalID(_ context.Context, source, externalID string) (string, bool, error) {
	if s.slow != nil {
		<-s.slow
	}
	atomic.AddInt32(&s.lookups, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.rows[source+":"+externalID]
	return id, ok, nil
}

func (s *fakeGameStore) AttachExternalID(_ context.Context, canonicalID, source, externalID, home, away string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[source+":"+externalID] = canonicalID
	s.attached = append(s.attached, canonicalID)
	return nil
}

type fakeSchedule struct {
	games []collector.ScheduleGame
	calls int32
}

func (s *fakeSchedule) GamesForDate(_ context.Context, _ time.Time) ([]collector.ScheduleGame, error) {
	atomic.AddInt32(&s.calls, 1)
	return s.games, nil
}

var gameDate = time.Date(2024, 7, 18, 0, 0, 0, 0, time.UTC)

func yankeesRedSox() []collector.ScheduleGame {
	return []collector.ScheduleGame{{
		GamePk:     745804,
		GameDate:   gameDate,
		HomeTeamID: 147, // NYY
		AwayTeamID: 111, // BOS
	}}
}

func TestResolveDirectStoreHit(t *testing.T) {
	store := newFakeGameStore()
	store.rows["action_network:g1"] = "745804"
	sched := &fakeSchedule{}
	r := New(store, sched, discardLogger())

	res, err := r.Resolve(context.Background(), ResolveRequest{
		ExternalID: "g1", Source: "action_network",
	})
	require.NoError(t, err)
	require.NotNil(t, res.CanonicalID)
	assert.Equal(t, "745804", *res.CanonicalID)
	assert.Equal(t, domain.ConfidenceHigh, res.Confidence)
	assert.Zero(t, atomic.LoadInt32(&sched.calls), "store hit skips the schedule API")
}

func TestResolveScheduleHitWithKnownDate(t *testing.T) {
	store := newFakeGameStore()
	sched := &fakeSchedule{games: yankeesRedSox()}
	r := New(store, sched, discardLogger())

	res, err := r.Resolve(context.Background(), ResolveRequest{
		ExternalID: "g2", Source: "action_network",
		HomeTeam: "New York Yankees", AwayTeam: "Boston Red Sox",
		Date: gameDate,
	})
	require.NoError(t, err)
	require.NotNil(t, res.CanonicalID)
	assert.Equal(t, "745804", *res.CanonicalID)
	assert.Equal(t, domain.ConfidenceHigh, res.Confidence)
	assert.Equal(t, []string{"745804"}, store.attached, "external id upserted onto the canonical row")
}

func TestResolveUnknownDateScansWindow(t *testing.T) {
	store := newFakeGameStore()
	sched := &fakeSchedule{games: yankeesRedSox()}
	r := New(store, sched, discardLogger())

	res, err := r.Resolve(context.Background(), ResolveRequest{
		ExternalID: "g3", Source: "sbd",
		HomeTeam: "Yankees", AwayTeam: "Red Sox",
	})
	require.NoError(t, err)
	require.NotNil(t, res.CanonicalID)
	assert.Equal(t, domain.ConfidenceMedium, res.Confidence, "hit without known date is medium confidence")
}

func TestResolveUnresolvableTeams(t *testing.T) {
	r := New(newFakeGameStore(), &fakeSchedule{}, discardLogger())

	res, err := r.Resolve(context.Background(), ResolveRequest{
		ExternalID: "g4", Source: "vsin",
		HomeTeam: "Gotham Knights", AwayTeam: "Metropolis Meteors",
		Date: gameDate,
	})
	require.NoError(t, err)
	assert.Nil(t, res.CanonicalID)
	assert.Equal(t, domain.ConfidenceNone, res.Confidence)
}

func TestResolveCachesSuccess(t *testing.T) {
	store := newFakeGameStore()
	store.rows["action_network:g1"] = "745804"
	r := New(store, &fakeSchedule{}, discardLogger())

	_, err := r.Resolve(context.Background(), ResolveRequest{ExternalID: "g1", Source: "action_network"})
	require.NoError(t, err)
	_, err = r.Resolve(context.Background(), ResolveRequest{ExternalID: "g1", Source: "action_network"})
	require.NoError(t, err)

	assert.Equal(t, int32(1), atomic.LoadInt32(&store.lookups), "second resolve served from memory")
}

func TestConcurrentResolvesDeduplicate(t *testing.T) {
	store := newFakeGameStore()
	store.rows["action_network:g1"] = "745804"
	store.slow = make(chan struct{})
	r := New(store, &fakeSchedule{}, discardLogger())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Resolution, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := r.Resolve(context.Background(), ResolveRequest{ExternalID: "g1", Source: "action_network"})
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	// Let all callers pile up on the in-flight lookup, then release the store.
	time.Sleep(50 * time.Millisecond)
	close(store.slow)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&store.lookups), "only the first caller touches the store")
	for i, res := range results {
		require.NotNil(t, res.CanonicalID, "caller %d", i)
		assert.Equal(t, "745804", *res.CanonicalID)
	}
}

func TestBatchResolveStats(t *testing.T) {
	store := newFakeGameStore()
	sched := &fakeSchedule{games: []collector.ScheduleGame{
		{GamePk: 745804, GameDate: gameDate, HomeTeamID: 147, AwayTeamID: 111}, // NYY vs BOS
		{GamePk: 745900, GameDate: gameDate, HomeTeamID: 119, AwayTeamID: 137}, // LAD vs SF
	}}
	r := New(store, sched, discardLogger())
	r.Prime("action_network", "g1", "745000")

	reqs := []ResolveRequest{
		{ExternalID: "g1", Source: "action_network"},
		{ExternalID: "g1", Source: "action_network"},
		{ExternalID: "g2", Source: "action_network", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
		{ExternalID: "g3", Source: "action_network", HomeTeam: "Dodgers", AwayTeam: "Giants", Date: gameDate},
	}

	out, stats, err := r.BatchResolve(context.Background(), reqs)
	require.NoError(t, err)

	assert.Len(t, out, 3)
	assert.Equal(t, 4, stats.BatchSize)
	assert.Equal(t, 3, stats.UniqueIDs)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Equal(t, 1, stats.APICallsAvoided, "the duplicate g1")
	assert.Equal(t, 3, stats.Resolved)
	assert.Equal(t, int32(2), atomic.LoadInt32(&sched.calls), "schedule API invoked only for g2 and g3")

	require.NotNil(t, out["g1"].CanonicalID)
	assert.Equal(t, "745000", *out["g1"].CanonicalID)
}

func TestBatchResolveDuplicateHeavy(t *testing.T) {
	store := newFakeGameStore()
	sched := &fakeSchedule{games: yankeesRedSox()}
	r := New(store, sched, discardLogger())

	reqs := []ResolveRequest{
		{ExternalID: "g1", Source: "a", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
		{ExternalID: "g1", Source: "a", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
		{ExternalID: "g1", Source: "a", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
		{ExternalID: "g2", Source: "a", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
		{ExternalID: "g2", Source: "a", HomeTeam: "Yankees", AwayTeam: "Red Sox", Date: gameDate},
	}

	_, stats, err := r.BatchResolve(context.Background(), reqs)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.UniqueIDs)
	assert.LessOrEqual(t, atomic.LoadInt32(&sched.calls), int32(2), "at most one live lookup per unique id")
}

func TestResetSessionKeepsMemoryTier(t *testing.T) {
	store := newFakeGameStore()
	store.rows["a:g1"] = "1"
	r := New(store, &fakeSchedule{}, discardLogger())

	_, err := r.Resolve(context.Background(), ResolveRequest{ExternalID: "g1", Source: "a"})
	require.NoError(t, err)

	r.ResetSession()

	_, err = r.Resolve(context.Background(), ResolveRequest{ExternalID: "g1", Source: "a"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&store.lookups), "memory tier survives session reset")
}
