package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sharpline/pipeline/internal/collector"
	"github.com/sharpline/pipeline/internal/domain"
)

// GameStore is the durable tier of the resolver cache: the canonical games
// table with one external-id column per source.
type GameStore interface {
	// FindCanonicalByExternalID looks up a canonical game id by a source's
	// external id column.
	FindCanonicalByExternalID(ctx context.Context, source, externalID string) (string, bool, error)

	// AttachExternalID upserts the external id onto the canonical game row,
	// creating the row when no game matches the canonical id yet.
	AttachExternalID(ctx context.Context, canonicalID, source, externalID, home, away string, gameDate time.Time) error
}

// ScheduleAPI is the authoritative game list consulted on cache misses.
type ScheduleAPI interface {
	GamesForDate(ctx context.Context, date time.Time) ([]collector.ScheduleGame, error)
}

// ResolveRequest asks for the canonical id of one externally-identified game.
type ResolveRequest struct {
	ExternalID string
	Source     string
	HomeTeam   string // provider name or code; standardized internally
	AwayTeam   string
	Date       time.Time // zero when the provider did not carry a date
}

func (r ResolveRequest) key() string { return r.Source + ":" + r.ExternalID }

// Resolution is the outcome of one resolve.
type Resolution struct {
	CanonicalID *string
	Confidence  domain.ResolutionConfidence
}

// BatchStats summarizes one BatchResolve call.
type BatchStats struct {
	BatchSize       int     `json:"batch_size"`
	UniqueIDs       int     `json:"unique_ids"`
	CacheHits       int     `json:"cache_hits"`
	APICallsAvoided int     `json:"api_calls_avoided"`
	Resolved        int     `json:"resolved"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
}

type cachedResolution struct {
	canonicalID string
	confidence  domain.ResolutionConfidence
}

// Resolver maps each source's game key to the canonical schedule game key.
// The process constructs exactly one instance; every component receives that
// handle. Three cache tiers: the process-lifetime memory map, the per-plan
// session map, and the games table. Concurrent resolves of the same key
// collapse into one in-flight lookup via a singleflight group — the second
// caller awaits the first's result instead of duplicating work.
type Resolver struct {
	store    GameStore
	schedule ScheduleAPI
	logger   *slog.Logger

	mu      sync.Mutex
	memory  map[string]cachedResolution
	session map[string]cachedResolution
	flight  singleflight.Group
}

// New creates the resolver.
func New(store GameStore, schedule ScheduleAPI, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:    store,
		schedule: schedule,
		logger:   logger,
		memory:   make(map[string]cachedResolution),
		session:  make(map[string]cachedResolution),
	}
}

// ResetSession clears the per-plan cache tier. The orchestrator calls this
// at plan start.
func (r *Resolver) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session = make(map[string]cachedResolution)
}

// Prime seeds the memory cache. Used at startup from the games table and by
// tests.
func (r *Resolver) Prime(source, externalID, canonicalID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.memory[source+":"+externalID] = cachedResolution{canonicalID: canonicalID, confidence: domain.ConfidenceHigh}
}

// Resolve maps one external id to its canonical game id. A nil CanonicalID
// with ConfidenceNone means the game could not be matched; rows are stored
// unresolved and reprocessing may fill the id later.
func (r *Resolver) Resolve(ctx context.Context, req ResolveRequest) (Resolution, error) {
	key := req.key()

	r.mu.Lock()
	if hit, ok := r.cachedLocked(key); ok {
		r.mu.Unlock()
		return hit, nil
	}
	r.mu.Unlock()

	// DoChan rather than Do so a waiting caller still honors its own
	// context; the shared lookup runs on the first caller's context.
	ch := r.flight.DoChan(key, func() (any, error) {
		res, err := r.resolveUncached(ctx, req)
		if err == nil && res.CanonicalID != nil {
			entry := cachedResolution{canonicalID: *res.CanonicalID, confidence: res.Confidence}
			r.mu.Lock()
			r.memory[key] = entry
			r.session[key] = entry
			r.mu.Unlock()
		}
		return res, err
	})

	select {
	case out := <-ch:
		if out.Err != nil {
			return Resolution{Confidence: domain.ConfidenceNone}, out.Err
		}
		return out.Val.(Resolution), nil
	case <-ctx.Done():
		return Resolution{Confidence: domain.ConfidenceNone}, ctx.Err()
	}
}

func (r *Resolver) cachedLocked(key string) (Resolution, bool) {
	if hit, ok := r.memory[key]; ok {
		id := hit.canonicalID
		return Resolution{CanonicalID: &id, Confidence: hit.confidence}, true
	}
	if hit, ok := r.session[key]; ok {
		id := hit.canonicalID
		return Resolution{CanonicalID: &id, Confidence: hit.confidence}, true
	}
	return Resolution{}, false
}

func (r *Resolver) resolveUncached(ctx context.Context, req ResolveRequest) (Resolution, error) {
	// Durable tier.
	if canonicalID, ok, err := r.store.FindCanonicalByExternalID(ctx, req.Source, req.ExternalID); err != nil {
		return Resolution{Confidence: domain.ConfidenceNone}, fmt.Errorf("games lookup: %w", err)
	} else if ok {
		return Resolution{CanonicalID: &canonicalID, Confidence: domain.ConfidenceHigh}, nil
	}

	home, away, ok := StandardizePair(req.HomeTeam, req.AwayTeam)
	if !ok {
		r.logger.Debug("unresolvable team names",
			"source", req.Source, "external_id", req.ExternalID,
			"home", req.HomeTeam, "away", req.AwayTeam)
		return Resolution{Confidence: domain.ConfidenceNone}, nil
	}

	// Schedule tier.
	if !req.Date.IsZero() {
		canonicalID, found, err := r.matchSchedule(ctx, home, away, req.Date)
		if err != nil {
			return Resolution{Confidence: domain.ConfidenceNone}, err
		}
		if found {
			r.attach(ctx, canonicalID, req, home, away, req.Date)
			return Resolution{CanonicalID: &canonicalID, Confidence: domain.ConfidenceHigh}, nil
		}
		return Resolution{Confidence: domain.ConfidenceNone}, nil
	}

	// Date unknown: scan a ±7 day window around today.
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for offset := 0; offset <= 7; offset++ {
		for _, sign := range []int{1, -1} {
			if offset == 0 && sign == -1 {
				continue
			}
			date := today.AddDate(0, 0, sign*offset)
			canonicalID, found, err := r.matchSchedule(ctx, home, away, date)
			if err != nil {
				return Resolution{Confidence: domain.ConfidenceNone}, err
			}
			if found {
				r.attach(ctx, canonicalID, req, home, away, date)
				return Resolution{CanonicalID: &canonicalID, Confidence: domain.ConfidenceMedium}, nil
			}
		}
	}

	return Resolution{Confidence: domain.ConfidenceNone}, nil
}

func (r *Resolver) matchSchedule(ctx context.Context, home, away string, date time.Time) (string, bool, error) {
	games, err := r.schedule.GamesForDate(ctx, date)
	if err != nil {
		return "", false, fmt.Errorf("schedule lookup: %w", err)
	}
	for _, g := range games {
		homeTeam, ok1 := domain.TeamByLeagueID(g.HomeTeamID)
		awayTeam, ok2 := domain.TeamByLeagueID(g.AwayTeamID)
		if !ok1 || !ok2 {
			continue
		}
		if homeTeam.Code == home && awayTeam.Code == away {
			return fmt.Sprintf("%d", g.GamePk), true, nil
		}
	}
	return "", false, nil
}

// attach records the external id on the canonical game row. Failures are
// logged, not fatal — the resolution itself succeeded.
func (r *Resolver) attach(ctx context.Context, canonicalID string, req ResolveRequest, home, away string, date time.Time) {
	if err := r.store.AttachExternalID(ctx, canonicalID, req.Source, req.ExternalID, home, away, date); err != nil {
		r.logger.Warn("attach external id failed",
			"canonical_id", canonicalID, "source", req.Source,
			"external_id", req.ExternalID, "error", err)
	}
}

// BatchResolve groups requests by unique external id, serves cache hits
// first, and resolves only the unique misses.
func (r *Resolver) BatchResolve(ctx context.Context, reqs []ResolveRequest) (map[string]Resolution, BatchStats, error) {
	stats := BatchStats{BatchSize: len(reqs)}
	out := make(map[string]Resolution)

	unique := make(map[string]ResolveRequest)
	for _, req := range reqs {
		if _, ok := unique[req.key()]; !ok {
			unique[req.key()] = req
		}
	}
	stats.UniqueIDs = len(unique)
	stats.APICallsAvoided = stats.BatchSize - stats.UniqueIDs

	for key, req := range unique {
		r.mu.Lock()
		hit, ok := r.cachedLocked(key)
		r.mu.Unlock()
		if ok {
			stats.CacheHits++
			out[req.ExternalID] = hit
			continue
		}

		res, err := r.Resolve(ctx, req)
		if err != nil {
			return out, stats, err
		}
		out[req.ExternalID] = res
	}

	for _, res := range out {
		if res.CanonicalID != nil {
			stats.Resolved++
		}
	}
	if stats.UniqueIDs > 0 {
		stats.CacheHitRate = float64(stats.CacheHits) / float64(stats.UniqueIDs)
	}

	r.logger.Debug("batch resolve complete",
		"batch_size", stats.BatchSize, "unique", stats.UniqueIDs,
		"cache_hits", stats.CacheHits, "api_calls_avoided", stats.APICallsAvoided,
		"resolved", stats.Resolved)

	return out, stats, nil
}
