package timesync

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config holds the synchronizer settings.
type Config struct {
	DefaultWindow     time.Duration // width of a synchronization window
	MaxSkew           time.Duration // buffer age bound
	RequireAllSources bool
}

// DefaultConfig mirrors the standard synchronizer settings.
func DefaultConfig() Config {
	return Config{
		DefaultWindow:     60 * time.Second,
		MaxSkew:           300 * time.Second,
		RequireAllSources: false,
	}
}

// CollectFunc triggers a fresh synchronized collection attempt for the given
// sources, returning once their results have been pushed into the buffer or
// the deadline passes.
type CollectFunc func(ctx context.Context, sources []string, deadline time.Time) error

type cachedAlignment struct {
	aligned   map[string]Entry
	alignedAt time.Time
}

// Synchronizer buffers timestamped records from multiple sources and serves
// time-aligned tuples within a tolerance window. The rule it enforces for
// every consumer: no cross-source tuple whose collection timestamps span
// more than three minutes is ever delivered downstream.
type Synchronizer struct {
	cfg     Config
	buffer  *Buffer
	collect CollectFunc
	logger  *slog.Logger

	mu     sync.Mutex
	cached map[string]cachedAlignment

	now func() time.Time
}

// New creates a synchronizer. collect may be nil when re-collection on stale
// data is not wanted (tests, read-only consumers).
func New(cfg Config, collect CollectFunc, logger *slog.Logger) *Synchronizer {
	return &Synchronizer{
		cfg:     cfg,
		buffer:  NewBuffer(cfg.MaxSkew),
		collect: collect,
		logger:  logger,
		cached:  make(map[string]cachedAlignment),
		now:     time.Now,
	}
}

// AddData pushes one collection result into the buffer.
func (s *Synchronizer) AddData(data any, source string, collectedAt time.Time) {
	s.buffer.Add(data, source, collectedAt)
}

// Window exposes the grouped buffer contents for a window.
func (s *Synchronizer) Window(center time.Time, width time.Duration, required []string) (map[string][]Entry, error) {
	return s.buffer.Window(center, width, required, !s.cfg.RequireAllSources)
}

// Cleanup evicts entries older than maxAge.
func (s *Synchronizer) Cleanup(maxAge time.Duration) int {
	return s.buffer.Cleanup(maxAge)
}

// GetTimeAlignedData returns one aligned entry per requested source, or nil
// when no alignment of acceptable age exists and re-collection could not
// produce one. A cached alignment is served while its age is within maxAge.
func (s *Synchronizer) GetTimeAlignedData(ctx context.Context, sources []string, maxAge, window time.Duration) map[string]Entry {
	if window <= 0 {
		window = s.cfg.DefaultWindow
	}
	key := alignmentKey(sources)

	s.mu.Lock()
	if hit, ok := s.cached[key]; ok && s.now().Sub(hit.alignedAt) <= maxAge {
		s.mu.Unlock()
		return hit.aligned
	}
	s.mu.Unlock()

	if aligned := s.tryAlign(sources, window, maxAge); aligned != nil {
		return aligned
	}

	// Nothing fresh enough buffered: trigger a synchronized collection
	// attempt with a deadline and retry once.
	if s.collect == nil {
		return nil
	}
	deadline := s.now().Add(window)
	if err := s.collect(ctx, sources, deadline); err != nil {
		s.logger.Warn("synchronized collection attempt failed", "sources", sources, "error", err)
		return nil
	}
	return s.tryAlign(sources, window, maxAge)
}

// tryAlign looks for an alignment among entries no older than maxAge.
func (s *Synchronizer) tryAlign(sources []string, window, maxAge time.Duration) map[string]Entry {
	center := s.now().Add(-maxAge / 2)
	sets, err := s.buffer.Window(center, maxAge+window, sources, false)
	if err != nil {
		return nil
	}

	// Only the requested sources participate.
	filtered := make(map[string][]Entry, len(sources))
	for _, src := range sources {
		if len(sets[src]) == 0 {
			return nil
		}
		filtered[src] = sets[src]
	}

	aligned, ok := BestAlignment(filtered, maxTotalSpread)
	if !ok {
		return nil
	}

	// Freshness: every member must be within maxAge of now.
	cutoff := s.now().Add(-maxAge)
	var stamps []time.Time
	for _, e := range aligned {
		if e.CollectedAt.Before(cutoff) {
			return nil
		}
		stamps = append(stamps, e.CollectedAt)
	}
	if len(TimingAnomalies(stamps)) > 0 {
		return nil
	}

	s.mu.Lock()
	s.cached[alignmentKey(sources)] = cachedAlignment{aligned: aligned, alignedAt: s.now()}
	s.mu.Unlock()
	return aligned
}

func alignmentKey(sources []string) string {
	sorted := make([]string, len(sources))
	copy(sorted, sources)
	sort.Strings(sorted)
	return strings.Join(sorted, "|")
}
