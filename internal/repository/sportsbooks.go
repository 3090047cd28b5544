package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/sharpline/pipeline/internal/domain"
)

// SportsbookRepository resolves per-source external sportsbook ids against
// the mapping table, with a process-lifetime cache and the static map as
// fallback. The database is authoritative when the two disagree.
type SportsbookRepository struct {
	db DBTX

	mu     sync.Mutex
	cache  map[string]*domain.Sportsbook // "source|externalID"
	loaded bool
}

// NewSportsbookRepository returns a pgx-backed sportsbook directory.
func NewSportsbookRepository(db DBTX) *SportsbookRepository {
	return &SportsbookRepository{db: db, cache: make(map[string]*domain.Sportsbook)}
}

func (r *SportsbookRepository) loadLocked(ctx context.Context) error {
	rows, err := r.db.Query(ctx, `
		SELECT m.external_source, m.external_id, s.id, s.display_name, s.abbreviation, s.active
		FROM operational.sportsbook_external_mappings m
		JOIN operational.sportsbooks s ON s.id = m.sportsbook_id`)
	if err != nil {
		return fmt.Errorf("load sportsbook mappings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var source, externalID string
		var sb domain.Sportsbook
		var abbrev *string
		if err := rows.Scan(&source, &externalID, &sb.ID, &sb.DisplayName, &abbrev, &sb.Active); err != nil {
			return fmt.Errorf("scan sportsbook mapping: %w", err)
		}
		if abbrev != nil {
			sb.Abbreviation = *abbrev
		}
		book := sb
		r.cache[source+"|"+externalID] = &book
	}
	r.loaded = true
	return rows.Err()
}

// BySourceExternalID resolves one external sportsbook id.
func (r *SportsbookRepository) BySourceExternalID(ctx context.Context, source, externalID string) (*domain.Sportsbook, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		if err := r.loadLocked(ctx); err != nil {
			// DB unavailable: fall back to the static map below.
			r.loaded = false
		}
	}

	if book, ok := r.cache[source+"|"+externalID]; ok {
		return book, true, nil
	}

	// Static fallback for Action Network ids the mapping table is missing.
	if source == domain.SourceActionNetwork {
		if id, err := strconv.Atoi(externalID); err == nil {
			if name, ok := domain.ActionNetworkSportsbooks[id]; ok {
				return &domain.Sportsbook{ID: id, DisplayName: name, Active: true}, true, nil
			}
		}
	}
	return nil, false, nil
}
