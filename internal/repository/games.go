package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// GameRepository is the durable tier of the game-id resolver: one canonical
// games row per real event, one external-id column per source.
type GameRepository struct {
	db DBTX
}

// NewGameRepository returns a pgx-backed games store.
func NewGameRepository(db DBTX) *GameRepository {
	return &GameRepository{db: db}
}

// externalIDColumn maps a source to its column. Declared here so a typo is a
// compile-visible constant, not runtime SQL injection surface.
func externalIDColumn(source string) (string, error) {
	switch source {
	case domain.SourceActionNetwork:
		return "action_network_id", nil
	case domain.SourceVSIN:
		return "vsin_id", nil
	case domain.SourceSBD:
		return "sbd_id", nil
	case domain.SourceMLBSchedule:
		return "canonical_id", nil
	default:
		return "", fmt.Errorf("no external id column for source %s", source)
	}
}

// FindCanonicalByExternalID looks up the canonical id through the source's
// external-id column.
func (r *GameRepository) FindCanonicalByExternalID(ctx context.Context, source, externalID string) (string, bool, error) {
	col, err := externalIDColumn(source)
	if err != nil {
		return "", false, err
	}

	var canonicalID string
	err = r.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT canonical_id FROM curated.games WHERE %s = $1 AND canonical_id IS NOT NULL`, col),
		externalID).Scan(&canonicalID)
	if err != nil {
		return "", false, nil // no row is a miss, not an error
	}
	return canonicalID, true, nil
}

// AttachExternalID upserts the external id onto the canonical game row,
// creating the row when none matches the canonical id yet.
func (r *GameRepository) AttachExternalID(ctx context.Context, canonicalID, source, externalID, home, away string, gameDate time.Time) error {
	col, err := externalIDColumn(source)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, fmt.Sprintf(`
		INSERT INTO curated.games (canonical_id, %s, home_team, away_team, game_date, season)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (canonical_id) DO UPDATE SET
			%s = EXCLUDED.%s,
			updated_at = now()`, col, col, col),
		canonicalID, externalID, home, away, gameDate, domain.SeasonOf(gameDate))
	if err != nil {
		return fmt.Errorf("attach %s external id: %w", source, err)
	}
	return nil
}

// AllResolved streams every (source, external id, canonical id) pair, used
// to warm the resolver's memory cache at startup.
func (r *GameRepository) AllResolved(ctx context.Context) (map[string]map[string]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT canonical_id, action_network_id, vsin_id, sbd_id
		FROM curated.games
		WHERE canonical_id IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("load resolved games: %w", err)
	}
	defer rows.Close()

	out := map[string]map[string]string{
		domain.SourceActionNetwork: {},
		domain.SourceVSIN:          {},
		domain.SourceSBD:           {},
	}
	for rows.Next() {
		var canonical string
		var an, vsin, sbd *string
		if err := rows.Scan(&canonical, &an, &vsin, &sbd); err != nil {
			return nil, fmt.Errorf("scan game row: %w", err)
		}
		if an != nil {
			out[domain.SourceActionNetwork][*an] = canonical
		}
		if vsin != nil {
			out[domain.SourceVSIN][*vsin] = canonical
		}
		if sbd != nil {
			out[domain.SourceSBD][*sbd] = canonical
		}
	}
	return out, rows.Err()
}
