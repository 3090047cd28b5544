package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// RawRepository lands and reads raw-zone rows. One table per source; the
// payload is an opaque JSON blob plus source metadata. Rows are never
// mutated after insert.
type RawRepository struct {
	db TxBeginner
}

// NewRawRepository returns a pgx-backed raw store.
func NewRawRepository(db TxBeginner) *RawRepository {
	return &RawRepository{db: db}
}

// InsertRaw batch-inserts raw records in one transaction, routing each to
// its source's table.
func (r *RawRepository) InsertRaw(ctx context.Context, records []domain.RawRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, rec := range records {
		table := domain.RawTable(rec.Source)
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (source, collector_name, external_game_id, sportsbook_external_id, payload, collected_at)
			VALUES ($1, $2, $3, $4, $5, $6)`, table),
			rec.Source, rec.CollectorName, rec.ExternalGameID, rec.SportsbookExternalID, rec.Payload, rec.CollectedAt)
		if err != nil {
			return inserted, fmt.Errorf("insert raw into %s: %w", table, err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

// FetchUnprocessed returns raw rows not yet represented in staging, plus
// rows re-collected after their staging output was produced.
func (r *RawRepository) FetchUnprocessed(ctx context.Context, source string, limit int) ([]domain.RawRecord, error) {
	if limit <= 0 || limit > 5000 {
		limit = 500
	}
	table := domain.RawTable(source)

	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT r.id, r.source, r.collector_name, r.external_game_id, r.sportsbook_external_id, r.payload, r.collected_at
		FROM %s r
		LEFT JOIN staging.unified_odds s
		  ON s.raw_table = $2 AND s.raw_id = r.id
		WHERE s.id IS NULL OR r.collected_at > s.processed_at
		ORDER BY r.collected_at ASC
		LIMIT $1`, table), limit, table)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed from %s: %w", table, err)
	}
	defer rows.Close()

	var out []domain.RawRecord
	for rows.Next() {
		var rec domain.RawRecord
		if err := rows.Scan(&rec.ID, &rec.Source, &rec.CollectorName, &rec.ExternalGameID,
			&rec.SportsbookExternalID, &rec.Payload, &rec.CollectedAt); err != nil {
			return nil, fmt.Errorf("scan raw row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// LatestCollectionTimes returns the newest collected_at per source across
// the raw tables. The gap detector runs on this.
func (r *RawRepository) LatestCollectionTimes(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.db.Query(ctx, `
		SELECT source, max(collected_at) FROM (
			SELECT source, collected_at FROM raw_data.action_network_odds
			UNION ALL
			SELECT source, collected_at FROM raw_data.vsin_splits
			UNION ALL
			SELECT source, collected_at FROM raw_data.sbd_odds
		) all_raw
		GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("latest collection times: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var source string
		var at time.Time
		if err := rows.Scan(&source, &at); err != nil {
			return nil, fmt.Errorf("scan latest collection: %w", err)
		}
		out[source] = at
	}
	return out, rows.Err()
}
