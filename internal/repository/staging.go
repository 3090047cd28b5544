package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/infra"
)

// StagingRepository writes the unified staging rows and historical odds
// points.
type StagingRepository struct {
	db TxBeginner
}

// NewStagingRepository returns a pgx-backed staging store.
func NewStagingRepository(db TxBeginner) *StagingRepository {
	return &StagingRepository{db: db}
}

// DeleteForRaw removes the staging rows keyed to one raw row. Re-processing
// deletes first, then re-inserts, guaranteeing per-raw-row idempotence.
func (r *StagingRepository) DeleteForRaw(ctx context.Context, rawTable string, rawID int64) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM staging.unified_odds WHERE raw_table = $1 AND raw_id = $2`, rawTable, rawID)
	if err != nil {
		return fmt.Errorf("delete staging rows for %s/%d: %w", rawTable, rawID, err)
	}
	return nil
}

const insertUnifiedSQL = `
	INSERT INTO staging.unified_odds (
		source, collector_name, canonical_game_id, external_game_id,
		home_team, away_team,
		sportsbook_id, sportsbook_external_id, sportsbook_name,
		market_type,
		moneyline_home, moneyline_away,
		spread_line, spread_home_odds, spread_away_odds,
		total_line, total_over_odds, total_under_odds,
		moneyline_home_bets_pct, moneyline_home_handle_pct,
		spread_home_bets_pct, spread_home_handle_pct,
		total_over_bets_pct, total_over_handle_pct,
		raw_table, raw_id, transformation_metadata,
		quality_score, validation_status, validation_errors,
		processed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		$11, $12, $13, $14, $15, $16, $17, $18,
		$19, $20, $21, $22, $23, $24,
		$25, $26, $27, $28, $29, $30, $31
	)
	ON CONFLICT (external_game_id, sportsbook_external_id, processed_at)
	DO UPDATE SET
		raw_table = EXCLUDED.raw_table,
		raw_id = EXCLUDED.raw_id,
		transformation_metadata = EXCLUDED.transformation_metadata,
		quality_score = EXCLUDED.quality_score`

// InsertUnified batch-inserts unified rows inside one transaction using a
// prepared statement; conflicts on the (game, sportsbook, processing time)
// key update lineage and quality score.
func (r *StagingRepository) InsertUnified(ctx context.Context, rows []*domain.UnifiedRow) (int, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Prepare(ctx, "insert_unified", insertUnifiedSQL); err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}

	inserted := 0
	for _, row := range rows {
		var validationErrors []byte
		if len(row.ValidationErrors) > 0 {
			validationErrors, _ = json.Marshal(row.ValidationErrors)
		} else {
			validationErrors = []byte(`[]`)
		}

		_, err := tx.Exec(ctx, "insert_unified",
			row.Source, row.CollectorName, row.CanonicalGameID, row.ExternalGameID,
			row.HomeTeam, row.AwayTeam,
			row.SportsbookID, row.SportsbookExternalID, row.SportsbookName,
			row.MarketType,
			row.MoneylineHome, row.MoneylineAway,
			infra.NullableFloatToNumeric(row.SpreadLine), row.SpreadHomeOdds, row.SpreadAwayOdds,
			infra.NullableFloatToNumeric(row.TotalLine), row.TotalOverOdds, row.TotalUnderOdds,
			row.MoneylineHomeBetsPct, row.MoneylineHomeHandlePct,
			row.SpreadHomeBetsPct, row.SpreadHomeHandlePct,
			row.TotalOverBetsPct, row.TotalOverHandlePct,
			row.Lineage.RawTable, row.Lineage.RawID, row.Lineage.Transformation,
			row.QualityScore, string(row.ValidationStatus), validationErrors,
			row.ProcessedAt,
		)
		if err != nil {
			return inserted, fmt.Errorf("insert unified row %s/%s: %w", row.ExternalGameID, row.SportsbookExternalID, err)
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return inserted, nil
}

const upsertOddsPointSQL = `
	INSERT INTO staging.odds_points (
		canonical_game_id, external_game_id, sportsbook_external_id,
		market, side, odds, line_value, effective_at, is_current_odds
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (external_game_id, sportsbook_external_id, market, side, effective_at)
	DO UPDATE SET
		odds = EXCLUDED.odds,
		line_value = EXCLUDED.line_value,
		is_current_odds = EXCLUDED.is_current_odds,
		canonical_game_id = COALESCE(EXCLUDED.canonical_game_id, staging.odds_points.canonical_game_id)`

// UpsertOddsPoints lands historical odds points, flipping is_current_odds
// when a later point for the key arrives.
func (r *StagingRepository) UpsertOddsPoints(ctx context.Context, points []*domain.OddsPoint) (int, error) {
	if len(points) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Prepare(ctx, "upsert_point", upsertOddsPointSQL); err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}

	written := 0
	for _, pt := range points {
		if err := pt.Validate(); err != nil {
			// Row-level violation: skip the point, keep the batch.
			continue
		}
		// A new current point supersedes the previous one for the series.
		if pt.IsCurrentOdds {
			_, err := tx.Exec(ctx, `
				UPDATE staging.odds_points SET is_current_odds = false
				WHERE external_game_id = $1 AND sportsbook_external_id = $2
				  AND market = $3 AND side = $4 AND is_current_odds`,
				pt.ExternalGameID, pt.SportsbookExternalID, string(pt.Market), string(pt.Side))
			if err != nil {
				return written, fmt.Errorf("clear current flag: %w", err)
			}
		}

		_, err := tx.Exec(ctx, "upsert_point",
			pt.CanonicalGameID, pt.ExternalGameID, pt.SportsbookExternalID,
			string(pt.Market), string(pt.Side), pt.Odds,
			infra.NullableFloatToNumeric(pt.LineValue), pt.EffectiveAt, pt.IsCurrentOdds)
		if err != nil {
			return written, fmt.Errorf("upsert odds point %s: %w", pt.Key(), err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return written, nil
}

// DeadTupleRatios reads pg_stat_user_tables for the pipeline schemas and
// returns dead/live ratios per table.
func (r *StagingRepository) DeadTupleRatios(ctx context.Context) (map[string]float64, error) {
	rows, err := r.db.Query(ctx, `
		SELECT schemaname || '.' || relname,
		       CASE WHEN n_live_tup = 0 THEN 0
		            ELSE n_dead_tup::float / n_live_tup::float END
		FROM pg_stat_user_tables
		WHERE schemaname IN ('raw_data', 'staging', 'curated', 'operational')`)
	if err != nil {
		return nil, fmt.Errorf("dead tuple stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]float64)
	for rows.Next() {
		var table string
		var ratio float64
		if err := rows.Scan(&table, &ratio); err != nil {
			return nil, fmt.Errorf("scan dead tuple row: %w", err)
		}
		out[table] = ratio
	}
	return out, rows.Err()
}
