package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/resolver"
)

const (
	processorName    = "unified_staging_processor"
	processorVersion = "2.0.0"
)

// RawSource feeds the processor unprocessed raw rows: rows not yet in
// staging, or re-collected rows newer than their staging output.
type RawSource interface {
	FetchUnprocessed(ctx context.Context, source string, limit int) ([]domain.RawRecord, error)
}

// Sink is the staging zone writer. InsertUnified runs as one transaction
// with ON CONFLICT upsert on (external game id, sportsbook, processed_at).
type Sink interface {
	DeleteForRaw(ctx context.Context, rawTable string, rawID int64) error
	InsertUnified(ctx context.Context, rows []*domain.UnifiedRow) (int, error)
	UpsertOddsPoints(ctx context.Context, points []*domain.OddsPoint) (int, error)
}

// SportsbookDirectory resolves per-source external sportsbook ids. The
// database mapping is authoritative; the static map is the fallback.
type SportsbookDirectory interface {
	BySourceExternalID(ctx context.Context, source, externalID string) (*domain.Sportsbook, bool, error)
}

// GameResolver attaches canonical game ids. Satisfied by the resolver
// service.
type GameResolver interface {
	BatchResolve(ctx context.Context, reqs []resolver.ResolveRequest) (map[string]resolver.Resolution, resolver.BatchStats, error)
}

// Stats summarizes one processing run.
type Stats struct {
	RawRows      int `json:"raw_rows"`
	UnifiedRows  int `json:"unified_rows"`
	OddsPoints   int `json:"odds_points"`
	InvalidRows  int `json:"invalid_rows"`
	UnknownBooks int `json:"unknown_books"`
	Unresolved   int `json:"unresolved_games"`
	Errors       int `json:"errors"`
}

// Processor consolidates multi-row raw odds into unified staging rows with
// source attribution, sportsbook and team resolution, data lineage and a
// quality score. Row-level failures mark the row invalid and continue; they
// never abort the batch.
type Processor struct {
	raw      RawSource
	sink     Sink
	books    SportsbookDirectory
	resolver GameResolver
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates the staging processor.
func NewProcessor(raw RawSource, sink Sink, books SportsbookDirectory, gameResolver GameResolver, logger *slog.Logger) *Processor {
	return &Processor{
		raw:      raw,
		sink:     sink,
		books:    books,
		resolver: gameResolver,
		logger:   logger,
		now:      time.Now,
	}
}

// consolidationKey is the one-row-per rule: (game, sportsbook) at one
// processing time.
type consolidationKey struct {
	ExternalGameID string
	SportsbookExt  string
}

// ProcessSource drains up to limit unprocessed raw rows for one source and
// lands their unified rows and odds points.
func (p *Processor) ProcessSource(ctx context.Context, source string, limit int) (*Stats, error) {
	records, err := p.raw.FetchUnprocessed(ctx, source, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch unprocessed %s: %w", source, err)
	}

	stats := &Stats{RawRows: len(records)}
	if len(records) == 0 {
		return stats, nil
	}

	processedAt := domain.NormalizeInstant(p.now())

	// Re-processed raw rows replace their earlier staging output first, so
	// every raw row's staging footprint stays idempotent.
	for i := range records {
		rec := &records[i]
		if err := p.sink.DeleteForRaw(ctx, domain.RawTable(rec.Source), rec.ID); err != nil {
			p.logger.Error("delete stale staging rows failed",
				"raw_table", domain.RawTable(rec.Source), "raw_id", rec.ID, "error", err)
			stats.Errors++
		}
	}

	merged := make(map[consolidationKey]*partialRow)
	var order []consolidationKey
	var points []*domain.OddsPoint

	for i := range records {
		rec := &records[i]

		part, err := p.parsePayload(rec)
		if err != nil {
			p.logger.Warn("payload parse failed", "source", rec.Source, "raw_id", rec.ID, "error", err)
			stats.Errors++
			continue
		}

		key := consolidationKey{
			ExternalGameID: part.row.ExternalGameID,
			SportsbookExt:  part.row.SportsbookExternalID,
		}
		if existing, ok := merged[key]; ok {
			mergeRow(existing.row, part.row)
			existing.sourceFields = append(existing.sourceFields, part.sourceFields...)
			existing.sharpSignals = append(existing.sharpSignals, part.sharpSignals...)
		} else {
			merged[key] = part
			order = append(order, key)
		}

		pts, err := expandHistory(rec)
		if err != nil {
			p.logger.Warn("history expansion failed", "raw_id", rec.ID, "error", err)
			stats.Errors++
			continue
		}
		points = append(points, pts...)
	}

	rows := make([]*domain.UnifiedRow, 0, len(merged))
	var resolveReqs []resolver.ResolveRequest
	for _, key := range order {
		part := merged[key]
		row := part.row
		row.ProcessedAt = processedAt

		p.finalizeRow(ctx, source, part, stats)

		resolveReqs = append(resolveReqs, resolver.ResolveRequest{
			ExternalID: row.ExternalGameID,
			Source:     row.Source,
			HomeTeam:   row.HomeTeam,
			AwayTeam:   row.AwayTeam,
			Date:       row.ProcessedAt,
		})
		rows = append(rows, row)
	}

	// Canonical game ids, batched: duplicate external ids resolve once.
	if p.resolver != nil && len(resolveReqs) > 0 {
		resolutions, batchStats, err := p.resolver.BatchResolve(ctx, resolveReqs)
		if err != nil {
			p.logger.Warn("batch game resolution failed", "error", err)
			stats.Errors++
		} else {
			for _, row := range rows {
				if res, ok := resolutions[row.ExternalGameID]; ok && res.CanonicalID != nil {
					row.CanonicalGameID = res.CanonicalID
				} else {
					stats.Unresolved++
				}
			}
			canonicalByExt := make(map[string]*string, len(resolutions))
			for ext, res := range resolutions {
				canonicalByExt[ext] = res.CanonicalID
			}
			for _, pt := range points {
				pt.CanonicalGameID = canonicalByExt[pt.ExternalGameID]
			}
			p.logger.Debug("game resolution batch",
				"batch_size", batchStats.BatchSize, "cache_hits", batchStats.CacheHits,
				"api_calls_avoided", batchStats.APICallsAvoided)
		}
	}

	for _, row := range rows {
		if row.ValidationStatus == domain.ValidationInvalid {
			stats.InvalidRows++
		}
	}

	if len(rows) > 0 {
		n, err := p.sink.InsertUnified(ctx, rows)
		if err != nil {
			return stats, fmt.Errorf("insert unified rows: %w", err)
		}
		stats.UnifiedRows = n
	}
	if len(points) > 0 {
		n, err := p.sink.UpsertOddsPoints(ctx, points)
		if err != nil {
			return stats, fmt.Errorf("upsert odds points: %w", err)
		}
		stats.OddsPoints = n
	}

	p.logger.Info("staging batch complete",
		"source", source, "raw_rows", stats.RawRows, "unified_rows", stats.UnifiedRows,
		"odds_points", stats.OddsPoints, "invalid", stats.InvalidRows,
		"unknown_books", stats.UnknownBooks, "unresolved", stats.Unresolved)

	return stats, nil
}

// finalizeRow resolves the sportsbook, derives the market label, scores
// quality and validates.
func (p *Processor) finalizeRow(ctx context.Context, source string, part *partialRow, stats *Stats) {
	row := part.row

	// Sportsbook resolution: DB mapping first, static map fallback, then an
	// informative placeholder that degrades quality instead of dropping the
	// row.
	if row.SportsbookExternalID != "" {
		if book, ok, err := p.books.BySourceExternalID(ctx, source, row.SportsbookExternalID); err == nil && ok {
			row.SportsbookID = &book.ID
			row.SportsbookName = book.DisplayName
		} else {
			row.SportsbookName = "Unknown_" + row.SportsbookExternalID
			stats.UnknownBooks++
		}
	} else {
		row.SportsbookName = "Unknown_" + source
		stats.UnknownBooks++
	}

	row.MarketType = marketsOf(row)

	teamsValid := domain.IsKnownTeamCode(row.HomeTeam) && domain.IsKnownTeamCode(row.AwayTeam) &&
		row.HomeTeam != row.AwayTeam

	score, checks := scoreQuality(row, qualityInput{teamsValid: teamsValid})
	row.QualityScore = score

	meta := domain.TransformationMetadata{
		Processor:        processorName,
		ProcessorVersion: processorVersion,
		TransformedAt:    row.ProcessedAt,
		SourceFields:     part.sourceFields,
		QualityChecks:    checks,
		SharpAction:      part.sharpSignals,
	}
	if blob, err := json.Marshal(meta); err == nil {
		row.Lineage.Transformation = blob
	}

	if errs := row.RequiredFieldErrors(); len(errs) > 0 || !teamsValid {
		row.ValidationStatus = domain.ValidationInvalid
		row.ValidationErrors = errs
		if !teamsValid {
			row.ValidationErrors = append(row.ValidationErrors, "team resolution failed")
		}
	} else {
		row.ValidationStatus = domain.ValidationValid
	}
}
