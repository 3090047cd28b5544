package staging

import (
	"encoding/json"

	"github.com/sharpline/pipeline/internal/domain"
)

// Historical expansion: when the payload carries per-side history arrays,
// each entry becomes one historical odds point. Each side is expanded on its
// own; opposite sides are not matched by updated_at. Points are produced in
// arrival order, and downstream consumers order by effective instant.

// expandHistory emits the odds points for one action_network raw record:
// every history entry plus the current snapshot.
func expandHistory(rec *domain.RawRecord) ([]*domain.OddsPoint, error) {
	if rec.Source != domain.SourceActionNetwork {
		return nil, nil
	}

	var payload anPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, err
	}

	bookExt := ""
	if rec.SportsbookExternalID != nil {
		bookExt = *rec.SportsbookExternalID
	}

	var points []*domain.OddsPoint
	emit := func(market domain.Market, side domain.Side, odds int, line *float64, at string, current bool) {
		effective := rec.CollectedAt
		if at != "" {
			if t, err := domain.ParseProviderTime(at); err == nil {
				effective = t
			}
		}
		if market == domain.MarketMoneyline {
			// Moneyline points never carry a line value.
			line = nil
		}
		point := &domain.OddsPoint{
			ExternalGameID:       rec.ExternalGameID,
			SportsbookExternalID: bookExt,
			Market:               market,
			Side:                 side,
			Odds:                 odds,
			LineValue:            line,
			EffectiveAt:          effective,
			IsCurrentOdds:        current,
		}
		if point.Validate() == nil {
			points = append(points, point)
		}
	}

	expandMarket := func(market domain.Market, sides []anSide, sideOf func(string) (domain.Side, bool)) {
		for _, s := range sides {
			side, ok := sideOf(s.Side)
			if !ok {
				continue
			}
			for _, h := range s.History {
				emit(market, side, h.Odds, h.Value, h.UpdatedAt, false)
			}
			// Current snapshot closes out the series.
			emit(market, side, s.Odds, s.Value, "", true)
		}
	}

	mlSide := func(s string) (domain.Side, bool) {
		switch s {
		case "home":
			return domain.SideHome, true
		case "away":
			return domain.SideAway, true
		}
		return "", false
	}
	totalSide := func(s string) (domain.Side, bool) {
		switch s {
		case "over":
			return domain.SideOver, true
		case "under":
			return domain.SideUnder, true
		}
		return "", false
	}

	expandMarket(domain.MarketMoneyline, payload.Markets.Moneyline, mlSide)
	expandMarket(domain.MarketSpread, payload.Markets.Spread, mlSide)
	expandMarket(domain.MarketTotal, payload.Markets.Total, totalSide)

	return dedupePoints(points), nil
}

// dedupePoints drops exact key duplicates, keeping the first occurrence —
// a history tail entry often repeats the current snapshot.
func dedupePoints(points []*domain.OddsPoint) []*domain.OddsPoint {
	seen := make(map[string]*domain.OddsPoint, len(points))
	out := points[:0]
	for _, pt := range points {
		key := pt.Key()
		if prev, ok := seen[key]; ok {
			// The current-snapshot flag wins over a history duplicate.
			if pt.IsCurrentOdds {
				prev.IsCurrentOdds = true
			}
			continue
		}
		seen[key] = pt
		out = append(out, pt)
	}
	return out
}
