package staging

import (
	"strings"

	"github.com/sharpline/pipeline/internal/domain"
)

// Quality scoring: weighted sum of completeness (0.4), accuracy (0.3) and
// consistency (0.3), each in [0,1].

const (
	weightCompleteness = 0.4
	weightAccuracy     = 0.3
	weightConsistency  = 0.3
)

// qualityInput carries the facts scoring needs beyond the row itself.
type qualityInput struct {
	teamsValid bool
}

// scoreQuality computes the row's quality score and returns the list of
// checks performed for the lineage blob.
func scoreQuality(row *domain.UnifiedRow, in qualityInput) (float64, []string) {
	checks := []string{"completeness", "accuracy", "consistency"}

	completeness := scoreCompleteness(row)
	accuracy := scoreAccuracy(row, in)
	consistency := scoreConsistency(row)

	score := completeness*weightCompleteness + accuracy*weightAccuracy + consistency*weightConsistency
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return score, checks
}

// scoreCompleteness is the fraction of required fields populated.
func scoreCompleteness(row *domain.UnifiedRow) float64 {
	required := []bool{
		row.ExternalGameID != "",
		row.SportsbookName != "",
		row.HomeTeam != "",
		row.AwayTeam != "",
		row.Source != "",
		row.MarketType != "",
	}
	populated := 0
	for _, ok := range required {
		if ok {
			populated++
		}
	}
	return float64(populated) / float64(len(required))
}

func scoreAccuracy(row *domain.UnifiedRow, in qualityInput) float64 {
	score := 1.0
	if strings.Contains(strings.ToLower(row.SportsbookName), "unknown") {
		score -= 0.2
	}
	if !in.teamsValid {
		score -= 0.3
	}
	if anyOddsOutOfRange(row) {
		score -= 0.1
	}
	if score < 0 {
		return 0
	}
	return score
}

func anyOddsOutOfRange(row *domain.UnifiedRow) bool {
	for _, v := range []*int{
		row.MoneylineHome, row.MoneylineAway,
		row.SpreadHomeOdds, row.SpreadAwayOdds,
		row.TotalOverOdds, row.TotalUnderOdds,
	} {
		if v != nil && !domain.OddsInRange(*v) {
			return true
		}
	}
	return false
}

// scoreConsistency penalizes market_type claims with no backing data.
func scoreConsistency(row *domain.UnifiedRow) float64 {
	score := 1.0
	if row.CoversMarket(domain.MarketMoneyline) && row.MoneylineHome == nil && row.MoneylineAway == nil {
		score -= 0.3
	}
	if row.CoversMarket(domain.MarketSpread) &&
		row.SpreadLine == nil && row.SpreadHomeOdds == nil && row.SpreadAwayOdds == nil &&
		row.SpreadHomeBetsPct == nil && row.SpreadHomeHandlePct == nil {
		score -= 0.3
	}
	if row.CoversMarket(domain.MarketTotal) &&
		row.TotalLine == nil && row.TotalOverOdds == nil && row.TotalUnderOdds == nil &&
		row.TotalOverBetsPct == nil && row.TotalOverHandlePct == nil {
		score -= 0.3
	}
	// "unknown" is stored as a terminal value but costs the full
	// consistency deduction.
	if row.MarketType == "unknown" {
		score -= 0.3
	}
	if score < 0 {
		return 0
	}
	return score
}
