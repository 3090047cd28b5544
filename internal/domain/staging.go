package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// ValidationStatus marks whether a unified row passed row-level validation.
type ValidationStatus string

const (
	ValidationValid   ValidationStatus = "valid"
	ValidationInvalid ValidationStatus = "invalid"
)

// DataLineage ties a staging row back to the raw row it came from.
type DataLineage struct {
	RawTable       string          `json:"raw_table"`
	RawID          int64           `json:"raw_id"`
	Transformation json.RawMessage `json:"transformation,omitempty"`
}

// TransformationMetadata is the lineage blob describing how a unified row
// was produced.
type TransformationMetadata struct {
	Processor        string    `json:"processor"`
	ProcessorVersion string    `json:"processor_version"`
	TransformedAt    time.Time `json:"transformed_at"`
	SourceFields     []string  `json:"source_fields,omitempty"`
	QualityChecks    []string  `json:"quality_checks,omitempty"`
	SharpAction      []string  `json:"sharp_action,omitempty"`
}

// UnifiedRow is the consolidated view of one (game, sportsbook) across
// markets at one processing time. One row per key, never one per bet side.
type UnifiedRow struct {
	ID              int64   `json:"id"`
	Source          string  `json:"source"`
	CollectorName   string  `json:"collector_name"`
	CanonicalGameID *string `json:"canonical_game_id,omitempty"`
	ExternalGameID  string  `json:"external_game_id"`

	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`

	SportsbookID         *int   `json:"sportsbook_id,omitempty"`
	SportsbookExternalID string `json:"sportsbook_external_id"`
	SportsbookName       string `json:"sportsbook_name"`

	MarketType string `json:"market_type"`

	MoneylineHome *int `json:"moneyline_home,omitempty"`
	MoneylineAway *int `json:"moneyline_away,omitempty"`

	SpreadLine     *float64 `json:"spread_line,omitempty"`
	SpreadHomeOdds *int     `json:"spread_home_odds,omitempty"`
	SpreadAwayOdds *int     `json:"spread_away_odds,omitempty"`

	TotalLine      *float64 `json:"total_line,omitempty"`
	TotalOverOdds  *int     `json:"total_over_odds,omitempty"`
	TotalUnderOdds *int     `json:"total_under_odds,omitempty"`

	// Betting splits (percentages 0-100) when the source carries them.
	MoneylineHomeBetsPct   *float64 `json:"moneyline_home_bets_pct,omitempty"`
	MoneylineHomeHandlePct *float64 `json:"moneyline_home_handle_pct,omitempty"`
	SpreadHomeBetsPct      *float64 `json:"spread_home_bets_pct,omitempty"`
	SpreadHomeHandlePct    *float64 `json:"spread_home_handle_pct,omitempty"`
	TotalOverBetsPct       *float64 `json:"total_over_bets_pct,omitempty"`
	TotalOverHandlePct     *float64 `json:"total_over_handle_pct,omitempty"`

	Lineage          DataLineage      `json:"lineage"`
	QualityScore     float64          `json:"quality_score"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ValidationErrors []string         `json:"validation_errors,omitempty"`

	ProcessedAt time.Time `json:"processed_at"`
}

// RequiredFieldErrors returns the list of required-field violations. An empty
// list means the row is structurally valid.
func (r *UnifiedRow) RequiredFieldErrors() []string {
	var errs []string
	if r.Source == "" {
		errs = append(errs, "source is empty")
	}
	if r.CollectorName == "" {
		errs = append(errs, "collector name is empty")
	}
	if r.SportsbookName == "" {
		errs = append(errs, "sportsbook name is empty")
	}
	if r.HomeTeam == "" || r.AwayTeam == "" {
		errs = append(errs, "team codes missing")
	} else if r.HomeTeam == r.AwayTeam {
		errs = append(errs, "home and away team identical")
	}
	if r.MarketType == "" {
		errs = append(errs, "market_type is empty")
	}
	if r.ExternalGameID == "" {
		errs = append(errs, "external game id is empty")
	}
	return errs
}

// CoversMarket reports whether the market_type label claims the market.
func (r *UnifiedRow) CoversMarket(m Market) bool {
	for _, part := range strings.Split(r.MarketType, "+") {
		if part == string(m) {
			return true
		}
	}
	return false
}
