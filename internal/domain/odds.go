package domain

import (
	"fmt"
	"time"
)

// Market is one of the supported betting markets.
type Market string

const (
	MarketMoneyline Market = "moneyline"
	MarketSpread    Market = "spread"
	MarketTotal     Market = "total"
)

// marketOrder fixes the ordering used when joining market labels.
var marketOrder = []Market{MarketMoneyline, MarketSpread, MarketTotal}

// Side is one side of a market.
type Side string

const (
	SideHome  Side = "home"
	SideAway  Side = "away"
	SideOver  Side = "over"
	SideUnder Side = "under"
)

// ValidSide reports whether side is allowed for the given market.
func ValidSide(m Market, s Side) bool {
	switch m {
	case MarketMoneyline, MarketSpread:
		return s == SideHome || s == SideAway
	case MarketTotal:
		return s == SideOver || s == SideUnder
	}
	return false
}

// JoinMarkets renders a market_type label: a single market name or a
// "+"-joined combination in canonical market order.
func JoinMarkets(present map[Market]bool) string {
	label := ""
	for _, m := range marketOrder {
		if !present[m] {
			continue
		}
		if label != "" {
			label += "+"
		}
		label += string(m)
	}
	if label == "" {
		return "unknown"
	}
	return label
}

// OddsPoint is one (game, sportsbook, market, side, time) observation.
// CanonicalGameID stays nil until resolution succeeds; periodic
// reprocessing may fill it later.
type OddsPoint struct {
	ID                   int64      `json:"id"`
	CanonicalGameID      *string    `json:"canonical_game_id,omitempty"`
	ExternalGameID       string     `json:"external_game_id"`
	SportsbookExternalID string     `json:"sportsbook_external_id"`
	Market               Market     `json:"market"`
	Side                 Side       `json:"side"`
	Odds                 int        `json:"odds"` // American odds
	LineValue            *float64   `json:"line_value,omitempty"`
	EffectiveAt          time.Time  `json:"effective_at"`
	IsCurrentOdds        bool       `json:"is_current_odds"`
}

// Validate checks the per-point invariants.
func (p *OddsPoint) Validate() error {
	if !ValidSide(p.Market, p.Side) {
		return ErrValidation(fmt.Sprintf("side %s not allowed for market %s", p.Side, p.Market))
	}
	if p.Market == MarketMoneyline && p.LineValue != nil {
		return ErrValidation("moneyline points must not carry a line value")
	}
	return nil
}

// Key identifies the point for upsert purposes.
func (p *OddsPoint) Key() string {
	return fmt.Sprintf("%s|%s|%s|%s|%d", p.ExternalGameID, p.SportsbookExternalID, p.Market, p.Side, p.EffectiveAt.UnixMicro())
}

// OddsInRange reports whether an American odds value is plausible.
func OddsInRange(odds int) bool {
	return odds >= -5000 && odds <= 5000
}
