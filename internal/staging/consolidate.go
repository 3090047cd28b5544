package staging

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sharpline/pipeline/internal/domain"
	"github.com/sharpline/pipeline/internal/resolver"
)

// teamExtraction is the outcome of the team-resolution waterfall.
type teamExtraction struct {
	Home     string
	Away     string
	Strategy string
	Valid    bool
}

// extractTeams runs the declared strategy waterfall over a decoded payload.
// First success wins. On total failure it derives informative placeholder
// codes from the external game id and returns the extraction with Valid
// false; there is no partially-valid state.
func extractTeams(payload map[string]any, externalGameID string) teamExtraction {
	strategies := []struct {
		name string
		fn   func(map[string]any) (string, string, bool)
	}{
		{"direct_fields", teamsFromDirectFields},
		{"game_object", teamsFromGameObject},
		{"teams_array", teamsFromTeamsArray},
		{"pattern_inference", teamsFromPatternInference},
	}

	for _, s := range strategies {
		homeRaw, awayRaw, ok := s.fn(payload)
		if !ok {
			continue
		}
		home, away, valid := resolver.StandardizePair(homeRaw, awayRaw)
		if valid {
			return teamExtraction{Home: home, Away: away, Strategy: s.name, Valid: true}
		}
	}

	// Placeholders keep the row traceable without claiming resolution.
	suffix := externalGameID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return teamExtraction{
		Home:     "H_" + suffix,
		Away:     "A_" + suffix,
		Strategy: "placeholder",
		Valid:    false,
	}
}

func teamsFromDirectFields(payload map[string]any) (string, string, bool) {
	home, _ := payload["home_team"].(string)
	away, _ := payload["away_team"].(string)
	return home, away, home != "" && away != ""
}

func teamsFromGameObject(payload map[string]any) (string, string, bool) {
	game, ok := payload["game"].(map[string]any)
	if !ok {
		return "", "", false
	}
	home, _ := game["home_team"].(string)
	away, _ := game["away_team"].(string)
	return home, away, home != "" && away != ""
}

func teamsFromTeamsArray(payload map[string]any) (string, string, bool) {
	arr, ok := payload["teams"].([]any)
	if !ok {
		return "", "", false
	}
	var home, away string
	for _, item := range arr {
		team, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name, _ := team["name"].(string)
		if name == "" {
			name, _ = team["full_name"].(string)
		}
		if isHome, _ := team["is_home"].(bool); isHome {
			home = name
		} else {
			away = name
		}
	}
	return home, away, home != "" && away != ""
}

// teamsFromPatternInference scans key names containing team/home/away.
// Requires exactly two candidate values to avoid guessing.
func teamsFromPatternInference(payload map[string]any) (string, string, bool) {
	type candidate struct {
		key   string
		value string
	}
	var found []candidate

	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		keys := make([]string, 0, len(node))
		for k := range node {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			full := k
			if prefix != "" {
				full = prefix + "." + k
			}
			switch v := node[k].(type) {
			case string:
				lower := strings.ToLower(k)
				if strings.Contains(lower, "team") || strings.Contains(lower, "home") || strings.Contains(lower, "away") {
					found = append(found, candidate{key: full, value: v})
				}
			case map[string]any:
				walk(full, v)
			}
		}
	}
	walk("", payload)

	if len(found) != 2 {
		return "", "", false
	}

	first, second := found[0], found[1]
	if strings.Contains(strings.ToLower(second.key), "home") {
		return second.value, first.value, true
	}
	return first.value, second.value, true
}

// partialRow is one raw row's contribution before consolidation.
type partialRow struct {
	row          *domain.UnifiedRow
	sharpSignals []string
	sourceFields []string
}

// parsePayload dispatches to the per-source payload schema. Each provider
// has a declared shape; there is no blind probing beyond the team waterfall.
func (p *Processor) parsePayload(rec *domain.RawRecord) (*partialRow, error) {
	switch rec.Source {
	case domain.SourceActionNetwork:
		return p.parseActionNetwork(rec)
	case domain.SourceVSIN:
		return p.parseVSIN(rec)
	case domain.SourceSBD:
		return p.parseSBD(rec)
	default:
		return nil, fmt.Errorf("no staging schema for source %s", rec.Source)
	}
}

// anPayload mirrors the action_network raw blob.
type anPayload struct {
	GameID    int64  `json:"game_id"`
	StartTime string `json:"start_time"`
	HomeTeam  string `json:"home_team"`
	AwayTeam  string `json:"away_team"`
	BookID    string `json:"book_id"`
	Markets   struct {
		Moneyline []anSide `json:"moneyline"`
		Spread    []anSide `json:"spread"`
		Total     []anSide `json:"total"`
	} `json:"markets"`
}

type anSide struct {
	Side      string     `json:"side"`
	Odds      int        `json:"odds"`
	Value     *float64   `json:"value"`
	BetsPct   *float64   `json:"bet_info_tickets_percent"`
	HandlePct *float64   `json:"bet_info_money_percent"`
	History   []anPoint  `json:"history"`
}

type anPoint struct {
	Odds      int      `json:"odds"`
	Value     *float64 `json:"value"`
	UpdatedAt string   `json:"updated_at"`
}

func (p *Processor) parseActionNetwork(rec *domain.RawRecord) (*partialRow, error) {
	var payload anPayload
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode action_network payload: %w", err)
	}

	generic := map[string]any{"home_team": payload.HomeTeam, "away_team": payload.AwayTeam}
	teams := extractTeams(generic, rec.ExternalGameID)

	row := p.newRow(rec, teams)
	fields := []string{"game_id", "book_id"}

	for _, side := range payload.Markets.Moneyline {
		fields = append(fields, "moneyline."+side.Side)
		odds := side.Odds
		switch side.Side {
		case "home":
			row.MoneylineHome = &odds
			row.MoneylineHomeBetsPct = side.BetsPct
			row.MoneylineHomeHandlePct = side.HandlePct
		case "away":
			row.MoneylineAway = &odds
		}
	}
	for _, side := range payload.Markets.Spread {
		fields = append(fields, "spread."+side.Side)
		odds := side.Odds
		switch side.Side {
		case "home":
			row.SpreadHomeOdds = &odds
			if side.Value != nil {
				row.SpreadLine = side.Value
			}
			row.SpreadHomeBetsPct = side.BetsPct
			row.SpreadHomeHandlePct = side.HandlePct
		case "away":
			row.SpreadAwayOdds = &odds
			if row.SpreadLine == nil && side.Value != nil {
				flipped := -*side.Value
				row.SpreadLine = &flipped
			}
		}
	}
	for _, side := range payload.Markets.Total {
		fields = append(fields, "total."+side.Side)
		odds := side.Odds
		switch side.Side {
		case "over":
			row.TotalOverOdds = &odds
			if side.Value != nil {
				row.TotalLine = side.Value
			}
			row.TotalOverBetsPct = side.BetsPct
			row.TotalOverHandlePct = side.HandlePct
		case "under":
			row.TotalUnderOdds = &odds
			if row.TotalLine == nil && side.Value != nil {
				row.TotalLine = side.Value
			}
		}
	}

	return &partialRow{row: row, sourceFields: fields}, nil
}

func (p *Processor) parseVSIN(rec *domain.RawRecord) (*partialRow, error) {
	var payload map[string]any
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode vsin payload: %w", err)
	}

	teams := extractTeams(payload, rec.ExternalGameID)
	row := p.newRow(rec, teams)

	var fields []string
	addField := func(name string) { fields = append(fields, name) }

	if v, ok := floatField(payload, "moneyline_line"); ok {
		odds := int(v)
		if domain.OddsInRange(odds) {
			row.MoneylineHome = &odds
			addField("moneyline_line")
		}
	}
	if v, ok := floatField(payload, "spread_line"); ok {
		row.SpreadLine = &v
		addField("spread_line")
	}
	if v, ok := floatField(payload, "total_line"); ok {
		row.TotalLine = &v
		addField("total_line")
	}

	splits := []struct {
		key  string
		dest **float64
	}{
		{"moneyline_home_handle_pct", &row.MoneylineHomeHandlePct},
		{"moneyline_home_bets_pct", &row.MoneylineHomeBetsPct},
		{"spread_home_handle_pct", &row.SpreadHomeHandlePct},
		{"spread_home_bets_pct", &row.SpreadHomeBetsPct},
		{"total_over_handle_pct", &row.TotalOverHandlePct},
		{"total_over_bets_pct", &row.TotalOverBetsPct},
	}
	for _, s := range splits {
		if v, ok := floatField(payload, s.key); ok && v >= 0 && v <= 100 {
			val := v
			*s.dest = &val
			addField(s.key)
		}
	}

	return &partialRow{
		row:          row,
		sourceFields: fields,
		sharpSignals: detectSharpAction(row),
	}, nil
}

func (p *Processor) parseSBD(rec *domain.RawRecord) (*partialRow, error) {
	var payload struct {
		HomeTeam string `json:"home_team"`
		AwayTeam string `json:"away_team"`
		Books    []struct {
			Book          string `json:"book"`
			MoneylineHome *int   `json:"moneyline_home"`
			MoneylineAway *int   `json:"moneyline_away"`
		} `json:"books"`
	}
	if err := json.Unmarshal(rec.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decode sbd payload: %w", err)
	}

	generic := map[string]any{"home_team": payload.HomeTeam, "away_team": payload.AwayTeam}
	teams := extractTeams(generic, rec.ExternalGameID)
	row := p.newRow(rec, teams)

	var fields []string
	for _, b := range payload.Books {
		if b.MoneylineHome != nil {
			row.MoneylineHome = b.MoneylineHome
			fields = append(fields, "books."+b.Book+".moneyline_home")
		}
		if b.MoneylineAway != nil {
			row.MoneylineAway = b.MoneylineAway
			fields = append(fields, "books."+b.Book+".moneyline_away")
		}
	}

	return &partialRow{row: row, sourceFields: fields}, nil
}

// newRow builds the base unified row with source attribution taken from the
// raw record's metadata, never inferred.
func (p *Processor) newRow(rec *domain.RawRecord, teams teamExtraction) *domain.UnifiedRow {
	bookExt := ""
	if rec.SportsbookExternalID != nil {
		bookExt = *rec.SportsbookExternalID
	}
	return &domain.UnifiedRow{
		Source:               rec.Source,
		CollectorName:        rec.CollectorName,
		ExternalGameID:       rec.ExternalGameID,
		HomeTeam:             teams.Home,
		AwayTeam:             teams.Away,
		SportsbookExternalID: bookExt,
		Lineage: domain.DataLineage{
			RawTable: domain.RawTable(rec.Source),
			RawID:    rec.ID,
		},
	}
}

// mergeRow fills absent fields of dst from src without overwriting present
// ones. Multiple raw rows for the same (game, sportsbook) key collapse into
// one unified row.
func mergeRow(dst, src *domain.UnifiedRow) {
	mergeInt := func(d **int, s *int) {
		if *d == nil && s != nil {
			*d = s
		}
	}
	mergeFloat := func(d **float64, s *float64) {
		if *d == nil && s != nil {
			*d = s
		}
	}

	mergeInt(&dst.MoneylineHome, src.MoneylineHome)
	mergeInt(&dst.MoneylineAway, src.MoneylineAway)
	mergeInt(&dst.SpreadHomeOdds, src.SpreadHomeOdds)
	mergeInt(&dst.SpreadAwayOdds, src.SpreadAwayOdds)
	mergeInt(&dst.TotalOverOdds, src.TotalOverOdds)
	mergeInt(&dst.TotalUnderOdds, src.TotalUnderOdds)
	mergeFloat(&dst.SpreadLine, src.SpreadLine)
	mergeFloat(&dst.TotalLine, src.TotalLine)
	mergeFloat(&dst.MoneylineHomeBetsPct, src.MoneylineHomeBetsPct)
	mergeFloat(&dst.MoneylineHomeHandlePct, src.MoneylineHomeHandlePct)
	mergeFloat(&dst.SpreadHomeBetsPct, src.SpreadHomeBetsPct)
	mergeFloat(&dst.SpreadHomeHandlePct, src.SpreadHomeHandlePct)
	mergeFloat(&dst.TotalOverBetsPct, src.TotalOverBetsPct)
	mergeFloat(&dst.TotalOverHandlePct, src.TotalOverHandlePct)

	if strings.HasPrefix(dst.HomeTeam, "H_") && !strings.HasPrefix(src.HomeTeam, "H_") {
		dst.HomeTeam = src.HomeTeam
		dst.AwayTeam = src.AwayTeam
	}
}

// marketsOf derives the market_type label from the populated fields.
func marketsOf(row *domain.UnifiedRow) string {
	present := map[domain.Market]bool{}
	if row.MoneylineHome != nil || row.MoneylineAway != nil {
		present[domain.MarketMoneyline] = true
	}
	if row.SpreadLine != nil || row.SpreadHomeOdds != nil || row.SpreadAwayOdds != nil {
		present[domain.MarketSpread] = true
	}
	if row.TotalLine != nil || row.TotalOverOdds != nil || row.TotalUnderOdds != nil {
		present[domain.MarketTotal] = true
	}
	return domain.JoinMarkets(present)
}

// sharpActionThreshold is the handle-vs-bets divergence (percentage points)
// that flags sharp money on a side.
const sharpActionThreshold = 15.0

func detectSharpAction(row *domain.UnifiedRow) []string {
	var signals []string
	check := func(market string, handle, bets *float64) {
		if handle == nil || bets == nil {
			return
		}
		if diff := *handle - *bets; diff >= sharpActionThreshold {
			signals = append(signals, fmt.Sprintf("%s: handle %.0f%% vs bets %.0f%%", market, *handle, *bets))
		}
	}
	check("moneyline_home", row.MoneylineHomeHandlePct, row.MoneylineHomeBetsPct)
	check("spread_home", row.SpreadHomeHandlePct, row.SpreadHomeBetsPct)
	check("total_over", row.TotalOverHandlePct, row.TotalOverBetsPct)
	return signals
}

func floatField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case string:
		s := strings.TrimSpace(v)
		if s == "" || s == "-" {
			return 0, false
		}
		f, err := strconv.ParseFloat(strings.TrimPrefix(s, "+"), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
