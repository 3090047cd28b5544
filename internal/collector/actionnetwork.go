package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// Action Network publishes a public-betting scoreboard with per-book markets
// and full line-movement history arrays per side.

// ANHistoryPoint is one historical odds observation for a side.
type ANHistoryPoint struct {
	Odds      int      `json:"odds"`
	Value     *float64 `json:"value,omitempty"` // line value; absent for moneyline
	UpdatedAt string   `json:"updated_at"`
}

// ANOutcome is one side of one market at one book.
type ANOutcome struct {
	Side      string           `json:"side"` // home/away/over/under
	Odds      int              `json:"odds"`
	Value     *float64         `json:"value,omitempty"`
	BetsPct   *float64         `json:"bet_info_tickets_percent,omitempty"`
	HandlePct *float64         `json:"bet_info_money_percent,omitempty"`
	History   []ANHistoryPoint `json:"history,omitempty"`
}

// ANEventMarkets groups the three market arrays for a book.
type ANEventMarkets struct {
	Moneyline []ANOutcome `json:"moneyline,omitempty"`
	Spread    []ANOutcome `json:"spread,omitempty"`
	Total     []ANOutcome `json:"total,omitempty"`
}

// ANBookMarkets wraps a book's event markets.
type ANBookMarkets struct {
	Event ANEventMarkets `json:"event"`
}

// ANTeam identifies one team in the scoreboard response.
type ANTeam struct {
	ID           int    `json:"id"`
	FullName     string `json:"full_name"`
	Abbreviation string `json:"abbr"`
}

// ANGame is one scoreboard game with per-book markets keyed by book id.
type ANGame struct {
	ID         int64                    `json:"id"`
	StartTime  string                   `json:"start_time"`
	Teams      []ANTeam                 `json:"teams"`
	HomeTeamID int                      `json:"home_team_id"`
	AwayTeamID int                      `json:"away_team_id"`
	Markets    map[string]ANBookMarkets `json:"markets"`
}

type anScoreboard struct {
	Games []ANGame `json:"games"`
}

// anRawPayload is what lands in the raw zone: one (game, book) slice of the
// scoreboard, self-contained enough for staging to consolidate without
// re-fetching.
type anRawPayload struct {
	GameID     int64          `json:"game_id"`
	StartTime  string         `json:"start_time"`
	HomeTeam   string         `json:"home_team"`
	AwayTeam   string         `json:"away_team"`
	BookID     string         `json:"book_id"`
	Markets    ANEventMarkets `json:"markets"`
}

// ActionNetworkCollector pulls the public-betting scoreboard.
type ActionNetworkCollector struct {
	fetcher *httpFetcher
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewActionNetworkCollector creates the Action Network collector.
func NewActionNetworkCollector(baseURL, userAgent string, logger *slog.Logger) *ActionNetworkCollector {
	return &ActionNetworkCollector{
		fetcher: newHTTPFetcher(domain.SourceActionNetwork, userAgent, "https://www.actionnetwork.com", 30*time.Second, logger),
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *ActionNetworkCollector) Name() string { return "action_network_collector" }

func (c *ActionNetworkCollector) TestConnection(ctx context.Context) bool {
	url := fmt.Sprintf("%s/web/v2/scoreboard/publicbetting/mlb?date=%s",
		c.baseURL, domain.FormatDateCompact(c.now()))
	return c.fetcher.probe(ctx, url)
}

func (c *ActionNetworkCollector) Cleanup() {}

// Collect fetches one date's scoreboard and emits one raw record per
// (game, sportsbook). Empty data with success is reserved for dates with no
// games.
func (c *ActionNetworkCollector) Collect(ctx context.Context, params Params) (*CollectionResult, error) {
	timer := startTimer(c.now)
	date := params.Date
	if date.IsZero() {
		date = c.now()
	}

	url := fmt.Sprintf("%s/web/v2/scoreboard/publicbetting/mlb?bookIds=15,30,68,71,75,79,83,123&date=%s&periods=event",
		c.baseURL, domain.FormatDateCompact(date))

	body, err := c.fetcher.get(ctx, url)
	if err != nil {
		return nil, err
	}

	var board anScoreboard
	if err := json.Unmarshal(body, &board); err != nil {
		return nil, domain.NewSchemaError(domain.SourceActionNetwork, "decode scoreboard: "+err.Error())
	}

	collectedAt := domain.NormalizeInstant(c.now())
	var records []domain.RawRecord
	for _, game := range board.Games {
		home, away := c.teamNames(game)
		for bookID, book := range game.Markets {
			payload := anRawPayload{
				GameID:    game.ID,
				StartTime: game.StartTime,
				HomeTeam:  home,
				AwayTeam:  away,
				BookID:    bookID,
				Markets:   book.Event,
			}
			blob, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			bid := bookID
			records = append(records, domain.RawRecord{
				Source:               domain.SourceActionNetwork,
				CollectorName:        c.Name(),
				ExternalGameID:       strconv.FormatInt(game.ID, 10),
				SportsbookExternalID: &bid,
				Payload:              blob,
				CollectedAt:          collectedAt,
			})
		}
	}

	return timer.finish(&CollectionResult{
		Success:      true,
		Data:         records,
		Source:       domain.SourceActionNetwork,
		RequestCount: 1,
	}), nil
}

// teamNames resolves the home/away full names from the teams array using the
// home/away ids, falling back to array order.
func (c *ActionNetworkCollector) teamNames(game ANGame) (home, away string) {
	for _, t := range game.Teams {
		switch t.ID {
		case game.HomeTeamID:
			home = t.FullName
		case game.AwayTeamID:
			away = t.FullName
		}
	}
	if home == "" && len(game.Teams) > 0 {
		home = game.Teams[0].FullName
	}
	if away == "" && len(game.Teams) > 1 {
		away = game.Teams[1].FullName
	}
	return home, away
}
