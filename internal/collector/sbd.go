package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sharpline/pipeline/internal/domain"
)

// SBD serves a multi-book odds grid. Each game row carries one cell per
// sportsbook with moneyline prices for both sides stacked in the cell.

// sbdBookOdds is one book's prices for a game.
type sbdBookOdds struct {
	Book          string `json:"book"`
	MoneylineHome *int   `json:"moneyline_home,omitempty"`
	MoneylineAway *int   `json:"moneyline_away,omitempty"`
}

// SBDOddsPayload is the parsed per-game raw payload.
type SBDOddsPayload struct {
	HomeTeam string        `json:"home_team"`
	AwayTeam string        `json:"away_team"`
	Books    []sbdBookOdds `json:"books"`
}

// sbdGridBooks is the fixed column order of the odds grid.
var sbdGridBooks = []string{"betmgm", "bet365", "caesars", "draftkings", "fanduel"}

// SBDCollector scrapes the odds grid.
type SBDCollector struct {
	fetcher *httpFetcher
	baseURL string
	logger  *slog.Logger
	now     func() time.Time
}

// NewSBDCollector creates the SBD odds collector.
func NewSBDCollector(baseURL, userAgent string, logger *slog.Logger) *SBDCollector {
	return &SBDCollector{
		fetcher: newHTTPFetcher(domain.SourceSBD, userAgent, "", 30*time.Second, logger),
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *SBDCollector) Name() string { return "sbd_odds_collector" }

func (c *SBDCollector) TestConnection(ctx context.Context) bool {
	return c.fetcher.probe(ctx, c.baseURL+"/mlb/odds/")
}

func (c *SBDCollector) Cleanup() {}

// Collect scrapes the MLB odds grid and emits one raw record per
// (game, book) cell that carries prices.
func (c *SBDCollector) Collect(ctx context.Context, params Params) (*CollectionResult, error) {
	timer := startTimer(c.now)

	body, err := c.fetcher.get(ctx, c.baseURL+"/mlb/odds/")
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewSchemaError(domain.SourceSBD, "parse html: "+err.Error())
	}

	collectedAt := domain.NormalizeInstant(c.now())
	var records []domain.RawRecord

	doc.Find("tr.odds-row, tr[data-game-id]").Each(func(_ int, row *goquery.Selection) {
		gameID, _ := row.Attr("data-game-id")
		away := strings.TrimSpace(row.Find(".team-away, td.matchup .away").First().Text())
		home := strings.TrimSpace(row.Find(".team-home, td.matchup .home").First().Text())
		if home == "" || away == "" {
			return
		}
		if gameID == "" {
			gameID = fmt.Sprintf("sbd_%s_at_%s_%s",
				strings.ToLower(strings.ReplaceAll(away, " ", "_")),
				strings.ToLower(strings.ReplaceAll(home, " ", "_")),
				collectedAt.Format("20060102"))
		}

		cells := row.Find("td.odds-cell")
		for i, book := range sbdGridBooks {
			if i >= cells.Length() {
				break
			}
			cell := cells.Eq(i)
			awayOdds := parseAmericanOdds(cell.Find(".odds-away").Text())
			homeOdds := parseAmericanOdds(cell.Find(".odds-home").Text())
			if awayOdds == nil && homeOdds == nil {
				continue
			}

			payload := SBDOddsPayload{
				HomeTeam: home,
				AwayTeam: away,
				Books: []sbdBookOdds{{
					Book:          book,
					MoneylineHome: homeOdds,
					MoneylineAway: awayOdds,
				}},
			}
			blob, err := json.Marshal(payload)
			if err != nil {
				continue
			}

			bookID := book
			records = append(records, domain.RawRecord{
				Source:               domain.SourceSBD,
				CollectorName:        c.Name(),
				ExternalGameID:       gameID,
				SportsbookExternalID: &bookID,
				Payload:              blob,
				CollectedAt:          collectedAt,
			})
		}
	})

	if len(records) == 0 {
		return nil, domain.NewSchemaError(domain.SourceSBD, "no odds rows parsed from grid")
	}

	return timer.finish(&CollectionResult{
		Success:      true,
		Data:         records,
		Source:       domain.SourceSBD,
		RequestCount: 1,
	}), nil
}

// parseAmericanOdds parses "+150" / "-110" cell text. Returns nil for blanks
// and off-board markers.
func parseAmericanOdds(raw string) *int {
	s := strings.TrimSpace(raw)
	if s == "" || s == "-" || strings.EqualFold(s, "off") {
		return nil
	}
	s = strings.TrimPrefix(s, "+")
	v, err := strconv.Atoi(s)
	if err != nil || !domain.OddsInRange(v) {
		return nil
	}
	return &v
}
