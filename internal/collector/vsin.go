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

// VSIN publishes betting-splits tables (handle % and bet-count %) per
// sportsbook view. The column layout is fixed per sport and declared here
// rather than inferred from the page.

// vsinColumnSpec maps the MLB table's columns. Column 0 carries both team
// names; each market contributes a line column and two percentage columns.
type vsinColumnSpec struct {
	MinCells            int
	MoneylineLine       int
	MoneylineHandlePct  int
	MoneylineBetsPct    int
	TotalLine           int
	TotalOverHandlePct  int
	TotalOverBetsPct    int
	SpreadLine          int
	SpreadHandlePct     int
	SpreadBetsPct       int
}

var vsinMLBColumns = vsinColumnSpec{
	MinCells:           10,
	MoneylineLine:      1,
	MoneylineHandlePct: 2,
	MoneylineBetsPct:   3,
	TotalLine:          4,
	TotalOverHandlePct: 5,
	TotalOverBetsPct:   6,
	SpreadLine:         7,
	SpreadHandlePct:    8,
	SpreadBetsPct:      9,
}

// vsinBooks are the sportsbook views the collector cycles through.
var vsinBooks = []string{"dk", "circa", "fanduel", "mgm", "caesars"}

// VSINSplitsPayload is the parsed per-game raw payload.
type VSINSplitsPayload struct {
	HomeTeam string `json:"home_team"`
	AwayTeam string `json:"away_team"`
	Book     string `json:"book"`

	MoneylineLine      string   `json:"moneyline_line,omitempty"`
	MoneylineHandlePct *float64 `json:"moneyline_home_handle_pct,omitempty"`
	MoneylineBetsPct   *float64 `json:"moneyline_home_bets_pct,omitempty"`

	TotalLine          string   `json:"total_line,omitempty"`
	TotalOverHandlePct *float64 `json:"total_over_handle_pct,omitempty"`
	TotalOverBetsPct   *float64 `json:"total_over_bets_pct,omitempty"`

	SpreadLine      string   `json:"spread_line,omitempty"`
	SpreadHandlePct *float64 `json:"spread_home_handle_pct,omitempty"`
	SpreadBetsPct   *float64 `json:"spread_home_bets_pct,omitempty"`
}

// VSINCollector scrapes the betting-splits pages.
type VSINCollector struct {
	fetcher *httpFetcher
	baseURL string
	books   []string
	logger  *slog.Logger
	now     func() time.Time
}

// NewVSINCollector creates the VSIN splits collector.
func NewVSINCollector(baseURL, userAgent string, logger *slog.Logger) *VSINCollector {
	return &VSINCollector{
		fetcher: newHTTPFetcher(domain.SourceVSIN, userAgent, "https://www.vsin.com", 30*time.Second, logger),
		baseURL: baseURL,
		books:   vsinBooks,
		logger:  logger,
		now:     time.Now,
	}
}

func (c *VSINCollector) Name() string { return "vsin_splits_collector" }

func (c *VSINCollector) TestConnection(ctx context.Context) bool {
	return c.fetcher.probe(ctx, c.baseURL+"/betting-resources/?view=dk")
}

func (c *VSINCollector) Cleanup() {}

// Collect scrapes each configured book view and emits one raw record per
// game row.
func (c *VSINCollector) Collect(ctx context.Context, params Params) (*CollectionResult, error) {
	timer := startTimer(c.now)
	books := c.books
	if params.Book != "" {
		books = []string{params.Book}
	}

	result := &CollectionResult{Source: domain.SourceVSIN}
	collectedAt := domain.NormalizeInstant(c.now())

	for _, book := range books {
		url := fmt.Sprintf("%s/betting-resources/mlb/?view=%s", c.baseURL, book)
		body, err := c.fetcher.get(ctx, url)
		result.RequestCount++
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}

		records, err := c.parseSplitsPage(body, book, collectedAt)
		if err != nil {
			result.Errors = append(result.Errors, err.Error())
			continue
		}
		result.Data = append(result.Data, records...)
	}

	// Every view failing is a failure; partial views degrade confidence but
	// still deliver data.
	result.Success = len(result.Errors) < len(books)
	if !result.Success {
		timer.finish(result)
		return result, domain.NewTransientError(domain.SourceVSIN,
			fmt.Sprintf("all %d book views failed", len(books)), nil)
	}
	return timer.finish(result), nil
}

func (c *VSINCollector) parseSplitsPage(body []byte, book string, collectedAt time.Time) ([]domain.RawRecord, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, domain.NewSchemaError(domain.SourceVSIN, "parse html: "+err.Error())
	}

	table := doc.Find("table.freezetable").First()
	if table.Length() == 0 {
		return nil, domain.NewSchemaError(domain.SourceVSIN, "betting table not found in "+book+" view")
	}

	spec := vsinMLBColumns
	var records []domain.RawRecord

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		if row.HasClass("div_dkdark") { // header rows
			return
		}
		cells := row.Find("td")
		if cells.Length() < spec.MinCells {
			return
		}

		home, away := splitVSINTeams(cells.Eq(0).Text())
		if home == "" || away == "" {
			return
		}

		payload := VSINSplitsPayload{
			HomeTeam:           home,
			AwayTeam:           away,
			Book:               book,
			MoneylineLine:      strings.TrimSpace(cells.Eq(spec.MoneylineLine).Text()),
			MoneylineHandlePct: parsePercent(cells.Eq(spec.MoneylineHandlePct).Text()),
			MoneylineBetsPct:   parsePercent(cells.Eq(spec.MoneylineBetsPct).Text()),
			TotalLine:          strings.TrimSpace(cells.Eq(spec.TotalLine).Text()),
			TotalOverHandlePct: parsePercent(cells.Eq(spec.TotalOverHandlePct).Text()),
			TotalOverBetsPct:   parsePercent(cells.Eq(spec.TotalOverBetsPct).Text()),
			SpreadLine:         strings.TrimSpace(cells.Eq(spec.SpreadLine).Text()),
			SpreadHandlePct:    parsePercent(cells.Eq(spec.SpreadHandlePct).Text()),
			SpreadBetsPct:      parsePercent(cells.Eq(spec.SpreadBetsPct).Text()),
		}

		blob, err := json.Marshal(payload)
		if err != nil {
			return
		}

		bookID := book
		records = append(records, domain.RawRecord{
			Source:               domain.SourceVSIN,
			CollectorName:        c.Name(),
			ExternalGameID:       vsinGameKey(away, home, collectedAt),
			SportsbookExternalID: &bookID,
			Payload:              blob,
			CollectedAt:          collectedAt,
		})
	})

	if len(records) == 0 {
		return nil, domain.NewSchemaError(domain.SourceVSIN, "no game rows parsed from "+book+" view")
	}
	return records, nil
}

// splitVSINTeams separates the stacked "Away Team\nHome Team" first column.
func splitVSINTeams(raw string) (home, away string) {
	parts := strings.Split(strings.TrimSpace(raw), "\n")
	var names []string
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			names = append(names, s)
		}
	}
	if len(names) < 2 {
		return "", ""
	}
	// VSIN lists away on top.
	return names[1], names[0]
}

// vsinGameKey derives a stable external key for a scraped matchup, since the
// page carries no game id.
func vsinGameKey(away, home string, collectedAt time.Time) string {
	norm := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "_"))
	}
	return fmt.Sprintf("vsin_%s_at_%s_%s", norm(away), norm(home), collectedAt.Format("20060102"))
}

func parsePercent(raw string) *float64 {
	s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if s == "" || s == "-" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || v > 100 {
		return nil
	}
	return &v
}
