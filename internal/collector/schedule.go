package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sharpline/pipeline/internal/domain"
)

// The schedule API is the authoritative game list; its gamePk is the
// canonical game id every other source resolves to.

// ScheduleGame is one authoritative game.
type ScheduleGame struct {
	GamePk     int64     `json:"gamePk"`
	GameDate   time.Time `json:"gameDate"`
	HomeTeamID int       `json:"homeTeamId"`
	AwayTeamID int       `json:"awayTeamId"`
	HomeName   string    `json:"homeName"`
	AwayName   string    `json:"awayName"`
	Status     string    `json:"status"`
}

type scheduleResponse struct {
	Dates []struct {
		Date  string `json:"date"`
		Games []struct {
			GamePk   int64  `json:"gamePk"`
			GameDate string `json:"gameDate"`
			Status   struct {
				AbstractGameState string `json:"abstractGameState"`
			} `json:"status"`
			Teams struct {
				Home struct {
					Team struct {
						ID   int    `json:"id"`
						Name string `json:"name"`
					} `json:"team"`
				} `json:"home"`
				Away struct {
					Team struct {
						ID   int    `json:"id"`
						Name string `json:"name"`
					} `json:"team"`
				} `json:"away"`
			} `json:"teams"`
		} `json:"games"`
	} `json:"dates"`
}

type scheduleCacheEntry struct {
	games   []ScheduleGame
	cachedAt time.Time
}

// ScheduleClient fetches and caches the authoritative schedule. Responses
// are cached for a rolling 30 days keyed by date.
type ScheduleClient struct {
	fetcher *httpFetcher
	baseURL string
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	cache map[string]scheduleCacheEntry

	apiCalls int64
}

const scheduleCacheTTL = 30 * 24 * time.Hour

// NewScheduleClient creates the schedule API client.
func NewScheduleClient(baseURL, userAgent string, logger *slog.Logger) *ScheduleClient {
	return &ScheduleClient{
		fetcher: newHTTPFetcher(domain.SourceMLBSchedule, userAgent, "", 30*time.Second, logger),
		baseURL: baseURL,
		logger:  logger,
		now:     time.Now,
		cache:   make(map[string]scheduleCacheEntry),
	}
}

// GamesForDate returns the authoritative games for one date, served from the
// rolling cache when fresh.
func (c *ScheduleClient) GamesForDate(ctx context.Context, date time.Time) ([]ScheduleGame, error) {
	key := date.UTC().Format("2006-01-02")

	c.mu.Lock()
	if entry, ok := c.cache[key]; ok && c.now().Sub(entry.cachedAt) < scheduleCacheTTL {
		games := entry.games
		c.mu.Unlock()
		return games, nil
	}
	c.mu.Unlock()

	url := fmt.Sprintf("%s/api/v1/schedule?sportId=1&date=%s&hydrate=team", c.baseURL, key)
	body, err := c.fetcher.get(ctx, url)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.apiCalls++
	c.mu.Unlock()

	var resp scheduleResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSchemaError(domain.SourceMLBSchedule, "decode schedule: "+err.Error())
	}

	var games []ScheduleGame
	for _, d := range resp.Dates {
		for _, g := range d.Games {
			gameDate, err := domain.ParseProviderTime(g.GameDate)
			if err != nil {
				gameDate = date.UTC()
			}
			games = append(games, ScheduleGame{
				GamePk:     g.GamePk,
				GameDate:   gameDate,
				HomeTeamID: g.Teams.Home.Team.ID,
				AwayTeamID: g.Teams.Away.Team.ID,
				HomeName:   g.Teams.Home.Team.Name,
				AwayName:   g.Teams.Away.Team.Name,
				Status:     g.Status.AbstractGameState,
			})
		}
	}

	c.mu.Lock()
	c.cache[key] = scheduleCacheEntry{games: games, cachedAt: c.now()}
	c.mu.Unlock()

	return games, nil
}

// APICalls reports how many live schedule fetches have been made.
func (c *ScheduleClient) APICalls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.apiCalls
}

// ScheduleCollector adapts the schedule client to the Collector interface so
// the orchestrator can refresh the authoritative game list like any other
// source.
type ScheduleCollector struct {
	client *ScheduleClient
	logger *slog.Logger
	now    func() time.Time
}

// NewScheduleCollector wraps a schedule client.
func NewScheduleCollector(client *ScheduleClient, logger *slog.Logger) *ScheduleCollector {
	return &ScheduleCollector{client: client, logger: logger, now: time.Now}
}

func (c *ScheduleCollector) Name() string { return "mlb_schedule_collector" }

func (c *ScheduleCollector) TestConnection(ctx context.Context) bool {
	_, err := c.client.GamesForDate(ctx, c.now())
	return err == nil
}

func (c *ScheduleCollector) Cleanup() {}

// Collect fetches one date's schedule and emits one raw record per game.
func (c *ScheduleCollector) Collect(ctx context.Context, params Params) (*CollectionResult, error) {
	timer := startTimer(c.now)
	date := params.Date
	if date.IsZero() {
		date = c.now()
	}

	games, err := c.client.GamesForDate(ctx, date)
	if err != nil {
		return nil, err
	}

	collectedAt := domain.NormalizeInstant(c.now())
	records := make([]domain.RawRecord, 0, len(games))
	for _, g := range games {
		blob, err := json.Marshal(g)
		if err != nil {
			continue
		}
		records = append(records, domain.RawRecord{
			Source:         domain.SourceMLBSchedule,
			CollectorName:  c.Name(),
			ExternalGameID: strconv.FormatInt(g.GamePk, 10),
			Payload:        blob,
			CollectedAt:    collectedAt,
		})
	}

	// A date with no games is a legitimate empty success.
	return timer.finish(&CollectionResult{
		Success:      true,
		Data:         records,
		Source:       domain.SourceMLBSchedule,
		RequestCount: 1,
	}), nil
}
