package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTeamByCode(t *testing.T) {
	team, ok := TeamByCode("nyy")
	require.True(t, ok)
	assert.Equal(t, "New York Yankees", team.FullName)

	_, ok = TeamByCode("XXX")
	assert.False(t, ok)
}

func TestTeamTableComplete(t *testing.T) {
	assert.Len(t, MLBTeams, 30)

	seen := map[string]bool{}
	for _, team := range MLBTeams {
		assert.Len(t, team.Code, 3, "code %s", team.Code)
		assert.False(t, seen[team.Code], "duplicate code %s", team.Code)
		seen[team.Code] = true
		assert.NotZero(t, team.LeagueID)
	}
}

func TestValidSide(t *testing.T) {
	tests := []struct {
		market Market
		side   Side
		want   bool
	}{
		{MarketMoneyline, SideHome, true},
		{MarketMoneyline, SideOver, false},
		{MarketSpread, SideAway, true},
		{MarketSpread, SideUnder, false},
		{MarketTotal, SideOver, true},
		{MarketTotal, SideHome, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidSide(tt.market, tt.side), "%s/%s", tt.market, tt.side)
	}
}

func TestJoinMarkets(t *testing.T) {
	assert.Equal(t, "moneyline", JoinMarkets(map[Market]bool{MarketMoneyline: true}))
	assert.Equal(t, "moneyline+spread", JoinMarkets(map[Market]bool{MarketSpread: true, MarketMoneyline: true}))
	assert.Equal(t, "moneyline+spread+total", JoinMarkets(map[Market]bool{
		MarketTotal: true, MarketSpread: true, MarketMoneyline: true,
	}))
	assert.Equal(t, "unknown", JoinMarkets(nil))
}

func TestOddsPointValidate(t *testing.T) {
	line := 1.5
	p := OddsPoint{Market: MarketMoneyline, Side: SideHome, Odds: -150, LineValue: &line}
	assert.Error(t, p.Validate(), "moneyline must not carry a line value")

	p.LineValue = nil
	assert.NoError(t, p.Validate())

	p = OddsPoint{Market: MarketTotal, Side: SideHome, Odds: -110}
	assert.Error(t, p.Validate(), "home side not allowed for totals")
}

func TestUnifiedRowRequiredFields(t *testing.T) {
	row := UnifiedRow{
		Source:         SourceActionNetwork,
		CollectorName:  "action_network_collector",
		ExternalGameID: "257653",
		HomeTeam:       "NYY",
		AwayTeam:       "BOS",
		SportsbookName: "DraftKings",
		MarketType:     "moneyline",
	}
	assert.Empty(t, row.RequiredFieldErrors())

	row.AwayTeam = "NYY"
	errs := row.RequiredFieldErrors()
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "identical")
}

func TestCoversMarket(t *testing.T) {
	row := UnifiedRow{MarketType: "moneyline+spread"}
	assert.True(t, row.CoversMarket(MarketMoneyline))
	assert.True(t, row.CoversMarket(MarketSpread))
	assert.False(t, row.CoversMarket(MarketTotal))
}

func TestHealthStatusThresholds(t *testing.T) {
	m := CollectionHealthMetrics{SuccessRate: 0.95, ConfidenceScore: 0.9}
	assert.Equal(t, HealthHealthy, m.Status())
	assert.Equal(t, AlertLevelNormal, m.Level())

	m = CollectionHealthMetrics{SuccessRate: 0.7, ConfidenceScore: 0.9}
	assert.Equal(t, HealthDegraded, m.Status())

	m = CollectionHealthMetrics{SuccessRate: 0.95, ConfidenceScore: 0.9, GapDuration: 2 * time.Hour}
	assert.Equal(t, HealthDegraded, m.Status())

	m = CollectionHealthMetrics{SuccessRate: 0.2, ConfidenceScore: 0.1, ConsecutiveFailures: 7}
	assert.Equal(t, HealthCritical, m.Status())
	assert.Equal(t, AlertLevelCritical, m.Level())
}

func TestParseProviderTime(t *testing.T) {
	got, err := ParseProviderTime("2024-07-18T19:05:00.123456789Z")
	require.NoError(t, err)
	assert.Equal(t, time.UTC, got.Location())
	// Sub-microsecond digits are truncated.
	assert.Equal(t, 123456000, got.Nanosecond())

	got, err = ParseProviderTime("1721329500000")
	require.NoError(t, err)
	assert.Equal(t, int64(1721329500), got.Unix())

	_, err = ParseProviderTime("not a time")
	assert.Error(t, err)
}

func TestFormatDateCompact(t *testing.T) {
	d := time.Date(2024, 7, 18, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "20240718", FormatDateCompact(d))
}
