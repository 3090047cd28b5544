package domain

import "strings"

// Team is one entry of the fixed MLB reference set.
type Team struct {
	Code     string   `json:"code"` // canonical 3-letter code
	FullName string   `json:"full_name"`
	Aliases  []string `json:"aliases,omitempty"`
	Division string   `json:"division"`
	LeagueID int      `json:"league_id"` // MLB Stats API team id
}

// MLBTeams is the static 30-team reference table. The league id is the
// MLB Stats API team id used when matching schedule responses.
var MLBTeams = []Team{
	{Code: "ARI", FullName: "Arizona Diamondbacks", Aliases: []string{"Diamondbacks", "D-backs", "AZ"}, Division: "NL West", LeagueID: 109},
	{Code: "ATL", FullName: "Atlanta Braves", Aliases: []string{"Braves"}, Division: "NL East", LeagueID: 144},
	{Code: "BAL", FullName: "Baltimore Orioles", Aliases: []string{"Orioles", "O's"}, Division: "AL East", LeagueID: 110},
	{Code: "BOS", FullName: "Boston Red Sox", Aliases: []string{"Red Sox"}, Division: "AL East", LeagueID: 111},
	{Code: "CHC", FullName: "Chicago Cubs", Aliases: []string{"Cubs"}, Division: "NL Central", LeagueID: 112},
	{Code: "CWS", FullName: "Chicago White Sox", Aliases: []string{"White Sox", "CHW"}, Division: "AL Central", LeagueID: 145},
	{Code: "CIN", FullName: "Cincinnati Reds", Aliases: []string{"Reds"}, Division: "NL Central", LeagueID: 113},
	{Code: "CLE", FullName: "Cleveland Guardians", Aliases: []string{"Guardians", "Indians"}, Division: "AL Central", LeagueID: 114},
	{Code: "COL", FullName: "Colorado Rockies", Aliases: []string{"Rockies"}, Division: "NL West", LeagueID: 115},
	{Code: "DET", FullName: "Detroit Tigers", Aliases: []string{"Tigers"}, Division: "AL Central", LeagueID: 116},
	{Code: "HOU", FullName: "Houston Astros", Aliases: []string{"Astros"}, Division: "AL West", LeagueID: 117},
	{Code: "KC", FullName: "Kansas City Royals", Aliases: []string{"Royals", "KCR"}, Division: "AL Central", LeagueID: 118},
	{Code: "LAA", FullName: "Los Angeles Angels", Aliases: []string{"Angels", "Anaheim"}, Division: "AL West", LeagueID: 108},
	{Code: "LAD", FullName: "Los Angeles Dodgers", Aliases: []string{"Dodgers"}, Division: "NL West", LeagueID: 119},
	{Code: "MIA", FullName: "Miami Marlins", Aliases: []string{"Marlins", "Florida Marlins"}, Division: "NL East", LeagueID: 146},
	{Code: "MIL", FullName: "Milwaukee Brewers", Aliases: []string{"Brewers"}, Division: "NL Central", LeagueID: 158},
	{Code: "MIN", FullName: "Minnesota Twins", Aliases: []string{"Twins"}, Division: "AL Central", LeagueID: 142},
	{Code: "NYM", FullName: "New York Mets", Aliases: []string{"Mets"}, Division: "NL East", LeagueID: 121},
	{Code: "NYY", FullName: "New York Yankees", Aliases: []string{"Yankees"}, Division: "AL East", LeagueID: 147},
	{Code: "OAK", FullName: "Oakland Athletics", Aliases: []string{"Athletics", "A's"}, Division: "AL West", LeagueID: 133},
	{Code: "PHI", FullName: "Philadelphia Phillies", Aliases: []string{"Phillies"}, Division: "NL East", LeagueID: 143},
	{Code: "PIT", FullName: "Pittsburgh Pirates", Aliases: []string{"Pirates"}, Division: "NL Central", LeagueID: 134},
	{Code: "SD", FullName: "San Diego Padres", Aliases: []string{"Padres", "SDP"}, Division: "NL West", LeagueID: 135},
	{Code: "SF", FullName: "San Francisco Giants", Aliases: []string{"Giants", "SFG"}, Division: "NL West", LeagueID: 137},
	{Code: "SEA", FullName: "Seattle Mariners", Aliases: []string{"Mariners"}, Division: "AL West", LeagueID: 136},
	{Code: "STL", FullName: "St. Louis Cardinals", Aliases: []string{"Cardinals", "Cards"}, Division: "NL Central", LeagueID: 138},
	{Code: "TB", FullName: "Tampa Bay Rays", Aliases: []string{"Rays", "TBR", "Devil Rays"}, Division: "AL East", LeagueID: 139},
	{Code: "TEX", FullName: "Texas Rangers", Aliases: []string{"Rangers"}, Division: "AL West", LeagueID: 140},
	{Code: "TOR", FullName: "Toronto Blue Jays", Aliases: []string{"Blue Jays", "Jays"}, Division: "AL East", LeagueID: 141},
	{Code: "WSH", FullName: "Washington Nationals", Aliases: []string{"Nationals", "Nats", "WAS"}, Division: "NL East", LeagueID: 120},
}

var teamsByCode = func() map[string]Team {
	m := make(map[string]Team, len(MLBTeams))
	for _, t := range MLBTeams {
		m[t.Code] = t
	}
	return m
}()

var teamsByLeagueID = func() map[int]Team {
	m := make(map[int]Team, len(MLBTeams))
	for _, t := range MLBTeams {
		m[t.LeagueID] = t
	}
	return m
}()

// TeamByCode returns the team for a canonical 3-letter code.
func TeamByCode(code string) (Team, bool) {
	t, ok := teamsByCode[strings.ToUpper(code)]
	return t, ok
}

// TeamByLeagueID returns the team for an MLB Stats API team id.
func TeamByLeagueID(id int) (Team, bool) {
	t, ok := teamsByLeagueID[id]
	return t, ok
}

// IsKnownTeamCode reports whether code is one of the 30 canonical codes.
func IsKnownTeamCode(code string) bool {
	_, ok := teamsByCode[strings.ToUpper(code)]
	return ok
}
