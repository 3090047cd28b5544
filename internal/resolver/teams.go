package resolver

import (
	"strings"

	"github.com/sharpline/pipeline/internal/domain"
)

// Team standardization runs a waterfall: exact code match, alias match
// (case-insensitive), substring match against full names, then the curated
// fuzzy map. Returns "" for unresolvable names; the caller decides whether
// to proceed.

// fuzzyTeamNames covers spellings the generic passes miss: truncations,
// city-only references and legacy names seen in scraped pages.
var fuzzyTeamNames = map[string]string{
	"ny yankees":    "NYY",
	"ny mets":       "NYM",
	"la dodgers":    "LAD",
	"la angels":     "LAA",
	"chi cubs":      "CHC",
	"chi white sox": "CWS",
	"chi sox":       "CWS",
	"sf giants":     "SF",
	"sd padres":     "SD",
	"tampa":         "TB",
	"tampa bay":     "TB",
	"kansas city":   "KC",
	"st louis":      "STL",
	"st. louis":     "STL",
	"washington":    "WSH",
	"oakland as":    "OAK",
	"sacramento athletics": "OAK",
	"cleveland":    "CLE",
	"arizona":      "ARI",
	"colorado":     "COL",
	"anaheim":      "LAA",
}

// StandardizeTeam maps a provider team name to a canonical 3-letter code.
func StandardizeTeam(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ""
	}

	// Exact code match.
	if domain.IsKnownTeamCode(name) {
		return strings.ToUpper(name)
	}

	lower := strings.ToLower(name)

	// Full-name and alias match, case-insensitive.
	for _, t := range domain.MLBTeams {
		if strings.EqualFold(name, t.FullName) {
			return t.Code
		}
		for _, alias := range t.Aliases {
			if strings.EqualFold(name, alias) {
				return t.Code
			}
		}
	}

	// Substring match against full names. Requires a unique hit.
	var hit string
	for _, t := range domain.MLBTeams {
		if strings.Contains(strings.ToLower(t.FullName), lower) || strings.Contains(lower, strings.ToLower(t.FullName)) {
			if hit != "" && hit != t.Code {
				hit = ""
				break
			}
			hit = t.Code
		}
	}
	if hit != "" {
		return hit
	}

	// Curated fuzzy map.
	if code, ok := fuzzyTeamNames[lower]; ok {
		return code
	}

	return ""
}

// StandardizePair resolves both sides and enforces home != away.
func StandardizePair(homeRaw, awayRaw string) (home, away string, ok bool) {
	home = StandardizeTeam(homeRaw)
	away = StandardizeTeam(awayRaw)
	if home == "" || away == "" || home == away {
		return home, away, false
	}
	return home, away, true
}
