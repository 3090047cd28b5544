package domain

// Sportsbook is one entry of the fixed sportsbook reference set.
type Sportsbook struct {
	ID          int               `json:"id"`
	DisplayName string            `json:"display_name"`
	Abbreviation string           `json:"abbreviation,omitempty"`
	ExternalIDs map[string]string `json:"external_ids"` // per-source external id
	Active      bool              `json:"active"`
}

// ActionNetworkSportsbooks is the static fallback map of Action Network book
// ids to display names. The database mapping table is authoritative when the
// two disagree.
var ActionNetworkSportsbooks = map[int]string{
	15:  "DraftKings",
	30:  "FanDuel",
	68:  "BetMGM",
	69:  "BetMGM",
	71:  "PointsBet",
	75:  "Barstool Sportsbook",
	79:  "Caesars",
	83:  "BetRivers",
	123: "WynnBET",
	972: "Fanatics",
}
