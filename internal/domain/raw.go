package domain

import (
	"encoding/json"
	"time"
)

// RawRecord is one fetch from one source. Records are durable and never
// mutated after insert.
type RawRecord struct {
	ID                   int64           `json:"id"`
	Source               string          `json:"source"`
	CollectorName        string          `json:"collector_name"`
	ExternalGameID       string          `json:"external_game_id"`
	SportsbookExternalID *string         `json:"sportsbook_external_id,omitempty"`
	Payload              json.RawMessage `json:"payload"`
	CollectedAt          time.Time       `json:"collected_at"`
}

// RawTable returns the raw-zone table a source lands in.
func RawTable(source string) string {
	switch source {
	case SourceActionNetwork:
		return "raw_data.action_network_odds"
	case SourceVSIN:
		return "raw_data.vsin_splits"
	case SourceSBD:
		return "raw_data.sbd_odds"
	default:
		return "raw_data.misc"
	}
}
