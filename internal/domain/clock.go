package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// All instants in the pipeline are stored and compared in UTC with at most
// microsecond precision. Provider timestamps are normalized at the boundary.

// NormalizeInstant converts t to UTC and truncates sub-microsecond digits.
func NormalizeInstant(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// providerLayouts are the wall-clock formats seen in scraped HTML pages.
// They carry no zone and are interpreted as Eastern, the league's schedule
// zone.
var providerLayouts = []string{
	"2006-01-02 15:04:05",
	"01/02/2006 3:04 PM",
	"Jan 2, 2006 3:04 PM",
}

var easternZone = func() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		return time.FixedZone("ET", -5*3600)
	}
	return loc
}()

// ParseProviderTime parses a provider timestamp into a normalized UTC
// instant. RFC3339 (with or without fractional seconds), epoch milliseconds,
// and the known HTML wall-clock layouts are accepted.
func ParseProviderTime(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NormalizeInstant(t), nil
	}

	// Epoch milliseconds (all-digit strings of plausible length).
	if len(s) >= 12 && len(s) <= 14 {
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return NormalizeInstant(time.UnixMilli(ms)), nil
		}
	}

	for _, layout := range providerLayouts {
		if t, err := time.ParseInLocation(layout, s, easternZone); err == nil {
			return NormalizeInstant(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// FormatDateCompact renders the YYYYMMDD date format the HTTP providers use.
func FormatDateCompact(t time.Time) string {
	return t.UTC().Format("20060102")
}

// SeasonOf returns the MLB season year for a game date.
func SeasonOf(t time.Time) int {
	return t.UTC().Year()
}
