package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStandardizeTeam(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"NYY", "NYY"},                 // exact code
		{"nyy", "NYY"},                 // code, wrong case
		{"New York Yankees", "NYY"},    // full name
		{"new york yankees", "NYY"},    // full name, wrong case
		{"Yankees", "NYY"},             // alias
		{"D-backs", "ARI"},             // alias with punctuation
		{"Red Sox", "BOS"},             // alias
		{"st. louis", "STL"},           // fuzzy map
		{"chi cubs", "CHC"},            // fuzzy map
		{"tampa", "TB"},                // fuzzy map
		{"Cleveland Guardians", "CLE"}, // full name
		{"Indians", "CLE"},             // legacy alias
		{"", ""},                       // empty
		{"Gotham Knights", ""},         // unresolvable
		{"New York", ""},               // ambiguous substring
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StandardizeTeam(tt.in), "input %q", tt.in)
	}
}

func TestStandardizePair(t *testing.T) {
	home, away, ok := StandardizePair("New York Yankees", "Red Sox")
	assert.True(t, ok)
	assert.Equal(t, "NYY", home)
	assert.Equal(t, "BOS", away)

	_, _, ok = StandardizePair("Yankees", "NYY")
	assert.False(t, ok, "same team both sides")

	_, _, ok = StandardizePair("Yankees", "Gotham Knights")
	assert.False(t, ok, "unresolvable away side")
}
