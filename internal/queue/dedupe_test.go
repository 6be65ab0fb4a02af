package queue

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/resoundfm/resound/internal/models"
)

// scoredBatch builds a descending-score batch with one track per entry,
// artist given per position.
func scoredBatch(artists []string) []models.ScoredTrack {
	out := make([]models.ScoredTrack, len(artists))
	for i, artist := range artists {
		out[i] = models.ScoredTrack{
			Track: models.Track{
				ID:      fmt.Sprintf("t%d", i),
				Title:   fmt.Sprintf("Track %d", i),
				Artists: models.StringArray{artist},
			},
			Score: float64(100 - i),
		}
	}
	return out
}

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Midnight City", "midnight city"},
		{"Midnight City (feat. Someone)", "midnight city"},
		{"Midnight City [ft. Someone]", "midnight city"},
		{"Midnight  City!!!", "midnight city"},
		{"MIDNIGHT CITY (with Friends)", "midnight city"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeTitle(tt.in), "normalizeTitle(%q)", tt.in)
	}
}

func TestIsNearDuplicateTitle(t *testing.T) {
	dup := [][2]string{
		{"Midnight City", "midnight city"},
		{"Midnight City", "Midnight City (feat. Someone)"},
		{"Midnight City", "Midnight City - Remastered"}, // substring containment
		{"One Two Three Four Five", "one two three four SIX"}, // 80% word overlap
	}
	for _, p := range dup {
		assert.True(t, isNearDuplicateTitle(p[0], p[1]), "%q vs %q", p[0], p[1])
		assert.True(t, isNearDuplicateTitle(p[1], p[0]), "symmetry %q vs %q", p[1], p[0])
	}

	distinct := [][2]string{
		{"Midnight City", "Sunrise Valley"},
		{"Run", "Running Up That Hill"}, // shorter side under 5 chars
		{"One Two", "Three Four"},
		{"", "Anything"},
	}
	for _, p := range distinct {
		assert.False(t, isNearDuplicateTitle(p[0], p[1]), "%q vs %q", p[0], p[1])
	}
}

func TestDiversityFilterCapsArtists(t *testing.T) {
	batch := scoredBatch([]string{"a", "a", "a", "b", "b", "c"})
	selected := diversityFilter(batch, 6, 2)

	counts := map[string]int{}
	for _, t := range selected {
		counts[t.Track.PrimaryArtist()]++
	}
	// Cap holds, then leftovers back-fill to the requested size.
	assert.Len(t, selected, 6)
	assert.GreaterOrEqual(t, counts["a"], 2)
	assert.Equal(t, 2, counts["b"])
	assert.Equal(t, 1, counts["c"])
}

func TestDiversityFilterNoBackfillNeeded(t *testing.T) {
	batch := scoredBatch([]string{"a", "a", "a", "b"})
	selected := diversityFilter(batch, 3, 2)

	assert.Len(t, selected, 3)
	counts := map[string]int{}
	for _, t := range selected {
		counts[t.Track.PrimaryArtist()]++
	}
	assert.Equal(t, 2, counts["a"])
	assert.Equal(t, 1, counts["b"])
}

func TestDiversityFilterPreservesScoreOrderWithinCap(t *testing.T) {
	batch := scoredBatch([]string{"a", "b", "a", "c"})
	selected := diversityFilter(batch, 4, 2)

	for i := 1; i < len(selected); i++ {
		if selected[i-1].Track.PrimaryArtist() != selected[i].Track.PrimaryArtist() {
			continue
		}
		assert.GreaterOrEqual(t, selected[i-1].Score, selected[i].Score)
	}
}
