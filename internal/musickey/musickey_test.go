package musickey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"C", "C", 0},
		{"C", "G", 1},
		{"C", "F", 1},  // counter-clockwise wrap
		{"C", "F#", 6}, // opposite side of the circle
		{"G", "D", 1},
		{"C", "A", 3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Distance(tt.a, tt.b), "Distance(%s,%s)", tt.a, tt.b)
	}
}

func TestDistanceUnknownKey(t *testing.T) {
	assert.Equal(t, -1, Distance("C", "H"))
	assert.Equal(t, -1, Distance("", "C"))
}

func TestCompatibility(t *testing.T) {
	assert.InDelta(t, 1.0, Compatibility("C", "C"), 1e-9)
	assert.InDelta(t, 0.8, Compatibility("C", "G"), 1e-9)
	assert.InDelta(t, 0.8, Compatibility("G", "C"), 1e-9)
	// Distance 6 would go negative; clamped to zero.
	assert.InDelta(t, 0.0, Compatibility("C", "F#"), 1e-9)
	// Unknown keys are neutral-zero, never negative.
	assert.Equal(t, 0.0, Compatibility("C", "X"))
}

func TestEnharmonicEquivalents(t *testing.T) {
	assert.Equal(t, 0, Distance("F#", "Gb"))
	assert.Equal(t, 0, Distance("C#", "Db"))
}

func TestMinorKeysNormalized(t *testing.T) {
	// A minor shares the circle position of C major's relative minor slot.
	assert.Equal(t, Distance("Am", "Em"), Distance("A minor", "E minor"))
	assert.GreaterOrEqual(t, Distance("Am", "Em"), 0)
}
