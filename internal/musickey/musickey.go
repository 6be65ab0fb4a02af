// Package musickey maps musical key names onto the circle of fifths and
// estimates harmonic compatibility between two keys.
package musickey

import "strings"

// circleOfFifths positions each pitch class clockwise starting from C.
var circleOfFifths = map[string]int{
	"C": 0, "G": 1, "D": 2, "A": 3, "E": 4, "B": 5,
	"F#": 6, "GB": 6, "C#": 7, "DB": 7, "G#": 8, "AB": 8,
	"D#": 9, "EB": 9, "A#": 10, "BB": 10, "F": 11,
}

// Position returns a key's clockwise position on the circle (0-11).
// The second return is false for unrecognized key names.
func Position(key string) (int, bool) {
	pos, ok := circleOfFifths[normalize(key)]
	return pos, ok
}

// Distance returns the minimum number of steps between two keys on the
// circle, taking the shorter of the clockwise and counterclockwise paths.
// Returns -1 when either key is unrecognized.
func Distance(a, b string) int {
	pa, ok := Position(a)
	if !ok {
		return -1
	}
	pb, ok := Position(b)
	if !ok {
		return -1
	}

	diff := pa - pb
	if diff < 0 {
		diff = -diff
	}
	if diff > 6 {
		diff = 12 - diff
	}
	return diff
}

// Compatibility scores how well two keys mix, 1.0 for identical keys down to
// 0 for keys at least five steps apart: max(0, 1 - distance*0.2).
func Compatibility(a, b string) float64 {
	d := Distance(a, b)
	if d < 0 {
		return 0
	}
	c := 1.0 - float64(d)*0.2
	if c < 0 {
		return 0
	}
	return c
}

// normalize strips mode suffixes ("A minor" -> "A") and canonicalizes case.
// Relative major/minor distinction is ignored; the pitch class dominates
// harmonic distance at this granularity.
func normalize(key string) string {
	key = strings.TrimSpace(key)
	if i := strings.IndexByte(key, ' '); i > 0 {
		key = key[:i]
	}
	key = strings.TrimSuffix(key, "m")
	return strings.ToUpper(key)
}
