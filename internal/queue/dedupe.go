package queue

import (
	"strings"
	"unicode"
)

// normalizeTitle lowercases a title and strips punctuation and feature
// annotations so "Song (feat. X)" and "song" compare equal.
func normalizeTitle(title string) string {
	title = strings.ToLower(title)

	// Cut common parenthetical suffixes before stripping punctuation.
	for _, marker := range []string{"(feat", "(ft", "(with", "[feat", "[ft"} {
		if i := strings.Index(title, marker); i > 0 {
			title = title[:i]
		}
	}

	var b strings.Builder
	for _, r := range title {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isNearDuplicateTitle reports whether two titles are close enough to be the
// same track: normalized equality, substring containment when the shorter
// side has at least 5 characters, or at least 80% word overlap.
func isNearDuplicateTitle(a, b string) bool {
	na, nb := normalizeTitle(a), normalizeTitle(b)
	if na == "" || nb == "" {
		return false
	}
	if na == nb {
		return true
	}

	shorter, longer := na, nb
	if len(shorter) > len(longer) {
		shorter, longer = longer, shorter
	}
	if len(shorter) >= 5 && strings.Contains(longer, shorter) {
		return true
	}

	return wordOverlap(na, nb) >= 0.8
}

// wordOverlap returns the share of the smaller title's words present in the
// other title.
func wordOverlap(a, b string) float64 {
	wordsA := strings.Fields(a)
	wordsB := strings.Fields(b)
	if len(wordsA) == 0 || len(wordsB) == 0 {
		return 0
	}

	setB := make(map[string]bool, len(wordsB))
	for _, w := range wordsB {
		setB[w] = true
	}

	matched := 0
	for _, w := range wordsA {
		if setB[w] {
			matched++
		}
	}

	denom := len(wordsA)
	if len(wordsB) < denom {
		denom = len(wordsB)
	}
	return float64(matched) / float64(denom)
}
