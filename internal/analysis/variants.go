package analysis

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// stretchedSimilarity is the minimum Jaro-Winkler score for a phonetic
// variant match.
const stretchedSimilarity = 0.70

// variantMatcher recognizes elongated filler variants ("ummm", "uhhhh") that
// an exact lexicon lookup misses. A token only qualifies when it contains a
// repeated letter run, which keeps ordinary vocabulary out of reach.
//
// Matching is two-stage, collapse-runs equality first, then Double Metaphone
// overlap ranked by Jaro-Winkler similarity.
type variantMatcher struct {
	bases []string
}

// newVariantMatcher keeps the single-token lexicon entries as variant bases;
// nobody stretches a multi-word phrase.
func newVariantMatcher(lexicon []lexiconEntry) *variantMatcher {
	m := &variantMatcher{}
	for _, e := range lexicon {
		if len(e.tokens) == 1 {
			m.bases = append(m.bases, e.phrase)
		}
	}
	return m
}

// Match reports the base filler the token is a stretched variant of.
func (m *variantMatcher) Match(token string) (string, bool) {
	if len(token) < 3 || !hasRepeatedRun(token) {
		return "", false
	}

	collapsed := collapseRuns(token)
	for _, b := range m.bases {
		if collapsed == collapseRuns(b) {
			return b, true
		}
	}

	tokenPrimary, tokenSecondary := matchr.DoubleMetaphone(token)
	for _, b := range m.bases {
		basePrimary, baseSecondary := matchr.DoubleMetaphone(b)
		if !codesOverlap(tokenPrimary, tokenSecondary, basePrimary, baseSecondary) {
			continue
		}
		if matchr.JaroWinkler(token, b, false) >= stretchedSimilarity {
			return b, true
		}
	}
	return "", false
}

// codesOverlap reports whether any non-empty phonetic code is shared.
func codesOverlap(aPrimary, aSecondary, bPrimary, bSecondary string) bool {
	for _, a := range []string{aPrimary, aSecondary} {
		if a == "" {
			continue
		}
		if a == bPrimary || a == bSecondary {
			return true
		}
	}
	return false
}

// hasRepeatedRun reports whether the token contains the same letter twice in
// a row.
func hasRepeatedRun(token string) bool {
	var prev rune
	for _, r := range token {
		if r == prev {
			return true
		}
		prev = r
	}
	return false
}

// collapseRuns reduces every run of identical letters to a single letter:
// "ummm" → "um".
func collapseRuns(token string) string {
	var b strings.Builder
	var prev rune
	for i, r := range token {
		if i == 0 || r != prev {
			b.WriteRune(r)
		}
		prev = r
	}
	return b.String()
}
