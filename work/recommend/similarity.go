package recommend

import (
	"strings"
	"unicode"
)

// NameSimilarity compares two display names on their lowercase alphanumeric
// runes: 1 for equal, 0.8 when one contains the other, otherwise the share
// of equal runes at equal positions over the longer length. An empty
// normalized name is similar to nothing.
func NameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if len(na) == 0 || len(nb) == 0 {
		return 0
	}
	if string(na) == string(nb) {
		return 1
	}
	if strings.Contains(string(na), string(nb)) || strings.Contains(string(nb), string(na)) {
		return 0.8
	}

	longer := max(len(na), len(nb))
	matches := 0
	for i := range min(len(na), len(nb)) {
		if na[i] == nb[i] {
			matches++
		}
	}
	return float64(matches) / float64(longer)
}

func normalizeName(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			out = append(out, r)
		}
	}
	return out
}
