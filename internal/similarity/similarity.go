// Package similarity scores string likeness with a normalized Levenshtein distance.
package similarity

import (
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Distance is the Levenshtein edit distance between a and b counted in runes,
// with unit cost for insertion, deletion and substitution.
func Distance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

// Score returns (maxLen - Distance) / maxLen over the lowercased inputs.
// Two empty strings score 1; exactly one empty string scores 0.
func Score(a, b string) float64 {
	lower := cases.Lower(language.Und)
	a, b = lower.String(a), lower.String(b)
	if a == b {
		return 1
	}
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	maxLen := max(la, lb)
	return float64(maxLen-Distance(a, b)) / float64(maxLen)
}
