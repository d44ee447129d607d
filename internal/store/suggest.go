package store

import "github.com/agnivade/levenshtein"

// maxSuggestDistance bounds how different a suggestion may be from the
// requested name.
const maxSuggestDistance = 2

// Suggest returns the candidate closest to name by edit distance, or "" when
// none is within maxSuggestDistance. Ties go to the earlier candidate.
func Suggest(name string, candidates []string) string {
	best, bestDist := "", maxSuggestDistance+1
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
