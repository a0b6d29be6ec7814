// Package util holds small helpers shared across packages.
package util

import "github.com/antzucaro/matchr"

// Nearest returns the candidate closest to s by Levenshtein edit distance.
// It returns "" when no candidate is within half of s's length, i.e. when
// nothing is close enough to be a plausible typo.  Useful for "did you
// mean" hints in errors caused by mistyped names.
func Nearest(s string, candidates []string) string {
	best, bestDist := "", len(s)/2+1
	for _, c := range candidates {
		if d := matchr.Levenshtein(s, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}
