// Package fuzzy provides string similarity for near-duplicate detection.
//
// Learnings are consolidated at write time: a new learning whose error
// message and solution are sufficiently similar to an existing one bumps
// that record's frequency instead of inserting a duplicate row. Decisions
// and memories use content-identity dedup and never go through this path.
package fuzzy

import (
	"strings"

	"github.com/agext/levenshtein"
)

// DefaultThreshold is the minimum combined score for two learnings to be
// treated as duplicates.
const DefaultThreshold = 0.8

// Similarity returns a normalized edit-distance ratio in [0,1].
//
// It is symmetric, case-insensitive, and returns 1 for identical strings
// and 0 when either input is empty.
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0.0
	}
	return levenshtein.Similarity(strings.ToLower(a), strings.ToLower(b), nil)
}

// LearningScore combines error-message and solution similarity into a single
// duplicate score: the mean of the available components, with the message
// component counted at double weight. Components whose inputs are missing on
// either side are excluded. Returns 0 when no signal is available.
//
// Because the divisor is the component count rather than the weight sum,
// matching messages can push the score past 1.0. Thresholds compare against
// that scale: identical messages alone are enough to merge even when the
// solutions disagree.
func LearningScore(errorMessage, candidateMessage, solution, candidateSolution string) float64 {
	var sum float64
	var count int

	if errorMessage != "" && candidateMessage != "" {
		sum += Similarity(errorMessage, candidateMessage) * 2
		count++
	}
	if solution != "" && candidateSolution != "" {
		sum += Similarity(solution, candidateSolution)
		count++
	}

	if count == 0 {
		return 0.0
	}
	return sum / float64(count)
}
