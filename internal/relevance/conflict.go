package relevance

// DefaultConflictThreshold is the score band within which two adjacent
// results are considered too close to call.
const DefaultConflictThreshold = 0.10

// ConflictPair flags two adjacent results in a sorted ranking whose scores
// are within the threshold of each other. I and J index the ranked list.
type ConflictPair struct {
	I      int     `json:"i"`
	J      int     `json:"j"`
	ScoreA float64 `json:"score_a"`
	ScoreB float64 `json:"score_b"`
}

// DetectConflicts scans adjacent pairs of an already-sorted score list and
// reports every pair closer than threshold. It never reorders anything; the
// output is a warning signal that the top answers are ambiguous.
func DetectConflicts(scores []float64, threshold float64) []ConflictPair {
	if threshold <= 0 {
		threshold = DefaultConflictThreshold
	}

	var conflicts []ConflictPair
	for i := 0; i+1 < len(scores); i++ {
		delta := scores[i] - scores[i+1]
		if delta < 0 {
			delta = -delta
		}
		if delta < threshold {
			conflicts = append(conflicts, ConflictPair{
				I: i, J: i + 1,
				ScoreA: scores[i], ScoreB: scores[i+1],
			})
		}
	}
	return conflicts
}
