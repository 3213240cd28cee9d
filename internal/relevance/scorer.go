// Package relevance computes composite relevance scores for heterogeneous
// knowledge records and flags ambiguous near-ties in ranked output.
package relevance

import (
	"sort"
	"time"
)

// Composite weights. Specificity and confidence dominate; recency, usage
// and validation refine.
const (
	weightSpecificity = 0.25
	weightRecency     = 0.20
	weightConfidence  = 0.25
	weightUsage       = 0.15
	weightValidation  = 0.15
)

// Record is the scorer's view of any stored fact. Pointer fields distinguish
// "absent" from zero so defaults apply per signal: records from providers
// that carry no maturity metadata still rank sensibly.
type Record struct {
	// Project the record belongs to; nil means general knowledge.
	Project *string
	// HasContext reports whether the record carries a context/detail field.
	HasContext bool

	// Timestamps in "2006-01-02 15:04:05" (UTC) or RFC 3339. The most
	// specific non-nil one feeds the recency signal.
	LastAccessed *string
	LastOccurred *string
	UpdatedAt    *string
	CreatedAt    *string

	Confidence *float64

	AccessCount *int
	Frequency   *int
	TimesUsed   *int

	MaturityStatus    string
	TimesConfirmed    *int
	TimesContradicted *int
}

// Breakdown is the per-signal decomposition of a composite score.
type Breakdown struct {
	Specificity float64 `json:"specificity"`
	Recency     float64 `json:"recency"`
	Confidence  float64 `json:"confidence"`
	Usage       float64 `json:"usage"`
	Validation  float64 `json:"validation"`
	Total       float64 `json:"total"`
}

// Ranked pairs a record with its relevance score and original position.
type Ranked struct {
	Record Record
	Score  float64
	// Index is the record's position in the input slice, preserved so
	// callers can map scores back to richer result types.
	Index int
}

// Score computes the composite relevance of a record for the caller's
// current project, clamped to [0,1]. The query itself does not enter the
// formula; textual matching happened upstream in the providers.
func Score(rec Record, currentProject string) float64 {
	return Components(rec, currentProject).Total
}

// Components returns the full signal breakdown, useful for explaining why a
// result ranked where it did.
func Components(rec Record, currentProject string) Breakdown {
	b := Breakdown{
		Specificity: specificity(rec, currentProject),
		Recency:     recency(rec, time.Now()),
		Confidence:  confidence(rec),
		Usage:       usage(rec),
		Validation:  validation(rec),
	}
	total := weightSpecificity*b.Specificity +
		weightRecency*b.Recency +
		weightConfidence*b.Confidence +
		weightUsage*b.Usage +
		weightValidation*b.Validation
	b.Total = clamp01(total)
	return b
}

// Rank scores every record and returns them sorted by descending relevance,
// stable on ties so equal-scored records keep their input order.
func Rank(records []Record, currentProject string) []Ranked {
	ranked := make([]Ranked, len(records))
	for i, rec := range records {
		ranked[i] = Ranked{Record: rec, Score: Score(rec, currentProject), Index: i}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// specificity prefers records from the caller's project; general knowledge
// (no project) sits in the middle regardless of the current project, and
// records from a different project rank lowest.
func specificity(rec Record, currentProject string) float64 {
	if rec.Project == nil || *rec.Project == "" {
		return 0.5
	}
	if currentProject != "" && *rec.Project == currentProject {
		if rec.HasContext {
			return 1.0
		}
		return 0.8
	}
	return 0.3
}

// recency buckets the age of the most specific available timestamp.
func recency(rec Record, now time.Time) float64 {
	var stamp *string
	for _, candidate := range []*string{rec.LastAccessed, rec.LastOccurred, rec.UpdatedAt, rec.CreatedAt} {
		if candidate != nil && *candidate != "" {
			stamp = candidate
			break
		}
	}
	if stamp == nil {
		return 0.5
	}

	ts, err := parseTimestamp(*stamp)
	if err != nil {
		return 0.5
	}

	age := now.Sub(ts)
	switch {
	case age <= 7*24*time.Hour:
		return 1.0
	case age <= 30*24*time.Hour:
		return 0.8
	case age <= 90*24*time.Hour:
		return 0.6
	case age <= 180*24*time.Hour:
		return 0.4
	default:
		return 0.2
	}
}

func confidence(rec Record) float64 {
	if rec.Confidence == nil {
		return 0.5
	}
	return clamp01(*rec.Confidence)
}

// usage saturates at ten recorded uses.
func usage(rec Record) float64 {
	var count int
	switch {
	case rec.AccessCount != nil:
		count = *rec.AccessCount
	case rec.Frequency != nil:
		count = *rec.Frequency
	case rec.TimesUsed != nil:
		count = *rec.TimesUsed
	default:
		return 0.0
	}
	if count < 0 {
		count = 0
	}
	v := float64(count) / 10.0
	if v > 1.0 {
		v = 1.0
	}
	return v
}

var validationByStatus = map[string]float64{
	"confirmed":    1.0,
	"testing":      0.6,
	"hypothesis":   0.4,
	"deprecated":   0.2,
	"contradicted": 0.0,
}

// validation maps maturity status to a trust value; records without a
// status fall back to their confirm/contradict ratio, and records with no
// validation signal at all sit at 0.5.
func validation(rec Record) float64 {
	if v, ok := validationByStatus[rec.MaturityStatus]; ok {
		return v
	}
	if rec.TimesConfirmed == nil && rec.TimesContradicted == nil {
		return 0.5
	}
	confirmed := 0
	if rec.TimesConfirmed != nil {
		confirmed = *rec.TimesConfirmed
	}
	contradicted := 0
	if rec.TimesContradicted != nil {
		contradicted = *rec.TimesContradicted
	}
	return float64(confirmed) / float64(confirmed+contradicted+1)
}

func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339, s)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
