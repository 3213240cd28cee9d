// Package knowledge implements the SQLite-backed knowledge store: typed
// repositories for decisions, learnings and memories, write-time
// consolidation of near-duplicate learnings, and the maturity state machine
// that tracks how trustworthy each stored fact is over time.
package knowledge

import (
	"errors"
	"fmt"
	"strconv"
)

// Table identifies one of the three record tables. Using a closed enum
// instead of raw table-name strings keeps SQL construction safe and moves
// table validation to parse time.
type Table int

const (
	TableDecisions Table = iota
	TableLearnings
	TableMemories
)

// ParseTable maps an external table name to its enum value.
func ParseTable(name string) (Table, error) {
	switch name {
	case "decisions", "decision":
		return TableDecisions, nil
	case "learnings", "learning":
		return TableLearnings, nil
	case "memories", "memory":
		return TableMemories, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidTable, name)
	}
}

// MarshalJSON renders the table by name rather than its enum ordinal.
func (t Table) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(t.String())), nil
}

func (t Table) String() string {
	switch t {
	case TableDecisions:
		return "decisions"
	case TableLearnings:
		return "learnings"
	case TableMemories:
		return "memories"
	default:
		return fmt.Sprintf("table(%d)", int(t))
	}
}

// hasMaturity reports whether the table carries maturity columns. Memories
// intentionally do not; the ranking layer defaults their validation signal
// instead.
func (t Table) hasMaturity() bool {
	return t == TableDecisions || t == TableLearnings
}

// Status is the maturity lifecycle stage of a decision or learning.
type Status string

const (
	StatusHypothesis   Status = "hypothesis"
	StatusTesting      Status = "testing"
	StatusConfirmed    Status = "confirmed"
	StatusDeprecated   Status = "deprecated"
	StatusContradicted Status = "contradicted"
)

// Initial confidence values for new records.
const (
	confidenceHypothesis  = 0.5
	confidenceEstablished = 0.85
)

var (
	ErrNotFound     = errors.New("knowledge: record not found")
	ErrInvalidTable = errors.New("knowledge: invalid table")
	ErrNoMaturity   = errors.New("knowledge: table does not carry maturity state")
	ErrEmptyContent = errors.New("knowledge: empty content")
)

// Decision is an architectural or implementation decision with its maturity
// state.
type Decision struct {
	ID                int64   `json:"id"`
	Project           *string `json:"project,omitempty"`
	Context           *string `json:"context,omitempty"`
	Decision          string  `json:"decision"`
	Reasoning         *string `json:"reasoning,omitempty"`
	Alternatives      *string `json:"alternatives,omitempty"`
	Outcome           *string `json:"outcome,omitempty"`
	Status            string  `json:"status"`
	MaturityStatus    Status  `json:"maturity_status"`
	ConfidenceScore   float64 `json:"confidence_score"`
	TimesUsed         int     `json:"times_used"`
	TimesConfirmed    int     `json:"times_confirmed"`
	TimesContradicted int     `json:"times_contradicted"`
	SupersededBy      *int64  `json:"superseded_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
	UpdatedAt         *string `json:"updated_at,omitempty"`
}

// Learning is an error/solution pair consolidated across recurrences.
type Learning struct {
	ID                int64   `json:"id"`
	ErrorType         string  `json:"error_type"`
	ErrorMessage      *string `json:"error_message,omitempty"`
	RootCause         *string `json:"root_cause,omitempty"`
	Solution          string  `json:"solution"`
	Prevention        *string `json:"prevention,omitempty"`
	Context           *string `json:"context,omitempty"`
	Project           *string `json:"project,omitempty"`
	Frequency         int     `json:"frequency"`
	LastOccurred      string  `json:"last_occurred"`
	MaturityStatus    Status  `json:"maturity_status"`
	ConfidenceScore   float64 `json:"confidence_score"`
	TimesUsed         int     `json:"times_used"`
	TimesConfirmed    int     `json:"times_confirmed"`
	TimesContradicted int     `json:"times_contradicted"`
	SupersededBy      *int64  `json:"superseded_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// Memory is a free-form note. Memories carry no maturity columns.
type Memory struct {
	ID           int64   `json:"id"`
	Type         string  `json:"type"`
	Category     *string `json:"category,omitempty"`
	Content      string  `json:"content"`
	ContentHash  string  `json:"content_hash"`
	Metadata     *string `json:"metadata,omitempty"`
	Importance   int     `json:"importance"`
	AccessCount  int     `json:"access_count"`
	CreatedAt    string  `json:"created_at"`
	LastAccessed *string `json:"last_accessed,omitempty"`
}

// DecisionParams is the input for SaveDecision.
type DecisionParams struct {
	Decision     string `json:"decision"`
	Reasoning    string `json:"reasoning,omitempty"`
	Project      string `json:"project,omitempty"`
	Context      string `json:"context,omitempty"`
	Alternatives string `json:"alternatives,omitempty"`
	// Established marks knowledge the caller already trusts: the record
	// starts at confirmed/0.85 instead of hypothesis/0.5.
	Established bool `json:"established,omitempty"`
}

// LearningParams is the input for SaveLearning.
type LearningParams struct {
	ErrorType    string `json:"error_type"`
	ErrorMessage string `json:"error_message,omitempty"`
	RootCause    string `json:"root_cause,omitempty"`
	Solution     string `json:"solution"`
	Prevention   string `json:"prevention,omitempty"`
	Context      string `json:"context,omitempty"`
	Project      string `json:"project,omitempty"`
	Established  bool   `json:"established,omitempty"`
	// Threshold overrides the duplicate-merge threshold; zero means the
	// default of 0.8.
	Threshold float64 `json:"threshold,omitempty"`
}

// MemoryParams is the input for SaveMemory.
type MemoryParams struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	Category string `json:"category,omitempty"`
	Metadata string `json:"metadata,omitempty"`
	// Importance is clamped to [0,10]; nil means the default of 5. A
	// pointer so an explicit 0 is distinguishable from unset.
	Importance *int `json:"importance,omitempty"`
}

// Summary is a table-agnostic view of a decision or learning used by the
// maturity listing operations.
type Summary struct {
	Table             Table   `json:"table"`
	ID                int64   `json:"id"`
	Title             string  `json:"title"`
	Project           *string `json:"project,omitempty"`
	MaturityStatus    Status  `json:"maturity_status"`
	ConfidenceScore   float64 `json:"confidence_score"`
	TimesUsed         int     `json:"times_used"`
	TimesConfirmed    int     `json:"times_confirmed"`
	TimesContradicted int     `json:"times_contradicted"`
	SupersededBy      *int64  `json:"superseded_by,omitempty"`
	CreatedAt         string  `json:"created_at"`
}

// TextHit is one row returned by the relational text search, carrying enough
// metadata for downstream relevance scoring.
type TextHit struct {
	Table           Table
	ID              int64
	Content         string
	Project         *string
	HasContext      bool
	MaturityStatus  Status
	ConfidenceScore float64
	TimesUsed       int
	CreatedAt       string
	UpdatedAt       *string
}

func initialMaturity(established bool) (Status, float64) {
	if established {
		return StatusConfirmed, confidenceEstablished
	}
	return StatusHypothesis, confidenceHypothesis
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
