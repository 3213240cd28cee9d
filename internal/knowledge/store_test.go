package knowledge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveDecision(t *testing.T) {
	s := newTestStore(t)

	t.Run("starts as hypothesis", func(t *testing.T) {
		id, err := s.SaveDecision(DecisionParams{
			Decision:  "use sqlite for persistence",
			Reasoning: "single binary, no server",
			Project:   "recalld",
		})
		require.NoError(t, err)

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusHypothesis, d.MaturityStatus)
		assert.Equal(t, 0.5, d.ConfidenceScore)
		assert.Equal(t, "active", d.Status)
		assert.Equal(t, 0, d.TimesUsed)
	})

	t.Run("established starts confirmed", func(t *testing.T) {
		id, err := s.SaveDecision(DecisionParams{
			Decision:    "pin go toolchain in ci",
			Established: true,
		})
		require.NoError(t, err)

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, d.MaturityStatus)
		assert.Equal(t, 0.85, d.ConfidenceScore)
	})

	t.Run("empty decision rejected", func(t *testing.T) {
		_, err := s.SaveDecision(DecisionParams{Decision: "   "})
		assert.ErrorIs(t, err, ErrEmptyContent)
	})
}

func TestUpdateDecisionOutcome(t *testing.T) {
	s := newTestStore(t)

	id, err := s.SaveDecision(DecisionParams{Decision: "adopt feature flags"})
	require.NoError(t, err)

	require.NoError(t, s.UpdateDecisionOutcome(id, "rolled out cleanly", ""))
	d, err := s.GetDecision(id)
	require.NoError(t, err)
	require.NotNil(t, d.Outcome)
	assert.Equal(t, "rolled out cleanly", *d.Outcome)
	assert.Equal(t, "active", d.Status)

	require.NoError(t, s.UpdateDecisionOutcome(id, "superseded by config service", "deprecated"))
	d, err = s.GetDecision(id)
	require.NoError(t, err)
	assert.Equal(t, "deprecated", d.Status)

	assert.ErrorIs(t, s.UpdateDecisionOutcome(9999, "whatever", ""), ErrNotFound)
}

func TestSaveLearningConsolidation(t *testing.T) {
	t.Run("identical save merges with frequency 2", func(t *testing.T) {
		s := newTestStore(t)

		p := LearningParams{
			ErrorType:    "ConnectionError",
			ErrorMessage: "dial tcp 127.0.0.1:5432: connection refused",
			Solution:     "start postgres before the app",
		}
		id1, merged, err := s.SaveLearning(p)
		require.NoError(t, err)
		assert.False(t, merged)

		id2, merged, err := s.SaveLearning(p)
		require.NoError(t, err)
		assert.True(t, merged)
		assert.Equal(t, id1, id2)

		l, err := s.GetLearning(id1)
		require.NoError(t, err)
		assert.Equal(t, 2, l.Frequency)

		all, err := s.ListLearnings("ConnectionError", "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("identical messages merge despite different solutions", func(t *testing.T) {
		s := newTestStore(t)

		id1, _, err := s.SaveLearning(LearningParams{
			ErrorType:    "ConnectionError",
			ErrorMessage: "dial tcp 127.0.0.1:5432: connection refused",
			Solution:     "start postgres before the app",
		})
		require.NoError(t, err)

		// The message component counts double and the score divides by the
		// component count, so identical messages alone clear the threshold.
		id2, merged, err := s.SaveLearning(LearningParams{
			ErrorType:    "ConnectionError",
			ErrorMessage: "dial tcp 127.0.0.1:5432: connection refused",
			Solution:     "check the pg_hba.conf allow list",
		})
		require.NoError(t, err)
		assert.True(t, merged)
		assert.Equal(t, id1, id2)

		all, err := s.ListLearnings("ConnectionError", "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("dissimilar learnings stay separate", func(t *testing.T) {
		s := newTestStore(t)

		_, _, err := s.SaveLearning(LearningParams{
			ErrorType:    "ConnectionError",
			ErrorMessage: "dial tcp: connection refused",
			Solution:     "start the database",
		})
		require.NoError(t, err)

		_, merged, err := s.SaveLearning(LearningParams{
			ErrorType:    "ConnectionError",
			ErrorMessage: "tls handshake failure with expired certificate",
			Solution:     "rotate the server certificate",
		})
		require.NoError(t, err)
		assert.False(t, merged)

		all, err := s.ListLearnings("ConnectionError", "", 10)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("merge fills empty fields without overwriting", func(t *testing.T) {
		s := newTestStore(t)

		id, _, err := s.SaveLearning(LearningParams{
			ErrorType:    "ImportError",
			ErrorMessage: "cannot find package foo",
			Solution:     "run go mod tidy",
			RootCause:    "stale go.sum",
		})
		require.NoError(t, err)

		_, merged, err := s.SaveLearning(LearningParams{
			ErrorType:    "ImportError",
			ErrorMessage: "cannot find package foo",
			Solution:     "run go mod tidy",
			Prevention:   "commit go.sum with go.mod",
		})
		require.NoError(t, err)
		require.True(t, merged)

		l, err := s.GetLearning(id)
		require.NoError(t, err)
		require.NotNil(t, l.RootCause)
		assert.Equal(t, "stale go.sum", *l.RootCause)
		require.NotNil(t, l.Prevention)
		assert.Equal(t, "commit go.sum with go.mod", *l.Prevention)
	})

	t.Run("different error types never merge", func(t *testing.T) {
		s := newTestStore(t)

		_, _, err := s.SaveLearning(LearningParams{
			ErrorType: "TypeError", Solution: "check the interface assertion",
		})
		require.NoError(t, err)

		_, merged, err := s.SaveLearning(LearningParams{
			ErrorType: "ValueError", Solution: "check the interface assertion",
		})
		require.NoError(t, err)
		assert.False(t, merged)
	})

	t.Run("validation", func(t *testing.T) {
		s := newTestStore(t)
		_, _, err := s.SaveLearning(LearningParams{Solution: "x"})
		assert.ErrorIs(t, err, ErrEmptyContent)
		_, _, err = s.SaveLearning(LearningParams{ErrorType: "E"})
		assert.ErrorIs(t, err, ErrEmptyContent)
	})
}

func TestFindSolution(t *testing.T) {
	s := newTestStore(t)

	// two ConnectionError learnings; the refused one is more frequent
	_, _, err := s.SaveLearning(LearningParams{
		ErrorType:    "ConnectionError",
		ErrorMessage: "dial tcp 10.0.0.5:5432: connect: connection refused",
		Solution:     "start the database",
		Project:      "recalld",
	})
	require.NoError(t, err)
	_, _, err = s.SaveLearning(LearningParams{
		ErrorType:    "ConnectionError",
		ErrorMessage: "dial tcp 10.0.0.5:5432: connect: connection refused",
		Solution:     "start the database",
		Project:      "recalld",
	})
	require.NoError(t, err)
	_, _, err = s.SaveLearning(LearningParams{
		ErrorType:    "ConnectionError",
		ErrorMessage: "x509: certificate signed by unknown authority",
		Solution:     "install the internal CA bundle",
	})
	require.NoError(t, err)
	_, _, err = s.SaveLearning(LearningParams{
		ErrorType:    "PanicError",
		ErrorMessage: "runtime error: index out of range [3] with length 3",
		Solution:     "bounds-check before indexing",
	})
	require.NoError(t, err)

	t.Run("message match beats frequency within a type", func(t *testing.T) {
		// the certificate learning is less frequent but its message is
		// the close match
		l, err := s.FindSolution("ConnectionError",
			"x509: certificate signed by unknown authority CN=corp", "")
		require.NoError(t, err)
		assert.Equal(t, "install the internal CA bundle", l.Solution)
	})

	t.Run("unmatched message falls back to most frequent", func(t *testing.T) {
		l, err := s.FindSolution("ConnectionError",
			"completely unrelated text about cats", "recalld")
		require.NoError(t, err)
		assert.Equal(t, "start the database", l.Solution)
	})

	t.Run("type only returns most frequent", func(t *testing.T) {
		l, err := s.FindSolution("ConnectionError", "", "recalld")
		require.NoError(t, err)
		assert.Equal(t, "start the database", l.Solution)
	})

	t.Run("unknown type falls back to cross-type message match", func(t *testing.T) {
		l, err := s.FindSolution("IndexError",
			"runtime error: index out of range [5] with length 5", "")
		require.NoError(t, err)
		assert.Equal(t, "bounds-check before indexing", l.Solution)
	})

	t.Run("missing error type", func(t *testing.T) {
		_, err := s.FindSolution("", "dial tcp: connection refused", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("no match", func(t *testing.T) {
		_, err := s.FindSolution("UnknownError", "completely unrelated text about cats", "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSaveMemoryDedup(t *testing.T) {
	s := newTestStore(t)

	id1, created, err := s.SaveMemory(MemoryParams{
		Type: "insight", Content: "the flaky test only fails under -race",
	})
	require.NoError(t, err)
	assert.True(t, created)

	id2, created, err := s.SaveMemory(MemoryParams{
		Type: "insight", Content: "the flaky test only fails under -race",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, id1, id2)

	m, err := s.GetMemory(id1)
	require.NoError(t, err)
	// one bump from the duplicate save, one from the read
	assert.Equal(t, 2, m.AccessCount)
	assert.NotNil(t, m.LastAccessed)
}

func TestSaveMemoryImportance(t *testing.T) {
	s := newTestStore(t)

	save := func(t *testing.T, content string, importance *int) *Memory {
		t.Helper()
		id, _, err := s.SaveMemory(MemoryParams{Content: content, Importance: importance})
		require.NoError(t, err)
		m, err := s.GetMemory(id)
		require.NoError(t, err)
		return m
	}

	assert.Equal(t, 5, save(t, "unset defaults to 5", nil).Importance)
	assert.Equal(t, 0, save(t, "explicit zero stays zero", intp(0)).Importance)
	assert.Equal(t, 10, save(t, "capped at ten", intp(15)).Importance)
	assert.Equal(t, 0, save(t, "negative floored at zero", intp(-2)).Importance)
}

func intp(v int) *int { return &v }

func TestSearchMemories(t *testing.T) {
	s := newTestStore(t)

	_, _, err := s.SaveMemory(MemoryParams{
		Type: "insight", Content: "coverage sits at 80% for the parser", Importance: intp(8),
	})
	require.NoError(t, err)
	_, _, err = s.SaveMemory(MemoryParams{
		Type: "note", Category: "infra", Content: "staging db lives on host-42", Importance: intp(3),
	})
	require.NoError(t, err)

	t.Run("like wildcards escaped", func(t *testing.T) {
		got, err := s.SearchMemories("80%", "", "", 0, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Contains(t, got[0].Content, "coverage")

		got, err = s.SearchMemories("80_", "", "", 0, 10)
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("filters", func(t *testing.T) {
		got, err := s.SearchMemories("", "note", "infra", 0, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = s.SearchMemories("", "", "", 5, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 8, got[0].Importance)
	})
}

func TestSearchText(t *testing.T) {
	s := newTestStore(t)

	_, err := s.SaveDecision(DecisionParams{
		Decision: "cache embeddings on disk",
		Project:  "recalld",
		Context:  "model download is slow",
	})
	require.NoError(t, err)
	_, _, err = s.SaveLearning(LearningParams{
		ErrorType: "CacheError",
		Solution:  "invalidate the embedding cache on model change",
	})
	require.NoError(t, err)

	hits, err := s.SearchText("embedding", "", 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	tables := map[Table]bool{}
	for _, h := range hits {
		tables[h.Table] = true
		assert.NotEmpty(t, h.Content)
	}
	assert.True(t, tables[TableDecisions])
	assert.True(t, tables[TableLearnings])

	hits, err = s.SearchText("embedding", "other-project", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestParseTable(t *testing.T) {
	for name, want := range map[string]Table{
		"decisions": TableDecisions,
		"decision":  TableDecisions,
		"learnings": TableLearnings,
		"memories":  TableMemories,
	} {
		got, err := ParseTable(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseTable("users; DROP TABLE decisions")
	assert.ErrorIs(t, err, ErrInvalidTable)
}
