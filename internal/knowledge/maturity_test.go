package knowledge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func saveDecisionT(t *testing.T, s *Store) int64 {
	t.Helper()
	id, err := s.SaveDecision(DecisionParams{Decision: "use structured logging"})
	require.NoError(t, err)
	return id
}

func TestRecordUsage(t *testing.T) {
	t.Run("confidence stays within bounds", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		for i := 0; i < 20; i++ {
			conf, err := s.RecordUsage(TableDecisions, id, true)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, conf, 0.05)
			assert.LessOrEqual(t, conf, 0.95)
		}
	})

	t.Run("all-useful usage converges to confirmed", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		var conf float64
		var err error
		for i := 0; i < 3; i++ {
			conf, err = s.RecordUsage(TableDecisions, id, true)
			require.NoError(t, err)
		}
		// confirmRate 1.0 → 0.5 + 0.4 = 0.9
		assert.InDelta(t, 0.9, conf, 1e-9)

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusConfirmed, d.MaturityStatus)
	})

	t.Run("no status change before three usages", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		_, err := s.RecordUsage(TableDecisions, id, true)
		require.NoError(t, err)
		_, err = s.RecordUsage(TableDecisions, id, true)
		require.NoError(t, err)

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusHypothesis, d.MaturityStatus)
	})

	t.Run("mixed signal moves hypothesis to testing", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		s.mustUse(t, TableDecisions, id, true)
		s.mustUse(t, TableDecisions, id, false)
		conf, err := s.RecordUsage(TableDecisions, id, false)
		require.NoError(t, err)
		// confirmRate 1/3 → 0.5 + 0.4/3 ≈ 0.633: between the thresholds
		assert.Greater(t, conf, 0.2)
		assert.Less(t, conf, 0.7)

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusTesting, d.MaturityStatus)
	})

	t.Run("memories reject maturity operations", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.RecordUsage(TableMemories, 1, true)
		assert.ErrorIs(t, err, ErrNoMaturity)
	})

	t.Run("unknown id", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.RecordUsage(TableDecisions, 404, true)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func (s *Store) mustUse(t *testing.T, table Table, id int64, useful bool) {
	t.Helper()
	_, err := s.RecordUsage(table, id, useful)
	require.NoError(t, err)
}

func TestContradict(t *testing.T) {
	t.Run("first contradiction deprecates and halves confidence", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		require.NoError(t, s.Contradict(TableDecisions, id, "proved wrong in prod", nil))

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusDeprecated, d.MaturityStatus)
		assert.InDelta(t, 0.25, d.ConfidenceScore, 1e-9)
		assert.Equal(t, 1, d.TimesContradicted)
	})

	t.Run("second contradiction is terminal", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)

		require.NoError(t, s.Contradict(TableDecisions, id, "", nil))
		require.NoError(t, s.Contradict(TableDecisions, id, "", nil))

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusContradicted, d.MaturityStatus)
		assert.Equal(t, 0.0, d.ConfidenceScore)

		// never reverts, even with later positive usage
		_, err = s.RecordUsage(TableDecisions, id, true)
		require.NoError(t, err)
		require.NoError(t, s.Contradict(TableDecisions, id, "", nil))
		d, err = s.GetDecision(id)
		require.NoError(t, err)
		assert.Equal(t, StatusContradicted, d.MaturityStatus)
	})

	t.Run("superseded_by never cleared by nil replacement", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)
		replacement := int64(42)

		require.NoError(t, s.Contradict(TableDecisions, id, "", &replacement))
		require.NoError(t, s.Contradict(TableDecisions, id, "", nil))

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		require.NotNil(t, d.SupersededBy)
		assert.Equal(t, replacement, *d.SupersededBy)
	})

	t.Run("new replacement id wins", func(t *testing.T) {
		s := newTestStore(t)
		id := saveDecisionT(t, s)
		first, second := int64(42), int64(43)

		require.NoError(t, s.Contradict(TableDecisions, id, "", &first))
		require.NoError(t, s.Contradict(TableDecisions, id, "", &second))

		d, err := s.GetDecision(id)
		require.NoError(t, err)
		require.NotNil(t, d.SupersededBy)
		assert.Equal(t, second, *d.SupersededBy)
	})
}

func TestSupersede(t *testing.T) {
	t.Run("decision", func(t *testing.T) {
		s := newTestStore(t)
		oldID, err := s.SaveDecision(DecisionParams{
			Decision: "store config in env vars",
			Project:  "recalld",
			Context:  "twelve-factor setup",
		})
		require.NoError(t, err)

		newID, err := s.Supersede(TableDecisions, oldID, "store config in a yaml file with env overrides",
			"env-only became unmanageable", nil)
		require.NoError(t, err)
		require.NotEqual(t, oldID, newID)

		old, err := s.GetDecision(oldID)
		require.NoError(t, err)
		assert.Equal(t, StatusDeprecated, old.MaturityStatus)
		require.NotNil(t, old.SupersededBy)
		assert.Equal(t, newID, *old.SupersededBy)

		repl, err := s.GetDecision(newID)
		require.NoError(t, err)
		assert.Equal(t, StatusHypothesis, repl.MaturityStatus)
		// inherited from the superseded record
		require.NotNil(t, repl.Project)
		assert.Equal(t, "recalld", *repl.Project)
		require.NotNil(t, repl.Context)
		assert.Equal(t, "twelve-factor setup", *repl.Context)
	})

	t.Run("learning with extra fields", func(t *testing.T) {
		s := newTestStore(t)
		oldID, _, err := s.SaveLearning(LearningParams{
			ErrorType:    "TimeoutError",
			ErrorMessage: "context deadline exceeded after 30s",
			Solution:     "raise the client timeout",
		})
		require.NoError(t, err)

		newID, err := s.Supersede(TableLearnings, oldID, "add retries with exponential backoff",
			"raising timeouts only hid the problem",
			map[string]string{"prevention": "budget retries per request"})
		require.NoError(t, err)
		// the replacement inherits the identical error message, which must
		// not consolidate it back into the old record
		require.NotEqual(t, oldID, newID)

		repl, err := s.GetLearning(newID)
		require.NoError(t, err)
		assert.Equal(t, "TimeoutError", repl.ErrorType)
		require.NotNil(t, repl.ErrorMessage)
		assert.Equal(t, "context deadline exceeded after 30s", *repl.ErrorMessage)
		require.NotNil(t, repl.Prevention)
		assert.Equal(t, "budget retries per request", *repl.Prevention)

		old, err := s.GetLearning(oldID)
		require.NoError(t, err)
		assert.Equal(t, StatusDeprecated, old.MaturityStatus)
		require.NotNil(t, old.SupersededBy)
		assert.Equal(t, newID, *old.SupersededBy)
	})

	t.Run("memories rejected", func(t *testing.T) {
		s := newTestStore(t)
		_, err := s.Supersede(TableMemories, 1, "x", "", nil)
		assert.ErrorIs(t, err, ErrNoMaturity)
	})
}

func TestGetByMaturity(t *testing.T) {
	s := newTestStore(t)

	lowID := saveDecisionT(t, s)
	require.NoError(t, s.Contradict(TableDecisions, lowID, "", nil)) // 0.25, deprecated

	highID, err := s.SaveDecision(DecisionParams{Decision: "keep interfaces small", Established: true})
	require.NoError(t, err)

	got, err := s.GetByMaturity(TableDecisions, "", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, highID, got[0].ID)
	assert.Equal(t, StatusConfirmed, got[0].MaturityStatus)

	got, err = s.GetByMaturity(TableDecisions, StatusDeprecated, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, lowID, got[0].ID)

	_, err = s.GetByMaturity(TableMemories, "", 0, 10)
	assert.ErrorIs(t, err, ErrNoMaturity)
}

func TestListHypothesesAndContradicted(t *testing.T) {
	s := newTestStore(t)

	decisionID := saveDecisionT(t, s)
	learningID, _, err := s.SaveLearning(LearningParams{
		ErrorType: "FlakyTest", Solution: "quarantine and deflake",
	})
	require.NoError(t, err)

	// Push the decision's confidence below the learning's so the
	// lowest-confidence-first merge across tables is observable.
	require.NoError(t, s.Decay(TableDecisions, decisionID))

	badID, err := s.SaveDecision(DecisionParams{Decision: "parse html with regex"})
	require.NoError(t, err)
	require.NoError(t, s.Contradict(TableDecisions, badID, "", nil))
	require.NoError(t, s.Contradict(TableDecisions, badID, "", nil))

	staleID, _, err := s.SaveLearning(LearningParams{
		ErrorType: "TimeoutError", Solution: "bump the client deadline",
	})
	require.NoError(t, err)
	require.NoError(t, s.Contradict(TableLearnings, staleID, "", nil))

	hyps, err := s.ListHypotheses(10)
	require.NoError(t, err)
	require.Len(t, hyps, 2)
	assert.Equal(t, decisionID, hyps[0].ID)
	assert.Equal(t, TableDecisions, hyps[0].Table)
	assert.Equal(t, learningID, hyps[1].ID)
	assert.Equal(t, TableLearnings, hyps[1].Table)
	for _, h := range hyps {
		assert.Contains(t, []Status{StatusHypothesis, StatusTesting}, h.MaturityStatus)
	}

	bad, err := s.ListContradicted(10)
	require.NoError(t, err)
	require.Len(t, bad, 2)
	assert.Equal(t, badID, bad[0].ID)
	assert.Equal(t, 2, bad[0].TimesContradicted)
	assert.Equal(t, staleID, bad[1].ID)
	assert.Equal(t, 1, bad[1].TimesContradicted)
}

func TestDecayAndBoost(t *testing.T) {
	s := newTestStore(t)
	id := saveDecisionT(t, s)

	require.NoError(t, s.Decay(TableDecisions, id))
	d, err := s.GetDecision(id)
	require.NoError(t, err)
	assert.InDelta(t, 0.49, d.ConfidenceScore, 1e-9)

	require.NoError(t, s.Boost(TableDecisions, id))
	d, err = s.GetDecision(id)
	require.NoError(t, err)
	assert.InDelta(t, 0.54, d.ConfidenceScore, 1e-9)
	assert.Equal(t, 1, d.TimesConfirmed)

	// floors and caps
	for i := 0; i < 100; i++ {
		require.NoError(t, s.Decay(TableDecisions, id))
	}
	d, err = s.GetDecision(id)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, d.ConfidenceScore, 0.0)

	for i := 0; i < 100; i++ {
		require.NoError(t, s.Boost(TableDecisions, id))
	}
	d, err = s.GetDecision(id)
	require.NoError(t, err)
	assert.LessOrEqual(t, d.ConfidenceScore, 1.0)
}
