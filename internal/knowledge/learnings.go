package knowledge

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/recallbank/recalld/internal/fuzzy"
)

// FindSolutionThreshold is the minimum fuzzy score for FindSolution to
// accept a non-exact error-message match.
const FindSolutionThreshold = 0.6

// thresholdNever sits above the maximum possible learning score (2.0, a
// message-only exact match), so passing it as LearningParams.Threshold
// turns write-time consolidation off for that save.
const thresholdNever = 3.0

// SaveLearning persists an error/solution learning with write-time
// consolidation: if an existing learning with the same error_type scores at
// or above the merge threshold against the new one, that record's frequency
// is incremented and any previously-empty fields are filled in, instead of
// inserting a near-duplicate row.
//
// Returns the stored record's id and whether the save merged into an
// existing record.
func (s *Store) SaveLearning(p LearningParams) (int64, bool, error) {
	if strings.TrimSpace(p.ErrorType) == "" {
		return 0, false, fmt.Errorf("%w: error_type", ErrEmptyContent)
	}
	if strings.TrimSpace(p.Solution) == "" {
		return 0, false, fmt.Errorf("%w: solution", ErrEmptyContent)
	}

	threshold := p.Threshold
	if threshold == 0 {
		threshold = fuzzy.DefaultThreshold
	}

	var (
		id     int64
		merged bool
	)
	err := s.withTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(
			`SELECT id, error_message, solution FROM learnings WHERE error_type = ?`,
			p.ErrorType,
		)
		if err != nil {
			return fmt.Errorf("find candidates: %w", err)
		}

		bestID := int64(0)
		bestScore := 0.0
		for rows.Next() {
			var (
				candidateID  int64
				candidateMsg *string
				candidateSol string
			)
			if err := rows.Scan(&candidateID, &candidateMsg, &candidateSol); err != nil {
				rows.Close()
				return err
			}
			msg := ""
			if candidateMsg != nil {
				msg = *candidateMsg
			}
			score := fuzzy.LearningScore(p.ErrorMessage, msg, p.Solution, candidateSol)
			if score > bestScore {
				bestScore, bestID = score, candidateID
			}
		}
		if err := rows.Close(); err != nil {
			return err
		}

		if bestID != 0 && bestScore >= threshold {
			// Duplicate: bump frequency and fill previously-empty fields.
			if _, err := tx.Exec(
				`UPDATE learnings
				 SET frequency = frequency + 1,
				     last_occurred = datetime('now'),
				     solution = COALESCE(?, solution),
				     root_cause = COALESCE(?, root_cause),
				     prevention = COALESCE(?, prevention),
				     context = COALESCE(?, context)
				 WHERE id = ?`,
				nullableString(p.Solution), nullableString(p.RootCause),
				nullableString(p.Prevention), nullableString(p.Context),
				bestID,
			); err != nil {
				return fmt.Errorf("merge learning: %w", err)
			}
			id, merged = bestID, true
			s.logger.Debug("learning consolidated",
				zap.Int64("id", bestID),
				zap.String("error_type", p.ErrorType),
				zap.Float64("score", bestScore))
			return nil
		}

		status, confidence := initialMaturity(p.Established)
		res, err := tx.Exec(
			`INSERT INTO learnings (error_type, error_message, root_cause, solution, prevention, context, project, maturity_status, confidence_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ErrorType, nullableString(p.ErrorMessage), nullableString(p.RootCause),
			p.Solution, nullableString(p.Prevention), nullableString(p.Context),
			nullableString(p.Project), string(status), confidence,
		)
		if err != nil {
			return fmt.Errorf("insert learning: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, merged, err
}

// GetLearning retrieves a learning by ID.
func (s *Store) GetLearning(id int64) (*Learning, error) {
	row := s.db.QueryRow(
		`SELECT id, error_type, error_message, root_cause, solution, prevention, context, project,
		        frequency, last_occurred, maturity_status, confidence_score,
		        times_used, times_confirmed, times_contradicted, superseded_by, created_at
		 FROM learnings WHERE id = ?`, id,
	)
	var l Learning
	if err := scanLearning(row, &l); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &l, nil
}

// ListLearnings returns learnings filtered by error type and/or project,
// most frequent first.
func (s *Store) ListLearnings(errorType, project string, limit int) ([]Learning, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, error_type, error_message, root_cause, solution, prevention, context, project,
		       frequency, last_occurred, maturity_status, confidence_score,
		       times_used, times_confirmed, times_contradicted, superseded_by, created_at
		FROM learnings WHERE 1=1`
	args := []any{}

	if errorType != "" {
		query += " AND error_type = ?"
		args = append(args, errorType)
	}
	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}

	query += " ORDER BY frequency DESC, last_occurred DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Learning
	for rows.Next() {
		var l Learning
		if err := scanLearning(rows, &l); err != nil {
			return nil, err
		}
		results = append(results, l)
	}
	return results, rows.Err()
}

// FindSolution looks up the best known fix for an error.
//
// Candidates with the exact error_type are tried first: the error message is
// fuzzy-matched against them and the best candidate at or above the
// threshold wins; when no message matches, the most frequent candidate of
// that type is returned (preferring the caller's project). Only when the
// type has no rows at all does the message get fuzzy-matched across every
// stored learning.
func (s *Store) FindSolution(errorType, errorMessage, project string) (*Learning, error) {
	if errorType == "" {
		return nil, ErrNotFound
	}

	candidates, err := s.queryLearnings(`
		SELECT id, error_type, error_message, root_cause, solution, prevention, context, project,
		       frequency, last_occurred, maturity_status, confidence_score,
		       times_used, times_confirmed, times_contradicted, superseded_by, created_at
		FROM learnings
		WHERE error_type = ?
		ORDER BY CASE WHEN project = ? THEN 0 ELSE 1 END, frequency DESC, last_occurred DESC`,
		errorType, project)
	if err != nil {
		return nil, err
	}

	if len(candidates) > 0 {
		if best := bestMessageMatch(candidates, errorMessage); best != nil {
			return best, nil
		}
		// fallback: most frequent of the same type
		return &candidates[0], nil
	}

	if errorMessage == "" {
		return nil, ErrNotFound
	}

	all, err := s.queryLearnings(`
		SELECT id, error_type, error_message, root_cause, solution, prevention, context, project,
		       frequency, last_occurred, maturity_status, confidence_score,
		       times_used, times_confirmed, times_contradicted, superseded_by, created_at
		FROM learnings
		WHERE error_message IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	if best := bestMessageMatch(all, errorMessage); best != nil {
		return best, nil
	}
	return nil, ErrNotFound
}

// bestMessageMatch returns the candidate whose error_message is most similar
// to message, or nil when none reaches FindSolutionThreshold.
func bestMessageMatch(candidates []Learning, message string) *Learning {
	if message == "" {
		return nil
	}
	var (
		best      *Learning
		bestScore float64
	)
	for i := range candidates {
		if candidates[i].ErrorMessage == nil {
			continue
		}
		score := fuzzy.Similarity(message, *candidates[i].ErrorMessage)
		if score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best == nil || bestScore < FindSolutionThreshold {
		return nil
	}
	return best
}

func (s *Store) queryLearnings(query string, args ...any) ([]Learning, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var learnings []Learning
	for rows.Next() {
		var l Learning
		if err := scanLearning(rows, &l); err != nil {
			return nil, err
		}
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}

// DeleteLearning removes a learning permanently.
func (s *Store) DeleteLearning(id int64) error {
	res, err := s.db.Exec(`DELETE FROM learnings WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanLearning(row rowScanner, l *Learning) error {
	var status string
	if err := row.Scan(
		&l.ID, &l.ErrorType, &l.ErrorMessage, &l.RootCause, &l.Solution,
		&l.Prevention, &l.Context, &l.Project, &l.Frequency, &l.LastOccurred,
		&status, &l.ConfidenceScore,
		&l.TimesUsed, &l.TimesConfirmed, &l.TimesContradicted,
		&l.SupersededBy, &l.CreatedAt,
	); err != nil {
		return err
	}
	l.MaturityStatus = Status(status)
	return nil
}
