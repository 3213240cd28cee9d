package knowledge

import (
	"database/sql"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Maturity state machine: records start at hypothesis, move to testing once
// usage accumulates, and settle at confirmed when the confidence score
// clears 0.7. Deprecated and contradicted are reachable from any state.
// Status only flips after times_used reaches minUsageForTransition so a
// single signal cannot flap a record's lifecycle.
const minUsageForTransition = 3

// RecordUsage registers that a record was consulted, optionally confirming
// it was useful, and recomputes its confidence and maturity status in one
// transaction. Returns the new confidence score.
func (s *Store) RecordUsage(table Table, id int64, wasUseful bool) (float64, error) {
	if !table.hasMaturity() {
		return 0, ErrNoMaturity
	}

	confirmInc := 0
	if wasUseful {
		confirmInc = 1
	}

	var confidence float64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			fmt.Sprintf(
				`UPDATE %s SET times_used = times_used + 1, times_confirmed = times_confirmed + ? WHERE id = ?`,
				table),
			confirmInc, id,
		)
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		var (
			used, confirmed, contradicted int
			current                       string
		)
		if err := tx.QueryRow(
			fmt.Sprintf(
				`SELECT times_used, times_confirmed, times_contradicted, maturity_status FROM %s WHERE id = ?`,
				table),
			id,
		).Scan(&used, &confirmed, &contradicted, &current); err != nil {
			return err
		}

		confirmRate := float64(confirmed) / float64(used)
		contradictRate := float64(contradicted) / float64(used)
		confidence = clamp(0.5+0.4*confirmRate-0.5*contradictRate, 0.05, 0.95)

		status := Status(current)
		if used >= minUsageForTransition {
			switch {
			case confidence >= 0.7:
				status = StatusConfirmed
			case confidence <= 0.2:
				status = StatusDeprecated
			default:
				if status == StatusHypothesis {
					status = StatusTesting
				}
			}
		}

		_, err = tx.Exec(
			fmt.Sprintf(
				`UPDATE %s SET confidence_score = ?, maturity_status = ? WHERE id = ?`,
				table),
			confidence, string(status), id,
		)
		return err
	})
	if err != nil {
		return 0, err
	}

	s.logger.Debug("usage recorded",
		zap.Stringer("table", table),
		zap.Int64("id", id),
		zap.Bool("useful", wasUseful),
		zap.Float64("confidence", confidence))
	return confidence, nil
}

// Confirm marks a record as useful.
func (s *Store) Confirm(table Table, id int64) (float64, error) {
	return s.RecordUsage(table, id, true)
}

// Contradict registers that a record turned out to be wrong. The first
// contradiction demotes the record to deprecated and halves its confidence;
// the second drives it to contradicted with confidence zero. A replacement
// id, when given, is stored in superseded_by; an existing superseded_by is
// never cleared by a nil replacement.
func (s *Store) Contradict(table Table, id int64, reason string, replacementID *int64) error {
	if !table.hasMaturity() {
		return ErrNoMaturity
	}

	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			fmt.Sprintf(`UPDATE %s SET times_contradicted = times_contradicted + 1 WHERE id = ?`, table),
			id,
		)
		if err != nil {
			return fmt.Errorf("contradict: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}

		var (
			contradicted int
			confidence   float64
		)
		if err := tx.QueryRow(
			fmt.Sprintf(`SELECT times_contradicted, confidence_score FROM %s WHERE id = ?`, table),
			id,
		).Scan(&contradicted, &confidence); err != nil {
			return err
		}

		status := StatusDeprecated
		if contradicted >= 2 {
			status = StatusContradicted
			confidence = 0.0
		} else {
			confidence *= 0.5
		}

		_, err = tx.Exec(
			fmt.Sprintf(
				`UPDATE %s SET maturity_status = ?, confidence_score = ?, superseded_by = COALESCE(?, superseded_by) WHERE id = ?`,
				table),
			string(status), confidence, replacementID, id,
		)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("knowledge contradicted",
		zap.Stringer("table", table),
		zap.Int64("id", id),
		zap.String("reason", reason))
	return nil
}

// Supersede creates a replacement record and demotes the old one, linking
// it to its successor. Fields not given in extra are inherited from the
// record being replaced. Returns the new record's id.
//
// Recognized extra keys: reasoning, context, alternatives (decisions);
// error_type, error_message, root_cause, prevention (learnings).
func (s *Store) Supersede(table Table, oldID int64, newContent, reason string, extra map[string]string) (int64, error) {
	if !table.hasMaturity() {
		return 0, ErrNoMaturity
	}

	pick := func(key, inherited string) string {
		if v, ok := extra[key]; ok && v != "" {
			return v
		}
		return inherited
	}

	var newID int64
	switch table {
	case TableDecisions:
		old, err := s.GetDecision(oldID)
		if err != nil {
			return 0, err
		}
		newID, err = s.SaveDecision(DecisionParams{
			Decision:     newContent,
			Reasoning:    pick("reasoning", deref(old.Reasoning)),
			Project:      deref(old.Project),
			Context:      pick("context", deref(old.Context)),
			Alternatives: pick("alternatives", deref(old.Alternatives)),
		})
		if err != nil {
			return 0, err
		}
	case TableLearnings:
		old, err := s.GetLearning(oldID)
		if err != nil {
			return 0, err
		}
		// Consolidation is off here: the replacement inherits the old
		// error_message, which would otherwise fuzzy-merge it straight
		// back into the record being superseded.
		newID, _, err = s.SaveLearning(LearningParams{
			ErrorType:    pick("error_type", old.ErrorType),
			ErrorMessage: pick("error_message", deref(old.ErrorMessage)),
			RootCause:    pick("root_cause", deref(old.RootCause)),
			Solution:     newContent,
			Prevention:   pick("prevention", deref(old.Prevention)),
			Context:      deref(old.Context),
			Project:      deref(old.Project),
			Threshold:    thresholdNever,
		})
		if err != nil {
			return 0, err
		}
	}

	if err := s.Contradict(table, oldID, reason, &newID); err != nil {
		return 0, err
	}
	return newID, nil
}

// GetByMaturity lists records of a table filtered by maturity status and a
// confidence floor, most trusted first.
func (s *Store) GetByMaturity(table Table, status Status, minConfidence float64, limit int) ([]Summary, error) {
	if !table.hasMaturity() {
		return nil, ErrNoMaturity
	}
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(`
		SELECT id, %s, project, maturity_status, confidence_score,
		       times_used, times_confirmed, times_contradicted, superseded_by, created_at
		FROM %s
		WHERE confidence_score >= ?`, titleExpr(table), table)
	args := []any{minConfidence}

	if status != "" {
		query += " AND maturity_status = ?"
		args = append(args, string(status))
	}

	query += " ORDER BY confidence_score DESC, times_used DESC LIMIT ?"
	args = append(args, limit)

	return s.querySummaries(table, query, args...)
}

// ListHypotheses returns the least-trusted unsettled records (hypothesis or
// testing) across decisions and learnings, lowest confidence first. These
// are the facts most in need of validation.
func (s *Store) ListHypotheses(limit int) ([]Summary, error) {
	return s.listByStatuses([]Status{StatusHypothesis, StatusTesting},
		"confidence_score ASC", limit)
}

// ListContradicted returns deprecated and contradicted records, most
// contradicted first.
func (s *Store) ListContradicted(limit int) ([]Summary, error) {
	return s.listByStatuses([]Status{StatusDeprecated, StatusContradicted},
		"times_contradicted DESC", limit)
}

func (s *Store) listByStatuses(statuses []Status, order string, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}

	var all []Summary
	for _, table := range []Table{TableDecisions, TableLearnings} {
		query := fmt.Sprintf(`
			SELECT id, %s, project, maturity_status, confidence_score,
			       times_used, times_confirmed, times_contradicted, superseded_by, created_at
			FROM %s
			WHERE maturity_status IN (?, ?)
			ORDER BY %s LIMIT ?`, titleExpr(table), table, order)
		rows, err := s.querySummaries(table, query, string(statuses[0]), string(statuses[1]), limit)
		if err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}

	sortSummaries(all, order)
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Decay nudges a record's confidence down, used by callers that age out
// stale knowledge. Floored at zero.
func (s *Store) Decay(table Table, id int64) error {
	return s.adjustConfidence(table, id,
		`confidence_score = MAX(0.0, confidence_score - 0.01)`)
}

// Boost nudges a record's confidence up and counts a confirmation. Capped
// at one.
func (s *Store) Boost(table Table, id int64) error {
	return s.adjustConfidence(table, id,
		`confidence_score = MIN(1.0, confidence_score + 0.05), times_confirmed = times_confirmed + 1`)
}

func (s *Store) adjustConfidence(table Table, id int64, setClause string) error {
	if !table.hasMaturity() {
		return ErrNoMaturity
	}
	res, err := s.db.Exec(
		fmt.Sprintf(`UPDATE %s SET %s WHERE id = ?`, table, setClause), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) querySummaries(table Table, query string, args ...any) ([]Summary, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Summary
	for rows.Next() {
		var (
			sum    Summary
			status string
		)
		if err := rows.Scan(
			&sum.ID, &sum.Title, &sum.Project, &status, &sum.ConfidenceScore,
			&sum.TimesUsed, &sum.TimesConfirmed, &sum.TimesContradicted,
			&sum.SupersededBy, &sum.CreatedAt,
		); err != nil {
			return nil, err
		}
		sum.Table = table
		sum.MaturityStatus = Status(status)
		results = append(results, sum)
	}
	return results, rows.Err()
}

func titleExpr(table Table) string {
	if table == TableLearnings {
		return `error_type || ': ' || solution`
	}
	return "decision"
}

func sortSummaries(s []Summary, order string) {
	less := func(a, b Summary) bool { return a.ConfidenceScore < b.ConfidenceScore }
	if order == "times_contradicted DESC" {
		less = func(a, b Summary) bool { return a.TimesContradicted > b.TimesContradicted }
	}
	// Stable so the per-table ordering survives the merge.
	sort.SliceStable(s, func(i, j int) bool { return less(s[i], s[j]) })
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
