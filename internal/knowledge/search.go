package knowledge

import "fmt"

// SearchText runs a substring search over decisions and learnings, newest
// first, splitting the limit between the two tables. It backs the
// relational result provider of the ensemble search.
func (s *Store) SearchText(query, project string, limit int) ([]TextHit, error) {
	if query == "" {
		return nil, fmt.Errorf("%w: query", ErrEmptyContent)
	}
	if limit <= 0 {
		limit = 10
	}
	perTable := limit / 2
	if perTable < 1 {
		perTable = 1
	}

	pattern := "%" + escapeLike(query) + "%"

	hits, err := s.searchDecisions(pattern, project, perTable)
	if err != nil {
		return nil, err
	}
	learningHits, err := s.searchLearnings(pattern, project, perTable)
	if err != nil {
		return nil, err
	}
	return append(hits, learningHits...), nil
}

func (s *Store) searchDecisions(pattern, project string, limit int) ([]TextHit, error) {
	query := `
		SELECT id, decision, reasoning, context, project,
		       maturity_status, confidence_score, times_used, created_at, updated_at
		FROM decisions
		WHERE (decision LIKE ? ESCAPE '\' OR reasoning LIKE ? ESCAPE '\' OR context LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern, pattern}

	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var (
			h                  TextHit
			decision           string
			reasoning, context *string
			status             string
		)
		if err := rows.Scan(
			&h.ID, &decision, &reasoning, &context, &h.Project,
			&status, &h.ConfidenceScore, &h.TimesUsed, &h.CreatedAt, &h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		h.Table = TableDecisions
		h.MaturityStatus = Status(status)
		h.HasContext = context != nil
		h.Content = decision
		if reasoning != nil {
			h.Content += " - " + *reasoning
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func (s *Store) searchLearnings(pattern, project string, limit int) ([]TextHit, error) {
	query := `
		SELECT id, error_type, error_message, solution, context, project,
		       maturity_status, confidence_score, times_used, last_occurred, created_at
		FROM learnings
		WHERE (error_type LIKE ? ESCAPE '\' OR error_message LIKE ? ESCAPE '\'
		       OR solution LIKE ? ESCAPE '\' OR context LIKE ? ESCAPE '\')`
	args := []any{pattern, pattern, pattern, pattern}

	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []TextHit
	for rows.Next() {
		var (
			h                 TextHit
			errorType, sol    string
			message, context  *string
			status, lastOccur string
		)
		if err := rows.Scan(
			&h.ID, &errorType, &message, &sol, &context, &h.Project,
			&status, &h.ConfidenceScore, &h.TimesUsed, &lastOccur, &h.CreatedAt,
		); err != nil {
			return nil, err
		}
		h.Table = TableLearnings
		h.MaturityStatus = Status(status)
		h.HasContext = context != nil
		h.Content = errorType + ": " + sol
		h.UpdatedAt = &lastOccur
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
