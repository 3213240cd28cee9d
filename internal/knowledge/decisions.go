package knowledge

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// SaveDecision persists a new decision. Established callers start the record
// at confirmed/0.85, everything else at hypothesis/0.5.
func (s *Store) SaveDecision(p DecisionParams) (int64, error) {
	if strings.TrimSpace(p.Decision) == "" {
		return 0, fmt.Errorf("%w: decision", ErrEmptyContent)
	}

	status, confidence := initialMaturity(p.Established)

	var id int64
	err := s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`INSERT INTO decisions (project, context, decision, reasoning, alternatives, maturity_status, confidence_score)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			nullableString(p.Project), nullableString(p.Context), p.Decision,
			nullableString(p.Reasoning), nullableString(p.Alternatives),
			string(status), confidence,
		)
		if err != nil {
			return fmt.Errorf("insert decision: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// GetDecision retrieves a decision by ID.
func (s *Store) GetDecision(id int64) (*Decision, error) {
	row := s.db.QueryRow(
		`SELECT id, project, context, decision, reasoning, alternatives, outcome, status,
		        maturity_status, confidence_score, times_used, times_confirmed, times_contradicted,
		        superseded_by, created_at, updated_at
		 FROM decisions WHERE id = ?`, id,
	)
	var d Decision
	if err := scanDecision(row, &d); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// ListDecisions returns decisions filtered by project and/or status, newest
// first.
func (s *Store) ListDecisions(project, status string, limit int) ([]Decision, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, project, context, decision, reasoning, alternatives, outcome, status,
		       maturity_status, confidence_score, times_used, times_confirmed, times_contradicted,
		       superseded_by, created_at, updated_at
		FROM decisions WHERE 1=1`
	args := []any{}

	if project != "" {
		query += " AND project = ?"
		args = append(args, project)
	}
	if status != "" {
		query += " AND status = ?"
		args = append(args, status)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Decision
	for rows.Next() {
		var d Decision
		if err := scanDecision(rows, &d); err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// UpdateDecisionOutcome records how a decision played out. An empty status
// leaves the lifecycle status untouched.
func (s *Store) UpdateDecisionOutcome(id int64, outcome, status string) error {
	if strings.TrimSpace(outcome) == "" {
		return fmt.Errorf("%w: outcome", ErrEmptyContent)
	}
	return s.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(
			`UPDATE decisions
			 SET outcome = ?,
			     status = COALESCE(?, status),
			     updated_at = datetime('now')
			 WHERE id = ?`,
			outcome, nullableString(status), id,
		)
		if err != nil {
			return fmt.Errorf("update decision outcome: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// DeleteDecision removes a decision permanently.
func (s *Store) DeleteDecision(id int64) error {
	res, err := s.db.Exec(`DELETE FROM decisions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDecision(row rowScanner, d *Decision) error {
	var status string
	if err := row.Scan(
		&d.ID, &d.Project, &d.Context, &d.Decision, &d.Reasoning, &d.Alternatives,
		&d.Outcome, &d.Status, &status, &d.ConfidenceScore,
		&d.TimesUsed, &d.TimesConfirmed, &d.TimesContradicted,
		&d.SupersededBy, &d.CreatedAt, &d.UpdatedAt,
	); err != nil {
		return err
	}
	d.MaturityStatus = Status(status)
	return nil
}
