package knowledge

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// SaveMemory persists a free-form note with content-identity deduplication:
// an existing memory with the same content hash has its access_count bumped
// instead of inserting a duplicate row.
//
// Returns the stored record's id and whether a new row was created.
func (s *Store) SaveMemory(p MemoryParams) (int64, bool, error) {
	if strings.TrimSpace(p.Content) == "" {
		return 0, false, fmt.Errorf("%w: content", ErrEmptyContent)
	}
	if p.Type == "" {
		p.Type = "note"
	}
	importance := 5
	if p.Importance != nil {
		importance = *p.Importance
		if importance < 0 {
			importance = 0
		}
		if importance > 10 {
			importance = 10
		}
	}

	hash := hashContent(p.Content)

	var (
		id      int64
		created bool
	)
	err := s.withTx(func(tx *sql.Tx) error {
		var existingID int64
		err := tx.QueryRow(
			`SELECT id FROM memories WHERE content_hash = ?`, hash,
		).Scan(&existingID)
		if err == nil {
			if _, err := tx.Exec(
				`UPDATE memories
				 SET access_count = access_count + 1,
				     last_accessed = datetime('now')
				 WHERE id = ?`,
				existingID,
			); err != nil {
				return fmt.Errorf("touch memory: %w", err)
			}
			id = existingID
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		res, err := tx.Exec(
			`INSERT INTO memories (type, category, content, content_hash, metadata, importance)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			p.Type, nullableString(p.Category), p.Content, hash,
			nullableString(p.Metadata), importance,
		)
		if err != nil {
			return fmt.Errorf("insert memory: %w", err)
		}
		id, err = res.LastInsertId()
		created = true
		return err
	})
	return id, created, err
}

// GetMemory retrieves a memory by ID and records the access.
func (s *Store) GetMemory(id int64) (*Memory, error) {
	res, err := s.db.Exec(
		`UPDATE memories
		 SET access_count = access_count + 1,
		     last_accessed = datetime('now')
		 WHERE id = ?`, id,
	)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}

	row := s.db.QueryRow(
		`SELECT id, type, category, content, content_hash, metadata, importance,
		        access_count, created_at, last_accessed
		 FROM memories WHERE id = ?`, id,
	)
	var m Memory
	if err := scanMemory(row, &m); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &m, nil
}

// SearchMemories filters memories by type, category, minimum importance and
// a substring query over content, newest first. The query is escaped so
// user-supplied % and _ match literally.
func (s *Store) SearchMemories(query, memType, category string, minImportance, limit int) ([]Memory, error) {
	if limit <= 0 {
		limit = 20
	}

	sqlStr := `
		SELECT id, type, category, content, content_hash, metadata, importance,
		       access_count, created_at, last_accessed
		FROM memories WHERE 1=1`
	args := []any{}

	if query != "" {
		sqlStr += ` AND content LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(query)+"%")
	}
	if memType != "" {
		sqlStr += " AND type = ?"
		args = append(args, memType)
	}
	if category != "" {
		sqlStr += " AND category = ?"
		args = append(args, category)
	}
	if minImportance > 0 {
		sqlStr += " AND importance >= ?"
		args = append(args, minImportance)
	}

	sqlStr += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Memory
	for rows.Next() {
		var m Memory
		if err := scanMemory(rows, &m); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// DeleteMemory removes a memory permanently.
func (s *Store) DeleteMemory(id int64) error {
	res, err := s.db.Exec(`DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMemory(row rowScanner, m *Memory) error {
	return row.Scan(
		&m.ID, &m.Type, &m.Category, &m.Content, &m.ContentHash, &m.Metadata,
		&m.Importance, &m.AccessCount, &m.CreatedAt, &m.LastAccessed,
	)
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(content)))
	return hex.EncodeToString(sum[:])
}

// escapeLike escapes LIKE wildcards so they match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
