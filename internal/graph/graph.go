// Package graph stores a lightweight entity/relation graph alongside the
// knowledge tables and serves relationship-aware search results to the
// ensemble.
package graph

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

var ErrNotFound = errors.New("graph: entity not found")

// Entity is a named node: a service, a library, a person, a concept.
type Entity struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Type        string  `json:"type"`
	Description *string `json:"description,omitempty"`
	Properties  *string `json:"properties,omitempty"`
	CreatedAt   string  `json:"created_at"`
}

// Relation is a typed directed edge between two entities. Weight counts how
// often the relation has been asserted.
type Relation struct {
	ID           int64  `json:"id"`
	FromEntity   string `json:"from_entity"`
	ToEntity     string `json:"to_entity"`
	RelationType string `json:"relation_type"`
	Weight       int    `json:"weight"`
	CreatedAt    string `json:"created_at"`
}

// Neighbor is an entity reached during traversal, annotated with the edge
// that led to it.
type Neighbor struct {
	Entity       Entity `json:"entity"`
	RelationType string `json:"relation_type"`
	Direction    string `json:"direction"` // outgoing or incoming
	Depth        int    `json:"depth"`
}

// Hit is one graph search result for the ensemble.
type Hit struct {
	Entity  Entity   `json:"entity"`
	Score   float64  `json:"score"`
	Related []string `json:"related,omitempty"`
}

// Store persists the graph in the shared knowledge database.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// New runs the graph migrations on an already-open database handle.
func New(db *sql.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("graph: migration: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS entities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			name        TEXT    NOT NULL UNIQUE,
			type        TEXT    NOT NULL DEFAULT 'concept',
			description TEXT,
			properties  TEXT,
			created_at  TEXT    NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS relations (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			from_entity   TEXT    NOT NULL,
			to_entity     TEXT    NOT NULL,
			relation_type TEXT    NOT NULL DEFAULT 'relates_to',
			weight        INTEGER NOT NULL DEFAULT 1,
			created_at    TEXT    NOT NULL DEFAULT (datetime('now')),
			UNIQUE (from_entity, to_entity, relation_type)
		);

		CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(from_entity);
		CREATE INDEX IF NOT EXISTS idx_relations_to   ON relations(to_entity);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveEntity upserts an entity by name, filling empty fields on conflict.
func (s *Store) SaveEntity(name, entityType, description, properties string) (int64, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("graph: entity name required")
	}
	if entityType == "" {
		entityType = "concept"
	}

	_, err := s.db.Exec(
		`INSERT INTO entities (name, type, description, properties)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET
		     type = excluded.type,
		     description = COALESCE(excluded.description, entities.description),
		     properties = COALESCE(excluded.properties, entities.properties)`,
		name, entityType, nullable(description), nullable(properties),
	)
	if err != nil {
		return 0, fmt.Errorf("graph: save entity: %w", err)
	}

	var id int64
	if err := s.db.QueryRow(`SELECT id FROM entities WHERE name = ?`, name).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// SaveRelation upserts an edge; repeating an existing assertion bumps its
// weight.
func (s *Store) SaveRelation(from, to, relationType string) error {
	if from == "" || to == "" {
		return fmt.Errorf("graph: relation endpoints required")
	}
	if from == to {
		return fmt.Errorf("graph: self-relation on %q", from)
	}
	if relationType == "" {
		relationType = "relates_to"
	}

	_, err := s.db.Exec(
		`INSERT INTO relations (from_entity, to_entity, relation_type)
		 VALUES (?, ?, ?)
		 ON CONFLICT(from_entity, to_entity, relation_type)
		 DO UPDATE SET weight = relations.weight + 1`,
		from, to, relationType,
	)
	if err != nil {
		return fmt.Errorf("graph: save relation: %w", err)
	}
	return nil
}

// GetEntity fetches an entity by name.
func (s *Store) GetEntity(name string) (*Entity, error) {
	row := s.db.QueryRow(
		`SELECT id, name, type, description, properties, created_at FROM entities WHERE name = ?`,
		name,
	)
	var e Entity
	if err := row.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &e.Properties, &e.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Neighbors walks the graph breadth-first from an entity up to maxDepth
// (clamped to 2). Cycles are cut by a visited set.
func (s *Store) Neighbors(name string, maxDepth int) ([]Neighbor, error) {
	if _, err := s.GetEntity(name); err != nil {
		return nil, err
	}
	if maxDepth <= 0 || maxDepth > 2 {
		maxDepth = 2
	}

	type frontier struct {
		name  string
		depth int
	}

	visited := map[string]bool{name: true}
	queue := []frontier{{name: name, depth: 0}}
	var neighbors []Neighbor

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= maxDepth {
			continue
		}

		rows, err := s.db.Query(
			`SELECT from_entity, to_entity, relation_type FROM relations
			 WHERE from_entity = ? OR to_entity = ?`,
			current.name, current.name,
		)
		if err != nil {
			return nil, err
		}

		type edge struct {
			other, relType, direction string
		}
		var edges []edge
		for rows.Next() {
			var from, to, relType string
			if err := rows.Scan(&from, &to, &relType); err != nil {
				rows.Close()
				return nil, err
			}
			if from == current.name {
				edges = append(edges, edge{other: to, relType: relType, direction: "outgoing"})
			} else {
				edges = append(edges, edge{other: from, relType: relType, direction: "incoming"})
			}
		}
		if err := rows.Close(); err != nil {
			return nil, err
		}

		for _, e := range edges {
			if visited[e.other] {
				continue
			}
			visited[e.other] = true

			entity, err := s.GetEntity(e.other)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					continue // dangling edge
				}
				return nil, err
			}
			neighbors = append(neighbors, Neighbor{
				Entity:       *entity,
				RelationType: e.relType,
				Direction:    e.direction,
				Depth:        current.depth + 1,
			})
			queue = append(queue, frontier{name: e.other, depth: current.depth + 1})
		}
	}
	return neighbors, nil
}

// Search matches entities by name or description and scores them by how
// connected they are: well-linked entities are likelier to matter. Scores
// land in [0.5, 1.0].
func (s *Store) Search(query string, limit int) ([]Hit, error) {
	if query == "" {
		return nil, fmt.Errorf("graph: empty query")
	}
	if limit <= 0 {
		limit = 10
	}

	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.Query(
		`SELECT id, name, type, description, properties, created_at
		 FROM entities
		 WHERE name LIKE ? ESCAPE '\' OR description LIKE ? ESCAPE '\'
		 ORDER BY name LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var e Entity
		if err := rows.Scan(&e.ID, &e.Name, &e.Type, &e.Description, &e.Properties, &e.CreatedAt); err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Entity: e})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range hits {
		degree, related, err := s.connectivity(hits[i].Entity.Name)
		if err != nil {
			return nil, err
		}
		if degree > 5 {
			degree = 5
		}
		hits[i].Score = 0.5 + 0.1*float64(degree)
		hits[i].Related = related
	}
	return hits, nil
}

// connectivity returns an entity's degree and the names of its direct
// neighbors.
func (s *Store) connectivity(name string) (int, []string, error) {
	rows, err := s.db.Query(
		`SELECT from_entity, to_entity FROM relations WHERE from_entity = ? OR to_entity = ?`,
		name, name,
	)
	if err != nil {
		return 0, nil, err
	}
	defer rows.Close()

	degree := 0
	seen := map[string]bool{}
	var related []string
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return 0, nil, err
		}
		degree++
		other := to
		if to == name {
			other = from
		}
		if !seen[other] {
			seen[other] = true
			related = append(related, other)
		}
	}
	return degree, related, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}
