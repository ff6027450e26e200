package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/casefile/internal/extraction"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// migrations are applied in order; schema_version records what has run.
var migrations = []string{
	`CREATE TABLE entities (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		label TEXT NOT NULL,
		properties_json TEXT NOT NULL DEFAULT '{}',
		location_ref TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX idx_entities_type_label ON entities (type, label COLLATE NOCASE);`,

	`CREATE TABLE relationships (
		id TEXT PRIMARY KEY,
		from_id TEXT NOT NULL REFERENCES entities(id),
		to_id TEXT NOT NULL REFERENCES entities(id),
		label TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX idx_relationships_edge ON relationships (from_id, to_id, label);`,
}

// Store is the SQLite-backed entity graph. It owns deduplication: creating
// an entity whose (type, label) already exists returns the existing row.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the graph database in dataDir and applies pending
// migrations. Pass ":memory:" for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "graph.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	for i, stmt := range migrations {
		version := i + 1

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// CreateEntity inserts an entity, or returns the existing one when an entity
// of the same type and label (case-insensitive) is already present.
func (s *Store) CreateEntity(ctx context.Context, typ extraction.EntityType, label string, props map[string]any) (extraction.Entity, error) {
	if existing, err := s.findByLabel(ctx, typ, label); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return extraction.Entity{}, err
	}

	propsJSON := "{}"
	if len(props) > 0 {
		data, err := json.Marshal(props)
		if err != nil {
			return extraction.Entity{}, fmt.Errorf("marshalling properties: %w", err)
		}
		propsJSON = string(data)
	}

	e := extraction.Entity{
		ID:         uuid.New().String(),
		Type:       typ,
		Label:      label,
		Properties: props,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entities (id, type, label, properties_json, location_ref, created_at)
		VALUES (?, ?, ?, ?, '', ?)`,
		e.ID, string(typ), label, propsJSON, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		// Another writer may have created the same label between the lookup
		// and the insert; fall back to reading it.
		if strings.Contains(err.Error(), "UNIQUE") {
			return s.findByLabel(ctx, typ, label)
		}
		return extraction.Entity{}, fmt.Errorf("inserting entity: %w", err)
	}
	return e, nil
}

func (s *Store) findByLabel(ctx context.Context, typ extraction.EntityType, label string) (extraction.Entity, error) {
	var e extraction.Entity
	var typeStr, propsJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, type, label, properties_json, location_ref
		FROM entities WHERE type = ? AND label = ? COLLATE NOCASE`,
		string(typ), label,
	).Scan(&e.ID, &typeStr, &e.Label, &propsJSON, &e.LocationRef)
	if err == sql.ErrNoRows {
		return extraction.Entity{}, ErrNotFound
	}
	if err != nil {
		return extraction.Entity{}, err
	}
	e.Type = extraction.EntityType(typeStr)
	if propsJSON != "" && propsJSON != "{}" {
		if err := json.Unmarshal([]byte(propsJSON), &e.Properties); err != nil {
			return extraction.Entity{}, fmt.Errorf("parsing properties for %s: %w", e.ID, err)
		}
	}
	return e, nil
}

// AllEntities returns every entity, ordered by creation time.
func (s *Store) AllEntities(ctx context.Context) ([]extraction.Entity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, label, properties_json, location_ref
		FROM entities ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []extraction.Entity
	for rows.Next() {
		var e extraction.Entity
		var typeStr, propsJSON string
		if err := rows.Scan(&e.ID, &typeStr, &e.Label, &propsJSON, &e.LocationRef); err != nil {
			return nil, err
		}
		e.Type = extraction.EntityType(typeStr)
		if propsJSON != "" && propsJSON != "{}" {
			if err := json.Unmarshal([]byte(propsJSON), &e.Properties); err != nil {
				return nil, fmt.Errorf("parsing properties for %s: %w", e.ID, err)
			}
		}
		results = append(results, e)
	}
	return results, rows.Err()
}

// AddRelationship records a directed edge. Re-adding an identical edge is a
// no-op, not an error.
func (s *Store) AddRelationship(ctx context.Context, fromID, toID, label string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO relationships (id, from_id, to_id, label, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.New().String(), fromID, toID, label, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting relationship: %w", err)
	}
	return nil
}

// Relationship is a directed edge as stored.
type Relationship struct {
	ID     string `json:"id"`
	FromID string `json:"from_id"`
	ToID   string `json:"to_id"`
	Label  string `json:"label"`
}

// Relationships returns every edge, ordered by creation time.
func (s *Store) Relationships(ctx context.Context) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, from_id, to_id, label FROM relationships ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Relationship
	for rows.Next() {
		var r Relationship
		if err := rows.Scan(&r.ID, &r.FromID, &r.ToID, &r.Label); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
