package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// SQLiteStore is a namespaced memory store backed by SQLite. All public
// methods are safe for concurrent use (SQLite serializes writes).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a memory store on an existing database
// connection. The schema is created on first use.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		namespace  TEXT NOT NULL,
		key        TEXT NOT NULL,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (namespace, key)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Search returns up to limit items in the namespace, newest first.
func (s *SQLiteStore) Search(ctx context.Context, namespace []string, limit int) ([]Item, error) {
	ns := joinNamespace(namespace)

	rows, err := s.db.QueryContext(ctx,
		`SELECT value FROM memories WHERE namespace = ? ORDER BY key DESC LIMIT ?`,
		ns, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", ns, err)
	}
	defer rows.Close()

	var items []Item
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan %s: %w", ns, err)
		}
		var item Item
		if err := json.Unmarshal([]byte(raw), &item); err != nil {
			// Skip rows written by a future schema rather than failing
			// the whole search.
			continue
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Put upserts an item under namespace/key.
func (s *SQLiteStore) Put(ctx context.Context, namespace []string, key string, item Item) error {
	ns := joinNamespace(namespace)

	value, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memories (namespace, key, value, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (namespace, key) DO UPDATE
		 SET value = excluded.value, updated_at = excluded.updated_at`,
		ns, key, string(value), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", ns, key, err)
	}
	return nil
}
