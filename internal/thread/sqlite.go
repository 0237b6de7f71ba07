package thread

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/marlowe/recall-agent/internal/profile"
)

// SQLiteContainer persists thread state in SQLite so conversations
// survive process restarts. Messages are an append-only log keyed by
// thread and sequence number; the profile is a single JSON row per
// thread, last write wins.
type SQLiteContainer struct {
	db *sql.DB
}

// NewSQLiteContainer creates a container on an existing database
// connection. The schema is created on first use.
func NewSQLiteContainer(db *sql.DB) (*SQLiteContainer, error) {
	c := &SQLiteContainer{db: db}
	if err := c.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return c, nil
}

func (c *SQLiteContainer) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS thread_messages (
		thread_id  TEXT NOT NULL,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (thread_id, seq)
	);

	CREATE TABLE IF NOT EXISTS thread_profiles (
		thread_id  TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`
	_, err := c.db.Exec(schema)
	return err
}

// Load reads a thread's messages in order plus its stored profile.
func (c *SQLiteContainer) Load(ctx context.Context, threadID string) (State, error) {
	var state State

	rows, err := c.db.QueryContext(ctx,
		`SELECT role, content FROM thread_messages WHERE thread_id = ? ORDER BY seq`,
		threadID,
	)
	if err != nil {
		return State{}, fmt.Errorf("load %s: %w", threadID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.Role, &m.Content); err != nil {
			return State{}, fmt.Errorf("scan %s: %w", threadID, err)
		}
		state.Messages = append(state.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return State{}, err
	}

	var raw string
	err = c.db.QueryRowContext(ctx,
		`SELECT value FROM thread_profiles WHERE thread_id = ?`, threadID,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
		// No profile stored yet.
	case err != nil:
		return State{}, fmt.Errorf("load profile %s: %w", threadID, err)
	default:
		var p profile.Profile
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return State{}, fmt.Errorf("decode profile %s: %w", threadID, err)
		}
		state.Profile = &p
	}

	return state, nil
}

// Apply appends the delta's messages and upserts its profile in one
// transaction, then returns the merged state.
func (c *SQLiteContainer) Apply(ctx context.Context, threadID string, d Delta) (State, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return State{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339)

	if len(d.Messages) > 0 {
		var next int64
		err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(seq), -1) + 1 FROM thread_messages WHERE thread_id = ?`,
			threadID,
		).Scan(&next)
		if err != nil {
			return State{}, fmt.Errorf("next seq %s: %w", threadID, err)
		}

		for i, m := range d.Messages {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO thread_messages (thread_id, seq, role, content, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				threadID, next+int64(i), m.Role, m.Content, now,
			)
			if err != nil {
				return State{}, fmt.Errorf("append %s: %w", threadID, err)
			}
		}
	}

	if d.Profile != nil {
		value, err := json.Marshal(d.Profile)
		if err != nil {
			return State{}, fmt.Errorf("marshal profile: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO thread_profiles (thread_id, value, updated_at)
			 VALUES (?, ?, ?)
			 ON CONFLICT (thread_id) DO UPDATE
			 SET value = excluded.value, updated_at = excluded.updated_at`,
			threadID, string(value), now,
		)
		if err != nil {
			return State{}, fmt.Errorf("store profile %s: %w", threadID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return State{}, fmt.Errorf("commit: %w", err)
	}

	return c.Load(ctx, threadID)
}
