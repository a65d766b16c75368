// Package storage persists agent-side durable state beyond the JSON config:
// the command execution history kept in a local SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/maxwellnie/lan-device-manager/common/protocol"
)

// HistoryStore records every command execution attempt, including
// whitelist rejections.
type HistoryStore struct {
	db *sql.DB
}

// OpenHistory opens (and migrates) the history database. An empty path
// uses an in-memory database.
func OpenHistory(dbPath string) (*HistoryStore, error) {
	if dbPath == "" {
		dbPath = ":memory:"
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	// A single writer keeps SQLite happy without WAL tuning.
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS command_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp DATETIME NOT NULL,
		command TEXT NOT NULL,
		args TEXT NOT NULL DEFAULT '',
		source TEXT NOT NULL DEFAULT '',
		allowed INTEGER NOT NULL,
		success INTEGER NOT NULL,
		execution_time_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_command_history_timestamp ON command_history(timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history database: %w", err)
	}

	return &HistoryStore{db: db}, nil
}

// Add records one execution attempt.
func (s *HistoryStore) Add(ctx context.Context, entry protocol.HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO command_history (timestamp, command, args, source, allowed, success, execution_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.Timestamp.UTC().Format(time.RFC3339Nano),
		entry.Command, entry.Args, entry.Source,
		entry.Allowed, entry.Success, entry.ExecutionTimeMs,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (s *HistoryStore) Recent(ctx context.Context, limit int) ([]protocol.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, command, args, source, allowed, success, execution_time_ms
		FROM command_history
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []protocol.HistoryEntry
	for rows.Next() {
		var entry protocol.HistoryEntry
		var ts string
		if err := rows.Scan(&entry.ID, &ts, &entry.Command, &entry.Args,
			&entry.Source, &entry.Allowed, &entry.Success, &entry.ExecutionTimeMs); err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		if parsed, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(ts)); err == nil {
			entry.Timestamp = parsed
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Prune deletes entries older than the retention window.
func (s *HistoryStore) Prune(ctx context.Context, retention time.Duration) error {
	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM command_history WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("prune history: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	return s.db.Close()
}
