package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"fudosan-agent/internal/domain"

	_ "modernc.org/sqlite"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLite stores turns in a local SQLite database.
type SQLite struct {
	db    *sql.DB
	table string
}

// NewSQLite opens (creating if needed) the database at path and ensures the
// turn table exists.
func NewSQLite(path, table string) (*SQLite, error) {
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("repository: invalid table name %q", table)
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("repository: open sqlite: %w", err)
	}
	// One connection serializes writers and keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: set busy timeout: %w", err)
	}

	s := &SQLite{db: db, table: table}
	if err := s.init(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: initialize sqlite: %w", err)
	}
	return s, nil
}

func (s *SQLite) init() error {
	_, err := s.db.Exec(fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id     TEXT NOT NULL,
			question    TEXT NOT NULL,
			response    TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s(user_id, id);
	`, s.table))
	return err
}

func (s *SQLite) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: AppendTurn: user id is required")
	}
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, question, response, created_at) VALUES (?, ?, ?, ?)`, s.table),
		turn.UserID, turn.Question, turn.Response, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func (s *SQLite) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		limit = -1 // no limit in SQLite
	}
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, user_id, question, response, created_at
		FROM %s
		WHERE user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`, s.table), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns query: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var createdAt string
		if err := rows.Scan(&t.Sequence, &t.UserID, &t.Question, &t.Response, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: RecentTurns scan: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			t.CreatedAt = ts
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: RecentTurns rows: %w", err)
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
