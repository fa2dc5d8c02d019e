// Package journal keeps a bounded SQLite history of the frames the server
// broadcast. It is an audit aid only; task state is always read from disk.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/makerGeek/claudiomiro/internal/models"
)

//go:embed schema.sql
var schemaSQL string

// DefaultMaxEventsPerProject bounds the history kept for one project
const DefaultMaxEventsPerProject = 1000

// Entry is one recorded broadcast
type Entry struct {
	ID          string          `json:"id"`
	ProjectPath string          `json:"projectPath"`
	Event       string          `json:"event"`
	Data        json.RawMessage `json:"data"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// Store manages the journal database
type Store struct {
	db        *sql.DB
	dbPath    string
	maxEvents int
}

var nowFunc = time.Now

// NewStore opens (creating if needed) the journal at dbPath. maxEvents <= 0
// uses DefaultMaxEventsPerProject.
func NewStore(dbPath string, maxEvents int) (*Store, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEventsPerProject
	}

	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps ":memory:"
	// from handing each pooled connection its own empty database
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	if err := execWithRetry(db, schemaSQL, 5, 10*time.Millisecond); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	return &Store{db: db, dbPath: dbPath, maxEvents: maxEvents}, nil
}

// execWithRetry executes a statement, backing off on "database is locked"
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database location
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Record appends frame to the project's history and trims the history to the
// newest maxEvents entries.
func (s *Store) Record(ctx context.Context, projectPath string, frame models.Frame) error {
	data, err := json.Marshal(frame.Data)
	if err != nil {
		return fmt.Errorf("marshal %s data: %w", frame.Event, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (id, project_path, event, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), projectPath, frame.Event, string(data), nowFunc().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM events WHERE project_path = ? AND seq NOT IN (
			SELECT seq FROM events WHERE project_path = ? ORDER BY seq DESC LIMIT ?)`,
		projectPath, projectPath, s.maxEvents)
	if err != nil {
		return fmt.Errorf("trim history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// Recent returns up to limit entries for projectPath, newest first.
// An empty projectPath returns entries of every project.
func (s *Store) Recent(ctx context.Context, projectPath string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, project_path, event, data, created_at FROM events`
	args := []any{}
	if projectPath != "" {
		query += ` WHERE project_path = ?`
		args = append(args, projectPath)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var (
			e         Entry
			data      string
			createdAt string
		)
		if err := rows.Scan(&e.ID, &e.ProjectPath, &e.Event, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Data = json.RawMessage(data)
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return entries, nil
}

// Count returns the number of entries kept for projectPath
func (s *Store) Count(ctx context.Context, projectPath string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE project_path = ?`, projectPath).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count events: %w", err)
	}
	return n, nil
}
