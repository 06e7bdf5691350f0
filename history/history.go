// Package history keeps a SQLite log of replication passes, one row per pass,
// failed passes included.
package history

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/airheartdev/docsync"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one recorded pass.
type Entry struct {
	ID          string        `json:"id"`
	Source      string        `json:"source"`
	Target      string        `json:"target"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Created     bool          `json:"created"`
	DocsRead    int           `json:"docs_read"`
	MissingRevs int           `json:"missing_revs"`
	DocsWritten int           `json:"docs_written"`
	Error       string        `json:"error,omitempty"`
}

type Log struct {
	db *sql.DB
}

// Open creates or opens the log at path.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to history: %w", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Log{db: db}, nil
}

func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record stores the outcome of a pass. passErr is the error the pass failed
// with, nil on success.
func (l *Log) Record(ctx context.Context, report docsync.Report, passErr error) (Entry, error) {
	entry := Entry{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Source:      report.Source,
		Target:      report.Target,
		StartedAt:   report.StartedAt,
		Duration:    report.Duration,
		Created:     report.Created,
		DocsRead:    report.DocsRead,
		MissingRevs: report.MissingRevs,
		DocsWritten: report.DocsWritten,
	}
	if entry.StartedAt.IsZero() {
		entry.StartedAt = time.Now()
	}
	if passErr != nil {
		entry.Error = passErr.Error()
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO passes (id, source, target, started_at, duration_ms, created,
			docs_read, missing_revs, docs_written, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Source, entry.Target, entry.StartedAt.UnixMilli(), entry.Duration.Milliseconds(),
		entry.Created, entry.DocsRead, entry.MissingRevs, entry.DocsWritten, entry.Error,
	)
	if err != nil {
		return Entry{}, fmt.Errorf("record pass: %w", err)
	}
	return entry, nil
}

// List returns up to limit passes, newest first. limit <= 0 returns all.
func (l *Log) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, source, target, started_at, duration_ms, created,
			docs_read, missing_revs, docs_written, error
		FROM passes
		ORDER BY started_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list passes: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e          Entry
			startedMs  int64
			durationMs int64
		)
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &startedMs, &durationMs, &e.Created,
			&e.DocsRead, &e.MissingRevs, &e.DocsWritten, &e.Error); err != nil {
			return nil, fmt.Errorf("scan pass: %w", err)
		}
		e.StartedAt = time.UnixMilli(startedMs)
		e.Duration = time.Duration(durationMs) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
