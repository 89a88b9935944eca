// Package runlog records crawl runs in SQLite.
package runlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/aluiziolira/go-scrape-ebay/models"
)

// Status is the lifecycle state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// ErrRunNotFound is returned when a run id is unknown.
var ErrRunNotFound = errors.New("runlog: run not found")

// Run is one recorded crawl.
type Run struct {
	ID         string         `json:"id"`
	Keyword    string         `json:"keyword"`
	Status     Status         `json:"status"`
	Pages      int            `json:"pages"`
	Items      int            `json:"items"`
	Extracted  int            `json:"extracted"`
	Persisted  int            `json:"persisted"`
	CorpusSize int            `json:"corpus_size"`
	Skipped    map[string]int `json:"skipped,omitempty"`
	Error      string         `json:"error,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// Store persists runs with modernc.org/sqlite.
type Store struct {
	db *sql.DB
}

// Open opens the database at dsn, creating its directory when needed.
func Open(dsn string) (*Store, error) {
	if dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, eris.Wrapf(err, "runlog: create directory %q", dir)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "runlog: exec %s", pragma)
		}
	}
	return &Store{db: db}, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	keyword     TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'running',
	pages       INTEGER NOT NULL DEFAULT 0,
	items       INTEGER NOT NULL DEFAULT 0,
	extracted   INTEGER NOT NULL DEFAULT 0,
	persisted   INTEGER NOT NULL DEFAULT 0,
	corpus_size INTEGER NOT NULL DEFAULT 0,
	skipped     TEXT,
	error       TEXT,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// Migrate creates the schema.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, migration)
	return eris.Wrap(err, "runlog: migrate")
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Start records a new running crawl.
func (s *Store) Start(ctx context.Context, keyword string) (*Run, error) {
	run := &Run{
		ID:        uuid.New().String(),
		Keyword:   keyword,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, keyword, status, started_at) VALUES (?, ?, ?, ?)`,
		run.ID, run.Keyword, string(run.Status), run.StartedAt,
	)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: insert run")
	}
	return run, nil
}

// Finish stores the outcome of a run. result may be nil when the crawl
// failed before producing one.
func (s *Store) Finish(ctx context.Context, id string, result *models.CrawlResult, runErr error) error {
	status := StatusSucceeded
	var errText sql.NullString
	if runErr != nil {
		status = StatusFailed
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}

	var pages, items, extracted, persisted, corpus int
	var skipped sql.NullString
	if result != nil {
		pages, items, extracted = result.PageCount, result.ItemCount, result.ExtractedCount
		persisted, corpus = result.PersistedCount, result.CorpusSize
		if len(result.SkippedByReason) > 0 {
			data, err := json.Marshal(result.SkippedByReason)
			if err != nil {
				return eris.Wrap(err, "runlog: marshal skipped")
			}
			skipped = sql.NullString{String: string(data), Valid: true}
		}
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, pages = ?, items = ?, extracted = ?, persisted = ?,
			corpus_size = ?, skipped = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), pages, items, extracted, persisted, corpus, skipped, errText, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "runlog: finish run %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "runlog: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRunNotFound, "id %s", id)
	}
	return nil
}

// Track records fn as a run for keyword. Bookkeeping failures are logged and
// never fail the crawl. A nil store just calls fn.
func (s *Store) Track(ctx context.Context, keyword string, fn func(context.Context) (*models.CrawlResult, error)) (*models.CrawlResult, error) {
	if s == nil {
		return fn(ctx)
	}

	run, err := s.Start(ctx, keyword)
	if err != nil {
		zap.L().Warn("runlog: start failed", zap.String("keyword", keyword), zap.Error(err))
		return fn(ctx)
	}

	result, runErr := fn(ctx)
	if err := s.Finish(context.WithoutCancel(ctx), run.ID, result, runErr); err != nil {
		zap.L().Warn("runlog: finish failed", zap.String("run_id", run.ID), zap.Error(err))
	}
	return result, runErr
}

// Get returns one run.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id)
	return scanRun(row)
}

// List returns the most recent runs first. limit <= 0 means 20.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "runlog: list runs")
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "runlog: iterate runs")
}

const selectRuns = `SELECT id, keyword, status, pages, items, extracted, persisted, corpus_size,
	skipped, error, started_at, finished_at FROM runs`

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*Run, error) {
	var r Run
	var status string
	var skipped, errText sql.NullString
	var finished sql.NullTime

	err := row.Scan(&r.ID, &r.Keyword, &status, &r.Pages, &r.Items, &r.Extracted, &r.Persisted,
		&r.CorpusSize, &skipped, &errText, &r.StartedAt, &finished)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "runlog: scan run")
	}

	r.Status = Status(status)
	r.Error = errText.String
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	if skipped.Valid {
		if err := json.Unmarshal([]byte(skipped.String), &r.Skipped); err != nil {
			return nil, eris.Wrap(err, "runlog: unmarshal skipped")
		}
	}
	return &r, nil
}
