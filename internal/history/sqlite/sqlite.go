package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/loykin/steamkeeper/internal/history"
)

// Sink writes finished update jobs to a SQLite database.
type Sink struct {
	db *sql.DB
}

// New creates a new SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = dsn[len("sqlite://"):]
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// :memory: databases are per connection.
	db.SetMaxOpenConns(1)

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS update_jobs(
			timestamp TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
			job_id TEXT NOT NULL,
			profile_id INTEGER NOT NULL,
			profile_name TEXT NOT NULL,
			app_id TEXT NOT NULL,
			app_name TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			is_main_app BOOLEAN NOT NULL,
			parent_app_id TEXT,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_update_jobs_profile ON update_jobs(profile_id);`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	j := e.Job
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO update_jobs(timestamp, job_id, profile_id, profile_name, app_id, app_name, status, error, is_main_app, parent_app_id, started_at, completed_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		e.OccurredAt.UTC(), j.ID, j.ProfileID, j.ProfileName, j.AppID, j.AppName, j.Status,
		history.NullString(j.Error), j.IsMainApp, history.NullString(j.ParentAppID),
		history.NullTime(j.StartedAt), history.NullTime(j.CompletedAt))
	return err
}

// Count returns how many jobs were recorded for a profile.
func (s *Sink) Count(ctx context.Context, profileID int) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM update_jobs WHERE profile_id = ?`, profileID).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
