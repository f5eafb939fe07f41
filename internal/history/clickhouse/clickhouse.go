package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/loykin/steamkeeper/internal/history"
)

// Sink sends finished jobs to ClickHouse using the official ClickHouse Go client.
type Sink struct {
	conn  driver.Conn
	table string
}

// Options selects the server and target table.
type Options struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

func New(opts Options) (*Sink, error) {
	if opts.Database == "" {
		opts.Database = "default"
	}
	if opts.Username == "" {
		opts.Username = "default"
	}
	if opts.Table == "" {
		opts.Table = "update_jobs"
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{opts.Addr},
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.Username,
			Password: opts.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	return &Sink{conn: conn, table: opts.Table}, nil
}

// EnsureTable creates the target table when missing.
func (s *Sink) EnsureTable(ctx context.Context) error {
	return s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+s.table+` (
			type String,
			occurred_at DateTime64(6),
			job_id String,
			profile_id Int64,
			profile_name String,
			app_id String,
			app_name String,
			status String,
			error Nullable(String),
			is_main_app Bool,
			parent_app_id Nullable(String),
			duration_seconds Float64
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, job_id)
	`)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	query := fmt.Sprintf(`INSERT INTO %s (type, occurred_at, job_id, profile_id, profile_name, app_id, app_name, status, error, is_main_app, parent_app_id, duration_seconds) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)

	j := e.Job
	var errText, parent *string
	if j.Error != "" {
		errText = &j.Error
	}
	if j.ParentAppID != "" {
		parent = &j.ParentAppID
	}
	err := s.conn.Exec(ctx, query,
		string(e.Type),
		e.OccurredAt,
		j.ID,
		int64(j.ProfileID),
		j.ProfileName,
		j.AppID,
		j.AppName,
		j.Status,
		errText,
		j.IsMainApp,
		parent,
		j.Duration().Seconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event into ClickHouse: %w", err)
	}
	return nil
}
