package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/steamkeeper/internal/history"
)

func TestPostgresSink_EmptyDSN(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty DSN")
	}
}

func TestPostgresSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("PostgreSQL container unavailable: %v", err)
	}
	defer func() {
		if err := postgresContainer.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate PostgreSQL container: %v", err)
		}
	}()

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("Failed to get connection string: %v", err)
	}

	sink, err := New(connStr)
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL sink: %v", err)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			t.Errorf("Failed to close sink: %v", err)
		}
	}()

	started := time.Now().Add(-time.Minute).UTC()
	done := time.Now().UTC()
	job := history.Job{
		ID:          "job-1",
		ProfileID:   1,
		ProfileName: "cs2",
		AppID:       "730",
		AppName:     "Counter-Strike 2",
		Status:      "Completed",
		IsMainApp:   true,
		CreatedAt:   started,
		StartedAt:   &started,
		CompletedAt: &done,
	}
	if err := sink.Send(ctx, history.Event{Type: history.EventFinished, OccurredAt: done, Job: job}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	job.ID = "job-2"
	job.Status = "Error"
	job.Error = "exit code 8"
	if err := sink.Send(ctx, history.Event{Type: history.EventFinished, OccurredAt: done, Job: job}); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	var count int
	if err := sink.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM update_jobs WHERE profile_id = $1", 1).Scan(&count); err != nil {
		t.Fatalf("Failed to query update_jobs: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 jobs in history, got %d", count)
	}
}
