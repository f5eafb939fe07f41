package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/steamkeeper/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container for testing
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("ClickHouse container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("Failed to get mapped port: %v", err)
	}
	return container, host + ":" + port.Port()
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	container, addr := setupClickHouseContainer(ctx, t)
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Errorf("Failed to terminate ClickHouse container: %v", err)
		}
	}()

	sink, err := New(Options{Addr: addr, Table: "update_jobs"})
	if err != nil {
		t.Fatalf("Failed to create sink: %v", err)
	}
	defer func() { _ = sink.Close() }()
	if err := sink.EnsureTable(ctx); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}

	started := time.Now().Add(-time.Minute).UTC()
	done := time.Now().UTC()
	ev := history.Event{
		Type:       history.EventFinished,
		OccurredAt: done,
		Job: history.Job{
			ID:          "job-ch-1",
			ProfileID:   2,
			ProfileName: "ark",
			AppID:       "376030",
			AppName:     "ARK Dedicated Server",
			Status:      "Completed",
			IsMainApp:   true,
			CreatedAt:   started,
			StartedAt:   &started,
			CompletedAt: &done,
		},
	}
	if err := sink.Send(ctx, ev); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}
	ev.Job.ID = "job-ch-2"
	ev.Job.Status = "Error"
	ev.Job.Error = "exit code 8"
	if err := sink.Send(ctx, ev); err != nil {
		t.Fatalf("Failed to send event: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	var count uint64
	if err := sink.conn.QueryRow(ctx, "SELECT COUNT(*) FROM update_jobs WHERE profile_id = ?", int64(2)).Scan(&count); err != nil {
		t.Fatalf("Failed to query count: %v", err)
	}
	if count != 2 {
		t.Errorf("Expected 2 events, got %d", count)
	}
}

func TestClickHouseSink_ConnectionError(t *testing.T) {
	if _, err := New(Options{Addr: "invalid-host.invalid:9000"}); err == nil {
		t.Error("Expected error with invalid connection, got nil")
	}
}
