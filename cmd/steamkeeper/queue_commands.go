package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/steamkeeper"
	"github.com/loykin/steamkeeper/pkg/client"
)

func createQueueListCommand(c *command) *cobra.Command {
	f := &QueueListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show pending jobs (and history with --history)",
		Long: `Show the update queue. With --api-url the running daemon is asked;
otherwise queue.json in the data directory is read as stored, so a job the
daemon is working on shows as Processing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.queueList(*f)
		},
	}
	cmd.Flags().BoolVar(&f.History, "history", false, "include finished jobs")
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (e.g. http://127.0.0.1:8085)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func (c *command) queueList(f QueueListFlags) error {
	var q client.Queue
	if f.APIUrl != "" {
		api, err := c.apiClient(f.APIUrl, f.APITimeout)
		if err != nil {
			return err
		}
		if q, err = api.Queue(context.Background()); err != nil {
			return err
		}
	} else {
		cfg, err := steamkeeper.LoadConfig(c.global.ConfigPath)
		if err != nil {
			return err
		}
		st, err := steamkeeper.ReadQueue(cfg)
		if err != nil {
			return err
		}
		q = toClientQueue(st)
	}
	if !f.History {
		q.History = nil
	}
	if f.JSON {
		printJSON(c.out, q)
		return nil
	}
	printJobs(c.out, "Queue", q.Queue)
	if f.History {
		printJobs(c.out, "History", q.History)
	}
	return nil
}

func createQueueAddCommand(c *command) *cobra.Command {
	f := &QueueAddFlags{}
	cmd := &cobra.Command{
		Use:   "add <profile-id>",
		Short: "Queue an update on the running daemon",
		Long: `Queue an update of the profile's app, or of --app when given. The
daemon at --api-url (default: [server] listen) runs the job.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			api, err := c.apiClient(f.APIUrl, f.APITimeout)
			if err != nil {
				return err
			}
			j, err := api.Enqueue(context.Background(), id, f.AppID)
			if err != nil {
				return err
			}
			success(c.out, "Queued %s for profile %d as %s (#%d)", j.AppID, j.ProfileID, j.ID, j.Order)
			return nil
		},
	}
	cmd.Flags().StringVar(&f.AppID, "app", "", "app id to update instead of the profile's app")
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createQueueRemoveCommand(c *command) *cobra.Command {
	f := &QueueControlFlags{}
	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Drop one pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.apiClient(f.APIUrl, f.APITimeout)
			if err != nil {
				return err
			}
			if err := api.Dequeue(context.Background(), args[0]); err != nil {
				return err
			}
			success(c.out, "Removed job %s", args[0])
			return nil
		},
	}
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createQueueClearCommand(c *command) *cobra.Command {
	f := &QueueControlFlags{}
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Drop every pending job; the running one continues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.apiClient(f.APIUrl, f.APITimeout)
			if err != nil {
				return err
			}
			n, err := api.ClearQueue(context.Background())
			if err != nil {
				return err
			}
			success(c.out, "Removed %d pending jobs", n)
			return nil
		},
	}
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func createQueueCancelCommand(c *command) *cobra.Command {
	f := &QueueControlFlags{}
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Stop the worker and cancel every pending job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := c.apiClient(f.APIUrl, f.APITimeout)
			if err != nil {
				return err
			}
			if err := api.CancelQueue(context.Background()); err != nil {
				return err
			}
			success(c.out, "Queue cancelled")
			return nil
		},
	}
	addAPIFlags(cmd, &f.APIUrl, &f.APITimeout)
	return cmd
}

func addAPIFlags(cmd *cobra.Command, apiURL *string, timeout *time.Duration) {
	cmd.Flags().StringVar(apiURL, "api-url", "", "daemon URL (defaults to [server] listen)")
	cmd.Flags().DurationVar(timeout, "api-timeout", 10*time.Second, "request timeout")
}

func toClientQueue(st steamkeeper.QueueState) client.Queue {
	conv := func(items []steamkeeper.QueueItem) []client.Job {
		out := make([]client.Job, 0, len(items))
		for _, it := range items {
			out = append(out, client.Job{
				ID:          it.ID,
				ProfileID:   it.ProfileID,
				ProfileName: it.ProfileName,
				AppID:       it.AppID,
				AppName:     it.AppName,
				Status:      string(it.Status),
				CreatedAt:   it.CreatedAt,
				StartedAt:   it.StartedAt,
				CompletedAt: it.CompletedAt,
				Order:       it.Order,
				Error:       it.Error,
				IsMainApp:   it.IsMainApp,
				ParentAppID: it.ParentAppID,
			})
		}
		return out
	}
	return client.Queue{Queue: conv(st.Queue), History: conv(st.History)}
}

func createStatusCommand(c *command) *cobra.Command {
	f := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Ask the running daemon for its state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.status(*f)
		},
	}
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL (defaults to [server] listen)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 5*time.Second, "request timeout")
	return cmd
}

func (c *command) status(f StatusFlags) error {
	api, err := c.apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	h, err := api.Health(context.Background())
	if err != nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	success(c.out, "Daemon is up")
	if len(h.Running) == 0 {
		info(c.out, "No profile running")
	} else {
		info(c.out, "Running profiles: %v", h.Running)
	}
	worker := "idle"
	if h.QueueRunning {
		worker = "working"
	}
	info(c.out, "Queue: %d pending, worker %s", h.QueuePending, worker)
	if h.RunAll {
		info(c.out, "Run-all in progress")
	}
	ids := make([]int, 0, len(h.ScanFailures))
	for id := range h.ScanFailures {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		warn(c.out, "Profile %d: %d failed update checks", id, h.ScanFailures[id])
	}
	return nil
}
