package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"

	"github.com/loykin/steamkeeper"
	"github.com/loykin/steamkeeper/internal/logs"
	"github.com/loykin/steamkeeper/pkg/client"
)

const dayLayout = "2006-01-02"

func addLogsFlags(cmd *cobra.Command, f *LogsFlags, remote bool) {
	cmd.Flags().IntVarP(&f.Lines, "lines", "n", 50, "number of lines")
	cmd.Flags().StringVar(&f.Source, "source", "", "only lines from this source (profile name or steamkeeper)")
	cmd.Flags().StringVar(&f.Day, "day", "", "day to read (YYYY-MM-DD, default today)")
	if remote {
		cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "read the daemon's in-memory log instead of files")
		cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	}
}

func createLogsTailCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print the latest log lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.logsTail(*f)
		},
	}
	addLogsFlags(cmd, f, true)
	return cmd
}

func (c *command) logsTail(f LogsFlags) error {
	if f.Lines < 1 {
		return errors.New("--lines must be positive")
	}
	if f.APIUrl != "" {
		api, err := c.apiClient(f.APIUrl, f.APITimeout)
		if err != nil {
			return err
		}
		var page client.LogPage
		if f.Source != "" {
			page, err = api.LogsBySource(context.Background(), f.Source, f.Lines)
		} else {
			page, err = api.Logs(context.Background(), 1, f.Lines)
		}
		if err != nil {
			return err
		}
		entries := page.Entries
		if f.Source == "" {
			// pages are newest first
			slices.Reverse(entries)
		}
		for _, e := range entries {
			printLine(c.out, logs.Entry{Time: e.Time, Level: logs.ParseLevel(e.Level), Source: e.Source, Status: e.Status, Message: e.Message}.Line())
		}
		return nil
	}
	lines, err := c.dayLines(f.Day)
	if err != nil {
		return err
	}
	if f.Source != "" {
		lines = filterSource(lines, f.Source)
	}
	if len(lines) > f.Lines {
		lines = lines[len(lines)-f.Lines:]
	}
	for _, l := range lines {
		printLine(c.out, l)
	}
	return nil
}

func createLogsSearchCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "search <keyword>...",
		Short: "Print lines containing every keyword (case-insensitive)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.logsSearch(f.Day, f.Source, args)
		},
	}
	addLogsFlags(cmd, f, false)
	return cmd
}

func (c *command) logsSearch(day, source string, keywords []string) error {
	lines, err := c.dayLines(day)
	if err != nil {
		return err
	}
	if source != "" {
		lines = filterSource(lines, source)
	}
	var n int
	for _, l := range lines {
		if containsAll(l, keywords) {
			printLine(c.out, l)
			n++
		}
	}
	if n == 0 {
		info(c.out, "No matches")
	}
	return nil
}

func createLogsFollowCommand(c *command) *cobra.Command {
	f := &LogsFlags{}
	cmd := &cobra.Command{
		Use:   "follow",
		Short: "Follow today's log file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()
			return c.logsFollow(ctx, f.Source)
		},
	}
	cmd.Flags().StringVar(&f.Source, "source", "", "only lines from this source")
	return cmd
}

func (c *command) logsFollow(ctx context.Context, source string) error {
	var path string
	err := c.withApp(func(app *steamkeeper.App) error {
		path = app.Logs().FilePath(c.now().Format(dayLayout))
		return nil
	})
	if err != nil {
		return err
	}
	t, err := tail.TailFile(path, tail.Config{
		ReOpen:    true,
		Follow:    true,
		MustExist: false,
		Poll:      true,
		Location:  &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to tail log file: %w", err)
	}
	defer t.Cleanup()
	defer func() { _ = t.Stop() }()

	info(c.out, "Following %s (Ctrl+C to stop)", path)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return errors.New("log tail channel closed")
			}
			if line == nil || strings.TrimSpace(line.Text) == "" {
				continue
			}
			if source != "" && !hasSource(line.Text, source) {
				continue
			}
			printLine(c.out, line.Text)
		}
	}
}

// dayLines reads the persisted lines of day, today when empty.
func (c *command) dayLines(day string) ([]string, error) {
	if day == "" {
		day = c.now().Format(dayLayout)
	}
	var lines []string
	err := c.withApp(func(app *steamkeeper.App) error {
		var err error
		lines, err = app.Logs().ReadFile(day)
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no log file for %s", day)
		}
		return err
	})
	return lines, err
}

func hasSource(line, source string) bool {
	return strings.Contains(line, "] ["+source+"] ")
}

func filterSource(lines []string, source string) []string {
	out := lines[:0:0]
	for _, l := range lines {
		if hasSource(l, source) {
			out = append(out, l)
		}
	}
	return out
}

func containsAll(line string, keywords []string) bool {
	lower := strings.ToLower(line)
	for _, k := range keywords {
		if !strings.Contains(lower, strings.ToLower(k)) {
			return false
		}
	}
	return true
}
