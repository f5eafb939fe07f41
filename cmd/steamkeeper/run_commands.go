package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/steamkeeper"
)

func createServeCommand(c *command) *cobra.Command {
	f := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon: schedule loops, update queue and admin server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(c.global.ConfigPath)
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			app.Logger().Info("Starting steamkeeper", "data_dir", app.Config().DataDir)
			return app.Run(ctx, f.Grace)
		},
	}
	cmd.Flags().DurationVar(&f.Grace, "grace", 30*time.Second, "shutdown timeout")
	return cmd
}

func createRunCommand(c *command) *cobra.Command {
	f := &RunFlags{}
	cmd := &cobra.Command{
		Use:   "run <profile-id>",
		Short: "Update one profile now and wait for the tool to exit",
		Long: `Run the tool for one profile in the foreground. Any other running
tool process is killed first.

Examples:
  steamkeeper run 1
  steamkeeper run 1 --app 228980   # update a dependency app into the same install`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.run(id, *f)
		},
	}
	cmd.Flags().StringVar(&f.AppID, "app", "", "app id to update instead of the profile's main app")
	return cmd
}

func (c *command) run(id int, f RunFlags) error {
	return c.withApp(func(app *steamkeeper.App) error {
		ctx, stop := signalContext()
		defer stop()
		var res steamkeeper.Result
		if f.AppID != "" {
			res = app.Supervisor().RunApp(ctx, id, f.AppID)
		} else {
			res = app.Supervisor().Start(ctx, id)
		}
		return c.report(res)
	})
}

func createRunAllCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "run-all",
		Short: "Update every profile in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *steamkeeper.App) error {
				ctx, stop := signalContext()
				defer stop()
				results, err := app.Supervisor().RunAll(ctx)
				if err != nil {
					return err
				}
				var failed int
				for _, r := range results {
					if c.report(r) != nil {
						failed++
					}
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d profiles failed", failed, len(results))
				}
				return nil
			})
		},
	}
}

func createStopCommand(c *command) *cobra.Command {
	f := &StopFlags{}
	cmd := &cobra.Command{
		Use:   "stop [profile-id]",
		Short: "Kill the tool and mark profiles stopped",
		Long: `Stop one profile, or with --all cancel the update queue and stop every
profile. With --api-url, --all is sent to the running daemon.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.All == (len(args) == 1) {
				return errors.New("give a profile id or --all")
			}
			if f.All && f.APIUrl != "" {
				return c.stopAllRemote(*f)
			}
			return c.withApp(func(app *steamkeeper.App) error {
				ctx, stop := signalContext()
				defer stop()
				if f.All {
					var firstErr error
					for _, r := range app.StopAll(ctx) {
						if err := c.report(r); err != nil && firstErr == nil {
							firstErr = err
						}
					}
					return firstErr
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				return c.report(app.Supervisor().Stop(ctx, id))
			})
		},
	}
	cmd.Flags().BoolVar(&f.All, "all", false, "cancel the queue and stop every profile")
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon URL; stop --all on the running daemon")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 30*time.Second, "request timeout")
	return cmd
}

func (c *command) stopAllRemote(f StopFlags) error {
	api, err := c.apiClient(f.APIUrl, f.APITimeout)
	if err != nil {
		return err
	}
	results, err := api.StopAll(context.Background())
	if err != nil {
		return err
	}
	var firstErr error
	for _, r := range results {
		res := steamkeeper.Result{ProfileID: r.ProfileID, AppID: r.AppID, Success: r.Success}
		if r.Error != "" {
			res.Err = errors.New(r.Error)
		}
		if err := c.report(res); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func createInstallCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Download and unpack the tool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(func(app *steamkeeper.App) error {
				ctx, stop := signalContext()
				defer stop()
				if err := app.Supervisor().Install(ctx); err != nil {
					return err
				}
				success(c.out, "Tool installed in %s", app.Config().Tool.Dir)
				return nil
			})
		},
	}
}

// report prints one result and returns its error.
func (c *command) report(r steamkeeper.Result) error {
	label := fmt.Sprintf("profile %d", r.ProfileID)
	if r.AppID != "" {
		label += " app " + r.AppID
	}
	if r.Success {
		success(c.out, "%s: ok", label)
		return nil
	}
	err := r.Err
	if err == nil {
		err = fmt.Errorf("exit code %d", r.ExitCode)
	}
	failure(c.out, "%s: %v", label, err)
	return fmt.Errorf("%s: %w", label, err)
}
