package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(newCommand())
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, errorText(err))
		os.Exit(1)
	}
}

// GlobalFlags holds minimal global/persistent flags for CLI commands
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot(c *command) *cobra.Command {
	globalFlags := &GlobalFlags{}
	root := createRootCommand(globalFlags)
	c.global = globalFlags

	profile := &cobra.Command{Use: "profile", Short: "Manage download profiles"}
	profile.AddCommand(
		createProfileAddCommand(c),
		createProfileListCommand(c),
		createProfileShowCommand(c),
		createProfileRemoveCommand(c),
	)
	queue := &cobra.Command{Use: "queue", Short: "Inspect and control the update queue"}
	queue.AddCommand(
		createQueueListCommand(c),
		createQueueAddCommand(c),
		createQueueRemoveCommand(c),
		createQueueClearCommand(c),
		createQueueCancelCommand(c),
	)
	logsCmd := &cobra.Command{Use: "logs", Short: "Read tool output"}
	logsCmd.AddCommand(
		createLogsTailCommand(c),
		createLogsSearchCommand(c),
		createLogsFollowCommand(c),
	)

	root.AddCommand(
		createServeCommand(c),
		profile,
		createRunCommand(c),
		createRunAllCommand(c),
		createStopCommand(c),
		createInstallCommand(c),
		queue,
		logsCmd,
		createStatusCommand(c),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "steamkeeper",
		Short: "Keep SteamCMD installs up to date",
		Long: `steamkeeper runs SteamCMD for a set of profiles, one at a time, and keeps
an ordered queue of update jobs with a bounded history.

Examples:
  steamkeeper serve --config steamkeeper.toml
  steamkeeper profile add --name cs2 --app 730 --dir /srv/cs2
  steamkeeper run 1
  steamkeeper queue list
  steamkeeper logs follow`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
