package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/steamkeeper"
)

func createProfileAddCommand(c *command) *cobra.Command {
	f := &ProfileAddFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a profile",
		Long: `Add a profile. With --username and no --password the password is
prompted for. Credentials are encrypted when [secret] passphrase is set.

Examples:
  steamkeeper profile add --name cs2 --app 730 --dir /srv/cs2 --auto-run
  steamkeeper profile add --name private --app 1234 --dir /srv/p --username bob`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.profileAdd(*f)
		},
	}
	cmd.Flags().StringVar(&f.Name, "name", "", "display name")
	cmd.Flags().StringVar(&f.AppID, "app", "", "main app id (required)")
	cmd.Flags().StringVar(&f.Dir, "dir", "", "install directory (required)")
	cmd.Flags().StringVar(&f.Arguments, "args", "", "extra tool arguments")
	cmd.Flags().BoolVar(&f.Validate, "validate", false, "verify files after the update")
	cmd.Flags().BoolVar(&f.AutoRun, "auto-run", false, "include in scheduled updates")
	cmd.Flags().StringVar(&f.Username, "username", "", "login name (anonymous when empty)")
	cmd.Flags().StringVar(&f.Password, "password", "", "login password (prompted when omitted)")
	for _, name := range []string{"app", "dir"} {
		if err := cmd.MarkFlagRequired(name); err != nil {
			panic(err)
		}
	}
	return cmd
}

func (c *command) profileAdd(f ProfileAddFlags) error {
	if f.Username != "" && f.Password == "" {
		pw, err := c.askPassword("Password for " + f.Username + ":")
		if err != nil {
			return err
		}
		f.Password = pw
	}
	if f.Name == "" {
		f.Name = "app-" + f.AppID
	}
	return c.withApp(func(app *steamkeeper.App) error {
		p, err := app.AddProfile(steamkeeper.Profile{
			Name:       f.Name,
			AppID:      f.AppID,
			InstallDir: f.Dir,
			Arguments:  f.Arguments,
			Validate:   f.Validate,
			AutoRun:    f.AutoRun,
			Username:   f.Username,
			Password:   f.Password,
		})
		if err != nil {
			return err
		}
		success(c.out, "Added profile %d (%s)", p.ID, p.Name)
		return nil
	})
}

func createProfileListCommand(c *command) *cobra.Command {
	f := &ProfileListFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.profileList(*f)
		},
	}
	cmd.Flags().BoolVar(&f.JSON, "json", false, "print JSON")
	return cmd
}

func (c *command) profileList(f ProfileListFlags) error {
	return c.withApp(func(app *steamkeeper.App) error {
		list, err := app.Store().Profiles.List()
		if err != nil {
			return err
		}
		if f.JSON {
			views := make([]steamkeeper.Profile, 0, len(list))
			for _, p := range list {
				views = append(views, redact(p))
			}
			printJSON(c.out, views)
			return nil
		}
		if len(list) == 0 {
			info(c.out, "No profiles")
			return nil
		}
		_, _ = fmt.Fprintf(c.out, "%-4s %-20s %-10s %-8s %-8s %s\n", "ID", "NAME", "APP", "AUTO", "STATUS", "INSTALL DIR")
		for _, p := range list {
			_, _ = fmt.Fprintf(c.out, "%-4d %-20s %-10s %-8t %-8s %s\n",
				p.ID, p.Name, p.AppID, p.AutoRun, statusText(string(p.Status)), p.InstallDir)
		}
		return nil
	})
}

func createProfileShowCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(func(app *steamkeeper.App) error {
				p, err := app.Store().Profiles.Get(id)
				if err != nil {
					return err
				}
				printJSON(c.out, redact(p))
				return nil
			})
		},
	}
}

func createProfileRemoveCommand(c *command) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Remove a profile and its dependency record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(func(app *steamkeeper.App) error {
				if err := app.RemoveProfile(context.Background(), id); err != nil {
					return err
				}
				success(c.out, "Removed profile %d", id)
				return nil
			})
		},
	}
}

// redact masks stored credentials for display.
func redact(p steamkeeper.Profile) steamkeeper.Profile {
	if p.Username != "" {
		p.Username = "***"
	}
	if p.Password != "" {
		p.Password = "***"
	}
	return p
}
