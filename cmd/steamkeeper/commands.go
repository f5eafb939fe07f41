package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/AlecAivazis/survey/v2"

	"github.com/loykin/steamkeeper"
	ktls "github.com/loykin/steamkeeper/internal/tls"
	"github.com/loykin/steamkeeper/pkg/client"
)

// command carries what every subcommand needs. Tests swap the fields.
type command struct {
	global      *GlobalFlags
	out         io.Writer
	open        func(path string) (*steamkeeper.App, error)
	askPassword func(message string) (string, error)
	now         func() time.Time
}

func newCommand() *command {
	return &command{
		global:      &GlobalFlags{},
		out:         os.Stdout,
		open:        openApp,
		askPassword: promptPassword,
		now:         time.Now,
	}
}

func openApp(path string) (*steamkeeper.App, error) {
	c, err := steamkeeper.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return steamkeeper.New(c, steamkeeper.Options{Console: os.Stderr})
}

func promptPassword(message string) (string, error) {
	var pw string
	err := survey.AskOne(&survey.Password{Message: message}, &pw, survey.WithValidator(survey.Required))
	return pw, err
}

// withApp opens the app for one command and closes it afterwards.
func (c *command) withApp(fn func(app *steamkeeper.App) error) (err error) {
	app, err := c.open(c.global.ConfigPath)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if cerr := app.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(app)
}

// signalContext ends on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// apiClient targets --api-url, or the admin server from the config file.
func (c *command) apiClient(apiURL string, timeout time.Duration) (*client.Client, error) {
	cc := client.Config{BaseURL: apiURL, Timeout: timeout}
	if apiURL == "" {
		cfg, err := steamkeeper.LoadConfig(c.global.ConfigPath)
		if err != nil {
			return nil, err
		}
		cc.BaseURL = cfg.AdminURL()
		if cfg.Server.TLS.Enabled && cfg.Server.TLS.CertFile == "" {
			ca := filepath.Join(cfg.Server.TLS.Dir, ktls.CACertName)
			if _, err := os.Stat(ca); err == nil {
				cc.CACert = ca
			}
		}
	}
	return client.New(cc), nil
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid profile id %q", s)
	}
	return id, nil
}
