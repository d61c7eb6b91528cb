// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/hashicorp/cap-desktop/config"
	"github.com/hashicorp/cap-desktop/oidc"
	"github.com/hashicorp/cap-desktop/tokenstore"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// Exit codes for the cli.
const (
	exitCodeSuccess    = 0
	exitCodeError      = 1
	exitCodeAuthFailed = 3
	exitCodeCanceled   = 130
)

// global flags
var (
	configFile string
	envFile    string
	logLevel   string
)

func main() {
	// handle ctrl-c while waiting for the callback; canceling the context
	// cancels the attempt and releases the callback listener.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cap-desktop",
		Short: "Authenticate a desktop application with an OAuth 2.0 provider",
		Long: `cap-desktop authenticates with an OAuth 2.0 / OIDC provider using the
authorization code flow with PKCE.  The login happens in your browser and the
provider redirects back to a listener on the loopback interface.

Settings are read from an optional yaml file, an optional .env file and
environment variables prefixed with ` + config.EnvPrefix + `.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "yaml settings file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file of "+config.EnvPrefix+"* variables")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn or error")

	rootCmd.AddCommand(newAuthenticateCmd(), newTokenCmd())
	return rootCmd
}

// exitCode maps a command's error to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitCodeSuccess
	case errors.Is(err, oidc.ErrCanceled):
		return exitCodeCanceled
	case errors.As(err, new(*authFailedError)):
		return exitCodeAuthFailed
	default:
		return exitCodeError
	}
}

// authFailedError is returned when an authentication attempt fails.
type authFailedError struct {
	reason oidc.Reason
	err    error
}

func (e *authFailedError) Error() string {
	return fmt.Sprintf("authentication failed (%s): %s", e.reason, e.err)
}

func (e *authFailedError) Unwrap() error { return e.err }

// loadSettings loads the settings named by the global flags.
func loadSettings() (*config.Settings, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	return config.Load(opts...)
}

// newLogger returns a logger for the settings' level, which the --log-level
// flag overrides.
func newLogger(s *config.Settings) (hclog.Logger, error) {
	level := s.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	l := hclog.LevelFromString(level)
	if l == hclog.NoLevel {
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:   "cap-desktop",
		Level:  l,
		Output: os.Stderr,
	}), nil
}

// newStore returns the token store for the settings.
func newStore(s *config.Settings, logger hclog.Logger) *tokenstore.FileStore {
	return tokenstore.NewFileStore(tokenstore.WithDir(s.TokenDir), tokenstore.WithLogger(logger))
}

// storeKey identifies the settings' client and provider in the token store.
func storeKey(s *config.Settings) string {
	return tokenstore.ConfigKey(&oidc.Config{ClientID: s.ClientID, Issuer: s.Issuer, TokenURL: s.TokenURL})
}
