// Package commands implements the cohorts CLI subcommands.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/samvad-hq/amplitude-cohorts/internal/app"
	"github.com/samvad-hq/amplitude-cohorts/internal/config"
	"github.com/samvad-hq/amplitude-cohorts/internal/logger"
)

// AppFactory builds the application for a command invocation.
type AppFactory func(ctx context.Context, cfg *config.Config, log logger.Logger) (*app.App, error)

// runtime is shared between the root command and its subcommands.
type runtime struct {
	project  string
	verbose  bool
	logLevel string

	factory AppFactory
	app     *app.App
	log     *logger.Log
}

// NewRootCommand returns the cohorts root command with all subcommands attached.
func NewRootCommand(version string, factory AppFactory) *cobra.Command {
	if factory == nil {
		factory = app.New
	}
	rt := &runtime{factory: factory}

	root := &cobra.Command{
		Use:           "cohorts",
		Short:         "Fetch, list and upload Amplitude behavioral cohorts",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&rt.project, "project", "p", "", "Project name from the projects file (default: first project)")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Log client diagnostics")
	root.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(getCommand(rt))
	root.AddCommand(listCommand(rt))
	root.AddCommand(uploadCommand(rt))
	return root
}

// run wraps a subcommand so the app is built before it and always released after it.
func (rt *runtime) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		if err := rt.init(cmd); err != nil {
			return err
		}
		defer func() {
			if cerr := rt.close(); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}

func (rt *runtime) init(cmd *cobra.Command) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if rt.verbose {
		cfg.Verbose = rt.verbose
	}
	if rt.logLevel != "" {
		cfg.LogLevel = rt.logLevel
	}

	log, err := logger.Init(cfg, cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	rt.log = log

	a, err := rt.factory(cmd.Context(), cfg, log)
	if err != nil {
		_ = rt.close()
		return fmt.Errorf("init app: %w", err)
	}
	rt.app = a
	return nil
}

func (rt *runtime) close() error {
	var err error
	if rt.app != nil {
		err = rt.app.Close()
		rt.app = nil
	}
	if rt.log != nil {
		// Sync on a terminal fails with EINVAL; nothing is lost.
		_ = rt.log.Close()
		rt.log = nil
	}
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
