// Package cmd defines the crawl-archiver command line.
package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/app"
	"github.com/JakeFAU/crawl-archiver/internal/config"
	"github.com/JakeFAU/crawl-archiver/internal/logging"
)

// cliState carries what PersistentPreRunE built to the subcommands.
type cliState struct {
	cfgFile  string
	logLevel string
	cfg      config.Config
	logger   *zap.Logger
	app      *app.App
}

// newApp is the service factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func (rt *cliState) configSource() string {
	if rt.cfgFile != "" {
		return rt.cfgFile
	}
	return "environment"
}

func (rt *cliState) close() {
	if rt.app != nil {
		if err := rt.app.Close(); err != nil && rt.logger != nil {
			rt.logger.Warn("failed to close services", zap.Error(err))
		}
		rt.app = nil
	}
	if rt.logger != nil {
		_ = rt.logger.Sync()
	}
}

func newRootCmd(rt *cliState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl-archiver",
		Short: "Drive a remote crawl job and archive its pages and media.",
		Long: `crawl-archiver submits a crawl job to an external job service, follows it
to completion and turns the resulting pages into a session directory of
categorized content, downloaded media and aggregate reports.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(rt.cfgFile)
			if err != nil {
				return err
			}
			if rt.logLevel != "" {
				cfg.Logging.Level = rt.logLevel
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)
			rt.cfg = cfg
			rt.logger = logger

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize services: %w", err)
			}
			rt.app = a
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&rt.cfgFile, "config", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&rt.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(newRunCmd(rt))
	cmd.AddCommand(newReportCmd(rt))
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rt := &cliState{}
	defer rt.close()

	root := newRootCmd(rt)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "crawl-archiver: %v\n", err)
	}
	return ExitCode(err)
}
