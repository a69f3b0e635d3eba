package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/api"
	"github.com/JakeFAU/crawl-archiver/internal/archiver"
	"github.com/JakeFAU/crawl-archiver/internal/config"
	"github.com/JakeFAU/crawl-archiver/internal/jobservice"
	"github.com/JakeFAU/crawl-archiver/internal/monitor"
	"github.com/JakeFAU/crawl-archiver/internal/session"
)

// newRunCmd creates the 'run' subcommand: submit, follow, archive.
func newRunCmd(rt *cliState) *cobra.Command {
	var specPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a crawl job and archive its result",
		Long: `Submits the crawl specification to the job service, polls it until it
completes, fails or is abandoned, and on completion downloads every discovered
media asset and writes the session reports.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			spec := rt.cfg.Job
			source := rt.configSource()
			if specPath != "" {
				loaded, err := config.LoadJobSpec(specPath)
				if err != nil {
					return err
				}
				spec = loaded
				source = specPath
			}
			if err := spec.Validate(); err != nil {
				return err
			}

			js := rt.cfg.JobService
			client, err := jobservice.New(jobservice.Config{
				BaseURL:        js.BaseURL,
				Timeout:        js.Timeout,
				SubmitAttempts: js.SubmitAttempts,
				BackoffInitial: js.BackoffInitial,
				BackoffMax:     js.BackoffMax,
				Headers:        js.Headers,
			}, nil, rt.logger.Named("jobservice"))
			if err != nil {
				return err
			}

			sess, err := session.New(sessionConfig(rt, source), client, sessionDeps(rt), rt.logger)
			if err != nil {
				return err
			}
			stopServer := startStatusServer(cmd.Context(), rt, sess)
			defer stopServer()

			out, err := sess.Run(cmd.Context(), spec)
			logOutcome(rt.logger, out, err)
			if out != nil && out.SessionDir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", out.State, out.SessionDir)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&specPath, "spec", "", "crawl specification JSON in the job service wire format (overrides the job config section)")
	return cmd
}

func sessionConfig(rt *cliState, source string) session.Config {
	cfg := rt.cfg
	return session.Config{
		OutputRoot:    cfg.Output.Root,
		SessionPrefix: cfg.Output.SessionPrefix,
		ConfigSource:  source,
		Categories:    cfg.Categories,
		Workers:       cfg.Processing.Workers,
		Monitor: monitor.Config{
			PollInterval:         cfg.Monitor.PollInterval,
			MaxTransportFailures: cfg.Monitor.MaxTransportFailures,
			RetryBackoff:         cfg.Monitor.RetryBackoff,
		},
		Archiver: archiver.Config{
			Concurrency: cfg.Archiver.Concurrency,
			Pacing:      cfg.Archiver.Pacing,
			Timeout:     cfg.Archiver.Timeout,
			UserAgent:   cfg.Archiver.UserAgent,
			Referer:     cfg.Archiver.Referer,
		},
		Topic: rt.app.Topic(),
	}
}

func sessionDeps(rt *cliState) session.Deps {
	return session.Deps{
		Mirror:    rt.app.MirrorFor,
		Outcomes:  rt.app.Outcomes(),
		Publisher: rt.app.Publisher(),
	}
}

// startStatusServer serves the live status until the returned stop is called.
// It is a no-op when server.port is 0.
func startStatusServer(ctx context.Context, rt *cliState, sess *session.Session) func() {
	if rt.cfg.Server.Port == 0 {
		return func() {}
	}
	srv := api.NewServer(sess, api.Options{APIKey: rt.cfg.Server.APIKey}, rt.logger)
	sctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(sctx, fmt.Sprintf(":%d", rt.cfg.Server.Port)); err != nil {
			rt.logger.Warn("status server stopped", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func logOutcome(logger *zap.Logger, out *session.Outcome, err error) {
	if out == nil {
		return
	}
	fields := []zap.Field{
		zap.String("session_id", out.SessionID),
		zap.String("job_id", out.JobID),
		zap.String("state", string(out.State)),
		zap.String("session_dir", out.SessionDir),
	}
	if out.Report != nil {
		fields = append(fields,
			zap.Int("pages", out.Report.ContentStats.TotalPages),
			zap.Int("words", out.Report.ContentStats.TotalWords),
		)
	}
	if err != nil {
		logger.Error("archive session ended", append(fields, zap.Error(err))...)
		return
	}
	logger.Info("archive session completed", fields...)
}
