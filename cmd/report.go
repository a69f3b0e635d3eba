package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/session"
)

// newReportCmd creates the 'report' subcommand, which rebuilds an archive from
// a saved complete_crawl_result.json.
func newReportCmd(rt *cliState) *cobra.Command {
	var (
		resultPath string
		jobID      string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Rebuild an archive from a saved crawl result",
		Long: `Processes a saved complete_crawl_result.json exactly like a completed job:
pages are classified, media is downloaded and the reports are written to a
new session directory. The job service is not contacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if resultPath == "" {
				return crawler.NewConfigError("--result is required")
			}
			raw, err := os.ReadFile(resultPath)
			if err != nil {
				return crawler.NewConfigError("read saved crawl result: %v", err)
			}
			sess, err := session.New(sessionConfig(rt, resultPath), nil, sessionDeps(rt), rt.logger)
			if err != nil {
				return err
			}
			out, err := sess.Replay(cmd.Context(), raw, jobID)
			logOutcome(rt.logger, out, err)
			if out != nil && out.SessionDir != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", out.State, out.SessionDir)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&resultPath, "result", "", "path to a saved complete_crawl_result.json")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id to record in the reports")
	return cmd
}
