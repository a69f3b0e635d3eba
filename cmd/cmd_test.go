package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/app"
	"github.com/JakeFAU/crawl-archiver/internal/config"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, ExitOK},
		{"service failure", fmt.Errorf("run: %w", &crawler.ServiceFailureError{Message: "boom"}), ExitServiceFailure},
		{"abandoned", fmt.Errorf("%w: 5 consecutive poll failures", crawler.ErrAbandoned), ExitAbandoned},
		{"config", crawler.NewConfigError("job.target is required"), ExitConfig},
		{"unexpected", errors.New("disk full"), ExitUnexpected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ExitCode(tc.err))
		})
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func writeConfig(t *testing.T, baseURL, outputRoot string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "config.yaml", fmt.Sprintf(`
job_service:
  base_url: %s
  submit_attempts: 1
  backoff_initial: 1ms
  backoff_max: 1ms
monitor:
  poll_interval: 10ms
  max_transport_failures: 2
  retry_backoff: 1ms
archiver:
  pacing: 0s
output:
  root: %s
logging:
  level: error
`, baseURL, outputRoot))
}

func jobServer(t *testing.T, pollBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("POST /job", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"job-7"}`))
	})
	mux.HandleFunc("GET /job/job-7", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(pollBody))
	})
	mux.HandleFunc("GET /media/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("video"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func sessionDirs(t *testing.T, root string) []string {
	t.Helper()
	dirs, err := filepath.Glob(filepath.Join(root, "crawl_*"))
	require.NoError(t, err)
	return dirs
}

func TestRunCommandArchivesCompletedJob(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("POST /job", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"jobId":"job-7"}`))
	})
	mux.HandleFunc("GET /job/job-7", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, `{"state":"completed","pages":[{"url":"%s/lessons/video","title":"Video lesson","textContent":"watch %s/media/clip.mp4"}]}`,
			srv.URL, srv.URL)
	})
	mux.HandleFunc("GET /media/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("video"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	root := t.TempDir()
	cfgPath := writeConfig(t, srv.URL, root)
	specPath := writeFile(t, t.TempDir(), "job.json", fmt.Sprintf(`{"target": %q, "pageLimit": 5}`, srv.URL))

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"run", "--config", cfgPath, "--spec", specPath}, &stdout, &stderr)
	require.Equal(t, ExitOK, code, stderr.String())

	dirs := sessionDirs(t, root)
	require.Len(t, dirs, 1)
	assert.Contains(t, stdout.String(), "completed "+dirs[0])
	for _, rel := range []string{
		"reports/final_report.json",
		"reports/summary_report.txt",
		"reports/media_download_report.json",
		"reports/crawl_start.json",
		"raw_data/complete_crawl_result.json",
		"content/lessons/lessons_content.json",
		"video/clip.mp4",
	} {
		_, err := os.Stat(filepath.Join(dirs[0], filepath.FromSlash(rel)))
		assert.NoError(t, err, rel)
	}
}

func TestRunCommandExitCodes(t *testing.T) {
	t.Parallel()

	t.Run("service failure", func(t *testing.T) {
		t.Parallel()
		srv := jobServer(t, `{"state":"failed","error":"robots.txt disallows target"}`)
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), []string{"run", "--config", writeConfig(t, srv.URL, t.TempDir())},
			&stdout, &stderr)
		// The config file carries no job target.
		assert.Equal(t, ExitConfig, code)

		specPath := writeFile(t, t.TempDir(), "job.json", fmt.Sprintf(`{"target": %q}`, srv.URL))
		stderr.Reset()
		code = execute(context.Background(), []string{"run", "--config", writeConfig(t, srv.URL, t.TempDir()), "--spec", specPath},
			&stdout, &stderr)
		assert.Equal(t, ExitServiceFailure, code)
		assert.Contains(t, stderr.String(), "robots.txt disallows target")
	})

	t.Run("abandoned", func(t *testing.T) {
		t.Parallel()
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		t.Cleanup(srv.Close)
		specPath := writeFile(t, t.TempDir(), "job.json", `{"target": "https://www.talkenglish.com"}`)
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), []string{"run", "--config", writeConfig(t, srv.URL, t.TempDir()), "--spec", specPath},
			&stdout, &stderr)
		assert.Equal(t, ExitAbandoned, code)
	})

	t.Run("bad spec", func(t *testing.T) {
		t.Parallel()
		srv := jobServer(t, `{}`)
		specPath := writeFile(t, t.TempDir(), "job.json", `{"target": "talkenglish.com"}`)
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), []string{"run", "--config", writeConfig(t, srv.URL, t.TempDir()), "--spec", specPath},
			&stdout, &stderr)
		assert.Equal(t, ExitConfig, code)
	})

	t.Run("missing config file", func(t *testing.T) {
		t.Parallel()
		var stdout, stderr bytes.Buffer
		code := execute(context.Background(), []string{"run", "--config", filepath.Join(t.TempDir(), "nope.yaml")},
			&stdout, &stderr)
		assert.Equal(t, ExitConfig, code)
	})
}

func TestReportCommandRebuildsSession(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	resultPath := writeFile(t, t.TempDir(), "complete_crawl_result.json",
		`{"state":"completed","pages":[{"url":"https://x.com/travel/airport","title":"At the airport","textContent":"boarding pass please"}]}`)

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{
		"report", "--config", writeConfig(t, "http://localhost:3002", root), "--result", resultPath, "--job-id", "job-old",
	}, &stdout, &stderr)
	require.Equal(t, ExitOK, code, stderr.String())

	dirs := sessionDirs(t, root)
	require.Len(t, dirs, 1)
	summary, err := os.ReadFile(filepath.Join(dirs[0], "reports", "summary_report.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "Job ID: job-old")
	assert.Contains(t, string(summary), "travel: 1 pages")

	stderr.Reset()
	code = execute(context.Background(), []string{"report", "--config", writeConfig(t, "http://localhost:3002", root)},
		&stdout, &stderr)
	assert.Equal(t, ExitConfig, code)
}

func TestServiceInitFailureIsUnexpected(t *testing.T) {
	orig := newApp
	t.Cleanup(func() { newApp = orig })
	newApp = func(context.Context, config.Config, *zap.Logger) (*app.App, error) {
		return nil, errors.New("connect postgres: connection refused")
	}

	var stdout, stderr bytes.Buffer
	code := execute(context.Background(), []string{"report", "--config", writeConfig(t, "http://localhost:3002", t.TempDir())},
		&stdout, &stderr)
	assert.Equal(t, ExitUnexpected, code)
	assert.Contains(t, stderr.String(), "connection refused")
}
