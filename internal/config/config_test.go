package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-archiver/internal/classify"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.yaml", `
job_service:
  base_url: https://crawler.internal:8443
  timeout: 10s
  submit_attempts: 5
  headers:
    Authorization: Bearer abc
monitor:
  poll_interval: 15s
  max_transport_failures: 3
archiver:
  concurrency: 4
  pacing: 250ms
  user_agent: archive-bot
output:
  root: /data/archive
  session_prefix: talk
categories: [grammar, travel]
job:
  target: https://www.talkenglish.com
  page_limit: 50
  include_paths: ["/lessons/*"]
  render_options:
    wait_for_ms: 1000
    headers:
      Accept-Language: en
logging:
  development: true
server:
  port: 9090
storage:
  gcs_bucket: archive-bucket
  prefix: sessions
pubsub:
  project_id: proj
  topic_name: archive-sessions
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://crawler.internal:8443", cfg.JobService.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.JobService.Timeout)
	assert.Equal(t, 5, cfg.JobService.SubmitAttempts)
	assert.Equal(t, "Bearer abc", cfg.JobService.Headers["authorization"])
	assert.Equal(t, 15*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 3, cfg.Monitor.MaxTransportFailures)
	assert.Equal(t, 4, cfg.Archiver.Concurrency)
	assert.Equal(t, 250*time.Millisecond, cfg.Archiver.Pacing)
	assert.Equal(t, "archive-bot", cfg.Archiver.UserAgent)
	assert.Equal(t, "/data/archive", cfg.Output.Root)
	assert.Equal(t, "talk", cfg.Output.SessionPrefix)
	assert.Equal(t, []string{"grammar", "travel"}, cfg.Categories)
	assert.Equal(t, "https://www.talkenglish.com", cfg.Job.Target)
	assert.Equal(t, 50, cfg.Job.PageLimit)
	assert.Equal(t, 3, cfg.Job.MaxDepth)
	assert.Equal(t, []string{"/lessons/*"}, cfg.Job.IncludePaths)
	assert.Equal(t, 1000, cfg.Job.RenderOptions.WaitForMs)
	assert.Equal(t, 30000, cfg.Job.RenderOptions.TimeoutMs)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "archive-bucket", cfg.Storage.GCSBucket)
	assert.Equal(t, "archive-sessions", cfg.PubSub.TopicName)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3002", cfg.JobService.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.JobService.Timeout)
	assert.Equal(t, 3, cfg.JobService.SubmitAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.JobService.BackoffInitial)
	assert.Equal(t, 10*time.Second, cfg.JobService.BackoffMax)
	assert.Equal(t, 60*time.Second, cfg.Monitor.PollInterval)
	assert.Equal(t, 5, cfg.Monitor.MaxTransportFailures)
	assert.Equal(t, 2, cfg.Archiver.Concurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Archiver.Pacing)
	assert.Equal(t, 60*time.Second, cfg.Archiver.Timeout)
	assert.Zero(t, cfg.Processing.Workers)
	assert.Equal(t, "results", cfg.Output.Root)
	assert.Equal(t, "crawl", cfg.Output.SessionPrefix)
	assert.Equal(t, classify.DefaultCategories, cfg.Categories)
	assert.Zero(t, cfg.Server.Port)
	assert.Equal(t, "download_outcomes", cfg.DB.Table)
	assert.Empty(t, cfg.Job.Target)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARCHIVER_ARCHIVER_CONCURRENCY", "7")
	t.Setenv("ARCHIVER_JOB_TARGET", "https://env.example")
	t.Setenv("ARCHIVER_MONITOR_POLL_INTERVAL", "2s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Archiver.Concurrency)
	assert.Equal(t, "https://env.example", cfg.Job.Target)
	assert.Equal(t, 2*time.Second, cfg.Monitor.PollInterval)
}

func TestLoadErrorsAreConfigErrors(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrConfig)

	path := writeFile(t, "bad.yaml", "archiver:\n  concurrency: 0\n")
	_, err = Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, crawler.ErrConfig)
	assert.Contains(t, err.Error(), "archiver.concurrency")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"relative base url", func(c *Config) { c.JobService.BaseURL = "localhost:3002" }, "job_service.base_url"},
		{"zero timeout", func(c *Config) { c.JobService.Timeout = 0 }, "job_service.timeout"},
		{"zero submit attempts", func(c *Config) { c.JobService.SubmitAttempts = 0 }, "submit_attempts"},
		{"zero poll interval", func(c *Config) { c.Monitor.PollInterval = 0 }, "monitor.poll_interval"},
		{"zero failures", func(c *Config) { c.Monitor.MaxTransportFailures = 0 }, "max_transport_failures"},
		{"negative pacing", func(c *Config) { c.Archiver.Pacing = -time.Second }, "archiver.pacing"},
		{"negative workers", func(c *Config) { c.Processing.Workers = -1 }, "processing.workers"},
		{"blank root", func(c *Config) { c.Output.Root = " " }, "output.root"},
		{"no categories", func(c *Config) { c.Categories = nil }, "categories"},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"topic without project", func(c *Config) { c.PubSub.TopicName = "t" }, "pubsub.project_id"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			cfg.Categories = append([]string(nil), base.Categories...)
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, crawler.ErrConfig)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestValidateLeavesJobToJobSpec(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.Job.Target)
	assert.NoError(t, cfg.Validate())
	assert.ErrorIs(t, cfg.Job.Validate(), crawler.ErrConfig)
}

func TestLoadJobSpec(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "job.json", `{
  "target": "https://www.talkenglish.com",
  "pageLimit": 200,
  "maxDepth": 4,
  "includePaths": ["/lessons/*"],
  "excludePaths": ["/login"],
  "renderOptions": {"waitForMs": 1500, "timeoutMs": 20000, "headers": {"User-Agent": "x"}}
}`)
	spec, err := LoadJobSpec(path)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobSpec{
		Target:       "https://www.talkenglish.com",
		PageLimit:    200,
		MaxDepth:     4,
		IncludePaths: []string{"/lessons/*"},
		ExcludePaths: []string{"/login"},
		RenderOptions: crawler.RenderOptions{
			WaitForMs: 1500,
			TimeoutMs: 20000,
			Headers:   map[string]string{"User-Agent": "x"},
		},
	}, spec)
}

func TestLoadJobSpecRejectsBadInput(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"malformed":     `{"target": `,
		"unknown field": `{"target": "https://x.com", "pageLimt": 3}`,
		"missing url":   `{"pageLimit": 3}`,
		"relative url":  `{"target": "/lessons"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadJobSpec(writeFile(t, "job.json", body))
			require.Error(t, err)
			assert.ErrorIs(t, err, crawler.ErrConfig)
		})
	}

	_, err := LoadJobSpec(filepath.Join(t.TempDir(), "absent.json"))
	assert.ErrorIs(t, err, crawler.ErrConfig)
}
