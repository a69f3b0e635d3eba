// Package jobservice talks to the external crawl job service over HTTP.
package jobservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

const maxErrorBody = 512

// Config controls the job service client.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	SubmitAttempts int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	Headers        map[string]string
}

// Client implements crawler.JobService.
type Client struct {
	http    *http.Client
	baseURL *url.URL
	headers map[string]string
	retry   *crawler.ExponentialRetryPolicy
	logger  *zap.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New validates cfg and builds a Client. A nil httpClient gets one with
// cfg.Timeout as its per-request deadline.
func New(cfg Config, httpClient *http.Client, logger *zap.Logger) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, crawler.NewConfigError("job_service.base_url must be an absolute URL, got %q", cfg.BaseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		http:    httpClient,
		baseURL: base,
		headers: cfg.Headers,
		retry:   crawler.NewExponentialRetryPolicy(cfg.SubmitAttempts, cfg.BackoffInitial, cfg.BackoffMax),
		logger:  logger,
		sleep:   sleepCtx,
	}, nil
}

type submitResponse struct {
	JobID string `json:"jobId"`
	// ID is accepted from services that name the field "id".
	ID string `json:"id"`
}

// Submit posts spec to /job, retrying transport failures with backoff.
func (c *Client) Submit(ctx context.Context, spec crawler.JobSpec) (crawler.Submission, error) {
	payload, err := json.Marshal(spec)
	if err != nil {
		return crawler.Submission{}, fmt.Errorf("marshal job spec: %w", err)
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		body, err := c.do(ctx, http.MethodPost, c.endpoint("job"), payload)
		if err == nil {
			var resp submitResponse
			if err := json.Unmarshal(body, &resp); err != nil {
				return crawler.Submission{}, fmt.Errorf("%w: decode submit response: %v", crawler.ErrTransport, err)
			}
			jobID := resp.JobID
			if jobID == "" {
				jobID = resp.ID
			}
			if jobID == "" {
				return crawler.Submission{}, fmt.Errorf("%w: submit response carried no job id", crawler.ErrTransport)
			}
			return crawler.Submission{JobID: jobID, Raw: body}, nil
		}
		lastErr = err
		if !c.retry.ShouldRetry(err, attempt) {
			break
		}
		delay := c.retry.Backoff(attempt - 1)
		c.logger.Warn("job submission failed; retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return crawler.Submission{}, fmt.Errorf("submit job: %w", err)
		}
	}
	return crawler.Submission{}, fmt.Errorf("submit job: %w", lastErr)
}

// Poll fetches the current state of jobID. Failing to obtain a response whose
// envelope decodes is reported as crawler.ErrTransport; malformed page records
// are logged and tolerated.
func (c *Client) Poll(ctx context.Context, jobID string) (crawler.JobStatus, error) {
	if strings.TrimSpace(jobID) == "" {
		return crawler.JobStatus{}, errors.New("job id is required")
	}
	body, err := c.do(ctx, http.MethodGet, c.endpoint("job", jobID), nil)
	if err != nil {
		return crawler.JobStatus{}, fmt.Errorf("poll job %s: %w", jobID, err)
	}
	status, issues, err := DecodeStatus(body)
	if err != nil {
		return crawler.JobStatus{}, fmt.Errorf("%w: decode job %s status: %v", crawler.ErrTransport, jobID, err)
	}
	for _, issue := range issues {
		c.logger.Warn("malformed page in job status",
			zap.String("job_id", jobID),
			zap.Int("index", issue.Index),
			zap.Bool("dropped", issue.Dropped),
			zap.Error(issue.Err),
		)
	}
	return status, nil
}

// endpoint appends segments to the base path; String escapes them.
func (c *Client) endpoint(segments ...string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/")
	for _, s := range segments {
		u.Path += "/" + s
	}
	return u.String()
}

// do performs one round trip. Transport errors, timeouts and 5xx answers wrap
// crawler.ErrTransport; 4xx answers do not, since repeating them cannot help.
func (c *Client) do(ctx context.Context, method, target string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s %s: %w", method, target, ctx.Err())
		}
		return nil, fmt.Errorf("%w: %s %s: %v", crawler.ErrTransport, method, target, err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s body: %v", crawler.ErrTransport, target, err)
	}
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: %s %s: status %d: %s",
			crawler.ErrTransport, method, target, resp.StatusCode, truncate(body))
	default:
		return nil, fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, truncate(body))
	}
}

func truncate(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		return s[:maxErrorBody] + "..."
	}
	return s
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
