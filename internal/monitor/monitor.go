// Package monitor drives one crawl job from submission to a terminal state.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/metrics"
)

// Config tunes the poll loop.
type Config struct {
	PollInterval time.Duration
	// MaxTransportFailures is the number of consecutive failed polls that
	// abandon the job.
	MaxTransportFailures int
	// RetryBackoff is the first wait after a failed poll. Later waits double,
	// capped at PollInterval.
	RetryBackoff time.Duration
}

// Observer receives the monitor's incremental output.
type Observer interface {
	// OnBatch is called with pages not seen in any earlier poll.
	OnBatch(ctx context.Context, pages []crawler.Page)
	// OnTransition is called once per state change.
	OnTransition(from, to crawler.MonitorState)
}

// Result describes how the job ended.
type Result struct {
	JobID      string
	Submission crawler.Submission
	State      crawler.MonitorState
	// Final is the authoritative status of a completed job.
	Final crawler.JobStatus
	Polls int
}

// Monitor is a polling state machine over crawler.JobService. A Monitor runs
// one job; create a new one per job.
type Monitor struct {
	svc      crawler.JobService
	cfg      Config
	observer Observer
	logger   *zap.Logger
	retry    *crawler.ExponentialRetryPolicy
	sleep    func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state crawler.MonitorState
	jobID string
}

// New builds a Monitor in the Submitted state.
func New(svc crawler.JobService, cfg Config, observer Observer, logger *zap.Logger) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.MaxTransportFailures <= 0 {
		cfg.MaxTransportFailures = 5
	}
	if cfg.RetryBackoff <= 0 || cfg.RetryBackoff > cfg.PollInterval {
		cfg.RetryBackoff = cfg.PollInterval
	}
	if observer == nil {
		observer = nopObserver{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Monitor{
		svc:      svc,
		cfg:      cfg,
		observer: observer,
		logger:   logger,
		retry:    crawler.NewExponentialRetryPolicy(cfg.MaxTransportFailures, cfg.RetryBackoff, cfg.PollInterval),
		sleep:    sleepCtx,
		state:    crawler.MonitorSubmitted,
	}
}

// State returns the current state.
func (m *Monitor) State() crawler.MonitorState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// JobID returns the service-issued id, empty until submission succeeds.
func (m *Monitor) JobID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobID
}

// Run submits spec and polls until the job reaches a terminal state.
//
// It returns a nil error only for Completed. Failed yields a
// *crawler.ServiceFailureError; Abandoned yields an error wrapping
// crawler.ErrAbandoned. A submission that never succeeds also abandons the job.
func (m *Monitor) Run(ctx context.Context, spec crawler.JobSpec) (Result, error) {
	started := time.Now()
	sub, err := m.svc.Submit(ctx, spec)
	if err != nil {
		m.transition(crawler.MonitorAbandoned)
		return Result{State: crawler.MonitorAbandoned}, fmt.Errorf("%w: submission failed: %w", crawler.ErrAbandoned, err)
	}
	m.mu.Lock()
	m.jobID = sub.JobID
	m.mu.Unlock()
	m.logger.Info("crawl job submitted", zap.String("job_id", sub.JobID))
	m.transition(crawler.MonitorPolling)

	res := Result{JobID: sub.JobID, Submission: sub}
	seen := make(map[string]struct{})
	failures := 0
	for {
		status, err := m.svc.Poll(ctx, sub.JobID)
		res.Polls++
		if err != nil {
			metrics.ObservePoll("error")
			if ctx.Err() != nil {
				return m.abandon(res, fmt.Errorf("%w: %w", crawler.ErrAbandoned, ctx.Err()))
			}
			failures++
			if failures >= m.cfg.MaxTransportFailures {
				m.logger.Error("job service unreachable; abandoning job",
					zap.String("job_id", sub.JobID),
					zap.Int("consecutive_failures", failures),
					zap.Error(err),
				)
				return m.abandon(res, fmt.Errorf("%w: %d consecutive poll failures: %w",
					crawler.ErrAbandoned, failures, err))
			}
			delay := m.retry.Backoff(failures - 1)
			m.logger.Warn("poll failed; retrying",
				zap.String("job_id", sub.JobID),
				zap.Int("consecutive_failures", failures),
				zap.Duration("backoff", delay),
				zap.Error(err),
			)
			if err := m.sleep(ctx, delay); err != nil {
				return m.abandon(res, fmt.Errorf("%w: %w", crawler.ErrAbandoned, err))
			}
			continue
		}
		metrics.ObservePoll("ok")
		failures = 0

		switch status.State {
		case crawler.JobStateCompleted:
			if !m.transition(crawler.MonitorCompleted) {
				return res, errors.New("monitor already terminal")
			}
			res.State = crawler.MonitorCompleted
			res.Final = status
			metrics.SetPagesSeen(countDistinct(status.Pages))
			m.logger.Info("crawl job completed",
				zap.String("job_id", sub.JobID),
				zap.Int("pages_total", len(status.Pages)),
				zap.Duration("elapsed", time.Since(started)),
			)
			return res, nil
		case crawler.JobStateFailed:
			m.transition(crawler.MonitorFailed)
			res.State = crawler.MonitorFailed
			m.logger.Error("crawl job failed",
				zap.String("job_id", sub.JobID),
				zap.String("service_error", status.Error),
			)
			return res, &crawler.ServiceFailureError{Message: status.Error}
		case crawler.JobStateScraping:
		default:
			m.logger.Warn("unknown job state; treating as in progress",
				zap.String("job_id", sub.JobID),
				zap.String("state", string(status.State)),
			)
		}

		fresh := Diff(seen, status.Pages)
		metrics.SetPagesSeen(len(seen))
		m.logger.Info("crawl in progress",
			zap.String("job_id", sub.JobID),
			zap.Int("pages_total", len(seen)),
			zap.Int("pages_new", len(fresh)),
			zap.Duration("elapsed", time.Since(started)),
		)
		if len(fresh) > 0 {
			m.observer.OnBatch(ctx, fresh)
		}
		if err := m.sleep(ctx, m.cfg.PollInterval); err != nil {
			return m.abandon(res, fmt.Errorf("%w: %w", crawler.ErrAbandoned, err))
		}
	}
}

// Diff returns the pages whose key is not in seen, in arrival order, and adds
// them to seen. Pages are keyed by URL rather than list position; only pages
// without a URL fall back to their position (see crawler.PageKey).
func Diff(seen map[string]struct{}, pages []crawler.Page) []crawler.Page {
	var fresh []crawler.Page
	for i, page := range pages {
		key := crawler.PageKey(page, i)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		fresh = append(fresh, page)
	}
	return fresh
}

func (m *Monitor) abandon(res Result, err error) (Result, error) {
	m.transition(crawler.MonitorAbandoned)
	res.State = crawler.MonitorAbandoned
	return res, err
}

// transition moves to "to" unless the monitor is already terminal.
func (m *Monitor) transition(to crawler.MonitorState) bool {
	m.mu.Lock()
	from := m.state
	if from.Terminal() || from == to {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	metrics.ObserveTransition(string(to))
	m.logger.Debug("monitor transition", zap.String("from", string(from)), zap.String("to", string(to)))
	m.observer.OnTransition(from, to)
	return true
}

func countDistinct(pages []crawler.Page) int {
	urls := make(map[string]struct{}, len(pages))
	for i, p := range pages {
		urls[crawler.PageKey(p, i)] = struct{}{}
	}
	return len(urls)
}

type nopObserver struct{}

func (nopObserver) OnBatch(context.Context, []crawler.Page) {}
func (nopObserver) OnTransition(_, _ crawler.MonitorState)  {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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
