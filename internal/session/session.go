// Package session runs one archive session: it drives the crawl job through
// the monitor, keeps live counters from interim batches and, once the job has
// completed, builds the archive from the authoritative final page set.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/archiver"
	"github.com/JakeFAU/crawl-archiver/internal/classify"
	"github.com/JakeFAU/crawl-archiver/internal/clock"
	"github.com/JakeFAU/crawl-archiver/internal/corpus"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/jobservice"
	"github.com/JakeFAU/crawl-archiver/internal/metrics"
	"github.com/JakeFAU/crawl-archiver/internal/monitor"
	"github.com/JakeFAU/crawl-archiver/internal/report"
	"github.com/JakeFAU/crawl-archiver/internal/storage"
	"github.com/JakeFAU/crawl-archiver/internal/storage/local"
)

// Config shapes one session.
type Config struct {
	OutputRoot    string
	SessionPrefix string
	// ConfigSource names where the job specification came from.
	ConfigSource string
	Categories   []string
	Workers      int
	Monitor      monitor.Config
	Archiver     archiver.Config
	Topic        string
}

// Deps are the session's optional collaborators. Nil fields disable the
// matching feature.
type Deps struct {
	HTTPClient *http.Client
	Clock      crawler.Clock
	// Mirror returns a secondary store for the named session directory.
	Mirror    func(sessionName string) crawler.BlobStore
	Outcomes  crawler.OutcomeStore
	Publisher crawler.Publisher
}

// Outcome summarizes a finished session.
type Outcome struct {
	SessionID  string
	JobID      string
	State      crawler.MonitorState
	SessionDir string
	Report     *report.FinalReport
}

// Event is published when a session reaches a terminal state.
type Event struct {
	SessionID  string               `json:"session_id"`
	JobID      string               `json:"job_id,omitempty"`
	State      crawler.MonitorState `json:"state"`
	SessionDir string               `json:"session_dir,omitempty"`
	Pages      int                  `json:"pages"`
	Downloaded int                  `json:"downloaded"`
	Failed     int                  `json:"failed"`
	Error      string               `json:"error,omitempty"`
	FinishedAt time.Time            `json:"finished_at"`
}

// Session orchestrates one job. It implements monitor.Observer and
// api.StatusSource.
type Session struct {
	id        string
	cfg       Config
	svc       crawler.JobService
	deps      Deps
	processor *corpus.Processor
	live      *corpus.Corpus
	logger    *zap.Logger

	mu     sync.Mutex
	mon    *monitor.Monitor
	status crawler.SessionStatus
}

// New creates a session with a fresh time-ordered ID.
func New(cfg Config, svc crawler.JobService, deps Deps, logger *zap.Logger) (*Session, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	if cfg.OutputRoot == "" {
		return nil, crawler.NewConfigError("output root is required")
	}
	if len(cfg.Categories) == 0 {
		cfg.Categories = classify.DefaultCategories
	}
	if deps.Clock == nil {
		deps.Clock = clock.NewSystem()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Session{
		id:     id.String(),
		cfg:    cfg,
		svc:    svc,
		deps:   deps,
		live:   corpus.New(),
		logger: logger.Named("session").With(zap.String("session_id", id.String())),
	}
	s.processor = corpus.NewProcessor(classify.New(cfg.Categories), cfg.Workers, "")
	s.status = crawler.SessionStatus{SessionID: s.id, MediaFound: s.live.Found()}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Status returns a snapshot of the live counters.
func (s *Session) Status() crawler.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.MediaFound = make(map[crawler.MediaKind]int, len(s.status.MediaFound))
	for k, v := range s.status.MediaFound {
		st.MediaFound[k] = v
	}
	return st
}

// OnBatch folds interim pages into the live corpus. Interim data only feeds
// counters; nothing persisted is derived from it.
func (s *Session) OnBatch(ctx context.Context, pages []crawler.Page) {
	added, err := s.processor.Ingest(ctx, s.live, pages)
	if err != nil {
		s.logger.Warn("interim batch not processed", zap.Int("pages", len(pages)), zap.Error(err))
		return
	}
	perKind := make(map[crawler.MediaKind]int)
	for _, ref := range added {
		perKind[ref.Kind]++
	}
	for kind, n := range perKind {
		metrics.AddMediaFound(string(kind), n)
	}
	found := s.live.Found()
	s.mu.Lock()
	s.status.PagesSeen = s.live.PageCount()
	s.status.MediaFound = found
	s.mu.Unlock()
	s.logger.Info("interim batch processed",
		zap.Int("pages_new", len(pages)),
		zap.Int("pages_total", s.live.PageCount()),
		zap.Int("audio_found", found[crawler.KindAudio]),
		zap.Int("video_found", found[crawler.KindVideo]),
		zap.Int("images_found", found[crawler.KindImage]),
	)
}

// OnTransition mirrors the monitor state into the status snapshot.
func (s *Session) OnTransition(_, to crawler.MonitorState) {
	s.mu.Lock()
	s.status.State = to
	mon := s.mon
	s.mu.Unlock()
	if mon == nil {
		return
	}
	if id := mon.JobID(); id != "" {
		s.setJobID(id)
	}
}

// Run validates spec, drives the job to a terminal state and, on completion,
// archives and reports the final page set. The error follows the crawler
// error taxonomy; Outcome is always populated.
func (s *Session) Run(ctx context.Context, spec crawler.JobSpec) (*Outcome, error) {
	if err := spec.Validate(); err != nil {
		return s.outcome(nil, crawler.Layout{}), err
	}
	started := s.begin()
	layout, err := crawler.ClaimLayout(s.cfg.OutputRoot, s.cfg.SessionPrefix, started)
	if err != nil {
		return s.outcome(nil, crawler.Layout{}), err
	}
	store, err := s.openStore(layout)
	if err != nil {
		return s.outcome(nil, layout), err
	}
	reporter := report.New(store, layout, s.deps.Clock, s.logger)

	mon := monitor.New(s.svc, s.cfg.Monitor, s, s.logger)
	s.mu.Lock()
	s.mon = mon
	s.mu.Unlock()
	s.logger.Info("archive session started",
		zap.String("target", spec.Target),
		zap.String("session_dir", layout.Root),
	)
	res, runErr := mon.Run(ctx, spec)
	if res.JobID != "" {
		s.setJobID(res.JobID)
	}
	if len(res.Submission.Raw) > 0 {
		if err := reporter.WriteRaw(ctx, crawler.CrawlStartPath, res.Submission.Raw); err != nil {
			s.logger.Warn("crawl start response not saved", zap.Error(err))
		}
	}
	if runErr != nil {
		s.fail(runErr)
		out := s.outcome(nil, layout)
		s.publish(ctx, out, runErr)
		return out, runErr
	}

	final, err := s.finalize(ctx, layout, reporter, res.Final, started)
	out := s.outcome(final, layout)
	if err != nil {
		s.fail(err)
	}
	s.publish(ctx, out, err)
	return out, err
}

// Replay rebuilds a session from a saved complete_crawl_result.json without
// contacting the job service.
func (s *Session) Replay(ctx context.Context, raw []byte, jobID string) (*Outcome, error) {
	status, issues, err := jobservice.DecodeStatus(raw)
	if err != nil {
		return s.outcome(nil, crawler.Layout{}), crawler.NewConfigError("parse saved crawl result: %v", err)
	}
	if status.State != "" && status.State != crawler.JobStateCompleted {
		return s.outcome(nil, crawler.Layout{}), crawler.NewConfigError("saved crawl result is %q, not completed", status.State)
	}
	for _, issue := range issues {
		s.logger.Warn("malformed page in saved crawl result",
			zap.Int("index", issue.Index),
			zap.Bool("dropped", issue.Dropped),
			zap.Error(issue.Err),
		)
	}

	started := s.begin()
	s.setJobID(jobID)
	layout, err := crawler.ClaimLayout(s.cfg.OutputRoot, s.cfg.SessionPrefix, started)
	if err != nil {
		return s.outcome(nil, crawler.Layout{}), err
	}
	store, err := s.openStore(layout)
	if err != nil {
		return s.outcome(nil, layout), err
	}
	reporter := report.New(store, layout, s.deps.Clock, s.logger)
	s.OnTransition(crawler.MonitorSubmitted, crawler.MonitorCompleted)

	final, err := s.finalize(ctx, layout, reporter, status, started)
	out := s.outcome(final, layout)
	if err != nil {
		s.fail(err)
	}
	s.publish(ctx, out, err)
	return out, err
}

func (s *Session) begin() time.Time {
	started := s.deps.Clock.Now()
	s.mu.Lock()
	s.status.StartedAt = started
	s.status.State = crawler.MonitorSubmitted
	s.mu.Unlock()
	return started
}

func (s *Session) openStore(layout crawler.Layout) (crawler.BlobStore, error) {
	primary, err := local.New(local.Config{BaseDir: layout.Root})
	if err != nil {
		return nil, fmt.Errorf("prepare session directory: %w", err)
	}
	var secondary crawler.BlobStore
	if s.deps.Mirror != nil {
		secondary = s.deps.Mirror(filepath.Base(layout.Root))
	}
	return storage.NewMirror(primary, secondary, s.logger), nil
}

// finalize is the single persisted path: raw result, final corpus, downloads,
// outcome rows, reports.
func (s *Session) finalize(
	ctx context.Context,
	layout crawler.Layout,
	reporter *report.Reporter,
	final crawler.JobStatus,
	started time.Time,
) (*report.FinalReport, error) {
	raw := final.Raw
	if len(raw) == 0 {
		encoded, err := json.Marshal(final)
		if err != nil {
			return nil, fmt.Errorf("encode final result: %w", err)
		}
		raw = encoded
	}
	if err := reporter.WriteRaw(ctx, crawler.RawResultPath, raw); err != nil {
		return nil, err
	}

	c := corpus.New()
	if _, err := s.processor.Ingest(ctx, c, final.Pages); err != nil {
		return nil, fmt.Errorf("process final pages: %w", err)
	}
	pages := c.Pages()
	refs := c.References()
	for _, page := range pages {
		metrics.ObservePageProcessed(page.Category)
	}
	found := c.Found()
	s.mu.Lock()
	s.status.PagesSeen = len(pages)
	s.status.MediaFound = found
	s.mu.Unlock()

	arch := archiver.New(layout, s.cfg.Archiver, s.deps.HTTPClient, s.deps.Clock, s.logger)
	if err := arch.PrepareDirs(); err != nil {
		return nil, err
	}
	s.logger.Info("archiving media",
		zap.Int("audio", found[crawler.KindAudio]),
		zap.Int("video", found[crawler.KindVideo]),
		zap.Int("images", found[crawler.KindImage]),
	)
	outcomes := arch.ArchiveAll(ctx, refs)

	if s.deps.Outcomes != nil {
		if err := s.deps.Outcomes.RecordOutcomes(ctx, s.id, outcomes); err != nil {
			s.logger.Warn("download outcomes not recorded", zap.Error(err))
		}
	}

	return reporter.Write(ctx, report.Input{
		SessionID:    s.id,
		JobID:        s.jobID(),
		ConfigSource: s.cfg.ConfigSource,
		StartedAt:    started,
		Pages:        pages,
		Categories:   s.processor.Classifier().Categories(),
		References:   refs,
		Outcomes:     outcomes,
	})
}

func (s *Session) setJobID(id string) {
	s.mu.Lock()
	s.status.JobID = id
	s.mu.Unlock()
}

func (s *Session) jobID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.JobID
}

func (s *Session) fail(err error) {
	s.mu.Lock()
	s.status.Error = err.Error()
	s.mu.Unlock()
}

func (s *Session) outcome(final *report.FinalReport, layout crawler.Layout) *Outcome {
	st := s.Status()
	return &Outcome{
		SessionID:  s.id,
		JobID:      st.JobID,
		State:      st.State,
		SessionDir: layout.Root,
		Report:     final,
	}
}

func (s *Session) publish(ctx context.Context, out *Outcome, runErr error) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	ev := Event{
		SessionID:  out.SessionID,
		JobID:      out.JobID,
		State:      out.State,
		SessionDir: out.SessionDir,
		Pages:      s.Status().PagesSeen,
		FinishedAt: s.deps.Clock.Now(),
	}
	if out.Report != nil {
		for _, n := range out.Report.MediaStats.Downloaded {
			ev.Downloaded += n
		}
		for _, n := range out.Report.MediaStats.Failed {
			ev.Failed += n
		}
	}
	if runErr != nil {
		ev.Error = runErr.Error()
	}
	// A cancelled run still reports its terminal state.
	pubCtx := ctx
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		var cancel context.CancelFunc
		pubCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
	}
	id, err := s.deps.Publisher.Publish(pubCtx, s.cfg.Topic, ev)
	if err != nil {
		s.logger.Warn("session event not published", zap.Error(err))
		return
	}
	s.logger.Info("session event published", zap.String("message_id", id), zap.String("state", string(ev.State)))
}
