// Package archiver downloads discovered media into the session directory tree.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/metrics"
	"github.com/JakeFAU/crawl-archiver/internal/policy/ratelimit"
)

// DefaultUserAgent mimics a desktop browser; some media hosts refuse bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Config controls download concurrency, pacing and request shape.
type Config struct {
	Concurrency int
	// Pacing is the minimum spacing between two downloads of one worker.
	Pacing time.Duration
	// Timeout bounds a single download, including streaming the body.
	Timeout   time.Duration
	UserAgent string
	// Referer is sent when a reference has no source page.
	Referer string
}

// Archiver implements the archive step for media references.
type Archiver struct {
	client  *http.Client
	layout  crawler.Layout
	cfg     Config
	clock   crawler.Clock
	limiter *ratelimit.Limiter
	logger  *zap.Logger

	// claimMu serializes name claims per kind directory.
	claimMu map[crawler.MediaKind]*sync.Mutex
}

// New builds an Archiver writing under layout. A nil client uses
// http.DefaultClient; per-download deadlines come from cfg.Timeout.
func New(layout crawler.Layout, cfg Config, client *http.Client, clock crawler.Clock, logger *zap.Logger) *Archiver {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	locks := make(map[crawler.MediaKind]*sync.Mutex, len(crawler.MediaKinds))
	for _, kind := range crawler.MediaKinds {
		locks[kind] = &sync.Mutex{}
	}
	metrics.Init()
	return &Archiver{
		client:  client,
		layout:  layout,
		cfg:     cfg,
		clock:   clock,
		limiter: ratelimit.New(ratelimit.Config{Interval: cfg.Pacing, Burst: 1}),
		logger:  logger,
		claimMu: locks,
	}
}

// PrepareDirs creates the per-kind asset directories.
func (a *Archiver) PrepareDirs() error {
	for _, kind := range crawler.MediaKinds {
		if err := os.MkdirAll(a.layout.KindDir(kind), 0o750); err != nil {
			return fmt.Errorf("create %s directory: %w", kind.Dir(), err)
		}
	}
	return nil
}

// ArchiveAll downloads every reference once on a bounded worker pool. Each
// worker paces its own requests. Outcomes are returned in input order; a
// reference left unattempted because ctx ended is reported as failed.
func (a *Archiver) ArchiveAll(ctx context.Context, refs []crawler.MediaReference) []crawler.DownloadOutcome {
	outcomes := make([]crawler.DownloadOutcome, len(refs))
	attempted := make([]bool, len(refs))
	if len(refs) == 0 {
		return outcomes
	}

	workers := min(a.cfg.Concurrency, len(refs))
	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			for i := range jobs {
				if err := a.limiter.Wait(ctx, key); err != nil {
					continue
				}
				outcomes[i] = a.Archive(ctx, refs[i])
				attempted[i] = true
			}
		}(fmt.Sprintf("worker-%d", w))
	}

feed:
	for i := range refs {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	for i, ok := range attempted {
		if !ok {
			outcomes[i] = crawler.DownloadOutcome{
				Reference: refs[i],
				Error:     fmt.Sprintf("not attempted: %v", context.Cause(ctx)),
			}
		}
	}
	return outcomes
}

// Archive downloads one reference. Failures are reported in the outcome and
// never retried.
func (a *Archiver) Archive(ctx context.Context, ref crawler.MediaReference) crawler.DownloadOutcome {
	start := time.Now()
	outcome := crawler.DownloadOutcome{Reference: ref}
	name, fullPath, size, err := a.download(ctx, ref)
	outcome.Duration = time.Since(start)

	result := "success"
	if err != nil {
		result = "failed"
		outcome.Error = err.Error()
		a.logger.Warn("media download failed",
			zap.String("kind", string(ref.Kind)),
			zap.String("url", ref.CanonicalURL),
			zap.Error(err),
		)
	} else {
		outcome.LocalFilename = name
		outcome.LocalPath = fullPath
		outcome.ByteSize = size
		a.logger.Debug("media downloaded",
			zap.String("kind", string(ref.Kind)),
			zap.String("url", ref.CanonicalURL),
			zap.String("file", name),
			zap.Int64("bytes", size),
			zap.Duration("duration", outcome.Duration),
		)
	}
	metrics.ObserveDownload(ref.CanonicalURL, string(ref.Kind), result, size, outcome.Duration)
	return outcome
}

func (a *Archiver) download(ctx context.Context, ref crawler.MediaReference) (string, string, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.CanonicalURL, nil)
	if err != nil {
		return "", "", 0, fmt.Errorf("build request: %w", err)
	}
	a.setHeaders(req, ref)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", "", 0, fmt.Errorf("request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			a.logger.Debug("close response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", "", 0, fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	dir := a.layout.KindDir(ref.Kind)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", "", 0, fmt.Errorf("create directory: %w", err)
	}
	f, name, err := a.claim(ref.Kind, dir, FileName(ref, a.clock.Now()))
	if err != nil {
		return "", "", 0, err
	}
	fullPath := filepath.Join(dir, name)

	metrics.IncActiveDownloads()
	n, copyErr := io.Copy(f, resp.Body)
	metrics.DecActiveDownloads()
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		if rmErr := os.Remove(fullPath); rmErr != nil {
			a.logger.Warn("remove partial download", zap.String("path", fullPath), zap.Error(rmErr))
		}
		return "", "", 0, fmt.Errorf("write %s: %w", name, err)
	}
	return name, fullPath, n, nil
}

// claim creates the first free variant of name in dir: name, stem_1.ext,
// stem_2.ext and so on. O_EXCL makes the claim atomic against other
// processes; the per-kind mutex keeps this process's workers from racing.
func (a *Archiver) claim(kind crawler.MediaKind, dir, name string) (*os.File, string, error) {
	mu := a.claimMu[kind]
	mu.Lock()
	defer mu.Unlock()

	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 0; ; n++ {
		candidate := name
		if n > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		f, err := os.OpenFile(filepath.Join(dir, candidate), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			return f, candidate, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", fmt.Errorf("create file: %w", err)
		}
	}
}

func (a *Archiver) setHeaders(req *http.Request, ref crawler.MediaReference) {
	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Accept", acceptFor(ref.Kind))
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	referer := ref.SourcePageURL
	if referer == "" {
		referer = a.cfg.Referer
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
}

func acceptFor(kind crawler.MediaKind) string {
	switch kind {
	case crawler.KindAudio:
		return "audio/*,*/*;q=0.8"
	case crawler.KindVideo:
		return "video/*,*/*;q=0.8"
	default:
		return "image/avif,image/webp,image/*,*/*;q=0.8"
	}
}

// FileName derives the local name for ref: the last URL path segment when it
// carries an extension, otherwise <kind>_<unix seconds><default extension>.
func FileName(ref crawler.MediaReference, now time.Time) string {
	if u, err := url.Parse(ref.CanonicalURL); err == nil {
		base := path.Base(u.Path)
		ext := path.Ext(base)
		if ext != "" && ext != "." && ext != base && !strings.HasPrefix(base, ".") {
			return base
		}
	}
	return fmt.Sprintf("%s_%d%s", ref.Kind, now.Unix(), ref.Kind.DefaultExt())
}
