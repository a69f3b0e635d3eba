package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/metrics"
)

const (
	contentTypeJSON = "application/json"
	contentTypeText = "text/plain; charset=utf-8"
)

// Input is everything the reporter reads. It is only assembled after the job
// reached Completed and archiving finished.
type Input struct {
	SessionID    string
	JobID        string
	ConfigSource string
	StartedAt    time.Time
	Pages        []crawler.ClassifiedPage
	// Categories is the classifier order, "other" included.
	Categories []string
	References []crawler.MediaReference
	Outcomes   []crawler.DownloadOutcome
}

// SessionInfo identifies the run in the final report.
type SessionInfo struct {
	SessionID        string    `json:"session_id"`
	JobID            string    `json:"job_id"`
	Timestamp        string    `json:"timestamp"`
	SessionDirectory string    `json:"session_directory"`
	ConfigSource     string    `json:"config_file"`
	StartedAt        time.Time `json:"started_at"`
	CrawlDuration    string    `json:"crawl_duration"`
}

// MediaStats holds per-kind counters keyed by directory label.
type MediaStats struct {
	Found       map[string]int     `json:"found"`
	Downloaded  map[string]int     `json:"downloaded"`
	Failed      map[string]int     `json:"failed"`
	SuccessRate map[string]float64 `json:"success_rate"`
}

// DirectoryStructure counts what ended up on disk.
type DirectoryStructure struct {
	AudioFiles        int `json:"audio_files"`
	VideoFiles        int `json:"video_files"`
	ImageFiles        int `json:"image_files"`
	ContentCategories int `json:"content_categories"`
}

// FinalReport is reports/final_report.json.
type FinalReport struct {
	SessionInfo        SessionInfo        `json:"session_info"`
	ContentStats       ContentStats       `json:"content_stats"`
	CategoryStats      []CategoryStats    `json:"category_stats"`
	MediaStats         MediaStats         `json:"media_stats"`
	DirectoryStructure DirectoryStructure `json:"directory_structure"`
}

// DownloadedFile is one successful entry of the media report.
type DownloadedFile struct {
	URL         string `json:"url"`
	Filename    string `json:"filename"`
	LocalPath   string `json:"local_path"`
	FileSize    int64  `json:"file_size"`
	SourcePage  string `json:"source_page"`
	SourceTitle string `json:"source_title"`
}

// FailedFile is one failed entry of the media report.
type FailedFile struct {
	URL         string `json:"url"`
	Error       string `json:"error"`
	SourcePage  string `json:"source_page"`
	SourceTitle string `json:"source_title"`
}

// MediaReport is reports/media_download_report.json.
type MediaReport struct {
	Timestamp       string                      `json:"timestamp"`
	TotalFound      map[string]int              `json:"total_found"`
	DownloadStats   map[string]KindStats        `json:"download_stats"`
	DownloadedFiles map[string][]DownloadedFile `json:"downloaded_files"`
	FailedFiles     map[string][]FailedFile     `json:"failed_files"`
}

// Reporter writes session artifacts through a BlobStore rooted at the session
// directory.
type Reporter struct {
	store  crawler.BlobStore
	layout crawler.Layout
	clock  crawler.Clock
	logger *zap.Logger
}

// New creates a Reporter.
func New(store crawler.BlobStore, layout crawler.Layout, clock crawler.Clock, logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Reporter{store: store, layout: layout, clock: clock, logger: logger}
}

// WriteRaw stores a verbatim job service response at rel.
func (r *Reporter) WriteRaw(ctx context.Context, rel string, raw []byte) error {
	return r.put(ctx, rel, contentTypeJSON, raw)
}

// Write emits the per-category content files, the media report, the final
// report and the text summary. It returns the final report.
func (r *Reporter) Write(ctx context.Context, in Input) (*FinalReport, error) {
	written, err := r.writeContent(ctx, in.Pages, in.Categories)
	if err != nil {
		return nil, err
	}

	kinds := KindRollups(in.References, in.Outcomes)
	if err := r.writeJSON(ctx, crawler.MediaReportPath, buildMediaReport(r.layout.Timestamp, kinds, in.Outcomes)); err != nil {
		return nil, err
	}

	final := &FinalReport{
		SessionInfo: SessionInfo{
			SessionID:        in.SessionID,
			JobID:            in.JobID,
			Timestamp:        r.layout.Timestamp,
			SessionDirectory: r.layout.Root,
			ConfigSource:     in.ConfigSource,
			StartedAt:        in.StartedAt,
			CrawlDuration:    r.clock.Now().Sub(in.StartedAt).Round(time.Second).String(),
		},
		ContentStats:       Content(in.Pages),
		CategoryStats:      CategoryRollups(in.Pages, in.Categories),
		MediaStats:         buildMediaStats(kinds),
		DirectoryStructure: r.directoryStructure(written),
	}
	if err := r.writeJSON(ctx, crawler.FinalReportPath, final); err != nil {
		return nil, err
	}
	if err := r.put(ctx, crawler.SummaryReportPath, contentTypeText, []byte(Summary(final))); err != nil {
		return nil, err
	}
	r.logger.Info("reports written",
		zap.String("session_dir", r.layout.Root),
		zap.Int("pages", final.ContentStats.TotalPages),
		zap.Int("content_files", written),
	)
	return final, nil
}

// writeContent stores one file per non-empty bucket and returns how many.
func (r *Reporter) writeContent(ctx context.Context, pages []crawler.ClassifiedPage, categories []string) (int, error) {
	buckets := make(map[string][]crawler.ClassifiedPage, len(categories))
	for _, page := range pages {
		buckets[page.Category] = append(buckets[page.Category], page)
	}
	written := 0
	for _, name := range categories {
		bucket := buckets[name]
		if len(bucket) == 0 {
			continue
		}
		if err := r.writeJSON(ctx, crawler.ContentFile(name), bucket); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

// directoryStructure counts asset files on disk. Content categories fall back
// to the number of files written when the content directory is not local.
func (r *Reporter) directoryStructure(contentWritten int) DirectoryStructure {
	ds := DirectoryStructure{
		AudioFiles: countEntries(r.layout.KindDir(crawler.KindAudio)),
		VideoFiles: countEntries(r.layout.KindDir(crawler.KindVideo)),
		ImageFiles: countEntries(r.layout.KindDir(crawler.KindImage)),
	}
	ds.ContentCategories = countEntries(r.layout.Abs(crawler.ContentDir))
	if ds.ContentCategories == 0 {
		ds.ContentCategories = contentWritten
	}
	return ds
}

func countEntries(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	return len(entries)
}

func (r *Reporter) writeJSON(ctx context.Context, rel string, v any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return r.put(ctx, rel, contentTypeJSON, buf.Bytes())
}

func (r *Reporter) put(ctx context.Context, rel, contentType string, data []byte) error {
	uri, err := r.store.PutObject(ctx, rel, contentType, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	metrics.ObserveArtifactWritten()
	r.logger.Debug("artifact written", zap.String("path", rel), zap.String("uri", uri), zap.Int("bytes", len(data)))
	return nil
}

func buildMediaStats(kinds map[crawler.MediaKind]KindStats) MediaStats {
	ms := MediaStats{
		Found:       make(map[string]int),
		Downloaded:  make(map[string]int),
		Failed:      make(map[string]int),
		SuccessRate: make(map[string]float64),
	}
	for _, kind := range crawler.MediaKinds {
		s := kinds[kind]
		ms.Found[kind.Dir()] = s.Found
		ms.Downloaded[kind.Dir()] = s.Downloaded
		ms.Failed[kind.Dir()] = s.Failed
		ms.SuccessRate[kind.Dir()] = s.SuccessRate
	}
	return ms
}

func buildMediaReport(timestamp string, kinds map[crawler.MediaKind]KindStats, outcomes []crawler.DownloadOutcome) MediaReport {
	mr := MediaReport{
		Timestamp:       timestamp,
		TotalFound:      make(map[string]int),
		DownloadStats:   make(map[string]KindStats),
		DownloadedFiles: make(map[string][]DownloadedFile),
		FailedFiles:     make(map[string][]FailedFile),
	}
	for _, kind := range crawler.MediaKinds {
		mr.TotalFound[kind.Dir()] = kinds[kind].Found
		mr.DownloadStats[kind.Dir()] = kinds[kind]
		mr.DownloadedFiles[kind.Dir()] = []DownloadedFile{}
		mr.FailedFiles[kind.Dir()] = []FailedFile{}
	}
	for _, o := range outcomes {
		label := o.Reference.Kind.Dir()
		if o.Succeeded() {
			mr.DownloadedFiles[label] = append(mr.DownloadedFiles[label], DownloadedFile{
				URL:         o.Reference.CanonicalURL,
				Filename:    o.LocalFilename,
				LocalPath:   o.LocalPath,
				FileSize:    o.ByteSize,
				SourcePage:  o.Reference.SourcePageURL,
				SourceTitle: o.Reference.SourcePageTitle,
			})
			continue
		}
		mr.FailedFiles[label] = append(mr.FailedFiles[label], FailedFile{
			URL:         o.Reference.CanonicalURL,
			Error:       o.Error,
			SourcePage:  o.Reference.SourcePageURL,
			SourceTitle: o.Reference.SourcePageTitle,
		})
	}
	return mr
}
