// Package crawler defines core types shared across subsystems.
package crawler

import (
	"strconv"
	"strings"
	"time"
)

// JobState is the state tag reported by the external job service.
type JobState string

// Job service state tags.
const (
	JobStateScraping  JobState = "scraping"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// MonitorState is the local lifecycle state of a monitored crawl job.
type MonitorState string

// Monitor states. Completed, Failed and Abandoned are terminal.
const (
	MonitorSubmitted MonitorState = "submitted"
	MonitorPolling   MonitorState = "polling"
	MonitorCompleted MonitorState = "completed"
	MonitorFailed    MonitorState = "failed"
	MonitorAbandoned MonitorState = "abandoned"
)

// Terminal reports whether no further transitions may leave s.
func (s MonitorState) Terminal() bool {
	switch s {
	case MonitorCompleted, MonitorFailed, MonitorAbandoned:
		return true
	default:
		return false
	}
}

// MediaKind identifies the family a media reference belongs to.
type MediaKind string

// Supported media kinds.
const (
	KindAudio MediaKind = "audio"
	KindVideo MediaKind = "video"
	KindImage MediaKind = "image"
)

// MediaKinds lists every kind in reporting order.
var MediaKinds = []MediaKind{KindAudio, KindVideo, KindImage}

// Dir returns the session subdirectory that holds assets of this kind.
func (k MediaKind) Dir() string {
	switch k {
	case KindAudio:
		return "audio"
	case KindVideo:
		return "video"
	default:
		return "images"
	}
}

// DefaultExt is the extension used when a URL carries none.
func (k MediaKind) DefaultExt() string {
	switch k {
	case KindAudio:
		return ".mp3"
	case KindVideo:
		return ".mp4"
	default:
		return ".jpg"
	}
}

// RenderOptions tunes how the job service renders each page.
type RenderOptions struct {
	WaitForMs int               `json:"waitForMs,omitempty" mapstructure:"wait_for_ms"`
	TimeoutMs int               `json:"timeoutMs,omitempty" mapstructure:"timeout_ms"`
	Headers   map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// JobSpec is the crawl specification submitted to the job service.
type JobSpec struct {
	Target        string        `json:"target" mapstructure:"target"`
	PageLimit     int           `json:"pageLimit,omitempty" mapstructure:"page_limit"`
	MaxDepth      int           `json:"maxDepth,omitempty" mapstructure:"max_depth"`
	IncludePaths  []string      `json:"includePaths,omitempty" mapstructure:"include_paths"`
	ExcludePaths  []string      `json:"excludePaths,omitempty" mapstructure:"exclude_paths"`
	RenderOptions RenderOptions `json:"renderOptions" mapstructure:"render_options"`
}

// Validate rejects specifications the job service could never run.
func (s JobSpec) Validate() error {
	target := strings.TrimSpace(s.Target)
	if target == "" {
		return NewConfigError("job.target is required")
	}
	if !strings.HasPrefix(strings.ToLower(target), "http://") &&
		!strings.HasPrefix(strings.ToLower(target), "https://") {
		return NewConfigError("job.target must be an absolute http(s) URL, got %q", s.Target)
	}
	if s.PageLimit < 0 {
		return NewConfigError("job.page_limit must be >= 0")
	}
	if s.MaxDepth < 0 {
		return NewConfigError("job.max_depth must be >= 0")
	}
	if s.RenderOptions.WaitForMs < 0 || s.RenderOptions.TimeoutMs < 0 {
		return NewConfigError("job.render_options durations must be >= 0")
	}
	return nil
}

// Page is one crawled document as returned by the job service.
type Page struct {
	URL           string `json:"url"`
	Title         string `json:"title"`
	TextContent   string `json:"textContent"`
	MarkupContent string `json:"markupContent,omitempty"`
}

// PageKey identifies page within a status listing. Pages are keyed by URL;
// a page without one is keyed by its position so it is never merged with
// another URL-less page.
func PageKey(page Page, position int) string {
	if page.URL != "" {
		return page.URL
	}
	return "#" + strconv.Itoa(position)
}

// Submission is the job service's answer to a job submission.
type Submission struct {
	JobID string
	// Raw is the verbatim response body.
	Raw []byte
}

// JobStatus is one poll response.
type JobStatus struct {
	State JobState `json:"state"`
	Pages []Page   `json:"pages"`
	Error string   `json:"error,omitempty"`
	// Raw is the verbatim response body, persisted for completed jobs.
	Raw []byte `json:"-"`
}

// MediaReference is one discovered media asset.
type MediaReference struct {
	Kind            MediaKind `json:"kind"`
	CanonicalURL    string    `json:"url"`
	SourcePageURL   string    `json:"sourcePage,omitempty"`
	SourcePageTitle string    `json:"sourceTitle,omitempty"`
}

// DownloadOutcome records the single archive attempt made for a reference.
type DownloadOutcome struct {
	Reference     MediaReference `json:"reference"`
	LocalFilename string         `json:"filename,omitempty"`
	LocalPath     string         `json:"localPath,omitempty"`
	ByteSize      int64          `json:"fileSize,omitempty"`
	Error         string         `json:"error,omitempty"`
	Duration      time.Duration  `json:"-"`
}

// Succeeded reports whether the asset landed on disk.
func (o DownloadOutcome) Succeeded() bool {
	return o.Error == ""
}

// MediaURLs groups canonical URLs by kind for page records.
type MediaURLs struct {
	Audio []string `json:"audio"`
	Video []string `json:"video"`
	Image []string `json:"images"`
}

// MediaCount mirrors MediaURLs with counts.
type MediaCount struct {
	Audio int `json:"audio"`
	Video int `json:"video"`
	Image int `json:"images"`
}

// Total sums all kinds.
func (c MediaCount) Total() int {
	return c.Audio + c.Video + c.Image
}

// ClassifiedPage is a Page with its derived fields filled in.
type ClassifiedPage struct {
	Page
	Category   string     `json:"category"`
	WordCount  int        `json:"wordCount"`
	CharCount  int        `json:"charCount"`
	MediaURLs  MediaURLs  `json:"mediaUrls"`
	MediaCount MediaCount `json:"mediaCount"`
	// References carries the page's media without provenance.
	References []MediaReference `json:"-"`
}

// SessionStatus is a live snapshot of a running session.
type SessionStatus struct {
	SessionID  string            `json:"session_id"`
	JobID      string            `json:"job_id,omitempty"`
	State      MonitorState      `json:"state"`
	StartedAt  time.Time         `json:"started_at"`
	PagesSeen  int               `json:"pages_seen"`
	MediaFound map[MediaKind]int `json:"media_found"`
	Error      string            `json:"error,omitempty"`
}
