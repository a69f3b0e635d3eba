package crawler

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"time"
)

// SessionTimestampFormat names session directories.
const SessionTimestampFormat = "20060102_150405"

// Relative paths inside a session directory.
const (
	ContentDir        = "content"
	ReportsDir        = "reports"
	RawDataDir        = "raw_data"
	FinalReportPath   = "reports/final_report.json"
	SummaryReportPath = "reports/summary_report.txt"
	MediaReportPath   = "reports/media_download_report.json"
	CrawlStartPath    = "reports/crawl_start.json"
	RawResultPath     = "raw_data/complete_crawl_result.json"
)

// Layout resolves the on-disk structure of one archive session.
type Layout struct {
	Root      string
	Timestamp string
}

// NewLayout roots a session named <prefix>_<timestamp> under base.
func NewLayout(base, prefix string, started time.Time) Layout {
	ts := started.Format(SessionTimestampFormat)
	name := ts
	if prefix != "" {
		name = fmt.Sprintf("%s_%s", prefix, ts)
	}
	return Layout{Root: filepath.Join(base, name), Timestamp: ts}
}

// maxLayoutClaims bounds the suffix search for a free session directory.
const maxLayoutClaims = 1000

// ClaimLayout creates the session directory named by NewLayout. When that
// directory already exists, _1, _2, ... is appended until an unused name is
// created, so sessions started within the same second never share output.
// Timestamp keeps the unsuffixed value.
func ClaimLayout(base, prefix string, started time.Time) (Layout, error) {
	l := NewLayout(base, prefix, started)
	if base != "" {
		if err := os.MkdirAll(base, 0o750); err != nil {
			return Layout{}, fmt.Errorf("create output root: %w", err)
		}
	}
	root := l.Root
	for n := 1; n <= maxLayoutClaims; n++ {
		err := os.Mkdir(root, 0o750)
		if err == nil {
			l.Root = root
			return l, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return Layout{}, fmt.Errorf("create session directory: %w", err)
		}
		root = fmt.Sprintf("%s_%d", l.Root, n)
	}
	return Layout{}, fmt.Errorf("no free session directory next to %s", l.Root)
}

// KindDir is the absolute asset directory for kind.
func (l Layout) KindDir(kind MediaKind) string {
	return filepath.Join(l.Root, kind.Dir())
}

// ContentFile is the slash-separated path of a category's content file.
func ContentFile(category string) string {
	return path.Join(ContentDir, category, category+"_content.json")
}

// Abs joins a slash-separated relative path onto the session root.
func (l Layout) Abs(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}
