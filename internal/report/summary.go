package report

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// Summary renders the human-readable reports/summary_report.txt.
func Summary(r *FinalReport) string {
	var b strings.Builder
	b.WriteString("Crawl Archive Report\n")
	b.WriteString(strings.Repeat("=", 50) + "\n\n")

	b.WriteString("Session:\n")
	fmt.Fprintf(&b, "  Session ID: %s\n", r.SessionInfo.SessionID)
	fmt.Fprintf(&b, "  Job ID: %s\n", r.SessionInfo.JobID)
	fmt.Fprintf(&b, "  Timestamp: %s\n", r.SessionInfo.Timestamp)
	fmt.Fprintf(&b, "  Directory: %s\n", r.SessionInfo.SessionDirectory)
	fmt.Fprintf(&b, "  Duration: %s\n\n", r.SessionInfo.CrawlDuration)

	cs := r.ContentStats
	b.WriteString("Content:\n")
	fmt.Fprintf(&b, "  Total pages: %s\n", humanize.Comma(int64(cs.TotalPages)))
	fmt.Fprintf(&b, "  Total words: %s\n", humanize.Comma(int64(cs.TotalWords)))
	fmt.Fprintf(&b, "  Total characters: %s\n", humanize.Comma(int64(cs.TotalCharacters)))
	fmt.Fprintf(&b, "  Average words per page: %d\n\n", cs.AvgWordsPerPage)

	b.WriteString("Categories:\n")
	for _, c := range r.CategoryStats {
		if c.PageCount == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s: %d pages (%.2f%%), %s words\n",
			c.Category, c.PageCount, c.PercentageOfTotal, humanize.Comma(int64(c.TotalWords)))
	}
	b.WriteString("\n")

	b.WriteString("Media:\n")
	for _, kind := range crawler.MediaKinds {
		label := kind.Dir()
		fmt.Fprintf(&b, "  %s:\n", label)
		fmt.Fprintf(&b, "    Found: %d\n", r.MediaStats.Found[label])
		fmt.Fprintf(&b, "    Downloaded: %d\n", r.MediaStats.Downloaded[label])
		fmt.Fprintf(&b, "    Failed: %d\n", r.MediaStats.Failed[label])
		fmt.Fprintf(&b, "    Success rate: %.1f%%\n\n", r.MediaStats.SuccessRate[label])
	}

	ds := r.DirectoryStructure
	b.WriteString("Directories:\n")
	fmt.Fprintf(&b, "  Audio files: %d\n", ds.AudioFiles)
	fmt.Fprintf(&b, "  Video files: %d\n", ds.VideoFiles)
	fmt.Fprintf(&b, "  Image files: %d\n", ds.ImageFiles)
	fmt.Fprintf(&b, "  Content categories: %d\n", ds.ContentCategories)
	return b.String()
}
