// Package report aggregates the final corpus and download outcomes into the
// session's content files and reports.
package report

import (
	"math"
	"net/url"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// CategoryStats is the rollup for one category bucket.
type CategoryStats struct {
	Category          string  `json:"category"`
	PageCount         int     `json:"page_count"`
	TotalWords        int     `json:"total_words"`
	AvgWordsPerPage   int     `json:"avg_words_per_page"`
	PercentageOfTotal float64 `json:"percentage_of_total"`
}

// KindStats is the rollup for one media kind.
type KindStats struct {
	Found       int     `json:"found"`
	Downloaded  int     `json:"downloaded"`
	Failed      int     `json:"failed"`
	SuccessRate float64 `json:"success_rate"`
}

// ContentStats summarizes the text content of the whole corpus.
type ContentStats struct {
	TotalPages         int            `json:"total_pages"`
	TotalWords         int            `json:"total_words"`
	TotalCharacters    int            `json:"total_characters"`
	AvgWordsPerPage    int            `json:"avg_words_per_page"`
	DomainDistribution map[string]int `json:"domain_distribution"`
}

// CategoryRollups computes one entry per category, in the given order. Pages
// whose category is not listed are ignored.
func CategoryRollups(pages []crawler.ClassifiedPage, categories []string) []CategoryStats {
	index := make(map[string]int, len(categories))
	out := make([]CategoryStats, len(categories))
	for i, name := range categories {
		index[name] = i
		out[i].Category = name
	}
	total := 0
	for _, page := range pages {
		i, ok := index[page.Category]
		if !ok {
			continue
		}
		out[i].PageCount++
		out[i].TotalWords += page.WordCount
		total++
	}
	for i := range out {
		if out[i].PageCount > 0 {
			out[i].AvgWordsPerPage = out[i].TotalWords / out[i].PageCount
		}
		out[i].PercentageOfTotal = Percent(out[i].PageCount, total)
	}
	return out
}

// KindRollups counts found references and their outcomes per kind.
func KindRollups(refs []crawler.MediaReference, outcomes []crawler.DownloadOutcome) map[crawler.MediaKind]KindStats {
	out := make(map[crawler.MediaKind]KindStats, len(crawler.MediaKinds))
	for _, kind := range crawler.MediaKinds {
		out[kind] = KindStats{}
	}
	for _, ref := range refs {
		s := out[ref.Kind]
		s.Found++
		out[ref.Kind] = s
	}
	for _, o := range outcomes {
		s := out[o.Reference.Kind]
		if o.Succeeded() {
			s.Downloaded++
		} else {
			s.Failed++
		}
		out[o.Reference.Kind] = s
	}
	for kind, s := range out {
		s.SuccessRate = Percent(s.Downloaded, s.Found)
		out[kind] = s
	}
	return out
}

// Content computes corpus-wide text statistics.
func Content(pages []crawler.ClassifiedPage) ContentStats {
	stats := ContentStats{
		TotalPages:         len(pages),
		DomainDistribution: make(map[string]int),
	}
	for _, page := range pages {
		stats.TotalWords += page.WordCount
		stats.TotalCharacters += page.CharCount
		host := ""
		if u, err := url.Parse(page.URL); err == nil {
			host = u.Host
		}
		stats.DomainDistribution[host]++
	}
	if stats.TotalPages > 0 {
		stats.AvgWordsPerPage = stats.TotalWords / stats.TotalPages
	}
	return stats
}

// Percent returns part/whole as a percentage rounded to two decimals, or zero
// when whole is zero.
func Percent(part, whole int) float64 {
	if whole <= 0 {
		return 0
	}
	return math.Round(float64(part)/float64(whole)*100*100) / 100
}
