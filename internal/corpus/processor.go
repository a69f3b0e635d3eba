package corpus

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/crawl-archiver/internal/classify"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/extract"
)

// UntitledPage is used when neither the service nor the markup names a page.
const UntitledPage = "Untitled"

// Processor classifies pages and extracts their media in parallel.
type Processor struct {
	classifier *classify.Classifier
	extractor  *extract.Extractor
	workers    int
	fallback   string
}

// NewProcessor builds a Processor. workers <= 0 sizes the pool to the CPU
// count. fallbackBase resolves relative media on pages that carry no URL.
func NewProcessor(classifier *classify.Classifier, workers int, fallbackBase string) *Processor {
	if classifier == nil {
		classifier = classify.New(classify.DefaultCategories)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Processor{
		classifier: classifier,
		extractor:  extract.New(),
		workers:    workers,
		fallback:   fallbackBase,
	}
}

// Classifier exposes the rule list in use.
func (p *Processor) Classifier() *classify.Classifier {
	return p.classifier
}

// ProcessPage fills in the derived fields of one page.
func (p *Processor) ProcessPage(page crawler.Page) crawler.ClassifiedPage {
	if strings.TrimSpace(page.Title) == "" {
		page.Title = titleFromMarkup(page.MarkupContent)
	}
	base := page.URL
	if base == "" {
		base = p.fallback
	}
	refs := p.extractor.Extract(page.TextContent+"\n"+page.MarkupContent, base)
	urls, counts := extract.Group(refs)
	return crawler.ClassifiedPage{
		Page:       page,
		Category:   p.classifier.Classify(page.URL),
		WordCount:  WordCount(page.TextContent),
		CharCount:  CharCount(page.TextContent),
		MediaURLs:  urls,
		MediaCount: counts,
		References: refs,
	}
}

// Process runs ProcessPage across the worker pool. Results keep input order.
func (p *Processor) Process(ctx context.Context, pages []crawler.Page) ([]crawler.ClassifiedPage, error) {
	out := make([]crawler.ClassifiedPage, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = p.ProcessPage(pages[i])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("process pages: %w", err)
	}
	return out, nil
}

// Ingest processes pages and merges them into c in input order, so the first
// page linking an asset is deterministically its recorded source. It returns
// the media references that were new to c.
func (p *Processor) Ingest(ctx context.Context, c *Corpus, pages []crawler.Page) ([]crawler.MediaReference, error) {
	classified, err := p.Process(ctx, DedupPages(pages))
	if err != nil {
		return nil, err
	}
	var added []crawler.MediaReference
	for _, page := range classified {
		c.AddPage(page)
		added = append(added, c.AddReferences(withProvenance(page))...)
	}
	return added, nil
}

// DedupPages keeps one page per URL: the last version at the first position.
// Pages without a URL are all kept.
func DedupPages(pages []crawler.Page) []crawler.Page {
	index := make(map[string]int, len(pages))
	out := make([]crawler.Page, 0, len(pages))
	for i, page := range pages {
		key := crawler.PageKey(page, i)
		if idx, ok := index[key]; ok {
			out[idx] = page
			continue
		}
		index[key] = len(out)
		out = append(out, page)
	}
	return out
}

func withProvenance(page crawler.ClassifiedPage) []crawler.MediaReference {
	refs := make([]crawler.MediaReference, len(page.References))
	for i, ref := range page.References {
		ref.SourcePageURL = page.URL
		ref.SourcePageTitle = page.Title
		refs[i] = ref
	}
	return refs
}

// WordCount counts whitespace-separated tokens.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// CharCount counts characters, not bytes.
func CharCount(text string) int {
	return utf8.RuneCountInString(text)
}

func titleFromMarkup(markup string) string {
	if strings.TrimSpace(markup) == "" {
		return UntitledPage
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return UntitledPage
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		return UntitledPage
	}
	return title
}
