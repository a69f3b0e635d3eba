// Package corpus accumulates classified pages and the corpus-wide media
// reference set for one archive session.
package corpus

import (
	"sync"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// Corpus is the shared aggregation handle. It is safe for concurrent use; every
// mutation happens under a single mutex.
type Corpus struct {
	mu        sync.Mutex
	pageIndex map[string]int
	pages     []crawler.ClassifiedPage
	refIndex  map[string]struct{}
	refs      []crawler.MediaReference
	found     map[crawler.MediaKind]int
}

// New returns an empty corpus.
func New() *Corpus {
	return &Corpus{
		pageIndex: make(map[string]int),
		refIndex:  make(map[string]struct{}),
		found:     make(map[crawler.MediaKind]int),
	}
}

// AddPage stores page keyed by URL. A repeated URL replaces the earlier record
// in place (last write wins) and reports false. Pages without a URL are always
// appended.
func (c *Corpus) AddPage(page crawler.ClassifiedPage) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if page.URL == "" {
		c.pages = append(c.pages, page)
		return true
	}
	if idx, ok := c.pageIndex[page.URL]; ok {
		c.pages[idx] = page
		return false
	}
	c.pageIndex[page.URL] = len(c.pages)
	c.pages = append(c.pages, page)
	return true
}

// AddReferences merges refs into the dedup set. The first reference seen for a
// canonical URL is kept with its provenance; later ones are ignored. It returns
// the references that were new.
func (c *Corpus) AddReferences(refs []crawler.MediaReference) []crawler.MediaReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	var added []crawler.MediaReference
	for _, ref := range refs {
		if _, ok := c.refIndex[ref.CanonicalURL]; ok {
			continue
		}
		c.refIndex[ref.CanonicalURL] = struct{}{}
		c.refs = append(c.refs, ref)
		c.found[ref.Kind]++
		added = append(added, ref)
	}
	return added
}

// Pages returns a copy of the stored pages in first-seen order.
func (c *Corpus) Pages() []crawler.ClassifiedPage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]crawler.ClassifiedPage(nil), c.pages...)
}

// References returns a copy of the dedup set in discovery order.
func (c *Corpus) References() []crawler.MediaReference {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]crawler.MediaReference(nil), c.refs...)
}

// PageCount is the number of stored pages.
func (c *Corpus) PageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pages)
}

// Found returns distinct reference counts per kind.
func (c *Corpus) Found() map[crawler.MediaKind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[crawler.MediaKind]int, len(crawler.MediaKinds))
	for _, kind := range crawler.MediaKinds {
		out[kind] = c.found[kind]
	}
	return out
}
