// Package classify maps page URLs onto the fixed category taxonomy.
package classify

import "strings"

// Other is the bucket for pages no rule claims.
const Other = "other"

// DefaultCategories is the ordered rule list. Order is the tie-break when a URL
// names more than one category: the earliest entry wins.
var DefaultCategories = []string{
	"lessons",
	"speaking",
	"listening",
	"grammar",
	"vocabulary",
	"pronunciation",
	"beginner",
	"intermediate",
	"advanced",
	"business",
	"travel",
	"toefl",
	"ielts",
	"interview",
	"practice",
}

type rule struct {
	category string
	segment  string
}

func (r rule) matches(lowerURL string) bool {
	// Bare containment also fires inside unrelated words, so a page under
	// /blog/grammar-is-fun lands in grammar. Kept as-is.
	return strings.Contains(lowerURL, r.segment) || strings.Contains(lowerURL, r.category)
}

// Classifier evaluates category rules top to bottom.
type Classifier struct {
	rules []rule
}

// New builds a classifier from an ordered category list. Names are lowercased;
// blanks, duplicates and Other are skipped since Other is always the fallback.
func New(categories []string) *Classifier {
	c := &Classifier{}
	seen := make(map[string]struct{}, len(categories))
	for _, name := range categories {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" || name == Other {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		c.rules = append(c.rules, rule{category: name, segment: "/" + name + "/"})
	}
	return c
}

// Classify returns the first matching category or Other.
func (c *Classifier) Classify(pageURL string) string {
	lower := strings.ToLower(pageURL)
	for _, r := range c.rules {
		if r.matches(lower) {
			return r.category
		}
	}
	return Other
}

// Categories lists every bucket in rule order, Other last.
func (c *Classifier) Categories() []string {
	out := make([]string, 0, len(c.rules)+1)
	for _, r := range c.rules {
		out = append(out, r.category)
	}
	return append(out, Other)
}

// Classify is a one-shot helper over an ordered category list.
func Classify(pageURL string, categories []string) string {
	return New(categories).Classify(pageURL)
}
