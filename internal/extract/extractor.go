// Package extract finds media references in page markup and rendered text.
//
// Each media kind owns an ordered list of rules. A rule is a regular expression
// over one surface form a reference can take (bare URL, quoted attribute value,
// platform embed, CSS background). Every non-overlapping match yields one
// candidate: the first capture group when the rule has one, otherwise the whole
// match. Candidates are normalized, resolved against the page URL and
// deduplicated per call.
package extract

import (
	"html"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// Extensions recognized per kind.
var (
	AudioExtensions = []string{"mp3", "wav", "ogg", "m4a", "aac", "flac"}
	VideoExtensions = []string{"mp4", "avi", "mov", "wmv", "flv", "webm", "mkv", "m4v"}
	ImageExtensions = []string{"jpg", "jpeg", "png", "gif", "bmp", "svg", "webp", "ico"}
)

type rule struct {
	name      string
	re        *regexp.Regexp
	normalize func(match string) string
}

// Extractor applies the per-kind rule lists.
type Extractor struct {
	rules map[crawler.MediaKind][]rule
}

var defaultExtractor = New()

// New compiles the standard rule set.
func New() *Extractor {
	audio := strings.Join(AudioExtensions, "|")
	video := strings.Join(VideoExtensions, "|")
	image := strings.Join(ImageExtensions, "|")

	return &Extractor{rules: map[crawler.MediaKind][]rule{
		crawler.KindAudio: {
			bareURLRule(audio),
			attributeRule(audio),
			customAttributeRule("data-audio", "audio-url"),
		},
		crawler.KindVideo: {
			bareURLRule(video),
			attributeRule(video),
			customAttributeRule("data-video", "video-url"),
			embedRule("youtube-embed", `https?://(?:www\.)?youtube\.com/embed/([^"'?&#\s/)<>]+)`, youtubeWatch),
			embedRule("youtube-watch", `https?://(?:www\.)?youtube\.com/watch\?v=([^"'&#\s)<>]+)`, youtubeWatch),
			embedRule("vimeo", `https?://(?:www\.)?vimeo\.com/(\d+)`, vimeoView),
			embedRule("vimeo-player", `https?://player\.vimeo\.com/video/(\d+)`, vimeoView),
		},
		crawler.KindImage: {
			bareURLRule(image),
			attributeRule(image),
			{
				name: "css-background",
				re: regexp.MustCompile(`(?i)background-image:\s*url\(\s*["']?([^"')\s]*\.(?:` + image +
					`)(?:\?[^"')\s]*)?)["']?\s*\)`),
			},
		},
	}}
}

func bareURLRule(exts string) rule {
	return rule{
		name: "bare-url",
		re:   regexp.MustCompile(`(?i)https?://[^\s'")]+\.(?:` + exts + `)(?:\?[^\s'")]*)?`),
	}
}

func attributeRule(exts string) rule {
	return rule{
		name: "attribute",
		re: regexp.MustCompile(`(?i)(?:src|href|data-src)\s*=\s*["']([^"']*\.(?:` + exts +
			`)(?:\?[^"']*)?)["']`),
	}
}

// customAttributeRule matches attributes that name their kind, so any value counts.
func customAttributeRule(names ...string) rule {
	return rule{
		name: "custom-attribute",
		re:   regexp.MustCompile(`(?i)(?:` + strings.Join(names, "|") + `)\s*=\s*["']([^"']+)["']`),
	}
}

func embedRule(name, pattern string, normalize func(string) string) rule {
	return rule{name: name, re: regexp.MustCompile(`(?i)` + pattern), normalize: normalize}
}

func youtubeWatch(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

func vimeoView(id string) string {
	return "https://vimeo.com/" + id
}

// Extract runs the standard rule set. See Extractor.Extract.
func Extract(text, baseURL string) []crawler.MediaReference {
	return defaultExtractor.Extract(text, baseURL)
}

// Extract returns every distinct media reference found in text, ordered by kind
// then URL. References carry no provenance. Relative candidates resolve against
// baseURL; candidates that cannot be made absolute http(s) URLs are dropped.
func (e *Extractor) Extract(text, baseURL string) []crawler.MediaReference {
	if text == "" {
		return nil
	}
	base, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || !base.IsAbs() {
		base = nil
	}

	var out []crawler.MediaReference
	for _, kind := range crawler.MediaKinds {
		seen := make(map[string]struct{})
		var urls []string
		for _, r := range e.rules[kind] {
			for _, m := range r.re.FindAllStringSubmatch(text, -1) {
				candidate := m[0]
				if len(m) > 1 {
					candidate = m[1]
				}
				if candidate == "" {
					continue
				}
				if r.normalize != nil {
					candidate = r.normalize(candidate)
				}
				canonical, ok := Canonicalize(candidate, base)
				if !ok {
					continue
				}
				if _, dup := seen[canonical]; dup {
					continue
				}
				seen[canonical] = struct{}{}
				urls = append(urls, canonical)
			}
		}
		sort.Strings(urls)
		for _, u := range urls {
			out = append(out, crawler.MediaReference{Kind: kind, CanonicalURL: u})
		}
	}
	return out
}

// Canonicalize resolves candidate against base and lowercases scheme and host.
// The path is kept as given. It reports false for anything that does not end
// up as an absolute http(s) URL.
func Canonicalize(candidate string, base *url.URL) (string, bool) {
	candidate = strings.TrimSpace(html.UnescapeString(candidate))
	if candidate == "" {
		return "", false
	}
	ref, err := url.Parse(candidate)
	if err != nil {
		return "", false
	}
	if !isHTTP(ref.Scheme) {
		if ref.Scheme != "" || base == nil {
			return "", false
		}
		ref = base.ResolveReference(ref)
	}
	if !isHTTP(ref.Scheme) || ref.Host == "" {
		return "", false
	}
	ref.Scheme = strings.ToLower(ref.Scheme)
	ref.Host = strings.ToLower(ref.Host)
	ref.Fragment = ""
	return ref.String(), true
}

func isHTTP(scheme string) bool {
	return strings.EqualFold(scheme, "http") || strings.EqualFold(scheme, "https")
}

// Group splits references into per-kind URL lists.
func Group(refs []crawler.MediaReference) (crawler.MediaURLs, crawler.MediaCount) {
	urls := crawler.MediaURLs{Audio: []string{}, Video: []string{}, Image: []string{}}
	for _, ref := range refs {
		switch ref.Kind {
		case crawler.KindAudio:
			urls.Audio = append(urls.Audio, ref.CanonicalURL)
		case crawler.KindVideo:
			urls.Video = append(urls.Video, ref.CanonicalURL)
		case crawler.KindImage:
			urls.Image = append(urls.Image, ref.CanonicalURL)
		}
	}
	return urls, crawler.MediaCount{Audio: len(urls.Audio), Video: len(urls.Video), Image: len(urls.Image)}
}
