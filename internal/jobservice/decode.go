package jobservice

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
)

// statusEnvelope is the part of a job status that must decode for the
// response to count as an answer at all.
type statusEnvelope struct {
	State crawler.JobState  `json:"state"`
	Pages []json.RawMessage `json:"pages"`
	Error string            `json:"error,omitempty"`
}

// PageIssue describes a page record that did not decode cleanly.
type PageIssue struct {
	Index int
	// Dropped is set when nothing usable was left of the record.
	Dropped bool
	Err     error
}

// DecodeStatus decodes a job status body. Only the envelope is strict; each
// page record is decoded on its own. A field of the wrong type is left empty
// and a record that is not an object is dropped. Both are listed as issues.
func DecodeStatus(body []byte) (crawler.JobStatus, []PageIssue, error) {
	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return crawler.JobStatus{}, nil, err
	}
	status := crawler.JobStatus{State: env.State, Error: env.Error, Raw: body}
	if len(env.Pages) > 0 {
		status.Pages = make([]crawler.Page, 0, len(env.Pages))
	}
	var issues []PageIssue
	for i, raw := range env.Pages {
		page, ok, err := decodePage(raw)
		if err != nil {
			issues = append(issues, PageIssue{Index: i, Dropped: !ok, Err: err})
		}
		if ok {
			status.Pages = append(status.Pages, page)
		}
	}
	return status, issues, nil
}

// decodePage reports ok=false when the record has to be dropped. A non-nil
// error with ok=true means some fields were zeroed.
func decodePage(raw json.RawMessage) (crawler.Page, bool, error) {
	var page crawler.Page
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return page, false, errors.New("page record is null")
	}
	if err := json.Unmarshal(raw, &page); err == nil {
		return page, true, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return crawler.Page{}, false, fmt.Errorf("page record is not an object: %w", err)
	}
	page = crawler.Page{}
	var bad []string
	for key, value := range fields {
		var dst *string
		switch strings.ToLower(key) {
		case "url":
			dst = &page.URL
		case "title":
			dst = &page.Title
		case "textcontent":
			dst = &page.TextContent
		case "markupcontent":
			dst = &page.MarkupContent
		default:
			continue
		}
		if err := json.Unmarshal(value, dst); err != nil {
			*dst = ""
			bad = append(bad, key)
		}
	}
	if len(bad) == 0 {
		return page, true, nil
	}
	return page, true, fmt.Errorf("malformed fields: %s", strings.Join(bad, ", "))
}
