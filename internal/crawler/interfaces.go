package crawler

import (
	"context"
	"io"
	"time"
)

// JobService is the external crawl engine.
type JobService interface {
	Submit(ctx context.Context, spec JobSpec) (Submission, error)
	Poll(ctx context.Context, jobID string) (JobStatus, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes session notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// OutcomeStore persists download outcomes outside the session directory.
type OutcomeStore interface {
	RecordOutcomes(ctx context.Context, sessionID string, outcomes []DownloadOutcome) error
	Close()
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
