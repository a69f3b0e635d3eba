// Package storage composes blob stores for session artifacts.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/metrics"
)

// Mirror writes every artifact to a primary store and copies it to a
// secondary one. Only primary failures are returned; secondary failures are
// logged and counted so a flaky bucket never loses the local archive.
type Mirror struct {
	primary   crawler.BlobStore
	secondary crawler.BlobStore
	logger    *zap.Logger
}

// NewMirror returns primary unchanged when secondary is nil.
func NewMirror(primary, secondary crawler.BlobStore, logger *zap.Logger) crawler.BlobStore {
	if secondary == nil {
		return primary
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Mirror{primary: primary, secondary: secondary, logger: logger}
}

// PutObject implements crawler.BlobStore and returns the primary URI.
func (m *Mirror) PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error) {
	var buf bytes.Buffer
	uri, err := m.primary.PutObject(ctx, path, contentType, io.TeeReader(data, &buf))
	if err != nil {
		return "", fmt.Errorf("primary store: %w", err)
	}
	mirrorURI, err := m.secondary.PutObject(ctx, path, contentType, &buf)
	if err != nil {
		metrics.ObserveMirrorError()
		m.logger.Warn("mirror upload failed", zap.String("path", path), zap.Error(err))
		return uri, nil
	}
	m.logger.Debug("artifact mirrored", zap.String("path", path), zap.String("uri", mirrorURI))
	return uri, nil
}
