// Package app initializes and holds the optional long-lived services of the
// archiver: the GCS mirror, the Postgres outcome store and the Pub/Sub
// publisher. Each is enabled by its config section and nil otherwise.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawl-archiver/internal/config"
	"github.com/JakeFAU/crawl-archiver/internal/crawler"
	"github.com/JakeFAU/crawl-archiver/internal/publisher/pubsub"
	"github.com/JakeFAU/crawl-archiver/internal/storage/gcs"
	"github.com/JakeFAU/crawl-archiver/internal/storage/postgres"
)

// App holds the shared services for one process.
type App struct {
	logger    *zap.Logger
	mirror    *gcs.BlobStore
	outcomes  crawler.OutcomeStore
	publisher crawler.Publisher
	topic     string
	closers   []func() error
}

// Services are constructors for the optional backends. Tests replace them.
type Services struct {
	DialGCS      func(ctx context.Context, cfg gcs.Config) (*gcs.BlobStore, error)
	OpenOutcomes func(ctx context.Context, cfg postgres.OutcomeStoreConfig) (crawler.OutcomeStore, error)
	DialPubSub   func(ctx context.Context, projectID string) (PublisherCloser, error)
}

// PublisherCloser is a publisher owning a connection.
type PublisherCloser interface {
	crawler.Publisher
	Close() error
}

// DefaultServices dials the real backends.
func DefaultServices() Services {
	return Services{
		DialGCS: gcs.Dial,
		OpenOutcomes: func(ctx context.Context, cfg postgres.OutcomeStoreConfig) (crawler.OutcomeStore, error) {
			return postgres.NewOutcomeStore(ctx, cfg)
		},
		DialPubSub: func(ctx context.Context, projectID string) (PublisherCloser, error) {
			return pubsub.Dial(ctx, projectID)
		},
	}
}

// New initializes every service enabled in cfg with the real backends.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	return NewWithServices(ctx, cfg, DefaultServices(), logger)
}

// NewWithServices initializes every service enabled in cfg. It fails fast and
// releases whatever was already opened.
func NewWithServices(ctx context.Context, cfg config.Config, svc Services, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{logger: logger.Named("app"), topic: cfg.PubSub.TopicName}

	if cfg.Storage.GCSBucket != "" {
		store, err := svc.DialGCS(ctx, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
		if err != nil {
			return nil, a.fail(fmt.Errorf("initialize GCS mirror: %w", err))
		}
		a.mirror = store
		a.closers = append(a.closers, store.Close)
		a.logger.Info("mirroring artifacts to GCS", zap.String("bucket", cfg.Storage.GCSBucket))
	}

	if cfg.DB.DSN != "" {
		store, err := svc.OpenOutcomes(ctx, postgres.OutcomeStoreConfig{
			DSN:             cfg.DB.DSN,
			Table:           cfg.DB.Table,
			MaxConns:        cfg.DB.MaxConns,
			MinConns:        cfg.DB.MinConns,
			MaxConnLifetime: cfg.DB.MaxConnLifetime,
		})
		if err != nil {
			return nil, a.fail(fmt.Errorf("initialize outcome store: %w", err))
		}
		a.outcomes = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		a.logger.Info("recording download outcomes in Postgres", zap.String("table", cfg.DB.Table))
	}

	if cfg.PubSub.TopicName != "" {
		pub, err := svc.DialPubSub(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return nil, a.fail(fmt.Errorf("initialize publisher: %w", err))
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
		a.logger.Info("publishing session events", zap.String("topic", cfg.PubSub.TopicName))
	}

	return a, nil
}

func (a *App) fail(err error) error {
	if closeErr := a.Close(); closeErr != nil {
		return errors.Join(err, closeErr)
	}
	return err
}

// MirrorFor returns a GCS store below sessionName, or nil when mirroring is off.
func (a *App) MirrorFor(sessionName string) crawler.BlobStore {
	if a == nil || a.mirror == nil {
		return nil
	}
	return a.mirror.WithPrefix(sessionName)
}

// Outcomes returns the outcome store, or nil.
func (a *App) Outcomes() crawler.OutcomeStore {
	if a == nil {
		return nil
	}
	return a.outcomes
}

// Publisher returns the session event publisher, or nil.
func (a *App) Publisher() crawler.Publisher {
	if a == nil {
		return nil
	}
	return a.publisher
}

// Topic is the Pub/Sub topic for session events.
func (a *App) Topic() string {
	if a == nil {
		return ""
	}
	return a.topic
}

// Close releases services in reverse order of creation.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
