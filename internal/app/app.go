// Package app builds the long-lived services a harvest run needs from configuration,
// acting as a small dependency injection container for the CLI and the API.
package app

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/JakeFAU/crag-crawler/internal/config"
	"github.com/JakeFAU/crag-crawler/internal/fetch"
	"github.com/JakeFAU/crag-crawler/internal/harvest"
	"github.com/JakeFAU/crag-crawler/internal/orchestrator"
	"github.com/JakeFAU/crag-crawler/internal/publisher/memory"
	"github.com/JakeFAU/crag-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/crag-crawler/internal/sources"
	"github.com/JakeFAU/crag-crawler/internal/storage/gcs"
	"github.com/JakeFAU/crag-crawler/internal/storage/local"
)

// App holds the services shared by every run of one configuration.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Fetcher   harvest.Fetcher
	Registry  *sources.Registry
	BlobStore harvest.BlobStore
	Publisher harvest.Publisher
	// Closers are released in reverse order by Close.
	Closers []io.Closer
}

// New initializes the services selected by cfg. It fails fast when a provider
// cannot be set up.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Fetcher:  fetch.New(cfg.FetchConfig(), logger.Named("fetch")),
		Registry: sources.Default(),
	}

	switch cfg.Artifacts.Provider {
	case config.ProviderLocal:
		logger.Info("mirroring artifacts to local directory", zap.String("base_dir", cfg.Artifacts.BaseDir))
		store, err := local.New(local.Config{BaseDir: cfg.Artifacts.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("init local artifacts: %w", err)
		}
		a.BlobStore = store
	case config.ProviderGCS:
		logger.Info("mirroring artifacts to GCS", zap.String("bucket", cfg.Artifacts.Bucket))
		store, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.Artifacts.Bucket, Prefix: cfg.Artifacts.Prefix})
		if err != nil {
			return nil, fmt.Errorf("init gcs artifacts: %w", err)
		}
		a.BlobStore = store
		a.Closers = append(a.Closers, store)
	case "", config.ProviderNone:
	default:
		return nil, fmt.Errorf("unknown artifacts provider: %s", cfg.Artifacts.Provider)
	}

	switch cfg.Notify.Provider {
	case config.ProviderMemory:
		a.Publisher = memory.New()
	case config.ProviderPubSub:
		logger.Info("publishing run summaries to Pub/Sub", zap.String("topic", cfg.Notify.Topic))
		pub, err := pubsub.New(ctx, pubsub.Config{ProjectID: cfg.Notify.ProjectID, Topic: cfg.Notify.Topic})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init pubsub notifier: %w", err)
		}
		a.Publisher = pub
		a.Closers = append(a.Closers, pub)
	case "", config.ProviderNone:
	default:
		a.Close()
		return nil, fmt.Errorf("unknown notify provider: %s", cfg.Notify.Provider)
	}

	return a, nil
}

// Orchestrator returns a run orchestrator wired to the App's services.
func (a *App) Orchestrator() *orchestrator.Orchestrator {
	return orchestrator.New(a.Config, orchestrator.Deps{
		Registry:  a.Registry,
		Fetcher:   a.Fetcher,
		BlobStore: a.BlobStore,
		Publisher: a.Publisher,
		Logger:    a.Logger,
	})
}

// Close releases provider clients. Errors are logged, not returned.
func (a *App) Close() {
	for i := len(a.Closers) - 1; i >= 0; i-- {
		if err := a.Closers[i].Close(); err != nil {
			a.Logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.Closers = nil
}
