// Package app wires configuration into the services shared by the binaries.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/timmy/catalogsync/internal/config"
	"github.com/timmy/catalogsync/internal/fetch"
	"github.com/timmy/catalogsync/internal/logger"
	"github.com/timmy/catalogsync/internal/refresh"
	"github.com/timmy/catalogsync/internal/repository"
	"github.com/timmy/catalogsync/internal/service"
	"github.com/timmy/catalogsync/internal/source"
	"github.com/timmy/catalogsync/internal/source/idlist"
	"github.com/timmy/catalogsync/internal/source/sitemap"
	"github.com/timmy/catalogsync/internal/source/thingapi"
	"github.com/timmy/catalogsync/internal/storage"
	"github.com/timmy/catalogsync/internal/tracker"
	"gorm.io/gorm"
)

// openDB is replaced in tests to observe the connection pool.
var openDB = repository.InitDB

// App holds the long-lived components of one process.
type App struct {
	Policy  refresh.Policy
	Tracker *tracker.Tracker
	Catalog *repository.CatalogRepository
	Runner  *service.JobRunner

	db *gorm.DB
}

// New builds every component from cfg.
// Parameters:
//   - ctx: context for startup checks such as the bucket check.
//   - cfg: loaded configuration.
// Returns:
//   - *App: wired components; call Close when done.
//   - error: non-nil if the policy is invalid or a backend cannot be opened.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, err
	}

	db, err := openDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a, err := build(ctx, cfg, policy, db)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return a, nil
}

// build wires everything that depends on an open database.
func build(ctx context.Context, cfg *config.Config, policy refresh.Policy, db *gorm.DB) (*App, error) {
	tr := tracker.New(
		repository.NewEventStore(db, cfg.Database.VisibilityLag),
		policy,
		tracker.WithWorker(workerID()),
	)

	payloads, err := storage.NewPayloadStore(ctx, cfg.Payloads.Backend, cfg.Payloads.Prefix, &storage.S3Config{
		Type:      storage.StorageType(cfg.Storage.Type),
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		UseSSL:    cfg.Storage.UseSSL,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
	}, repository.NewPayloadRepository(db))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize payload store: %w", err)
	}

	remote := thingapi.NewClient(thingapi.Config{
		BaseURL:   cfg.Remote.BaseURL,
		Token:     cfg.Remote.Token,
		ItemTypes: cfg.Remote.ItemTypes,
		WithStats: cfg.Remote.WithStats,
		Timeout:   cfg.Remote.Timeout,
		UserAgent: cfg.Remote.UserAgent,
	})
	limiterCfg, clientCfg := fetchSettings(&cfg.Remote, policy)
	client := fetch.NewClient(remote, fetch.NewLimiter(limiterCfg), clientCfg)

	catalog := repository.NewCatalogRepository(db)

	discoverer, err := newDiscoverer(&cfg.Discovery, cfg.Remote.UserAgent)
	if err != nil {
		return nil, err
	}
	var discovery *service.DiscoveryService
	if discoverer != nil {
		discovery = service.NewDiscoveryService(tr, discoverer)
	}

	runner := service.NewJobRunner(
		discovery,
		service.NewRefreshScheduler(tr, client, payloads, &service.SchedulerConfig{
			Workers: cfg.Ingest.FetchWorkers,
		}),
		service.NewProcessingPipeline(tr, payloads, catalog, &service.PipelineConfig{
			Workers:   cfg.Ingest.ProcessWorkers,
			BatchSize: cfg.Ingest.ProcessBatchSize,
		}),
		cfg.Ingest.RunTimeout,
	)

	logger.CtxInfo(ctx, "Components ready: db=%s, payloads=%s, discovery=%s, worker=%s",
		cfg.Database.Driver, cfg.Payloads.Backend, cfg.Discovery.Mode, tr.Worker())

	return &App{
		Policy:  policy,
		Tracker: tr,
		Catalog: catalog,
		Runner:  runner,
		db:      db,
	}, nil
}

// Close releases the database connection pool.
func (a *App) Close() error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// fetchSettings maps the remote section onto the limiter and client.
func fetchSettings(r *config.RemoteConfig, policy refresh.Policy) (fetch.LimiterConfig, fetch.Config) {
	return fetch.LimiterConfig{
			RatePerSecond: r.RateLimit,
			MinRate:       r.MinRateLimit,
			CoolOff:       r.CoolOff,
			RecoverEvery:  r.RecoverEvery,
		}, fetch.Config{
			ChunkSize:      policy.ChunkSize,
			MaxRetries:     r.MaxRetries,
			BackoffInitial: r.BackoffInitial,
			BackoffMax:     r.BackoffMax,
			Jitter:         r.Jitter,
		}
}

func newDiscoverer(cfg *config.DiscoveryConfig, userAgent string) (source.Discoverer, error) {
	switch cfg.Mode {
	case "idlist":
		if cfg.IDListURL == "" {
			return nil, nil
		}
		return idlist.NewAdapter(cfg.IDListURL, cfg.ItemTypes, userAgent), nil
	case "sitemap":
		return sitemap.NewAdapter(sitemap.Config{
			IndexURL:       cfg.SitemapIndexURL,
			SitemapPattern: cfg.SitemapPattern,
			ItemPattern:    cfg.ItemPattern,
			ItemTypes:      cfg.ItemTypes,
			UserAgent:      userAgent,
		})
	case "", "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown discovery mode %q", cfg.Mode)
	}
}

func workerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
