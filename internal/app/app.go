// Package app wires configuration into the stores, gateways and jobs shared
// by the server, worker and operator binaries.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/DataSteward/internal/analytics"
	"github.com/dharsanguruparan/DataSteward/internal/config"
	"github.com/dharsanguruparan/DataSteward/internal/database"
	"github.com/dharsanguruparan/DataSteward/internal/gcsstorage"
	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/notify"
	"github.com/dharsanguruparan/DataSteward/internal/report"
	"github.com/dharsanguruparan/DataSteward/internal/repository"
	"github.com/dharsanguruparan/DataSteward/internal/retraction"
	"github.com/dharsanguruparan/DataSteward/internal/s3storage"
	"github.com/dharsanguruparan/DataSteward/internal/signing"
	"github.com/dharsanguruparan/DataSteward/internal/storage"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/union"
	"github.com/dharsanguruparan/DataSteward/internal/validation"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// ObjectStore is implemented by every storage backend.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error
	DeleteBucket(ctx context.Context, bucket string) error
	List(ctx context.Context, bucket string) ([]model.BucketItem, error)
	ListPrefix(ctx context.Context, bucket, prefix string) ([]model.BucketItem, error)
	Read(ctx context.Context, bucket, name string) ([]byte, error)
	Open(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	Write(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) error
	Delete(ctx context.Context, bucket, name string) error
	Stat(ctx context.Context, bucket, name string) (*model.BucketItem, error)
}

// Notifier delivers report e-mails and job alerts.
type Notifier interface {
	SendReport(ctx context.Context, msg *notify.ReportMessage) (string, error)
	Alert(ctx context.Context, text string) error
}

// App holds the wired components.
type App struct {
	Config    *config.Config
	Policy    *submission.Policy
	Pool      *pgxpool.Pool
	Objects   ObjectStore
	Warehouse *warehouse.Warehouse
	Sites     *repository.SiteRepository
	Runs      *repository.RunRepository
	Notifier  Notifier
	Pipeline  *validation.Pipeline
	Analytics *analytics.Runner
	Union     *union.Unioner
	Retractor *retraction.Retractor
	Signer    *signing.Signer

	closers []func()
}

// Open connects to Postgres, the object store and NATS and builds the jobs.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Policy: submission.DefaultPolicy(), Signer: signing.NewSigner(cfg.CronSecret)}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.Pool = pool
	a.closers = append(a.closers, pool.Close)
	if err := database.EnsureSchema(ctx, pool, cfg.LookupDataset); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	objects, closeObjects, err := NewObjectStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	a.Objects = objects
	a.closers = append(a.closers, closeObjects)

	if cfg.NATSURL != "" {
		nc, err := notify.Connect(cfg.NATSURL, "datasteward")
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, nc.Close)
		a.Notifier = notify.NewPublisher(nc, cfg.ReportSubject, cfg.AlertSubject)
	} else {
		logger.Warn("NATS_URL not set; report e-mails and alerts are only logged")
		a.Notifier = notify.LogSink{Logger: logger}
	}

	renderer, err := report.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}

	a.Warehouse = warehouse.New(pool, objects, warehouse.Options{PollInterval: cfg.LoadPollInterval, Timeout: cfg.LoadTimeout}, logger)
	a.Sites = repository.NewSiteRepository(pool, cfg.LookupDataset)
	a.Runs = repository.NewRunRepository(pool)
	a.Analytics = analytics.NewRunner(a.Warehouse, objects, a.Sites, cfg.EHRDataset, logger)

	a.Pipeline = validation.NewPipeline(validation.Config{
		Policy:    a.Policy,
		Sites:     a.Sites,
		Objects:   objects,
		Warehouse: a.Warehouse,
		Analytics: a.Analytics,
		Renderer:  renderer,
		Notifier:  a.Notifier,
		Runs:      a.Runs,
		Datasets: validation.Datasets{
			EHR:        cfg.EHRDataset,
			RDR:        cfg.RDRDataset,
			Vocabulary: cfg.VocabularyDataset,
			Lookup:     cfg.LookupDataset,
		},
		DRCBucket: cfg.DRCBucket,
		Sender:    cfg.ReportSender,
		Location:  cfg.Location,
		Logger:    logger,
	})
	a.Union = union.New(union.Config{
		EHRDataset:     cfg.EHRDataset,
		UnionedDataset: cfg.UnionedDataset,
		OutputBucket:   cfg.UnionedBucket,
		Location:       cfg.Location,
	}, a.Policy, a.Warehouse,
		analytics.NewRunner(a.Warehouse, objects, a.Sites, cfg.UnionedDataset, logger),
		a.Sites, a.Notifier, logger)
	a.Retractor = retraction.New(a.Warehouse, objects, a.Sites, cfg.EHRDataset, cfg.SandboxDataset, logger)

	ok = true
	return a, nil
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Datasets lists every dataset the configuration names.
func (a *App) Datasets() []string {
	c := a.Config
	return []string{c.EHRDataset, c.UnionedDataset, c.RDRDataset, c.CombinedDataset, c.VocabularyDataset, c.LookupDataset, c.SandboxDataset}
}

// Buckets lists the shared buckets plus every registered site bucket.
func (a *App) Buckets(ctx context.Context) ([]string, error) {
	buckets := []string{a.Config.DRCBucket, a.Config.UnionedBucket}
	sites, err := a.Sites.Sites(ctx)
	if err != nil {
		return nil, err
	}
	for _, s := range sites {
		if s.Bucket != "" {
			buckets = append(buckets, s.Bucket)
		}
	}
	return buckets, nil
}

// NewObjectStore builds the backend selected by cfg.StorageBackend. The
// returned func releases it.
func NewObjectStore(ctx context.Context, cfg *config.Config) (ObjectStore, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendS3:
		store, err := s3storage.New(s3storage.Options{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureBuckets(ctx, cfg.DRCBucket, cfg.UnionedBucket); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case config.BackendGCS:
		store, err := gcsstorage.New(ctx, cfg.GCPProject)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case config.BackendMemory:
		return storage.NewMemoryStore(cfg.DRCBucket, cfg.UnionedBucket), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}
