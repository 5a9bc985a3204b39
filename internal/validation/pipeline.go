package validation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

// Config wires a Pipeline.
type Config struct {
	Policy    *submission.Policy
	Sites     SiteDirectory
	Objects   ObjectStore
	Warehouse Warehouse
	Analytics Analytics
	Renderer  Renderer
	Notifier  Notifier
	// Runs is optional.
	Runs      RunRecorder
	Datasets  Datasets
	DRCBucket string
	Sender    string
	Location  *time.Location
	Now       func() time.Time
	Logger    *slog.Logger
}

// Pipeline processes site submissions end to end.
type Pipeline struct {
	policy    *submission.Policy
	sites     SiteDirectory
	objects   ObjectStore
	runs      RunRecorder
	selector  *submission.Selector
	validator *Validator
	metrics   *MetricsGenerator
	reporter  *Reporter
	drcBucket string
	log       *slog.Logger
}

// NewPipeline constructs a Pipeline from cfg.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	queries := NewQueries(cfg.Datasets, cfg.Policy)
	return &Pipeline{
		policy:    cfg.Policy,
		sites:     cfg.Sites,
		objects:   cfg.Objects,
		runs:      cfg.Runs,
		selector:  submission.NewSelector(cfg.Policy, cfg.Objects, submission.WithClock(cfg.Now)),
		validator: NewValidator(cfg.Policy, cfg.Warehouse, cfg.Datasets.EHR, cfg.Logger),
		metrics:   NewMetricsGenerator(cfg.Policy, cfg.Warehouse, cfg.Analytics, queries, cfg.Datasets.EHR, cfg.Logger),
		reporter:  NewReporter(cfg.Objects, cfg.Renderer, cfg.Notifier, cfg.Sender, cfg.Location, cfg.Now, cfg.Logger),
		drcBucket: cfg.DRCBucket,
		log:       cfg.Logger,
	}
}

// ProcessSite validates the current submission of hpoID. A missing bucket or
// an empty selection is not an error. force reprocesses an already processed
// folder.
func (p *Pipeline) ProcessSite(ctx context.Context, hpoID string, force bool) error {
	log := p.log.With("hpo_id", hpoID)
	site, err := p.sites.Site(ctx, hpoID)
	if err != nil {
		return err
	}
	runID := p.startRun(ctx, log, site.HPOID)
	outcome, err := p.processSite(ctx, log, *site, force)
	if err != nil {
		log.Error("site run failed", "err", err)
		outcome = model.RunOutcome{Status: model.RunFailed, Folder: outcome.Folder, Message: err.Error()}
	}
	p.finishRun(ctx, log, runID, outcome)
	return err
}

func (p *Pipeline) processSite(ctx context.Context, log *slog.Logger, site model.Site, force bool) (model.RunOutcome, error) {
	items, err := p.objects.List(ctx, site.Bucket)
	if errors.Is(err, model.ErrBucketNotFound) {
		log.Warn("bucket does not exist", "bucket", site.Bucket)
		return model.RunOutcome{Status: model.RunSkipped, Message: err.Error()}, nil
	}
	if err != nil {
		return model.RunOutcome{}, fmt.Errorf("list %s: %w", site.Bucket, err)
	}
	folder, err := p.selector.Select(ctx, site.Bucket, items, force)
	if err != nil {
		return model.RunOutcome{}, err
	}
	if folder == "" {
		log.Info("no submission to process", "bucket", site.Bucket)
		return model.RunOutcome{Status: model.RunSkipped}, nil
	}
	log = log.With("folder", folder)
	folderItems := submission.FolderItems(items, folder)

	var report *model.Report
	if !submission.IsValidFolderName(folder) {
		log.Warn("folder name does not follow the naming convention")
		report = EmptyReport(site, folder)
	} else {
		summary, err := p.validator.Validate(ctx, site.HPOID, site.Bucket, folder, folderItems)
		if err != nil {
			return model.RunOutcome{Folder: folder}, err
		}
		report = p.metrics.Generate(ctx, site, site.Bucket, folder, summary)
	}
	if err := p.reporter.Report(ctx, site, report, folderItems, site.Bucket, folder); err != nil {
		return model.RunOutcome{Folder: folder}, err
	}
	log.Info("submission processed", "error_occurred", report.ErrorOccurred)
	return model.RunOutcome{Status: model.RunCompleted, Folder: folder, ErrorOccurred: report.ErrorOccurred}, nil
}

// ProcessAll runs ProcessSite for every registered site. A failing site does
// not stop the others; the ids of failed sites are returned.
func (p *Pipeline) ProcessAll(ctx context.Context) ([]string, error) {
	sites, err := p.sites.Sites(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	var failed []string
	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return failed, err
		}
		if err := p.ProcessSite(ctx, site.HPOID, false); err != nil {
			failed = append(failed, site.HPOID)
		}
	}
	p.log.Info("validated all sites", "sites", len(sites), "failed", len(failed))
	return failed, nil
}

func (p *Pipeline) startRun(ctx context.Context, log *slog.Logger, hpoID string) string {
	if p.runs == nil {
		return ""
	}
	id, err := p.runs.Start(ctx, hpoID)
	if err != nil {
		log.Warn("record run start", "err", err)
		return ""
	}
	return id
}

func (p *Pipeline) finishRun(ctx context.Context, log *slog.Logger, runID string, outcome model.RunOutcome) {
	if p.runs == nil || runID == "" {
		return
	}
	if err := p.runs.Finish(ctx, runID, outcome); err != nil {
		log.Warn("record run finish", "run_id", runID, "err", err)
	}
}
