package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/DataSteward/internal/analytics"
	"github.com/dharsanguruparan/DataSteward/internal/queue"
	"github.com/dharsanguruparan/DataSteward/internal/retraction"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// SitePipeline is implemented by *validation.Pipeline.
type SitePipeline interface {
	ProcessSite(ctx context.Context, hpoID string, force bool) error
	ProcessAll(ctx context.Context) ([]string, error)
	CopyFiles(ctx context.Context, hpoID string) (int, error)
}

// Exporter is implemented by *analytics.Runner.
type Exporter interface {
	Export(ctx context.Context, hpoID, bucket, folderPrefix string) error
}

// Unioner is implemented by *union.Unioner.
type Unioner interface {
	Run(ctx context.Context) error
}

// Retractor is implemented by *retraction.Retractor.
type Retractor interface {
	Run(ctx context.Context, req retraction.Request) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	pipeline SitePipeline
	achilles Exporter
	union    Unioner
	retract  Retractor
	log      *slog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(pipeline SitePipeline, achilles Exporter, union Unioner, retract Retractor, logger *slog.Logger) *Processor {
	return &Processor{pipeline: pipeline, achilles: achilles, union: union, retract: retract, log: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ValidateSiteTask, p.handleValidateSite)
	mux.HandleFunc(queue.ValidateAllTask, p.handleValidateAll)
	mux.HandleFunc(queue.CopyFilesTask, p.handleCopyFiles)
	mux.HandleFunc(queue.UploadAchillesTask, p.handleUploadAchilles)
	mux.HandleFunc(queue.UnionTask, p.handleUnion)
	mux.HandleFunc(queue.RetractionTask, p.handleRetraction)
	return mux
}

func (p *Processor) handleValidateSite(ctx context.Context, task *asynq.Task) error {
	var payload queue.SitePayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	if err := p.pipeline.ProcessSite(ctx, payload.HPOID, payload.Force); err != nil {
		p.log.Error("site validation failed", "hpo_id", payload.HPOID, "err", err)
		return err
	}
	return nil
}

func (p *Processor) handleValidateAll(ctx context.Context, _ *asynq.Task) error {
	failed, err := p.pipeline.ProcessAll(ctx)
	if err != nil {
		p.log.Error("validate all failed", "err", err)
		return err
	}
	if len(failed) > 0 {
		p.log.Warn("sites failed validation", "hpo_ids", strings.Join(failed, ","))
	}
	return nil
}

func (p *Processor) handleCopyFiles(ctx context.Context, task *asynq.Task) error {
	var payload queue.SitePayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	n, err := p.pipeline.CopyFiles(ctx, payload.HPOID)
	if err != nil {
		p.log.Error("copy files failed", "hpo_id", payload.HPOID, "err", err)
		return err
	}
	p.log.Info("copied site files", "hpo_id", payload.HPOID, "objects", n)
	return nil
}

// handleUploadAchilles writes the reports to the root of the site's bucket.
func (p *Processor) handleUploadAchilles(ctx context.Context, task *asynq.Task) error {
	var payload queue.SitePayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	if err := p.achilles.Export(ctx, payload.HPOID, "", ""); err != nil {
		if errors.Is(err, analytics.ErrConfiguration) {
			return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
		}
		p.log.Error("upload achilles files failed", "hpo_id", payload.HPOID, "err", err)
		return err
	}
	p.log.Info("uploaded achilles files", "hpo_id", payload.HPOID)
	return nil
}

func (p *Processor) handleUnion(ctx context.Context, _ *asynq.Task) error {
	if err := p.union.Run(ctx); err != nil {
		p.log.Error("ehr union failed", "err", err)
		return err
	}
	return nil
}

func (p *Processor) handleRetraction(ctx context.Context, task *asynq.Task) error {
	var payload queue.RetractionPayload
	if err := decode(task, &payload); err != nil {
		return err
	}
	req := retraction.Request{
		PIDTable: warehouse.TableRef{Dataset: payload.PIDDataset, Table: payload.PIDTable},
		HPOID:    payload.HPOID,
		Datasets: payload.Datasets,
		Type:     payload.Type,
		Folder:   payload.Folder,
	}
	if err := req.Validate(); err != nil {
		// a malformed request never succeeds on retry
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	if err := p.retract.Run(ctx, req); err != nil {
		p.log.Error("retraction failed", "hpo_id", payload.HPOID, "err", err)
		return err
	}
	return nil
}

func decode(task *asynq.Task, v any) error {
	if err := json.Unmarshal(task.Payload(), v); err != nil {
		return fmt.Errorf("decode payload: %w: %v", asynq.SkipRetry, err)
	}
	return nil
}
