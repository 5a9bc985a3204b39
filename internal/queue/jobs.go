package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// ValidateSiteTask validates the latest submission of one site.
	ValidateSiteTask = "validation:site"
	// ValidateAllTask walks every registered site.
	ValidateAllTask = "validation:all"
	// CopyFilesTask copies a site bucket into the DRC bucket.
	CopyFilesTask = "files:copy"
	// UploadAchillesTask exports a site's analytics reports to its bucket.
	UploadAchillesTask = "achilles:upload"
	// UnionTask builds the unioned EHR dataset.
	UnionTask = "ehr:union"
	// RetractionTask removes participants from datasets and site buckets.
	RetractionTask = "retraction:run"
)

const (
	siteTimeout  = 2 * time.Hour
	allTimeout   = 12 * time.Hour
	uniqueWindow = time.Hour
)

// SitePayload identifies a site for ValidateSiteTask, CopyFilesTask and
// UploadAchillesTask.
type SitePayload struct {
	HPOID string `json:"hpo_id"`
	Force bool   `json:"force,omitempty"`
}

// RetractionPayload carries a retraction request.
type RetractionPayload struct {
	HPOID      string   `json:"hpo_id"`
	PIDDataset string   `json:"pid_dataset"`
	PIDTable   string   `json:"pid_table"`
	Datasets   []string `json:"dataset_ids"`
	Type       string   `json:"retraction_type"`
	Folder     string   `json:"submission_folder,omitempty"`
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Registrar is satisfied by *asynq.Scheduler.
type Registrar interface {
	Register(cronspec string, task *asynq.Task, opts ...asynq.Option) (string, error)
}

// NewValidateSiteTask builds a site validation task.
func NewValidateSiteTask(hpoID string, force bool) (*asynq.Task, error) {
	return newTask(ValidateSiteTask, SitePayload{HPOID: hpoID, Force: force})
}

// NewValidateAllTask builds the all-sites validation task.
func NewValidateAllTask() *asynq.Task {
	return asynq.NewTask(ValidateAllTask, nil)
}

// EnqueueValidateSite enqueues validation for one site. Validation is not
// retried; the next scheduled run picks the folder up again.
func EnqueueValidateSite(ctx context.Context, client Enqueuer, hpoID string, force bool) (string, error) {
	task, err := NewValidateSiteTask(hpoID, force)
	if err != nil {
		return "", err
	}
	return enqueue(ctx, client, task, asynq.MaxRetry(0), asynq.Timeout(siteTimeout))
}

// EnqueueValidateAll enqueues validation for every site. Duplicate requests
// within an hour collapse into one task.
func EnqueueValidateAll(ctx context.Context, client Enqueuer) (string, error) {
	return enqueue(ctx, client, NewValidateAllTask(), asynq.MaxRetry(0), asynq.Timeout(allTimeout), asynq.Unique(uniqueWindow))
}

// EnqueueCopyFiles enqueues a copy of the site's bucket.
func EnqueueCopyFiles(ctx context.Context, client Enqueuer, hpoID string) (string, error) {
	task, err := newTask(CopyFilesTask, SitePayload{HPOID: hpoID})
	if err != nil {
		return "", err
	}
	return enqueue(ctx, client, task, asynq.MaxRetry(3), asynq.Timeout(siteTimeout))
}

// EnqueueUploadAchilles enqueues an export of the site's analytics reports.
func EnqueueUploadAchilles(ctx context.Context, client Enqueuer, hpoID string) (string, error) {
	task, err := newTask(UploadAchillesTask, SitePayload{HPOID: hpoID})
	if err != nil {
		return "", err
	}
	return enqueue(ctx, client, task, asynq.MaxRetry(3), asynq.Timeout(siteTimeout))
}

// EnqueueUnion enqueues the EHR union.
func EnqueueUnion(ctx context.Context, client Enqueuer) (string, error) {
	return enqueue(ctx, client, asynq.NewTask(UnionTask, nil), asynq.MaxRetry(0), asynq.Timeout(allTimeout), asynq.Unique(uniqueWindow))
}

// EnqueueRetraction enqueues a retraction.
func EnqueueRetraction(ctx context.Context, client Enqueuer, payload RetractionPayload) (string, error) {
	task, err := newTask(RetractionTask, payload)
	if err != nil {
		return "", err
	}
	return enqueue(ctx, client, task, asynq.MaxRetry(0), asynq.Timeout(allTimeout))
}

// RegisterSchedule registers the periodic all-sites validation.
func RegisterSchedule(r Registrar, cronspec string) (string, error) {
	id, err := r.Register(cronspec, NewValidateAllTask(), asynq.MaxRetry(0), asynq.Timeout(allTimeout), asynq.Unique(uniqueWindow))
	if err != nil {
		return "", fmt.Errorf("register validate-all schedule: %w", err)
	}
	return id, nil
}

func newTask(typename string, payload any) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return asynq.NewTask(typename, data), nil
}

func enqueue(ctx context.Context, client Enqueuer, task *asynq.Task, opts ...asynq.Option) (string, error) {
	info, err := client.EnqueueContext(ctx, task, opts...)
	if err != nil {
		return "", fmt.Errorf("enqueue %s task: %w", task.Type(), err)
	}
	return info.ID, nil
}
