// Package validation runs one site's submission through load, metrics and
// reporting. Cloud access goes through the small interfaces below so the
// pipeline runs the same against S3, GCS or the in-memory store.
package validation

import (
	"context"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/notify"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// ObjectStore is the bucket API the pipeline uses.
type ObjectStore interface {
	List(ctx context.Context, bucket string) ([]model.BucketItem, error)
	Read(ctx context.Context, bucket, name string) ([]byte, error)
	Write(ctx context.Context, bucket, name string, data []byte, contentType string) error
	Copy(ctx context.Context, srcBucket, srcName, dstBucket, dstName string) error
	Stat(ctx context.Context, bucket, name string) (*model.BucketItem, error)
}

// Warehouse is the table store files are loaded into.
type Warehouse interface {
	CreateTable(ctx context.Context, ref warehouse.TableRef, fields []warehouse.Field, dropExisting bool) error
	LoadCSV(ctx context.Context, table warehouse.TableRef, src warehouse.ObjectRef) (string, error)
	Wait(ctx context.Context, jobIDs []string) ([]string, error)
	JobStatus(ctx context.Context, jobID string) (*warehouse.JobStatus, error)
	ListTables(ctx context.Context, dataset string) ([]string, error)
	Query(ctx context.Context, query string, args ...any) ([]model.Row, error)
}

// SiteDirectory resolves HPO sites.
type SiteDirectory interface {
	Sites(ctx context.Context) ([]model.Site, error)
	Site(ctx context.Context, hpoID string) (*model.Site, error)
}

// Analytics runs the analysis battery over a site's loaded tables.
type Analytics interface {
	Run(ctx context.Context, hpoID string) error
	Export(ctx context.Context, hpoID, bucket, folderPrefix string) error
}

// Renderer turns a report into the results page.
type Renderer interface {
	Render(report *model.Report) ([]byte, error)
}

// Notifier delivers report e-mails.
type Notifier interface {
	SendReport(ctx context.Context, msg *notify.ReportMessage) (string, error)
}

// RunRecorder keeps the submission run log.
type RunRecorder interface {
	Start(ctx context.Context, hpoID string) (string, error)
	Finish(ctx context.Context, runID string, outcome model.RunOutcome) error
}
