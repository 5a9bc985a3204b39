// Package analytics computes the per-site summary statistics and data
// quality ("heel") checks that feed the submission report, and exports them
// as JSON next to the submission.
package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// ErrConfiguration is returned when an export names no datasource.
var ErrConfiguration = errors.New("analytics: export requires a datasource")

// ExportPrefix is where exports live inside a submission folder.
const ExportPrefix = submission.CurationReportPrefix + "data/"

// Warehouse is the subset of the warehouse the runner uses.
type Warehouse interface {
	CreateTable(ctx context.Context, ref warehouse.TableRef, fields []warehouse.Field, dropExisting bool) error
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]model.Row, error)
}

// ObjectWriter stores exported reports.
type ObjectWriter interface {
	Write(ctx context.Context, bucket, name string, data []byte, contentType string) error
}

// SiteResolver finds a site's bucket when an export names none.
type SiteResolver interface {
	Site(ctx context.Context, hpoID string) (*model.Site, error)
}

// Runner runs analyses for one site at a time.
type Runner struct {
	wh      Warehouse
	objects ObjectWriter
	sites   SiteResolver
	dataset string
	log     *slog.Logger
}

// NewRunner constructs a Runner over the site tables in dataset.
func NewRunner(wh Warehouse, objects ObjectWriter, sites SiteResolver, dataset string, logger *slog.Logger) *Runner {
	return &Runner{wh: wh, objects: objects, sites: sites, dataset: dataset, log: logger}
}

func (r *Runner) table(hpoID, name string) warehouse.TableRef {
	return warehouse.TableRef{Dataset: r.dataset, Table: warehouse.SiteTable(hpoID, name)}
}

// Run recreates the site's results and heel tables and fills them.
func (r *Runner) Run(ctx context.Context, hpoID string) error {
	results := r.table(hpoID, "achilles_results")
	heel := r.table(hpoID, "achilles_heel_results")
	for _, name := range []string{"achilles_results", "achilles_heel_results"} {
		fields, _ := warehouse.Fields(name)
		if err := r.wh.CreateTable(ctx, r.table(hpoID, name), fields, true); err != nil {
			return err
		}
	}
	for _, a := range analyses {
		if _, err := r.wh.Exec(ctx, a.insertSQL(results, r.table(hpoID, a.table))); err != nil {
			return fmt.Errorf("analysis %d: %w", a.id, err)
		}
	}
	for _, rule := range heelRules {
		if _, err := r.wh.Exec(ctx, rule.insertSQL(heel, func(t string) string { return r.table(hpoID, t).Sanitize() }), rule.warning); err != nil {
			return fmt.Errorf("heel rule %d: %w", rule.id, err)
		}
	}
	r.log.Info("analytics complete", "hpo_id", hpoID, "analyses", len(analyses), "heel_rules", len(heelRules))
	return nil
}

// Export writes the site's reports under folderPrefix in bucket. An empty
// bucket resolves to the site's own bucket.
func (r *Runner) Export(ctx context.Context, hpoID, bucket, folderPrefix string) error {
	if hpoID == "" {
		return ErrConfiguration
	}
	if bucket == "" {
		site, err := r.sites.Site(ctx, hpoID)
		if err != nil {
			return err
		}
		bucket = site.Bucket
	}
	results := r.table(hpoID, "achilles_results").Sanitize()
	heel := r.table(hpoID, "achilles_heel_results").Sanitize()
	for _, rep := range reports {
		rows, err := r.wh.Query(ctx, rep.query(results, heel))
		if err != nil {
			return fmt.Errorf("export %s: %w", rep.name, err)
		}
		body, err := json.Marshal(map[string]any{rep.key: nonNil(rows)})
		if err != nil {
			return fmt.Errorf("encode %s: %w", rep.name, err)
		}
		name := folderPrefix + ExportPrefix + hpoID + "/" + rep.name + ".json"
		if err := r.objects.Write(ctx, bucket, name, body, "application/json"); err != nil {
			return err
		}
	}
	datasources, _ := json.Marshal(map[string]any{
		"datasources": []map[string]any{{"name": hpoID, "folder": hpoID, "cdmVersion": 5}},
	})
	return r.objects.Write(ctx, bucket, folderPrefix+ExportPrefix+"datasources.json", datasources, "application/json")
}

func nonNil(rows []model.Row) []model.Row {
	if rows == nil {
		return []model.Row{}
	}
	return rows
}
