package validation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

// RequiredFilesMissing is the submission error for folders that lack the
// files analytics depend on.
const RequiredFilesMissing = "Required files are missing"

// MetricsGenerator assembles the report for a validated submission.
type MetricsGenerator struct {
	policy    *submission.Policy
	wh        Warehouse
	analytics Analytics
	queries   *Queries
	ehr       string
	log       *slog.Logger
}

// NewMetricsGenerator constructs a MetricsGenerator.
func NewMetricsGenerator(policy *submission.Policy, wh Warehouse, analytics Analytics, queries *Queries, ehrDataset string, logger *slog.Logger) *MetricsGenerator {
	return &MetricsGenerator{policy: policy, wh: wh, analytics: analytics, queries: queries, ehr: ehrDataset, log: logger}
}

// Generate builds the report for site's folder. A warehouse or analytics
// failure does not fail the call: the report is returned as far as it got
// with ErrorOccurred set.
func (g *MetricsGenerator) Generate(ctx context.Context, site model.Site, bucket, folderPrefix string, summary *model.Summary) *model.Report {
	report := &model.Report{
		HPOName:  site.Name,
		Folder:   folderPrefix,
		Results:  summary.Results,
		Errors:   summary.Errors,
		Warnings: summary.Warnings,
	}
	if err := g.collect(ctx, site.HPOID, bucket, folderPrefix, summary, report); err != nil {
		g.log.Error("metrics generation failed", "hpo_id", site.HPOID, "folder", folderPrefix, "err", err)
		report.ErrorOccurred = true
	}
	return report
}

func (g *MetricsGenerator) collect(ctx context.Context, hpoID, bucket, folderPrefix string, summary *model.Summary, report *model.Report) error {
	if g.requiredLoaded(summary) {
		if err := g.analytics.Run(ctx, hpoID); err != nil {
			return fmt.Errorf("run analytics: %w", err)
		}
		if err := g.analytics.Export(ctx, hpoID, bucket, folderPrefix); err != nil {
			return fmt.Errorf("export analytics: %w", err)
		}
		rows, err := g.query(ctx, g.queries.HeelErrors(hpoID))
		if err != nil {
			return fmt.Errorf("heel errors: %w", err)
		}
		report.HeelErrors = rows
	} else {
		report.SubmissionError = RequiredFilesMissing
	}

	tables, err := g.wh.ListTables(ctx, g.ehr)
	if err != nil {
		return err
	}
	if sql, ok := g.queries.DuplicateCounts(hpoID, tables); ok {
		if report.NonuniqueKeyMetrics, err = g.query(ctx, sql); err != nil {
			return fmt.Errorf("nonunique key metrics: %w", err)
		}
	} else {
		report.NonuniqueKeyMetrics = []model.Row{}
	}
	if report.DrugClassMetrics, err = g.query(ctx, g.queries.DrugClassCounts(hpoID)); err != nil {
		return fmt.Errorf("drug class metrics: %w", err)
	}
	sql, args, err := g.queries.MissingPII(hpoID)
	if err != nil {
		return err
	}
	if report.MissingPII, err = g.query(ctx, sql, args...); err != nil {
		return fmt.Errorf("missing pii: %w", err)
	}
	if sql, ok := g.queries.Completeness(hpoID, tables); ok {
		if report.Completeness, err = g.query(ctx, sql); err != nil {
			return fmt.Errorf("completeness: %w", err)
		}
	} else {
		report.Completeness = []model.Row{}
	}
	if report.LabConceptMetrics, err = g.query(ctx, g.queries.LabConcepts(hpoID)); err != nil {
		return fmt.Errorf("lab concept metrics: %w", err)
	}
	return nil
}

// query never returns nil rows on success so the report can tell "ran and
// found nothing" from "never ran".
func (g *MetricsGenerator) query(ctx context.Context, sql string, args ...any) ([]model.Row, error) {
	rows, err := g.wh.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.Row{}
	}
	return rows, nil
}

func (g *MetricsGenerator) requiredLoaded(summary *model.Summary) bool {
	loaded := make(map[string]bool)
	for _, name := range summary.Loaded() {
		loaded[name] = true
	}
	for _, name := range g.policy.AnalyticsRequiredFiles() {
		if !loaded[name] {
			return false
		}
	}
	return true
}
