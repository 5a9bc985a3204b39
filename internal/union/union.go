// Package union combines every site's loaded CDM tables into one unioned EHR
// dataset. Site ids are shifted by a per-site offset so rows from different
// sites never collide; person ids are global and kept as is.
package union

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

const (
	// Prefix names the unioned tables and analytics datasource.
	Prefix = "unioned_ehr"
	// IDOffset is multiplied by a site's position to shift its ids.
	IDOffset int64 = 1_000_000_000_000_000

	StartedMessage   = "The ehr union job has started."
	CompletedMessage = "The ehr union job has completed successfully."
)

// Warehouse is the subset of the warehouse the union uses.
type Warehouse interface {
	CreateDataset(ctx context.Context, dataset string) error
	ListTables(ctx context.Context, dataset string) ([]string, error)
	QueryToTable(ctx context.Context, query string, dst warehouse.TableRef, args ...any) error
}

// Analytics runs and exports analyses for the unioned tables.
type Analytics interface {
	Run(ctx context.Context, hpoID string) error
	Export(ctx context.Context, hpoID, bucket, folderPrefix string) error
}

// SiteLister lists registered sites.
type SiteLister interface {
	Sites(ctx context.Context) ([]model.Site, error)
}

// Alerter publishes job alerts.
type Alerter interface {
	Alert(ctx context.Context, text string) error
}

// Config names the datasets and bucket the union reads and writes.
type Config struct {
	EHRDataset     string
	UnionedDataset string
	OutputBucket   string
	Location       *time.Location
	Now            func() time.Time
}

// Unioner runs the EHR union.
type Unioner struct {
	cfg       Config
	policy    *submission.Policy
	wh        Warehouse
	analytics Analytics
	sites     SiteLister
	alerts    Alerter
	log       *slog.Logger
}

// New constructs a Unioner. analytics must operate on cfg.UnionedDataset.
func New(cfg Config, policy *submission.Policy, wh Warehouse, analytics Analytics, sites SiteLister, alerts Alerter, logger *slog.Logger) *Unioner {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Unioner{cfg: cfg, policy: policy, wh: wh, analytics: analytics, sites: sites, alerts: alerts, log: logger}
}

// ExportFolder returns the output folder for a union run at t.
func ExportFolder(t time.Time) string {
	return fmt.Sprintf("%s_%s/", Prefix, t.Format("2006_01_02"))
}

// Run unions every CDM table, writes id mapping tables, then runs and exports
// analytics for the result.
func (u *Unioner) Run(ctx context.Context) error {
	u.alert(ctx, StartedMessage)
	sites, err := u.sites.Sites(ctx)
	if err != nil {
		return fmt.Errorf("list sites: %w", err)
	}
	if err := u.wh.CreateDataset(ctx, u.cfg.UnionedDataset); err != nil {
		return err
	}
	tables, err := u.wh.ListTables(ctx, u.cfg.EHRDataset)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(tables))
	for _, t := range tables {
		existing[t] = true
	}

	for _, file := range u.policy.CDMFiles() {
		table := submission.TableName(file)
		fields, _ := warehouse.Fields(table)
		if isMapped(table, fields) {
			if sql, ok := mappingSQL(u.cfg.EHRDataset, sites, table, existing); ok {
				dst := warehouse.TableRef{Dataset: u.cfg.UnionedDataset, Table: "_mapping_" + table}
				if err := u.wh.QueryToTable(ctx, sql, dst); err != nil {
					return fmt.Errorf("mapping %s: %w", table, err)
				}
			}
		}
		sql, ok := unionSQL(u.cfg.EHRDataset, sites, table, fields, existing)
		if !ok {
			u.log.Info("no site tables to union", "table", table)
			continue
		}
		dst := warehouse.TableRef{Dataset: u.cfg.UnionedDataset, Table: Prefix + "_" + table}
		if err := u.wh.QueryToTable(ctx, sql, dst); err != nil {
			return fmt.Errorf("union %s: %w", table, err)
		}
	}

	if err := u.analytics.Run(ctx, Prefix); err != nil {
		return fmt.Errorf("union analytics: %w", err)
	}
	folder := ExportFolder(u.cfg.Now().In(u.cfg.Location))
	if err := u.analytics.Export(ctx, Prefix, u.cfg.OutputBucket, folder); err != nil {
		return fmt.Errorf("union export: %w", err)
	}
	u.log.Info("ehr union complete", "sites", len(sites), "export", u.cfg.OutputBucket+"/"+folder)
	u.alert(ctx, CompletedMessage)
	return nil
}

func (u *Unioner) alert(ctx context.Context, text string) {
	if u.alerts == nil {
		return
	}
	if err := u.alerts.Alert(ctx, text); err != nil {
		u.log.Warn("union alert", "err", err)
	}
}

// isMapped reports whether table has its own surrogate key.
func isMapped(table string, fields []warehouse.Field) bool {
	return len(fields) > 0 && fields[0].Name == table+"_id"
}

// referencedTable returns the mapped table a column points into, or "".
func referencedTable(column string) string {
	if column == "preceding_visit_occurrence_id" {
		return "visit_occurrence"
	}
	table, ok := strings.CutSuffix(column, "_id")
	if !ok || table == "person" {
		return ""
	}
	fields, found := warehouse.Fields(table)
	if !found || !isMapped(table, fields) {
		return ""
	}
	return table
}

func offset(i int) int64 { return int64(i+1) * IDOffset }

func unionSQL(ehr string, sites []model.Site, table string, fields []warehouse.Field, existing map[string]bool) (string, bool) {
	var parts []string
	for i, site := range sites {
		src := warehouse.SiteTable(site.HPOID, table)
		if !existing[src] {
			continue
		}
		cols := make([]string, len(fields))
		for j, f := range fields {
			col := pgx.Identifier{f.Name}.Sanitize()
			if referencedTable(f.Name) != "" {
				cols[j] = fmt.Sprintf("%s + %d AS %s", col, offset(i), col)
			} else {
				cols[j] = col
			}
		}
		parts = append(parts, fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "),
			warehouse.TableRef{Dataset: ehr, Table: src}.Sanitize()))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\nUNION ALL\n"), true
}

func mappingSQL(ehr string, sites []model.Site, table string, existing map[string]bool) (string, bool) {
	key := pgx.Identifier{table + "_id"}.Sanitize()
	var parts []string
	for i, site := range sites {
		src := warehouse.SiteTable(site.HPOID, table)
		if !existing[src] {
			continue
		}
		parts = append(parts, fmt.Sprintf("SELECT '%s' AS src_hpo_id, '%s' AS src_table_id, %s AS %s, %s + %d AS %s FROM %s",
			site.HPOID, src, key, pgx.Identifier{"src_" + table + "_id"}.Sanitize(), key, offset(i), key,
			warehouse.TableRef{Dataset: ehr, Table: src}.Sanitize()))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\nUNION ALL\n"), true
}
