// Package retraction removes participants from the warehouse and from site
// submission files, and trims records dated after a participant's
// deactivation.
package retraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// Retraction types.
const (
	RDRAndEHR = "rdr_and_ehr"
	OnlyEHR   = "only_ehr"
)

// Folder selectors for object store retraction.
const (
	AllFolders = "all_folders"
	NoFolders  = "none"
)

// ErrInvalidRequest is wrapped for malformed retraction requests.
var ErrInvalidRequest = errors.New("invalid retraction request")

// Warehouse is the subset of the warehouse retraction uses.
type Warehouse interface {
	CreateDataset(ctx context.Context, dataset string) error
	ListTables(ctx context.Context, dataset string) ([]string, error)
	Columns(ctx context.Context, ref warehouse.TableRef) ([]string, error)
	QueryToTable(ctx context.Context, query string, dst warehouse.TableRef, args ...any) error
	Exec(ctx context.Context, stmt string, args ...any) (int64, error)
	Query(ctx context.Context, query string, args ...any) ([]model.Row, error)
}

// ObjectStore is the bucket API object retraction uses.
type ObjectStore interface {
	List(ctx context.Context, bucket string) ([]model.BucketItem, error)
	Read(ctx context.Context, bucket, name string) ([]byte, error)
	Write(ctx context.Context, bucket, name string, data []byte, contentType string) error
}

// SiteResolver resolves a site's bucket.
type SiteResolver interface {
	Site(ctx context.Context, hpoID string) (*model.Site, error)
}

// Request describes one retraction.
type Request struct {
	// PIDTable holds the person_id column of participants to retract.
	PIDTable warehouse.TableRef
	HPOID    string
	Datasets []string
	Type     string
	// Folder is a submission folder, AllFolders or NoFolders.
	Folder string
}

// Validate checks the request fields.
func (r Request) Validate() error {
	if r.PIDTable.Dataset == "" || r.PIDTable.Table == "" {
		return fmt.Errorf("%w: pid table is required", ErrInvalidRequest)
	}
	if r.Type != RDRAndEHR && r.Type != OnlyEHR {
		return fmt.Errorf("%w: type must be %s or %s, got %q", ErrInvalidRequest, RDRAndEHR, OnlyEHR, r.Type)
	}
	return nil
}

// Retractor runs retractions.
type Retractor struct {
	wh         Warehouse
	objects    ObjectStore
	sites      SiteResolver
	ehrDataset string
	sandbox    string
	log        *slog.Logger
}

// New constructs a Retractor. Removed rows are kept in sandboxDataset.
func New(wh Warehouse, objects ObjectStore, sites SiteResolver, ehrDataset, sandboxDataset string, logger *slog.Logger) *Retractor {
	return &Retractor{wh: wh, objects: objects, sites: sites, ehrDataset: ehrDataset, sandbox: sandboxDataset, log: logger}
}

// Run retracts from the warehouse and then from the site bucket.
func (r *Retractor) Run(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}
	counts, err := r.RetractWarehouse(ctx, req)
	if err != nil {
		return err
	}
	var total int64
	for _, n := range counts {
		total += n
	}
	r.log.Info("warehouse retraction complete", "tables", len(counts), "rows", total)
	if req.HPOID == "" || req.Folder == "" || req.Folder == NoFolders {
		return nil
	}
	rewritten, err := r.RetractObjects(ctx, req)
	if err != nil {
		return err
	}
	r.log.Info("bucket retraction complete", "hpo_id", req.HPOID, "files", rewritten)
	return nil
}

// RetractWarehouse sandboxes and deletes the participants' rows from every
// table with a person_id column in the requested datasets. OnlyEHR leaves rdr
// datasets alone. In the EHR dataset only the requested site's tables are
// touched. The returned map is keyed by dataset.table.
func (r *Retractor) RetractWarehouse(ctx context.Context, req Request) (map[string]int64, error) {
	if err := r.wh.CreateDataset(ctx, r.sandbox); err != nil {
		return nil, err
	}
	pids := fmt.Sprintf("SELECT person_id FROM %s", req.PIDTable.Sanitize())
	counts := make(map[string]int64)
	for _, dataset := range req.Datasets {
		if req.Type == OnlyEHR && strings.HasPrefix(dataset, "rdr") {
			r.log.Info("skipping rdr dataset", "dataset", dataset)
			continue
		}
		tables, err := r.wh.ListTables(ctx, dataset)
		if err != nil {
			return counts, err
		}
		for _, table := range tables {
			if dataset == r.ehrDataset && (req.HPOID == "" || !strings.HasPrefix(table, strings.ToLower(req.HPOID)+"_")) {
				continue
			}
			ref := warehouse.TableRef{Dataset: dataset, Table: table}
			ok, err := r.hasColumn(ctx, ref, "person_id")
			if err != nil {
				return counts, err
			}
			if !ok {
				continue
			}
			where := fmt.Sprintf("person_id IN (%s)", pids)
			n, err := r.sandboxAndDelete(ctx, ref, where)
			if err != nil {
				return counts, err
			}
			counts[ref.String()] = n
		}
	}
	return counts, nil
}

func (r *Retractor) hasColumn(ctx context.Context, ref warehouse.TableRef, column string) (bool, error) {
	cols, err := r.wh.Columns(ctx, ref)
	if err != nil {
		return false, err
	}
	for _, c := range cols {
		if c == column {
			return true, nil
		}
	}
	return false, nil
}

// sandboxAndDelete copies the matching rows aside and removes them.
func (r *Retractor) sandboxAndDelete(ctx context.Context, ref warehouse.TableRef, where string) (int64, error) {
	sandbox := warehouse.TableRef{Dataset: r.sandbox, Table: ref.Dataset + "_" + ref.Table}
	if err := r.wh.QueryToTable(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s", ref.Sanitize(), where), sandbox); err != nil {
		return 0, fmt.Errorf("sandbox %s: %w", ref, err)
	}
	n, err := r.wh.Exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s", ref.Sanitize(), where))
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", ref, err)
	}
	return n, nil
}

func (r *Retractor) personIDs(ctx context.Context, pidTable warehouse.TableRef) (map[string]bool, error) {
	rows, err := r.wh.Query(ctx, fmt.Sprintf("SELECT DISTINCT person_id FROM %s", pidTable.Sanitize()))
	if err != nil {
		return nil, fmt.Errorf("read pids: %w", err)
	}
	ids := make(map[string]bool, len(rows))
	for _, row := range rows {
		ids[fmt.Sprint(row["person_id"])] = true
	}
	return ids, nil
}
