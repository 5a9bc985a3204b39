package retraction

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/storage"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

type stubWarehouse struct {
	tables   map[string][]string
	columns  map[string][]string
	pids     []model.Row
	sandbox  []string
	deletes  []string
	datasets []string
}

func (s *stubWarehouse) CreateDataset(_ context.Context, dataset string) error {
	s.datasets = append(s.datasets, dataset)
	return nil
}

func (s *stubWarehouse) ListTables(_ context.Context, dataset string) ([]string, error) {
	return s.tables[dataset], nil
}

func (s *stubWarehouse) Columns(_ context.Context, ref warehouse.TableRef) ([]string, error) {
	return s.columns[ref.Table], nil
}

func (s *stubWarehouse) QueryToTable(_ context.Context, _ string, dst warehouse.TableRef, _ ...any) error {
	s.sandbox = append(s.sandbox, dst.String())
	return nil
}

func (s *stubWarehouse) Exec(_ context.Context, stmt string, _ ...any) (int64, error) {
	s.deletes = append(s.deletes, stmt)
	return 2, nil
}

func (s *stubWarehouse) Query(context.Context, string, ...any) ([]model.Row, error) {
	return s.pids, nil
}

type stubSites struct{ bucket string }

func (s stubSites) Site(_ context.Context, hpoID string) (*model.Site, error) {
	return &model.Site{HPOID: hpoID, Bucket: s.bucket}, nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestRequestValidate(t *testing.T) {
	req := Request{PIDTable: warehouse.TableRef{Dataset: "sandbox", Table: "pids"}, Type: "everything"}
	if err := req.Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	req.Type = OnlyEHR
	if err := req.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := (Request{Type: OnlyEHR}).Validate(); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected missing pid table error, got %v", err)
	}
}

func TestRetractWarehouseOnlyEHR(t *testing.T) {
	wh := &stubWarehouse{
		tables: map[string][]string{
			"ehr":         {"hpo1_person", "hpo1_observation", "hpo2_person", "hpo1_location"},
			"rdr20240301": {"person"},
			"combined":    {"person", "concept"},
		},
		columns: map[string][]string{
			"hpo1_person":      {"person_id", "gender_concept_id"},
			"hpo1_observation": {"observation_id", "person_id"},
			"hpo2_person":      {"person_id"},
			"hpo1_location":    {"location_id"},
			"person":           {"person_id"},
			"concept":          {"concept_id"},
		},
	}
	r := New(wh, nil, nil, "ehr", "retraction_sandbox", testLogger())
	counts, err := r.RetractWarehouse(context.Background(), Request{
		PIDTable: warehouse.TableRef{Dataset: "sandbox", Table: "pids"},
		HPOID:    "HPO1",
		Datasets: []string{"ehr", "rdr20240301", "combined"},
		Type:     OnlyEHR,
	})
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	want := []string{"ehr.hpo1_person", "ehr.hpo1_observation", "combined.person"}
	if len(counts) != len(want) {
		t.Fatalf("expected %d tables, got %v", len(want), counts)
	}
	for _, k := range want {
		if counts[k] != 2 {
			t.Fatalf("expected 2 rows retracted from %s, got %v", k, counts)
		}
	}
	if wh.sandbox[0] != "retraction_sandbox.ehr_hpo1_person" {
		t.Fatalf("unexpected sandbox table %q", wh.sandbox[0])
	}
	if !strings.Contains(wh.deletes[0], `DELETE FROM "ehr"."hpo1_person" WHERE person_id IN (SELECT person_id FROM "sandbox"."pids")`) {
		t.Fatalf("unexpected delete %q", wh.deletes[0])
	}
}

func TestRetractObjectsRewritesFiles(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	store.CreateBucket(ctx, "site-bucket")
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	store.Put("site-bucket", "2024-03-01-v1/person.csv", []byte("person_id,gender_concept_id\n1,8507\n2,8532\n3,8507\n"), ts, ts)
	store.Put("site-bucket", "2024-03-01-v1/location.csv", []byte("location_id,city\n1,Boston\n"), ts, ts)
	store.Put("site-bucket", "2024-02-01-v1/person.csv", []byte("person_id,gender_concept_id\n2,8532\n"), ts, ts)

	wh := &stubWarehouse{pids: []model.Row{{"person_id": int64(2)}}}
	r := New(wh, store, stubSites{bucket: "site-bucket"}, "ehr", "sandbox", testLogger())
	n, err := r.RetractObjects(ctx, Request{HPOID: "hpo1", Folder: "2024-03-01-v1/", Type: RDRAndEHR})
	if err != nil {
		t.Fatalf("retract objects: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 rewritten file, got %d", n)
	}
	data, _ := store.Read(ctx, "site-bucket", "2024-03-01-v1/person.csv")
	if got := string(data); got != "person_id,gender_concept_id\n1,8507\n3,8507\n" {
		t.Fatalf("unexpected contents %q", got)
	}
	old, _ := store.Read(ctx, "site-bucket", "2024-02-01-v1/person.csv")
	if !strings.Contains(string(old), "2,8532") {
		t.Fatalf("other folders should be untouched")
	}

	n, err = r.RetractObjects(ctx, Request{HPOID: "hpo1", Folder: AllFolders, Type: RDRAndEHR})
	if err != nil || n != 1 {
		t.Fatalf("expected the older folder to be rewritten, got %d %v", n, err)
	}
}

func TestRemoveDeactivated(t *testing.T) {
	wh := &stubWarehouse{
		tables: map[string][]string{"combined": {"hpo1_measurement", "person", "concept"}},
	}
	r := New(wh, nil, nil, "ehr", "sandbox", testLogger())
	counts, err := r.RemoveDeactivated(context.Background(), "combined", warehouse.TableRef{Dataset: "lookup", Table: "deactivated"})
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if len(counts) != 1 || counts["combined.hpo1_measurement"] != 2 {
		t.Fatalf("unexpected counts %v", counts)
	}
	if !strings.Contains(wh.deletes[0], `"combined"."hpo1_measurement".measurement_date > d.deactivated_date`) {
		t.Fatalf("unexpected delete %q", wh.deletes[0])
	}
}
