package validation

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

func newTestGenerator(wh *stubWarehouse, a *stubAnalytics, rdr string) *MetricsGenerator {
	policy := submission.DefaultPolicy()
	ds := Datasets{EHR: "ehr", RDR: rdr, Vocabulary: "vocabulary", Lookup: "lookup_tables"}
	return NewMetricsGenerator(policy, wh, a, NewQueries(ds, policy), "ehr", discardLogger())
}

var testSite = model.Site{HPOID: "hpo1", Name: "Site One", Bucket: "b"}

func personLoaded() *model.Summary {
	return &model.Summary{Results: []model.FileResult{{FileName: "person.csv", Found: 1, Parsed: 1, Loaded: 1}}}
}

func TestGenerateRunsAnalyticsWhenRequiredFilesLoaded(t *testing.T) {
	wh := newStubWarehouse()
	wh.tables = []string{"hpo1_person", "hpo1_measurement"}
	a := &stubAnalytics{}
	report := newTestGenerator(wh, a, "rdr20240301").Generate(context.Background(), testSite, "b", "f/", personLoaded())

	if report.ErrorOccurred || report.SubmissionError != "" {
		t.Fatalf("unexpected failure: %+v", report)
	}
	if a.runs != 1 || a.exports != 1 {
		t.Fatalf("expected analytics to run and export once, got %d/%d", a.runs, a.exports)
	}
	if report.HPOName != "Site One" || report.Folder != "f/" {
		t.Fatalf("unexpected header %s %s", report.HPOName, report.Folder)
	}
	for name, rows := range map[string][]model.Row{
		"heel_errors":           report.HeelErrors,
		"nonunique_key_metrics": report.NonuniqueKeyMetrics,
		"drug_class_metrics":    report.DrugClassMetrics,
		"missing_pii":           report.MissingPII,
		"completeness":          report.Completeness,
		"lab_concept_metrics":   report.LabConceptMetrics,
	} {
		if rows == nil {
			t.Fatalf("%s should be populated", name)
		}
	}
	// heel, duplicates, drug class, missing pii, completeness, lab concepts
	if len(wh.queries) != 6 {
		t.Fatalf("expected 6 queries, got %d", len(wh.queries))
	}
}

func TestGenerateWithoutRequiredFiles(t *testing.T) {
	wh := newStubWarehouse()
	a := &stubAnalytics{}
	report := newTestGenerator(wh, a, "rdr20240301").Generate(context.Background(), testSite, "b", "f/", &model.Summary{})

	if report.SubmissionError != RequiredFilesMissing {
		t.Fatalf("expected submission error, got %q", report.SubmissionError)
	}
	if a.runs != 0 || report.HeelErrors != nil {
		t.Fatalf("analytics must not run without required files")
	}
	if report.DrugClassMetrics == nil || report.LabConceptMetrics == nil {
		t.Fatalf("remaining metrics should still run")
	}
	if report.ErrorOccurred {
		t.Fatalf("missing files is not a processing error")
	}
}

func TestGenerateFlagsCloudErrors(t *testing.T) {
	wh := newStubWarehouse()
	wh.queryErr["ATC 2nd"] = errors.New("backend error")
	report := newTestGenerator(wh, &stubAnalytics{}, "rdr20240301").Generate(context.Background(), testSite, "b", "f/", personLoaded())

	if !report.ErrorOccurred {
		t.Fatalf("expected error_occurred")
	}
	if report.HeelErrors == nil || report.NonuniqueKeyMetrics == nil {
		t.Fatalf("metrics computed before the failure should be kept")
	}
	if report.MissingPII != nil || report.LabConceptMetrics != nil {
		t.Fatalf("metrics after the failure should be absent")
	}
}

func TestGenerateFlagsAnalyticsFailure(t *testing.T) {
	report := newTestGenerator(newStubWarehouse(), &stubAnalytics{err: errors.New("boom")}, "rdr20240301").
		Generate(context.Background(), testSite, "b", "f/", personLoaded())
	if !report.ErrorOccurred || report.HeelErrors != nil {
		t.Fatalf("expected error_occurred without heel errors, got %+v", report)
	}
}

func TestGenerateFlagsBadRDRDataset(t *testing.T) {
	report := newTestGenerator(newStubWarehouse(), &stubAnalytics{}, "combined").
		Generate(context.Background(), testSite, "b", "f/", personLoaded())
	if !report.ErrorOccurred || report.MissingPII != nil {
		t.Fatalf("expected error_occurred and no missing pii, got %+v", report)
	}
}

func TestQueriesSkipAbsentTables(t *testing.T) {
	q := NewQueries(Datasets{EHR: "ehr"}, submission.DefaultPolicy())
	if _, ok := q.DuplicateCounts("hpo1", nil); ok {
		t.Fatalf("no duplicate query without tables")
	}
	sql, ok := q.DuplicateCounts("hpo1", []string{"hpo1_person", "hpo1_death"})
	if !ok {
		t.Fatalf("expected duplicate query")
	}
	if want := `FROM "ehr"."hpo1_person" GROUP BY 1`; !strings.Contains(sql, want) {
		t.Fatalf("query %s should contain %s", sql, want)
	}
	if strings.Contains(sql, "hpo1_death") {
		t.Fatalf("death has no primary key and should be skipped")
	}
}
