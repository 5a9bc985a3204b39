package report

import (
	"strings"
	"testing"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

func TestRenderIncludesResultsAndMetrics(t *testing.T) {
	r, err := NewHTMLRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	out, err := r.Render(&model.Report{
		HPOName:   "Fake <HPO>",
		Folder:    "2024-03-01-v1/",
		Timestamp: "2024-03-10T17:00:00",
		Results:   []model.FileResult{{FileName: "person.csv", Found: 1, Parsed: 1, Loaded: 1}},
		Errors:    []model.FileMessage{{FileName: "visit_occurrence.csv", Message: "Missing required field: person_id"}},
		HeelErrors: []model.Row{
			{"analysis_id": int64(101), "achilles_heel_warning": "ERROR: too young", "record_count": int64(3)},
		},
		Completeness: []model.Row{},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	html := string(out)
	for _, want := range []string{
		"Fake &lt;HPO&gt;",
		"2024-03-01-v1/",
		`<table id="results">`,
		"Missing required field: person_id",
		`<table id="heel-errors">`,
		"<th>achilles_heel_warning</th><th>analysis_id</th><th>record_count</th>",
		"ERROR: too young",
	} {
		if !strings.Contains(html, want) {
			t.Fatalf("rendered report missing %q", want)
		}
	}
	if strings.Contains(html, `id="completeness"`) {
		t.Fatalf("empty metrics should not render a table")
	}
	if strings.Contains(html, `id="error-occurred"`) {
		t.Fatalf("error banner rendered without an error")
	}
}

func TestRenderSubmissionError(t *testing.T) {
	r, err := NewHTMLRenderer()
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	out, err := r.Render(&model.Report{HPOName: "Fake", Folder: "2024-03-01-v1/", SubmissionError: "Required files are missing", ErrorOccurred: true})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(string(out), "Required files are missing") || !strings.Contains(string(out), `id="error-occurred"`) {
		t.Fatalf("expected submission error in output")
	}
}

func TestRenderNil(t *testing.T) {
	r, _ := NewHTMLRenderer()
	if _, err := r.Render(nil); err == nil {
		t.Fatalf("expected error for nil report")
	}
}
