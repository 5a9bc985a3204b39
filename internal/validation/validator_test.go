package validation

import (
	"context"
	"errors"
	"testing"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

func newTestValidator(wh *stubWarehouse) *Validator {
	return NewValidator(submission.DefaultPolicy(), wh, "ehr", discardLogger())
}

func TestValidateRecordsEveryExpectedFile(t *testing.T) {
	wh := newStubWarehouse()
	summary, err := newTestValidator(wh).Validate(context.Background(), "hpo1", "b", "f/", []string{"person.csv", "invalid_file.csv"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	expected := submission.DefaultPolicy().ExpectedFiles()
	if len(wh.created) != len(expected) {
		t.Fatalf("expected %d tables created, got %d", len(expected), len(wh.created))
	}
	if len(summary.Results) != len(expected) {
		t.Fatalf("expected %d results, got %d", len(expected), len(summary.Results))
	}
	for i, r := range summary.Results {
		if r.FileName != expected[i] {
			t.Fatalf("result %d is %s, want %s", i, r.FileName, expected[i])
		}
		want := model.FileResult{FileName: r.FileName}
		if r.FileName == "person.csv" {
			want.Found, want.Parsed, want.Loaded = 1, 1, 1
		}
		if r != want {
			t.Fatalf("unexpected result %+v", r)
		}
	}
	if len(summary.Errors) != 0 {
		t.Fatalf("expected no errors, got %v", summary.Errors)
	}
	if len(summary.Warnings) != 1 || summary.Warnings[0] != (model.FileMessage{FileName: "invalid_file.csv", Message: "Unknown file"}) {
		t.Fatalf("unexpected warnings %v", summary.Warnings)
	}
	if wh.loads[0] != (warehouse.ObjectRef{Bucket: "b", Name: "f/person.csv"}) {
		t.Fatalf("unexpected load source %+v", wh.loads[0])
	}
}

func TestValidateKeepsSubmittedCase(t *testing.T) {
	wh := newStubWarehouse()
	summary, err := newTestValidator(wh).Validate(context.Background(), "hpo1", "b", "f/", []string{"Person.CSV"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if wh.loads[0].Name != "f/Person.CSV" {
		t.Fatalf("expected object name as submitted, got %s", wh.loads[0].Name)
	}
	if len(summary.Loaded()) != 1 || summary.Loaded()[0] != "person.csv" {
		t.Fatalf("expected person.csv loaded, got %v", summary.Loaded())
	}
}

func TestValidateLoadErrors(t *testing.T) {
	wh := newStubWarehouse()
	wh.jobErrors["measurement.csv"] = []warehouse.JobError{
		{Reason: "invalid", Message: "No such field: foo"},
		{Reason: "invalid", Message: "Missing required field: measurement_id"},
	}
	summary, err := newTestValidator(wh).Validate(context.Background(), "hpo1", "b", "f/", []string{"measurement.csv"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := model.FileMessage{FileName: "measurement.csv", Message: "No such field: foo || Missing required field: measurement_id"}
	if len(summary.Errors) != 1 || summary.Errors[0] != want {
		t.Fatalf("unexpected errors %v", summary.Errors)
	}
	for _, r := range summary.Results {
		if r.FileName == "measurement.csv" && (r.Found != 1 || r.Parsed != 0 || r.Loaded != 0) {
			t.Fatalf("unexpected measurement result %+v", r)
		}
	}
}

func TestValidateAbortsOnIncompleteLoad(t *testing.T) {
	wh := newStubWarehouse()
	wh.incomplete["care_site.csv"] = true
	_, err := newTestValidator(wh).Validate(context.Background(), "hpo1", "b", "f/", []string{"care_site.csv", "person.csv", "pii_name.csv"})
	if !errors.Is(err, ErrInternalValidation) {
		t.Fatalf("expected internal validation error, got %v", err)
	}
	var ive *InternalValidationError
	if !errors.As(err, &ive) || ive.FileName != "care_site.csv" || len(ive.JobIDs) != 1 {
		t.Fatalf("unexpected error detail %v", err)
	}
	if len(wh.loads) != 1 {
		t.Fatalf("files after the failed load must not be attempted, got %d loads", len(wh.loads))
	}
}
