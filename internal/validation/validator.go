package validation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dharsanguruparan/DataSteward/internal/model"
	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// Validator loads a submission folder into the EHR dataset and records the
// per-file outcome.
type Validator struct {
	policy  *submission.Policy
	wh      Warehouse
	dataset string
	log     *slog.Logger
}

// NewValidator constructs a Validator that loads into dataset.
func NewValidator(policy *submission.Policy, wh Warehouse, dataset string, logger *slog.Logger) *Validator {
	return &Validator{policy: policy, wh: wh, dataset: dataset, log: logger}
}

// Validate loads every expected file found in folderItems. Tables for all
// expected files are recreated first so missing files leave empty tables.
// A load job that does not finish aborts the run with InternalValidationError.
func (v *Validator) Validate(ctx context.Context, hpoID, bucket, folderPrefix string, folderItems []string) (*model.Summary, error) {
	for _, file := range v.policy.ExpectedFiles() {
		table := submission.TableName(file)
		fields, ok := warehouse.Fields(table)
		if !ok {
			return nil, fmt.Errorf("no schema for %s", table)
		}
		ref := warehouse.TableRef{Dataset: v.dataset, Table: warehouse.SiteTable(hpoID, table)}
		if err := v.wh.CreateTable(ctx, ref, fields, true); err != nil {
			return nil, err
		}
	}

	classified := v.policy.Classify(folderItems)
	found := make(map[string]string, len(classified.CDM)+len(classified.PII))
	for _, name := range append(classified.CDM, classified.PII...) {
		found[strings.ToLower(name)] = name
	}

	summary := &model.Summary{}
	for _, group := range [][]string{v.policy.CDMFiles(), v.policy.PIIFiles()} {
		for _, file := range group {
			result, msg, err := v.validateFile(ctx, hpoID, bucket, folderPrefix, file, found[file])
			if err != nil {
				return nil, err
			}
			summary.Results = append(summary.Results, result)
			if msg != nil {
				summary.Errors = append(summary.Errors, *msg)
			}
		}
	}
	for _, name := range classified.Unknown {
		summary.Warnings = append(summary.Warnings, model.FileMessage{FileName: name, Message: submission.UnknownFileMessage})
	}
	v.log.Info("validated submission", "hpo_id", hpoID, "folder", folderPrefix,
		"loaded", len(summary.Loaded()), "errors", len(summary.Errors), "warnings", len(summary.Warnings))
	return summary, nil
}

// validateFile loads one expected file. actual is the object name as the site
// spelled it, or "" when the file was not submitted.
func (v *Validator) validateFile(ctx context.Context, hpoID, bucket, folderPrefix, file, actual string) (model.FileResult, *model.FileMessage, error) {
	result := model.FileResult{FileName: file}
	if actual == "" {
		return result, nil, nil
	}
	result.Found = 1

	ref := warehouse.TableRef{Dataset: v.dataset, Table: warehouse.SiteTable(hpoID, submission.TableName(file))}
	jobID, err := v.wh.LoadCSV(ctx, ref, warehouse.ObjectRef{Bucket: bucket, Name: folderPrefix + actual})
	if err != nil {
		return result, nil, fmt.Errorf("load %s: %w", file, err)
	}
	incomplete, err := v.wh.Wait(ctx, []string{jobID})
	if err != nil {
		return result, nil, fmt.Errorf("wait for %s: %w", file, err)
	}
	if len(incomplete) > 0 {
		return result, nil, &InternalValidationError{FileName: file, JobIDs: incomplete}
	}
	status, err := v.wh.JobStatus(ctx, jobID)
	if err != nil {
		return result, nil, fmt.Errorf("status of %s: %w", file, err)
	}
	if status.ErrorResult != nil {
		return result, &model.FileMessage{FileName: file, Message: joinJobErrors(status)}, nil
	}
	result.Parsed, result.Loaded = 1, 1
	return result, nil, nil
}

func joinJobErrors(status *warehouse.JobStatus) string {
	if len(status.Errors) == 0 {
		return status.ErrorResult.Message
	}
	msgs := make([]string, len(status.Errors))
	for i, e := range status.Errors {
		msgs[i] = e.Message
	}
	return strings.Join(msgs, " || ")
}
