// Package model holds the records shared between the selection, validation and
// reporting layers. Everything here is plain data; behavior lives elsewhere.
package model

import "time"

// BucketItem is the metadata for one object in a site bucket. Names are bucket
// relative and may contain "/" separators.
type BucketItem struct {
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	TimeCreated time.Time `json:"timeCreated"`
	Updated     time.Time `json:"updated"`
}

// FileResult records the found/parsed/loaded flags for one expected file.
type FileResult struct {
	FileName string `json:"file_name"`
	Found    int    `json:"found"`
	Parsed   int    `json:"parsed"`
	Loaded   int    `json:"loaded"`
}

// Succeeded reports whether the file was found, parsed and loaded.
func (r FileResult) Succeeded() bool {
	return r.Found == 1 && r.Parsed == 1 && r.Loaded == 1
}

// FileMessage pairs a file name with an error or warning message.
type FileMessage struct {
	FileName string `json:"file_name"`
	Message  string `json:"message"`
}

// Summary is the validator output for one submission folder.
type Summary struct {
	Results  []FileResult  `json:"results"`
	Errors   []FileMessage `json:"errors"`
	Warnings []FileMessage `json:"warnings"`
}

// Loaded returns the names of files that were loaded successfully.
func (s *Summary) Loaded() []string {
	if s == nil {
		return nil
	}
	var names []string
	for _, r := range s.Results {
		if r.Loaded == 1 {
			names = append(names, r.FileName)
		}
	}
	return names
}

// Row is a single result row returned by a warehouse query.
type Row map[string]any

// Report is the per-submission record handed to the renderer. A nil metric
// slice means the metric was never computed; an empty one means it ran and
// returned nothing.
type Report struct {
	HPOName             string        `json:"hpo_name"`
	Folder              string        `json:"folder"`
	Timestamp           string        `json:"timestamp,omitempty"`
	SubmissionError     string        `json:"submission_error,omitempty"`
	Results             []FileResult  `json:"results"`
	Errors              []FileMessage `json:"errors"`
	Warnings            []FileMessage `json:"warnings"`
	HeelErrors          []Row         `json:"heel_errors"`
	NonuniqueKeyMetrics []Row         `json:"nonunique_key_metrics"`
	DrugClassMetrics    []Row         `json:"drug_class_metrics"`
	MissingPII          []Row         `json:"missing_pii"`
	Completeness        []Row         `json:"completeness"`
	LabConceptMetrics   []Row         `json:"lab_concept_metrics"`
	ErrorOccurred       bool          `json:"error_occurred"`
}
