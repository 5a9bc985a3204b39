// Package submission decides which folder of a site bucket holds the current
// submission and which of its files are eligible for validation.
package submission

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

const (
	// ResultsHTML is the report page written back into a processed folder.
	ResultsHTML = "results.html"
	// ProcessedTxt marks a folder as already validated.
	ProcessedTxt = "processed.txt"
	// UnknownFileMessage is attached to warnings for unrecognised files.
	UnknownFileMessage = "Unknown file"
	// CurationReportPrefix holds analytics exports inside a submission folder.
	CurationReportPrefix = "curation_report/"
)

// PolicyConfig lists the file-name sets a Policy is built from. All names are
// bare file names without a folder prefix.
type PolicyConfig struct {
	CDMFiles               []string
	PIIFiles               []string
	RequiredFiles          []string
	AnalyticsRequiredFiles []string
	IgnoreList             []string
	ExcludedPrefixes       []string
	IgnoredDirectories     []string
}

// DefaultPolicyConfig returns the file sets used for AoU EHR submissions.
func DefaultPolicyConfig() PolicyConfig {
	required := []string{
		"care_site.csv",
		"condition_occurrence.csv",
		"death.csv",
		"device_exposure.csv",
		"drug_exposure.csv",
		"fact_relationship.csv",
		"location.csv",
		"measurement.csv",
		"note.csv",
		"observation.csv",
		"person.csv",
		"procedure_occurrence.csv",
		"provider.csv",
		"specimen.csv",
		"visit_occurrence.csv",
	}
	cdm := append([]string{"observation_period.csv", "payer_plan_period.csv"}, required...)
	return PolicyConfig{
		CDMFiles: cdm,
		PIIFiles: []string{
			"pii_name.csv",
			"pii_email.csv",
			"pii_phone_number.csv",
			"pii_address.csv",
			"pii_mrn.csv",
			"participant_match.csv",
		},
		RequiredFiles:          required,
		AnalyticsRequiredFiles: []string{"person.csv"},
		IgnoreList: []string{
			ResultsHTML,
			ProcessedTxt,
			"log.json",
			"achillesheel.json",
			"person.json",
			"datadensity.json",
		},
		ExcludedPrefixes:   []string{CurationReportPrefix},
		IgnoredDirectories: []string{"participant", `drc-validations-\d{8}`},
	}
}

type nameSet map[string]struct{}

func newNameSet(names []string) nameSet {
	set := make(nameSet, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func (s nameSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

// Policy is the immutable set of naming rules. It is safe for concurrent use.
type Policy struct {
	cdmFiles       []string
	piiFiles       []string
	requiredFiles  []string
	analyticsFiles []string
	prefixes       []string

	cdm       nameSet
	pii       nameSet
	required  nameSet
	ignored   nameSet
	ignoreDir []*regexp.Regexp
}

// NewPolicy validates cfg and builds a Policy. Ignored directory patterns are
// anchored at the start of the folder name.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	if len(cfg.RequiredFiles) == 0 {
		return nil, fmt.Errorf("policy: at least one required file must be configured")
	}
	p := &Policy{
		cdmFiles:       sortedLower(cfg.CDMFiles),
		piiFiles:       sortedLower(cfg.PIIFiles),
		requiredFiles:  sortedLower(cfg.RequiredFiles),
		analyticsFiles: sortedLower(cfg.AnalyticsRequiredFiles),
		prefixes:       append([]string(nil), cfg.ExcludedPrefixes...),
		ignored:        newNameSet(cfg.IgnoreList),
	}
	p.cdm = newNameSet(p.cdmFiles)
	p.pii = newNameSet(p.piiFiles)
	p.required = newNameSet(p.requiredFiles)
	for _, pattern := range cfg.IgnoredDirectories {
		if !strings.HasPrefix(pattern, "^") {
			pattern = "^" + pattern
		}
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("policy: ignored directory %q: %w", pattern, err)
		}
		p.ignoreDir = append(p.ignoreDir, re)
	}
	return p, nil
}

// DefaultPolicy returns the Policy built from DefaultPolicyConfig.
func DefaultPolicy() *Policy {
	p, err := NewPolicy(DefaultPolicyConfig())
	if err != nil {
		panic(err)
	}
	return p
}

func sortedLower(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(nameSet, len(names))
	for _, n := range names {
		n = strings.ToLower(n)
		if seen.has(n) {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// IsCDM reports whether name is a CDM table file, ignoring case.
func (p *Policy) IsCDM(name string) bool { return p.cdm.has(strings.ToLower(name)) }

// IsPII reports whether name is a PII table file, ignoring case.
func (p *Policy) IsPII(name string) bool { return p.pii.has(strings.ToLower(name)) }

// IsIgnored reports whether name is a known non-data file. The match is exact.
func (p *Policy) IsIgnored(name string) bool { return p.ignored.has(name) }

// IsRequired reports whether name is in the completeness set.
func (p *Policy) IsRequired(name string) bool { return p.required.has(name) }

// IsExcluded reports whether name starts with an excluded prefix.
func (p *Policy) IsExcluded(name string) bool {
	for _, prefix := range p.prefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// IsIgnoredDirectory reports whether a top-level folder is never a submission.
// folder may carry a trailing "/".
func (p *Policy) IsIgnoredDirectory(folder string) bool {
	folder = strings.ToLower(strings.TrimSuffix(folder, "/"))
	for _, re := range p.ignoreDir {
		if re.MatchString(folder) {
			return true
		}
	}
	return false
}

// CDMFiles returns the sorted CDM file names.
func (p *Policy) CDMFiles() []string { return append([]string(nil), p.cdmFiles...) }

// PIIFiles returns the sorted PII file names.
func (p *Policy) PIIFiles() []string { return append([]string(nil), p.piiFiles...) }

// RequiredFiles returns the sorted completeness set.
func (p *Policy) RequiredFiles() []string { return append([]string(nil), p.requiredFiles...) }

// AnalyticsRequiredFiles returns the files that must load before analytics run.
func (p *Policy) AnalyticsRequiredFiles() []string {
	return append([]string(nil), p.analyticsFiles...)
}

// ExpectedFiles returns CDM followed by PII file names, each group sorted.
func (p *Policy) ExpectedFiles() []string {
	out := make([]string, 0, len(p.cdmFiles)+len(p.piiFiles))
	out = append(out, p.cdmFiles...)
	return append(out, p.piiFiles...)
}

// TableName strips the .csv extension from a file name.
func TableName(fileName string) string {
	return strings.TrimSuffix(strings.ToLower(fileName), ".csv")
}
