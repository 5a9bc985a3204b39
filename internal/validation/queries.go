package validation

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// Datasets names the warehouse datasets metrics read from.
type Datasets struct {
	EHR        string
	RDR        string
	Vocabulary string
	Lookup     string
}

// Queries builds the per-site metric statements.
type Queries struct {
	ds     Datasets
	policy *submission.Policy
}

// NewQueries constructs a Queries.
func NewQueries(ds Datasets, policy *submission.Policy) *Queries {
	return &Queries{ds: ds, policy: policy}
}

func (q *Queries) siteTable(hpoID, table string) string {
	return warehouse.TableRef{Dataset: q.ds.EHR, Table: warehouse.SiteTable(hpoID, table)}.Sanitize()
}

func ident(name string) string { return pgx.Identifier{name}.Sanitize() }

// HeelErrors lists the analytics heel warnings flagged as errors.
func (q *Queries) HeelErrors(hpoID string) string {
	return fmt.Sprintf(`SELECT analysis_id, achilles_heel_warning AS heel_error, rule_id, record_count
FROM %s
WHERE achilles_heel_warning LIKE 'ERROR:%%'
ORDER BY record_count DESC, analysis_id`, q.siteTable(hpoID, "achilles_heel_results"))
}

// DuplicateCounts counts primary keys that occur more than once in each CDM
// table present in existing. ok is false when no table qualifies.
func (q *Queries) DuplicateCounts(hpoID string, existing []string) (sql string, ok bool) {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	var parts []string
	for _, file := range q.policy.CDMFiles() {
		table := submission.TableName(file)
		fields, found := warehouse.Fields(table)
		if !found || fields[0].Name != table+"_id" || !have[warehouse.SiteTable(hpoID, table)] {
			continue
		}
		parts = append(parts, fmt.Sprintf(`SELECT '%s' AS table_name, COUNT(*) AS duplicates
FROM (SELECT %s FROM %s GROUP BY 1 HAVING COUNT(*) > 1) d`, table, ident(table+"_id"), q.siteTable(hpoID, table)))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY table_name", true
}

// DrugClassCounts counts drug exposures per ATC 2nd level class.
func (q *Queries) DrugClassCounts(hpoID string) string {
	return fmt.Sprintf(`SELECT c.concept_name AS drug_class, COUNT(DISTINCT de.drug_exposure_id) AS drug_count
FROM %s de
JOIN %s ca ON ca.descendant_concept_id = de.drug_concept_id
JOIN %s c ON c.concept_id = ca.ancestor_concept_id
WHERE c.vocabulary_id = 'ATC' AND c.concept_class_id = 'ATC 2nd'
GROUP BY c.concept_name
ORDER BY drug_count DESC, drug_class`,
		q.siteTable(hpoID, "drug_exposure"),
		warehouse.TableRef{Dataset: q.ds.Vocabulary, Table: "concept_ancestor"}.Sanitize(),
		warehouse.TableRef{Dataset: q.ds.Vocabulary, Table: "concept"}.Sanitize())
}

// MissingPII lists persons known to the RDR that the site sent without any
// PII. The RDR snapshot date is returned with every row.
func (q *Queries) MissingPII(hpoID string) (string, []any, error) {
	rdrDate, err := submission.RDRDate(q.ds.RDR)
	if err != nil {
		return "", nil, err
	}
	var missing []string
	for _, table := range []string{"pii_name", "pii_email", "pii_phone_number", "pii_address", "pii_mrn"} {
		missing = append(missing, fmt.Sprintf("NOT EXISTS (SELECT 1 FROM %s x WHERE x.person_id = p.person_id)", q.siteTable(hpoID, table)))
	}
	sql := fmt.Sprintf(`SELECT p.person_id, $1::date AS rdr_date
FROM %s p
WHERE EXISTS (SELECT 1 FROM %s r WHERE r.person_id = p.person_id)
AND %s
ORDER BY p.person_id`,
		q.siteTable(hpoID, "person"),
		warehouse.TableRef{Dataset: q.ds.RDR, Table: "person"}.Sanitize(),
		strings.Join(missing, "\nAND "))
	return sql, []any{rdrDate}, nil
}

// Completeness reports, per concept column of each CDM table present in
// existing, how many rows carry no standard concept.
func (q *Queries) Completeness(hpoID string, existing []string) (sql string, ok bool) {
	have := make(map[string]bool, len(existing))
	for _, t := range existing {
		have[t] = true
	}
	var parts []string
	for _, file := range q.policy.CDMFiles() {
		table := submission.TableName(file)
		if !have[warehouse.SiteTable(hpoID, table)] {
			continue
		}
		fields, _ := warehouse.Fields(table)
		for _, f := range fields {
			if !strings.HasSuffix(f.Name, "_concept_id") {
				continue
			}
			col := ident(f.Name)
			parts = append(parts, fmt.Sprintf(`SELECT '%s' AS table_name, '%s' AS column_name, COUNT(*) AS table_row_count,
COUNT(*) FILTER (WHERE %s IS NULL OR %s = 0) AS concept_zero_count
FROM %s`, table, f.Name, col, col, q.siteTable(hpoID, table)))
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\nUNION ALL\n") + "\nORDER BY table_name, column_name", true
}

// LabConcepts counts measurements per lab panel concept set.
func (q *Queries) LabConcepts(hpoID string) string {
	return fmt.Sprintf(`SELECT l.panel_name, l.ancestor_concept_id, l.ancestor_concept_name, COUNT(m.measurement_id) AS count
FROM %s l
LEFT JOIN %s m ON m.measurement_concept_id = l.descendant_concept_id
GROUP BY l.panel_name, l.ancestor_concept_id, l.ancestor_concept_name
ORDER BY l.panel_name, l.ancestor_concept_name`,
		warehouse.TableRef{Dataset: q.ds.Lookup, Table: "measurement_concept_sets_descendants"}.Sanitize(),
		q.siteTable(hpoID, "measurement"))
}
