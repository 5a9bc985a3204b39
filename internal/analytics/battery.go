package analytics

import (
	"fmt"

	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

type analysis struct {
	id      int
	table   string
	stratum string
	count   string
}

const (
	persons = "COUNT(DISTINCT person_id)"
	records = "COUNT(*)"
)

var analyses = []analysis{
	{1, "person", "", persons},
	{2, "person", "gender_concept_id", persons},
	{3, "person", "year_of_birth", persons},
	{4, "person", "race_concept_id", persons},
	{5, "person", "ethnicity_concept_id", persons},
	{200, "visit_occurrence", "visit_concept_id", persons},
	{201, "visit_occurrence", "visit_concept_id", records},
	{400, "condition_occurrence", "condition_concept_id", persons},
	{401, "condition_occurrence", "condition_concept_id", records},
	{500, "death", "cause_concept_id", persons},
	{600, "procedure_occurrence", "procedure_concept_id", persons},
	{601, "procedure_occurrence", "procedure_concept_id", records},
	{700, "drug_exposure", "drug_concept_id", persons},
	{701, "drug_exposure", "drug_concept_id", records},
	{800, "observation", "observation_concept_id", persons},
	{801, "observation", "observation_concept_id", records},
	{1800, "measurement", "measurement_concept_id", persons},
	{1801, "measurement", "measurement_concept_id", records},
	{2100, "device_exposure", "device_concept_id", persons},
	{2101, "device_exposure", "device_concept_id", records},
}

func (a analysis) insertSQL(results, source warehouse.TableRef) string {
	if a.stratum == "" {
		return fmt.Sprintf(`INSERT INTO %s (analysis_id, count_value)
SELECT %d, %s FROM %s`, results.Sanitize(), a.id, a.count, source.Sanitize())
	}
	return fmt.Sprintf(`INSERT INTO %s (analysis_id, stratum_1, count_value)
SELECT %d, CAST(%s AS TEXT), %s FROM %s GROUP BY %s`,
		results.Sanitize(), a.id, a.stratum, a.count, source.Sanitize(), a.stratum)
}

type heelRule struct {
	id         int
	analysisID int
	warning    string
	// count is a statement yielding a single column n; %[1]s.. are site
	// tables resolved through the table func.
	count  string
	tables []string
}

var heelRules = []heelRule{
	{1, 2, "ERROR: 2-Number of persons by gender; should not have an invalid gender_concept_id",
		`SELECT COUNT(*) AS n FROM %[1]s WHERE gender_concept_id IS NULL OR gender_concept_id = 0`,
		[]string{"person"}},
	{2, 201, "ERROR: 201-Number of visit records ending before they start",
		`SELECT COUNT(*) AS n FROM %[1]s WHERE visit_end_date < visit_start_date`,
		[]string{"visit_occurrence"}},
	{3, 400, "ERROR: 400-Number of condition records starting before year of birth",
		`SELECT COUNT(*) AS n FROM %[1]s c JOIN %[2]s p ON p.person_id = c.person_id
WHERE EXTRACT(YEAR FROM c.condition_start_date) < p.year_of_birth`,
		[]string{"condition_occurrence", "person"}},
	{4, 500, "ERROR: 500-Number of death records before year of birth",
		`SELECT COUNT(*) AS n FROM %[1]s d JOIN %[2]s p ON p.person_id = d.person_id
WHERE EXTRACT(YEAR FROM d.death_date) < p.year_of_birth`,
		[]string{"death", "person"}},
	{5, 701, "ERROR: 701-Number of drug exposure records ending before they start",
		`SELECT COUNT(*) AS n FROM %[1]s WHERE drug_exposure_end_date < drug_exposure_start_date`,
		[]string{"drug_exposure"}},
	{6, 1801, "WARNING: 1801-Number of measurement records without a standard concept",
		`SELECT COUNT(*) AS n FROM %[1]s WHERE measurement_concept_id = 0`,
		[]string{"measurement"}},
}

// insertSQL takes the warning text as $1.
func (h heelRule) insertSQL(heel warehouse.TableRef, table func(string) string) string {
	args := make([]any, len(h.tables))
	for i, t := range h.tables {
		args[i] = table(t)
	}
	return fmt.Sprintf(`INSERT INTO %s (analysis_id, achilles_heel_warning, rule_id, record_count)
SELECT %d, $1::text, %d, c.n FROM (%s) c WHERE c.n > 0`, heel.Sanitize(), h.analysisID, h.id, fmt.Sprintf(h.count, args...))
}

type report struct {
	name  string
	key   string
	query func(results, heel string) string
}

var reports = []report{
	{"person", "SUMMARY", func(results, _ string) string {
		return fmt.Sprintf(`SELECT analysis_id, stratum_1, count_value FROM %s
WHERE analysis_id IN (1, 2, 3, 4, 5) ORDER BY analysis_id, stratum_1`, results)
	}},
	{"datadensity", "TOTAL_RECORDS", func(results, _ string) string {
		return fmt.Sprintf(`SELECT analysis_id, SUM(count_value) AS count_value FROM %s
WHERE analysis_id IN (201, 401, 601, 701, 801, 1801, 2101) GROUP BY analysis_id ORDER BY analysis_id`, results)
	}},
	{"achillesheel", "MESSAGES", func(_, heel string) string {
		return fmt.Sprintf(`SELECT analysis_id, achilles_heel_warning, rule_id, record_count FROM %s
ORDER BY rule_id`, heel)
	}},
}
