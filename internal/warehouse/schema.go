package warehouse

import (
	"fmt"
	"sort"
	"strings"
)

// Field types understood by CreateTable.
const (
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeString    = "string"
	TypeDate      = "date"
	TypeTimestamp = "timestamp"
)

// Field is one column of a table schema.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// Columns are written as "name[:type][!]"; the type defaults to string and a
// trailing "!" marks the column required.
var catalog = map[string]string{
	"person": `person_id:integer! gender_concept_id:integer! year_of_birth:integer! month_of_birth:integer
		day_of_birth:integer birth_datetime:timestamp race_concept_id:integer! ethnicity_concept_id:integer!
		location_id:integer provider_id:integer care_site_id:integer person_source_value gender_source_value
		gender_source_concept_id:integer race_source_value race_source_concept_id:integer
		ethnicity_source_value ethnicity_source_concept_id:integer`,
	"visit_occurrence": `visit_occurrence_id:integer! person_id:integer! visit_concept_id:integer!
		visit_start_date:date! visit_start_datetime:timestamp visit_end_date:date! visit_end_datetime:timestamp
		visit_type_concept_id:integer! provider_id:integer care_site_id:integer visit_source_value
		visit_source_concept_id:integer admitting_source_concept_id:integer admitting_source_value
		discharge_to_concept_id:integer discharge_to_source_value preceding_visit_occurrence_id:integer`,
	"condition_occurrence": `condition_occurrence_id:integer! person_id:integer! condition_concept_id:integer!
		condition_start_date:date! condition_start_datetime:timestamp condition_end_date:date
		condition_end_datetime:timestamp condition_type_concept_id:integer! stop_reason provider_id:integer
		visit_occurrence_id:integer condition_source_value condition_source_concept_id:integer
		condition_status_source_value condition_status_concept_id:integer`,
	"procedure_occurrence": `procedure_occurrence_id:integer! person_id:integer! procedure_concept_id:integer!
		procedure_date:date! procedure_datetime:timestamp procedure_type_concept_id:integer!
		modifier_concept_id:integer quantity:integer provider_id:integer visit_occurrence_id:integer
		procedure_source_value procedure_source_concept_id:integer modifier_source_value`,
	"drug_exposure": `drug_exposure_id:integer! person_id:integer! drug_concept_id:integer!
		drug_exposure_start_date:date! drug_exposure_start_datetime:timestamp drug_exposure_end_date:date
		drug_exposure_end_datetime:timestamp verbatim_end_date:date drug_type_concept_id:integer! stop_reason
		refills:integer quantity:float days_supply:integer sig route_concept_id:integer lot_number
		provider_id:integer visit_occurrence_id:integer drug_source_value drug_source_concept_id:integer
		route_source_value dose_unit_source_value`,
	"device_exposure": `device_exposure_id:integer! person_id:integer! device_concept_id:integer!
		device_exposure_start_date:date! device_exposure_start_datetime:timestamp device_exposure_end_date:date
		device_exposure_end_datetime:timestamp device_type_concept_id:integer! unique_device_id
		quantity:integer provider_id:integer visit_occurrence_id:integer device_source_value
		device_source_concept_id:integer`,
	"measurement": `measurement_id:integer! person_id:integer! measurement_concept_id:integer!
		measurement_date:date! measurement_datetime:timestamp measurement_type_concept_id:integer!
		operator_concept_id:integer value_as_number:float value_as_concept_id:integer unit_concept_id:integer
		range_low:float range_high:float provider_id:integer visit_occurrence_id:integer
		measurement_source_value measurement_source_concept_id:integer unit_source_value value_source_value`,
	"observation": `observation_id:integer! person_id:integer! observation_concept_id:integer!
		observation_date:date! observation_datetime:timestamp observation_type_concept_id:integer!
		value_as_number:float value_as_string value_as_concept_id:integer qualifier_concept_id:integer
		unit_concept_id:integer provider_id:integer visit_occurrence_id:integer observation_source_value
		observation_source_concept_id:integer unit_source_value qualifier_source_value`,
	"death": `person_id:integer! death_date:date! death_datetime:timestamp death_type_concept_id:integer!
		cause_concept_id:integer cause_source_value cause_source_concept_id:integer`,
	"note": `note_id:integer! person_id:integer! note_date:date! note_datetime:timestamp
		note_type_concept_id:integer! note_class_concept_id:integer! note_title note_text!
		encoding_concept_id:integer! language_concept_id:integer! provider_id:integer
		visit_occurrence_id:integer note_source_value`,
	"specimen": `specimen_id:integer! person_id:integer! specimen_concept_id:integer!
		specimen_type_concept_id:integer! specimen_date:date! specimen_datetime:timestamp quantity:float
		unit_concept_id:integer anatomic_site_concept_id:integer disease_status_concept_id:integer
		specimen_source_id specimen_source_value unit_source_value anatomic_site_source_value
		disease_status_source_value`,
	"fact_relationship": `domain_concept_id_1:integer! fact_id_1:integer! domain_concept_id_2:integer!
		fact_id_2:integer! relationship_concept_id:integer!`,
	"location": `location_id:integer! address_1 address_2 city state zip county location_source_value`,
	"care_site": `care_site_id:integer! care_site_name place_of_service_concept_id:integer location_id:integer
		care_site_source_value place_of_service_source_value`,
	"provider": `provider_id:integer! provider_name npi dea specialty_concept_id:integer care_site_id:integer
		year_of_birth:integer gender_concept_id:integer provider_source_value specialty_source_value
		specialty_source_concept_id:integer gender_source_value gender_source_concept_id:integer`,
	"observation_period": `observation_period_id:integer! person_id:integer!
		observation_period_start_date:date! observation_period_end_date:date! period_type_concept_id:integer!`,
	"payer_plan_period": `payer_plan_period_id:integer! person_id:integer! payer_plan_period_start_date:date!
		payer_plan_period_end_date:date! payer_source_value plan_source_value family_source_value`,

	"pii_name":         `person_id:integer! first_name middle_name last_name suffix prefix`,
	"pii_email":        `person_id:integer! email`,
	"pii_phone_number": `person_id:integer! phone_number`,
	"pii_address":      `person_id:integer! location_id:integer`,
	"pii_mrn":          `person_id:integer! mrn`,
	"participant_match": `person_id:integer! algorithm_validation manual_validation first_name middle_name
		last_name birth_date sex address phone_number email algorithm`,

	"achilles_results": `analysis_id:integer! stratum_1 stratum_2 stratum_3 stratum_4 stratum_5
		count_value:integer`,
	"achilles_heel_results": `analysis_id:integer achilles_heel_warning rule_id:integer record_count:integer`,
}

var parsedCatalog = func() map[string][]Field {
	out := make(map[string][]Field, len(catalog))
	for table, spec := range catalog {
		fields, err := parseFields(spec)
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", table, err))
		}
		out[table] = fields
	}
	return out
}()

func parseFields(spec string) ([]Field, error) {
	var fields []Field
	for _, tok := range strings.Fields(spec) {
		f := Field{Type: TypeString}
		if strings.HasSuffix(tok, "!") {
			f.Required = true
			tok = strings.TrimSuffix(tok, "!")
		}
		name, typ, ok := strings.Cut(tok, ":")
		f.Name = name
		if ok {
			switch typ {
			case TypeInteger, TypeFloat, TypeString, TypeDate, TypeTimestamp:
				f.Type = typ
			default:
				return nil, fmt.Errorf("column %s: unknown type %q", name, typ)
			}
		}
		fields = append(fields, f)
	}
	return fields, nil
}

// Fields returns a copy of the schema for a CDM, PII or analytics table.
func Fields(table string) ([]Field, bool) {
	fields, ok := parsedCatalog[strings.ToLower(table)]
	if !ok {
		return nil, false
	}
	return append([]Field(nil), fields...), true
}

// Tables lists every table in the catalog, sorted.
func Tables() []string {
	out := make([]string, 0, len(parsedCatalog))
	for t := range parsedCatalog {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Kind maps a prefixed table such as "hpo1_person" back to its catalog
// entry. Names with no catalog match are returned unchanged.
func Kind(table string) string {
	if _, ok := parsedCatalog[table]; ok {
		return table
	}
	best := table
	for name := range parsedCatalog {
		if strings.HasSuffix(table, "_"+name) && (best == table || len(name) > len(best)) {
			best = name
		}
	}
	return best
}

// SiteTable names the table an HPO's file is loaded into.
func SiteTable(hpoID, table string) string {
	return strings.ToLower(hpoID) + "_" + strings.ToLower(table)
}

func sqlType(t string) string {
	switch t {
	case TypeInteger:
		return "BIGINT"
	case TypeFloat:
		return "DOUBLE PRECISION"
	case TypeDate:
		return "DATE"
	case TypeTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}
