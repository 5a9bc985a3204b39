package retraction

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// RemoveDeactivated deletes, from every CDM table in dataset, the records
// dated after their participant's deactivation. deactivated holds person_id
// and deactivated_date columns. Removed rows are sandboxed.
func (r *Retractor) RemoveDeactivated(ctx context.Context, dataset string, deactivated warehouse.TableRef) (map[string]int64, error) {
	if err := r.wh.CreateDataset(ctx, r.sandbox); err != nil {
		return nil, err
	}
	tables, err := r.wh.ListTables(ctx, dataset)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64)
	for _, table := range tables {
		fields, ok := warehouse.Fields(warehouse.Kind(table))
		if !ok || !hasPersonID(fields) {
			continue
		}
		dateCol := recordDate(fields)
		if dateCol == "" {
			continue
		}
		ref := warehouse.TableRef{Dataset: dataset, Table: table}
		where := fmt.Sprintf(`EXISTS (SELECT 1 FROM %s d WHERE d.person_id = %s.person_id AND %s.%s > d.deactivated_date)`,
			deactivated.Sanitize(), ref.Sanitize(), ref.Sanitize(), dateCol)
		n, err := r.sandboxAndDelete(ctx, ref, where)
		if err != nil {
			return counts, err
		}
		counts[ref.String()] = n
	}
	r.log.Info("deactivation cleanup complete", "dataset", dataset, "tables", len(counts))
	return counts, nil
}

// recordDate returns the first required date column, which dates the record.
func recordDate(fields []warehouse.Field) string {
	for _, f := range fields {
		if f.Type == warehouse.TypeDate && f.Required {
			return f.Name
		}
	}
	return ""
}
