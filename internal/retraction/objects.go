package retraction

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/dharsanguruparan/DataSteward/internal/submission"
	"github.com/dharsanguruparan/DataSteward/internal/warehouse"
)

// RetractObjects rewrites the site's submission CSVs without the retracted
// participants and returns the number of files changed.
func (r *Retractor) RetractObjects(ctx context.Context, req Request) (int, error) {
	site, err := r.sites.Site(ctx, req.HPOID)
	if err != nil {
		return 0, err
	}
	pids, err := r.personIDs(ctx, req.PIDTable)
	if err != nil {
		return 0, err
	}
	items, err := r.objects.List(ctx, site.Bucket)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", site.Bucket, err)
	}
	rewritten := 0
	for _, item := range items {
		folder := submission.RootDirectory(item.Name)
		if folder == "" || (req.Folder != AllFolders && folder != req.Folder) {
			continue
		}
		fields, ok := warehouse.Fields(submission.TableName(submission.Basename(item.Name)))
		if !ok || !hasPersonID(fields) {
			continue
		}
		data, err := r.objects.Read(ctx, site.Bucket, item.Name)
		if err != nil {
			return rewritten, err
		}
		out, removed, err := filterCSV(data, pids)
		if err != nil {
			r.log.Warn("skipping unreadable file", "file", item.Name, "err", err)
			continue
		}
		if removed == 0 {
			continue
		}
		if err := r.objects.Write(ctx, site.Bucket, item.Name, out, "text/csv"); err != nil {
			return rewritten, err
		}
		r.log.Info("retracted rows from file", "file", item.Name, "rows", removed)
		rewritten++
	}
	return rewritten, nil
}

func hasPersonID(fields []warehouse.Field) bool {
	for _, f := range fields {
		if f.Name == "person_id" {
			return true
		}
	}
	return false
}

// filterCSV drops rows whose person_id is in pids.
func filterCSV(data []byte, pids map[string]bool) ([]byte, int, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, 0, err
	}
	if len(records) == 0 {
		return data, 0, nil
	}
	col := -1
	for i, h := range records[0] {
		if strings.EqualFold(strings.TrimSpace(h), "person_id") {
			col = i
		}
	}
	if col < 0 {
		return nil, 0, fmt.Errorf("no person_id column")
	}
	kept := records[:1]
	for _, rec := range records[1:] {
		if col < len(rec) && pids[strings.TrimSpace(rec[col])] {
			continue
		}
		kept = append(kept, rec)
	}
	removed := len(records) - len(kept)
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(kept); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), removed, nil
}
