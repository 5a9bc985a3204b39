package validation

import (
	"context"
	"fmt"

	"github.com/dharsanguruparan/DataSteward/internal/submission"
)

// CopyFiles copies every object of a site's bucket, outside ignored
// directories, into the DRC bucket under <hpo_id>/<bucket>/. It returns the
// number of objects copied.
func (p *Pipeline) CopyFiles(ctx context.Context, hpoID string) (int, error) {
	site, err := p.sites.Site(ctx, hpoID)
	if err != nil {
		return 0, err
	}
	items, err := p.objects.List(ctx, site.Bucket)
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", site.Bucket, err)
	}
	prefix := site.HPOID + "/" + site.Bucket + "/"
	copied := 0
	for _, item := range items {
		if root := submission.RootDirectory(item.Name); root != "" && p.policy.IsIgnoredDirectory(root) {
			continue
		}
		if err := p.objects.Copy(ctx, site.Bucket, item.Name, p.drcBucket, prefix+item.Name); err != nil {
			return copied, fmt.Errorf("copy %s: %w", item.Name, err)
		}
		copied++
	}
	p.log.Info("copied site files", "hpo_id", site.HPOID, "count", copied, "destination", p.drcBucket+"/"+prefix)
	return copied, nil
}
