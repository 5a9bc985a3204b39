package submission

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

// ObjectStat looks up object metadata. A nil item with a nil error means the
// object does not exist.
type ObjectStat interface {
	Stat(ctx context.Context, bucket, name string) (*model.BucketItem, error)
}

// SelectorOption customises a Selector.
type SelectorOption func(*Selector)

// WithClock replaces time.Now as the selector's clock.
func WithClock(now func() time.Time) SelectorOption {
	return func(s *Selector) { s.now = now }
}

// Selector picks the submission folder to process in a site bucket.
type Selector struct {
	policy  *Policy
	objects ObjectStat
	now     func() time.Time
}

// NewSelector constructs a Selector.
func NewSelector(policy *Policy, objects ObjectStat, opts ...SelectorOption) *Selector {
	s := &Selector{policy: policy, objects: objects, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Candidate is a folder that passed the eligibility filter.
type Candidate struct {
	Folder  string
	Latest  time.Time
	Items   []model.BucketItem
	Skipped map[string]Reason
}

// Latest returns the most recently updated eligible folder, or ok=false when
// no folder qualifies. Folders whose latest updates tie resolve to the
// lexicographically greatest name. skipped reports why other folders lost.
func (s *Selector) Latest(items []model.BucketItem) (best Candidate, ok bool) {
	now := s.now()
	groups := make(map[string][]model.BucketItem)
	for _, item := range items {
		root := RootDirectory(item.Name)
		if root == "" || s.policy.IsIgnoredDirectory(root) {
			continue
		}
		groups[root] = append(groups[root], item)
	}
	folders := make([]string, 0, len(groups))
	for f := range groups {
		folders = append(folders, f)
	}
	sort.Strings(folders)

	skipped := make(map[string]Reason)
	for _, folder := range folders {
		eligible, reason := s.policy.EligibleItems(groups[folder], now)
		if reason != Eligible {
			skipped[folder] = reason
			continue
		}
		var latest time.Time
		for _, item := range eligible {
			if item.Updated.After(latest) {
				latest = item.Updated
			}
		}
		if !ok || !latest.Before(best.Latest) {
			best = Candidate{Folder: folder, Latest: latest, Items: eligible}
			ok = true
		}
	}
	best.Skipped = skipped
	return best, ok
}

// Select returns the folder to process in bucket, or "" when there is nothing
// to do. Without force a folder that already holds the processed marker is
// not returned again.
func (s *Selector) Select(ctx context.Context, bucket string, items []model.BucketItem, force bool) (string, error) {
	cand, ok := s.Latest(items)
	if !ok {
		return "", nil
	}
	if force {
		return cand.Folder, nil
	}
	marker, err := s.objects.Stat(ctx, bucket, cand.Folder+ProcessedTxt)
	if err != nil {
		return "", fmt.Errorf("stat processed marker in %s: %w", strings.TrimSuffix(cand.Folder, "/"), err)
	}
	if marker != nil {
		return "", nil
	}
	return cand.Folder, nil
}
