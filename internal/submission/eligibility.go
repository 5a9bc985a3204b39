package submission

import (
	"time"

	"github.com/dharsanguruparan/DataSteward/internal/model"
)

const (
	// RetentionPeriod is how long the bucket keeps a submitted object.
	RetentionPeriod = 30 * 24 * time.Hour
	// RetentionBuffer keeps objects due for deletion within a day out of runs.
	RetentionBuffer = 24 * time.Hour
	// SettleTime is the minimum age of a required file's last update.
	SettleTime = 5 * time.Minute
)

// Reason explains the outcome of EligibleItems.
type Reason int

const (
	Eligible Reason = iota
	// Incomplete means a required file is absent from the folder.
	Incomplete
	// Settling means a required file was updated too recently.
	Settling
	// Expired means every data item is past its retention window.
	Expired
)

func (r Reason) String() string {
	switch r {
	case Eligible:
		return "eligible"
	case Incomplete:
		return "incomplete"
	case Settling:
		return "settling"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// EligibleItems filters the items of one folder down to those that can be
// processed at now. Names are matched on their basename within the folder.
// An empty result is always paired with a non-Eligible reason.
func (p *Policy) EligibleItems(items []model.BucketItem, now time.Time) ([]model.BucketItem, Reason) {
	present := make(nameSet, len(items))
	for _, item := range items {
		present[Basename(item.Name)] = struct{}{}
	}
	for _, name := range p.requiredFiles {
		if !present.has(name) {
			return nil, Incomplete
		}
	}

	var eligible []model.BucketItem
	for _, item := range items {
		base := Basename(item.Name)
		if p.IsIgnored(base) {
			continue
		}
		expires := item.TimeCreated.Add(RetentionPeriod - RetentionBuffer)
		if expires.After(now) {
			eligible = append(eligible, item)
		}
		if p.IsRequired(base) && item.Updated.Add(SettleTime).After(now) {
			return nil, Settling
		}
	}
	if len(eligible) == 0 {
		return nil, Expired
	}
	return eligible, Eligible
}
