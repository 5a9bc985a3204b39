package submission

// Classification splits a folder's file names by how validation treats them.
// Names keep their original case.
type Classification struct {
	CDM     []string
	PII     []string
	Unknown []string
}

// Classify buckets names into CDM, PII and unknown files. Known non-data files
// and names under an excluded prefix belong to no bucket.
func (p *Policy) Classify(names []string) Classification {
	var c Classification
	for _, name := range names {
		switch {
		case p.IsCDM(name):
			c.CDM = append(c.CDM, name)
		case p.IsPII(name):
			c.PII = append(c.PII, name)
		case p.IsIgnored(name) || p.IsExcluded(name):
		default:
			c.Unknown = append(c.Unknown, name)
		}
	}
	return c
}
