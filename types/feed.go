package types

// Aggregation is the canonical representation of a vendor IOC feed after
// parsing. Every feed is converted into this shape so downstream merging is
// feed-agnostic.
type Aggregation struct {
	FeedID         string              `json:"feedId"`
	DisplayName    string              `json:"displayName"`
	Packages       map[string][]string `json:"packages"`
	TotalRecords   int                 `json:"totalRecords"`
	SkippedRecords []string            `json:"skippedRecords,omitempty"`
}

// PackageCount returns the number of unique packages.
func (a *Aggregation) PackageCount() int {
	return len(a.Packages)
}

// VersionCount returns the total number of package/version pairs.
func (a *Aggregation) VersionCount() int {
	var n int
	for _, versions := range a.Packages {
		n += len(versions)
	}
	return n
}
