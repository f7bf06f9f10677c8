package safedep

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/types"
	"github.com/salsadigitalauorg/npm-validator-action/utils"
)

const (
	feedURL = "https://raw.githubusercontent.com/safedep/shai-hulud-migration-response/main/data/ioc/malicious-package-versions.jsonl"
	retry   = 3
	timeout = 30 * time.Second
)

type options struct {
	url   string
	retry int
}

type option func(*options)

func WithURL(url string) option {
	return func(opts *options) { opts.url = url }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

// Feed ingests the SafeDep malicious-package JSONL feed.
type Feed struct {
	*options
}

func NewFeed(opts ...option) Feed {
	o := &options{
		url:   feedURL,
		retry: retry,
	}

	for _, opt := range opts {
		opt(o)
	}

	return Feed{
		options: o,
	}
}

func (f Feed) Fetch() (*types.Aggregation, error) {
	payload, err := utils.FetchURLWithRetry(f.url, timeout, 0, f.retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch SafeDep feed: %w", err)
	}
	return Aggregate(payload)
}

type record struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Aggregate parses the JSONL payload, one record per line. Malformed lines
// are skipped and recorded; a payload with no valid entries is an error.
func Aggregate(payload []byte) (*types.Aggregation, error) {
	packages := map[string][]string{}
	var skipped []string
	var total int

	lineNum := 0
	for _, raw := range strings.Split(string(payload), "\n") {
		lineNum++
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		total++

		var rec record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			skipped = append(skipped, fmt.Sprintf("line %d: invalid JSON", lineNum))
			continue
		}
		name := strings.TrimSpace(rec.Name)
		version := strings.TrimSpace(rec.Version)
		if name == "" || version == "" {
			skipped = append(skipped, fmt.Sprintf("line %d: missing name or version", lineNum))
			continue
		}
		if !slices.Contains(packages[name], version) {
			packages[name] = append(packages[name], version)
		}
	}

	if len(packages) == 0 {
		return nil, xerrors.New("SafeDep feed returned no valid package entries")
	}
	for name := range packages {
		slices.Sort(packages[name])
	}

	return &types.Aggregation{
		FeedID:         "safedep",
		DisplayName:    "SafeDep feed",
		Packages:       packages,
		TotalRecords:   total,
		SkippedRecords: skipped,
	}, nil
}
