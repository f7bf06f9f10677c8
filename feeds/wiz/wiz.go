package wiz

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"regexp"
	"strings"
	"time"

	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/types"
	"github.com/salsadigitalauorg/npm-validator-action/utils"
)

const (
	feedURL = "https://raw.githubusercontent.com/wiz-sec-public/wiz-research-iocs/main/reports/shai-hulud-2-packages.csv"
	retry   = 3
	timeout = 30 * time.Second
)

var versionPattern = regexp.MustCompile(`^[0-9A-Za-z.+-]+$`)
var comparatorPrefix = regexp.MustCompile(`^[=<>~^\s]+`)

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

// Feed ingests the Wiz Research IOC CSV feed.
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

// Fetch returns the raw CSV payload and aggregates it.
func (f Feed) Fetch() (*types.Aggregation, error) {
	payload, err := utils.FetchURLWithRetry(f.url, timeout, 0, f.retry)
	if err != nil {
		return nil, xerrors.Errorf("failed to fetch Wiz feed: %w", err)
	}
	return Aggregate(payload)
}

// Aggregate parses the CSV payload into a package to versions mapping.
// Malformed rows are skipped and recorded; a payload with no valid entries
// is an error.
func Aggregate(payload []byte) (*types.Aggregation, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, xerrors.Errorf("failed to parse Wiz CSV: %w", err)
	}
	if len(rows) == 0 {
		return nil, xerrors.New("Wiz feed payload is missing headers")
	}

	nameCol, versionCol := -1, -1
	for i, header := range rows[0] {
		switch strings.TrimSpace(header) {
		case "Package":
			nameCol = i
		case "Version":
			versionCol = i
		}
	}
	if nameCol < 0 || versionCol < 0 {
		return nil, xerrors.New("Wiz feed missing required headers: Package, Version")
	}

	packages := map[string][]string{}
	var skipped []string
	for i, row := range rows[1:] {
		rowNum := i + 2
		if len(row) <= nameCol || len(row) <= versionCol {
			skipped = append(skipped, fmt.Sprintf("row %d: missing package or version", rowNum))
			continue
		}
		name := strings.TrimSpace(row[nameCol])
		versionField := strings.TrimSpace(row[versionCol])
		if name == "" || versionField == "" {
			skipped = append(skipped, fmt.Sprintf("row %d: missing package or version", rowNum))
			continue
		}

		versions, err := normalizeVersions(versionField)
		if err != nil {
			skipped = append(skipped, fmt.Sprintf("row %d: %s", rowNum, err))
			continue
		}
		if len(versions) == 0 {
			skipped = append(skipped, fmt.Sprintf("row %d: no versions after normalization", rowNum))
			continue
		}
		for _, v := range versions {
			if !slices.Contains(packages[name], v) {
				packages[name] = append(packages[name], v)
			}
		}
	}

	if len(packages) == 0 {
		return nil, xerrors.New("Wiz feed returned no valid package entries")
	}
	for name := range packages {
		slices.Sort(packages[name])
	}

	return &types.Aggregation{
		FeedID:         "wiz",
		DisplayName:    "Wiz IOC feed",
		Packages:       packages,
		TotalRecords:   len(rows) - 1,
		SkippedRecords: skipped,
	}, nil
}

// normalizeVersions splits a "1.0.0 || 1.0.1" style field and strips
// comparator prefixes and a leading v.
func normalizeVersions(raw string) ([]string, error) {
	var versions []string
	for _, candidate := range strings.Split(raw, "||") {
		cleaned := strings.TrimSpace(candidate)
		cleaned = comparatorPrefix.ReplaceAllString(cleaned, "")
		cleaned = strings.TrimPrefix(cleaned, "v")
		if cleaned == "" {
			continue
		}
		if !versionPattern.MatchString(cleaned) {
			return nil, xerrors.Errorf("invalid version %q", strings.TrimSpace(candidate))
		}
		versions = append(versions, cleaned)
	}
	return versions, nil
}
