package feeds

import (
	"encoding/json"
	"log"
	"sort"
	"time"

	"github.com/cheggaaa/pb"
	version "github.com/hashicorp/go-version"
	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/feeds/safedep"
	"github.com/salsadigitalauorg/npm-validator-action/feeds/wiz"
	"github.com/salsadigitalauorg/npm-validator-action/types"
	"github.com/salsadigitalauorg/npm-validator-action/utils"
)

const (
	// DefaultConfigPath is the feed configuration bundled with the repo.
	DefaultConfigPath = "settings.json"

	defaultRetry = 3
)

type handler func(url string, retry int) (*types.Aggregation, error)

// Known feed handlers. New feed formats register here.
var handlers = map[string]handler{
	"wiz": func(url string, retry int) (*types.Aggregation, error) {
		return wiz.NewFeed(wiz.WithURL(url), wiz.WithRetry(retry)).Fetch()
	},
	"safedep": func(url string, retry int) (*types.Aggregation, error) {
		return safedep.NewFeed(safedep.WithURL(url), safedep.WithRetry(retry)).Fetch()
	},
}

// FeedConfig configures a single feed. Handler defaults to the feed ID.
type FeedConfig struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Enabled     *bool  `json:"enabled"`
	Description string `json:"description"`
	Handler     string `json:"handler"`
}

func (fc FeedConfig) enabled() bool {
	return fc.Enabled == nil || *fc.Enabled
}

type Settings struct {
	Feeds []FeedConfig `json:"feeds"`
}

// EnabledFeeds returns the feeds that are not switched off.
func (s *Settings) EnabledFeeds() []FeedConfig {
	return lo.Filter(s.Feeds, func(fc FeedConfig, _ int) bool {
		return fc.enabled()
	})
}

// LoadSettings reads and validates the feed configuration.
func LoadSettings(appFs afero.Fs, path string) (*Settings, error) {
	raw, err := afero.ReadFile(appFs, path)
	if err != nil {
		return nil, xerrors.Errorf("failed to read feed config %s: %w", path, err)
	}

	var settings Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, xerrors.Errorf("invalid feed config %s: %w", path, err)
	}
	if len(settings.Feeds) == 0 {
		return nil, xerrors.Errorf("feed config %s must declare at least one feed", path)
	}

	seen := map[string]struct{}{}
	for i := range settings.Feeds {
		fc := &settings.Feeds[i]
		if fc.ID == "" {
			return nil, xerrors.Errorf("feed at index %d is missing required 'id' field", i)
		}
		if fc.URL == "" {
			return nil, xerrors.Errorf("feed %q is missing required 'url' field", fc.ID)
		}
		if _, ok := seen[fc.ID]; ok {
			return nil, xerrors.Errorf("duplicate feed ID %q", fc.ID)
		}
		seen[fc.ID] = struct{}{}

		if fc.Handler == "" {
			fc.Handler = fc.ID
		}
		if _, ok := handlers[fc.Handler]; !ok && fc.enabled() {
			known := maps.Keys(handlers)
			slices.Sort(known)
			return nil, xerrors.Errorf("unknown feed handler %q, registered handlers: %v", fc.Handler, known)
		}
	}
	return &settings, nil
}

type options struct {
	configPath string
	dest       string
	retry      int
	appFs      afero.Fs
	clock      func() time.Time
}

type option func(*options)

func WithConfigPath(path string) option {
	return func(opts *options) { opts.configPath = path }
}

func WithDest(dest string) option {
	return func(opts *options) { opts.dest = dest }
}

func WithRetry(retry int) option {
	return func(opts *options) { opts.retry = retry }
}

func WithFs(appFs afero.Fs) option {
	return func(opts *options) { opts.appFs = appFs }
}

func WithClock(clock func() time.Time) option {
	return func(opts *options) { opts.clock = clock }
}

// Updater regenerates the bundled compromised-package list from the
// configured vendor IOC feeds.
type Updater struct {
	*options
}

func NewUpdater(opts ...option) Updater {
	o := &options{
		configPath: DefaultConfigPath,
		dest:       compromised.DefaultListPath,
		retry:      defaultRetry,
		appFs:      afero.NewOsFs(),
		clock:      func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return Updater{
		options: o,
	}
}

type listDocument struct {
	SchemaVersion string         `json:"schemaVersion"`
	GeneratedAt   string         `json:"generatedAt"`
	Packages      []packageEntry `json:"packages"`
}

type packageEntry struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
}

// Update fetches every enabled feed, merges the aggregations and writes a
// schema-valid list document to the destination path.
func (u Updater) Update() error {
	settings, err := LoadSettings(u.appFs, u.configPath)
	if err != nil {
		return err
	}

	enabled := settings.EnabledFeeds()
	log.Printf("Fetching %d compromised package feeds", len(enabled))

	merged := map[string][]string{}
	bar := pb.StartNew(len(enabled))
	for _, fc := range enabled {
		agg, err := handlers[fc.Handler](fc.URL, u.retry)
		if err != nil {
			return xerrors.Errorf("failed to ingest feed %q: %w", fc.ID, err)
		}
		log.Printf("%s: %d packages, %d versions, %d skipped records",
			agg.DisplayName, agg.PackageCount(), agg.VersionCount(), len(agg.SkippedRecords))
		for name, versions := range agg.Packages {
			merged[name] = append(merged[name], versions...)
		}
		bar.Increment()
	}
	bar.Finish()

	doc := listDocument{
		SchemaVersion: compromised.SchemaVersion,
		GeneratedAt:   u.clock().Format(time.RFC3339),
	}
	names := maps.Keys(merged)
	slices.Sort(names)
	for _, name := range names {
		doc.Packages = append(doc.Packages, packageEntry{
			Name:     name,
			Versions: sortVersions(lo.Uniq(merged[name])),
		})
	}

	if err := utils.NewFs(u.appFs).WriteJSON(u.dest, doc); err != nil {
		return xerrors.Errorf("failed to write compromised list: %w", err)
	}
	log.Printf("wrote %d packages to %s", len(doc.Packages), u.dest)
	return nil
}

// sortVersions orders semantically when every version parses, falling back
// to lexicographic order otherwise.
func sortVersions(versions []string) []string {
	parsed := make([]*version.Version, 0, len(versions))
	for _, v := range versions {
		p, err := version.NewVersion(v)
		if err != nil {
			slices.Sort(versions)
			return versions
		}
		parsed = append(parsed, p)
	}
	sort.Sort(version.Collection(parsed))

	sorted := make([]string, len(parsed))
	for i, p := range parsed {
		sorted[i] = p.Original()
	}
	return sorted
}
