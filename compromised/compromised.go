package compromised

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/spf13/afero"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/utils"
)

const (
	// DefaultListPath is the list bundled with the action.
	DefaultListPath = "data/compromised_packages.json"

	// SchemaVersion is the only recognized list schema version.
	SchemaVersion = "1"

	fetchTimeout  = 30 * time.Second
	fetchSizeCap  = 10 * 1024 * 1024
	httpsPrefix   = "https://"
	plainPrefix   = "http://"
	extensiblePre = "x-"
)

type options struct {
	timeout   time.Duration
	sizeLimit int64
	appFs     afero.Fs
	clock     func() time.Time
}

type option func(*options)

func WithTimeout(timeout time.Duration) option {
	return func(opts *options) { opts.timeout = timeout }
}

func WithSizeLimit(limit int64) option {
	return func(opts *options) { opts.sizeLimit = limit }
}

func WithFs(appFs afero.Fs) option {
	return func(opts *options) { opts.appFs = appFs }
}

func WithClock(clock func() time.Time) option {
	return func(opts *options) { opts.clock = clock }
}

// Loader obtains, validates and normalizes a compromised-package list.
type Loader struct {
	*options
}

func NewLoader(opts ...option) Loader {
	o := &options{
		timeout:   fetchTimeout,
		sizeLimit: fetchSizeCap,
		appFs:     afero.NewOsFs(),
		clock:     func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(o)
	}

	return Loader{
		options: o,
	}
}

// Load reads the list from a local path or an HTTPS URL. Plaintext HTTP is
// rejected. The document is validated exhaustively before any entry is used.
func (l Loader) Load(sourceRef string) (*List, error) {
	raw, err := l.acquire(sourceRef)
	if err != nil {
		return nil, err
	}

	list, err := parse(raw, sourceRef)
	if err != nil {
		return nil, err
	}

	list.Metadata.SourceURI = sourceRef
	list.Metadata.RetrievedAt = l.clock()
	list.Metadata.ContentHash = fmt.Sprintf("%x", sha256.Sum256(raw))
	return list, nil
}

func (l Loader) acquire(sourceRef string) ([]byte, error) {
	if strings.HasPrefix(sourceRef, plainPrefix) {
		return nil, &InsecureSourceError{URL: sourceRef}
	}
	if strings.HasPrefix(sourceRef, httpsPrefix) {
		body, err := utils.FetchURL(sourceRef, l.timeout, l.sizeLimit)
		if err != nil {
			return nil, &FetchError{URL: sourceRef, Err: err}
		}
		return body, nil
	}

	ok, err := afero.Exists(l.appFs, sourceRef)
	if err != nil {
		return nil, xerrors.Errorf("failed to stat %s: %w", sourceRef, err)
	}
	if !ok {
		return nil, &NotFoundError{Path: sourceRef}
	}

	raw, err := afero.ReadFile(l.appFs, sourceRef)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", sourceRef, err)
	}
	return raw, nil
}

// listDocument is the canonical document shape. The legacy shape, a bare
// name to versions mapping, is accepted as well.
type listDocument struct {
	SchemaVersion string          `json:"schemaVersion"`
	GeneratedAt   string          `json:"generatedAt"`
	Packages      []entryDocument `json:"packages"`
}

type entryDocument struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Advisory string   `json:"advisory"`
}

func parse(raw []byte, source string) (*List, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, &SchemaError{Source: source, Violations: []Violation{
			{Field: "", Message: fmt.Sprintf("invalid JSON document: %s", err)},
		}}
	}

	var list *List
	var violations []Violation
	if _, ok := top["packages"]; ok {
		list, violations = parseDocument(raw, top)
	} else {
		list, violations = parseMapping(top)
	}

	if len(violations) > 0 {
		return nil, &SchemaError{Source: source, Violations: violations}
	}

	list.byName = make(map[string][]*Entry, len(list.Entries))
	for i := range list.Entries {
		e := &list.Entries[i]
		list.byName[e.Name] = append(list.byName[e.Name], e)
	}
	return list, nil
}

func parseDocument(raw []byte, top map[string]json.RawMessage) (*List, []Violation) {
	var violations []Violation
	for _, key := range sortedKeys(top) {
		switch key {
		case "schemaVersion", "generatedAt", "packages":
		default:
			if !strings.HasPrefix(key, extensiblePre) {
				violations = append(violations, Violation{Field: key, Message: "unknown top-level key"})
			}
		}
	}

	var doc listDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, append(violations, Violation{Field: "packages", Message: fmt.Sprintf("malformed document: %s", err)})
	}

	list := &List{Metadata: Metadata{SchemaVersion: SchemaVersion}}
	if doc.SchemaVersion != "" {
		if doc.SchemaVersion != SchemaVersion {
			violations = append(violations, Violation{
				Field:   "schemaVersion",
				Message: fmt.Sprintf("unrecognized schema version %q, want %q", doc.SchemaVersion, SchemaVersion),
			})
		}
		list.Metadata.SchemaVersion = doc.SchemaVersion
	}
	if doc.GeneratedAt != "" {
		t, err := dateparse.ParseAny(doc.GeneratedAt)
		if err != nil {
			violations = append(violations, Violation{
				Field:   "generatedAt",
				Message: fmt.Sprintf("unparseable timestamp %q", doc.GeneratedAt),
			})
		} else {
			list.Metadata.GeneratedAt = t.UTC().Format(time.RFC3339)
		}
	}

	if len(doc.Packages) == 0 {
		violations = append(violations, Violation{Field: "packages", Message: "at least one package entry is required"})
	}
	for i, e := range doc.Packages {
		field := fmt.Sprintf("packages/%d", i)
		entry, vs := buildEntry(field, e.Name, e.Versions)
		entry.Advisory = e.Advisory
		if len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		list.Entries = append(list.Entries, entry)
	}
	return list, violations
}

func parseMapping(top map[string]json.RawMessage) (*List, []Violation) {
	var violations []Violation
	list := &List{Metadata: Metadata{SchemaVersion: SchemaVersion}}

	// JSON objects carry no usable order, so the legacy mapping form is
	// normalized to lexicographic name order.
	for _, name := range sortedKeys(top) {
		var versions []string
		if err := json.Unmarshal(top[name], &versions); err != nil {
			violations = append(violations, Violation{Field: name, Message: "value must be an array of version strings"})
			continue
		}
		entry, vs := buildEntry(name, name, versions)
		if len(vs) > 0 {
			violations = append(violations, vs...)
			continue
		}
		list.Entries = append(list.Entries, entry)
	}
	if len(list.Entries) == 0 && len(violations) == 0 {
		violations = append(violations, Violation{Field: "", Message: "unsupported compromised list format"})
	}
	return list, violations
}

func buildEntry(field, name string, versions []string) (Entry, []Violation) {
	var violations []Violation
	if name == "" {
		violations = append(violations, Violation{Field: field + "/name", Message: "package name must be non-empty"})
	}
	if len(versions) == 0 {
		violations = append(violations, Violation{Field: field + "/versions", Message: "at least one version is required"})
	}

	entry := Entry{Name: name, Versions: versions}
	seen := make(map[string]struct{}, len(versions))
	for i, raw := range versions {
		vField := fmt.Sprintf("%s/versions/%d", field, i)
		if raw == "" {
			violations = append(violations, Violation{Field: vField, Message: "version must be non-empty"})
			continue
		}
		if _, ok := seen[raw]; ok {
			violations = append(violations, Violation{Field: vField, Message: fmt.Sprintf("duplicate version %q", raw)})
			continue
		}
		seen[raw] = struct{}{}

		term, err := compileTerm(raw)
		if err != nil {
			violations = append(violations, Violation{
				Field:   vField,
				Message: fmt.Sprintf("invalid version expression %q: %s", raw, err),
			})
			continue
		}
		entry.predicate.terms = append(entry.predicate.terms, term)
	}
	return entry, violations
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
