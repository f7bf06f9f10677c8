package compromised

import (
	"time"

	"github.com/aquasecurity/go-version/pkg/semver"
)

// Entry is a single compromised package with the version predicate that
// decides whether an installed version is affected.
type Entry struct {
	Name     string   `json:"name"`
	Versions []string `json:"versions"`
	Advisory string   `json:"advisory,omitempty"`

	predicate predicate
}

// Metadata captures where the list came from and when.
type Metadata struct {
	SchemaVersion string    `json:"schemaVersion"`
	SourceURI     string    `json:"sourceUri"`
	RetrievedAt   time.Time `json:"retrievedAt"`
	GeneratedAt   string    `json:"generatedAt,omitempty"`
	ContentHash   string    `json:"contentHash"`
}

// List is the validated, normalized compromised-package list.
type List struct {
	Entries  []Entry
	Metadata Metadata

	byName map[string][]*Entry
}

// Lookup returns every entry for the given package name, in document order.
// Name comparison is case-sensitive and exact.
func (l *List) Lookup(name string) []*Entry {
	return l.byName[name]
}

// Matches reports whether the version satisfies the entry's predicate.
// Versions that are not valid semantic versions never match.
func (e *Entry) Matches(version string) bool {
	v, err := semver.Parse(version)
	if err != nil {
		return false
	}
	return e.predicate.match(v)
}

// predicate is the compiled form of an entry's version expressions: a set of
// terms, each either an exact version or an npm-style range. The entry
// matches when any term matches.
type predicate struct {
	terms []predicateTerm
}

type predicateTerm struct {
	raw         string
	exact       *semver.Version
	constraints *semver.Constraints
}

func (p predicate) match(v semver.Version) bool {
	for _, t := range p.terms {
		if t.exact != nil {
			if t.exact.Compare(v) == 0 {
				return true
			}
			continue
		}
		if t.constraints.Check(v) {
			return true
		}
	}
	return false
}

func compileTerm(raw string) (predicateTerm, error) {
	if v, err := semver.Parse(raw); err == nil {
		return predicateTerm{raw: raw, exact: &v}, nil
	}
	c, err := semver.NewConstraints(raw)
	if err != nil {
		return predicateTerm{}, err
	}
	return predicateTerm{raw: raw, constraints: &c}, nil
}
