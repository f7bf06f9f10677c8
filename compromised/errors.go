package compromised

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a local list path does not exist.
type NotFoundError struct {
	Path string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("compromised list not found: %s", e.Path)
}

// FetchError is returned when a remote list cannot be retrieved.
type FetchError struct {
	URL string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch compromised list from %s: %s", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// InsecureSourceError is returned for plaintext HTTP list sources.
type InsecureSourceError struct {
	URL string
}

func (e *InsecureSourceError) Error() string {
	return fmt.Sprintf("refusing plaintext HTTP list source: %s", e.URL)
}

// Violation is a single schema problem, addressed by its field path.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) String() string {
	field := v.Field
	if field == "" {
		field = "<root>"
	}
	return fmt.Sprintf("- %s: %s", field, v.Message)
}

// SchemaError aggregates every schema violation found in one validation
// pass, so a single run surfaces all problems.
type SchemaError struct {
	Source     string
	Violations []Violation
}

func (e *SchemaError) Error() string {
	lines := make([]string, 0, len(e.Violations)+1)
	lines = append(lines, fmt.Sprintf("compromised list %s failed validation:", e.Source))
	for _, v := range e.Violations {
		lines = append(lines, v.String())
	}
	return strings.Join(lines, "\n")
}
