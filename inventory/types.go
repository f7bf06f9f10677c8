package inventory

import (
	"fmt"

	"github.com/aquasecurity/go-version/pkg/semver"
)

// Record is one package/version declaration found in a manifest or lockfile.
// Locator addresses the declaration site within the file.
type Record struct {
	Name       string `json:"name"`
	Version    string `json:"version"`
	File       string `json:"file"`
	Locator    string `json:"locator"`
	Unresolved bool   `json:"unresolved,omitempty"`
}

// Warning records a manifest that could not be parsed. The file is skipped,
// the scan continues.
type Warning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Inventory is the deduplicated, deterministically ordered set of records
// extracted from one repository tree.
type Inventory struct {
	Records  []Record  `json:"records"`
	Warnings []Warning `json:"warnings,omitempty"`
}

// FilesystemError is returned when the scan root is missing or unreadable.
type FilesystemError struct {
	Path string
	Err  error
}

func (e *FilesystemError) Error() string {
	return fmt.Sprintf("cannot scan %s: %s", e.Path, e.Err)
}

func (e *FilesystemError) Unwrap() error { return e.Err }

func newRecord(name, version, file, locator string) Record {
	_, err := semver.Parse(version)
	return Record{
		Name:       name,
		Version:    version,
		File:       file,
		Locator:    locator,
		Unresolved: err != nil,
	}
}
