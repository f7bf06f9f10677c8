package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/inventory"
	"github.com/salsadigitalauorg/npm-validator-action/scan"
)

// Exit codes. Findings are the expected outcome of a successful scan; fatal
// codes start at 20 so callers can tell "found problems" from "could not
// run".
const (
	ExitOK             = 0
	ExitFindings       = 10
	ExitUnexpected     = 20
	ExitListNotFound   = 21
	ExitListFetch      = 22
	ExitInsecureSource = 23
	ExitListSchema     = 24
	ExitFilesystem     = 25
	ExitRender         = 26
)

const schemaVersion = "1"

// DefaultPaths places every artifact under the OS temp directory.
func DefaultPaths() Paths {
	tmp := os.TempDir()
	return Paths{
		JSON:      filepath.Join(tmp, "npm-validator-report.json"),
		Summary:   filepath.Join(tmp, "npm-validator-summary.md"),
		Inventory: filepath.Join(tmp, "npm-validator-inventory.txt"),
	}
}

// Render produces all three artifacts from one scan result.
func Render(result *scan.Result, opts Options) (*Artifacts, error) {
	doc := buildDocument(result, opts)
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal report: %w", err)
	}

	return &Artifacts{
		JSON:      append(b, '\n'),
		Summary:   []byte(renderSummary(doc, opts)),
		Inventory: []byte(renderInventory(result.Inventory.Records)),
	}, nil
}

// ExitCode implements the findings/warn-only decision.
func ExitCode(findings int, warnOnly bool) int {
	if findings == 0 || warnOnly {
		return ExitOK
	}
	return ExitFindings
}

// ExitCodeForError maps a pipeline error onto the fatal code range.
func ExitCodeForError(err error) int {
	var (
		notFound *compromised.NotFoundError
		fetch    *compromised.FetchError
		insecure *compromised.InsecureSourceError
		schema   *compromised.SchemaError
		fs       *inventory.FilesystemError
		render   *RenderError
	)
	switch {
	case xerrors.As(err, &notFound):
		return ExitListNotFound
	case xerrors.As(err, &fetch):
		return ExitListFetch
	case xerrors.As(err, &insecure):
		return ExitInsecureSource
	case xerrors.As(err, &schema):
		return ExitListSchema
	case xerrors.As(err, &fs):
		return ExitFilesystem
	case xerrors.As(err, &render):
		return ExitRender
	}
	return ExitUnexpected
}

// Write saves every artifact, all or nothing: each is staged next to its
// destination and the renames happen only after every stage succeeded.
func Write(appFs afero.Fs, artifacts *Artifacts, paths Paths) error {
	targets := []struct {
		path string
		data []byte
	}{
		{paths.JSON, artifacts.JSON},
		{paths.Summary, artifacts.Summary},
		{paths.Inventory, artifacts.Inventory},
	}

	var staged []string
	cleanup := func() {
		for _, tmp := range staged {
			_ = appFs.Remove(tmp)
		}
	}

	for _, t := range targets {
		if dir := filepath.Dir(t.path); dir != "." {
			if err := appFs.MkdirAll(dir, 0755); err != nil {
				cleanup()
				return &RenderError{Path: t.path, Err: err}
			}
		}
		tmp := t.path + ".tmp"
		if err := afero.WriteFile(appFs, tmp, t.data, 0644); err != nil {
			cleanup()
			return &RenderError{Path: t.path, Err: err}
		}
		staged = append(staged, tmp)
	}

	for i, t := range targets {
		if err := appFs.Rename(staged[i], t.path); err != nil {
			cleanup()
			return &RenderError{Path: t.path, Err: err}
		}
	}
	return nil
}

func buildDocument(result *scan.Result, opts Options) Document {
	findings := make([]FindingDocument, 0, len(result.Findings))
	for _, f := range result.Findings {
		findings = append(findings, FindingDocument{
			Package:     f.Record.Name,
			Installed:   f.Record.Version,
			File:        f.Record.File,
			Locator:     f.Record.Locator,
			Compromised: f.Entry.Versions,
			Advisory:    f.Entry.Advisory,
		})
	}

	records := result.Inventory.Records
	if records == nil {
		records = []inventory.Record{}
	}

	return Document{
		SchemaVersion: schemaVersion,
		GeneratedAt:   opts.GeneratedAt.UTC().Format(time.RFC3339),
		List:          result.List.Metadata,
		HasFindings:   len(findings) > 0,
		Totals: Totals{
			Packages: len(records),
			Findings: len(findings),
			Warnings: len(result.Inventory.Warnings),
		},
		Findings:  findings,
		Inventory: records,
		Warnings:  result.Inventory.Warnings,
	}
}

func renderSummary(doc Document, opts Options) string {
	var lines []string
	if opts.PSAID != "" {
		lines = append(lines, fmt.Sprintf("# %s Inventory & Match Status", opts.PSAID))
	} else {
		lines = append(lines, "# Inventory & Match Status")
	}
	lines = append(lines, "")

	if doc.HasFindings {
		lines = append(lines, "❌ **Overall Status:** **MATCH** — Compromised packages detected; review required.")
		if opts.WarnOnly {
			lines = append(lines, "", "⚠️ Warn-only mode is enabled: the run will not fail.")
		}
	} else {
		lines = append(lines, "✅ **Overall Status:** **OK** — No compromised packages detected.")
	}
	lines = append(lines,
		"",
		"| Metric | Value |",
		"| --- | --- |",
		fmt.Sprintf("| Packages scanned | %d |", doc.Totals.Packages),
		fmt.Sprintf("| Findings | %d |", doc.Totals.Findings),
		fmt.Sprintf("| Files skipped | %d |", doc.Totals.Warnings),
		"",
		"## Findings",
		"",
	)

	if !doc.HasFindings {
		lines = append(lines, "No findings.")
	} else {
		lines = append(lines,
			"| Package | Installed | File | Locator | Compromised Versions |",
			"| --- | --- | --- | --- | --- |",
		)
		for _, f := range doc.Findings {
			lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %s |",
				f.Package, f.Installed, f.File, f.Locator, strings.Join(f.Compromised, ",")))
		}
	}

	if len(doc.Warnings) > 0 {
		lines = append(lines, "", "## Skipped files", "")
		for _, w := range doc.Warnings {
			lines = append(lines, fmt.Sprintf("- %s: %s", w.File, w.Message))
		}
	}

	return strings.Join(lines, "\n") + "\n"
}

func renderInventory(records []inventory.Record) string {
	lines := make([]string, 0, len(records)+1)
	lines = append(lines, "name\tversion\tfile\tlocator")
	for _, r := range records {
		lines = append(lines, strings.Join([]string{r.Name, r.Version, r.File, r.Locator}, "\t"))
	}
	return strings.Join(lines, "\n") + "\n"
}
