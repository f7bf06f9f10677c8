package report_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kylelemons/godebug/diff"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/inventory"
	"github.com/salsadigitalauorg/npm-validator-action/report"
	"github.com/salsadigitalauorg/npm-validator-action/scan"
)

var renderedAt = time.Date(2025, 9, 17, 12, 0, 0, 0, time.UTC)

func newTestResult(t *testing.T, list, lockfile string) *scan.Result {
	t.Helper()
	appFs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(appFs, "list.json", []byte(list), 0644))
	require.NoError(t, afero.WriteFile(appFs, "repo/package-lock.json", []byte(lockfile), 0644))

	loader := compromised.NewLoader(
		compromised.WithFs(appFs),
		compromised.WithClock(func() time.Time { return renderedAt }),
	)
	result, err := scan.NewScanner(loader, inventory.NewExtractor(inventory.WithFs(appFs))).
		Scan("repo", "list.json")
	require.NoError(t, err)
	return result
}

func TestRender_Deterministic(t *testing.T) {
	list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"], "advisory": "npm-event-stream-2018"}]}`
	lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}, "left-pad": {"version": "1.3.0"}}}`
	opts := report.Options{PSAID: "PSA-2025-09-17", GeneratedAt: renderedAt}

	first, err := report.Render(newTestResult(t, list, lockfile), opts)
	require.NoError(t, err)
	second, err := report.Render(newTestResult(t, list, lockfile), opts)
	require.NoError(t, err)

	assert.Empty(t, diff.Diff(string(first.JSON), string(second.JSON)))
	assert.Empty(t, diff.Diff(string(first.Summary), string(second.Summary)))
	assert.Empty(t, diff.Diff(string(first.Inventory), string(second.Inventory)))
}

func TestRender_JSONReport(t *testing.T) {
	list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"], "advisory": "npm-event-stream-2018"}]}`
	lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}}}`

	artifacts, err := report.Render(newTestResult(t, list, lockfile), report.Options{GeneratedAt: renderedAt})
	require.NoError(t, err)

	var doc report.Document
	require.NoError(t, json.Unmarshal(artifacts.JSON, &doc))
	assert.Equal(t, "1", doc.SchemaVersion)
	assert.Equal(t, "2025-09-17T12:00:00Z", doc.GeneratedAt)
	assert.Equal(t, "list.json", doc.List.SourceURI)
	assert.True(t, doc.HasFindings)
	assert.Equal(t, 1, doc.Totals.Packages)
	assert.Equal(t, 1, doc.Totals.Findings)
	require.Len(t, doc.Findings, 1)
	assert.Equal(t, "event-stream", doc.Findings[0].Package)
	assert.Equal(t, "3.3.6", doc.Findings[0].Installed)
	assert.Equal(t, "package-lock.json", doc.Findings[0].File)
	assert.Equal(t, "dependencies.event-stream", doc.Findings[0].Locator)
	assert.Equal(t, "npm-event-stream-2018", doc.Findings[0].Advisory)
}

func TestRender_Summary(t *testing.T) {
	t.Run("with findings and PSA", func(t *testing.T) {
		list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"]}]}`
		lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}}}`

		artifacts, err := report.Render(newTestResult(t, list, lockfile),
			report.Options{PSAID: "PSA-2025-09-17", GeneratedAt: renderedAt})
		require.NoError(t, err)

		summary := string(artifacts.Summary)
		assert.Contains(t, summary, "# PSA-2025-09-17 Inventory & Match Status")
		assert.Contains(t, summary, "**Overall Status:** **MATCH**")
		assert.Contains(t, summary, "| Findings | 1 |")
		assert.Contains(t, summary, "| event-stream | 3.3.6 | package-lock.json | dependencies.event-stream | 3.3.6 |")
	})

	t.Run("zero findings stated explicitly", func(t *testing.T) {
		list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"]}]}`
		lockfile := `{"dependencies": {"left-pad": {"version": "1.3.0"}}}`

		artifacts, err := report.Render(newTestResult(t, list, lockfile), report.Options{GeneratedAt: renderedAt})
		require.NoError(t, err)

		summary := string(artifacts.Summary)
		assert.Contains(t, summary, "# Inventory & Match Status")
		assert.Contains(t, summary, "**Overall Status:** **OK**")
		assert.Contains(t, summary, "No findings.")
	})

	t.Run("warn-only mode is called out next to findings", func(t *testing.T) {
		list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"]}]}`
		lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}}}`

		artifacts, err := report.Render(newTestResult(t, list, lockfile),
			report.Options{WarnOnly: true, GeneratedAt: renderedAt})
		require.NoError(t, err)

		summary := string(artifacts.Summary)
		assert.Contains(t, summary, "**Overall Status:** **MATCH**")
		assert.Contains(t, summary, "Warn-only mode is enabled")
	})
}

func TestRender_InventoryFile(t *testing.T) {
	list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"]}]}`
	lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}, "left-pad": {"version": "1.3.0"}}}`

	artifacts, err := report.Render(newTestResult(t, list, lockfile), report.Options{GeneratedAt: renderedAt})
	require.NoError(t, err)

	want := "name\tversion\tfile\tlocator\n" +
		"event-stream\t3.3.6\tpackage-lock.json\tdependencies.event-stream\n" +
		"left-pad\t1.3.0\tpackage-lock.json\tdependencies.left-pad\n"
	assert.Equal(t, want, string(artifacts.Inventory))
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name     string
		findings int
		warnOnly bool
		want     int
	}{
		{name: "no findings", findings: 0, warnOnly: false, want: report.ExitOK},
		{name: "no findings, warn-only", findings: 0, warnOnly: true, want: report.ExitOK},
		{name: "findings", findings: 3, warnOnly: false, want: report.ExitFindings},
		{name: "findings, warn-only", findings: 3, warnOnly: true, want: report.ExitOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, report.ExitCode(tt.findings, tt.warnOnly))
		})
	}
}

func TestExitCodeForError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "list not found", err: &compromised.NotFoundError{Path: "x"}, want: report.ExitListNotFound},
		{name: "fetch failure", err: &compromised.FetchError{URL: "https://x", Err: xerrors.New("boom")}, want: report.ExitListFetch},
		{name: "insecure source", err: &compromised.InsecureSourceError{URL: "http://x"}, want: report.ExitInsecureSource},
		{name: "schema failure", err: &compromised.SchemaError{Source: "x"}, want: report.ExitListSchema},
		{name: "missing root", err: &inventory.FilesystemError{Path: "x", Err: xerrors.New("boom")}, want: report.ExitFilesystem},
		{name: "render failure", err: &report.RenderError{Path: "x", Err: xerrors.New("boom")}, want: report.ExitRender},
		{name: "wrapped error", err: xerrors.Errorf("wrapped: %w", &compromised.NotFoundError{Path: "x"}), want: report.ExitListNotFound},
		{name: "unknown error", err: xerrors.New("boom"), want: report.ExitUnexpected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, report.ExitCodeForError(tt.err))
		})
	}
}

func TestWrite(t *testing.T) {
	list := `{"packages": [{"name": "event-stream", "versions": ["3.3.6"]}]}`
	lockfile := `{"dependencies": {"event-stream": {"version": "3.3.6"}}}`
	artifacts, err := report.Render(newTestResult(t, list, lockfile), report.Options{GeneratedAt: renderedAt})
	require.NoError(t, err)

	paths := report.Paths{
		JSON:      "out/report.json",
		Summary:   "out/summary.md",
		Inventory: "out/inventory.txt",
	}

	t.Run("happy path", func(t *testing.T) {
		appFs := afero.NewMemMapFs()
		require.NoError(t, report.Write(appFs, artifacts, paths))

		got, err := afero.ReadFile(appFs, "out/report.json")
		require.NoError(t, err)
		assert.Equal(t, artifacts.JSON, got)

		for _, tmp := range []string{"out/report.json.tmp", "out/summary.md.tmp", "out/inventory.txt.tmp"} {
			exists, err := afero.Exists(appFs, tmp)
			require.NoError(t, err)
			assert.False(t, exists, tmp)
		}
	})

	t.Run("unwritable destination leaves nothing behind", func(t *testing.T) {
		base := afero.NewMemMapFs()
		err := report.Write(afero.NewReadOnlyFs(base), artifacts, paths)

		renderErr := &report.RenderError{}
		require.ErrorAs(t, err, &renderErr)

		for _, path := range []string{paths.JSON, paths.Summary, paths.Inventory} {
			exists, err := afero.Exists(base, path)
			require.NoError(t, err)
			assert.False(t, exists, path)
		}
	})
}
