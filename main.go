package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/feeds"
	"github.com/salsadigitalauorg/npm-validator-action/inventory"
	"github.com/salsadigitalauorg/npm-validator-action/report"
	"github.com/salsadigitalauorg/npm-validator-action/scan"
	"github.com/salsadigitalauorg/npm-validator-action/utils"
)

var (
	target        = flag.String("target", "scan", "operation (scan, update)")
	rootDir       = flag.String("root", ".", "repository root to scan")
	listSource    = flag.String("list", "", "compromised list path or HTTPS URL")
	warnOnly      = flag.Bool("warn-only", false, "report findings without failing the run")
	psaID         = flag.String("psa-id", "", "security advisory ID referenced in the summary")
	reportPath    = flag.String("report", "", "JSON report destination")
	summaryPath   = flag.String("summary", "", "Markdown summary destination")
	inventoryPath = flag.String("inventory", "", "inventory file destination")
	feedsConfig   = flag.String("feeds-config", feeds.DefaultConfigPath, "feed configuration for -target update")
	listDest      = flag.String("list-dest", compromised.DefaultListPath, "list destination for -target update")
)

func main() {
	flag.Parse()
	os.Exit(run())
}

func run() int {
	switch *target {
	case "update":
		updater := feeds.NewUpdater(
			feeds.WithConfigPath(*feedsConfig),
			feeds.WithDest(*listDest),
		)
		if err := updater.Update(); err != nil {
			log.Print(err)
			return report.ExitUnexpected
		}
		return report.ExitOK
	case "scan":
		return runScan()
	default:
		log.Printf("unknown target %q", *target)
		return report.ExitUnexpected
	}
}

func runScan() int {
	source := *listSource
	if source == "" {
		source = utils.LookupEnv("NPM_VALIDATOR_LIST_SOURCE", compromised.DefaultListPath)
	}
	warn := *warnOnly || envTrue("NPM_VALIDATOR_WARN_ONLY")

	scanner := scan.NewScanner(compromised.NewLoader(), inventory.NewExtractor())
	result, err := scanner.Scan(*rootDir, source)
	if err != nil {
		log.Print(err)
		return report.ExitCodeForError(err)
	}

	artifacts, err := report.Render(result, report.Options{
		WarnOnly:    warn,
		PSAID:       *psaID,
		GeneratedAt: time.Now().UTC(),
	})
	if err != nil {
		log.Print(err)
		return report.ExitCodeForError(err)
	}

	paths := report.DefaultPaths()
	if *reportPath != "" {
		paths.JSON = *reportPath
	}
	if *summaryPath != "" {
		paths.Summary = *summaryPath
	}
	if *inventoryPath != "" {
		paths.Inventory = *inventoryPath
	}
	if err := report.Write(afero.NewOsFs(), artifacts, paths); err != nil {
		log.Print(err)
		return report.ExitCodeForError(err)
	}

	fmt.Printf("report: %s\n", absPath(paths.JSON))
	fmt.Printf("summary: %s\n", absPath(paths.Summary))
	fmt.Printf("inventory: %s\n", absPath(paths.Inventory))
	fmt.Printf("findings: %d\n", len(result.Findings))
	return report.ExitCode(len(result.Findings), warn)
}

func envTrue(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
