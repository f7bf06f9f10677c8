package scan

import (
	"log"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/inventory"
)

// Finding is a confirmed match between an inventory record and a
// compromised-list entry.
type Finding struct {
	Record inventory.Record   `json:"record"`
	Entry  *compromised.Entry `json:"entry"`
}

// Result is the immutable outcome of one scan invocation, the sole input to
// report rendering.
type Result struct {
	Inventory *inventory.Inventory
	Findings  []Finding
	List      *compromised.List
}

// Match evaluates every inventory record against the list. Findings keep the
// inventory's file/locator order; a record matched by several entries yields
// one finding per entry, in list order. Unresolved and non-semver versions
// never match.
func Match(inv *inventory.Inventory, list *compromised.List) []Finding {
	var findings []Finding
	for i := range inv.Records {
		rec := inv.Records[i]
		if rec.Unresolved {
			continue
		}
		for _, entry := range list.Lookup(rec.Name) {
			if entry.Matches(rec.Version) {
				findings = append(findings, Finding{Record: rec, Entry: entry})
			}
		}
	}
	return findings
}

// Scanner wires the list loader and the inventory extractor into one pass.
type Scanner struct {
	loader    compromised.Loader
	extractor inventory.Extractor
}

func NewScanner(loader compromised.Loader, extractor inventory.Extractor) Scanner {
	return Scanner{
		loader:    loader,
		extractor: extractor,
	}
}

// Scan loads the list, extracts the inventory and matches them. The list is
// fully loaded and validated before any file under rootDir is read.
func (s Scanner) Scan(rootDir, listSource string) (*Result, error) {
	list, err := s.loader.Load(listSource)
	if err != nil {
		return nil, err
	}

	inv, err := s.extractor.Extract(rootDir)
	if err != nil {
		return nil, err
	}
	for _, w := range inv.Warnings {
		log.Printf("skipped %s: %s", w.File, w.Message)
	}

	return &Result{
		Inventory: inv,
		Findings:  Match(inv, list),
		List:      list,
	}, nil
}
