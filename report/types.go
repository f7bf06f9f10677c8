package report

import (
	"fmt"
	"time"

	"github.com/salsadigitalauorg/npm-validator-action/compromised"
	"github.com/salsadigitalauorg/npm-validator-action/inventory"
)

// Options configures rendering. GeneratedAt is supplied by the caller so
// identical inputs render byte-identical artifacts.
type Options struct {
	WarnOnly    bool
	PSAID       string
	GeneratedAt time.Time
}

// Paths are the destinations of the three artifacts.
type Paths struct {
	JSON      string
	Summary   string
	Inventory string
}

// Artifacts holds the rendered bytes of every artifact. Rendering is
// separated from writing so a write failure never leaves a subset of
// artifacts behind from a partial render.
type Artifacts struct {
	JSON      []byte
	Summary   []byte
	Inventory []byte
}

// Document is the JSON report. Field order is fixed by the struct.
type Document struct {
	SchemaVersion string               `json:"schemaVersion"`
	GeneratedAt   string               `json:"generatedAt"`
	List          compromised.Metadata `json:"list"`
	HasFindings   bool                 `json:"hasFindings"`
	Totals        Totals               `json:"totals"`
	Findings      []FindingDocument    `json:"findings"`
	Inventory     []inventory.Record   `json:"inventory"`
	Warnings      []inventory.Warning  `json:"warnings,omitempty"`
}

type Totals struct {
	Packages int `json:"packages"`
	Findings int `json:"findings"`
	Warnings int `json:"warnings"`
}

type FindingDocument struct {
	Package     string   `json:"package"`
	Installed   string   `json:"installed"`
	File        string   `json:"file"`
	Locator     string   `json:"locator"`
	Compromised []string `json:"compromised"`
	Advisory    string   `json:"advisory,omitempty"`
}

// RenderError is returned when an artifact destination cannot be written.
type RenderError struct {
	Path string
	Err  error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to write %s: %s", e.Path, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }
