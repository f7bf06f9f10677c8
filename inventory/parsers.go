package inventory

import (
	"encoding/json"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// Supported manifest file names. Each maps to the parser for its format.
var parsers = map[string]func(file string, data []byte) ([]Record, error){
	"package.json":        parsePackageJSON,
	"package-lock.json":   parsePackageLock,
	"npm-shrinkwrap.json": parsePackageLock,
	"yarn.lock":           parseYarnLock,
	"pnpm-lock.yaml":      parsePnpmLock,
}

// package.json dependency sections, in locator order.
var dependencySections = []string{
	"dependencies",
	"devDependencies",
	"peerDependencies",
	"optionalDependencies",
}

func parsePackageJSON(file string, data []byte) ([]Record, error) {
	var manifest map[string]json.RawMessage
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, xerrors.Errorf("invalid package.json: %w", err)
	}

	var records []Record
	for _, section := range dependencySections {
		raw, ok := manifest[section]
		if !ok {
			continue
		}
		var deps map[string]string
		if err := json.Unmarshal(raw, &deps); err != nil {
			return nil, xerrors.Errorf("invalid %s section: %w", section, err)
		}
		for _, name := range sortedKeys(deps) {
			records = append(records, newRecord(name, deps[name], file, section+"."+name))
		}
	}
	return records, nil
}

type lockfileMeta struct {
	Version string `json:"version"`
}

// parsePackageLock handles npm v2+ lockfiles (the "packages" map) and falls
// back to the v1 "dependencies" tree. Hybrid lockfiles carrying both produce
// records under both locators.
func parsePackageLock(file string, data []byte) ([]Record, error) {
	var lock struct {
		Packages     map[string]lockfileMeta `json:"packages"`
		Dependencies map[string]lockfileMeta `json:"dependencies"`
	}
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, xerrors.Errorf("invalid lockfile: %w", err)
	}

	var records []Record
	for _, key := range sortedKeys(lock.Packages) {
		idx := strings.LastIndex(key, "node_modules/")
		if idx < 0 {
			continue
		}
		name := key[idx+len("node_modules/"):]
		version := lock.Packages[key].Version
		if name == "" || version == "" {
			continue
		}
		records = append(records, newRecord(name, version, file, "packages."+key))
	}
	for _, name := range sortedKeys(lock.Dependencies) {
		version := lock.Dependencies[name].Version
		if version == "" {
			continue
		}
		records = append(records, newRecord(name, version, file, "dependencies."+name))
	}
	return records, nil
}

// parseYarnLock reads the classic yarn.lock format: an entry header line of
// comma-separated selectors ending in a colon, followed by an indented
// "version" line.
func parseYarnLock(file string, data []byte) ([]Record, error) {
	var records []Record
	var selector string

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimRight(raw, "\r")
		if strings.TrimSpace(line) == "" {
			selector = ""
			continue
		}
		if !strings.HasPrefix(line, " ") && strings.HasSuffix(line, ":") {
			header := strings.TrimSuffix(line, ":")
			selector = strings.Trim(strings.TrimSpace(strings.SplitN(header, ",", 2)[0]), `"`)
			continue
		}
		if selector == "" {
			continue
		}
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "version ") && !strings.HasPrefix(trimmed, "version:") {
			continue
		}
		version := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(trimmed, "version"), ":"))
		version = strings.Trim(version, `"`)
		name := yarnSelectorName(selector)
		if name == "" || version == "" {
			continue
		}
		records = append(records, newRecord(name, version, file, selector))
		selector = ""
	}
	return records, nil
}

// yarnSelectorName extracts the package name from a selector such as
// "react@^17.0.0" or "@babel/core@7.20.0".
func yarnSelectorName(selector string) string {
	if strings.HasPrefix(selector, "@") {
		if idx := strings.Index(selector[1:], "@"); idx >= 0 {
			return selector[:idx+1]
		}
		return selector
	}
	return strings.SplitN(selector, "@", 2)[0]
}

// parsePnpmLock reads pnpm-lock.yaml package keys of the form
// "/name@1.2.3" or "/@scope/name@1.2.3".
func parsePnpmLock(file string, data []byte) ([]Record, error) {
	var lock struct {
		Packages map[string]interface{} `yaml:"packages"`
	}
	if err := yaml.Unmarshal(data, &lock); err != nil {
		return nil, xerrors.Errorf("invalid pnpm lockfile: %w", err)
	}

	var records []Record
	for _, key := range sortedKeys(lock.Packages) {
		if !strings.HasPrefix(key, "/") {
			continue
		}
		ref := strings.TrimPrefix(key, "/")
		idx := strings.LastIndex(ref, "@")
		if idx <= 0 {
			continue
		}
		name, version := ref[:idx], ref[idx+1:]
		if name == "" || version == "" {
			continue
		}
		records = append(records, newRecord(name, version, file, key))
	}
	return records, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
