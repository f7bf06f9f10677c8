package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/afero"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

const defaultWorkers = 4

// Directories whose contents would double-count installed copies.
var excludedDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".venv":        {},
}

type options struct {
	appFs   afero.Fs
	workers int
}

type option func(*options)

func WithFs(appFs afero.Fs) option {
	return func(opts *options) { opts.appFs = appFs }
}

func WithWorkers(workers int) option {
	return func(opts *options) { opts.workers = workers }
}

// Extractor walks a repository tree and builds the package inventory.
type Extractor struct {
	*options
}

func NewExtractor(opts ...option) Extractor {
	o := &options{
		appFs:   afero.NewOsFs(),
		workers: defaultWorkers,
	}

	for _, opt := range opts {
		opt(o)
	}

	return Extractor{
		options: o,
	}
}

// Extract discovers every supported manifest beneath rootDir and parses each
// into records. Files are parsed by a bounded worker pool into per-file
// partitions and merged in lexicographic path order, so the output is
// deterministic regardless of scheduling. A file that fails to parse becomes
// a warning, not an error.
func (e Extractor) Extract(rootDir string) (*Inventory, error) {
	info, err := e.appFs.Stat(rootDir)
	if err != nil {
		return nil, &FilesystemError{Path: rootDir, Err: err}
	}
	if !info.IsDir() {
		return nil, &FilesystemError{Path: rootDir, Err: xerrors.New("not a directory")}
	}

	files, err := e.discover(rootDir)
	if err != nil {
		return nil, &FilesystemError{Path: rootDir, Err: err}
	}

	partitions := make([][]Record, len(files))
	warnings := make([]*Warning, len(files))

	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, file := range files {
		i, file := i, file
		g.Go(func() error {
			data, err := afero.ReadFile(e.appFs, filepath.Join(rootDir, filepath.FromSlash(file)))
			if err != nil {
				warnings[i] = &Warning{File: file, Message: err.Error()}
				return nil
			}
			records, err := parsers[filepath.Base(file)](file, data)
			if err != nil {
				warnings[i] = &Warning{File: file, Message: err.Error()}
				return nil
			}
			partitions[i] = records
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, xerrors.Errorf("extraction failed: %w", err)
	}

	inv := &Inventory{}
	for i := range files {
		inv.Records = append(inv.Records, partitions[i]...)
		if warnings[i] != nil {
			inv.Warnings = append(inv.Warnings, *warnings[i])
		}
	}
	inv.Records = lo.UniqBy(inv.Records, func(r Record) string {
		return strings.Join([]string{r.Name, r.Version, r.File, r.Locator}, "\x00")
	})
	return inv, nil
}

// discover returns the relative slash-separated paths of supported manifest
// files beneath root, sorted lexicographically.
func (e Extractor) discover(root string) ([]string, error) {
	var files []string
	err := afero.Walk(e.appFs, root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if _, ok := excludedDirs[info.Name()]; ok && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := parsers[info.Name()]; !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}
