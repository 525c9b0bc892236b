// Package containerindex is the multi-archive abstraction every other
// pipeline package reads through: it opens one or more ZIP archives and
// answers case-insensitive, path-normalized entry lookups against all of
// them, stopping at the first archive (in input order) that has a match.
package containerindex

import (
	"archive/zip"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/apk-analysis/unity-buildscan/internal/analysiserr"
)

// Entry identifies one archive member by the archive it came from and its
// path normalized for lookup (backslashes to forward slashes, lower-cased).
type Entry struct {
	ArchiveIndex int
	Name         string // normalized
	original     string
}

type archive struct {
	path    string
	zr      *zip.ReadCloser
	entries map[string]*zip.File // normalized name -> file
	order   []string             // normalized names in zip directory order
}

// Index owns every opened archive handle for the duration of one analysis.
type Index struct {
	log      *logrus.Logger
	archives []*archive
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return strings.ToLower(p)
}

// Open opens each existing path as a ZIP archive, in order. A path that
// does not exist or cannot be opened as a ZIP is skipped and logged; zero
// openable archives is analysiserr.ErrNoContainers.
func Open(log *logrus.Logger, paths []string) (*Index, error) {
	idx := &Index{log: log}

	for _, p := range paths {
		zr, err := zip.OpenReader(p)
		if err != nil {
			log.WithFields(logrus.Fields{"path": p, "error": err}).Warn("skipping unopenable container")
			continue
		}

		a := &archive{path: p, zr: zr, entries: make(map[string]*zip.File, len(zr.File))}
		for _, f := range zr.File {
			n := normalize(f.Name)
			if _, exists := a.entries[n]; !exists {
				a.order = append(a.order, n)
			}
			a.entries[n] = f
		}
		idx.archives = append(idx.archives, a)
	}

	if len(idx.archives) == 0 {
		return nil, analysiserr.ErrNoContainers
	}

	return idx, nil
}

// Close releases every open archive handle.
func (idx *Index) Close() error {
	var firstErr error
	for _, a := range idx.archives {
		if err := a.zr.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FindEntry scans archives in open order and returns the first matching
// entry's full uncompressed bytes. The path is normalized the same way
// stored entry names are.
func (idx *Index) FindEntry(path string) ([]byte, bool) {
	target := normalize(path)

	for _, a := range idx.archives {
		f, ok := a.entries[target]
		if !ok {
			continue
		}
		b, err := readEntry(f)
		if err != nil {
			idx.log.WithFields(logrus.Fields{"archive": a.path, "entry": f.Name, "error": err}).
				Warn("failed reading container entry")
			continue
		}
		return b, true
	}

	return nil, false
}

// IterEntries returns every entry across every open archive, in archive
// order then zip-directory order.
func (idx *Index) IterEntries() []Entry {
	var out []Entry
	for ai, a := range idx.archives {
		for _, n := range a.order {
			out = append(out, Entry{ArchiveIndex: ai, Name: n, original: a.entries[n].Name})
		}
	}
	return out
}

// ContainsAnywhere reports whether any normalized entry name across all
// open archives contains needle (also normalized). Used by the
// Addressables content-pipeline detector, which looks for a substring
// match over the whole entry listing rather than one known path.
func (idx *Index) ContainsAnywhere(needle string) bool {
	needle = normalize(needle)
	for _, a := range idx.archives {
		for _, n := range a.order {
			if strings.Contains(n, needle) {
				return true
			}
		}
	}
	return false
}

// MatchAnywhere reports whether any normalized entry name across all open
// archives matches the given predicate. Used by the same detector for its
// catalog-manifest regex check, where a plain substring isn't enough.
func (idx *Index) MatchAnywhere(match func(normalizedName string) bool) bool {
	for _, a := range idx.archives {
		for _, n := range a.order {
			if match(n) {
				return true
			}
		}
	}
	return false
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read entry: %w", err)
	}
	return b, nil
}
