package archive

import (
	"path/filepath"
	"sort"

	"github.com/parapack/parapack/posixfs"
)

// walkEntry is one node discovered under a source root, keyed by the
// relative archive path it will be written under.
type walkEntry struct {
	archivePath string
	sourcePath  string // real path to hand to the posixfs.FS that owns it
	stat        posixfs.Stat
	seq         int // insertion order, for the stable tie-break
}

// pathLess implements spec.md §4.2's total order: ordinary lexicographic
// comparison, except that when one path is a strict prefix of the other the
// shorter (the directory) sorts *after* the longer (its content), so a
// directory's own record is only ever emitted once everything under it has
// been. This is what lets the packer walk each root in any order at all and
// still produce a valid post-order stream just by sorting.
func pathLess(a, b string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	if len(a) == len(b) {
		return false
	}
	// One is a strict prefix of the other; the longer one (the extension)
	// sorts first.
	return len(a) > len(b)
}

// buildMergeOrder walks every root and returns all entries, across all
// roots, in the single order the packer must emit them in. The "ordered
// map" spec.md describes is realized here as a one-shot collect-then-sort:
// membership is flat across roots (each root contributes a disjoint
// archivePath namespace rooted at its own basename), so a single sort with
// pathLess reproduces the merge exactly, and sort.SliceStable's stability
// gives the insertion-order tie-break for any coincidental equal keys.
func buildMergeOrder(fs posixfs.FS, roots []string) ([]walkEntry, error) {
	var entries []walkEntry
	seq := 0
	for _, root := range roots {
		st, err := fs.Stat(root)
		if err != nil {
			return nil, err
		}
		if !st.Exists {
			return nil, posixfs.ErrNotExist
		}
		if st.Kind != posixfs.Dir {
			return nil, ErrRootNotDir
		}
		name := filepath.Base(filepath.Clean(root))
		entries = append(entries, walkEntry{archivePath: name, sourcePath: root, stat: st, seq: seq})
		seq++
		var err2 error
		entries, seq, err2 = walkInto(fs, root, name, entries, seq)
		if err2 != nil {
			return nil, err2
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return pathLess(entries[i].archivePath, entries[j].archivePath)
	})
	return entries, nil
}

func walkInto(fs posixfs.FS, sourceDir, archiveDir string, entries []walkEntry, seq int) ([]walkEntry, int, error) {
	it, err := fs.List(sourceDir)
	if err != nil {
		return entries, seq, err
	}
	defer it.Close()
	for {
		de, err := it.Next()
		if err != nil {
			break
		}
		childSource := filepath.Join(sourceDir, de.Name)
		childArchive := archiveDir + "/" + de.Name
		entries = append(entries, walkEntry{archivePath: childArchive, sourcePath: childSource, stat: de.Stat, seq: seq})
		seq++
		if de.Stat.Kind == posixfs.Dir {
			entries, seq, err = walkInto(fs, childSource, childArchive, entries, seq)
			if err != nil {
				return entries, seq, err
			}
		}
	}
	return entries, seq, nil
}
