// Package archivefs exposes a ParallelPack archive as a read-only FUSE
// mount for inspection, without ever extracting it to disk. It requires an
// uncompressed, seekable archive: regular file content is decoded on demand
// by seeking back into the archive file, which isn't possible once the
// payload has been run through a stream compressor.
package archivefs

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/parapack/parapack/archive"
)

// entry is one archive record, plus its children if it's a directory and
// the raw byte offset of its file data if it's a regular file.
type entry struct {
	name     string
	kind     archive.Kind
	uid, gid uint32
	mode     uint32
	mtimeMs  int64
	target   string // symlink
	rdev     uint64 // device

	dataOffset int64 // RegularFile only, valid when hasData
	hasData    bool
	linkOf     *entry // RegularFile hardlinked to an earlier entry

	children   map[string]*entry
	childOrder []string
}

func newDirEntry(name string) *entry {
	return &entry{name: name, kind: archive.Directory, children: make(map[string]*entry)}
}

func (e *entry) addChild(c *entry) {
	if _, exists := e.children[c.name]; !exists {
		e.childOrder = append(e.childOrder, c.name)
	}
	e.children[c.name] = c
}

func (e *entry) sortedChildren() []*entry {
	names := append([]string(nil), e.childOrder...)
	sort.Strings(names)
	out := make([]*entry, len(names))
	for i, n := range names {
		out[i] = e.children[n]
	}
	return out
}

// Index is the parsed, in-memory directory tree of an archive.
type Index struct {
	Root *entry

	archivePath string
}

// Build opens archivePath and parses every record into an in-memory tree.
// The archive must not be compressed.
func Build(archivePath string) (*Index, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dr, err := archive.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	idx := &Index{Root: newDirEntry(""), archivePath: archivePath}
	byLinkID := make(map[uint64]*entry)

	for {
		rec, err := dr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		e := &entry{
			name:    baseName(rec.Path),
			kind:    rec.Kind,
			uid:     rec.Uid,
			gid:     rec.Gid,
			mode:    rec.Mode,
			mtimeMs: rec.MtimeMs,
			target:  rec.Target,
			rdev:    rec.Rdev,
		}

		switch rec.Kind {
		case archive.Directory:
			e.children = make(map[string]*entry)

		case archive.RegularFile:
			if rec.LinkID != 0 {
				if first, ok := byLinkID[rec.LinkID]; ok {
					e.linkOf = first
					break
				}
			}
			off, err := dr.DataOffset()
			if err != nil {
				return nil, fmt.Errorf("archivefs: %w (archive must be uncompressed to browse)", err)
			}
			e.dataOffset = off
			e.hasData = true
			if rec.LinkID != 0 && rec.NumLinks > 0 {
				byLinkID[rec.LinkID] = e
			}
			if _, err := dr.CopyFileData(io.Discard); err != nil {
				return nil, err
			}
		}

		if err := idx.insert(rec.Path, e); err != nil {
			return nil, err
		}
	}

	return idx, nil
}

func baseName(archivePath string) string {
	if i := strings.LastIndexByte(archivePath, '/'); i >= 0 {
		return archivePath[i+1:]
	}
	return archivePath
}

func (idx *Index) insert(archivePath string, e *entry) error {
	parts := strings.Split(archivePath, "/")
	dir := idx.Root
	for _, part := range parts[:len(parts)-1] {
		child, ok := dir.children[part]
		if !ok {
			// The stream is post-order: a directory's own record follows
			// its contents, so ancestors start out as placeholders.
			child = newDirEntry(part)
			dir.addChild(child)
		} else if child.kind != archive.Directory {
			return fmt.Errorf("archivefs: %q is under non-directory %q", archivePath, part)
		}
		dir = child
	}
	if prev, ok := dir.children[e.name]; ok && e.kind == archive.Directory && prev.kind == archive.Directory {
		e.children, e.childOrder = prev.children, prev.childOrder
	}
	dir.addChild(e)
	return nil
}

// lookup resolves a slash-separated archive path ("." or "" for the root)
// to its entry.
func (idx *Index) lookup(archivePath string) (*entry, error) {
	archivePath = strings.Trim(archivePath, "/")
	e := idx.Root
	if archivePath == "" || archivePath == "." {
		return e, nil
	}
	for _, part := range strings.Split(archivePath, "/") {
		child, ok := e.children[part]
		if !ok {
			return nil, fmt.Errorf("archivefs: no such entry %q", archivePath)
		}
		e = child
	}
	return e, nil
}

// List returns the names of archivePath's direct children, sorted, if it
// names a directory.
func (idx *Index) List(archivePath string) ([]string, error) {
	e, err := idx.lookup(archivePath)
	if err != nil {
		return nil, err
	}
	if e.kind != archive.Directory {
		return nil, fmt.Errorf("archivefs: %q is not a directory", archivePath)
	}
	var names []string
	for _, c := range e.sortedChildren() {
		names = append(names, c.name)
	}
	return names, nil
}

// Open returns the decoded content of the regular file at archivePath.
func (idx *Index) Open(archivePath string) (io.ReadCloser, error) {
	e, err := idx.lookup(archivePath)
	if err != nil {
		return nil, err
	}
	for e.linkOf != nil {
		e = e.linkOf
	}
	if e.kind != archive.RegularFile {
		return nil, fmt.Errorf("archivefs: %q is not a regular file", archivePath)
	}
	if !e.hasData {
		return io.NopCloser(strings.NewReader("")), nil
	}

	f, err := os.Open(idx.archivePath)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	section := io.NewSectionReader(f, e.dataOffset, fi.Size()-e.dataOffset)

	pr, pw := io.Pipe()
	go func() {
		_, err := archive.CopyFileData(pw, section)
		f.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// Counts reports how many entries of each broad kind the archive contains.
// Hard-linked regular files (beyond the first copy of each group) are
// counted separately from ordinary files.
func (idx *Index) Counts() (dirs, files, hardlinks, other int) {
	var walk func(*entry)
	walk = func(e *entry) {
		for _, c := range e.children {
			switch {
			case c.kind == archive.Directory:
				dirs++
				walk(c)
			case c.kind == archive.RegularFile && c.linkOf != nil:
				hardlinks++
			case c.kind == archive.RegularFile:
				files++
			default:
				other++
			}
		}
	}
	dirs++ // the root itself
	walk(idx.Root)
	return dirs, files, hardlinks, other
}
