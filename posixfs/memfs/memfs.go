// Package memfs is an in-memory posixfs.FS used by the archive and dedup
// packages' tests, generalizing the teacher's mockReader (mock_test.go)
// from a single fake io.ReaderAt into a full fake filesystem so packer,
// unpacker and dedup-index logic can be exercised without touching disk.
package memfs

import (
	"bytes"
	"io"
	iofs "io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/parapack/parapack/posixfs"
)

type inode struct {
	kind   posixfs.Kind
	mode   uint32
	uid    uint32
	gid    uint32
	mtime  int64
	rdev   uint64
	target string // Symlink only
	data   []byte // Regular only
	ino    uint64
	nlink  int // number of paths currently pointing at this inode
}

// FS is an in-memory posixfs.FS. The zero value is not usable; use New.
type FS struct {
	mu       sync.Mutex
	nodes    map[string]*inode   // clean path -> inode
	children map[string]map[string]bool
	locked   map[string]bool
	nextIno  uint64
}

// New returns an empty FS with just the root directory.
func New() *FS {
	fs := &FS{
		nodes:    make(map[string]*inode),
		children: make(map[string]map[string]bool),
		locked:   make(map[string]bool),
	}
	fs.nodes[""] = &inode{kind: posixfs.Dir, mode: 0o755, ino: fs.allocIno()}
	return fs
}

func (f *FS) allocIno() uint64 {
	f.nextIno++
	return f.nextIno
}

func clean(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

func parentOf(p string) string {
	if p == "" {
		return ""
	}
	return clean(path.Dir(p))
}

func baseOf(p string) string {
	return path.Base(p)
}

func (f *FS) Stat(p string) (posixfs.Stat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return posixfs.Stat{Exists: false}, nil
	}
	return posixfs.Stat{
		Exists: true,
		Kind:   n.kind,
		Mode:   n.mode,
		Uid:    n.uid,
		Gid:    n.gid,
		Nlink:  n.nlink,
		Dev:    1,
		Ino:    n.ino,
		Mtime:  n.mtime,
		Rdev:   n.rdev,
	}, nil
}

func (f *FS) create(p string, n *inode) error {
	cp := clean(p)
	if _, exists := f.nodes[cp]; exists {
		return posixfs.ErrExists
	}
	parent := parentOf(cp)
	if parent != cp {
		if pn, ok := f.nodes[parent]; !ok || pn.kind != posixfs.Dir {
			return posixfs.ErrNotExist
		}
	}
	f.nodes[cp] = n
	if f.children[parent] == nil {
		f.children[parent] = make(map[string]bool)
	}
	f.children[parent][baseOf(cp)] = true
	n.nlink++
	return nil
}

type writeBuf struct {
	fs   *FS
	path string
	buf  bytes.Buffer
}

func (w *writeBuf) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writeBuf) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	n, ok := w.fs.nodes[clean(w.path)]
	if !ok {
		return posixfs.ErrNotExist
	}
	n.data = w.buf.Bytes()
	return nil
}

func (f *FS) CreateFile(p string, mode uint32) (io.WriteCloser, error) {
	f.mu.Lock()
	n := &inode{kind: posixfs.Regular, mode: mode, ino: f.allocIno()}
	err := f.create(p, n)
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &writeBuf{fs: f, path: p}, nil
}

func (f *FS) OpenFile(p string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return nil, posixfs.ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(n.data)), nil
}

func (f *FS) CreateDirectory(p string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(p, &inode{kind: posixfs.Dir, mode: mode, ino: f.allocIno()})
}

type dirIter struct {
	fs    *FS
	dir   string
	names []string
	pos   int
}

func (it *dirIter) Next() (posixfs.DirEntry, error) {
	if it.pos >= len(it.names) {
		return posixfs.DirEntry{}, io.EOF
	}
	name := it.names[it.pos]
	it.pos++
	it.fs.mu.Lock()
	n := it.fs.nodes[clean(path.Join(it.dir, name))]
	it.fs.mu.Unlock()
	st := posixfs.Stat{Exists: true}
	if n != nil {
		st = posixfs.Stat{Exists: true, Kind: n.kind, Mode: n.mode, Uid: n.uid, Gid: n.gid, Nlink: n.nlink, Ino: n.ino, Mtime: n.mtime, Rdev: n.rdev}
	}
	return posixfs.DirEntry{Name: name, Stat: st}, nil
}

func (it *dirIter) Close() error { return nil }

func (f *FS) List(p string) (posixfs.DirIter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	if n, ok := f.nodes[cp]; !ok || n.kind != posixfs.Dir {
		return nil, posixfs.ErrNotExist
	}
	names := make([]string, 0, len(f.children[cp]))
	for name := range f.children[cp] {
		names = append(names, name)
	}
	sort.Strings(names)
	return &dirIter{fs: f, dir: cp, names: names}, nil
}

type lockHandle struct {
	fs   *FS
	path string
}

func (l *lockHandle) Unlock() error {
	l.fs.mu.Lock()
	defer l.fs.mu.Unlock()
	delete(l.fs.locked, l.path)
	return nil
}

// Lock creates an empty rendezvous file at p if one doesn't already exist,
// mirroring osfs.Lock's O_CREATE semantics, and marks it locked.
func (f *FS) Lock(p string) (posixfs.Lock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	if f.locked[cp] {
		return nil, posixfs.ErrReentrantLock
	}
	if _, exists := f.nodes[cp]; !exists {
		if err := f.create(cp, &inode{kind: posixfs.Regular, mode: 0o644, ino: f.allocIno()}); err != nil {
			return nil, err
		}
	}
	f.locked[cp] = true
	return &lockHandle{fs: f, path: cp}, nil
}

func (f *FS) Delete(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := clean(p)
	n, ok := f.nodes[cp]
	if !ok {
		return posixfs.ErrNotExist
	}
	delete(f.nodes, cp)
	delete(f.children[parentOf(cp)], baseOf(cp))
	n.nlink--
	return nil
}

func (f *FS) DeleteRecursive(p string) error {
	f.mu.Lock()
	cp := clean(p)
	var collect func(string) []string
	collect = func(dir string) []string {
		all := []string{dir}
		for name := range f.children[dir] {
			all = append(all, collect(clean(path.Join(dir, name)))...)
		}
		return all
	}
	all := collect(cp)
	f.mu.Unlock()
	for i := len(all) - 1; i >= 0; i-- {
		if err := f.Delete(all[i]); err != nil {
			return err
		}
	}
	return nil
}

func (f *FS) Rename(oldPath, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	op, np := clean(oldPath), clean(newPath)
	n, ok := f.nodes[op]
	if !ok {
		return posixfs.ErrNotExist
	}
	delete(f.nodes, op)
	delete(f.children[parentOf(op)], baseOf(op))
	f.nodes[np] = n
	parent := parentOf(np)
	if f.children[parent] == nil {
		f.children[parent] = make(map[string]bool)
	}
	f.children[parent][baseOf(np)] = true
	return nil
}

func (f *FS) Symlink(target, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(p, &inode{kind: posixfs.Symlink, mode: 0o777, target: target, ino: f.allocIno()})
}

func (f *FS) HardLink(existing, newPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(existing)]
	if !ok {
		return posixfs.ErrNotExist
	}
	return f.create(newPath, n)
}

func (f *FS) ReadLink(p string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return "", posixfs.ErrNotExist
	}
	return n.target, nil
}

func (f *FS) Mknod(p string, modeWithKindBit uint32, dev uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	kind := posixfs.BlockDev
	if modeWithKindBit&uint32(iofs.ModeCharDevice) != 0 {
		kind = posixfs.CharDev
	}
	return f.create(p, &inode{kind: kind, mode: modeWithKindBit, rdev: dev, ino: f.allocIno()})
}

func (f *FS) Mkfifo(p string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.create(p, &inode{kind: posixfs.Fifo, mode: mode, ino: f.allocIno()})
}

func (f *FS) Chown(p string, uid, gid uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return posixfs.ErrNotExist
	}
	n.uid, n.gid = uid, gid
	return nil
}

func (f *FS) SetMode(p string, mode uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return posixfs.ErrNotExist
	}
	n.mode = mode
	return nil
}

func (f *FS) Utime(p string, atimeMs, mtimeMs int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[clean(p)]
	if !ok {
		return posixfs.ErrNotExist
	}
	n.mtime = mtimeMs
	return nil
}
