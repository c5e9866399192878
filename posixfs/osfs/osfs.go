// Package osfs adapts the real operating system's filesystem to the
// posixfs.FS contract. It is the concrete collaborator the teacher's
// abstraction leaves external; distr1/distri talks to the kernel the same
// way, reaching for golang.org/x/sys/unix instead of a third-party VFS
// layer wherever syscalls are required.
package osfs

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/parapack/parapack/posixfs"
)

// FS implements posixfs.FS rooted at an arbitrary absolute or relative base;
// paths passed to its methods are joined with that base the same way
// filepath.Join would, with no other sandboxing.
type FS struct {
	base string
}

// New returns an FS rooted at base. base must already exist and be a
// directory.
func New(base string) *FS {
	return &FS{base: base}
}

func (f *FS) real(path string) string {
	if f.base == "" {
		return path
	}
	return filepath.Join(f.base, path)
}

func (f *FS) Stat(path string) (posixfs.Stat, error) {
	var st unix.Stat_t
	err := unix.Lstat(f.real(path), &st)
	if err != nil {
		if err == unix.ENOENT {
			return posixfs.Stat{}, nil
		}
		return posixfs.Stat{}, err
	}

	_, kind := posixfs.UnixToMode(uint32(st.Mode))
	return posixfs.Stat{
		Exists: true,
		Kind:   kind,
		Mode:   uint32(st.Mode) & 0xfff,
		Uid:    st.Uid,
		Gid:    st.Gid,
		Nlink:  int(st.Nlink),
		Dev:    uint64(st.Dev),
		Ino:    st.Ino,
		Atime:  st.Atim.Sec*1000 + st.Atim.Nsec/1e6,
		Mtime:  st.Mtim.Sec*1000 + st.Mtim.Nsec/1e6,
		Rdev:   uint64(st.Rdev),
	}, nil
}

func (f *FS) CreateFile(path string, mode uint32) (io.WriteCloser, error) {
	fh, err := os.OpenFile(f.real(path), os.O_WRONLY|os.O_CREATE|os.O_EXCL, os.FileMode(mode))
	if err != nil {
		if os.IsExist(err) {
			return nil, posixfs.ErrExists
		}
		return nil, err
	}
	return fh, nil
}

func (f *FS) OpenFile(path string) (io.ReadCloser, error) {
	return os.Open(f.real(path))
}

func (f *FS) CreateDirectory(path string, mode uint32) error {
	err := os.Mkdir(f.real(path), os.FileMode(mode))
	if os.IsExist(err) {
		return posixfs.ErrExists
	}
	return err
}

type dirIter struct {
	names []string
	pos   int
	fs    *FS
	dir   string
}

func (d *dirIter) Next() (posixfs.DirEntry, error) {
	if d.pos >= len(d.names) {
		return posixfs.DirEntry{}, io.EOF
	}
	name := d.names[d.pos]
	d.pos++
	st, err := d.fs.Stat(filepath.Join(d.dir, name))
	if err != nil {
		return posixfs.DirEntry{}, err
	}
	return posixfs.DirEntry{Name: name, Stat: st}, nil
}

func (d *dirIter) Close() error { return nil }

func (f *FS) List(path string) (posixfs.DirIter, error) {
	entries, err := os.ReadDir(f.real(path))
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return &dirIter{names: names, fs: f, dir: path}, nil
}

type fileLock struct {
	fh *os.File
}

func (l *fileLock) Unlock() error {
	defer l.fh.Close()
	return unix.Flock(int(l.fh.Fd()), unix.LOCK_UN)
}

// Lock acquires an exclusive, blocking advisory lock on path, creating an
// empty file there if necessary, the same rendezvous-file pattern the dedup
// index uses for its per-hash-directory locks (§4.3).
func (f *FS) Lock(path string) (posixfs.Lock, error) {
	fh, err := os.OpenFile(f.real(path), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(fh.Fd()), unix.LOCK_EX); err != nil {
		fh.Close()
		return nil, err
	}
	return &fileLock{fh: fh}, nil
}

func (f *FS) Delete(path string) error {
	err := os.Remove(f.real(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FS) DeleteRecursive(path string) error {
	return os.RemoveAll(f.real(path))
}

func (f *FS) Rename(oldPath, newPath string) error {
	return os.Rename(f.real(oldPath), f.real(newPath))
}

func (f *FS) Symlink(target, path string) error {
	return os.Symlink(target, f.real(path))
}

func (f *FS) HardLink(existing, newPath string) error {
	return os.Link(f.real(existing), f.real(newPath))
}

func (f *FS) ReadLink(path string) (string, error) {
	return os.Readlink(f.real(path))
}

// Mknod takes permission bits (as in posixfs.Stat.Mode) OR-ed with the
// kind's fs.FileMode type bits (posixfs.Kind.Mode()), the same encoding the
// unpacker sends and memfs reads, and translates the type bits to the S_IF*
// word unix.Mknod expects.
func (f *FS) Mknod(path string, modeWithKindBit uint32, dev uint64) error {
	typeBits := posixfs.ModeToUnix(fs.FileMode(modeWithKindBit)&fs.ModeType) & 0xf000
	return unix.Mknod(f.real(path), modeWithKindBit&0xfff|typeBits, int(dev))
}

func (f *FS) Mkfifo(path string, mode uint32) error {
	return unix.Mkfifo(f.real(path), mode)
}

func (f *FS) Chown(path string, uid, gid uint32) error {
	return os.Lchown(f.real(path), int(uid), int(gid))
}

func (f *FS) SetMode(path string, mode uint32) error {
	return os.Chmod(f.real(path), os.FileMode(mode&0xfff))
}

func (f *FS) Utime(path string, atimeMs, mtimeMs int64) error {
	tv := []unix.Timeval{
		unix.NsecToTimeval(atimeMs * int64(1e6)),
		unix.NsecToTimeval(mtimeMs * int64(1e6)),
	}
	return unix.Lutimes(f.real(path), tv)
}

// Makedev combines major/minor device numbers into the raw rdev value
// posixfs.Stat.Rdev / FS.Mknod expect.
func Makedev(major, minor uint32) uint64 {
	return unix.Mkdev(major, minor)
}

var _ posixfs.FS = (*FS)(nil)
