package posixfs

import "io"

// Path identifies a node within a particular FS handle.
type Path = string

// DirEntry is one child yielded by FS.List.
type DirEntry struct {
	Name string
	Stat Stat
}

// DirIter is a lazy, finite, non-restartable sequence of directory entries.
// Callers must call Close when done, even on error.
type DirIter interface {
	// Next returns the next entry, or io.EOF when exhausted.
	Next() (DirEntry, error)
	Close() error
}

// Lock is a scoped exclusive advisory lock, released by calling Unlock.
type Lock interface {
	Unlock() error
}

// FS is the narrow POSIX filesystem contract required by the archive and
// dedup packages (spec.md §4.4 / §6.4). A concrete adapter (posixfs/osfs) is
// provided, but both the packer/unpacker and the dedup index depend only on
// this interface, so they can be exercised against fakes in tests.
type FS interface {
	Stat(path Path) (Stat, error)

	// CreateFile atomically creates path as an empty regular file; it fails
	// if the path already exists.
	CreateFile(path Path, mode uint32) (io.WriteCloser, error)

	// OpenFile opens an existing regular file for reading.
	OpenFile(path Path) (io.ReadCloser, error)

	// CreateDirectory atomically creates path as a directory; it fails if
	// the path already exists.
	CreateDirectory(path Path, mode uint32) error

	// List returns a lazy iterator over path's direct children.
	List(path Path) (DirIter, error)

	// Lock acquires a scoped exclusive advisory lock on path.
	Lock(path Path) (Lock, error)

	Delete(path Path) error
	DeleteRecursive(path Path) error
	Rename(oldPath, newPath Path) error

	Symlink(target, path Path) error
	HardLink(existing, newPath Path) error
	ReadLink(path Path) (string, error)

	Mknod(path Path, modeWithKindBit uint32, dev uint64) error
	Mkfifo(path Path, mode uint32) error

	Chown(path Path, uid, gid uint32) error
	SetMode(path Path, mode uint32) error
	Utime(path Path, atimeMs, mtimeMs int64) error
}
