package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/parapack/parapack/posixfs"
)

// defaultDirMode is the provisional mode used for ancestor directories
// created implicitly (mkdir -p-style) ahead of the explicit Directory
// record that will later reconcile their real owner/mode (spec.md §4.2:
// "post-order directory emission" means the record authoritative for a
// directory's metadata always arrives after everything written into it).
const defaultDirMode = 0o755

// Unpacker reads a ParallelPack stream and materializes it against a
// posixfs.FS (spec.md §4.2).
type Unpacker struct {
	fs posixfs.FS

	force      bool
	dryRun     bool
	verboseOut io.Writer
	ack        io.Writer
	dedup      DedupInserter
}

// NewUnpacker returns an Unpacker writing into fs.
func NewUnpacker(fs posixfs.FS, opts ...UnpackerOption) (*Unpacker, error) {
	u := &Unpacker{fs: fs}
	for _, opt := range opts {
		if err := opt(u); err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (u *Unpacker) verbose(archivePath string) {
	if u.verboseOut != nil {
		fmt.Fprintln(u.verboseOut, archivePath)
	}
}

// Unpack reads a single ParallelPack stream from r and recreates it under
// destRoot (joined with each record's archive path).
func (u *Unpacker) Unpack(ctx context.Context, r io.Reader, destRoot string) error {
	dr, err := NewReader(r)
	if err != nil {
		return err
	}
	defer dr.Close()

	mtimes := newDirMtimeStacks()
	links := newUnpackerLinkTracker()
	madeDir := make(map[string]bool)

	defer func() {
		_ = mtimes.DrainAll(func(dirPath string, mtimeMs int64) error {
			return u.setMtime(destRoot, dirPath, mtimeMs)
		})
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := dr.Next()
		if err == io.EOF {
			if err := mtimes.DrainAll(func(dirPath string, mtimeMs int64) error {
				return u.setMtime(destRoot, dirPath, mtimeMs)
			}); err != nil {
				return err
			}
			if u.ack != nil {
				if _, err := u.ack.Write([]byte{endTag}); err != nil {
					return err
				}
			}
			return nil
		}
		if err != nil {
			return err
		}

		if err := mtimes.SettleAbove(rec.Path, func(dirPath string, m int64) error {
			return u.setMtime(destRoot, dirPath, m)
		}); err != nil {
			return err
		}

		u.verbose(rec.Path)

		switch rec.Kind {
		case Directory:
			if err := u.handleDirectory(destRoot, rec.Path, rec.Uid, rec.Gid, rec.Mode, madeDir); err != nil {
				return err
			}
			mtimes.Push(rec.Path, rec.MtimeMs)

		case RegularFile:
			if err := u.handleRegularFile(dr, destRoot, rec, links, madeDir); err != nil {
				return err
			}

		case Symlink:
			if err := u.ensureParent(destRoot, rec.Path, madeDir); err != nil {
				return err
			}
			if err := u.handleNonDirCollision(destRoot, rec.Path); err != nil {
				return err
			}
			if !u.dryRun {
				full := path.Join(destRoot, rec.Path)
				if err := u.fs.Symlink(rec.Target, full); err != nil {
					return err
				}
				if err := u.fs.Chown(full, rec.Uid, rec.Gid); err != nil {
					return err
				}
			}

		case BlockDevice, CharacterDevice:
			if err := u.ensureParent(destRoot, rec.Path, madeDir); err != nil {
				return err
			}
			if err := u.handleNonDirCollision(destRoot, rec.Path); err != nil {
				return err
			}
			if !u.dryRun {
				full := path.Join(destRoot, rec.Path)
				kindBit := posixfs.BlockDev
				if rec.Kind == CharacterDevice {
					kindBit = posixfs.CharDev
				}
				rawMode := rec.Mode | uint32(kindBit.Mode())
				if err := u.fs.Mknod(full, rawMode, rec.Rdev); err != nil {
					return err
				}
				if err := u.fs.Chown(full, rec.Uid, rec.Gid); err != nil {
					return err
				}
			}

		case FIFO:
			if err := u.ensureParent(destRoot, rec.Path, madeDir); err != nil {
				return err
			}
			if err := u.handleNonDirCollision(destRoot, rec.Path); err != nil {
				return err
			}
			if !u.dryRun {
				full := path.Join(destRoot, rec.Path)
				if err := u.fs.Mkfifo(full, rec.Mode); err != nil {
					return err
				}
				if err := u.fs.Chown(full, rec.Uid, rec.Gid); err != nil {
					return err
				}
			}

		default:
			return fmt.Errorf("%w: kind %s", ErrUnsupportedKind, rec.Kind)
		}
	}
}

func (u *Unpacker) setMtime(destRoot, archivePath string, mtimeMs int64) error {
	if u.dryRun {
		return nil
	}
	full := path.Join(destRoot, archivePath)
	return u.fs.Utime(full, mtimeMs, mtimeMs)
}

// ensureParent creates every ancestor directory of archivePath that hasn't
// already been created, with a provisional mode a later Directory record
// will reconcile.
func (u *Unpacker) ensureParent(destRoot, archivePath string, madeDir map[string]bool) error {
	parent := path.Dir(archivePath)
	if parent == "." || parent == "/" {
		return nil
	}
	return u.ensureDir(destRoot, parent, madeDir)
}

func (u *Unpacker) ensureDir(destRoot, archivePath string, madeDir map[string]bool) error {
	if madeDir[archivePath] {
		return nil
	}
	if parent := path.Dir(archivePath); parent != "." && parent != "/" && parent != archivePath {
		if err := u.ensureDir(destRoot, parent, madeDir); err != nil {
			return err
		}
	}
	if u.dryRun {
		madeDir[archivePath] = true
		return nil
	}
	full := path.Join(destRoot, archivePath)
	st, err := u.fs.Stat(full)
	if err != nil {
		return err
	}
	if !st.Exists {
		if err := u.fs.CreateDirectory(full, defaultDirMode); err != nil && err != posixfs.ErrExists {
			return err
		}
	}
	madeDir[archivePath] = true
	return nil
}

func (u *Unpacker) handleDirectory(destRoot, archivePath string, uid, gid, mode uint32, madeDir map[string]bool) error {
	if err := u.ensureParent(destRoot, archivePath, madeDir); err != nil {
		return err
	}
	if u.dryRun {
		madeDir[archivePath] = true
		return nil
	}
	full := path.Join(destRoot, archivePath)
	st, err := u.fs.Stat(full)
	if err != nil {
		return err
	}
	switch {
	case !st.Exists:
		if err := u.fs.CreateDirectory(full, mode); err != nil {
			return err
		}
		if err := u.fs.Chown(full, uid, gid); err != nil {
			return err
		}
	case st.Kind != posixfs.Dir:
		if !u.force {
			return fmt.Errorf("%w: %s", ErrCollision, archivePath)
		}
		if err := u.fs.DeleteRecursive(full); err != nil {
			return err
		}
		if err := u.fs.CreateDirectory(full, mode); err != nil {
			return err
		}
		if err := u.fs.Chown(full, uid, gid); err != nil {
			return err
		}
	default:
		if st.Mode != mode {
			if err := u.fs.SetMode(full, mode); err != nil {
				return err
			}
		}
		if st.Uid != uid || st.Gid != gid {
			if err := u.fs.Chown(full, uid, gid); err != nil {
				return err
			}
		}
	}
	madeDir[archivePath] = true
	return nil
}

func (u *Unpacker) handleNonDirCollision(destRoot, archivePath string) error {
	if u.dryRun {
		return nil
	}
	full := path.Join(destRoot, archivePath)
	st, err := u.fs.Stat(full)
	if err != nil {
		return err
	}
	if !st.Exists {
		return nil
	}
	if !u.force {
		return fmt.Errorf("%w: %s", ErrCollision, archivePath)
	}
	return u.fs.DeleteRecursive(full)
}

func (u *Unpacker) handleRegularFile(dr *Reader, destRoot string, rec Record, links *unpackerLinkTracker, madeDir map[string]bool) error {
	archivePath := rec.Path
	if err := u.ensureParent(destRoot, archivePath, madeDir); err != nil {
		return err
	}
	full := path.Join(destRoot, archivePath)

	if rec.LinkID != 0 {
		if firstPath, ok := links.lookup(rec.LinkID); ok {
			// A later member of an already-seen link group: no data on the
			// wire, just hard-link to the first copy.
			if err := u.handleNonDirCollision(destRoot, archivePath); err != nil {
				return err
			}
			if !u.dryRun {
				if err := u.fs.HardLink(firstPath, full); err != nil {
					return err
				}
			}
			return nil
		}
		if rec.NumLinks == 0 {
			// A repeat reference carries no NumLinks and no data; with no
			// recorded first copy there is nothing to link to.
			return fmt.Errorf("%w: %d", ErrUnknownLinkID, rec.LinkID)
		}
	}

	if err := u.handleNonDirCollision(destRoot, archivePath); err != nil {
		return err
	}

	if u.dryRun {
		if _, err := dr.CopyFileData(io.Discard); err != nil {
			return err
		}
	} else if u.dedup != nil {
		pr, pw := io.Pipe()
		copyErrCh := make(chan error, 1)
		go func() {
			_, err := dr.CopyFileData(pw)
			pw.CloseWithError(err)
			copyErrCh <- err
		}()
		linkPath, err := u.dedup.Insert(pr, -1)
		if cerr := <-copyErrCh; cerr != nil && err == nil {
			err = cerr
		}
		if errors.Is(err, posixfs.ErrZeroLength) {
			// Zero-length content is never indexed (spec.md §3, §4.3). The
			// data (none) has already been drained off the wire above, so
			// just materialize the empty file directly.
			if err := u.createEmptyFile(full, rec); err != nil {
				return err
			}
		} else if err != nil {
			return err
		} else if err := u.fs.HardLink(linkPath, full); err != nil {
			return err
		}
	} else {
		if err := u.writePlainFile(dr, full, rec); err != nil {
			return err
		}
	}

	if rec.LinkID != 0 && rec.NumLinks > 0 {
		links.recordFirst(rec.LinkID, full)
	}
	return nil
}

// writePlainFile materializes rec's data straight onto disk at full, with no
// dedup indexing involved.
func (u *Unpacker) writePlainFile(dr *Reader, full string, rec Record) error {
	wc, err := u.fs.CreateFile(full, rec.Mode)
	if err != nil {
		return err
	}
	_, err = dr.CopyFileData(wc)
	if cerr := wc.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := u.fs.Chown(full, rec.Uid, rec.Gid); err != nil {
		return err
	}
	return u.fs.Utime(full, rec.MtimeMs, rec.MtimeMs)
}

// createEmptyFile materializes rec's metadata at full with no content. Used
// for zero-length regular files, whose (absent) data has already been
// consumed off the wire by the caller.
func (u *Unpacker) createEmptyFile(full string, rec Record) error {
	wc, err := u.fs.CreateFile(full, rec.Mode)
	if err != nil {
		return err
	}
	if err := wc.Close(); err != nil {
		return err
	}
	if err := u.fs.Chown(full, rec.Uid, rec.Gid); err != nil {
		return err
	}
	return u.fs.Utime(full, rec.MtimeMs, rec.MtimeMs)
}
