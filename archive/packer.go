package archive

import (
	"context"
	"fmt"
	"io"

	"github.com/parapack/parapack/posixfs"
)

// Packer walks one or more POSIX directory trees and writes them to a
// ParallelPack stream (spec.md §4.1).
type Packer struct {
	fs posixfs.FS

	codecID CodecID
	codec   *Codec // nil means uncompressed

	verbose chan string
}

// NewPacker returns a Packer reading source trees through fs.
func NewPacker(fs posixfs.FS, opts ...PackerOption) (*Packer, error) {
	p := &Packer{fs: fs}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Verbose returns the channel WithVerbose set up, or nil if verbose mode
// wasn't requested.
func (p *Packer) Verbose() <-chan string {
	return p.verbose
}

func (p *Packer) emit(ctx context.Context, path string) error {
	if p.verbose == nil {
		return nil
	}
	select {
	case p.verbose <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pack writes roots to w as a single ParallelPack stream. roots must be
// non-empty and each must name an existing directory as seen through p.fs.
func (p *Packer) Pack(ctx context.Context, w io.Writer, roots []string) (err error) {
	if p.verbose != nil {
		defer close(p.verbose)
	}
	if len(roots) == 0 {
		return ErrNoRoots
	}

	if _, err := io.WriteString(w, Header); err != nil {
		return err
	}
	if err := writeI32(w, Version); err != nil {
		return err
	}
	if err := writeBool(w, p.codec != nil); err != nil {
		return err
	}
	out := w
	var closer io.Closer
	if p.codec != nil {
		if err := writeU8(w, byte(p.codecID)); err != nil {
			return err
		}
		cw, err := p.codec.NewWriter(w)
		if err != nil {
			return err
		}
		out = cw
		closer = cw
	}
	defer func() {
		if closer != nil {
			if cerr := closer.Close(); err == nil {
				err = cerr
			}
		}
	}()

	entries, err := buildMergeOrder(p.fs, roots)
	if err != nil {
		return err
	}

	st := &stringTable{}
	links := newPackerLinkTracker()

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.emit(ctx, e.archivePath); err != nil {
			return err
		}
		if err := p.writeEntry(out, st, links, e); err != nil {
			return fmt.Errorf("archive: packing %q: %w", e.archivePath, err)
		}
	}

	return writeU8(out, byte(End))
}

func (p *Packer) writeEntry(w io.Writer, st *stringTable, links *packerLinkTracker, e walkEntry) error {
	switch e.stat.Kind {
	case posixfs.Regular:
		return p.writeRegularFile(w, st, links, e)
	case posixfs.Dir:
		return p.writeDirectory(w, st, e)
	case posixfs.Symlink:
		return p.writeSymlink(w, st, e)
	case posixfs.BlockDev:
		return p.writeDevice(w, st, BlockDevice, e)
	case posixfs.CharDev:
		return p.writeDevice(w, st, CharacterDevice, e)
	case posixfs.Fifo:
		return p.writeFifo(w, st, e)
	case posixfs.Socket:
		return fmt.Errorf("%w: socket", ErrUnsupportedKind)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedKind, e.stat.Kind)
	}
}

// writeTagPath writes the tag byte and compressed-UTF path common to every
// record kind (spec.md §6.3's "following tag byte and path"). Paths are
// leading-"/"-rooted on the wire (spec.md §3/§4.2).
func (p *Packer) writeTagPath(w io.Writer, st *stringTable, kind Kind, e walkEntry) error {
	if err := writeU8(w, byte(kind)); err != nil {
		return err
	}
	return st.WriteString(w, pathSlot, "/"+e.archivePath)
}

func writeUidGidMode(w io.Writer, e walkEntry) error {
	if err := writeU32(w, e.stat.Uid); err != nil {
		return err
	}
	if err := writeU32(w, e.stat.Gid); err != nil {
		return err
	}
	return writeI64(w, int64(e.stat.Mode))
}

func (p *Packer) writeDirectory(w io.Writer, st *stringTable, e walkEntry) error {
	if err := p.writeTagPath(w, st, Directory, e); err != nil {
		return err
	}
	if err := writeUidGidMode(w, e); err != nil {
		return err
	}
	return writeI64(w, e.stat.Mtime)
}

func (p *Packer) writeSymlink(w io.Writer, st *stringTable, e walkEntry) error {
	if err := p.writeTagPath(w, st, Symlink, e); err != nil {
		return err
	}
	if err := writeU32(w, e.stat.Uid); err != nil {
		return err
	}
	if err := writeU32(w, e.stat.Gid); err != nil {
		return err
	}
	target, err := p.fs.ReadLink(e.sourcePath)
	if err != nil {
		return err
	}
	return st.WriteString(w, symlinkTargetSlot, target)
}

func (p *Packer) writeDevice(w io.Writer, st *stringTable, kind Kind, e walkEntry) error {
	if err := p.writeTagPath(w, st, kind, e); err != nil {
		return err
	}
	if err := writeUidGidMode(w, e); err != nil {
		return err
	}
	return writeU64(w, e.stat.Rdev)
}

func (p *Packer) writeFifo(w io.Writer, st *stringTable, e walkEntry) error {
	if err := p.writeTagPath(w, st, FIFO, e); err != nil {
		return err
	}
	return writeUidGidMode(w, e)
}

// writeRegularFile follows spec.md §6.3's RegularFile layout exactly:
// linkId immediately after the path, then uid/gid/mode/mtime (plus numLinks
// for a first-seen nonzero linkId) only when linkId is zero or new; an
// already-seen nonzero linkId carries nothing further, not even data.
func (p *Packer) writeRegularFile(w io.Writer, st *stringTable, links *packerLinkTracker, e walkEntry) error {
	di := posixfs.DevIno{Dev: e.stat.Dev, Ino: e.stat.Ino}
	hasMultipleLinks := e.stat.Nlink > 1

	var linkID uint64
	first := true
	if hasMultipleLinks {
		linkID, first = links.observe(di, uint32(e.stat.Nlink))
	}

	if err := p.writeTagPath(w, st, RegularFile, e); err != nil {
		return err
	}
	if err := writeU64(w, linkID); err != nil {
		return err
	}
	if linkID != 0 && !first {
		return nil
	}

	if err := writeUidGidMode(w, e); err != nil {
		return err
	}
	if err := writeI64(w, e.stat.Mtime); err != nil {
		return err
	}
	if linkID != 0 {
		if err := writeU32(w, uint32(e.stat.Nlink)); err != nil {
			return err
		}
	}

	rc, err := p.fs.OpenFile(e.sourcePath)
	if err != nil {
		return err
	}
	defer rc.Close()
	_, err = WriteFileData(w, rc)
	return err
}
