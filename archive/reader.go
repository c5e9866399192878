package archive

import (
	"fmt"
	"io"
)

// Reader decodes a ParallelPack stream one record at a time. It is the
// shared decoding core Unpacker drives to materialize a tree, and that
// package archivefs drives to build a read-only index without writing
// anything to disk.
type Reader struct {
	src         io.Reader // the raw, possibly-seekable stream (for DataOffset)
	in          io.Reader // src, or a decompressing wrapper over it
	closer      io.Closer
	st          stringTable
	pendingData bool // true when the last Next() was a RegularFile whose data hasn't been consumed yet

	// seenLinkIDs tracks which nonzero RegularFile link-ids have already
	// appeared, mirroring the packer's own first-occurrence bookkeeping: a
	// repeat reference carries no metadata or data at all on the wire, so
	// the decoder must know on its own whether this is the first sighting.
	seenLinkIDs map[uint64]bool
}

// NewReader validates the stream header and returns a Reader positioned at
// the first record.
func NewReader(r io.Reader) (*Reader, error) {
	var hdr [len(Header)]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if string(hdr[:]) != Header {
		return nil, ErrBadHeader
	}
	version, err := readI32(r)
	if err != nil {
		return nil, err
	}
	if version != Version {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrUnsupportedVersion, version, Version)
	}
	compressed, err := readBool(r)
	if err != nil {
		return nil, err
	}

	dr := &Reader{src: r, in: r}
	if compressed {
		idByte, err := readU8(r)
		if err != nil {
			return nil, err
		}
		codec, err := lookupCodec(CodecID(idByte))
		if err != nil {
			return nil, err
		}
		rc, err := codec.NewReader(r)
		if err != nil {
			return nil, err
		}
		dr.in = rc
		dr.closer = rc
	}
	return dr, nil
}

// Close releases any decompression resources; it does not close the
// underlying stream.
func (dr *Reader) Close() error {
	if dr.closer != nil {
		return dr.closer.Close()
	}
	return nil
}

// DataOffset reports the current byte offset in the underlying stream, for
// callers that opened it from a seekable file and want to come back to a
// RegularFile record's data later. It requires an uncompressed stream.
func (dr *Reader) DataOffset() (int64, error) {
	seeker, ok := dr.src.(io.Seeker)
	if !ok {
		return 0, fmt.Errorf("archive: underlying stream is not seekable")
	}
	if dr.closer != nil {
		return 0, fmt.Errorf("archive: DataOffset requires an uncompressed stream")
	}
	return seeker.Seek(0, io.SeekCurrent)
}

// Next decodes the next record. It returns io.EOF once the End record has
// been consumed. If the returned Record.Kind is RegularFile and
// Record.LinkID/NumLinks indicate data follows (see Record's doc comment),
// the caller may call CopyFileData to read it before calling Next again;
// otherwise Next discards it.
func (dr *Reader) Next() (Record, error) {
	if dr.pendingData {
		if _, err := CopyFileData(io.Discard, dr.in); err != nil {
			return Record{}, err
		}
		dr.pendingData = false
	}

	kindByte, err := readU8(dr.in)
	if err != nil {
		return Record{}, err
	}
	kind := Kind(kindByte)
	if kind == End {
		return Record{}, io.EOF
	}

	rec := Record{Kind: kind}
	wirePath, err := dr.st.ReadString(dr.in)
	if err != nil {
		return Record{}, err
	}
	if len(wirePath) == 0 || wirePath[0] != '/' {
		return Record{}, fmt.Errorf("%w: got %q", ErrBadPath, wirePath)
	}
	rec.Path = wirePath[1:]

	switch kind {
	case RegularFile:
		if err := dr.readRegularFile(&rec); err != nil {
			return Record{}, err
		}
	case Directory:
		if err := dr.readUidGidModeMtime(&rec); err != nil {
			return Record{}, err
		}
	case Symlink:
		if rec.Uid, err = readU32(dr.in); err != nil {
			return Record{}, err
		}
		if rec.Gid, err = readU32(dr.in); err != nil {
			return Record{}, err
		}
		if rec.Target, err = dr.st.ReadString(dr.in); err != nil {
			return Record{}, err
		}
	case BlockDevice, CharacterDevice:
		if err := dr.readUidGidMode(&rec); err != nil {
			return Record{}, err
		}
		if rec.Rdev, err = readU64(dr.in); err != nil {
			return Record{}, err
		}
	case FIFO:
		if err := dr.readUidGidMode(&rec); err != nil {
			return Record{}, err
		}
	default:
		return Record{}, fmt.Errorf("%w: tag %d", ErrUnsupportedKind, kindByte)
	}
	return rec, nil
}

func (dr *Reader) readUidGidMode(rec *Record) error {
	var err error
	if rec.Uid, err = readU32(dr.in); err != nil {
		return err
	}
	if rec.Gid, err = readU32(dr.in); err != nil {
		return err
	}
	mode, err := readI64(dr.in)
	if err != nil {
		return err
	}
	rec.Mode = uint32(mode)
	return nil
}

func (dr *Reader) readUidGidModeMtime(rec *Record) error {
	if err := dr.readUidGidMode(rec); err != nil {
		return err
	}
	mtime, err := readI64(dr.in)
	if err != nil {
		return err
	}
	rec.MtimeMs = mtime
	return nil
}

// readRegularFile decodes a RegularFile record's fields after its path. Per
// spec.md §6.3: linkId comes first; if it's zero or this is the first time
// this nonzero linkId has been seen, uid/gid/mode/mtime follow (plus
// numLinks for a first-time nonzero linkId), then file data. A nonzero
// linkId already seen carries no further fields and no data.
func (dr *Reader) readRegularFile(rec *Record) error {
	var err error
	if rec.LinkID, err = readU64(dr.in); err != nil {
		return err
	}

	if rec.LinkID != 0 {
		if dr.seenLinkIDs == nil {
			dr.seenLinkIDs = make(map[uint64]bool)
		}
		if dr.seenLinkIDs[rec.LinkID] {
			return nil
		}
		dr.seenLinkIDs[rec.LinkID] = true
	}

	if err := dr.readUidGidModeMtime(rec); err != nil {
		return err
	}
	if rec.LinkID != 0 {
		if rec.NumLinks, err = readU32(dr.in); err != nil {
			return err
		}
	}
	dr.pendingData = true
	return nil
}

// CopyFileData copies the current RegularFile record's data to dst. It can
// be called at most once after a Next() call whose Record indicates data
// follows, before the next Next() call.
func (dr *Reader) CopyFileData(dst io.Writer) (int64, error) {
	if !dr.pendingData {
		return 0, fmt.Errorf("archive: no pending file data to copy")
	}
	n, err := CopyFileData(dst, dr.in)
	dr.pendingData = false
	return n, err
}
