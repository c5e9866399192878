package archive

import "io"

// PackerOption configures a Packer, following the functional-options pattern
// the teacher uses for its Option/WriterOption types.
type PackerOption func(*Packer) error

// WithCompression enables stream compression using the named backend
// ("gzip", "xz", "zstd"); the backend must have been registered, which for
// xz/zstd requires building with the matching build tag.
func WithCompression(id CodecID) PackerOption {
	return func(p *Packer) error {
		c, err := lookupCodec(id)
		if err != nil {
			return err
		}
		p.codecID = id
		p.codec = c
		return nil
	}
}

// WithVerbose makes Pack emit every archive path it writes on the returned
// channel before sending it; the caller must keep draining the channel
// until Pack returns or the packer will block.
func WithVerbose() PackerOption {
	return func(p *Packer) error {
		p.verbose = make(chan string, 1000)
		return nil
	}
}

// UnpackerOption configures an Unpacker.
type UnpackerOption func(*Unpacker) error

// WithForce allows Unpack to overwrite or remove conflicting existing paths
// instead of failing with ErrCollision.
func WithForce() UnpackerOption {
	return func(u *Unpacker) error {
		u.force = true
		return nil
	}
}

// WithDryRun makes Unpack walk the stream and validate it without touching
// the destination filesystem at all.
func WithDryRun() UnpackerOption {
	return func(u *Unpacker) error {
		u.dryRun = true
		return nil
	}
}

// WithVerboseOut makes Unpack write one line per archive path to w as it
// materializes it.
func WithVerboseOut(w io.Writer) UnpackerOption {
	return func(u *Unpacker) error {
		u.verboseOut = w
		return nil
	}
}

// WithAck makes Unpack write a single completion byte to w immediately
// after fully draining the stream's End record and its deferred mtimes,
// giving the packer's TCP write/ACK-read happens-before edge (spec.md
// §4.1) something to observe.
func WithAck(w io.Writer) UnpackerOption {
	return func(u *Unpacker) error {
		u.ack = w
		return nil
	}
}

// DedupInserter is the subset of *dedup.Index the unpacker needs to route
// incoming regular-file data through content-addressed storage instead of
// writing it directly; defined here (rather than importing package dedup)
// to keep archive free of a dependency on dedup, matching the narrow
// posixfs.FS collaborator pattern spec.md asks both packages to share.
type DedupInserter interface {
	Insert(src io.Reader, size int64) (linkPath string, err error)
}

// WithDedupIndex routes regular file payloads through idx instead of
// writing them straight to the destination tree, hard-linking the
// destination path to whatever the index already holds for identical
// content (spec.md §4.2, the -d unpack flag).
func WithDedupIndex(idx DedupInserter) UnpackerOption {
	return func(u *Unpacker) error {
		u.dedup = idx
		return nil
	}
}
