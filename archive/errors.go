package archive

import "errors"

// Package-specific error variables that can be used with errors.Is().
var (
	// ErrBadHeader is returned when a stream doesn't start with the
	// ParallelPack magic string.
	ErrBadHeader = errors.New("archive: bad header magic")

	// ErrUnsupportedVersion is returned when a stream's version field
	// doesn't match Version.
	ErrUnsupportedVersion = errors.New("archive: unsupported protocol version")

	// ErrNoRoots is returned when Pack is called with an empty root list.
	ErrNoRoots = errors.New("archive: no source roots given")

	// ErrRootNotDir is returned when a source root doesn't exist or isn't a
	// directory.
	ErrRootNotDir = errors.New("archive: source root is not a directory")

	// ErrUnsupportedKind is returned when an entry's kind has no archive
	// representation (sockets) or a stream names a tag the reader doesn't
	// recognize.
	ErrUnsupportedKind = errors.New("archive: entry kind cannot be packed")

	// ErrUnknownLinkID is returned when a RegularFile record references a
	// link-id the stream never defined with data.
	ErrUnknownLinkID = errors.New("archive: regular file references an unknown link id")

	// ErrCollision is returned by Unpack when force is false and the
	// destination path already exists, except that a Directory record over
	// an existing directory reconciles its owner and mode instead.
	ErrCollision = errors.New("archive: entry already exists at destination")

	// ErrBadPath is returned when a record's path is empty or doesn't begin
	// with "/" (spec.md §4.2/§3).
	ErrBadPath = errors.New("archive: record path must be nonempty and begin with \"/\"")
)
