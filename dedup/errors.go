package dedup

import (
	"errors"
	"fmt"

	"github.com/parapack/parapack/posixfs"
)

// Package-specific error variables that can be used with errors.Is().
var (
	// ErrCorrupt is returned when a lookup resolves only to chunk files
	// flagged .corrupt and no clean sibling exists to migrate to.
	ErrCorrupt = errors.New("dedup: chunk is corrupt and has no clean sibling")

	// ErrMalformedName is returned by the filename codec when a chunk
	// filename doesn't match the grammar in spec.md §4.3.
	ErrMalformedName = errors.New("dedup: malformed chunk filename")

	// ErrReentrantLock mirrors posixfs.ErrReentrantLock: the hash-directory
	// lock is strictly non-reentrant.
	ErrReentrantLock = errors.New("dedup: reentrant hash-directory lock")

	// ErrZeroLength is returned by Insert for zero-length content: empty
	// files are never indexed (spec.md §3, §4.3 placement-policy rule 3).
	// It wraps posixfs.ErrZeroLength so archive's unpacker, which only
	// depends on posixfs (not dedup) across the DedupInserter interface,
	// can still recognize it via errors.Is.
	ErrZeroLength = fmt.Errorf("dedup: zero-length content is never indexed: %w", posixfs.ErrZeroLength)
)
