package posixfs

import "errors"

// Package-specific error variables, usable with errors.Is.
var (
	ErrExists        = errors.New("posixfs: path already exists")
	ErrNotExist      = errors.New("posixfs: path does not exist")
	ErrNotDirectory  = errors.New("posixfs: not a directory")
	ErrInvalidName   = errors.New("posixfs: invalid path component")
	ErrReentrantLock = errors.New("posixfs: reentrant lock acquisition")

	// ErrZeroLength is wrapped by dedup.ErrZeroLength so that callers on
	// the other side of the archive/dedup split (which only share this
	// package, not each other) can still detect it via errors.Is.
	ErrZeroLength = errors.New("posixfs: zero-length content")
)
