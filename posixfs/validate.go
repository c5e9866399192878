package posixfs

import "strings"

// NameMax is the typical POSIX NAME_MAX; the real value is filesystem
// specific, but this is the conservative default used when the adapter
// doesn't query pathconf.
const NameMax = 255

// ValidateName rejects empty names, ".", "..", names containing NUL or '/',
// and names longer than NameMax, per spec.md §4.4.
func ValidateName(name string) error {
	switch name {
	case "", ".", "..":
		return ErrInvalidName
	}
	if len(name) > NameMax {
		return ErrInvalidName
	}
	if strings.IndexByte(name, '/') >= 0 || strings.IndexByte(name, 0) >= 0 {
		return ErrInvalidName
	}
	return nil
}
