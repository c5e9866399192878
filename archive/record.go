package archive

// Record is a decoded archive entry. Only the fields relevant to Kind are
// populated; it is a plain tagged union rather than separate per-kind types
// so the packer and unpacker can share one dispatch switch.
type Record struct {
	Kind Kind
	Path string

	Uid, Gid uint32
	Mode     uint32 // permission + setuid/setgid/sticky bits, no type bits
	MtimeMs  int64

	// RegularFile. LinkID 0 means the file has no other hard links on the
	// source side; data always follows in that case. A nonzero LinkID seen
	// for the first time is the "first copy" of a link group: NumLinks
	// carries the group's total member count and data follows. A nonzero
	// LinkID seen again is a later member of an already-known group: no
	// data follows, the unpacker hard-links to the first copy's path.
	LinkID   uint64
	NumLinks uint32
	Size     int64

	// Symlink
	Target string

	// BlockDevice / CharacterDevice
	Rdev uint64
}
