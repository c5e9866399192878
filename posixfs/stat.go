package posixfs

// Stat is a value record describing a filesystem node, as specified in
// spec.md §3.
type Stat struct {
	Exists bool
	Kind   Kind
	Mode   uint32 // permission + setuid/setgid/sticky bits, no type bits
	Uid    uint32
	Gid    uint32
	Nlink  int
	Dev    uint64
	Ino    uint64
	Atime  int64 // milliseconds since epoch
	Mtime  int64 // milliseconds since epoch
	Rdev   uint64 // device id, for BlockDev/CharDev nodes
}

// DevIno is the (device, inode) composite key used by the packer to detect
// hard links.
type DevIno struct {
	Dev uint64
	Ino uint64
}
