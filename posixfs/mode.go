package posixfs

import "io/fs"

// POSIX mode bit constants. Adapted from the squashfs mode conversion table:
// squashfs stores modes in the same representation the kernel uses, so the
// bit layout carries over unchanged to any POSIX tree walker.
const (
	sIFMT   = 0xf000
	sIFREG  = 0x8000
	sIFDIR  = 0x4000
	sIFBLK  = 0x6000
	sIFCHR  = 0x2000
	sIFIFO  = 0x1000
	sIFLNK  = 0xa000
	sIFSOCK = 0xc000

	sISVTX = 0x200
	sISGID = 0x400
	sISUID = 0x800
)

// UnixToMode converts a raw POSIX mode word (as found in struct stat) to a
// Go fs.FileMode plus the Kind it represents.
func UnixToMode(raw uint32) (fs.FileMode, Kind) {
	perm := fs.FileMode(raw & 0777)

	var kind Kind
	switch raw & sIFMT {
	case sIFDIR:
		kind = Dir
		perm |= fs.ModeDir
	case sIFLNK:
		kind = Symlink
		perm |= fs.ModeSymlink
	case sIFBLK:
		kind = BlockDev
		perm |= fs.ModeDevice
	case sIFCHR:
		kind = CharDev
		perm |= fs.ModeDevice | fs.ModeCharDevice
	case sIFIFO:
		kind = Fifo
		perm |= fs.ModeNamedPipe
	case sIFSOCK:
		kind = Socket
		perm |= fs.ModeSocket
	default:
		kind = Regular
	}

	if raw&sISGID == sISGID {
		perm |= fs.ModeSetgid
	}
	if raw&sISUID == sISUID {
		perm |= fs.ModeSetuid
	}
	if raw&sISVTX == sISVTX {
		perm |= fs.ModeSticky
	}

	return perm, kind
}

// ModeToUnix is the inverse of UnixToMode: it packs a Go fs.FileMode (with
// its type bits) back into a raw POSIX mode word.
func ModeToUnix(mode fs.FileMode) uint32 {
	res := uint32(mode.Perm())

	switch {
	case mode&fs.ModeCharDevice == fs.ModeCharDevice:
		res |= sIFCHR
	case mode&fs.ModeDevice == fs.ModeDevice:
		res |= sIFBLK
	case mode&fs.ModeDir == fs.ModeDir:
		res |= sIFDIR
	case mode&fs.ModeNamedPipe == fs.ModeNamedPipe:
		res |= sIFIFO
	case mode&fs.ModeSymlink == fs.ModeSymlink:
		res |= sIFLNK
	case mode&fs.ModeSocket == fs.ModeSocket:
		res |= sIFSOCK
	default:
		res |= sIFREG
	}

	if mode&fs.ModeSetgid == fs.ModeSetgid {
		res |= sISGID
	}
	if mode&fs.ModeSetuid == fs.ModeSetuid {
		res |= sISUID
	}
	if mode&fs.ModeSticky == fs.ModeSticky {
		res |= sISVTX
	}

	return res
}
