package archive

import "github.com/parapack/parapack/posixfs"

// packerLinkTracker assigns a link-id to each (device, inode) pair the first
// time it's seen and reuses it for subsequent hard-linked entries, so the
// wire format only has to carry a single small integer per duplicate rather
// than re-sending file contents (spec.md §4.1 hard-link economy).
type packerLinkTracker struct {
	ids    map[posixfs.DevIno]uint64
	remain map[posixfs.DevIno]uint32
	next   uint64
}

func newPackerLinkTracker() *packerLinkTracker {
	return &packerLinkTracker{
		ids:    make(map[posixfs.DevIno]uint64),
		remain: make(map[posixfs.DevIno]uint32),
	}
}

// observe records one more on-disk occurrence of di (nlink copies total on
// the source side) and reports whether this is the first occurrence seen by
// the packer, plus the link-id to emit for it.
func (t *packerLinkTracker) observe(di posixfs.DevIno, nlink uint32) (id uint64, first bool) {
	if id, ok := t.ids[di]; ok {
		t.remain[di]--
		return id, false
	}
	t.next++
	id = t.next
	t.ids[di] = id
	t.remain[di] = nlink
	return id, true
}

// unpackerLinkTracker maps the link-ids a stream defines back to the
// destination path that received the first copy, so later copies can be
// hard-linked to it instead of re-materialized.
type unpackerLinkTracker struct {
	firstPath map[uint64]string
}

func newUnpackerLinkTracker() *unpackerLinkTracker {
	return &unpackerLinkTracker{firstPath: make(map[uint64]string)}
}

func (t *unpackerLinkTracker) recordFirst(id uint64, path string) {
	if id != 0 {
		t.firstPath[id] = path
	}
}

func (t *unpackerLinkTracker) lookup(id uint64) (string, bool) {
	p, ok := t.firstPath[id]
	return p, ok
}
