package dedup

import (
	"fmt"
	"strconv"
	"strings"
)

// chunkName is the decoded form of one physical chunk filename:
// <rem28>-<lenHex>-<collision>-<link>[.gz][.corrupt], living under the
// hash directory <first4hex>/ (spec.md §4.3).
type chunkName struct {
	Rem28     string // 28 lowercase hex chars: MD5 with the first 2 bytes stripped
	Length    uint64 // decompressed length
	Collision uint64
	Link      uint64
	Gzip      bool
	Corrupt   bool
}

// first4hex of the hash directory this name lives under, combined with
// Rem28, reconstructs the full 32-hex-character MD5.
func first4hex(md5sum [16]byte) string {
	return fmt.Sprintf("%02x%02x", md5sum[0], md5sum[1])
}

func rem28hex(md5sum [16]byte) string {
	return fmt.Sprintf("%x", md5sum[2:])
}

// String renders the filename, e.g. "00ff...-1000-0-0.gz".
func (c chunkName) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s-%x-%x-%x", c.Rem28, c.Length, c.Collision, c.Link)
	if c.Gzip {
		b.WriteString(".gz")
	}
	if c.Corrupt {
		b.WriteString(".corrupt")
	}
	return b.String()
}

// parseChunkName decodes a filename in a hash directory. "lock" and any
// name that doesn't match the grammar returns ErrMalformedName.
func parseChunkName(name string) (chunkName, error) {
	corrupt := false
	if rest, ok := strings.CutSuffix(name, ".corrupt"); ok {
		corrupt = true
		name = rest
	}
	gzip := false
	if rest, ok := strings.CutSuffix(name, ".gz"); ok {
		gzip = true
		name = rest
	}

	parts := strings.Split(name, "-")
	if len(parts) != 4 {
		return chunkName{}, ErrMalformedName
	}
	rem28 := parts[0]
	if len(rem28) != 28 || !isLowerHex(rem28) {
		return chunkName{}, ErrMalformedName
	}
	length, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return chunkName{}, ErrMalformedName
	}
	collision, err := strconv.ParseUint(parts[2], 16, 64)
	if err != nil {
		return chunkName{}, ErrMalformedName
	}
	link, err := strconv.ParseUint(parts[3], 16, 64)
	if err != nil {
		return chunkName{}, ErrMalformedName
	}
	return chunkName{
		Rem28:     rem28,
		Length:    length,
		Collision: collision,
		Link:      link,
		Gzip:      gzip,
		Corrupt:   corrupt,
	}, nil
}

func isLowerHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		default:
			return false
		}
	}
	return true
}

// groupPrefix is the shared prefix ("<rem28>-<lenHex>-") every file in a
// (rem28, length) family carries, usable to scan a hash directory for
// candidate collision groups without parsing every entry.
func groupPrefix(rem28 string, length uint64) string {
	return fmt.Sprintf("%s-%x-", rem28, length)
}
