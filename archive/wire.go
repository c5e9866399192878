package archive

import (
	"encoding/binary"
	"errors"
	"io"
)

// errShortString signals a prefix length longer than the remembered string
// it refers to, which can only happen against a corrupt or adversarial
// stream.
var errShortString = errors.New("archive: compressed string refers past remembered prefix")

func writeU8(w io.Writer, v byte) error {
	_, err := w.Write([]byte{v})
	return err
}

func readU8(r io.Reader) (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func writeBool(w io.Writer, v bool) error {
	if v {
		return writeU8(w, 1)
	}
	return writeU8(w, 0)
}

func readBool(r io.Reader) (bool, error) {
	b, err := readU8(r)
	return b != 0, err
}

func writeU16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU16(r io.Reader) (uint16, error) {
	var b [2]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b[:]), nil
}

func writeI16(w io.Writer, v int16) error {
	return writeU16(w, uint16(v))
}

func readI16(r io.Reader) (int16, error) {
	v, err := readU16(r)
	return int16(v), err
}

func writeI32(w io.Writer, v int32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	_, err := w.Write(b[:])
	return err
}

func readI32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b[:])), nil
}

func writeU32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU32(r io.Reader) (uint32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

func writeI64(w io.Writer, v int64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	_, err := w.Write(b[:])
	return err
}

func readI64(r io.Reader) (int64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b[:])), nil
}

func writeU64(w io.Writer, v uint64) error {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func readU64(r io.Reader) (uint64, error) {
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

// stringTable implements the compressed-UTF string codec shared by the
// packer and unpacker (spec.md §6.2): 64 slots, each remembering the last
// string written/read through it so a new value can be sent as a shared
// prefix length plus a suffix.
//
// Wire shape per string: one byte slot, one byte prefix length (0..255,
// clamped against the remembered string's length), two bytes big-endian
// suffix length, then the suffix bytes themselves.
type stringTable struct {
	remembered [64]string
}

func (st *stringTable) WriteString(w io.Writer, slot byte, s string) error {
	prev := st.remembered[slot]
	prefixLen := commonPrefixLen(prev, s)
	if prefixLen > 255 {
		prefixLen = 255
	}
	suffix := s[prefixLen:]
	if len(suffix) > 0xffff {
		// Longer than a single frame can carry. Paths this long are outside
		// POSIX NAME_MAX/PATH_MAX territory, so this is a hard error rather
		// than a multi-frame encoding.
		return errors.New("archive: path segment too long to encode")
	}

	if err := writeU8(w, slot); err != nil {
		return err
	}
	if err := writeU8(w, byte(prefixLen)); err != nil {
		return err
	}
	if err := writeU16(w, uint16(len(suffix))); err != nil {
		return err
	}
	if len(suffix) > 0 {
		if _, err := w.Write([]byte(suffix)); err != nil {
			return err
		}
	}
	st.remembered[slot] = s
	return nil
}

func (st *stringTable) ReadString(r io.Reader) (string, error) {
	slot, err := readU8(r)
	if err != nil {
		return "", err
	}
	prefixLen, err := readU8(r)
	if err != nil {
		return "", err
	}
	suffixLen, err := readU16(r)
	if err != nil {
		return "", err
	}
	suffix := make([]byte, suffixLen)
	if suffixLen > 0 {
		if _, err := io.ReadFull(r, suffix); err != nil {
			return "", err
		}
	}
	prev := st.remembered[slot]
	if int(prefixLen) > len(prev) {
		return "", errShortString
	}
	full := prev[:prefixLen] + string(suffix)
	st.remembered[slot] = full
	return full, nil
}

func commonPrefixLen(a, b string) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}

// maxChunk is the largest single file-data frame. Chunks are framed as a
// big-endian short count, with -1 reserved as the terminator (spec.md §6.2).
const maxChunk = 32767

// WriteFileData streams src to w framed as a sequence of short-prefixed
// chunks terminated by a -1 length, and returns the number of bytes copied.
func WriteFileData(w io.Writer, src io.Reader) (int64, error) {
	var total int64
	buf := make([]byte, maxChunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if werr := writeI16(w, int16(n)); werr != nil {
				return total, werr
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return total, werr
			}
			total += int64(n)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
	}
	if err := writeI16(w, -1); err != nil {
		return total, err
	}
	return total, nil
}

// CopyFileData decodes a WriteFileData stream from r into dst, returning the
// number of bytes copied. dst may be io.Discard for a dry run.
func CopyFileData(dst io.Writer, r io.Reader) (int64, error) {
	var total int64
	for {
		n, err := readI16(r)
		if err != nil {
			return total, err
		}
		if n == -1 {
			return total, nil
		}
		if n < 0 || n > maxChunk {
			return total, errors.New("archive: invalid file data chunk length")
		}
		if _, err := io.CopyN(dst, r, int64(n)); err != nil {
			return total, err
		}
		total += int64(n)
	}
}
