package archive

import (
	"fmt"
	"io"
)

// CodecID identifies the compression backend used for a stream, sent as the
// byte immediately following the protocol's compression boolean flag so
// ParallelUnpack knows which decompressor to instantiate.
type CodecID byte

const (
	CodecGzip CodecID = 0
	CodecXZ   CodecID = 1
	CodecZstd CodecID = 2
)

func (c CodecID) String() string {
	switch c {
	case CodecGzip:
		return "gzip"
	case CodecXZ:
		return "xz"
	case CodecZstd:
		return "zstd"
	default:
		return fmt.Sprintf("CodecID(%d)", c)
	}
}

// Codec wraps one compression backend's writer/reader constructors, mirroring
// the teacher's CompHandler registry (comp.go) generalized from a
// decompress-only table to a symmetric compress/decompress pair, since
// packing requires writing compressed streams and not just reading them.
type Codec struct {
	NewWriter func(w io.Writer) (io.WriteCloser, error)
	NewReader func(r io.Reader) (io.ReadCloser, error)
}

var codecs = map[CodecID]*Codec{}

// RegisterCodec installs a compression backend under id. Backends gated by
// build tags (xz, zstd) call this from an init func; gzip is always present.
func RegisterCodec(id CodecID, c *Codec) {
	codecs[id] = c
}

func lookupCodec(id CodecID) (*Codec, error) {
	c, ok := codecs[id]
	if !ok {
		return nil, fmt.Errorf("archive: no compression backend registered for %s (build with -tags %s?)", id, id)
	}
	return c, nil
}
