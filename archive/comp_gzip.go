package archive

import (
	"io"

	"github.com/klauspost/compress/gzip"
)

// gzip is always available, same as the teacher keeps its default
// decompressor unconditional while xz/zstd sit behind build tags.
func init() {
	RegisterCodec(CodecGzip, &Codec{
		NewWriter: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
		NewReader: func(r io.Reader) (io.ReadCloser, error) {
			return gzip.NewReader(r)
		},
	})
}
