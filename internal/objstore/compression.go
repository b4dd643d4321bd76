package objstore

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// zstdMagic is the four-byte frame magic number, checked to decide
// whether a stored body is compressed (teacher: internal/safe/
// compression.go's decompress magic-byte sniff).
var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// compressor zstd-compresses object bodies above a size threshold,
// trimmed down from the teacher's compressionManager (no sync.Pool of
// encoders/decoders: a CLI invocation is short-lived and single-
// writer, so pooling buys nothing here).
type compressor struct {
	minSize int
	enc     *zstd.Encoder
	dec     *zstd.Decoder
}

func newCompressor(minSize int) (*compressor, error) {
	if minSize <= 0 {
		minSize = 1024
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}
	return &compressor{minSize: minSize, enc: enc, dec: dec}, nil
}

// maybeCompress compresses body when it's at or above minSize, leaving
// shorter bodies stored raw. maybeDecompress tells the two apart by
// the zstd magic number, so a stored body under minSize must never
// happen to start with it; tree/commit bodies are text-encoded and
// never do.
func (c *compressor) maybeCompress(body []byte) ([]byte, error) {
	if len(body) < c.minSize {
		return body, nil
	}
	return c.enc.EncodeAll(body, nil), nil
}

// maybeDecompress decompresses body if it carries the zstd magic
// number, else returns it unchanged.
func (c *compressor) maybeDecompress(body []byte) ([]byte, error) {
	if len(body) < 4 || !bytes.Equal(body[:4], zstdMagic) {
		return body, nil
	}
	return c.dec.DecodeAll(body, nil)
}
