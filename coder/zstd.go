package coder

import (
	"github.com/klauspost/compress/zstd"
)

// zstdCoder wraps a shared encoder/decoder pair. Both are stateless per
// EncodeAll/DecodeAll call and safe for concurrent use, so a single pair
// serves every stream. Frame checksums are off: the archive's verification
// pass covers integrity.
type zstdCoder struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newZstdCoder() (*zstdCoder, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedBestCompression),
		zstd.WithEncoderCRC(false),
	)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdCoder{enc: enc, dec: dec}, nil
}

func (c *zstdCoder) Kind() Kind {
	return Zstd
}

// Compress encodes src as a zstd frame. The literal-context and position-bit
// knobs in cfg have no zstd analogue and are ignored.
func (c *zstdCoder) Compress(src []byte, _ Config) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	return c.enc.EncodeAll(src, make([]byte, 0, len(src)/2+64)), nil
}

func (c *zstdCoder) Decompress(src []byte, sizeHint int) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	dst := make([]byte, 0, sizeHint)
	return c.dec.DecodeAll(src, dst)
}
