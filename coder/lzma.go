package coder

import (
	"bytes"
	"fmt"
	"io"

	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
)

// Dictionary capacity bounds: the dictionary is sized to the next power of
// two above the stream length so small streams stay cheap, clamped so a
// pathological stream cannot demand unbounded memory.
const (
	minDictCap = 1 << 16
	maxDictCap = 1 << 26
)

// xzMagic opens every xz container. A classic LZMA stream starts with its
// properties byte instead, which is at most 224 for any valid parameter
// triple, so the two formats can never be confused.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

type lzmaCoder struct{}

func newLZMACoder() (Coder, error) {
	return lzmaCoder{}, nil
}

func (lzmaCoder) Kind() Kind {
	return LZMA
}

// dictCapFor rounds the stream length up to a power of two within the
// dictionary bounds.
func dictCapFor(length int) int {
	capacity := minDictCap
	for capacity < length && capacity < maxDictCap {
		capacity <<= 1
	}
	return capacity
}

// Compress emits a bare LZMA stream when cfg.Raw is set: a 13-byte header
// carrying the properties and length, then the compressed payload, nothing
// else. Without Raw the payload is wrapped in a full xz container, which
// adds framing and checksums but ignores the literal-context and
// position-bit tuning (the xz writer fixes its own parameters).
func (lzmaCoder) Compress(src []byte, cfg Config) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}
	if !cfg.Raw {
		return compressXZ(src)
	}

	writerConfig := lzma.WriterConfig{
		Properties: &lzma.Properties{
			LC: cfg.LiteralContextBits,
			LP: 0,
			PB: cfg.PositionBits,
		},
		DictCap:      dictCapFor(len(src)),
		Size:         int64(len(src)),
		SizeInHeader: true,
	}

	var buf bytes.Buffer
	writer, err := writerConfig.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating lzma writer: %w", err)
	}
	if _, err := writer.Write(src); err != nil {
		return nil, fmt.Errorf("lzma compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing lzma stream: %w", err)
	}
	return buf.Bytes(), nil
}

func compressXZ(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer, err := xz.NewWriter(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating xz writer: %w", err)
	}
	if _, err := writer.Write(src); err != nil {
		return nil, fmt.Errorf("xz compression failed: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finishing xz stream: %w", err)
	}
	return buf.Bytes(), nil
}

func (lzmaCoder) Decompress(src []byte, sizeHint int) ([]byte, error) {
	if len(src) == 0 {
		return nil, nil
	}

	var reader io.Reader
	if bytes.HasPrefix(src, xzMagic) {
		r, err := xz.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("reading xz header: %w", err)
		}
		reader = r
	} else {
		// The classic stream header carries the properties and real size;
		// the reader config only has to allow the largest dictionary we
		// ever write.
		r, err := lzma.ReaderConfig{DictCap: maxDictCap}.NewReader(bytes.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("reading lzma header: %w", err)
		}
		reader = r
	}

	buf := bytes.NewBuffer(make([]byte, 0, sizeHint))
	if _, err := io.Copy(buf, reader); err != nil {
		return nil, fmt.Errorf("lzma decompression failed: %w", err)
	}
	return buf.Bytes(), nil
}
