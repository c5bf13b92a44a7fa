// Package coder is the narrow boundary between the transform pipeline and
// the general-purpose entropy coders behind it. The pipeline hands each
// stream to a [Coder] as one byte slice with per-stream tuning and gets
// opaque compressed bytes back; nothing about the container or the
// transforms leaks through this interface.
package coder

import "fmt"

// Kind selects a compression backend.
type Kind int

const (
	// LZMA is the default backend: classic LZMA streams with tunable
	// literal-context and position bits per stream.
	LZMA Kind = iota
	// Zstd trades some ratio for much faster encoding.
	Zstd
)

var kindNames = map[Kind]string{
	LZMA: "lzma",
	Zstd: "zstd",
}

func (kind Kind) String() string {
	name, ok := kindNames[kind]
	if !ok {
		return fmt.Sprintf("Kind(%d)", int(kind))
	}
	return name
}

// ParseKind maps a backend name from the command line to its [Kind].
func ParseKind(name string) (Kind, error) {
	for kind, kindName := range kindNames {
		if kindName == name {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("unknown coder %q", name)
}

// Config tunes one compression call. Backends without an analogue for a
// knob ignore it; the stream stays decodable either way because every
// backend's output is self-describing.
type Config struct {
	// LiteralContextBits is the number of high bits of the previous byte
	// used to model the next literal. Zero suits streams of delta/zigzag
	// values, which look like numeric permutations rather than text.
	LiteralContextBits int
	// PositionBits conditions the model on the low bits of the stream
	// position; useful for instruction bytes, pointless for delta columns.
	PositionBits int
	// Raw omits per-stream container framing and checksums: LZMA emits a
	// bare headered stream instead of an xz container, zstd drops the
	// frame checksum. The surrounding .fes container already frames every
	// stream, and the round-trip check covers integrity.
	Raw bool
}

// Coder compresses and decompresses single byte streams. Implementations
// are pure per call and safe for concurrent use; the pipeline invokes one
// per stream from its worker pool.
type Coder interface {
	// Compress returns the compressed form of src. An empty src yields an
	// empty result.
	Compress(src []byte, cfg Config) ([]byte, error)
	// Decompress reverses Compress. sizeHint is the expected decompressed
	// length; it sizes buffers and is verified by the caller, not here.
	Decompress(src []byte, sizeHint int) ([]byte, error)
	// Kind identifies the backend for container flags and reports.
	Kind() Kind
}

// New returns the backend for the given kind.
func New(kind Kind) (Coder, error) {
	switch kind {
	case LZMA:
		return newLZMACoder()
	case Zstd:
		return newZstdCoder()
	}
	return nil, fmt.Errorf("unknown coder kind %d", int(kind))
}
