// Package fes implements a lossless, structure-aware compression
// preprocessor for x86_64 ELF binaries.
//
// A binary is not a uniform byte soup: relocation tables, symbol tables,
// jump tables and call displacements each follow their own regular layout
// that general-purpose compressors cannot see through. This package parses
// that structure, rewrites position-dependent values into forms that repeat
// (absolute branch targets, delta-coded table columns, byte-plane
// transposed arrays), splits the file into one stream per structural
// category, and entropy-codes each stream with tuning matched to its
// shape. Every rewrite is exactly invertible; Decompress reproduces the
// input bit for bit.
//
// The archive format carries no per-byte metadata. The inverse pipeline
// rediscovers branch sites by re-running the same scan over the
// reconstructed code, and everything it cannot rediscover travels in a
// single compact header stream.
package fes

import (
	"runtime"

	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/scan"
)

// Options controls both directions of the pipeline. The zero value is
// usable: it selects LZMA, one worker per CPU, round-trip verification on,
// and the default jump-table policy.
type Options struct {
	// Workers bounds how many streams are entropy-coded concurrently.
	// Values below 1 mean one worker per CPU.
	Workers int

	// Coder selects the entropy backend. The choice is recorded per
	// stream in the archive, so decompression ignores this field.
	Coder coder.Kind

	// SkipVerify disables the round-trip check that Compress runs before
	// returning. The check decompresses the freshly built archive and
	// compares it byte for byte against the input; skipping it roughly
	// halves compression time at the cost of trusting the pipeline.
	SkipVerify bool

	// StrictTables makes Compress fail when a recognized struct table
	// cannot be column-coded because its length is not a record multiple.
	// By default such tables pass through as raw bytes.
	StrictTables bool

	// JumpTable tunes the jump-table scan. The scan only affects ratio,
	// never correctness: recognized runs are recorded in the archive
	// header, so decompression never re-runs it.
	JumpTable scan.Policy
}

// DefaultOptions returns the settings Compress and Decompress use when
// given a zero Options value.
func DefaultOptions() Options {
	return Options{
		Workers:   runtime.GOMAXPROCS(0),
		Coder:     coder.LZMA,
		JumpTable: scan.DefaultPolicy(),
	}
}

func (opts Options) withDefaults() Options {
	if opts.Workers < 1 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	return opts
}

// Compress transforms and compresses an ELF image into an archive.
// The input must be a little-endian x86_64 ELF64 binary; anything else
// fails with ErrMalformedImage or ErrUnsupportedArch. Unless
// opts.SkipVerify is set, the archive has already round-tripped
// successfully when Compress returns.
func Compress(input []byte, opts Options) ([]byte, error) {
	return compress(input, opts.withDefaults())
}

// Decompress reconstructs the original binary from an archive produced by
// Compress. Corrupt or truncated archives fail with ErrContainerFormat.
func Decompress(archive []byte, opts Options) ([]byte, error) {
	return decompress(archive, opts.withDefaults())
}

// Verify decompresses an archive and checks that the result matches the
// original byte for byte. Any failure, including a failure to decompress
// at all, reports as ErrRoundTrip with the cause attached.
func Verify(original, archive []byte, opts Options) error {
	return verifyRoundTrip(original, archive, opts.withDefaults())
}
