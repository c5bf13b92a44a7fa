package container

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/dargueta/fes/scan"
)

// LoadSegment is one PT_LOAD entry carried in the index.
type LoadSegment struct {
	Vaddr  uint64
	Offset uint64
	Filesz uint64
}

// Run is one maximal span of same-category bytes in the original file.
type Run struct {
	Category StreamID
	Length   int
}

// TableCount records how many fixed-size records one table category held.
// The decompressor recomputes the counts from the reassembled image and
// treats any mismatch as corruption.
type TableCount struct {
	Category StreamID
	Records  int
}

// Index is the decoded header stream: the structural facts the inverse
// pipeline needs before the image exists again, plus redundant counts that
// cross-check the reconstruction. Everything here is derived from the
// input image during compression; none of it is configuration.
//
// The jump-table runs are not recoverable from the run table alone:
// adjacent tables from different sections merge into one run there, which
// would lose the 4-byte entry phase of the later table. JumpTables keeps
// each run's own offset, and its offsets are absolute file offsets.
type Index struct {
	OrigLen     uint64
	ImageBase   uint64
	Segments    []LoadSegment
	Runs        []Run
	BranchCount uint64
	Tables      []TableCount
	JumpTables  []scan.Table
}

// MarshalBinary encodes the index as the header stream payload, a flat
// uvarint sequence with fixed field order. Run entries pack the category
// into the low four bits under the length; jump-table offsets are
// delta-coded and therefore must be ascending.
func (index *Index) MarshalBinary() ([]byte, error) {
	out := make([]byte, 0, 64+2*len(index.Runs))
	out = binary.AppendUvarint(out, index.OrigLen)
	out = binary.AppendUvarint(out, index.ImageBase)

	out = binary.AppendUvarint(out, uint64(len(index.Segments)))
	for _, seg := range index.Segments {
		out = binary.AppendUvarint(out, seg.Vaddr)
		out = binary.AppendUvarint(out, seg.Offset)
		out = binary.AppendUvarint(out, seg.Filesz)
	}

	out = binary.AppendUvarint(out, uint64(len(index.Runs)))
	for _, run := range index.Runs {
		if err := checkRun(run); err != nil {
			return nil, err
		}
		out = binary.AppendUvarint(out, uint64(run.Length)<<4|uint64(run.Category))
	}

	out = binary.AppendUvarint(out, index.BranchCount)

	out = binary.AppendUvarint(out, uint64(len(index.Tables)))
	for _, table := range index.Tables {
		out = binary.AppendUvarint(out, uint64(table.Category))
		out = binary.AppendUvarint(out, uint64(table.Records))
	}

	out = binary.AppendUvarint(out, uint64(len(index.JumpTables)))
	prev := 0
	for _, table := range index.JumpTables {
		if table.Offset < prev {
			return nil, fmt.Errorf(
				"jump-table runs out of order: offset %d after %d", table.Offset, prev,
			)
		}
		out = binary.AppendUvarint(out, uint64(table.Offset-prev))
		out = binary.AppendUvarint(out, uint64(table.Count))
		prev = table.Offset
	}

	return out, nil
}

// UnmarshalBinary decodes a header stream payload. The payload comes off
// the wire, so nothing about it is trusted: every count is checked against
// the bytes that remain, the run table must cover OrigLen exactly, and any
// violation is [ErrFormat].
func (index *Index) UnmarshalBinary(data []byte) error {
	dec := varintReader{data: data}

	index.OrigLen = dec.next("original length")
	index.ImageBase = dec.next("image base")

	segCount := dec.count("segment", 3)
	index.Segments = nil
	for i := uint64(0); i < segCount && dec.err == nil; i++ {
		index.Segments = append(index.Segments, LoadSegment{
			Vaddr:  dec.next("segment vaddr"),
			Offset: dec.next("segment offset"),
			Filesz: dec.next("segment size"),
		})
	}

	runCount := dec.count("run", 1)
	index.Runs = nil
	covered := uint64(0)
	for i := uint64(0); i < runCount && dec.err == nil; i++ {
		packed := dec.next("run")
		run := Run{Category: StreamID(packed & 0xf), Length: int(packed >> 4)}
		if packed>>4 > math.MaxInt32 {
			dec.err = fmt.Errorf("%w: run of %d bytes", ErrFormat, packed>>4)
			break
		}
		if err := checkRun(run); err != nil {
			dec.err = err
			break
		}
		covered += packed >> 4
		index.Runs = append(index.Runs, run)
	}
	if dec.err == nil && covered != index.OrigLen {
		dec.err = fmt.Errorf(
			"%w: runs cover %d bytes of a %d-byte image", ErrFormat, covered, index.OrigLen,
		)
	}

	index.BranchCount = dec.next("branch count")

	tableCount := dec.count("table", 2)
	index.Tables = nil
	for i := uint64(0); i < tableCount && dec.err == nil; i++ {
		table := TableCount{
			Category: StreamID(dec.next("table category")),
			Records:  int(dec.next("table record count")),
		}
		if dec.err == nil && (!table.Category.Valid() || table.Records < 0) {
			dec.err = fmt.Errorf(
				"%w: table entry %d/%d", ErrFormat, uint8(table.Category), table.Records,
			)
			break
		}
		index.Tables = append(index.Tables, table)
	}

	jumpCount := dec.count("jump table", 2)
	index.JumpTables = nil
	prev := uint64(0)
	for i := uint64(0); i < jumpCount && dec.err == nil; i++ {
		offset := prev + dec.next("jump-table offset")
		entries := dec.next("jump-table entry count")
		if dec.err != nil {
			break
		}
		// The division form cannot overflow, whatever the wire says; a
		// delta large enough to wrap offset below prev is also corruption.
		if entries == 0 || offset < prev || offset > index.OrigLen ||
			entries > (index.OrigLen-offset)/4 {
			dec.err = fmt.Errorf(
				"%w: jump table at %d with %d entries exceeds the image", ErrFormat, offset, entries,
			)
			break
		}
		index.JumpTables = append(index.JumpTables, scan.Table{
			Offset: int(offset),
			Count:  int(entries),
		})
		prev = offset
	}

	if dec.err == nil && dec.pos != len(data) {
		dec.err = fmt.Errorf("%w: %d trailing header bytes", ErrFormat, len(data)-dec.pos)
	}
	return dec.err
}

// varintReader walks a uvarint sequence with a sticky error, so the decode
// loop reads as straight-line field access.
type varintReader struct {
	data []byte
	pos  int
	err  error
}

func (r *varintReader) next(what string) uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.err = fmt.Errorf("%w: truncated header at %s", ErrFormat, what)
		return 0
	}
	r.pos += n
	return v
}

// count reads an element count and rejects any value that could not
// possibly fit in the remaining bytes, so a hostile header cannot demand
// an absurd allocation.
func (r *varintReader) count(what string, minBytesPer int) uint64 {
	v := r.next(what + " count")
	if r.err == nil && v > uint64(len(r.data)-r.pos)/uint64(minBytesPer)+1 {
		r.err = fmt.Errorf("%w: %s count %d exceeds the header", ErrFormat, what, v)
		return 0
	}
	return v
}
