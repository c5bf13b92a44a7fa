package container

import (
	"debug/elf"
	"fmt"
	"sort"
	"strings"

	"github.com/boljen/go-bitmap"
	"github.com/dargueta/fes/image"
	"github.com/dargueta/fes/scan"
)

// SHT_RELR is still missing from debug/elf.
const shtRelr = elf.SectionType(19)

var pointerArrayPrefixes = []string{
	".got",
	".data.rel.ro",
	".init_array",
	".fini_array",
	".preinit_array",
}

// Classify maps a section to the category that claims its bytes. Both
// pipeline directions classify identically reconstructed section tables,
// so any change here changes the stream layout on both sides at once;
// there is no compatibility knob.
//
// Section type outranks name (a .rela.dyn renamed by a linker script is
// still SHT_RELA), and executable sections outrank everything.
func Classify(sec *image.Section) StreamID {
	if sec.Flags&elf.SHF_EXECINSTR != 0 {
		return StreamCode
	}

	switch sec.Type {
	case elf.SHT_RELA:
		return StreamRela
	case elf.SHT_REL:
		return StreamRel
	case shtRelr:
		return StreamRelr
	case elf.SHT_SYMTAB, elf.SHT_DYNSYM:
		return StreamSym
	case elf.SHT_DYNAMIC:
		return StreamDynamic
	case elf.SHT_HASH, elf.SHT_GNU_HASH:
		return StreamS4
	case elf.SHT_GNU_VERSYM:
		return StreamS2
	}

	name := sec.Name
	switch {
	case name == ".eh_frame_hdr":
		return StreamEhFrameHdr
	case strings.Contains(name, "eh_frame") || strings.Contains(name, "gcc_except"):
		return StreamEhFrame
	case strings.HasPrefix(name, ".relr"):
		return StreamRelr
	case strings.HasPrefix(name, ".rela"):
		return StreamRela
	case strings.HasPrefix(name, ".rel"):
		return StreamRel
	case strings.Contains(name, "cst16"):
		return StreamS16
	case strings.Contains(name, "cst8") || isPointerArray(name):
		return StreamS8
	case strings.Contains(name, "cst4") || strings.Contains(name, "hash"):
		return StreamS4
	case name == ".gnu.version":
		return StreamS2
	case name == ".rodata" || name == ".comment" || strings.Contains(name, "str"):
		return StreamStrings
	}
	return StreamOther
}

func isPointerArray(name string) bool {
	for _, prefix := range pointerArrayPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return strings.Contains(name, "array")
}

// PlanRuns labels every file byte with its category and returns the run
// table. Jump-table runs claim first, then sections in file order, and
// whatever remains is Other. Each byte is claimed at most once, tracked in
// a claim bitmap, so overlapping section headers cannot relabel bytes and
// jump-table runs survive intact inside the sections that contain them.
func PlanRuns(img *image.Image, tables []scan.Table) []Run {
	size := img.Len()
	labels := make([]StreamID, size)
	for i := range labels {
		labels[i] = StreamOther
	}
	claimed := bitmap.New(size)

	claim := func(id StreamID, off, length int) {
		if off < 0 {
			return
		}
		for i := off; i < off+length && i < size; i++ {
			if claimed.Get(i) {
				continue
			}
			claimed.Set(i, true)
			labels[i] = id
		}
	}

	for _, table := range tables {
		claim(StreamJumpTable, table.Offset, table.End()-table.Offset)
	}

	secs := sectionsInFileOrder(img)
	for i := range secs {
		sec := &secs[i]
		if !sec.HasBits() {
			continue
		}
		claim(Classify(sec), int(sec.Offset), int(sec.Size))
	}

	return runsFromLabels(labels)
}

func sectionsInFileOrder(img *image.Image) []image.Section {
	secs := append([]image.Section(nil), img.Sections()...)
	sort.SliceStable(secs, func(i, j int) bool {
		return secs[i].Offset < secs[j].Offset
	})
	return secs
}

// runsFromLabels collapses the per-byte labels into maximal same-category
// runs covering the file exactly.
func runsFromLabels(labels []StreamID) []Run {
	var runs []Run
	for i := 0; i < len(labels); {
		j := i + 1
		for j < len(labels) && labels[j] == labels[i] {
			j++
		}
		runs = append(runs, Run{Category: labels[i], Length: j - i})
		i = j
	}
	return runs
}

// Split copies the file bytes out into per-category streams following the
// run table. The result is indexed by StreamID; categories claiming no
// bytes stay nil so no record is emitted for them.
func Split(buf []byte, runs []Run) ([][]byte, error) {
	out := make([][]byte, StreamCount)
	pos := 0
	for _, run := range runs {
		if err := checkRun(run); err != nil {
			return nil, err
		}
		if run.Length > len(buf)-pos {
			return nil, fmt.Errorf(
				"%w: run of %d bytes at offset %d overruns the %d-byte file",
				ErrFormat, run.Length, pos, len(buf),
			)
		}
		id := run.Category
		out[id] = append(out[id], buf[pos:pos+run.Length]...)
		pos += run.Length
	}
	if pos != len(buf) {
		return nil, fmt.Errorf("%w: runs cover %d of %d bytes", ErrFormat, pos, len(buf))
	}
	return out, nil
}

// Join interleaves per-category streams back into one buffer following the
// same run table. It is the exact inverse of [Split]: every stream must be
// consumed completely, and the runs define the output length.
func Join(runs []Run, streams [][]byte) ([]byte, error) {
	if len(streams) != StreamCount {
		return nil, fmt.Errorf("%w: got %d streams, want %d", ErrFormat, len(streams), StreamCount)
	}

	total := 0
	for _, run := range runs {
		if err := checkRun(run); err != nil {
			return nil, err
		}
		total += run.Length
	}

	out := make([]byte, 0, total)
	used := make([]int, StreamCount)
	for _, run := range runs {
		id := run.Category
		src := streams[id]
		if run.Length > len(src)-used[id] {
			return nil, fmt.Errorf(
				"%w: %s stream exhausted: run wants %d bytes, %d remain",
				ErrFormat, id, run.Length, len(src)-used[id],
			)
		}
		out = append(out, src[used[id]:used[id]+run.Length]...)
		used[id] += run.Length
	}

	for id := range streams {
		if used[id] != len(streams[id]) {
			return nil, fmt.Errorf(
				"%w: %d unconsumed bytes in the %s stream",
				ErrFormat, len(streams[id])-used[id], StreamID(id),
			)
		}
	}
	return out, nil
}

func checkRun(run Run) error {
	if !run.Category.Valid() || run.Category == StreamHeader {
		return fmt.Errorf("%w: run claims bytes for stream id %d", ErrFormat, uint8(run.Category))
	}
	if run.Length <= 0 {
		return fmt.Errorf("%w: empty %s run", ErrFormat, run.Category)
	}
	return nil
}
