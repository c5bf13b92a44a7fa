package fes

import (
	"fmt"
	"sort"

	"github.com/dargueta/fes/container"
	"github.com/dargueta/fes/delta"
	"github.com/dargueta/fes/image"
	"github.com/dargueta/fes/normalize"
	"github.com/dargueta/fes/scan"
	"github.com/dargueta/fes/shuffle"
)

// deltaKinds maps table stream categories to their record layouts. Only
// these five categories go through the column delta stage; the plain
// numeric array categories rely on the byte-plane transpose alone.
var deltaKinds = map[container.StreamID]delta.Kind{
	container.StreamRela:    delta.Rela,
	container.StreamRel:     delta.Rel,
	container.StreamSym:     delta.Sym,
	container.StreamDynamic: delta.Dynamic,
	container.StreamRelr:    delta.Relr,
}

// jumpTableSection reports whether a section is scanned for jump tables.
// Compilers place switch tables in exactly these two sections; scanning
// anything wider risks mangling data that only looks like a table.
func jumpTableSection(name string) bool {
	return name == ".rodata" || name == ".data.rel.ro"
}

// execRange returns the virtual address span covered by executable
// sections. Jump-table entries must land inside it to qualify.
func execRange(img *image.Image) scan.VaddrRange {
	var r scan.VaddrRange
	for _, sec := range img.ExecSections() {
		lo, hi := img.VaddrRange(&sec)
		if r.Hi == 0 {
			r = scan.VaddrRange{Lo: lo, Hi: hi}
			continue
		}
		if lo < r.Lo {
			r.Lo = lo
		}
		if hi > r.Hi {
			r.Hi = hi
		}
	}
	return r
}

// transformForward rewrites the image buffer in place through every
// structural stage that precedes stream splitting, and returns the index
// facts the container header must carry. Runs are left for the caller to
// fill in, since run planning needs the jump tables collected here. The
// returned offsets locate every branch displacement window in the file;
// the byte-order gate for the code stream works on those.
func transformForward(img *image.Image, opts Options) (*container.Index, []int, error) {
	base := img.ImageBase()

	// Branch displacements become absolute target addresses. The scan and
	// the rewrite are per section, but the recorded window offsets are
	// file-absolute so one swap decision can cover all executable sections.
	var branchCount uint64
	var dispOffsets []int
	execs := img.ExecSections()
	for i := range execs {
		sec := &execs[i]
		body := img.Data(sec)
		sites := scan.Branches(body)
		normalize.ApplyBranches(body, sec.Addr, base, sites)
		dispOffsets = append(dispOffsets, scan.DispOffsets(sites, int(sec.Offset))...)
		branchCount += uint64(len(sites))
	}

	if sec, ok := img.Section(".eh_frame_hdr"); ok && sec.HasBits() {
		normalize.ApplyFrameIndex(img.Data(sec), sec.Addr, base)
	}

	// Jump tables. Offsets come back section-relative from the scan and
	// are converted to file offsets for the index, sorted because the
	// header delta-codes them.
	text := execRange(img)
	var tables []scan.Table
	sections := img.Sections()
	for i := range sections {
		sec := &sections[i]
		if !sec.HasBits() || !jumpTableSection(sec.Name) {
			continue
		}
		body := img.Data(sec)
		found := scan.Tables(body, sec.Addr, text, opts.JumpTable)
		normalize.ApplyJumpTables(body, sec.Addr, base, found)
		for _, table := range found {
			table.Offset += int(sec.Offset)
			tables = append(tables, table)
		}
	}
	sort.Slice(tables, func(i, j int) bool {
		return tables[i].Offset < tables[j].Offset
	})

	counts, err := transformTables(img, opts.StrictTables)
	if err != nil {
		return nil, nil, err
	}

	segments := make([]container.LoadSegment, len(img.Segments()))
	for i, seg := range img.Segments() {
		segments[i] = container.LoadSegment{
			Vaddr:  seg.Vaddr,
			Offset: seg.Offset,
			Filesz: seg.Filesz,
		}
	}

	index := &container.Index{
		OrigLen:     uint64(img.Len()),
		ImageBase:   base,
		Segments:    segments,
		BranchCount: branchCount,
		Tables:      counts,
		JumpTables:  tables,
	}
	return index, dispOffsets, nil
}

// transformTables delta-codes every recognized struct table in place and
// returns the record counts for the header cross-check. Tables whose
// length is not a record multiple pass through raw and contribute no
// count; in strict mode they fail the compression instead.
func transformTables(img *image.Image, strict bool) ([]container.TableCount, error) {
	var counts []container.TableCount
	sections := img.Sections()
	for i := range sections {
		sec := &sections[i]
		if !sec.HasBits() {
			continue
		}
		id := container.Classify(sec)
		kind, ok := deltaKinds[id]
		if !ok {
			continue
		}
		result := delta.Transform(kind, img.Data(sec))
		if result.Raw {
			if strict {
				return nil, ErrStructDecode.WithMessage(fmt.Sprintf(
					"%s is %d bytes, not a multiple of %d",
					sec.Name, sec.Size, kind.RecordSize()))
			}
			continue
		}
		counts = append(counts, container.TableCount{Category: id, Records: result.Records})
	}
	return counts, nil
}

// transformInverse undoes every structural stage on the reassembled image,
// in reverse order of transformForward, and cross-checks the derived
// structure against the index. Any divergence means the container lied
// about the image it carries.
func transformInverse(img *image.Image, index *container.Index, codeBigEndian bool) error {
	base := img.ImageBase()

	if counts := invertTables(img); !sameTableCounts(counts, index.Tables) {
		return ErrContainerFormat.WithMessage("struct table counts diverge from the header")
	}

	// The jump-table list in the header is authoritative; the scan is not
	// re-run because normalized entries would no longer match it.
	for _, table := range index.JumpTables {
		sec := sectionAt(img, table)
		if sec == nil {
			return ErrContainerFormat.WithMessage(fmt.Sprintf(
				"jump table at %#x lies outside every section", table.Offset))
		}
		relative := scan.Table{Offset: table.Offset - int(sec.Offset), Count: table.Count}
		normalize.InvertJumpTables(img.Data(sec), sec.Addr, base, []scan.Table{relative})
	}

	if sec, ok := img.Section(".eh_frame_hdr"); ok && sec.HasBits() {
		normalize.InvertFrameIndex(img.Data(sec), sec.Addr, base)
	}

	// Branch sites are rediscovered by the same scan the compressor ran;
	// opcode bytes were never rewritten, so both passes see the same list.
	// Displacement windows must be un-swapped before the values are turned
	// back into displacements.
	var branchCount uint64
	execs := img.ExecSections()
	for i := range execs {
		sec := &execs[i]
		body := img.Data(sec)
		sites := scan.Branches(body)
		if codeBigEndian {
			shuffle.SwapAt(body, scan.DispOffsets(sites, 0), 4)
		}
		normalize.InvertBranches(body, sec.Addr, base, sites)
		branchCount += uint64(len(sites))
	}
	if branchCount != index.BranchCount {
		return ErrContainerFormat.WithMessage(fmt.Sprintf(
			"rescan found %d branch sites, header says %d",
			branchCount, index.BranchCount))
	}
	return nil
}

// invertTables is the decompression side of transformTables. The raw/decoded
// decision repeats the same length test, so both sides always agree on
// which tables carry delta-coded columns.
func invertTables(img *image.Image) []container.TableCount {
	var counts []container.TableCount
	sections := img.Sections()
	for i := range sections {
		sec := &sections[i]
		if !sec.HasBits() {
			continue
		}
		id := container.Classify(sec)
		kind, ok := deltaKinds[id]
		if !ok {
			continue
		}
		result := delta.Invert(kind, img.Data(sec))
		if result.Raw {
			continue
		}
		counts = append(counts, container.TableCount{Category: id, Records: result.Records})
	}
	return counts
}

func sameTableCounts(derived, recorded []container.TableCount) bool {
	if len(derived) != len(recorded) {
		return false
	}
	for i := range derived {
		if derived[i] != recorded[i] {
			return false
		}
	}
	return true
}

// sectionAt finds the section whose file bytes fully contain the run.
func sectionAt(img *image.Image, table scan.Table) *image.Section {
	sections := img.Sections()
	for i := range sections {
		sec := &sections[i]
		if !sec.HasBits() {
			continue
		}
		start := int(sec.Offset)
		if table.Offset >= start && table.End() <= start+int(sec.Size) {
			return sec
		}
	}
	return nil
}
