package container_test

import (
	"debug/elf"
	"testing"

	"github.com/dargueta/fes/container"
	"github.com/dargueta/fes/image"
	"github.com/dargueta/fes/scan"
	festest "github.com/dargueta/fes/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		Name  string
		Type  elf.SectionType
		Flags elf.SectionFlag
		Want  container.StreamID
	}{
		{".text", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_EXECINSTR, container.StreamCode},
		{".plt", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_EXECINSTR, container.StreamCode},
		{".rela.dyn", elf.SHT_RELA, elf.SHF_ALLOC, container.StreamRela},
		{".rela.plt", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamRela},
		{".rel.text", elf.SHT_REL, 0, container.StreamRel},
		{".rel.data", elf.SHT_PROGBITS, 0, container.StreamRel},
		{".relr.dyn", elf.SectionType(19), elf.SHF_ALLOC, container.StreamRelr},
		{".relr.auth.dyn", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamRelr},
		{".symtab", elf.SHT_SYMTAB, 0, container.StreamSym},
		{".dynsym", elf.SHT_DYNSYM, elf.SHF_ALLOC, container.StreamSym},
		{".dynamic", elf.SHT_DYNAMIC, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamDynamic},
		{".hash", elf.SHT_HASH, elf.SHF_ALLOC, container.StreamS4},
		{".gnu.hash", elf.SHT_GNU_HASH, elf.SHF_ALLOC, container.StreamS4},
		{".rodata.cst4", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_MERGE, container.StreamS4},
		{".gnu.version", elf.SHT_GNU_VERSYM, elf.SHF_ALLOC, container.StreamS2},
		{".got", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".got.plt", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".init_array", elf.SHT_INIT_ARRAY, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".fini_array", elf.SHT_FINI_ARRAY, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".preinit_array", elf.SHT_PREINIT_ARRAY, 0, container.StreamS8},
		{".data.rel.ro", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".data.rel.ro.local", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamS8},
		{".rodata.cst8", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_MERGE, container.StreamS8},
		{".rodata.cst16", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_MERGE, container.StreamS16},
		{".eh_frame_hdr", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamEhFrameHdr},
		{".eh_frame", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamEhFrame},
		{".gcc_except_table", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamEhFrame},
		{".rodata", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamStrings},
		{".rodata.str1.1", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_MERGE | elf.SHF_STRINGS, container.StreamStrings},
		{".strtab", elf.SHT_STRTAB, 0, container.StreamStrings},
		{".shstrtab", elf.SHT_STRTAB, 0, container.StreamStrings},
		{".dynstr", elf.SHT_STRTAB, elf.SHF_ALLOC, container.StreamStrings},
		{".comment", elf.SHT_PROGBITS, elf.SHF_MERGE | elf.SHF_STRINGS, container.StreamStrings},
		{".debug_str", elf.SHT_PROGBITS, 0, container.StreamStrings},
		{".data", elf.SHT_PROGBITS, elf.SHF_ALLOC | elf.SHF_WRITE, container.StreamOther},
		{".interp", elf.SHT_PROGBITS, elf.SHF_ALLOC, container.StreamOther},
		{".note.ABI-tag", elf.SHT_NOTE, elf.SHF_ALLOC, container.StreamOther},
		{".gnu.version_r", elf.SHT_GNU_VERNEED, elf.SHF_ALLOC, container.StreamOther},
	}

	for _, testCase := range cases {
		sec := image.Section{
			Name:  testCase.Name,
			Type:  testCase.Type,
			Flags: testCase.Flags,
		}
		got := container.Classify(&sec)
		assert.Equalf(t, testCase.Want, got, "%s classified as %s", testCase.Name, got)
	}
}

////////////////////////////////////////////////////////////////////////////

// jumpTableRuns scans the standard fixture the way the pipeline does and
// returns the runs at absolute file offsets.
func jumpTableRuns(t *testing.T, img *image.Image) []scan.Table {
	t.Helper()

	text, ok := img.Section(".text")
	require.True(t, ok)
	lo, hi := img.VaddrRange(text)

	rodata, ok := img.Section(".rodata")
	require.True(t, ok)

	tables := scan.Tables(img.Data(rodata), rodata.Addr, scan.VaddrRange{Lo: lo, Hi: hi}, scan.DefaultPolicy())
	for i := range tables {
		tables[i].Offset += int(rodata.Offset)
	}
	return tables
}

func labelAt(runs []container.Run, offset int) container.StreamID {
	pos := 0
	for _, run := range runs {
		if offset < pos+run.Length {
			return run.Category
		}
		pos += run.Length
	}
	return container.StreamID(0xff)
}

func TestPlanRuns__StandardImage(t *testing.T) {
	buf := festest.StandardImage(t)
	img, err := image.Load(buf)
	require.NoError(t, err)

	tables := jumpTableRuns(t, img)
	require.Len(t, tables, 1)
	assert.Equal(t, 16, tables[0].Count)

	runs := container.PlanRuns(img, tables)
	require.NotEmpty(t, runs)

	total := 0
	for _, run := range runs {
		total += run.Length
	}
	assert.Equal(t, img.Len(), total)

	// The ELF header is claimed by nothing.
	assert.Equal(t, container.StreamOther, labelAt(runs, 0))

	text, _ := img.Section(".text")
	assert.Equal(t, container.StreamCode, labelAt(runs, int(text.Offset)))
	assert.Equal(t, container.StreamCode, labelAt(runs, int(text.Offset)+0x3ff))

	// Jump-table bytes beat the .rodata claim; string residue stays.
	rodata, _ := img.Section(".rodata")
	assert.Equal(t, container.StreamJumpTable, labelAt(runs, int(rodata.Offset)))
	assert.Equal(t, container.StreamJumpTable, labelAt(runs, int(rodata.Offset)+0x3f))
	assert.Equal(t, container.StreamStrings, labelAt(runs, int(rodata.Offset)+0x40))

	rela, _ := img.Section(".rela.dyn")
	assert.Equal(t, container.StreamRela, labelAt(runs, int(rela.Offset)))

	relr, _ := img.Section(".relr.dyn")
	assert.Equal(t, container.StreamRelr, labelAt(runs, int(relr.Offset)))

	hdr, _ := img.Section(".eh_frame_hdr")
	assert.Equal(t, container.StreamEhFrameHdr, labelAt(runs, int(hdr.Offset)))
}

func TestPlanRuns__MergesAdjacentRuns(t *testing.T) {
	buf := festest.StandardImage(t)
	img, err := image.Load(buf)
	require.NoError(t, err)

	runs := container.PlanRuns(img, jumpTableRuns(t, img))
	for i := 1; i < len(runs); i++ {
		assert.NotEqual(t, runs[i-1].Category, runs[i].Category, "run %d not merged", i)
	}
}

func TestSplitJoin__RoundTrip(t *testing.T) {
	buf := festest.StandardImage(t)
	img, err := image.Load(buf)
	require.NoError(t, err)

	runs := container.PlanRuns(img, jumpTableRuns(t, img))

	streams, err := container.Split(buf, runs)
	require.NoError(t, err)
	require.Len(t, streams, container.StreamCount)

	assert.Nil(t, streams[container.StreamHeader])
	assert.Len(t, streams[container.StreamCode], 0x400)
	assert.Len(t, streams[container.StreamJumpTable], 64)
	assert.Len(t, streams[container.StreamRela], 6*24)
	assert.Len(t, streams[container.StreamS2], 10)
	assert.Nil(t, streams[container.StreamRel])

	streamed := 0
	for _, stream := range streams {
		streamed += len(stream)
	}
	assert.Equal(t, len(buf), streamed)

	joined, err := container.Join(runs, streams)
	require.NoError(t, err)
	assert.Equal(t, buf, joined)
}

func TestSplitJoin__Violations(t *testing.T) {
	buf := make([]byte, 64)
	goodRuns := []container.Run{
		{Category: container.StreamOther, Length: 32},
		{Category: container.StreamCode, Length: 32},
	}

	_, err := container.Split(buf, []container.Run{{Category: container.StreamOther, Length: 100}})
	assert.ErrorIs(t, err, container.ErrFormat, "overrunning run")

	_, err = container.Split(buf, goodRuns[:1])
	assert.ErrorIs(t, err, container.ErrFormat, "short coverage")

	_, err = container.Split(buf, []container.Run{
		{Category: container.StreamHeader, Length: 64},
	})
	assert.ErrorIs(t, err, container.ErrFormat, "header category run")

	_, err = container.Split(buf, []container.Run{
		{Category: container.StreamOther, Length: 0},
		{Category: container.StreamOther, Length: 64},
	})
	assert.ErrorIs(t, err, container.ErrFormat, "empty run")

	streams, err := container.Split(buf, goodRuns)
	require.NoError(t, err)

	short := append([][]byte(nil), streams...)
	short[container.StreamCode] = short[container.StreamCode][:16]
	_, err = container.Join(goodRuns, short)
	assert.ErrorIs(t, err, container.ErrFormat, "exhausted stream")

	long := append([][]byte(nil), streams...)
	long[container.StreamCode] = append([]byte(nil), long[container.StreamCode]...)
	long[container.StreamCode] = append(long[container.StreamCode], 0xff)
	_, err = container.Join(goodRuns, long)
	assert.ErrorIs(t, err, container.ErrFormat, "unconsumed bytes")

	_, err = container.Join(goodRuns, streams[:4])
	assert.ErrorIs(t, err, container.ErrFormat, "missing stream slots")
}
