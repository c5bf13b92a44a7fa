// Package testing builds synthetic ELF images for the package tests.
//
// Images follow one fixed layout rule: a single PT_LOAD maps the whole
// file at [DefaultBase], so every section's virtual address is the image
// base plus its file offset and tests can compute expected addresses by
// hand. Section bodies land in declaration order, the generated .shstrtab
// after them, and the section header table last.
package testing

import (
	"debug/elf"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"
)

// DefaultBase is the load address of every synthetic image.
const DefaultBase = 0x400000

const (
	ehdrSize = 64
	phdrSize = 56
	shdrSize = 64
)

// SectionSpec describes one section of a synthetic image.
type SectionSpec struct {
	Name  string
	Type  elf.SectionType
	Flags elf.SectionFlag
	Data  []byte
	// Size is only honored for SHT_NOBITS sections; everything else takes
	// its size from Data.
	Size uint64
	// AddrAlign defaults to 8.
	AddrAlign uint64
	Entsize   uint64
}

// Placement reports where a section landed in the built image.
type Placement struct {
	Offset uint64
	Addr   uint64
}

// NewImage assembles an ELF64/x86_64 executable from the given sections
// and returns the image bytes along with each section's placement. The
// entry point is the address of the first executable section, or the image
// base when there is none.
func NewImage(t *testing.T, specs []SectionSpec) ([]byte, map[string]Placement) {
	t.Helper()

	// Build the section name table up front; its size feeds the layout.
	names := []byte{0}
	nameOffsets := make(map[string]uint32, len(specs))
	for _, spec := range specs {
		nameOffsets[spec.Name] = uint32(len(names))
		names = append(names, spec.Name...)
		names = append(names, 0)
	}
	shstrtabName := uint32(len(names))
	names = append(names, ".shstrtab"...)
	names = append(names, 0)

	where := make(map[string]Placement, len(specs))
	cursor := uint64(ehdrSize + phdrSize)
	for _, spec := range specs {
		cursor = alignUp(cursor, specAlign(&spec))
		where[spec.Name] = Placement{Offset: cursor, Addr: DefaultBase + cursor}
		if spec.Type != elf.SHT_NOBITS {
			cursor += uint64(len(spec.Data))
		}
	}
	shstrtabOff := cursor
	shoff := alignUp(shstrtabOff+uint64(len(names)), 8)
	shnum := len(specs) + 2 // NULL entry, declared sections, .shstrtab
	total := shoff + uint64(shnum)*shdrSize

	entry := uint64(DefaultBase)
	for _, spec := range specs {
		if spec.Flags&elf.SHF_EXECINSTR != 0 {
			entry = where[spec.Name].Addr
			break
		}
	}

	buf := make([]byte, total)
	stream := bytesextra.NewReadWriteSeeker(buf)
	writeAt := func(off uint64, value any) {
		_, err := stream.Seek(int64(off), io.SeekStart)
		require.NoError(t, err)
		require.NoError(t, binary.Write(stream, binary.LittleEndian, value))
	}

	writeAt(0, elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Entry:     entry,
		Phoff:     ehdrSize,
		Shoff:     shoff,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
		Shentsize: shdrSize,
		Shnum:     uint16(shnum),
		Shstrndx:  uint16(shnum - 1),
	})
	writeAt(ehdrSize, elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_W | elf.PF_X),
		Vaddr:  DefaultBase,
		Paddr:  DefaultBase,
		Filesz: total,
		Memsz:  total,
		Align:  0x1000,
	})

	for _, spec := range specs {
		if spec.Type != elf.SHT_NOBITS && len(spec.Data) > 0 {
			writeAt(where[spec.Name].Offset, spec.Data)
		}
	}
	writeAt(shstrtabOff, names)

	shdrAt := shoff
	writeAt(shdrAt, elf.Section64{})
	for _, spec := range specs {
		shdrAt += shdrSize
		size := uint64(len(spec.Data))
		if spec.Type == elf.SHT_NOBITS {
			size = spec.Size
		}
		writeAt(shdrAt, elf.Section64{
			Name:      nameOffsets[spec.Name],
			Type:      uint32(spec.Type),
			Flags:     uint64(spec.Flags),
			Addr:      where[spec.Name].Addr,
			Off:       where[spec.Name].Offset,
			Size:      size,
			Addralign: specAlign(&spec),
			Entsize:   spec.Entsize,
		})
	}
	writeAt(shdrAt+shdrSize, elf.Section64{
		Name:      shstrtabName,
		Type:      uint32(elf.SHT_STRTAB),
		Off:       shstrtabOff,
		Size:      uint64(len(names)),
		Addralign: 1,
	})

	return buf, where
}

func specAlign(spec *SectionSpec) uint64 {
	if spec.AddrAlign == 0 {
		return 8
	}
	return spec.AddrAlign
}

func alignUp(v, align uint64) uint64 {
	if align < 2 {
		return v
	}
	if rem := v % align; rem != 0 {
		return v + align - rem
	}
	return v
}

////////////////////////////////////////////////////////////////////////////

// PlantCall writes a near call (0xE8) at `off` in a section body whose
// displacement lands on `target`, another offset in the same section.
func PlantCall(body []byte, off, target int) {
	plantBranch(body, 0xe8, off, target)
}

// PlantJump writes a near jump (0xE9), otherwise like [PlantCall].
func PlantJump(body []byte, off, target int) {
	plantBranch(body, 0xe9, off, target)
}

func plantBranch(body []byte, opcode byte, off, target int) {
	body[off] = opcode
	binary.LittleEndian.PutUint32(body[off+1:], uint32(int32(target-(off+5))))
}

// fillPattern writes deterministic filler that never contains a branch
// opcode, so planted sites stay the only ones a scan will find.
func fillPattern(body []byte) {
	for i := range body {
		body[i] = byte(0x40 + (i*13)&0x3f)
	}
}

// StandardImage builds the fixture used by most round-trip tests: an
// executable with planted branches, a jump table, relocation, symbol,
// dynamic, hash, and version tables, unwind data, constant pools, and
// string tables, so every stream category except SHT_REL shows up.
func StandardImage(t *testing.T) []byte {
	t.Helper()

	text := make([]byte, 0x400)
	fillPattern(text)
	PlantCall(text, 0x10, 0x200)
	PlantJump(text, 0x20, 0x80)
	PlantCall(text, 0x100, 0x18)
	PlantJump(text, 0x3f0, 0x0)
	// An opcode in the last four bytes: a scan must skip it, and its
	// trailing bytes ride along unmodified.
	text[0x3fc] = 0xe8

	rodata := make([]byte, 0x200)
	copy(rodata[0x40:], "error: %s\n\x00usage: %s <input> <output>\n\x00out of memory\x00")

	relaDyn := make([]byte, 6*24)
	for i := 0; i < 6; i++ {
		rec := relaDyn[i*24:]
		binary.LittleEndian.PutUint64(rec[0:], DefaultBase+0x3800+uint64(i)*8) // r_offset
		binary.LittleEndian.PutUint64(rec[8:], uint64(i/2)<<32|8)              // R_X86_64_RELATIVE
		binary.LittleEndian.PutUint64(rec[16:], DefaultBase+uint64(i)*0x40)    // r_addend
	}

	dynsym := make([]byte, 5*24)
	for i := 0; i < 5; i++ {
		rec := dynsym[i*24:]
		binary.LittleEndian.PutUint32(rec[0:], uint32(i*9)) // st_name
		rec[4] = 0x12                                       // STB_GLOBAL | STT_FUNC
		rec[6] = 1                                          // st_shndx
		binary.LittleEndian.PutUint64(rec[8:], DefaultBase+0x100*uint64(i))
		binary.LittleEndian.PutUint64(rec[16:], uint64(i)*0x20)
	}

	dynstr := []byte("\x00libc.so.6\x00printf\x00main\x00_start\x00")

	versym := make([]byte, 5*2)
	for i, v := range []uint16{0, 1, 2, 2, 1} {
		binary.LittleEndian.PutUint16(versym[i*2:], v)
	}

	hash := make([]byte, 10*4)
	for i, v := range []uint32{3, 5, 1, 0, 2, 0, 3, 4, 0, 0} {
		binary.LittleEndian.PutUint32(hash[i*4:], v)
	}

	gnuHash := make([]byte, 8*4)
	for i, v := range []uint32{1, 1, 1, 6, 0x0f00f0f0, 0, 5, 0x7c96f087} {
		binary.LittleEndian.PutUint32(gnuHash[i*4:], v)
	}

	dynamic := make([]byte, 7*16)
	dynEntries := [][2]uint64{
		{uint64(elf.DT_NEEDED), 1},
		{uint64(elf.DT_STRTAB), DefaultBase + 0x7e0},
		{uint64(elf.DT_SYMTAB), DefaultBase + 0x760},
		{uint64(elf.DT_RELA), DefaultBase + 0x6d0},
		{uint64(elf.DT_RELASZ), 144},
		{uint64(elf.DT_NULL), 0},
		{uint64(elf.DT_NULL), 0},
	}
	for i, pair := range dynEntries {
		binary.LittleEndian.PutUint64(dynamic[i*16:], pair[0])
		binary.LittleEndian.PutUint64(dynamic[i*16+8:], pair[1])
	}

	got := make([]byte, 8*8)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint64(got[i*8:], DefaultBase+0x90+uint64(i)*0x30)
	}

	relr := make([]byte, 4*8)
	for i, v := range []uint64{
		DefaultBase + 0x3800,
		0x0000000000000103 | 1,
		DefaultBase + 0x3900,
		0x000000000000000f | 1,
	} {
		binary.LittleEndian.PutUint64(relr[i*8:], v)
	}

	initArray := make([]byte, 2*8)
	binary.LittleEndian.PutUint64(initArray[0:], DefaultBase+0x150)
	binary.LittleEndian.PutUint64(initArray[8:], DefaultBase+0x1b0)

	cst16 := make([]byte, 48)
	for i := range cst16 {
		cst16[i] = byte(i * 5)
	}

	ehFrame := make([]byte, 0x100)
	fillPattern(ehFrame)
	binary.LittleEndian.PutUint32(ehFrame[0xfc:], 0)

	exceptTable := make([]byte, 0x40)
	for i := range exceptTable {
		exceptTable[i] = byte(0xff - i)
	}

	specs := []SectionSpec{
		{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Data: text, AddrAlign: 16},
		{Name: ".rodata", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Data: rodata, AddrAlign: 16},
		{Name: ".rodata.cst16", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_MERGE, Data: cst16, AddrAlign: 16, Entsize: 16},
		{Name: ".eh_frame_hdr", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Data: make([]byte, 36), AddrAlign: 4},
		{Name: ".eh_frame", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Data: ehFrame},
		{Name: ".gcc_except_table", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Data: exceptTable, AddrAlign: 4},
		{Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC, Data: relaDyn, Entsize: 24},
		{Name: ".dynsym", Type: elf.SHT_DYNSYM, Flags: elf.SHF_ALLOC, Data: dynsym, Entsize: 24},
		{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Data: dynstr, AddrAlign: 1},
		{Name: ".gnu.version", Type: elf.SHT_GNU_VERSYM, Flags: elf.SHF_ALLOC, Data: versym, AddrAlign: 2, Entsize: 2},
		{Name: ".gnu.hash", Type: elf.SHT_GNU_HASH, Flags: elf.SHF_ALLOC, Data: gnuHash},
		{Name: ".hash", Type: elf.SHT_HASH, Flags: elf.SHF_ALLOC, Data: hash, Entsize: 4},
		{Name: ".dynamic", Type: elf.SHT_DYNAMIC, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Data: dynamic, Entsize: 16},
		{Name: ".got", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Data: got},
		{Name: ".relr.dyn", Type: elf.SectionType(19), Flags: elf.SHF_ALLOC, Data: relr, Entsize: 8},
		{Name: ".init_array", Type: elf.SHT_INIT_ARRAY, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Data: initArray, Entsize: 8},
		{Name: ".comment", Type: elf.SHT_PROGBITS, Flags: elf.SHF_MERGE | elf.SHF_STRINGS, Data: []byte("GCC: (GNU) 13.2.0\x00"), AddrAlign: 1},
		{Name: ".bss", Type: elf.SHT_NOBITS, Flags: elf.SHF_ALLOC | elf.SHF_WRITE, Size: 0x180, AddrAlign: 16},
	}

	buf, where := NewImage(t, specs)

	// The jump table and the frame index need final addresses, so they are
	// patched into the built image rather than written up front.
	textAt := where[".text"]
	rodataAt := where[".rodata"]
	for i := 0; i < 16; i++ {
		entryOff := rodataAt.Offset + uint64(i)*4
		entryAddr := rodataAt.Addr + uint64(i)*4
		targetAddr := textAt.Addr + uint64(0x10+i*0x20)
		binary.LittleEndian.PutUint32(buf[entryOff:], uint32(int32(int64(targetAddr)-int64(entryAddr))))
	}

	hdrAt := where[".eh_frame_hdr"]
	frameAt := where[".eh_frame"]
	hdr := buf[hdrAt.Offset:]
	hdr[0] = 1    // version
	hdr[1] = 0x1b // eh_frame_ptr: pcrel | sdata4
	hdr[2] = 0x03 // fde_count: udata4
	hdr[3] = 0x3b // table: datarel | sdata4
	binary.LittleEndian.PutUint32(hdr[4:], uint32(int32(int64(frameAt.Addr)-int64(hdrAt.Addr+4))))
	binary.LittleEndian.PutUint32(hdr[8:], 3)
	for i, textOff := range []uint64{0x10, 0x100, 0x3f0} {
		pair := hdr[12+i*8:]
		binary.LittleEndian.PutUint32(pair[0:], uint32(int32(int64(textAt.Addr+textOff)-int64(hdrAt.Addr))))
		binary.LittleEndian.PutUint32(pair[4:], uint32(int32(int64(frameAt.Addr+uint64(i)*0x20)-int64(hdrAt.Addr))))
	}

	return buf
}

// MinimalImage builds a code-only executable: .text, .rodata strings, and
// nothing else. Images like this exercise the absent-stream path, since
// most categories claim no bytes at all.
func MinimalImage(t *testing.T) []byte {
	t.Helper()

	text := make([]byte, 0x100)
	fillPattern(text)
	PlantCall(text, 0x08, 0x80)
	PlantJump(text, 0x40, 0x10)

	buf, _ := NewImage(t, []SectionSpec{
		{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Data: text, AddrAlign: 16},
		{Name: ".rodata", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC, Data: []byte("hello, world\x00"), AddrAlign: 1},
	})
	return buf
}

// RaggedImage builds an image whose relocation table is not a whole number
// of records, which must degrade that table to a raw byte stream without
// hurting the round trip.
func RaggedImage(t *testing.T) []byte {
	t.Helper()

	text := make([]byte, 0x80)
	fillPattern(text)
	PlantCall(text, 0x10, 0x40)

	rela := make([]byte, 100) // not a multiple of 24
	fillPattern(rela)

	buf, _ := NewImage(t, []SectionSpec{
		{Name: ".text", Type: elf.SHT_PROGBITS, Flags: elf.SHF_ALLOC | elf.SHF_EXECINSTR, Data: text, AddrAlign: 16},
		{Name: ".rela.dyn", Type: elf.SHT_RELA, Flags: elf.SHF_ALLOC, Data: rela, Entsize: 24},
		{Name: ".dynstr", Type: elf.SHT_STRTAB, Flags: elf.SHF_ALLOC, Data: []byte("\x00ld.so\x00"), AddrAlign: 1},
	})
	return buf
}

// BareImage builds an executable with no section header table at all. The
// pipeline cannot attribute any byte to a category, so the whole file
// rides in the Other stream.
func BareImage(t *testing.T) []byte {
	t.Helper()

	payload := make([]byte, 0x100)
	fillPattern(payload)
	payload[0x20] = 0xe8 // no .text section, so never treated as a branch

	total := uint64(ehdrSize + phdrSize + len(payload))
	buf := make([]byte, total)
	stream := bytesextra.NewReadWriteSeeker(buf)

	write := func(off uint64, value any) {
		_, err := stream.Seek(int64(off), io.SeekStart)
		require.NoError(t, err)
		require.NoError(t, binary.Write(stream, binary.LittleEndian, value))
	}

	write(0, elf.Header64{
		Ident:     [16]byte{0x7f, 'E', 'L', 'F', 2, 1, 1},
		Type:      uint16(elf.ET_EXEC),
		Machine:   uint16(elf.EM_X86_64),
		Version:   1,
		Entry:     DefaultBase + ehdrSize + phdrSize,
		Phoff:     ehdrSize,
		Ehsize:    ehdrSize,
		Phentsize: phdrSize,
		Phnum:     1,
	})
	write(ehdrSize, elf.Prog64{
		Type:   uint32(elf.PT_LOAD),
		Flags:  uint32(elf.PF_R | elf.PF_X),
		Vaddr:  DefaultBase,
		Paddr:  DefaultBase,
		Filesz: total,
		Memsz:  total,
		Align:  0x1000,
	})
	write(ehdrSize+phdrSize, payload)

	return buf
}
