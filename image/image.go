// Package image is the read-only model of an ELF64/x86_64 binary that the
// transform pipeline works against. It parses the header, program header
// table, and section header table into typed views, with every declared
// offset re-validated against the actual buffer: section and segment bodies
// are exposed as sub-slices of the one input buffer, so nothing here can
// read or write outside it.
package image

import (
	"bytes"
	"debug/elf"
	"errors"
	"fmt"
)

// ErrMalformed marks structural parse failures: bad magic, truncated
// headers, or tables pointing outside the buffer.
var ErrMalformed = errors.New("malformed ELF image")

// ErrUnsupported marks well-formed images the pipeline does not handle:
// anything that is not little-endian ELF64 for x86_64.
var ErrUnsupported = errors.New("unsupported architecture")

// Section is one section header entry. Body bytes live in the image buffer
// at [Offset, Offset+Size) unless Type is SHT_NOBITS.
type Section struct {
	Name   string
	Type   elf.SectionType
	Flags  elf.SectionFlag
	Addr   uint64
	Offset uint64
	Size   uint64
}

// HasBits reports whether the section occupies file bytes.
func (sec *Section) HasBits() bool {
	return sec.Type != elf.SHT_NOBITS && sec.Type != elf.SHT_NULL && sec.Size > 0
}

// Segment is one PT_LOAD program header entry.
type Segment struct {
	Vaddr  uint64
	Offset uint64
	Filesz uint64
	Memsz  uint64
}

// Image is the parsed view over a raw ELF buffer.
type Image struct {
	raw       []byte
	entry     uint64
	imageBase uint64
	sections  []Section
	segments  []Segment
	byName    map[string]int
}

var elfMagic = []byte{0x7f, 'E', 'L', 'F'}

// Load parses and validates an ELF buffer. It fails with [ErrMalformed] on
// any structural violation and [ErrUnsupported] for non-ELF64, non-x86_64,
// or big-endian inputs. A missing section header table is not an error; the
// image simply exposes no sections and the pipeline degrades to plain
// entropy coding.
func Load(buf []byte) (*Image, error) {
	if len(buf) < 64 {
		return nil, fmt.Errorf("%w: %d bytes is too short for an ELF header", ErrMalformed, len(buf))
	}
	if !bytes.Equal(buf[:4], elfMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	if elf.Class(buf[elf.EI_CLASS]) != elf.ELFCLASS64 {
		return nil, fmt.Errorf("%w: not ELFCLASS64", ErrUnsupported)
	}
	if elf.Data(buf[elf.EI_DATA]) != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("%w: not little-endian", ErrUnsupported)
	}

	file, err := elf.NewFile(bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformed, err)
	}
	if file.Machine != elf.EM_X86_64 {
		return nil, fmt.Errorf("%w: machine %s", ErrUnsupported, file.Machine)
	}

	img := &Image{
		raw:    buf,
		entry:  file.Entry,
		byName: make(map[string]int),
	}

	for _, prog := range file.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if err := checkBounds(buf, prog.Off, prog.Filesz); err != nil {
			return nil, fmt.Errorf("%w: PT_LOAD segment: %s", ErrMalformed, err)
		}
		img.segments = append(img.segments, Segment{
			Vaddr:  prog.Vaddr,
			Offset: prog.Off,
			Filesz: prog.Filesz,
			Memsz:  prog.Memsz,
		})
	}
	img.imageBase = lowestLoadAddr(img.segments)

	for _, raw := range file.Sections {
		sec := Section{
			Name:   raw.Name,
			Type:   raw.Type,
			Flags:  raw.Flags,
			Addr:   raw.Addr,
			Offset: raw.Offset,
			Size:   raw.FileSize,
		}
		if sec.HasBits() {
			if err := checkBounds(buf, sec.Offset, sec.Size); err != nil {
				return nil, fmt.Errorf("%w: section %q: %s", ErrMalformed, sec.Name, err)
			}
		}
		if _, seen := img.byName[sec.Name]; !seen {
			img.byName[sec.Name] = len(img.sections)
		}
		img.sections = append(img.sections, sec)
	}

	return img, nil
}

// checkBounds verifies [off, off+size) lies within the buffer, guarding
// against offset+size overflow.
func checkBounds(buf []byte, off, size uint64) error {
	if off > uint64(len(buf)) || size > uint64(len(buf))-off {
		return fmt.Errorf("range [%#x, +%#x) outside file of %d bytes", off, size, len(buf))
	}
	return nil
}

// lowestLoadAddr finds the image base: the smallest virtual address mapped
// by a loadable segment with a nonzero memory footprint.
func lowestLoadAddr(segments []Segment) uint64 {
	base := uint64(0)
	found := false
	for _, seg := range segments {
		if seg.Memsz == 0 {
			continue
		}
		if !found || seg.Vaddr < base {
			base = seg.Vaddr
			found = true
		}
	}
	return base
}

// Bytes returns the underlying buffer. The image never copies it, so
// callers that transform in place see their writes reflected in section
// data views and vice versa.
func (img *Image) Bytes() []byte {
	return img.raw
}

// Len returns the image size in bytes.
func (img *Image) Len() int {
	return len(img.raw)
}

// Entry returns the entry point virtual address from the ELF header.
func (img *Image) Entry() uint64 {
	return img.entry
}

// ImageBase returns the lowest PT_LOAD virtual address, the zero point for
// all address normalization. Images without loadable segments report 0.
func (img *Image) ImageBase() uint64 {
	return img.imageBase
}

// Sections returns all section headers in table order.
func (img *Image) Sections() []Section {
	return img.sections
}

// Segments returns the PT_LOAD program headers in table order.
func (img *Image) Segments() []Segment {
	return img.segments
}

// Section looks a section up by name. When several sections share a name,
// the first table entry wins.
func (img *Image) Section(name string) (*Section, bool) {
	idx, ok := img.byName[name]
	if !ok {
		return nil, false
	}
	return &img.sections[idx], true
}

// Data returns the section body as a sub-slice of the image buffer. Sections
// without file bytes return an empty slice.
func (img *Image) Data(sec *Section) []byte {
	if !sec.HasBits() {
		return nil
	}
	return img.raw[sec.Offset : sec.Offset+sec.Size]
}

// VaddrRange returns the section's [Addr, Addr+Size) virtual address span.
func (img *Image) VaddrRange(sec *Section) (uint64, uint64) {
	return sec.Addr, sec.Addr + sec.Size
}

// ExecSections returns the sections holding executable code, in table order.
func (img *Image) ExecSections() []Section {
	var execs []Section
	for _, sec := range img.sections {
		if sec.HasBits() && sec.Flags&elf.SHF_EXECINSTR != 0 {
			execs = append(execs, sec)
		}
	}
	return execs
}
