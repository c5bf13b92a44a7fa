package delta

import (
	"encoding/binary"
)

// Kind identifies the record layout of a struct table.
type Kind int

const (
	// Rela is an ELF64 relocation-with-addend table (24-byte records).
	Rela Kind = iota
	// Rel is an ELF64 relocation table without addends (16-byte records).
	Rel
	// Sym is an ELF64 symbol table (24-byte records).
	Sym
	// Dynamic is an ELF64 dynamic section (16-byte tag/value records).
	Dynamic
	// Relr is a RELR relative-relocation table (8-byte entries that are
	// either addresses or continuation bitmaps, discriminated by bit 0).
	Relr
)

var recordSizes = map[Kind]int{
	Rela:    24,
	Rel:     16,
	Sym:     24,
	Dynamic: 16,
	Relr:    8,
}

var kindNames = map[Kind]string{
	Rela:    "rela",
	Rel:     "rel",
	Sym:     "sym",
	Dynamic: "dynamic",
	Relr:    "relr",
}

// RecordSize returns the fixed record size in bytes for the table kind.
func (kind Kind) RecordSize() int {
	return recordSizes[kind]
}

func (kind Kind) String() string {
	return kindNames[kind]
}

// Table reports what [Transform] or [Invert] did to one table. A table whose
// byte length is not a multiple of its record size cannot be decomposed into
// columns; it is tagged Raw and its bytes pass through unmodified. Both
// directions derive the tag from the same length test, so no flag needs to
// be carried between them.
type Table struct {
	Kind    Kind
	Records int
	Raw     bool
}

// Transform rewrites the delta-coded columns of `table` in place and reports
// what it did. The inverse is [Invert] with the same kind.
func Transform(kind Kind, table []byte) Table {
	return apply(kind, table, true)
}

// Invert restores the original column values of a table previously rewritten
// by [Transform].
func Invert(kind Kind, table []byte) Table {
	return apply(kind, table, false)
}

func apply(kind Kind, table []byte, forward bool) Table {
	size := kind.RecordSize()
	if len(table)%size != 0 {
		return Table{Kind: kind, Raw: true}
	}

	count := len(table) / size
	switch kind {
	case Rela:
		applyRela(table, count, forward)
	case Rel:
		applyRel(table, count, forward)
	case Sym:
		applySym(table, count, forward)
	case Dynamic:
		applyDynamic(table, count, forward)
	case Relr:
		applyRelr(table, count, forward)
	}
	return Table{Kind: kind, Records: count}
}

// field64 runs one 64-bit column chain over every record, reading and
// writing the field at `offset` within each record.
func field64(table []byte, count, size, offset int, forward bool) {
	le := binary.LittleEndian
	var chain chain64
	for i := 0; i < count; i++ {
		pos := i*size + offset
		value := le.Uint64(table[pos:])
		if forward {
			value = chain.Encode(value)
		} else {
			value = chain.Decode(value)
		}
		le.PutUint64(table[pos:], value)
	}
}

func field32(table []byte, count, size, offset int, forward bool) {
	le := binary.LittleEndian
	var chain chain32
	for i := 0; i < count; i++ {
		pos := i*size + offset
		value := le.Uint32(table[pos:])
		if forward {
			value = chain.Encode(value)
		} else {
			value = chain.Decode(value)
		}
		le.PutUint32(table[pos:], value)
	}
}

// Elf64_Rela: r_offset u64, r_info u64, r_addend i64. The info word packs
// the relocation type in its low half and the symbol index in its high half;
// only the symbol half is delta-coded, type codes repeat and compress fine
// as-is.
func applyRela(table []byte, count int, forward bool) {
	field64(table, count, 24, 0, forward)  // r_offset
	field32(table, count, 24, 12, forward) // symbol index (high half of r_info)
	field64(table, count, 24, 16, forward) // r_addend
}

// Elf64_Rel: r_offset u64, r_info u64.
func applyRel(table []byte, count int, forward bool) {
	field64(table, count, 16, 0, forward)  // r_offset
	field32(table, count, 16, 12, forward) // symbol index
}

// Elf64_Sym: st_name u32, st_info u8, st_other u8, st_shndx u16,
// st_value u64, st_size u64. Name offsets, values, and sizes are the columns
// with locality; the two flag bytes and the section index stay raw.
func applySym(table []byte, count int, forward bool) {
	field32(table, count, 24, 0, forward)  // st_name
	field64(table, count, 24, 8, forward)  // st_value
	field64(table, count, 24, 16, forward) // st_size
}

// Elf64_Dyn: d_tag i64, d_val/d_ptr u64. Both columns delta well: tags are
// small and repetitive, values are mostly ascending addresses.
func applyDynamic(table []byte, count int, forward bool) {
	field64(table, count, 16, 0, forward) // d_tag
	field64(table, count, 16, 8, forward) // d_un
}

// applyRelr delta-codes the address entries of a RELR table. Address entries
// have bit 0 clear and are always even, so the wrapping difference of two of
// them is even as well; the stored form therefore keeps bit 0 clear and the
// inverse can still tell addresses from bitmap entries (bit 0 set, passed
// through raw). Zigzag is deliberately not used here: it would fold the sign
// into bit 0 and destroy that discrimination.
func applyRelr(table []byte, count int, forward bool) {
	le := binary.LittleEndian
	var prev uint64
	for i := 0; i < count; i++ {
		pos := i * 8
		value := le.Uint64(table[pos:])
		if forward {
			if value&1 != 0 {
				continue
			}
			le.PutUint64(table[pos:], value-prev)
			prev = value
		} else {
			if value&1 != 0 {
				continue
			}
			value += prev
			le.PutUint64(table[pos:], value)
			prev = value
		}
	}
}
