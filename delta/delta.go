// Package delta implements the column-wise delta and zigzag coding applied
// to fixed-size ELF64 record tables: relocation entries (with and without
// addends), symbol tables, dynamic entries, and RELR relative-relocation
// ranges.
//
// Each table kind has a fixed record layout. Selected fields form logical
// columns across the records; those columns are rewritten in place as a
// first-order wrapping delta against the previous record, mapped through a
// zigzag transform so that small deltas of either sign have zero high-order
// bytes. Fields that hold type codes or flags are left untouched. Everything
// here is a bijection on the table bytes: [Invert] undoes [Transform]
// exactly, using only the table kind and length.
package delta

// Zigzag64 maps a signed 64-bit value to an unsigned one such that values of
// small magnitude, negative or positive, map to small results.
func Zigzag64(value int64) uint64 {
	return uint64(value<<1) ^ uint64(value>>63)
}

// Unzigzag64 is the inverse of [Zigzag64].
func Unzigzag64(value uint64) int64 {
	return int64(value>>1) ^ -int64(value&1)
}

// Zigzag32 is the 32-bit analogue of [Zigzag64], used for the 32-bit columns
// in relocation and symbol records.
func Zigzag32(value int32) uint32 {
	return uint32(value<<1) ^ uint32(value>>31)
}

// Unzigzag32 is the inverse of [Zigzag32].
func Unzigzag32(value uint32) int32 {
	return int32(value>>1) ^ -int32(value&1)
}

// chain64 tracks one 64-bit column. Encode turns an absolute value into its
// stored form and advances the chain; Decode does the reverse. The chain
// starts at zero, so the first record stores its value verbatim (zigzagged).
type chain64 struct {
	prev uint64
}

func (chain *chain64) Encode(value uint64) uint64 {
	diff := value - chain.prev
	chain.prev = value
	return Zigzag64(int64(diff))
}

func (chain *chain64) Decode(stored uint64) uint64 {
	value := chain.prev + uint64(Unzigzag64(stored))
	chain.prev = value
	return value
}

type chain32 struct {
	prev uint32
}

func (chain *chain32) Encode(value uint32) uint32 {
	diff := value - chain.prev
	chain.prev = value
	return Zigzag32(int32(diff))
}

func (chain *chain32) Decode(stored uint32) uint32 {
	value := chain.prev + uint32(Unzigzag32(stored))
	chain.prev = value
	return value
}
