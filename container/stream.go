package container

import (
	"fmt"

	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/shuffle"
)

// StreamID identifies one stream category. IDs are written into container
// records, so the values are frozen; renumbering would break every archive
// already on disk. Container order is ascending ID, header record first.
type StreamID uint8

const (
	StreamHeader     StreamID = iota // synthetic index stream, claims no file bytes
	StreamOther                      // everything no other category claims
	StreamCode                       // executable sections
	StreamStrings                    // string tables plus .rodata residue
	StreamS2                         // u16 arrays (.gnu.version)
	StreamS4                         // u32 arrays (hash tables, 4-byte pools)
	StreamS8                         // u64 pointer arrays (GOT, init/fini, relro)
	StreamS16                        // 16-byte constant pools
	StreamRelr                       // SHT_RELR compact relocations
	StreamRel                        // SHT_REL tables
	StreamRela                       // SHT_RELA tables
	StreamSym                        // symbol tables
	StreamDynamic                    // .dynamic table
	StreamEhFrame                    // .eh_frame and .gcc_except_table
	StreamEhFrameHdr                 // .eh_frame_hdr search index
	StreamJumpTable                  // scanned jump-table runs
)

// StreamCount is the number of defined categories.
const StreamCount = int(StreamJumpTable) + 1

// Coder tuning per category family. Byte-like streams keep literal-context
// modeling; numeric streams disable it, since columns of delta/zigzag
// values behave like numeric permutations rather than text. Raw is always
// set because the container supplies framing and the verification pass
// supplies integrity.
var (
	textConfig    = coder.Config{LiteralContextBits: 3, Raw: true}
	codeConfig    = coder.Config{LiteralContextBits: 3, PositionBits: 2, Raw: true}
	numericConfig = coder.Config{Raw: true}
)

// streamInfo fixes the per-category constants: the record stride driving
// the byte-plane transpose, the byte-swap windows within one record, and
// the entropy-coder tuning.
type streamInfo struct {
	name   string
	stride int
	fields []shuffle.Field
	config coder.Config
}

// Sym records swap st_name, st_value, and st_size; the byte-sized fields
// packed between them stay put.
var symFields = []shuffle.Field{{Off: 0, Size: 4}, {Off: 8, Size: 8}, {Off: 16, Size: 8}}

var streams = [StreamCount]streamInfo{
	StreamHeader:     {"header", 1, nil, textConfig},
	StreamOther:      {"other", 1, nil, codeConfig},
	StreamCode:       {"code", 1, nil, codeConfig},
	StreamStrings:    {"strings", 1, nil, textConfig},
	StreamS2:         {"s2", 2, fields(2), numericConfig},
	StreamS4:         {"s4", 4, fields(4), numericConfig},
	StreamS8:         {"s8", 8, fields(8), numericConfig},
	StreamS16:        {"s16", 16, fields(8, 8), numericConfig},
	StreamRelr:       {"relr", 8, fields(8), numericConfig},
	StreamRel:        {"rel", 16, fields(8, 4, 4), numericConfig},
	StreamRela:       {"rela", 24, fields(8, 4, 4, 8), numericConfig},
	StreamSym:        {"sym", 24, symFields, numericConfig},
	StreamDynamic:    {"dynamic", 16, fields(8, 8), numericConfig},
	StreamEhFrame:    {"eh-frame", 1, nil, codeConfig},
	StreamEhFrameHdr: {"eh-frame-hdr", 4, fields(4), numericConfig},
	StreamJumpTable:  {"jump-table", 4, fields(4), numericConfig},
}

// fields lays swap windows out back to back from the record start.
func fields(sizes ...int) []shuffle.Field {
	var out []shuffle.Field
	off := 0
	for _, size := range sizes {
		out = append(out, shuffle.Field{Off: off, Size: size})
		off += size
	}
	return out
}

// Valid reports whether the id names a defined category.
func (id StreamID) Valid() bool {
	return int(id) < StreamCount
}

func (id StreamID) String() string {
	if !id.Valid() {
		return fmt.Sprintf("stream-%d", uint8(id))
	}
	return streams[id].name
}

// Stride returns the record width driving the byte-plane transpose, 1 for
// byte-granularity streams.
func (id StreamID) Stride() int {
	return streams[id].stride
}

// SwapFields returns the byte-swap windows of one record, nil for
// categories without any. Code is special: its windows are the scanned
// branch displacements, which live at irregular offsets and are swapped on
// the file buffer rather than per record.
func (id StreamID) SwapFields() []shuffle.Field {
	return streams[id].fields
}

// CoderConfig returns the entropy-coder tuning for the category.
func (id StreamID) CoderConfig() coder.Config {
	return streams[id].config
}
