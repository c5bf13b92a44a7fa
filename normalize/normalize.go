// Package normalize rewrites position-relative address fields as
// image-base-relative absolute values and back. Call/jump displacements,
// jump-table entries, and `.eh_frame_hdr` lookup pairs all encode "distance
// from here"; many sites pointing at the same target therefore store many
// different values. After normalization they store the same 32-bit absolute,
// which the entropy coder deduplicates. All arithmetic is wrapping, modulo
// 2^32, so every rewrite is a bijection on the field bytes no matter what
// garbage the heuristics matched.
package normalize

import (
	"encoding/binary"

	"github.com/dargueta/fes/scan"
)

var le = binary.LittleEndian

// ApplyBranches replaces each site's relative displacement with the
// image-base-relative absolute target. `textVaddr` is the virtual address of
// text[0]. The inverse is [InvertBranches] over the identical site list; the
// scanner guarantees a re-scan of the rewritten bytes produces it.
func ApplyBranches(text []byte, textVaddr, imageBase uint64, sites []scan.Site) {
	for _, site := range sites {
		pos := site.DispOffset()
		disp := int32(le.Uint32(text[pos:]))
		next := textVaddr + uint64(site.Offset) + 5
		target := next + uint64(int64(disp))
		le.PutUint32(text[pos:], uint32(target-imageBase))
	}
}

// InvertBranches recomputes each site's original displacement from the
// stored absolute value and the site's own position.
func InvertBranches(text []byte, textVaddr, imageBase uint64, sites []scan.Site) {
	for _, site := range sites {
		pos := site.DispOffset()
		absolute := le.Uint32(text[pos:])
		next := textVaddr + uint64(site.Offset) + 5
		le.PutUint32(text[pos:], uint32(imageBase+uint64(absolute)-next))
	}
}

// ApplyJumpTables rewrites every entry of the given runs from an
// entry-relative displacement to an image-base-relative absolute. Runs come
// from the scanner on the forward pass and from the container index on the
// inverse pass, since the rewrite destroys the pattern the scanner keys on.
func ApplyJumpTables(data []byte, dataVaddr, imageBase uint64, tables []scan.Table) {
	eachTableEntry(data, tables, func(off int) {
		value := int32(le.Uint32(data[off:]))
		entryVaddr := dataVaddr + uint64(off)
		target := entryVaddr + uint64(int64(value))
		le.PutUint32(data[off:], uint32(target-imageBase))
	})
}

// InvertJumpTables restores the original entry-relative displacements.
func InvertJumpTables(data []byte, dataVaddr, imageBase uint64, tables []scan.Table) {
	eachTableEntry(data, tables, func(off int) {
		absolute := le.Uint32(data[off:])
		entryVaddr := dataVaddr + uint64(off)
		le.PutUint32(data[off:], uint32(imageBase+uint64(absolute)-entryVaddr))
	})
}

func eachTableEntry(data []byte, tables []scan.Table, visit func(off int)) {
	for _, table := range tables {
		for i := 0; i < table.Count; i++ {
			off := table.Offset + i*4
			if off+4 > len(data) {
				return
			}
			visit(off)
		}
	}
}
