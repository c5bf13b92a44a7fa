// Package scan locates the byte patterns the pipeline rewrites: near
// call/jump sites in executable code, and jump-table runs in read-only data
// sections.
//
// The branch scan is a heuristic, not a disassembler: any 0xE8/0xE9 byte
// with four bytes of room after it is treated as a call/jmp opcode followed
// by a 32-bit displacement. False positives only cost compression ratio,
// never correctness, because the forward and inverse passes share this exact
// scan: opcode bytes are never rewritten and displacement bytes are skipped
// without being examined, so both passes see the same site list.
package scan

// Near call and near jump opcodes, the only two instruction forms the
// branch scan recognizes.
const (
	OpCall = 0xE8
	OpJmp  = 0xE9
)

// Site is one recognized branch instruction. Offset addresses the opcode
// byte within the scanned buffer; the displacement occupies the four bytes
// after it.
type Site struct {
	Offset int
	Opcode byte
}

// DispOffset returns the buffer offset of the site's 32-bit displacement.
func (site Site) DispOffset() int {
	return site.Offset + 1
}

// Branches scans executable bytes for near call/jump sites. A match in the
// last four bytes of the buffer is discarded since its displacement would
// run past the end. After a match the scan resumes past the displacement,
// never inside it.
func Branches(text []byte) []Site {
	var sites []Site
	for i := 0; i+5 <= len(text); {
		op := text[i]
		if op != OpCall && op != OpJmp {
			i++
			continue
		}
		sites = append(sites, Site{Offset: i, Opcode: op})
		i += 5
	}
	return sites
}

// DispOffsets collects the displacement offsets of all sites, shifted by
// `base`. The result indexes the same fields in a buffer that contains the
// scanned bytes starting at `base` (the byte-order gate works on those
// windows).
func DispOffsets(sites []Site, base int) []int {
	if len(sites) == 0 {
		return nil
	}
	offsets := make([]int, len(sites))
	for i, site := range sites {
		offsets[i] = base + site.DispOffset()
	}
	return offsets
}
