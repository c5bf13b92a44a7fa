package scan

import "encoding/binary"

// VaddrRange is a half-open virtual address interval [Lo, Hi).
type VaddrRange struct {
	Lo uint64
	Hi uint64
}

// Contains reports whether the address lies inside the range.
func (r VaddrRange) Contains(addr uint64) bool {
	return addr >= r.Lo && addr < r.Hi
}

// Policy tunes the jump-table heuristic. The scan itself cannot break
// correctness whatever the settings: recognized runs are recorded in the
// container index, so the inverse never depends on re-running the scan.
type Policy struct {
	// MinRun is the minimum number of consecutive qualifying entries for a
	// run to count as a jump table. Values below 1 select the default.
	MinRun int
}

// DefaultPolicy returns the standard jump-table policy.
func DefaultPolicy() Policy {
	return Policy{MinRun: 4}
}

// Table is one detected jump-table run: `Count` consecutive 4-byte entries
// starting at byte offset `Offset` within the scanned section.
type Table struct {
	Offset int
	Count  int
}

// End returns the offset one past the run's last byte.
func (table Table) End() int {
	return table.Offset + table.Count*4
}

// Tables scans a data section for runs of 4-byte entries that, read as
// signed entry-relative displacements, land inside the executable address
// range. Compilers emit position-independent switch tables in exactly this
// shape. The section is stepped in 4-byte units from its start; a run ends
// at the first non-qualifying entry and is kept when it has at least
// pol.MinRun entries.
func Tables(data []byte, dataVaddr uint64, text VaddrRange, pol Policy) []Table {
	if pol.MinRun < 1 {
		pol.MinRun = DefaultPolicy().MinRun
	}
	if text.Hi <= text.Lo {
		return nil
	}

	var tables []Table
	runStart := -1
	runCount := 0

	flush := func() {
		if runCount >= pol.MinRun {
			tables = append(tables, Table{Offset: runStart, Count: runCount})
		}
		runStart = -1
		runCount = 0
	}

	for off := 0; off+4 <= len(data); off += 4 {
		value := int32(binary.LittleEndian.Uint32(data[off:]))
		entryVaddr := dataVaddr + uint64(off)
		target := entryVaddr + uint64(int64(value))
		if text.Contains(target) {
			if runStart < 0 {
				runStart = off
			}
			runCount++
			continue
		}
		flush()
	}
	flush()
	return tables
}
