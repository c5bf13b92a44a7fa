package scan_test

import (
	"encoding/binary"
	"testing"

	"github.com/dargueta/fes/scan"
	"github.com/stretchr/testify/assert"
)

// makeEntries lays out 4-byte displacement entries at consecutive offsets
// such that each one targets `target` when read relative to its own vaddr.
func makeEntries(dataVaddr uint64, startOff int, targets []uint64) []byte {
	data := make([]byte, startOff+len(targets)*4)
	for i, target := range targets {
		off := startOff + i*4
		entryVaddr := dataVaddr + uint64(off)
		disp := int64(target) - int64(entryVaddr)
		binary.LittleEndian.PutUint32(data[off:], uint32(int32(disp)))
	}
	return data
}

func TestTables__SingleRun(t *testing.T) {
	text := scan.VaddrRange{Lo: 0x401000, Hi: 0x402000}
	dataVaddr := uint64(0x403000)

	data := makeEntries(dataVaddr, 8, []uint64{0x401010, 0x401020, 0x401500, 0x401ff0})
	// Pad the tail with bytes that do not qualify (zero displacement targets
	// the entry itself, far outside .text).
	data = append(data, make([]byte, 16)...)

	tables := scan.Tables(data, dataVaddr, text, scan.DefaultPolicy())
	assert.Equal(t, []scan.Table{{Offset: 8, Count: 4}}, tables)
}

func TestTables__RunBelowThresholdIgnored(t *testing.T) {
	text := scan.VaddrRange{Lo: 0x401000, Hi: 0x402000}
	dataVaddr := uint64(0x403000)

	data := makeEntries(dataVaddr, 0, []uint64{0x401010, 0x401020, 0x401030})
	data = append(data, make([]byte, 32)...)

	tables := scan.Tables(data, dataVaddr, text, scan.DefaultPolicy())
	assert.Empty(t, tables, "three entries are below the default threshold")

	tables = scan.Tables(data, dataVaddr, text, scan.Policy{MinRun: 2})
	assert.Equal(t, []scan.Table{{Offset: 0, Count: 3}}, tables, "policy must be honored")
}

func TestTables__InterruptedRuns(t *testing.T) {
	text := scan.VaddrRange{Lo: 0x401000, Hi: 0x402000}
	dataVaddr := uint64(0x403000)

	first := makeEntries(dataVaddr, 0, []uint64{0x401000, 0x401004, 0x401008, 0x40100c})
	// One non-qualifying entry, then a second qualifying run of 5.
	gapOff := len(first)
	data := append(first, make([]byte, 4)...)
	second := makeEntries(dataVaddr, gapOff+4, []uint64{
		0x401100, 0x401104, 0x401108, 0x40110c, 0x401110,
	})
	data = append(data, second[gapOff+4:]...)

	tables := scan.Tables(data, dataVaddr, text, scan.DefaultPolicy())
	assert.Equal(
		t,
		[]scan.Table{{Offset: 0, Count: 4}, {Offset: gapOff + 4, Count: 5}},
		tables,
	)
}

func TestTables__RunAtEndOfSection(t *testing.T) {
	text := scan.VaddrRange{Lo: 0x401000, Hi: 0x402000}
	dataVaddr := uint64(0x403000)

	data := makeEntries(dataVaddr, 4, []uint64{0x401010, 0x401020, 0x401030, 0x401040})
	tables := scan.Tables(data, dataVaddr, text, scan.DefaultPolicy())
	assert.Equal(t, []scan.Table{{Offset: 4, Count: 4}}, tables, "final run must be flushed")
	assert.Equal(t, 20, tables[0].End())
}

func TestTables__EmptyTextRange(t *testing.T) {
	data := makeEntries(0x403000, 0, []uint64{0x401000, 0x401004, 0x401008, 0x40100c})
	tables := scan.Tables(data, 0x403000, scan.VaddrRange{}, scan.DefaultPolicy())
	assert.Empty(t, tables)
}
