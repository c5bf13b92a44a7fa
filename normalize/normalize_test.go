package normalize_test

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"testing"

	"github.com/dargueta/fes/normalize"
	"github.com/dargueta/fes/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var le = binary.LittleEndian

// A call at file offset 0x1000 whose displacement lands at file offset
// 0x2000, in an image based at 0x400000 with text mapped at the base: the
// stored absolute must be plain 0x2000 and the inverse must reproduce the
// original displacement bytes exactly.
func TestBranches__CallSiteScenario(t *testing.T) {
	const imageBase = 0x400000
	text := make([]byte, 0x3000)

	disp := int32(0x2000 - (0x1000 + 5))
	text[0x1000] = scan.OpCall
	le.PutUint32(text[0x1001:], uint32(disp))

	sites := scan.Branches(text)
	require.Contains(t, sites, scan.Site{Offset: 0x1000, Opcode: scan.OpCall})

	normalize.ApplyBranches(text, imageBase, imageBase, sites)
	assert.Equal(
		t, uint32(0x2000), le.Uint32(text[0x1001:]),
		"stored value must be the image-base-relative target",
	)

	// The rewritten buffer must scan identically before the inverse runs.
	assert.Equal(t, sites, scan.Branches(text), "scan symmetry broken by rewrite")

	normalize.InvertBranches(text, imageBase, imageBase, sites)
	assert.Equal(t, uint32(disp), le.Uint32(text[0x1001:]), "displacement not restored")
}

func TestBranches__BackwardBranch(t *testing.T) {
	const textVaddr = 0x401000
	const imageBase = 0x400000
	text := make([]byte, 64)

	// Jump backward from offset 32 to offset 4.
	disp := int32(4 - (32 + 5))
	text[32] = scan.OpJmp
	le.PutUint32(text[33:], uint32(disp))

	sites := scan.Branches(text)
	normalize.ApplyBranches(text, textVaddr, imageBase, sites)

	wantAbs := uint32(textVaddr + 4 - imageBase)
	assert.Equal(t, wantAbs, le.Uint32(text[33:]))

	normalize.InvertBranches(text, textVaddr, imageBase, sites)
	assert.Equal(t, uint32(disp), le.Uint32(text[33:]))
}

// Round trip over random bytes: whatever the heuristic matched, invert must
// restore the exact input. This is the property that makes false positives
// harmless.
func TestBranches__RoundTripRandom(t *testing.T) {
	text := make([]byte, 8192)
	rand.Read(text)
	original := append([]byte(nil), text...)

	sites := scan.Branches(text)
	normalize.ApplyBranches(text, 0x55550000, 0x55540000, sites)

	recovered := scan.Branches(text)
	require.Equal(t, sites, recovered, "scan must be stable across normalization")

	normalize.InvertBranches(text, 0x55550000, 0x55540000, recovered)
	assert.True(t, bytes.Equal(original, text), "round trip must be byte exact")
}

func TestJumpTables__RoundTrip(t *testing.T) {
	const dataVaddr = 0x403000
	const imageBase = 0x400000
	text := scan.VaddrRange{Lo: 0x401000, Hi: 0x402000}

	data := make([]byte, 64)
	targets := []uint64{0x401010, 0x401020, 0x401100, 0x401ff0}
	for i, target := range targets {
		off := 16 + i*4
		entryVaddr := uint64(dataVaddr + off)
		le.PutUint32(data[off:], uint32(int32(int64(target)-int64(entryVaddr))))
	}
	original := append([]byte(nil), data...)

	tables := scan.Tables(data, dataVaddr, text, scan.DefaultPolicy())
	require.Equal(t, []scan.Table{{Offset: 16, Count: 4}}, tables)

	normalize.ApplyJumpTables(data, dataVaddr, imageBase, tables)
	for i, target := range targets {
		off := 16 + i*4
		assert.Equal(
			t, uint32(target-imageBase), le.Uint32(data[off:]),
			"entry %d must store the absolute target", i,
		)
	}

	normalize.InvertJumpTables(data, dataVaddr, imageBase, tables)
	assert.Equal(t, original, data)
}

func TestJumpTables__TruncatedRunListStopsAtBuffer(t *testing.T) {
	data := make([]byte, 10)
	rand.Read(data)
	original := append([]byte(nil), data...)

	// A bogus run extending past the buffer must only touch complete
	// entries and never panic.
	tables := []scan.Table{{Offset: 4, Count: 16}}
	normalize.ApplyJumpTables(data, 0x1000, 0x400, tables)
	normalize.InvertJumpTables(data, 0x1000, 0x400, tables)
	assert.Equal(t, original, data)
}
