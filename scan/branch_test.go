package scan_test

import (
	"crypto/rand"
	"testing"

	"github.com/dargueta/fes/scan"
	"github.com/stretchr/testify/assert"
)

type branchScanTestCase struct {
	Input    []byte
	Expected []scan.Site
	Name     string
}

func TestBranches__Basic(t *testing.T) {
	tests := []branchScanTestCase{
		{[]byte{}, nil, "empty"},
		{[]byte{0x90, 0x90, 0x90}, nil, "no opcodes"},
		{
			[]byte{0xE8, 1, 2, 3, 4},
			[]scan.Site{{Offset: 0, Opcode: 0xE8}},
			"single call",
		},
		{
			[]byte{0x90, 0xE9, 1, 2, 3, 4, 0x90},
			[]scan.Site{{Offset: 1, Opcode: 0xE9}},
			"single jmp",
		},
		{
			// The 0xE8 inside the first site's displacement must not match.
			[]byte{0xE8, 0xE8, 0xE8, 0xE8, 0xE8, 0x90},
			[]scan.Site{{Offset: 0, Opcode: 0xE8}},
			"opcode bytes inside displacement are skipped",
		},
		{
			[]byte{0xE8, 1, 2, 3, 4, 0xE9, 5, 6, 7, 8},
			[]scan.Site{{Offset: 0, Opcode: 0xE8}, {Offset: 5, Opcode: 0xE9}},
			"back to back sites",
		},
		{
			// A match with fewer than 4 displacement bytes left is dropped.
			[]byte{0x90, 0xE8, 1, 2, 3},
			nil,
			"match too close to the end",
		},
		{
			[]byte{0xE8, 1, 2, 3, 4, 0xE8, 1, 2, 3},
			[]scan.Site{{Offset: 0, Opcode: 0xE8}},
			"trailing truncated match dropped",
		},
	}

	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			assert.Equal(t, test.Expected, scan.Branches(test.Input))
		})
	}
}

// The correctness of address normalization rests on the scan finding the
// same sites before and after the displacement bytes are rewritten. Rewrite
// every displacement with random garbage and verify the site list is
// unchanged.
func TestBranches__StableUnderDisplacementRewrite(t *testing.T) {
	text := make([]byte, 4096)
	rand.Read(text)

	before := scan.Branches(text)
	assert.NotEmpty(t, before, "random 4K of bytes should contain some matches")

	garbage := make([]byte, 4)
	for _, site := range before {
		rand.Read(garbage)
		copy(text[site.DispOffset():], garbage)
	}

	after := scan.Branches(text)
	assert.Equal(t, before, after, "site list must not move when displacements change")
}

func TestDispOffsets(t *testing.T) {
	sites := []scan.Site{{Offset: 0, Opcode: 0xE8}, {Offset: 9, Opcode: 0xE9}}
	assert.Equal(t, []int{101, 110}, scan.DispOffsets(sites, 100))
	assert.Nil(t, scan.DispOffsets(nil, 100))
}
