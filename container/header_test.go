package container_test

import (
	"encoding/binary"
	"testing"

	"github.com/dargueta/fes/container"
	"github.com/dargueta/fes/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// wellFormedIndex builds an index whose run table covers OrigLen exactly,
// which is what UnmarshalBinary insists on.
func wellFormedIndex() container.Index {
	return container.Index{
		OrigLen:   0x5000,
		ImageBase: 0x400000,
		Segments: []container.LoadSegment{
			{Vaddr: 0x400000, Offset: 0, Filesz: 0x3000},
			{Vaddr: 0x404000, Offset: 0x3000, Filesz: 0x2000},
		},
		Runs: []container.Run{
			{Category: container.StreamOther, Length: 0x1000},
			{Category: container.StreamCode, Length: 0x2000},
			{Category: container.StreamJumpTable, Length: 0x40},
			{Category: container.StreamStrings, Length: 0xfc0},
			{Category: container.StreamRela, Length: 0x1000},
		},
		BranchCount: 137,
		Tables: []container.TableCount{
			{Category: container.StreamRela, Records: 170},
			{Category: container.StreamSym, Records: 12},
		},
		JumpTables: []scan.Table{
			{Offset: 0x3000, Count: 8},
			{Offset: 0x3100, Count: 8},
		},
	}
}

func TestIndex__RoundTrip(t *testing.T) {
	original := wellFormedIndex()

	payload, err := original.MarshalBinary()
	require.NoError(t, err)

	var decoded container.Index
	require.NoError(t, decoded.UnmarshalBinary(payload))
	assert.Equal(t, original, decoded)
}

func TestIndex__RoundTripMinimal(t *testing.T) {
	original := container.Index{
		OrigLen: 64,
		Runs:    []container.Run{{Category: container.StreamOther, Length: 64}},
	}

	payload, err := original.MarshalBinary()
	require.NoError(t, err)

	var decoded container.Index
	require.NoError(t, decoded.UnmarshalBinary(payload))
	assert.Equal(t, original, decoded)
}

func TestIndexMarshal__Violations(t *testing.T) {
	headerRun := wellFormedIndex()
	headerRun.Runs[0].Category = container.StreamHeader

	emptyRun := wellFormedIndex()
	emptyRun.Runs[1].Length = 0

	unsortedTables := wellFormedIndex()
	unsortedTables.JumpTables = []scan.Table{
		{Offset: 0x3100, Count: 8},
		{Offset: 0x3000, Count: 8},
	}

	cases := []struct {
		Name  string
		Index container.Index
	}{
		{"run_claims_header_stream", headerRun},
		{"empty_run", emptyRun},
		{"jump_tables_out_of_order", unsortedTables},
	}

	for _, testCase := range cases {
		t.Run(testCase.Name, func(t *testing.T) {
			_, err := testCase.Index.MarshalBinary()
			assert.Error(t, err)
		})
	}
}

func TestIndexUnmarshal__Violations(t *testing.T) {
	good, err := wellFormedIndex().MarshalBinary()
	require.NoError(t, err)

	runShortfall := wellFormedIndex()
	runShortfall.OrigLen++
	shortfallPayload, err := runShortfall.MarshalBinary()
	require.NoError(t, err)

	pastEnd := wellFormedIndex()
	pastEnd.JumpTables = append(pastEnd.JumpTables, scan.Table{Offset: 0x4ff0, Count: 100})
	pastEndPayload, err := pastEnd.MarshalBinary()
	require.NoError(t, err)

	emptyTable := wellFormedIndex()
	emptyTable.JumpTables = append(emptyTable.JumpTables, scan.Table{Offset: 0x3200, Count: 0})
	emptyTablePayload, err := emptyTable.MarshalBinary()
	require.NoError(t, err)

	// A segment count far beyond what the remaining bytes could hold.
	hugeCount := binary.AppendUvarint(nil, 0x5000)
	hugeCount = binary.AppendUvarint(hugeCount, 0x400000)
	hugeCount = binary.AppendUvarint(hugeCount, 1<<40)

	cases := []struct {
		Name string
		Data []byte
	}{
		{"empty", nil},
		{"truncated", good[:len(good)-1]},
		{"truncated_mid_field", good[:3]},
		{"trailing_bytes", append(append([]byte{}, good...), 0x00)},
		{"runs_do_not_cover_image", shortfallPayload},
		{"jump_table_past_end", pastEndPayload},
		{"jump_table_no_entries", emptyTablePayload},
		{"absurd_segment_count", hugeCount},
	}

	for _, testCase := range cases {
		t.Run(testCase.Name, func(t *testing.T) {
			var decoded container.Index
			err := decoded.UnmarshalBinary(testCase.Data)
			require.Error(t, err)
			assert.ErrorIs(t, err, container.ErrFormat)
		})
	}
}
