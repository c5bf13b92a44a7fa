package container_test

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/container"
	"github.com/noxer/bytewriter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	data := make([]byte, n)
	_, err := rand.Read(data)
	require.NoError(t, err)
	return data
}

func TestWriteParse__RoundTrip(t *testing.T) {
	records := []container.Record{
		{ID: container.StreamHeader, Flags: 0, Data: randomBytes(t, 31)},
		{ID: container.StreamCode, Flags: container.FlagZstd, Data: randomBytes(t, 1024)},
		{ID: container.StreamRela, Flags: container.FlagBigEndian, Data: randomBytes(t, 96)},
		{ID: container.StreamJumpTable, Flags: container.FlagBigEndian | container.FlagZstd, Data: randomBytes(t, 7)},
	}

	// The framed size is exactly the magic plus six bytes of framing per
	// record, so a fixed-capacity sink doubles as a size check.
	total := len(container.Magic)
	for _, rec := range records {
		total += 6 + len(rec.Data)
	}
	sink := make([]byte, total)
	writer := bytewriter.New(sink)
	require.NoError(t, container.Write(writer, records))

	parsed, err := container.Parse(sink)
	require.NoError(t, err)
	require.Len(t, parsed, len(records))
	for i, rec := range parsed {
		assert.Equal(t, records[i].ID, rec.ID)
		assert.Equal(t, records[i].Flags, rec.Flags)
		assert.Equal(t, records[i].Data, rec.Data)
	}
}

func TestWriteParse__HeaderOnly(t *testing.T) {
	records := []container.Record{
		{ID: container.StreamHeader, Data: []byte{0x01, 0x02}},
	}

	var buf bytes.Buffer
	require.NoError(t, container.Write(&buf, records))

	parsed, err := container.Parse(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, container.StreamHeader, parsed[0].ID)
}

func TestWrite__Violations(t *testing.T) {
	cases := []struct {
		Name    string
		Records []container.Record
	}{
		{"empty", nil},
		{
			"missing_header",
			[]container.Record{{ID: container.StreamCode, Data: []byte{1}}},
		},
		{
			"duplicate_id",
			[]container.Record{
				{ID: container.StreamHeader, Data: []byte{1}},
				{ID: container.StreamCode, Data: []byte{2}},
				{ID: container.StreamCode, Data: []byte{3}},
			},
		},
		{
			"descending_order",
			[]container.Record{
				{ID: container.StreamHeader, Data: []byte{1}},
				{ID: container.StreamRela, Data: []byte{2}},
				{ID: container.StreamCode, Data: []byte{3}},
			},
		},
		{
			"unknown_id",
			[]container.Record{
				{ID: container.StreamHeader, Data: []byte{1}},
				{ID: container.StreamID(40), Data: []byte{2}},
			},
		},
		{
			"reserved_flags",
			[]container.Record{
				{ID: container.StreamHeader, Data: []byte{1}},
				{ID: container.StreamCode, Flags: 0x80, Data: []byte{2}},
			},
		},
	}

	for _, testCase := range cases {
		t.Run(testCase.Name, func(t *testing.T) {
			var buf bytes.Buffer
			err := container.Write(&buf, testCase.Records)
			require.Error(t, err)
			assert.ErrorIs(t, err, container.ErrFormat)
		})
	}
}

func TestParse__Violations(t *testing.T) {
	goodHeader := []byte{0x00, 0x00, 0x02, 0x00, 0x00, 0x00, 0xaa, 0xbb}

	frame := func(parts ...[]byte) []byte {
		out := []byte(container.Magic)
		for _, part := range parts {
			out = append(out, part...)
		}
		return out
	}

	cases := []struct {
		Name string
		Data []byte
	}{
		{"empty", nil},
		{"bad_magic", []byte("FSE1xxxx")},
		{"magic_only", []byte(container.Magic)},
		{"truncated_record_header", frame([]byte{0x00, 0x00, 0x01})},
		{"truncated_body", frame([]byte{0x00, 0x00, 0xff, 0x00, 0x00, 0x00, 0x01})},
		{"no_header_record", frame([]byte{0x01, 0x00, 0x01, 0x00, 0x00, 0x00, 0xcc})},
		{"reserved_flags", frame([]byte{0x00, 0x04, 0x01, 0x00, 0x00, 0x00, 0xcc})},
		{"unknown_id", frame(goodHeader, []byte{0x63, 0x00, 0x00, 0x00, 0x00, 0x00})},
		{
			"duplicate_id",
			frame(
				goodHeader,
				[]byte{0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0xcc},
				[]byte{0x02, 0x00, 0x01, 0x00, 0x00, 0x00, 0xdd},
			),
		},
		{"trailing_garbage", frame(goodHeader, []byte{0xff, 0xee})},
	}

	for _, testCase := range cases {
		t.Run(testCase.Name, func(t *testing.T) {
			_, err := container.Parse(testCase.Data)
			require.Error(t, err)
			assert.ErrorIs(t, err, container.ErrFormat)
		})
	}
}

func TestFlags__Accessors(t *testing.T) {
	assert.False(t, container.Flags(0).BigEndian())
	assert.True(t, container.FlagBigEndian.BigEndian())
	assert.Equal(t, coder.LZMA, container.Flags(0).Coder())
	assert.Equal(t, coder.Zstd, container.FlagZstd.Coder())
	assert.Equal(t, coder.Zstd, (container.FlagZstd | container.FlagBigEndian).Coder())
}

func TestStreamID__Metadata(t *testing.T) {
	assert.Equal(t, 16, container.StreamCount)

	for i := 0; i < container.StreamCount; i++ {
		id := container.StreamID(i)
		require.True(t, id.Valid())
		assert.NotEmpty(t, id.String())
		assert.Greater(t, id.Stride(), 0)

		// Swap windows must stay inside one record and must not overlap.
		lastEnd := 0
		for _, field := range id.SwapFields() {
			assert.GreaterOrEqual(t, field.Off, lastEnd, "%s window out of order", id)
			assert.LessOrEqual(t, field.Off+field.Size, id.Stride(), "%s window leaves the record", id)
			lastEnd = field.Off + field.Size
		}

		cfg := id.CoderConfig()
		assert.True(t, cfg.Raw, "%s must use raw framing", id)
		if id.Stride() > 1 {
			assert.Zero(t, cfg.LiteralContextBits, "%s is numeric", id)
		}
	}

	assert.False(t, container.StreamID(16).Valid())
	assert.Equal(t, "stream-99", container.StreamID(99).String())
}
