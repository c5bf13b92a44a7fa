// Package container turns a transformed image into category streams and
// frames the compressed streams as a .fes file.
//
// The splitter assigns every file byte to exactly one stream category and
// records the assignment as a run table; joining the streams back through
// the same run table reproduces the file bit for bit. The .fes layout is a
// four-byte magic followed by one record per present stream, ascending by
// stream id with the header stream first. Absent streams get no record at
// all, so an image without some section costs zero container bytes for it.
package container

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/dargueta/fes/coder"
)

// Magic opens every .fes file.
const Magic = "FES1"

// recordHeaderSize covers the id byte, the flag byte, and the u32 length.
const recordHeaderSize = 6

// ErrFormat marks any structural violation of the container layout:
// missing magic, unknown or out-of-order stream ids, reserved flag bits,
// truncated bodies, or a header index that contradicts itself.
var ErrFormat = errors.New("malformed container")

// ErrTooLarge marks a compressed stream that cannot fit the u32 length
// field of its record.
var ErrTooLarge = errors.New("stream too large for container")

// Flags is the per-record flag byte.
type Flags uint8

const (
	// FlagBigEndian records that the stream's swap windows were stored
	// byte-reversed and must be reversed again after decompression.
	FlagBigEndian Flags = 1 << 0
	// FlagZstd records that the stream was compressed with zstd rather
	// than LZMA.
	FlagZstd Flags = 1 << 1

	knownFlags = FlagBigEndian | FlagZstd
)

// BigEndian reports whether the stream's swap windows were byte-reversed.
func (flags Flags) BigEndian() bool {
	return flags&FlagBigEndian != 0
}

// Coder returns the backend that compressed the stream.
func (flags Flags) Coder() coder.Kind {
	if flags&FlagZstd != 0 {
		return coder.Zstd
	}
	return coder.LZMA
}

// Record is one framed stream.
type Record struct {
	ID    StreamID
	Flags Flags
	Data  []byte
}

// Write frames records into w. Callers must pass records in ascending id
// order with the header stream first; Write enforces the same rules Parse
// does, so a buggy encoder cannot produce an archive the reader would then
// reject.
func Write(w io.Writer, records []Record) error {
	if len(records) == 0 || records[0].ID != StreamHeader {
		return fmt.Errorf("%w: the header record must come first", ErrFormat)
	}
	if _, err := io.WriteString(w, Magic); err != nil {
		return err
	}

	last := -1
	for i := range records {
		rec := &records[i]
		if err := checkRecord(rec.ID, rec.Flags, last); err != nil {
			return err
		}
		last = int(rec.ID)

		if uint64(len(rec.Data)) > math.MaxUint32 {
			return fmt.Errorf("%w: %s compressed to %d bytes", ErrTooLarge, rec.ID, len(rec.Data))
		}

		var head [recordHeaderSize]byte
		head[0] = byte(rec.ID)
		head[1] = byte(rec.Flags)
		binary.LittleEndian.PutUint32(head[2:], uint32(len(rec.Data)))
		if _, err := w.Write(head[:]); err != nil {
			return err
		}
		if _, err := w.Write(rec.Data); err != nil {
			return err
		}
	}
	return nil
}

// Parse splits a .fes file into its records. Record data aliases the input
// buffer; nothing is copied. Trailing bytes after the last record, like
// every other framing violation, are [ErrFormat].
func Parse(data []byte) ([]Record, error) {
	if len(data) < len(Magic) || string(data[:len(Magic)]) != Magic {
		return nil, fmt.Errorf("%w: missing %q magic", ErrFormat, Magic)
	}

	var records []Record
	pos := len(Magic)
	last := -1
	for pos < len(data) {
		if len(data)-pos < recordHeaderSize {
			return nil, fmt.Errorf("%w: truncated record at byte %d", ErrFormat, pos)
		}
		id := StreamID(data[pos])
		flags := Flags(data[pos+1])
		length := int(binary.LittleEndian.Uint32(data[pos+2:]))
		pos += recordHeaderSize

		if err := checkRecord(id, flags, last); err != nil {
			return nil, err
		}
		last = int(id)

		if length > len(data)-pos {
			return nil, fmt.Errorf(
				"%w: %s record wants %d bytes, %d remain", ErrFormat, id, length, len(data)-pos,
			)
		}
		records = append(records, Record{ID: id, Flags: flags, Data: data[pos : pos+length]})
		pos += length
	}

	if len(records) == 0 || records[0].ID != StreamHeader {
		return nil, fmt.Errorf("%w: the header record must come first", ErrFormat)
	}
	return records, nil
}

// checkRecord holds the framing rules shared by Write and Parse: known id,
// strictly ascending order, no reserved flag bits.
func checkRecord(id StreamID, flags Flags, last int) error {
	if !id.Valid() {
		return fmt.Errorf("%w: unknown stream id %d", ErrFormat, uint8(id))
	}
	if int(id) <= last {
		return fmt.Errorf("%w: %s record out of order", ErrFormat, id)
	}
	if flags&^knownFlags != 0 {
		return fmt.Errorf("%w: reserved flag bits %#02x on the %s record", ErrFormat, uint8(flags), id)
	}
	return nil
}
