package shuffle

// Field describes one multi-byte field within a record, as an offset from
// the record start and a size in bytes. Byte-swapping a stream means
// reversing every field of every complete record; single-byte gaps between
// fields are never touched.
type Field struct {
	Off  int
	Size int
}

// reverse flips a byte window in place. Applying it twice is a no-op, which
// is what makes the whole swap stage self-inverse.
func reverse(window []byte) {
	for lo, hi := 0, len(window)-1; lo < hi; lo, hi = lo+1, hi-1 {
		window[lo], window[hi] = window[hi], window[lo]
	}
}

// SwapFields byte-reverses every field of every complete record in `data`.
// A trailing partial record is left alone. The function is its own inverse.
func SwapFields(data []byte, stride int, fields []Field) {
	if stride < 1 || len(fields) == 0 {
		return
	}
	count := len(data) / stride
	for i := 0; i < count; i++ {
		base := i * stride
		for _, field := range fields {
			reverse(data[base+field.Off : base+field.Off+field.Size])
		}
	}
}

// SwapAt byte-reverses a fixed-size window at each of the given offsets.
// Offsets whose window would run past the end of the buffer are skipped.
// Like [SwapFields], applying it twice restores the input.
func SwapAt(data []byte, offsets []int, size int) {
	for _, off := range offsets {
		if off < 0 || off+size > len(data) {
			continue
		}
		reverse(data[off : off+size])
	}
}

// ChooseOrder decides whether the stream's fields should be stored
// little-endian (as-is) or byte-reversed. The score for each layout is the
// number of zero bytes landing in the leading half of each field; reversing
// a field moves its trailing bytes to the front, so the big-endian score can
// be read off the trailing halves without materializing the swap. Reversed
// order wins only on a strictly greater score; ties keep the native layout.
// The decision is a pure function of the bytes, so compress and decompress
// never need to agree on anything beyond the recorded bit.
func ChooseOrder(data []byte, stride int, fields []Field) bool {
	if stride < 1 || len(fields) == 0 {
		return false
	}

	var leadingZeros, trailingZeros int
	count := len(data) / stride
	for i := 0; i < count; i++ {
		base := i * stride
		for _, field := range fields {
			leadingZeros += countZeros(data[base+field.Off : base+field.Off+field.Size/2])
			trailingZeros += countZeros(data[base+field.Off+field.Size-field.Size/2 : base+field.Off+field.Size])
		}
	}
	return trailingZeros > leadingZeros
}

// ChooseOrderAt is [ChooseOrder] for windows at explicit offsets, used for
// the rewritten displacement fields inside the code stream.
func ChooseOrderAt(data []byte, offsets []int, size int) bool {
	var leadingZeros, trailingZeros int
	for _, off := range offsets {
		if off < 0 || off+size > len(data) {
			continue
		}
		leadingZeros += countZeros(data[off : off+size/2])
		trailingZeros += countZeros(data[off+size-size/2 : off+size])
	}
	return trailingZeros > leadingZeros
}

func countZeros(window []byte) int {
	total := 0
	for _, b := range window {
		if b == 0 {
			total++
		}
	}
	return total
}
