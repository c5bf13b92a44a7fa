// Package shuffle implements the byte-order gate and byte-plane transpose
// stage. Streams built from fixed-width records arrive here with their
// delta-coded fields biased toward zero high-order bytes; this package
// decides per stream whether reversing those fields (big-endian layout)
// groups the zeros better, then transposes record-major bytes into
// plane-major order so each byte plane becomes one long, highly compressible
// run.
package shuffle

// Shuffle reorders `data` from record-major to plane-major byte order using
// the given record stride: the output is all byte 0s of every record, then
// all byte 1s, and so on. A tail shorter than one record is appended
// unchanged. Strides below 2 leave the data as-is (there is only one plane).
func Shuffle(data []byte, stride int) []byte {
	if stride < 2 || len(data) < stride {
		return data
	}

	count := len(data) / stride
	out := make([]byte, len(data))
	for i := 0; i < count; i++ {
		for j := 0; j < stride; j++ {
			out[j*count+i] = data[i*stride+j]
		}
	}
	copy(out[count*stride:], data[count*stride:])
	return out
}

// Unshuffle is the inverse of [Shuffle] for the same stride.
func Unshuffle(data []byte, stride int) []byte {
	if stride < 2 || len(data) < stride {
		return data
	}

	count := len(data) / stride
	out := make([]byte, len(data))
	for i := 0; i < count; i++ {
		for j := 0; j < stride; j++ {
			out[i*stride+j] = data[j*count+i]
		}
	}
	copy(out[count*stride:], data[count*stride:])
	return out
}
