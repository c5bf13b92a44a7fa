package normalize

// DWARF pointer-encoding bytes, as used by .eh_frame_hdr. Only the two
// sdata4 table encodings compilers actually emit are transformed; anything
// else leaves the section untouched.
const (
	encOmit          = 0xff
	encPcrelSdata4   = 0x1b // 0x10 (pcrel) | sdata4
	encDatarelSdata4 = 0x3b // 0x30 (datarel) | sdata4
)

// encFieldSize gives the storage size of a DW_EH_PE-encoded field, or -1 for
// variable-length (LEB128) and unknown encodings we refuse to skip over.
func encFieldSize(enc byte) int {
	if enc == encOmit {
		return 0
	}
	switch enc & 0x0f {
	case 0x00: // absptr
		return 8
	case 0x02, 0x0a: // udata2 / sdata2
		return 2
	case 0x03, 0x0b: // udata4 / sdata4
		return 4
	case 0x04, 0x0c: // udata8 / sdata8
		return 8
	}
	return -1
}

// frameIndexTable locates the binary search table inside an .eh_frame_hdr
// body and returns its starting offset and whether the layout is one this
// package transforms. The decision reads only the version byte, the three
// encoding bytes, and the section length; none of those are ever rewritten,
// so the forward and inverse passes always make the same call.
func frameIndexTable(hdr []byte) (tableOff int, pcrel bool, ok bool) {
	if len(hdr) < 4 || hdr[0] != 1 {
		return 0, false, false
	}
	tableEnc := hdr[3]
	if tableEnc != encPcrelSdata4 && tableEnc != encDatarelSdata4 {
		return 0, false, false
	}
	ptrSize := encFieldSize(hdr[1])
	countSize := encFieldSize(hdr[2])
	if ptrSize < 0 || countSize < 0 {
		return 0, false, false
	}
	tableOff = 4 + ptrSize + countSize
	if tableOff > len(hdr) {
		return 0, false, false
	}
	return tableOff, tableEnc == encPcrelSdata4, true
}

// ApplyFrameIndex normalizes the `(initial_location, address)` sdata4 pairs
// of an .eh_frame_hdr binary search table to image-base-relative absolutes.
// The pair count is derived from the remaining section length, not the
// stored fde_count, so both directions agree even on odd inputs. Returns
// false when the section layout is not one it handles (left byte-identical).
func ApplyFrameIndex(hdr []byte, hdrVaddr, imageBase uint64) bool {
	return frameIndexPairs(hdr, hdrVaddr, imageBase, true)
}

// InvertFrameIndex restores the original relative pair values.
func InvertFrameIndex(hdr []byte, hdrVaddr, imageBase uint64) bool {
	return frameIndexPairs(hdr, hdrVaddr, imageBase, false)
}

func frameIndexPairs(hdr []byte, hdrVaddr, imageBase uint64, forward bool) bool {
	tableOff, pcrel, ok := frameIndexTable(hdr)
	if !ok {
		return false
	}

	for off := tableOff; off+8 <= len(hdr); off += 8 {
		rewriteFrameField(hdr, off, hdrVaddr, imageBase, pcrel, forward)
		rewriteFrameField(hdr, off+4, hdrVaddr, imageBase, pcrel, forward)
	}
	return true
}

// rewriteFrameField converts one sdata4 field between its relative encoding
// (against the section base for datarel, against the field's own address for
// pcrel) and the image-base-relative absolute form. Wrapping 32-bit
// arithmetic keeps the rewrite bijective even for values that were never
// real addresses.
func rewriteFrameField(hdr []byte, off int, hdrVaddr, imageBase uint64, pcrel, forward bool) {
	base := hdrVaddr
	if pcrel {
		base = hdrVaddr + uint64(off)
	}

	if forward {
		value := int32(le.Uint32(hdr[off:]))
		target := base + uint64(int64(value))
		le.PutUint32(hdr[off:], uint32(target-imageBase))
	} else {
		absolute := le.Uint32(hdr[off:])
		le.PutUint32(hdr[off:], uint32(imageBase+uint64(absolute)-base))
	}
}
