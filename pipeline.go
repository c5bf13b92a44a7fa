package fes

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dargueta/fes/coder"
	"github.com/dargueta/fes/container"
	"github.com/dargueta/fes/image"
	"github.com/dargueta/fes/shuffle"
)

func compress(input []byte, opts Options) ([]byte, error) {
	// All structural rewrites happen on a copy so the caller's buffer
	// survives and the verification pass has a pristine original.
	work := make([]byte, len(input))
	copy(work, input)

	img, err := image.Load(work)
	if err != nil {
		return nil, liftError(err)
	}

	index, dispOffsets, err := transformForward(img, opts)
	if err != nil {
		return nil, err
	}
	index.Runs = container.PlanRuns(img, index.JumpTables)

	// Byte-order gate for the branch displacement windows. This is the
	// only swap decided on the file buffer: the windows sit at irregular
	// offsets inside the code stream, so the per-record gate cannot reach
	// them after splitting.
	codeBigEndian := false
	if len(dispOffsets) > 0 && shuffle.ChooseOrderAt(work, dispOffsets, 4) {
		shuffle.SwapAt(work, dispOffsets, 4)
		codeBigEndian = true
	}

	streams, err := container.Split(work, index.Runs)
	if err != nil {
		return nil, err
	}
	header, err := index.MarshalBinary()
	if err != nil {
		return nil, err
	}
	streams[container.StreamHeader] = header

	records, err := encodeStreams(streams, codeBigEndian, opts)
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	if err := container.Write(&out, records); err != nil {
		return nil, liftError(err)
	}

	if !opts.SkipVerify {
		if err := verifyRoundTrip(input, out.Bytes(), opts); err != nil {
			return nil, err
		}
	}
	return out.Bytes(), nil
}

// encodeStreams runs the per-stream byte-order gate, the byte-plane
// transpose and the entropy coder over every present stream, bounded by
// opts.Workers. Each stream writes only its own slot, so the goroutines
// share nothing but the backend.
func encodeStreams(streams [][]byte, codeBigEndian bool, opts Options) ([]container.Record, error) {
	backend, err := coder.New(opts.Coder)
	if err != nil {
		return nil, err
	}

	var common container.Flags
	if opts.Coder == coder.Zstd {
		common |= container.FlagZstd
	}

	type slot struct {
		flags container.Flags
		data  []byte
	}
	slots := make([]slot, container.StreamCount)

	group := new(errgroup.Group)
	group.SetLimit(opts.Workers)
	for id := range streams {
		id := id
		raw := streams[id]
		if len(raw) == 0 {
			continue
		}
		group.Go(func() error {
			sid := container.StreamID(id)
			flags := common

			if stride := sid.Stride(); stride > 1 {
				if fields := sid.SwapFields(); shuffle.ChooseOrder(raw, stride, fields) {
					shuffle.SwapFields(raw, stride, fields)
					flags |= container.FlagBigEndian
				}
				raw = shuffle.Shuffle(raw, stride)
			}
			if sid == container.StreamCode && codeBigEndian {
				flags |= container.FlagBigEndian
			}

			packed, err := backend.Compress(raw, sid.CoderConfig())
			if err != nil {
				return fmt.Errorf("compressing %s stream: %w", sid, err)
			}
			slots[id] = slot{flags: flags, data: packed}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	records := make([]container.Record, 0, container.StreamCount)
	for id, s := range slots {
		if s.data == nil {
			continue
		}
		records = append(records, container.Record{
			ID:    container.StreamID(id),
			Flags: s.flags,
			Data:  s.data,
		})
	}
	return records, nil
}

func decompress(archive []byte, opts Options) ([]byte, error) {
	records, err := container.Parse(archive)
	if err != nil {
		return nil, liftError(err)
	}

	backends, err := backendsFor(records)
	if err != nil {
		return nil, liftError(err)
	}

	head := records[0]
	headerRaw, err := backends[head.Flags.Coder()].Decompress(head.Data, 4*len(head.Data)+64)
	if err != nil {
		return nil, ErrContainerFormat.Wrap(err)
	}
	var index container.Index
	if err := index.UnmarshalBinary(headerRaw); err != nil {
		return nil, liftError(err)
	}

	var want [container.StreamCount]int
	for _, run := range index.Runs {
		want[run.Category] += run.Length
	}

	// Every category with claimed bytes needs its stream and vice versa.
	// Catching mismatches here keeps later Join failures from masking the
	// real problem.
	var present [container.StreamCount]bool
	for _, rec := range records[1:] {
		present[rec.ID] = true
		if want[rec.ID] == 0 {
			return nil, ErrContainerFormat.WithMessage(fmt.Sprintf(
				"%s stream present but no run claims its bytes", rec.ID))
		}
	}
	for id := 1; id < container.StreamCount; id++ {
		if want[id] > 0 && !present[id] {
			return nil, ErrContainerFormat.WithMessage(fmt.Sprintf(
				"%s stream missing", container.StreamID(id)))
		}
	}

	streams := make([][]byte, container.StreamCount)
	group := new(errgroup.Group)
	group.SetLimit(opts.Workers)
	for _, rec := range records[1:] {
		rec := rec
		group.Go(func() error {
			raw, err := backends[rec.Flags.Coder()].Decompress(rec.Data, want[rec.ID])
			if err != nil {
				return ErrContainerFormat.Wrap(fmt.Errorf("%s stream: %w", rec.ID, err))
			}
			if stride := rec.ID.Stride(); stride > 1 {
				raw = shuffle.Unshuffle(raw, stride)
				if rec.Flags.BigEndian() {
					shuffle.SwapFields(raw, stride, rec.ID.SwapFields())
				}
			}
			if len(raw) != want[rec.ID] {
				return ErrContainerFormat.WithMessage(fmt.Sprintf(
					"%s stream is %d bytes, runs claim %d",
					rec.ID, len(raw), want[rec.ID]))
			}
			streams[rec.ID] = raw
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	work, err := container.Join(index.Runs, streams)
	if err != nil {
		return nil, ErrContainerFormat.Wrap(err)
	}

	img, err := image.Load(work)
	if err != nil {
		// The forward pipeline only accepts loadable images, so an
		// unloadable reconstruction means the container lied.
		return nil, ErrContainerFormat.Wrap(err)
	}
	if err := checkReconstruction(img, &index); err != nil {
		return nil, err
	}

	var codeFlags container.Flags
	for _, rec := range records {
		if rec.ID == container.StreamCode {
			codeFlags = rec.Flags
		}
	}
	if err := transformInverse(img, &index, codeFlags.BigEndian()); err != nil {
		return nil, err
	}
	return work, nil
}

// backendsFor instantiates one coder per backend kind the records use.
// EncodeAll/DecodeAll style backends are safe for concurrent use, so the
// parallel stage shares these instances.
func backendsFor(records []container.Record) (map[coder.Kind]coder.Coder, error) {
	backends := make(map[coder.Kind]coder.Coder)
	for _, rec := range records {
		kind := rec.Flags.Coder()
		if _, ok := backends[kind]; ok {
			continue
		}
		backend, err := coder.New(kind)
		if err != nil {
			return nil, err
		}
		backends[kind] = backend
	}
	return backends, nil
}

// checkReconstruction compares the reassembled image's load structure
// against the redundant copy in the index.
func checkReconstruction(img *image.Image, index *container.Index) error {
	if img.ImageBase() != index.ImageBase {
		return ErrContainerFormat.WithMessage(fmt.Sprintf(
			"image base %#x, header says %#x", img.ImageBase(), index.ImageBase))
	}
	segments := img.Segments()
	if len(segments) != len(index.Segments) {
		return ErrContainerFormat.WithMessage(fmt.Sprintf(
			"%d load segments, header says %d", len(segments), len(index.Segments)))
	}
	for i, seg := range segments {
		recorded := index.Segments[i]
		if seg.Vaddr != recorded.Vaddr || seg.Offset != recorded.Offset ||
			seg.Filesz != recorded.Filesz {
			return ErrContainerFormat.WithMessage(fmt.Sprintf(
				"load segment %d diverges from the header", i))
		}
	}
	return nil
}

func verifyRoundTrip(original, archive []byte, opts Options) error {
	restored, err := decompress(archive, opts)
	if err != nil {
		return ErrRoundTrip.Wrap(err)
	}
	if msg := firstMismatch(original, restored); msg != "" {
		return ErrRoundTrip.WithMessage(msg)
	}
	return nil
}

func firstMismatch(want, got []byte) string {
	if len(want) != len(got) {
		return fmt.Sprintf("reconstructed %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if want[i] != got[i] {
			return fmt.Sprintf("first divergence at offset %#x", i)
		}
	}
	return ""
}

// liftError maps leaf package sentinels onto the pipeline taxonomy while
// keeping the original error reachable through errors.Is.
func liftError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, image.ErrMalformed):
		return ErrMalformedImage.Wrap(err)
	case errors.Is(err, image.ErrUnsupported):
		return ErrUnsupportedArch.Wrap(err)
	case errors.Is(err, container.ErrFormat):
		return ErrContainerFormat.Wrap(err)
	case errors.Is(err, container.ErrTooLarge):
		return ErrStreamTooLarge.Wrap(err)
	}
	return err
}
