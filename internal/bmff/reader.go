// Package bmff implements just enough of ISO-BMFF-style box parsing to
// locate the mdat payload inside a downloaded HDS fragment.
package bmff

import (
	"errors"

	"github.com/Eyevinn/mp4ff/bits"
)

// ErrTruncatedBox is returned when a box header, or its declared size, would
// run past the end of the buffer.
var ErrTruncatedBox = errors.New("bmff: truncated box")

// ErrNoMdat is returned when no mdat box was found before the buffer ended.
var ErrNoMdat = errors.New("bmff: no mdat box found")

const mdatType = "mdat"

// FindMdat walks the top-level boxes in buf and returns a slice pointing at
// the mdat payload (the bytes after the box header, up to the box's end).
// A box with the ISO-BMFF size-0 convention extends to the end of the
// buffer, which in practice is how live-origin mdat boxes are delivered
// when their final size isn't known ahead of time.
//
// If no mdat box can be located before the buffer runs out, FindMdat
// returns ErrNoMdat alongside parsedLen, the offset up to which boxes were
// successfully walked; callers fall back to treating buf[parsedLen:] as
// payload rather than dropping the fragment or re-emitting already-parsed
// box headers (see the pipeline's download worker).
func FindMdat(buf []byte) (mdat []byte, parsedLen int, err error) {
	pos := 0
	for pos+8 <= len(buf) {
		r := bits.NewFixedSliceReader(buf[pos:])
		size := uint64(r.ReadUint32())
		boxType := string(r.ReadBytes(4))
		headerLen := 8

		if size == 1 {
			if len(buf[pos:]) < 16 {
				return nil, pos, ErrTruncatedBox
			}
			size = r.ReadUint64()
			headerLen = 16
		}
		if r.AccError() != nil {
			return nil, pos, ErrTruncatedBox
		}

		payloadStart := pos + headerLen

		var boxEnd int
		if size == 0 {
			// Extends to the end of the buffer: the common case for a
			// streamed, size-unknown-ahead-of-time mdat.
			boxEnd = len(buf)
		} else {
			boxEnd = pos + int(size)
			if boxEnd > len(buf) || boxEnd < payloadStart {
				return nil, pos, ErrTruncatedBox
			}
		}

		if boxType == mdatType {
			return buf[payloadStart:boxEnd], boxEnd, nil
		}

		if boxEnd <= pos {
			return nil, pos, ErrTruncatedBox
		}
		pos = boxEnd
	}
	if pos < len(buf) {
		// Fewer than 8 bytes remain: not a clean end-of-boxes, but a box
		// header cut short.
		return nil, pos, ErrTruncatedBox
	}
	return nil, pos, ErrNoMdat
}
