package hds

import (
	"io"
	"time"
)

// FLVHeader is the fixed 13-byte prefix emitted exactly once at the start
// of every synthesized output stream.
var FLVHeader = []byte{0x46, 0x4C, 0x56, 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}

// ControlInfo answers the host's capability query.
type ControlInfo struct {
	CanSeek        bool
	CanFastSeek    bool
	CanPause       bool
	CanControlPace bool
	PTSDelay       time.Duration
}

// StreamFilter is the host-facing façade over one Stream: it prepends the
// FLV header, then drains mdat bytes chunk by chunk, opportunistically
// extending the VOD queue as it reads.
type StreamFilter struct {
	stream   *Stream
	pipeline *Pipeline
	live     bool

	networkCaching time.Duration

	headerPos int
	readHead  *Chunk
}

// NewStreamFilter wires a façade around an already-seeded Stream and its
// Pipeline.
func NewStreamFilter(s *Stream, p *Pipeline, live bool, networkCaching time.Duration) *StreamFilter {
	return &StreamFilter{stream: s, pipeline: p, live: live, networkCaching: networkCaching, readHead: s.chunksHead}
}

// Read drains the FLV header, then mdat bytes, into buf. A Read that finds
// the current chunk without data yet returns (0, nil): the host is
// expected to retry, per §4.7's short-read note.
func (f *StreamFilter) Read(buf []byte) (int, error) {
	n := 0

	for n < len(buf) && f.headerPos < len(FLVHeader) {
		buf[n] = FLVHeader[f.headerPos]
		n++
		f.headerPos++
	}
	if n == len(buf) {
		return n, nil
	}

	if !f.live {
		f.extendVODQueue()
	}

	for n < len(buf) {
		chunk := f.currentChunk()
		if chunk == nil {
			if f.isEOF() {
				return n, io.EOF
			}
			return n, nil
		}
		if chunk.Data == nil {
			if chunk.Failed {
				f.advanceReadHead()
				continue
			}
			return n, nil
		}

		avail := chunk.MdatData[chunk.MdatPos:]
		if len(avail) == 0 {
			f.advanceReadHead()
			continue
		}

		copied := copy(buf[n:], avail)
		chunk.MdatPos += copied
		n += copied

		if chunk.Drained() {
			if chunk.EOF {
				f.advanceReadHead()
				return n, io.EOF
			}
			f.advanceReadHead()
		}
	}

	return n, nil
}

func (f *StreamFilter) currentChunk() *Chunk {
	f.stream.queueMu.Lock()
	defer f.stream.queueMu.Unlock()
	return f.readHead
}

func (f *StreamFilter) advanceReadHead() {
	f.stream.queueMu.Lock()
	if f.readHead != nil {
		f.readHead = f.readHead.Next
		if f.live {
			f.stream.chunksLiveReadPos = f.readHead
		}
	}
	f.stream.queueMu.Unlock()
}

func (f *StreamFilter) isEOF() bool {
	f.stream.queueMu.Lock()
	defer f.stream.queueMu.Unlock()
	return f.stream.chunksTail != nil && f.stream.chunksTail.EOF && f.readHead == nil
}

// extendVODQueue appends chunks via Timeline until the lead-time horizon
// ahead of the current read position is reached; it never fetches.
func (f *StreamFilter) extendVODQueue() {
	f.stream.WithBootstrapRLock(func() {
		f.stream.queueMu.Lock()
		defer f.stream.queueMu.Unlock()

		if f.stream.chunksTail == nil || f.stream.chunksTail.EOF {
			return
		}

		leadSeconds := uint64(f.stream.DownloadLeadtime.Seconds())
		added := false
		for !f.stream.chunksTail.EOF {
			if f.stream.AfrtTimescale > 0 {
				readTS := uint64(0)
				if f.readHead != nil {
					readTS = f.readHead.Timestamp
				}
				horizon := readTS/uint64(f.stream.AfrtTimescale) + leadSeconds
				if f.stream.chunksTail.Timestamp/uint64(f.stream.AfrtTimescale) >= horizon {
					break
				}
			}
			c, err := GenerateNextChunk(f.stream, f.stream.chunksTail, false, vodDurationSecondsFromEOFHint(f.stream))
			if err != nil {
				break
			}
			f.stream.chunksTail.Next = c
			f.stream.chunksTail = c
			if f.stream.chunksDownloadPos == nil {
				f.stream.chunksDownloadPos = c
			}
			added = true
		}
		if added {
			f.stream.queueCond.Signal()
		}
	})
}

// vodDurationSecondsFromEOFHint recovers the VOD total duration the
// pipeline was constructed with, so opportunistic appends during Read
// apply the same EOF rule the initial seeding pass used.
func vodDurationSecondsFromEOFHint(s *Stream) uint64 {
	return s.vodDurationSeconds
}

// Peek returns up to n bytes without advancing any read cursor: either
// from the unsent FLV header, or from the current chunk's unread mdat
// window. It never spans across chunks.
func (f *StreamFilter) Peek(n int) ([]byte, error) {
	if f.headerPos < len(FLVHeader) {
		end := f.headerPos + n
		if end > len(FLVHeader) {
			end = len(FLVHeader)
		}
		return FLVHeader[f.headerPos:end], nil
	}

	chunk := f.currentChunk()
	if chunk == nil || chunk.Data == nil {
		return nil, nil
	}
	avail := chunk.MdatData[chunk.MdatPos:]
	if n > len(avail) {
		n = len(avail)
	}
	return avail[:n], nil
}

// Control reports this filter's fixed capability set.
func (f *StreamFilter) Control() ControlInfo {
	return ControlInfo{
		CanSeek:        false,
		CanFastSeek:    false,
		CanPause:       false,
		CanControlPace: true,
		PTSDelay:       f.networkCaching,
	}
}
