package hds

import (
	"errors"
	"fmt"
)

// ErrTimelineGap is returned when the fragment-run search runs off the end
// of the table without a match, or a trailing discontinuity marker has no
// following run. Per spec this is fatal to the Stream, not just the chunk.
var ErrTimelineGap = errors.New("hds: timeline gap in fragment-run table")

// GenerateNextChunk produces the Chunk that follows prev (or the first
// chunk of the stream if prev is nil) from s's current bootstrap tables.
// The caller is responsible for holding the bootstrap lock appropriately:
// WithBootstrapRLock for ordinary VOD/download-path calls, or relying on
// the write lock already held across ReplaceBootstrap for the live
// worker's own refresh cycle. GenerateNextChunk never takes a lock itself.
func GenerateNextChunk(s *Stream, prev *Chunk, live bool, durationSeconds uint64) (*Chunk, error) {
	if len(s.FragmentRuns) == 0 {
		return nil, ErrTimelineGap
	}

	var timestamp uint64
	var fragNum uint32
	var startEntry int

	if prev != nil {
		timestamp = prev.Timestamp + prev.Duration
		fragNum = prev.FragNum + 1
		if !live {
			startEntry = prev.FrunEntry
		}
	} else if live {
		timestamp = s.LiveCurrentTime * uint64(s.AfrtTimescale) / uint64(s.Timescale)
		fragNum = 0
	} else {
		first := s.FragmentRuns[0]
		timestamp = first.FragmentTimestamp
		fragNum = first.FragmentNumberStart
	}

	chunk := &Chunk{Timestamp: timestamp, FragNum: fragNum}

	matched := false
	for i := startEntry; i < len(s.FragmentRuns); i++ {
		run := s.FragmentRuns[i]
		last := i == len(s.FragmentRuns)-1

		if run.FragmentDuration == 0 {
			// Discontinuity marker: adopt the following run wholesale.
			if last {
				return nil, ErrTimelineGap
			}
			next := s.FragmentRuns[i+1]
			chunk.FragNum = next.FragmentNumberStart
			chunk.Timestamp = next.FragmentTimestamp
			chunk.Duration = uint64(next.FragmentDuration)
			chunk.FrunEntry = i + 1
			matched = true
			break
		}

		if fragNum == 0 {
			// Implicit number: timestamp falls within this run's span.
			inSpan := last || timestamp < s.FragmentRuns[i+1].FragmentTimestamp
			if !inSpan {
				continue
			}
			chunk.FragNum = run.FragmentNumberStart + uint32((timestamp-run.FragmentTimestamp)/uint64(run.FragmentDuration))
			chunk.Duration = uint64(run.FragmentDuration)
			chunk.FrunEntry = i
			matched = true
			break
		}

		// Explicit number match.
		if run.FragmentNumberStart <= fragNum && (last || s.FragmentRuns[i+1].FragmentNumberStart > fragNum) {
			chunk.FragNum = fragNum
			chunk.Duration = uint64(run.FragmentDuration)
			chunk.Timestamp = run.FragmentTimestamp + chunk.Duration*uint64(fragNum-run.FragmentNumberStart)
			chunk.FrunEntry = i
			matched = true
			break
		}
	}

	if !matched {
		return nil, ErrTimelineGap
	}

	seg, err := computeSegNum(s.SegmentRuns, chunk.FragNum)
	if err != nil {
		return nil, err
	}
	chunk.SegNum = seg

	if !live && durationSeconds > 0 {
		if (chunk.Timestamp+chunk.Duration)/uint64(s.AfrtTimescale) >= durationSeconds {
			chunk.EOF = true
		}
	}

	return chunk, nil
}

// computeSegNum implements the §3 closed-form: scan segment_runs with an
// accumulator seeded at fragNum and advanced between runs by each run's
// span, stopping at the last run or once the next run's first_segment
// would exceed the segment computed so far.
func computeSegNum(runs []SegmentRun, fragNum uint32) (uint32, error) {
	if len(runs) == 0 {
		return 0, fmt.Errorf("hds: no segment runs to compute seg_num from")
	}

	fragmentsAccum := fragNum
	for i, run := range runs {
		last := i == len(runs)-1
		segNum := run.FirstSegment + (fragNum-fragmentsAccum)/run.FragmentsPerSegment
		if last || runs[i+1].FirstSegment > segNum {
			return segNum, nil
		}
		fragmentsAccum += (runs[i+1].FirstSegment - run.FirstSegment) * run.FragmentsPerSegment
	}
	return 0, fmt.Errorf("hds: segment run table exhausted without a match")
}
