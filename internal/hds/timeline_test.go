package hds

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateNextChunk_VODTrivial(t *testing.T) {
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000
	s.SegmentRuns = []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 4}}
	s.FragmentRuns = []FragmentRun{{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 2500}}

	var prev *Chunk
	want := []struct {
		seg, frag uint32
		ts        uint64
		eof       bool
	}{
		{1, 1, 0, false},
		{1, 2, 2500, false},
		{1, 3, 5000, false},
		{1, 4, 7500, true},
	}

	for _, w := range want {
		c, err := GenerateNextChunk(s, prev, false, 10)
		require.NoError(t, err)
		assert.Equal(t, w.seg, c.SegNum)
		assert.Equal(t, w.frag, c.FragNum)
		assert.Equal(t, w.ts, c.Timestamp)
		assert.Equal(t, w.eof, c.EOF)
		prev = c
	}
}

func TestGenerateNextChunk_Discontinuity(t *testing.T) {
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000
	s.SegmentRuns = []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 100}}
	s.FragmentRuns = []FragmentRun{
		{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 1000},
		{FragmentNumberStart: 2, FragmentTimestamp: 0, FragmentDuration: 0, Discont: 1},
		{FragmentNumberStart: 10, FragmentTimestamp: 100000, FragmentDuration: 1000},
	}

	first, err := GenerateNextChunk(s, nil, false, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), first.FragNum)
	assert.Equal(t, uint64(0), first.Timestamp)

	next, err := GenerateNextChunk(s, first, false, 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(10), next.FragNum)
	assert.Equal(t, uint64(100000), next.Timestamp)
	assert.Equal(t, uint64(1000), next.Duration)
}

func TestGenerateNextChunk_TrailingDiscontinuityIsFatal(t *testing.T) {
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000
	s.SegmentRuns = []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 100}}
	s.FragmentRuns = []FragmentRun{
		{FragmentNumberStart: 1, FragmentTimestamp: 0, FragmentDuration: 1000},
		{FragmentNumberStart: 2, FragmentTimestamp: 0, FragmentDuration: 0, Discont: 1},
	}

	first, err := GenerateNextChunk(s, nil, false, 0)
	require.NoError(t, err)

	_, err = GenerateNextChunk(s, first, false, 0)
	assert.ErrorIs(t, err, ErrTimelineGap)
}

func TestGenerateNextChunk_LiveFirstChunkFromLiveCurrentTime(t *testing.T) {
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000
	s.LiveCurrentTime = 5000
	s.SegmentRuns = []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 1000}}
	s.FragmentRuns = []FragmentRun{{FragmentNumberStart: 0, FragmentTimestamp: 0, FragmentDuration: 1000}}

	c, err := GenerateNextChunk(s, nil, true, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(5000), c.Timestamp)
}

func TestGenerateNextChunk_LiveExtension(t *testing.T) {
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000
	s.LiveCurrentTime = 5000
	s.SegmentRuns = []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 1000}}
	s.FragmentRuns = []FragmentRun{{FragmentNumberStart: 0, FragmentTimestamp: 0, FragmentDuration: 1000}}

	var prev *Chunk
	for i := 0; i < 10; i++ {
		c, err := GenerateNextChunk(s, prev, true, 0)
		require.NoError(t, err)
		prev = c
		if prev.Timestamp > s.LiveCurrentTime {
			break
		}
	}
	assert.Greater(t, prev.Timestamp, s.LiveCurrentTime)
}

// The closed-form seeds fragments_accum at frag_num itself, so the first
// run's (frag_num - fragments_accum) term is always zero: the loop only
// advances past run 0 when a later run's first_segment is not already
// greater than run 0's, which a well-formed ascending table never does.
// In practice this means computeSegNum resolves to the first run's
// first_segment for any frag_num against an ascending table — the §9
// open question this test is pinned on (see DESIGN.md).
func TestComputeSegNum_AscendingTableAlwaysResolvesFirstRun(t *testing.T) {
	runs := []SegmentRun{
		{FirstSegment: 1, FragmentsPerSegment: 4},
		{FirstSegment: 3, FragmentsPerSegment: 2},
	}

	for _, frag := range []uint32{1, 4, 5, 6, 100} {
		seg, err := computeSegNum(runs, frag)
		require.NoError(t, err)
		assert.Equal(t, uint32(1), seg)
	}
}

func TestComputeSegNum_SingleRun(t *testing.T) {
	runs := []SegmentRun{{FirstSegment: 1, FragmentsPerSegment: 4}}

	seg, err := computeSegNum(runs, 7)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seg)
}
