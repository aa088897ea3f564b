package hds

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vodStreamWithChunks(t *testing.T, mdats [][]byte) *Stream {
	t.Helper()
	s := NewStream()
	s.Timescale = 1000
	s.AfrtTimescale = 1000

	var prev *Chunk
	for i, m := range mdats {
		c := &Chunk{SegNum: 1, FragNum: uint32(i + 1), Timestamp: uint64(i * 1000), Duration: 1000}
		c.Data = m
		c.MdatData = m
		if i == len(mdats)-1 {
			c.EOF = true
		}
		if prev == nil {
			s.chunksHead = c
		} else {
			prev.Next = c
		}
		s.chunksTail = c
		prev = c
	}
	return s
}

func TestStreamFilter_FLVPrefix(t *testing.T) {
	s := vodStreamWithChunks(t, [][]byte{[]byte("a")})
	f := NewStreamFilter(s, &Pipeline{Stream: s}, false, 0)

	buf := make([]byte, 13)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 13, n)
	assert.Equal(t, FLVHeader, buf)
}

func TestStreamFilter_ReadEqualsSumOfMdats(t *testing.T) {
	mdats := [][]byte{[]byte("first-"), []byte("second-"), []byte("third")}
	s := vodStreamWithChunks(t, mdats)
	f := NewStreamFilter(s, &Pipeline{Stream: s}, false, 0)

	var out bytes.Buffer
	buf := make([]byte, 4)
	for {
		n, err := f.Read(buf)
		out.Write(buf[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if n == 0 {
			break
		}
	}

	want := append([]byte{}, FLVHeader...)
	for _, m := range mdats {
		want = append(want, m...)
	}
	assert.Equal(t, want, out.Bytes())
}

func TestStreamFilter_PeekIsIdempotent(t *testing.T) {
	s := vodStreamWithChunks(t, [][]byte{[]byte("hello-world")})
	f := NewStreamFilter(s, &Pipeline{Stream: s}, false, 0)

	// Drain the header first so Peek inspects the chunk body.
	hdr := make([]byte, len(FLVHeader))
	_, err := f.Read(hdr)
	require.NoError(t, err)

	first, err := f.Peek(5)
	require.NoError(t, err)
	second, err := f.Peek(5)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, []byte("hello"), first)

	// Peek must not have advanced the read cursor.
	buf := make([]byte, 11)
	n, err := f.Read(buf)
	require.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("hello-world"), buf[:n])
}

func TestStreamFilter_Control(t *testing.T) {
	s := vodStreamWithChunks(t, [][]byte{[]byte("x")})
	f := NewStreamFilter(s, &Pipeline{Stream: s}, false, 0)

	ctrl := f.Control()
	assert.False(t, ctrl.CanSeek)
	assert.False(t, ctrl.CanFastSeek)
	assert.False(t, ctrl.CanPause)
	assert.True(t, ctrl.CanControlPace)
}

func TestStreamFilter_ShortReadOnUndownloadedChunkReturnsZero(t *testing.T) {
	s := NewStream()
	s.chunksHead = &Chunk{SegNum: 1, FragNum: 1}
	s.chunksTail = s.chunksHead
	f := NewStreamFilter(s, &Pipeline{Stream: s}, false, 0)

	hdr := make([]byte, len(FLVHeader))
	_, err := f.Read(hdr)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := f.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
