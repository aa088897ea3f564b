package hds

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrBootstrapUnderrun is returned (and only logged, never fatal) when an
// abst box runs out of bytes partway through a required field. The spec
// treats this as "discard this bootstrap, keep going" rather than aborting
// the whole manifest.
var ErrBootstrapUnderrun = errors.New("hds: bootstrap data underrun")

// cursor is a bounds-checked big-endian reader over one abst/asrt/afrt
// box's payload. The abst format interleaves fixed-width integers with
// NUL-terminated strings in a way no general ISO-BMFF box reader models, so
// this is hand-rolled rather than built on a box-parsing library (see
// DESIGN.md).
type cursor struct {
	buf []byte
	pos int
}

func (c *cursor) remaining() int { return len(c.buf) - c.pos }

func (c *cursor) need(n int) error {
	if c.remaining() < n {
		return ErrBootstrapUnderrun
	}
	return nil
}

func (c *cursor) u8() (uint8, error) {
	if err := c.need(1); err != nil {
		return 0, err
	}
	v := c.buf[c.pos]
	c.pos++
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if err := c.need(4); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint32(c.buf[c.pos:])
	c.pos += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if err := c.need(8); err != nil {
		return 0, err
	}
	v := binary.BigEndian.Uint64(c.buf[c.pos:])
	c.pos += 8
	return v, nil
}

func (c *cursor) skip(n int) error {
	if err := c.need(n); err != nil {
		return err
	}
	c.pos += n
	return nil
}

// cstring reads a NUL-terminated string, consuming the trailing NUL.
func (c *cursor) cstring() (string, error) {
	idx := -1
	for i := c.pos; i < len(c.buf); i++ {
		if c.buf[i] == 0 {
			idx = i
			break
		}
	}
	if idx == -1 {
		return "", ErrBootstrapUnderrun
	}
	s := string(c.buf[c.pos:idx])
	c.pos = idx + 1
	return s, nil
}

func (c *cursor) bytes4() (string, error) {
	if err := c.need(4); err != nil {
		return "", err
	}
	s := string(c.buf[c.pos : c.pos+4])
	c.pos += 4
	return s, nil
}

// ParseBootstrap decodes a single abst box's payload (the bytes starting at
// the box's size field, matching parse_BootstrapData in the original
// filter) into a Bootstrap. It tolerates a minimum 29-byte header plus
// variable trailing sections, and returns an error rather than panicking on
// any structural problem (ErrBootstrapUnderrun when the data runs out) —
// callers log and discard the bootstrap, per spec.
func ParseBootstrap(data []byte) (Bootstrap, error) {
	var b Bootstrap
	c := &cursor{buf: data}

	boxLen, err := c.u32()
	if err != nil {
		return b, err
	}
	if int(boxLen) > len(data) || len(data) < 29 {
		return b, ErrBootstrapUnderrun
	}

	tag, err := c.bytes4()
	if err != nil {
		return b, err
	}
	if tag != "abst" {
		return b, fmt.Errorf("hds: expected abst tag, got %q", tag)
	}

	if err := c.skip(4); err != nil { // version + flags
		return b, err
	}
	if err := c.skip(4); err != nil { // bootstrap version
		return b, err
	}
	if err := c.skip(1); err != nil { // profile/live/update flags (handled at manifest level)
		return b, err
	}

	if b.Timescale, err = c.u32(); err != nil {
		return b, err
	}
	if b.LiveCurrentTime, err = c.u64(); err != nil {
		return b, err
	}
	if err := c.skip(8); err != nil { // SMPTE time code offset
		return b, err
	}

	if b.MovieID, err = c.cstring(); err != nil {
		return b, err
	}

	if c.remaining() < 4 {
		return b, ErrBootstrapUnderrun
	}
	serverCount, err := c.u8()
	if err != nil {
		return b, err
	}
	for ; serverCount > 0; serverCount-- {
		entry, err := c.cstring()
		if err != nil {
			return b, err
		}
		if len(b.ServerEntries) < MaxServerEntries {
			b.ServerEntries = append(b.ServerEntries, entry)
		}
	}

	if c.remaining() < 3 {
		return b, ErrBootstrapUnderrun
	}
	qualityCount, err := c.u8()
	if err != nil {
		return b, err
	}
	if qualityCount > 1 {
		return b, fmt.Errorf("hds: multiple quality levels in bootstrap not supported")
	}
	for ; qualityCount > 0; qualityCount-- {
		s, err := c.cstring()
		if err != nil {
			return b, err
		}
		// Deviation from the original source (documented in DESIGN.md): the
		// single quality entry string is always captured, rather than
		// gated behind the source's unreachable guard.
		b.QualitySegmentModifier = s
		b.HasQualityModifier = true
	}

	if c.remaining() < 2 {
		return b, ErrBootstrapUnderrun
	}
	if _, err := c.cstring(); err != nil { // DrmData, unused
		return b, err
	}

	if c.remaining() < 2 {
		return b, ErrBootstrapUnderrun
	}
	if _, err := c.cstring(); err != nil { // metadata, unused
		return b, err
	}

	asrtCount, err := c.u8()
	if err != nil {
		return b, err
	}
	for ; asrtCount > 0 && c.remaining() > 0; asrtCount-- {
		if err := parseAsrt(c, &b); err != nil {
			return b, err
		}
	}

	afrtCount, err := c.u8()
	if err != nil {
		return b, err
	}
	for ; afrtCount > 0 && c.remaining() > 0; afrtCount-- {
		if err := parseAfrt(c, &b); err != nil {
			return b, err
		}
	}

	return b, nil
}

// parseAsrt decodes one asrt sub-box, appending its segment runs to b when
// the quality modifier matches (or there is none to match).
func parseAsrt(c *cursor, b *Bootstrap) error {
	asrtLen, err := c.u32()
	if err != nil {
		return err
	}
	if int(asrtLen) > c.remaining()+4 || c.remaining() < 10 {
		return ErrBootstrapUnderrun
	}

	tag, err := c.bytes4()
	if err != nil {
		return err
	}
	if tag != "asrt" {
		return fmt.Errorf("hds: expected asrt tag, got %q", tag)
	}

	if err := c.skip(4); err != nil { // version + flags
		return err
	}

	qualityFound := !b.HasQualityModifier
	qualityEntryCount, err := c.u8()
	if err != nil {
		return err
	}
	for ; qualityEntryCount > 0; qualityEntryCount-- {
		entry, err := c.cstring()
		if err != nil {
			return err
		}
		if !qualityFound && matchesQuality(entry, b.QualitySegmentModifier) {
			qualityFound = true
		}
	}

	if c.remaining() < 4 {
		return ErrBootstrapUnderrun
	}
	runCount, err := c.u32()
	if err != nil {
		return err
	}
	if c.remaining() < 8*int(runCount) {
		return ErrBootstrapUnderrun
	}
	if len(b.SegmentRuns)+int(runCount) > MaxSegmentRuns {
		return fmt.Errorf("hds: too many segment runs")
	}

	for ; runCount > 0; runCount-- {
		first, err := c.u32()
		if err != nil {
			return err
		}
		perSeg, err := c.u32()
		if err != nil {
			return err
		}
		if qualityFound {
			b.SegmentRuns = append(b.SegmentRuns, SegmentRun{FirstSegment: first, FragmentsPerSegment: perSeg})
		}
	}

	return nil
}

// parseAfrt decodes one afrt sub-box, appending its fragment runs to b when
// the quality modifier matches (or there is none to match).
func parseAfrt(c *cursor, b *Bootstrap) error {
	afrtLen, err := c.u32()
	if err != nil {
		return err
	}
	if int(afrtLen) > c.remaining()+4 || c.remaining() < 5 {
		return ErrBootstrapUnderrun
	}

	tag, err := c.bytes4()
	if err != nil {
		return err
	}
	if tag != "afrt" {
		return fmt.Errorf("hds: expected afrt tag, got %q", tag)
	}

	if err := c.skip(4); err != nil { // version + flags
		return err
	}

	if c.remaining() < 9 {
		return ErrBootstrapUnderrun
	}
	afrtTimescale, err := c.u32()
	if err != nil {
		return err
	}
	b.AfrtTimescale = afrtTimescale

	qualityFound := !b.HasQualityModifier
	qualityEntryCount, err := c.u8()
	if err != nil {
		return err
	}
	for ; qualityEntryCount > 0; qualityEntryCount-- {
		entry, err := c.cstring()
		if err != nil {
			return err
		}
		if !qualityFound && matchesQuality(entry, b.QualitySegmentModifier) {
			qualityFound = true
		}
	}

	if c.remaining() < 5 {
		return ErrBootstrapUnderrun
	}
	runCount, err := c.u32()
	if err != nil {
		return err
	}

	for ; runCount > 0; runCount-- {
		if c.remaining() < 16 {
			return ErrBootstrapUnderrun
		}
		if len(b.FragmentRuns) >= MaxFragmentRuns {
			return fmt.Errorf("hds: too many fragment runs")
		}

		start, err := c.u32()
		if err != nil {
			return err
		}
		ts, err := c.u64()
		if err != nil {
			return err
		}
		dur, err := c.u32()
		if err != nil {
			return err
		}

		run := FragmentRun{FragmentNumberStart: start, FragmentTimestamp: ts, FragmentDuration: dur}
		if dur == 0 {
			discont, err := c.u8()
			if err != nil {
				return err
			}
			run.Discont = discont
		}

		if qualityFound {
			b.FragmentRuns = append(b.FragmentRuns, run)
		}
	}

	return nil
}

// matchesQuality reports whether entry is a prefix match for modifier, the
// same strncmp-style comparison the original filter performs.
func matchesQuality(entry, modifier string) bool {
	if len(entry) < len(modifier) {
		return false
	}
	return entry[:len(modifier)] == modifier
}
