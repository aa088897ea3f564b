package hds

import (
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"hdsfilterd/internal/logger"
)

// MaxBootstrapInfos and MaxMedia cap the manifest's bootstrapInfo and media
// element counts, matching the abst server-entry-style "excess is warned
// and dropped" (bootstrapInfo) vs "excess is fatal" (media) policies.
const (
	MaxBootstrapInfos = 10
	MaxMedia          = 10
	maxElementDepth   = 256
)

// ErrManifestTooDeep is returned when the XML nests past maxElementDepth.
var ErrManifestTooDeep = fmt.Errorf("hds: manifest nests more than %d elements deep", maxElementDepth)

// ErrTooManyMedia is returned when a manifest declares more than MaxMedia
// <media> elements; unlike bootstrapInfo overflow, this is fatal.
var ErrTooManyMedia = fmt.Errorf("hds: manifest declares more than %d media elements", MaxMedia)

type bootstrapInfoEntry struct {
	ID      string
	URL     string
	Profile string
	Data    []byte
}

type mediaEntry struct {
	StreamID        string
	URL             string
	BootstrapInfoID string
}

// Manifest is the parsed, but not yet cross-linked, content of one HDS
// manifest document.
type Manifest struct {
	ID              string
	DurationSeconds uint64
	Live            bool

	BootstrapInfos []bootstrapInfoEntry
	Media          []mediaEntry
}

// ParseManifest pull-parses an HDS manifest document. It tolerates unknown
// elements (ignored) and recovers from a malformed bootstrapInfo body by
// dropping just that entry; only structural XML errors, an over-deep
// element stack, or more than MaxMedia media elements are fatal, per the
// manifest-parse-error tier of the error taxonomy.
func ParseManifest(r io.Reader, log logger.Logger) (*Manifest, error) {
	if log == nil {
		log = logger.Discard()
	}

	dec := xml.NewDecoder(r)
	m := &Manifest{}

	var stack []string
	var textBuf strings.Builder
	var currentBootstrap *bootstrapInfoEntry

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("hds: manifest XML decode: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) >= maxElementDepth {
				return nil, ErrManifestTooDeep
			}
			stack = append(stack, t.Name.Local)
			textBuf.Reset()

			switch t.Name.Local {
			case "bootstrapInfo":
				if len(m.BootstrapInfos) >= MaxBootstrapInfos {
					log.Warnf("hds: dropping bootstrapInfo beyond cap of %d", MaxBootstrapInfos)
					currentBootstrap = nil
					continue
				}
				entry := bootstrapInfoEntry{}
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "id":
						entry.ID = a.Value
					case "url":
						entry.URL = a.Value
					case "profile":
						entry.Profile = a.Value
					}
				}
				m.BootstrapInfos = append(m.BootstrapInfos, entry)
				currentBootstrap = &m.BootstrapInfos[len(m.BootstrapInfos)-1]
			case "media":
				if len(m.Media) >= MaxMedia {
					return nil, ErrTooManyMedia
				}
				entry := mediaEntry{}
				for _, a := range t.Attr {
					switch a.Name.Local {
					case "streamId":
						entry.StreamID = a.Value
					case "url":
						entry.URL = a.Value
					case "bootstrapInfoId":
						entry.BootstrapInfoID = a.Value
					}
				}
				m.Media = append(m.Media, entry)
			}

		case xml.CharData:
			textBuf.Write(t)

		case xml.EndElement:
			name := t.Name.Local
			text := textBuf.String()
			textBuf.Reset()

			parent := ""
			if len(stack) >= 2 {
				parent = stack[len(stack)-2]
			}

			switch {
			case name == "bootstrapInfo" && currentBootstrap != nil:
				decoded, err := decodeBootstrapBody(text)
				if err != nil {
					log.Warnf("hds: dropping malformed bootstrapInfo %q: %v", currentBootstrap.ID, err)
					m.BootstrapInfos = m.BootstrapInfos[:len(m.BootstrapInfos)-1]
				} else {
					currentBootstrap.Data = decoded
				}
				currentBootstrap = nil
			case name == "duration" && parent == "manifest":
				m.DurationSeconds = parseDurationSeconds(text)
			case name == "id" && parent == "manifest":
				m.ID = strings.TrimSpace(text)
			}

			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	m.Live = m.DurationSeconds == 0
	return m, nil
}

func decodeBootstrapBody(text string) ([]byte, error) {
	trimmed := strings.Join(strings.Fields(text), "")
	if trimmed == "" {
		return nil, fmt.Errorf("empty bootstrapInfo body")
	}
	data, err := base64.StdEncoding.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return data, nil
}

func parseDurationSeconds(text string) uint64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || f < 0 || math.IsNaN(f) {
		return 0
	}
	return uint64(math.Floor(f))
}

// BuildStreams cross-links media and bootstrapInfo entries by id (a media
// with no bootstrapInfoId matches a bootstrapInfo with no id, and vice
// versa) into ready-to-use Streams. VOD streams are bootstrap-parsed and
// pre-seeded up to leadtime immediately; live streams only record
// abstURL, deferring bootstrap fetch to the live worker.
func BuildStreams(m *Manifest, baseAbstURL func(bootstrapInfoEntry) string, leadtime time.Duration, log logger.Logger) ([]*Stream, error) {
	if log == nil {
		log = logger.Discard()
	}

	var streams []*Stream
	for _, media := range m.Media {
		bi, ok := findBootstrapInfo(m.BootstrapInfos, media.BootstrapInfoID)
		if !ok {
			log.Warnf("hds: media %q references unknown bootstrapInfo %q", media.StreamID, media.BootstrapInfoID)
			continue
		}

		s := NewStream()
		s.URL = media.URL
		s.DownloadLeadtime = leadtime
		s.vodDurationSeconds = m.DurationSeconds

		if !m.Live {
			b, err := ParseBootstrap(bi.Data)
			if err != nil {
				log.Warnf("hds: discarding bootstrap for media %q: %v", media.StreamID, err)
				continue
			}
			s.Bootstrap = b
			seedVODQueue(s, m.DurationSeconds, leadtime)
		} else {
			s.AbstURL = baseAbstURL(bi)
		}

		streams = append(streams, s)
	}
	return streams, nil
}

func findBootstrapInfo(infos []bootstrapInfoEntry, id string) (bootstrapInfoEntry, bool) {
	for _, bi := range infos {
		if bi.ID == id {
			return bi, true
		}
	}
	if id == "" {
		for _, bi := range infos {
			if bi.ID == "" {
				return bi, true
			}
		}
	}
	return bootstrapInfoEntry{}, false
}

// seedVODQueue appends chunks to s's queue until the lead-time horizon (in
// timescale-independent wall-clock seconds, measured against chunk
// timestamps converted to seconds) is reached, or EOF.
func seedVODQueue(s *Stream, durationSeconds uint64, leadtime time.Duration) {
	leadSeconds := uint64(leadtime.Seconds())
	var prev *Chunk
	for {
		c, err := GenerateNextChunk(s, prev, false, durationSeconds)
		if err != nil {
			return
		}
		appendChunk(s, c)
		prev = c
		if c.EOF {
			return
		}
		if s.AfrtTimescale > 0 && c.Timestamp/uint64(s.AfrtTimescale) >= leadSeconds {
			return
		}
	}
}

// appendChunk links c onto the tail of s's chunk queue under the queue
// lock, initializing chunksHead/chunksDownloadPos if this is the first
// chunk.
func appendChunk(s *Stream, c *Chunk) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()

	if s.chunksHead == nil {
		s.chunksHead = c
		s.chunksTail = c
	} else {
		s.chunksTail.Next = c
		s.chunksTail = c
	}
	if s.chunksDownloadPos == nil {
		s.chunksDownloadPos = c
	}
	s.queueCond.Signal()
}
