package hds

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"hdsfilterd/internal/bmff"
	"hdsfilterd/internal/cache"
	"hdsfilterd/internal/logger"
)

// Fetcher is the external HTTP-fetch collaborator the pipeline depends on;
// *http.Client satisfies it directly.
type Fetcher interface {
	Get(url string) (*http.Response, error)
}

// Pipeline owns the download worker and, in live mode, the live worker for
// one Stream. BaseURL backs the server_entries[0]-absent fallback and the
// abst_url-is-relative case.
type Pipeline struct {
	Stream *Stream
	Fetch  Fetcher
	Log    logger.Logger

	// SourceName keys this pipeline's entries in Frags; it is the
	// configured source name, not anything derived from the manifest.
	SourceName string
	// Frags records the most recently published fragment per source, per
	// §6.3; nil disables the recording (e.g. in tests that don't care).
	Frags *cache.FragmentCache

	BaseURL string
	Live    bool
	// DurationSeconds is the VOD total duration; unused in live mode.
	DurationSeconds uint64

	closed atomic.Bool
}

// NewPipeline wires a Pipeline around an already-constructed Stream.
func NewPipeline(s *Stream, fetch Fetcher, baseURL string, live bool, durationSeconds uint64, sourceName string, frags *cache.FragmentCache, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{Stream: s, Fetch: fetch, Log: log, BaseURL: baseURL, Live: live, DurationSeconds: durationSeconds, SourceName: sourceName, Frags: frags}
}

// Close signals both workers to stop at their next suspension point.
func (p *Pipeline) Close() {
	p.closed.Store(true)
	p.Stream.queueMu.Lock()
	p.Stream.queueCond.Broadcast()
	p.Stream.queueMu.Unlock()
}

func (p *Pipeline) isClosed() bool { return p.closed.Load() }

// RunDownloadWorker drains undownloaded chunks until the pipeline is
// closed, blocking on the queue condition variable when there is nothing
// to fetch. Intended to run on its own goroutine (see
// SessionManager.openSession).
func (p *Pipeline) RunDownloadWorker(ctx context.Context) error {
	for !p.isClosed() {
		p.Stream.queueMu.Lock()
		if p.Stream.chunksDownloadPos == nil {
			p.Stream.chunksDownloadPos = p.Stream.chunksHead
			for p.Stream.chunksDownloadPos != nil && p.Stream.chunksDownloadPos.Data != nil {
				p.Stream.chunksDownloadPos = p.Stream.chunksDownloadPos.Next
			}
		}
		chunk := p.Stream.chunksDownloadPos
		p.Stream.queueMu.Unlock()

		// A failed fetch does not advance chunksDownloadPos: the same
		// chunk is retried immediately on the next inner iteration,
		// matching the original filter's download loop.
		for chunk != nil && !p.isClosed() {
			p.downloadChunk(ctx, chunk)

			if chunk.Failed {
				continue
			}

			p.Stream.queueMu.Lock()
			p.Stream.chunksDownloadPos = chunk.Next
			p.Stream.chunkCount++
			chunk = p.Stream.chunksDownloadPos
			p.Stream.queueMu.Unlock()
		}

		if !p.isClosed() {
			p.waitForWork()
		}
	}
	return nil
}

func (p *Pipeline) waitForWork() {
	p.Stream.queueMu.Lock()
	if !p.isClosed() {
		p.Stream.queueCond.Wait()
	}
	p.Stream.queueMu.Unlock()
}

// downloadChunk fetches one fragment, locates its mdat payload, and
// publishes chunk.Data. Publication (storing Data) happens strictly before
// the caller advances chunksDownloadPos, matching the §4.5.d ordering rule.
func (p *Pipeline) downloadChunk(ctx context.Context, chunk *Chunk) {
	url := p.fragmentURL(chunk)

	resp, err := p.Fetch.Get(url)
	if err != nil {
		p.Log.Warnf("hds: fragment fetch %s failed: %v", url, err)
		chunk.Failed = true
		return
	}
	defer resp.Body.Close()

	body, err := readCapped(resp.Body, MaxFragmentSize)
	if err != nil {
		p.Log.Warnf("hds: fragment fetch %s: %v", url, err)
		chunk.Failed = true
		return
	}
	if resp.ContentLength > 0 && int64(len(body)) < resp.ContentLength {
		p.Log.Warnf("hds: short read on %s: got %d want %d", url, len(body), resp.ContentLength)
		chunk.Failed = true
		return
	}

	mdat, parsedLen, err := bmff.FindMdat(body)
	if err != nil {
		// Defensive fallback, per §7.1: treat everything past the last
		// successfully-walked box as payload, rather than drop a fragment
		// we already paid to download or re-emit already-parsed box
		// headers as if they were FLV tag data.
		mdat = body[parsedLen:]
	}

	chunk.Data = body
	chunk.MdatData = mdat
	chunk.MdatPos = 0
	chunk.Failed = false

	if p.Frags != nil {
		p.Frags.Set(p.SourceName, cache.Entry{
			Source:    p.SourceName,
			SegNum:    chunk.SegNum,
			FragNum:   chunk.FragNum,
			Timestamp: chunk.Timestamp,
			Size:      len(body),
			FetchedAt: time.Now(),
		})
	}
}

// readCapped reads all of r, failing once more than limit bytes have been
// seen rather than buffering an unbounded fragment.
func readCapped(r io.Reader, limit int64) ([]byte, error) {
	lr := &io.LimitedReader{R: r, N: limit + 1}
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("fragment exceeds %d byte cap", limit)
	}
	return data, nil
}

// fragmentURL builds the fetch URL per §4.5 step 2a / §6's grammar:
// {server}/{movie_id}{quality}Seg{seg}-Frag{frag}, with a fully-qualified
// stream URL overriding the server+movie-id base entirely.
func (p *Pipeline) fragmentURL(chunk *Chunk) string {
	base := p.BaseURL
	p.Stream.WithBootstrapRLock(func() {
		if len(p.Stream.ServerEntries) > 0 {
			base = p.Stream.ServerEntries[0]
		}
	})

	var pathPrefix string
	if isFullyQualified(p.Stream.URL) {
		base = p.Stream.URL
	} else {
		pathPrefix = p.Stream.URL
	}

	quality := ""
	p.Stream.WithBootstrapRLock(func() {
		if p.Stream.HasQualityModifier {
			quality = p.Stream.QualitySegmentModifier
		}
	})

	base = strings.TrimSuffix(base, "/")
	return fmt.Sprintf("%s/%s%sSeg%d-Frag%d", base, pathPrefix, quality, chunk.SegNum, chunk.FragNum)
}

func isFullyQualified(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

// RunLiveWorker periodically refetches the abst bootstrap and extends the
// chunk queue, per §4.6. Intended to run on its own goroutine in live
// mode only.
func (p *Pipeline) RunLiveWorker(ctx context.Context) error {
	if !p.Live {
		return nil
	}
	abstURL := p.Stream.AbstURL
	if !isFullyQualified(abstURL) {
		abstURL = strings.TrimSuffix(p.BaseURL, "/") + "/" + strings.TrimPrefix(abstURL, "/")
	}

	for !p.isClosed() {
		start := time.Now()

		resp, err := p.Fetch.Get(abstURL)
		if err != nil {
			p.Log.Warnf("hds: live bootstrap refresh %s failed: %v", abstURL, err)
		} else {
			body, readErr := readCapped(resp.Body, MaxFragmentSize)
			resp.Body.Close()
			if readErr != nil {
				p.Log.Warnf("hds: live bootstrap refresh %s: %v", abstURL, readErr)
			} else if b, parseErr := ParseBootstrap(body); parseErr != nil {
				p.Log.Warnf("hds: live bootstrap %s: %v", abstURL, parseErr)
			} else {
				p.Stream.ReplaceBootstrap(b, func() {
					p.maintainLiveChunks()
				})
			}
		}

		sleep := p.liveRefreshInterval()
		elapsed := time.Since(start)
		if sleep > elapsed {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sleep - elapsed):
			}
		}
		if p.isClosed() {
			return nil
		}
	}
	return nil
}

// maintainLiveChunks must be called with the bootstrap write lock already
// held (ReplaceBootstrap guarantees this), so chunksTail's view of
// fragment_runs[last] is stable for the whole pass.
func (p *Pipeline) maintainLiveChunks() {
	p.Stream.queueMu.Lock()
	added := false

	if p.Stream.chunksHead == nil {
		c, err := GenerateNextChunk(p.Stream, nil, true, 0)
		if err == nil {
			p.Stream.chunksHead = c
			p.Stream.chunksTail = c
			p.Stream.chunksLiveReadPos = c
			p.Stream.chunksDownloadPos = c
			added = true
		}
	}

	for p.Stream.chunksTail != nil && p.tailBelowLiveWatermark() {
		c, err := GenerateNextChunk(p.Stream, p.Stream.chunksTail, true, 0)
		if err != nil {
			break
		}
		p.Stream.chunksTail.Next = c
		p.Stream.chunksTail = c
		if p.Stream.chunksDownloadPos == nil {
			p.Stream.chunksDownloadPos = c
		}
		added = true
	}

	p.freeDrainedPrefix()

	if added {
		p.Stream.queueCond.Broadcast()
	}
	p.Stream.queueMu.Unlock()
}

func (p *Pipeline) tailBelowLiveWatermark() bool {
	t := p.Stream.chunksTail
	return t.Timestamp*uint64(p.Stream.Timescale)/uint64(p.Stream.AfrtTimescale) <= p.Stream.LiveCurrentTime
}

// freeDrainedPrefix advances chunksHead past any chunk that is both fully
// downloaded-and-read and already behind chunksLiveReadPos, matching the
// §3 invariant that live-mode frees only what the reader can no longer
// need.
func (p *Pipeline) freeDrainedPrefix() {
	for p.Stream.chunksHead != nil &&
		p.Stream.chunksHead != p.Stream.chunksLiveReadPos &&
		p.Stream.chunksHead.Data != nil &&
		p.Stream.chunksHead.Drained() &&
		p.Stream.chunksHead.Next != nil {
		p.Stream.chunksHead = p.Stream.chunksHead.Next
	}
}

// liveRefreshInterval tracks the current fragment duration, per §4.6 step
// 3: sleep until start + last_fragment.duration*1e6/afrt_timescale µs.
func (p *Pipeline) liveRefreshInterval() time.Duration {
	var micros uint64
	p.Stream.WithBootstrapRLock(func() {
		if n := len(p.Stream.FragmentRuns); n > 0 && p.Stream.AfrtTimescale > 0 {
			last := p.Stream.FragmentRuns[n-1]
			micros = uint64(last.FragmentDuration) * 1_000_000 / uint64(p.Stream.AfrtTimescale)
		}
	})
	if micros == 0 {
		micros = uint64(time.Second.Microseconds())
	}
	return time.Duration(micros) * time.Microsecond
}
