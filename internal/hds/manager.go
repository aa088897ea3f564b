package hds

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"hdsfilterd/internal/cache"
	"hdsfilterd/internal/config"
	"hdsfilterd/internal/logger"
)

// ErrSessionBusy is returned by Session.Acquire when another reader is
// already draining this session's StreamFilter. The spec's forward-only,
// no-seek model means two concurrent readers could only race over the
// same chunk cursor, so this daemon refuses the second reader outright
// rather than silently corrupting either one's stream.
var ErrSessionBusy = fmt.Errorf("hds: session already has an active reader")

// Session bundles one source's Stream, Pipeline, and StreamFilter, plus
// the goroutines driving them.
type Session struct {
	Name     string
	Filter   *StreamFilter
	stream   *Stream
	pipeline *Pipeline
	live     bool

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	active bool
}

// Live reports whether this session's manifest was a live (as opposed to
// VOD) stream.
func (s *Session) Live() bool { return s.live }

// Acquire claims exclusive read access to this session's StreamFilter,
// returning ErrSessionBusy if another caller already holds it.
func (s *Session) Acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return ErrSessionBusy
	}
	s.active = true
	return nil
}

// Release gives up read access, letting the next caller Acquire it.
func (s *Session) Release() {
	s.mu.Lock()
	s.active = false
	s.mu.Unlock()
}

// ChunkCount reports how many chunks this session's pipeline has
// published, for the diagnostic HTTP surface.
func (s *Session) ChunkCount() uint64 { return s.stream.ChunkCount() }

// SessionManager owns one Session per configured source, creating and
// wiring it lazily on first request.
type SessionManager struct {
	cfg    *config.Config
	client *http.Client
	log    logger.Logger
	frags  *cache.FragmentCache

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessionManager builds a SessionManager over cfg's sources. frags may
// be nil, in which case sessions run without the last-fragment diagnostic
// cache.
func NewSessionManager(cfg *config.Config, client *http.Client, frags *cache.FragmentCache, log logger.Logger) *SessionManager {
	if client == nil {
		client = http.DefaultClient
	}
	if log == nil {
		log = logger.Discard()
	}
	return &SessionManager{cfg: cfg, client: client, log: log, frags: frags, sessions: make(map[string]*Session)}
}

// GetOrCreateSession returns the named source's Session, fetching and
// parsing its manifest on first access. The session, once created, is
// reused for every subsequent caller (see Acquire/Release for the
// single-reader policy).
func (m *SessionManager) GetOrCreateSession(name string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[name]; ok {
		return s, nil
	}

	src, ok := m.findSource(name)
	if !ok {
		return nil, fmt.Errorf("hds: unknown source %q", name)
	}

	s, err := m.openSession(src)
	if err != nil {
		return nil, err
	}
	m.sessions[name] = s
	return s, nil
}

func (m *SessionManager) findSource(name string) (config.Source, bool) {
	for _, src := range m.cfg.Sources {
		if src.Name == name {
			return src, true
		}
	}
	return config.Source{}, false
}

func (m *SessionManager) openSession(src config.Source) (*Session, error) {
	resp, err := m.client.Get(src.ManifestURL)
	if err != nil {
		return nil, fmt.Errorf("hds: fetching manifest %s: %w", src.ManifestURL, err)
	}
	defer resp.Body.Close()

	body, err := readCapped(resp.Body, MaxFragmentSize)
	if err != nil {
		return nil, fmt.Errorf("hds: reading manifest %s: %w", src.ManifestURL, err)
	}
	if !Detect(body) {
		return nil, fmt.Errorf("hds: %s: %w", src.ManifestURL, ErrNotHDS)
	}

	manifest, err := ParseManifest(bytes.NewReader(body), m.log)
	if err != nil {
		return nil, fmt.Errorf("hds: parsing manifest %s: %w", src.ManifestURL, err)
	}

	streams, err := BuildStreams(manifest, func(bi bootstrapInfoEntry) string { return bi.URL }, src.CachingDelay+DefaultDownloadLeadtime, m.log)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		return nil, fmt.Errorf("hds: manifest %s yielded no usable media/bootstrap pairing", src.ManifestURL)
	}
	stream := streams[0]

	pipeline := NewPipeline(stream, m.client, baseURLOf(src.ManifestURL), manifest.Live, manifest.DurationSeconds, src.Name, m.frags, m.log)
	filter := NewStreamFilter(stream, pipeline, manifest.Live, src.CachingDelay)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		pipeline.RunDownloadWorker(ctx)
	}()
	if manifest.Live {
		go pipeline.RunLiveWorker(ctx)
	}

	return &Session{Name: src.Name, Filter: filter, stream: stream, pipeline: pipeline, live: manifest.Live, cancel: cancel, done: done}, nil
}

// PeekSession returns the named source's Session if one has already been
// opened, without triggering a manifest fetch. Used by the diagnostic HTTP
// surface, which must not pay the cost of opening a session just to list
// configured sources.
func (m *SessionManager) PeekSession(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[name]
	return s, ok
}

// Close stops a session's background workers and waits for the download
// worker to exit.
func (s *Session) Close(timeout time.Duration) {
	s.pipeline.Close()
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(timeout):
	}
}

// Close stops every open session's background workers, waiting up to
// timeout per session for its download worker to exit.
func (m *SessionManager) Close(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, s := range m.sessions {
		m.log.Infof("hds: closing session %s", name)
		s.Close(timeout)
	}
}

func baseURLOf(manifestURL string) string {
	idx := lastSlash(manifestURL)
	if idx < 0 || (idx > 0 && manifestURL[idx-1] == '/') {
		// No path component to strip, e.g. "http://host:port".
		return manifestURL
	}
	return manifestURL[:idx]
}

func lastSlash(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			return i
		}
	}
	return -1
}
