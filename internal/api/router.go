// Package api exposes the daemon's HTTP surface: one FLV stream endpoint
// per configured source, plus small diagnostic endpoints.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"hdsfilterd/internal/cache"
	"hdsfilterd/internal/config"
	"hdsfilterd/internal/hds"
	"hdsfilterd/internal/logger"
)

// API holds the dependencies the HTTP handlers need.
type API struct {
	sessionMgr *hds.SessionManager
	cfg        *config.Config
	frags      *cache.FragmentCache
	log        logger.Logger
}

// New builds the daemon's http.Handler.
func New(sessionMgr *hds.SessionManager, cfg *config.Config, frags *cache.FragmentCache, log logger.Logger) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	a := &API{sessionMgr: sessionMgr, cfg: cfg, frags: frags, log: log}

	mux := http.NewServeMux()
	// A ServeMux wildcard must span a whole path segment, so the ".flv"
	// suffix is checked and stripped in handleStream.
	mux.HandleFunc("GET /stream/{file}", a.handleStream)
	mux.HandleFunc("GET /sources", a.handleSources)
	mux.HandleFunc("GET /sources/{name}/lastfragment", a.handleLastFragment)
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	return mux
}

func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	name, ok := strings.CutSuffix(r.PathValue("file"), ".flv")
	if !ok {
		http.NotFound(w, r)
		return
	}

	sess, err := a.sessionMgr.GetOrCreateSession(name)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to open session: %v", err), http.StatusNotFound)
		return
	}

	if err := sess.Acquire(); err != nil {
		if errors.Is(err, hds.ErrSessionBusy) {
			http.Error(w, "source already has an active reader", http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer sess.Release()

	w.Header().Set("Content-Type", "video/x-flv")

	buf := make([]byte, 64*1024)
	for {
		n, err := sess.Filter.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			a.log.Warnf("hds: stream %s: %v", name, err)
			return
		}
		if n == 0 {
			// The filter's chunk isn't downloaded yet; give the download
			// worker a moment rather than busy-spinning on Read.
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// sourceStatus is one entry in the /sources listing: a configured
// source's name, its live/VOD mode, and its chunk/queue depth, if a
// session for it has been opened yet.
type sourceStatus struct {
	Name  string `json:"name"`
	Mode  string `json:"mode"`
	Depth uint64 `json:"chunkDepth"`
}

func (a *API) handleSources(w http.ResponseWriter, r *http.Request) {
	statuses := make([]sourceStatus, 0, len(a.cfg.Sources))
	for _, s := range a.cfg.Sources {
		status := sourceStatus{Name: s.Name, Mode: "unopened"}
		if sess, ok := a.sessionMgr.PeekSession(s.Name); ok {
			if sess.Live() {
				status.Mode = "live"
			} else {
				status.Mode = "vod"
			}
			status.Depth = sess.ChunkCount()
		}
		statuses = append(statuses, status)
	}
	writeJSON(w, statuses)
}

func (a *API) handleLastFragment(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	e, ok := a.frags.Get(name)
	if !ok {
		http.Error(w, "no fragment recorded yet for this source", http.StatusNotFound)
		return
	}
	writeJSON(w, e)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
