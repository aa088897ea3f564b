// Package config loads the daemon's static configuration: the set of named
// HDS sources it knows how to serve.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Source is the fully-processed configuration for one HDS manifest this
// daemon will serve.
type Source struct {
	Name string
	// ManifestURL is fetched fresh (VOD) or once plus abst refresh (live).
	ManifestURL string
	UserAgent   string
	// CachingDelay feeds StreamFilter.Control's PTSDelay; the spec treats
	// this as external configuration plumbing rather than filter state.
	CachingDelay time.Duration
}

// Config holds every configured source.
type Config struct {
	UserAgent string
	Sources   []Source
}

// rawSource mirrors the on-disk JSON shape; CachingDelayMs arrives as a
// plain integer so the file doesn't need to embed Go duration syntax.
type rawSource struct {
	Name           string `json:"Name"`
	ManifestURL    string `json:"Manifest"`
	CachingDelayMs int    `json:"CachingDelayMs"`
}

type rawConfig struct {
	UserAgent string      `json:"UserAgent"`
	Sources   []rawSource `json:"Sources"`
}

const defaultCachingDelay = 3 * time.Second

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config JSON: %w", err)
	}

	sources := make([]Source, 0, len(raw.Sources))
	seen := make(map[string]struct{}, len(raw.Sources))
	for _, rs := range raw.Sources {
		if rs.Name == "" {
			return nil, fmt.Errorf("source with empty Name in config")
		}
		if _, dup := seen[rs.Name]; dup {
			return nil, fmt.Errorf("duplicate source name in config: %s", rs.Name)
		}
		seen[rs.Name] = struct{}{}

		delay := defaultCachingDelay
		if rs.CachingDelayMs > 0 {
			delay = time.Duration(rs.CachingDelayMs) * time.Millisecond
		}

		sources = append(sources, Source{
			Name:         rs.Name,
			ManifestURL:  rs.ManifestURL,
			UserAgent:    raw.UserAgent,
			CachingDelay: delay,
		})
	}

	return &Config{UserAgent: raw.UserAgent, Sources: sources}, nil
}
