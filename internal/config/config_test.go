package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "sources.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Basic(t *testing.T) {
	path := writeConfig(t, `{
		"UserAgent": "hdsfilterd/1.0",
		"Sources": [
			{"Name": "news", "Manifest": "http://example.com/news/manifest.f4m", "CachingDelayMs": 500}
		]
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Len(t, cfg.Sources, 1)
	src := cfg.Sources[0]
	assert.Equal(t, "news", src.Name)
	assert.Equal(t, "http://example.com/news/manifest.f4m", src.ManifestURL)
	assert.Equal(t, "hdsfilterd/1.0", src.UserAgent)
	assert.Equal(t, 500*time.Millisecond, src.CachingDelay)
}

func TestLoad_DefaultCachingDelay(t *testing.T) {
	path := writeConfig(t, `{"Sources": [{"Name": "news", "Manifest": "http://x/m.f4m"}]}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, defaultCachingDelay, cfg.Sources[0].CachingDelay)
}

func TestLoad_DuplicateNameIsError(t *testing.T) {
	path := writeConfig(t, `{"Sources": [
		{"Name": "news", "Manifest": "http://x/a.f4m"},
		{"Name": "news", "Manifest": "http://x/b.f4m"}
	]}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_EmptyNameIsError(t *testing.T) {
	path := writeConfig(t, `{"Sources": [{"Name": "", "Manifest": "http://x/a.f4m"}]}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/sources.json")
	assert.Error(t, err)
}
