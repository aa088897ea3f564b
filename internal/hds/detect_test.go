package hds

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect_PlainASCIIManifest(t *testing.T) {
	assert.True(t, Detect([]byte(`<?xml version="1.0"?><manifest xmlns="http://ns.adobe.com/f4m/1.0"></manifest>`)))
}

func TestDetect_UTF16LEWithBOM(t *testing.T) {
	text := "<manifest></manifest>"
	buf := []byte{0xFF, 0xFE}
	for _, r := range text {
		buf = append(buf, byte(r), 0)
	}
	assert.True(t, Detect(buf))
}

func TestDetect_UTF16BEWithBOM(t *testing.T) {
	text := "<manifest></manifest>"
	buf := []byte{0xFE, 0xFF}
	for _, r := range text {
		buf = append(buf, 0, byte(r))
	}
	assert.True(t, Detect(buf))
}

func TestDetect_RejectsUnrelatedContent(t *testing.T) {
	assert.False(t, Detect([]byte("<html><body>not a manifest</body></html>")))
}

func TestDetect_OnlyLooksAtPreambleMaxBytes(t *testing.T) {
	padding := make([]byte, preambleMaxBytes+10)
	for i := range padding {
		padding[i] = 'x'
	}
	buf := append(padding, []byte("<manifest>")...)
	assert.False(t, Detect(buf))
}
