package hds

import (
	"strings"
	"unicode/utf16"
)

// detectPeekBytes is the minimum probe length §6 calls for; decodePreamble
// looks at no more than the first preambleMaxBytes bytes, with or without a
// BOM.
const (
	detectPeekBytes  = 200
	preambleMaxBytes = 512
)

// Detect reports whether peek (at least detectPeekBytes long, or shorter if
// the source is smaller) looks like an HDS manifest: its decoded text must
// contain the substring "<manifest". The byte order mark, if any, selects
// UTF-16LE/BE decoding; otherwise the bytes are treated as 8-bit text.
func Detect(peek []byte) bool {
	return strings.Contains(decodePreamble(peek), "<manifest")
}

func decodePreamble(peek []byte) string {
	if len(peek) > preambleMaxBytes {
		peek = peek[:preambleMaxBytes]
	}

	if len(peek) >= 2 && peek[0] == 0xFF && peek[1] == 0xFE {
		return decodeUTF16(peek[2:], false)
	}
	if len(peek) >= 2 && peek[0] == 0xFE && peek[1] == 0xFF {
		return decodeUTF16(peek[2:], true)
	}
	return string(peek)
}

func decodeUTF16(b []byte, bigEndian bool) string {
	n := len(b) / 2
	units := make([]uint16, n)
	for i := 0; i < n; i++ {
		if bigEndian {
			units[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
		} else {
			units[i] = uint16(b[2*i+1])<<8 | uint16(b[2*i])
		}
	}
	return string(utf16.Decode(units))
}
