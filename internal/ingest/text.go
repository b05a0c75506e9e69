package ingest

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/johndauphine/joinkit/internal/format"
)

// ErrTextEncoding means text could not be stored: it is not valid UTF-8,
// the store rejected it, or it failed to decode from the source charset.
var ErrTextEncoding = errors.New("text encoding")

// defaultFallback decodes text when neither the adapter nor the caller
// names a charset.
var defaultFallback encoding.Encoding = charmap.Windows1252

// narrowText accepts only valid UTF-8.
func narrowText(s string) (string, error) {
	if !utf8.ValidString(s) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrTextEncoding, truncateForLog(s))
	}
	return s, nil
}

// wideText decodes s from a single-byte code page and drops NUL bytes,
// which no store accepts in text columns.
func wideText(dec *encoding.Decoder, s string) (string, error) {
	out, err := dec.String(s)
	if err != nil {
		return "", fmt.Errorf("%w: decoding %q: %v", ErrTextEncoding, truncateForLog(s), err)
	}
	return strings.ReplaceAll(out, "\x00", ""), nil
}

// sourceCharset is the charset the adapter declares, else fallback.
func sourceCharset(a format.Adapter, fallback encoding.Encoding) encoding.Encoding {
	if cs, ok := a.(format.Charset); ok {
		if enc := cs.Charset(); enc != nil {
			return enc
		}
	}
	if fallback != nil {
		return fallback
	}
	return defaultFallback
}

func truncateForLog(s string) string {
	if len(s) > 32 {
		return s[:32] + "..."
	}
	return s
}
