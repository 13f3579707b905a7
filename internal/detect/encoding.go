package detect

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	sniffChunkSize = 64 << 10
	sniffMaxBytes  = 1 << 20

	// chardet reports confidence on a 0..100 scale.
	sniffMinConfidence = 70

	// fallbackCharset is the legacy single-byte encoding used when the
	// detector is not confident enough to be trusted.
	fallbackCharset = "windows-1252"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SniffEncoding detects the charset of the byte stream by feeding the
// detector increasing prefixes until the confidence threshold is met or the
// inspection cap is hit. A result below the threshold resolves to the
// legacy fallback charset rather than being trusted as-is. The returned
// reader replays the inspected bytes, so callers keep reading from it, not
// from r.
func SniffEncoding(r io.Reader) (string, io.Reader, error) {
	detector := chardet.NewTextDetector()

	buf := make([]byte, 0, sniffChunkSize)
	chunk := make([]byte, sniffChunkSize)
	best := "UTF-8"
	confidence := 0

	for len(buf) < sniffMaxBytes {
		n, err := r.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			if result, derr := detector.DetectBest(buf); derr == nil {
				best = result.Charset
				confidence = result.Confidence
				if confidence >= sniffMinConfidence {
					break
				}
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", nil, fmt.Errorf("sniffing encoding: %w", err)
		}
	}

	return resolveSniff(best, confidence, buf), io.MultiReader(bytes.NewReader(buf), r), nil
}

// resolveSniff decides the charset to decode under. A detector answer below
// the confidence threshold resolves to the legacy fallback, as does a
// claimed UTF-8 result whose inspected bytes do not validate.
func resolveSniff(charset string, confidence int, buf []byte) string {
	if confidence < sniffMinConfidence {
		return fallbackCharset
	}
	if lookupEncoding(charset) == nil && !utf8.Valid(buf) {
		return fallbackCharset
	}
	return charset
}

// DecodingReader wraps r so that reads yield UTF-8 regardless of the source
// charset. A leading UTF-8 byte order mark is stripped. Charsets the IANA
// index does not know resolve to Windows-1252, the usual identity of
// mislabeled legacy exports. The UTF-8 identity path still runs through a
// validating decoder, so invalid sequences surface as replacement runes
// instead of raw bytes.
func DecodingReader(r io.Reader, charset string) io.Reader {
	br := bufio.NewReader(r)
	if lead, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(lead, utf8BOM) {
		br.Discard(len(utf8BOM))
	}

	enc := lookupEncoding(charset)
	if enc == nil {
		enc = unicode.UTF8
	}
	return transform.NewReader(br, enc.NewDecoder())
}

func lookupEncoding(charset string) encoding.Encoding {
	switch strings.ToUpper(strings.TrimSpace(charset)) {
	case "", "UTF-8", "US-ASCII", "ASCII":
		return nil
	}
	if enc, err := ianaindex.IANA.Encoding(charset); err == nil && enc != nil {
		return enc
	}
	return charmap.Windows1252
}
