// Package encoding turns bank statement bytes of unknown charset into UTF-8.
package encoding

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	xenc "golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

type Charset string

const (
	UTF8        Charset = "UTF-8"
	UTF8BOM     Charset = "UTF-8 (BOM)"
	UTF16LE     Charset = "UTF-16LE"
	UTF16BE     Charset = "UTF-16BE"
	Windows1252 Charset = "windows-1252"
	ISO88599    Charset = "ISO-8859-9"
)

// sniffSize is how much of the input is inspected before choosing a decoder.
const sniffSize = 4096

var boms = []struct {
	prefix  []byte
	charset Charset
}{
	{[]byte{0xEF, 0xBB, 0xBF}, UTF8BOM},
	{[]byte{0xFF, 0xFE}, UTF16LE},
	{[]byte{0xFE, 0xFF}, UTF16BE},
}

var decoders = map[Charset]xenc.Encoding{
	UTF16LE:     unicode.UTF16(unicode.LittleEndian, unicode.UseBOM),
	UTF16BE:     unicode.UTF16(unicode.BigEndian, unicode.UseBOM),
	Windows1252: charmap.Windows1252,
	ISO88599:    charmap.ISO8859_9,
}

// Detect guesses the charset of a document from its first bytes: a BOM wins,
// then valid UTF-8, then chardet's best guess. Anything else is taken to be
// Windows-1252, which is what Portuguese banks export.
func Detect(head []byte) Charset {
	for _, b := range boms {
		if bytes.HasPrefix(head, b.prefix) {
			return b.charset
		}
	}

	if utf8.Valid(head) {
		return UTF8
	}

	res, err := chardet.NewTextDetector().DetectBest(head)
	if err != nil {
		return Windows1252
	}

	switch res.Charset {
	case "UTF-8":
		return UTF8
	case "ISO-8859-9":
		return ISO88599
	default:
		return Windows1252
	}
}

// NewUTF8Reader wraps r so it yields UTF-8 and reports the charset it found.
func NewUTF8Reader(r io.Reader) (io.Reader, Charset, error) {
	br := bufio.NewReaderSize(r, sniffSize)

	head, err := br.Peek(sniffSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, "", fmt.Errorf("peek: %w", err)
	}

	if len(head) == sniffSize {
		head = trimPartialRune(head)
	}

	charset := Detect(head)

	switch charset {
	case UTF8:
		return br, charset, nil
	case UTF8BOM:
		_, _ = br.Discard(3)
		return br, charset, nil
	default:
		return transform.NewReader(br, decoders[charset].NewDecoder()), charset, nil
	}
}

// trimPartialRune drops a multi-byte sequence cut off by the sniff window.
func trimPartialRune(b []byte) []byte {
	for i := 1; i <= utf8.UTFMax && i <= len(b); i++ {
		if utf8.RuneStart(b[len(b)-i]) {
			if !utf8.FullRune(b[len(b)-i:]) {
				return b[:len(b)-i]
			}

			return b
		}
	}

	return b
}
