package domain

import (
	"strings"

	"golang.org/x/text/encoding/unicode"
)

// UTF16String holds little-endian UTF-16 text, the encoding guest images
// use for their display title.
type UTF16String []byte

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeUTF16 encodes s as little-endian UTF-16.
func EncodeUTF16(s string) UTF16String {
	out, err := utf16LE.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// The encoder replaces invalid UTF-8 instead of failing.
		return nil
	}
	return UTF16String(out)
}

// Decode converts the text to UTF-8. Trailing NUL code units, used by
// fixed-width title fields, are dropped.
func (u UTF16String) Decode() (string, error) {
	if len(u) == 0 {
		return "", nil
	}
	out, err := utf16LE.NewDecoder().Bytes(u)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(out), "\x00"), nil
}
