package generic

import "bytes"

// PDF character classes (ISO 32000-1, 7.2.2).
var (
	PDFWhitespace = []byte(" \n\r\t\f\x00")
	PDFDelimiters = []byte("()<>[]{}/%")
)

// IsRegularCharacter reports whether b is neither whitespace nor a
// delimiter.
func IsRegularCharacter(b byte) bool {
	return !IsWhitespace(b) && !IsDelimiter(b)
}

// IsWhitespace reports whether b is a PDF whitespace character.
func IsWhitespace(b byte) bool {
	return bytes.IndexByte(PDFWhitespace, b) >= 0
}

// IsDelimiter reports whether b is a PDF delimiter character.
func IsDelimiter(b byte) bool {
	return bytes.IndexByte(PDFDelimiters, b) >= 0
}
