// Package signers prepares PDF signature slots and embeds externally
// computed signatures into them.
package signers

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

// Common errors
var (
	ErrInvalidByteRange   = errors.New("invalid byte range")
	ErrSignatureTooLarge  = errors.New("signature does not fit in the reserved space")
	ErrCertificationLevel = errors.New("document is already certified")
	ErrWriteNotAllowed    = errors.New("certification does not allow changes")
)

// ByteRange holds the offsets [c0, c1, c2, c3] of a signature: the
// hashable regions are [c0, c1) and [c2, c3), and [c1, c2) is the
// /Contents hex string including its delimiters.
type ByteRange [4]int64

// ByteRangeFromPDF converts a /ByteRange [offset1 length1 offset2 length2]
// array.
func ByteRangeFromPDF(arr [4]int64) ByteRange {
	return ByteRange{arr[0], arr[0] + arr[1], arr[2], arr[2] + arr[3]}
}

// PDFArray converts back to the /ByteRange array form.
func (b ByteRange) PDFArray() [4]int64 {
	return [4]int64{b[0], b[1] - b[0], b[2], b[3] - b[2]}
}

// Validate checks c0 <= c1 <= c2 <= c3 <= length and that [c1, c2) can
// hold the hex string delimiters.
func (b ByteRange) Validate(length int) error {
	if b[0] < 0 || b[0] > b[1] || b[1] > b[2] || b[2] > b[3] || b[3] > int64(length) {
		return fmt.Errorf("%w: %v for %d bytes", ErrInvalidByteRange, b, length)
	}
	if b[2]-b[1] < 2 {
		return fmt.Errorf("%w: %v leaves no room for /Contents", ErrInvalidByteRange, b)
	}
	return nil
}

// Capacity returns the number of hex digits between '<' and '>'.
func (b ByteRange) Capacity() int64 {
	return b[2] - b[1] - 2
}

// Hashable returns content[c0:c1] followed by content[c2:c3].
func (b ByteRange) Hashable(content []byte) ([]byte, error) {
	if err := b.Validate(len(content)); err != nil {
		return nil, err
	}
	out := make([]byte, 0, (b[1]-b[0])+(b[3]-b[2]))
	out = append(out, content[b[0]:b[1]]...)
	out = append(out, content[b[2]:b[3]]...)
	return out, nil
}

// HashableBytes concatenates the hashable regions of every signature
// field, in field order.
func HashableBytes(content []byte, fields []*reader.SignatureField) ([]byte, error) {
	var out []byte
	for _, f := range fields {
		part, err := ByteRangeFromPDF(f.ByteRange).Hashable(content)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		out = append(out, part...)
	}
	return out, nil
}
