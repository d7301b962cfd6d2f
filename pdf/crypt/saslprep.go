package crypt

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/bidi"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrSASLprepProhibited    = errors.New("SASLprep: prohibited character")
	ErrSASLprepBidirectional = errors.New("SASLprep: failed bidirectional check")
)

// maxPasswordBytes is the UTF-8 length limit for revision 5 and 6 passwords.
const maxPasswordBytes = 127

// SASLprep applies the RFC 4013 profile of stringprep in query mode
// (unassigned code points allowed): map, NFKC, prohibit, bidi check.
func SASLprep(s string) (string, error) {
	var mapped strings.Builder
	mapped.Grow(len(s))
	for _, r := range s {
		switch {
		case mapsToNothing(r):
		case isNonASCIISpace(r):
			mapped.WriteRune(' ')
		default:
			mapped.WriteRune(r)
		}
	}

	normalized := norm.NFKC.String(mapped.String())
	if normalized == "" {
		return "", nil
	}

	runes := []rune(normalized)
	hasRAL, hasL := false, false
	for _, r := range runes {
		if isProhibited(r) {
			return "", ErrSASLprepProhibited
		}
		switch bidiClass(r) {
		case bidi.R, bidi.AL:
			hasRAL = true
		case bidi.L:
			hasL = true
		}
	}

	if hasRAL {
		first, last := bidiClass(runes[0]), bidiClass(runes[len(runes)-1])
		if hasL || (first != bidi.R && first != bidi.AL) || (last != bidi.R && last != bidi.AL) {
			return "", ErrSASLprepBidirectional
		}
	}
	return normalized, nil
}

// PreparePassword prepares a revision 5 or 6 password: SASLprep, UTF-8,
// truncated to 127 bytes.
func PreparePassword(password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, nil
	}
	prepped, err := SASLprep(string(password))
	if err != nil {
		return nil, err
	}
	out := []byte(prepped)
	if len(out) > maxPasswordBytes {
		out = out[:maxPasswordBytes]
	}
	return out, nil
}

func bidiClass(r rune) bidi.Class {
	props, _ := bidi.LookupRune(r)
	return props.Class()
}

// RFC 3454 table B.1.
func mapsToNothing(r rune) bool {
	switch r {
	case 0x00AD, 0x034F, 0x1806, 0x180B, 0x180C, 0x180D, 0x200B, 0x200C,
		0x200D, 0x2060, 0xFEFF:
		return true
	}
	return r >= 0xFE00 && r <= 0xFE0F
}

// RFC 3454 table C.1.2.
func isNonASCIISpace(r rune) bool {
	switch r {
	case 0x00A0, 0x1680, 0x202F, 0x205F, 0x3000:
		return true
	}
	return r >= 0x2000 && r <= 0x200B
}

// RFC 3454 tables C.1.2 and C.2 to C.9.
func isProhibited(r rune) bool {
	switch {
	case isNonASCIISpace(r):
		return true
	case r < 0x20 || r == 0x7F || (r >= 0x80 && r <= 0x9F):
		return true
	case r == 0x06DD || r == 0x070F || r == 0x180E || r == 0xFEFF:
		return true
	case r >= 0x200C && r <= 0x200F, r >= 0x2028 && r <= 0x202E,
		r >= 0x2060 && r <= 0x2063, r >= 0x206A && r <= 0x206F:
		return true
	case r >= 0xFFF9 && r <= 0xFFFD, r >= 0x1D173 && r <= 0x1D17A:
		return true
	case r == 0x0340 || r == 0x0341:
		return true
	case r >= 0x2FF0 && r <= 0x2FFB:
		return true
	case r == 0xE0001 || (r >= 0xE0020 && r <= 0xE007F):
		return true
	case r >= 0xD800 && r <= 0xDFFF:
		return true
	case r&0xFFFE == 0xFFFE || (r >= 0xFDD0 && r <= 0xFDEF):
		return true
	}
	return unicode.In(r, unicode.Co)
}
