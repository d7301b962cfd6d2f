package generic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// ErrInvalidDate is returned when a PDF date string cannot be parsed.
var ErrInvalidDate = errors.New("invalid PDF date")

var utf16BOM = unicode.UTF16(unicode.BigEndian, unicode.UseBOM)

// PDFDocEncoding differs from Latin-1 only in 0x18-0x1F and 0x80-0xA0.
var pdfDocHigh = [...]rune{
	0x2022, 0x2020, 0x2021, 0x2026, 0x2014, 0x2013, 0x0192, 0x2044,
	0x2039, 0x203A, 0x2212, 0x2030, 0x201E, 0x201C, 0x201D, 0x2018,
	0x2019, 0x201A, 0x2122, 0xFB01, 0xFB02, 0x0141, 0x0152, 0x0160,
	0x0178, 0x017D, 0x0131, 0x0142, 0x0153, 0x0161, 0x017E, 0xFFFD,
	0x20AC,
}

var pdfDocLow = [...]rune{0x02D8, 0x02C7, 0x02C6, 0x02D9, 0x02DD, 0x02DB, 0x02DA, 0x02DC}

// NewTextString encodes s as a PDF text string: a literal when s is plain
// ASCII, otherwise a hex string holding UTF-16BE with a byte order mark.
func NewTextString(s string) *StringObject {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return &StringObject{Value: []byte(s)}
	}
	encoded, err := utf16BOM.NewEncoder().Bytes([]byte(s))
	if err != nil {
		return &StringObject{Value: []byte(s)}
	}
	return &StringObject{Value: encoded, IsHex: true}
}

// DecodeTextString decodes a PDF text string (UTF-16BE with BOM, UTF-8
// with BOM, or PDFDocEncoding).
func DecodeTextString(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		decoded, err := utf16BOM.NewDecoder().Bytes(b)
		if err == nil {
			return string(decoded)
		}
	}
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return string(b[3:])
	}

	var sb strings.Builder
	for _, c := range b {
		switch {
		case c >= 0x18 && c <= 0x1F:
			sb.WriteRune(pdfDocLow[c-0x18])
		case c >= 0x80 && c <= 0xA0:
			sb.WriteRune(pdfDocHigh[c-0x80])
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// FormatDate renders t as a PDF date, e.g. D:20240131120000+01'00'.
func FormatDate(t time.Time) string {
	var sb strings.Builder
	sb.WriteString("D:")
	sb.WriteString(t.Format("20060102150405"))
	_, offset := t.Zone()
	if offset == 0 {
		sb.WriteString("Z")
		return sb.String()
	}
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	fmt.Fprintf(&sb, "%c%02d'%02d'", sign, offset/3600, (offset%3600)/60)
	return sb.String()
}

// ParseDate parses a PDF date. Every component after the year is optional.
func ParseDate(s string) (time.Time, error) {
	raw := s
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
	}

	// year, month, day, hour, minute, second
	fields := [6]int{0, 1, 1, 0, 0, 0}
	widths := [6]int{4, 2, 2, 2, 2, 2}
	pos := 0
	for i, width := range widths {
		if pos+width > len(s) || !isDigits(s[pos:pos+width]) {
			if i == 0 {
				return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
			}
			break
		}
		fields[i], _ = strconv.Atoi(s[pos : pos+width])
		pos += width
	}

	loc := time.UTC
	rest := s[pos:]
	if rest != "" && rest[0] != 'Z' {
		if rest[0] != '+' && rest[0] != '-' {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		tz := strings.ReplaceAll(rest[1:], "'", "")
		if len(tz) < 2 || !isDigits(tz) {
			return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, raw)
		}
		hours, _ := strconv.Atoi(tz[:2])
		minutes := 0
		if len(tz) >= 4 {
			minutes, _ = strconv.Atoi(tz[2:4])
		}
		offset := hours*3600 + minutes*60
		if rest[0] == '-' {
			offset = -offset
		}
		loc = time.FixedZone("", offset)
	}

	return time.Date(fields[0], time.Month(fields[1]), fields[2], fields[3], fields[4], fields[5], 0, loc), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}
