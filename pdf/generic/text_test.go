package generic

import (
	"bytes"
	"errors"
	"testing"
	"time"
)

func TestNewTextString(t *testing.T) {
	ascii := NewTextString("Approval")
	if !bytes.Equal(ascii.Value, []byte("Approval")) {
		t.Errorf("ASCII text should be stored verbatim, got %q", ascii.Value)
	}

	unicode := NewTextString("Zürich ✓")
	if !bytes.HasPrefix(unicode.Value, []byte{0xFE, 0xFF}) || !unicode.IsHex {
		t.Fatalf("Expected hex UTF-16BE with BOM, got % x", unicode.Value[:2])
	}
	if got := unicode.Text(); got != "Zürich ✓" {
		t.Errorf("Round trip failed: %q", got)
	}
}

func TestDecodeTextStringPDFDoc(t *testing.T) {
	if got := DecodeTextString([]byte{'a', 0x80, 0xA0, 0xE9}); got != "a•€é" {
		t.Errorf("Unexpected decoding %q", got)
	}
	if got := DecodeTextString([]byte{0xEF, 0xBB, 0xBF, 'o', 'k'}); got != "ok" {
		t.Errorf("Unexpected UTF-8 decoding %q", got)
	}
}

func TestFormatDate(t *testing.T) {
	tests := []struct {
		t        time.Time
		expected string
	}{
		{time.Date(2024, 1, 31, 12, 5, 9, 0, time.UTC), "D:20240131120509Z"},
		{time.Date(2024, 1, 31, 12, 5, 9, 0, time.FixedZone("", 3600)), "D:20240131120509+01'00'"},
		{time.Date(2024, 1, 31, 12, 5, 9, 0, time.FixedZone("", -(5*3600+1800))), "D:20240131120509-05'30'"},
	}

	for _, tt := range tests {
		if got := FormatDate(tt.t); got != tt.expected {
			t.Errorf("Expected %s, got %s", tt.expected, got)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"D:20240131120509Z", time.Date(2024, 1, 31, 12, 5, 9, 0, time.UTC)},
		{"D:20240131120509+01'00'", time.Date(2024, 1, 31, 11, 5, 9, 0, time.UTC)},
		{"20240131", time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC)},
		{"D:2024", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseDate(tt.input)
		if err != nil {
			t.Fatalf("ParseDate(%s) failed: %v", tt.input, err)
		}
		if !got.Equal(tt.expected) {
			t.Errorf("ParseDate(%s) = %v, expected %v", tt.input, got, tt.expected)
		}
	}

	for _, bad := range []string{"", "D:20", "D:20240131X"} {
		if _, err := ParseDate(bad); !errors.Is(err, ErrInvalidDate) {
			t.Errorf("ParseDate(%q) expected ErrInvalidDate, got %v", bad, err)
		}
	}
}

func TestFormatParseDateRoundTrip(t *testing.T) {
	when := time.Date(2023, 7, 4, 23, 59, 58, 0, time.FixedZone("", 2*3600))
	parsed, err := ParseDate(FormatDate(when))
	if err != nil {
		t.Fatalf("ParseDate failed: %v", err)
	}
	if !parsed.Equal(when) {
		t.Errorf("Expected %v, got %v", when, parsed)
	}
}
