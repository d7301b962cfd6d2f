package signers

import (
	"errors"
	"testing"

	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

func TestByteRangeFromPDF(t *testing.T) {
	br := ByteRangeFromPDF([4]int64{0, 100, 160, 40})
	if br != (ByteRange{0, 100, 160, 200}) {
		t.Errorf("ByteRangeFromPDF() = %v", br)
	}
	if br.PDFArray() != [4]int64{0, 100, 160, 40} {
		t.Errorf("PDFArray() = %v", br.PDFArray())
	}
	if br.Capacity() != 58 {
		t.Errorf("Capacity() = %d, want 58", br.Capacity())
	}
}

func TestByteRangeValidate(t *testing.T) {
	tests := []struct {
		name    string
		br      ByteRange
		length  int
		wantErr bool
	}{
		{"valid", ByteRange{0, 10, 20, 30}, 30, false},
		{"short file", ByteRange{0, 10, 20, 30}, 29, true},
		{"negative start", ByteRange{-1, 10, 20, 30}, 30, true},
		{"overlap", ByteRange{0, 20, 10, 30}, 30, true},
		{"reversed tail", ByteRange{0, 10, 20, 15}, 30, true},
		{"no delimiters", ByteRange{0, 10, 11, 30}, 30, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.br.Validate(tt.length)
			if tt.wantErr && !errors.Is(err, ErrInvalidByteRange) {
				t.Errorf("Expected ErrInvalidByteRange, got %v", err)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestHashableBytes(t *testing.T) {
	content := []byte("head<00ff>tail|more<ab>end")

	fields := []*reader.SignatureField{
		{Name: "Signature1", ByteRange: [4]int64{0, 4, 10, 5}},
		{Name: "Signature2", ByteRange: [4]int64{0, 19, 23, 3}},
	}
	got, err := HashableBytes(content, fields)
	if err != nil {
		t.Fatalf("Failed to compute hashable bytes: %v", err)
	}
	if string(got) != "headtail|"+"head<00ff>tail|moreend" {
		t.Errorf("HashableBytes() = %q", got)
	}

	fields[1].ByteRange = [4]int64{0, 19, 23, 30}
	if _, err := HashableBytes(content, fields); !errors.Is(err, ErrInvalidByteRange) {
		t.Errorf("Expected ErrInvalidByteRange, got %v", err)
	}
}
