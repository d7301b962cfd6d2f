package reader

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

func TestXRefType_String(t *testing.T) {
	testCases := []struct {
		xrefType XRefType
		expected string
	}{
		{XRefTypeFree, "free"},
		{XRefTypeStandard, "standard"},
		{XRefTypeInObjStream, "compressed"},
		{XRefType(99), "XRefType(99)"},
	}

	for _, tc := range testCases {
		if got := tc.xrefType.String(); got != tc.expected {
			t.Errorf("XRefType(%d).String() = %q, want %q", tc.xrefType, got, tc.expected)
		}
	}
}

func TestWriteXRefTable(t *testing.T) {
	entries := []XRefWriteEntry{
		FreeHeadEntry,
		{ObjectNumber: 1, XRefEntry: XRefEntry{Type: XRefTypeStandard, Offset: 15}},
		{ObjectNumber: 2, XRefEntry: XRefEntry{Type: XRefTypeStandard, Offset: 100}},
		{ObjectNumber: 7, XRefEntry: XRefEntry{Type: XRefTypeStandard, Offset: 1234, Generation: 2}},
	}

	var buf bytes.Buffer
	if err := WriteXRefTable(&buf, entries); err != nil {
		t.Fatalf("Failed to write xref table: %v", err)
	}

	expected := "xref\n" +
		"0 3\n" +
		"0000000000 65535 f \n" +
		"0000000015 00000 n \n" +
		"0000000100 00000 n \n" +
		"7 1\n" +
		"0000001234 00002 n \n"
	if buf.String() != expected {
		t.Errorf("Unexpected table:\n%s", buf.String())
	}
	for _, line := range strings.SplitAfter(buf.String(), "\n") {
		if len(line) > 10 && len(line) != 20 {
			t.Errorf("Entry line %q is %d bytes, want 20", line, len(line))
		}
	}

	compressed := []XRefWriteEntry{{ObjectNumber: 3, XRefEntry: XRefEntry{Type: XRefTypeInObjStream}}}
	if err := WriteXRefTable(&buf, compressed); !errors.Is(err, ErrInvalidXRef) {
		t.Errorf("Expected ErrInvalidXRef for compressed entry, got %v", err)
	}
}

func TestParseXRefTable(t *testing.T) {
	data := []byte("xref\n0 2\n0000000000 65535 f \n0000000017 00000 n\r\n5 1\n0000000099 00001 n \ntrailer\n<< /Size 6 /Root 1 0 R /Prev 4 >>\n")

	section, err := ParseXRefTable(data, 0)
	if err != nil {
		t.Fatalf("Failed to parse xref table: %v", err)
	}
	if section.IsStream {
		t.Error("Table section reported as stream")
	}
	if e := section.Entries[1]; e == nil || e.Offset != 17 || !e.InUse() {
		t.Errorf("Entry 1 = %+v", e)
	}
	if e := section.Entries[5]; e == nil || e.Offset != 99 || e.Generation != 1 {
		t.Errorf("Entry 5 = %+v", e)
	}
	if section.Entries[0].InUse() {
		t.Error("Entry 0 should be free")
	}
	if prev, ok := section.Trailer.GetPrev(); !ok || prev != 4 {
		t.Errorf("Prev = %d, %v", prev, ok)
	}
}

func TestParseXRefTableErrors(t *testing.T) {
	tests := map[string]string{
		"missing keyword": "xrf\n0 1\n",
		"bad header":      "xref\nabc 1\n",
		"bad entry":       "xref\n0 1\n00000000zz 00000 n \ntrailer\n<< >>",
		"bad type":        "xref\n0 1\n0000000000 00000 x \ntrailer\n<< >>",
		"array trailer":   "xref\n0 0\ntrailer\n[1 2]",
	}
	for name, data := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseXRefTable([]byte(data), 0); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestXRefStreamRoundTrip(t *testing.T) {
	entries := []XRefWriteEntry{
		FreeHeadEntry,
		{ObjectNumber: 1, XRefEntry: XRefEntry{Type: XRefTypeStandard, Offset: 70000}},
		{ObjectNumber: 2, XRefEntry: XRefEntry{Type: XRefTypeInObjStream, StreamObjNum: 4, IndexInStream: 3}},
		{ObjectNumber: 9, XRefEntry: XRefEntry{Type: XRefTypeStandard, Offset: 12, Generation: 1}},
	}
	trailer := generic.NewDictionary()
	trailer.Set("Size", generic.IntegerObject(10))
	trailer.Set("Root", generic.NewReference(1, 0))

	stream := BuildXRefStream(entries, trailer)
	if stream.Dictionary.GetName("Type") != "XRef" {
		t.Error("Missing /Type /XRef")
	}
	if w := stream.Dictionary.GetArray("W"); len(w) != 3 || w[1] != generic.IntegerObject(3) {
		t.Errorf("W = %v, want field 2 width 3", w)
	}

	section, err := ParseXRefStream(stream.Dictionary, stream.Data, 500)
	if err != nil {
		t.Fatalf("Failed to parse xref stream: %v", err)
	}
	if e := section.Entries[1]; e.Type != XRefTypeStandard || e.Offset != 70000 {
		t.Errorf("Entry 1 = %+v", e)
	}
	if e := section.Entries[2]; e.Type != XRefTypeInObjStream || e.StreamObjNum != 4 || e.IndexInStream != 3 {
		t.Errorf("Entry 2 = %+v", e)
	}
	if e := section.Entries[9]; e.Generation != 1 || e.Offset != 12 {
		t.Errorf("Entry 9 = %+v", e)
	}
	if _, ok := section.Entries[5]; ok {
		t.Error("Object 5 should not be listed")
	}
	if root := section.Trailer.GetRoot(); root == nil || root.ObjectNumber != 1 {
		t.Errorf("Root = %v", root)
	}
}

func TestParseXRefStreamErrors(t *testing.T) {
	dict := generic.NewDictionary()
	if _, err := ParseXRefStream(dict, nil, 0); !errors.Is(err, ErrInvalidXRef) {
		t.Errorf("Expected ErrInvalidXRef without W, got %v", err)
	}
	dict.Set("W", generic.NewArray(generic.IntegerObject(0), generic.IntegerObject(0), generic.IntegerObject(0)))
	if _, err := ParseXRefStream(dict, nil, 0); !errors.Is(err, ErrInvalidXRef) {
		t.Errorf("Expected ErrInvalidXRef for zero widths, got %v", err)
	}
}

func TestBytesNeeded(t *testing.T) {
	testCases := []struct {
		value    int64
		expected int
	}{
		{0, 1},
		{255, 1},
		{256, 2},
		{65535, 2},
		{65536, 3},
		{1 << 32, 5},
	}
	for _, tc := range testCases {
		if got := bytesNeeded(tc.value); got != tc.expected {
			t.Errorf("bytesNeeded(%d) = %d, want %d", tc.value, got, tc.expected)
		}
	}
}

func TestObjectStream(t *testing.T) {
	dict := generic.NewDictionary()
	dict.Set("N", generic.IntegerObject(2))
	dict.Set("First", generic.IntegerObject(10))
	data := []byte("7 0 8 11  " + "<< /A 1 >> [1 2 3]")

	objStm, err := ParseObjectStream(dict, data)
	if err != nil {
		t.Fatalf("Failed to parse object stream: %v", err)
	}
	first, err := objStm.Object(0)
	if err != nil {
		t.Fatalf("Failed to read object 0: %v", err)
	}
	if d, ok := first.(*generic.DictionaryObject); !ok || d.Len() != 1 {
		t.Errorf("Object 0 = %#v", first)
	}
	second, err := objStm.Object(1)
	if err != nil {
		t.Fatalf("Failed to read object 1: %v", err)
	}
	if a, ok := second.(generic.ArrayObject); !ok || len(a) != 3 {
		t.Errorf("Object 1 = %#v", second)
	}
	if _, err := objStm.Object(2); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Expected ErrObjectNotFound, got %v", err)
	}

	dict.Set("First", generic.IntegerObject(1000))
	if _, err := ParseObjectStream(dict, data); !errors.Is(err, ErrInvalidPDF) {
		t.Errorf("Expected ErrInvalidPDF, got %v", err)
	}
}
