package reader

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// XRefType is the kind of a cross-reference entry.
type XRefType int

const (
	XRefTypeFree XRefType = iota
	XRefTypeStandard
	XRefTypeInObjStream
)

func (t XRefType) String() string {
	switch t {
	case XRefTypeFree:
		return "free"
	case XRefTypeStandard:
		return "standard"
	case XRefTypeInObjStream:
		return "compressed"
	default:
		return fmt.Sprintf("XRefType(%d)", int(t))
	}
}

// XRefEntry locates one object. For compressed entries Offset is unused and
// StreamObjNum/IndexInStream point into an object stream.
type XRefEntry struct {
	Type          XRefType
	Offset        int64
	Generation    int
	StreamObjNum  int
	IndexInStream int
}

// InUse reports whether the entry refers to a live object.
func (e *XRefEntry) InUse() bool { return e.Type != XRefTypeFree }

// XRefSection is one cross-reference section with its trailer.
type XRefSection struct {
	Offset   int64
	IsStream bool
	Entries  map[int]*XRefEntry
	Trailer  *generic.TrailerDictionary
}

// ParseXRefTable parses a classic "xref" table at offset.
func ParseXRefTable(data []byte, offset int64) (*XRefSection, error) {
	section := &XRefSection{Offset: offset, Entries: make(map[int]*XRefEntry)}

	p := generic.NewParserAt(data, offset)
	if tok := p.ReadToken(); tok != "xref" {
		return nil, fmt.Errorf("%w: expected 'xref' at %d, got %q", ErrInvalidXRef, offset, tok)
	}

	for {
		save := p.Pos()
		tok := p.ReadToken()
		if tok == "trailer" {
			break
		}
		start, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection header %q at %d", ErrInvalidXRef, tok, save)
		}
		count, err := strconv.Atoi(p.ReadToken())
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w: bad subsection count at %d", ErrInvalidXRef, save)
		}

		for i := 0; i < count; i++ {
			entry, err := readTableEntry(p)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", start+i, err)
			}
			objNum := start + i
			if _, exists := section.Entries[objNum]; !exists {
				section.Entries[objNum] = entry
			}
		}
	}

	obj, err := p.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse trailer: %w", err)
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer must be a dictionary", ErrInvalidXRef)
	}
	section.Trailer = &generic.TrailerDictionary{DictionaryObject: dict}
	return section, nil
}

// readTableEntry reads "oooooooooo ggggg n". Entries are tokenised rather
// than sliced at fixed width so that 19-byte lines are tolerated.
func readTableEntry(p *generic.Parser) (*XRefEntry, error) {
	offset, err := strconv.ParseInt(p.ReadToken(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid offset", ErrInvalidXRef)
	}
	gen, err := strconv.Atoi(p.ReadToken())
	if err != nil {
		return nil, fmt.Errorf("%w: invalid generation", ErrInvalidXRef)
	}
	switch p.ReadToken() {
	case "n":
		return &XRefEntry{Type: XRefTypeStandard, Offset: offset, Generation: gen}, nil
	case "f":
		return &XRefEntry{Type: XRefTypeFree, Offset: offset, Generation: gen}, nil
	default:
		return nil, fmt.Errorf("%w: invalid entry type", ErrInvalidXRef)
	}
}

// ParseXRefStream decodes the entries of an already parsed /Type /XRef
// stream whose data has been unfiltered.
func ParseXRefStream(dict *generic.DictionaryObject, data []byte, offset int64) (*XRefSection, error) {
	section := &XRefSection{
		Offset:   offset,
		IsStream: true,
		Entries:  make(map[int]*XRefEntry),
		Trailer:  &generic.TrailerDictionary{DictionaryObject: dict},
	}

	wArr := dict.GetArray("W")
	if len(wArr) != 3 {
		return nil, fmt.Errorf("%w: invalid W array", ErrInvalidXRef)
	}
	var w [3]int
	for i, v := range wArr {
		n, ok := v.(generic.IntegerObject)
		if !ok || n < 0 || n > 8 {
			return nil, fmt.Errorf("%w: invalid W entry", ErrInvalidXRef)
		}
		w[i] = int(n)
	}
	entrySize := w[0] + w[1] + w[2]
	if entrySize == 0 {
		return nil, fmt.Errorf("%w: zero entry size", ErrInvalidXRef)
	}

	var index []int
	if arr := dict.GetArray("Index"); arr != nil {
		for _, v := range arr {
			if n, ok := v.(generic.IntegerObject); ok {
				index = append(index, int(n))
			}
		}
	} else if size, ok := dict.GetInt("Size"); ok {
		index = []int{0, int(size)}
	}
	if len(index)%2 != 0 {
		return nil, fmt.Errorf("%w: odd Index array", ErrInvalidXRef)
	}

	pos := 0
	for i := 0; i < len(index); i += 2 {
		start, count := index[i], index[i+1]
		for j := 0; j < count && pos+entrySize <= len(data); j++ {
			row := data[pos : pos+entrySize]
			pos += entrySize

			typ := int64(1)
			if w[0] > 0 {
				typ = readField(row, 0, w[0])
			}
			f2 := readField(row, w[0], w[1])
			f3 := readField(row, w[0]+w[1], w[2])

			var entry *XRefEntry
			switch typ {
			case 0:
				entry = &XRefEntry{Type: XRefTypeFree, Offset: f2, Generation: int(f3)}
			case 1:
				entry = &XRefEntry{Type: XRefTypeStandard, Offset: f2, Generation: int(f3)}
			case 2:
				entry = &XRefEntry{Type: XRefTypeInObjStream, StreamObjNum: int(f2), IndexInStream: int(f3)}
			default:
				// Unknown types are treated as references to null.
				entry = &XRefEntry{Type: XRefTypeFree}
			}
			if _, exists := section.Entries[start+j]; !exists {
				section.Entries[start+j] = entry
			}
		}
	}
	return section, nil
}

func readField(row []byte, start, width int) int64 {
	var v int64
	for i := 0; i < width; i++ {
		v = v<<8 | int64(row[start+i])
	}
	return v
}

// ObjectStream is a decoded /Type /ObjStm stream.
type ObjectStream struct {
	data    []byte
	first   int
	offsets []int
}

// ParseObjectStream indexes the objects of a decoded object stream.
func ParseObjectStream(dict *generic.DictionaryObject, data []byte) (*ObjectStream, error) {
	n, ok1 := dict.GetInt("N")
	first, ok2 := dict.GetInt("First")
	if !ok1 || !ok2 || first < 0 || first > int64(len(data)) {
		return nil, fmt.Errorf("%w: invalid object stream header", ErrInvalidPDF)
	}

	objStm := &ObjectStream{data: data, first: int(first)}
	p := generic.NewParserFromBytes(data[:first])
	for i := int64(0); i < n; i++ {
		if _, err := p.ParseObject(); err != nil {
			return nil, fmt.Errorf("%w: object stream index: %v", ErrInvalidPDF, err)
		}
		off, err := p.ParseObject()
		if err != nil {
			return nil, fmt.Errorf("%w: object stream index: %v", ErrInvalidPDF, err)
		}
		offset, ok := off.(generic.IntegerObject)
		if !ok {
			return nil, fmt.Errorf("%w: non-integer offset in object stream", ErrInvalidPDF)
		}
		objStm.offsets = append(objStm.offsets, int(offset))
	}
	return objStm, nil
}

// Object parses the object at index.
func (s *ObjectStream) Object(index int) (generic.PdfObject, error) {
	if index < 0 || index >= len(s.offsets) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrObjectNotFound, index)
	}
	start := s.first + s.offsets[index]
	if start > len(s.data) {
		return nil, fmt.Errorf("%w: offset out of range", ErrInvalidPDF)
	}
	return generic.NewParserFromBytes(s.data[start:]).ParseObjectOrReference()
}

// XRefWriteEntry is an entry produced by a writer.
type XRefWriteEntry struct {
	ObjectNumber int
	XRefEntry
}

// FreeHeadEntry is the conventional head of the free list, object 0.
var FreeHeadEntry = XRefWriteEntry{XRefEntry: XRefEntry{Type: XRefTypeFree, Generation: 65535}}

// subsections groups sorted entries into runs of consecutive numbers.
func subsections(entries []XRefWriteEntry) [][]XRefWriteEntry {
	var groups [][]XRefWriteEntry
	for i := 0; i < len(entries); {
		j := i + 1
		for j < len(entries) && entries[j].ObjectNumber == entries[j-1].ObjectNumber+1 {
			j++
		}
		groups = append(groups, entries[i:j])
		i = j
	}
	return groups
}

// WriteXRefTable writes a classic table for entries sorted by object
// number. Every entry line is exactly 20 bytes. Compressed entries cannot
// be expressed in a table and are rejected.
func WriteXRefTable(w io.Writer, entries []XRefWriteEntry) error {
	var sb strings.Builder
	sb.WriteString("xref\n")
	for _, group := range subsections(entries) {
		fmt.Fprintf(&sb, "%d %d\n", group[0].ObjectNumber, len(group))
		for _, e := range group {
			switch e.Type {
			case XRefTypeStandard:
				fmt.Fprintf(&sb, "%010d %05d n \n", e.Offset, e.Generation)
			case XRefTypeFree:
				fmt.Fprintf(&sb, "%010d %05d f \n", e.Offset, e.Generation)
			default:
				return fmt.Errorf("%w: object %d is compressed", ErrInvalidXRef, e.ObjectNumber)
			}
		}
	}
	_, err := io.WriteString(w, sb.String())
	return err
}

// BuildXRefStream encodes entries (sorted, including the stream's own
// entry) as an uncompressed cross-reference stream. trailer supplies the
// remaining keys (Size, Root, Info, ID, Prev, Encrypt).
func BuildXRefStream(entries []XRefWriteEntry, trailer *generic.DictionaryObject) *generic.StreamObject {
	maxF2, maxF3 := int64(0), int64(0)
	for _, e := range entries {
		f2, f3 := streamFields(e)
		maxF2 = max(maxF2, f2)
		maxF3 = max(maxF3, f3)
	}
	w2, w3 := bytesNeeded(maxF2), bytesNeeded(maxF3)

	var buf bytes.Buffer
	index := generic.ArrayObject{}
	for _, group := range subsections(entries) {
		index = append(index, generic.IntegerObject(group[0].ObjectNumber), generic.IntegerObject(len(group)))
		for _, e := range group {
			f2, f3 := streamFields(e)
			buf.WriteByte(byte(e.Type))
			writeField(&buf, f2, w2)
			writeField(&buf, f3, w3)
		}
	}

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("XRef"))
	for _, key := range trailer.Keys() {
		dict.Set(key, trailer.Get(key))
	}
	dict.Set("W", generic.NewArray(generic.IntegerObject(1), generic.IntegerObject(w2), generic.IntegerObject(w3)))
	dict.Set("Index", index)
	return generic.NewStream(dict, buf.Bytes())
}

func streamFields(e XRefWriteEntry) (int64, int64) {
	if e.Type == XRefTypeInObjStream {
		return int64(e.StreamObjNum), int64(e.IndexInStream)
	}
	return e.Offset, int64(e.Generation)
}

func bytesNeeded(n int64) int {
	width := 1
	for n > 0xFF {
		width++
		n >>= 8
	}
	return width
}

func writeField(buf *bytes.Buffer, value int64, width int) {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(value))
	buf.Write(tmp[8-width:])
}
