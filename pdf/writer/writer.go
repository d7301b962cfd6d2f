// Package writer provides PDF file writing and incremental update support.
package writer

import (
	"bytes"
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/pdf/crypt"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

// PdfFileWriter creates new PDF files.
type PdfFileWriter struct {
	Version  string
	Objects  map[int]*generic.IndirectObject
	Root     *generic.DictionaryObject
	Info     *generic.DictionaryObject
	Pages    *generic.DictionaryObject
	AcroForm *generic.DictionaryObject
	FileID   []byte

	// XRefStream selects a cross-reference stream instead of a table.
	XRefStream bool
	// ObjectStreams packs eligible objects into an object stream. It
	// implies XRefStream.
	ObjectStreams bool

	nextObjNum int
	rootRef    generic.Reference
	infoRef    generic.Reference
	pagesRef   generic.Reference
	pageRefs   []generic.Reference
	security   *crypt.StandardSecurityHandler
	encryptRef *generic.Reference
	clock      clockwork.Clock
}

// NewPdfFileWriter creates a new PDF writer with an empty page tree and
// an info dictionary.
func NewPdfFileWriter(version string, opts ...Option) *PdfFileWriter {
	if version == "" {
		version = "1.7"
	}
	o := buildOptions(opts)

	w := &PdfFileWriter{
		Version:    version,
		Objects:    make(map[int]*generic.IndirectObject),
		nextObjNum: 1,
		clock:      o.clock,
	}

	w.Root = generic.NewDictionary()
	w.Root.Set("Type", generic.NameObject("Catalog"))
	w.rootRef = w.AddObject(w.Root)

	w.Pages = generic.NewDictionary()
	w.Pages.Set("Type", generic.NameObject("Pages"))
	w.Pages.Set("Kids", generic.ArrayObject{})
	w.Pages.Set("Count", generic.IntegerObject(0))
	w.pagesRef = w.AddObject(w.Pages)
	w.Root.Set("Pages", w.pagesRef)

	w.Info = generic.NewDictionary()
	w.Info.Set("Producer", generic.NewLiteralString("pdfsignatures"))
	w.Info.Set("CreationDate", generic.NewLiteralString(generic.FormatDate(w.clock.Now())))
	w.infoRef = w.AddObject(w.Info)

	w.FileID = newIDPart(w.clock, 0)
	return w
}

// AddObject adds an object and returns its reference.
func (w *PdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++
	w.Objects[objNum] = generic.NewIndirectObject(objNum, 0, obj)
	return generic.NewReference(objNum, 0)
}

// AddPage appends a page of the given size. contents may be nil.
func (w *PdfFileWriter) AddPage(width, height int, contents []byte) generic.Reference {
	page := generic.NewDictionary()
	page.Set("Type", generic.NameObject("Page"))
	page.Set("Parent", w.pagesRef)
	page.Set("MediaBox", generic.NewArray(
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(width), generic.IntegerObject(height),
	))
	if contents != nil {
		page.Set("Contents", w.AddObject(generic.NewStream(nil, contents)))
	}

	pageRef := w.AddObject(page)
	w.pageRefs = append(w.pageRefs, pageRef)
	w.Pages.Set("Kids", append(w.Pages.GetArray("Kids"), pageRef))
	w.Pages.Set("Count", generic.IntegerObject(len(w.pageRefs)))
	return pageRef
}

// Page returns the dictionary of page index.
func (w *PdfFileWriter) Page(index int) *generic.DictionaryObject {
	return w.Objects[w.pageRefs[index].ObjectNumber].Object.(*generic.DictionaryObject)
}

// AddAcroForm creates or returns the AcroForm dictionary.
func (w *PdfFileWriter) AddAcroForm() *generic.DictionaryObject {
	if w.AcroForm == nil {
		w.AcroForm = generic.NewDictionary()
		w.AcroForm.Set("Fields", generic.ArrayObject{})
		w.Root.Set("AcroForm", w.AddObject(w.AcroForm))
	}
	return w.AcroForm
}

// Encrypt encrypts the output with h. Legacy handlers must have been
// created with FileID.
func (w *PdfFileWriter) Encrypt(h *crypt.StandardSecurityHandler) {
	if h.FileID == nil {
		h.FileID = w.FileID
	}
	w.security = h
	ref := w.AddObject(h.EncryptDict())
	w.encryptRef = &ref
}

// Bytes renders the document.
func (w *PdfFileWriter) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Write writes the PDF to the given writer.
func (w *PdfFileWriter) Write(out io.Writer) error {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%%PDF-%s\n", w.Version)
	buf.Write([]byte{'%', 0xE2, 0xE3, 0xCF, 0xD3, '\n'})

	keys := make([]int, 0, len(w.Objects))
	for objNum := range w.Objects {
		keys = append(keys, objNum)
	}
	slices.Sort(keys)

	nextObjNum := w.nextObjNum
	entries := []reader.XRefWriteEntry{reader.FreeHeadEntry}
	var packed []*generic.IndirectObject

	for _, objNum := range keys {
		obj := w.Objects[objNum]
		if w.ObjectStreams && w.canPack(obj) {
			packed = append(packed, obj)
			continue
		}
		entries = append(entries, standardEntry(objNum, int64(buf.Len())))
		if err := w.writeObject(&buf, obj); err != nil {
			return fmt.Errorf("failed to write object %d: %w", objNum, err)
		}
	}

	if len(packed) > 0 {
		stmNum := nextObjNum
		nextObjNum++
		stream, err := buildObjectStream(packed)
		if err != nil {
			return err
		}
		entries = append(entries, standardEntry(stmNum, int64(buf.Len())))
		if err := w.writeObject(&buf, generic.NewIndirectObject(stmNum, 0, stream)); err != nil {
			return err
		}
		for i, obj := range packed {
			entries = append(entries, reader.XRefWriteEntry{
				ObjectNumber: obj.ObjectNumber,
				XRefEntry:    reader.XRefEntry{Type: reader.XRefTypeInObjStream, StreamObjNum: stmNum, IndexInStream: i},
			})
		}
		slices.SortFunc(entries, func(a, b reader.XRefWriteEntry) int { return a.ObjectNumber - b.ObjectNumber })
	}

	trailer := generic.NewDictionary()
	trailer.Set("Root", w.rootRef)
	trailer.Set("Info", w.infoRef)
	if w.encryptRef != nil {
		trailer.Set("Encrypt", *w.encryptRef)
	}
	trailer.Set("ID", generic.NewArray(generic.NewHexString(w.FileID), generic.NewHexString(w.FileID)))

	xrefOffset := int64(buf.Len())
	if w.XRefStream || w.ObjectStreams {
		xrefNum := nextObjNum
		entries = append(entries, standardEntry(xrefNum, xrefOffset))
		trailer.Set("Size", generic.IntegerObject(xrefNum+1))
		stream := reader.BuildXRefStream(entries, trailer)
		if err := generic.NewIndirectObject(xrefNum, 0, stream).Write(&buf); err != nil {
			return err
		}
	} else {
		trailer.Set("Size", generic.IntegerObject(nextObjNum))
		if err := reader.WriteXRefTable(&buf, entries); err != nil {
			return err
		}
		buf.WriteString("trailer\n")
		if err := trailer.Write(&buf); err != nil {
			return err
		}
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err := out.Write(buf.Bytes())
	return err
}

func standardEntry(objNum int, offset int64) reader.XRefWriteEntry {
	return reader.XRefWriteEntry{
		ObjectNumber: objNum,
		XRefEntry:    reader.XRefEntry{Type: reader.XRefTypeStandard, Offset: offset},
	}
}

// canPack reports whether obj may live in an object stream.
func (w *PdfFileWriter) canPack(obj *generic.IndirectObject) bool {
	if _, isStream := obj.Object.(*generic.StreamObject); isStream {
		return false
	}
	if w.encryptRef != nil && obj.ObjectNumber == w.encryptRef.ObjectNumber {
		return false
	}
	return obj.GenerationNumber == 0
}

func (w *PdfFileWriter) writeObject(buf *bytes.Buffer, obj *generic.IndirectObject) error {
	if w.security != nil && (w.encryptRef == nil || obj.ObjectNumber != w.encryptRef.ObjectNumber) {
		encrypted, err := encryptObject(w.security, obj.Object, obj.ObjectNumber, obj.GenerationNumber)
		if err != nil {
			return err
		}
		obj = generic.NewIndirectObject(obj.ObjectNumber, obj.GenerationNumber, encrypted)
	}
	return obj.Write(buf)
}

// buildObjectStream serializes objs into an uncompressed /Type /ObjStm.
func buildObjectStream(objs []*generic.IndirectObject) (*generic.StreamObject, error) {
	var header, body bytes.Buffer
	for _, obj := range objs {
		header.WriteString(strconv.Itoa(obj.ObjectNumber))
		header.WriteByte(' ')
		header.WriteString(strconv.Itoa(body.Len()))
		header.WriteByte(' ')
		if err := obj.Object.Write(&body); err != nil {
			return nil, err
		}
		body.WriteByte('\n')
	}

	dict := generic.NewDictionary()
	dict.Set("Type", generic.NameObject("ObjStm"))
	dict.Set("N", generic.IntegerObject(len(objs)))
	dict.Set("First", generic.IntegerObject(header.Len()))
	return generic.NewStream(dict, append(header.Bytes(), body.Bytes()...)), nil
}
