// Package reader provides PDF file reading and parsing.
package reader

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/georgepadayatti/pdfsignatures/pdf/crypt"
	"github.com/georgepadayatti/pdfsignatures/pdf/filters"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// Common errors
var (
	ErrInvalidPDF     = errors.New("invalid PDF file")
	ErrNoXRef         = errors.New("no xref found")
	ErrObjectNotFound = errors.New("object not found")
	ErrInvalidXRef    = errors.New("invalid xref")
	ErrEncrypted      = errors.New("PDF is encrypted")
)

var headerPattern = regexp.MustCompile(`%PDF-(\d\.\d)`)

// Option configures a PdfFileReader.
type Option func(*PdfFileReader)

// WithPassword supplies the password for encrypted documents. Both the
// user and the owner password are accepted.
func WithPassword(password []byte) Option {
	return func(r *PdfFileReader) {
		r.password = password
	}
}

// PdfFileReader reads and parses PDF files.
type PdfFileReader struct {
	*BasePdfHandler

	data     []byte
	password []byte

	Version string
	Trailer *generic.TrailerDictionary
	XRef    map[int]*XRefEntry

	objects    map[int]generic.PdfObject
	objStreams map[int]*ObjectStream

	// Document structure
	Root     *generic.DictionaryObject
	Info     *generic.DictionaryObject
	Pages    []Page
	AcroForm *generic.DictionaryObject

	// For incremental updates. Sections are ordered newest first.
	Sections      []*XRefSection
	StartXRef     int64
	HasXRefStream bool

	// Encryption
	Encrypted  bool
	EncryptRef *generic.Reference
	Security   *crypt.StandardSecurityHandler
	Auth       crypt.AuthResult
}

// NewPdfFileReaderFromBytes creates a new PDF reader from bytes. The
// reader keeps a reference to data; callers must not modify it.
func NewPdfFileReaderFromBytes(data []byte, opts ...Option) (*PdfFileReader, error) {
	reader := &PdfFileReader{
		data:       data,
		XRef:       make(map[int]*XRefEntry),
		objects:    make(map[int]generic.PdfObject),
		objStreams: make(map[int]*ObjectStream),
	}
	for _, opt := range opts {
		opt(reader)
	}

	if err := reader.parse(); err != nil {
		return nil, err
	}
	return reader, nil
}

func (r *PdfFileReader) parse() error {
	if err := r.parseHeader(); err != nil {
		return err
	}
	if err := r.findAndParseXRef(); err != nil {
		return err
	}
	r.BasePdfHandler = NewBasePdfHandler(r.Trailer)

	if r.Trailer.Has("Encrypt") {
		if err := r.setupEncryption(); err != nil {
			return err
		}
	}

	return r.loadDocumentStructure()
}

func (r *PdfFileReader) parseHeader() error {
	head := r.data[:min(len(r.data), 1024)]
	m := headerPattern.FindSubmatch(head)
	if m == nil {
		return fmt.Errorf("%w: missing %%PDF header", ErrInvalidPDF)
	}
	r.Version = string(m[1])
	return nil
}

func (r *PdfFileReader) findAndParseXRef() error {
	tail := max(0, len(r.data)-2048)
	idx := bytes.LastIndex(r.data[tail:], []byte("startxref"))
	if idx < 0 {
		return ErrNoXRef
	}

	p := generic.NewParserAt(r.data, int64(tail+idx+len("startxref")))
	offset, err := strconv.ParseInt(p.ReadToken(), 10, 64)
	if err != nil || offset < 0 || offset >= int64(len(r.data)) {
		return fmt.Errorf("%w: invalid startxref", ErrNoXRef)
	}
	r.StartXRef = offset

	if err := r.parseXRefChain(offset); err != nil {
		return err
	}
	r.Trailer = r.Sections[0].Trailer
	r.HasXRefStream = r.Sections[0].IsStream
	if r.Trailer.GetRoot() == nil {
		return fmt.Errorf("%w: trailer has no /Root", ErrInvalidPDF)
	}
	return nil
}

// parseXRefChain follows /Prev links. Entries of newer sections win.
func (r *PdfFileReader) parseXRefChain(offset int64) error {
	visited := make(map[int64]bool)

	for {
		if visited[offset] {
			break
		}
		visited[offset] = true

		section, err := r.parseXRefSection(offset)
		if err != nil {
			return err
		}
		r.Sections = append(r.Sections, section)

		// Hybrid files: the /XRefStm entries take precedence over the
		// table's placeholders for the same revision.
		if stmOffset, ok := section.Trailer.GetInt("XRefStm"); ok && !visited[stmOffset] {
			visited[stmOffset] = true
			if hybrid, err := r.parseXRefSection(stmOffset); err == nil {
				r.mergeEntries(hybrid.Entries)
			}
		}
		r.mergeEntries(section.Entries)

		prev, ok := section.Trailer.GetPrev()
		if !ok {
			break
		}
		offset = prev
	}
	return nil
}

func (r *PdfFileReader) mergeEntries(entries map[int]*XRefEntry) {
	for objNum, entry := range entries {
		if _, exists := r.XRef[objNum]; !exists {
			r.XRef[objNum] = entry
		}
	}
}

func (r *PdfFileReader) parseXRefSection(offset int64) (*XRefSection, error) {
	if offset < 0 || offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: offset %d out of range", ErrInvalidXRef, offset)
	}
	p := generic.NewParserAt(r.data, offset)
	p.SkipWhitespace()
	start := p.Pos()
	if bytes.HasPrefix(r.data[start:], []byte("xref")) {
		return ParseXRefTable(r.data, start)
	}

	p.ResolveLength = r.resolveLength
	obj, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("%w: at %d: %v", ErrInvalidXRef, offset, err)
	}
	stream, ok := obj.Object.(*generic.StreamObject)
	if !ok || stream.Dictionary.GetName("Type") != "XRef" {
		return nil, fmt.Errorf("%w: object at %d is not an xref stream", ErrInvalidXRef, offset)
	}
	data, err := filters.DecodeStream(stream)
	if err != nil {
		return nil, fmt.Errorf("failed to decode xref stream: %w", err)
	}
	return ParseXRefStream(stream.Dictionary, data, offset)
}

func (r *PdfFileReader) setupEncryption() error {
	r.Encrypted = true

	var dict *generic.DictionaryObject
	switch enc := r.Trailer.Get("Encrypt").(type) {
	case generic.Reference:
		r.EncryptRef = &enc
		obj, err := r.GetObject(enc.ObjectNumber)
		if err != nil {
			return fmt.Errorf("failed to load /Encrypt: %w", err)
		}
		dict, _ = obj.(*generic.DictionaryObject)
	case *generic.DictionaryObject:
		dict = enc
	}
	if dict == nil {
		return fmt.Errorf("%w: invalid /Encrypt entry", ErrInvalidPDF)
	}

	id0, _ := r.DocumentID()
	handler, err := crypt.ParseEncryptDict(dict, id0)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrEncrypted, err)
	}
	auth, err := handler.Authenticate(r.password)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncrypted, err)
	}
	r.Security = handler
	r.Auth = auth

	// Anything parsed before authentication is still ciphertext.
	clear(r.objects)
	clear(r.objStreams)
	return nil
}

func (r *PdfFileReader) loadDocumentStructure() error {
	root, err := r.GetObject(r.RootRef().ObjectNumber)
	if err != nil {
		return fmt.Errorf("failed to load catalog: %w", err)
	}
	var ok bool
	if r.Root, ok = root.(*generic.DictionaryObject); !ok {
		return fmt.Errorf("%w: catalog is not a dictionary", ErrInvalidPDF)
	}

	if info := r.Trailer.GetInfo(); info != nil {
		r.Info = ResolveDict(r, *info)
	}
	r.AcroForm = ResolveDict(r, r.Root.Get("AcroForm"))

	r.Pages, err = NewPageTreeWalker(r).Pages()
	if err != nil {
		return err
	}
	return nil
}

// GetObject returns the object with the given number, decrypted when the
// document is encrypted. Objects are cached; callers that modify a
// returned object must Clone it first.
func (r *PdfFileReader) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := r.objects[objNum]; ok {
		return obj, nil
	}

	entry, ok := r.XRef[objNum]
	if !ok || !entry.InUse() {
		return nil, fmt.Errorf("%w: %d", ErrObjectNotFound, objNum)
	}

	var obj generic.PdfObject
	var err error
	switch entry.Type {
	case XRefTypeStandard:
		obj, err = r.getObjectAtOffset(objNum, entry)
	case XRefTypeInObjStream:
		obj, err = r.getObjectFromStream(entry.StreamObjNum, entry.IndexInStream)
	}
	if err != nil {
		return nil, err
	}

	r.objects[objNum] = obj
	return obj, nil
}

func (r *PdfFileReader) getObjectAtOffset(objNum int, entry *XRefEntry) (generic.PdfObject, error) {
	if entry.Offset < 0 || entry.Offset >= int64(len(r.data)) {
		return nil, fmt.Errorf("%w: object %d offset out of range", ErrInvalidXRef, objNum)
	}
	p := generic.NewParserAt(r.data, entry.Offset)
	p.ResolveLength = r.resolveLength
	indirect, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("failed to parse object %d: %w", objNum, err)
	}
	if indirect.ObjectNumber != objNum {
		return nil, fmt.Errorf("%w: expected object %d at %d, found %d", ErrInvalidXRef, objNum, entry.Offset, indirect.ObjectNumber)
	}

	obj := indirect.Object
	if r.Security != nil && !r.isEncryptDict(objNum) {
		if err := r.decryptObject(obj, objNum, indirect.GenerationNumber); err != nil {
			return nil, fmt.Errorf("failed to decrypt object %d: %w", objNum, err)
		}
	}
	return obj, nil
}

func (r *PdfFileReader) isEncryptDict(objNum int) bool {
	return r.EncryptRef != nil && r.EncryptRef.ObjectNumber == objNum
}

func (r *PdfFileReader) getObjectFromStream(streamObjNum, index int) (generic.PdfObject, error) {
	objStm, ok := r.objStreams[streamObjNum]
	if !ok {
		obj, err := r.GetObject(streamObjNum)
		if err != nil {
			return nil, fmt.Errorf("failed to load object stream %d: %w", streamObjNum, err)
		}
		stream, ok := obj.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("%w: object %d is not a stream", ErrInvalidPDF, streamObjNum)
		}
		data, err := filters.DecodeStream(stream)
		if err != nil {
			return nil, fmt.Errorf("failed to decode object stream %d: %w", streamObjNum, err)
		}
		if objStm, err = ParseObjectStream(stream.Dictionary, data); err != nil {
			return nil, err
		}
		r.objStreams[streamObjNum] = objStm
	}
	return objStm.Object(index)
}

func (r *PdfFileReader) resolveLength(ref generic.Reference) (int64, bool) {
	obj, err := r.GetObject(ref.ObjectNumber)
	if err != nil {
		return 0, false
	}
	n, ok := obj.(generic.IntegerObject)
	return int64(n), ok
}

// decryptObject decrypts strings and stream data in place. Signature
// /Contents and cross-reference streams are stored in clear.
func (r *PdfFileReader) decryptObject(obj generic.PdfObject, objNum, genNum int) error {
	switch o := obj.(type) {
	case *generic.StringObject:
		plain, err := r.Security.DecryptString(o.Value, objNum, genNum)
		if err != nil {
			return err
		}
		o.Value = plain
	case generic.ArrayObject:
		for _, item := range o {
			if err := r.decryptObject(item, objNum, genNum); err != nil {
				return err
			}
		}
	case *generic.DictionaryObject:
		skipContents := isSignatureDict(o)
		for _, key := range o.Keys() {
			if skipContents && key == "Contents" {
				continue
			}
			if err := r.decryptObject(o.Get(key), objNum, genNum); err != nil {
				return err
			}
		}
	case *generic.StreamObject:
		typ := o.Dictionary.GetName("Type")
		if typ == "XRef" {
			return nil
		}
		if err := r.decryptObject(o.Dictionary, objNum, genNum); err != nil {
			return err
		}
		if typ == "Metadata" && !r.Security.EncryptMetadata {
			return nil
		}
		plain, err := r.Security.DecryptStream(o.Data, objNum, genNum)
		if err != nil {
			return err
		}
		o.Data = plain
	}
	return nil
}

func isSignatureDict(d *generic.DictionaryObject) bool {
	return d.Has("ByteRange") && d.Has("Contents")
}

// Data returns the raw file bytes the reader was created from.
func (r *PdfFileReader) Data() []byte {
	return r.data
}

// Size returns the trailer /Size, i.e. the next free object number.
func (r *PdfFileReader) Size() int {
	size := int(r.Trailer.GetSize())
	for objNum := range r.XRef {
		size = max(size, objNum+1)
	}
	return size
}

// CanModify reports whether the document may be changed with the
// credentials it was opened with.
func (r *PdfFileReader) CanModify() bool {
	return !r.Encrypted || r.Auth == crypt.AuthOwner
}
