package writer

import (
	"bytes"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/pdf/crypt"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

// Common errors for incremental writer
var (
	ErrNoEncryptionCredentials = errors.New("cannot update this document without the owner password")
	ErrNotADictionary          = errors.New("object is not a dictionary")
)

// IncrementalPdfFileWriter handles incremental updates to existing PDFs.
// Incremental updates append modifications to the end of the file,
// which is critical when the original file contents should not be
// modified (e.g., when it contains digital signatures).
type IncrementalPdfFileWriter struct {
	// Reader is the underlying PDF reader
	Reader *reader.PdfFileReader

	// Objects contains modified/new objects to be written, keyed by
	// object number.
	Objects map[int]*generic.IndirectObject

	nextObjNum   int
	originalData []byte
	rootRef      generic.Reference
	infoRef      *generic.Reference
	documentID   generic.ArrayObject

	outputVersion PDFVersion

	// streamXRefs indicates whether to use xref streams
	streamXRefs bool
	security    *crypt.StandardSecurityHandler
	clock       clockwork.Clock
}

// PDFVersion represents a PDF version as (major, minor)
type PDFVersion struct {
	Major int
	Minor int
}

// Compare compares two PDF versions
func (v PDFVersion) Compare(other PDFVersion) int {
	if v.Major != other.Major {
		return v.Major - other.Major
	}
	return v.Minor - other.Minor
}

// String returns the string representation of the version
func (v PDFVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// ParseVersion parses "major.minor". Unparseable input yields 1.0.
func ParseVersion(version string) PDFVersion {
	var v PDFVersion
	if _, err := fmt.Sscanf(version, "%d.%d", &v.Major, &v.Minor); err != nil {
		return PDFVersion{Major: 1, Minor: 0}
	}
	return v
}

// Option configures a writer.
type Option func(*options)

type options struct {
	clock clockwork.Clock
}

// WithClock sets the clock used for modification dates and file
// identifiers.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

func buildOptions(opts []Option) options {
	o := options{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// NewIncrementalPdfFileWriter creates an incremental writer on top of an
// existing PDF. Encrypted documents must have been opened with the owner
// password.
func NewIncrementalPdfFileWriter(r *reader.PdfFileReader, opts ...Option) (*IncrementalPdfFileWriter, error) {
	if !r.CanModify() {
		return nil, ErrNoEncryptionCredentials
	}
	o := buildOptions(opts)

	version := ParseVersion(r.Version)
	if v, ok := r.Root.Get("Version").(generic.NameObject); ok {
		if catalog := ParseVersion(string(v)); catalog.Compare(version) > 0 {
			version = catalog
		}
	}

	w := &IncrementalPdfFileWriter{
		Reader:        r,
		Objects:       make(map[int]*generic.IndirectObject),
		nextObjNum:    r.Size(),
		originalData:  r.Data(),
		rootRef:       r.RootRef(),
		infoRef:       r.Trailer.GetInfo(),
		outputVersion: version,
		streamXRefs:   r.HasXRefStream,
		security:      r.Security,
		clock:         o.clock,
	}
	w.documentID = w.handleDocumentID()
	return w, nil
}

// handleDocumentID keeps the first part of the file identifier (it keys
// the encryption) and regenerates the second.
func (w *IncrementalPdfFileWriter) handleDocumentID() generic.ArrayObject {
	id1, _ := w.Reader.DocumentID()
	id2 := newIDPart(w.clock, len(w.originalData))
	if id1 == nil {
		id1 = id2
	}
	return generic.NewArray(generic.NewHexString(id1), generic.NewHexString(id2))
}

func newIDPart(clock clockwork.Clock, seed int) []byte {
	h := md5.New()
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(clock.Now().UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], uint64(seed))
	h.Write(buf[:])
	if _, err := rand.Read(buf[:]); err == nil {
		h.Write(buf[:])
	}
	return h.Sum(nil)
}

// GetObject returns the pending version of an object if it was added or
// updated in this revision, and the reader's version otherwise.
func (w *IncrementalPdfFileWriter) GetObject(objNum int) (generic.PdfObject, error) {
	if obj, ok := w.Objects[objNum]; ok {
		return obj.Object, nil
	}
	return w.Reader.GetObject(objNum)
}

// TrailerView returns the trailer of the document being updated.
func (w *IncrementalPdfFileWriter) TrailerView() *generic.TrailerDictionary {
	return w.Reader.Trailer
}

// RootRef returns a reference to the document catalog.
func (w *IncrementalPdfFileWriter) RootRef() generic.Reference {
	return w.rootRef
}

// InfoRef returns the reference to the info dictionary, or nil.
func (w *IncrementalPdfFileWriter) InfoRef() *generic.Reference {
	return w.infoRef
}

// AddObject adds a new object and returns its reference.
func (w *IncrementalPdfFileWriter) AddObject(obj generic.PdfObject) generic.Reference {
	objNum := w.nextObjNum
	w.nextObjNum++
	w.Objects[objNum] = generic.NewIndirectObject(objNum, 0, obj)
	return generic.NewReference(objNum, 0)
}

// UpdateObject replaces the object behind ref in this revision.
func (w *IncrementalPdfFileWriter) UpdateObject(ref generic.Reference, obj generic.PdfObject) {
	w.Objects[ref.ObjectNumber] = generic.NewIndirectObject(ref.ObjectNumber, ref.GenerationNumber, obj)
}

// UpdateDict returns a mutable copy of the dictionary behind ref that is
// written out with this revision. Repeated calls return the same copy.
func (w *IncrementalPdfFileWriter) UpdateDict(ref generic.Reference) (*generic.DictionaryObject, error) {
	if obj, ok := w.Objects[ref.ObjectNumber]; ok {
		dict, ok := obj.Object.(*generic.DictionaryObject)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotADictionary, ref)
		}
		return dict, nil
	}

	obj, err := w.Reader.GetObject(ref.ObjectNumber)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotADictionary, ref)
	}
	dict = dict.Clone().(*generic.DictionaryObject)
	w.UpdateObject(ref, dict)
	return dict, nil
}

// UpdateRoot returns a mutable copy of the document catalog.
func (w *IncrementalPdfFileWriter) UpdateRoot() (*generic.DictionaryObject, error) {
	return w.UpdateDict(w.rootRef)
}

// TouchModDate sets /ModDate in the info dictionary, when there is one,
// to the writer clock's current time.
func (w *IncrementalPdfFileWriter) TouchModDate() error {
	if w.infoRef == nil {
		return nil
	}
	info, err := w.UpdateDict(*w.infoRef)
	if err != nil {
		return fmt.Errorf("failed to update info dictionary: %w", err)
	}
	info.Set("ModDate", generic.NewLiteralString(generic.FormatDate(w.clock.Now())))
	return nil
}

// EnsureOutputVersion raises the catalog /Version to at least version.
func (w *IncrementalPdfFileWriter) EnsureOutputVersion(version PDFVersion) error {
	if w.outputVersion.Compare(version) >= 0 {
		return nil
	}
	root, err := w.UpdateRoot()
	if err != nil {
		return err
	}
	root.Set("Version", generic.NameObject(version.String()))
	w.outputVersion = version
	return nil
}

// OutputVersion returns the PDF version the output will declare.
func (w *IncrementalPdfFileWriter) OutputVersion() PDFVersion {
	return w.outputVersion
}

// HasChanges reports whether any object was added or updated.
func (w *IncrementalPdfFileWriter) HasChanges() bool {
	return len(w.Objects) > 0
}

// StreamXRefs reports whether the update ends in a cross-reference stream.
func (w *IncrementalPdfFileWriter) StreamXRefs() bool {
	return w.streamXRefs
}

// Write writes the original file followed by the incremental update.
func (w *IncrementalPdfFileWriter) Write(out io.Writer) error {
	data, _, err := w.render(nil)
	if err != nil {
		return err
	}
	_, err = out.Write(data)
	return err
}

// Bytes returns the original file followed by the incremental update.
func (w *IncrementalPdfFileWriter) Bytes() ([]byte, error) {
	data, _, err := w.render(nil)
	return data, err
}

// contentsSlot is the position of a reserved /Contents hex string.
type contentsSlot struct {
	start     int64 // offset of '<'
	hexLen    int
	byteRange int64 // offset of the /ByteRange array
}

func (w *IncrementalPdfFileWriter) render(placeholder *SignaturePlaceholder) ([]byte, *contentsSlot, error) {
	var buf bytes.Buffer
	buf.Write(w.originalData)
	if n := len(w.originalData); n > 0 && w.originalData[n-1] != '\n' && w.originalData[n-1] != '\r' {
		buf.WriteByte('\n')
	}

	keys := make([]int, 0, len(w.Objects))
	for objNum := range w.Objects {
		keys = append(keys, objNum)
	}
	slices.Sort(keys)

	var slot *contentsSlot
	entries := make([]reader.XRefWriteEntry, 0, len(keys)+1)
	for _, objNum := range keys {
		obj := w.Objects[objNum]
		entries = append(entries, reader.XRefWriteEntry{
			ObjectNumber: objNum,
			XRefEntry:    reader.XRefEntry{Type: reader.XRefTypeStandard, Offset: int64(buf.Len()), Generation: obj.GenerationNumber},
		})

		var err error
		if placeholder != nil && objNum == placeholder.SigDictRef.ObjectNumber {
			slot, err = w.writeSignatureObject(&buf, obj, placeholder)
		} else {
			err = w.writeObject(&buf, obj)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to write object %d: %w", objNum, err)
		}
	}
	if placeholder != nil && slot == nil {
		return nil, nil, fmt.Errorf("signature dictionary %s is not part of this revision", placeholder.SigDictRef)
	}

	xrefOffset := int64(buf.Len())
	trailer := w.buildTrailer()
	if w.streamXRefs {
		xrefNum := w.nextObjNum
		entries = append(entries, reader.XRefWriteEntry{
			ObjectNumber: xrefNum,
			XRefEntry:    reader.XRefEntry{Type: reader.XRefTypeStandard, Offset: xrefOffset},
		})
		trailer.Set("Size", generic.IntegerObject(xrefNum+1))
		stream := reader.BuildXRefStream(entries, trailer)
		if err := generic.NewIndirectObject(xrefNum, 0, stream).Write(&buf); err != nil {
			return nil, nil, err
		}
	} else {
		trailer.Set("Size", generic.IntegerObject(w.nextObjNum))
		if err := reader.WriteXRefTable(&buf, entries); err != nil {
			return nil, nil, err
		}
		buf.WriteString("trailer\n")
		if err := trailer.Write(&buf); err != nil {
			return nil, nil, err
		}
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	return buf.Bytes(), slot, nil
}

// buildTrailer assembles the trailer entries of the new section; /Size
// is set by the caller.
func (w *IncrementalPdfFileWriter) buildTrailer() *generic.DictionaryObject {
	trailer := generic.NewDictionary()
	trailer.Set("Root", w.rootRef)
	if w.infoRef != nil {
		trailer.Set("Info", *w.infoRef)
	}
	if enc := w.Reader.Trailer.Get("Encrypt"); enc != nil {
		trailer.Set("Encrypt", enc)
	}
	trailer.Set("ID", w.documentID)
	trailer.Set("Prev", generic.IntegerObject(w.Reader.StartXRef))
	return trailer
}

func (w *IncrementalPdfFileWriter) writeObject(buf *bytes.Buffer, obj *generic.IndirectObject) error {
	if w.security != nil {
		encrypted, err := encryptObject(w.security, obj.Object, obj.ObjectNumber, obj.GenerationNumber)
		if err != nil {
			return err
		}
		obj = generic.NewIndirectObject(obj.ObjectNumber, obj.GenerationNumber, encrypted)
	}
	return obj.Write(buf)
}

// writeSignatureObject writes the signature dictionary by hand so that the
// offsets of /ByteRange and /Contents are known.
func (w *IncrementalPdfFileWriter) writeSignatureObject(buf *bytes.Buffer, obj *generic.IndirectObject, placeholder *SignaturePlaceholder) (*contentsSlot, error) {
	dict, ok := obj.Object.(*generic.DictionaryObject)
	if !ok {
		return nil, ErrNotADictionary
	}
	slot := &contentsSlot{hexLen: 2 * placeholder.ContentsSize, byteRange: -1, start: -1}

	fmt.Fprintf(buf, "%d %d obj\n<<", obj.ObjectNumber, obj.GenerationNumber)
	for _, key := range dict.Keys() {
		switch key {
		case "ByteRange":
			if err := generic.NameObject(key).Write(buf); err != nil {
				return nil, err
			}
			slot.byteRange = int64(buf.Len())
			fmt.Fprintf(buf, byteRangeFormat, 0, 0, 0, 0)
		case "Contents":
			if err := generic.NameObject(key).Write(buf); err != nil {
				return nil, err
			}
			slot.start = int64(buf.Len())
			buf.WriteByte('<')
			buf.Write(bytes.Repeat([]byte{'0'}, slot.hexLen))
			buf.WriteByte('>')
		default:
			value := dict.Get(key)
			if w.security != nil {
				var err error
				if value, err = encryptObject(w.security, value, obj.ObjectNumber, obj.GenerationNumber); err != nil {
					return nil, err
				}
			}
			if err := generic.WriteEntry(buf, key, value); err != nil {
				return nil, err
			}
		}
	}
	buf.WriteString(">>\nendobj\n")

	if slot.byteRange < 0 || slot.start < 0 {
		return nil, errors.New("signature dictionary lacks /ByteRange or /Contents")
	}
	return slot, nil
}

// encryptObject returns an encrypted deep copy of obj. Signature
// /Contents and cross-reference streams are left in clear.
func encryptObject(h *crypt.StandardSecurityHandler, obj generic.PdfObject, objNum, genNum int) (generic.PdfObject, error) {
	clone := obj.Clone()
	if err := encryptInPlace(h, clone, objNum, genNum); err != nil {
		return nil, err
	}
	return clone, nil
}

func encryptInPlace(h *crypt.StandardSecurityHandler, obj generic.PdfObject, objNum, genNum int) error {
	switch o := obj.(type) {
	case *generic.StringObject:
		enc, err := h.EncryptString(o.Value, objNum, genNum)
		if err != nil {
			return err
		}
		o.Value, o.IsHex = enc, true
	case generic.ArrayObject:
		for _, item := range o {
			if err := encryptInPlace(h, item, objNum, genNum); err != nil {
				return err
			}
		}
	case *generic.DictionaryObject:
		isSig := o.Has("ByteRange") && o.Has("Contents")
		for _, key := range o.Keys() {
			if isSig && key == "Contents" {
				continue
			}
			if err := encryptInPlace(h, o.Get(key), objNum, genNum); err != nil {
				return err
			}
		}
	case *generic.StreamObject:
		typ := o.Dictionary.GetName("Type")
		if typ == "XRef" {
			return nil
		}
		if err := encryptInPlace(h, o.Dictionary, objNum, genNum); err != nil {
			return err
		}
		if typ == "Metadata" && !h.EncryptMetadata {
			return nil
		}
		enc, err := h.EncryptStream(o.Data, objNum, genNum)
		if err != nil {
			return err
		}
		o.Data = enc
	}
	return nil
}
