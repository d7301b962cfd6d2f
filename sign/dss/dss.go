// Package dss provides Document Security Store (DSS) support for PAdES.
package dss

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/georgepadayatti/pdfsignatures/pdf/filters"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/pdf/writer"
)

// Common errors
var (
	ErrNoDSS      = errors.New("no DSS found in document")
	ErrInvalidDSS = errors.New("invalid DSS structure")
)

// DSS is a writable view of the catalog's /DSS dictionary inside an
// incremental revision.
type DSS struct {
	dict *generic.DictionaryObject
	w    *writer.IncrementalPdfFileWriter
}

// Load returns the document's DSS, creating an empty one when there is
// none. Existing entries are kept.
func Load(w *writer.IncrementalPdfFileWriter) (*DSS, error) {
	root, err := w.UpdateRoot()
	if err != nil {
		return nil, err
	}
	if !root.Has("DSS") {
		dict := generic.NewDictionary()
		dict.Set("Type", generic.NameObject("DSS"))
		root.Set("DSS", w.AddObject(dict))
		return &DSS{dict: dict, w: w}, nil
	}
	dict, err := writableDict(w, root, "DSS")
	if err != nil {
		return nil, err
	}
	return &DSS{dict: dict, w: w}, nil
}

// VRIKey returns the /VRI key of a signature: the upper-case hex SHA-1 of
// its /Contents bytes.
func VRIKey(contents []byte) string {
	sum := sha1.Sum(contents)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// AddOCSPs appends references to the top-level /OCSPs array.
func (d *DSS) AddOCSPs(refs []generic.Reference) error {
	return appendRefs(d.w, d.dict, "OCSPs", refs)
}

// AddCRLs appends references to the top-level /CRLs array.
func (d *DSS) AddCRLs(refs []generic.Reference) error {
	return appendRefs(d.w, d.dict, "CRLs", refs)
}

// AddValidation attaches OCSP and CRL streams to the VRI entry of the
// signature whose /Contents is sigContents.
func (d *DSS) AddValidation(sigContents []byte, ocsps, crls []generic.Reference) error {
	vri, err := writableDict(d.w, d.dict, "VRI")
	if err != nil {
		return err
	}
	entry, err := writableDict(d.w, vri, VRIKey(sigContents))
	if err != nil {
		return err
	}
	if err := appendRefs(d.w, entry, "OCSP", ocsps); err != nil {
		return err
	}
	return appendRefs(d.w, entry, "CRL", crls)
}

// writableDict returns the dictionary under key in parent, creating a
// direct one when missing. Indirect dictionaries are updated through w.
func writableDict(w *writer.IncrementalPdfFileWriter, parent *generic.DictionaryObject, key string) (*generic.DictionaryObject, error) {
	switch v := parent.Get(key).(type) {
	case nil:
		dict := generic.NewDictionary()
		parent.Set(key, dict)
		return dict, nil
	case *generic.DictionaryObject:
		return v, nil
	case generic.Reference:
		dict, err := w.UpdateDict(v)
		if err != nil {
			return nil, fmt.Errorf("%w: /%s: %w", ErrInvalidDSS, key, err)
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("%w: /%s is %T", ErrInvalidDSS, key, v)
	}
}

func appendRefs(w *writer.IncrementalPdfFileWriter, dict *generic.DictionaryObject, key string, refs []generic.Reference) error {
	if len(refs) == 0 {
		return nil
	}
	items := make(generic.ArrayObject, len(refs))
	for i, ref := range refs {
		items[i] = ref
	}

	switch v := dict.Get(key).(type) {
	case nil:
		dict.Set(key, items)
	case generic.ArrayObject:
		dict.Set(key, append(v, items...))
	case generic.Reference:
		arr := reader.ResolveArray(w, v)
		if arr == nil {
			return fmt.Errorf("%w: /%s does not point to an array", ErrInvalidDSS, key)
		}
		w.UpdateObject(v, append(arr.Clone().(generic.ArrayObject), items...))
	default:
		return fmt.Errorf("%w: /%s is %T", ErrInvalidDSS, key, v)
	}
	return nil
}

// Contents is a read-only snapshot of a DSS.
type Contents struct {
	OCSPs [][]byte
	CRLs  [][]byte
	VRI   map[string]*VRIEntry
}

// VRIEntry represents Validation Related Information for a signature.
type VRIEntry struct {
	OCSPs [][]byte
	CRLs  [][]byte
}

// Read returns the DSS of the document read through h.
func Read(h reader.PdfHandler) (*Contents, error) {
	root := reader.ResolveDict(h, h.RootRef())
	if root == nil {
		return nil, fmt.Errorf("%w: catalog not found", ErrInvalidDSS)
	}
	dict := reader.ResolveDict(h, root.Get("DSS"))
	if dict == nil {
		return nil, ErrNoDSS
	}

	c := &Contents{VRI: make(map[string]*VRIEntry)}
	var err error
	if c.OCSPs, err = readStreams(h, dict.Get("OCSPs")); err != nil {
		return nil, err
	}
	if c.CRLs, err = readStreams(h, dict.Get("CRLs")); err != nil {
		return nil, err
	}

	if vri := reader.ResolveDict(h, dict.Get("VRI")); vri != nil {
		for _, key := range vri.Keys() {
			entryDict := reader.ResolveDict(h, vri.Get(key))
			if entryDict == nil {
				return nil, fmt.Errorf("%w: VRI entry %s is not a dictionary", ErrInvalidDSS, key)
			}
			entry := &VRIEntry{}
			if entry.OCSPs, err = readStreams(h, entryDict.Get("OCSP")); err != nil {
				return nil, err
			}
			if entry.CRLs, err = readStreams(h, entryDict.Get("CRL")); err != nil {
				return nil, err
			}
			c.VRI[key] = entry
		}
	}
	return c, nil
}

func readStreams(h reader.PdfHandler, obj generic.PdfObject) ([][]byte, error) {
	var out [][]byte
	for _, item := range reader.ResolveArray(h, obj) {
		resolved, err := reader.Resolve(h, item)
		if err != nil {
			return nil, err
		}
		stream, ok := resolved.(*generic.StreamObject)
		if !ok {
			return nil, fmt.Errorf("%w: expected stream, got %T", ErrInvalidDSS, resolved)
		}
		data, err := filters.DecodeStream(stream)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDSS, err)
		}
		out = append(out, data)
	}
	return out, nil
}
