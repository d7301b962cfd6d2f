package reader

import (
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// SignatureField is a signature form field whose value carries a
// /ByteRange and /Contents.
type SignatureField struct {
	// Name is the fully qualified field name.
	Name     string
	FieldRef *generic.Reference
	Field    *generic.DictionaryObject
	SigRef   *generic.Reference
	SigDict  *generic.DictionaryObject

	// ByteRange is the raw [offset1 length1 offset2 length2] array.
	ByteRange [4]int64
	// Contents holds the decoded /Contents string.
	Contents []byte
}

// IsPending reports whether the signature slot has not been filled yet.
func (f *SignatureField) IsPending() bool {
	for _, b := range f.Contents {
		if b != 0 {
			return false
		}
	}
	return true
}

// Reason returns the /Reason entry, or "".
func (f *SignatureField) Reason() string { return f.textEntry("Reason") }

// Location returns the /Location entry, or "".
func (f *SignatureField) Location() string { return f.textEntry("Location") }

// ContactInfo returns the /ContactInfo entry, or "".
func (f *SignatureField) ContactInfo() string { return f.textEntry("ContactInfo") }

// SigningTime returns the raw /M entry, or "".
func (f *SignatureField) SigningTime() string { return f.textEntry("M") }

// SubFilter returns the /SubFilter name.
func (f *SignatureField) SubFilter() string { return f.SigDict.GetName("SubFilter") }

func (f *SignatureField) textEntry(key string) string {
	if s := f.SigDict.GetString(key); s != nil {
		return s.Text()
	}
	return ""
}

// formField is one node of the AcroForm field tree.
type formField struct {
	name string
	ref  *generic.Reference
	dict *generic.DictionaryObject
	ft   string
}

const maxFieldDepth = 32

// walkFields visits terminal and non-terminal fields depth first in
// /Fields order, inheriting /FT and building qualified names.
func (r *PdfFileReader) walkFields(visit func(f formField)) {
	if r.AcroForm == nil {
		return
	}
	visited := make(map[int]bool)

	var walk func(obj generic.PdfObject, parentName, parentFT string, depth int)
	walk = func(obj generic.PdfObject, parentName, parentFT string, depth int) {
		if depth > maxFieldDepth {
			return
		}
		var ref *generic.Reference
		if rf, ok := obj.(generic.Reference); ok {
			if visited[rf.ObjectNumber] {
				return
			}
			visited[rf.ObjectNumber] = true
			ref = &rf
		}
		dict := ResolveDict(r, obj)
		if dict == nil {
			return
		}

		partial := dict.GetString("T")
		if partial == nil {
			// A pure widget annotation, not a field.
			return
		}
		name := partial.Text()
		if parentName != "" {
			name = parentName + "." + name
		}
		ft := dict.GetName("FT")
		if ft == "" {
			ft = parentFT
		}

		visit(formField{name: name, ref: ref, dict: dict, ft: ft})

		for _, kid := range ResolveArray(r, dict.Get("Kids")) {
			walk(kid, name, ft, depth+1)
		}
	}

	for _, field := range ResolveArray(r, r.AcroForm.Get("Fields")) {
		walk(field, "", "", 0)
	}
}

// FieldNames returns the qualified names of all form fields.
func (r *PdfFileReader) FieldNames() []string {
	var names []string
	r.walkFields(func(f formField) {
		names = append(names, f.name)
	})
	return names
}

// SignatureFields returns all signature fields with a value, in field
// tree order.
func (r *PdfFileReader) SignatureFields() ([]*SignatureField, error) {
	var fields []*SignatureField
	var firstErr error

	r.walkFields(func(f formField) {
		if f.ft != "Sig" || firstErr != nil {
			return
		}
		v := f.dict.Get("V")
		sigDict := ResolveDict(r, v)
		if sigDict == nil || !isSignatureDict(sigDict) {
			return
		}

		field := &SignatureField{Name: f.name, FieldRef: f.ref, Field: f.dict, SigDict: sigDict}
		if ref, ok := v.(generic.Reference); ok {
			field.SigRef = &ref
		}

		br := sigDict.GetArray("ByteRange")
		if len(br) != 4 {
			firstErr = fmt.Errorf("%w: field %s has a malformed /ByteRange", ErrInvalidPDF, f.name)
			return
		}
		for i, item := range br {
			n, ok := item.(generic.IntegerObject)
			if !ok {
				firstErr = fmt.Errorf("%w: field %s has a non-integer /ByteRange", ErrInvalidPDF, f.name)
				return
			}
			field.ByteRange[i] = int64(n)
		}
		if contents := sigDict.GetString("Contents"); contents != nil {
			field.Contents = contents.Value
		}
		fields = append(fields, field)
	})

	if firstErr != nil {
		return nil, firstErr
	}
	return fields, nil
}

// DocMDPSignature returns the certification signature dictionary
// referenced from /Perms /DocMDP, or nil.
func (r *PdfFileReader) DocMDPSignature() *generic.DictionaryObject {
	perms := ResolveDict(r, r.Root.Get("Perms"))
	if perms == nil {
		return nil
	}
	return ResolveDict(r, perms.Get("DocMDP"))
}

// CertificationLevel returns the DocMDP permission level P (1 to 3) of the
// certification signature, or 0 when the document is not certified.
func (r *PdfFileReader) CertificationLevel() int {
	sig := r.DocMDPSignature()
	if sig == nil {
		return 0
	}
	for _, item := range ResolveArray(r, sig.Get("Reference")) {
		ref := ResolveDict(r, item)
		if ref == nil || ref.GetName("TransformMethod") != "DocMDP" {
			continue
		}
		params := ResolveDict(r, ref.Get("TransformParams"))
		if params == nil {
			return 2
		}
		p, ok := params.GetInt("P")
		if !ok || p < 1 || p > 3 {
			return 2
		}
		return int(p)
	}
	return 0
}

// HasDSS reports whether the catalog carries a Document Security Store.
func (r *PdfFileReader) HasDSS() bool {
	return r.Root.Has("DSS")
}
