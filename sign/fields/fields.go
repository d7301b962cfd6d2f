// Package fields provides signature field management utilities.
package fields

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

// Common errors
var (
	ErrInvalidFieldSpec = errors.New("invalid signature field specification")
	ErrInvalidAcroForm  = errors.New("invalid AcroForm structure")
	ErrInvalidSubFilter = errors.New("unsupported signature sub-filter")
)

// SigSeedSubFilter represents allowed subfilter values.
type SigSeedSubFilter string

const (
	SubFilterAdobePKCS7Detached SigSeedSubFilter = "adbe.pkcs7.detached"
	SubFilterETSICAdESDetached  SigSeedSubFilter = "ETSI.CAdES.detached"
)

// ParseSubFilter validates a sub-filter name.
func ParseSubFilter(name string) (SigSeedSubFilter, error) {
	switch sf := SigSeedSubFilter(name); sf {
	case SubFilterAdobePKCS7Detached, SubFilterETSICAdESDetached:
		return sf, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSubFilter, name)
}

// MDPPerm is the DocMDP permission level of a certification signature.
type MDPPerm int

const (
	MDPPermNoChanges MDPPerm = 1
	MDPPermFillForms MDPPerm = 2
	MDPPermAnnotate  MDPPerm = 3
)

// AcroForm /SigFlags bits.
const (
	SigFlagSignaturesExist = 1
	SigFlagAppendOnly      = 2
)

// Annotation flags Print (4) and Locked (128).
const invisibleWidgetFlags = 132

// Writer is the part of an incremental writer needed to wire a signature
// field into a document.
type Writer interface {
	reader.PdfHandler
	AddObject(obj generic.PdfObject) generic.Reference
	UpdateObject(ref generic.Reference, obj generic.PdfObject)
	UpdateDict(ref generic.Reference) (*generic.DictionaryObject, error)
	UpdateRoot() (*generic.DictionaryObject, error)
}

// SigFieldSpec specifies a signature field to create.
type SigFieldSpec struct {
	// SigFieldName is the partial name of the field.
	SigFieldName string

	// Page carries the widget annotation.
	Page reader.Page

	// Value is the signature dictionary the field points to.
	Value generic.Reference
}

// NextFieldName returns prefix followed by the smallest positive number
// that does not collide with an existing field name.
func NextFieldName(existing []string, prefix string) string {
	taken := make(map[string]bool, len(existing))
	for _, name := range existing {
		taken[name] = true
	}
	for i := 1; ; i++ {
		name := prefix + strconv.Itoa(i)
		if !taken[name] {
			return name
		}
	}
}

// CreateSignatureField creates an invisible signature field merged with
// its widget annotation.
func CreateSignatureField(spec *SigFieldSpec) (*generic.DictionaryObject, error) {
	if spec.SigFieldName == "" {
		return nil, fmt.Errorf("%w: field name is required", ErrInvalidFieldSpec)
	}
	if spec.Page.Ref.ObjectNumber == 0 {
		return nil, fmt.Errorf("%w: page reference is required", ErrInvalidFieldSpec)
	}

	field := generic.NewDictionary()
	field.Set("Type", generic.NameObject("Annot"))
	field.Set("Subtype", generic.NameObject("Widget"))
	field.Set("FT", generic.NameObject("Sig"))
	field.Set("T", generic.NewTextString(spec.SigFieldName))
	field.Set("Rect", generic.NewArray(
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(0), generic.IntegerObject(0),
	))
	field.Set("F", generic.IntegerObject(invisibleWidgetFlags))
	field.Set("P", spec.Page.Ref)
	field.Set("V", spec.Value)
	return field, nil
}

// AddSignatureField adds the field to the page's /Annots and to the
// AcroForm /Fields, creating the AcroForm when the document has none.
func AddSignatureField(w Writer, spec *SigFieldSpec) (generic.Reference, error) {
	field, err := CreateSignatureField(spec)
	if err != nil {
		return generic.Reference{}, err
	}
	ref := w.AddObject(field)

	page, err := w.UpdateDict(spec.Page.Ref)
	if err != nil {
		return generic.Reference{}, fmt.Errorf("failed to update page: %w", err)
	}
	if err := appendToArray(w, page, "Annots", ref); err != nil {
		return generic.Reference{}, err
	}

	acroForm, err := updateAcroForm(w)
	if err != nil {
		return generic.Reference{}, err
	}
	if err := appendToArray(w, acroForm, "Fields", ref); err != nil {
		return generic.Reference{}, err
	}
	EnsureSigFlags(acroForm, SigFlagSignaturesExist|SigFlagAppendOnly)
	return ref, nil
}

func updateAcroForm(w Writer) (*generic.DictionaryObject, error) {
	root := reader.ResolveDict(w, w.RootRef())
	if root == nil {
		return nil, fmt.Errorf("%w: catalog not found", ErrInvalidAcroForm)
	}
	if ref, ok := root.Get("AcroForm").(generic.Reference); ok {
		return w.UpdateDict(ref)
	}

	root, err := w.UpdateRoot()
	if err != nil {
		return nil, err
	}
	switch af := root.Get("AcroForm").(type) {
	case *generic.DictionaryObject:
		return af, nil
	case nil:
		acroForm := generic.NewDictionary()
		acroForm.Set("Fields", generic.NewArray())
		root.Set("AcroForm", w.AddObject(acroForm))
		return acroForm, nil
	default:
		return nil, fmt.Errorf("%w: /AcroForm is %T", ErrInvalidAcroForm, af)
	}
}

// appendToArray appends item to the array under key in dict, following an
// indirect array when there is one.
func appendToArray(w Writer, dict *generic.DictionaryObject, key string, item generic.PdfObject) error {
	switch v := dict.Get(key).(type) {
	case nil:
		dict.Set(key, generic.NewArray(item))
	case generic.ArrayObject:
		dict.Set(key, append(v, item))
	case generic.Reference:
		arr := reader.ResolveArray(w, v)
		if arr == nil {
			return fmt.Errorf("%w: /%s does not point to an array", ErrInvalidAcroForm, key)
		}
		arr = arr.Clone().(generic.ArrayObject)
		w.UpdateObject(v, append(arr, item))
	default:
		return fmt.Errorf("%w: /%s is %T", ErrInvalidAcroForm, key, v)
	}
	return nil
}

// EnsureSigFlags ensures proper SigFlags are set on the AcroForm.
func EnsureSigFlags(acroFormDict *generic.DictionaryObject, flags int) {
	current, _ := acroFormDict.GetInt("SigFlags")
	acroFormDict.Set("SigFlags", generic.IntegerObject(int(current)|flags))
}

// DocMDPReference returns the signature reference dictionary that makes a
// signature a certification signature with the given permissions.
func DocMDPReference(perm MDPPerm) *generic.DictionaryObject {
	params := generic.NewDictionary()
	params.Set("Type", generic.NameObject("TransformParams"))
	params.Set("P", generic.IntegerObject(perm))
	params.Set("V", generic.NameObject("1.2"))

	ref := generic.NewDictionary()
	ref.Set("Type", generic.NameObject("SigRef"))
	ref.Set("TransformMethod", generic.NameObject("DocMDP"))
	ref.Set("TransformParams", params)
	return ref
}

// SetDocMDP points the catalog's /Perms /DocMDP at sigRef.
func SetDocMDP(w Writer, sigRef generic.Reference) error {
	root, err := w.UpdateRoot()
	if err != nil {
		return err
	}
	switch perms := root.Get("Perms").(type) {
	case nil:
		d := generic.NewDictionary()
		d.Set("DocMDP", sigRef)
		root.Set("Perms", d)
	case *generic.DictionaryObject:
		perms.Set("DocMDP", sigRef)
	case generic.Reference:
		d, err := w.UpdateDict(perms)
		if err != nil {
			return fmt.Errorf("failed to update /Perms: %w", err)
		}
		d.Set("DocMDP", sigRef)
	default:
		return fmt.Errorf("%w: /Perms is %T", ErrInvalidAcroForm, perms)
	}
	return nil
}
