// Package extensions provides PDF developer extension handling.
package extensions

import (
	"errors"
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// ErrInvalidExtensions is returned when an /Extensions entry has an
// unexpected shape.
var ErrInvalidExtensions = errors.New("invalid developer extensions dictionary")

// DevExtensionMultivalued indicates how an extension should behave
// with respect to multivalued extensions in ISO 32000-2:2020.
type DevExtensionMultivalued int

const (
	// ExtensionAlways always serializes this extension as an array.
	ExtensionAlways DevExtensionMultivalued = iota

	// ExtensionNever never serializes this extension as an array.
	ExtensionNever

	// ExtensionMaybe is single-valued unless a non-comparable extension
	// with the same prefix is already present.
	ExtensionMaybe
)

// DeveloperExtension represents a PDF developer extension designation.
type DeveloperExtension struct {
	// PrefixName is the registered developer prefix.
	PrefixName string

	// BaseVersion is the base version onto which the extension applies.
	BaseVersion string

	// ExtensionLevel is the extension level number.
	ExtensionLevel int

	// URL is an optional URL linking to the extension's documentation.
	URL string

	// CompareByLevel indicates whether extension levels of the same
	// prefix form a version sequence. When they do, a higher level
	// already in the file is kept and a lower one is replaced.
	CompareByLevel bool

	Multivalued DevExtensionMultivalued
}

// ESICExtension returns the ETSI extension designation used by PAdES.
// Level 5 announces DSS/VRI validation data.
func ESICExtension(level int) *DeveloperExtension {
	return &DeveloperExtension{
		PrefixName:     "ESIC",
		BaseVersion:    "1.7",
		ExtensionLevel: level,
		CompareByLevel: true,
		Multivalued:    ExtensionNever,
	}
}

// ADBEExtension returns the Adobe developer extension for a given level.
func ADBEExtension(level int) *DeveloperExtension {
	return &DeveloperExtension{
		PrefixName:     "ADBE",
		BaseVersion:    "1.7",
		ExtensionLevel: level,
		CompareByLevel: true,
		Multivalued:    ExtensionNever,
	}
}

// AsPdfObject formats the extension for the /Extensions dictionary.
func (e *DeveloperExtension) AsPdfObject() *generic.DictionaryObject {
	result := generic.NewDictionary()
	result.Set("Type", generic.NameObject("DeveloperExtensions"))
	result.Set("BaseVersion", generic.NameObject(e.BaseVersion))
	result.Set("ExtensionLevel", generic.IntegerObject(e.ExtensionLevel))
	if e.URL != "" {
		result.Set("URL", generic.NewTextString(e.URL))
	}
	return result
}

// subsumes reports whether this extension makes existing redundant.
func (e *DeveloperExtension) subsumes(existing *DeveloperExtension) bool {
	return e.CompareByLevel && e.BaseVersion == existing.BaseVersion &&
		existing.ExtensionLevel <= e.ExtensionLevel
}

// subsumedBy reports whether existing already covers this extension.
func (e *DeveloperExtension) subsumedBy(existing *DeveloperExtension) bool {
	return e.CompareByLevel && e.BaseVersion == existing.BaseVersion &&
		existing.ExtensionLevel >= e.ExtensionLevel
}

// Parse reads the designations stored under one prefix of an
// /Extensions dictionary. value is either a dictionary or an array of
// dictionaries.
func Parse(prefix string, value generic.PdfObject) ([]*DeveloperExtension, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case *generic.DictionaryObject:
		return []*DeveloperExtension{parseExtensionDict(prefix, v)}, nil
	case generic.ArrayObject:
		result := make([]*DeveloperExtension, 0, len(v))
		for _, item := range v {
			d, ok := item.(*generic.DictionaryObject)
			if !ok {
				return nil, fmt.Errorf("%w: /%s holds %T", ErrInvalidExtensions, prefix, item)
			}
			result = append(result, parseExtensionDict(prefix, d))
		}
		return result, nil
	default:
		return nil, fmt.Errorf("%w: /%s holds %T", ErrInvalidExtensions, prefix, value)
	}
}

func parseExtensionDict(prefix string, dict *generic.DictionaryObject) *DeveloperExtension {
	ext := &DeveloperExtension{
		PrefixName:  prefix,
		BaseVersion: dict.GetName("BaseVersion"),
		Multivalued: ExtensionMaybe,
	}
	if level, ok := dict.GetInt("ExtensionLevel"); ok {
		ext.ExtensionLevel = int(level)
	}
	if url := dict.GetString("URL"); url != nil {
		ext.URL = url.Text()
	}
	return ext
}

// Register records ext in the /Extensions dictionary extDict, which is
// modified in place. It reports whether extDict changed; an extension
// already covered by an equal or higher level is left alone.
func Register(extDict *generic.DictionaryObject, ext *DeveloperExtension) (bool, error) {
	existing, err := Parse(ext.PrefixName, extDict.Get(ext.PrefixName))
	if err != nil {
		return false, err
	}

	kept := make([]*DeveloperExtension, 0, len(existing))
	for _, e := range existing {
		if ext.subsumedBy(e) {
			return false, nil
		}
		if !ext.subsumes(e) {
			kept = append(kept, e)
		}
	}
	kept = append(kept, ext)

	multivalued := ext.Multivalued == ExtensionAlways ||
		(ext.Multivalued == ExtensionMaybe && len(kept) > 1)
	if !multivalued {
		extDict.Set(ext.PrefixName, ext.AsPdfObject())
		return true, nil
	}

	arr := make(generic.ArrayObject, 0, len(kept))
	for _, e := range kept {
		arr = append(arr, e.AsPdfObject())
	}
	extDict.Set(ext.PrefixName, arr)
	return true, nil
}
