package reader

import (
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// PdfHandler provides a general interface for querying objects
// in PDF readers and incremental writers alike.
type PdfHandler interface {
	// GetObject retrieves the object with the given number.
	GetObject(objNum int) (generic.PdfObject, error)

	// TrailerView returns a view of the document trailer.
	TrailerView() *generic.TrailerDictionary

	// RootRef returns a reference to the document catalog.
	RootRef() generic.Reference
}

// Resolve dereferences obj through h. Non-reference objects are returned
// unchanged.
func Resolve(h PdfHandler, obj generic.PdfObject) (generic.PdfObject, error) {
	ref, ok := obj.(generic.Reference)
	if !ok {
		return obj, nil
	}
	return h.GetObject(ref.ObjectNumber)
}

// ResolveDict dereferences obj and returns it as a dictionary, or nil.
// Stream dictionaries are not returned.
func ResolveDict(h PdfHandler, obj generic.PdfObject) *generic.DictionaryObject {
	resolved, err := Resolve(h, obj)
	if err != nil {
		return nil
	}
	dict, _ := resolved.(*generic.DictionaryObject)
	return dict
}

// ResolveArray dereferences obj and returns it as an array, or nil.
func ResolveArray(h PdfHandler, obj generic.PdfObject) generic.ArrayObject {
	resolved, err := Resolve(h, obj)
	if err != nil {
		return nil
	}
	arr, _ := resolved.(generic.ArrayObject)
	return arr
}

// BasePdfHandler provides common functionality for PdfHandler implementations.
type BasePdfHandler struct {
	trailer *generic.TrailerDictionary
}

// NewBasePdfHandler creates a new base PDF handler.
func NewBasePdfHandler(trailer *generic.TrailerDictionary) *BasePdfHandler {
	return &BasePdfHandler{trailer: trailer}
}

// TrailerView returns a view of the document trailer.
func (h *BasePdfHandler) TrailerView() *generic.TrailerDictionary {
	return h.trailer
}

// RootRef returns a reference to the document catalog.
func (h *BasePdfHandler) RootRef() generic.Reference {
	if h.trailer == nil {
		return generic.Reference{}
	}
	if ref := h.trailer.GetRoot(); ref != nil {
		return *ref
	}
	return generic.Reference{}
}

// DocumentID returns both halves of the trailer /ID, or nil when absent.
func (h *BasePdfHandler) DocumentID() ([]byte, []byte) {
	if h.trailer == nil {
		return nil, nil
	}
	idArray := h.trailer.GetArray("ID")
	if len(idArray) < 2 {
		return nil, nil
	}

	var id1, id2 []byte
	if str, ok := idArray[0].(*generic.StringObject); ok {
		id1 = str.Value
	}
	if str, ok := idArray[1].(*generic.StringObject); ok {
		id2 = str.Value
	}
	return id1, id2
}

// Page is a leaf of the page tree together with its reference.
type Page struct {
	Ref  generic.Reference
	Dict *generic.DictionaryObject
}

// PageTreeWalker traverses the page tree in document order.
type PageTreeWalker struct {
	handler PdfHandler
	visited map[int]bool
}

// NewPageTreeWalker creates a new page tree walker.
func NewPageTreeWalker(handler PdfHandler) *PageTreeWalker {
	return &PageTreeWalker{handler: handler}
}

// Pages returns every page leaf. Cycles in /Kids are broken silently.
func (w *PageTreeWalker) Pages() ([]Page, error) {
	root := ResolveDict(w.handler, w.handler.RootRef())
	if root == nil {
		return nil, fmt.Errorf("%w: document catalog", ErrObjectNotFound)
	}
	pagesRef, ok := root.Get("Pages").(generic.Reference)
	if !ok {
		return nil, fmt.Errorf("%w: /Pages must be an indirect reference", ErrInvalidPDF)
	}

	w.visited = make(map[int]bool)
	var pages []Page
	if err := w.walk(pagesRef, &pages, 0); err != nil {
		return nil, err
	}
	return pages, nil
}

// FirstPage returns the first page leaf.
func (w *PageTreeWalker) FirstPage() (Page, error) {
	pages, err := w.Pages()
	if err != nil {
		return Page{}, err
	}
	if len(pages) == 0 {
		return Page{}, fmt.Errorf("%w: document has no pages", ErrInvalidPDF)
	}
	return pages[0], nil
}

const maxPageTreeDepth = 64

func (w *PageTreeWalker) walk(ref generic.Reference, pages *[]Page, depth int) error {
	if depth > maxPageTreeDepth {
		return fmt.Errorf("%w: page tree too deep", ErrInvalidPDF)
	}
	if w.visited[ref.ObjectNumber] {
		return nil
	}
	w.visited[ref.ObjectNumber] = true

	node := ResolveDict(w.handler, ref)
	if node == nil {
		return nil
	}

	kids, hasKids := node.Get("Kids"), node.Has("Kids")
	if node.GetName("Type") == "Page" || !hasKids {
		*pages = append(*pages, Page{Ref: ref, Dict: node})
		return nil
	}

	for _, kid := range ResolveArray(w.handler, kids) {
		kidRef, ok := kid.(generic.Reference)
		if !ok {
			continue
		}
		if err := w.walk(kidRef, pages, depth+1); err != nil {
			return err
		}
	}
	return nil
}
