package writer

import (
	"bytes"
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

const byteRangeFormat = "[%010d %010d %010d %010d]"

// SignaturePlaceholder holds signature placeholder information.
type SignaturePlaceholder struct {
	SigDict    *generic.DictionaryObject
	SigDictRef generic.Reference
	// ContentsSize is the reserved signature size in bytes; the slot
	// holds twice as many hex digits.
	ContentsSize int
}

// PrepareSignature adds sigDict to the revision with /ByteRange and
// /Contents entries that WriteWithSignature fills in.
func (w *IncrementalPdfFileWriter) PrepareSignature(sigDict *generic.DictionaryObject, contentsSize int) *SignaturePlaceholder {
	sigDict.Set("ByteRange", generic.NewArray(
		generic.IntegerObject(0), generic.IntegerObject(0),
		generic.IntegerObject(0), generic.IntegerObject(0),
	))
	sigDict.Set("Contents", generic.NewHexString(make([]byte, contentsSize)))

	return &SignaturePlaceholder{
		SigDict:      sigDict,
		SigDictRef:   w.AddObject(sigDict),
		ContentsSize: contentsSize,
	}
}

// SignatureRevision is a rendered revision whose /Contents slot is still
// open. The /ByteRange is final.
type SignatureRevision struct {
	data      []byte
	ByteRange [4]int64
	slot      contentsSlot
}

// WriteWithSignature renders the revision, patches the /ByteRange of the
// placeholder and returns the revision for signing.
func (w *IncrementalPdfFileWriter) WriteWithSignature(placeholder *SignaturePlaceholder) (*SignatureRevision, error) {
	data, slot, err := w.render(placeholder)
	if err != nil {
		return nil, err
	}

	contentsEnd := slot.start + int64(slot.hexLen) + 2
	byteRange := [4]int64{0, slot.start, contentsEnd, int64(len(data)) - contentsEnd}
	patched := fmt.Sprintf(byteRangeFormat, byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(data[slot.byteRange:], patched)

	return &SignatureRevision{data: data, ByteRange: byteRange, slot: *slot}, nil
}

// PreCloseHashable returns the bytes covered by the /ByteRange, i.e. the
// whole revision except the /Contents hex string and its delimiters.
func (s *SignatureRevision) PreCloseHashable() []byte {
	br := s.ByteRange
	out := make([]byte, 0, br[1]+br[3])
	out = append(out, s.data[br[0]:br[0]+br[1]]...)
	out = append(out, s.data[br[2]:br[2]+br[3]]...)
	return out
}

// Close returns the complete file with the /Contents slot left as
// all-zero filler.
func (s *SignatureRevision) Close() []byte {
	out := bytes.Clone(s.data)
	slot := out[s.slot.start+1 : s.slot.start+1+int64(s.slot.hexLen)]
	for i := range slot {
		slot[i] = '0'
	}
	return out
}
