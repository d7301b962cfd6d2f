package signers

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"log"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/pdf/writer"
	"github.com/georgepadayatti/pdfsignatures/sign/fields"
)

// PlaceholderBuilder appends a revision holding an empty, fixed-size
// signature slot.
type PlaceholderBuilder struct {
	// EstimatedSize is the number of signature bytes reserved.
	EstimatedSize      int
	CertificationLevel CertificationLevel
	Metadata           SignatureMetadata

	Filter      string
	SubFilter   fields.SigSeedSubFilter
	FieldPrefix string

	Clock  clockwork.Clock
	Logger *log.Logger
}

// NewPlaceholderBuilder returns a builder with default settings.
func NewPlaceholderBuilder() *PlaceholderBuilder {
	return &PlaceholderBuilder{
		EstimatedSize: DefaultEstimatedSize,
		Filter:        DefaultFilter,
		SubFilter:     DefaultSigSubFilter,
		FieldPrefix:   DefaultFieldPrefix,
		Clock:         clockwork.NewRealClock(),
		Logger:        log.New(io.Discard, "", 0),
	}
}

// Placeholder is the result of PlaceholderBuilder.Build.
type Placeholder struct {
	// Content is the complete document with the zero-filled slot.
	Content []byte
	// Hashable is the new revision's bytes outside the slot.
	Hashable  []byte
	FieldName string
	ByteRange ByteRange
}

// Build appends the placeholder revision to the document read by r.
func (b *PlaceholderBuilder) Build(r *reader.PdfFileReader) (*Placeholder, error) {
	if b.EstimatedSize <= 0 {
		return nil, fmt.Errorf("estimated size must be positive, got %d", b.EstimatedSize)
	}
	current := CertificationLevel(r.CertificationLevel())
	if b.CertificationLevel != NotCertified && current != NotCertified {
		return nil, fmt.Errorf("%w: level %s", ErrCertificationLevel, current)
	}

	w, err := writer.NewIncrementalPdfFileWriter(r, writer.WithClock(b.Clock))
	if err != nil {
		return nil, err
	}

	sigDict := generic.NewDictionary()
	sigDict.Set("Type", generic.NameObject("Sig"))
	sigDict.Set("Filter", generic.NameObject(b.Filter))
	sigDict.Set("SubFilter", generic.NameObject(b.SubFilter))
	b.Metadata.apply(sigDict)
	if b.CertificationLevel != NotCertified {
		sigDict.Set("Reference", generic.NewArray(fields.DocMDPReference(fields.MDPPerm(b.CertificationLevel))))
	}
	placeholder := w.PrepareSignature(sigDict, b.EstimatedSize)

	page, err := reader.NewPageTreeWalker(w).FirstPage()
	if err != nil {
		return nil, fmt.Errorf("failed to find first page: %w", err)
	}
	name := fields.NextFieldName(r.FieldNames(), b.FieldPrefix)
	if _, err := fields.AddSignatureField(w, &fields.SigFieldSpec{
		SigFieldName: name,
		Page:         page,
		Value:        placeholder.SigDictRef,
	}); err != nil {
		return nil, fmt.Errorf("failed to add signature field: %w", err)
	}
	if b.CertificationLevel != NotCertified {
		if err := fields.SetDocMDP(w, placeholder.SigDictRef); err != nil {
			return nil, fmt.Errorf("failed to register certification: %w", err)
		}
	}
	if err := w.TouchModDate(); err != nil {
		return nil, err
	}

	rev, err := w.WriteWithSignature(placeholder)
	if err != nil {
		return nil, fmt.Errorf("failed to write signature revision: %w", err)
	}
	hashable := rev.PreCloseHashable()

	if current == CertifiedNoChangesAllowed {
		return nil, ErrWriteNotAllowed
	}

	content := rev.Close()
	b.Logger.Printf("placeholder: field %s reserved %d bytes", name, b.EstimatedSize)
	return &Placeholder{
		Content:   content,
		Hashable:  hashable,
		FieldName: name,
		ByteRange: ByteRangeFromPDF(rev.ByteRange),
	}, nil
}

// SignatureEmbedder writes an externally computed signature into every
// signature slot of a document.
type SignatureEmbedder struct {
	Logger *log.Logger
}

// NewSignatureEmbedder returns an embedder that discards its log output.
func NewSignatureEmbedder() *SignatureEmbedder {
	return &SignatureEmbedder{Logger: log.New(io.Discard, "", 0)}
}

// Embed returns a copy of the document read by r with signature written
// into each slot, and the recomputed hashable bytes. The document length
// does not change. Every slot is checked before any byte is written.
func (e *SignatureEmbedder) Embed(r *reader.PdfFileReader, signature []byte) (content, hashable []byte, err error) {
	if CertificationLevel(r.CertificationLevel()) == CertifiedNoChangesAllowed {
		return nil, nil, ErrWriteNotAllowed
	}

	sigFields, err := r.SignatureFields()
	if err != nil {
		return nil, nil, err
	}
	data := r.Data()
	ranges := make([]ByteRange, len(sigFields))
	for i, f := range sigFields {
		br := ByteRangeFromPDF(f.ByteRange)
		if err := br.Validate(len(data)); err != nil {
			return nil, nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		if data[br[1]] != '<' || data[br[2]-1] != '>' {
			return nil, nil, fmt.Errorf("%w: field %s does not bracket a hex string", ErrInvalidByteRange, f.Name)
		}
		if int64(2*len(signature)) > br.Capacity() {
			return nil, nil, fmt.Errorf("%w: field %s holds %d hex digits, signature needs %d",
				ErrSignatureTooLarge, f.Name, br.Capacity(), 2*len(signature))
		}
		ranges[i] = br
	}

	content = bytes.Clone(data)
	encoded := []byte(hex.EncodeToString(signature))
	for i, br := range ranges {
		copy(content[br[1]+1:], encoded)
		e.Logger.Printf("sign: wrote %d bytes into field %s", len(signature), sigFields[i].Name)
	}

	hashable, err = HashableBytes(content, sigFields)
	if err != nil {
		return nil, nil, err
	}
	return content, hashable, nil
}
