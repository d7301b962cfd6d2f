// Package document drives a PDF through the detached signing stages:
// placeholder, digest, signature and long-term validation data.
package document

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"

	"github.com/georgepadayatti/pdfsignatures/config"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/sign/digest"
	"github.com/georgepadayatti/pdfsignatures/sign/dss"
	"github.com/georgepadayatti/pdfsignatures/sign/fields"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// Options configures a Document. Zero values select the defaults.
type Options struct {
	Logger *log.Logger
	Clock  clockwork.Clock
	Config *config.Config
}

// PlaceholderParams describes the signature slot to reserve.
type PlaceholderParams struct {
	// EstimatedSize is the signature size in bytes. Zero uses the
	// configured default.
	EstimatedSize      int
	CertificationLevel signers.CertificationLevel
	Metadata           signers.SignatureMetadata
}

// Document is one PDF held in memory together with the bytes its most
// recent signature covers. It is not safe for concurrent use.
type Document struct {
	content  []byte
	hashable []byte
	password string

	reader    *reader.PdfFileReader
	sigFields []*reader.SignatureField

	logger *log.Logger
	clock  clockwork.Clock
	cfg    *config.Config
}

// Open parses data, decrypting with password when the document is
// encrypted, and computes the hashable bytes of all signature fields.
// data is copied.
func Open(data []byte, password string, opts *Options) (*Document, error) {
	if opts == nil {
		opts = &Options{}
	}
	d := &Document{
		password: password,
		logger:   opts.Logger,
		clock:    opts.Clock,
		cfg:      opts.Config,
	}
	if d.logger == nil {
		d.logger = log.New(io.Discard, "", 0)
	}
	if d.clock == nil {
		d.clock = clockwork.NewRealClock()
	}
	if d.cfg == nil {
		d.cfg = config.Default()
	}

	content := bytes.Clone(data)
	r, sigFields, err := d.index(content)
	if err != nil {
		return nil, wrap("open", err)
	}
	hashable, err := signers.HashableBytes(content, sigFields)
	if err != nil {
		return nil, wrap("open", err)
	}
	d.commit(content, hashable, r, sigFields)
	d.logger.Printf("open: %d bytes, %d signature fields, state %s", len(content), len(sigFields), d.State())
	return d, nil
}

// OpenFile reads the document at path.
func OpenFile(path, password string, opts *Options) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError(KindDocument, "open", err)
	}
	return Open(data, password, opts)
}

// Content returns a copy of the current document bytes.
func (d *Document) Content() []byte {
	return bytes.Clone(d.content)
}

// Hashable returns a copy of the bytes the latest signature covers.
func (d *Document) Hashable() []byte {
	return bytes.Clone(d.hashable)
}

// State reports the signing stage of the document.
func (d *Document) State() State {
	return deriveState(d.sigFields, d.reader.HasDSS())
}

// SignatureFieldNames returns the signature field names in form order.
func (d *Document) SignatureFieldNames() []string {
	names := make([]string, len(d.sigFields))
	for i, f := range d.sigFields {
		names[i] = f.Name
	}
	return names
}

// CertificationLevel returns the document's DocMDP level.
func (d *Document) CertificationLevel() signers.CertificationLevel {
	return d.certificationLevel()
}

func (d *Document) certificationLevel() signers.CertificationLevel {
	return signers.CertificationLevel(d.reader.CertificationLevel())
}

// AddPlaceholder appends a revision with an empty signature slot. The
// hashable bytes become the new revision's bytes outside the slot.
func (d *Document) AddPlaceholder(p PlaceholderParams) error {
	const op = "placeholder"
	if err := canAddPlaceholder(d, p.CertificationLevel); err != nil {
		return wrap(op, err)
	}

	subFilter, err := fields.ParseSubFilter(d.cfg.Signature.SubFilter)
	if err != nil {
		return NewError(KindArgument, op, err)
	}
	b := signers.NewPlaceholderBuilder()
	b.EstimatedSize = p.EstimatedSize
	if b.EstimatedSize == 0 {
		b.EstimatedSize = d.cfg.Defaults.EstimatedSize
	}
	if b.EstimatedSize < 0 {
		return NewError(KindArgument, op, fmt.Errorf("%w: estimated size %d", ErrInvalidArgument, b.EstimatedSize))
	}
	b.CertificationLevel = p.CertificationLevel
	b.Metadata = p.Metadata
	b.Filter = d.cfg.Signature.Filter
	b.SubFilter = subFilter
	b.FieldPrefix = d.cfg.Signature.FieldPrefix
	b.Clock = d.clock
	b.Logger = d.logger

	placeholder, err := b.Build(d.reader)
	if err != nil {
		return wrap(op, err)
	}
	r, sigFields, err := d.index(placeholder.Content)
	if err != nil {
		return wrap(op, err)
	}
	d.commit(placeholder.Content, placeholder.Hashable, r, sigFields)
	return nil
}

// Digest returns the digest of the hashable bytes.
func (d *Document) Digest(alg digest.Algorithm) ([]byte, error) {
	const op = "digest"
	if err := canDigest(d); err != nil {
		return nil, wrap(op, err)
	}
	if alg == "" {
		parsed, err := digest.ParseAlgorithm(d.cfg.Defaults.Algorithm)
		if err != nil {
			return nil, wrap(op, err)
		}
		alg = parsed
	}
	sum, err := digest.Calculate(d.hashable, alg)
	if err != nil {
		return nil, wrap(op, err)
	}
	return sum, nil
}

// AddSignature writes signature into every signature slot. The document
// length does not change.
func (d *Document) AddSignature(signature []byte) error {
	const op = "sign"
	if err := canAddSignature(d); err != nil {
		return wrap(op, err)
	}

	e := signers.NewSignatureEmbedder()
	e.Logger = d.logger
	content, hashable, err := e.Embed(d.reader, signature)
	if err != nil {
		return wrap(op, err)
	}
	r, sigFields, err := d.index(content)
	if err != nil {
		return wrap(op, err)
	}
	d.commit(content, hashable, r, sigFields)
	return nil
}

// AddValidation appends a revision with the OCSP responses and CRLs of
// record, attached to every signature.
func (d *Document) AddValidation(record *dss.ValidationRecord) error {
	const op = "ltv"
	if err := canAddValidation(d); err != nil {
		return wrap(op, err)
	}
	if record == nil {
		record = &dss.ValidationRecord{}
	}

	e := dss.NewLtvEmbedder()
	e.Clock = d.clock
	e.Logger = d.logger
	content, err := e.Embed(d.reader, record)
	if err != nil {
		return wrap(op, err)
	}
	r, sigFields, err := d.index(content)
	if err != nil {
		return wrap(op, err)
	}
	hashable, err := signers.HashableBytes(content, sigFields)
	if err != nil {
		return wrap(op, err)
	}
	d.commit(content, hashable, r, sigFields)
	return nil
}

// WriteFile writes the document to path through a temporary file in the
// same directory, so path is either untouched or complete.
func (d *Document) WriteFile(path string) error {
	const op = "write"
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return NewError(KindDocument, op, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(d.content); err != nil {
		tmp.Close()
		return NewError(KindDocument, op, err)
	}
	if err := tmp.Close(); err != nil {
		return NewError(KindDocument, op, err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return NewError(KindDocument, op, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return NewError(KindDocument, op, err)
	}
	d.logger.Printf("write: %d bytes to %s", len(d.content), path)
	return nil
}

// index parses content with the document password.
func (d *Document) index(content []byte) (*reader.PdfFileReader, []*reader.SignatureField, error) {
	var opts []reader.Option
	if d.password != "" {
		opts = append(opts, reader.WithPassword([]byte(d.password)))
	}
	r, err := reader.NewPdfFileReaderFromBytes(content, opts...)
	if err != nil {
		return nil, nil, err
	}
	sigFields, err := r.SignatureFields()
	if err != nil {
		return nil, nil, err
	}
	return r, sigFields, nil
}

func (d *Document) commit(content, hashable []byte, r *reader.PdfFileReader, sigFields []*reader.SignatureField) {
	d.content = content
	d.hashable = hashable
	d.reader = r
	d.sigFields = sigFields
}
