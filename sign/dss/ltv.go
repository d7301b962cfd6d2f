package dss

import (
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/ocsp"

	"github.com/georgepadayatti/pdfsignatures/pdf/extensions"
	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
	"github.com/georgepadayatti/pdfsignatures/pdf/writer"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// Validation errors
var (
	ErrInvalidOCSP = errors.New("invalid OCSP response")
	ErrInvalidCRL  = errors.New("invalid CRL")
	// ErrCertified is returned for documents certified with no changes
	// allowed.
	ErrCertified = errors.New("certification does not allow adding validation data")
)

// CheckCRL checks that der parses as an X.509 CRL.
func CheckCRL(der []byte) error {
	if _, err := x509.ParseRevocationList(der); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidCRL, err)
	}
	return nil
}

// ValidationRecord holds DER encoded OCSP responses and CRLs to embed.
type ValidationRecord struct {
	OCSPs [][]byte
	CRLs  [][]byte
}

// Total returns the number of bytes of validation data in the record.
func (v *ValidationRecord) Total() int {
	n := 0
	for _, b := range v.OCSPs {
		n += len(b)
	}
	for _, b := range v.CRLs {
		n += len(b)
	}
	return n
}

// LtvEmbedder appends a revision carrying validation data for every
// signature of a document.
type LtvEmbedder struct {
	Clock  clockwork.Clock
	Logger *log.Logger
}

// NewLtvEmbedder returns an embedder using the real clock.
func NewLtvEmbedder() *LtvEmbedder {
	return &LtvEmbedder{Clock: clockwork.NewRealClock(), Logger: log.New(io.Discard, "", 0)}
}

// Embed validates record and returns the document read by r with a new
// revision holding the DSS. Nothing is produced when any input is
// invalid.
func (e *LtvEmbedder) Embed(r *reader.PdfFileReader, record *ValidationRecord) ([]byte, error) {
	if signers.CertificationLevel(r.CertificationLevel()) == signers.CertifiedNoChangesAllowed {
		return nil, ErrCertified
	}

	ocsps := make([][]byte, len(record.OCSPs))
	for i, der := range record.OCSPs {
		basic, err := BasicOCSPResponse(der)
		if err != nil {
			return nil, fmt.Errorf("OCSP response %d: %w", i+1, err)
		}
		ocsps[i] = basic
		e.logOCSP(i+1, der)
	}
	for i, der := range record.CRLs {
		if err := CheckCRL(der); err != nil {
			return nil, fmt.Errorf("CRL %d: %w", i+1, err)
		}
	}

	sigFields, err := r.SignatureFields()
	if err != nil {
		return nil, err
	}

	w, err := writer.NewIncrementalPdfFileWriter(r, writer.WithClock(e.Clock))
	if err != nil {
		return nil, err
	}
	store, err := Load(w)
	if err != nil {
		return nil, err
	}

	ocspRefs := addStreams(w, ocsps)
	crlRefs := addStreams(w, record.CRLs)
	if err := store.AddOCSPs(ocspRefs); err != nil {
		return nil, err
	}
	if err := store.AddCRLs(crlRefs); err != nil {
		return nil, err
	}
	for _, f := range sigFields {
		if err := store.AddValidation(f.Contents, ocspRefs, crlRefs); err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
	}

	if err := registerESIC(w); err != nil {
		return nil, err
	}
	if err := w.EnsureOutputVersion(writer.PDFVersion{Major: 1, Minor: 7}); err != nil {
		return nil, err
	}

	content, err := w.Bytes()
	if err != nil {
		return nil, err
	}
	e.Logger.Printf("ltv: added %d OCSP responses and %d CRLs for %d signatures",
		len(ocsps), len(record.CRLs), len(sigFields))
	return content, nil
}

// logOCSP records whether x/crypto/ocsp can verify a response. A
// response it cannot verify is still embedded.
func (e *LtvEmbedder) logOCSP(n int, der []byte) {
	resp, err := ocsp.ParseResponse(der, nil)
	if err != nil {
		e.Logger.Printf("ltv: OCSP response %d not verified: %v", n, err)
		return
	}
	e.Logger.Printf("ltv: OCSP response %d for serial %s produced at %s", n, resp.SerialNumber, resp.ProducedAt.Format(time.RFC3339))
}

func addStreams(w *writer.IncrementalPdfFileWriter, blobs [][]byte) []generic.Reference {
	refs := make([]generic.Reference, len(blobs))
	for i, blob := range blobs {
		refs[i] = w.AddObject(generic.NewStream(nil, blob))
	}
	return refs
}

func registerESIC(w *writer.IncrementalPdfFileWriter) error {
	root, err := w.UpdateRoot()
	if err != nil {
		return err
	}
	extDict, err := writableDict(w, root, "Extensions")
	if err != nil {
		return err
	}
	if _, err := extensions.Register(extDict, extensions.ESICExtension(5)); err != nil {
		return err
	}
	return nil
}
