package signers

import (
	"fmt"
	"time"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
	"github.com/georgepadayatti/pdfsignatures/sign/fields"
)

// Defaults for new signature slots.
const (
	DefaultEstimatedSize = 30000
	DefaultFilter        = "Adobe.PPKLite"
	DefaultFieldPrefix   = "Signature"
)

// DefaultSigSubFilter is the default SubFilter to use for PDF signatures.
var DefaultSigSubFilter = fields.SubFilterAdobePKCS7Detached

// CertificationLevel is the DocMDP level of a document.
type CertificationLevel int

const (
	// NotCertified is a document without certification signature.
	NotCertified CertificationLevel = iota
	// CertifiedNoChangesAllowed forbids any change after certification.
	CertifiedNoChangesAllowed
	// CertifiedFormFilling allows form filling and signing.
	CertifiedFormFilling
	// CertifiedFormFillingAndAnnotations also allows annotations.
	CertifiedFormFillingAndAnnotations
)

// ParseCertificationLevel validates a numeric level.
func ParseCertificationLevel(n int) (CertificationLevel, error) {
	if n < int(NotCertified) || n > int(CertifiedFormFillingAndAnnotations) {
		return 0, fmt.Errorf("certification level must be between 0 and 3, got %d", n)
	}
	return CertificationLevel(n), nil
}

// String returns the string representation.
func (l CertificationLevel) String() string {
	switch l {
	case NotCertified:
		return "not_certified"
	case CertifiedNoChangesAllowed:
		return "no_changes"
	case CertifiedFormFilling:
		return "form_filling"
	case CertifiedFormFillingAndAnnotations:
		return "form_filling_and_annotations"
	default:
		return fmt.Sprintf("CertificationLevel(%d)", int(l))
	}
}

// SignatureMetadata contains metadata for the signature. Empty fields
// are not written.
type SignatureMetadata struct {
	Reason      string
	Location    string
	ContactInfo string
	SigningTime *time.Time
}

func (m SignatureMetadata) apply(sigDict *generic.DictionaryObject) {
	if m.Reason != "" {
		sigDict.Set("Reason", generic.NewTextString(m.Reason))
	}
	if m.Location != "" {
		sigDict.Set("Location", generic.NewTextString(m.Location))
	}
	if m.ContactInfo != "" {
		sigDict.Set("ContactInfo", generic.NewTextString(m.ContactInfo))
	}
	if m.SigningTime != nil {
		sigDict.Set("M", generic.NewLiteralString(generic.FormatDate(*m.SigningTime)))
	}
}
