package document

import (
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/sign/dss"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// Guards are evaluated before an operation touches the document. The
// components repeat the certification checks at the point where the
// order of effects matters.

func requireSignatureFields(d *Document) error {
	if len(d.sigFields) == 0 {
		return ErrNoSignatureFields
	}
	return nil
}

func canAddPlaceholder(d *Document, level signers.CertificationLevel) error {
	if level != signers.NotCertified && d.certificationLevel() != signers.NotCertified {
		return fmt.Errorf("%w: level %s", signers.ErrCertificationLevel, d.certificationLevel())
	}
	return nil
}

func canDigest(d *Document) error {
	return requireSignatureFields(d)
}

func canAddSignature(d *Document) error {
	if err := requireSignatureFields(d); err != nil {
		return err
	}
	if d.certificationLevel() == signers.CertifiedNoChangesAllowed {
		return signers.ErrWriteNotAllowed
	}
	return nil
}

func canAddValidation(d *Document) error {
	if err := requireSignatureFields(d); err != nil {
		return err
	}
	if d.certificationLevel() == signers.CertifiedNoChangesAllowed {
		return dss.ErrCertified
	}
	return nil
}
