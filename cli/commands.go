package cli

import (
	"encoding/base64"

	"github.com/georgepadayatti/pdfsignatures/document"
	"github.com/georgepadayatti/pdfsignatures/sign/digest"
	"github.com/georgepadayatti/pdfsignatures/sign/dss"
	"github.com/georgepadayatti/pdfsignatures/sign/signers"
)

// placeholderCommand reserves a signature slot and writes the result to
// --out.
func placeholderCommand(o *options) (string, error) {
	if err := o.require("file", "out"); err != nil {
		return "", err
	}

	params := document.PlaceholderParams{
		Metadata: signers.SignatureMetadata{
			Reason:      o.reason,
			Location:    o.location,
			ContactInfo: o.contact,
		},
	}
	if o.set["estimatedsize"] {
		if o.estimatedSize <= 0 {
			return "", argumentError("--estimatedsize must be positive")
		}
		params.EstimatedSize = o.estimatedSize
	}
	level := o.cfg.Defaults.CertificationLevel
	if o.set["certlevel"] {
		level = o.certLevel
	}
	certLevel, err := signers.ParseCertificationLevel(level)
	if err != nil {
		return "", argumentError(err.Error())
	}
	params.CertificationLevel = certLevel
	if o.set["date"] {
		t, err := parseDate(o.date)
		if err != nil {
			return "", err
		}
		params.Metadata.SigningTime = &t
	}

	d, err := document.OpenFile(o.file, o.password, o.documentOptions())
	if err != nil {
		return "", err
	}
	if err := d.AddPlaceholder(params); err != nil {
		return "", err
	}
	if err := d.WriteFile(o.out); err != nil {
		return "", err
	}
	return o.out, nil
}

// digestCommand prints the base64 digest of the hashable bytes.
func digestCommand(o *options) (string, error) {
	if err := o.require("file"); err != nil {
		return "", err
	}
	var alg digest.Algorithm
	if o.set["algorithm"] {
		parsed, err := digest.ParseAlgorithm(o.algorithm)
		if err != nil {
			return "", document.NewError(document.KindUnsupportedAlgorithm, "digest", err)
		}
		alg = parsed
	}

	d, err := document.OpenFile(o.file, o.password, o.documentOptions())
	if err != nil {
		return "", err
	}
	sum, err := d.Digest(alg)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sum), nil
}

// signCommand embeds --signature into every signature slot.
func signCommand(o *options) (string, error) {
	if err := o.require("file", "out", "signature"); err != nil {
		return "", err
	}
	signature, err := decodeBase64("signature", o.signature)
	if err != nil {
		return "", err
	}

	d, err := document.OpenFile(o.file, o.password, o.documentOptions())
	if err != nil {
		return "", err
	}
	if err := d.AddSignature(signature); err != nil {
		return "", err
	}
	if err := d.WriteFile(o.out); err != nil {
		return "", err
	}
	return o.out, nil
}

// ltvCommand appends the --ocsp and --crl validation data.
func ltvCommand(o *options) (string, error) {
	if err := o.require("file", "out"); err != nil {
		return "", err
	}
	record := &dss.ValidationRecord{}
	for _, value := range o.ocsps {
		der, err := decodeBase64("ocsp", value)
		if err != nil {
			return "", err
		}
		record.OCSPs = append(record.OCSPs, der)
	}
	for _, value := range o.crls {
		der, err := decodeBase64("crl", value)
		if err != nil {
			return "", err
		}
		record.CRLs = append(record.CRLs, der)
	}

	d, err := document.OpenFile(o.file, o.password, o.documentOptions())
	if err != nil {
		return "", err
	}
	if err := d.AddValidation(record); err != nil {
		return "", err
	}
	if err := d.WriteFile(o.out); err != nil {
		return "", err
	}
	return o.out, nil
}
