package dss

import (
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"time"

	"golang.org/x/crypto/ocsp"
)

var oidBasicOCSPResponse = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 48, 1, 1}

// ASN.1 structures from RFC 6960, section 4.2.1. Trailing extensions are
// not modelled; encoding/asn1 skips them.

type ocspResponse struct {
	Status   asn1.Enumerated
	Response responseBytes `asn1:"explicit,tag:0,optional"`
}

type responseBytes struct {
	ResponseType asn1.ObjectIdentifier
	Response     []byte
}

type basicResponse struct {
	TBSResponseData    responseData
	SignatureAlgorithm pkix.AlgorithmIdentifier
	Signature          asn1.BitString
	Certificates       []asn1.RawValue `asn1:"explicit,tag:0,optional"`
}

type responseData struct {
	Raw            asn1.RawContent
	Version        int `asn1:"optional,default:0,explicit,tag:0"`
	RawResponderID asn1.RawValue
	ProducedAt     time.Time `asn1:"generalized"`
	Responses      []singleResponse
}

type singleResponse struct {
	CertID     certID
	Good       asn1.Flag   `asn1:"tag:0,optional"`
	Revoked    revokedInfo `asn1:"tag:1,optional"`
	Unknown    asn1.Flag   `asn1:"tag:2,optional"`
	ThisUpdate time.Time   `asn1:"generalized"`
	NextUpdate time.Time   `asn1:"generalized,explicit,tag:0,optional"`
}

type certID struct {
	HashAlgorithm pkix.AlgorithmIdentifier
	NameHash      []byte
	IssuerKeyHash []byte
	SerialNumber  *big.Int
}

type revokedInfo struct {
	RevocationTime time.Time       `asn1:"generalized"`
	Reason         asn1.Enumerated `asn1:"explicit,tag:0,optional"`
}

// BasicOCSPResponse checks that der is a successful OCSP response whose
// basic body holds at least one single response, and returns the
// BasicOCSPResponse DER, which is what a DSS stores. Signatures are not
// verified.
func BasicOCSPResponse(der []byte) ([]byte, error) {
	var resp ocspResponse
	rest, err := asn1.Unmarshal(der, &resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidOCSP, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after response", ErrInvalidOCSP)
	}
	if resp.Status != asn1.Enumerated(ocsp.Success) {
		return nil, fmt.Errorf("%w: status %s", ErrInvalidOCSP, ocsp.ResponseStatus(resp.Status))
	}
	if !resp.Response.ResponseType.Equal(oidBasicOCSPResponse) {
		return nil, fmt.Errorf("%w: unsupported response type %s", ErrInvalidOCSP, resp.Response.ResponseType)
	}

	var basic basicResponse
	rest, err = asn1.Unmarshal(resp.Response.Response, &basic)
	if err != nil {
		return nil, fmt.Errorf("%w: basic response: %w", ErrInvalidOCSP, err)
	}
	if len(rest) > 0 {
		return nil, fmt.Errorf("%w: trailing data after basic response", ErrInvalidOCSP)
	}
	if len(basic.TBSResponseData.Responses) == 0 {
		return nil, fmt.Errorf("%w: no single responses", ErrInvalidOCSP)
	}
	for i, single := range basic.TBSResponseData.Responses {
		if single.CertID.SerialNumber == nil {
			return nil, fmt.Errorf("%w: single response %d has no serial number", ErrInvalidOCSP, i+1)
		}
	}
	return resp.Response.Response, nil
}
