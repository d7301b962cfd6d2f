package document

import (
	"github.com/georgepadayatti/pdfsignatures/pdf/reader"
)

// State is the signing stage a document is in. It is derived from the
// document itself, never stored.
type State int

const (
	Unsigned State = iota
	Placeholdered
	Signed
	SignedLTV
)

func (s State) String() string {
	switch s {
	case Unsigned:
		return "unsigned"
	case Placeholdered:
		return "placeholdered"
	case Signed:
		return "signed"
	case SignedLTV:
		return "signed_ltv"
	default:
		return "unknown"
	}
}

func deriveState(sigFields []*reader.SignatureField, hasDSS bool) State {
	if len(sigFields) == 0 {
		return Unsigned
	}
	if sigFields[len(sigFields)-1].IsPending() {
		return Placeholdered
	}
	if hasDSS {
		return SignedLTV
	}
	return Signed
}
