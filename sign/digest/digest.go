// Package digest computes the message digests handed to external signers.
package digest

import (
	"crypto"
	_ "crypto/sha256" // registers SHA-256
	_ "crypto/sha512" // registers SHA-384 and SHA-512
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedAlgorithm is returned for digest names other than
// SHA-256, SHA-384 and SHA-512.
var ErrUnsupportedAlgorithm = errors.New("unsupported digest algorithm")

// Algorithm is a digest algorithm name as accepted on the command line.
type Algorithm string

const (
	SHA256 Algorithm = "SHA-256"
	SHA384 Algorithm = "SHA-384"
	SHA512 Algorithm = "SHA-512"
)

// Default is used when no algorithm is given.
const Default = SHA512

var hashes = map[Algorithm]crypto.Hash{
	SHA256: crypto.SHA256,
	SHA384: crypto.SHA384,
	SHA512: crypto.SHA512,
}

// ParseAlgorithm accepts the canonical names and case-insensitive forms
// without the dash ("sha512").
func ParseAlgorithm(name string) (Algorithm, error) {
	alg := Algorithm(name)
	if _, ok := hashes[alg]; ok {
		return alg, nil
	}
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
}

// Hash returns the crypto.Hash behind alg.
func (a Algorithm) Hash() (crypto.Hash, error) {
	h, ok := hashes[a]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
	return h, nil
}

// Calculate returns the digest of data.
func Calculate(data []byte, alg Algorithm) ([]byte, error) {
	h, err := alg.Hash()
	if err != nil {
		return nil, err
	}
	hasher := h.New()
	hasher.Write(data)
	return hasher.Sum(nil), nil
}
