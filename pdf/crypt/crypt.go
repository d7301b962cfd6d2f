// Package crypt implements the PDF standard security handler (revisions 2
// to 6) for reading encrypted documents and encrypting appended objects.
package crypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

var (
	ErrInvalidPassword  = errors.New("invalid password")
	ErrUnsupportedCrypt = errors.New("unsupported encryption")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrNotAuthenticated = errors.New("security handler not authenticated")
)

// Permissions is the /P bit field.
type Permissions int32

const (
	PermPrint            Permissions = 1 << 2
	PermModify           Permissions = 1 << 3
	PermCopy             Permissions = 1 << 4
	PermAnnotate         Permissions = 1 << 5
	PermFillForms        Permissions = 1 << 8
	PermAccessibility    Permissions = 1 << 9
	PermAssemble         Permissions = 1 << 10
	PermPrintHighQuality Permissions = 1 << 11

	// PermAll sets every permission bit along with the reserved high bits.
	PermAll Permissions = -4
)

// Method is a crypt filter method (/CFM).
type Method string

const (
	MethodIdentity Method = "Identity"
	MethodRC4      Method = "V2"
	MethodAESV2    Method = "AESV2"
	MethodAESV3    Method = "AESV3"
)

// AuthResult tells which password opened the document.
type AuthResult int

const (
	AuthFailed AuthResult = iota
	AuthUser
	AuthOwner
)

func (a AuthResult) String() string {
	switch a {
	case AuthUser:
		return "user"
	case AuthOwner:
		return "owner"
	default:
		return "failed"
	}
}

// StandardSecurityHandler holds the /Encrypt dictionary values and, after
// Authenticate, the file encryption key.
type StandardSecurityHandler struct {
	V               int
	R               int
	KeyLength       int // bytes
	P               Permissions
	O, U            []byte
	OE, UE          []byte
	Perms           []byte
	FileID          []byte
	EncryptMetadata bool
	StreamMethod    Method
	StringMethod    Method

	key  []byte
	auth AuthResult
}

var passwordPadding = []byte{
	0x28, 0xBF, 0x4E, 0x5E, 0x4E, 0x75, 0x8A, 0x41,
	0x64, 0x00, 0x4E, 0x56, 0xFF, 0xFA, 0x01, 0x08,
	0x2E, 0x2E, 0x00, 0xB6, 0xD0, 0x68, 0x3E, 0x80,
	0x2F, 0x0C, 0xA9, 0xFE, 0x64, 0x53, 0x69, 0x7A,
}

// ParseEncryptDict builds a handler from an /Encrypt dictionary. fileID is
// the first element of the trailer /ID.
func ParseEncryptDict(dict *generic.DictionaryObject, fileID []byte) (*StandardSecurityHandler, error) {
	if filter := dict.GetName("Filter"); filter != "Standard" {
		return nil, fmt.Errorf("%w: security handler %q", ErrUnsupportedCrypt, filter)
	}

	h := &StandardSecurityHandler{FileID: fileID, EncryptMetadata: true}
	v, _ := dict.GetInt("V")
	r, _ := dict.GetInt("R")
	p, _ := dict.GetInt("P")
	h.V, h.R, h.P = int(v), int(r), Permissions(int32(p))

	for key, dst := range map[string]*[]byte{"O": &h.O, "U": &h.U, "OE": &h.OE, "UE": &h.UE, "Perms": &h.Perms} {
		if s := dict.GetString(key); s != nil {
			*dst = s.Value
		}
	}
	if em, ok := dict.Get("EncryptMetadata").(generic.BooleanObject); ok {
		h.EncryptMetadata = bool(em)
	}

	switch h.V {
	case 1:
		h.KeyLength = 5
		h.StreamMethod, h.StringMethod = MethodRC4, MethodRC4
	case 2:
		h.KeyLength = 5
		if bits, ok := dict.GetInt("Length"); ok {
			h.KeyLength = int(bits) / 8
		}
		h.StreamMethod, h.StringMethod = MethodRC4, MethodRC4
	case 4, 5:
		h.KeyLength = 16
		if h.V == 5 {
			h.KeyLength = 32
		}
		cf := dict.GetDict("CF")
		var err error
		if h.StreamMethod, err = cryptFilterMethod(cf, dict.GetName("StmF"), &h.KeyLength); err != nil {
			return nil, err
		}
		if h.StringMethod, err = cryptFilterMethod(cf, dict.GetName("StrF"), &h.KeyLength); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: V=%d", ErrUnsupportedCrypt, h.V)
	}

	if h.R < 2 || h.R > 6 {
		return nil, fmt.Errorf("%w: R=%d", ErrUnsupportedCrypt, h.R)
	}
	if h.KeyLength < 5 || h.KeyLength > 32 {
		return nil, fmt.Errorf("%w: key length %d", ErrUnsupportedCrypt, h.KeyLength)
	}
	return h, nil
}

func cryptFilterMethod(cf *generic.DictionaryObject, name string, keyLength *int) (Method, error) {
	if name == "" || name == "Identity" {
		return MethodIdentity, nil
	}
	if cf == nil || cf.GetDict(name) == nil {
		return "", fmt.Errorf("%w: crypt filter %q not defined", ErrUnsupportedCrypt, name)
	}
	filter := cf.GetDict(name)
	method := Method(filter.GetName("CFM"))
	switch method {
	case MethodRC4:
		if l, ok := filter.GetInt("Length"); ok {
			// Some writers store bits here instead of bytes.
			if l > 32 {
				l /= 8
			}
			*keyLength = int(l)
		}
	case MethodAESV2, MethodAESV3:
	case "None", "":
		method = MethodIdentity
	default:
		return "", fmt.Errorf("%w: crypt filter method %q", ErrUnsupportedCrypt, method)
	}
	return method, nil
}

// Authenticate checks password against the owner entry first and then the
// user entry.
func (h *StandardSecurityHandler) Authenticate(password []byte) (AuthResult, error) {
	var ok bool
	if h.R >= 5 {
		prepared, err := PreparePassword(password)
		if err != nil {
			return AuthFailed, fmt.Errorf("%w: %v", ErrInvalidPassword, err)
		}
		if ok = h.authenticateR6(prepared, true); ok {
			h.auth = AuthOwner
		} else if ok = h.authenticateR6(prepared, false); ok {
			h.auth = AuthUser
		}
	} else {
		if userPassword := h.userPasswordFromOwner(password); h.authenticateUserLegacy(userPassword) {
			ok, h.auth = true, AuthOwner
		} else if h.authenticateUserLegacy(password) {
			ok, h.auth = true, AuthUser
		}
	}

	if !ok {
		h.key, h.auth = nil, AuthFailed
		return AuthFailed, ErrInvalidPassword
	}
	return h.auth, nil
}

// Authenticated reports the result of the last successful Authenticate.
func (h *StandardSecurityHandler) Authenticated() AuthResult { return h.auth }

func padPassword(password []byte) []byte {
	out := make([]byte, 32)
	n := copy(out, password)
	copy(out[n:], passwordPadding)
	return out
}

// fileKeyLegacy is algorithm 2 (revisions 2 to 4).
func (h *StandardSecurityHandler) fileKeyLegacy(password []byte) []byte {
	md := md5.New()
	md.Write(padPassword(password))
	md.Write(h.O)
	var p [4]byte
	binary.LittleEndian.PutUint32(p[:], uint32(h.P))
	md.Write(p[:])
	md.Write(h.FileID)
	if h.R >= 4 && !h.EncryptMetadata {
		md.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}
	key := md.Sum(nil)

	n := h.KeyLength
	if h.R == 2 {
		n = 5
	}
	if h.R >= 3 {
		for i := 0; i < 50; i++ {
			sum := md5.Sum(key[:n])
			key = sum[:]
		}
	}
	return key[:n]
}

// userEntryLegacy is algorithms 4 and 5.
func (h *StandardSecurityHandler) userEntryLegacy(key []byte) []byte {
	if h.R == 2 {
		out := make([]byte, 32)
		rc4XOR(key, out, passwordPadding)
		return out
	}

	md := md5.New()
	md.Write(passwordPadding)
	md.Write(h.FileID)
	digest := md.Sum(nil)
	rc4Rounds(key, digest, 0, 19)

	out := make([]byte, 32)
	copy(out, digest)
	return out
}

func (h *StandardSecurityHandler) authenticateUserLegacy(password []byte) bool {
	key := h.fileKeyLegacy(password)
	computed := h.userEntryLegacy(key)
	cmpLen := 32
	if h.R >= 3 {
		cmpLen = 16
	}
	if len(h.U) < cmpLen || !bytes.Equal(computed[:cmpLen], h.U[:cmpLen]) {
		return false
	}
	h.key = key
	return true
}

// ownerKeyLegacy is steps a to d of algorithm 3.
func (h *StandardSecurityHandler) ownerKeyLegacy(ownerPassword []byte) []byte {
	sum := md5.Sum(padPassword(ownerPassword))
	key := sum[:]
	n := 5
	if h.R >= 3 {
		for i := 0; i < 50; i++ {
			sum = md5.Sum(key)
			key = sum[:]
		}
		n = h.KeyLength
	}
	return key[:n]
}

// userPasswordFromOwner is algorithm 7: decrypt O with the owner key.
func (h *StandardSecurityHandler) userPasswordFromOwner(ownerPassword []byte) []byte {
	if len(h.O) < 32 {
		return nil
	}
	key := h.ownerKeyLegacy(ownerPassword)
	userPassword := bytes.Clone(h.O[:32])
	if h.R == 2 {
		rc4XOR(key, userPassword, userPassword)
	} else {
		for i := 19; i >= 0; i-- {
			rc4XOR(xorKey(key, byte(i)), userPassword, userPassword)
		}
	}
	return userPassword
}

func (h *StandardSecurityHandler) authenticateR6(password []byte, owner bool) bool {
	if len(h.U) < 48 || len(h.O) < 48 {
		return false
	}
	entry, encKey, udata := h.U, h.UE, []byte(nil)
	if owner {
		entry, encKey, udata = h.O, h.OE, h.U[:48]
	}
	if !bytes.Equal(h.hashR6(password, entry[32:40], udata), entry[:32]) {
		return false
	}
	if len(encKey) != 32 {
		return false
	}
	intermediate := h.hashR6(password, entry[40:48], udata)
	key := make([]byte, 32)
	block, err := aes.NewCipher(intermediate)
	if err != nil {
		return false
	}
	cipher.NewCBCDecrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(key, encKey)
	h.key = key
	return true
}

// hashR6 is algorithm 2.A (R5) and 2.B (R6).
func (h *StandardSecurityHandler) hashR6(password, salt, udata []byte) []byte {
	md := sha256.New()
	md.Write(password)
	md.Write(salt)
	md.Write(udata)
	k := md.Sum(nil)
	if h.R == 5 {
		return k
	}

	var e []byte
	for round := 0; round < 64 || int(e[len(e)-1]) > round-32; round++ {
		seq := make([]byte, 0, len(password)+len(k)+len(udata))
		seq = append(seq, password...)
		seq = append(seq, k...)
		seq = append(seq, udata...)
		k1 := bytes.Repeat(seq, 64)

		block, _ := aes.NewCipher(k[:16])
		e = make([]byte, len(k1))
		cipher.NewCBCEncrypter(block, k[16:32]).CryptBlocks(e, k1)

		sum := 0
		for _, b := range e[:16] {
			sum += int(b)
		}
		var next hash.Hash
		switch sum % 3 {
		case 0:
			next = sha256.New()
		case 1:
			next = sha512.New384()
		default:
			next = sha512.New()
		}
		next.Write(e)
		k = next.Sum(nil)
	}
	return k[:32]
}

// objectKey is algorithm 1.
func (h *StandardSecurityHandler) objectKey(objNum, genNum int, method Method) []byte {
	if method == MethodAESV3 {
		return h.key
	}
	md := md5.New()
	md.Write(h.key)
	md.Write([]byte{byte(objNum), byte(objNum >> 8), byte(objNum >> 16), byte(genNum), byte(genNum >> 8)})
	if method == MethodAESV2 {
		md.Write([]byte("sAlT"))
	}
	n := len(h.key) + 5
	if n > 16 {
		n = 16
	}
	return md.Sum(nil)[:n]
}

func (h *StandardSecurityHandler) crypt(data []byte, objNum, genNum int, method Method, encrypt bool) ([]byte, error) {
	if h.key == nil {
		return nil, ErrNotAuthenticated
	}
	key := h.objectKey(objNum, genNum, method)
	switch method {
	case MethodIdentity:
		return data, nil
	case MethodRC4:
		out := make([]byte, len(data))
		rc4XOR(key, out, data)
		return out, nil
	case MethodAESV2, MethodAESV3:
		if encrypt {
			return AESCBCEncrypt(key, data)
		}
		return AESCBCDecrypt(key, data)
	default:
		return nil, fmt.Errorf("%w: method %q", ErrUnsupportedCrypt, method)
	}
}

// DecryptString decrypts a string belonging to object objNum.
func (h *StandardSecurityHandler) DecryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return h.crypt(data, objNum, genNum, h.StringMethod, false)
}

// DecryptStream decrypts stream data belonging to object objNum.
func (h *StandardSecurityHandler) DecryptStream(data []byte, objNum, genNum int) ([]byte, error) {
	return h.crypt(data, objNum, genNum, h.StreamMethod, false)
}

// EncryptString encrypts a string for object objNum.
func (h *StandardSecurityHandler) EncryptString(data []byte, objNum, genNum int) ([]byte, error) {
	return h.crypt(data, objNum, genNum, h.StringMethod, true)
}

// EncryptStream encrypts stream data for object objNum.
func (h *StandardSecurityHandler) EncryptStream(data []byte, objNum, genNum int) ([]byte, error) {
	return h.crypt(data, objNum, genNum, h.StreamMethod, true)
}
