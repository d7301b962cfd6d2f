package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

// NewRC4SecurityHandler creates an RC4 handler. keyBits of 40 yields
// revision 2, anything up to 128 revision 3.
func NewRC4SecurityHandler(userPassword, ownerPassword []byte, perms Permissions, keyBits int, fileID []byte) (*StandardSecurityHandler, error) {
	if keyBits < 40 || keyBits > 128 || keyBits%8 != 0 {
		return nil, fmt.Errorf("%w: RC4 key length %d", ErrUnsupportedCrypt, keyBits)
	}
	h := &StandardSecurityHandler{
		V: 2, R: 3, KeyLength: keyBits / 8, P: perms, FileID: fileID,
		EncryptMetadata: true, StreamMethod: MethodRC4, StringMethod: MethodRC4,
	}
	if keyBits == 40 {
		h.V, h.R = 1, 2
	}
	h.initLegacy(userPassword, ownerPassword)
	return h, nil
}

// NewAES128SecurityHandler creates a revision 4 handler using AESV2 for
// strings and streams.
func NewAES128SecurityHandler(userPassword, ownerPassword []byte, perms Permissions, fileID []byte) (*StandardSecurityHandler, error) {
	h := &StandardSecurityHandler{
		V: 4, R: 4, KeyLength: 16, P: perms, FileID: fileID,
		EncryptMetadata: true, StreamMethod: MethodAESV2, StringMethod: MethodAESV2,
	}
	h.initLegacy(userPassword, ownerPassword)
	return h, nil
}

func (h *StandardSecurityHandler) initLegacy(userPassword, ownerPassword []byte) {
	if len(ownerPassword) == 0 {
		ownerPassword = userPassword
	}
	ownerKey := h.ownerKeyLegacy(ownerPassword)
	o := padPassword(userPassword)
	if h.R == 2 {
		rc4XOR(ownerKey, o, o)
	} else {
		rc4Rounds(ownerKey, o, 0, 19)
	}
	h.O = o

	h.key = h.fileKeyLegacy(userPassword)
	h.U = h.userEntryLegacy(h.key)
	h.auth = AuthOwner
}

// NewAES256SecurityHandler creates a revision 6 handler using AESV3.
func NewAES256SecurityHandler(userPassword, ownerPassword []byte, perms Permissions) (*StandardSecurityHandler, error) {
	user, err := PreparePassword(userPassword)
	if err != nil {
		return nil, err
	}
	owner, err := PreparePassword(ownerPassword)
	if err != nil {
		return nil, err
	}

	h := &StandardSecurityHandler{
		V: 5, R: 6, KeyLength: 32, P: perms,
		EncryptMetadata: true, StreamMethod: MethodAESV3, StringMethod: MethodAESV3,
	}
	h.key = make([]byte, 32)
	salts := make([]byte, 32)
	if _, err := rand.Read(h.key); err != nil {
		return nil, err
	}
	if _, err := rand.Read(salts); err != nil {
		return nil, err
	}

	h.U = append(h.hashR6(user, salts[0:8], nil), salts[0:16]...)
	if h.UE, err = wrapKey(h.hashR6(user, salts[8:16], nil), h.key); err != nil {
		return nil, err
	}
	h.O = append(h.hashR6(owner, salts[16:24], h.U), salts[16:32]...)
	if h.OE, err = wrapKey(h.hashR6(owner, salts[24:32], h.U), h.key); err != nil {
		return nil, err
	}

	perm := make([]byte, 16)
	binary.LittleEndian.PutUint32(perm[0:4], uint32(perms))
	binary.LittleEndian.PutUint32(perm[4:8], 0xFFFFFFFF)
	perm[8] = 'T'
	copy(perm[9:12], "adb")
	if _, err := rand.Read(perm[12:16]); err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(h.key)
	if err != nil {
		return nil, err
	}
	h.Perms = make([]byte, 16)
	block.Encrypt(h.Perms, perm)

	h.auth = AuthOwner
	return h, nil
}

func wrapKey(intermediate, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(intermediate)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(key))
	cipher.NewCBCEncrypter(block, make([]byte, aes.BlockSize)).CryptBlocks(out, key)
	return out, nil
}

// EncryptDict renders the handler as an /Encrypt dictionary.
func (h *StandardSecurityHandler) EncryptDict() *generic.DictionaryObject {
	dict := generic.NewDictionary()
	dict.Set("Filter", generic.NameObject("Standard"))
	dict.Set("V", generic.IntegerObject(h.V))
	dict.Set("R", generic.IntegerObject(h.R))
	dict.Set("Length", generic.IntegerObject(h.KeyLength*8))
	dict.Set("O", generic.NewHexString(h.O))
	dict.Set("U", generic.NewHexString(h.U))
	dict.Set("P", generic.IntegerObject(int32(h.P)))

	if h.V >= 4 {
		cf := generic.NewDictionary()
		cf.Set("Type", generic.NameObject("CryptFilter"))
		cf.Set("CFM", generic.NameObject(h.StreamMethod))
		cf.Set("AuthEvent", generic.NameObject("DocOpen"))
		cf.Set("Length", generic.IntegerObject(h.KeyLength))
		cfs := generic.NewDictionary()
		cfs.Set("StdCF", cf)
		dict.Set("CF", cfs)
		dict.Set("StmF", generic.NameObject("StdCF"))
		dict.Set("StrF", generic.NameObject("StdCF"))
		if !h.EncryptMetadata {
			dict.Set("EncryptMetadata", generic.BooleanObject(false))
		}
	}
	if h.R >= 5 {
		dict.Set("OE", generic.NewHexString(h.OE))
		dict.Set("UE", generic.NewHexString(h.UE))
		dict.Set("Perms", generic.NewHexString(h.Perms))
	}
	return dict
}
