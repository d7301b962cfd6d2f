package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rc4"
	"errors"
	"fmt"
)

var (
	ErrInvalidPadding   = errors.New("invalid PKCS7 padding")
	ErrInvalidBlockSize = errors.New("data not multiple of block size")
)

// rc4XOR runs RC4 over src into dst. Keys are 5 to 16 bytes, which
// rc4.NewCipher always accepts.
func rc4XOR(key, dst, src []byte) {
	c, err := rc4.NewCipher(key)
	if err != nil {
		panic(err)
	}
	c.XORKeyStream(dst, src)
}

// rc4Rounds applies the iterated RC4 of algorithms 3 and 5 in place,
// XORing key with each round number from through to.
func rc4Rounds(key, data []byte, from, to int) {
	for i := from; i <= to; i++ {
		rc4XOR(xorKey(key, byte(i)), data, data)
	}
}

func xorKey(key []byte, b byte) []byte {
	out := make([]byte, len(key))
	for i := range key {
		out[i] = key[i] ^ b
	}
	return out
}

// AESCBCEncrypt encrypts data using AES-CBC with PKCS7 padding and a
// random IV. Returns the IV concatenated with the ciphertext.
func AESCBCEncrypt(key, data []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	padded := PKCS7Pad(data, aes.BlockSize)

	out := make([]byte, aes.BlockSize+len(padded))
	if _, err := rand.Read(out[:aes.BlockSize]); err != nil {
		return nil, err
	}
	cipher.NewCBCEncrypter(block, out[:aes.BlockSize]).CryptBlocks(out[aes.BlockSize:], padded)
	return out, nil
}

// AESCBCDecrypt decrypts IV-prefixed AES-CBC data. A lone IV decrypts to
// the empty string.
func AESCBCDecrypt(key, data []byte) ([]byte, error) {
	if len(data) == aes.BlockSize {
		return []byte{}, nil
	}
	if len(data) < 2*aes.BlockSize {
		return nil, fmt.Errorf("%w: AES data length %d", ErrDecryptionFailed, len(data))
	}
	if len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, ErrInvalidBlockSize)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data)-aes.BlockSize)
	cipher.NewCBCDecrypter(block, data[:aes.BlockSize]).CryptBlocks(out, data[aes.BlockSize:])

	plain, err := PKCS7Unpad(out, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecryptionFailed, err)
	}
	return plain, nil
}

// PKCS7Pad returns a padded copy of data.
func PKCS7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

// PKCS7Unpad strips PKCS7 padding. Only the last byte is checked; some
// writers fill the pad with other values.
func PKCS7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, ErrInvalidBlockSize
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize {
		return nil, ErrInvalidPadding
	}
	return data[:len(data)-padLen], nil
}
