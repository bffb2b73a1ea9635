// Package crypt encrypts and decrypts credential records. Keys are derived
// from a passphrase with PBKDF2-SHA512 and data is sealed with AES-256 in
// CBC mode using pkcs7 padding.
package crypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha512"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	"github.com/aarondl/maguard/pkcs7"
)

// ErrDecryptionFailed is returned when a ciphertext does not decrypt cleanly.
// A wrong passphrase and corrupt input are deliberately indistinguishable,
// there is no authentication tag in this format to tell them apart.
var ErrDecryptionFailed = errors.New("decryption failed")

// Parameters for key derivation and encryption. These are fixed by the file
// format, records written by other implementations use the same values.
const (
	// Iterations is the PBKDF2 round count.
	Iterations = 50000
	// SaltSize is the length in bytes of a key derivation salt.
	SaltSize = 8
	// IVSize is the length in bytes of a CBC initialization vector, equal
	// to the AES block size.
	IVSize = aes.BlockSize
	// KeySize is the length in bytes of a derived AES-256 key.
	KeySize = 32
)

// DeriveKey stretches a passphrase into an AES-256 key using PBKDF2-SHA512.
// The same passphrase and salt always produce the same key.
func DeriveKey(passphrase string, salt []byte) []byte {
	return pbkdf2.Key([]byte(passphrase), salt, Iterations, KeySize, sha512.New)
}

// NewSalt returns a fresh random key derivation salt.
func NewSalt() ([]byte, error) {
	return randBytes(SaltSize)
}

// NewIV returns a fresh random initialization vector.
func NewIV() ([]byte, error) {
	return randBytes(IVSize)
}

func randBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to get randomness: %w", err)
	}
	return b, nil
}

// Encrypt seals plaintext with AES-256-CBC. The key must be KeySize bytes
// (from DeriveKey) and the iv must be IVSize bytes. The iv is not included
// in the output, callers store it beside the ciphertext.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	padded := pkcs7.Pad(plaintext, aes.BlockSize)
	encrypted := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(encrypted, padded)

	return encrypted, nil
}

// Decrypt opens a ciphertext produced by Encrypt. When the padding does not
// check out after decryption, which is what happens with a wrong key or
// mangled input, ErrDecryptionFailed is returned.
func Decrypt(key, iv, encrypted []byte) ([]byte, error) {
	block, err := newBlock(key, iv)
	if err != nil {
		return nil, err
	}

	if len(encrypted) == 0 || len(encrypted)%aes.BlockSize != 0 {
		return nil, ErrDecryptionFailed
	}

	padded := make([]byte, len(encrypted))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, encrypted)

	plaintext, err := pkcs7.Unpad(padded, aes.BlockSize)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	return plaintext, nil
}

func newBlock(key, iv []byte) (cipher.Block, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key size is wrong for aes-256: %d", len(key))
	}
	if len(iv) != IVSize {
		return nil, fmt.Errorf("iv size is wrong: %d", len(iv))
	}

	return aes.NewCipher(key)
}
