package crypt

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"testing"
)

func TestDeriveKey(t *testing.T) {
	t.Parallel()

	salt := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	key := DeriveKey("pw1", salt)

	want, err := hex.DecodeString("61b43e6bf7cb44905058e59771639a44c9cb7c51a97f95426ed3f9e76d394cea")
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(key, want) {
		t.Errorf("key was wrong: %x", key)
	}

	if again := DeriveKey("pw1", salt); !bytes.Equal(key, again) {
		t.Error("derivation must be deterministic")
	}
}

func TestEncryptDecrypt(t *testing.T) {
	t.Parallel()

	salt := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	iv := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	key := DeriveKey("pw1", salt)
	plaintext := []byte(`{"account_name":"acct1"}`)

	encrypted, err := Encrypt(key, iv, plaintext)
	if err != nil {
		t.Fatal(err)
	}

	want, err := base64.StdEncoding.DecodeString("WJk8LaO+5+j//WKUDGnILCzQMFd/tatnfJHI1JwKX9A=")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(encrypted, want) {
		t.Errorf("ciphertext was wrong: %s", base64.StdEncoding.EncodeToString(encrypted))
	}

	decrypted, err := Decrypt(key, iv, encrypted)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Errorf("plaintext was wrong: %q", decrypted)
	}
}

func TestDecryptFailures(t *testing.T) {
	t.Parallel()

	salt := []byte{0, 1, 2, 3, 4, 5, 6, 7}
	iv := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	key := DeriveKey("pw1", salt)

	encrypted, err := Encrypt(key, iv, []byte("some plaintext"))
	if err != nil {
		t.Fatal(err)
	}

	// Truncated input is no longer a whole number of blocks.
	if _, err = Decrypt(key, iv, encrypted[:len(encrypted)-1]); !errors.Is(err, ErrDecryptionFailed) {
		t.Error("want ErrDecryptionFailed, got:", err)
	}

	if _, err = Decrypt(key, iv, nil); !errors.Is(err, ErrDecryptionFailed) {
		t.Error("want ErrDecryptionFailed, got:", err)
	}

	// Flipping a bit in the last block corrupts the padding.
	corrupt := make([]byte, len(encrypted))
	copy(corrupt, encrypted)
	corrupt[len(corrupt)-1] ^= 0xFF
	if _, err = Decrypt(key, iv, corrupt); !errors.Is(err, ErrDecryptionFailed) {
		t.Error("want ErrDecryptionFailed, got:", err)
	}
}

func TestNewSaltNewIV(t *testing.T) {
	t.Parallel()

	salt, err := NewSalt()
	if err != nil {
		t.Fatal(err)
	}
	if len(salt) != SaltSize {
		t.Error("salt size was wrong:", len(salt))
	}

	iv, err := NewIV()
	if err != nil {
		t.Fatal(err)
	}
	if len(iv) != IVSize {
		t.Error("iv size was wrong:", len(iv))
	}
}

func TestBadKeySizes(t *testing.T) {
	t.Parallel()

	iv := make([]byte, IVSize)

	if _, err := Encrypt(make([]byte, 16), iv, []byte("x")); err == nil {
		t.Error("short keys must be rejected")
	}
	if _, err := Encrypt(make([]byte, KeySize), make([]byte, 8), []byte("x")); err == nil {
		t.Error("short ivs must be rejected")
	}
}
