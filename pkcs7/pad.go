// Package pkcs7 implements padding for cryptographic purposes as specified
// in RFC 5652: Cryptographic Message Syntax (CMS)
package pkcs7

import "errors"

// From the RFC
// Some content-encryption algorithms assume the
// input length is a multiple of k octets, where k > 1, and
// let the application define a method for handling inputs
// whose lengths are not a multiple of k octets. For such
// algorithms, the method shall be to pkcs7pad the input at the
// trailing end with k - (l mod k) octets all having value k -
// (l mod k), where l is the length of the input. In other
// words, the input is padded at the trailing end with one of
// the following strings:
//
// 01 -- if l mod k = k-1
// 02 02 -- if l mod k = k-2
//           .
//           .
// k k ... k k -- if l mod k = 0
//
// The padding can be removed unambiguously since all input is
// padded and no padding string is a suffix of another. This
// padding method is well-defined if and only if k < 256;
// methods for larger k are an open issue for further study

// ErrBadPadding is returned by Unpad when the trailing padding is absent or
// malformed. When a ciphertext was decrypted with the wrong key this is
// usually the first thing to fail, so callers normally translate it into
// their own decryption failure error rather than surfacing it.
var ErrBadPadding = errors.New("bad pkcs7 padding")

// Pad a byte slice given k (in bytes). This is commonly block size of a cipher
// like as example AES = 16. This function ensures the input data
// to the algorithm will be padded to a multiple of k bytes. There is always
// at least one byte of padding so it can be unambiguously removed later.
func Pad(b []byte, k int) []byte {
	if k < 1 || k > 255 {
		panic("invalid k, must be 1 <= k <= 255")
	}

	padBytes := k - (len(b) % k)
	padded := make([]byte, len(b)+padBytes)
	copy(padded, b)
	for i := len(b); i < len(padded); i++ {
		padded[i] = byte(padBytes)
	}

	return padded
}

// Unpad removes pkcs7 padding from b, where k is the block size the data was
// padded to. The final byte must be in [1,k] and every padding byte must
// repeat that value, otherwise ErrBadPadding is returned.
func Unpad(b []byte, k int) ([]byte, error) {
	if len(b) == 0 || len(b)%k != 0 {
		return nil, ErrBadPadding
	}

	padBytes := int(b[len(b)-1])
	if padBytes < 1 || padBytes > k {
		return nil, ErrBadPadding
	}
	for i := len(b) - padBytes; i < len(b); i++ {
		if int(b[i]) != padBytes {
			return nil, ErrBadPadding
		}
	}

	return b[:len(b)-padBytes], nil
}
