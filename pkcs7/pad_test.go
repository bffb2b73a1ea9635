package pkcs7

import (
	"bytes"
	"errors"
	"testing"
)

func TestPKCS7Padding(t *testing.T) {
	t.Parallel()

	b := Pad([]byte("hello"), 8)
	if len(b) != 8 {
		t.Error("it should pad to 8 bytes:", len(b))
	}
	if !bytes.Equal(b, []byte{'h', 'e', 'l', 'l', 'o', 3, 3, 3}) {
		t.Error("bytes were wrong:", b)
	}

	unpadded, err := Unpad(b, 8)
	if err != nil {
		t.Error(err)
	}
	if !bytes.Equal(unpadded, []byte("hello")) {
		t.Error("bytes were wrong:", unpadded)
	}

	// When the input is already a multiple of k an entire extra block of
	// padding is added.
	b = Pad([]byte("8bytes!!"), 8)
	if len(b) != 16 {
		t.Error("it should pad to 16 bytes:", len(b))
	}
	if !bytes.Equal(b[8:], []byte{8, 8, 8, 8, 8, 8, 8, 8}) {
		t.Error("bytes were wrong:", b)
	}

	unpadded, err = Unpad(b, 8)
	if err != nil {
		t.Error(err)
	}
	if !bytes.Equal(unpadded, []byte("8bytes!!")) {
		t.Error("bytes were wrong:", unpadded)
	}
}

func TestPKCS7BadPadding(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
	}{
		{"empty", nil},
		{"not multiple of k", []byte{1, 2, 3}},
		{"pad byte zero", []byte{1, 2, 3, 4, 5, 6, 7, 0}},
		{"pad byte too large", []byte{1, 2, 3, 4, 5, 6, 7, 9}},
		{"inconsistent bytes", []byte{1, 2, 3, 4, 5, 2, 3, 3}},
	}

	for _, test := range tests {
		if _, err := Unpad(test.in, 8); !errors.Is(err, ErrBadPadding) {
			t.Errorf("%s: want ErrBadPadding, got: %v", test.name, err)
		}
	}
}
