// Package guard generates Steam Guard two-factor codes. The scheme is the
// RFC 6238 TOTP construction over HMAC-SHA1 with a 30 second period, except
// the truncated value is rendered as five symbols from a reduced alphabet
// instead of decimal digits.
package guard

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pquerna/otp"
)

// ErrInvalidSecret is returned when a shared secret is not valid base64 or
// does not decode to the expected number of bytes.
var ErrInvalidSecret = errors.New("invalid shared secret")

// alphabet is the symbol set codes are drawn from. Easily confused
// characters (0/O, 1/I, etc.) are left out.
const alphabet = "23456789BCDFGHJKMNPQRTVWXY"

const (
	// Period is how long a single code is valid, in seconds.
	Period = 30
	// CodeLength is the number of symbols in a generated code.
	CodeLength = 5

	secretSize = 20
)

// CheckSecret validates that secret is base64 and decodes to the right
// number of bytes. It returns ErrInvalidSecret when it does not.
func CheckSecret(secret string) error {
	_, err := decodeSecret(secret)
	return err
}

// Code generates the current code for secret, shifted by offset to account
// for clock skew against the server. It also returns the number of seconds
// the code remains valid.
func Code(secret string, offset time.Duration) (code string, remaining int, err error) {
	return CodeAt(secret, time.Now().Add(offset))
}

// CodeAt generates the code for secret at the given moment, along with the
// seconds of validity it has left.
func CodeAt(secret string, at time.Time) (code string, remaining int, err error) {
	value, remaining, err := truncate(secret, at)
	if err != nil {
		return "", 0, err
	}

	buf := make([]byte, CodeLength)
	for i := CodeLength - 1; i >= 0; i-- {
		buf[i] = alphabet[value%uint32(len(alphabet))]
		value /= uint32(len(alphabet))
	}

	return string(buf), remaining, nil
}

// LegacyCode generates the current code in the old plain-decimal format,
// five digits with leading zeros. Only useful for accounts enrolled before
// the alphabet format existed.
func LegacyCode(secret string, offset time.Duration) (code string, remaining int, err error) {
	return LegacyCodeAt(secret, time.Now().Add(offset))
}

// LegacyCodeAt generates the decimal format code for secret at the given
// moment.
func LegacyCodeAt(secret string, at time.Time) (code string, remaining int, err error) {
	value, remaining, err := truncate(secret, at)
	if err != nil {
		return "", 0, err
	}

	return fmt.Sprintf("%05d", value%100000), remaining, nil
}

// truncate runs the shared HOTP steps: HMAC the time counter, dynamically
// truncate the digest to a 31 bit integer.
func truncate(secret string, at time.Time) (value uint32, remaining int, err error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return 0, 0, err
	}

	unix := at.Unix()
	var counter [8]byte
	binary.BigEndian.PutUint64(counter[:], uint64(unix/Period))

	mac := hmac.New(sha1.New, key)
	mac.Write(counter[:])
	digest := mac.Sum(nil)

	off := digest[len(digest)-1] & 0x0F
	value = binary.BigEndian.Uint32(digest[off:off+4]) & 0x7FFFFFFF

	return value, Period - int(unix%Period), nil
}

func decodeSecret(secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	if len(key) != secretSize {
		return nil, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidSecret, len(key), secretSize)
	}

	return key, nil
}

// ProvisioningURI builds an otpauth:// URI for the account. Generic
// authenticator apps that follow it will produce decimal codes, not the
// alphabet format, so this is mostly useful as a backup of the secret.
func ProvisioningURI(accountName, secret string) (string, error) {
	key, err := decodeSecret(secret)
	if err != nil {
		return "", err
	}

	v := url.Values{}
	v.Set("secret", base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(key))
	v.Set("issuer", "Steam")
	v.Set("period", fmt.Sprintf("%d", Period))
	v.Set("digits", fmt.Sprintf("%d", CodeLength))

	u := url.URL{
		Scheme:   "otpauth",
		Host:     "totp",
		Path:     "/Steam:" + accountName,
		RawQuery: v.Encode(),
	}

	uri := u.String()
	if _, err := otp.NewKeyFromURL(uri); err != nil {
		return "", fmt.Errorf("built unparseable provisioning uri: %w", err)
	}

	return uri, nil
}
