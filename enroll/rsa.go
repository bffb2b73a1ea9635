package enroll

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"strconv"
)

// encryptPassword seals the password with the account's RSA public key
// using PKCS#1 v1.5, the only scheme the login endpoint accepts, and
// base64 encodes the result.
func encryptPassword(password string, key RSAKey) (string, error) {
	modulus, ok := new(big.Int).SetString(key.Modulus, 16)
	if !ok {
		return "", fmt.Errorf("rsa key modulus is not hex: %q", key.Modulus)
	}
	exponent, err := strconv.ParseInt(key.Exponent, 16, 32)
	if err != nil {
		return "", fmt.Errorf("rsa key exponent is not hex: %q", key.Exponent)
	}

	pub := &rsa.PublicKey{N: modulus, E: int(exponent)}
	encrypted, err := rsa.EncryptPKCS1v15(rand.Reader, pub, []byte(password))
	if err != nil {
		return "", fmt.Errorf("failed to encrypt password: %w", err)
	}

	return base64.StdEncoding.EncodeToString(encrypted), nil
}
