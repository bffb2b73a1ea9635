package enroll

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeTransport scripts remote behavior and records which calls were made.
// When emailCode is set, a login resubmitted with that exact code completes,
// any other code is refused with a fresh email demand, mirroring the wire.
type fakeTransport struct {
	key        RSAKey
	keyErr     error
	login      LoginResult
	loginErr   error
	emailCode  string
	sendErr    error
	issued     Issued
	confirmErr error

	calls []string
}

func (f *fakeTransport) RSAKey(accountName string) (RSAKey, error) {
	f.calls = append(f.calls, "rsakey")
	return f.key, f.keyErr
}

func (f *fakeTransport) Login(req LoginRequest) (LoginResult, error) {
	if req.EmailCode != "" {
		f.calls = append(f.calls, "login:email:"+req.EmailCode)
	} else {
		f.calls = append(f.calls, "login")
	}
	if req.EncryptedPassword == "" {
		return LoginResult{}, errors.New("password was not encrypted")
	}
	if f.loginErr != nil {
		return LoginResult{}, f.loginErr
	}
	if req.EmailCode != "" {
		if f.emailCode != "" && req.EmailCode == f.emailCode {
			return LoginResult{Success: true}, nil
		}
		return LoginResult{CodeChannel: ChannelEmail}, nil
	}
	return f.login, nil
}

func (f *fakeTransport) SendCode(channel Channel) error {
	f.calls = append(f.calls, "send:"+string(channel))
	return f.sendErr
}

func (f *fakeTransport) ConfirmCode(code string) (Issued, error) {
	f.calls = append(f.calls, "confirm:"+code)
	return f.issued, f.confirmErr
}

func (f *fakeTransport) ConfirmDevice() (Issued, error) {
	f.calls = append(f.calls, "device")
	return f.issued, f.confirmErr
}

// testRSAKey generates a throwaway keypair small enough to be fast.
func testRSAKey(t *testing.T) (RSAKey, *rsa.PrivateKey) {
	t.Helper()

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	return RSAKey{
		Modulus:   priv.N.Text(16),
		Exponent:  fmt.Sprintf("%x", priv.E),
		Timestamp: "112233",
	}, priv
}

func testIssued() Issued {
	return Issued{
		SharedSecret:   "AAAAAAAAAAAAAAAAAAAAAAAAAAA=",
		IdentitySecret: "AQIDBAUGBwgJCgsMDQ4PEBESExQ=",
		RevocationCode: "R2345-6789B-CDFGH",
		SteamID:        "76561197960265728",
	}
}

func TestLoginValidation(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{}
	s := NewSession(transport)

	tests := []struct {
		name, account, password string
		want                    error
	}{
		{"short account", "ab", "password1", ErrInvalidAccountName},
		{"bad account chars", "user 123", "password1", ErrInvalidAccountName},
		{"empty account", "", "password1", ErrInvalidAccountName},
		{"short password", "user123", "pass", ErrInvalidPassword},
		{"empty password", "user123", "", ErrInvalidPassword},
	}

	for _, test := range tests {
		if err := s.Login(test.account, test.password); !errors.Is(err, test.want) {
			t.Errorf("%s: want %v, got: %v", test.name, test.want, err)
		}
	}

	if len(transport.calls) != 0 {
		t.Error("validation failures must not touch the network:", transport.calls)
	}
	if s.State() != Idle {
		t.Error("state was wrong:", s.State())
	}
}

func TestEmailCodeFlow(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:       key,
		login:     LoginResult{CodeChannel: ChannelEmail},
		emailCode: "AB12C",
		issued:    testIssued(),
	}
	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}
	if s.State() != EmailCodeNeeded {
		t.Fatal("state was wrong:", s.State())
	}
	// The password must survive until the handshake ends, the code has to
	// be resubmitted together with it.
	if s.password != "password1" {
		t.Fatal("password must be retained while a code is awaited")
	}

	// Resending the email is another login round without a code.
	if err := s.SendCode(); err != nil {
		t.Fatal(err)
	}
	if transport.calls[len(transport.calls)-1] != "login" {
		t.Error("email resend must rerun the login:", transport.calls)
	}

	if err := s.ConfirmCode("AB12C"); err != nil {
		t.Fatal(err)
	}
	if s.State() != Success {
		t.Fatal("state was wrong:", s.State())
	}
	if s.password != "" {
		t.Error("password must be cleared on a terminal transition")
	}

	// The code completed the login before the authenticator was confirmed.
	var resubmitted bool
	for _, call := range transport.calls {
		if call == "confirm:AB12C" && !resubmitted {
			t.Fatal("authenticator confirmed before the login completed:", transport.calls)
		}
		if call == "login:email:AB12C" {
			resubmitted = true
		}
	}
	if !resubmitted {
		t.Error("emailed code was never resubmitted with the login:", transport.calls)
	}

	cred, err := s.IssuedCredential()
	if err != nil {
		t.Fatal(err)
	}
	if cred.AccountName != "user123" {
		t.Error("account name was wrong:", cred.AccountName)
	}
	if cred.SharedSecret == "" || cred.IdentitySecret == "" || cred.RevocationCode == "" {
		t.Errorf("credential is missing secrets: %+v", cred)
	}
	if cred.SteamID == "" {
		t.Error("credential must carry the steam id")
	}

	// The credential is handed out exactly once.
	if _, err = s.IssuedCredential(); !errors.Is(err, ErrNoCredential) {
		t.Error("want ErrNoCredential, got:", err)
	}

	s.Reset()
	if s.State() != Idle || s.AccountName() != "" || s.password != "" {
		t.Error("reset must clear the session")
	}
}

func TestSmsCodeFlow(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:    key,
		login:  LoginResult{CodeChannel: ChannelSms},
		issued: testIssued(),
	}
	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}
	if s.State() != SmsCodeNeeded {
		t.Fatal("state was wrong:", s.State())
	}

	if err := s.SendCode(); err != nil {
		t.Fatal(err)
	}
	if transport.calls[len(transport.calls)-1] != "send:sms" {
		t.Error("send must use the sms channel:", transport.calls)
	}

	if err := s.ConfirmCode("12345"); err != nil {
		t.Fatal(err)
	}
	if s.State() != Success {
		t.Error("state was wrong:", s.State())
	}
}

func TestDeviceConfirmationFlow(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:    key,
		login:  LoginResult{Success: true},
		issued: testIssued(),
	}
	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}
	if s.State() != DeviceConfirmationNeeded {
		t.Fatal("state was wrong:", s.State())
	}

	// A code cannot be confirmed from here.
	if err := s.ConfirmCode("AB12C"); !errors.Is(err, ErrWrongState) {
		t.Error("want ErrWrongState, got:", err)
	}

	if err := s.ConfirmDevice(); err != nil {
		t.Fatal(err)
	}
	if s.State() != Success {
		t.Error("state was wrong:", s.State())
	}
}

func TestLoginRejected(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:   key,
		login: LoginResult{Message: "bad credentials"},
	}
	s := NewSession(transport)

	err := s.Login("user123", "password1")
	var remote *Error
	if !errors.As(err, &remote) {
		t.Fatal("want *Error, got:", err)
	}
	if remote.Message != "bad credentials" {
		t.Error("remote message was lost:", remote.Message)
	}
	if s.State() != Failed {
		t.Error("state was wrong:", s.State())
	}
	if s.Err() == nil {
		t.Error("failed session must retain its error")
	}
	if s.password != "" {
		t.Error("failed session must not retain the password")
	}

	// A fresh login implicitly discards the failed handshake.
	transport.login = LoginResult{CodeChannel: ChannelEmail}
	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}
	if s.State() != EmailCodeNeeded || s.Err() != nil {
		t.Error("second login must start clean:", s.State(), s.Err())
	}
}

func TestLoginTransportFailure(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:      key,
		loginErr: errors.New("connection refused"),
	}
	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err == nil {
		t.Fatal("expected an error")
	}
	// Unreachable service is not a rejection, login stays retryable.
	if s.State() != Idle {
		t.Error("state was wrong:", s.State())
	}
}

func TestConfirmCodeKeepsStateOnRejection(t *testing.T) {
	t.Parallel()

	key, _ := testRSAKey(t)
	transport := &fakeTransport{
		key:        key,
		login:      LoginResult{CodeChannel: ChannelEmail},
		emailCode:  "CD34E",
		confirmErr: &Error{Op: "finalize authenticator", Message: "bad code"},
	}
	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}

	// Shape failures are local and never reach the transport.
	before := len(transport.calls)
	if err := s.ConfirmCode("ab!"); !errors.Is(err, ErrInvalidCode) {
		t.Error("want ErrInvalidCode, got:", err)
	}
	if err := s.ConfirmCode("abcdefghijkl"); !errors.Is(err, ErrInvalidCode) {
		t.Error("want ErrInvalidCode, got:", err)
	}
	if len(transport.calls) != before {
		t.Error("invalid codes must not be submitted:", transport.calls)
	}

	// A wrong email code never completes the login, so the authenticator
	// must not be registered, and the state is kept so the user can retry.
	if err := s.ConfirmCode("AB12C"); err == nil {
		t.Fatal("expected an error")
	}
	if s.State() != EmailCodeNeeded {
		t.Error("state was wrong:", s.State())
	}
	for _, call := range transport.calls {
		if strings.HasPrefix(call, "confirm:") {
			t.Fatal("refused code must not reach the authenticator step:", transport.calls)
		}
	}

	// The right code with a rejected finalization also keeps the state.
	if err := s.ConfirmCode("CD34E"); err == nil {
		t.Fatal("expected an error")
	}
	if s.State() != EmailCodeNeeded {
		t.Error("state was wrong:", s.State())
	}

	transport.confirmErr = nil
	transport.issued = testIssued()
	if err := s.ConfirmCode("CD34E"); err != nil {
		t.Fatal(err)
	}
	if s.State() != Success {
		t.Error("state was wrong:", s.State())
	}
}

func TestWrongStateOperations(t *testing.T) {
	t.Parallel()

	s := NewSession(&fakeTransport{})

	if err := s.SendCode(); !errors.Is(err, ErrWrongState) {
		t.Error("want ErrWrongState, got:", err)
	}
	if err := s.ConfirmCode("AB12C"); !errors.Is(err, ErrWrongState) {
		t.Error("want ErrWrongState, got:", err)
	}
	if err := s.ConfirmDevice(); !errors.Is(err, ErrWrongState) {
		t.Error("want ErrWrongState, got:", err)
	}
	if _, err := s.IssuedCredential(); !errors.Is(err, ErrNoCredential) {
		t.Error("want ErrNoCredential, got:", err)
	}
}

func TestEncryptPassword(t *testing.T) {
	t.Parallel()

	key, priv := testRSAKey(t)

	encrypted, err := encryptPassword("password1", key)
	if err != nil {
		t.Fatal(err)
	}

	decoded, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		t.Fatal(err)
	}
	plaintext, err := rsa.DecryptPKCS1v15(nil, priv, decoded)
	if err != nil {
		t.Fatal(err)
	}
	if string(plaintext) != "password1" {
		t.Error("roundtrip was wrong:", string(plaintext))
	}

	if _, err = encryptPassword("password1", RSAKey{Modulus: "zz", Exponent: "10001"}); err == nil {
		t.Error("bad moduli must be rejected")
	}
	if _, err = encryptPassword("password1", RSAKey{Modulus: key.Modulus, Exponent: "zz"}); err == nil {
		t.Error("bad exponents must be rejected")
	}
}
