// Package enroll drives the multi-step handshake that turns an account
// login into a newly issued authenticator: login with an RSA-encrypted
// password, prove ownership through an emailed/texted code or a device tap,
// and receive the secrets plus a revocation code.
package enroll

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Local validation errors, reported before anything touches the network.
var (
	ErrInvalidAccountName = errors.New("invalid account name")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrInvalidCode        = errors.New("invalid confirmation code")
)

// ErrWrongState is returned when an operation is called from a state it is
// not valid in.
var ErrWrongState = errors.New("operation not valid in current state")

// ErrNoCredential is returned by IssuedCredential when there is nothing to
// hand out, either because enrollment has not succeeded or because the
// credential was already taken.
var ErrNoCredential = errors.New("no issued credential")

// Error is a rejection decided by the remote service, as opposed to a
// failure to reach it. It carries the remote message verbatim.
type Error struct {
	Op      string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Op, e.Message)
}

// State of the enrollment handshake.
type State int

// The handshake states. Success and Failed are terminal, only Reset leads
// back to Idle from them.
const (
	Idle State = iota
	LoggingIn
	EmailCodeNeeded
	SmsCodeNeeded
	DeviceConfirmationNeeded
	Success
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LoggingIn:
		return "logging in"
	case EmailCodeNeeded:
		return "email code needed"
	case SmsCodeNeeded:
		return "sms code needed"
	case DeviceConfirmationNeeded:
		return "device confirmation needed"
	case Success:
		return "success"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("unknown state %d", int(s))
}

// Channel is how the ownership proof code reaches the user.
type Channel string

// The code delivery channels.
const (
	ChannelNone  Channel = ""
	ChannelEmail Channel = "email"
	ChannelSms   Channel = "sms"
)

// RSAKey is the per-account public key the password must be encrypted with.
// Modulus and Exponent are hex strings, Timestamp is an opaque value echoed
// back on login.
type RSAKey struct {
	Modulus   string
	Exponent  string
	Timestamp string
}

// LoginRequest is a fully prepared login submission. The password is
// already RSA-encrypted and base64 encoded. EmailCode is set when the
// credentials are being resubmitted with the emailed ownership code, which
// is what completes an email-gated login.
type LoginRequest struct {
	AccountName       string
	EncryptedPassword string
	RSATimestamp      string
	EmailCode         string
}

// LoginResult is the remote answer to a login submission. Exactly one of
// three shapes: Success set (proceed to device confirmation), CodeChannel
// set (a code was sent out-of-band), or neither (rejected, Message says
// why).
type LoginResult struct {
	Success     bool
	CodeChannel Channel
	Message     string
}

// Issued is the secret material handed out at the end of a successful
// enrollment.
type Issued struct {
	SharedSecret   string
	IdentitySecret string
	RevocationCode string
	SteamID        string
}

// Credential is an Issued bound to the account it belongs to, ready to be
// persisted.
type Credential struct {
	AccountName string
	Issued
}

// Transport performs the remote calls of the handshake. Remote rejections
// come back as *Error, anything else is a transport failure. WebTransport
// is the production implementation.
type Transport interface {
	RSAKey(accountName string) (RSAKey, error)
	Login(req LoginRequest) (LoginResult, error)
	SendCode(channel Channel) error
	ConfirmCode(code string) (Issued, error)
	ConfirmDevice() (Issued, error)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Account names allow ascii letters, digits, underscore and hyphen.
	must(v.RegisterValidation("accountchars", func(fl validator.FieldLevel) bool {
		for _, r := range fl.Field().String() {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			default:
				return false
			}
		}
		return true
	}))

	return v
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

type loginInput struct {
	AccountName string `validate:"required,min=3,max=32,accountchars"`
	Password    string `validate:"required,min=5,max=120"`
}

type codeInput struct {
	Code string `validate:"required,alphanum,min=5,max=10"`
}

// Session is one enrollment handshake. It is not safe for concurrent use
// and a process should drive at most one at a time; starting a second
// Login on the same session discards the first.
type Session struct {
	transport Transport

	state       State
	accountName string
	// password is held only while the handshake is in flight, it is needed
	// to resubmit the login once the email code arrives. Every terminal
	// transition and Reset clears it.
	password string
	channel  Channel
	cred     *Credential
	lastErr  error
}

// NewSession returns an Idle session using transport for all remote calls.
func NewSession(transport Transport) *Session {
	return &Session{transport: transport}
}

// State reports where the handshake currently stands.
func (s *Session) State() State {
	return s.state
}

// Err returns the error that put the session into Failed, or nil.
func (s *Session) Err() error {
	return s.lastErr
}

// AccountName returns the account the current handshake is for.
func (s *Session) AccountName() string {
	return s.accountName
}

// Login starts the handshake. Credential shapes are validated locally
// before any network call. Transport failures roll the session back to
// Idle so Login can simply be retried, a remote rejection moves it to
// Failed. The password stays in the session until a terminal transition,
// the email flow has to resubmit it together with the code.
func (s *Session) Login(accountName, password string) error {
	in := loginInput{AccountName: accountName, Password: password}
	if err := validate.Struct(in); err != nil {
		return localValidationError(err)
	}

	// A new login discards whatever flow was in progress.
	s.Reset()
	s.state = LoggingIn
	s.accountName = accountName
	s.password = password

	result, err := s.submitLogin("")
	if err != nil {
		return s.remoteFailed("login", err)
	}

	switch {
	case result.CodeChannel == ChannelEmail:
		s.state = EmailCodeNeeded
		s.channel = ChannelEmail
	case result.CodeChannel == ChannelSms:
		s.state = SmsCodeNeeded
		s.channel = ChannelSms
	case result.Success:
		s.state = DeviceConfirmationNeeded
	default:
		s.state = Failed
		s.password = ""
		s.lastErr = &Error{Op: "login", Message: result.Message}
		return s.lastErr
	}

	return nil
}

// submitLogin runs one getrsakey + login round using the stored
// credentials, attaching emailCode when the emailed code is being answered.
func (s *Session) submitLogin(emailCode string) (LoginResult, error) {
	key, err := s.transport.RSAKey(s.accountName)
	if err != nil {
		return LoginResult{}, err
	}

	encrypted, err := encryptPassword(s.password, key)
	if err != nil {
		return LoginResult{}, err
	}

	return s.transport.Login(LoginRequest{
		AccountName:       s.accountName,
		EncryptedPassword: encrypted,
		RSATimestamp:      key.Timestamp,
		EmailCode:         emailCode,
	})
}

// SendCode asks the remote service to (re)send the ownership code on the
// channel chosen during login. Valid only while a code is being waited
// for, and a failure leaves the state unchanged so it can be retried. The
// email is dispatched by the login attempt itself, so resending on that
// channel means running another login round without a code.
func (s *Session) SendCode() error {
	if s.state != EmailCodeNeeded && s.state != SmsCodeNeeded {
		return fmt.Errorf("%w: send code during %s", ErrWrongState, s.state)
	}

	if s.channel == ChannelEmail {
		_, err := s.submitLogin("")
		return err
	}

	return s.transport.SendCode(s.channel)
}

// ConfirmCode submits the received code. The code shape is checked locally
// first. A remote rejection or transport failure keeps the current state, so
// the caller may retry the code or fall back to SendCode. Acceptance stores
// the issued credential and moves to Success.
//
// On the email channel the code first completes the login itself: the
// stored credentials are resubmitted with the code attached, and only a
// fully logged-in session goes on to register the authenticator.
func (s *Session) ConfirmCode(code string) error {
	if s.state != EmailCodeNeeded && s.state != SmsCodeNeeded {
		return fmt.Errorf("%w: confirm code during %s", ErrWrongState, s.state)
	}
	if err := validate.Struct(codeInput{Code: code}); err != nil {
		return fmt.Errorf("%w: must be 5-10 letters and digits", ErrInvalidCode)
	}

	if s.channel == ChannelEmail {
		result, err := s.submitLogin(code)
		if err != nil {
			return err
		}
		if !result.Success {
			// The service demanding a code again means this one was not
			// accepted, but a fresh mail is on its way.
			if result.CodeChannel != ChannelNone {
				return &Error{Op: "confirm code", Message: "code was not accepted"}
			}
			return &Error{Op: "confirm code", Message: result.Message}
		}
	}

	issued, err := s.transport.ConfirmCode(code)
	if err != nil {
		return err
	}

	s.succeed(issued)
	return nil
}

// ConfirmDevice completes enrollment for accounts that approve the new
// authenticator on an already-trusted device instead of typing a code.
func (s *Session) ConfirmDevice() error {
	if s.state != DeviceConfirmationNeeded {
		return fmt.Errorf("%w: confirm device during %s", ErrWrongState, s.state)
	}

	issued, err := s.transport.ConfirmDevice()
	if err != nil {
		return err
	}

	s.succeed(issued)
	return nil
}

// IssuedCredential hands out the enrollment result exactly once. The
// session keeps no copy afterwards, the caller owns persisting it.
func (s *Session) IssuedCredential() (Credential, error) {
	if s.state != Success || s.cred == nil {
		return Credential{}, ErrNoCredential
	}

	cred := *s.cred
	s.cred = nil
	return cred, nil
}

// Reset returns the session to Idle, dropping any in-flight handshake,
// retained password and unclaimed credential. It always succeeds.
func (s *Session) Reset() {
	s.state = Idle
	s.accountName = ""
	s.password = ""
	s.channel = ChannelNone
	s.cred = nil
	s.lastErr = nil
}

func (s *Session) succeed(issued Issued) {
	s.cred = &Credential{AccountName: s.accountName, Issued: issued}
	s.state = Success
	s.password = ""
}

// remoteFailed classifies an error from the transport during login. A
// rejection by the service is final for this handshake, anything else
// (timeouts, refused connections) rolls back to Idle so login stays
// retryable.
func (s *Session) remoteFailed(op string, err error) error {
	var remote *Error
	if errors.As(err, &remote) {
		s.state = Failed
		s.password = ""
		s.lastErr = remote
		return remote
	}

	s.Reset()
	return fmt.Errorf("%s: %w", op, err)
}

func localValidationError(err error) error {
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}

	switch fields[0].Field() {
	case "AccountName":
		return fmt.Errorf("%w: 3-32 letters, digits, underscore or hyphen", ErrInvalidAccountName)
	case "Password":
		return fmt.Errorf("%w: 5-120 characters", ErrInvalidPassword)
	}
	return fmt.Errorf("%w: must be 5-10 letters and digits", ErrInvalidCode)
}
