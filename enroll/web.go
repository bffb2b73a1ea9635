package enroll

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/aarondl/maguard/confirm"
	"github.com/aarondl/maguard/guard"
)

// WebTransport is the production Transport, speaking to the community login
// endpoints and the two-factor web API. It keeps the login cookies and the
// authenticator secrets received mid-handshake between calls, so one
// instance serves exactly one enrollment at a time.
type WebTransport struct {
	client  *http.Client
	base    string
	apiBase string
	now     func() time.Time

	steamID     string
	accessToken string
	deviceID    string
	// pending holds the secrets issued by the add step until the finalize
	// step proves they arrived.
	pending *Issued
}

// NewWebTransport returns a transport with its own cookie jar and a 10
// second timeout on every call.
func NewWebTransport() (*WebTransport, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}

	client := cleanhttp.DefaultPooledClient()
	client.Jar = jar
	client.Timeout = 10 * time.Second

	return &WebTransport{
		client:  client,
		base:    "https://steamcommunity.com",
		apiBase: "https://api.steampowered.com",
		now:     time.Now,
	}, nil
}

// RSAKey fetches the per-account login key.
func (w *WebTransport) RSAKey(accountName string) (RSAKey, error) {
	form := url.Values{}
	form.Set("username", accountName)

	var resp struct {
		Success      bool   `json:"success"`
		PublicKeyMod string `json:"publickey_mod"`
		PublicKeyExp string `json:"publickey_exp"`
		Timestamp    string `json:"timestamp"`
	}
	if err := w.postForm(w.base+"/login/getrsakey/", form, &resp); err != nil {
		return RSAKey{}, err
	}
	if !resp.Success {
		return RSAKey{}, &Error{Op: "fetch rsa key", Message: "account name was not accepted"}
	}

	return RSAKey{
		Modulus:   resp.PublicKeyMod,
		Exponent:  resp.PublicKeyExp,
		Timestamp: resp.Timestamp,
	}, nil
}

// Login submits the encrypted credentials.
func (w *WebTransport) Login(req LoginRequest) (LoginResult, error) {
	form := url.Values{}
	form.Set("username", req.AccountName)
	form.Set("password", req.EncryptedPassword)
	form.Set("rsatimestamp", req.RSATimestamp)
	form.Set("remember_login", "true")
	form.Set("oauth_client_id", "DE45CD61")
	if req.EmailCode != "" {
		form.Set("emailauth", req.EmailCode)
	}

	var resp struct {
		Success            bool   `json:"success"`
		EmailAuthNeeded    bool   `json:"emailauth_needed"`
		RequiresTwoFactor  bool   `json:"requires_twofactor"`
		Message            string `json:"message"`
		OAuth              string `json:"oauth"`
		TransferParameters struct {
			SteamID string `json:"steamid"`
			Token   string `json:"token_secure"`
		} `json:"transfer_parameters"`
	}
	if err := w.postForm(w.base+"/login/dologin/", form, &resp); err != nil {
		return LoginResult{}, err
	}

	switch {
	case resp.EmailAuthNeeded:
		return LoginResult{CodeChannel: ChannelEmail}, nil
	case resp.RequiresTwoFactor:
		return LoginResult{CodeChannel: ChannelSms}, nil
	case resp.Success:
		w.steamID = resp.TransferParameters.SteamID
		w.accessToken = resp.TransferParameters.Token
		if resp.OAuth != "" {
			var oauth struct {
				SteamID string `json:"steamid"`
				Token   string `json:"oauth_token"`
			}
			if err := json.Unmarshal([]byte(resp.OAuth), &oauth); err == nil {
				w.steamID = oauth.SteamID
				w.accessToken = oauth.Token
			}
		}
		if id, err := strconv.ParseUint(w.steamID, 10, 64); err == nil {
			w.deviceID = confirm.DeviceID(id)
		}
		return LoginResult{Success: true}, nil
	default:
		return LoginResult{Message: resp.Message}, nil
	}
}

// SendCode dispatches the ownership code. The email code goes out as a side
// effect of the login attempt itself, so only the sms channel does work
// here: registering the new authenticator is what triggers the text.
func (w *WebTransport) SendCode(channel Channel) error {
	if channel != ChannelSms {
		return nil
	}
	return w.addAuthenticator()
}

// ConfirmCode finalizes enrollment with the code the user received.
func (w *WebTransport) ConfirmCode(code string) (Issued, error) {
	if w.pending == nil {
		if err := w.addAuthenticator(); err != nil {
			return Issued{}, err
		}
	}
	return w.finalize(code)
}

// ConfirmDevice finalizes enrollment for the trusted-device flow, where no
// typed code is involved.
func (w *WebTransport) ConfirmDevice() (Issued, error) {
	if w.pending == nil {
		if err := w.addAuthenticator(); err != nil {
			return Issued{}, err
		}
	}
	return w.finalize("")
}

// addAuthenticator registers a new mobile authenticator, which makes the
// service issue fresh secrets and dispatch the activation code. It cannot
// run until a login has fully completed and handed over the steam id and
// access token.
func (w *WebTransport) addAuthenticator() error {
	if w.steamID == "" || w.accessToken == "" {
		return fmt.Errorf("no completed login to register an authenticator against")
	}

	form := url.Values{}
	form.Set("steamid", w.steamID)
	form.Set("access_token", w.accessToken)
	form.Set("authenticator_type", "1")
	form.Set("device_identifier", w.deviceID)
	form.Set("sms_phone_id", "1")

	var resp struct {
		Response struct {
			Status         int    `json:"status"`
			SharedSecret   string `json:"shared_secret"`
			IdentitySecret string `json:"identity_secret"`
			RevocationCode string `json:"revocation_code"`
		} `json:"response"`
	}
	if err := w.postForm(w.apiBase+"/ITwoFactorService/AddAuthenticator/v1/", form, &resp); err != nil {
		return err
	}
	if resp.Response.Status != 1 {
		return &Error{Op: "add authenticator", Message: fmt.Sprintf("status %d", resp.Response.Status)}
	}

	w.pending = &Issued{
		SharedSecret:   resp.Response.SharedSecret,
		IdentitySecret: resp.Response.IdentitySecret,
		RevocationCode: resp.Response.RevocationCode,
		SteamID:        w.steamID,
	}
	return nil
}

// finalize proves the secrets arrived by answering with a code generated
// from them, plus the activation code when one was sent.
func (w *WebTransport) finalize(activationCode string) (Issued, error) {
	if w.pending == nil {
		return Issued{}, &Error{Op: "finalize authenticator", Message: "no authenticator registration in progress"}
	}

	at := w.now()
	authenticatorCode, _, err := guard.CodeAt(w.pending.SharedSecret, at)
	if err != nil {
		return Issued{}, err
	}

	form := url.Values{}
	form.Set("steamid", w.steamID)
	form.Set("access_token", w.accessToken)
	form.Set("authenticator_code", authenticatorCode)
	form.Set("authenticator_time", strconv.FormatInt(at.Unix(), 10))
	if activationCode != "" {
		form.Set("activation_code", activationCode)
	}

	var resp struct {
		Response struct {
			Success bool `json:"success"`
			Status  int  `json:"status"`
		} `json:"response"`
	}
	if err := w.postForm(w.apiBase+"/ITwoFactorService/FinalizeAuthenticator/v1/", form, &resp); err != nil {
		return Issued{}, err
	}
	if !resp.Response.Success {
		return Issued{}, &Error{Op: "finalize authenticator", Message: fmt.Sprintf("status %d", resp.Response.Status)}
	}

	issued := *w.pending
	w.pending = nil
	return issued, nil
}

func (w *WebTransport) postForm(endpoint string, form url.Values, out interface{}) error {
	resp, err := w.client.PostForm(endpoint, form)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request to %s failed: status %d", endpoint, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unparseable response from %s: %w", endpoint, err)
	}

	return nil
}
