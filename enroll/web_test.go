package enroll

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aarondl/maguard/guard"
)

// fakeService impersonates the login and two-factor endpoints for one
// email-gated enrollment: the first login demands the email code, the
// resubmission with the right emailauth completes it and hands over the
// transfer parameters, and only then does the two-factor API cooperate.
type fakeService struct {
	priv *rsa.PrivateKey

	sawPassword  string
	issuedSecret string
	loginCalls   int
	addSteamID   string
	addToken     string
	finalized    bool
}

const (
	serviceSteamID = "76561197960265728"
	serviceToken   = "tok-112233"
)

func (f *fakeService) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/login/getrsakey/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success":true,"publickey_mod":"%s","publickey_exp":"%x","timestamp":"112233"}`,
			f.priv.N.Text(16), f.priv.E)
	})

	mux.HandleFunc("/login/dologin/", func(w http.ResponseWriter, r *http.Request) {
		f.loginCalls++

		encrypted, err := base64.StdEncoding.DecodeString(r.FormValue("password"))
		if err != nil {
			http.Error(w, "bad password encoding", http.StatusBadRequest)
			return
		}
		plaintext, err := rsa.DecryptPKCS1v15(nil, f.priv, encrypted)
		if err != nil {
			http.Error(w, "bad password encryption", http.StatusBadRequest)
			return
		}
		f.sawPassword = string(plaintext)

		if r.FormValue("rsatimestamp") != "112233" {
			fmt.Fprint(w, `{"success":false,"message":"stale rsa key"}`)
			return
		}
		if r.FormValue("emailauth") != "AB12C" {
			// No code or a wrong code, either way a fresh mail goes out.
			fmt.Fprint(w, `{"success":false,"emailauth_needed":true,"emaildomain":"example.org"}`)
			return
		}
		fmt.Fprintf(w, `{"success":true,"transfer_parameters":{"steamid":"%s","token_secure":"%s"}}`,
			serviceSteamID, serviceToken)
	})

	mux.HandleFunc("/ITwoFactorService/AddAuthenticator/v1/", func(w http.ResponseWriter, r *http.Request) {
		f.addSteamID = r.FormValue("steamid")
		f.addToken = r.FormValue("access_token")
		if f.addSteamID != serviceSteamID || f.addToken != serviceToken {
			fmt.Fprint(w, `{"response":{"status":84}}`)
			return
		}
		fmt.Fprintf(w, `{"response":{"status":1,"shared_secret":"%s","identity_secret":"AQIDBAUGBwgJCgsMDQ4PEBESExQ=","revocation_code":"R2345-6789B-CDFGH"}}`,
			f.issuedSecret)
	})

	mux.HandleFunc("/ITwoFactorService/FinalizeAuthenticator/v1/", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("steamid") != serviceSteamID || r.FormValue("access_token") != serviceToken {
			fmt.Fprint(w, `{"response":{"success":false,"status":84}}`)
			return
		}
		if r.FormValue("activation_code") != "AB12C" {
			fmt.Fprint(w, `{"response":{"success":false,"status":89}}`)
			return
		}
		// The caller proves secret receipt with a code derived from it.
		want, _, err := guard.CodeAt(f.issuedSecret, time.Unix(1234567890, 0))
		if err != nil || r.FormValue("authenticator_code") != want {
			fmt.Fprint(w, `{"response":{"success":false,"status":88}}`)
			return
		}
		f.finalized = true
		fmt.Fprint(w, `{"response":{"success":true,"status":2}}`)
	})

	return mux
}

func TestWebTransportEnrollment(t *testing.T) {
	t.Parallel()

	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	if err != nil {
		t.Fatal(err)
	}
	service := &fakeService{priv: priv, issuedSecret: "AAAAAAAAAAAAAAAAAAAAAAAAAAA="}
	server := httptest.NewServer(service.mux())
	defer server.Close()

	transport, err := NewWebTransport()
	if err != nil {
		t.Fatal(err)
	}
	transport.base = server.URL
	transport.apiBase = server.URL
	transport.now = func() time.Time { return time.Unix(1234567890, 0) }

	s := NewSession(transport)

	if err := s.Login("user123", "password1"); err != nil {
		t.Fatal(err)
	}
	if s.State() != EmailCodeNeeded {
		t.Fatal("state was wrong:", s.State())
	}
	if service.sawPassword != "password1" {
		t.Error("service decrypted the wrong password:", service.sawPassword)
	}

	// A wrong email code never completes the login, so the two-factor API
	// must not have been touched, and the state allows a retry.
	if err := s.ConfirmCode("XX99X"); err == nil {
		t.Fatal("expected a rejection")
	}
	if s.State() != EmailCodeNeeded {
		t.Fatal("state was wrong:", s.State())
	}
	if service.addSteamID != "" {
		t.Fatal("authenticator registered before the login completed")
	}

	if err := s.ConfirmCode("AB12C"); err != nil {
		t.Fatal(err)
	}
	if !service.finalized {
		t.Error("enrollment was never finalized remotely")
	}

	// The code arrived as emailauth on a second dologin, which handed
	// the steam id and access token to the authenticator registration.
	if service.loginCalls < 2 {
		t.Error("emailed code was never resubmitted to the login:", service.loginCalls)
	}
	if service.addSteamID != serviceSteamID || service.addToken != serviceToken {
		t.Errorf("registration used the wrong identity: %q %q", service.addSteamID, service.addToken)
	}

	cred, err := s.IssuedCredential()
	if err != nil {
		t.Fatal(err)
	}
	if cred.SharedSecret != service.issuedSecret {
		t.Error("shared secret was wrong:", cred.SharedSecret)
	}
	if cred.RevocationCode != "R2345-6789B-CDFGH" {
		t.Error("revocation code was wrong:", cred.RevocationCode)
	}
	if cred.SteamID != serviceSteamID {
		t.Error("credential must carry the steam id:", cred.SteamID)
	}
}

func TestWebTransportConfirmBeforeLogin(t *testing.T) {
	t.Parallel()

	transport, err := NewWebTransport()
	if err != nil {
		t.Fatal(err)
	}

	// Without a completed login there is no identity to register against,
	// the transport must refuse instead of posting empty parameters.
	if _, err := transport.ConfirmCode("AB12C"); err == nil {
		t.Error("expected an error")
	}
	if _, err := transport.ConfirmDevice(); err == nil {
		t.Error("expected an error")
	}
}

func TestWebTransportRSAKeyRefused(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer server.Close()

	transport, err := NewWebTransport()
	if err != nil {
		t.Fatal(err)
	}
	transport.base = server.URL

	_, err = transport.RSAKey("user123")
	var remote *Error
	if !errors.As(err, &remote) {
		t.Fatal("want *Error, got:", err)
	}
}
