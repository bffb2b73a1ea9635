// Package confirm lists and answers pending mobile confirmations. Every
// request carries a time-keyed HMAC-SHA1 signature derived from the
// account's identity secret, which is all the remote service uses to
// authenticate the device beyond the session cookies.
package confirm

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/hashicorp/go-cleanhttp"
)

// ErrRemoteConfirmation is wrapped by every error arising from talking to
// the confirmation service, transport failures and unparseable responses
// alike. A nil error with an empty list genuinely means no confirmations
// are pending.
var ErrRemoteConfirmation = errors.New("remote confirmation error")

// Tags select which remote operation a signing key is valid for. A key made
// for one tag is useless for any other.
const (
	TagList    = "conf"
	TagDetails = "details"
	TagAllow   = "allow"
	TagCancel  = "cancel"
)

const communityBase = "https://steamcommunity.com"

// Decision is the answer given to a pending confirmation.
type Decision int

// The two possible decisions.
const (
	Approve Decision = iota
	Deny
)

func (d Decision) String() string {
	if d == Approve {
		return "approve"
	}
	return "deny"
}

// op is the wire name for the decision.
func (d Decision) op() string {
	if d == Approve {
		return TagAllow
	}
	return TagCancel
}

// Account identifies who is answering confirmations and holds the secret
// that signs the requests.
type Account struct {
	SteamID        uint64
	IdentitySecret string
	DeviceID       string
}

// Session carries the logged-in web session cookies. The caller owns the
// cookie lifetime, this package only attaches them to requests.
type Session struct {
	Cookies []*http.Cookie
}

// Confirmation is one pending remote action awaiting approve/deny.
type Confirmation struct {
	ID          string `json:"id"`
	Kind        string `json:"type"`
	Description string `json:"headline"`
	CreatedAt   int64  `json:"creation_time"`
	Status      string `json:"status"`
}

// Doer issues http requests. *http.Client satisfies it.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to the confirmation endpoints. Construct with NewClient.
type Client struct {
	doer Doer
	base string
	now  func() time.Time
}

// NewClient returns a Client using doer for transport. A nil doer gets a
// pooled default client with a 10 second timeout.
func NewClient(doer Doer) *Client {
	if doer == nil {
		httpClient := cleanhttp.DefaultPooledClient()
		httpClient.Timeout = 10 * time.Second
		doer = httpClient
	}

	return &Client{
		doer: doer,
		base: communityBase,
		now:  time.Now,
	}
}

// SigningKey produces the base64 request signature for one operation:
// HMAC-SHA1 over the big-endian timestamp followed by the tag bytes, keyed
// with the decoded identity secret.
func SigningKey(identitySecret, tag string, timestamp int64) (string, error) {
	key, err := base64.StdEncoding.DecodeString(identitySecret)
	if err != nil {
		return "", fmt.Errorf("invalid identity secret: %w", err)
	}

	msg := make([]byte, 8+len(tag))
	binary.BigEndian.PutUint64(msg[:8], uint64(timestamp))
	copy(msg[8:], tag)

	mac := hmac.New(sha1.New, key)
	mac.Write(msg)

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// DeviceID derives the stable android device identifier for an account. The
// remote service requires the same value on every request for a device.
func DeviceID(steamID uint64) string {
	id := uuid.NewV5(uuid.NamespaceOID, strconv.FormatUint(steamID, 10))
	return "android:" + id.String()
}

// ListPending fetches the confirmations currently awaiting an answer. An
// empty slice with a nil error means there are none, any trouble reaching
// or parsing the remote service comes back as an error wrapping
// ErrRemoteConfirmation.
func (c *Client) ListPending(account Account, session Session) ([]Confirmation, error) {
	params, err := c.signedParams(account, TagList)
	if err != nil {
		return nil, err
	}

	body, err := c.get("/mobileconf/getlist", params, session)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Success bool           `json:"success"`
		Conf    []Confirmation `json:"conf"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: unparseable list response: %v", ErrRemoteConfirmation, err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("%w: service refused the list request", ErrRemoteConfirmation)
	}

	return resp.Conf, nil
}

// Respond answers a single confirmation. The returned bool is the remote
// service's own success flag; transport and parse failures are errors, a
// clean "false" means the service understood and refused.
func (c *Client) Respond(account Account, session Session, confirmationID string, decision Decision) (bool, error) {
	op := decision.op()
	params, err := c.signedParams(account, op)
	if err != nil {
		return false, err
	}
	params.Set("op", op)
	params.Set("cid", confirmationID)

	body, err := c.postForm("/mobileconf/ajaxop", params, session)
	if err != nil {
		return false, err
	}

	var resp struct {
		Success bool `json:"success"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("%w: unparseable op response: %v", ErrRemoteConfirmation, err)
	}

	return resp.Success, nil
}

// DetailsURL builds a signed link to the human-readable detail page for a
// confirmation, suitable for opening in a browser that shares the session.
func (c *Client) DetailsURL(account Account, confirmationID string) (string, error) {
	params, err := c.signedParams(account, TagDetails)
	if err != nil {
		return "", err
	}

	return c.base + "/mobileconf/details/" + confirmationID + "?" + params.Encode(), nil
}

// signedParams builds the query parameters common to every confirmation
// request, including a fresh signature for tag.
func (c *Client) signedParams(account Account, tag string) (url.Values, error) {
	timestamp := c.now().Unix()
	key, err := SigningKey(account.IdentitySecret, tag, timestamp)
	if err != nil {
		return nil, err
	}

	deviceID := account.DeviceID
	if deviceID == "" {
		deviceID = DeviceID(account.SteamID)
	}

	params := url.Values{}
	params.Set("p", deviceID)
	params.Set("a", strconv.FormatUint(account.SteamID, 10))
	params.Set("k", key)
	params.Set("t", strconv.FormatInt(timestamp, 10))
	params.Set("m", "react")
	params.Set("tag", tag)

	return params, nil
}

func (c *Client) get(path string, params url.Values, session Session) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, c.base+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteConfirmation, err)
	}

	return c.do(req, session)
}

func (c *Client) postForm(path string, params url.Values, session Session) ([]byte, error) {
	req, err := http.NewRequest(http.MethodPost, c.base+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteConfirmation, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	return c.do(req, session)
}

func (c *Client) do(req *http.Request, session Session) ([]byte, error) {
	for _, cookie := range session.Cookies {
		req.AddCookie(cookie)
	}

	resp, err := c.doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteConfirmation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrRemoteConfirmation, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteConfirmation, err)
	}

	return body, nil
}
