// Package github is a minimal REST client for the pieces of the GitHub
// API tether needs: the OAuth device flow, repository creation, and the
// identity lookup used for commit signatures.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tetherhq/tether/pkg/config"
	"github.com/tetherhq/tether/pkg/errors"
	"github.com/tetherhq/tether/pkg/git"
	"github.com/tetherhq/tether/pkg/logging"
)

const (
	defaultAPIBase  = "https://api.github.com"
	defaultAuthBase = "https://github.com"

	// ClientID identifies tether's registered OAuth device-flow app.
	ClientID = "49a3a1366a197af11b86"
)

// Scopes requested during authentication.
var Scopes = []string{"public_repo", "repo"}

// Polling pace for the device flow, per the API's guidance: poll every
// five seconds unless told otherwise, back off by five more on a
// slow_down response. Shrunk in tests.
var (
	defaultPollInterval = 5 * time.Second
	slowDownStep        = 5 * time.Second
)

// Client talks to the GitHub REST API.
type Client struct {
	http     *http.Client
	apiBase  string
	authBase string
	token    string
	log      zerolog.Logger
}

// Option customizes a Client; used by tests to point at a fake server.
type Option func(*Client)

// WithBaseURLs overrides the API and auth endpoints.
func WithBaseURLs(apiBase, authBase string) Option {
	return func(c *Client) {
		c.apiBase = apiBase
		c.authBase = authBase
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// NewClient creates a client with a cached OAuth token. An empty token
// is allowed for the authentication flow itself.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		http:     &http.Client{Timeout: 30 * time.Second},
		apiBase:  defaultAPIBase,
		authBase: defaultAuthBase,
		token:    token,
		log:      logging.GetLogger("github"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeviceCode is the start of a device authorization flow.
type DeviceCode struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
	Error       string `json:"error"`
}

// Authenticate runs the OAuth device flow: request a device code, hand
// the user code to prompt, then poll until the user approves. A
// slow_down response grows the polling interval by five seconds as the
// API requires.
func (c *Client) Authenticate(ctx context.Context, prompt func(userCode, verificationURI string)) (*config.AuthHost, error) {
	codes, err := c.requestDeviceCode(ctx)
	if err != nil {
		return nil, err
	}
	prompt(codes.UserCode, codes.VerificationURI)

	interval := time.Duration(codes.Interval) * time.Second
	if interval <= 0 {
		interval = defaultPollInterval
	}
	deadline := time.Now().Add(time.Duration(codes.ExpiresIn) * time.Second)

	for {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrAuth, "authentication cancelled")
		case <-time.After(interval):
		}
		if time.Now().After(deadline) {
			return nil, errors.New(errors.ErrAuth, "device code expired before authorization")
		}

		token, err := c.pollToken(ctx, codes.DeviceCode)
		if err != nil {
			return nil, err
		}
		switch token.Error {
		case "":
			c.token = token.AccessToken
			return &config.AuthHost{
				Token:     token.AccessToken,
				TokenType: token.TokenType,
				Scopes:    Scopes,
			}, nil
		case "authorization_pending":
			// Keep polling.
		case "slow_down":
			interval += slowDownStep
		default:
			return nil, errors.Newf(errors.ErrAuth, "authentication failed: %s", token.Error)
		}
	}
}

func (c *Client) requestDeviceCode(ctx context.Context) (*DeviceCode, error) {
	body := map[string]interface{}{
		"client_id": ClientID,
		"scope":     joinScopes(Scopes),
	}
	var codes DeviceCode
	if err := c.postAuthJSON(ctx, c.authBase+"/login/device/code", body, &codes); err != nil {
		return nil, errors.Wrap(err, errors.ErrAuth, "could not start device authorization")
	}
	return &codes, nil
}

func (c *Client) pollToken(ctx context.Context, deviceCode string) (*tokenResponse, error) {
	body := map[string]interface{}{
		"client_id":   ClientID,
		"device_code": deviceCode,
		"grant_type":  "urn:ietf:params:oauth:grant-type:device_code",
	}
	var token tokenResponse
	if err := c.postAuthJSON(ctx, c.authBase+"/login/oauth/access_token", body, &token); err != nil {
		return nil, errors.Wrap(err, errors.ErrAuth, "could not poll for access token")
	}
	return &token, nil
}

// RepoCreateInfo describes a repository to create.
type RepoCreateInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Private     bool   `json:"private"`
	IsTemplate  bool   `json:"is_template"`
}

// Repo is the subset of the repository resource tether uses.
type Repo struct {
	Name     string `json:"name"`
	CloneURL string `json:"clone_url"`
	SSHURL   string `json:"ssh_url"`
	HTMLURL  string `json:"html_url"`
}

// CreateRepo creates a repository for the authenticated user.
func (c *Client) CreateRepo(ctx context.Context, info RepoCreateInfo) (*Repo, error) {
	var repo Repo
	if err := c.postJSON(ctx, c.apiBase+"/user/repos", info, &repo); err != nil {
		return nil, errors.Wrapf(err, errors.ErrHostAPI,
			"could not create repository %q", info.Name)
	}
	return &repo, nil
}

type userResponse struct {
	Login string `json:"login"`
}

type emailResponse struct {
	Email      string  `json:"email"`
	Primary    bool    `json:"primary"`
	Verified   bool    `json:"verified"`
	Visibility *string `json:"visibility"`
}

// AuthUser resolves the authenticated user's login and a verified
// public email for use as a commit signature.
func (c *Client) AuthUser(ctx context.Context) (*config.AuthUser, error) {
	var user userResponse
	if err := c.getJSON(ctx, c.apiBase+"/user", &user); err != nil {
		return nil, errors.Wrap(err, errors.ErrHostAPI, "could not fetch authenticated user")
	}

	var emails []emailResponse
	if err := c.getJSON(ctx, c.apiBase+"/user/public_emails", &emails); err != nil {
		return nil, errors.Wrap(err, errors.ErrHostAPI, "could not fetch public emails")
	}

	for _, email := range emails {
		if email.Verified && email.Visibility != nil && *email.Visibility == "public" {
			return &config.AuthUser{Name: user.Login, Email: email.Email}, nil
		}
	}
	return nil, errors.New(errors.ErrHostAPI,
		"no verified public email found on the GitHub account")
}

// Signature resolves the user identity as a commit signature.
func (c *Client) Signature(ctx context.Context) (git.Signature, error) {
	user, err := c.AuthUser(ctx)
	if err != nil {
		return git.Signature{}, err
	}
	return git.Signature{Name: user.Name, Email: user.Email}, nil
}

func (c *Client) postJSON(ctx context.Context, url string, body, out interface{}) error {
	req, err := c.newPost(ctx, url, body)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

// postAuthJSON posts to the OAuth endpoints on the auth host. They
// answer JSON only for a plain application/json accept header and fall
// back to form encoding otherwise, unlike the versioned API media type.
func (c *Client) postAuthJSON(ctx context.Context, url string, body, out interface{}) error {
	req, err := c.newPost(ctx, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) newPost(ctx context.Context, url string, body interface{}) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

func (c *Client) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/vnd.github+json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log.Debug().Str("method", req.Method).Str("url", req.URL.String()).Msg("API request")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s returned %d: %s", req.Method, req.URL.Path, resp.StatusCode, truncate(string(data), 200))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func joinScopes(scopes []string) string {
	out := ""
	for i, s := range scopes {
		if i > 0 {
			out += " "
		}
		out += s
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
