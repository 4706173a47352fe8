package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tetherhq/tether/pkg/errors"
)

// fastPolling shrinks the device flow pacing so tests finish quickly.
func fastPolling(t *testing.T) {
	t.Helper()
	oldInterval, oldStep := defaultPollInterval, slowDownStep
	defaultPollInterval = 10 * time.Millisecond
	slowDownStep = 10 * time.Millisecond
	t.Cleanup(func() {
		defaultPollInterval = oldInterval
		slowDownStep = oldStep
	})
}

func TestAuthenticateDeviceFlow(t *testing.T) {
	fastPolling(t)
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login/device/code":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code":      "device-123",
				"user_code":        "ABCD-1234",
				"verification_uri": "https://github.com/login/device",
				"expires_in":       900,
				"interval":         0,
			})
		case "/login/oauth/access_token":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "device-123", body["device_code"])
			assert.Equal(t, "urn:ietf:params:oauth:grant-type:device_code", body["grant_type"])

			switch polls.Add(1) {
			case 1:
				json.NewEncoder(w).Encode(map[string]string{"error": "authorization_pending"})
			case 2:
				json.NewEncoder(w).Encode(map[string]string{"error": "slow_down"})
			default:
				json.NewEncoder(w).Encode(map[string]string{
					"access_token": "gho_granted",
					"token_type":   "bearer",
				})
			}
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient("", WithBaseURLs(server.URL, server.URL))
	var promptedCode string
	auth, err := client.Authenticate(context.Background(), func(userCode, uri string) {
		promptedCode = userCode
	})
	require.NoError(t, err)

	assert.Equal(t, "ABCD-1234", promptedCode)
	assert.Equal(t, "gho_granted", auth.Token)
	assert.Equal(t, Scopes, auth.Scopes)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
}

func TestAuthenticateAsksForPlainJSON(t *testing.T) {
	fastPolling(t)
	// The OAuth host answers with form encoding unless the request
	// carries a plain application/json accept header; the versioned
	// API media type does not count.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/json" {
			w.Write([]byte("device_code=d&user_code=u&verification_uri=v"))
			return
		}
		switch r.URL.Path {
		case "/login/device/code":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code": "d", "user_code": "u", "verification_uri": "v",
				"expires_in": 900, "interval": 0,
			})
		case "/login/oauth/access_token":
			json.NewEncoder(w).Encode(map[string]string{
				"access_token": "gho_granted",
				"token_type":   "bearer",
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient("", WithBaseURLs(server.URL, server.URL))
	auth, err := client.Authenticate(context.Background(), func(string, string) {})
	require.NoError(t, err)
	assert.Equal(t, "gho_granted", auth.Token)
}

func TestAuthenticateDenied(t *testing.T) {
	fastPolling(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login/device/code":
			json.NewEncoder(w).Encode(map[string]interface{}{
				"device_code": "d", "user_code": "u", "verification_uri": "v",
				"expires_in": 900, "interval": 0,
			})
		default:
			json.NewEncoder(w).Encode(map[string]string{"error": "access_denied"})
		}
	}))
	defer server.Close()

	client := NewClient("", WithBaseURLs(server.URL, server.URL))
	_, err := client.Authenticate(context.Background(), func(string, string) {})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrAuth))
}

func TestCreateRepo(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/user/repos", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))

		var info RepoCreateInfo
		require.NoError(t, json.NewDecoder(r.Body).Decode(&info))
		assert.Equal(t, "tether-config", info.Name)
		assert.True(t, info.Private)

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Repo{
			Name:     info.Name,
			SSHURL:   "git@github.com:octocat/tether-config.git",
			CloneURL: "https://github.com/octocat/tether-config.git",
			HTMLURL:  "https://github.com/octocat/tether-config",
		})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURLs(server.URL, server.URL))
	repo, err := client.CreateRepo(context.Background(), RepoCreateInfo{
		Name: "tether-config", Private: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "git@github.com:octocat/tether-config.git", repo.SSHURL)
}

func TestCreateRepoAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "name already exists"})
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURLs(server.URL, server.URL))
	_, err := client.CreateRepo(context.Background(), RepoCreateInfo{Name: "dup"})
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrHostAPI))
}

func TestSignatureFromVerifiedPublicEmail(t *testing.T) {
	public := "public"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
		case "/user/public_emails":
			json.NewEncoder(w).Encode([]emailResponse{
				{Email: "secret@example.com", Verified: false},
				{Email: "octo@example.com", Verified: true, Visibility: &public},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURLs(server.URL, server.URL))
	sig, err := client.Signature(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "octocat", sig.Name)
	assert.Equal(t, "octo@example.com", sig.Email)
}

func TestSignatureWithoutPublicEmail(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/user":
			json.NewEncoder(w).Encode(map[string]string{"login": "octocat"})
		case "/user/public_emails":
			json.NewEncoder(w).Encode([]emailResponse{})
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	client := NewClient("tok", WithBaseURLs(server.URL, server.URL))
	_, err := client.Signature(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrHostAPI))
}
