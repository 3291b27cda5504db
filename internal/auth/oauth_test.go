package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/tinkapp/tink/internal/model"
)

// newGoogleTestServer serves a token endpoint and a userinfo endpoint.
func newGoogleTestServer(t *testing.T, user googleUser) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"google-access","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer google-access" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(user)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestGoogleProvider(srvURL string) *GoogleProvider {
	p := NewGoogleProvider("client-id", "client-secret", "http://localhost/api/auth/google/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:  srvURL + "/auth",
		TokenURL: srvURL + "/token",
	}
	p.userInfoURL = srvURL + "/userinfo"
	return p
}

// =========================================================================
// GOOGLE TESTS
// =========================================================================

func TestGoogleProvider_AuthURL(t *testing.T) {
	p := NewGoogleProvider("client-id", "secret", "http://localhost/cb")

	raw := p.AuthURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "http://localhost/cb", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "email")
}

func TestGoogleProvider_Exchange(t *testing.T) {
	srv := newGoogleTestServer(t, googleUser{
		Sub:     "google-42",
		Email:   "ana@gmail.com",
		Name:    "Ana García",
		Picture: "https://lh3.googleusercontent.com/a/ana",
	})
	p := newTestGoogleProvider(srv.URL)

	cred, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, Credential{
		Provider:   model.ProviderGoogle,
		Subject:    "google-42",
		Email:      "ana@gmail.com",
		Name:       "Ana García",
		PictureURL: "https://lh3.googleusercontent.com/a/ana",
	}, cred)
}

func TestGoogleProvider_ExchangeBadCode(t *testing.T) {
	srv := newGoogleTestServer(t, googleUser{Sub: "google-42"})
	p := newTestGoogleProvider(srv.URL)

	_, err := p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}

func TestGoogleProvider_ExchangeMissingSubject(t *testing.T) {
	srv := newGoogleTestServer(t, googleUser{Email: "ana@gmail.com"})
	p := newTestGoogleProvider(srv.URL)

	_, err := p.Exchange(context.Background(), "good-code")
	assert.Error(t, err)
}

// =========================================================================
// FEDERATION TESTS
// =========================================================================

func TestFederation_UnknownProvider(t *testing.T) {
	f := NewFederation(NewGoogleProvider("id", "secret", "http://localhost/cb"), nil)

	assert.True(t, f.Enabled("google"))
	assert.False(t, f.Enabled("apple"))

	_, err := f.AuthURL("github", "state")
	assert.True(t, errors.Is(err, ErrUnknownProvider))

	_, err = f.Exchange(context.Background(), "apple", "code")
	assert.True(t, errors.Is(err, ErrUnknownProvider))
}

func TestFederation_DelegatesToProvider(t *testing.T) {
	srv := newGoogleTestServer(t, googleUser{Sub: "google-7", Email: "x@gmail.com"})
	f := NewFederation(newTestGoogleProvider(srv.URL))

	authURL, err := f.AuthURL("google", "s1")
	require.NoError(t, err)
	assert.Contains(t, authURL, srv.URL+"/auth")

	cred, err := f.Exchange(context.Background(), "google", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "google-7", cred.Subject)
}
