package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"golang.org/x/oauth2"

	"github.com/tinkapp/tink/internal/model"
)

const (
	appleIssuer   = "https://appleid.apple.com"
	appleKeysURL  = "https://appleid.apple.com/auth/keys"
	appleAuthURL  = "https://appleid.apple.com/auth/authorize"
	appleTokenURL = "https://appleid.apple.com/auth/token"
)

// JWKSCache fetches a JSON Web Key Set and keeps it for ttl.
type JWKSCache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	mu        sync.Mutex
	keys      jwk.Set
	fetchedAt time.Time
}

// NewJWKSCache creates a cache for the key set published at url.
func NewJWKSCache(url string, ttl time.Duration) *JWKSCache {
	return &JWKSCache{
		url:    url,
		ttl:    ttl,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Keys returns the cached set, refreshing it when it is older than ttl.
func (c *JWKSCache) Keys(ctx context.Context) (jwk.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.keys != nil && time.Since(c.fetchedAt) < c.ttl {
		return c.keys, nil
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		if c.keys != nil {
			// Serve the stale set rather than fail every sign-in while the
			// endpoint is down.
			return c.keys, nil
		}
		return nil, err
	}

	c.keys = keys
	c.fetchedAt = time.Now()
	return keys, nil
}

func (c *JWKSCache) fetch(ctx context.Context) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("auth: building JWKS request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth: fetching JWKS from %s: %w", c.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth: JWKS endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("auth: reading JWKS: %w", err)
	}
	keys, err := jwk.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("auth: parsing JWKS: %w", err)
	}
	return keys, nil
}

// AppleProvider signs users in with Apple.
//
// Apple does not expose a userinfo endpoint: identity comes from the
// id_token returned by the token exchange, verified against Apple's JWKS.
type AppleProvider struct {
	config *oauth2.Config
	keys   *JWKSCache
	issuer string
}

// NewAppleProvider creates an AppleProvider. clientSecret is the signed
// client-secret JWT generated for the Services ID.
func NewAppleProvider(clientID, clientSecret, callbackURL string) *AppleProvider {
	return &AppleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"name", "email"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   appleAuthURL,
				TokenURL:  appleTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		keys:   NewJWKSCache(appleKeysURL, time.Hour),
		issuer: appleIssuer,
	}
}

func (p *AppleProvider) Name() string { return "apple" }

func (p *AppleProvider) AuthURL(state string) string {
	// Apple requires form_post when name or email scopes are requested.
	return p.config.AuthCodeURL(state, oauth2.SetAuthURLParam("response_mode", "form_post"))
}

func (p *AppleProvider) Exchange(ctx context.Context, code string) (Credential, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: exchanging Apple code: %w", err)
	}

	idToken, _ := token.Extra("id_token").(string)
	if idToken == "" {
		return Credential{}, errors.New("auth: Apple token response has no id_token")
	}

	return p.Verify(ctx, idToken)
}

// Verify validates an Apple id_token and extracts the credential.
func (p *AppleProvider) Verify(ctx context.Context, idToken string) (Credential, error) {
	keys, err := p.keys.Keys(ctx)
	if err != nil {
		return Credential{}, err
	}

	tok, err := jwt.Parse([]byte(idToken),
		jwt.WithKeySet(keys),
		jwt.WithValidate(true),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.config.ClientID),
	)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: invalid Apple id_token: %w", err)
	}
	if tok.Subject() == "" {
		return Credential{}, errors.New("auth: Apple id_token has no subject")
	}

	cred := Credential{
		Provider: model.ProviderApple,
		Subject:  tok.Subject(),
	}
	if v, ok := tok.Get("email"); ok {
		cred.Email, _ = v.(string)
	}
	return cred, nil
}
