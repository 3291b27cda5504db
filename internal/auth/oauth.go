package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/tinkapp/tink/internal/model"
)

// ErrUnknownProvider is returned by Federation for a provider name that was
// not configured.
var ErrUnknownProvider = errors.New("auth: unknown federation provider")

// OAuthProvider runs the Authorization Code flow against one external
// identity provider and turns the callback code into a Credential.
type OAuthProvider interface {
	// Name is the URL slug of the provider ("google", "apple").
	Name() string
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (Credential, error)
}

// Federation holds the configured OAuth providers by slug.
type Federation struct {
	providers map[string]OAuthProvider
}

// NewFederation registers providers. Nil providers are skipped so callers
// can pass in whatever the configuration enabled.
func NewFederation(providers ...OAuthProvider) *Federation {
	f := &Federation{providers: make(map[string]OAuthProvider)}
	for _, p := range providers {
		if p == nil {
			continue
		}
		f.providers[p.Name()] = p
	}
	return f
}

// AuthURL returns the redirect URL that starts the flow for provider.
func (f *Federation) AuthURL(provider, state string) (string, error) {
	p, ok := f.providers[provider]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.AuthURL(state), nil
}

// Exchange completes the flow for provider.
func (f *Federation) Exchange(ctx context.Context, provider, code string) (Credential, error) {
	p, ok := f.providers[provider]
	if !ok {
		return Credential{}, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return p.Exchange(ctx, code)
}

// Enabled reports whether provider is configured.
func (f *Federation) Enabled(provider string) bool {
	_, ok := f.providers[provider]
	return ok
}

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"

// googleUser is the subset of the OpenID userinfo response we read.
type googleUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

// GoogleProvider signs users in with Google.
//
// The code is exchanged server-to-server; the access token is then used once
// against the userinfo endpoint and discarded.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider creates a GoogleProvider. callbackURL must match the
// redirect URI registered in the Google Cloud console.
func NewGoogleProvider(clientID, clientSecret, callbackURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"openid", "email", "profile"},
			Endpoint:     google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (Credential, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: exchanging Google code: %w", err)
	}

	client := p.config.Client(ctx, token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: building userinfo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("auth: calling Google userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, fmt.Errorf("auth: Google userinfo returned status %d", resp.StatusCode)
	}

	var u googleUser
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return Credential{}, fmt.Errorf("auth: decoding Google userinfo: %w", err)
	}
	if u.Sub == "" {
		return Credential{}, errors.New("auth: Google returned a user without subject")
	}

	return Credential{
		Provider:   model.ProviderGoogle,
		Subject:    u.Sub,
		Email:      u.Email,
		Name:       u.Name,
		PictureURL: u.Picture,
	}, nil
}
