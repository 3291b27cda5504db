// Package model defines the data structures shared by every layer of the
// marketplace: the documents kept in the store and the values the auth flow
// passes around.
package model

import "time"

// User is the canonical profile record of a marketplace member.
//
// ID is the identity provider's uid, so the same value keys the account, the
// user document and the profile image on the media host. Optional profile
// fields are pointers: nil means "never set", which is different from an
// empty string the user typed in.
type User struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Email           string  `json:"email"`
	ProfileImageURL *string `json:"profileImageURL,omitempty"`
	Locality        *string `json:"locality,omitempty"`
	Province        *string `json:"province,omitempty"`
}

// Account is the identity provider's view of a user: credentials, the
// provider that authenticated it, and the revocation watermark.
//
// TokenGeneration is bumped on sign-out. ID tokens carry the generation they
// were issued under and are rejected once it no longer matches, which is how
// a stateless JWT gets invalidated remotely.
type Account struct {
	UID             string    `json:"uid"`
	Email           string    `json:"email"`
	PasswordHash    string    `json:"-"`
	Provider        string    `json:"provider"` // "password", "google.com", "apple.com"
	Subject         string    `json:"-"`        // federated subject, empty for password accounts
	DisplayName     string    `json:"displayName"`
	PhotoURL        string    `json:"photoURL"`
	TokenGeneration int       `json:"-"`
	CreatedAt       time.Time `json:"createdAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// BoolPtr returns a pointer to b.
func BoolPtr(b bool) *bool {
	return &b
}
