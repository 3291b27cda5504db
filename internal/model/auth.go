package model

// AuthState is the authentication state observed by clients.
//
// Undefined is strictly initial: it only lasts until the identity provider
// answers for the first time.
//
//	Undefined        → Authenticated | NotAuthenticated
//	Authenticated    → NotAuthenticated (sign-out, account deletion)
//	NotAuthenticated → Authenticated    (sign-in, sign-up)
type AuthState int

const (
	AuthUndefined AuthState = iota
	AuthAuthenticated
	AuthNotAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthAuthenticated:
		return "authenticated"
	case AuthNotAuthenticated:
		return "not_authenticated"
	default:
		return "undefined"
	}
}

// MarshalText makes AuthState encode as its name in JSON.
func (s AuthState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText is the inverse of MarshalText. Unknown names decode to
// AuthUndefined.
func (s *AuthState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "authenticated":
		*s = AuthAuthenticated
	case "not_authenticated":
		*s = AuthNotAuthenticated
	default:
		*s = AuthUndefined
	}
	return nil
}

// Identity providers.
const (
	ProviderPassword = "password"
	ProviderGoogle   = "google.com"
	ProviderApple    = "apple.com"
)
