package apperror

import "fmt"

// AuthKind enumerates the closed taxonomy of authentication failures.
type AuthKind int

const (
	KindUnknown AuthKind = iota
	KindEmptyEmail
	KindEmptyPassword
	KindEmptyField
	KindInvalidEmail
	KindInvalidFormat
	KindWrongPassword
	KindUserNotFound
	KindNetwork
	KindPasswordMismatch
	KindCustom
)

var kindNames = map[AuthKind]string{
	KindUnknown:          "unknown",
	KindEmptyEmail:       "empty_email",
	KindEmptyPassword:    "empty_password",
	KindEmptyField:       "empty_field",
	KindInvalidEmail:     "invalid_email",
	KindInvalidFormat:    "invalid_format",
	KindWrongPassword:    "wrong_password",
	KindUserNotFound:     "user_not_found",
	KindNetwork:          "network_error",
	KindPasswordMismatch: "password_mismatch",
	KindCustom:           "custom",
}

func (k AuthKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("auth_kind(%d)", int(k))
}

var kindMessages = map[AuthKind]string{
	KindUnknown:          "something went wrong, please try again",
	KindEmptyEmail:       "email is required",
	KindEmptyPassword:    "password is required",
	KindEmptyField:       "all fields are required",
	KindInvalidEmail:     "the email address is not valid",
	KindInvalidFormat:    "the email address has an invalid format",
	KindWrongPassword:    "the password is incorrect",
	KindUserNotFound:     "no account exists for this email",
	KindNetwork:          "network error, check your connection",
	KindPasswordMismatch: "passwords do not match",
}

// AuthError is an authentication failure from one of the closed kinds.
// KindCustom carries the provider's own message.
type AuthError struct {
	Kind    AuthKind
	Message string
	Err     error // provider cause, if any
}

// NewAuthError builds an AuthError with the default message for kind.
func NewAuthError(kind AuthKind) *AuthError {
	return &AuthError{Kind: kind, Message: kindMessages[kind]}
}

// CustomAuthError reports a provider failure that maps to no specific kind.
func CustomAuthError(message string, cause error) *AuthError {
	return &AuthError{Kind: KindCustom, Message: message, Err: cause}
}

func (e *AuthError) Error() string {
	if e.Message == "" {
		return e.Kind.String()
	}
	return e.Message
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Is matches any *AuthError of the same kind, so callers can write
// errors.Is(err, apperror.ErrWrongPassword).
func (e *AuthError) Is(target error) bool {
	t, ok := target.(*AuthError)
	return ok && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrEmptyEmail       = NewAuthError(KindEmptyEmail)
	ErrEmptyPassword    = NewAuthError(KindEmptyPassword)
	ErrEmptyField       = NewAuthError(KindEmptyField)
	ErrInvalidEmail     = NewAuthError(KindInvalidEmail)
	ErrInvalidFormat    = NewAuthError(KindInvalidFormat)
	ErrWrongPassword    = NewAuthError(KindWrongPassword)
	ErrUserNotFound     = NewAuthError(KindUserNotFound)
	ErrNetwork          = NewAuthError(KindNetwork)
	ErrPasswordMismatch = NewAuthError(KindPasswordMismatch)
	ErrUnknownAuth      = NewAuthError(KindUnknown)
	ErrCustomAuth       = &AuthError{Kind: KindCustom}
)
