package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDomainNotAllowed = errors.New("email domain not allowed")
	ErrEmailTaken       = errors.New("This email is already registered. Please sign in instead or use password reset if you forgot your password.")
	ErrPasswordMismatch = errors.New("Passwords do not match.")
	ErrPasswordTooShort = errors.New("Password must be at least 6 characters long.")
	ErrInvalidResetLink = errors.New("Invalid or expired reset link. Please request a new password reset.")
	ErrNoSession        = errors.New("no active session")
)

const minPasswordLength = 6

// DomainError rejects a signup outside the allowed email domain
type DomainError struct {
	Domain string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("Only %s email addresses are allowed to create accounts.", e.Domain)
}

func (e *DomainError) Is(target error) bool {
	return target == ErrDomainNotAllowed
}

// ProviderError is an auth provider failure reduced to its message
type ProviderError struct {
	Message string
	Err     error
}

func (e *ProviderError) Error() string { return e.Message }

func (e *ProviderError) Unwrap() error { return e.Err }

var duplicateEmail = []string{
	"already registered",
	"user already registered",
	"already exists",
	"already been registered",
	"email address is already",
}

// FriendlyError rewrites duplicate-email failures and strips the HTTP wrapping
// from other provider errors. Anything else is returned as is
func FriendlyError(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	for _, s := range duplicateEmail {
		if strings.Contains(msg, s) {
			return ErrEmailTaken
		}
	}

	if text := providerMessage(err.Error()); text != "" {
		return &ProviderError{Message: text, Err: err}
	}
	return err
}

// providerMessage pulls the human message out of a
// "response status code 400: {...}" error
func providerMessage(raw string) string {
	i := strings.IndexByte(raw, '{')
	if i < 0 {
		return ""
	}

	var body struct {
		Msg              string `json:"msg"`
		Message          string `json:"message"`
		ErrorDescription string `json:"error_description"`
		Error            string `json:"error"`
	}
	if err := json.Unmarshal([]byte(raw[i:]), &body); err != nil {
		return ""
	}

	for _, s := range []string{body.Msg, body.Message, body.ErrorDescription, body.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}
