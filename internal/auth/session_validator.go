package auth

import (
	"errors"
	"net/http"
	"strings"
)

const (
	authorizationHeader = "Authorization"
	bearerPrefix        = "bearer "
	// AccessTokenQueryParameter carries the token for clients that cannot set headers.
	AccessTokenQueryParameter = "access_token"
)

var (
	// ErrMissingSessionToken reports a request without credentials.
	ErrMissingSessionToken = errors.New("session validator: token required")

	errMissingTokenIssuer = errors.New("session validator: token issuer required")
)

// TokenValidator turns a session token back into a session.
type TokenValidator interface {
	ValidateToken(tokenString string) (Session, error)
}

// SessionValidator authenticates HTTP requests carrying a session token.
type SessionValidator struct {
	tokens TokenValidator
}

// NewSessionValidator constructs a validator on top of the token issuer.
func NewSessionValidator(tokens TokenValidator) (*SessionValidator, error) {
	if tokens == nil {
		return nil, errMissingTokenIssuer
	}
	return &SessionValidator{tokens: tokens}, nil
}

// ValidateRequest reads the bearer token, or the access_token query parameter, and validates it.
func (v *SessionValidator) ValidateRequest(r *http.Request) (Session, error) {
	token := RequestToken(r)
	if token == "" {
		return Session{}, ErrMissingSessionToken
	}
	return v.tokens.ValidateToken(token)
}

// RequestToken extracts the session token from r, or returns "".
func RequestToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get(authorizationHeader))
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):])
	}
	if r.URL != nil {
		return strings.TrimSpace(r.URL.Query().Get(AccessTokenQueryParameter))
	}
	return ""
}
