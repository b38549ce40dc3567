package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GaneevAmirHosting-dev/class-notes/internal/classroom"
	"github.com/golang-jwt/jwt/v5"
)

var (
	errMissingSigningSecret = errors.New("signing secret must be provided")
	errMissingIssuer        = errors.New("issuer must be provided")
	errMissingAudience      = errors.New("audience must be provided")
	errInvalidTokenTTL      = errors.New("token ttl must be positive")
	errMissingSessionRole   = errors.New("session role must be provided")

	// ErrInvalidToken reports a malformed, forged or expired session token.
	ErrInvalidToken = errors.New("auth: invalid session token")
)

// SessionClaims is the JWT payload of a portal session. The subject is a key
// fingerprint, never the key itself.
type SessionClaims struct {
	Role        string `json:"role"`
	UserType    string `json:"user_type"`
	Class       string `json:"class"`
	DisplayName string `json:"display_name"`
	LoginTime   int64  `json:"login_time"`
	jwt.RegisteredClaims
}

// TokenIssuerConfig configures the session JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer issues and validates HS256 session tokens after a successful key login.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	ttl           time.Duration
	clock         func() time.Time
}

// NewTokenIssuer validates cfg and constructs a TokenIssuer.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, errMissingSigningSecret
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errMissingIssuer
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, errInvalidTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        strings.TrimSpace(cfg.Issuer),
		audience:      strings.TrimSpace(cfg.Audience),
		ttl:           cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// IssueSessionToken produces a signed JWT and its lifetime in seconds.
func (i *TokenIssuer) IssueSessionToken(session Session) (string, int64, error) {
	if session.Role == "" {
		return "", 0, errMissingSessionRole
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.ttl).UTC()

	claims := SessionClaims{
		Role:        string(session.Role),
		UserType:    string(session.UserType),
		Class:       session.Class,
		DisplayName: session.DisplayName,
		LoginTime:   session.LoginTime,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   KeyFingerprint(session.Key),
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken checks signature, issuer, audience and expiry and rebuilds the session.
func (i *TokenIssuer) ValidateToken(tokenString string) (Session, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return Session{}, fmt.Errorf("%w: empty", ErrInvalidToken)
	}

	claims := &SessionClaims{}
	_, err := jwt.ParseWithClaims(
		tokenString,
		claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing algorithm: %s", token.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	role, ok := classroom.ParseRole(claims.Role)
	if !ok || claims.Subject == "" {
		return Session{}, fmt.Errorf("%w: incomplete claims", ErrInvalidToken)
	}
	return Session{
		Role:        role,
		UserType:    UserType(claims.UserType),
		Class:       claims.Class,
		DisplayName: claims.DisplayName,
		LoginTime:   claims.LoginTime,
	}, nil
}

// KeyFingerprint returns a stable, non-reversible identifier for an access key.
func KeyFingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:12])
}
