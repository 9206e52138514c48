package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultCookieName is the cookie that carries the session token for both HTTP and realtime handshakes.
const DefaultCookieName = "jwt"

var (
	ErrMissingSigningSecret = errors.New("auth: signing secret required")
	ErrMissingCredential    = errors.New("auth: missing credential")
	ErrInvalidCredential    = errors.New("auth: invalid credential")
)

// SessionClaims is the JWT payload issued at login.
type SessionClaims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Identity is the verified owner of a request or realtime connection.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// SessionAuthenticatorConfig describes how session cookies are verified.
type SessionAuthenticatorConfig struct {
	SigningSecret []byte
	CookieName    string
	// Issuer is enforced only when set.
	Issuer string
	Clock  func() time.Time
}

// SessionAuthenticator verifies HS256 session tokens carried in a named cookie.
type SessionAuthenticator struct {
	signingSecret []byte
	cookieName    string
	issuer        string
	clock         func() time.Time
}

// NewSessionAuthenticator constructs an authenticator with the provided configuration.
func NewSessionAuthenticator(cfg SessionAuthenticatorConfig) (*SessionAuthenticator, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	cookieName := strings.TrimSpace(cfg.CookieName)
	if cookieName == "" {
		cookieName = DefaultCookieName
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &SessionAuthenticator{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		cookieName:    cookieName,
		issuer:        strings.TrimSpace(cfg.Issuer),
		clock:         clock,
	}, nil
}

// CookieName returns the cookie consulted for session tokens.
func (a *SessionAuthenticator) CookieName() string {
	return a.cookieName
}

// AuthenticateHandshake extracts the session cookie from raw handshake headers and verifies it.
func (a *SessionAuthenticator) AuthenticateHandshake(header http.Header) (Identity, error) {
	if header == nil || strings.TrimSpace(header.Get("Cookie")) == "" {
		return Identity{}, fmt.Errorf("%w: cookie header absent", ErrMissingCredential)
	}
	request := &http.Request{Header: header}
	cookie, err := request.Cookie(a.cookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return Identity{}, fmt.Errorf("%w: cookie %q absent", ErrMissingCredential, a.cookieName)
	}
	return a.ValidateToken(cookie.Value)
}

// AuthenticateRequest verifies the session cookie attached to an HTTP request.
func (a *SessionAuthenticator) AuthenticateRequest(r *http.Request) (Identity, error) {
	if r == nil {
		return Identity{}, ErrMissingCredential
	}
	return a.AuthenticateHandshake(r.Header)
}

// ValidateToken verifies signature, algorithm and expiry and returns the bound identity.
func (a *SessionAuthenticator) ValidateToken(tokenString string) (Identity, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Identity{}, ErrMissingCredential
	}

	claims := &SessionClaims{}
	options := []jwt.ParserOption{
		jwt.WithTimeFunc(a.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	}
	if a.issuer != "" {
		options = append(options, jwt.WithIssuer(a.issuer))
	}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			return a.signingSecret, nil
		},
		options...,
	)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if parsed == nil || !parsed.Valid {
		return Identity{}, ErrInvalidCredential
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return Identity{}, fmt.Errorf("%w: user id claim absent", ErrInvalidCredential)
	}

	identity := Identity{UserID: userID}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	return identity, nil
}
