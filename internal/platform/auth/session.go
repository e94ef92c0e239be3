package auth

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	SessionCookie = "session"
	sessionIssuer = "clinic-server"
)

// SessionClaims is the payload of the session token.
type SessionClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// SessionManager issues and verifies HS256 session tokens.
type SessionManager struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time

	revoked *RevocationList
}

func NewSessionManager(secret []byte, ttl time.Duration, secureCookies bool) *SessionManager {
	return &SessionManager{secret: secret, ttl: ttl, secure: secureCookies, now: time.Now}
}

// WithRevocations makes Parse reject tokens recorded in r.
func (m *SessionManager) WithRevocations(r *RevocationList) *SessionManager {
	m.revoked = r
	return m
}

// Issue signs a token for p and returns it with its expiry.
func (m *SessionManager) Issue(p Principal) (string, time.Time, error) {
	now := m.now()
	exp := now.Add(m.ttl)
	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    sessionIssuer,
			Subject:   p.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
		Role: string(p.Role),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session: %w", err)
	}
	return signed, exp, nil
}

var errInvalidSession = errors.New("invalid session")

// Parse verifies the token and returns its principal.
func (m *SessionManager) Parse(token string) (Principal, error) {
	p, claims, err := m.parse(token)
	if err != nil {
		return Principal{}, err
	}
	if m.revoked != nil && m.revoked.IsRevoked(claims.ID, p.ID, claims.IssuedAt.Time) {
		return Principal{}, errInvalidSession
	}
	return p, nil
}

// Revoke ends the session carried by token. Invalid tokens are ignored.
func (m *SessionManager) Revoke(token string) {
	if m.revoked == nil {
		return
	}
	if _, claims, err := m.parse(token); err == nil {
		m.revoked.Revoke(claims.ID, claims.ExpiresAt.Time)
	}
}

// RevokeRequest ends the session presented by r, if any.
func (m *SessionManager) RevokeRequest(r *http.Request) {
	if token, ok := extractToken(r); ok && token != "" {
		m.Revoke(token)
	}
}

// RevokeUser ends every session issued to userID so far.
func (m *SessionManager) RevokeUser(userID uuid.UUID) {
	if m.revoked == nil {
		return
	}
	m.revoked.RevokeUser(userID, m.now(), m.ttl)
}

func (m *SessionManager) parse(token string) (Principal, *SessionClaims, error) {
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(sessionIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || !parsed.Valid || claims.IssuedAt == nil {
		return Principal{}, nil, errInvalidSession
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Principal{}, nil, errInvalidSession
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return Principal{}, nil, errInvalidSession
	}
	return Principal{ID: id, Role: role}, claims, nil
}

// Cookie wraps a token in the session cookie.
func (m *SessionManager) Cookie(token string, expires time.Time) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearCookie expires the session cookie.
func (m *SessionManager) ClearCookie() *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
