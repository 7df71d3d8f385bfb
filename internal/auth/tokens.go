// Package auth verifies connection tokens and session passwords.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned when a token is malformed, expired or signed with another key.
var ErrInvalidToken = errors.New("invalid token")

// Identity is the verified user behind a token.
type Identity struct {
	UserID   string
	Username string
}

// Claims are the JWT claims of a connection token. Subject carries the user id.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Tokens issues and verifies HS256 connection tokens.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewTokens returns a token provider. A zero ttl issues tokens that never expire.
func NewTokens(secret, issuer string, ttl time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for userID. Account management lives elsewhere; this backs the dev
// token route and tests.
func (t *Tokens) Issue(userID, username string) (string, error) {
	if userID == "" {
		return "", ErrInvalidToken
	}
	now := t.now().UTC()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  userID,
			Issuer:   t.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
		Username: username,
	}
	if t.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(t.ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

// Verify parses token and returns its identity.
func (t *Tokens) Verify(token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithIssuer(t.issuer))
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return Identity{}, ErrInvalidToken
	}
	name := claims.Username
	if name == "" {
		name = claims.Subject
	}
	return Identity{UserID: claims.Subject, Username: name}, nil
}
