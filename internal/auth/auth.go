// Package auth issues and checks the bearer tokens that authorise writes to
// the bundle directory. A token's subject is the peer id whose bundle it may
// publish or delete.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sealedchat/internal/domain"
)

// DefaultTTL is the lifetime of issued tokens.
const DefaultTTL = 24 * time.Hour

const leeway = 30 * time.Second

var (
	errNoBearer     = errors.New("no bearer token")
	errSigningAlg   = errors.New("unexpected signing method")
	errWrongSubject = errors.New("token subject does not match peer")
)

// Authority signs and verifies HS256 tokens with a shared key.
type Authority struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// New returns an Authority for key. ttl <= 0 uses DefaultTTL.
func New(key []byte, ttl time.Duration) *Authority {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Authority{key: append([]byte(nil), key...), ttl: ttl, now: time.Now}
}

// Issue returns a signed token for peer.
func (a *Authority) Issue(peer domain.PeerID) (string, time.Time, error) {
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   string(peer),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
	return signed, exp, err
}

// Subject verifies token and returns the peer it was issued for. Failures
// wrap domain.ErrUnauthorized.
func (a *Authority) Subject(token string) (domain.PeerID, error) {
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, errSigningAlg
		}
		return a.key, nil
	}, jwt.WithLeeway(leeway), jwt.WithTimeFunc(a.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: empty subject", domain.ErrUnauthorized)
	}
	return domain.PeerID(claims.Subject), nil
}

// Authorize checks that token grants write access to peer's bundle.
func (a *Authority) Authorize(token string, peer domain.PeerID) error {
	sub, err := a.Subject(token)
	if err != nil {
		return err
	}
	if sub != peer {
		return fmt.Errorf("%w: %v", domain.ErrUnauthorized, errWrongSubject)
	}
	return nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(values ...string) (string, error) {
	for _, v := range values {
		v = strings.TrimSpace(v)
		if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
			if t := strings.TrimSpace(v[7:]); t != "" {
				return t, nil
			}
		}
	}
	return "", fmt.Errorf("%w: %v", domain.ErrUnauthorized, errNoBearer)
}
