package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealedchat/internal/domain"
)

func TestIssueAndAuthorize(t *testing.T) {
	a := New([]byte("secret"), time.Hour)
	tok, exp, err := a.Issue("alice")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), exp, time.Minute)

	sub, err := a.Subject(tok)
	require.NoError(t, err)
	assert.Equal(t, domain.PeerID("alice"), sub)
	require.NoError(t, a.Authorize(tok, "alice"))
	require.ErrorIs(t, a.Authorize(tok, "bob"), domain.ErrUnauthorized)
}

func TestRejectsForeignKey(t *testing.T) {
	tok, _, err := New([]byte("other"), 0).Issue("alice")
	require.NoError(t, err)
	require.ErrorIs(t, New([]byte("secret"), 0).Authorize(tok, "alice"), domain.ErrUnauthorized)
}

func TestRejectsExpired(t *testing.T) {
	a := New([]byte("secret"), time.Minute)
	a.now = func() time.Time { return time.Now().Add(-time.Hour) }
	tok, _, err := a.Issue("alice")
	require.NoError(t, err)

	a.now = time.Now
	_, err = a.Subject(tok)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestRejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	_, err = New([]byte("secret"), 0).Subject(tok)
	require.ErrorIs(t, err, domain.ErrUnauthorized)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = New([]byte("secret"), 0).Subject(none)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestBearerToken(t *testing.T) {
	tok, err := BearerToken("Basic abc", "  bearer  xyz ")
	require.NoError(t, err)
	assert.Equal(t, "xyz", tok)

	for _, v := range []string{"", "Bearer", "Bearer   ", "token xyz"} {
		_, err := BearerToken(v)
		require.ErrorIs(t, err, domain.ErrUnauthorized, "%q", v)
	}
	_, err = BearerToken()
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
