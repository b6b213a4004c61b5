package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/client/credentials"
	"github.com/dmitrijs2005/sessionkeeper/internal/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSubject = Subject{
	UserID:      "user-123",
	Username:    "alice",
	Role:        "admin",
	Permissions: []string{"cluster:read", "cluster:write"},
	SessionID:   "sid-1",
}

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()

	secret := []byte("super-secret")
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tok, err := GenerateToken(testSubject, secret, now, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, secret, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Empty(t, cmp.Diff(testSubject, claims.Principal()))
	assert.Equal(t, now, claims.IssuedAt.Time.UTC())
	assert.Equal(t, now.Add(time.Hour), claims.ExpiresAt.Time.UTC())
}

func TestGenerate_ReadableByClient(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tok, err := GenerateToken(testSubject, []byte("k"), now, time.Minute)
	require.NoError(t, err)

	info, err := credentials.InspectToken(tok)
	require.NoError(t, err)
	assert.Equal(t, "user-123", info.Subject)
	assert.True(t, info.IssuedAt.Equal(now))
	assert.True(t, info.ExpiresAt.Equal(now.Add(time.Minute)))
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()

	secret := []byte("secret")
	now := time.Now()

	tok, err := GenerateToken(testSubject, secret, now, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tok, secret, now.Add(2*time.Minute))
	assert.ErrorIs(t, err, common.ErrTokenExpired)

	claims, err := ParseTokenAllowExpired(tok, secret)
	require.NoError(t, err)
	assert.Equal(t, "sid-1", claims.SessionID)
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tok, err := GenerateToken(testSubject, []byte("right-secret"), now, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, []byte("wrong-secret"), now)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	_, err = ParseTokenAllowExpired(tok, []byte("wrong-secret"))
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseToken_MalformedString(t *testing.T) {
	t.Parallel()

	_, err := ParseToken("not.a.jwt", []byte("k"), time.Now())
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseToken_MissingSession(t *testing.T) {
	t.Parallel()

	now := time.Now()
	sub := testSubject
	sub.SessionID = ""
	tok, err := GenerateToken(sub, []byte("k"), now, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, []byte("k"), now)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}
