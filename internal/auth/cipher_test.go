package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCipher(t *testing.T) *TokenCipher {
	t.Helper()
	c, err := NewTokenCipher("test-secret")
	require.NoError(t, err)
	return c
}

func TestSealOpenRoundTrip(t *testing.T) {
	c := newTestCipher(t)

	sealed, err := c.Seal("demo01:12345")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "demo01")

	plain, err := c.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "demo01:12345", plain)
}

func TestOpenRejectsGarbage(t *testing.T) {
	c := newTestCipher(t)

	_, err := c.Open("not base64 !!!")
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = c.Open("dG9vc2hvcnQ")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestOpenRejectsForeignKey(t *testing.T) {
	c1 := newTestCipher(t)
	c2, err := NewTokenCipher("another-secret")
	require.NoError(t, err)

	sealed, err := c1.Seal("demo01:12345")
	require.NoError(t, err)

	_, err = c2.Open(sealed)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestBearerRoundTrip(t *testing.T) {
	c := newTestCipher(t)
	now := time.Now().UnixMilli()

	token, err := c.MintBearer("demo01", true, now)
	require.NoError(t, err)

	claims, err := c.OpenBearer(token)
	require.NoError(t, err)
	assert.Equal(t, "demo01", claims.Word)
	assert.Equal(t, now, claims.Timestamp)
	assert.True(t, claims.Edit)

	viewToken, err := c.MintBearer("demo01", false, now)
	require.NoError(t, err)
	viewClaims, err := c.OpenBearer(viewToken)
	require.NoError(t, err)
	assert.False(t, viewClaims.Edit)
}

func TestCheckBearerExpiry(t *testing.T) {
	c := newTestCipher(t)
	now := time.Now().UnixMilli()

	fresh, err := c.MintBearer("demo01", true, now-23*time.Hour.Milliseconds())
	require.NoError(t, err)
	assert.NoError(t, c.CheckBearer(fresh, "demo01", true, now))

	stale, err := c.MintBearer("demo01", true, now-25*time.Hour.Milliseconds())
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckBearer(stale, "demo01", true, now), ErrTokenExpired)
}

func TestCheckBearerRejectsWordMismatch(t *testing.T) {
	c := newTestCipher(t)
	now := time.Now().UnixMilli()

	token, err := c.MintBearer("demo01", true, now)
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckBearer(token, "other_word", true, now), ErrTokenInvalid)
}

func TestCheckBearerEnforcesEditFlag(t *testing.T) {
	c := newTestCipher(t)
	now := time.Now().UnixMilli()

	viewToken, err := c.MintBearer("demo01", false, now)
	require.NoError(t, err)

	// A view-minted cookie never satisfies an edit-mode check.
	assert.ErrorIs(t, c.CheckBearer(viewToken, "demo01", true, now), ErrTokenInvalid)
	assert.NoError(t, c.CheckBearer(viewToken, "demo01", false, now))

	// An edit-minted cookie satisfies both.
	editToken, err := c.MintBearer("demo01", true, now)
	require.NoError(t, err)
	assert.NoError(t, c.CheckBearer(editToken, "demo01", true, now))
	assert.NoError(t, c.CheckBearer(editToken, "demo01", false, now))
}

func TestCheckBearerRejectsFutureTimestamp(t *testing.T) {
	c := newTestCipher(t)
	now := time.Now().UnixMilli()

	token, err := c.MintBearer("demo01", true, now+time.Minute.Milliseconds())
	require.NoError(t, err)
	assert.ErrorIs(t, c.CheckBearer(token, "demo01", true, now), ErrTokenInvalid)
}
