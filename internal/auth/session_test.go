package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipstash/clipstash/internal/meta/metatest"
	"github.com/clipstash/clipstash/internal/model"
)

func TestSessionsIssueAndValidate(t *testing.T) {
	store := metatest.NewMemStore()
	sessions := NewSessions(store)
	ctx := context.Background()

	tok, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.Len(t, tok.Token, 32) // 128-bit hex
	assert.Greater(t, tok.ExpireTime, model.NowMillis())

	valid, err := sessions.Validate(ctx, tok.Token, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, valid)
}

func TestSessionsReusesLiveToken(t *testing.T) {
	store := metatest.NewMemStore()
	sessions := NewSessions(store)
	ctx := context.Background()

	first, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	second, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, first.Token, second.Token)

	// Different scope gets its own token.
	other, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.2")
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, other.Token)
}

func TestSessionsValidateScopeMismatch(t *testing.T) {
	store := metatest.NewMemStore()
	sessions := NewSessions(store)
	ctx := context.Background()

	tok, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)

	valid, err := sessions.Validate(ctx, tok.Token, "demo01", "abc123", "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = sessions.Validate(ctx, tok.Token, "other", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, valid)

	valid, err = sessions.Validate(ctx, "", "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestSessionsExpiredTokenInvalid(t *testing.T) {
	store := metatest.NewMemStore()
	sessions := NewSessions(store)
	ctx := context.Background()

	stale := &model.Token{
		Token:      "deadbeef",
		Word:       "demo01",
		ViewWord:   "abc123",
		IPAddress:  "10.0.0.1",
		CreateTime: model.NowMillis() - 7200_000,
		ExpireTime: model.NowMillis() - 3600_000,
	}
	require.NoError(t, store.Insert(ctx, model.TableTokens, stale.ToRow()))

	valid, err := sessions.Validate(ctx, "deadbeef", "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, valid)

	// Expired tokens are not reused; Issue mints a fresh one.
	tok, err := sessions.Issue(ctx, "demo01", "abc123", "10.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, "deadbeef", tok.Token)

	n, err := sessions.PurgeExpired(ctx, model.NowMillis())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
