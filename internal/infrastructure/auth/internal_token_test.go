package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avatarctic/ratelimit-planes/internal/infrastructure/auth"
)

func TestInternalTokens_IssueAndVerify(t *testing.T) {
	tokens := auth.NewInternalTokens("s3cret", "control-plane", time.Minute)
	require.True(t, tokens.Enabled())

	tok, err := tokens.Issue("pusher")
	require.NoError(t, err)

	claims, err := tokens.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "pusher", claims.Subject)
}

func TestInternalTokens_RejectsForeignSecretAndIssuer(t *testing.T) {
	ours := auth.NewInternalTokens("s3cret", "control-plane", time.Minute)
	foreign := auth.NewInternalTokens("other", "control-plane", time.Minute)
	wrongIssuer := auth.NewInternalTokens("s3cret", "someone-else", time.Minute)

	tok, err := foreign.Issue("x")
	require.NoError(t, err)
	_, err = ours.Verify(tok)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	tok, err = wrongIssuer.Issue("x")
	require.NoError(t, err)
	_, err = ours.Verify(tok)
	require.ErrorIs(t, err, auth.ErrUnauthorized)

	_, err = ours.Verify("not-a-token")
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestInternalTokens_RejectsExpired(t *testing.T) {
	tokens := auth.NewInternalTokens("s3cret", "cp", time.Millisecond)
	tok, err := tokens.Issue("x")
	require.NoError(t, err)
	time.Sleep(1100 * time.Millisecond)
	_, err = tokens.Verify(tok)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestInternalTokens_DisabledWithoutSecret(t *testing.T) {
	assert.False(t, auth.NewInternalTokens("", "cp", time.Minute).Enabled())
	var nilTokens *auth.InternalTokens
	assert.False(t, nilTokens.Enabled())
}
