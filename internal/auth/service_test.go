package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/revguard/internal/protocol"
)

func TestRegister(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	ctx := context.Background()

	t.Run("creates account with derived address", func(t *testing.T) {
		u, err := svc.Register(ctx, "alice@example.com", "correct horse")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", u.Email)
		assert.Equal(t, "acct:"+u.ID, u.Address)
	})

	t.Run("rejects duplicate email", func(t *testing.T) {
		_, err := svc.Register(ctx, "Alice@Example.com", "another pass")
		assert.ErrorIs(t, err, protocol.ErrState)
	})

	t.Run("rejects invalid email", func(t *testing.T) {
		_, err := svc.Register(ctx, "not-an-email", "some password")
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("rejects short password", func(t *testing.T) {
		_, err := svc.Register(ctx, "bob@example.com", "short")
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})
}

func TestLoginAndVerify(t *testing.T) {
	svc := NewService("test-secret", time.Hour)
	ctx := context.Background()

	u, err := svc.Register(ctx, "carol@example.com", "valid password")
	require.NoError(t, err)

	t.Run("issues verifiable token", func(t *testing.T) {
		token, err := svc.Login(ctx, "carol@example.com", "valid password")
		require.NoError(t, err)

		claims, err := svc.VerifyToken("Bearer " + token)
		require.NoError(t, err)
		assert.Equal(t, u.ID, claims.UserID)
		assert.Equal(t, u.Address, claims.Address)
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		_, err := svc.Login(ctx, "carol@example.com", "wrong password")
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})

	t.Run("rejects unknown email", func(t *testing.T) {
		_, err := svc.Login(ctx, "nobody@example.com", "valid password")
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})

	t.Run("rejects token signed with other secret", func(t *testing.T) {
		other := NewService("other-secret", time.Hour)
		_, err = other.Register(ctx, "carol@example.com", "valid password")
		require.NoError(t, err)
		token, err := other.Login(ctx, "carol@example.com", "valid password")
		require.NoError(t, err)

		_, err = svc.VerifyToken(token)
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})

	t.Run("rejects expired token", func(t *testing.T) {
		fast := NewService("test-secret", -time.Minute)
		_, err := fast.Register(ctx, "dave@example.com", "valid password")
		require.NoError(t, err)
		token, err := fast.Login(ctx, "dave@example.com", "valid password")
		require.NoError(t, err)

		_, err = fast.VerifyToken(token)
		assert.ErrorIs(t, err, protocol.ErrUnauthorized)
	})
}
