package venue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/revguard/internal/protocol"
)

func TestRegistry(t *testing.T) {
	ctx := context.Background()

	t.Run("create and resolve", func(t *testing.T) {
		reg := NewRegistry(nil)
		v, err := reg.Create(ctx, "club-aurora", "owner", "vault-1")
		require.NoError(t, err)
		require.NotEmpty(t, v.ID)

		assert.True(t, reg.Exists(v.ID))

		owner, err := reg.OwnerOf(v.ID)
		require.NoError(t, err)
		assert.Equal(t, "owner", owner)

		vaultAddr, err := reg.VaultOf(v.ID)
		require.NoError(t, err)
		assert.Equal(t, "vault-1", vaultAddr)

		got, err := reg.Get(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
	})

	t.Run("missing fields rejected", func(t *testing.T) {
		reg := NewRegistry(nil)
		_, err := reg.Create(ctx, "", "owner", "vault-1")
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("unknown venue", func(t *testing.T) {
		reg := NewRegistry(nil)
		assert.False(t, reg.Exists("missing"))

		_, err := reg.OwnerOf("missing")
		assert.ErrorIs(t, err, protocol.ErrNotFound)
		_, err = reg.VaultOf("missing")
		assert.ErrorIs(t, err, protocol.ErrNotFound)
		_, err = reg.Get(ctx, "missing")
		assert.ErrorIs(t, err, protocol.ErrNotFound)
	})
}
