package vault

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/revguard/internal/protocol"
)

func TestDirectory(t *testing.T) {
	t.Run("create and resolve terms", func(t *testing.T) {
		d := NewDirectory()
		_, err := d.Create("venue-1", "vault-1", 1200, 12)
		require.NoError(t, err)

		promised, err := d.PromisedRevenue("vault-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1200), promised)

		months, err := d.TotalMonths("vault-1")
		require.NoError(t, err)
		assert.Equal(t, 12, months)
	})

	t.Run("duplicate address rejected", func(t *testing.T) {
		d := NewDirectory()
		_, err := d.Create("venue-1", "vault-1", 1200, 12)
		require.NoError(t, err)
		_, err = d.Create("venue-2", "vault-1", 500, 6)
		assert.ErrorIs(t, err, protocol.ErrState)
	})

	t.Run("invalid terms rejected", func(t *testing.T) {
		d := NewDirectory()
		_, err := d.Create("venue-1", "vault-1", 0, 12)
		assert.ErrorIs(t, err, protocol.ErrValidation)
		_, err = d.Create("venue-1", "vault-1", 100, 0)
		assert.ErrorIs(t, err, protocol.ErrValidation)
	})

	t.Run("records deposits", func(t *testing.T) {
		d := NewDirectory()
		v, err := d.Create("venue-1", "vault-1", 1200, 12)
		require.NoError(t, err)

		require.NoError(t, d.RecordDeposit("vault-1", 90))
		require.NoError(t, d.RecordDeposit("vault-1", 60))
		assert.Equal(t, int64(150), v.TotalReceived())

		assert.ErrorIs(t, d.RecordDeposit("missing", 10), protocol.ErrNotFound)
	})
}
