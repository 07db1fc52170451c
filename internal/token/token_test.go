package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransfer(t *testing.T) {
	t.Run("moves balance between holders", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 100)

		assert.True(t, tok.Transfer("alice", "bob", 60))
		assert.Equal(t, int64(40), tok.BalanceOf("alice"))
		assert.Equal(t, int64(60), tok.BalanceOf("bob"))
	})

	t.Run("fails on insufficient balance", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 10)

		assert.False(t, tok.Transfer("alice", "bob", 11))
		assert.Equal(t, int64(10), tok.BalanceOf("alice"))
		assert.Equal(t, int64(0), tok.BalanceOf("bob"))
	})

	t.Run("rejects negative amounts", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 10)
		assert.False(t, tok.Transfer("alice", "bob", -1))
	})
}

func TestTransferFrom(t *testing.T) {
	t.Run("spends allowance", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 100)
		tok.Approve("alice", "pool", 80)

		assert.True(t, tok.TransferFrom("pool", "alice", "vault", 50))
		assert.Equal(t, int64(50), tok.BalanceOf("alice"))
		assert.Equal(t, int64(50), tok.BalanceOf("vault"))
		assert.Equal(t, int64(30), tok.Allowance("alice", "pool"))
	})

	t.Run("fails beyond allowance", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 100)
		tok.Approve("alice", "pool", 20)

		assert.False(t, tok.TransferFrom("pool", "alice", "vault", 21))
		assert.Equal(t, int64(100), tok.BalanceOf("alice"))
	})

	t.Run("fails without approval", func(t *testing.T) {
		tok := New()
		tok.Mint("alice", 100)
		assert.False(t, tok.TransferFrom("pool", "alice", "vault", 1))
	})
}
