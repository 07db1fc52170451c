package circuit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDownstream = errors.New("downstream unavailable")

func newTestBreaker() *Breaker {
	return NewBreaker(Config{
		Name:        "test",
		MaxFailures: 3,
		Timeout:     50 * time.Millisecond,
		HalfOpenMax: 2,
	})
}

func TestBreakerTripsAfterMaxFailures(t *testing.T) {
	b := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := b.Execute(ctx, func() error { return errDownstream })
		require.ErrorIs(t, err, errDownstream)
	}
	assert.Equal(t, StateOpen, b.State())

	err := b.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newTestBreaker()
	ctx := context.Background()

	b.Execute(ctx, func() error { return errDownstream })
	b.Execute(ctx, func() error { return errDownstream })
	require.NoError(t, b.Execute(ctx, func() error { return nil }))

	b.Execute(ctx, func() error { return errDownstream })
	b.Execute(ctx, func() error { return errDownstream })
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerRecoversThroughHalfOpen(t *testing.T) {
	b := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, func() error { return errDownstream })
	}
	require.Equal(t, StateOpen, b.State())

	time.Sleep(60 * time.Millisecond)

	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	require.Equal(t, StateHalfOpen, b.State())
	require.NoError(t, b.Execute(ctx, func() error { return nil }))
	assert.Equal(t, StateClosed, b.State())
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		b.Execute(ctx, func() error { return errDownstream })
	}
	time.Sleep(60 * time.Millisecond)

	err := b.Execute(ctx, func() error { return errDownstream })
	require.ErrorIs(t, err, errDownstream)
	assert.Equal(t, StateOpen, b.State())
}

func TestBreakerGroupIsolatesNames(t *testing.T) {
	g := NewBreakerGroup(Config{MaxFailures: 1, Timeout: time.Minute, HalfOpenMax: 1})
	ctx := context.Background()

	require.Error(t, g.Execute(ctx, "events", func() error { return errDownstream }))
	assert.Equal(t, StateOpen, g.Get("events").State())
	assert.Equal(t, StateClosed, g.Get("alerts").State())

	require.NoError(t, g.Execute(ctx, "alerts", func() error { return nil }))
}
