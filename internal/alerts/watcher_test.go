package alerts

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terminal-bench/revguard/shared/events"
)

type capturePublisher struct {
	mu     sync.Mutex
	events []events.AlertEvent
}

func (p *capturePublisher) Publish(_ context.Context, subject string, data interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if subject == events.ShortfallAlert {
		p.events = append(p.events, data.(events.AlertEvent))
	}
	return nil
}

func report(venueID string, missing int64) events.ReportEvent {
	return events.ReportEvent{
		ID:      uuid.New(),
		VenueID: venueID,
		Month:   1,
		Missing: missing,
	}
}

func TestShortfallAlert(t *testing.T) {
	ctx := context.Background()

	t.Run("fires above threshold", func(t *testing.T) {
		pub := &capturePublisher{}
		w := NewWatcher(pub, 50)

		assert.True(t, w.Check(ctx, report("v1", 90)))
		require.Len(t, pub.events, 1)
		assert.Equal(t, "v1", pub.events[0].VenueID)
		assert.Equal(t, int64(90), pub.events[0].Missing)
		assert.Equal(t, int64(50), pub.events[0].Threshold)
	})

	t.Run("silent at or below threshold", func(t *testing.T) {
		pub := &capturePublisher{}
		w := NewWatcher(pub, 50)

		assert.False(t, w.Check(ctx, report("v1", 50)))
		assert.False(t, w.Check(ctx, report("v1", 0)))
		assert.Empty(t, pub.events)
	})

	t.Run("per-venue threshold overrides default", func(t *testing.T) {
		pub := &capturePublisher{}
		w := NewWatcher(pub, 50)
		w.SetThreshold("strict", 0)

		assert.True(t, w.Check(ctx, report("strict", 1)))
		assert.False(t, w.Check(ctx, report("lenient", 1)))
		assert.Equal(t, int64(0), w.Threshold("strict"))
		assert.Equal(t, int64(50), w.Threshold("lenient"))
	})
}
