// Package alerts watches submitted venue reports and raises shortfall alerts.
package alerts

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/revguard/shared/events"
)

// DefaultThreshold is the shortfall above which an alert fires when no
// per-venue threshold is set.
const DefaultThreshold int64 = 0

// Watcher consumes report events and publishes alert.shortfall when a
// month's missing revenue crosses the venue's threshold.
type Watcher struct {
	pub events.Publisher

	mu         sync.RWMutex
	thresholds map[string]int64
	def        int64

	reportCh chan events.ReportEvent
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewWatcher(pub events.Publisher, defaultThreshold int64) *Watcher {
	return &Watcher{
		pub:        pub,
		thresholds: make(map[string]int64),
		def:        defaultThreshold,
		reportCh:   make(chan events.ReportEvent, 16),
		stopCh:     make(chan struct{}),
	}
}

// SetThreshold overrides the default shortfall threshold for one venue.
func (w *Watcher) SetThreshold(venueID string, threshold int64) {
	w.mu.Lock()
	w.thresholds[venueID] = threshold
	w.mu.Unlock()
}

// Threshold returns the effective threshold for a venue.
func (w *Watcher) Threshold(venueID string) int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if t, ok := w.thresholds[venueID]; ok {
		return t
	}
	return w.def
}

// Start runs the report processor until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	go w.process(ctx)
}

// HandleMessage is the NATS handler for guarantee.report_submitted.
func (w *Watcher) HandleMessage(msg *nats.Msg) {
	var ev events.ReportEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		return
	}
	select {
	case w.reportCh <- ev:
	case <-w.stopCh:
	}
}

// Check evaluates one report event synchronously. Returns true if an alert
// was published.
func (w *Watcher) Check(ctx context.Context, ev events.ReportEvent) bool {
	threshold := w.Threshold(ev.VenueID)
	if ev.Missing <= threshold {
		return false
	}

	alert := events.AlertEvent{
		ID:        uuid.New(),
		VenueID:   ev.VenueID,
		Month:     ev.Month,
		Missing:   ev.Missing,
		Threshold: threshold,
		Timestamp: time.Now(),
	}
	// Delivery is best effort.
	w.pub.Publish(ctx, events.ShortfallAlert, alert)
	return true
}

func (w *Watcher) process(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev := <-w.reportCh:
			w.Check(ctx, ev)
		}
	}
}

func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}
