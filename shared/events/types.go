package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event subjects published on the bus.
const (
	// Underwriter pool events
	UnderwriterRegistered = "underwriter.registered"
	UnderwriterWithdrawn  = "underwriter.withdrawn"

	// Venue assignment events
	VenueAssigned   = "venue.assigned"
	VenueFeeClaimed = "venue.fee_claimed"

	// Guarantee engine events
	FeeDeposited     = "guarantee.fee_deposited"
	ReportSubmitted  = "guarantee.report_submitted"
	LiabilitySettled = "guarantee.liability_settled"
	RevenueDeposited = "guarantee.revenue_deposited"
	FeesDistributed  = "guarantee.fees_distributed"

	// Alerting
	ShortfallAlert = "alert.shortfall"
)

// Publisher is the outbound port core packages publish through. The NATS
// client satisfies it; tests use Nop.
type Publisher interface {
	Publish(ctx context.Context, subject string, data interface{}) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, string, interface{}) error { return nil }

// StakeEvent covers underwriter register and withdraw.
type StakeEvent struct {
	ID          uuid.UUID `json:"id"`
	Underwriter string    `json:"underwriter"`
	Amount      int64     `json:"amount"`
	Total       int64     `json:"total"`
	Available   int64     `json:"available"`
	Locked      int64     `json:"locked"`
	Timestamp   time.Time `json:"timestamp"`
}

// AssignmentEvent is published when a venue's underwriting is finalized.
type AssignmentEvent struct {
	ID              uuid.UUID `json:"id"`
	VenueID         string    `json:"venue_id"`
	Roster          []string  `json:"roster"`
	Stakes          []int64   `json:"stakes"`
	TotalCommitted  int64     `json:"total_committed"`
	PromisedRevenue int64     `json:"promised_revenue"`
	Fee             int64     `json:"fee"`
	EndDate         time.Time `json:"end_date"`
}

// ReportEvent is published for every submitted monthly report.
type ReportEvent struct {
	ID         uuid.UUID `json:"id"`
	VenueID    string    `json:"venue_id"`
	Month      int       `json:"month"`
	Expected   int64     `json:"expected"`
	Actual     int64     `json:"actual"`
	Missing    int64     `json:"missing"`
	ReportedAt time.Time `json:"reported_at"`
}

// SettlementEvent is published when a month's liability is settled.
type SettlementEvent struct {
	ID        uuid.UUID `json:"id"`
	VenueID   string    `json:"venue_id"`
	Month     int       `json:"month"`
	Missing   int64     `json:"missing"`
	Paid      int64     `json:"paid"`
	Residual  int64     `json:"residual"`
	Timestamp time.Time `json:"timestamp"`
}

// PayoutEvent covers fee distribution and individual fee claims.
type PayoutEvent struct {
	ID        uuid.UUID `json:"id"`
	VenueID   string    `json:"venue_id"`
	Recipient string    `json:"recipient,omitempty"`
	Amount    int64     `json:"amount"`
	Cut       int64     `json:"cut"`
	Timestamp time.Time `json:"timestamp"`
}

// DepositEvent covers fee escrow deposits and owner revenue deposits.
type DepositEvent struct {
	ID      uuid.UUID `json:"id"`
	VenueID string    `json:"venue_id"`
	From    string    `json:"from"`
	Month   int       `json:"month,omitempty"`
	Amount  int64     `json:"amount"`
}

// AlertEvent is raised when a report's shortfall crosses the alert threshold.
type AlertEvent struct {
	ID        uuid.UUID `json:"id"`
	VenueID   string    `json:"venue_id"`
	Month     int       `json:"month"`
	Missing   int64     `json:"missing"`
	Threshold int64     `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}
