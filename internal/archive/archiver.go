// Package archive persists the protocol event stream for reporting. It is an
// observability sink; the in-memory ledger stays the source of truth.
package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/nats-io/nats.go"

	"github.com/terminal-bench/revguard/pkg/messaging"
	"github.com/terminal-bench/revguard/shared/events"
)

// QueueGroup shares the stream across archiver replicas.
const QueueGroup = "archivers"

var subjects = []string{"underwriter.>", "venue.>", "guarantee.>", "alert.>"}

// Archiver consumes protocol events and writes them to Postgres, plus a
// venue_performance point to Influx per monthly report.
type Archiver struct {
	db     *sql.DB
	influx api.WriteAPIBlocking
}

func New(db *sql.DB, influxClient influxdb2.Client, org, bucket string) *Archiver {
	a := &Archiver{db: db}
	if influxClient != nil {
		a.influx = influxClient.WriteAPIBlocking(org, bucket)
	}
	return a
}

// Start subscribes to the protocol subjects.
func (a *Archiver) Start(client *messaging.Client) error {
	for _, subject := range subjects {
		if err := client.QueueSubscribe(subject, QueueGroup, a.handle); err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) handle(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.insertEvent(ctx, msg.Subject, msg.Data); err != nil {
		log.Printf("archive: insert event %s: %v", msg.Subject, err)
		return
	}

	switch msg.Subject {
	case events.ReportSubmitted:
		a.handleReport(ctx, msg.Data)
	case events.LiabilitySettled:
		a.handleSettlement(ctx, msg.Data)
	}
}

func (a *Archiver) insertEvent(ctx context.Context, subject string, payload []byte) error {
	_, err := a.db.ExecContext(ctx,
		"INSERT INTO protocol_events (subject, payload, received_at) VALUES ($1, $2, $3)",
		subject, payload, time.Now(),
	)
	return err
}

func (a *Archiver) handleReport(ctx context.Context, payload []byte) {
	var ev events.ReportEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("archive: decode report event: %v", err)
		return
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO venue_reports (event_id, venue_id, month, expected, actual, missing, reported_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (venue_id, month) DO NOTHING`,
		ev.ID, ev.VenueID, ev.Month, ev.Expected, ev.Actual, ev.Missing, ev.ReportedAt,
	)
	if err != nil {
		log.Printf("archive: insert venue report: %v", err)
	}

	if a.influx == nil {
		return
	}
	point := influxdb2.NewPoint("venue_performance",
		map[string]string{"venue": ev.VenueID},
		map[string]interface{}{
			"expected": ev.Expected,
			"actual":   ev.Actual,
			"missing":  ev.Missing,
		},
		ev.ReportedAt,
	)
	if err := a.influx.WritePoint(ctx, point); err != nil {
		log.Printf("archive: write influx point: %v", err)
	}
}

func (a *Archiver) handleSettlement(ctx context.Context, payload []byte) {
	var ev events.SettlementEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		log.Printf("archive: decode settlement event: %v", err)
		return
	}

	_, err := a.db.ExecContext(ctx,
		`INSERT INTO settlements (event_id, venue_id, month, missing, paid, residual, settled_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (venue_id, month) DO NOTHING`,
		ev.ID, ev.VenueID, ev.Month, ev.Missing, ev.Paid, ev.Residual, ev.Timestamp,
	)
	if err != nil {
		log.Printf("archive: insert settlement: %v", err)
	}
}
