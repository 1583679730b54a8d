// Package events fans evidence events out to downstream consumers.
// Publishing happens after a write is final; a failed publish never undoes it.
package events

import (
	"context"
	"time"

	"go.uber.org/multierr"
)

// Event types.
const (
	TypeAlertCreated    = "alert.created"
	TypeLedgerAppended  = "ledger.appended"
	TypeReportSubmitted = "report.submitted"
)

// Event is one notification about a completed write.
type Event struct {
	Type      string      `json:"type"`
	Key       string      `json:"key"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// New stamps an event with the current time.
func New(eventType, key string, data interface{}) Event {
	return Event{Type: eventType, Key: key, Timestamp: time.Now().UTC(), Data: data}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// Multi publishes to every publisher and combines their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event Event) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, event))
	}
	return err
}

func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
