// Package notify delivers booking lifecycle events to interested parties.
// Dispatch is fire and forget: a failed or dropped notification never blocks
// or fails the transition that produced it.
package notify

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Event is one notification to a renter or owner.
type Event struct {
	BookingID  snowflake.ID
	Recipient  string
	Kind       string
	Message    string
	OccurredAt time.Time
}

// Dispatcher accepts events for asynchronous delivery.
type Dispatcher interface {
	Notify(event Event)
	Close()
}

// asyncDispatcher drains a buffered channel on a single goroutine. When the
// buffer is full the event is dropped and logged; delivery is best effort.
type asyncDispatcher struct {
	log    *zap.Logger
	events chan Event
	done   chan struct{}
}

func NewDispatcher(log *zap.Logger) Dispatcher {
	d := &asyncDispatcher{
		log:    log.Named("notify"),
		events: make(chan Event, 256),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *asyncDispatcher) Notify(event Event) {
	select {
	case d.events <- event:
	default:
		d.log.Warn("notification dropped, buffer full",
			zap.String("booking_id", event.BookingID.String()),
			zap.String("kind", event.Kind),
		)
	}
}

func (d *asyncDispatcher) Close() {
	close(d.events)
	<-d.done
}

func (d *asyncDispatcher) run() {
	defer close(d.done)
	for event := range d.events {
		d.deliver(event)
	}
}

// deliver writes the event to the log. A real deployment swaps this for an
// email or push integration behind the same Dispatcher interface.
func (d *asyncDispatcher) deliver(event Event) {
	d.log.Info("notification",
		zap.String("booking_id", event.BookingID.String()),
		zap.String("recipient", event.Recipient),
		zap.String("kind", event.Kind),
		zap.String("message", event.Message),
		zap.Time("occurred_at", event.OccurredAt),
	)
}
