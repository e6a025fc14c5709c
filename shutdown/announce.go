package shutdown

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vinayprograms/drainkit/bus"
)

// Event is a lifecycle announcement.
type Event struct {
	Service  string    `json:"service"`
	Instance string    `json:"instance"`
	RunID    string    `json:"run_id,omitempty"`
	State    string    `json:"state"`
	Trigger  string    `json:"trigger,omitempty"`
	At       time.Time `json:"at"`
	Outcome  *Outcome  `json:"outcome,omitempty"`
}

// Announcer publishes lifecycle events.
type Announcer interface {
	Announce(ctx context.Context, ev Event) error
}

// BusAnnouncer publishes events as JSON on a message bus subject.
type BusAnnouncer struct {
	bus     bus.MessageBus
	subject string
}

// NewBusAnnouncer creates an announcer publishing to subject.
func NewBusAnnouncer(b bus.MessageBus, subject string) *BusAnnouncer {
	return &BusAnnouncer{bus: b, subject: subject}
}

// Announce publishes ev. The bus publish is non-blocking; ctx is checked
// before publishing.
func (a *BusAnnouncer) Announce(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal lifecycle event: %w", err)
	}
	if err := a.bus.Publish(a.subject, data); err != nil {
		return fmt.Errorf("publish lifecycle event: %w", err)
	}
	return nil
}
