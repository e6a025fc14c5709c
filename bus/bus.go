// Package bus carries lifecycle announcements and remote shutdown requests
// between service instances.
package bus

import (
	"context"
	"errors"
	"strings"
)

// Common errors.
var (
	ErrClosed         = errors.New("bus closed")
	ErrNoResponders   = errors.New("no responders")
	ErrInvalidSubject = errors.New("invalid subject")
)

// Default subjects.
const (
	// SubjectLifecycle is the prefix for lifecycle announcements. The full
	// subject is SubjectLifecycle + "." + service.
	SubjectLifecycle = "drainkit.lifecycle"

	// SubjectControl is the prefix for remote shutdown requests. The full
	// subject is SubjectControl + "." + service.
	SubjectControl = "drainkit.control"
)

// Message represents a message received from the bus.
type Message struct {
	// Subject the message was published to.
	Subject string

	// Data is the message payload.
	Data []byte

	// Reply is the reply subject for request/reply. Empty for plain pub/sub.
	Reply string
}

// MessageBus provides pub/sub and request/reply messaging.
type MessageBus interface {
	// Publish sends a message to all subscribers of a subject.
	Publish(subject string, data []byte) error

	// Subscribe creates a subscription to a subject.
	Subscribe(subject string) (Subscription, error)

	// Request sends a request and waits for a single reply until ctx is done.
	Request(ctx context.Context, subject string, data []byte) (*Message, error)

	// Close flushes pending messages and shuts down the bus.
	Close() error
}

// Subscription represents an active subscription.
type Subscription interface {
	// Messages returns the channel for incoming messages.
	// Channel is closed when the subscription ends.
	Messages() <-chan *Message

	// Unsubscribe cancels the subscription.
	Unsubscribe() error
}

// Config holds common bus configuration.
type Config struct {
	// BufferSize for subscription channels.
	// Default: 64
	BufferSize int
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize: 64,
	}
}

// ValidateSubject checks that a subject is non-empty and has no empty tokens.
func ValidateSubject(subject string) error {
	if subject == "" {
		return ErrInvalidSubject
	}
	for _, tok := range strings.Split(subject, ".") {
		if tok == "" || strings.ContainsAny(tok, " \t\r\n") {
			return ErrInvalidSubject
		}
	}
	return nil
}

// LifecycleSubject returns the announcement subject for a service.
func LifecycleSubject(service string) string {
	return SubjectLifecycle + "." + service
}

// ControlSubject returns the remote shutdown subject for a service.
func ControlSubject(service string) string {
	return SubjectControl + "." + service
}
