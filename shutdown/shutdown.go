package shutdown

import (
	"context"
	"fmt"
	"time"

	"github.com/vinayprograms/drainkit/errors"
)

// State is the coordinator's lifecycle state. States only move forward.
type State int32

const (
	StateActive State = iota
	StatePending
	StateDraining
	StateCleanup
	StateTerminated
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateActive:
		return "ACTIVE"
	case StatePending:
		return "PENDING"
	case StateDraining:
		return "DRAINING"
	case StateCleanup:
		return "CLEANUP"
	case StateTerminated:
		return "TERMINATED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Listener is the network listener whose lifecycle is coordinated.
type Listener interface {
	// Close stops accepting new connections. Existing connections stay open.
	Close() error

	// Listening reports whether new connections are still being accepted.
	Listening() bool
}

// Source identifies where a trigger came from.
type Source string

const (
	SourceSignal       Source = "signal"
	SourceFault        Source = "fault"
	SourceProgrammatic Source = "programmatic"
	SourceRemote       Source = "remote"
)

// Trigger describes why shutdown was requested.
type Trigger struct {
	// Name is the trigger name, e.g. "SIGTERM" or "uncaughtException".
	Name string

	// Source is the kind of trigger.
	Source Source

	// Fault is set when the trigger carries an uncaught fault. It is recorded
	// in the outcome as a sequence-level error.
	Fault error
}

// String returns a description of the trigger.
func (t Trigger) String() string {
	if t.Fault != nil {
		return fmt.Sprintf("%s: %v", t.Name, t.Fault)
	}
	return t.Name
}

// Callback is a shutdown or resource-cleanup callback. The context carries
// the grace period as a deadline hint; the coordinator waits for every
// callback regardless.
type Callback func(ctx context.Context) error

// HandlerResult contains the result of a single callback.
type HandlerResult struct {
	// Name of the callback.
	Name string `json:"name"`

	// Phase the callback ran in ("cleanup" or "callbacks").
	Phase string `json:"phase"`

	// Duration is how long the callback took.
	Duration time.Duration `json:"duration"`

	// Err is any error returned by (or recovered from) the callback.
	Err error `json:"-"`
}

// Config configures the shutdown coordinator.
type Config struct {
	// GracePeriod bounds the drain wait.
	// Default: 30 seconds
	GracePeriod time.Duration

	// ForceTimeout is the delay before the process exits on the forced path,
	// giving the final log line time to flush.
	// Default: 1 second
	ForceTimeout time.Duration

	// IdleTimeout is the per-connection idle timeout. It runs only while no
	// request is in flight on the connection.
	// Default: 30 seconds
	IdleTimeout time.Duration

	// MaxConnections caps tracked connections while active. 0 = unlimited.
	// Default: 0
	MaxConnections int

	// ServiceName labels announcements and spans.
	ServiceName string

	// OnProgress is called when each callback completes.
	OnProgress func(result HandlerResult)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.GracePeriod < 0 {
		return errors.InvalidConfig("grace period must not be negative")
	}
	if c.ForceTimeout < 0 {
		return errors.InvalidConfig("force timeout must not be negative")
	}
	if c.IdleTimeout < 0 {
		return errors.InvalidConfig("idle timeout must not be negative")
	}
	if c.MaxConnections < 0 {
		return errors.InvalidConfig("max connections must not be negative")
	}
	return nil
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod:  30 * time.Second,
		ForceTimeout: time.Second,
		IdleTimeout:  30 * time.Second,
		ServiceName:  "drainkit",
	}
}

// registration holds a registered callback.
type registration struct {
	name string
	fn   Callback
}
