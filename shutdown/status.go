package shutdown

import (
	"time"

	"github.com/vinayprograms/drainkit/conntrack"
)

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	State             string         `json:"state"`
	Accepting         bool           `json:"accepting"`
	Listening         bool           `json:"listening"`
	Connections       int            `json:"connections"`
	MaxConnections    int            `json:"max_connections"`
	Resources         map[string]int `json:"resources"`
	ShutdownCallbacks int            `json:"shutdown_callbacks"`
	CleanupCallbacks  int            `json:"cleanup_callbacks"`
	GracePeriod       string         `json:"grace_period"`
	Uptime            string         `json:"uptime"`
	Trigger           string         `json:"trigger,omitempty"`
	RunID             string         `json:"run_id,omitempty"`
	ShuttingDownFor   string         `json:"shutting_down_for,omitempty"`
}

// Status returns a snapshot of the coordinator's state and counts.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	l := c.listener
	s := Status{
		ShutdownCallbacks: len(c.shutdown),
		CleanupCallbacks:  len(c.cleanup),
		Trigger:           c.trigger.Name,
		RunID:             c.runID,
	}
	started := c.startedAt
	c.mu.Unlock()

	s.State = c.State().String()
	s.Accepting = c.Accepting()
	s.Listening = l != nil && l.Listening()
	s.Connections = c.registry.Len()
	s.MaxConnections = c.config.MaxConnections
	s.GracePeriod = c.config.GracePeriod.String()
	s.Uptime = time.Since(c.created).Round(time.Millisecond).String()
	if !started.IsZero() {
		s.ShuttingDownFor = time.Since(started).Round(time.Millisecond).String()
	}

	s.Resources = make(map[string]int)
	for kind, n := range c.tracker.Counts() {
		s.Resources[string(kind)] = n
	}
	return s
}

// ConnectionDetails returns per-connection diagnostics sorted by ID.
func (c *Coordinator) ConnectionDetails() []conntrack.Info {
	return c.registry.Details()
}
