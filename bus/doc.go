// Package bus provides message bus clients for lifecycle coordination.
//
// # Overview
//
// A service announces its shutdown state transitions and final outcome on
// a lifecycle subject, and listens on a control subject for remote shutdown
// requests. Peers and orchestrators use the same subjects to observe and
// trigger rollouts.
//
// # Available Implementations
//
//   - NATSBus: messaging over NATS; Close drains in-flight messages
//   - MemoryBus: in-memory implementation for tests and single-process use
//
// # Patterns
//
// Announcements:
//
//	b.Publish(bus.LifecycleSubject("api"), payload)
//
// Remote shutdown with acknowledgement:
//
//	reply, err := b.Request(ctx, bus.ControlSubject("api"), []byte("rollout"))
package bus
