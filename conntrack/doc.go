// Package conntrack tracks every live inbound connection so that a draining
// server knows exactly what is still in flight.
//
// Each tracked connection gets a monotonic id, activity bookkeeping and an
// idle timeout that force-closes it when nothing happens for too long.
// Removal is idempotent and announced to listeners registered with
// OnRemove; the drain controller uses those notifications to learn when the
// registry becomes empty.
//
//	reg := conntrack.New(conntrack.DefaultConfig(), logger)
//	id := reg.Register(conn, conntrack.Metadata{})
//	reg.BeginRequest(id)  // a request arrived, idle clock paused
//	reg.EndRequest(id)    // back to idle
//	reg.Remove(id)        // the transport closed
//
// The registry exclusively owns the transport handle while it is tracked:
// callers must not close a tracked conn behind its back except through the
// transport's own close path, which must end in Remove.
package conntrack
