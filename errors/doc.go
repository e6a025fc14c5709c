// Package errors provides the structured error taxonomy used throughout
// drainkit. Every failure the shutdown subsystem can observe is tagged with
// a code and a category so that reporting and exit-status selection never
// depend on matching error names or messages.
//
// # Error Categories
//
// Errors are classified into four categories:
//
//   - Admission: a connection or request was refused (over capacity, rate
//     limited, shutdown in progress). Operational, never fatal.
//   - Phase: a shutdown phase task failed (drain timeout, a cleanup or
//     callback failure). Recorded in the outcome; siblings keep running.
//   - Sequence: a fault escaped the shutdown sequence itself. Switches the
//     coordinator to the forced path.
//   - Internal: anything unexpected.
//
// # Timeout Class
//
// ErrorCode.IsTimeout reports whether a code belongs to the timeout class.
// The coordinator uses it to pick the "grace period exceeded" exit status:
//
//	if errors.IsTimeout(err) {
//	    status = shutdown.ExitDrainTimeout
//	}
//
// # Usage
//
//	err := errors.New(errors.ErrCodeDrainTimeout, "grace period exceeded",
//	    errors.WithMetadata("remaining", "3"))
//
//	wrapped := errors.WrapWithCode(cause, errors.ErrCodeCallbackFailed, "flush cache")
//
// # JSON Serialization
//
// Errors marshal to JSON so outcomes can be announced over the message bus:
//
//	data, err := json.Marshal(shutdownErr)
package errors
