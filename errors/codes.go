package errors

// ErrorCategory classifies errors by where they occur in the lifecycle.
type ErrorCategory string

const (
	// CategoryAdmission covers refused connections and requests.
	// Examples: registry at capacity, accept rate exceeded, shutdown in progress.
	CategoryAdmission ErrorCategory = "admission"

	// CategoryPhase covers failures of individual shutdown phase tasks.
	// Examples: grace period exceeded, a resource release failed, a callback failed.
	CategoryPhase ErrorCategory = "phase"

	// CategorySequence covers faults that escaped the shutdown sequence.
	CategorySequence ErrorCategory = "sequence"

	// CategoryInternal indicates unexpected errors, bugs, or bad configuration.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsFatal returns true if errors in this category force the shutdown path.
func (c ErrorCategory) IsFatal() bool {
	return c == CategorySequence
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes.
const (
	// Admission errors
	ErrCodeCapacity     ErrorCode = "CAPACITY"      // Registry at max tracked connections
	ErrCodeShuttingDown ErrorCode = "SHUTTING_DOWN" // Shutdown has begun
	ErrCodeRateLimit    ErrorCode = "RATE_LIMITED"  // Accept rate exceeded

	// Phase errors
	ErrCodeDrainTimeout   ErrorCode = "DRAIN_TIMEOUT"   // Grace period exceeded, stragglers force-closed
	ErrCodeReleaseFailed  ErrorCode = "RELEASE_FAILED"  // A tracked resource failed to release
	ErrCodeCleanupFailed  ErrorCode = "CLEANUP_FAILED"  // A resource-cleanup callback failed
	ErrCodeCallbackFailed ErrorCode = "CALLBACK_FAILED" // A shutdown callback failed
	ErrCodeListenerClose  ErrorCode = "LISTENER_CLOSE"  // Listener reported a close error

	// Sequence errors
	ErrCodeSequenceFault ErrorCode = "SEQUENCE_FAULT" // Fault escaped the shutdown sequence
	ErrCodeUncaughtFault ErrorCode = "UNCAUGHT_FAULT" // Trigger carried an uncaught fault
	ErrCodeBackground    ErrorCode = "BACKGROUND"     // Unobserved background failure

	// Internal errors
	ErrCodePanic               ErrorCode = "PANIC"
	ErrCodeAlreadyShuttingDown ErrorCode = "ALREADY_SHUTTING_DOWN"
	ErrCodeInvalidConfig       ErrorCode = "INVALID_CONFIG"
	ErrCodeInternal            ErrorCode = "INTERNAL"
)

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	case ErrCodeCapacity, ErrCodeShuttingDown, ErrCodeRateLimit:
		return CategoryAdmission
	case ErrCodeDrainTimeout, ErrCodeReleaseFailed, ErrCodeCleanupFailed,
		ErrCodeCallbackFailed, ErrCodeListenerClose:
		return CategoryPhase
	case ErrCodeSequenceFault, ErrCodeUncaughtFault, ErrCodeBackground:
		return CategorySequence
	default:
		return CategoryInternal
	}
}

// IsTimeout reports whether the code belongs to the timeout class.
func (c ErrorCode) IsTimeout() bool {
	return c == ErrCodeDrainTimeout
}

var codeDescriptions = map[ErrorCode]string{
	ErrCodeCapacity:            "connection limit reached",
	ErrCodeShuttingDown:        "shutdown in progress",
	ErrCodeRateLimit:           "accept rate exceeded",
	ErrCodeDrainTimeout:        "grace period exceeded",
	ErrCodeReleaseFailed:       "resource release failed",
	ErrCodeCleanupFailed:       "resource cleanup failed",
	ErrCodeCallbackFailed:      "shutdown callback failed",
	ErrCodeListenerClose:       "listener close failed",
	ErrCodeSequenceFault:       "shutdown sequence fault",
	ErrCodeUncaughtFault:       "uncaught fault",
	ErrCodeBackground:          "unobserved background failure",
	ErrCodePanic:               "recovered from panic",
	ErrCodeAlreadyShuttingDown: "shutdown already initiated",
	ErrCodeInvalidConfig:       "invalid configuration",
	ErrCodeInternal:            "internal error",
}

// Description returns a human-readable description for the error code.
func (c ErrorCode) Description() string {
	if desc, ok := codeDescriptions[c]; ok {
		return desc
	}
	return "unknown error"
}
