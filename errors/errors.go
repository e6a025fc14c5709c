package errors

import (
	"encoding/json"
	"fmt"
	"time"
)

// ShutdownError is the interface for all structured errors in drainkit.
type ShutdownError interface {
	error

	// Code returns the specific error code identifying the failure type.
	Code() ErrorCode

	// Category returns the error category.
	Category() ErrorCategory

	// Phase returns the shutdown phase the error was recorded in, if any.
	Phase() string

	// Metadata returns additional context as key-value pairs.
	Metadata() map[string]string

	// Unwrap returns the underlying error, if any.
	Unwrap() error
}

// Error is the concrete implementation of ShutdownError.
type Error struct {
	code      ErrorCode
	category  ErrorCategory
	message   string
	cause     error
	metadata  map[string]string
	phase     string
	timestamp time.Time
}

var (
	_ ShutdownError  = (*Error)(nil)
	_ json.Marshaler = (*Error)(nil)
)

// Error returns the error message.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Category returns the error category.
func (e *Error) Category() ErrorCategory {
	return e.category
}

// Phase returns the shutdown phase, if set.
func (e *Error) Phase() string {
	return e.phase
}

// Metadata returns a copy of the error metadata.
func (e *Error) Metadata() map[string]string {
	result := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		result[k] = v
	}
	return result
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.cause
}

// Timestamp returns when the error was created.
func (e *Error) Timestamp() time.Time {
	return e.timestamp
}

// MarshalJSON renders the error for outcome announcements. The cause is
// flattened to its message.
func (e *Error) MarshalJSON() ([]byte, error) {
	var cause string
	if e.cause != nil {
		cause = e.cause.Error()
	}
	return json.Marshal(struct {
		Code     ErrorCode         `json:"code"`
		Category ErrorCategory     `json:"category"`
		Message  string            `json:"message"`
		Cause    string            `json:"cause,omitempty"`
		Phase    string            `json:"phase,omitempty"`
		Metadata map[string]string `json:"metadata,omitempty"`
		At       time.Time         `json:"at"`
	}{e.code, e.category, e.message, cause, e.phase, e.metadata, e.timestamp})
}

// Option is a functional option for configuring an Error.
type Option func(*Error)

// WithMetadata adds a metadata key-value pair.
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithPhase records the shutdown phase the error belongs to.
func WithPhase(phase string) Option {
	return func(e *Error) {
		e.phase = phase
	}
}

// WithCause sets the underlying cause.
func WithCause(cause error) Option {
	return func(e *Error) {
		e.cause = cause
	}
}

// New creates a new Error with the given code and message.
func New(code ErrorCode, message string, opts ...Option) *Error {
	e := &Error{
		code:      code,
		category:  code.DefaultCategory(),
		message:   message,
		timestamp: time.Now(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// FromCode creates an Error using the code's default description.
func FromCode(code ErrorCode, opts ...Option) *Error {
	return New(code, code.Description(), opts...)
}

// DrainTimeout reports a drain that exceeded its grace period.
func DrainTimeout(grace time.Duration, forced int) *Error {
	return New(ErrCodeDrainTimeout,
		fmt.Sprintf("grace period %s exceeded, force-closed %d connection(s)", grace, forced),
		WithPhase("drain"),
		WithMetadata("forced", fmt.Sprintf("%d", forced)))
}

// Capacity reports an admission refused because the registry is full.
func Capacity(max int) *Error {
	return New(ErrCodeCapacity, fmt.Sprintf("connection limit %d reached", max))
}

// ShuttingDown reports an admission refused because shutdown has begun.
func ShuttingDown() *Error {
	return FromCode(ErrCodeShuttingDown)
}

// Panic converts a recovered panic value into an Error.
func Panic(value interface{}, opts ...Option) *Error {
	if err, ok := value.(error); ok {
		return New(ErrCodePanic, "recovered from panic", append(opts, WithCause(err))...)
	}
	return New(ErrCodePanic, fmt.Sprintf("recovered from panic: %v", value), opts...)
}

// InvalidConfig reports a configuration validation failure.
func InvalidConfig(message string) *Error {
	return New(ErrCodeInvalidConfig, message)
}
