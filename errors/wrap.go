package errors

import "errors"

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	return New(code, message, append(opts, WithCause(err))...)
}

// Is checks if the first coded error in the chain has the given code.
func Is(err error, code ErrorCode) bool {
	return Code(err) == code
}

// IsTimeout reports whether err carries a timeout-class code. Only codes
// marked as timeouts qualify; a bare context deadline does not.
func IsTimeout(err error) bool {
	return Code(err).IsTimeout()
}

// IsSequence reports whether err is a sequence-level fault.
func IsSequence(err error) bool {
	return Category(err).IsFatal()
}

// Code extracts the error code from an error, if available.
func Code(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.code
	}
	return ""
}

// Category extracts the error category from an error, if available.
func Category(err error) ErrorCategory {
	var se *Error
	if errors.As(err, &se) {
		return se.category
	}
	return ""
}

// AnyTimeout returns true if any error in errs is timeout-class.
func AnyTimeout(errs []error) bool {
	for _, err := range errs {
		if IsTimeout(err) {
			return true
		}
	}
	return false
}

// AnySequence returns true if any error in errs is a sequence fault.
func AnySequence(errs []error) bool {
	for _, err := range errs {
		if IsSequence(err) {
			return true
		}
	}
	return false
}
