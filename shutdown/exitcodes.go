package shutdown

import "github.com/vinayprograms/drainkit/errors"

// Process exit statuses.
const (
	// ExitClean indicates every phase completed without error.
	ExitClean = 0

	// ExitDrainTimeout indicates the grace period was exceeded.
	ExitDrainTimeout = 1

	// ExitCleanupFailure indicates a cleanup or callback task failed.
	ExitCleanupFailure = 2

	// ExitSignalError indicates a fault at the signal/dispatch level or an
	// exception that escaped the shutdown sequence.
	ExitSignalError = 3
)

// ExitCodeName returns a human-readable name for an exit code.
func ExitCodeName(code int) string {
	switch code {
	case ExitClean:
		return "clean"
	case ExitDrainTimeout:
		return "drain timeout"
	case ExitCleanupFailure:
		return "cleanup failure"
	case ExitSignalError:
		return "signal error"
	default:
		return "unknown"
	}
}

// selectExitCode classifies the collected errors by their typed code.
func selectExitCode(errs []error) int {
	switch {
	case len(errs) == 0:
		return ExitClean
	case errors.AnySequence(errs):
		return ExitSignalError
	case errors.AnyTimeout(errs):
		return ExitDrainTimeout
	default:
		return ExitCleanupFailure
	}
}
