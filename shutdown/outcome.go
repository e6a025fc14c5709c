package shutdown

import (
	"encoding/json"
	"time"

	"go.uber.org/multierr"

	"github.com/vinayprograms/drainkit/drain"
	"github.com/vinayprograms/drainkit/errors"
)

// Outcome is the immutable result of a shutdown run.
type Outcome struct {
	RunID            string
	Trigger          string
	Source           Source
	StartedAt        time.Time
	Duration         time.Duration
	Errors           []error
	ErrorCount       int
	FinalConnections int
	ForcedCloses     int
	Drain            drain.Result
	Callbacks        []HandlerResult
	ExitCode         int

	// Forced is set when the sequence was abandoned for the forced path.
	Forced bool
}

// Err combines all recorded errors, or returns nil for a clean run.
func (o Outcome) Err() error {
	return multierr.Combine(o.Errors...)
}

// Clean reports whether the run finished without errors.
func (o Outcome) Clean() bool {
	return o.ErrorCount == 0 && !o.Forced
}

// FailedHandlers returns the names of callbacks that failed.
func (o Outcome) FailedHandlers() []string {
	var failed []string
	for _, r := range o.Callbacks {
		if r.Err != nil {
			failed = append(failed, r.Name)
		}
	}
	return failed
}

func (o Outcome) clone() Outcome {
	c := o
	c.Errors = append([]error(nil), o.Errors...)
	c.Callbacks = append([]HandlerResult(nil), o.Callbacks...)
	return c
}

type errorJSON struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type handlerJSON struct {
	Name     string `json:"name"`
	Phase    string `json:"phase"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

type outcomeJSON struct {
	RunID            string        `json:"run_id"`
	Trigger          string        `json:"trigger"`
	Source           Source        `json:"source,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         string        `json:"duration"`
	Errors           []errorJSON   `json:"errors,omitempty"`
	ErrorCount       int           `json:"error_count"`
	FinalConnections int           `json:"final_connections"`
	ForcedCloses     int           `json:"forced_closes"`
	DrainMode        string        `json:"drain_mode,omitempty"`
	Callbacks        []handlerJSON `json:"callbacks,omitempty"`
	ExitCode         int           `json:"exit_code"`
	ExitReason       string        `json:"exit_reason"`
	Forced           bool          `json:"forced,omitempty"`
}

// MarshalJSON renders errors and durations as strings.
func (o Outcome) MarshalJSON() ([]byte, error) {
	out := outcomeJSON{
		RunID:            o.RunID,
		Trigger:          o.Trigger,
		Source:           o.Source,
		StartedAt:        o.StartedAt,
		Duration:         o.Duration.String(),
		ErrorCount:       o.ErrorCount,
		FinalConnections: o.FinalConnections,
		ForcedCloses:     o.ForcedCloses,
		DrainMode:        string(o.Drain.Mode),
		ExitCode:         o.ExitCode,
		ExitReason:       ExitCodeName(o.ExitCode),
		Forced:           o.Forced,
	}
	for _, err := range o.Errors {
		out.Errors = append(out.Errors, errorJSON{
			Code:    string(errors.Code(err)),
			Message: err.Error(),
		})
	}
	for _, r := range o.Callbacks {
		h := handlerJSON{Name: r.Name, Phase: r.Phase, Duration: r.Duration.String()}
		if r.Err != nil {
			h.Error = r.Err.Error()
		}
		out.Callbacks = append(out.Callbacks, h)
	}
	return json.Marshal(out)
}
