// OpenTelemetry tracing for shutdown runs.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Tracer wraps OpenTelemetry tracing with shutdown-specific helpers.
type Tracer struct {
	tracer trace.Tracer
	debug  bool // When true, record every phase error on the span
}

var (
	globalTracer *Tracer
	tracerMu     sync.RWMutex
)

// SetGlobalTracer sets the global tracer instance.
func SetGlobalTracer(t *Tracer) {
	tracerMu.Lock()
	defer tracerMu.Unlock()
	globalTracer = t
}

// GetTracer returns the global tracer, or a no-op tracer if not set.
func GetTracer() *Tracer {
	tracerMu.RLock()
	defer tracerMu.RUnlock()
	if globalTracer == nil {
		return &Tracer{tracer: noop.NewTracerProvider().Tracer("")}
	}
	return globalTracer
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider, name string, debug bool) *Tracer {
	return &Tracer{tracer: tp.Tracer(name), debug: debug}
}

// --- Shutdown Spans ---

// ShutdownSpanOptions contains the outcome recorded on a shutdown span.
type ShutdownSpanOptions struct {
	ExitCode         int
	ErrorCount       int
	FinalConnections int
	ForcedCloses     int
	DrainMode        string
}

// StartShutdownSpan starts the root span of a shutdown run.
func (t *Tracer) StartShutdownSpan(ctx context.Context, runID, trigger, source string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shutdown",
		trace.WithNewRoot(),
		trace.WithAttributes(
			attribute.String("shutdown.run_id", runID),
			attribute.String("shutdown.trigger", trigger),
			attribute.String("shutdown.source", source),
		))
}

// EndShutdownSpan ends a shutdown span with the run's outcome.
func (t *Tracer) EndShutdownSpan(span trace.Span, opts ShutdownSpanOptions, err error) {
	span.SetAttributes(
		attribute.Int("shutdown.exit_code", opts.ExitCode),
		attribute.Int("shutdown.errors", opts.ErrorCount),
		attribute.Int("shutdown.final_connections", opts.FinalConnections),
		attribute.Int("shutdown.forced_closes", opts.ForcedCloses),
		attribute.String("shutdown.drain_mode", opts.DrainMode),
	)
	end(span, err)
}

// --- Phase Spans ---

// PhaseSpanOptions contains attributes recorded on a phase span.
type PhaseSpanOptions struct {
	Phase        string
	Tasks        int
	ErrorCount   int
	Initial      int
	ForcedCloses int
	Mode         string
	Errors       []error // Only recorded if debug=true
}

// StartPhaseSpan starts a span for one shutdown phase.
func (t *Tracer) StartPhaseSpan(ctx context.Context, phase string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "shutdown."+phase,
		trace.WithAttributes(attribute.String("shutdown.phase", phase)))
}

// EndPhaseSpan ends a phase span with attributes.
func (t *Tracer) EndPhaseSpan(span trace.Span, opts PhaseSpanOptions, err error) {
	attrs := []attribute.KeyValue{
		attribute.Int("phase.tasks", opts.Tasks),
		attribute.Int("phase.errors", opts.ErrorCount),
	}
	if opts.Phase == "drain" {
		attrs = append(attrs,
			attribute.Int("drain.initial", opts.Initial),
			attribute.Int("drain.forced_closes", opts.ForcedCloses),
			attribute.String("drain.mode", opts.Mode),
		)
	}
	span.SetAttributes(attrs...)

	if t.debug {
		for _, e := range opts.Errors {
			span.RecordError(e)
		}
	}
	end(span, err)
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
