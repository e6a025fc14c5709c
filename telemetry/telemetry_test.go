package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newRecordingTracer(debug bool) (*Tracer, *tracetest.SpanRecorder) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	return NewTracerFromProvider(tp, "test", debug), rec
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestGetTracer_DefaultIsNoop(t *testing.T) {
	SetGlobalTracer(nil)
	tr := GetTracer()
	require.NotNil(t, tr)

	_, span := tr.StartShutdownSpan(context.Background(), "run", "SIGTERM", "signal")
	tr.EndShutdownSpan(span, ShutdownSpanOptions{}, nil)
	assert.False(t, span.SpanContext().IsValid(), "expected no-op span")
}

func TestSetGlobalTracer(t *testing.T) {
	tr, _ := newRecordingTracer(false)
	SetGlobalTracer(tr)
	defer SetGlobalTracer(nil)

	assert.Same(t, tr, GetTracer())
}

func TestShutdownSpan_ParentsPhases(t *testing.T) {
	tr, rec := newRecordingTracer(false)

	ctx, root := tr.StartShutdownSpan(context.Background(), "run-1", "SIGTERM", "signal")
	_, phase := tr.StartPhaseSpan(ctx, "drain")
	tr.EndPhaseSpan(phase, PhaseSpanOptions{Phase: "drain", Initial: 3, ForcedCloses: 1, Mode: "forced"},
		errors.New("grace period exceeded"))
	tr.EndShutdownSpan(root, ShutdownSpanOptions{ExitCode: 1, ErrorCount: 1, ForcedCloses: 1, DrainMode: "forced"},
		errors.New("grace period exceeded"))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	drain, shutdown := spans[0], spans[1]

	assert.Equal(t, "shutdown.drain", drain.Name())
	assert.Equal(t, shutdown.SpanContext().SpanID(), drain.Parent().SpanID(),
		"phase span should be a child of the shutdown span")
	v, ok := attr(drain, "drain.forced_closes")
	require.True(t, ok)
	assert.EqualValues(t, 1, v.AsInt64())
	assert.Equal(t, codes.Error, drain.Status().Code)

	v, ok = attr(shutdown, "shutdown.exit_code")
	require.True(t, ok)
	assert.EqualValues(t, 1, v.AsInt64())
	v, ok = attr(shutdown, "shutdown.trigger")
	require.True(t, ok)
	assert.Equal(t, "SIGTERM", v.AsString())
}

func TestPhaseSpan_DebugRecordsErrors(t *testing.T) {
	for _, debug := range []bool{false, true} {
		tr, rec := newRecordingTracer(debug)

		_, span := tr.StartPhaseSpan(context.Background(), "callbacks")
		tr.EndPhaseSpan(span, PhaseSpanOptions{
			Phase:      "callbacks",
			Tasks:      3,
			ErrorCount: 2,
			Errors:     []error{errors.New("a"), errors.New("b")},
		}, nil)

		want := 0
		if debug {
			want = 2
		}
		ended := rec.Ended()[0]
		assert.Len(t, ended.Events(), want, "debug=%v", debug)
		assert.Equal(t, codes.Ok, ended.Status().Code, "debug=%v", debug)
	}
}

func TestInitProvider_RequiresEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	_, err := InitProvider(context.Background(), ProviderConfig{})
	assert.Error(t, err)
}

func TestInitProvider_UnknownProtocol(t *testing.T) {
	_, err := InitProvider(context.Background(), ProviderConfig{Endpoint: "localhost:4317", Protocol: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestInitProvider_HTTP(t *testing.T) {
	defer SetGlobalTracer(nil)

	p, err := InitProvider(context.Background(), ProviderConfig{
		ServiceName: "drainkit-test",
		Endpoint:    "http://localhost:4318",
		Protocol:    "http",
		Insecure:    true,
	})
	require.NoError(t, err)
	assert.Same(t, p.Tracer(), GetTracer(), "provider tracer should be installed globally")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_ = p.Shutdown(ctx)
}

func TestSampler(t *testing.T) {
	assert.Equal(t, "AlwaysOnSampler", sampler(0).Description())
	assert.NotEqual(t, "AlwaysOnSampler", sampler(0.5).Description(), "sampler(0.5) should be ratio based")
}
