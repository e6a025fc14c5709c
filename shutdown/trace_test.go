package shutdown

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/telemetry"
)

// lockedBuffer is a bytes.Buffer safe for the concurrent writes made by
// phase tasks.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lines decodes every JSON log line written so far.
func (b *lockedBuffer) lines(t *testing.T) []map[string]interface{} {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []map[string]interface{}
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line), "bad log line %q", sc.Text())
		out = append(out, line)
	}
	return out
}

func capturingLogger(out *lockedBuffer) *logging.Logger {
	logger := logging.New()
	logger.SetOutput(out)
	return logger
}

func TestShutdown_PhaseLogsCarryTraceID(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	defer tp.Shutdown(t.Context())

	out := &lockedBuffer{}
	coord, exits := newTestCoordinator(t, testConfig(time.Second),
		WithLogger(capturingLogger(out)),
		WithTracer(telemetry.NewTracerFromProvider(tp, "drainkit-test", false)))
	coord.OnShutdown("flush", func(ctx context.Context) error {
		return errors.New("flush failed")
	})

	coord.Shutdown("test")
	require.Equal(t, ExitCleanupFailure, waitExit(t, exits, 2*time.Second))

	var traceID string
	for _, s := range rec.Ended() {
		if s.Name() == "shutdown" {
			traceID = s.SpanContext().TraceID().String()
		}
	}
	require.NotEmpty(t, traceID, "expected a shutdown span")

	seen := map[string]int{}
	for _, line := range out.lines(t) {
		msg, _ := line["msg"].(string)
		switch msg {
		case "phase_complete", "shutdown task failed", "shutdown complete with errors":
			assert.Equal(t, traceID, line["trace_id"], msg)
			assert.NotNil(t, line["span_id"], msg)
			seen[msg]++
		}
	}
	assert.Equal(t, map[string]int{
		"phase_complete":                4,
		"shutdown task failed":          1,
		"shutdown complete with errors": 1,
	}, seen)
}

func TestShutdown_ListenerCloseErrorCoded(t *testing.T) {
	out := &lockedBuffer{}
	l := &fakeListener{closeErr: errors.New("use of closed network connection")}
	coord, exits := newTestCoordinator(t, testConfig(time.Second),
		WithLogger(capturingLogger(out)), WithListener(l))

	coord.Shutdown("test")
	require.Equal(t, ExitClean, waitExit(t, exits, 2*time.Second))

	found := false
	for _, line := range out.lines(t) {
		if line["msg"] != "listener close reported an error" {
			continue
		}
		found = true
		assert.Equal(t, string(dkerrors.ErrCodeListenerClose), line["code"])
	}
	require.True(t, found, "listener close error is logged")
	assert.Zero(t, coord.Outcome().ErrorCount, "listener close error stays out of the outcome")
}
