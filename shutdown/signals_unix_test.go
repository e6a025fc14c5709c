//go:build !windows

package shutdown

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalName(t *testing.T) {
	tests := map[os.Signal]string{
		syscall.SIGTERM: "SIGTERM",
		syscall.SIGINT:  "SIGINT",
		syscall.SIGUSR2: "SIGUSR2",
	}
	for sig, want := range tests {
		assert.Equal(t, want, signalName(sig), "signalName(%v)", sig)
	}
}

func TestDispatcher_ListenRegistersOnce(t *testing.T) {
	coord, _ := newTestCoordinator(t, testConfig(time.Second))
	d := NewDispatcher(coord)
	defer d.Stop()

	require.NoError(t, d.Listen(syscall.SIGUSR1))
	require.NoError(t, d.Listen(syscall.SIGUSR1, syscall.SIGUSR1))
	assert.Equal(t, 1, d.Registered())
}

func TestDispatcher_ListenAfterStop(t *testing.T) {
	coord, _ := newTestCoordinator(t, testConfig(time.Second))
	d := NewDispatcher(coord)

	require.NoError(t, d.Listen(syscall.SIGUSR1))
	d.Stop()

	assert.ErrorIs(t, d.Listen(syscall.SIGUSR2), ErrDispatcherStopped)
	assert.Equal(t, 1, d.Registered(), "no handler may be added once stopped")
}

func TestDispatcher_TermThenIntRunsOneSequence(t *testing.T) {
	coord, exits := newTestCoordinator(t, testConfig(time.Second))

	var calls atomic.Int32
	coord.OnShutdown("count", func(ctx context.Context) error {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return nil
	})

	d := NewDispatcher(coord)
	require.NoError(t, d.Listen())
	defer d.Stop()
	require.Equal(t, 3, d.Registered())

	syscall.Kill(os.Getpid(), syscall.SIGTERM)
	syscall.Kill(os.Getpid(), syscall.SIGINT)

	require.Equal(t, ExitClean, waitExit(t, exits, 2*time.Second))
	assert.EqualValues(t, 1, calls.Load(), "callback runs once")
	o := coord.Outcome()
	assert.Contains(t, []string{"SIGTERM", "SIGINT"}, o.Trigger)
	assert.Equal(t, SourceSignal, o.Source)
}
