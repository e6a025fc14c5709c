package resources

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dkerrors "github.com/vinayprograms/drainkit/errors"
)

func TestTrackUntrack(t *testing.T) {
	tr := NewTracker(nil)
	h := tr.Track(KindTimer, Timer(time.NewTimer(time.Hour)))

	assert.Equal(t, 1, tr.Len())
	assert.True(t, tr.Untrack(KindTimer, h))
	assert.False(t, tr.Untrack(KindTimer, h))
	assert.Equal(t, 0, tr.Len())
}

func TestReleaseAll_EmptiesEvenOnFailure(t *testing.T) {
	tr := NewTracker(nil)

	var okCalls atomic.Int32
	tr.Track(KindSubscription, Subscription("failing", func() error {
		return errors.New("broker unreachable")
	}))
	tr.Track(KindSubscription, Subscription("ok", func() error {
		okCalls.Add(1)
		return nil
	}))

	errs := tr.ReleaseAll()

	require.Len(t, errs, 1)
	assert.True(t, dkerrors.Is(errs[0], dkerrors.ErrCodeReleaseFailed))
	assert.Equal(t, int32(1), okCalls.Load())
	assert.Equal(t, 0, tr.Len())
	for _, n := range tr.Counts() {
		assert.Zero(t, n)
	}
}

func TestReleaseAll_RecoversPanics(t *testing.T) {
	tr := NewTracker(nil)
	var released atomic.Int32

	tr.Track(KindSubscription, Subscription("panics", func() error {
		panic("nil channel")
	}))
	tr.Track(KindSubscription, Subscription("fine", func() error {
		released.Add(1)
		return nil
	}))
	ticker, _ := tr.NewTicker(time.Hour)
	defer ticker.Stop()

	errs := tr.ReleaseAll()

	require.Len(t, errs, 1)
	assert.True(t, dkerrors.Is(errs[0], dkerrors.ErrCodePanic))
	assert.Equal(t, int32(1), released.Load())
	assert.Equal(t, 0, tr.Len())
}

func TestReleaseAll_ReleasesOnce(t *testing.T) {
	tr := NewTracker(nil)
	var calls atomic.Int32
	tr.Track(KindSubscription, Subscription("once", func() error {
		calls.Add(1)
		return nil
	}))

	assert.Empty(t, tr.ReleaseAll())
	assert.Empty(t, tr.ReleaseAll())
	assert.Equal(t, int32(1), calls.Load())
}

func TestAfterFunc_UntracksWhenFired(t *testing.T) {
	tr := NewTracker(nil)
	fired := make(chan struct{})
	tr.AfterFunc(10*time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Eventually(t, func() bool { return tr.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAfterFunc_ReleasedTimerNeverFires(t *testing.T) {
	tr := NewTracker(nil)
	var fired atomic.Bool
	tr.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })

	assert.Equal(t, 1, tr.Counts()[KindTimer])
	assert.Empty(t, tr.ReleaseAll())

	time.Sleep(100 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestCounts(t *testing.T) {
	tr := NewTracker(nil)
	tr.Track(KindTimer, Timer(time.NewTimer(time.Hour)))
	ticker, _ := tr.NewTicker(time.Hour)
	defer ticker.Stop()
	tr.Track(KindSubscription, Subscription("a", func() error { return nil }))
	tr.Track(KindSubscription, Subscription("b", func() error { return nil }))

	counts := tr.Counts()
	assert.Equal(t, 1, counts[KindTimer])
	assert.Equal(t, 1, counts[KindInterval])
	assert.Equal(t, 2, counts[KindSubscription])
	tr.ReleaseAll()
}
