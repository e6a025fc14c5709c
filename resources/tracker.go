// Package resources records timers, tickers and subscriptions created by any
// part of the process so they can be released en masse during shutdown.
package resources

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// Kind groups tracked handles.
type Kind string

const (
	KindTimer        Kind = "timer"
	KindInterval     Kind = "interval"
	KindSubscription Kind = "subscription"
)

// Kinds lists every kind in sweep order.
var Kinds = []Kind{KindTimer, KindInterval, KindSubscription}

// Handle is anything that can be released. Implementations must be
// comparable (pointer types) because handles are stored in sets.
type Handle interface {
	Release() error
}

type timerHandle struct{ t *time.Timer }

func (h *timerHandle) Release() error {
	if h.t != nil {
		h.t.Stop()
	}
	return nil
}

type tickerHandle struct{ t *time.Ticker }

func (h *tickerHandle) Release() error {
	h.t.Stop()
	return nil
}

type funcHandle struct {
	name string
	fn   func() error
}

func (h *funcHandle) Release() error {
	return h.fn()
}

func (h *funcHandle) String() string {
	return h.name
}

// Timer wraps a one-shot timer.
func Timer(t *time.Timer) Handle {
	return &timerHandle{t: t}
}

// Ticker wraps a recurring ticker.
func Ticker(t *time.Ticker) Handle {
	return &tickerHandle{t: t}
}

// Subscription wraps an unsubscribe function.
func Subscription(name string, unsubscribe func() error) Handle {
	return &funcHandle{name: name, fn: unsubscribe}
}

// Tracker holds handles by kind. It is safe for concurrent use.
type Tracker struct {
	logger *logging.Logger

	mu   sync.Mutex
	sets map[Kind]map[Handle]struct{}
}

// NewTracker creates an empty tracker. A nil logger discards output.
func NewTracker(logger *logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Tracker{
		logger: logger.WithComponent("resources"),
		sets:   newSets(),
	}
}

func newSets() map[Kind]map[Handle]struct{} {
	sets := make(map[Kind]map[Handle]struct{}, len(Kinds))
	for _, k := range Kinds {
		sets[k] = make(map[Handle]struct{})
	}
	return sets
}

// Track records h under kind and returns it.
func (t *Tracker) Track(kind Kind, h Handle) Handle {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.trackLocked(kind, h)
	return h
}

func (t *Tracker) trackLocked(kind Kind, h Handle) {
	set, ok := t.sets[kind]
	if !ok {
		set = make(map[Handle]struct{})
		t.sets[kind] = set
	}
	set[h] = struct{}{}
}

// Untrack forgets h without releasing it. It reports whether h was tracked.
func (t *Tracker) Untrack(kind Kind, h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	set := t.sets[kind]
	if _, ok := set[h]; !ok {
		return false
	}
	delete(set, h)
	return true
}

// AfterFunc is time.AfterFunc with tracking. The handle untracks itself when
// the timer fires.
func (t *Tracker) AfterFunc(d time.Duration, fn func()) Handle {
	h := &timerHandle{}

	// Holding the lock keeps a very short timer from untracking before it is
	// tracked.
	t.mu.Lock()
	h.t = time.AfterFunc(d, func() {
		t.Untrack(KindTimer, h)
		fn()
	})
	t.trackLocked(KindTimer, h)
	t.mu.Unlock()

	return h
}

// NewTicker creates a tracked ticker.
func (t *Tracker) NewTicker(d time.Duration) (*time.Ticker, Handle) {
	ticker := time.NewTicker(d)
	return ticker, t.Track(KindInterval, Ticker(ticker))
}

// ReleaseAll releases every tracked handle exactly once and empties the
// tracker. Failures and panics are collected and logged; they never stop
// the sweep.
func (t *Tracker) ReleaseAll() []error {
	t.mu.Lock()
	snapshot := t.sets
	t.sets = newSets()
	t.mu.Unlock()

	kinds := make([]Kind, 0, len(snapshot))
	for k := range snapshot {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var errs []error
	released := 0
	for _, kind := range kinds {
		for h := range snapshot[kind] {
			if err := release(kind, h); err != nil {
				t.logger.Error("resource_release_failed", map[string]interface{}{
					"kind":  string(kind),
					"error": err,
				})
				errs = append(errs, err)
				continue
			}
			released++
		}
	}

	t.logger.Info("resources_released", map[string]interface{}{
		"released": released,
		"failed":   len(errs),
	})
	return errs
}

func release(kind Kind, h Handle) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r,
				errors.WithPhase("cleanup"),
				errors.WithMetadata("kind", string(kind)))
		}
	}()
	if rerr := h.Release(); rerr != nil {
		return errors.WrapWithCode(rerr, errors.ErrCodeReleaseFailed,
			fmt.Sprintf("release %s %v", kind, h),
			errors.WithPhase("cleanup"),
			errors.WithMetadata("kind", string(kind)))
	}
	return nil
}

// Counts returns the number of tracked handles per kind.
func (t *Tracker) Counts() map[Kind]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	counts := make(map[Kind]int, len(t.sets))
	for k, set := range t.sets {
		counts[k] = len(set)
	}
	return counts
}

// Len returns the total number of tracked handles.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, set := range t.sets {
		n += len(set)
	}
	return n
}
