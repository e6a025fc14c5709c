package shutdown

import (
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/vinayprograms/drainkit/bus"
	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/resources"
)

// Trigger names for non-signal sources.
const (
	TriggerUncaughtFault     = "uncaughtException"
	TriggerBackgroundFailure = "unhandledRejection"
	TriggerRemoteShutdown    = "remote"
)

// Replies to remote shutdown requests.
const (
	remoteAccepted   = "accepted"
	remoteInProgress = "already shutting down"
)

// ErrDispatcherStopped is returned by Listen after Stop.
var ErrDispatcherStopped = errors.New(errors.ErrCodeInternal, "signal dispatcher stopped")

// Dispatcher converts process signals, escaped faults and remote requests
// into coordinator triggers. Each signal kind is registered at most once.
type Dispatcher struct {
	coord  *Coordinator
	logger *logging.Logger

	mu       sync.Mutex
	signals  map[string]bool
	subjects map[string]bool
	sigCh    chan os.Signal
	started  bool
	stopped  bool

	stop     chan struct{}
	stopOnce sync.Once
}

// NewDispatcher creates a dispatcher feeding coord.
func NewDispatcher(coord *Coordinator) *Dispatcher {
	return &Dispatcher{
		coord:    coord,
		logger:   coord.Logger().WithComponent("dispatcher"),
		signals:  make(map[string]bool),
		subjects: make(map[string]bool),
		sigCh:    make(chan os.Signal, 4),
		stop:     make(chan struct{}),
	}
}

// Listen registers signal handlers. With no arguments it registers the
// platform's termination signals. Signals already registered are skipped.
// A stopped dispatcher registers nothing and returns ErrDispatcherStopped.
func (d *Dispatcher) Listen(sigs ...os.Signal) error {
	if len(sigs) == 0 {
		sigs = terminationSignals()
	}

	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return ErrDispatcherStopped
	}
	var added []os.Signal
	for _, sig := range sigs {
		name := signalName(sig)
		if d.signals[name] {
			continue
		}
		d.signals[name] = true
		added = append(added, sig)
	}
	start := !d.started && len(added) > 0
	if start {
		d.started = true
	}
	d.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	signal.Notify(d.sigCh, added...)
	for _, sig := range added {
		d.logger.Debug("signal handler registered", map[string]interface{}{"signal": signalName(sig)})
	}
	if start {
		go d.loop()
	}
	return nil
}

// Registered returns the number of registered signal kinds.
func (d *Dispatcher) Registered() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.signals)
}

func (d *Dispatcher) loop() {
	for {
		select {
		case sig := <-d.sigCh:
			d.dispatch(Trigger{Name: signalName(sig), Source: SourceSignal})
		case <-d.stop:
			return
		}
	}
}

// dispatch hands t to the coordinator. A failure to initiate shutdown is a
// signal-level fault and takes the forced path.
func (d *Dispatcher) dispatch(t Trigger) (started bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("signal dispatch failed", map[string]interface{}{
				"trigger": t.Name,
				"error":   errors.Panic(r),
			})
			go d.coord.ForceShutdown(ExitSignalError)
			started = false
		}
	}()
	return d.coord.Initiate(t)
}

// Recover is deferred at the top of goroutines whose panics must not crash
// the process silently. A recovered panic initiates shutdown with the fault.
//
//	defer dispatcher.Recover()
func (d *Dispatcher) Recover() {
	if r := recover(); r != nil {
		d.Fault(errors.Panic(r))
	}
}

// Go runs fn in a goroutine guarded by Recover.
func (d *Dispatcher) Go(fn func()) {
	go func() {
		defer d.Recover()
		fn()
	}()
}

// Fault initiates shutdown for an uncaught fault.
func (d *Dispatcher) Fault(err error) bool {
	return d.dispatch(Trigger{Name: TriggerUncaughtFault, Source: SourceFault, Fault: err})
}

// Report initiates shutdown for an unobserved background failure.
func (d *Dispatcher) Report(err error) bool {
	if err == nil {
		return false
	}
	fault := errors.WrapWithCode(err, errors.ErrCodeBackground, "unobserved background failure")
	return d.dispatch(Trigger{Name: TriggerBackgroundFailure, Source: SourceFault, Fault: fault})
}

// Trigger initiates shutdown programmatically.
func (d *Dispatcher) Trigger(reason string) bool {
	return d.dispatch(Trigger{Name: reason, Source: SourceProgrammatic})
}

// WatchBus subscribes to subject and initiates shutdown for each request
// received. Requests with a reply subject are acknowledged. The subscription
// is tracked so it is released in the cleanup phase. Each subject is
// watched at most once.
func (d *Dispatcher) WatchBus(b bus.MessageBus, subject string) error {
	d.mu.Lock()
	if d.subjects[subject] {
		d.mu.Unlock()
		return nil
	}
	d.subjects[subject] = true
	d.mu.Unlock()

	sub, err := b.Subscribe(subject)
	if err != nil {
		d.mu.Lock()
		delete(d.subjects, subject)
		d.mu.Unlock()
		return fmt.Errorf("watch %s: %w", subject, err)
	}
	d.coord.Resources().Track(resources.KindSubscription,
		resources.Subscription(subject, sub.Unsubscribe))

	d.Go(func() {
		for msg := range sub.Messages() {
			name := TriggerRemoteShutdown
			if len(msg.Data) > 0 {
				name = fmt.Sprintf("%s: %s", TriggerRemoteShutdown, msg.Data)
			}
			started := d.dispatch(Trigger{Name: name, Source: SourceRemote})
			if msg.Reply == "" {
				continue
			}
			resp := remoteAccepted
			if !started {
				resp = remoteInProgress
			}
			if err := b.Publish(msg.Reply, []byte(resp)); err != nil {
				d.logger.Warn("remote shutdown reply failed", map[string]interface{}{"error": err})
			}
		}
	})
	d.logger.Info("watching for remote shutdown", map[string]interface{}{"subject": subject})
	return nil
}

// Stop unregisters signal handlers.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		d.mu.Unlock()
		signal.Stop(d.sigCh)
		close(d.stop)
	})
}
