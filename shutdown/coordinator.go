package shutdown

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/vinayprograms/drainkit/conntrack"
	"github.com/vinayprograms/drainkit/drain"
	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/metrics"
	"github.com/vinayprograms/drainkit/resources"
	"github.com/vinayprograms/drainkit/telemetry"
)

// Phase names used in logs, spans and errors.
const (
	PhaseStopAccept = "stop_accept"
	PhaseDrain      = "drain"
	PhaseCleanup    = "cleanup"
	PhaseCallbacks  = "callbacks"
)

// announceTimeout bounds a single lifecycle announcement.
const announceTimeout = time.Second

// Coordinator runs the shutdown sequence exactly once per process.
type Coordinator struct {
	config    Config
	registry  *conntrack.Registry
	tracker   *resources.Tracker
	drainer   *drain.Controller
	logger    *logging.Logger
	tracer    *telemetry.Tracer
	metrics   *metrics.Collector
	announcer Announcer
	exit      func(code int)
	instance  string
	created   time.Time

	state     atomic.Int32
	triggered atomic.Bool
	forced    atomic.Bool

	mu        sync.Mutex
	listener  Listener
	trigger   Trigger
	runID     string
	startedAt time.Time
	shutdown  []registration
	cleanup   []registration
	outcome   *Outcome

	done       chan struct{}
	finishOnce sync.Once
	forceOnce  sync.Once
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithListener attaches the listener to close in the stop-accept phase.
func WithListener(l Listener) Option {
	return func(c *Coordinator) { c.listener = l }
}

// WithTracer sets the tracer used for shutdown and phase spans.
func WithTracer(t *telemetry.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithAnnouncer publishes state transitions and the final outcome.
func WithAnnouncer(a Announcer) Option {
	return func(c *Coordinator) { c.announcer = a }
}

// WithExitFunc replaces os.Exit. Tests use it to observe the exit status.
func WithExitFunc(fn func(code int)) Option {
	return func(c *Coordinator) { c.exit = fn }
}

// WithInstance sets the instance identifier used in announcements.
func WithInstance(id string) Option {
	return func(c *Coordinator) { c.instance = id }
}

// New creates a coordinator that owns a connection registry, a resource
// tracker and a drain controller.
func New(config Config, opts ...Option) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	def := DefaultConfig()
	if config.GracePeriod == 0 {
		config.GracePeriod = def.GracePeriod
	}
	if config.ForceTimeout == 0 {
		config.ForceTimeout = def.ForceTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = def.IdleTimeout
	}
	if config.ServiceName == "" {
		config.ServiceName = def.ServiceName
	}

	c := &Coordinator{
		config:  config,
		exit:    os.Exit,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logging.New()
	}
	if c.tracer == nil {
		c.tracer = telemetry.GetTracer()
	}
	if c.instance == "" {
		c.instance, _ = os.Hostname()
	}

	c.registry = conntrack.New(conntrack.Config{IdleTimeout: config.IdleTimeout},
		c.logger.WithComponent("conntrack"))
	c.tracker = resources.NewTracker(c.logger.WithComponent("resources"))
	c.drainer = drain.New(c.registry, drain.Config{GracePeriod: config.GracePeriod},
		c.logger.WithComponent("drain"))

	c.state.Store(int32(StateActive))
	c.metrics.SetState(StateActive.String())
	c.metrics.TrackConnections(c.registry.Len)
	c.registry.OnRemove(func(r conntrack.Removal) {
		c.metrics.ConnectionRemoved(string(r.Reason))
	})
	return c, nil
}

// Registry returns the connection registry for the request path.
func (c *Coordinator) Registry() *conntrack.Registry { return c.registry }

// Resources returns the resource tracker.
func (c *Coordinator) Resources() *resources.Tracker { return c.tracker }

// Logger returns the coordinator's logger.
func (c *Coordinator) Logger() *logging.Logger { return c.logger }

// Config returns the effective configuration.
func (c *Coordinator) Config() Config { return c.config }

// Attach sets the listener closed in the stop-accept phase. It is a no-op
// once shutdown has been triggered.
func (c *Coordinator) Attach(l Listener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.triggered.Load() {
		return
	}
	c.listener = l
}

// OnShutdown registers a user callback that runs concurrently with all
// other user callbacks after resource cleanup.
func (c *Coordinator) OnShutdown(name string, fn Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdown = append(c.shutdown, registration{name: name, fn: fn})
}

// OnResourceCleanup registers a resource-cleanup callback that runs in the
// cleanup phase alongside tracked resource release.
func (c *Coordinator) OnResourceCleanup(name string, fn Callback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanup = append(c.cleanup, registration{name: name, fn: fn})
}

// State returns the current state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Accepting reports whether new connections should be admitted.
func (c *Coordinator) Accepting() bool {
	return !c.triggered.Load() && c.State() == StateActive
}

// Admit reports whether a new connection may be tracked. It returns a typed
// admission error when the coordinator is shutting down or at capacity.
func (c *Coordinator) Admit() error {
	if !c.Accepting() {
		return errors.ShuttingDown()
	}
	if c.registry.SizeLimitReached(c.config.MaxConnections) {
		return errors.Capacity(c.config.MaxConnections)
	}
	return nil
}

// Done returns a channel closed when the sequence has produced an outcome.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the final outcome, or nil while shutdown is incomplete.
func (c *Coordinator) Outcome() *Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.outcome == nil {
		return nil
	}
	o := c.outcome.clone()
	return &o
}

// Wait blocks until the outcome is available or ctx is done.
func (c *Coordinator) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-c.done:
		return c.Outcome(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown requests shutdown programmatically.
func (c *Coordinator) Shutdown(reason string) bool {
	return c.Initiate(Trigger{Name: reason, Source: SourceProgrammatic})
}

// Initiate starts the shutdown sequence in its own goroutine. Only the first
// call has effect; later calls are logged and ignored. Returns true if this
// call started the sequence.
func (c *Coordinator) Initiate(t Trigger) bool {
	if !c.triggered.CompareAndSwap(false, true) {
		c.logger.TriggerIgnored(t.String(), c.State().String())
		c.metrics.TriggerIgnored(t.Name)
		return false
	}

	c.mu.Lock()
	c.trigger = t
	c.runID = uuid.New().String()
	c.startedAt = time.Now()
	c.mu.Unlock()

	fields := map[string]interface{}{
		"trigger": t.Name,
		"source":  string(t.Source),
		"run_id":  c.runID,
	}
	if t.Fault != nil {
		fields["error"] = t.Fault
		c.logger.Error("shutdown triggered by fault", fields)
	} else {
		c.logger.Info("shutdown triggered", fields)
	}
	c.metrics.Triggered(string(t.Source))

	c.transition(StatePending)
	go c.run()
	return true
}

// transition advances the state. Backward or repeated moves are refused.
func (c *Coordinator) transition(to State) bool {
	for {
		cur := State(c.state.Load())
		if to <= cur {
			return false
		}
		if c.state.CompareAndSwap(int32(cur), int32(to)) {
			c.logger.StateChange(cur.String(), to.String())
			c.metrics.SetState(to.String())
			c.announce(to, nil)
			return true
		}
	}
}

// run executes the shutdown phases in order.
func (c *Coordinator) run() {
	defer func() {
		if r := recover(); r != nil {
			err := errors.New(errors.ErrCodeSequenceFault, fmt.Sprintf("shutdown sequence fault: %v", r),
				errors.WithCause(errors.Panic(r)))
			c.logger.Error("shutdown sequence failed, forcing exit", map[string]interface{}{
				"error": err,
				"state": c.State().String(),
			})
			c.ForceShutdown(ExitSignalError)
		}
	}()

	c.mu.Lock()
	t, runID, started := c.trigger, c.runID, c.startedAt
	c.mu.Unlock()

	ctx, span := c.tracer.StartShutdownSpan(context.Background(), runID, t.Name, string(t.Source))
	var errs []error
	if t.Fault != nil {
		errs = append(errs, errors.WrapWithCode(t.Fault, errors.ErrCodeUncaughtFault,
			"shutdown triggered by uncaught fault"))
	}

	c.stopAccepting(ctx)

	c.transition(StateDraining)
	res, drainErr := c.drainPhase(ctx)
	if drainErr != nil {
		errs = append(errs, drainErr)
	}

	c.transition(StateCleanup)
	cleanupErrs, cleanupResults := c.cleanupPhase(ctx)
	errs = append(errs, cleanupErrs...)

	cbErrs, cbResults := c.callbackPhase(ctx)
	errs = append(errs, cbErrs...)

	c.transition(StateTerminated)
	outcome := Outcome{
		RunID:            runID,
		Trigger:          t.Name,
		Source:           t.Source,
		StartedAt:        started,
		Duration:         time.Since(started),
		Errors:           errs,
		ErrorCount:       len(errs),
		FinalConnections: c.registry.Len(),
		Drain:            res,
		ForcedCloses:     res.ForcedCloses,
		Callbacks:        append(cleanupResults, cbResults...),
		ExitCode:         selectExitCode(errs),
	}
	c.tracer.EndShutdownSpan(span, telemetry.ShutdownSpanOptions{
		ExitCode:         outcome.ExitCode,
		ErrorCount:       outcome.ErrorCount,
		FinalConnections: outcome.FinalConnections,
		ForcedCloses:     outcome.ForcedCloses,
		DrainMode:        string(res.Mode),
	}, outcome.Err())
	c.terminate(ctx, outcome)
}

// stopAccepting closes the listener. Close errors are logged but do not
// fail the sequence.
func (c *Coordinator) stopAccepting(ctx context.Context) {
	ctx, span := c.tracer.StartPhaseSpan(ctx, PhaseStopAccept)
	log := c.logger.WithContext(ctx)
	start := time.Now()
	log.PhaseStart(PhaseStopAccept)

	c.mu.Lock()
	l := c.listener
	c.mu.Unlock()

	var err error
	if l == nil {
		log.Debug("no listener attached")
	} else if cerr := l.Close(); cerr != nil {
		err = errors.WrapWithCode(cerr, errors.ErrCodeListenerClose, "listener close reported an error",
			errors.WithPhase(PhaseStopAccept))
		log.Warn("listener close reported an error", map[string]interface{}{
			"error": err,
			"code":  string(errors.ErrCodeListenerClose),
		})
	}
	log.PhaseComplete(PhaseStopAccept, time.Since(start), 0)
	c.tracer.EndPhaseSpan(span, telemetry.PhaseSpanOptions{Phase: PhaseStopAccept}, err)
}

// drainPhase waits for tracked connections to close within the grace period.
func (c *Coordinator) drainPhase(ctx context.Context) (drain.Result, error) {
	ctx, span := c.tracer.StartPhaseSpan(ctx, PhaseDrain)
	log := c.logger.WithContext(ctx)
	log.PhaseStart(PhaseDrain)

	res, err := c.drainer.Drain(ctx)
	errCount := 0
	if err != nil {
		errCount = 1
	}
	log.PhaseComplete(PhaseDrain, res.Elapsed, errCount)
	c.metrics.ObserveDrain(string(res.Mode), res.Elapsed, res.ForcedCloses)
	c.tracer.EndPhaseSpan(span, telemetry.PhaseSpanOptions{
		Phase:        PhaseDrain,
		Initial:      res.Initial,
		ForcedCloses: res.ForcedCloses,
		Mode:         string(res.Mode),
	}, err)
	return res, err
}

// cleanupPhase releases tracked resources and runs cleanup callbacks.
func (c *Coordinator) cleanupPhase(ctx context.Context) ([]error, []HandlerResult) {
	ctx, span := c.tracer.StartPhaseSpan(ctx, PhaseCleanup)
	log := c.logger.WithContext(ctx)
	start := time.Now()
	log.PhaseStart(PhaseCleanup)

	c.mu.Lock()
	regs := append([]registration(nil), c.cleanup...)
	c.mu.Unlock()

	var (
		wg      sync.WaitGroup
		relErrs []error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		relErrs = c.tracker.ReleaseAll()
	}()
	results := c.executePhase(ctx, PhaseCleanup, regs)
	wg.Wait()

	errs := append([]error(nil), relErrs...)
	errs = append(errs, phaseErrors(results, errors.ErrCodeCleanupFailed)...)

	log.PhaseComplete(PhaseCleanup, time.Since(start), len(errs))
	c.tracer.EndPhaseSpan(span, telemetry.PhaseSpanOptions{
		Phase:      PhaseCleanup,
		Tasks:      len(regs),
		ErrorCount: len(errs),
		Errors:     errs,
	}, firstError(errs))
	return errs, results
}

// callbackPhase runs user shutdown callbacks concurrently.
func (c *Coordinator) callbackPhase(ctx context.Context) ([]error, []HandlerResult) {
	ctx, span := c.tracer.StartPhaseSpan(ctx, PhaseCallbacks)
	log := c.logger.WithContext(ctx)
	start := time.Now()
	log.PhaseStart(PhaseCallbacks)

	c.mu.Lock()
	regs := append([]registration(nil), c.shutdown...)
	c.mu.Unlock()

	results := c.executePhase(ctx, PhaseCallbacks, regs)
	errs := phaseErrors(results, errors.ErrCodeCallbackFailed)

	log.PhaseComplete(PhaseCallbacks, time.Since(start), len(errs))
	c.tracer.EndPhaseSpan(span, telemetry.PhaseSpanOptions{
		Phase:      PhaseCallbacks,
		Tasks:      len(regs),
		ErrorCount: len(errs),
		Errors:     errs,
	}, firstError(errs))
	return errs, results
}

// executePhase runs every callback concurrently and waits for all of them.
// A failing or panicking callback does not prevent the others from running.
func (c *Coordinator) executePhase(ctx context.Context, phase string, regs []registration) []HandlerResult {
	if len(regs) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.GracePeriod)
	defer cancel()
	log := c.logger.WithContext(ctx)

	results := make([]HandlerResult, len(regs))
	var wg sync.WaitGroup
	for i, reg := range regs {
		wg.Add(1)
		go func(idx int, r registration) {
			defer wg.Done()

			start := time.Now()
			err := invoke(ctx, r.fn)
			results[idx] = HandlerResult{
				Name:     r.name,
				Phase:    phase,
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				log.Warn("shutdown task failed", map[string]interface{}{
					"phase": phase,
					"task":  r.name,
					"error": err,
				})
			}
			c.metrics.ObserveTask(phase, err == nil, time.Since(start))

			if c.config.OnProgress != nil {
				c.config.OnProgress(results[idx])
			}
		}(i, reg)
	}
	wg.Wait()
	return results
}

// invoke calls fn, converting a panic into an error.
func invoke(ctx context.Context, fn Callback) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Panic(r)
		}
	}()
	return fn(ctx)
}

// phaseErrors wraps failed results with the phase's error code.
func phaseErrors(results []HandlerResult, code errors.ErrorCode) []error {
	var errs []error
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		errs = append(errs, errors.WrapWithCode(r.Err, code,
			fmt.Sprintf("%s %q failed", r.Phase, r.Name),
			errors.WithPhase(r.Phase),
			errors.WithMetadata("task", r.Name)))
	}
	return errs
}

func firstError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

// terminate records the outcome, emits the final log line and exits.
func (c *Coordinator) terminate(ctx context.Context, o Outcome) {
	log := c.logger.WithContext(ctx)
	fields := map[string]interface{}{
		"run_id":            o.RunID,
		"trigger":           o.Trigger,
		"duration":          o.Duration,
		"errors":            o.ErrorCount,
		"final_connections": o.FinalConnections,
		"forced_closes":     o.ForcedCloses,
		"drain_mode":        string(o.Drain.Mode),
		"exit_code":         o.ExitCode,
		"exit_reason":       ExitCodeName(o.ExitCode),
	}
	if o.ExitCode == ExitClean {
		log.Info("shutdown complete", fields)
	} else {
		fields["error"] = o.Err()
		log.Error("shutdown complete with errors", fields)
	}
	c.metrics.ObserveShutdown(o.Duration, o.ExitCode, o.ErrorCount)
	c.finish(o)
	c.logger.Sync()
	if c.forced.Load() {
		return
	}
	c.exit(o.ExitCode)
}

// finish publishes the outcome and releases waiters. Only the first call
// has effect.
func (c *Coordinator) finish(o Outcome) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.outcome = &o
		c.mu.Unlock()
		c.announce(StateTerminated, &o)
		close(c.done)
	})
}

// ForceShutdown skips the remaining phases: it force-closes every tracked
// connection, releases resources, and exits with status after the force
// timeout. Only the first call has effect.
func (c *Coordinator) ForceShutdown(status int) {
	c.forceOnce.Do(func() {
		c.triggered.Store(true)
		c.forced.Store(true)

		c.mu.Lock()
		t, runID, started, l := c.trigger, c.runID, c.startedAt, c.listener
		c.mu.Unlock()
		if runID == "" {
			runID = uuid.New().String()
			started = time.Now()
		}

		c.logger.Error("forced shutdown", map[string]interface{}{
			"run_id":    runID,
			"exit_code": status,
			"state":     c.State().String(),
		})

		if l != nil {
			func() {
				defer func() { _ = recover() }()
				_ = l.Close()
			}()
		}
		forced := c.registry.ForceCloseAll()
		errs := c.tracker.ReleaseAll()
		errs = append(errs, errors.New(errors.ErrCodeSequenceFault, "shutdown sequence aborted"))

		prev := State(c.state.Swap(int32(StateTerminated)))
		if prev != StateTerminated {
			c.logger.StateChange(prev.String(), StateTerminated.String())
			c.metrics.SetState(StateTerminated.String())
		}

		o := Outcome{
			RunID:            runID,
			Trigger:          t.Name,
			Source:           t.Source,
			StartedAt:        started,
			Duration:         time.Since(started),
			Errors:           errs,
			ErrorCount:       len(errs),
			FinalConnections: c.registry.Len(),
			ForcedCloses:     forced,
			ExitCode:         status,
			Forced:           true,
		}
		c.metrics.ObserveShutdown(o.Duration, o.ExitCode, o.ErrorCount)
		c.finish(o)
		c.logger.Sync()

		time.Sleep(c.config.ForceTimeout)
		c.exit(status)
	})
}

// announce publishes a lifecycle event. Failures are logged only.
func (c *Coordinator) announce(s State, o *Outcome) {
	if c.announcer == nil {
		return
	}
	c.mu.Lock()
	ev := Event{
		Service:  c.config.ServiceName,
		Instance: c.instance,
		RunID:    c.runID,
		State:    s.String(),
		Trigger:  c.trigger.Name,
		At:       time.Now(),
		Outcome:  o,
	}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := c.announcer.Announce(ctx, ev); err != nil {
		c.logger.Warn("lifecycle announcement failed", map[string]interface{}{
			"state": s.String(),
			"error": err,
		})
	}
}
