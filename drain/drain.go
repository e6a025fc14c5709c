// Package drain waits for tracked connections to finish once shutdown has
// begun, bounded by a grace period after which stragglers are force-closed.
package drain

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/drainkit/conntrack"
	"github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
)

// Mode describes how a drain completed.
type Mode string

const (
	// ModeNatural means every connection closed within the grace period.
	// An empty registry drains naturally with zero elapsed time.
	ModeNatural Mode = "natural"
	// ModeForced means the grace period expired and stragglers were closed.
	ModeForced Mode = "forced"
)

// Registry is the subset of the connection registry the controller needs.
type Registry interface {
	Len() int
	OnRemove(fn func(conntrack.Removal)) (cancel func())
	ForceCloseAll() int
}

var _ Registry = (*conntrack.Registry)(nil)

// Result summarizes a completed drain.
type Result struct {
	Mode         Mode          `json:"mode"`
	Elapsed      time.Duration `json:"elapsed"`
	Initial      int           `json:"initial"`
	ForcedCloses int           `json:"forced_closes"`
}

// Forced reports whether stragglers had to be force-closed.
func (r Result) Forced() bool {
	return r.Mode == ModeForced
}

// Config configures a Controller.
type Config struct {
	// GracePeriod bounds how long Drain waits for connections to close.
	// Default: 30 seconds.
	GracePeriod time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		GracePeriod: 30 * time.Second,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.GracePeriod < 0 {
		return errors.InvalidConfig("grace period must not be negative")
	}
	return nil
}

// Controller implements the bounded-wait/force-close drain protocol.
type Controller struct {
	registry Registry
	config   Config
	logger   *logging.Logger

	started  atomic.Bool
	resolved atomic.Bool
}

// New creates a Controller for registry. A nil logger discards output.
func New(registry Registry, config Config, logger *logging.Logger) *Controller {
	if config.GracePeriod <= 0 {
		config.GracePeriod = DefaultConfig().GracePeriod
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Controller{
		registry: registry,
		config:   config,
		logger:   logger.WithComponent("drain"),
	}
}

// GracePeriod returns the configured grace period.
func (c *Controller) GracePeriod() time.Duration {
	return c.config.GracePeriod
}

// Drain blocks until the registry is empty or the grace period expires.
//
// An empty registry returns immediately. Otherwise every removal
// notification re-checks the registry size; whichever of "registry empty"
// and "grace timer fired" happens first decides the result. A forced drain
// still completes, but returns a timeout-class error so the outcome records
// it as a partial failure. Cancelling ctx escalates to a forced drain.
//
// Drain runs at most once per Controller.
func (c *Controller) Drain(ctx context.Context) (Result, error) {
	if !c.started.CompareAndSwap(false, true) {
		return Result{}, errors.FromCode(errors.ErrCodeAlreadyShuttingDown,
			errors.WithPhase("drain"))
	}

	start := time.Now()

	// Subscribe before the first size check so no removal slips between them.
	kick := make(chan struct{}, 1)
	cancel := c.registry.OnRemove(func(conntrack.Removal) {
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	defer cancel()

	initial := c.registry.Len()
	if initial == 0 {
		c.resolved.Store(true)
		c.logger.Info("drain_complete", map[string]interface{}{
			"mode":    string(ModeNatural),
			"elapsed": time.Duration(0),
		})
		return Result{Mode: ModeNatural}, nil
	}

	c.logger.Info("drain_start", map[string]interface{}{
		"connections":  initial,
		"grace_period": c.config.GracePeriod,
	})

	timer := time.NewTimer(c.config.GracePeriod)
	defer timer.Stop()

	for {
		select {
		case <-kick:
			if c.registry.Len() > 0 {
				continue
			}
			if c.resolve() {
				timer.Stop()
				res := Result{Mode: ModeNatural, Elapsed: time.Since(start), Initial: initial}
				c.logger.Info("drain_complete", map[string]interface{}{
					"mode":    string(res.Mode),
					"elapsed": res.Elapsed,
				})
				return res, nil
			}

		case <-timer.C:
			return c.force(start, initial, "grace_period_expired")

		case <-ctx.Done():
			return c.force(start, initial, "context_cancelled")
		}
	}
}

func (c *Controller) resolve() bool {
	return c.resolved.CompareAndSwap(false, true)
}

func (c *Controller) force(start time.Time, initial int, reason string) (Result, error) {
	if !c.resolve() {
		return Result{Mode: ModeNatural, Elapsed: time.Since(start), Initial: initial}, nil
	}

	remaining := c.registry.Len()
	c.logger.Warn("drain_forcing", map[string]interface{}{
		"reason":    reason,
		"remaining": remaining,
	})

	n := c.registry.ForceCloseAll()
	res := Result{Elapsed: time.Since(start), Initial: initial, ForcedCloses: n}

	// Everything closed on its own while the timer fired.
	if n == 0 {
		res.Mode = ModeNatural
		return res, nil
	}

	res.Mode = ModeForced
	c.logger.Warn("drain_complete", map[string]interface{}{
		"mode":          string(res.Mode),
		"elapsed":       res.Elapsed,
		"forced_closes": n,
	})
	return res, errors.DrainTimeout(c.config.GracePeriod, n)
}
