// Package metrics exposes shutdown and connection metrics for Prometheus.
//
// All Collector methods are safe to call on a nil *Collector, so components
// record metrics unconditionally.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a Prometheus registry with drainkit's metrics.
type Collector struct {
	namespace string
	registry  *prometheus.Registry

	state          *prometheus.GaugeVec
	triggers       *prometheus.CounterVec
	ignored        *prometheus.CounterVec
	drainDuration  *prometheus.HistogramVec
	forcedCloses   prometheus.Counter
	taskDuration   *prometheus.HistogramVec
	shutdownTime   prometheus.Gauge
	exitCode       prometheus.Gauge
	shutdownErrors prometheus.Gauge
	accepted       prometheus.Counter
	rejected       *prometheus.CounterVec
	removed        *prometheus.CounterVec

	gaugeOnce sync.Once
}

// NewCollector creates a collector registering metrics under namespace,
// plus the Go runtime and process collectors.
func NewCollector(namespace string) *Collector {
	c := &Collector{
		namespace: namespace,
		registry:  prometheus.NewRegistry(),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "state",
			Help:      "Current lifecycle state (1 for the active state, 0 otherwise).",
		}, []string{"state"}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "triggers_total",
			Help:      "Shutdown triggers that started a sequence.",
		}, []string{"source"}),
		ignored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "triggers_ignored_total",
			Help:      "Shutdown triggers ignored because a sequence was already running.",
		}, []string{"trigger"}),
		drainDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "duration_seconds",
			Help:      "Time spent draining connections.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"mode"}),
		forcedCloses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "drain",
			Name:      "forced_closes_total",
			Help:      "Connections force-closed after the grace period.",
		}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "task_duration_seconds",
			Help:      "Duration of cleanup and shutdown callbacks.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase", "success"}),
		shutdownTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "duration_seconds",
			Help:      "Duration of the completed shutdown sequence.",
		}),
		exitCode: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "exit_code",
			Help:      "Exit status selected by the shutdown sequence.",
		}),
		shutdownErrors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "shutdown",
			Name:      "errors",
			Help:      "Errors recorded by the shutdown sequence.",
		}),
		accepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Connections admitted and tracked.",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "Connections refused at admission.",
		}, []string{"reason"}),
		removed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "removed_total",
			Help:      "Connections removed from tracking.",
		}, []string{"reason"}),
	}

	c.registry.MustRegister(
		c.state, c.triggers, c.ignored, c.drainDuration, c.forcedCloses,
		c.taskDuration, c.shutdownTime, c.exitCode, c.shutdownErrors,
		c.accepted, c.rejected, c.removed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// TrackConnections registers a gauge reading the live connection count.
// Only the first call has effect.
func (c *Collector) TrackConnections(count func() int) {
	if c == nil {
		return
	}
	c.gaugeOnce.Do(func() {
		c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: c.namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Connections currently tracked.",
		}, func() float64 { return float64(count()) }))
	})
}

// SetState marks state as the current lifecycle state.
func (c *Collector) SetState(state string) {
	if c == nil {
		return
	}
	c.state.Reset()
	c.state.WithLabelValues(state).Set(1)
}

// Triggered counts a trigger that started the sequence.
func (c *Collector) Triggered(source string) {
	if c == nil {
		return
	}
	c.triggers.WithLabelValues(source).Inc()
}

// TriggerIgnored counts a duplicate trigger.
func (c *Collector) TriggerIgnored(trigger string) {
	if c == nil {
		return
	}
	c.ignored.WithLabelValues(trigger).Inc()
}

// ObserveDrain records a drain result.
func (c *Collector) ObserveDrain(mode string, elapsed time.Duration, forced int) {
	if c == nil {
		return
	}
	c.drainDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
	c.forcedCloses.Add(float64(forced))
}

// ObserveTask records one cleanup or shutdown callback.
func (c *Collector) ObserveTask(phase string, success bool, d time.Duration) {
	if c == nil {
		return
	}
	c.taskDuration.WithLabelValues(phase, strconv.FormatBool(success)).Observe(d.Seconds())
}

// ObserveShutdown records the completed sequence.
func (c *Collector) ObserveShutdown(d time.Duration, exitCode, errCount int) {
	if c == nil {
		return
	}
	c.shutdownTime.Set(d.Seconds())
	c.exitCode.Set(float64(exitCode))
	c.shutdownErrors.Set(float64(errCount))
}

// ConnectionAccepted counts an admitted connection.
func (c *Collector) ConnectionAccepted() {
	if c == nil {
		return
	}
	c.accepted.Inc()
}

// ConnectionRejected counts a refused connection.
func (c *Collector) ConnectionRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

// ConnectionRemoved counts a connection leaving the registry.
func (c *Collector) ConnectionRemoved(reason string) {
	if c == nil {
		return
	}
	c.removed.WithLabelValues(reason).Inc()
}
