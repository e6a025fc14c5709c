// Package logging provides the structured reporting sink used by every
// drainkit component. It accepts (severity, message, fields) and never
// returns an error to the caller; output goes through zap, optionally into a
// size-rotated file.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a level name (case-insensitive) to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("not a valid level: %q", s)
}

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Config configures a Logger built with Open.
type Config struct {
	// Level is the minimum level emitted. Default: INFO.
	Level Level

	// Format is "json" or "console". Default: json.
	Format string

	// File, when set, sends output to a rotating file instead of stdout.
	File string

	// MaxSizeMB is the size at which the file is rotated. Default: 100.
	MaxSizeMB int

	// MaxBackups is the number of rotated files kept. Default: 3.
	MaxBackups int

	// MaxAgeDays is how long rotated files are kept (0 keeps them forever).
	MaxAgeDays int

	// Compress gzips rotated files.
	Compress bool
}

// Logger provides structured logging. Child loggers created with
// WithComponent or WithTraceID share the parent's level.
type Logger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	out       zapcore.WriteSyncer
	format    string
	closer    io.Closer
	component string
	traceID   string
}

// New creates a Logger writing JSON to stdout at INFO.
func New() *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(zapcore.InfoLevel),
		out:    zapcore.Lock(os.Stdout),
		format: "json",
	}
	l.build()
	return l
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return &Logger{
		zl:    zap.NewNop(),
		level: zap.NewAtomicLevelAt(zapcore.ErrorLevel),
		out:   zapcore.AddSync(io.Discard),
	}
}

// Open builds a Logger from cfg. When cfg.File is set the output is a
// lumberjack rotating file which is closed by Close.
func Open(cfg Config) *Logger {
	l := &Logger{
		level:  zap.NewAtomicLevelAt(cfg.Level.zap()),
		format: cfg.Format,
	}
	if cfg.File != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		l.out = zapcore.AddSync(rotator)
		l.closer = rotator
	} else {
		l.out = zapcore.Lock(os.Stdout)
	}
	l.build()
	return l
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (l *Logger) build() {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02T15:04:05.000Z07:00")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.EncodeDuration = zapcore.StringDurationEncoder

	var enc zapcore.Encoder
	if l.format == "console" {
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	zl := zap.New(zapcore.NewCore(enc, l.out, l.level))
	if l.component != "" {
		zl = zl.With(zap.String("component", l.component))
	}
	if l.traceID != "" {
		zl = zl.With(zap.String("trace_id", l.traceID))
	}
	l.zl = zl
}

func (l *Logger) child() *Logger {
	return &Logger{
		level:     l.level,
		out:       l.out,
		format:    l.format,
		component: l.component,
		traceID:   l.traceID,
	}
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.child()
	c.component = component
	c.build()
	return c
}

// WithTraceID returns a new logger with the given trace ID.
func (l *Logger) WithTraceID(traceID string) *Logger {
	c := l.child()
	c.traceID = traceID
	c.build()
	return c
}

// WithContext returns a logger annotated with the trace and span of the
// OpenTelemetry span carried by ctx. Without a valid span it returns l.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return l
	}
	c := l.WithTraceID(sc.TraceID().String())
	c.zl = c.zl.With(zap.String("span_id", sc.SpanID().String()))
	return c
}

// SetLevel sets the minimum log level. It affects every logger derived from
// the same root.
func (l *Logger) SetLevel(level Level) {
	l.level.SetLevel(level.zap())
}

// Level returns the current minimum level.
func (l *Logger) Level() Level {
	switch l.level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	default:
		return LevelInfo
	}
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.out = zapcore.AddSync(w)
	l.build()
}

// Sync flushes buffered output. Errors are swallowed; stdout and pipes
// commonly reject fsync.
func (l *Logger) Sync() {
	_ = l.zl.Sync()
}

// Close flushes and closes a rotating file, if any.
func (l *Logger) Close() error {
	l.Sync()
	if l.closer != nil {
		return l.closer.Close()
	}
	return nil
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// toZap converts a field map to zap fields in key order.
func toZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		switch v := fields[k].(type) {
		case error:
			out = append(out, zap.String(k, v.Error()))
		case time.Duration:
			out = append(out, zap.String(k, v.String()))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}

func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if l == nil || l.zl == nil {
		return
	}
	defer func() {
		// A failing writer must never take the caller down.
		_ = recover()
	}()

	var zf []zap.Field
	if len(fields) > 0 && fields[0] != nil {
		zf = toZap(fields[0])
	}

	switch level {
	case LevelDebug:
		l.zl.Debug(msg, zf...)
	case LevelWarn:
		l.zl.Warn(msg, zf...)
	case LevelError:
		l.zl.Error(msg, zf...)
	default:
		l.zl.Info(msg, zf...)
	}
}

// --- Lifecycle-derived logging methods ---

// StateChange logs a shutdown state transition.
func (l *Logger) StateChange(from, to string) {
	l.Info("state_change", map[string]interface{}{
		"from": from,
		"to":   to,
	})
}

// PhaseStart logs the start of a shutdown phase.
func (l *Logger) PhaseStart(phase string) {
	l.Debug("phase_start", map[string]interface{}{
		"phase": phase,
	})
}

// PhaseComplete logs the completion of a shutdown phase.
func (l *Logger) PhaseComplete(phase string, duration time.Duration, errCount int) {
	fields := map[string]interface{}{
		"phase":    phase,
		"duration": duration,
		"errors":   errCount,
	}
	if errCount > 0 {
		l.Warn("phase_complete", fields)
		return
	}
	l.Info("phase_complete", fields)
}

// ConnectionRejected logs a refused connection.
func (l *Logger) ConnectionRejected(remote, reason string) {
	l.Warn("connection_rejected", map[string]interface{}{
		"remote": remote,
		"reason": reason,
	})
}

// TriggerIgnored logs a trigger that arrived after shutdown began.
func (l *Logger) TriggerIgnored(trigger, state string) {
	l.Info("shutdown already in progress, ignoring trigger", map[string]interface{}{
		"trigger": trigger,
		"state":   state,
	})
}
