// Package server adapts net/http to the shutdown coordinator: connections
// are admitted, tracked and drained through the coordinator's registry.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/vinayprograms/drainkit/conntrack"
	dkerrors "github.com/vinayprograms/drainkit/errors"
	"github.com/vinayprograms/drainkit/logging"
	"github.com/vinayprograms/drainkit/metrics"
	"github.com/vinayprograms/drainkit/shutdown"
)

// Config configures the server.
type Config struct {
	// Addr is the listen address.
	// Default: ":8080"
	Addr string

	// AcceptRate is the sustained accepts per second. 0 = unlimited.
	AcceptRate float64

	// AcceptBurst is the accept burst size.
	// Default: 64
	AcceptBurst int

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds
	ReadHeaderTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:              ":8080",
		AcceptBurst:       64,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is an HTTP server whose lifecycle is owned by a coordinator.
type Server struct {
	coord    *shutdown.Coordinator
	registry *conntrack.Registry
	config   Config
	logger   *logging.Logger
	metrics  *metrics.Collector
	limiter  *rate.Limiter
	http     *http.Server

	mu        sync.Mutex
	ln        net.Listener
	listening atomic.Bool
	closed    atomic.Bool
}

// New creates a server serving handler and attaches it to coord as the
// listener closed in the stop-accept phase.
func New(coord *shutdown.Coordinator, handler http.Handler, config Config, opts ...Option) *Server {
	def := DefaultConfig()
	if config.Addr == "" {
		config.Addr = def.Addr
	}
	if config.AcceptBurst <= 0 {
		config.AcceptBurst = def.AcceptBurst
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = def.ReadHeaderTimeout
	}

	s := &Server{
		coord:    coord,
		registry: coord.Registry(),
		config:   config,
		logger:   coord.Logger().WithComponent("server"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if config.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(config.AcceptRate), config.AcceptBurst)
	}

	s.http = &http.Server{
		Addr:              config.Addr,
		Handler:           s.middleware(handler),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		ConnState:         s.connState,
	}
	coord.Attach(s)
	return s
}

// Listen binds the configured address.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	s.SetListener(ln)
	return nil
}

// SetListener uses ln instead of binding Addr.
func (s *Server) SetListener(ln net.Listener) {
	s.mu.Lock()
	s.ln = &admissionListener{Listener: ln, server: s}
	s.mu.Unlock()
	s.listening.Store(!s.closed.Load())
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Serve accepts connections until the listener is closed. It returns nil
// after a coordinated close.
func (s *Server) Serve() error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		if err := s.Listen(); err != nil {
			return err
		}
		s.mu.Lock()
		ln = s.ln
		s.mu.Unlock()
	}

	s.logger.Info("listening", map[string]interface{}{"addr": ln.Addr().String()})
	err := s.http.Serve(ln)
	if s.closed.Load() && (errors.Is(err, net.ErrClosed) || errors.Is(err, http.ErrServerClosed)) {
		return nil
	}
	return err
}

// Close stops accepting new connections. Existing connections are left to
// the drain phase; keep-alives are disabled so they close after their
// current response.
func (s *Server) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.listening.Store(false)
	s.http.SetKeepAlivesEnabled(false)

	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return nil
	}
	return ln.Close()
}

// Listening reports whether new connections are being accepted.
func (s *Server) Listening() bool {
	return s.listening.Load()
}

// Shutdown closes the listener and then every idle connection, waiting
// for active requests until ctx is done. Coordinated shutdown uses Close and
// the drain phase instead; Shutdown serves hosts without a coordinator run.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closed.Store(true)
	s.listening.Store(false)
	return s.http.Shutdown(ctx)
}

// admit decides whether a new connection may be tracked.
func (s *Server) admit() error {
	if err := s.coord.Admit(); err != nil {
		return err
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return dkerrors.New(dkerrors.ErrCodeRateLimit, "accept rate exceeded")
	}
	return nil
}

// connState maps HTTP connection states onto the registry.
func (s *Server) connState(conn net.Conn, state http.ConnState) {
	switch state {
	case http.StateNew:
		s.registry.Register(conn, conntrack.Metadata{Remote: conn.RemoteAddr().String()})
		s.metrics.ConnectionAccepted()
	case http.StateActive:
		if id, ok := s.registry.Lookup(conn); ok {
			s.registry.BeginRequest(id)
		}
	case http.StateIdle:
		if id, ok := s.registry.Lookup(conn); ok {
			s.registry.EndRequest(id)
		}
	case http.StateClosed, http.StateHijacked:
		if id, ok := s.registry.Lookup(conn); ok {
			s.registry.RemoveWithReason(id, conntrack.RemovalClosed)
		}
	}
}

// middleware answers 503 with Connection: close once shutdown has begun.
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.coord.Accepting() {
			w.Header().Set("Connection", "close")
			w.Header().Set("Retry-After", "1")
			http.Error(w, "service is shutting down", http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// admissionListener closes connections refused by admission control before
// they reach the HTTP server.
type admissionListener struct {
	net.Listener
	server *Server
}

func (l *admissionListener) Accept() (net.Conn, error) {
	for {
		conn, err := l.Listener.Accept()
		if err != nil {
			return nil, err
		}
		if err := l.server.admit(); err != nil {
			reason := string(dkerrors.Code(err))
			l.server.logger.ConnectionRejected(conn.RemoteAddr().String(), reason)
			l.server.metrics.ConnectionRejected(reason)
			conn.Close()
			continue
		}
		return conn, nil
	}
}
