package conntrack

import (
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/drainkit/logging"
)

// RemovalReason describes why a record left the registry.
type RemovalReason string

const (
	RemovalClosed RemovalReason = "closed"       // transport closed normally
	RemovalError  RemovalReason = "error"        // transport reported an error
	RemovalIdle   RemovalReason = "idle_timeout" // idle timeout fired
	RemovalForced RemovalReason = "forced"       // ForceCloseAll
)

// Metadata is caller-supplied information stored with a record.
type Metadata struct {
	// Remote is the remote endpoint. Defaults to conn.RemoteAddr().
	Remote string

	// Labels are free-form annotations (e.g. listener name).
	Labels map[string]string
}

// Info is a point-in-time snapshot of one tracked connection.
type Info struct {
	ID           uint64            `json:"id"`
	Remote       string            `json:"remote"`
	CreatedAt    time.Time         `json:"created_at"`
	LastActivity time.Time         `json:"last_activity"`
	Requests     int64             `json:"requests"`
	InFlight     int               `json:"in_flight"`
	Age          time.Duration     `json:"age"`
	Labels       map[string]string `json:"labels,omitempty"`
}

// Removal is delivered to OnRemove listeners.
type Removal struct {
	ID        uint64
	Remote    string
	Reason    RemovalReason
	Remaining int
}

// Config configures a Registry.
type Config struct {
	// IdleTimeout force-closes a connection with no activity for this long.
	// The clock is suspended between BeginRequest and EndRequest.
	// Zero disables idle timeouts. Default: 30 seconds.
	IdleTimeout time.Duration
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: 30 * time.Second,
	}
}

type record struct {
	id           uint64
	conn         net.Conn
	meta         Metadata
	createdAt    time.Time
	lastActivity time.Time
	requests     int64
	inFlight     int
	timer        *time.Timer
}

// Registry tracks live connections. It is safe for concurrent use.
type Registry struct {
	config Config
	logger *logging.Logger
	nextID atomic.Uint64

	mu      sync.Mutex
	records map[uint64]*record
	byConn  map[net.Conn]uint64

	lmu          sync.RWMutex
	listeners    map[uint64]func(Removal)
	nextListener uint64

	now func() time.Time
}

// New creates an empty registry. A nil logger discards output.
func New(config Config, logger *logging.Logger) *Registry {
	if config.IdleTimeout < 0 {
		config.IdleTimeout = 0
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &Registry{
		config:    config,
		logger:    logger.WithComponent("conntrack"),
		records:   make(map[uint64]*record),
		byConn:    make(map[net.Conn]uint64),
		listeners: make(map[uint64]func(Removal)),
		now:       time.Now,
	}
}

// Register starts tracking conn and arms its idle timeout.
func (r *Registry) Register(conn net.Conn, meta Metadata) uint64 {
	id := r.nextID.Add(1)
	now := r.now()

	if meta.Remote == "" && conn != nil && conn.RemoteAddr() != nil {
		meta.Remote = conn.RemoteAddr().String()
	}

	rec := &record{
		id:           id,
		conn:         conn,
		meta:         meta,
		createdAt:    now,
		lastActivity: now,
	}

	r.mu.Lock()
	r.records[id] = rec
	if conn != nil {
		r.byConn[conn] = id
	}
	if r.config.IdleTimeout > 0 {
		rec.timer = time.AfterFunc(r.config.IdleTimeout, func() { r.expire(id) })
	}
	size := len(r.records)
	r.mu.Unlock()

	r.logger.Debug("connection_registered", map[string]interface{}{
		"id":     id,
		"remote": meta.Remote,
		"size":   size,
	})
	return id
}

// Touch records a request on id and re-arms its idle timeout.
// Unknown ids are ignored.
func (r *Registry) Touch(id uint64) {
	r.activity(id, true)
}

// Activity records non-request activity on id (for example a keep-alive
// connection returning to idle) and re-arms its idle timeout.
func (r *Registry) Activity(id uint64) {
	r.activity(id, false)
}

func (r *Registry) activity(id uint64, request bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.lastActivity = r.now()
	if request {
		rec.requests++
	}
	if rec.timer != nil {
		rec.timer.Reset(r.config.IdleTimeout)
	}
}

// BeginRequest records a request on id and suspends its idle timeout until
// the matching EndRequest, so a handler that outlives IdleTimeout is not
// closed under it. Unknown ids are ignored.
func (r *Registry) BeginRequest(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.lastActivity = r.now()
	rec.requests++
	rec.inFlight++
	if rec.timer != nil {
		rec.timer.Stop()
	}
}

// EndRequest marks a request begun with BeginRequest as finished. The idle
// timeout is re-armed once no request is in flight.
func (r *Registry) EndRequest(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok || rec.inFlight == 0 {
		return
	}
	rec.inFlight--
	rec.lastActivity = r.now()
	if rec.inFlight == 0 && rec.timer != nil {
		rec.timer.Reset(r.config.IdleTimeout)
	}
}

// expire runs when an idle timer fires.
func (r *Registry) expire(id uint64) {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	// Touch may have re-armed the timer while this callback waited for the lock.
	if rec.inFlight > 0 || r.now().Sub(rec.lastActivity) < r.config.IdleTimeout {
		r.mu.Unlock()
		return
	}
	r.deleteLocked(rec)
	remaining := len(r.records)
	r.mu.Unlock()

	if rec.conn != nil {
		_ = rec.conn.Close()
	}
	r.logger.Info("connection_idle_timeout", map[string]interface{}{
		"id":     id,
		"remote": rec.meta.Remote,
		"idle":   r.config.IdleTimeout,
	})
	r.notify(Removal{ID: id, Remote: rec.meta.Remote, Reason: RemovalIdle, Remaining: remaining})
}

// Remove stops tracking id after its transport closed. Calling it for an
// id that is already gone is a no-op and emits nothing.
func (r *Registry) Remove(id uint64) bool {
	return r.RemoveWithReason(id, RemovalClosed)
}

// RemoveWithReason is Remove with an explicit reason for listeners.
func (r *Registry) RemoveWithReason(id uint64, reason RemovalReason) bool {
	r.mu.Lock()
	rec, ok := r.records[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	r.deleteLocked(rec)
	remaining := len(r.records)
	r.mu.Unlock()

	r.notify(Removal{ID: id, Remote: rec.meta.Remote, Reason: reason, Remaining: remaining})
	return true
}

func (r *Registry) deleteLocked(rec *record) {
	if rec.timer != nil {
		rec.timer.Stop()
	}
	delete(r.records, rec.id)
	if rec.conn != nil {
		delete(r.byConn, rec.conn)
	}
}

// SizeLimitReached reports whether the registry holds max or more records.
// A max of zero or less means unlimited.
func (r *Registry) SizeLimitReached(max int) bool {
	if max <= 0 {
		return false
	}
	return r.Len() >= max
}

// ForceCloseAll closes every tracked transport, empties the registry and
// returns how many connections were closed.
func (r *Registry) ForceCloseAll() int {
	r.mu.Lock()
	recs := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		recs = append(recs, rec)
		if rec.timer != nil {
			rec.timer.Stop()
		}
	}
	r.records = make(map[uint64]*record)
	r.byConn = make(map[net.Conn]uint64)
	r.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].id < recs[j].id })

	for _, rec := range recs {
		if rec.conn != nil {
			if err := rec.conn.Close(); err != nil {
				r.logger.Debug("force_close_error", map[string]interface{}{
					"id":    rec.id,
					"error": err,
				})
			}
		}
	}

	if len(recs) > 0 {
		r.logger.Warn("connections_force_closed", map[string]interface{}{
			"count": len(recs),
		})
	}
	for _, rec := range recs {
		r.notify(Removal{ID: rec.id, Remote: rec.meta.Remote, Reason: RemovalForced, Remaining: 0})
	}
	return len(recs)
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Lookup returns the id tracked for conn.
func (r *Registry) Lookup(conn net.Conn) (uint64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[conn]
	return id, ok
}

// Details returns a snapshot of all tracked connections ordered by id.
func (r *Registry) Details() []Info {
	now := r.now()

	r.mu.Lock()
	infos := make([]Info, 0, len(r.records))
	for _, rec := range r.records {
		info := Info{
			ID:           rec.id,
			Remote:       rec.meta.Remote,
			CreatedAt:    rec.createdAt,
			LastActivity: rec.lastActivity,
			Requests:     rec.requests,
			InFlight:     rec.inFlight,
			Age:          now.Sub(rec.createdAt),
		}
		if len(rec.meta.Labels) > 0 {
			info.Labels = make(map[string]string, len(rec.meta.Labels))
			for k, v := range rec.meta.Labels {
				info.Labels[k] = v
			}
		}
		infos = append(infos, info)
	}
	r.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// OnRemove registers fn to be called after every removal. fn runs outside
// the registry lock on the goroutine that performed the removal and must not
// block. The returned func unregisters fn.
func (r *Registry) OnRemove(fn func(Removal)) (cancel func()) {
	r.lmu.Lock()
	r.nextListener++
	key := r.nextListener
	r.listeners[key] = fn
	r.lmu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.lmu.Lock()
			delete(r.listeners, key)
			r.lmu.Unlock()
		})
	}
}

func (r *Registry) notify(ev Removal) {
	r.lmu.RLock()
	fns := make([]func(Removal), 0, len(r.listeners))
	for _, fn := range r.listeners {
		fns = append(fns, fn)
	}
	r.lmu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}
