package realtime

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tahcohcat/fishtrip-achievements/internal/logger"
	"github.com/tahcohcat/fishtrip-achievements/internal/models"
)

var ErrTransportClosed = errors.New("transport closed")

// Transport is one live client connection. Send must not block.
type Transport interface {
	Send(msg models.Message) error
	Close() error
}

// Filter limits which messages reach a connection. Empty sets allow all.
type Filter struct {
	Categories map[string]struct{}
	Entities   map[string]struct{}
}

// ParseFilter reads comma separated lists such as "achievement,system".
func ParseFilter(categories string, entities ...string) Filter {
	f := Filter{Categories: splitSet(categories, true)}
	if len(entities) > 0 {
		f.Entities = splitSet(strings.Join(entities, ","), false)
	}
	return f
}

func splitSet(raw string, lower bool) map[string]struct{} {
	var set map[string]struct{}
	for _, v := range strings.Split(raw, ",") {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" {
			continue
		}
		if set == nil {
			set = make(map[string]struct{})
		}
		set[v] = struct{}{}
	}
	return set
}

func (f Filter) Allows(msg models.Message) bool {
	// connected/heartbeat keep the stream alive regardless of filters
	if msg.Category() == "system" {
		return true
	}
	if len(f.Categories) > 0 {
		if _, ok := f.Categories[msg.Category()]; !ok {
			return false
		}
	}
	if len(f.Entities) > 0 {
		if entity := entityOf(msg); entity != "" {
			if _, ok := f.Entities[entity]; !ok {
				return false
			}
		}
	}
	return true
}

// entityOf reads data.entityId from pushed messages; typed payloads carry none.
func entityOf(msg models.Message) string {
	data, ok := msg.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := data["entityId"].(string)
	return id
}

type connection struct {
	id            string
	userID        string
	transport     Transport
	filter        Filter
	connectedAt   time.Time
	lastHeartbeat time.Time
}

type Options struct {
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration
	Now              func() time.Time
}

// Registry owns every live connection of this process, keyed by user.
type Registry struct {
	mu     sync.RWMutex
	conns  map[string]*connection
	byUser map[string]map[string]*connection

	timeout       time.Duration
	sweepInterval time.Duration
	now           func() time.Time
	logger        *logger.Log

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewRegistry(opts Options) *Registry {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 60 * time.Second
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		conns:         make(map[string]*connection),
		byUser:        make(map[string]map[string]*connection),
		timeout:       opts.HeartbeatTimeout,
		sweepInterval: opts.SweepInterval,
		now:           opts.Now,
		logger:        logger.New().WithField("component", "registry"),
	}
}

// Register adds a connection for userID and returns its id. A user may hold
// any number of connections at once.
func (r *Registry) Register(userID string, t Transport, f Filter) string {
	now := r.now()
	c := &connection{
		id:            uuid.NewString(),
		userID:        userID,
		transport:     t,
		filter:        f,
		connectedAt:   now,
		lastHeartbeat: now,
	}

	r.mu.Lock()
	r.conns[c.id] = c
	if r.byUser[userID] == nil {
		r.byUser[userID] = make(map[string]*connection)
	}
	r.byUser[userID][c.id] = c
	total := len(r.conns)
	r.mu.Unlock()

	r.logger.WithField("user", userID).WithField("connection", c.id).WithField("total", total).Debug("Connection registered")
	return c.id
}

// Unregister removes and closes a connection. Unknown ids are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	c := r.removeLocked(id)
	r.mu.Unlock()

	if c != nil {
		c.transport.Close()
		r.logger.WithField("user", c.userID).WithField("connection", id).Debug("Connection unregistered")
	}
}

func (r *Registry) removeLocked(id string) *connection {
	c, ok := r.conns[id]
	if !ok {
		return nil
	}
	delete(r.conns, id)
	if userConns := r.byUser[c.userID]; userConns != nil {
		delete(userConns, id)
		if len(userConns) == 0 {
			delete(r.byUser, c.userID)
		}
	}
	return c
}

// Heartbeat records liveness for a connection.
func (r *Registry) Heartbeat(id string) {
	now := r.now()
	r.mu.Lock()
	if c, ok := r.conns[id]; ok {
		c.lastHeartbeat = now
	}
	r.mu.Unlock()
}

// Deliver sends msg to every open connection of userID and returns how many
// accepted it. Connections whose send fails are evicted; the caller never
// sees the failure.
func (r *Registry) Deliver(_ context.Context, userID string, msg models.Message) int {
	r.mu.RLock()
	targets := make([]*connection, 0, len(r.byUser[userID]))
	for _, c := range r.byUser[userID] {
		targets = append(targets, c)
	}
	r.mu.RUnlock()

	reached := 0
	for _, c := range targets {
		if !c.filter.Allows(msg) {
			continue
		}
		if err := c.transport.Send(msg); err != nil {
			r.logger.WithField("user", userID).WithField("connection", c.id).WithError(err).Warn("Delivery failed, evicting connection")
			r.Unregister(c.id)
			continue
		}
		reached++
	}
	return reached
}

// Sweep evicts connections with no heartbeat within the timeout.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var stale []*connection
	for id, c := range r.conns {
		if now.Sub(c.lastHeartbeat) > r.timeout {
			stale = append(stale, r.removeLocked(id))
		}
	}
	r.mu.Unlock()

	for _, c := range stale {
		c.transport.Close()
		r.logger.WithField("user", c.userID).WithField("connection", c.id).Info("Evicted stale connection")
	}
	return len(stale)
}

func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if userID == "" {
		return len(r.conns)
	}
	return len(r.byUser[userID])
}

// Start runs the periodic sweep until Stop or ctx is done.
func (r *Registry) Start(ctx context.Context) {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cancel != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.Sweep(r.now())
			}
		}
	}(r.done)
}

// Stop halts the sweep and closes every remaining connection.
func (r *Registry) Stop() {
	r.runMu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.runMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	r.mu.Lock()
	all := make([]*connection, 0, len(r.conns))
	for id := range r.conns {
		all = append(all, r.removeLocked(id))
	}
	r.mu.Unlock()

	for _, c := range all {
		c.transport.Close()
	}
}
