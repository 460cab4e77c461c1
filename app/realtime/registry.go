package realtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	reasonSuperseded = "superseded by a newer connection"
	reasonShutdown   = "server shutting down"
)

var liveConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "realtime_live_connections",
	Help: "Users currently holding a live realtime connection",
})

// Conn is one live connection as seen by the registry and the router
type Conn interface {
	UserID() uint
	// Send queues a frame without blocking and reports whether it was accepted
	Send(f OutboundFrame) bool
	Close(reason string)
}

// Registry maps a user to their single live connection
type Registry struct {
	mu    sync.RWMutex
	conns map[uint]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[uint]Conn)}
}

// Register makes c the user's live connection. A previous connection of the same
// user is closed and returned.
func (r *Registry) Register(c Conn) Conn {
	r.mu.Lock()
	prev := r.conns[c.UserID()]
	r.conns[c.UserID()] = c
	n := len(r.conns)
	r.mu.Unlock()

	liveConnections.Set(float64(n))
	if prev != nil && prev != c {
		prev.Close(reasonSuperseded)
		return prev
	}
	return nil
}

// Unregister removes c only while it is still the registered connection of its user.
// A late close of a superseded connection is a no-op.
func (r *Registry) Unregister(c Conn) bool {
	r.mu.Lock()
	removed := false
	if cur, ok := r.conns[c.UserID()]; ok && cur == c {
		delete(r.conns, c.UserID())
		removed = true
	}
	n := len(r.conns)
	r.mu.Unlock()

	liveConnections.Set(float64(n))
	return removed
}

// Lookup returns the user's live connection. ok is false when the user is offline.
func (r *Registry) Lookup(userID uint) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// CloseAll closes every live connection, used on shutdown
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	conns := make([]Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.mu.RUnlock()

	for _, c := range conns {
		c.Close(reason)
	}
}
