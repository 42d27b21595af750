// Package registry implements the connection registry: a
// mutex-guarded tracking table used to bulk-cancel live connections on
// shutdown and to report the current inbound connection count.
package registry

import (
	"net"
	"sync"
)

// Registry tracks live connections so an owning engine can close them all
// at once on Stop(), without each protocol handler needing its own
// shutdown plumbing.
type Registry struct {
	mu   sync.Mutex
	conn map[net.Conn]bool // true = inbound (client-facing)
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{conn: make(map[net.Conn]bool)}
}

// Track registers c as live. inbound marks whether c is the client-facing
// side of a session (counted by InboundCount) as opposed to an outbound
// dial to a remote target.
func (r *Registry) Track(c net.Conn, inbound bool) {
	r.mu.Lock()
	r.conn[c] = inbound
	r.mu.Unlock()
}

// Untrack removes c from the table. Safe to call more than once, or for a
// connection never tracked.
func (r *Registry) Untrack(c net.Conn) {
	r.mu.Lock()
	delete(r.conn, c)
	r.mu.Unlock()
}

// CloseAll closes every tracked connection and empties the table. It takes
// a snapshot under the lock then closes outside it, so a handler's own
// Untrack call racing with CloseAll never deadlocks.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	snapshot := make([]net.Conn, 0, len(r.conn))
	for c := range r.conn {
		snapshot = append(snapshot, c)
	}
	r.conn = make(map[net.Conn]bool)
	r.mu.Unlock()

	for _, c := range snapshot {
		_ = c.Close()
	}
}

// InboundCount returns the number of currently tracked inbound (client-
// facing) connections.
func (r *Registry) InboundCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, inbound := range r.conn {
		if inbound {
			n++
		}
	}
	return n
}

// Len returns the total number of tracked connections, inbound and
// outbound combined.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conn)
}
