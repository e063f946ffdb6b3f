package broker

import "sync"

// ConnManager is the thread-safe live-connection registry (C4): the
// current socket for each connected client_id. It is consulted (and
// mutated) only by the dispatcher goroutine in normal operation, but
// the lock lets diagnostics (metrics, an admin endpoint) read it from
// another goroutine safely.
type ConnManager struct {
	mu    sync.RWMutex
	byID  map[string]*Connection
}

// NewConnManager returns an empty registry.
func NewConnManager() *ConnManager {
	return &ConnManager{byID: make(map[string]*Connection)}
}

// Register installs conn as the live connection for clientID and
// returns whatever connection previously held that slot, or nil. A
// non-nil return means the caller must evict the old connection
// (spec.md §4.3: a reconnecting client_id closes its predecessor).
func (m *ConnManager) Register(clientID string, conn *Connection) (previous *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous = m.byID[clientID]
	m.byID[clientID] = conn
	return previous
}

// Unregister removes clientID's entry, but only if it still points at
// conn — guards against a teardown racing a newer registration for the
// same client_id.
func (m *ConnManager) Unregister(clientID string, conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.byID[clientID] == conn {
		delete(m.byID, clientID)
	}
}

// Get returns the live connection for clientID, if any.
func (m *ConnManager) Get(clientID string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.byID[clientID]
	return c, ok
}

// Count reports the number of live, connected clients.
func (m *ConnManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// CloseAll closes every currently-registered connection, used during
// broker shutdown. Each Close triggers that connection's own teardown
// path (will publication, session suspension) through its read loop.
func (m *ConnManager) CloseAll() {
	m.mu.RLock()
	conns := make([]*Connection, 0, len(m.byID))
	for _, c := range m.byID {
		conns = append(conns, c)
	}
	m.mu.RUnlock()
	for _, c := range conns {
		c.Close()
	}
}
