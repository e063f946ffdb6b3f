package broker

import "sync"

// RxTracker is the per-session QoS 2 inbound de-duplication set (C8):
// packet ids the session has PUBLISHed to us and PUBRECed, but not yet
// released with PUBREL. A duplicate PUBLISH (DUP=1, same packet id)
// must be acknowledged again but never re-routed to subscribers.
type RxTracker struct {
	mu       sync.Mutex
	awaiting map[uint16]struct{}
}

func newRxTracker() *RxTracker {
	return &RxTracker{awaiting: make(map[uint16]struct{})}
}

// Accept records a newly-seen QoS 2 packet id and reports whether this
// is the first PUBLISH with that id (true: route it) or a retransmit
// already pending release (false: ack again, don't re-route).
func (t *RxTracker) Accept(packetID uint16) (firstDelivery bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, dup := t.awaiting[packetID]; dup {
		return false
	}
	t.awaiting[packetID] = struct{}{}
	return true
}

// Release clears a packet id on receipt of the client's PUBREL. Safe
// to call on an id that was never tracked (e.g. a stray PUBREL).
func (t *RxTracker) Release(packetID uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.awaiting, packetID)
}

// Count reports the number of QoS 2 deliveries awaiting PUBREL.
func (t *RxTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.awaiting)
}
