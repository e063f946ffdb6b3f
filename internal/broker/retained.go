package broker

import (
	"sync"

	"github.com/nimbusmq/broker/internal/metrics"
	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// RetainedStore is the single-topic-slot retained-message table (C9):
// one application message per topic, replaced on every retained
// PUBLISH and deleted by a retained PUBLISH with an empty payload.
//
// Only the dispatcher goroutine touches this in production use, but
// the mutex keeps it safe for direct use from tests and for the
// metrics gauge read on a separate goroutine.
type RetainedStore struct {
	mu       sync.RWMutex
	messages map[string]*mqttpkt.PublishPacket
}

// NewRetainedStore returns an empty retained store.
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{messages: make(map[string]*mqttpkt.PublishPacket)}
}

// Retain stores or clears the retained message for pub.Topic, per
// spec.md §3: an empty payload deletes the slot instead of storing it.
func (r *RetainedStore) Retain(pub *mqttpkt.PublishPacket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(pub.Payload) == 0 {
		delete(r.messages, pub.Topic)
	} else {
		cp := *pub
		cp.Retain = true
		cp.Dup = false
		r.messages[pub.Topic] = &cp
	}
	metrics.RetainedMessages.Set(float64(len(r.messages)))
}

// MatchAll returns the retained messages whose topic matches filter,
// one per matching topic, for delivery to a client that just
// subscribed to filter.
func (r *RetainedStore) MatchAll(filter string) []*mqttpkt.PublishPacket {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*mqttpkt.PublishPacket
	for topic, pub := range r.messages {
		if mqttpkt.TopicMatch(filter, topic) {
			out = append(out, pub)
		}
	}
	return out
}

// Size reports the number of topics currently holding a retained
// message.
func (r *RetainedStore) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}
