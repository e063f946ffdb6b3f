package broker

import (
	"sort"
	"sync"

	"github.com/nimbusmq/broker/internal/metrics"
	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// MaxGrantedQoS is the highest QoS this broker ever grants a
// subscription, independent of what a client requests.
const MaxGrantedQoS = 2

// Resolved is one subscriber entitled to receive a published message,
// returned by SubscriptionRegistry.Resolve.
type Resolved struct {
	ClientID string
	QoS      byte // the subscriber's granted QoS for the matching filter
}

// SubscriptionRegistry is the broker-wide subscribe/unsubscribe table
// (C5): for every client_id, the set of (topic filter, granted QoS)
// rows currently active. Matching is linear per spec.md §4.5's
// explicit non-goal of a trie/radix index.
type SubscriptionRegistry struct {
	mu   sync.RWMutex
	rows map[string]map[string]byte // clientID -> filter -> QoS
}

// NewSubscriptionRegistry returns an empty registry.
func NewSubscriptionRegistry() *SubscriptionRegistry {
	return &SubscriptionRegistry{rows: make(map[string]map[string]byte)}
}

// Subscribe installs or replaces the given filters for clientID and
// returns one SUBACK return code per filter, in request order: the
// granted QoS (min(requested, MaxGrantedQoS)), or mqttpkt.SubackFailure
// if the filter syntax is invalid.
func (r *SubscriptionRegistry) Subscribe(clientID string, subs []mqttpkt.Subscription) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	codes := make([]byte, len(subs))
	byClient := r.rows[clientID]
	if byClient == nil {
		byClient = make(map[string]byte)
		r.rows[clientID] = byClient
	}
	for i, s := range subs {
		if !mqttpkt.ValidateTopicFilter(s.Filter) {
			codes[i] = mqttpkt.SubackFailure
			continue
		}
		granted := s.QoS
		if granted > MaxGrantedQoS {
			granted = MaxGrantedQoS
		}
		byClient[s.Filter] = granted
		codes[i] = granted
	}
	metrics.SubscriptionsActive.Set(float64(r.countLocked()))
	return codes
}

// Unsubscribe removes the given filters for clientID. Filters the
// client wasn't subscribed to are ignored, per spec.md §4.
func (r *SubscriptionRegistry) Unsubscribe(clientID string, filters []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	byClient := r.rows[clientID]
	for _, f := range filters {
		delete(byClient, f)
	}
	if len(byClient) == 0 {
		delete(r.rows, clientID)
	}
	metrics.SubscriptionsActive.Set(float64(r.countLocked()))
}

// Forget removes every subscription owned by clientID, used on session
// destruction.
func (r *SubscriptionRegistry) Forget(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, clientID)
	metrics.SubscriptionsActive.Set(float64(r.countLocked()))
}

// Resolve returns every subscriber whose filter matches topic, one row
// per client (a client with several matching filters is reported once,
// at the highest granted QoS among them, per spec.md §5's fan-out
// rule).
func (r *SubscriptionRegistry) Resolve(topic string) []Resolved {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Resolved
	for clientID, filters := range r.rows {
		best := -1
		for filter, qos := range filters {
			if mqttpkt.TopicMatch(filter, topic) && int(qos) > best {
				best = int(qos)
			}
		}
		if best >= 0 {
			out = append(out, Resolved{ClientID: clientID, QoS: byte(best)})
		}
	}
	// Deterministic order keeps tests and logs reproducible; delivery
	// order across subscribers carries no ordering guarantee per spec.
	sort.Slice(out, func(i, j int) bool { return out[i].ClientID < out[j].ClientID })
	return out
}

func (r *SubscriptionRegistry) countLocked() int {
	n := 0
	for _, filters := range r.rows {
		n += len(filters)
	}
	return n
}
