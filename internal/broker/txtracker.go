package broker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nimbusmq/broker/internal/metrics"
	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// txState is where one outbound QoS 1/2 publish sits in its
// acknowledgment handshake.
type txState int

const (
	txAwaitingAck  txState = iota // QoS 1: waiting for PUBACK
	txAwaitingRec                 // QoS 2: waiting for PUBREC
	txAwaitingComp                // QoS 2: PUBREL sent, waiting for PUBCOMP
)

type txEntry struct {
	packet   *mqttpkt.PublishPacket
	state    txState
	attempts int
	timer    *time.Timer
}

// TxTracker is the per-session outbound in-flight tracker (C7): it
// owns packet-id allocation for the session, remembers every QoS 1/2
// publish awaiting acknowledgment, and drives timed retransmission
// with DUP=1 until the peer acks or the retry budget is exhausted.
type TxTracker struct {
	owner *Session

	mu      sync.Mutex
	entries map[uint16]*txEntry
	nextID  uint16

	maxInflight int
	ackTimeout  time.Duration
	maxRetries  int
}

func newTxTracker(owner *Session, maxInflight int, ackTimeout time.Duration, maxRetries int) *TxTracker {
	return &TxTracker{
		owner:       owner,
		entries:     make(map[uint16]*txEntry),
		maxInflight: maxInflight,
		ackTimeout:  ackTimeout,
		maxRetries:  maxRetries,
	}
}

// ErrInflightFull is returned by Publish when the session is already
// holding maxInflight unacknowledged QoS 1/2 messages.
var ErrInflightFull = fmt.Errorf("broker: session in-flight limit reached")

// Count reports the number of unacknowledged QoS 1/2 publishes.
func (t *TxTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// nextPacketID allocates the next free, non-zero packet id for this
// session, skipping any id currently in flight. Caller holds t.mu.
func (t *TxTracker) nextPacketID() uint16 {
	for {
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1
		}
		if _, inUse := t.entries[t.nextID]; !inUse {
			return t.nextID
		}
	}
}

// Publish sends pub to the session's connection, tracking it for
// retransmission if its QoS requires acknowledgment. QoS 0 messages
// are fire-and-forget and never tracked. pub.PacketID is assigned by
// the tracker for QoS > 0 and must be zero on entry.
func (t *TxTracker) Publish(pub *mqttpkt.PublishPacket) error {
	if pub.QoS == 0 {
		data, err := pub.Encode()
		if err != nil {
			return err
		}
		t.owner.send(data)
		return nil
	}

	t.mu.Lock()
	if t.maxInflight > 0 && len(t.entries) >= t.maxInflight {
		t.mu.Unlock()
		return ErrInflightFull
	}
	pub.PacketID = t.nextPacketID()
	state := txAwaitingAck
	if pub.QoS == 2 {
		state = txAwaitingRec
	}
	entry := &txEntry{packet: pub, state: state}
	t.entries[pub.PacketID] = entry
	entry.timer = time.AfterFunc(t.ackTimeout, func() { t.onTimeout(pub.PacketID, entry) })
	t.mu.Unlock()

	metrics.QoSMessagesInflight.WithLabelValues(qosLabel(pub.QoS)).Inc()

	data, err := pub.Encode()
	if err != nil {
		return err
	}
	t.owner.send(data)
	return nil
}

// onTimeout fires on the entry's ack-wait deadline. It resends with
// DUP=1 or, past maxRetries, abandons the message entirely per
// spec.md §5's retry-exhaustion rule.
func (t *TxTracker) onTimeout(id uint16, entry *txEntry) {
	t.mu.Lock()
	current, ok := t.entries[id]
	if !ok || current != entry {
		t.mu.Unlock()
		return // already acked or superseded
	}
	entry.attempts++
	if entry.attempts > t.maxRetries {
		delete(t.entries, id)
		t.mu.Unlock()
		metrics.QoSMessagesInflight.WithLabelValues(qosLabel(entry.packet.QoS)).Dec()
		metrics.RetransmissionsAbandoned.Inc()
		log.Printf("broker: abandoning packet %d for client %s after %d attempts", id, t.owner.ClientID, entry.attempts-1)
		return
	}
	entry.timer = time.AfterFunc(t.ackTimeout, func() { t.onTimeout(id, entry) })
	t.mu.Unlock()

	switch entry.state {
	case txAwaitingAck, txAwaitingRec:
		entry.packet.Dup = true
		if data, err := entry.packet.Encode(); err == nil {
			t.owner.send(data)
		}
	case txAwaitingComp:
		rel := &mqttpkt.PubrelPacket{PacketID: id}
		if data, err := rel.Encode(); err == nil {
			t.owner.send(data)
		}
	}
}

// HandlePuback completes a QoS 1 exchange.
func (t *TxTracker) HandlePuback(id uint16) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok || entry.state != txAwaitingAck {
		t.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(t.entries, id)
	t.mu.Unlock()
	metrics.QoSMessagesInflight.WithLabelValues(qosLabel(1)).Dec()
}

// HandlePubrec advances a QoS 2 exchange to PUBREL. A PUBREC arriving
// while already awaiting PUBCOMP is treated as a hint the peer lost
// our PUBREL and is re-sent, not an error.
func (t *TxTracker) HandlePubrec(id uint16) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	if entry.state == txAwaitingRec {
		entry.timer.Stop()
		entry.state = txAwaitingComp
		entry.attempts = 0
		entry.timer = time.AfterFunc(t.ackTimeout, func() { t.onTimeout(id, entry) })
	}
	t.mu.Unlock()

	rel := &mqttpkt.PubrelPacket{PacketID: id}
	if data, err := rel.Encode(); err == nil {
		t.owner.send(data)
	}
}

// HandlePubcomp completes a QoS 2 exchange.
func (t *TxTracker) HandlePubcomp(id uint16) {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if !ok || entry.state != txAwaitingComp {
		t.mu.Unlock()
		return
	}
	entry.timer.Stop()
	delete(t.entries, id)
	t.mu.Unlock()
	metrics.QoSMessagesInflight.WithLabelValues(qosLabel(2)).Dec()
}

// RearmOnReconnect resends every unacknowledged entry with DUP=1 and
// schedules a fresh ack-wait timer for it, used when a
// clean_session=false client reconnects and the session (and its
// in-flight state) survives per spec.md §3. Suspend stopped each
// entry's timer without clearing it; without a fresh timer here, a
// resend lost on the wire would never retry, time out, or count
// toward pub_max_retries again.
func (t *TxTracker) RearmOnReconnect() {
	t.mu.Lock()
	pending := make([]*txEntry, 0, len(t.entries))
	for id, e := range t.entries {
		e.timer.Stop()
		e.timer = time.AfterFunc(t.ackTimeout, func() { t.onTimeout(id, e) })
		pending = append(pending, e)
	}
	t.mu.Unlock()

	for _, entry := range pending {
		switch entry.state {
		case txAwaitingAck, txAwaitingRec:
			entry.packet.Dup = true
			if data, err := entry.packet.Encode(); err == nil {
				t.owner.send(data)
			}
		case txAwaitingComp:
			rel := &mqttpkt.PubrelPacket{PacketID: entry.packet.PacketID}
			if data, err := rel.Encode(); err == nil {
				t.owner.send(data)
			}
		}
	}
}

// Close stops every pending retransmission timer and discards all
// in-flight state, used when a session is destroyed outright
// (clean_session=true teardown).
func (t *TxTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, entry := range t.entries {
		entry.timer.Stop()
		metrics.QoSMessagesInflight.WithLabelValues(qosLabel(entry.packet.QoS)).Dec()
		delete(t.entries, id)
	}
}

// Suspend stops every pending retransmission timer but keeps the
// in-flight entries themselves, used when a clean_session=false
// client disconnects: nothing to resend to until it reconnects and
// calls RearmOnReconnect.
func (t *TxTracker) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, entry := range t.entries {
		entry.timer.Stop()
	}
}

func qosLabel(qos byte) string {
	switch qos {
	case 1:
		return "1"
	case 2:
		return "2"
	default:
		return "0"
	}
}
