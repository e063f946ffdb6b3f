package broker

import (
	"log"
	"time"

	"github.com/nimbusmq/broker/internal/metrics"
	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// eventKind tags the messages placed in the dispatcher's mailbox.
type eventKind int

const (
	evClientConnected eventKind = iota
	evClientDisconnected
	evPacket
)

// connectInfo is the payload of an evClientConnected event. resp
// carries back whether the CONNACK should set session_present, so the
// Connection can reply only after the dispatcher has resolved any
// existing session for this client_id.
type connectInfo struct {
	conn         *Connection
	cleanSession bool
	will         *mqttpkt.PublishPacket
	resp         chan bool
}

type event struct {
	kind     eventKind
	clientID string
	conn     *Connection // set for evClientConnected/evClientDisconnected
	reason   DisconnectReason
	pkt      mqttpkt.Packet
	connect  *connectInfo
}

// DispatcherConfig carries the per-session tunables every new Session
// is built with.
type DispatcherConfig struct {
	MaxInflightMessages int
	PubAckTimeout       time.Duration
	PubMaxRetries       int
}

// Dispatcher is the single-owner mailbox actor (C6): every mutation of
// the session table, subscription registry, and retained store happens
// on its one goroutine (Run), serialized through the events channel.
// Connections never touch that state directly; they only ever enqueue
// events and receive bytes back through their own write queue
// (enqueueWrite).
type Dispatcher struct {
	cfg DispatcherConfig

	events  chan event
	subs    *SubscriptionRegistry
	retain  *RetainedStore
	conns   *ConnManager
	done    chan struct{}

	// sessions is only ever read or written from the Run goroutine.
	sessions map[string]*Session
}

// NewDispatcher builds a Dispatcher ready to Run.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		events:   make(chan event, 256),
		subs:     NewSubscriptionRegistry(),
		retain:   NewRetainedStore(),
		conns:    NewConnManager(),
		done:     make(chan struct{}),
		sessions: make(map[string]*Session),
	}
}

// Subscriptions exposes the registry for diagnostics (e.g. an admin
// surface or tests); the dispatcher goroutine remains its only writer.
func (d *Dispatcher) Subscriptions() *SubscriptionRegistry { return d.subs }

// Retained exposes the retained-message store for diagnostics.
func (d *Dispatcher) Retained() *RetainedStore { return d.retain }

// Connections exposes the live-connection registry for diagnostics.
func (d *Dispatcher) Connections() *ConnManager { return d.conns }

// CloseAllConnections closes every live connection, used by
// internal/server during graceful shutdown.
func (d *Dispatcher) CloseAllConnections() { d.conns.CloseAll() }

// Run processes events until Stop is called. It must run on its own
// goroutine for the lifetime of the broker.
func (d *Dispatcher) Run() {
	for {
		select {
		case ev := <-d.events:
			d.handle(ev)
		case <-d.done:
			return
		}
	}
}

// Stop ends Run after the current event, if any, finishes processing.
func (d *Dispatcher) Stop() { close(d.done) }

// dispatch enqueues a fire-and-forget event (packet or disconnect).
func (d *Dispatcher) dispatch(ev event) {
	select {
	case d.events <- ev:
	case <-d.done:
	}
}

// dispatchConnect enqueues a CONNECT acceptance and blocks for the
// dispatcher's session_present verdict.
func (d *Dispatcher) dispatchConnect(conn *Connection, clientID string, cleanSession bool, will *mqttpkt.PublishPacket) bool {
	resp := make(chan bool, 1)
	ev := event{
		kind:     evClientConnected,
		clientID: clientID,
		conn:     conn,
		connect:  &connectInfo{conn: conn, cleanSession: cleanSession, will: will, resp: resp},
	}
	select {
	case d.events <- ev:
	case <-d.done:
		return false
	}
	select {
	case present := <-resp:
		return present
	case <-d.done:
		return false
	}
}

func (d *Dispatcher) handle(ev event) {
	switch ev.kind {
	case evClientConnected:
		d.handleClientConnected(ev.clientID, ev.connect)
	case evClientDisconnected:
		d.handleClientDisconnected(ev.clientID, ev.conn, ev.reason)
	case evPacket:
		d.handlePacket(ev.clientID, ev.pkt)
	}
}

func (d *Dispatcher) handleClientConnected(clientID string, info *connectInfo) {
	if prev := d.conns.Register(clientID, info.conn); prev != nil && prev != info.conn {
		prev.Close()
	}

	existing, had := d.sessions[clientID]
	var sess *Session
	sessionPresent := false

	switch {
	case info.cleanSession:
		if had {
			existing.Tx.Close()
			d.subs.Forget(clientID)
		}
		sess = newSession(clientID, true, info.conn, d.cfg.MaxInflightMessages, d.cfg.PubAckTimeout, d.cfg.PubMaxRetries)
	case had:
		existing.bind(info.conn)
		existing.CleanSession = false
		sess = existing
		sessionPresent = true
	default:
		sess = newSession(clientID, false, info.conn, d.cfg.MaxInflightMessages, d.cfg.PubAckTimeout, d.cfg.PubMaxRetries)
	}

	sess.Will = info.will
	d.sessions[clientID] = sess
	metrics.ClientsConnected.Set(float64(len(d.sessions)))

	info.resp <- sessionPresent

	if sessionPresent {
		sess.Tx.RearmOnReconnect()
	}
}

func (d *Dispatcher) handleClientDisconnected(clientID string, conn *Connection, reason DisconnectReason) {
	d.conns.Unregister(clientID, conn)

	sess, ok := d.sessions[clientID]
	if !ok {
		return
	}

	// A clean_session=false client_id can reconnect before its old
	// socket's read loop has even noticed the new connection took
	// over; that stale socket's teardown then reaches this mailbox
	// strictly after the new CONNECT's evClientConnected already
	// re-bound the session to the new connection. When that happens,
	// conn no longer matches the session's live connection: the
	// client never actually disconnected, so neither the will nor the
	// Tx suspend below may run.
	if live := sess.connection(); live != nil && live != conn {
		return
	}

	if sess.Will != nil && reason.firesWill() {
		will := sess.Will
		if will.Retain {
			d.retain.Retain(will)
		}
		d.route(will, clientID)
	}

	if sess.CleanSession {
		sess.Tx.Close()
		d.subs.Forget(clientID)
		delete(d.sessions, clientID)
	} else {
		sess.Tx.Suspend()
	}
	metrics.ClientsConnected.Set(float64(len(d.sessions)))
}

func (d *Dispatcher) handlePacket(clientID string, pkt mqttpkt.Packet) {
	sess, ok := d.sessions[clientID]
	if !ok {
		return
	}
	switch p := pkt.(type) {
	case *mqttpkt.PublishPacket:
		d.handlePublish(sess, p)
	case *mqttpkt.PubackPacket:
		sess.Tx.HandlePuback(p.PacketID)
	case *mqttpkt.PubrecPacket:
		sess.Tx.HandlePubrec(p.PacketID)
	case *mqttpkt.PubrelPacket:
		d.handlePubrel(sess, p)
	case *mqttpkt.PubcompPacket:
		sess.Tx.HandlePubcomp(p.PacketID)
	case *mqttpkt.SubscribePacket:
		d.handleSubscribe(sess, p)
	case *mqttpkt.UnsubscribePacket:
		d.handleUnsubscribe(sess, p)
	case *mqttpkt.PingreqPacket:
		sendPacket(sess, &mqttpkt.PingrespPacket{})
	}
}

func (d *Dispatcher) handlePublish(sess *Session, p *mqttpkt.PublishPacket) {
	if p.QoS == 2 && !sess.Rx.Accept(p.PacketID) {
		sendPacket(sess, &mqttpkt.PubrecPacket{PacketID: p.PacketID})
		return
	}

	if p.Retain {
		d.retain.Retain(p)
	}
	d.route(p, sess.ClientID)

	switch p.QoS {
	case 1:
		sendPacket(sess, &mqttpkt.PubackPacket{PacketID: p.PacketID})
	case 2:
		sendPacket(sess, &mqttpkt.PubrecPacket{PacketID: p.PacketID})
	}
}

func (d *Dispatcher) handlePubrel(sess *Session, p *mqttpkt.PubrelPacket) {
	sess.Rx.Release(p.PacketID)
	sendPacket(sess, &mqttpkt.PubcompPacket{PacketID: p.PacketID})
}

func (d *Dispatcher) handleSubscribe(sess *Session, p *mqttpkt.SubscribePacket) {
	codes := d.subs.Subscribe(sess.ClientID, p.Subscriptions)
	sendPacket(sess, &mqttpkt.SubackPacket{PacketID: p.PacketID, ReturnCodes: codes})

	for i, s := range p.Subscriptions {
		if codes[i] == mqttpkt.SubackFailure {
			continue
		}
		for _, retained := range d.retain.MatchAll(s.Filter) {
			cp := *retained
			if cp.QoS > codes[i] {
				cp.QoS = codes[i]
			}
			cp.Dup = false
			cp.PacketID = 0
			if err := sess.Tx.Publish(&cp); err != nil {
				log.Printf("broker: retained delivery to %s dropped: %v", sess.ClientID, err)
			}
		}
	}
}

func (d *Dispatcher) handleUnsubscribe(sess *Session, p *mqttpkt.UnsubscribePacket) {
	d.subs.Unsubscribe(sess.ClientID, p.Filters)
	sendPacket(sess, &mqttpkt.UnsubackPacket{PacketID: p.PacketID})
}

// route fans pub out to every current subscriber whose filter matches
// its topic, downgrading to min(publisher QoS, subscriber granted QoS)
// per spec.md §5.
func (d *Dispatcher) route(pub *mqttpkt.PublishPacket, publisherClientID string) {
	resolved := d.subs.Resolve(pub.Topic)
	for _, r := range resolved {
		sub, ok := d.sessions[r.ClientID]
		if !ok {
			continue
		}
		qos := pub.QoS
		if r.QoS < qos {
			qos = r.QoS
		}
		cp := *pub
		cp.QoS = qos
		cp.Dup = false
		cp.PacketID = 0
		if err := sub.Tx.Publish(&cp); err != nil {
			log.Printf("broker: publish from %s to %s dropped: %v", publisherClientID, r.ClientID, err)
		}
	}
}

// sendPacket encodes and writes a server-originated packet to a
// session's current connection, counting it in the per-type sent
// metric. QoS 1/2 PUBLISH packets never go through this path — they're
// tracked via Session.Tx.Publish instead.
func sendPacket(sess *Session, pkt mqttpkt.Encodable) {
	data, err := pkt.Encode()
	if err != nil {
		log.Printf("broker: failed to encode %s for %s: %v", pkt.Type(), sess.ClientID, err)
		return
	}
	sess.send(data)
	metrics.MessagesSent.WithLabelValues(pkt.Type().String()).Inc()
}
