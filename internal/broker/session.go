// Package broker implements the dispatcher/session manager core of the
// MQTT broker (components C3 through C9 of spec.md): the per-connection
// state machine, the connection manager, the subscription registry, the
// single-owner dispatcher, the QoS 1/2 in-flight trackers, and the
// retained-message store.
package broker

import (
	"time"
	"weak"

	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// DisconnectReason identifies why a connection entered the Closing
// state; every reason but ReasonClientDisconnect triggers the
// will-publication path (spec.md §7).
type DisconnectReason int

const (
	ReasonClientDisconnect DisconnectReason = iota
	ReasonProtocolViolation
	ReasonKeepAliveTimeout
	ReasonNetworkOrServerFailure
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonClientDisconnect:
		return "client_disconnect"
	case ReasonProtocolViolation:
		return "protocol_violation"
	case ReasonKeepAliveTimeout:
		return "keep_alive_timeout_expired"
	case ReasonNetworkOrServerFailure:
		return "network_or_server_failure"
	default:
		return "unknown"
	}
}

// firesWill reports whether a teardown with this reason should route
// the session's last will, per spec.md §7: every reason except a
// graceful client_disconnect does.
func (r DisconnectReason) firesWill() bool { return r != ReasonClientDisconnect }

// Session is the broker-side per-client state (spec.md §3's
// client_session): subscriptions live in the shared SubscriptionRegistry
// keyed by ClientID, so the Session itself only holds what's specific
// to one client's connection lifecycle.
//
// connRef is a weak.Pointer to the live Connection, per spec.md §9's
// "cyclic session <-> connection reference... each stores a weak
// handle to the other" — the connection can be freed by the network
// layer independently of the session, and upgrading a stale weak
// pointer simply yields nil, which callers treat as "peer gone".
type Session struct {
	ClientID     string
	CleanSession bool
	connRef      weak.Pointer[Connection]

	Tx *TxTracker
	Rx *RxTracker

	Will *mqttpkt.PublishPacket
}

// newSession creates a session bound to conn, with fresh in-flight
// trackers.
func newSession(clientID string, cleanSession bool, conn *Connection, maxInflight int, ackTimeout time.Duration, maxRetries int) *Session {
	s := &Session{
		ClientID:     clientID,
		CleanSession: cleanSession,
		Rx:           newRxTracker(),
	}
	s.bind(conn)
	s.Tx = newTxTracker(s, maxInflight, ackTimeout, maxRetries)
	return s
}

// bind attaches (or re-attaches, on a clean_session=false reconnect) a
// live connection to the session.
func (s *Session) bind(conn *Connection) {
	s.connRef = weak.Make(conn)
}

// connection upgrades the weak handle; nil means the peer is gone.
func (s *Session) connection() *Connection {
	return s.connRef.Value()
}

// send writes encoded bytes to the session's current connection, if
// any is still alive. Silently drops the write if the peer is gone —
// the connection's own teardown is what generates the
// client_disconnected event that will clean this session up.
func (s *Session) send(data []byte) {
	if conn := s.connection(); conn != nil {
		conn.enqueueWrite(data)
	}
}
