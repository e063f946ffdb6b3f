package broker

import (
	"bufio"
	"errors"
	"log"
	"net"
	"sync"
	"time"

	"github.com/nimbusmq/broker/internal/auth"
	"github.com/nimbusmq/broker/internal/metrics"
	"github.com/nimbusmq/broker/internal/mqttpkt"
)

// connState is the per-connection lifecycle state from spec.md §4:
// Accepted -> AwaitingConnect -> Connected -> Closing -> Closed.
type connState int

const (
	stateAccepted connState = iota
	stateAwaitingConnect
	stateConnected
	stateClosing
	stateClosed
)

// ConnectionConfig carries the tunables a Connection needs that don't
// belong to any one CONNECT: timeouts and buffer sizes read from the
// broker's configuration file/flags.
type ConnectionConfig struct {
	ConnectTimeout  time.Duration
	ReadBufferSize  int
	WriteBufferSize int
	Authenticate    auth.Authenticator
}

// Connection is the per-socket state machine (C3): it owns the raw
// net.Conn, decodes frames off it, validates the CONNECT handshake and
// authentication before any other traffic is accepted, and forwards
// everything afterward to the Dispatcher (C6) as logical events.
type Connection struct {
	netConn net.Conn
	cfg     ConnectionConfig
	d       *Dispatcher

	remoteAddr string

	mu                sync.Mutex
	state             connState
	clientID          string
	keepAliveDuration time.Duration

	writeCh   chan []byte
	closeCh   chan struct{}
	closeOnce sync.Once
}

// Serve builds a Connection around an accepted socket and runs it to
// completion on the calling goroutine. internal/server spawns one
// goroutine per accepted connection and calls this directly.
func Serve(netConn net.Conn, d *Dispatcher, cfg ConnectionConfig) {
	newConnection(netConn, d, cfg).Serve()
}

func newConnection(netConn net.Conn, d *Dispatcher, cfg ConnectionConfig) *Connection {
	return &Connection{
		netConn:    netConn,
		cfg:        cfg,
		d:          d,
		remoteAddr: netConn.RemoteAddr().String(),
		state:      stateAccepted,
		writeCh:    make(chan []byte, 64),
		closeCh:    make(chan struct{}),
	}
}

// Serve runs the connection's read loop on the calling goroutine,
// after starting a writer goroutine; it returns once the connection is
// fully torn down. The caller (the acceptor in internal/server) is
// expected to invoke this in its own goroutine per accepted socket.
func (c *Connection) Serve() {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writerLoop()
	}()

	c.readLoop()

	close(c.closeCh)
	wg.Wait()
	c.netConn.Close()
}

func (c *Connection) writerLoop() {
	w := bufio.NewWriterSize(c.netConn, c.cfg.WriteBufferSize)
	for {
		select {
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if _, err := w.Write(data); err != nil {
				log.Printf("broker: write to %s failed: %v", c.remoteAddr, err)
				return
			}
			if err := w.Flush(); err != nil {
				log.Printf("broker: flush to %s failed: %v", c.remoteAddr, err)
				return
			}
			metrics.BytesSent.Add(float64(len(data)))
		case <-c.closeCh:
			return
		}
	}
}

// enqueueWrite queues data for the writer goroutine. It never blocks
// the caller beyond the channel's buffer: a connection that can't keep
// up with its backlog is the network's problem, not the dispatcher's.
func (c *Connection) enqueueWrite(data []byte) {
	select {
	case c.writeCh <- data:
	case <-c.closeCh:
	default:
		// Writer backlog full: drop rather than block the single
		// dispatcher goroutine indefinitely behind a slow reader.
		log.Printf("broker: write backlog full for %s, dropping %d bytes", c.remoteAddr, len(data))
	}
}

// Close tears the connection down from outside the read loop (e.g. the
// dispatcher evicting a stale connection on a clean_session=false
// reconnect that supersedes it).
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.netConn.Close()
	})
}

func (c *Connection) readLoop() {
	reader := bufio.NewReaderSize(c.netConn, c.cfg.ReadBufferSize)
	framer := mqttpkt.NewFrameReader()

	c.setState(stateAwaitingConnect)
	c.netConn.SetReadDeadline(time.Now().Add(c.cfg.ConnectTimeout))

	chunk := make([]byte, 4096)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			metrics.BytesReceived.Add(float64(n))
			if !c.feed(framer, chunk[:n]) {
				return
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.teardown(pickTimeoutReason(c.clientID, c.hasKeepAlive()))
				return
			}
			c.teardown(pickNetworkFailureReason(c.clientID))
			return
		}
	}
}

func pickNetworkFailureReason(clientID string) DisconnectReason {
	if clientID == "" {
		return ReasonClientDisconnect // never fully connected; nothing to will-publish
	}
	return ReasonNetworkOrServerFailure
}

// pickTimeoutReason distinguishes a keep-alive expiry (the client
// completed CONNECT and was given a keep-alive deadline that then
// elapsed with no traffic) from the initial connect-timeout, which
// never even reached a client id and has no session to tear down.
func pickTimeoutReason(clientID string, hadKeepAlive bool) DisconnectReason {
	if clientID == "" {
		return ReasonClientDisconnect
	}
	if hadKeepAlive {
		return ReasonKeepAliveTimeout
	}
	return ReasonNetworkOrServerFailure
}

func (c *Connection) hasKeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAliveDuration > 0
}

// feed pushes bytes through the frame reader, dispatching every
// complete frame it yields, and reports whether the loop should keep
// reading.
func (c *Connection) feed(framer *mqttpkt.FrameReader, data []byte) bool {
	for len(data) > 0 {
		status, consumed := framer.Feed(data)
		data = data[consumed:]
		switch status {
		case mqttpkt.NeedMore:
			return true
		case mqttpkt.FrameMalformed:
			c.teardown(ReasonProtocolViolation)
			return false
		case mqttpkt.FrameComplete:
			_, body := framer.Frame()
			h := framer.Header()
			if !c.handleFrame(h, body) {
				return false
			}
			framer.Reset()
		}
	}
	return true
}

// handleFrame decodes and routes a single complete frame, reporting
// whether the connection should keep running.
func (c *Connection) handleFrame(h mqttpkt.FixedHeader, body []byte) bool {
	pkt, err := mqttpkt.Decode(h, body)
	if err != nil {
		c.teardown(ReasonProtocolViolation)
		return false
	}
	metrics.MessagesReceived.WithLabelValues(h.Type.String()).Inc()

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	switch state {
	case stateAwaitingConnect:
		connectPkt, ok := pkt.(*mqttpkt.ConnectPacket)
		if !ok {
			c.teardown(ReasonProtocolViolation)
			return false
		}
		return c.handleConnect(connectPkt)
	case stateConnected:
		if _, ok := pkt.(*mqttpkt.ConnectPacket); ok {
			// A second CONNECT on an already-connected socket is a
			// protocol violation per spec.md §4.3.
			c.teardown(ReasonProtocolViolation)
			return false
		}
		if _, ok := pkt.(*mqttpkt.DisconnectPacket); ok {
			c.teardown(ReasonClientDisconnect)
			return false
		}
		c.resetKeepAlive()
		c.d.dispatch(event{kind: evPacket, clientID: c.clientID, pkt: pkt})
		return true
	default:
		return true
	}
}

func (c *Connection) handleConnect(p *mqttpkt.ConnectPacket) bool {
	if p.ProtocolName != "MQTT" || p.ProtocolLevel != 4 {
		c.replyConnack(false, mqttpkt.ConnRefusedProtocolVer)
		c.Close()
		return false
	}
	if !validClientID(p.ClientID, p.CleanSession) {
		c.replyConnack(false, mqttpkt.ConnRefusedIdentifierRej)
		c.Close()
		return false
	}
	authFn := c.cfg.Authenticate
	if authFn == nil {
		authFn = auth.AllowAll
	}
	if !authFn(c.remoteAddr, p.UsernameFlag, p.Username, p.PasswordFlag, p.Password) {
		c.replyConnack(false, mqttpkt.ConnRefusedBadUserOrPass)
		c.Close()
		return false
	}

	c.mu.Lock()
	c.clientID = p.ClientID
	c.state = stateConnected
	c.mu.Unlock()

	c.netConn.SetReadDeadline(time.Time{})
	if p.KeepAlive > 0 {
		c.armKeepAlive(time.Duration(float64(p.KeepAlive)*1.5) * time.Second)
	}

	var will *mqttpkt.PublishPacket
	if p.WillFlag {
		will = &mqttpkt.PublishPacket{
			Topic:   p.WillTopic,
			Payload: p.WillPayload,
			QoS:     p.WillQoS,
			Retain:  p.WillRetain,
		}
	}

	sessionPresent := c.d.dispatchConnect(c, p.ClientID, p.CleanSession, will)
	c.replyConnack(sessionPresent, mqttpkt.ConnAccepted)
	metrics.ConnectionsTotal.Inc()
	return true
}

func validClientID(id string, cleanSession bool) bool {
	if len(id) == 0 {
		return cleanSession // spec.md §4.3: empty client_id only legal with clean_session=1
	}
	return len(id) <= mqttpkt.MaxStringLength
}

func (c *Connection) replyConnack(sessionPresent bool, code byte) {
	ack := &mqttpkt.ConnackPacket{SessionPresent: sessionPresent, ReturnCode: code}
	if data, err := ack.Encode(); err == nil {
		c.enqueueWrite(data)
	}
}

func (c *Connection) armKeepAlive(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keepAliveDuration = d
	c.netConn.SetReadDeadline(time.Now().Add(d))
}

func (c *Connection) resetKeepAlive() {
	c.mu.Lock()
	d := c.keepAliveDuration
	c.mu.Unlock()
	if d > 0 {
		c.netConn.SetReadDeadline(time.Now().Add(d))
	}
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// teardown moves the connection to Closing, notifies the dispatcher
// (which routes the last will and destroys or preserves the session),
// then closes the socket.
func (c *Connection) teardown(reason DisconnectReason) {
	c.mu.Lock()
	if c.state == stateClosing || c.state == stateClosed {
		c.mu.Unlock()
		return
	}
	c.state = stateClosing
	clientID := c.clientID
	c.mu.Unlock()

	switch reason {
	case ReasonProtocolViolation:
		metrics.ProtocolViolations.Inc()
	case ReasonKeepAliveTimeout:
		metrics.KeepAliveExpirations.Inc()
	}

	if clientID != "" {
		c.d.dispatch(event{kind: evClientDisconnected, clientID: clientID, conn: c, reason: reason})
	}
	c.setState(stateClosed)
	c.Close()
}
