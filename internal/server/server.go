// Package server implements the broker's acceptor (C10): it binds the
// listening socket, spins up one Connection per accepted client, and
// owns the Dispatcher goroutine the whole broker runs on.
package server

import (
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"github.com/nimbusmq/broker/internal/auth"
	"github.com/nimbusmq/broker/internal/broker"
	"github.com/nimbusmq/broker/internal/config"
)

// Server owns the listening socket and the broker's single dispatcher
// goroutine.
type Server struct {
	cfg        *config.Config
	connCfg    broker.ConnectionConfig
	dispatcher *broker.Dispatcher

	mu       sync.Mutex
	running  bool
	listener net.Listener
	wg       sync.WaitGroup
}

// New builds a Server from cfg. authenticate selects the
// authentication backend chosen by cfg.Auth.ServiceFactory; callers
// build it (internal/auth) and pass it in so Server stays free of any
// one backend's own dependencies (e.g. the bcrypt file backend).
func New(cfg *config.Config, authenticate auth.Authenticator) *Server {
	dispatcher := broker.NewDispatcher(broker.DispatcherConfig{
		MaxInflightMessages: cfg.Limits.MaxInflightMessages,
		PubAckTimeout:       cfg.QoS.RetryInterval,
		PubMaxRetries:       cfg.QoS.MaxRetries,
	})
	return &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		connCfg: broker.ConnectionConfig{
			ConnectTimeout:  cfg.Server.ConnectTimeout,
			ReadBufferSize:  cfg.Server.ReadBufferSize,
			WriteBufferSize: cfg.Server.WriteBufferSize,
			Authenticate:    authenticate,
		},
	}
}

// Dispatcher exposes the broker's dispatcher for diagnostics (tests,
// an admin surface).
func (s *Server) Dispatcher() *broker.Dispatcher { return s.dispatcher }

// Start binds the listening socket and runs the accept loop until Stop
// closes the listener. It blocks the calling goroutine; callers that
// want Ctrl-C handling alongside it should run Start in its own
// goroutine, as cmd/server/main.go does.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to start listener: %w", err)
	}
	s.listener = listener
	s.running = true
	s.mu.Unlock()

	go s.dispatcher.Run()

	log.Printf("MQTT broker listening on %s", addr)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			running := s.running
			s.mu.Unlock()
			if !running {
				return nil
			}
			log.Printf("server: accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			broker.Serve(conn, s.dispatcher, s.connCfg)
		}()
	}
}

// Stop closes the listener, closes every live connection (their
// teardown paths publish last wills exactly as a network failure
// would, per spec.md §7), waits for every connection goroutine to
// exit, and stops the dispatcher. It is safe to call once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			return fmt.Errorf("error closing listener: %w", err)
		}
	}

	s.dispatcher.CloseAllConnections()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		log.Printf("server: timed out waiting for connections to drain")
	}

	s.dispatcher.Stop()
	return nil
}
