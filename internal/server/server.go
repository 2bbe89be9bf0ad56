// Package server owns the connection multiplexer of the rating exchange.
//
// Ownership boundary:
// - the live set of accepted client connections
// - readiness polling and framed reads per connection
// - the FIFO outbound task queue
//
// Everything here runs on one goroutine; the store, the live set and the
// task queue are never touched from anywhere else and carry no locks.
package server

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/ratewire/internal/observability"
	"github.com/danmuck/ratewire/internal/protocol"
	"github.com/danmuck/ratewire/internal/protocol/frame"
	"github.com/danmuck/ratewire/internal/store"
)

// Config defines multiplexer loop bounds.
type Config struct {
	ListenAddr    string
	AcceptTimeout time.Duration
	PollTimeout   time.Duration
	WriteTimeout  time.Duration
	Limits        frame.Limits
}

func DefaultConfig() Config {
	return Config{
		ListenAddr:    "127.0.0.1:7777",
		AcceptTimeout: 100 * time.Millisecond,
		PollTimeout:   5 * time.Millisecond,
		WriteTimeout:  5 * time.Second,
		Limits:        frame.DefaultLimits(),
	}
}

// task is one pending outbound (connection, message) pair.
type task struct {
	c   *client
	msg map[string]any
}

// client is one live connection with its partial-frame accumulator.
type client struct {
	conn net.Conn
	addr string
	acc  *frame.Accumulator
	live bool
}

// Server multiplexes all client connections from a single goroutine.
type Server struct {
	cfg     Config
	st      *store.Store
	ln      *net.TCPListener
	clients []*client
	tasks   []task
	scratch []byte
}

// New binds the listening socket. Run must be called to serve.
func New(cfg Config, st *store.Store) (*Server, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, err
	}
	observability.RegisterMetrics()
	log.Info().Str("addr", ln.Addr().String()).Msg("server started")
	return &Server{
		cfg:     cfg,
		st:      st,
		ln:      ln.(*net.TCPListener),
		scratch: make([]byte, 4096),
	}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Close stops the accept loop. Live connections are closed when Run returns.
func (s *Server) Close() error {
	return s.ln.Close()
}

// Run drives the multiplexer loop until ctx is done or the listener closes.
// Each iteration: bounded accept, read poll over the live set, dispatch of
// complete requests, drain of the outbound queue.
func (s *Server) Run(ctx context.Context) error {
	defer func() {
		for _, c := range s.clients {
			_ = c.conn.Close()
			observability.RecordConnectionClosed()
		}
		s.clients = nil
	}()
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := s.acceptOne(); err != nil {
			return nil
		}
		s.pollClients()
		s.drainTasks()
	}
}

// acceptOne performs one bounded accept attempt. Absence of a pending
// connection is not an error. Returns an error only when the listener is
// gone and the loop must stop.
func (s *Server) acceptOne() error {
	if err := s.ln.SetDeadline(time.Now().Add(s.cfg.AcceptTimeout)); err != nil {
		return err
	}
	conn, err := s.ln.Accept()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil
		}
		return err
	}
	c := &client{
		conn: conn,
		addr: conn.RemoteAddr().String(),
		acc:  frame.NewAccumulator(s.cfg.Limits),
		live: true,
	}
	s.clients = append(s.clients, c)
	observability.RecordConnectionOpened()
	log.Info().Str("client", c.addr).Msg("client connected")
	return nil
}

// pollClients attempts a short-deadline read on every live connection and
// dispatches each complete request that materializes. Any read or decode
// failure is terminal to that connection.
func (s *Server) pollClients() {
	for _, c := range s.clients {
		if !c.live {
			continue
		}
		if err := c.conn.SetReadDeadline(time.Now().Add(s.cfg.PollTimeout)); err != nil {
			s.dropClient(c, err)
			continue
		}
		n, err := c.conn.Read(s.scratch)
		if n > 0 {
			c.acc.Feed(s.scratch[:n])
			if err := s.dispatchBuffered(c); err != nil {
				s.dropClient(c, err)
				continue
			}
		}
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.dropClient(c, err)
		}
	}
	s.compactClients()
}

func (s *Server) dispatchBuffered(c *client) error {
	for {
		msg, ok, err := c.acc.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		log.Debug().Str("client", c.addr).Str("action", protocol.Action(msg)).Msg("request received")
		resp := s.handle(msg)
		observability.RecordRequest(protocol.Action(msg), protocol.Status(resp))
		s.tasks = append(s.tasks, task{c: c, msg: resp})
	}
}

// drainTasks flushes the outbound queue strictly in FIFO order. Tasks whose
// destination already died are silently dropped; a write failure kills the
// destination and with it the rest of its queued tasks.
func (s *Server) drainTasks() {
	for len(s.tasks) > 0 {
		t := s.tasks[0]
		s.tasks = s.tasks[1:]
		if !t.c.live {
			observability.RecordTaskDropped()
			continue
		}
		if err := t.c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			s.dropClient(t.c, err)
			continue
		}
		if err := frame.Write(t.c.conn, t.msg, s.cfg.Limits); err != nil {
			s.dropClient(t.c, err)
			continue
		}
		log.Debug().Str("client", t.c.addr).Str("action", protocol.Action(t.msg)).Msg("response sent")
	}
	s.compactClients()
}

func (s *Server) dropClient(c *client, err error) {
	if !c.live {
		return
	}
	c.live = false
	_ = c.conn.Close()
	observability.RecordConnectionClosed()
	log.Info().Str("client", c.addr).Err(err).Msg("client disconnected")
}

func (s *Server) compactClients() {
	kept := s.clients[:0]
	for _, c := range s.clients {
		if c.live {
			kept = append(kept, c)
		}
	}
	s.clients = kept
}
