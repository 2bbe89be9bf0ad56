// Package client owns the reconnecting session to a rating exchange server.
//
// Ownership boundary:
// - the connect/reconnect cycle with fixed retry delay
// - the receive and send loops and their shared alive flag
// - the single-slot outbound handoff
package client

import (
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/ratewire/internal/protocol"
	"github.com/danmuck/ratewire/internal/protocol/frame"
)

var (
	ErrAddressRequired = errors.New("client: server address required")
	ErrSessionStopped  = errors.New("client: session stopped")
)

// Config defines session transport behavior.
type Config struct {
	Address      string
	DialTimeout  time.Duration
	RetryDelay   time.Duration
	NotifyBuffer int
	Limits       frame.Limits
}

func DefaultConfig() Config {
	return Config{
		DialTimeout:  5 * time.Second,
		RetryDelay:   time.Second,
		NotifyBuffer: 16,
		Limits:       frame.DefaultLimits(),
	}
}

// loopHandle is the joinable handle of one started worker loop.
type loopHandle struct {
	done chan struct{}
}

func (h *loopHandle) finished() bool {
	if h == nil {
		return true
	}
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Session maintains exactly one logical connection across transient failures.
// The alive flag is the sole coordination between the receive and send loops;
// either loop clears it on any transport failure and re-enters the connect
// cycle. There is no terminal state short of Stop: the session retries
// forever.
type Session struct {
	cfg Config

	alive   atomic.Bool
	stopped atomic.Bool
	stopCh  chan struct{}
	stop    sync.Once

	connMu sync.Mutex
	conn   net.Conn

	// lifecycleMu serializes the connect cycle and guards the loop handles.
	lifecycleMu sync.Mutex
	recvHandle  *loopHandle
	sendHandle  *loopHandle

	outbox chan map[string]any
	notify chan map[string]any
}

func New(cfg Config) (*Session, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultConfig().DialTimeout
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultConfig().RetryDelay
	}
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = DefaultConfig().NotifyBuffer
	}
	if cfg.Limits.MaxPayloadBytes == 0 {
		cfg.Limits = frame.DefaultLimits()
	}
	return &Session{
		cfg:    cfg,
		stopCh: make(chan struct{}),
		outbox: make(chan map[string]any, 1),
		notify: make(chan map[string]any, cfg.NotifyBuffer),
	}, nil
}

// Start launches the connect cycle in the background and returns immediately.
func (s *Session) Start() {
	go s.reconnect()
}

// Stop ends the session for good: no further reconnects, socket closed.
func (s *Session) Stop() {
	s.stop.Do(func() {
		s.stopped.Store(true)
		s.alive.Store(false)
		close(s.stopCh)
		s.connMu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.connMu.Unlock()
	})
}

// Connected reports whether the session currently believes it is connected.
func (s *Session) Connected() bool {
	return s.alive.Load()
}

// WaitConnected blocks until the session is connected or the timeout passes.
func (s *Session) WaitConnected(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.alive.Load() {
			return true
		}
		select {
		case <-s.stopCh:
			return false
		case <-time.After(10 * time.Millisecond):
		}
	}
	return s.alive.Load()
}

// Send deposits one outbound message. The handoff is a single slot and the
// caller blocks until the send loop has taken the previous message, so no
// deposit can overwrite another.
func (s *Session) Send(msg map[string]any) error {
	if s.stopped.Load() {
		return ErrSessionStopped
	}
	select {
	case s.outbox <- msg:
		return nil
	case <-s.stopCh:
		return ErrSessionStopped
	}
}

// Notifications is the one-way delivery of server messages to the caller.
// Responses are not correlated to pending requests.
func (s *Session) Notifications() <-chan map[string]any {
	return s.notify
}

// reconnect performs the full connect cycle: dial with a fixed pause until a
// connect succeeds, then restart whichever loops are not still running. Both
// loops funnel through here after exiting; the lifecycle mutex makes the
// cycle single-flight.
func (s *Session) reconnect() {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.stopped.Load() {
		return
	}
	if !s.alive.Load() {
		log.Info().Str("addr", s.cfg.Address).Msg("connecting")
		for {
			if s.stopped.Load() {
				return
			}
			conn, err := net.DialTimeout("tcp", s.cfg.Address, s.cfg.DialTimeout)
			if err != nil {
				select {
				case <-s.stopCh:
					return
				case <-time.After(s.cfg.RetryDelay):
				}
				continue
			}
			s.connMu.Lock()
			s.conn = conn
			s.connMu.Unlock()
			s.alive.Store(true)
			log.Info().Str("addr", s.cfg.Address).Msg("connected")
			break
		}
	}
	if s.recvHandle.finished() {
		s.recvHandle = s.startReceive()
	}
	if s.sendHandle.finished() {
		s.sendHandle = s.startSend()
	}
}

// startReceive spawns the receive worker and returns its joinable handle.
func (s *Session) startReceive() *loopHandle {
	h := &loopHandle{done: make(chan struct{})}
	conn := s.currentConn()
	go func() {
		s.receiveLoop(conn)
		// The handle must read as finished before the reconnect cycle
		// decides which loops to revive.
		close(h.done)
		if !s.stopped.Load() {
			s.reconnect()
		}
	}()
	return h
}

// startSend spawns the send worker and returns its joinable handle.
func (s *Session) startSend() *loopHandle {
	h := &loopHandle{done: make(chan struct{})}
	go func() {
		s.sendLoop()
		close(h.done)
		if !s.stopped.Load() {
			s.reconnect()
		}
	}()
	return h
}

// receiveLoop performs blocking framed reads for the life of one connection.
// Any failure clears the alive flag and exits.
func (s *Session) receiveLoop(conn net.Conn) {
	log.Debug().Msg("receive loop started")
	for s.alive.Load() {
		msg, err := frame.Read(conn, s.cfg.Limits)
		if err != nil {
			s.alive.Store(false)
			log.Debug().Err(err).Msg("receive loop ended")
			return
		}
		if protocol.Action(msg) == "" {
			continue
		}
		select {
		case s.notify <- msg:
		default:
			log.Warn().Str("action", protocol.Action(msg)).Msg("notification dropped: caller not draining")
		}
	}
}

// sendLoop blocks on the outbox slot and writes each taken message. Any
// failure clears the alive flag and exits; the undelivered message is lost,
// matching the at-most-once delivery of the protocol.
func (s *Session) sendLoop() {
	log.Debug().Msg("send loop started")
	for s.alive.Load() {
		select {
		case <-s.stopCh:
			return
		case msg := <-s.outbox:
			conn := s.currentConn()
			if conn == nil {
				s.alive.Store(false)
				return
			}
			if err := frame.Write(conn, msg, s.cfg.Limits); err != nil {
				s.alive.Store(false)
				log.Debug().Err(err).Msg("send loop ended")
				return
			}
		}
	}
}

func (s *Session) currentConn() net.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}
