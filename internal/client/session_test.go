package client

import (
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/ratewire/internal/protocol"
	"github.com/danmuck/ratewire/internal/protocol/frame"
	"github.com/danmuck/ratewire/internal/testutil/testlog"
)

// stubServer echoes every framed request back as a status-200 response.
type stubServer struct {
	ln net.Listener

	mu    sync.Mutex
	conns []net.Conn
}

func startStubServer(t *testing.T, addr string) *stubServer {
	t.Helper()
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("listen %s: %v", addr, err)
	}
	s := &stubServer{ln: ln}
	go s.serve()
	t.Cleanup(s.stop)
	return s
}

func (s *stubServer) addr() string {
	return s.ln.Addr().String()
}

func (s *stubServer) serve() {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.handle(conn)
	}
}

func (s *stubServer) handle(conn net.Conn) {
	for {
		msg, err := frame.Read(conn, frame.DefaultLimits())
		if err != nil {
			return
		}
		resp := protocol.NewResponse(protocol.Action(msg), protocol.StatusOK, map[string]any{"echo": true})
		if err := frame.Write(conn, resp, frame.DefaultLimits()); err != nil {
			return
		}
	}
}

func (s *stubServer) stop() {
	_ = s.ln.Close()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = nil
}

func testConfig(addr string) Config {
	cfg := DefaultConfig()
	cfg.Address = addr
	cfg.RetryDelay = 50 * time.Millisecond
	cfg.DialTimeout = time.Second
	return cfg
}

func waitDisconnected(t *testing.T, s *Session, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !s.Connected() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("session still believes it is connected")
}

func expectNotification(t *testing.T, s *Session, timeout time.Duration) map[string]any {
	t.Helper()
	select {
	case msg := <-s.Notifications():
		return msg
	case <-time.After(timeout):
		t.Fatalf("no notification within %v", timeout)
		return nil
	}
}

func TestSessionRequestResponse(t *testing.T) {
	testlog.Start(t)
	srv := startStubServer(t, "")
	session, err := New(testConfig(srv.addr()))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start()
	defer session.Stop()

	if !session.WaitConnected(2 * time.Second) {
		t.Fatalf("session did not connect")
	}
	if err := session.Send(protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil)); err != nil {
		t.Fatalf("send: %v", err)
	}
	msg := expectNotification(t, session, 2*time.Second)
	if protocol.Action(msg) != protocol.ActionGetFiltersAndProducts {
		t.Fatalf("unexpected action: %q", protocol.Action(msg))
	}
	if protocol.Status(msg) != protocol.StatusOK {
		t.Fatalf("unexpected status: %d", protocol.Status(msg))
	}
}

func TestSessionReconnectsAfterServerRestart(t *testing.T) {
	testlog.Start(t)
	srv := startStubServer(t, "")
	addr := srv.addr()
	session, err := New(testConfig(addr))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start()
	defer session.Stop()

	if !session.WaitConnected(2 * time.Second) {
		t.Fatalf("session did not connect")
	}

	// Server goes away mid-session: the alive flag clears as soon as a
	// read or write attempt fails, without caller intervention.
	srv.stop()
	waitDisconnected(t, session, 2*time.Second)

	// Server resumes listening on the same address; the session re-enters
	// the connect cycle on its own.
	startStubServer(t, addr)
	if !session.WaitConnected(5 * time.Second) {
		t.Fatalf("session did not reconnect")
	}
	if err := session.Send(protocol.NewRequest(protocol.ActionGetRatings, map[string]any{
		protocol.KeyProduct: "Сыр",
		protocol.KeyFilter:  "Качество",
	})); err != nil {
		t.Fatalf("send after reconnect: %v", err)
	}
	msg := expectNotification(t, session, 2*time.Second)
	if protocol.Action(msg) != protocol.ActionGetRatings {
		t.Fatalf("unexpected action after reconnect: %q", protocol.Action(msg))
	}
}

func TestSendBlocksWhenSlotOccupied(t *testing.T) {
	testlog.Start(t)
	// Session never started: no send loop drains the slot.
	session, err := New(testConfig("127.0.0.1:1"))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := session.Send(map[string]any{protocol.KeyAction: "first"}); err != nil {
		t.Fatalf("first deposit: %v", err)
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- session.Send(map[string]any{protocol.KeyAction: "second"})
	}()
	select {
	case err := <-blocked:
		t.Fatalf("second deposit should block, returned %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	session.Stop()
	if err := <-blocked; !errors.Is(err, ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped, got %v", err)
	}
}

func TestStoppedSessionRefusesWork(t *testing.T) {
	testlog.Start(t)
	srv := startStubServer(t, "")
	session, err := New(testConfig(srv.addr()))
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	session.Start()
	if !session.WaitConnected(2 * time.Second) {
		t.Fatalf("session did not connect")
	}
	session.Stop()
	if session.Connected() {
		t.Fatalf("stopped session must not report connected")
	}
	if err := session.Send(map[string]any{protocol.KeyAction: "late"}); !errors.Is(err, ErrSessionStopped) {
		t.Fatalf("expected ErrSessionStopped, got %v", err)
	}
}

func TestNewRequiresAddress(t *testing.T) {
	testlog.Start(t)
	if _, err := New(Config{}); !errors.Is(err, ErrAddressRequired) {
		t.Fatalf("expected ErrAddressRequired, got %v", err)
	}
}
