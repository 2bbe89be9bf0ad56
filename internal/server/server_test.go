package server

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	rwclient "github.com/danmuck/ratewire/internal/client"
	"github.com/danmuck/ratewire/internal/protocol"
	"github.com/danmuck/ratewire/internal/protocol/frame"
	"github.com/danmuck/ratewire/internal/store"
	"github.com/danmuck/ratewire/internal/testutil/testlog"
)

func startTestServer(t *testing.T) string {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "db.sqlite3"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.EnsureDefaults(); err != nil {
		t.Fatalf("seed store: %v", err)
	}
	cfg := DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	srv, err := New(cfg, st)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		_ = srv.Close()
		<-done
		_ = st.Close()
	})
	return srv.Addr()
}

func dialServer(t *testing.T, addr string) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func roundTrip(t *testing.T, conn net.Conn, req map[string]any) map[string]any {
	t.Helper()
	if err := conn.SetDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	if err := frame.Write(conn, req, frame.DefaultLimits()); err != nil {
		t.Fatalf("write request: %v", err)
	}
	resp, err := frame.Read(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp
}

func TestGetFiltersAndProductsReturnsSeedData(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil))
	if protocol.Status(resp) != protocol.StatusOK {
		t.Fatalf("unexpected status: %d", protocol.Status(resp))
	}
	content := protocol.Content(resp)
	filters, _ := content[protocol.KeyFilter].([]any)
	products, _ := content[protocol.KeyProduct].([]any)
	if len(filters) != 2 {
		t.Fatalf("expected 2 seed filters, got %d", len(filters))
	}
	if len(products) != 3 {
		t.Fatalf("expected 3 seed products, got %d", len(products))
	}
	first, _ := filters[0].(map[string]any)
	if name, _ := protocol.String(first, protocol.KeyFilter); name != "Стоимость" {
		t.Fatalf("unexpected first filter: %v", first)
	}
}

func TestAddRatingAutoCreatesProductAndClamps(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionAddRating, map[string]any{
		protocol.KeyProduct: "Творог",
		protocol.KeyFilter:  "Качество",
		protocol.KeyRating:  15.0,
		protocol.KeyAddress: "Store A",
		protocol.KeyDate:    "2024-03-01 12:00:00",
	}))
	if protocol.Status(resp) != protocol.StatusOK {
		t.Fatalf("unexpected status: %d", protocol.Status(resp))
	}
	ratings := protocol.ContentList(resp)
	if len(ratings) != 1 {
		t.Fatalf("expected 1 rating, got %d", len(ratings))
	}
	if v, _ := protocol.Number(ratings[0], protocol.KeyRating); v != 10 {
		t.Fatalf("expected value clamped to 10, got %v", v)
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil))
	products, _ := protocol.Content(resp)[protocol.KeyProduct].([]any)
	if len(products) != 4 {
		t.Fatalf("auto-created product missing, got %d products", len(products))
	}
}

func TestDuplicateFilterRejectedOverWire(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionAddFilter, map[string]any{
		protocol.KeyFilter: "Качество",
	}))
	if protocol.Status(resp) != protocol.StatusError {
		t.Fatalf("duplicate filter must fail, got %d", protocol.Status(resp))
	}

	resp = roundTrip(t, conn, protocol.NewRequest(protocol.ActionAddFilter, map[string]any{
		protocol.KeyFilter: "Свежесть",
		protocol.KeyMin:    0.0,
		protocol.KeyMax:    5.0,
	}))
	if protocol.Status(resp) != protocol.StatusOK {
		t.Fatalf("new filter must succeed, got %d", protocol.Status(resp))
	}
	if _, ok := protocol.Number(protocol.Content(resp), protocol.KeyID); !ok {
		t.Fatalf("success content must carry id: %v", resp)
	}
}

func TestUnknownActionGetsExactlyOneFailureReply(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	resp := roundTrip(t, conn, map[string]any{protocol.KeyAction: "bogus_action"})
	if protocol.Action(resp) != "bogus_action" || protocol.Status(resp) != protocol.StatusError {
		t.Fatalf("unexpected reply: %v", resp)
	}
}

func TestGetRatingsUnknownPairFails(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	resp := roundTrip(t, conn, protocol.NewRequest(protocol.ActionGetRatings, map[string]any{
		protocol.KeyProduct: "Сыр",
		protocol.KeyFilter:  "Качество",
	}))
	if protocol.Status(resp) != protocol.StatusError {
		t.Fatalf("pair without ratings must fail, got %d", protocol.Status(resp))
	}
}

func TestFragmentedRequestIsAssembled(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	conn := dialServer(t, addr)

	wire, err := frame.Encode(protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil), frame.DefaultLimits())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// Dribble the frame across several transport writes.
	for _, chunk := range [][]byte{wire[:3], wire[3:7], wire[7:]} {
		if _, err := conn.Write(chunk); err != nil {
			t.Fatalf("write chunk: %v", err)
		}
		time.Sleep(30 * time.Millisecond)
	}
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	resp, err := frame.Read(conn, frame.DefaultLimits())
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	if protocol.Status(resp) != protocol.StatusOK {
		t.Fatalf("unexpected status: %d", protocol.Status(resp))
	}
}

func TestEndToEndWithClientSession(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)

	cfg := rwclient.DefaultConfig()
	cfg.Address = addr
	session, err := rwclient.New(cfg)
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
	select {
	case msg := <-session.Notifications():
		if protocol.Status(msg) != protocol.StatusOK {
			t.Fatalf("unexpected status: %d", protocol.Status(msg))
		}
		filters, _ := protocol.Content(msg)[protocol.KeyFilter].([]any)
		if len(filters) != 2 {
			t.Fatalf("expected 2 seed filters, got %d", len(filters))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no response within deadline")
	}

	if err := session.Send(protocol.NewRequest(protocol.ActionAddRating, map[string]any{
		protocol.KeyProduct: "Кефир",
		protocol.KeyFilter:  "Качество",
		protocol.KeyRating:  -3.0,
		protocol.KeyAddress: "Store B",
		protocol.KeyDate:    "2024-03-01 12:00:00",
	})); err != nil {
		t.Fatalf("send rating: %v", err)
	}
	select {
	case msg := <-session.Notifications():
		if protocol.Status(msg) != protocol.StatusOK {
			t.Fatalf("unexpected status: %d", protocol.Status(msg))
		}
		ratings := protocol.ContentList(msg)
		if len(ratings) != 1 {
			t.Fatalf("expected 1 rating, got %d", len(ratings))
		}
		if v, _ := protocol.Number(ratings[0], protocol.KeyRating); v != 0 {
			t.Fatalf("expected value clamped to 0, got %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no rating response within deadline")
	}
}

func TestDeadClientDoesNotDisturbOthers(t *testing.T) {
	testlog.Start(t)
	addr := startTestServer(t)
	first := dialServer(t, addr)
	second := dialServer(t, addr)

	// First client dies mid-message: prefix promising bytes that never come.
	if _, err := first.Write([]byte{0, 0, 0, 42, '{'}); err != nil {
		t.Fatalf("write partial: %v", err)
	}
	_ = first.Close()

	resp := roundTrip(t, second, protocol.NewRequest(protocol.ActionGetFiltersAndProducts, nil))
	if protocol.Status(resp) != protocol.StatusOK {
		t.Fatalf("surviving client got status %d", protocol.Status(resp))
	}
}
