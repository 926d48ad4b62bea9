package server_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/chatrelay/internal/metrics"
	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/testhelpers"
)

const welcome = "Welcome to the chat!"

type relay struct {
	hub     *server.Hub
	metrics *metrics.Metrics
	srv     *httptest.Server
}

// startRelay serves the hub and a page on one httptest server.
func startRelay(t *testing.T) *relay {
	t.Helper()

	m := metrics.New()
	hub := server.NewHub(server.NewConfig(), discardLogger(), m)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	page := server.NewPageHandler(writePage(t, t.TempDir(), testPage), discardLogger())
	srv := httptest.NewServer(server.SetupRoutes(hub, page))

	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = hub.Shutdown(2 * time.Second)
	})
	return &relay{hub: hub, metrics: m, srv: srv}
}

// join dials the relay and consumes the welcome message.
func (r *relay) join(t *testing.T) *websocket.Conn {
	t.Helper()
	conn := testhelpers.MustConnect(t, testhelpers.WebSocketURL(r.srv.URL, "/"))
	if got := testhelpers.ReadText(t, conn); got != welcome {
		t.Fatalf("first message: got %q want %q", got, welcome)
	}
	return conn
}

func (r *relay) waitForClients(t *testing.T, n int) {
	t.Helper()
	if !testhelpers.WaitFor(2*time.Second, func() bool { return r.hub.ClientCount() == n }) {
		t.Fatalf("hub has %d clients, want %d", r.hub.ClientCount(), n)
	}
}

func TestRelayThreeClientsHello(t *testing.T) {
	r := startRelay(t)
	a, b, c := r.join(t), r.join(t), r.join(t)

	testhelpers.SendText(t, a, "hello")

	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b, "C": c} {
		if got := testhelpers.ReadText(t, conn); got != "hello" {
			t.Errorf("client %s: got %q want hello", name, got)
		}
	}
	for _, conn := range []*websocket.Conn{a, b, c} {
		testhelpers.ExpectNoMessage(t, conn, 150*time.Millisecond)
	}
}

func TestRelayAfterClientLeaves(t *testing.T) {
	r := startRelay(t)
	a, b, c := r.join(t), r.join(t), r.join(t)

	if err := testhelpers.CloseWebSocket(a); err != nil {
		t.Fatalf("close A: %v", err)
	}
	r.waitForClients(t, 2)

	testhelpers.SendText(t, b, "ping")

	for name, conn := range map[string]*websocket.Conn{"B": b, "C": c} {
		if got := testhelpers.ReadText(t, conn); got != "ping" {
			t.Errorf("client %s: got %q want ping", name, got)
		}
	}
}

func TestRelayWelcomeScope(t *testing.T) {
	r := startRelay(t)
	a := r.join(t)
	r.join(t)

	testhelpers.ExpectNoMessage(t, a, 200*time.Millisecond)
}

func TestRelayPerSenderOrder(t *testing.T) {
	r := startRelay(t)
	a, b := r.join(t), r.join(t)

	const count = 50
	for i := 0; i < count; i++ {
		testhelpers.SendText(t, a, fmt.Sprintf("msg-%d", i))
	}

	for _, conn := range []*websocket.Conn{a, b} {
		for i := 0; i < count; i++ {
			want := fmt.Sprintf("msg-%d", i)
			if got := testhelpers.ReadText(t, conn); got != want {
				t.Fatalf("out of order: got %q want %q", got, want)
			}
		}
	}
}

func TestRelayBinaryFramesVerbatim(t *testing.T) {
	r := startRelay(t)
	a, b := r.join(t), r.join(t)

	payload := []byte{0x00, 0x01, 0xfe, 0xff, '\n', 0x00}
	if err := a.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("write binary: %v", err)
	}

	messageType, data := testhelpers.ReadFrame(t, b)
	if messageType != websocket.BinaryMessage {
		t.Fatalf("frame type: got %d want binary", messageType)
	}
	if string(data) != string(payload) {
		t.Fatalf("payload: got %v want %v", data, payload)
	}
}

func TestRelayUpgradeOnAnyPath(t *testing.T) {
	r := startRelay(t)
	a := r.join(t)

	other := testhelpers.MustConnect(t, testhelpers.WebSocketURL(r.srv.URL, "/some/other/path"))
	if got := testhelpers.ReadText(t, other); got != welcome {
		t.Fatalf("welcome on other path: got %q", got)
	}

	testhelpers.SendText(t, other, "across paths")
	if got := testhelpers.ReadText(t, a); got != "across paths" {
		t.Fatalf("got %q want %q", got, "across paths")
	}
}

func TestRelayServesPageOnSameListener(t *testing.T) {
	r := startRelay(t)
	r.join(t)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.srv.URL+"/")
	defer resp.Body.Close()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != testPage {
		t.Fatalf("body: got %q", body)
	}
}

func TestRelayAbruptDisconnectIsolated(t *testing.T) {
	r := startRelay(t)
	a, b, c := r.join(t), r.join(t), r.join(t)

	// Drop the TCP connection without a close handshake.
	_ = c.UnderlyingConn().Close()

	testhelpers.SendText(t, a, "still here")
	for name, conn := range map[string]*websocket.Conn{"A": a, "B": b} {
		if got := testhelpers.ReadText(t, conn); got != "still here" {
			t.Errorf("client %s: got %q", name, got)
		}
	}
	r.waitForClients(t, 2)
}

func TestRelayMetrics(t *testing.T) {
	r := startRelay(t)
	a, b := r.join(t), r.join(t)

	testhelpers.SendText(t, a, "count me")
	testhelpers.ReadText(t, a)
	testhelpers.ReadText(t, b)

	if got := r.metrics.Count("conn.recv"); got != 1 {
		t.Errorf("conn.recv: got %d want 1", got)
	}
	if got := r.metrics.Count("conn.accepted"); got != 2 {
		t.Errorf("conn.accepted: got %d want 2", got)
	}
	if got := r.metrics.Count("websockets"); got != 2 {
		t.Errorf("websockets: got %d want 2", got)
	}
}

func TestRelayShutdownClosesClients(t *testing.T) {
	m := metrics.New()
	hub := server.NewHub(server.NewConfig(), discardLogger(), m)
	go hub.Run(context.Background())

	page := server.NewPageHandler(writePage(t, t.TempDir(), testPage), discardLogger())
	srv := httptest.NewServer(server.SetupRoutes(hub, page))
	defer srv.Close()

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = testhelpers.MustConnect(t, testhelpers.WebSocketURL(srv.URL, "/"))
		testhelpers.ReadText(t, conns[i])
	}

	if err := hub.Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	for i, conn := range conns {
		if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			t.Fatal(err)
		}
		if _, _, err := conn.ReadMessage(); err == nil {
			t.Errorf("client %d still receiving after shutdown", i)
		}
	}
	if hub.ClientCount() != 0 {
		t.Fatal("Expectation: 0, Received:", hub.ClientCount())
	}
}
