package ws_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpressfeeder/opshub/internal/auth"
	"github.com/xpressfeeder/opshub/internal/config"
	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/internal/router"
	"github.com/xpressfeeder/opshub/internal/sim"
	"github.com/xpressfeeder/opshub/internal/ws"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// newTestServer stands up the full websocket stack with an open auth gate.
func newTestServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()
	h := hub.New()
	b := hub.NewBroadcaster(h, config.DefaultRouting())
	s := sim.New(b, nil, nil, nil)
	r := router.New(h, b, auth.NewGate(""), s, time.Now())
	srv := httptest.NewServer(ws.NewServer(h, r))
	t.Cleanup(srv.Close)
	return srv, h
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env map[string]any) {
	t.Helper()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestConnect_WelcomeEnvelope(t *testing.T) {
	srv, h := newTestServer(t)
	conn := dial(t, srv)

	env := readEnvelope(t, conn)
	if env["type"] != wire.TypeConnectionEstablished {
		t.Fatalf("welcome type: %v", env["type"])
	}
	if env["connection_id"] == "" || env["connection_id"] == nil {
		t.Error("welcome missing connection_id")
	}
	if env["active_connections"].(float64) != 1 {
		t.Errorf("active_connections: %v", env["active_connections"])
	}
	if h.Count() != 1 {
		t.Errorf("hub count: %d", h.Count())
	}
}

func TestPingRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // welcome

	writeEnvelope(t, conn, map[string]any{"type": "ping"})

	env := readEnvelope(t, conn)
	if env["type"] != wire.TypePong {
		t.Fatalf("reply type: %v", env["type"])
	}
	if env["server_time"] == nil {
		t.Error("pong missing server_time")
	}
}

func TestSubscribeAndReceiveBroadcast(t *testing.T) {
	srv, _ := newTestServer(t)

	sub := dial(t, srv)
	readEnvelope(t, sub) // welcome
	writeEnvelope(t, sub, map[string]any{"type": "subscribe_flight", "flight_id": "XF801"})
	if env := readEnvelope(t, sub); env["type"] != wire.TypeSubscriptionSuccess {
		t.Fatalf("subscription reply: %v", env)
	}

	pub := dial(t, srv)
	readEnvelope(t, pub) // welcome
	writeEnvelope(t, pub, map[string]any{
		"type": "flight_update", "flight_id": "XF801", "status": "departed",
	})

	env := readEnvelope(t, sub)
	if env["type"] != "flight_update" || env["flight_id"] != "XF801" {
		t.Fatalf("broadcast: %v", env)
	}
	if env["timestamp"] == nil {
		t.Error("broadcast missing server timestamp")
	}
}

func TestMalformedFrameGetsErrorReply(t *testing.T) {
	srv, h := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // welcome

	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{broken")); err != nil {
		t.Fatalf("write: %v", err)
	}

	env := readEnvelope(t, conn)
	if env["type"] != wire.TypeError {
		t.Fatalf("reply type: %v", env)
	}
	if h.Count() != 1 {
		t.Error("connection dropped on malformed frame")
	}
}

func TestDisconnect_CleansUpHub(t *testing.T) {
	srv, h := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // welcome
	writeEnvelope(t, conn, map[string]any{"type": "subscribe_department", "department": "flightops"})
	readEnvelope(t, conn)

	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Count() == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if h.Count() != 0 {
		t.Fatalf("hub count after disconnect: %d", h.Count())
	}
	if n := len(h.SubscribersOf(hub.TopicDepartment("flightops"))); n != 0 {
		t.Errorf("residual subscribers after disconnect: %d", n)
	}
}

func TestAuthOverWire(t *testing.T) {
	srv, _ := newTestServer(t)
	conn := dial(t, srv)
	readEnvelope(t, conn) // welcome

	writeEnvelope(t, conn, map[string]any{
		"type": "auth", "user_id": "1001", "user_name": "Ada", "department": "dispatch",
	})

	// Department subscription reply, then auth_success, then the stats push.
	var types []string
	for i := 0; i < 3; i++ {
		types = append(types, readEnvelope(t, conn)["type"].(string))
	}
	want := []string{wire.TypeSubscriptionSuccess, wire.TypeAuthSuccess, wire.TypeServerStats}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("reply sequence: got %v, want %v", types, want)
		}
	}
}
