package router_test

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xpressfeeder/opshub/internal/auth"
	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/internal/router"
	"github.com/xpressfeeder/opshub/internal/sim"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []map[string]any
	fail bool
}

func (f *fakeSender) Send(p []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("peer gone")
	}
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeSender) Close() error { return nil }

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeSender) byType(msgType string) []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []map[string]any
	for _, m := range f.sent {
		if m["type"] == msgType {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	hub    *hub.Hub
	router *router.Router
	sim    *sim.Simulator
}

func newFixture(t *testing.T, secret string) *fixture {
	t.Helper()
	h := hub.New()
	b := hub.NewBroadcaster(h, map[string][]string{
		"flight":   {"flightops", "dispatch"},
		"aircraft": {"flightops", "maintenance"},
		"cargo":    {"cargo", "flightops"},
		"crew":     {"crew", "flightops"},
		"dispatch": {"dispatch", "flightops"},
	})
	airports := map[string]flight.Airport{
		"ANC": {Code: "ANC", Lat: 61.1744, Lon: -149.9963},
		"CVG": {Code: "CVG", Lat: 39.0488, Lon: -84.6678},
	}
	s := sim.New(b, nil, airports, nil)
	r := router.New(h, b, auth.NewGate(secret), s, time.Now())
	return &fixture{hub: h, router: r, sim: s}
}

func (fx *fixture) connect(t *testing.T) (*hub.Conn, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	return fx.hub.Register(s), s
}

func (fx *fixture) send(t *testing.T, connID string, env map[string]any) {
	t.Helper()
	raw, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal test message: %v", err)
	}
	fx.router.Handle(connID, raw)
}

// --- parsing and dispatch ---------------------------------------------------

func TestHandle_MalformedJSON(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.router.Handle(c.ID, []byte("{not json"))

	errs := s.byType(wire.TypeError)
	if len(errs) != 1 || errs[0]["message"] != "Invalid JSON format" {
		t.Fatalf("error reply: %+v", s.sent)
	}
	if _, ok := fx.hub.Get(c.ID); !ok {
		t.Error("connection dropped on malformed input")
	}
}

func TestHandle_UnknownType(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "teleport"})

	errs := s.byType(wire.TypeError)
	if len(errs) != 1 || errs[0]["message"] != "Unknown message type: teleport" {
		t.Fatalf("error reply: %+v", s.sent)
	}
}

func TestHandle_MissingTypeField(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"flight_id": "XF1"})

	if len(s.byType(wire.TypeError)) != 1 {
		t.Fatalf("expected one error reply, got %+v", s.sent)
	}
}

// --- auth -------------------------------------------------------------------

func TestAuth_Success(t *testing.T) {
	fx := newFixture(t, "hangar-secret")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{
		"type":          "auth",
		"user_id":       "1001",
		"user_name":     "Ada",
		"department":    "flightops",
		"session_token": "hangar-secret",
	})

	ok := s.byType(wire.TypeAuthSuccess)
	if len(ok) != 1 {
		t.Fatalf("auth_success replies: %+v", s.sent)
	}
	if ok[0]["user_id"] != "1001" || ok[0]["connection_id"] != c.ID {
		t.Errorf("auth_success fields: %+v", ok[0])
	}

	// Authentication implies a department subscription and a stats push.
	if len(s.byType(wire.TypeSubscriptionSuccess)) != 1 {
		t.Errorf("expected default department subscription reply: %+v", s.sent)
	}
	if len(s.byType(wire.TypeServerStats)) != 1 {
		t.Errorf("expected initial stats push: %+v", s.sent)
	}

	subs := fx.hub.SubscribersOf(hub.TopicDepartment("flightops"))
	if len(subs) != 1 || subs[0] != c.ID {
		t.Errorf("department subscribers: %v", subs)
	}
	ident, _ := fx.hub.Identity(c.ID)
	if !ident.Authenticated || ident.UserID != "1001" {
		t.Errorf("identity after auth: %+v", ident)
	}
}

func TestAuth_BadToken(t *testing.T) {
	fx := newFixture(t, "hangar-secret")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{
		"type": "auth", "user_id": "1001", "session_token": "wrong",
	})

	if len(s.byType(wire.TypeAuthFailed)) != 1 {
		t.Fatalf("auth_failed replies: %+v", s.sent)
	}
	ident, _ := fx.hub.Identity(c.ID)
	if ident.Authenticated {
		t.Error("connection authenticated despite bad token")
	}
}

func TestAuth_MissingUserID(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "auth"})

	errs := s.byType(wire.TypeError)
	if len(errs) != 1 || errs[0]["message"] != "User ID required" {
		t.Fatalf("error reply: %+v", s.sent)
	}
}

// --- subscriptions ----------------------------------------------------------

func TestSubscribe_MissingIdentifier(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	cases := []struct {
		msgType string
		wantMsg string
	}{
		{"subscribe_flight", "Flight ID required"},
		{"subscribe_aircraft", "Aircraft registration required"},
		{"subscribe_cargo", "Cargo ID required"},
		{"subscribe_department", "Department required"},
		{"unsubscribe", "Subscription key required"},
	}
	for _, tc := range cases {
		fx.send(t, c.ID, map[string]any{"type": tc.msgType})
	}
	errs := s.byType(wire.TypeError)
	if len(errs) != len(cases) {
		t.Fatalf("got %d error replies, want %d: %+v", len(errs), len(cases), errs)
	}
	for i, tc := range cases {
		if errs[i]["message"] != tc.wantMsg {
			t.Errorf("%s: error %q, want %q", tc.msgType, errs[i]["message"], tc.wantMsg)
		}
	}
}

func TestSubscribeThenUnsubscribe(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "subscribe_flight", "flight_id": "XF801"})
	got := s.byType(wire.TypeSubscriptionSuccess)
	if len(got) != 1 || got[0]["flight_id"] != "XF801" {
		t.Fatalf("subscription reply: %+v", s.sent)
	}

	// The reply hands the client the key it needs to unsubscribe.
	key, _ := got[0]["subscription_key"].(string)
	if key != hub.TopicFlight("XF801") {
		t.Fatalf("subscription_key: got %q, want %q", key, hub.TopicFlight("XF801"))
	}

	fx.send(t, c.ID, map[string]any{"type": "unsubscribe", "subscription_key": key})
	if got := s.byType(wire.TypeUnsubscribeSuccess); len(got) != 1 {
		t.Fatalf("unsubscribe reply: %+v", s.sent)
	}
	if n := len(fx.hub.SubscribersOf(hub.TopicFlight("XF801"))); n != 0 {
		t.Errorf("residual subscribers: %d", n)
	}
}

// --- domain updates ---------------------------------------------------------

func TestFlightUpdate_FanOut(t *testing.T) {
	fx := newFixture(t, "")
	sub, subSender := fx.connect(t)
	dept, deptSender := fx.connect(t)
	_, bystander := fx.connect(t)
	sender, _ := fx.connect(t)

	fx.hub.Subscribe(sub.ID, hub.TopicFlight("XF801"))
	fx.hub.Subscribe(dept.ID, hub.TopicDepartment("dispatch"))

	fx.send(t, sender.ID, map[string]any{
		"type": "flight_update", "flight_id": "XF801", "status": "departed",
	})

	for name, fs := range map[string]*fakeSender{"flight subscriber": subSender, "dispatch": deptSender} {
		got := fs.byType("flight_update")
		if len(got) != 1 {
			t.Fatalf("%s: %+v", name, fs.sent)
		}
		if got[0]["timestamp"] == nil {
			t.Errorf("%s: missing server timestamp", name)
		}
	}
	if bystander.count() != 0 {
		t.Errorf("bystander received flight update: %+v", bystander.sent)
	}
}

func TestFlightUpdate_MissingID(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)
	other, otherSender := fx.connect(t)
	fx.hub.Subscribe(other.ID, hub.TopicDepartment("flightops"))

	fx.send(t, c.ID, map[string]any{"type": "flight_update"})

	if len(s.byType(wire.TypeError)) != 1 {
		t.Fatalf("error reply: %+v", s.sent)
	}
	if otherSender.count() != 0 {
		t.Errorf("broadcast happened without flight_id: %+v", otherSender.sent)
	}
}

func TestCrewUpdate_DepartmentsOnly(t *testing.T) {
	fx := newFixture(t, "")
	crew, crewSender := fx.connect(t)
	ops, opsSender := fx.connect(t)
	_, bystander := fx.connect(t)
	sender, _ := fx.connect(t)

	fx.hub.Subscribe(crew.ID, hub.TopicDepartment("crew"))
	fx.hub.Subscribe(ops.ID, hub.TopicDepartment("flightops"))

	fx.send(t, sender.ID, map[string]any{"type": "crew_checkin", "crew_id": "C77"})

	if len(crewSender.byType("crew_checkin")) != 1 || len(opsSender.byType("crew_checkin")) != 1 {
		t.Errorf("department delivery: crew=%d ops=%d", crewSender.count(), opsSender.count())
	}
	if bystander.count() != 0 {
		t.Errorf("bystander received crew update")
	}
}

// --- system-wide ------------------------------------------------------------

func TestSystemAlert_ReachesEveryClient(t *testing.T) {
	fx := newFixture(t, "")
	_, s1 := fx.connect(t)
	_, s2 := fx.connect(t) // subscribed to nothing
	sender, senderSock := fx.connect(t)

	fx.send(t, sender.ID, map[string]any{"type": "system_alert", "message": "runway 09 closed"})

	for i, fs := range []*fakeSender{s1, s2, senderSock} {
		got := fs.byType("system_alert")
		if len(got) != 1 {
			t.Fatalf("client %d: %+v", i, fs.sent)
		}
		if got[0]["priority"] != "high" {
			t.Errorf("client %d: priority %v, want default high", i, got[0]["priority"])
		}
	}
}

func TestSystemAlert_KeepsExplicitPriority(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "emergency", "priority": "critical"})

	got := s.byType("emergency")
	if len(got) != 1 || got[0]["priority"] != "critical" {
		t.Fatalf("emergency envelope: %+v", got)
	}
}

// --- privileged push --------------------------------------------------------

func authenticate(t *testing.T, fx *fixture, connID string) {
	t.Helper()
	fx.send(t, connID, map[string]any{
		"type": "auth", "user_id": "1001", "session_token": "",
	})
}

func TestFlightPush_RequiresAuth(t *testing.T) {
	fx := newFixture(t, "secret")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{
		"type": "flight_push",
		"data": map[string]any{"callsign": "XF1", "lat": 40.0, "lon": -73.0, "status": "airborne"},
	})

	errs := s.byType(wire.TypeError)
	if len(errs) != 1 || errs[0]["message"] != "Authentication required" {
		t.Fatalf("error reply: %+v", s.sent)
	}
	if len(fx.sim.Flights()) != 0 {
		t.Error("flight state mutated by unauthenticated push")
	}
}

func TestFlightPush_OutOfRangeLatitude(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)
	_, other := fx.connect(t)
	authenticate(t, fx, c.ID)
	before := s.count()

	fx.send(t, c.ID, map[string]any{
		"type": "flight_push",
		"data": map[string]any{"callsign": "XF1", "lat": 95.0, "lon": -73.0, "status": "airborne"},
	})

	if got := s.sent[before:]; len(got) != 1 || got[0]["type"] != wire.TypeError {
		t.Fatalf("replies after bad push: %+v", got)
	}
	if len(other.byType(wire.TypeFlightPosition)) != 0 {
		t.Error("broadcast emitted for rejected push")
	}
	if len(fx.sim.Flights()) != 0 {
		t.Error("flight state mutated by rejected push")
	}
}

func TestFlightPush_Success(t *testing.T) {
	fx := newFixture(t, "")
	c, _ := fx.connect(t)
	_, other := fx.connect(t)
	authenticate(t, fx, c.ID)

	fx.send(t, c.ID, map[string]any{
		"type": "flight_push",
		"data": map[string]any{
			"callsign": "XF801", "lat": 52.3, "lon": 4.76,
			"status": "airborne", "altitude": 31000, "groundspeed": 470,
		},
	})

	got := other.byType(wire.TypeFlightPosition)
	if len(got) != 1 {
		t.Fatalf("position broadcast: %+v", other.sent)
	}
	data, _ := got[0]["data"].(map[string]any)
	if data["callsign"] != "XF801" {
		t.Errorf("broadcast data: %+v", data)
	}

	flights := fx.sim.Flights()
	if len(flights) != 1 || flights[0].AltitudeFt != 31000 {
		t.Errorf("simulator state: %+v", flights)
	}
}

// --- utility ----------------------------------------------------------------

func TestPing(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "ping"})

	got := s.byType(wire.TypePong)
	if len(got) != 1 || got[0]["server_time"] == nil || got[0]["timestamp"] == nil {
		t.Fatalf("pong reply: %+v", s.sent)
	}
}

func TestGetStats_ReplyOnly(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)
	_, other := fx.connect(t)

	fx.send(t, c.ID, map[string]any{"type": "get_stats"})

	got := s.byType(wire.TypeServerStats)
	if len(got) != 1 {
		t.Fatalf("stats reply: %+v", s.sent)
	}
	if got[0]["total_connections"] != float64(2) {
		t.Errorf("total_connections: %v", got[0]["total_connections"])
	}
	if other.count() != 0 {
		t.Error("stats broadcast to other connections")
	}
}

func TestRequestFlights(t *testing.T) {
	fx := newFixture(t, "")
	c, s := fx.connect(t)
	fx.sim.Upsert(flight.State{Callsign: "XF801", Status: flight.StatusAirborne})

	fx.send(t, c.ID, map[string]any{"type": "request_flights"})

	got := s.byType(wire.TypeFlightList)
	if len(got) != 1 || got[0]["count"] != float64(1) {
		t.Fatalf("flight list reply: %+v", s.sent)
	}
}

// A send failure during a broadcast must not surface to the initiator and
// must leave the dead peer fully cleaned up.
func TestBroadcast_DeadPeerCleanup(t *testing.T) {
	fx := newFixture(t, "")
	dead, deadSender := fx.connect(t)
	sender, _ := fx.connect(t)
	fx.hub.Subscribe(dead.ID, hub.TopicFlight("XF1"))
	deadSender.fail = true

	fx.send(t, sender.ID, map[string]any{"type": "flight_update", "flight_id": "XF1"})

	if _, ok := fx.hub.Get(dead.ID); ok {
		t.Error("dead peer still registered")
	}
	if n := len(fx.hub.SubscribersOf(hub.TopicFlight("XF1"))); n != 0 {
		t.Errorf("dead peer still subscribed: %d", n)
	}
}
