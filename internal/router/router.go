// Package router turns inbound JSON envelopes into registry mutations,
// broadcasts, or direct replies. One entry point, Handle, dispatches on the
// envelope's type tag through a fixed handler table; malformed input is
// always answered with an error envelope to the sender and never faults the
// connection.
package router

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/xpressfeeder/opshub/internal/auth"
	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/internal/metrics"
	"github.com/xpressfeeder/opshub/internal/sim"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// Notifier escalates high-priority envelopes to out-of-band channels.
type Notifier interface {
	Escalate(env wire.Envelope)
}

type handlerFunc func(connID string, env wire.Envelope)

// Router dispatches inbound messages for the hub.
type Router struct {
	hub   *hub.Hub
	bcast *hub.Broadcaster
	gate  *auth.Gate
	sim   *sim.Simulator

	notifier Notifier
	start    time.Time
	now      func() time.Time

	handlers map[string]handlerFunc
}

// New builds a Router over the hub, broadcast engine, authentication gate
// and simulator. start anchors the uptime reported in stats replies.
func New(h *hub.Hub, b *hub.Broadcaster, gate *auth.Gate, s *sim.Simulator, start time.Time) *Router {
	r := &Router{
		hub:   h,
		bcast: b,
		gate:  gate,
		sim:   s,
		start: start,
		now:   time.Now,
	}
	r.handlers = map[string]handlerFunc{
		wire.TypeAuth: r.handleAuth,

		wire.TypeSubscribeFlight:     r.subscribeFlight,
		wire.TypeSubscribeAircraft:   r.subscribeAircraft,
		wire.TypeSubscribeCargo:      r.subscribeCargo,
		wire.TypeSubscribeDepartment: r.subscribeDepartment,
		wire.TypeUnsubscribe:         r.unsubscribe,

		wire.TypeFlightUpdate:       r.flightUpdate,
		wire.TypeFlightStatusChange: r.flightUpdate,
		wire.TypeFlightDeparture:    r.flightUpdate,
		wire.TypeFlightArrival:      r.flightUpdate,
		wire.TypeFlightDelay:        r.flightUpdate,

		wire.TypeAircraftStatus:      r.aircraftUpdate,
		wire.TypeAircraftLocation:    r.aircraftUpdate,
		wire.TypeAircraftMaintenance: r.aircraftUpdate,

		wire.TypeCargoUpdate:       r.cargoUpdate,
		wire.TypeCargoLoaded:       r.cargoUpdate,
		wire.TypeCargoUnloaded:     r.cargoUpdate,
		wire.TypeCargoStatusChange: r.cargoUpdate,

		wire.TypeCrewAssignment: r.crewUpdate,
		wire.TypeCrewCheckin:    r.crewUpdate,
		wire.TypeCrewCheckout:   r.crewUpdate,
		wire.TypeCrewUpdate:     r.crewUpdate,

		wire.TypeDispatchUpdate: r.dispatchUpdate,
		wire.TypeDispatchAlert:  r.dispatchUpdate,

		wire.TypeSystemAlert:  r.systemWide,
		wire.TypeBroadcastAll: r.systemWide,
		wire.TypeEmergency:    r.systemWide,

		wire.TypeFlightPush: r.flightPush,

		wire.TypePing:           r.ping,
		wire.TypeGetStats:       r.getStats,
		wire.TypeRequestFlights: r.requestFlights,
	}
	return r
}

// WithNotifier attaches an out-of-band escalation channel for system-wide
// messages.
func (r *Router) WithNotifier(n Notifier) { r.notifier = n }

// WithClock overrides the router clock for deterministic tests.
func (r *Router) WithClock(clock func() time.Time) {
	if clock != nil {
		r.now = clock
	}
}

// Handle parses one raw frame from connID and dispatches it. It never
// returns an error: every failure mode is answered on the wire.
func (r *Router) Handle(connID string, raw []byte) {
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env == nil {
		r.sendError(connID, "Invalid JSON format")
		return
	}

	msgType, _ := env["type"].(string)
	h, ok := r.handlers[msgType]
	if !ok {
		metrics.MessagesRouted.WithLabelValues("unknown").Inc()
		r.sendError(connID, "Unknown message type: "+msgType)
		return
	}
	metrics.MessagesRouted.WithLabelValues(msgType).Inc()
	h(connID, env)
}

// --- authentication ---------------------------------------------------------

func (r *Router) handleAuth(connID string, env wire.Envelope) {
	userID := stringField(env, "user_id")
	if userID == "" {
		r.sendError(connID, "User ID required")
		return
	}
	token := stringField(env, "session_token")
	if !r.gate.Validate(token) {
		slog.Warn("router: authentication failed", "conn_id", connID, "user_id", userID)
		r.bcast.ToConnection(connID, wire.Envelope{
			"type":    wire.TypeAuthFailed,
			"message": "Invalid session token",
		})
		return
	}

	userName := stringField(env, "user_name")
	if userName == "" {
		userName = "Unknown User"
	}
	department := stringField(env, "department")

	r.hub.Authenticate(connID, userID, userName, department)
	slog.Info("router: user authenticated",
		"conn_id", connID, "user_id", userID, "user_name", userName, "department", department)

	if department != "" {
		r.subscribeDepartment(connID, wire.Envelope{"department": department})
	}

	r.bcast.ToConnection(connID, wire.Envelope{
		"type":          wire.TypeAuthSuccess,
		"user_id":       userID,
		"department":    department,
		"message":       "Authentication successful",
		"server_time":   r.now().UTC().Format(wire.TimeLayout),
		"connection_id": connID,
	})
	r.getStats(connID, nil)
}

// --- subscriptions ----------------------------------------------------------

func (r *Router) subscribeFlight(connID string, env wire.Envelope) {
	flightID := stringField(env, "flight_id")
	if flightID == "" {
		r.sendError(connID, "Flight ID required")
		return
	}
	key := hub.TopicFlight(flightID)
	r.hub.Subscribe(connID, key)
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":             wire.TypeSubscriptionSuccess,
		"subscription":     "flight",
		"flight_id":        flightID,
		"subscription_key": key,
		"message":          "Subscribed to flight " + flightID + " updates",
	})
}

func (r *Router) subscribeAircraft(connID string, env wire.Envelope) {
	reg := stringField(env, "aircraft_registration")
	if reg == "" {
		r.sendError(connID, "Aircraft registration required")
		return
	}
	key := hub.TopicAircraft(reg)
	r.hub.Subscribe(connID, key)
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":                  wire.TypeSubscriptionSuccess,
		"subscription":          "aircraft",
		"aircraft_registration": reg,
		"subscription_key":      key,
		"message":               "Subscribed to aircraft " + reg + " updates",
	})
}

func (r *Router) subscribeCargo(connID string, env wire.Envelope) {
	cargoID := stringField(env, "cargo_id")
	if cargoID == "" {
		r.sendError(connID, "Cargo ID required")
		return
	}
	key := hub.TopicCargo(cargoID)
	r.hub.Subscribe(connID, key)
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":             wire.TypeSubscriptionSuccess,
		"subscription":     "cargo",
		"cargo_id":         cargoID,
		"subscription_key": key,
		"message":          "Subscribed to cargo " + cargoID + " updates",
	})
}

func (r *Router) subscribeDepartment(connID string, env wire.Envelope) {
	department := stringField(env, "department")
	if department == "" {
		r.sendError(connID, "Department required")
		return
	}
	key := hub.TopicDepartment(department)
	r.hub.Subscribe(connID, key)
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":             wire.TypeSubscriptionSuccess,
		"subscription":     "department",
		"department":       department,
		"subscription_key": key,
		"message":          "Subscribed to " + department + " department updates",
	})
}

func (r *Router) unsubscribe(connID string, env wire.Envelope) {
	key := stringField(env, "subscription_key")
	if key == "" {
		r.sendError(connID, "Subscription key required")
		return
	}
	r.hub.Unsubscribe(connID, key)
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":             wire.TypeUnsubscribeSuccess,
		"subscription_key": key,
	})
}

// --- domain updates ---------------------------------------------------------

func (r *Router) flightUpdate(connID string, env wire.Envelope) {
	flightID := stringField(env, "flight_id")
	if flightID == "" {
		r.sendError(connID, "Flight ID required")
		return
	}
	r.stamp(env)
	r.bcast.FanOut("flight", flightID, env)
}

func (r *Router) aircraftUpdate(connID string, env wire.Envelope) {
	reg := stringField(env, "aircraft_registration")
	if reg == "" {
		r.sendError(connID, "Aircraft registration required")
		return
	}
	r.stamp(env)
	r.bcast.FanOut("aircraft", reg, env)
}

func (r *Router) cargoUpdate(connID string, env wire.Envelope) {
	cargoID := stringField(env, "cargo_id")
	if cargoID == "" {
		r.sendError(connID, "Cargo ID required")
		return
	}
	r.stamp(env)
	r.bcast.FanOut("cargo", cargoID, env)
}

func (r *Router) crewUpdate(connID string, env wire.Envelope) {
	r.stamp(env)
	r.bcast.FanOut("crew", "", env)
}

func (r *Router) dispatchUpdate(connID string, env wire.Envelope) {
	r.stamp(env)
	r.bcast.FanOut("dispatch", "", env)
}

// --- system-wide ------------------------------------------------------------

func (r *Router) systemWide(connID string, env wire.Envelope) {
	r.stamp(env)
	if _, ok := env["priority"]; !ok {
		env["priority"] = "high"
	}
	msgType, _ := env["type"].(string)
	slog.Warn("router: system-wide broadcast", "type", msgType, "priority", env["priority"])
	r.bcast.ToAll(env)
	if r.notifier != nil {
		r.notifier.Escalate(env)
	}
}

// --- privileged push --------------------------------------------------------

func (r *Router) flightPush(connID string, env wire.Envelope) {
	ident, ok := r.hub.Identity(connID)
	if !ok || !ident.Authenticated {
		r.sendError(connID, "Authentication required")
		return
	}
	data, ok := env["data"].(map[string]any)
	if !ok {
		r.sendError(connID, "Flight data required")
		return
	}

	push, err := auth.SanitizePush(data)
	if err != nil {
		slog.Warn("router: flight push rejected",
			"conn_id", connID, "user_id", ident.UserID, "err", err)
		r.sendError(connID, err.Error())
		return
	}

	state := r.sim.ApplyPush(push)
	r.bcast.ToAll(wire.Envelope{
		"type":      wire.TypeFlightPosition,
		"data":      state,
		"timestamp": state.UpdatedAt.UTC().Format(wire.TimeLayout),
	})
}

// --- utility ----------------------------------------------------------------

func (r *Router) ping(connID string, env wire.Envelope) {
	now := r.now()
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":        wire.TypePong,
		"timestamp":   now.Unix(),
		"server_time": now.UTC().Format(wire.TimeLayout),
	})
}

func (r *Router) getStats(connID string, _ wire.Envelope) {
	r.bcast.ToConnection(connID, r.hub.Stats(r.start))
}

func (r *Router) requestFlights(connID string, env wire.Envelope) {
	flights := r.sim.Flights()
	if flights == nil {
		flights = []flight.State{}
	}
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":      wire.TypeFlightList,
		"flights":   flights,
		"count":     len(flights),
		"timestamp": r.now().UTC().Format(wire.TimeLayout),
	})
}

// --- helpers ----------------------------------------------------------------

// stamp overwrites the envelope's timestamp with server time.
func (r *Router) stamp(env wire.Envelope) {
	env["timestamp"] = r.now().UTC().Format(wire.TimeLayout)
}

func (r *Router) sendError(connID, message string) {
	r.bcast.ToConnection(connID, wire.Envelope{
		"type":      wire.TypeError,
		"message":   message,
		"timestamp": r.now().UTC().Format(wire.TimeLayout),
	})
}

func stringField(env wire.Envelope, key string) string {
	s, _ := env[key].(string)
	return s
}
