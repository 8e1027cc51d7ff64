// Package wire defines the JSON message vocabulary shared by the hub server
// and its clients. Every frame, inbound or outbound, is a single JSON object
// with a mandatory "type" field; the constants here are the canonical type
// tags.
package wire

// Inbound message types handled by the router.
const (
	TypeAuth = "auth"

	TypeSubscribeFlight     = "subscribe_flight"
	TypeSubscribeAircraft   = "subscribe_aircraft"
	TypeSubscribeCargo      = "subscribe_cargo"
	TypeSubscribeDepartment = "subscribe_department"
	TypeUnsubscribe         = "unsubscribe"

	TypeFlightUpdate       = "flight_update"
	TypeFlightStatusChange = "flight_status_change"
	TypeFlightDeparture    = "flight_departure"
	TypeFlightArrival      = "flight_arrival"
	TypeFlightDelay        = "flight_delay"

	TypeAircraftStatus      = "aircraft_status"
	TypeAircraftLocation    = "aircraft_location"
	TypeAircraftMaintenance = "aircraft_maintenance"

	TypeCargoUpdate       = "cargo_update"
	TypeCargoLoaded       = "cargo_loaded"
	TypeCargoUnloaded     = "cargo_unloaded"
	TypeCargoStatusChange = "cargo_status_change"

	TypeCrewAssignment = "crew_assignment"
	TypeCrewCheckin    = "crew_checkin"
	TypeCrewCheckout   = "crew_checkout"
	TypeCrewUpdate     = "crew_update"

	TypeDispatchUpdate = "dispatch_update"
	TypeDispatchAlert  = "dispatch_alert"

	TypeSystemAlert  = "system_alert"
	TypeBroadcastAll = "broadcast_all"
	TypeEmergency    = "emergency"

	TypeFlightPush = "flight_push"

	TypePing           = "ping"
	TypeGetStats       = "get_stats"
	TypeRequestFlights = "request_flights"
)

// Outbound message types emitted by the hub.
const (
	TypeConnectionEstablished = "connection_established"
	TypeAuthSuccess           = "auth_success"
	TypeAuthFailed            = "auth_failed"
	TypeSubscriptionSuccess   = "subscription_success"
	TypeUnsubscribeSuccess    = "unsubscribe_success"
	TypeFlightPosition        = "flight_position"
	TypeFlightStatus          = "flight_status"
	TypeFlightList            = "flight_list"
	TypeServerStats           = "server_stats"
	TypePong                  = "pong"
	TypeError                 = "error"
)

// TimeLayout is the human-readable timestamp format stamped onto broadcast
// envelopes and replies.
const TimeLayout = "2006-01-02 15:04:05"

// Envelope is the dynamic form of a message. Domain updates are forwarded
// unchanged apart from the server timestamp stamp, so the router works on
// this shape rather than per-type structs.
type Envelope = map[string]any

// Stats is the payload of a server_stats reply and of GET /api/v1/stats.
type Stats struct {
	Type               string            `json:"type"`
	TotalConnections   int               `json:"total_connections"`
	AuthenticatedUsers int               `json:"authenticated_users"`
	Subscriptions      SubscriptionStats `json:"subscriptions"`
	ServerUptime       string            `json:"server_uptime"`
	ServerTime         string            `json:"server_time"`
}

// SubscriptionStats breaks the topic index down by topic kind.
type SubscriptionStats struct {
	Flights     int            `json:"flights"`
	Aircraft    int            `json:"aircraft"`
	Cargo       int            `json:"cargo"`
	Departments map[string]int `json:"departments"`
}
