package hub

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpressfeeder/opshub/internal/metrics"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// Hub is the connection registry and topic index. One lock guards both maps:
// per-entry locking would reintroduce the bidirectional-consistency hazard
// between a connection's subscription set and the topic subscriber sets.
type Hub struct {
	mu     sync.Mutex
	conns  map[string]*Conn
	topics map[string]map[string]struct{} // topic key -> set of conn IDs
	users  map[string]map[string]struct{} // user ID -> set of conn IDs

	now func() time.Time
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{
		conns:  make(map[string]*Conn),
		topics: make(map[string]map[string]struct{}),
		users:  make(map[string]map[string]struct{}),
		now:    time.Now,
	}
}

// WithClock overrides the hub clock, enabling deterministic stale-sweep tests.
func (h *Hub) WithClock(clock func() time.Time) {
	if clock != nil {
		h.now = clock
	}
}

// Register adds a live transport to the registry and returns its connection.
// The identifier is unique for the process lifetime; subscriptions start
// empty and the connection starts unauthenticated.
func (h *Hub) Register(s Sender) *Conn {
	c := &Conn{
		ID:            uuid.NewString(),
		CreatedAt:     h.now(),
		sender:        s,
		subscriptions: make(map[string]struct{}),
	}

	h.mu.Lock()
	h.conns[c.ID] = c
	total := len(h.conns)
	h.mu.Unlock()

	metrics.ConnectionsActive.Set(float64(total))
	slog.Info("hub: connection registered", "conn_id", c.ID, "active", total)
	return c
}

// Unregister removes the connection and atomically evicts it from every
// topic subscriber set and from the authenticated-users table. The transport
// is closed best-effort. Unknown IDs are a no-op.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	c, ok := h.conns[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.conns, id)
	for topic := range c.subscriptions {
		h.dropSubscriberLocked(topic, id)
	}
	if c.userID != "" {
		h.dropUserLocked(c.userID, id)
	}
	total := len(h.conns)
	h.mu.Unlock()

	_ = c.sender.Close()
	metrics.ConnectionsActive.Set(float64(total))
	slog.Info("hub: connection removed", "conn_id", id, "user_id", c.userID, "active", total)
}

// Get returns the connection for id.
func (h *Hub) Get(id string) (*Conn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	return c, ok
}

// ForEach calls fn with every currently registered connection ID. The
// snapshot is taken under the lock; fn runs outside it and may safely call
// back into the Hub.
func (h *Hub) ForEach(fn func(id string)) {
	for _, id := range h.connIDs() {
		fn(id)
	}
}

// Count returns the number of live connections.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// --- topic index ------------------------------------------------------------

// Subscribe adds the connection to the topic's subscriber set and the topic
// key to the connection's subscription set. Re-subscribing to a held topic
// is a no-op that still reports success. Returns false only when the
// connection is unknown.
func (h *Hub) Subscribe(id, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	c.subscriptions[topic] = struct{}{}
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[string]struct{})
		h.topics[topic] = set
	}
	set[id] = struct{}{}
	return true
}

// Unsubscribe removes the topic from the connection. Removing a topic the
// connection does not hold is a no-op, not an error.
func (h *Hub) Unsubscribe(id, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return
	}
	delete(c.subscriptions, topic)
	h.dropSubscriberLocked(topic, id)
}

// SubscribersOf returns the IDs of the topic's current subscribers.
func (h *Hub) SubscribersOf(topic string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.topics[topic]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// SubscriptionsOf returns a copy of the connection's topic keys.
func (h *Hub) SubscriptionsOf(id string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(c.subscriptions))
	for t := range c.subscriptions {
		out = append(out, t)
	}
	return out
}

// --- authentication state ---------------------------------------------------

// Authenticate marks the connection authenticated and records its identity
// in the users table.
func (h *Hub) Authenticate(id, userID, userName, department string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return false
	}
	if c.userID != "" && c.userID != userID {
		h.dropUserLocked(c.userID, id)
	}
	c.authenticated = true
	c.userID = userID
	c.userName = userName
	c.department = department
	set, ok := h.users[userID]
	if !ok {
		set = make(map[string]struct{})
		h.users[userID] = set
	}
	set[id] = struct{}{}
	return true
}

// Identity returns a copy of the connection's authentication state.
func (h *Hub) Identity(id string) (Identity, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[id]
	if !ok {
		return Identity{}, false
	}
	return Identity{
		Authenticated: c.authenticated,
		UserID:        c.userID,
		UserName:      c.userName,
		Department:    c.department,
	}, true
}

// ConnsOfUser returns the connection IDs a user currently holds open.
func (h *Hub) ConnsOfUser(userID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.users[userID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	return out
}

// --- maintenance ------------------------------------------------------------

// CloseStale disconnects connections that have not authenticated within
// window and returns how many were closed.
func (h *Hub) CloseStale(window time.Duration) int {
	cutoff := h.now().Add(-window)

	h.mu.Lock()
	var stale []string
	for id, c := range h.conns {
		if !c.authenticated && c.CreatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		slog.Info("hub: closing stale unauthenticated connection", "conn_id", id)
		h.Unregister(id)
	}
	return len(stale)
}

// Stats summarizes the registry and topic index for the server_stats reply.
func (h *Hub) Stats(start time.Time) wire.Stats {
	h.mu.Lock()
	subs := wire.SubscriptionStats{Departments: make(map[string]int)}
	for topic, set := range h.topics {
		if len(set) == 0 {
			continue
		}
		switch topicKind(topic) {
		case "flight":
			subs.Flights++
		case "aircraft":
			subs.Aircraft++
		case "cargo":
			subs.Cargo++
		case "department":
			subs.Departments[topic[len("department:"):]] = len(set)
		}
	}
	total := len(h.conns)
	authed := len(h.users)
	h.mu.Unlock()

	now := h.now()
	uptime := now.Sub(start)
	return wire.Stats{
		Type:               wire.TypeServerStats,
		TotalConnections:   total,
		AuthenticatedUsers: authed,
		Subscriptions:      subs,
		ServerUptime:       formatUptime(uptime),
		ServerTime:         now.UTC().Format(wire.TimeLayout),
	}
}

// formatUptime renders HH:MM:SS with unbounded hours.
func formatUptime(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, (secs%3600)/60, secs%60)
}

// Send delivers an already-marshaled payload to one connection, applying
// the implicit-disconnect rule on failure. Reports whether delivery
// succeeded.
func (h *Hub) Send(id string, payload []byte) bool {
	return h.send(id, payload)
}

// --- internal ---------------------------------------------------------------

// dropSubscriberLocked removes id from a topic set and deletes the set once
// empty. Caller holds h.mu.
func (h *Hub) dropSubscriberLocked(topic, id string) {
	set, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(h.topics, topic)
	}
}

// dropUserLocked removes id from a user's connection set. Caller holds h.mu.
func (h *Hub) dropUserLocked(userID, id string) {
	set, ok := h.users[userID]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(h.users, userID)
	}
}

// connIDs snapshots the registered connection IDs.
func (h *Hub) connIDs() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.conns))
	for id := range h.conns {
		out = append(out, id)
	}
	return out
}

// send delivers payload to one connection, applying the implicit-disconnect
// rule on failure. Reports whether delivery succeeded.
func (h *Hub) send(id string, payload []byte) bool {
	h.mu.Lock()
	c, ok := h.conns[id]
	h.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.sender.Send(payload); err != nil {
		metrics.DeliveryFailures.Inc()
		slog.Debug("hub: send failed, treating peer as disconnected",
			"conn_id", id, "err", err)
		h.Unregister(id)
		return false
	}
	return true
}
