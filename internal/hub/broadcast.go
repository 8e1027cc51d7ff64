package hub

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/xpressfeeder/opshub/internal/metrics"
)

// Broadcaster delivers outbound envelopes through the hub. All four modes
// are best-effort: no acknowledgment, no retry. A send failure removes that
// one connection and the fan-out continues for the rest.
type Broadcaster struct {
	hub *Hub

	mu     sync.RWMutex
	routes map[string][]string // update kind -> departments
}

// NewBroadcaster wires a Broadcaster to the hub with the given department
// routing table.
func NewBroadcaster(h *Hub, routes map[string][]string) *Broadcaster {
	return &Broadcaster{hub: h, routes: routes}
}

// SetRoutes swaps the department routing table, e.g. after a config reload.
func (b *Broadcaster) SetRoutes(routes map[string][]string) {
	b.mu.Lock()
	b.routes = routes
	b.mu.Unlock()
	slog.Info("broadcast: routing table updated", "kinds", len(routes))
}

// Departments returns the fan-out targets for an update kind.
func (b *Broadcaster) Departments(kind string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.routes[kind]
}

// ToConnection sends the envelope to a single connection.
func (b *Broadcaster) ToConnection(id string, v any) {
	payload, err := marshal(v)
	if err != nil {
		return
	}
	metrics.BroadcastsSent.WithLabelValues("connection").Inc()
	b.hub.send(id, payload)
}

// ToTopic sends the envelope to every subscriber of the topic key.
func (b *Broadcaster) ToTopic(topic string, v any) {
	payload, err := marshal(v)
	if err != nil {
		return
	}
	metrics.BroadcastsSent.WithLabelValues("topic").Inc()
	for _, id := range b.hub.SubscribersOf(topic) {
		b.hub.send(id, payload)
	}
}

// ToDepartment sends the envelope to every subscriber of the department
// topic.
func (b *Broadcaster) ToDepartment(name string, v any) {
	b.ToTopic(TopicDepartment(name), v)
}

// ToAll sends the envelope to every connected client regardless of
// subscriptions.
func (b *Broadcaster) ToAll(v any) {
	payload, err := marshal(v)
	if err != nil {
		return
	}
	metrics.BroadcastsSent.WithLabelValues("all").Inc()
	for _, id := range b.hub.connIDs() {
		b.hub.send(id, payload)
	}
}

// FanOut delivers a domain update to the subscribers of kind:id plus the
// departments the routing table names for the kind. A connection subscribed
// to both the entity topic and a department receives the envelope once.
func (b *Broadcaster) FanOut(kind, id string, v any) {
	payload, err := marshal(v)
	if err != nil {
		return
	}
	metrics.BroadcastsSent.WithLabelValues("topic").Inc()

	targets := make(map[string]struct{})
	if id != "" {
		for _, cid := range b.hub.SubscribersOf(kind + ":" + id) {
			targets[cid] = struct{}{}
		}
	}
	for _, dept := range b.Departments(kind) {
		for _, cid := range b.hub.SubscribersOf(TopicDepartment(dept)) {
			targets[cid] = struct{}{}
		}
	}
	for cid := range targets {
		b.hub.send(cid, payload)
	}
}

func marshal(v any) ([]byte, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("broadcast: envelope marshal failed", "err", err)
		return nil, err
	}
	return payload, nil
}
