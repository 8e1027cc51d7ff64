package hub

import (
	"strings"
	"time"
)

// Sender delivers one marshaled envelope to a peer transport. A returned
// error means the peer is gone; the hub reacts with an implicit disconnect.
type Sender interface {
	Send(payload []byte) error
	Close() error
}

// Conn is the per-connection state for one live transport session. All
// fields beyond the immutable ID and CreatedAt are owned by the Hub and
// mutated only under its lock; read them through Hub accessors.
type Conn struct {
	ID        string
	CreatedAt time.Time

	sender Sender

	authenticated bool
	userID        string
	userName      string
	department    string

	subscriptions map[string]struct{}
}

// Identity is a point-in-time copy of a connection's authentication state.
type Identity struct {
	Authenticated bool
	UserID        string
	UserName      string
	Department    string
}

// Topic key constructors for the four subscribable kinds.

func TopicFlight(id string) string       { return "flight:" + id }
func TopicAircraft(reg string) string    { return "aircraft:" + reg }
func TopicCargo(id string) string        { return "cargo:" + id }
func TopicDepartment(name string) string { return "department:" + name }

// topicKind extracts the kind prefix of a topic key.
func topicKind(topic string) string {
	kind, _, _ := strings.Cut(topic, ":")
	return kind
}
