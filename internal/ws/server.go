// Package ws is the websocket transport. It upgrades HTTP connections,
// registers each one with the hub, and pumps frames in both directions: a
// read loop feeds inbound frames to the router, a buffered write loop with
// ping keepalives drains outbound envelopes. A client that cannot keep up
// with its send buffer is treated as gone.
package ws

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong response before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod controls how often the server sends WebSocket ping frames.
	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize bounds one inbound JSON frame.
	maxFrameSize = 64 * 1024

	// sendBufSize is the per-client outgoing message buffer depth.
	sendBufSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Allow all origins — callers should apply CORS at the reverse-proxy level.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ErrSlowClient is returned by Send when the client's outgoing buffer is
// full; the hub treats it like any other dead peer.
var ErrSlowClient = errors.New("ws: client send buffer full")

// Handler consumes inbound frames from a connection.
type Handler interface {
	Handle(connID string, raw []byte)
}

// Server is the /ws endpoint.
type Server struct {
	hub    *hub.Hub
	router Handler
}

// NewServer wires the websocket endpoint to the hub and the message router.
func NewServer(h *hub.Hub, router Handler) *Server {
	return &Server{hub: h, router: router}
}

// ServeHTTP upgrades the connection, registers it with the hub, sends the
// welcome envelope, and blocks pumping frames until the peer goes away.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader has already written the error response.
		return
	}

	c := &client{
		conn: conn,
		send: make(chan []byte, sendBufSize),
	}
	hc := s.hub.Register(c)
	go c.writePump()

	s.welcome(hc.ID)
	s.readPump(hc.ID, c)

	// Read loop done: the peer closed or timed out.
	s.hub.Unregister(hc.ID)
}

// welcome sends the connection_established envelope through the hub so a
// failed send gets the usual implicit-disconnect treatment.
func (s *Server) welcome(connID string) {
	env := wire.Envelope{
		"type":               wire.TypeConnectionEstablished,
		"connection_id":      connID,
		"server":             "Xpress Feeder Operations Hub",
		"version":            "1.0",
		"timestamp":          time.Now().UTC().Format(wire.TimeLayout),
		"active_connections": s.hub.Count(),
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	s.hub.Send(connID, payload)
}

// readPump feeds inbound frames to the router until the connection dies.
func (s *Server) readPump(connID string, c *client) {
	defer c.conn.Close()
	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read failed", "conn_id", connID, "err", err)
			}
			return
		}
		s.router.Handle(connID, raw)
	}
}

// --- client -----------------------------------------------------------------

// client adapts one gorilla connection to the hub's Sender interface.
type client struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
}

// Send queues one marshaled envelope for the write pump. It never blocks: a
// full buffer means the peer is too slow and the connection is reported dead.
func (c *client) Send(payload []byte) (err error) {
	defer func() {
		// Losing the race with Close is equivalent to a dead peer.
		if recover() != nil {
			err = ErrSlowClient
		}
	}()
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSlowClient
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *client) Close() error {
	c.closeOnce.Do(func() { close(c.send) })
	return nil
}

// writePump drains the send channel onto the wire and keeps the connection
// alive with periodic pings. Runs in its own goroutine per client.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if !ok {
				// Channel was closed (hub removed the client).
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
