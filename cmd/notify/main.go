// notify is a one-shot command-line client for the hub: it connects,
// optionally authenticates, sends a single JSON envelope, and prints the
// first reply. Intended for shell scripts and cron jobs that push
// operational events.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xpressfeeder/opshub/pkg/wire"
)

const replyTimeout = 5 * time.Second

func main() {
	addr := flag.String("addr", "ws://localhost:8080/ws", "hub websocket URL")
	userID := flag.String("user", "", "authenticate as this user before sending")
	department := flag.String("department", "", "department for authentication")
	tokenEnv := flag.String("token-env", "OPSHUB_TOKEN", "environment variable holding the bearer token")
	payload := flag.String("payload", "-", "JSON envelope to send, or - to read from stdin")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := run(*addr, *userID, *department, os.Getenv(*tokenEnv), *payload); err != nil {
		slog.Error("notify failed", "err", err)
		os.Exit(1)
	}
}

func run(addr, userID, department, token, payload string) error {
	raw, err := readPayload(payload)
	if err != nil {
		return err
	}
	var env wire.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("payload is not a JSON object: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(addr, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()

	welcome, err := readReply(conn)
	if err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	slog.Info("connected", "connection_id", welcome["connection_id"])

	if userID != "" {
		if err := authenticate(conn, userID, department, token); err != nil {
			return err
		}
	}

	if err := writeEnvelope(conn, env); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	reply, err := readReply(conn)
	if err != nil {
		// Fan-out message types get no direct reply; that is success.
		slog.Info("sent, no direct reply", "type", env["type"])
		return nil
	}
	out, _ := json.Marshal(reply)
	fmt.Println(string(out))
	if reply["type"] == wire.TypeError {
		return fmt.Errorf("hub rejected message: %v", reply["message"])
	}
	return nil
}

func authenticate(conn *websocket.Conn, userID, department, token string) error {
	err := writeEnvelope(conn, wire.Envelope{
		"type":          wire.TypeAuth,
		"user_id":       userID,
		"department":    department,
		"session_token": token,
	})
	if err != nil {
		return fmt.Errorf("send auth: %w", err)
	}

	// Authentication may be preceded by a department subscription reply and
	// followed by a stats push; scan for the verdict.
	for i := 0; i < 4; i++ {
		reply, err := readReply(conn)
		if err != nil {
			return fmt.Errorf("auth reply: %w", err)
		}
		switch reply["type"] {
		case wire.TypeAuthSuccess:
			slog.Info("authenticated", "user_id", userID)
			return nil
		case wire.TypeAuthFailed, wire.TypeError:
			return fmt.Errorf("authentication failed: %v", reply["message"])
		}
	}
	return fmt.Errorf("no authentication verdict received")
}

func readPayload(payload string) ([]byte, error) {
	if payload != "-" {
		return []byte(payload), nil
	}
	raw, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, fmt.Errorf("read stdin: %w", err)
	}
	return raw, nil
}

func writeEnvelope(conn *websocket.Conn, env wire.Envelope) error {
	conn.SetWriteDeadline(time.Now().Add(replyTimeout))
	return conn.WriteJSON(env)
}

func readReply(conn *websocket.Conn) (wire.Envelope, error) {
	conn.SetReadDeadline(time.Now().Add(replyTimeout))
	var env wire.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		return nil, err
	}
	return env, nil
}
