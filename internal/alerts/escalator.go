// Package alerts escalates system-wide hub messages to out-of-band webhook
// channels (Slack, Teams, plain HTTP). Delivery is asynchronous and
// best-effort: a failing webhook is logged, never surfaced to the client
// that triggered the alert.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xpressfeeder/opshub/internal/config"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

const (
	defaultCooldown = 5 * time.Minute
	maxHistoryLen   = 200
)

// Event is one escalated alert kept in the recent history.
type Event struct {
	Type     string    `json:"type"`
	Priority string    `json:"priority"`
	Message  string    `json:"message"`
	FiredAt  time.Time `json:"fired_at"`
}

// Escalator forwards system-wide envelopes to configured webhooks. Repeated
// alerts of the same type inside the cooldown window are delivered to
// clients as usual but not re-escalated.
//
// Escalator is safe for concurrent use.
type Escalator struct {
	webhooks []config.WebhookConfig
	cooldown time.Duration

	mu       sync.Mutex
	lastFire map[string]time.Time // message type -> last escalation
	history  []Event
	client   *http.Client
	now      func() time.Time
}

// New creates an Escalator for the configured webhook targets. With no
// targets, Escalate still records history but delivers nothing.
func New(webhooks []config.WebhookConfig) *Escalator {
	return &Escalator{
		webhooks: webhooks,
		cooldown: defaultCooldown,
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

// WithCooldown overrides the per-type escalation cooldown.
func (e *Escalator) WithCooldown(d time.Duration) { e.cooldown = d }

// WithClock overrides the escalator clock for deterministic tests.
func (e *Escalator) WithClock(clock func() time.Time) {
	if clock != nil {
		e.now = clock
	}
}

// Escalate records the envelope and triggers webhook delivery unless the
// same message type fired within the cooldown window.
func (e *Escalator) Escalate(env wire.Envelope) {
	msgType, _ := env["type"].(string)
	priority, _ := env["priority"].(string)
	message, _ := env["message"].(string)
	now := e.now()

	ev := Event{Type: msgType, Priority: priority, Message: message, FiredAt: now}

	e.mu.Lock()
	e.history = append(e.history, ev)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	if now.Sub(e.lastFire[msgType]) <= e.cooldown {
		e.mu.Unlock()
		slog.Debug("alerts: escalation suppressed by cooldown", "type", msgType)
		return
	}
	e.lastFire[msgType] = now
	e.mu.Unlock()

	slog.Warn("alerts: escalating system-wide message",
		"type", msgType, "priority", priority)
	go e.deliver(ev)
}

// Recent returns the escalation history inside the window, newest last.
func (e *Escalator) Recent(window time.Duration) []Event {
	cutoff := e.now().Add(-window)

	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, 0, len(e.history))
	for _, ev := range e.history {
		if ev.FiredAt.After(cutoff) {
			out = append(out, ev)
		}
	}
	return out
}

// deliver sends the event to every configured webhook. Errors are logged
// and do not affect the caller.
func (e *Escalator) deliver(ev Event) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = e.sendSlack(url, ev)
		case "teams":
			err = e.sendTeams(url, ev)
		case "http":
			err = e.sendHTTP(url, ev)
		default:
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "alert", ev.Type, "err", err)
		} else {
			slog.Debug("alerts: webhook delivered", "type", wh.Type, "alert", ev.Type)
		}
	}
}

func (e *Escalator) sendSlack(url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* %s", priorityLabel(ev.Priority), ev.Message),
	})
	return e.post(url, body)
}

func (e *Escalator) sendTeams(url string, ev Event) error {
	payload := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": priorityColor(ev.Priority),
		"summary":    ev.Type,
		"title":      fmt.Sprintf("OpsHub Alert: %s", ev.Type),
		"text":       ev.Message,
	}
	body, _ := json.Marshal(payload)
	return e.post(url, body)
}

func (e *Escalator) sendHTTP(url string, ev Event) error {
	body, _ := json.Marshal(map[string]any{"alert": ev})
	return e.post(url, body)
}

func (e *Escalator) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func priorityLabel(p string) string {
	switch p {
	case "critical":
		return "[CRITICAL]"
	case "high":
		return "[HIGH]"
	default:
		return "[INFO]"
	}
}

func priorityColor(p string) string {
	switch p {
	case "critical":
		return "FF4F6A"
	case "high":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
