package alerts_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/xpressfeeder/opshub/internal/alerts"
	"github.com/xpressfeeder/opshub/internal/config"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// capture collects webhook request bodies.
type capture struct {
	mu     sync.Mutex
	bodies []map[string]any
}

func (c *capture) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var m map[string]any
		json.Unmarshal(raw, &m)
		c.mu.Lock()
		c.bodies = append(c.bodies, m)
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (c *capture) wait(t *testing.T, n int) []map[string]any {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.bodies)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) < n {
		t.Fatalf("webhook deliveries: got %d, want at least %d", len(c.bodies), n)
	}
	return append([]map[string]any(nil), c.bodies...)
}

func (c *capture) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.bodies)
}

func TestEscalate_SlackDelivery(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()
	t.Setenv("TEST_SLACK_URL", srv.URL)

	e := alerts.New([]config.WebhookConfig{{Type: "slack", URLEnv: "TEST_SLACK_URL"}})
	e.Escalate(wire.Envelope{
		"type": "system_alert", "priority": "high", "message": "runway 09 closed",
	})

	bodies := cap.wait(t, 1)
	text, _ := bodies[0]["text"].(string)
	if text != "*[HIGH]* runway 09 closed" {
		t.Errorf("slack text: %q", text)
	}
}

func TestEscalate_CooldownSuppressesRepeat(t *testing.T) {
	cap := &capture{}
	srv := httptest.NewServer(cap.handler())
	defer srv.Close()
	t.Setenv("TEST_HOOK_URL", srv.URL)

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	e := alerts.New([]config.WebhookConfig{{Type: "http", URLEnv: "TEST_HOOK_URL"}})
	e.WithClock(func() time.Time { return now })

	e.Escalate(wire.Envelope{"type": "emergency", "message": "first"})
	cap.wait(t, 1)

	// Inside the cooldown: history grows, no second delivery.
	now = base.Add(time.Minute)
	e.Escalate(wire.Envelope{"type": "emergency", "message": "repeat"})
	time.Sleep(50 * time.Millisecond)
	if cap.count() != 1 {
		t.Fatalf("deliveries inside cooldown: %d, want 1", cap.count())
	}
	if got := e.Recent(time.Hour); len(got) != 2 {
		t.Errorf("history length: %d, want 2", len(got))
	}

	// A different type is unaffected by the emergency cooldown.
	e.Escalate(wire.Envelope{"type": "system_alert", "message": "other"})
	cap.wait(t, 2)

	// Past the cooldown the same type escalates again.
	now = base.Add(10 * time.Minute)
	e.Escalate(wire.Envelope{"type": "emergency", "message": "again"})
	cap.wait(t, 3)
}

func TestEscalate_NoTargetsStillRecordsHistory(t *testing.T) {
	e := alerts.New(nil)
	e.Escalate(wire.Envelope{"type": "system_alert", "message": "quiet"})

	got := e.Recent(time.Hour)
	if len(got) != 1 || got[0].Message != "quiet" {
		t.Fatalf("history: %+v", got)
	}
}

func TestEscalate_FailingWebhookDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	t.Setenv("TEST_BAD_URL", srv.URL)

	e := alerts.New([]config.WebhookConfig{{Type: "teams", URLEnv: "TEST_BAD_URL"}})
	e.Escalate(wire.Envelope{"type": "emergency", "message": "boom"})
	time.Sleep(50 * time.Millisecond)
}
