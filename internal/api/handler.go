// Package api serves the REST read surface next to the websocket endpoint:
// liveness, hub statistics, the current flight list, and recent escalated
// alerts. All endpoints are GET and return JSON.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/xpressfeeder/opshub/internal/alerts"
	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/internal/sim"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

const recentAlertWindow = time.Hour

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	hub       *hub.Hub
	sim       *sim.Simulator
	escalator *alerts.Escalator
	start     time.Time
	mux       *http.ServeMux
}

// New creates a Handler and registers all routes. escalator may be nil, in
// which case /api/v1/alerts always returns an empty list.
func New(h *hub.Hub, s *sim.Simulator, esc *alerts.Escalator, start time.Time) http.Handler {
	a := &Handler{hub: h, sim: s, escalator: esc, start: start, mux: http.NewServeMux()}

	a.mux.HandleFunc("/api/v1/health", a.health)
	a.mux.HandleFunc("/api/v1/stats", a.stats)
	a.mux.HandleFunc("/api/v1/flights", a.flights)
	a.mux.HandleFunc("/api/v1/alerts", a.alerts)

	return a
}

func (a *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health — liveness plus connection count.
func (a *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	now := time.Now()
	jsonResp(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"active_connections": a.hub.Count(),
		"uptime_seconds":     int(now.Sub(a.start).Seconds()),
		"server_time":        now.UTC().Format(wire.TimeLayout),
	})
}

// stats returns GET /api/v1/stats — the same summary the websocket
// get_stats message replies with.
func (a *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, a.hub.Stats(a.start))
}

// flights returns GET /api/v1/flights — the simulator's current cache.
func (a *Handler) flights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list := a.sim.Flights()
	if list == nil {
		list = []flight.State{}
	}
	jsonResp(w, http.StatusOK, map[string]any{
		"flights":      list,
		"count":        len(list),
		"generated_at": time.Now().UTC().Format(wire.TimeLayout),
	})
}

// alerts returns GET /api/v1/alerts — system-wide messages escalated in the
// past hour.
func (a *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	out := []alerts.Event{}
	if a.escalator != nil {
		out = a.escalator.Recent(recentAlertWindow)
	}
	jsonResp(w, http.StatusOK, out)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

type errorResponse struct {
	Error string `json:"error"`
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
