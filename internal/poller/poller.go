// Package poller watches the backing store for rows changed by outside
// systems and turns them into broadcast envelopes. It keeps a single
// watermark timestamp; each pass asks for rows updated strictly after it
// and advances the watermark to the pass start, so a row is delivered once.
package poller

import (
	"context"
	"log/slog"
	"time"

	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/internal/metrics"
	"github.com/xpressfeeder/opshub/internal/store"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// Feed is the change-feed side of the backing store.
type Feed interface {
	FlightsChangedSince(since time.Time) ([]flight.State, error)
	CargoChangedSince(since time.Time) ([]store.Cargo, error)
}

// Publisher fans changed rows out to subscribers.
type Publisher interface {
	FanOut(kind, id string, v any)
}

// Cache receives changed flight rows so the simulator works from the same
// state the outside system wrote.
type Cache interface {
	Upsert(f flight.State)
}

// Poller periodically drains the store change feed.
type Poller struct {
	feed  Feed
	pub   Publisher
	cache Cache

	lastCheck time.Time
	now       func() time.Time
}

// New creates a Poller. cache may be nil.
func New(feed Feed, pub Publisher, cache Cache) *Poller {
	p := &Poller{feed: feed, pub: pub, cache: cache, now: time.Now}
	p.lastCheck = p.now()
	return p
}

// WithClock overrides the poller clock for deterministic tests.
func (p *Poller) WithClock(clock func() time.Time) {
	if clock != nil {
		p.now = clock
		p.lastCheck = clock()
	}
}

// Run polls at the given interval until ctx is cancelled. Passes never
// overlap: the next one starts only after the previous returns.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("poller: started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("poller: stopped")
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll runs one pass over both change feeds. Store errors are logged and
// leave the watermark unchanged so the next pass retries the same window.
func (p *Poller) Poll() {
	start := p.now()

	flights, err := p.feed.FlightsChangedSince(p.lastCheck)
	if err != nil {
		slog.Error("poller: flights change feed failed", "err", err)
		return
	}
	cargo, err := p.feed.CargoChangedSince(p.lastCheck)
	if err != nil {
		slog.Error("poller: cargo change feed failed", "err", err)
		return
	}
	p.lastCheck = start

	for i := range flights {
		f := flights[i]
		if p.cache != nil {
			p.cache.Upsert(f)
		}
		p.pub.FanOut("flight", f.Callsign, wire.Envelope{
			"type":      wire.TypeFlightUpdate,
			"flight_id": f.Callsign,
			"data":      f,
			"timestamp": f.UpdatedAt.UTC().Format(wire.TimeLayout),
		})
	}
	for _, c := range cargo {
		p.pub.FanOut("cargo", c.CargoID, wire.Envelope{
			"type":      wire.TypeCargoUpdate,
			"cargo_id":  c.CargoID,
			"data":      c,
			"timestamp": c.UpdatedAt.UTC().Format(wire.TimeLayout),
		})
	}

	if n := len(flights) + len(cargo); n > 0 {
		metrics.PollerRows.Add(float64(n))
		slog.Info("poller: changes broadcast", "flights", len(flights), "cargo", len(cargo))
	}
}
