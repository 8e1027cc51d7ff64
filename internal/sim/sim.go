// Package sim is the flight kinematics simulator. It owns a cache of
// scheduled flights and, on a fixed tick, advances every airborne one along
// its route: interpolated position, a three-phase altitude profile, speed
// derived from the airframe's performance profile, and the great-circle
// bearing to destination. Each tick that changes a flight emits one
// broadcast and persists the new state; persistence failures are logged and
// never block the broadcast.
package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohae/deepcopy"

	"github.com/xpressfeeder/opshub/internal/flight"
	"github.com/xpressfeeder/opshub/internal/metrics"
	"github.com/xpressfeeder/opshub/pkg/wire"
)

// Publisher is the outbound side of the simulator, satisfied by the
// broadcast engine.
type Publisher interface {
	ToAll(v any)
}

// Persister writes advanced flight state back to the backing store. The
// simulator always tags its writes flight.WriterSim so the change-feed
// poller does not echo them back as external updates.
type Persister interface {
	UpsertFlight(f flight.State, source string) error
}

// Simulator advances cached flight state on a fixed tick.
type Simulator struct {
	pub Publisher
	db  Persister

	mu       sync.Mutex
	flights  map[string]*flight.State
	airports map[string]flight.Airport
	profiles map[string]flight.Profile
	rng      *rand.Rand

	ticking atomic.Bool
	now     func() time.Time
}

// New creates a Simulator over the given reference data. Either map may be
// nil; pub and db may be nil in tests.
func New(pub Publisher, db Persister, airports map[string]flight.Airport, profiles map[string]flight.Profile) *Simulator {
	if airports == nil {
		airports = make(map[string]flight.Airport)
	}
	if profiles == nil {
		profiles = make(map[string]flight.Profile)
	}
	// Detach from the caller's maps so a reload on their side cannot race
	// the tick loop.
	airports = deepcopy.Copy(airports).(map[string]flight.Airport)
	profiles = deepcopy.Copy(profiles).(map[string]flight.Profile)
	return &Simulator{
		pub:      pub,
		db:       db,
		flights:  make(map[string]*flight.State),
		airports: airports,
		profiles: profiles,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
		now:      time.Now,
	}
}

// WithClock overrides the simulator clock for deterministic tests.
func (s *Simulator) WithClock(clock func() time.Time) {
	if clock != nil {
		s.now = clock
	}
}

// Seed loads flights into the cache, replacing entries with the same
// callsign.
func (s *Simulator) Seed(flights []flight.State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range flights {
		f := flights[i]
		s.flights[f.Callsign] = &f
	}
	slog.Info("sim: cache seeded", "flights", len(flights))
}

// Run ticks the simulator at the given interval until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("sim: started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("sim: stopped")
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick advances every airborne flight once. A tick that arrives while the
// previous one is still running is skipped rather than queued.
func (s *Simulator) Tick() {
	if !s.ticking.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		slog.Warn("sim: tick skipped, previous still running")
		return
	}
	defer s.ticking.Store(false)
	timer := prometheusTimer()
	defer timer()

	now := s.now()

	s.mu.Lock()
	var changed []flight.State
	for _, f := range s.flights {
		if f.Status != flight.StatusAirborne {
			continue
		}
		dest, ok := s.airports[f.Destination]
		if !ok {
			slog.Warn("sim: unknown destination, skipping flight",
				"callsign", f.Callsign, "destination", f.Destination)
			continue
		}
		origin, ok := s.airports[f.Origin]
		if !ok {
			slog.Warn("sim: unknown origin, skipping flight",
				"callsign", f.Callsign, "origin", f.Origin)
			continue
		}
		s.advance(f, origin, dest, now)
		changed = append(changed, *f)
	}
	s.mu.Unlock()

	for i := range changed {
		s.publish(&changed[i])
		s.persist(&changed[i])
	}
}

// publish emits one broadcast to every connection for an advanced flight:
// flight_status on arrival, flight_position otherwise. Arrivals go to all
// connections, not just flight subscribers, so anyone watching the position
// stream also sees the flight land.
func (s *Simulator) publish(f *flight.State) {
	if s.pub == nil {
		return
	}
	ts := f.UpdatedAt.UTC().Format(wire.TimeLayout)
	if f.Status == flight.StatusArrived {
		s.pub.ToAll(wire.Envelope{
			"type":      wire.TypeFlightStatus,
			"flight_id": f.Callsign,
			"status":    string(f.Status),
			"data":      *f,
			"timestamp": ts,
		})
		return
	}
	s.pub.ToAll(wire.Envelope{
		"type":      wire.TypeFlightPosition,
		"data":      *f,
		"timestamp": ts,
	})
}

func (s *Simulator) persist(f *flight.State) {
	if s.db == nil {
		return
	}
	if err := s.db.UpsertFlight(*f, flight.WriterSim); err != nil {
		slog.Error("sim: persist failed", "callsign", f.Callsign, "err", err)
	}
}

// ApplyPush merges a sanitized privileged push into the cache, creating the
// flight if it is new, and returns the resulting state.
func (s *Simulator) ApplyPush(p flight.PushUpdate) flight.State {
	now := s.now()

	s.mu.Lock()
	f, ok := s.flights[p.Callsign]
	if !ok {
		f = &flight.State{Callsign: p.Callsign}
		s.flights[p.Callsign] = f
	}
	f.Lat = p.Lat
	f.Lon = p.Lon
	f.Status = p.Status
	f.AltitudeFt = p.AltitudeFt
	f.GroundSpeedKts = p.GroundSpeedKts
	f.HeadingDeg = p.HeadingDeg
	if p.Origin != "" {
		f.Origin = p.Origin
	}
	if p.Destination != "" {
		f.Destination = p.Destination
	}
	if p.AircraftReg != "" {
		f.AircraftReg = p.AircraftReg
	}
	f.UpdatedAt = now
	out := *f
	s.mu.Unlock()

	s.persist(&out)
	return out
}

// Upsert replaces a cached flight wholesale, used by the change-feed poller
// when an outside system rewrites a row.
func (s *Simulator) Upsert(f flight.State) {
	s.mu.Lock()
	cp := f
	s.flights[f.Callsign] = &cp
	s.mu.Unlock()
}

// Flights returns an independent snapshot of the cache, sorted by callsign.
// The cache map is deep-copied under the lock; flattening and sorting happen
// outside it.
func (s *Simulator) Flights() []flight.State {
	s.mu.Lock()
	snap := deepcopy.Copy(s.flights).(map[string]*flight.State)
	s.mu.Unlock()

	out := make([]flight.State, 0, len(snap))
	for _, f := range snap {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Callsign < out[j].Callsign })
	return out
}

func prometheusTimer() func() {
	start := time.Now()
	return func() {
		metrics.TickDuration.Observe(time.Since(start).Seconds())
	}
}
