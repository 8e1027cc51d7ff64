package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpressfeeder/opshub/internal/alerts"
	"github.com/xpressfeeder/opshub/internal/api"
	"github.com/xpressfeeder/opshub/internal/auth"
	"github.com/xpressfeeder/opshub/internal/config"
	"github.com/xpressfeeder/opshub/internal/hub"
	"github.com/xpressfeeder/opshub/internal/metrics"
	"github.com/xpressfeeder/opshub/internal/poller"
	"github.com/xpressfeeder/opshub/internal/router"
	"github.com/xpressfeeder/opshub/internal/sim"
	"github.com/xpressfeeder/opshub/internal/store"
	"github.com/xpressfeeder/opshub/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	start := time.Now()
	slog.Info("opshub starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.Server.HTTPPort,
		"tick", cfg.Server.Simulator.Tick,
		"poll_interval", cfg.Server.Poller.Interval,
		"database", cfg.Server.Database.Path,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Backing store: flights, airports, profiles, cargo.
	db, err := store.Open(cfg.Server.Database.Path)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.Server.Database.Path, "err", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.Init(); err != nil {
		slog.Error("failed to initialize schema", "err", err)
		os.Exit(1)
	}
	if err := db.SeedReference(); err != nil {
		slog.Error("failed to seed reference data", "err", err)
		os.Exit(1)
	}

	airports, err := db.LoadAirports()
	if err != nil {
		slog.Error("failed to load airports", "err", err)
		os.Exit(1)
	}
	profiles, err := db.LoadProfiles()
	if err != nil {
		slog.Error("failed to load aircraft profiles", "err", err)
		os.Exit(1)
	}
	slog.Info("reference data loaded", "airports", len(airports), "profiles", len(profiles))

	// Registry, topic index and fan-out engine.
	h := hub.New()
	bcast := hub.NewBroadcaster(h, cfg.Server.Routing)

	// Kinematics simulator, seeded from the store.
	simulator := sim.New(bcast, db, airports, profiles)
	if active, err := db.LoadActiveFlights(); err != nil {
		slog.Error("failed to load active flights", "err", err)
	} else {
		simulator.Seed(active)
	}
	go simulator.Run(ctx, cfg.Server.Simulator.Tick)

	// Change-feed poller for rows written by outside systems.
	if cfg.Server.Poller.Interval > 0 {
		feed := poller.New(db, bcast, simulator)
		go feed.Run(ctx, cfg.Server.Poller.Interval)
	} else {
		slog.Info("poller disabled")
	}

	// Webhook escalation for system-wide alerts.
	escalator := alerts.New(cfg.Server.Webhooks)

	// Message router behind the websocket endpoint.
	gate := auth.NewGate(cfg.Server.Auth.Secret())
	rt := router.New(h, bcast, gate, simulator, start)
	rt.WithNotifier(escalator)

	// Config hot reload: swap the department routing table in place.
	go func() {
		if err := config.Watch(ctx, *configPath, func(next *config.Config) {
			bcast.SetRoutes(next.Server.Routing)
		}); err != nil {
			slog.Error("config watcher failed", "err", err)
		}
	}()

	// Periodic sweep of connections that never authenticate.
	if window := cfg.Server.Auth.StaleWindow; window > 0 && !gate.Open() {
		go func() {
			ticker := time.NewTicker(window)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if n := h.CloseStale(window); n > 0 {
						slog.Info("stale connections closed", "count", n)
					}
				}
			}
		}()
	}

	// Combined HTTP server: websocket hub, REST API and metrics on one port.
	mux := http.NewServeMux()
	mux.Handle("/ws", ws.NewServer(h, rt))
	mux.Handle("/api/", api.New(h, simulator, escalator, start))
	mux.Handle("/metrics", metrics.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("opshub shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
