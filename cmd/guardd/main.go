package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/guard"
	"github.com/dmitrymomot/guard/core/config"
	"github.com/dmitrymomot/guard/core/health"
	"github.com/dmitrymomot/guard/core/logger"
	"github.com/dmitrymomot/guard/core/server"
)

// EventChannel receives server lifecycle events.
const EventChannel = "guardd"

func main() {
	var cfg Config
	config.MustLoad(&cfg)

	if err := run(cfg); err != nil {
		os.Exit(1)
	}
}

func run(cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("app", cfg.AppName)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	g, err := guard.New(ctx, cfg.Guard,
		guard.WithRegistry(reg),
		guard.WithDiagnostics(log.With(logger.Component("guard"))),
	)
	if err != nil {
		log.Error("Failed to initialize guard", logger.Error(err))
		return err
	}
	defer func() {
		if err := g.Close(); err != nil {
			log.Error("Failed to close guard", logger.Error(err))
		}
	}()

	events := eventLog(cfg, g)
	app := newApp(cfg, g)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health/live", health.Liveness)
	mux.Handle("GET /health/ready", g.Ready())
	mux.Handle("GET /metrics", g.Metrics().Handler())
	mux.Handle("/", g.Handler(app.routes(), app.limits()...))

	s, err := server.NewFromConfig(cfg.Server, server.WithLogger(events.With(logger.Component("server"))))
	if err != nil {
		events.Error("Failed to create server", logger.Component("server"), logger.Error(err))
		return err
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(g.Run(ctx))
	eg.Go(s.Run(ctx, mux))

	if err := eg.Wait(); err != nil {
		events.Error("Failed to run server", logger.Component("server"), logger.Error(err))
		return err
	}

	events.Info("Application stopped")
	return nil
}

// eventLog records the service's own lifecycle in the secure log, where the
// admin log endpoints can search it. Diagnostics of the guard components stay
// on stderr so a failing log store never logs into itself.
func eventLog(cfg Config, g *guard.Guard) *slog.Logger {
	return g.Logger().Channel(EventChannel).Slog().With("app", cfg.AppName)
}
