package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/convogate/internal/bus"
	"github.com/nextlevelbuilder/convogate/internal/channels/mirror"
	"github.com/nextlevelbuilder/convogate/internal/channels/wabridge"
	"github.com/nextlevelbuilder/convogate/internal/config"
	"github.com/nextlevelbuilder/convogate/internal/convo"
	"github.com/nextlevelbuilder/convogate/internal/crm"
	"github.com/nextlevelbuilder/convogate/internal/echoguard"
	"github.com/nextlevelbuilder/convogate/internal/gateway"
	"github.com/nextlevelbuilder/convogate/internal/responder"
	"github.com/nextlevelbuilder/convogate/internal/router"
	"github.com/nextlevelbuilder/convogate/internal/store"
	"github.com/nextlevelbuilder/convogate/internal/store/pg"
	"github.com/nextlevelbuilder/convogate/internal/store/sqlite"
	"github.com/nextlevelbuilder/convogate/internal/tracing"
)

func runGateway() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Optional OTLP tracing. A failed exporter setup is not fatal; the
	// gateway runs untraced.
	if cfg.Telemetry.Enabled {
		shutdown, err := tracing.Setup(ctx, "convogate", Version, cfg.Telemetry.Endpoint, cfg.Telemetry.Insecure)
		if err != nil {
			slog.Warn("tracing setup failed, continuing without it", "error", err)
		} else {
			defer func() {
				shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
				defer c()
				if err := shutdown(shutCtx); err != nil {
					slog.Warn("tracing shutdown", "error", err)
				}
			}()
		}
	}

	// Storage: sqlite by default, postgres when a DSN is present.
	var stores *store.Stores
	switch cfg.Database.Mode {
	case "postgres":
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			slog.Error("failed to open postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		stores = pg.NewStores(db)
		slog.Info("storage backend", "mode", "postgres")
	default:
		path := expandHome(cfg.Database.SQLitePath)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			slog.Error("failed to create sqlite directory", "path", path, "error", err)
			os.Exit(1)
		}
		s, db, err := sqlite.Open(path)
		if err != nil {
			slog.Error("failed to open sqlite", "path", path, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		stores = s
		slog.Info("storage backend", "mode", "sqlite", "path", path)
	}

	hours, err := cfg.ParseSchedule()
	if err != nil {
		slog.Error("invalid business-hours schedule", "error", err)
		os.Exit(1)
	}

	guard := echoguard.New(cfg.EchoTTL())
	convos := convo.NewManager(stores.Conversations, cfg.Sessions.MaxHistory)
	entities := crm.NewService(stores)

	gen, err := responder.NewHTTP(cfg.Responder.URL, cfg.Responder.Token, cfg.ResponderTimeout())
	if err != nil {
		slog.Error("responder not configured", "error", err)
		os.Exit(1)
	}

	mirrorCh, err := mirror.New(cfg.Mirror.BaseURL, cfg.Mirror.AccountID, cfg.Mirror.Token, cfg.MirrorTimeout())
	if err != nil {
		slog.Error("mirror not configured", "error", err)
		os.Exit(1)
	}

	// The bridge handler closes over rtr, assigned below; the bridge does
	// not deliver events until Start.
	var rtr *router.Router
	bridge, err := wabridge.New(cfg.Bridge.URL, func(ctx context.Context, ev bus.InboundEvent) {
		if _, err := rtr.HandleCustomerEvent(ctx, ev); err != nil {
			slog.Warn("customer event dropped", "customer_id", ev.CustomerID, "error", err)
		}
	})
	if err != nil {
		slog.Error("bridge not configured", "error", err)
		os.Exit(1)
	}

	rtr = router.New(router.Options{
		Guard:     guard,
		Convos:    convos,
		Entities:  entities,
		Responder: gen,
		Customer:  bridge,
		Mirror:    mirrorCh,
		Hours:     hours,
		ResumeCmd: cfg.Pause.ResumeCommand,
	})

	if err := bridge.Start(ctx); err != nil {
		slog.Error("failed to start bridge channel", "error", err)
		os.Exit(1)
	}
	defer bridge.Stop(context.Background())

	// Hot reload: only the business-hours schedule is swappable at
	// runtime; everything else needs a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			s, err := next.ParseSchedule()
			if err != nil {
				slog.Warn("reloaded schedule invalid, keeping current", "error", err)
				return
			}
			rtr.SetSchedule(s)
			slog.Info("business-hours schedule updated")
		})
		if err != nil && ctx.Err() == nil {
			slog.Warn("config watcher stopped", "error", err)
		}
	}()

	server := gateway.New(cfg.Gateway.Host, cfg.Gateway.Port, cfg.Gateway.WebhookToken, cfg.Gateway.RateLimitRPM, rtr)
	errCh, err := server.Start()
	if err != nil {
		slog.Error("failed to start gateway server", "error", err)
		os.Exit(1)
	}
	slog.Info("convogate gateway running", "host", cfg.Gateway.Host, "port", cfg.Gateway.Port, "version", Version)

	select {
	case sig := <-sigCh:
		slog.Info("graceful shutdown initiated", "signal", sig)
	case err := <-errCh:
		slog.Error("gateway server failed", "error", err)
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := server.Shutdown(shutCtx); err != nil {
		slog.Warn("server shutdown", "error", err)
	}
	cancel()
	slog.Info("convogate stopped")
}
