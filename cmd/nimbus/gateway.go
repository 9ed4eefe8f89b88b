package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mtzanidakis/nimbus/internal/config"
	"github.com/mtzanidakis/nimbus/internal/dispatch"
	"github.com/mtzanidakis/nimbus/internal/ipc"
	"github.com/mtzanidakis/nimbus/internal/llm"
	"github.com/mtzanidakis/nimbus/internal/natsbus"
	"github.com/mtzanidakis/nimbus/internal/registry"
	"github.com/mtzanidakis/nimbus/internal/router"
	"github.com/mtzanidakis/nimbus/internal/scheduler"
	"github.com/mtzanidakis/nimbus/internal/store"
	"github.com/mtzanidakis/nimbus/internal/telegram"
	"github.com/mtzanidakis/nimbus/internal/telemetry"
	"github.com/mtzanidakis/nimbus/internal/tools"
	"github.com/mtzanidakis/nimbus/internal/vault"
	"github.com/mtzanidakis/nimbus/internal/web"
)

// drainTimeout bounds how long shutdown waits for in-flight agent calls.
const drainTimeout = 30 * time.Second

func runGateway() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logLevel := setupLogging(cfg.Log)

	slog.Info("starting nimbus gateway", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	if err := vault.ResolveConfig(cfg, db); err != nil {
		return fmt.Errorf("resolve secrets: %w", err)
	}
	var v *vault.Vault
	if cfg.Vault.Passphrase != "" {
		v = vault.New(cfg.Vault.Passphrase)
	}

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	// Embedded NATS
	bus, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer bus.Close()
	slog.Info("nats started", "port", bus.Port())

	client, err := natsbus.NewClient(bus)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer client.Close()

	reg, err := registry.Default(cfg.Agents)
	if err != nil {
		return fmt.Errorf("build agent registry: %w", err)
	}

	gem, err := llm.NewGemini(ctx, cfg.Gemini.APIKey, cfg.Gemini.DefaultModel, cfg.Gemini.Timeout)
	if err != nil {
		return fmt.Errorf("init gemini: %w", err)
	}

	// The dispatcher never writes; listeners archive and publish.
	agg := dispatch.NewAggregator()
	agg.Subscribe(store.NewRecorder(db))
	agg.Subscribe(dispatch.NewEventForwarder(client))
	disp := dispatch.New(reg, gem, agg, cfg.Dispatch)

	rtr := router.New(reg, cfg.Router)
	rtr.SetGenerator(gem)

	toolSet, err := tools.NewSet(reg, gem, gem, cfg.Gemini.Video)
	if err != nil {
		return fmt.Errorf("init tools: %w", err)
	}

	if _, err := ipc.NewHandler(ctx, disp, rtr, db).Register(client); err != nil {
		return fmt.Errorf("register ipc handler: %w", err)
	}

	sched := scheduler.New(db, disp, client, cfg.Scheduler, cfg.Telegram.MainChatID)

	// Telegram bot
	var bot *telegram.Bot
	if cfg.Telegram.Token != "" {
		bot, err = telegram.NewBot(cfg.Telegram, rtr, disp, reg)
		if err != nil {
			return fmt.Errorf("init telegram bot: %w", err)
		}
		sched.SetNotifier(bot)
		go func() {
			if err := bot.Start(ctx); err != nil {
				slog.Error("telegram bot error", "error", err)
			}
		}()
		slog.Info("telegram bot started")
	} else {
		slog.Warn("telegram token not set, bot disabled")
	}

	go sched.Start(ctx)

	// Web UI
	if cfg.Web.Enabled {
		srv := web.NewServer(web.Deps{
			Store:      db,
			Bus:        bus,
			Dispatcher: disp,
			Router:     rtr,
			Tools:      toolSet,
			Vault:      v,
		}, cfg.Web, version)
		go func() {
			if err := srv.Start(ctx); err != nil {
				slog.Error("web server error", "error", err)
			}
		}()
	}

	// Wait for shutdown signal, reloading config on SIGHUP
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig == syscall.SIGHUP {
			cfg = reloadConfig(cfg, db, reloadTargets{
				dispatcher: disp,
				router:     rtr,
				scheduler:  sched,
				bot:        bot,
				logLevel:   logLevel,
			})
			continue
		}
		slog.Info("shutting down", "signal", sig)
		break
	}
	cancel()
	if bot != nil {
		bot.Stop()
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), drainTimeout)
	defer drainCancel()
	if err := disp.Drain(drainCtx); err != nil {
		slog.Warn("agent calls still in flight at shutdown", "error", err)
	}
	return nil
}

type reloadTargets struct {
	dispatcher *dispatch.Dispatcher
	router     *router.Router
	scheduler  *scheduler.Scheduler
	bot        *telegram.Bot // nil when telegram is disabled
	logLevel   *slog.LevelVar
}

// reloadConfig applies the reloadable fields of a freshly loaded config and
// returns the config now in effect. A config that fails to load or resolve
// leaves the running one untouched.
func reloadConfig(old *config.Config, src vault.SecretSource, t reloadTargets) *config.Config {
	slog.Info("reloading config")

	next, err := config.Load()
	if err != nil {
		slog.Error("config reload failed", "error", err)
		return old
	}
	if err := vault.ResolveConfig(next, src); err != nil {
		slog.Error("config reload failed", "error", err)
		return old
	}

	diff := config.Diff(old, next)
	for _, field := range diff.NonReloadable {
		slog.Warn("config change requires restart", "field", field)
	}
	if !diff.HasChanges() {
		slog.Info("config reloaded, nothing to apply")
		return next
	}

	if diff.DispatchChanged {
		t.dispatcher.UpdateOptions(diff.NewDispatch)
		slog.Info("dispatch options updated", "agent_timeout", diff.NewDispatch.AgentTimeout, "max_concurrency", diff.NewDispatch.MaxConcurrency)
	}
	if diff.RouterChanged {
		t.router.SetDefaultAgents(diff.NewDefaultAgents)
		slog.Info("default agents updated", "agents", diff.NewDefaultAgents)
	}
	if diff.SchedulerChanged {
		t.scheduler.UpdateConfig(diff.NewScheduler, diff.NewMainChatID)
	}
	if diff.AllowFromChanged && t.bot != nil {
		t.bot.SetAllowFrom(diff.NewAllowFrom)
		slog.Info("telegram allow-list updated", "users", len(diff.NewAllowFrom))
	}
	if diff.LogLevelChanged {
		t.logLevel.Set(parseLevel(diff.NewLogLevel))
		slog.Info("log level updated", "level", diff.NewLogLevel)
	}
	return next
}
