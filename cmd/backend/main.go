package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	configloader "github.com/foxseedlab/stagewarden/external/config"
	"github.com/foxseedlab/stagewarden/external/discord"
	"github.com/foxseedlab/stagewarden/external/httpserver"
	repositoryimpl "github.com/foxseedlab/stagewarden/external/repository"
	"github.com/foxseedlab/stagewarden/external/telemetry"
	webhookimpl "github.com/foxseedlab/stagewarden/external/webhook"
	"github.com/foxseedlab/stagewarden/internal/config"
	discordpkg "github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/foxseedlab/stagewarden/internal/session"
	"github.com/samber/do/v2"
)

const (
	serviceName           = "stagewarden"
	discordConnectTimeout = 20 * time.Second
	startupTimeout        = 30 * time.Second
)

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env)

	shutdownTracing, err := telemetry.Setup(context.Background(), serviceName, cfg.OtelEndpoint)
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	if err := configloader.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	session.RegisterDI(injector)
	httpserver.RegisterDI(injector)

	return injector
}

func runBot(cfg *config.Config, injector do.Injector) {
	repo, err := do.Invoke[repository.Repository](injector)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		slog.Error("failed to resolve discord client", "error", err)
		os.Exit(1)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}

	connectCtx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(connectCtx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected", "guild_id", cfg.DiscordGuildID)
	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	startCtx, cancelStart := context.WithTimeout(context.Background(), startupTimeout)
	manager.Start(startCtx)
	cancelStart()
	defer manager.Stop()

	if cfg.HTTPAddr != "" {
		srv, err := do.Invoke[*httpserver.Server](injector)
		if err != nil {
			slog.Error("failed to resolve http server", "error", err)
			os.Exit(1)
		}
		srv.Start()
		defer func() {
			if err := srv.Shutdown(); err != nil {
				slog.Warn("http server shutdown failed", "error", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering discord run loop")
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}
}
