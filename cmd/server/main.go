package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/p-n-ai/pai-study/internal/httpapi"
	"github.com/p-n-ai/pai-study/internal/notify"
	"github.com/p-n-ai/pai-study/internal/platform/cache"
	"github.com/p-n-ai/pai-study/internal/platform/config"
	"github.com/p-n-ai/pai-study/internal/platform/database"
	"github.com/p-n-ai/pai-study/internal/store"
	"github.com/p-n-ai/pai-study/internal/tracker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(newLogHandler(os.Stdout, cfg.Log)))

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		slog.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer backend.close()

	checks := map[string]httpapi.Check{"database": backend.ping}

	var scheduleCache cache.JSONCache = cache.NewMemory()
	if cfg.Cache.URL != "" {
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			slog.Error("failed to connect to cache", "error", err)
			os.Exit(1)
		}
		defer c.Close()
		scheduleCache = c
		checks["cache"] = c.HealthCheck
	} else {
		slog.Info("no cache configured, keeping schedules in memory")
	}

	hub := notify.NewHub()
	gateway := newGateway(cfg)

	svc := tracker.NewService(tracker.Config{
		Store:       backend.store,
		Notifier:    gateway,
		Live:        hub,
		Events:      backend.events,
		Cache:       scheduleCache,
		ScheduleTTL: time.Duration(cfg.Cache.ScheduleTTLHours) * time.Hour,
	})

	api := httpapi.New(httpapi.Config{
		Service:         svc,
		Users:           backend.store,
		Hub:             hub,
		BcryptCost:      cfg.Auth.BcryptCost,
		NotifyByDefault: cfg.Notify.DefaultEnabled,
		Checks:          checks,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", srv.Addr, "driver", cfg.Database.Driver, "channels", gateway.Channels())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}

func newLogHandler(w io.Writer, cfg config.LogConfig) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

type backend struct {
	store  store.Store
	events tracker.EventLogger
	ping   httpapi.Check
	close  func()
}

// openBackend connects the configured store and the matching event logger.
func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		db, err := database.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, err
		}
		st, err := store.NewSQLiteStore(ctx, db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{
			store:  st,
			events: tracker.NewSQLEventLogger(db),
			ping:   db.PingContext,
			close:  func() { db.Close() },
		}, nil

	default:
		db, err := database.New(ctx, database.PoolOptions{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, err
		}
		st, err := store.NewPostgresStore(ctx, db.Pool)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{
			store:  st,
			events: tracker.NewPostgresEventLogger(db.Pool),
			ping:   db.HealthCheck,
			close:  db.Close,
		}, nil
	}
}

// newGateway registers every configured external delivery channel.
func newGateway(cfg *config.Config) *notify.Gateway {
	gw := notify.NewGateway()

	if cfg.HasEmail() {
		gw.Register("email", notify.NewSendGridEmail(cfg.SendGrid.APIKey, cfg.SendGrid.From))
	}
	if cfg.HasPush() {
		gw.Register("push", notify.NewOneSignalPush(cfg.OneSignal.AppID, cfg.OneSignal.APIKey))
	}
	if cfg.HasTelegram() {
		tg, err := notify.NewTelegramPush(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			slog.Warn("telegram channel disabled", "error", err)
		} else {
			gw.Register("telegram", tg)
		}
	}
	return gw
}
