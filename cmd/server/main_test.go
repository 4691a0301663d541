package main

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/p-n-ai/pai-study/internal/platform/config"
	"github.com/p-n-ai/pai-study/internal/store"
)

func TestNewLogHandler(t *testing.T) {
	tests := []struct {
		name      string
		cfg       config.LogConfig
		wantDebug bool
		wantJSON  bool
	}{
		{"default json info", config.LogConfig{Level: "info", Format: "json"}, false, true},
		{"debug text", config.LogConfig{Level: "DEBUG", Format: "text"}, true, false},
		{"unknown level falls back to info", config.LogConfig{Level: "loud", Format: "json"}, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			h := newLogHandler(&buf, tt.cfg)

			if got := h.Enabled(context.Background(), slog.LevelDebug); got != tt.wantDebug {
				t.Errorf("debug enabled = %v, want %v", got, tt.wantDebug)
			}
			slog.New(h).Info("hello", "k", "v")
			if isJSON := strings.HasPrefix(buf.String(), "{"); isJSON != tt.wantJSON {
				t.Errorf("output = %q, want json = %v", buf.String(), tt.wantJSON)
			}
		})
	}
}

func TestNewGateway(t *testing.T) {
	cfg := &config.Config{
		SendGrid:  config.SendGridConfig{APIKey: "sg", From: "study@example.com"},
		OneSignal: config.OneSignalConfig{AppID: "app", APIKey: "key"},
	}

	gw := newGateway(cfg)
	if got := strings.Join(gw.Channels(), ","); got != "email,push" {
		t.Errorf("Channels() = %s, want email,push", got)
	}
	if gw.HasChannel("live") {
		t.Error("live hub must not be behind the notification preference gateway")
	}

	bare := newGateway(&config.Config{})
	if got := len(bare.Channels()); got != 0 {
		t.Errorf("bare gateway has %d channels, want 0", got)
	}
}

func TestOpenBackend_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := &config.Config{Database: config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "study.db"),
	}}

	b, err := openBackend(ctx, cfg)
	if err != nil {
		t.Fatalf("openBackend() error = %v", err)
	}
	defer b.close()

	if err := b.ping(ctx); err != nil {
		t.Errorf("ping() error = %v", err)
	}
	u, err := b.store.CreateUser(ctx, store.User{Email: "a@example.com", PasswordHash: "x"})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := b.store.GetUser(ctx, u.ID); err != nil {
		t.Errorf("GetUser() error = %v", err)
	}
}
