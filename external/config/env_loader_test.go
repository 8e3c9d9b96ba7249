package config

import (
	"os"
	"path/filepath"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	for k, v := range map[string]string{
		"DISCORD_TOKEN":                 "token",
		"DISCORD_GUILD_ID":              "guild-1",
		"DISCORD_TRACKING_CHANNEL_ID":   "tracking",
		"DISCORD_MODERATION_CHANNEL_ID": "moderation",
		"DISCORD_ACTIVITY_CHANNEL_ID":   "activity",
		"DISCORD_TALK_ROLE_ID":          "talk",
		"DISCORD_VOID_ROLE_ID":          "void",
		"DISCORD_NEW_ROLE_ID":           "new",
		"DISCORD_BOT_APPROVED_ROLE_ID":  "approved",
		"DISCORD_STAGE_ROLE_ID":         "stage",
		"DATABASE_URL":                  "sqlite://:memory:",
	} {
		t.Setenv(k, v)
	}
}

func TestLoad_AppliesDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "production" {
		t.Fatalf("unexpected env: %q", cfg.Env)
	}
	if cfg.TickIntervalSec != 10 || cfg.OvertimeThresholdMin != 60 {
		t.Fatalf("unexpected timing defaults: %+v", cfg)
	}
	if cfg.QueueScanLimit != 30 || cfg.QueueMaxEntries != 10 {
		t.Fatalf("unexpected queue defaults: %+v", cfg)
	}
	if cfg.DisplayTimezone != "Europe/Berlin" {
		t.Fatalf("unexpected timezone: %q", cfg.DisplayTimezone)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("DISCORD_TOKEN", "")
	os.Unsetenv("DISCORD_TOKEN")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when DISCORD_TOKEN is missing")
	}
}

func TestLoadDotEnv_MissingFileIsIgnored(t *testing.T) {
	if err := LoadDotEnv(filepath.Join(t.TempDir(), "does-not-exist.env")); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestLoadDotEnv_DoesNotOverrideExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("HTTP_ADDR", ":8080")

	if err := LoadDotEnv(path); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := os.Getenv("HTTP_ADDR"); got != ":8080" {
		t.Fatalf("expected existing value to win, got %q", got)
	}
}
