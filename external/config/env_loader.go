package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	internalconfig "github.com/foxseedlab/stagewarden/internal/config"
	"github.com/joho/godotenv"
)

type envConfig struct {
	Env                        string `env:"ENV" envDefault:"production"`
	DiscordToken               string `env:"DISCORD_TOKEN,required"`
	DiscordGuildID             string `env:"DISCORD_GUILD_ID,required"`
	DiscordTrackingChannelID   string `env:"DISCORD_TRACKING_CHANNEL_ID,required"`
	DiscordModerationChannelID string `env:"DISCORD_MODERATION_CHANNEL_ID,required"`
	DiscordActivityChannelID   string `env:"DISCORD_ACTIVITY_CHANNEL_ID,required"`
	DiscordTalkRoleID          string `env:"DISCORD_TALK_ROLE_ID,required"`
	DiscordVoidRoleID          string `env:"DISCORD_VOID_ROLE_ID,required"`
	DiscordNewRoleID           string `env:"DISCORD_NEW_ROLE_ID,required"`
	DiscordBotApprovedRoleID   string `env:"DISCORD_BOT_APPROVED_ROLE_ID,required"`
	DiscordStageRoleID         string `env:"DISCORD_STAGE_ROLE_ID,required"`
	DiscordOverseerUserID      string `env:"DISCORD_OVERSEER_USER_ID"`
	DatabaseURL                string `env:"DATABASE_URL,required"`
	TickIntervalSec            int    `env:"TICK_INTERVAL_SEC" envDefault:"10"`
	OvertimeThresholdMin       int    `env:"OVERTIME_THRESHOLD_MIN" envDefault:"60"`
	QueueScanLimit             int    `env:"QUEUE_SCAN_LIMIT" envDefault:"30"`
	QueueMaxEntries            int    `env:"QUEUE_MAX_ENTRIES" envDefault:"10"`
	QueueRefreshMin            int    `env:"QUEUE_REFRESH_MIN" envDefault:"10"`
	ActivityBoardLimit         int    `env:"ACTIVITY_BOARD_LIMIT" envDefault:"30"`
	DisplayTimezone            string `env:"DISPLAY_TIMEZONE" envDefault:"Europe/Berlin"`
	ModerationWebhookURL       string `env:"MODERATION_WEBHOOK_URL"`
	HTTPAddr                   string `env:"HTTP_ADDR"`
	OtelEndpoint               string `env:"OTEL_ENDPOINT"`
}

// LoadDotEnv overlays variables from a .env file; a missing file is fine.
func LoadDotEnv(paths ...string) error {
	if err := godotenv.Load(paths...); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read .env file: %w", err)
	}
	return nil
}

func Load() (*internalconfig.Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("environment variables are invalid or missing: %w", err)
	}

	cfg := &internalconfig.Config{
		Env:                        raw.Env,
		DiscordToken:               raw.DiscordToken,
		DiscordGuildID:             raw.DiscordGuildID,
		DiscordTrackingChannelID:   raw.DiscordTrackingChannelID,
		DiscordModerationChannelID: raw.DiscordModerationChannelID,
		DiscordActivityChannelID:   raw.DiscordActivityChannelID,
		DiscordTalkRoleID:          raw.DiscordTalkRoleID,
		DiscordVoidRoleID:          raw.DiscordVoidRoleID,
		DiscordNewRoleID:           raw.DiscordNewRoleID,
		DiscordBotApprovedRoleID:   raw.DiscordBotApprovedRoleID,
		DiscordStageRoleID:         raw.DiscordStageRoleID,
		DiscordOverseerUserID:      raw.DiscordOverseerUserID,
		DatabaseURL:                raw.DatabaseURL,
		TickIntervalSec:            raw.TickIntervalSec,
		OvertimeThresholdMin:       raw.OvertimeThresholdMin,
		QueueScanLimit:             raw.QueueScanLimit,
		QueueMaxEntries:            raw.QueueMaxEntries,
		QueueRefreshMin:            raw.QueueRefreshMin,
		ActivityBoardLimit:         raw.ActivityBoardLimit,
		DisplayTimezone:            raw.DisplayTimezone,
		ModerationWebhookURL:       raw.ModerationWebhookURL,
		HTTPAddr:                   raw.HTTPAddr,
		OtelEndpoint:               raw.OtelEndpoint,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
