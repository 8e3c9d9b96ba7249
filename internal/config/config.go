package config

import (
	"fmt"
	"time"
)

type Config struct {
	Env                        string
	DiscordToken               string
	DiscordGuildID             string
	DiscordTrackingChannelID   string
	DiscordModerationChannelID string
	DiscordActivityChannelID   string
	DiscordTalkRoleID          string
	DiscordVoidRoleID          string
	DiscordNewRoleID           string
	DiscordBotApprovedRoleID   string
	DiscordStageRoleID         string
	DiscordOverseerUserID      string
	DatabaseURL                string
	TickIntervalSec            int
	OvertimeThresholdMin       int
	QueueScanLimit             int
	QueueMaxEntries            int
	QueueRefreshMin            int
	ActivityBoardLimit         int
	DisplayTimezone            string
	ModerationWebhookURL       string
	HTTPAddr                   string
	OtelEndpoint               string
}

func (c *Config) Validate() error {
	for _, req := range c.requiredFieldChecks() {
		if req.value == "" {
			return fmt.Errorf("%s is required", req.name)
		}
	}
	for _, pos := range c.positiveFieldChecks() {
		if pos.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", pos.name, pos.value)
		}
	}
	if c.QueueMaxEntries > c.QueueScanLimit {
		return fmt.Errorf("QUEUE_MAX_ENTRIES (%d) must not exceed QUEUE_SCAN_LIMIT (%d)", c.QueueMaxEntries, c.QueueScanLimit)
	}
	if c.QueueScanLimit > 100 {
		return fmt.Errorf("QUEUE_SCAN_LIMIT must be at most 100, got %d", c.QueueScanLimit)
	}
	if c.DisplayTimezone == "" {
		return fmt.Errorf("DISPLAY_TIMEZONE is required")
	}
	if _, err := time.LoadLocation(c.DisplayTimezone); err != nil {
		return fmt.Errorf("DISPLAY_TIMEZONE is invalid: %w", err)
	}
	return nil
}

type requiredEnvField struct {
	name  string
	value string
}

func (c *Config) requiredFieldChecks() []requiredEnvField {
	return []requiredEnvField{
		{name: "DISCORD_TOKEN", value: c.DiscordToken},
		{name: "DISCORD_GUILD_ID", value: c.DiscordGuildID},
		{name: "DISCORD_TRACKING_CHANNEL_ID", value: c.DiscordTrackingChannelID},
		{name: "DISCORD_MODERATION_CHANNEL_ID", value: c.DiscordModerationChannelID},
		{name: "DISCORD_ACTIVITY_CHANNEL_ID", value: c.DiscordActivityChannelID},
		{name: "DISCORD_TALK_ROLE_ID", value: c.DiscordTalkRoleID},
		{name: "DISCORD_VOID_ROLE_ID", value: c.DiscordVoidRoleID},
		{name: "DISCORD_NEW_ROLE_ID", value: c.DiscordNewRoleID},
		{name: "DISCORD_BOT_APPROVED_ROLE_ID", value: c.DiscordBotApprovedRoleID},
		{name: "DISCORD_STAGE_ROLE_ID", value: c.DiscordStageRoleID},
		{name: "DATABASE_URL", value: c.DatabaseURL},
	}
}

type positiveEnvField struct {
	name  string
	value int
}

func (c *Config) positiveFieldChecks() []positiveEnvField {
	return []positiveEnvField{
		{name: "TICK_INTERVAL_SEC", value: c.TickIntervalSec},
		{name: "OVERTIME_THRESHOLD_MIN", value: c.OvertimeThresholdMin},
		{name: "QUEUE_SCAN_LIMIT", value: c.QueueScanLimit},
		{name: "QUEUE_MAX_ENTRIES", value: c.QueueMaxEntries},
		{name: "QUEUE_REFRESH_MIN", value: c.QueueRefreshMin},
		{name: "ACTIVITY_BOARD_LIMIT", value: c.ActivityBoardLimit},
	}
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSec) * time.Second
}

func (c *Config) OvertimeThreshold() time.Duration {
	return time.Duration(c.OvertimeThresholdMin) * time.Minute
}

func (c *Config) QueueRefreshInterval() time.Duration {
	return time.Duration(c.QueueRefreshMin) * time.Minute
}

// Location falls back to UTC when the timezone cannot be loaded; Validate rejects that case at startup.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.DisplayTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
