package webhook

import (
	"context"
	"time"
)

type NoticeEvent string

const (
	NoticeOvertime        NoticeEvent = "overtime"
	NoticeNeedsModeration NoticeEvent = "needs_moderation"
)

type ModerationNotice struct {
	Event      NoticeEvent `json:"event"`
	UserID     string      `json:"user_id"`
	ChannelID  string      `json:"channel_id,omitempty"`
	MessageURL string      `json:"message_url"`
	At         time.Time   `json:"at"`
}

type Sender interface {
	SendNotice(ctx context.Context, notice ModerationNotice) error
}
