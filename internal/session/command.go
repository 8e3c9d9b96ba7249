package session

import (
	"context"
	"strings"
	"time"

	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
)

// OnTextCommand handles a reply to a tracking message. The reply is either a
// picture removal command or the summary text itself; it is deleted either way.
func (m *Manager) OnTextCommand(ev discord.TextCommandEvent) {
	m.dispatch("text_command", func(ctx context.Context) {
		if ev.Command == nil || ev.Referenced == nil {
			return
		}
		log := logger(ctx).With("actor_id", ev.Actor.UserID, "message_id", ev.Referenced.Ref.MessageID)
		if err := m.discord.DeleteMessage(ctx, ev.Command.Ref); err != nil {
			log.Warn("failed to delete command message", "error", err)
		}
		if !ev.Actor.Has(discord.PermissionMoveMembers) {
			m.replyTemporary(ctx, ev.ChannelID, "<@"+ev.Actor.UserID+"> "+messageInsufficientPermissions)
			return
		}

		text := strings.TrimSpace(ev.Command.Content)
		var err error
		switch strings.ToLower(text) {
		case commandRemovePicture, commandRemovePictureLong:
			err = m.withTarget(ctx, ev.Referenced.Ref, func(s *Session) error {
				if !s.Model.RemoveThumbnail() {
					return apperrors.New(apperrors.CodeConflict, messageNoPicture)
				}
				m.appendLog(s, actionRemovedPicture, ev.Actor.Username)
				return m.push(ctx, s)
			})
		default:
			err = m.withTarget(ctx, ev.Referenced.Ref, func(s *Session) error {
				return m.attachSummary(ctx, s, ev.Actor, text)
			})
			if apperrors.HasCode(err, apperrors.CodeInvalidInput) && err != errNotTrackingMsg {
				m.replyTemporary(ctx, ev.ChannelID, summaryRejectedMessage("<@"+ev.Actor.UserID+">", text, errorReply(err)))
				return
			}
		}
		if err != nil {
			log.Info("text command failed", "error", err)
			m.replyTemporary(ctx, ev.ChannelID, "<@"+ev.Actor.UserID+"> "+errorReply(err))
		}
	})
}

// replyTemporary posts content and deletes it after the reply TTL.
func (m *Manager) replyTemporary(ctx context.Context, channelID, content string) {
	ref, err := m.discord.SendChannelMessage(ctx, channelID, content)
	if err != nil {
		logger(ctx).Warn("failed to send reply", "channel_id", channelID, "error", err)
		return
	}
	if m.replyTTL <= 0 {
		return
	}
	time.AfterFunc(m.replyTTL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := m.discord.DeleteMessage(ctx, ref); err != nil {
			logger(ctx).Debug("failed to delete reply", "message_id", ref.MessageID, "error", err)
		}
	})
}
