package session

import (
	"context"
	"errors"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/repository"
)

type presenceKind int

const (
	presenceIgnored presenceKind = iota
	presenceJoinStage
	presenceLeaveStage
)

// classifyPresence decides whether a voice state change starts or ends a
// tracked appearance. Moving away from a channel counts as leaving it.
func (m *Manager) classifyPresence(ev discord.StageVoiceEvent) (presenceKind, Key) {
	if ev.GuildID != m.cfg.DiscordGuildID || ev.UserID == "" {
		return presenceIgnored, Key{}
	}
	if ev.BeforeChannelID != "" && ev.BeforeChannelID != ev.AfterChannelID {
		return presenceLeaveStage, Key{UserID: ev.UserID, ChannelID: ev.BeforeChannelID}
	}
	if !ev.StageChannel || ev.AfterChannelID == "" {
		return presenceIgnored, Key{}
	}
	if ev.CanMoveMembers || (ev.Member != nil && (ev.Member.Bot || ev.Member.HasRole(m.cfg.DiscordBotApprovedRoleID))) {
		return presenceIgnored, Key{}
	}
	key := Key{UserID: ev.UserID, ChannelID: ev.AfterChannelID}
	if ev.RequestToSpeakBefore && !ev.RequestToSpeakAfter && !ev.Suppressed {
		return presenceJoinStage, key
	}
	if ev.Suppressed && !ev.RequestToSpeakAfter {
		return presenceLeaveStage, key
	}
	return presenceIgnored, Key{}
}

func (m *Manager) HandleVoiceStateUpdate(ev discord.StageVoiceEvent) {
	m.dispatch("voice_state_update", func(ctx context.Context) {
		if ev.GuildID == m.cfg.DiscordGuildID && ev.StageChannel && ev.AfterChannelID != "" && !ev.Suppressed &&
			ev.Member != nil && ev.Member.HasRole(m.cfg.DiscordStageRoleID) {
			if err := m.board.Record(ctx, ev.UserID, m.now()); err != nil {
				logger(ctx).Error("failed to record stage activity", "user_id", ev.UserID, "error", err)
			}
		}
		kind, key := m.classifyPresence(ev)
		switch kind {
		case presenceJoinStage:
			if err := m.OnPresenceJoinStage(ctx, key, ev.Member); err != nil {
				logger(ctx).Error("failed to start session", "user_id", key.UserID, "channel_id", key.ChannelID, "error", err)
			}
		case presenceLeaveStage:
			if err := m.OnPresenceLeaveStage(ctx, key); err != nil {
				logger(ctx).Error("failed to end session", "user_id", key.UserID, "channel_id", key.ChannelID, "error", err)
			}
		}
	})
}

// OnPresenceJoinStage creates, renders and schedules a session. A duplicate
// join for a tracked key is rejected with a conflict.
func (m *Manager) OnPresenceJoinStage(ctx context.Context, key Key, member *discord.Member) error {
	log := logger(ctx).With("user_id", key.UserID, "channel_id", key.ChannelID)
	if m.registry.Contains(key) {
		log.Info("duplicate join ignored")
		return errAlreadyTracked
	}
	if member == nil {
		var err error
		member, err = m.discord.GetMember(ctx, m.cfg.DiscordGuildID, key.UserID)
		if err != nil {
			return apperrors.Wrap(apperrors.CodeNotFound, "failed to resolve joining member", err)
		}
	}
	channelName, err := m.discord.ChannelName(ctx, key.ChannelID)
	if err != nil {
		log.Warn("failed to resolve stage channel name", "error", err)
		channelName = key.ChannelID
	}
	conversations, err := m.repo.CountTalksByUser(ctx, key.UserID)
	if err != nil {
		log.Warn("failed to count previous talks", "error", err)
	}

	startedAt := m.now()
	model := artifact.NewModel(artifact.NewModelInput{
		DisplayName:   member.DisplayName,
		ChannelName:   channelName,
		ChannelID:     key.ChannelID,
		UserID:        key.UserID,
		Conversations: conversations,
		AvatarURL:     member.AvatarURL,
		FooterText:    messageFooter,
		StartedAt:     startedAt,
	})
	buttons := artifact.InitialButtonState(member.HasRole(m.cfg.DiscordTalkRoleID), member.HasRole(m.cfg.DiscordVoidRoleID))
	s := newTrackedSession(m.ctx, key, startedAt, model, buttons)
	if err := m.registry.Insert(s); err != nil {
		log.Info("duplicate join ignored")
		return err
	}

	err = m.registry.Do(key, func(s *Session) error {
		ref, err := m.discord.SendArtifact(ctx, m.cfg.DiscordTrackingChannelID, s.Artifact())
		if err != nil {
			return apperrors.Wrap(apperrors.CodeTransient, "failed to send tracking message", err)
		}
		s.Handle = ref
		m.startTimer(s)
		return nil
	})
	if err != nil {
		m.registry.removeSession(s)
		return err
	}
	log.Info("session started", "message_id", s.Handle.MessageID, "state", StateClean.String())

	if err := m.repo.InsertTalk(ctx, repository.CreateTalkInput{
		MessageID:    s.Handle.MessageID,
		UserID:       key.UserID,
		UserNickname: member.Nickname,
		UserTag:      member.Tag,
		UserRoles:    member.RoleNames,
		JoinedAt:     startedAt,
	}); err != nil {
		log.Error("failed to insert talk record", "error", err)
	}
	return nil
}

// OnPresenceLeaveStage pushes the final render and then untracks the session.
// Leaving an untracked key is a no-op.
func (m *Manager) OnPresenceLeaveStage(ctx context.Context, key Key) error {
	err := m.registry.Do(key, func(s *Session) error {
		pushErr := m.update(ctx, s, true)
		if apperrors.HasCode(pushErr, apperrors.CodeTransient) {
			// no tick will follow; retry once
			pushErr = m.sync.Push(ctx, s)
		}
		if pushErr != nil {
			logger(ctx).Warn("final render failed", "user_id", key.UserID, "channel_id", key.ChannelID, "error", pushErr)
		}
		m.persistTimeOnStage(ctx, s)
		m.registry.removeSession(s)
		logger(ctx).Info("session ended", "user_id", key.UserID, "channel_id", key.ChannelID, "state", s.state.String())
		return nil
	})
	if errors.Is(err, errNotTracked) {
		return nil
	}
	return err
}

func (m *Manager) persistTimeOnStage(ctx context.Context, s *Session) {
	seconds := int64(s.Elapsed(m.now()).Seconds())
	if err := m.repo.UpdateTalkOnLeave(ctx, repository.UpdateTalkOnLeaveInput{
		MessageID:      s.Handle.MessageID,
		UserID:         s.Key.UserID,
		SecondsOnStage: seconds,
	}); err != nil {
		logger(ctx).Error("failed to update talk record on leave", "user_id", s.Key.UserID, "error", err)
	}
}
