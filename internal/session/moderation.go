package session

import (
	"context"
	"errors"
	"strings"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/repository"
)

const (
	FormSummary      = "summary-modal"
	FormSummaryInput = "summary-input"
	FormBan          = "ban-modal"
	FormBanInput     = "ban-reason-input"
)

var (
	errPermissionDenied = apperrors.New(apperrors.CodePermissionDenied, "insufficient permissions")
	errNotTrackingMsg   = apperrors.New(apperrors.CodeInvalidInput, "not a tracking message")
)

// withTarget runs fn against the session rendered by ref. The tracked session
// is used when it still renders this message; otherwise a detached view is
// rebuilt from the message. Handlers on the same message are serialized.
func (m *Manager) withTarget(ctx context.Context, ref discord.MessageRef, fn func(*Session) error) error {
	unlock := m.msgLocks.Lock(ref.MessageID)
	defer unlock()

	for attempt := 0; ; attempt++ {
		msg, err := m.discord.FetchMessage(ctx, ref)
		if err != nil {
			if errors.Is(err, discord.ErrArtifactNotFound) {
				return apperrors.Wrap(apperrors.CodeNotFound, "tracking message not found", err)
			}
			return apperrors.Wrap(apperrors.CodeTransient, "failed to fetch tracking message", err)
		}
		repaired, err := m.sync.ReconcileIfBugged(ctx, msg)
		if err != nil {
			logger(ctx).Warn("failed to repair tracking message", "message_id", ref.MessageID, "error", err)
		}

		key := keyFromModel(modelOf(msg))
		if !key.Valid() {
			return errNotTrackingMsg
		}
		handled := false
		err = m.registry.Do(key, func(s *Session) error {
			if s.Handle.MessageID != ref.MessageID {
				return nil
			}
			handled = true
			return fn(s)
		})
		if handled {
			return err
		}
		if repaired != nil {
			return fn(repaired)
		}

		// The session may have ended between the fetch and the lookup; its
		// final render is then on the message, so read it again.
		if e := msg.FirstEmbed(); attempt == 0 && e != nil && artifact.Color(e.Color).IsOnStage() {
			continue
		}
		return fn(detachedSession(msg))
	}
}

func modelOf(msg *discord.Message) *artifact.Model {
	if e := msg.FirstEmbed(); e != nil {
		return artifact.FromEmbed(*e)
	}
	return &artifact.Model{}
}

// push renders after a handler mutation. Tracked sessions tolerate
// transient failures since the next tick renders again.
func (m *Manager) push(ctx context.Context, s *Session) error {
	err := m.sync.Push(ctx, s)
	if err != nil && s.tracked && apperrors.HasCode(err, apperrors.CodeTransient) {
		logger(ctx).Warn("push failed; next tick will retry", "user_id", s.Key.UserID, "error", err)
		return nil
	}
	return err
}

func (m *Manager) appendLog(s *Session, action, username string) {
	if !s.Model.AppendLog(logLine(action, username, m.now(), m.loc)) {
		logger(m.ctx).Info("log field full; entry dropped", "user_id", s.Key.UserID, "action", action)
	}
}

func (m *Manager) OnButtonAction(ev discord.ButtonEvent) {
	m.dispatch("button", func(ctx context.Context) {
		log := logger(ctx).With("custom_id", ev.CustomID, "actor_id", ev.Actor.UserID)
		var err error
		switch ev.CustomID {
		case artifact.ButtonSummary:
			err = m.showSummaryForm(ctx, ev)
		case artifact.ButtonTalk:
			err = m.toggleRole(ctx, ev, m.cfg.DiscordTalkRoleID)
		case artifact.ButtonVoid:
			err = m.toggleRole(ctx, ev, m.cfg.DiscordVoidRoleID)
		case artifact.ButtonBan:
			err = m.banButton(ctx, ev)
		case artifact.ButtonReview:
			err = m.resolveReview(ctx, ev)
		case artifact.ButtonHistory:
			err = m.showHistory(ctx, ev)
		case artifact.ButtonLegend:
			err = ev.RespondEphemeral(messageLegend)
		case artifact.ButtonStats:
			err = m.showStats(ctx, ev)
		case ButtonActivityReload:
			if err = m.board.Refresh(ctx); err == nil {
				err = ev.Acknowledge()
			}
		default:
			log.Debug("ignoring unknown button")
			return
		}
		if err != nil {
			log.Info("button action failed", "error", err)
			m.respondError(ctx, ev.RespondEphemeral, err)
		}
	})
}

func (m *Manager) OnFormSubmit(ev discord.FormSubmitEvent) {
	m.dispatch("form_submit", func(ctx context.Context) {
		log := logger(ctx).With("custom_id", ev.CustomID, "actor_id", ev.Actor.UserID)
		if ev.Message == nil {
			log.Debug("form submit without message")
			return
		}
		var err error
		switch ev.CustomID {
		case FormSummary:
			err = m.submitSummary(ctx, ev.Message.Ref, ev.Actor, ev.Values[FormSummaryInput])
		case FormBan:
			err = m.submitBan(ctx, ev.Message.Ref, ev.Actor, ev.Values[FormBanInput])
		default:
			log.Debug("ignoring unknown form")
			return
		}
		if err == nil {
			err = ev.Acknowledge()
		}
		if err != nil {
			log.Info("form submit failed", "error", err)
			m.respondError(ctx, ev.RespondEphemeral, err)
		}
	})
}

func (m *Manager) respondError(ctx context.Context, respond func(string) error, err error) {
	if respond == nil {
		return
	}
	if rerr := respond(errorReply(err)); rerr != nil {
		logger(ctx).Warn("failed to respond to interaction", "error", rerr)
	}
}

func errorReply(err error) string {
	var e *apperrors.Error
	switch apperrors.CodeOf(err) {
	case apperrors.CodePermissionDenied:
		return messageInsufficientPermissions
	case apperrors.CodeNotFound:
		return messageTargetNotAvailable
	case apperrors.CodeArtifactLost:
		return messageArtifactLost
	case apperrors.CodeConflict, apperrors.CodeInvalidInput:
		if errors.As(err, &e) {
			if e == errNotTrackingMsg {
				return messageNotATrackingMessage
			}
			return e.Message
		}
	}
	return messageActionFailed
}

func (m *Manager) showSummaryForm(ctx context.Context, ev discord.ButtonEvent) error {
	if !ev.Actor.Has(discord.PermissionMoveMembers) {
		return errPermissionDenied
	}
	current := ""
	if ev.Message != nil {
		if _, text, ok := modelOf(ev.Message).Summary(); ok {
			current = text
		}
	}
	return ev.ShowForm(discord.FormSpec{
		CustomID:    FormSummary,
		Title:       formSummaryTitle,
		InputID:     FormSummaryInput,
		Label:       formSummaryLabel,
		Placeholder: formSummaryPlaceholder,
		Value:       current,
		Required:    true,
		MinLength:   MinSummaryLength,
		MaxLength:   MaxSummaryLength,
	})
}

func (m *Manager) submitSummary(ctx context.Context, ref discord.MessageRef, actor discord.Actor, text string) error {
	if !actor.Has(discord.PermissionMoveMembers) {
		return errPermissionDenied
	}
	return m.withTarget(ctx, ref, func(s *Session) error {
		return m.attachSummary(ctx, s, actor, text)
	})
}

func (m *Manager) attachSummary(ctx context.Context, s *Session, actor discord.Actor, text string) error {
	edited, err := s.AttachSummary(actor.Username, text)
	if err != nil {
		return err
	}
	action := actionAddedSummary
	if edited {
		action = actionEditedSummary
	}
	m.appendLog(s, action, actor.Username)
	if err := m.push(ctx, s); err != nil {
		return err
	}
	if err := m.repo.UpdateTalkSummary(ctx, repository.UpdateTalkSummaryInput{
		MessageID:   s.Handle.MessageID,
		UserID:      s.Key.UserID,
		Summary:     text,
		ModeratorID: actor.UserID,
	}); err != nil {
		logger(ctx).Error("failed to store summary", "user_id", s.Key.UserID, "error", err)
	}
	return nil
}

// canManageRole requires ManageRoles and a highest role strictly above roleID.
func (m *Manager) canManageRole(ctx context.Context, actor discord.Actor, roleID string) (*discord.Role, error) {
	if !actor.Has(discord.PermissionManageRoles) {
		return nil, errPermissionDenied
	}
	role, err := m.discord.GetRole(ctx, m.cfg.DiscordGuildID, roleID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTransient, "failed to resolve role", err)
	}
	if !actor.Outranks(role) {
		return nil, errPermissionDenied
	}
	return role, nil
}

func (m *Manager) toggleRole(ctx context.Context, ev discord.ButtonEvent, roleID string) error {
	if ev.Message == nil {
		return errNotTrackingMsg
	}
	role, err := m.canManageRole(ctx, ev.Actor, roleID)
	if err != nil {
		return err
	}
	isVoid := roleID == m.cfg.DiscordVoidRoleID
	err = m.withTarget(ctx, ev.Message.Ref, func(s *Session) error {
		member, err := m.discord.GetMember(ctx, m.cfg.DiscordGuildID, s.Key.UserID)
		if err != nil {
			return m.memberLookupError(err)
		}
		label := s.Buttons.TalkLabel
		if isVoid {
			label = s.Buttons.VoidLabel
		}
		add := label == artifact.LabelAddTalk || label == artifact.LabelAddVoid
		has := member.HasRole(roleID)
		if add == has {
			s.Buttons.SetRoles(member.HasRole(m.cfg.DiscordTalkRoleID), member.HasRole(m.cfg.DiscordVoidRoleID))
			if err := m.push(ctx, s); err != nil {
				return err
			}
			return apperrors.New(apperrors.CodeConflict, roleAlreadyMessage(member.Mention(), role.Name, has))
		}

		if err := m.applyRoleChange(ctx, s.Key.UserID, roleID, add, isVoid); err != nil {
			return err
		}
		if refreshed, err := m.discord.GetMember(ctx, m.cfg.DiscordGuildID, s.Key.UserID); err == nil {
			member = refreshed
		} else {
			logger(ctx).Warn("failed to re-read member after role change", "user_id", s.Key.UserID, "error", err)
		}
		s.Buttons.SetRoles(member.HasRole(m.cfg.DiscordTalkRoleID), member.HasRole(m.cfg.DiscordVoidRoleID))
		m.appendLog(s, roleAction(isVoid, add), ev.Actor.Username)
		s.RolesChanged()
		if err := m.push(ctx, s); err != nil {
			return err
		}
		action := repository.ModActionTalk
		if isVoid {
			action = repository.ModActionVoid
		}
		if err := m.repo.UpdateTalkRoles(ctx, repository.UpdateTalkRolesInput{
			MessageID:   s.Handle.MessageID,
			UserID:      s.Key.UserID,
			UserRoles:   member.RoleNames,
			Action:      action,
			ModeratorID: ev.Actor.UserID,
		}); err != nil {
			logger(ctx).Error("failed to store role change", "user_id", s.Key.UserID, "error", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return ev.Acknowledge()
}

// applyRoleChange grants or revokes roleID. Granting void also takes away the
// new-member and talk roles.
func (m *Manager) applyRoleChange(ctx context.Context, userID, roleID string, add, isVoid bool) error {
	guildID := m.cfg.DiscordGuildID
	if !add {
		if err := m.discord.RemoveRole(ctx, guildID, userID, roleID); err != nil {
			return m.memberLookupError(err)
		}
		return nil
	}
	if err := m.discord.AddRole(ctx, guildID, userID, roleID); err != nil {
		return m.memberLookupError(err)
	}
	if isVoid {
		for _, extra := range []string{m.cfg.DiscordNewRoleID, m.cfg.DiscordTalkRoleID} {
			if err := m.discord.RemoveRole(ctx, guildID, userID, extra); err != nil {
				logger(ctx).Warn("failed to remove role while adding void", "user_id", userID, "role_id", extra, "error", err)
			}
		}
	}
	return nil
}

func roleAction(isVoid, add bool) string {
	switch {
	case isVoid && add:
		return actionAddedVoid
	case isVoid:
		return actionRemovedVoid
	case add:
		return actionAddedTalk
	default:
		return actionRemovedTalk
	}
}

func (m *Manager) memberLookupError(err error) error {
	if errors.Is(err, discord.ErrMemberNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, "member not found", err)
	}
	return apperrors.Wrap(apperrors.CodeTransient, "member request failed", err)
}

func (m *Manager) isBanned(ctx context.Context, userID string) (bool, error) {
	bans, err := m.discord.ListBans(ctx, m.cfg.DiscordGuildID)
	if err != nil {
		return false, apperrors.Wrap(apperrors.CodeTransient, "failed to list bans", err)
	}
	_, banned := bans[userID]
	return banned, nil
}

// banButton asks for a reason before banning; unbanning happens right away.
func (m *Manager) banButton(ctx context.Context, ev discord.ButtonEvent) error {
	if !ev.Actor.Has(discord.PermissionBanMembers) {
		return errPermissionDenied
	}
	if ev.Message == nil {
		return errNotTrackingMsg
	}
	if ev.Label != artifact.LabelUnban {
		userID := modelOf(ev.Message).UserID()
		if userID == "" {
			return errNotTrackingMsg
		}
		banned, err := m.isBanned(ctx, userID)
		if err != nil {
			return err
		}
		if banned {
			return m.syncBanLabel(ctx, ev.Message.Ref, true)
		}
		return ev.ShowForm(discord.FormSpec{
			CustomID:    FormBan,
			Title:       formBanTitle,
			InputID:     FormBanInput,
			Label:       formBanLabel,
			Placeholder: formBanPlaceholder,
		})
	}

	err := m.withTarget(ctx, ev.Message.Ref, func(s *Session) error {
		banned, err := m.isBanned(ctx, s.Key.UserID)
		if err != nil {
			return err
		}
		if !banned {
			s.SetBanned(false)
			if err := m.push(ctx, s); err != nil {
				return err
			}
			return apperrors.New(apperrors.CodeConflict, messageNotBanned)
		}
		if err := m.discord.Unban(ctx, m.cfg.DiscordGuildID, s.Key.UserID); err != nil {
			return apperrors.Wrap(apperrors.CodeTransient, "failed to unban", err)
		}
		if banned, err = m.isBanned(ctx, s.Key.UserID); err != nil {
			return err
		}
		if banned {
			s.SetBanned(true)
		} else {
			s.Unban()
			m.appendLog(s, actionUnbanned, ev.Actor.Username)
		}
		if err := m.push(ctx, s); err != nil {
			return err
		}
		m.storeBan(ctx, s, banned, ev.Actor.UserID)
		return nil
	})
	if err != nil {
		return err
	}
	return ev.Acknowledge()
}

// syncBanLabel heals the ban button of an already banned user and reports the conflict.
func (m *Manager) syncBanLabel(ctx context.Context, ref discord.MessageRef, banned bool) error {
	err := m.withTarget(ctx, ref, func(s *Session) error {
		s.SetBanned(banned)
		return m.push(ctx, s)
	})
	if err != nil {
		return err
	}
	return apperrors.New(apperrors.CodeConflict, messageAlreadyBanned)
}

// submitBan bans the target. A tracked session stops being tracked: its final
// render goes out, its time on stage is stored and its timer is cancelled.
func (m *Manager) submitBan(ctx context.Context, ref discord.MessageRef, actor discord.Actor, reason string) error {
	if !actor.Has(discord.PermissionBanMembers) {
		return errPermissionDenied
	}
	return m.withTarget(ctx, ref, func(s *Session) error {
		banned, err := m.isBanned(ctx, s.Key.UserID)
		if err != nil {
			return err
		}
		if banned {
			s.SetBanned(true)
			if err := m.push(ctx, s); err != nil {
				return err
			}
			return apperrors.New(apperrors.CodeConflict, messageAlreadyBanned)
		}
		if err := m.discord.Ban(ctx, m.cfg.DiscordGuildID, s.Key.UserID, strings.TrimSpace(reason)); err != nil {
			return apperrors.Wrap(apperrors.CodeTransient, "failed to ban", err)
		}
		if banned, err = m.isBanned(ctx, s.Key.UserID); err != nil {
			return err
		}
		if !banned {
			return apperrors.New(apperrors.CodeTransient, "ban did not take effect")
		}
		if s.tracked {
			s.Model.SetTimeOnStage(s.Elapsed(m.now()))
		}
		s.Ban()
		m.appendLog(s, actionBanned, actor.Username)
		pushErr := m.sync.Push(ctx, s)
		if s.tracked {
			m.persistTimeOnStage(ctx, s)
			m.registry.removeSession(s)
			logger(ctx).Info("session ended by ban", "user_id", s.Key.UserID, "channel_id", s.Key.ChannelID)
		}
		m.storeBan(ctx, s, true, actor.UserID)
		if pushErr != nil && !(s.tracked && apperrors.HasCode(pushErr, apperrors.CodeTransient)) {
			return pushErr
		}
		return nil
	})
}

func (m *Manager) storeBan(ctx context.Context, s *Session, banned bool, moderatorID string) {
	if err := m.repo.UpdateTalkBan(ctx, repository.UpdateTalkBanInput{
		MessageID:   s.Handle.MessageID,
		UserID:      s.Key.UserID,
		Banned:      banned,
		ModeratorID: moderatorID,
	}); err != nil {
		logger(ctx).Error("failed to store ban status", "user_id", s.Key.UserID, "error", err)
	}
}

// resolveReview requires a moderator above every role the engine manages.
func (m *Manager) resolveReview(ctx context.Context, ev discord.ButtonEvent) error {
	if ev.Message == nil {
		return errNotTrackingMsg
	}
	for _, roleID := range []string{m.cfg.DiscordTalkRoleID, m.cfg.DiscordVoidRoleID} {
		if _, err := m.canManageRole(ctx, ev.Actor, roleID); err != nil {
			return err
		}
	}
	err := m.withTarget(ctx, ev.Message.Ref, func(s *Session) error {
		if err := s.Resolve(); err != nil {
			if perr := m.push(ctx, s); perr != nil {
				return perr
			}
			return err
		}
		m.appendLog(s, actionResolved, ev.Actor.Username)
		return m.push(ctx, s)
	})
	if err != nil {
		return err
	}
	return ev.Acknowledge()
}

func (m *Manager) showHistory(ctx context.Context, ev discord.ButtonEvent) error {
	if ev.Message == nil {
		return errNotTrackingMsg
	}
	userID := modelOf(ev.Message).UserID()
	if userID == "" {
		return errNotTrackingMsg
	}
	talks, err := m.repo.ListTalksByUser(ctx, userID)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransient, "failed to list talks", err)
	}
	return ev.RespondEphemeral(historyText(userID, talks, m.cfg.DiscordTrackingChannelID, m.cfg.DiscordGuildID, m.loc))
}

func (m *Manager) showStats(ctx context.Context, ev discord.ButtonEvent) error {
	talks, err := m.repo.ListTalks(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeTransient, "failed to list talks", err)
	}
	return ev.RespondEphemeral(statsText(talks))
}
