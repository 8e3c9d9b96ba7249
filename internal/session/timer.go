package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/webhook"
)

// startTimer ticks the session until it is removed or the manager stops.
func (m *Manager) startTimer(s *Session) {
	interval := m.cfg.TickInterval()
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				m.safeTick(s.Key)
			}
		}
	}()
}

func (m *Manager) safeTick(key Key) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("session tick panicked", "user_id", key.UserID, "channel_id", key.ChannelID, "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	m.tick(m.ctx, key)
}

// tick re-resolves the session by key; a miss means it already ended.
func (m *Manager) tick(ctx context.Context, key Key) {
	err := m.registry.Do(key, func(s *Session) error {
		return m.update(ctx, s, false)
	})
	switch {
	case err == nil, errors.Is(err, errNotTracked):
	case apperrors.HasCode(err, apperrors.CodeTransient):
		slog.Debug("tick push failed; retrying next tick", "user_id", key.UserID, "channel_id", key.ChannelID, "error", err)
	default:
		slog.Warn("tick failed", "user_id", key.UserID, "channel_id", key.ChannelID, "error", err)
	}
}

// update recomputes elapsed time, applies the overtime or leave transition and
// pushes the result. It runs inside the session's region.
func (m *Manager) update(ctx context.Context, s *Session, leaving bool) error {
	elapsed := s.Elapsed(m.now())
	s.Model.SetTimeOnStage(elapsed)
	flagged := false
	if leaving {
		s.Leave()
	} else {
		flagged = s.Flag(elapsed, m.cfg.OvertimeThreshold())
	}
	err := m.sync.Push(ctx, s)
	if flagged {
		m.notifyOvertime(ctx, s)
	}
	return err
}

func (m *Manager) notifyOvertime(ctx context.Context, s *Session) {
	url := s.Handle.URL(m.cfg.DiscordGuildID)
	logger(ctx).Info("session exceeded overtime threshold", "user_id", s.Key.UserID, "channel_id", s.Key.ChannelID, "message_id", s.Handle.MessageID)
	if m.cfg.DiscordOverseerUserID != "" {
		msg := overtimeNoticeMessage(s.Model.UserMention(), m.cfg.OvertimeThreshold(), url)
		if err := m.discord.SendDirectMessage(ctx, m.cfg.DiscordOverseerUserID, msg); err != nil {
			logger(ctx).Warn("failed to notify overseer", "user_id", s.Key.UserID, "error", err)
		}
	}
	m.sync.notify(ctx, s, webhook.NoticeOvertime)
}
