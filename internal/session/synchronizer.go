package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/webhook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/foxseedlab/stagewarden/internal/session"

// Synchronizer renders sessions onto their messages and repairs drifted ones.
type Synchronizer struct {
	dc       discord.Client
	registry *Registry
	queue    *ModerationQueue
	notifier webhook.Sender
	guildID  string
	now      func() time.Time
	tracer   trace.Tracer
}

func NewSynchronizer(dc discord.Client, registry *Registry, queue *ModerationQueue, notifier webhook.Sender, guildID string, now func() time.Time) *Synchronizer {
	if now == nil {
		now = time.Now
	}
	return &Synchronizer{
		dc:       dc,
		registry: registry,
		queue:    queue,
		notifier: notifier,
		guildID:  guildID,
		now:      now,
		tracer:   otel.Tracer(tracerName),
	}
}

// Push must run inside the session's exclusive region (or on a detached session).
// A vanished message evicts a tracked session; other failures are transient and
// left to the next tick.
func (y *Synchronizer) Push(ctx context.Context, s *Session) error {
	ctx, span := y.tracer.Start(ctx, "session.push", trace.WithAttributes(
		attribute.String("user_id", s.Key.UserID),
		attribute.String("channel_id", s.Key.ChannelID),
		attribute.String("message_id", s.Handle.MessageID),
		attribute.String("state", s.state.String()),
	))
	defer span.End()

	ref, err := y.dc.EditArtifact(ctx, s.Handle, s.Artifact())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "edit failed")
		if errors.Is(err, discord.ErrArtifactNotFound) {
			if s.tracked {
				y.registry.removeSession(s)
				slog.Warn("tracking message vanished; session evicted", "user_id", s.Key.UserID, "channel_id", s.Key.ChannelID, "message_id", s.Handle.MessageID)
			}
			if s.queued {
				y.queue.Remove(ctx, s.Handle.URL(y.guildID))
				s.queued = false
			}
			return apperrors.Wrap(apperrors.CodeArtifactLost, "tracking message lost", err)
		}
		return apperrors.Wrap(apperrors.CodeTransient, "failed to edit tracking message", err)
	}
	s.Handle = ref

	if want := s.NeedsReview(); want != s.queued {
		entry := QueueEntry{ShortLabel: s.Model.UserMention(), URL: s.Handle.URL(y.guildID)}
		if want {
			y.queue.Add(ctx, entry)
			y.notify(ctx, s, webhook.NoticeNeedsModeration)
		} else {
			y.queue.Remove(ctx, entry.URL)
		}
		s.queued = want
	}
	return nil
}

// ReconcileIfBugged repairs a message that shows an on-stage color although no
// tracked session renders it. It returns the repaired detached session, or nil
// when the message is consistent.
func (y *Synchronizer) ReconcileIfBugged(ctx context.Context, msg *discord.Message) (*Session, error) {
	embed := msg.FirstEmbed()
	if embed == nil || !artifact.Color(embed.Color).IsOnStage() {
		return nil, nil
	}
	key := keyFromModel(artifact.FromEmbed(*embed))
	rendered := false
	if key.Valid() {
		_ = y.registry.Do(key, func(s *Session) error {
			rendered = s.Handle.MessageID == msg.Ref.MessageID
			return nil
		})
	}
	if rendered {
		return nil, nil
	}

	// A leave may have finished after msg was read; its final render is then
	// already on the message.
	fresh, err := y.dc.FetchMessage(ctx, msg.Ref)
	if err != nil {
		if errors.Is(err, discord.ErrArtifactNotFound) {
			return nil, apperrors.Wrap(apperrors.CodeNotFound, "tracking message not found", err)
		}
		return nil, apperrors.Wrap(apperrors.CodeTransient, "failed to fetch tracking message", err)
	}
	if e := fresh.FirstEmbed(); e == nil || !artifact.Color(e.Color).IsOnStage() {
		return nil, nil
	}

	s := detachedSession(fresh)
	s.MarkBugged()
	slog.Warn("repairing stale tracking message", "user_id", key.UserID, "channel_id", key.ChannelID, "message_id", msg.Ref.MessageID)
	if err := y.Push(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (y *Synchronizer) notify(ctx context.Context, s *Session, event webhook.NoticeEvent) {
	if y.notifier == nil {
		return
	}
	err := y.notifier.SendNotice(ctx, webhook.ModerationNotice{
		Event:      event,
		UserID:     s.Key.UserID,
		ChannelID:  s.Key.ChannelID,
		MessageURL: s.Handle.URL(y.guildID),
		At:         y.now(),
	})
	if err != nil {
		slog.Warn("failed to send moderation notice", "event", string(event), "user_id", s.Key.UserID, "error", err)
	}
}
