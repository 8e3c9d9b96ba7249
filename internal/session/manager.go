package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/foxseedlab/stagewarden/internal/config"
	"github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/foxseedlab/stagewarden/internal/webhook"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const defaultReplyTTL = 15 * time.Second

// Manager wires platform events to the session engine.
type Manager struct {
	cfg      *config.Config
	repo     repository.Repository
	discord  discord.Client
	webhook  webhook.Sender
	registry *Registry
	sync     *Synchronizer
	queue    *ModerationQueue
	board    *ActivityBoard
	msgLocks *keyedMutex
	tracer   trace.Tracer
	loc      *time.Location

	now      func() time.Time
	replyTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, wh webhook.Sender) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		repo:     repo,
		discord:  dc,
		webhook:  wh,
		registry: NewRegistry(),
		msgLocks: newKeyedMutex(),
		tracer:   otel.Tracer(tracerName),
		loc:      cfg.Location(),
		now:      time.Now,
		replyTTL: defaultReplyTTL,
		ctx:      ctx,
		cancel:   cancel,
	}
	m.queue = NewModerationQueue(dc, QueueConfig{
		GuildID:             cfg.DiscordGuildID,
		TrackingChannelID:   cfg.DiscordTrackingChannelID,
		ModerationChannelID: cfg.DiscordModerationChannelID,
		ScanLimit:           cfg.QueueScanLimit,
		MaxEntries:          cfg.QueueMaxEntries,
	})
	m.sync = NewSynchronizer(dc, m.registry, m.queue, wh, cfg.DiscordGuildID, func() time.Time { return m.now() })
	m.board = NewActivityBoard(dc, repo, cfg.DiscordActivityChannelID, cfg.ActivityBoardLimit, m.loc)
	return m
}

// Start registers the platform handlers and rebuilds the derived messages.
func (m *Manager) Start(ctx context.Context) {
	m.discord.RegisterVoiceStateUpdateHandler(m.HandleVoiceStateUpdate)
	m.discord.RegisterButtonHandler(m.OnButtonAction)
	m.discord.RegisterFormSubmitHandler(m.OnFormSubmit)
	m.discord.RegisterTextCommandHandler(m.cfg.DiscordTrackingChannelID, m.OnTextCommand)

	if err := m.queue.Rebuild(ctx); err != nil {
		slog.Error("failed to build moderation queue", "error", err)
	}
	if err := m.board.Setup(ctx); err != nil {
		slog.Error("failed to set up activity board", "error", err)
	}
	m.queue.StartRefresher(m.ctx, m.cfg.QueueRefreshInterval())
	slog.Info("session manager started", "tracking_channel_id", m.cfg.DiscordTrackingChannelID, "moderation_channel_id", m.cfg.DiscordModerationChannelID)
}

// Stop cancels every timer and waits for in-flight ticks.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) Sessions() []SessionInfo {
	return m.registry.Snapshot(m.now())
}

func (m *Manager) QueueEntries() []QueueEntry {
	return m.queue.Entries()
}

type loggerKey struct{}

func withLogger(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, l)
}

func logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// dispatch runs one inbound event with a correlated logger and a span. A panic
// is logged and contained to this event.
func (m *Manager) dispatch(name string, fn func(ctx context.Context)) {
	ctx := withLogger(m.ctx, slog.With("event_id", uuid.NewString(), "event", name))
	ctx, span := m.tracer.Start(ctx, "event."+name)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			logger(ctx).Error("event handler panicked", "panic", fmt.Sprint(r), "stack", string(debug.Stack()))
		}
	}()
	fn(ctx)
}
