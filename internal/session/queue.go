package session

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	"golang.org/x/sync/singleflight"
)

const purgeLimit = 100

type QueueEntry struct {
	ShortLabel string `json:"short_label"`
	URL        string `json:"url"`
}

// ModerationQueue is the aggregate message listing artifacts that need review.
// It is a projection: Rebuild reconstructs it from recent tracking messages.
type ModerationQueue struct {
	dc                  discord.Client
	guildID             string
	trackingChannelID   string
	moderationChannelID string
	scanLimit           int
	maxEntries          int

	mu      sync.Mutex
	entries []QueueEntry
	ref     discord.MessageRef
	// journal collects Add/Remove calls made while a rebuild scans, so the
	// rebuilt entries can replay them.
	journal    []queueOp
	rebuilding bool

	group singleflight.Group
}

type queueOp struct {
	entry  QueueEntry
	remove bool
}

type QueueConfig struct {
	GuildID             string
	TrackingChannelID   string
	ModerationChannelID string
	ScanLimit           int
	MaxEntries          int
}

func NewModerationQueue(dc discord.Client, cfg QueueConfig) *ModerationQueue {
	return &ModerationQueue{
		dc:                  dc,
		guildID:             cfg.GuildID,
		trackingChannelID:   cfg.TrackingChannelID,
		moderationChannelID: cfg.ModerationChannelID,
		scanLimit:           cfg.ScanLimit,
		maxEntries:          cfg.MaxEntries,
	}
}

func (q *ModerationQueue) Entries() []QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.entries)
}

// Add appends e unless its URL is already listed.
func (q *ModerationQueue) Add(ctx context.Context, e QueueEntry) {
	q.mu.Lock()
	q.record(queueOp{entry: e})
	if slices.ContainsFunc(q.entries, func(x QueueEntry) bool { return x.URL == e.URL }) {
		q.mu.Unlock()
		return
	}
	q.appendLocked(e)
	err := q.renderLocked(ctx)
	q.mu.Unlock()
	q.handleRenderError(ctx, err)
}

func (q *ModerationQueue) Remove(ctx context.Context, url string) {
	q.mu.Lock()
	q.record(queueOp{entry: QueueEntry{URL: url}, remove: true})
	i := slices.IndexFunc(q.entries, func(x QueueEntry) bool { return x.URL == url })
	if i < 0 {
		q.mu.Unlock()
		return
	}
	q.entries = slices.Delete(q.entries, i, i+1)
	err := q.renderLocked(ctx)
	q.mu.Unlock()
	q.handleRenderError(ctx, err)
}

func (q *ModerationQueue) record(op queueOp) {
	if q.rebuilding {
		q.journal = append(q.journal, op)
	}
}

func (q *ModerationQueue) appendLocked(e QueueEntry) {
	q.entries = append(q.entries, e)
	if len(q.entries) > q.maxEntries {
		q.entries = slices.Clone(q.entries[len(q.entries)-q.maxEntries:])
	}
}

func (q *ModerationQueue) renderLocked(ctx context.Context) error {
	art := discord.Artifact{Content: queueContent(q.entries)}
	if q.ref.IsZero() {
		ref, err := q.dc.SendArtifact(ctx, q.moderationChannelID, art)
		if err != nil {
			return err
		}
		q.ref = ref
		return nil
	}
	ref, err := q.dc.EditArtifact(ctx, q.ref, art)
	if err != nil {
		return err
	}
	q.ref = ref
	return nil
}

func (q *ModerationQueue) handleRenderError(ctx context.Context, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, discord.ErrArtifactNotFound) {
		slog.Warn("moderation queue message vanished; rebuilding", "channel_id", q.moderationChannelID)
		if err := q.Rebuild(ctx); err != nil {
			slog.Error("failed to rebuild moderation queue", "error", err)
		}
		return
	}
	slog.Warn("failed to render moderation queue", "channel_id", q.moderationChannelID, "error", err)
}

// Rebuild rescans recent tracking messages, purges the moderation channel and
// posts a fresh queue message. Concurrent calls share one rebuild.
func (q *ModerationQueue) Rebuild(ctx context.Context) error {
	_, err, _ := q.group.Do("rebuild", func() (any, error) {
		return nil, q.rebuild(ctx)
	})
	return err
}

func (q *ModerationQueue) rebuild(ctx context.Context) error {
	q.mu.Lock()
	q.rebuilding = true
	q.journal = nil
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		q.rebuilding = false
		q.journal = nil
		q.mu.Unlock()
	}()

	botID, err := q.dc.GetBotUserID()
	if err != nil {
		return err
	}
	msgs, err := q.dc.FetchRecentMessages(ctx, q.trackingChannelID, q.scanLimit)
	if err != nil {
		return err
	}
	entries := pendingEntries(msgs, botID, q.guildID, q.maxEntries)

	if err := q.dc.PurgeChannel(ctx, q.moderationChannelID, purgeLimit); err != nil {
		slog.Warn("failed to purge moderation channel", "channel_id", q.moderationChannelID, "error", err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = entries
	for _, op := range q.journal {
		i := slices.IndexFunc(q.entries, func(x QueueEntry) bool { return x.URL == op.entry.URL })
		switch {
		case op.remove && i >= 0:
			q.entries = slices.Delete(q.entries, i, i+1)
		case !op.remove && i < 0:
			q.appendLocked(op.entry)
		}
	}
	q.ref = discord.MessageRef{}
	if err := q.renderLocked(ctx); err != nil {
		return err
	}
	slog.Info("moderation queue rebuilt", "entries", len(q.entries), "replayed", len(q.journal))
	return nil
}

// pendingEntries keeps the newest maxEntries bot messages in review color,
// oldest first. msgs are expected newest first.
func pendingEntries(msgs []*discord.Message, botID, guildID string, maxEntries int) []QueueEntry {
	var newest []QueueEntry
	for _, m := range msgs {
		if m == nil || m.AuthorID != botID {
			continue
		}
		e := m.FirstEmbed()
		if e == nil || artifact.Color(e.Color) != artifact.ColorModeration {
			continue
		}
		newest = append(newest, QueueEntry{
			ShortLabel: artifact.FromEmbed(*e).UserMention(),
			URL:        m.Ref.URL(guildID),
		})
		if len(newest) == maxEntries {
			break
		}
	}
	slices.Reverse(newest)
	return newest
}

// StartRefresher rebuilds the queue every interval until ctx is done.
func (q *ModerationQueue) StartRefresher(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := q.Rebuild(ctx); err != nil {
					slog.Error("periodic moderation queue rebuild failed", "error", err)
				}
			}
		}
	}()
}
