package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
)

const ButtonActivityReload = "activity-button"

// ActivityBoard keeps a single message listing when stage moderators last spoke.
type ActivityBoard struct {
	dc        discord.Client
	repo      repository.ActivityRepository
	channelID string
	limit     int
	loc       *time.Location

	mu  sync.Mutex
	ref discord.MessageRef
}

func NewActivityBoard(dc discord.Client, repo repository.ActivityRepository, channelID string, limit int, loc *time.Location) *ActivityBoard {
	if loc == nil {
		loc = time.UTC
	}
	return &ActivityBoard{dc: dc, repo: repo, channelID: channelID, limit: limit, loc: loc}
}

func (b *ActivityBoard) Record(ctx context.Context, userID string, at time.Time) error {
	return b.repo.UpsertActivity(ctx, userID, at)
}

// Setup clears the channel and posts a fresh board.
func (b *ActivityBoard) Setup(ctx context.Context) error {
	if err := b.dc.PurgeChannel(ctx, b.channelID, purgeLimit); err != nil {
		return fmt.Errorf("failed to purge activity channel: %w", err)
	}
	b.mu.Lock()
	b.ref = discord.MessageRef{}
	b.mu.Unlock()
	return b.Refresh(ctx)
}

// Refresh edits the board in place, re-sending it if the message vanished.
func (b *ActivityBoard) Refresh(ctx context.Context) error {
	list, err := b.repo.ListRecentActivity(ctx, b.limit)
	if err != nil {
		return fmt.Errorf("failed to list activity: %w", err)
	}
	art := discord.Artifact{
		Content: b.content(list),
		Rows: [][]discord.Button{{
			{CustomID: ButtonActivityReload, Label: messageActivityReload, Style: discord.ButtonSecondary},
		}},
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ref.IsZero() {
		ref, err := b.dc.EditArtifact(ctx, b.ref, art)
		if err == nil {
			b.ref = ref
			return nil
		}
		if !errors.Is(err, discord.ErrArtifactNotFound) {
			return err
		}
	}
	ref, err := b.dc.SendArtifact(ctx, b.channelID, art)
	if err != nil {
		return err
	}
	b.ref = ref
	return nil
}

func (b *ActivityBoard) content(list []repository.Activity) string {
	if len(list) == 0 {
		return messageActivityHeader + "\n" + messageActivityEmpty
	}
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, messageActivityHeader)
	for _, a := range list {
		lines = append(lines, fmt.Sprintf("<@%s> %s", a.UserID, a.LastStageDatetime.In(b.loc).Format("2006-01-02 15:04")))
	}
	return strings.Join(lines, "\n")
}
