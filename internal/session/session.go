package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
)

const (
	MinSummaryLength = 4
	MaxSummaryLength = 512
)

// Key identifies a stage appearance. At most one tracked session exists per key.
type Key struct {
	UserID    string
	ChannelID string
}

func (k Key) Valid() bool {
	return k.UserID != "" && k.ChannelID != ""
}

// Session is one stage appearance. Tracked sessions are owned by the Registry
// and only mutated inside Registry.Do; detached sessions are rebuilt from a
// rendered message for a single handler call and never stored.
type Session struct {
	Key       Key
	StartedAt time.Time
	Model     *artifact.Model
	Buttons   artifact.ButtonState
	Handle    discord.MessageRef

	state   State
	banned  bool
	tracked bool

	// queued mirrors the queue membership of the last successful push.
	queued bool

	mu      sync.Mutex
	removed atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	stop    sync.Once
}

func newTrackedSession(parent context.Context, key Key, startedAt time.Time, model *artifact.Model, buttons artifact.ButtonState) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		Key:       key,
		StartedAt: startedAt,
		Model:     model,
		Buttons:   buttons,
		state:     StateClean,
		tracked:   true,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.refreshReview()
	return s
}

// detachedSession rebuilds a session view from a rendered message.
func detachedSession(msg *discord.Message) *Session {
	embed := msg.FirstEmbed()
	model := &artifact.Model{}
	color := artifact.ColorResolved
	if embed != nil {
		model = artifact.FromEmbed(*embed)
		color = artifact.Color(embed.Color)
	}
	s := &Session{
		Key:       keyFromModel(model),
		StartedAt: model.Timestamp,
		Model:     model,
		Buttons:   artifact.ParseButtonState(msg.Rows),
		Handle:    msg.Ref,
		state:     StateFromColor(color, model.HasSummary()),
	}
	s.banned = s.Buttons.BanLabel == artifact.LabelUnban
	s.queued = s.NeedsReview()
	s.refreshReview()
	return s
}

func keyFromModel(m *artifact.Model) Key {
	return Key{UserID: m.UserID(), ChannelID: m.ChannelID()}
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) Banned() bool {
	return s.banned
}

func (s *Session) Tracked() bool {
	return s.tracked
}

func (s *Session) Color() artifact.Color {
	return s.state.Color()
}

// NeedsReview reports membership in the moderation queue.
func (s *Session) NeedsReview() bool {
	return s.state == StateNeedsModeration
}

func (s *Session) Elapsed(now time.Time) time.Duration {
	if s.StartedAt.IsZero() || now.Before(s.StartedAt) {
		return 0
	}
	return now.Sub(s.StartedAt)
}

func (s *Session) Artifact() discord.Artifact {
	return discord.Artifact{
		Embeds: []discord.Embed{s.Model.Embed(s.Color())},
		Rows:   s.Buttons.Rows(),
	}
}

// AttachSummary validates and stores a moderator note. It reports whether an
// existing note was replaced.
func (s *Session) AttachSummary(author, text string) (bool, error) {
	n := utf8.RuneCountInString(text)
	if n < MinSummaryLength || n > MaxSummaryLength {
		return false, apperrors.New(apperrors.CodeInvalidInput, summaryLengthMessage(n))
	}
	edited := s.Model.SetSummary(author, text)
	s.Buttons.SetSummary(true)
	switch s.state {
	case StateClean:
		s.state = StateSummaryAttached
	case StateResolved:
		s.state = StateNeedsModeration
	}
	s.refreshReview()
	return edited, nil
}

// Flag moves an active session past the overtime threshold. It returns true
// only for the call that performs the transition.
func (s *Session) Flag(elapsed, threshold time.Duration) bool {
	if elapsed < threshold {
		return false
	}
	if s.state != StateClean && s.state != StateSummaryAttached {
		return false
	}
	s.state = StateFlagged
	s.refreshReview()
	return true
}

// Leave ends the appearance; a summary means a human has to look at it.
func (s *Session) Leave() {
	if !s.state.IsActive() {
		return
	}
	if s.Model.HasSummary() {
		s.state = StateNeedsModeration
	} else {
		s.state = StateResolved
	}
	s.refreshReview()
}

// Ban forces the artifact into review regardless of its previous state.
func (s *Session) Ban() {
	s.state = StateNeedsModeration
	s.banned = true
	s.Buttons.SetBanned(true)
	s.refreshReview()
}

func (s *Session) Unban() {
	s.banned = false
	s.Buttons.SetBanned(false)
	s.refreshReview()
}

// SetBanned relabels the ban button from observed ban status without a transition.
func (s *Session) SetBanned(banned bool) {
	s.banned = banned
	s.Buttons.SetBanned(banned)
	s.refreshReview()
}

// Resolve clears a pending review.
func (s *Session) Resolve() error {
	if s.state != StateNeedsModeration {
		return apperrors.New(apperrors.CodeConflict, messageNothingToResolve)
	}
	if s.banned {
		return apperrors.New(apperrors.CodeConflict, messageResolveWhileBanned)
	}
	s.state = StateResolved
	s.refreshReview()
	return nil
}

// RolesChanged applies a role decision; on a pending review it is the outcome.
func (s *Session) RolesChanged() {
	if s.state == StateNeedsModeration && !s.banned {
		s.state = StateResolved
	}
	s.refreshReview()
}

// MarkBugged flags an artifact that claims to be on stage without a tracked session.
func (s *Session) MarkBugged() {
	s.state = StateNeedsModeration
	s.Model.MarkCorrection()
	s.refreshReview()
}

func (s *Session) refreshReview() {
	s.Buttons.ReviewEnabled = s.state == StateNeedsModeration && !s.banned
}

func (s *Session) stopTimer() {
	s.stop.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
