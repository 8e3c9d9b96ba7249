package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	apperrors "github.com/foxseedlab/stagewarden/internal/errors"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/foxseedlab/stagewarden/internal/webhook"
)

func colorOf(msg *discord.Message) artifact.Color {
	if e := msg.FirstEmbed(); e != nil {
		return artifact.Color(e.Color)
	}
	return 0
}

func TestJoinOvertimeLeave_WithoutSummaryResolves(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.join(t, "user-1")

	msg := env.dc.message(t, id)
	if got := colorOf(msg); got != artifact.ColorActive {
		t.Fatalf("expected active color, got %#x", got)
	}
	state := artifact.ParseButtonState(msg.Rows)
	if state.SummaryLabel != artifact.LabelAddSummary || state.TalkLabel != artifact.LabelAddTalk ||
		state.VoidLabel != artifact.LabelAddVoid || state.BanLabel != artifact.LabelBan {
		t.Fatalf("unexpected initial labels: %+v", state)
	}
	if state.ReviewEnabled {
		t.Fatal("review must be disabled on a fresh session")
	}
	if len(env.repo.inserted) != 1 || env.repo.inserted[0].MessageID != id {
		t.Fatalf("expected one talk insert for %s, got %+v", id, env.repo.inserted)
	}

	env.clock.Advance(time.Hour)
	env.manager.tick(ctx, Key{UserID: "user-1", ChannelID: testStageID})
	if got := colorOf(env.dc.message(t, id)); got != artifact.ColorOvertime {
		t.Fatalf("expected overtime color, got %#x", got)
	}
	if !strings.Contains(env.dc.message(t, id).Embeds[0].Description, "01:00:00") {
		t.Fatalf("expected time on stage in description, got %q", env.dc.message(t, id).Embeds[0].Description)
	}
	env.manager.tick(ctx, Key{UserID: "user-1", ChannelID: testStageID})
	if n := env.dc.dmCount(); n != 1 {
		t.Fatalf("expected exactly one overseer DM, got %d", n)
	}
	if n := env.wh.count(webhook.NoticeOvertime); n != 1 {
		t.Fatalf("expected one overtime notice, got %d", n)
	}

	if err := env.manager.OnPresenceLeaveStage(ctx, Key{UserID: "user-1", ChannelID: testStageID}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if got := colorOf(env.dc.message(t, id)); got != artifact.ColorResolved {
		t.Fatalf("expected resolved color after leave, got %#x", got)
	}
	if env.manager.registry.Len() != 0 {
		t.Fatal("expected session to be untracked after leave")
	}
	if len(env.repo.leaves) != 1 || env.repo.leaves[0].SecondsOnStage != 3600 {
		t.Fatalf("expected 3600 seconds on stage, got %+v", env.repo.leaves)
	}
	if len(env.manager.QueueEntries()) != 0 {
		t.Fatal("resolved session must not be queued")
	}
}

func TestOnPresenceJoinStage_DuplicateIsConflict(t *testing.T) {
	env := newTestEnv(t)
	env.join(t, "user-1")
	mem := env.addMember("user-1")
	err := env.manager.OnPresenceJoinStage(context.Background(), Key{UserID: "user-1", ChannelID: testStageID}, mem)
	if !apperrors.HasCode(err, apperrors.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if env.manager.registry.Len() != 1 {
		t.Fatalf("expected one session, got %d", env.manager.registry.Len())
	}
}

func TestOnPresenceLeaveStage_UntrackedIsNoop(t *testing.T) {
	env := newTestEnv(t)
	if err := env.manager.OnPresenceLeaveStage(context.Background(), Key{UserID: "nobody", ChannelID: testStageID}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(env.repo.leaves) != 0 {
		t.Fatal("expected no repository writes")
	}
}

func TestLeaveWithSummary_QueuesUntilResolved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.join(t, "user-1")
	rec := &interactionRecorder{}

	env.submit(t, rec, id, FormSummary, FormSummaryInput, "Talked about Go generics", moderator(discord.PermissionMoveMembers, 1))
	if rec.acks != 1 || len(rec.replies) != 0 {
		t.Fatalf("expected acknowledged submit, got acks=%d replies=%v", rec.acks, rec.replies)
	}
	msg := env.dc.message(t, id)
	if artifact.ParseButtonState(msg.Rows).SummaryLabel != artifact.LabelEditSummary {
		t.Fatal("expected edit summary label")
	}
	if len(env.repo.summaries) != 1 || env.repo.summaries[0].ModeratorID != "mod-1" {
		t.Fatalf("unexpected summary writes: %+v", env.repo.summaries)
	}

	if err := env.manager.OnPresenceLeaveStage(ctx, Key{UserID: "user-1", ChannelID: testStageID}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	msg = env.dc.message(t, id)
	if got := colorOf(msg); got != artifact.ColorModeration {
		t.Fatalf("expected moderation color, got %#x", got)
	}
	if !artifact.ParseButtonState(msg.Rows).ReviewEnabled {
		t.Fatal("expected review enabled")
	}
	entries := env.manager.QueueEntries()
	if len(entries) != 1 || !strings.HasSuffix(entries[0].URL, "/"+id) {
		t.Fatalf("expected queue entry for %s, got %+v", id, entries)
	}
	if n := env.wh.count(webhook.NoticeNeedsModeration); n != 1 {
		t.Fatalf("expected one needs-moderation notice, got %d", n)
	}

	rec = &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonReview, moderator(discord.PermissionManageRoles, 10))
	if rec.acks != 1 {
		t.Fatalf("expected review acknowledged, replies=%v", rec.replies)
	}
	if got := colorOf(env.dc.message(t, id)); got != artifact.ColorResolved {
		t.Fatalf("expected resolved color, got %#x", got)
	}
	if len(env.manager.QueueEntries()) != 0 {
		t.Fatal("expected queue to be empty after resolve")
	}
	if !strings.Contains(modelOf(env.dc.message(t, id)).Log(), actionResolved) {
		t.Fatal("expected resolve in log")
	}
}

func TestSubmitSummary_RejectsShortText(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	rec := &interactionRecorder{}
	env.submit(t, rec, id, FormSummary, FormSummaryInput, "abc", moderator(discord.PermissionMoveMembers, 1))

	if len(rec.replies) != 1 || !strings.Contains(rec.replies[0], "between 4 and 512") {
		t.Fatalf("expected length rejection, got %v", rec.replies)
	}
	if modelOf(env.dc.message(t, id)).HasSummary() {
		t.Fatal("summary must not be stored")
	}
	if len(env.repo.summaries) != 0 {
		t.Fatal("expected no repository write")
	}
}

func TestToggleRole_PermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")

	tests := []struct {
		name  string
		actor discord.Actor
	}{
		{name: "missing permission", actor: moderator(discord.PermissionMoveMembers, 10)},
		{name: "not outranking role", actor: moderator(discord.PermissionManageRoles, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &interactionRecorder{}
			env.button(t, rec, id, artifact.ButtonTalk, tt.actor)
			if len(rec.replies) != 1 || rec.replies[0] != messageInsufficientPermissions {
				t.Fatalf("expected permission reply, got %v", rec.replies)
			}
		})
	}
	if n := env.dc.roleCalls(); n != 0 {
		t.Fatalf("expected no role calls, got %d", n)
	}
}

func TestToggleRole_AddVoidRemovesOtherRoles(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	env.addMember("user-1", testNewRoleID, testTalkRoleID)

	rec := &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonVoid, moderator(discord.PermissionManageRoles, 10))
	if rec.acks != 1 {
		t.Fatalf("expected ack, got replies %v", rec.replies)
	}
	mem, _ := env.dc.GetMember(context.Background(), testGuildID, "user-1")
	if !mem.HasRole(testVoidRoleID) || mem.HasRole(testTalkRoleID) || mem.HasRole(testNewRoleID) {
		t.Fatalf("unexpected roles after void: %v", mem.RoleIDs)
	}
	state := artifact.ParseButtonState(env.dc.message(t, id).Rows)
	if state.VoidLabel != artifact.LabelRemoveVoid || state.TalkLabel != artifact.LabelAddTalk {
		t.Fatalf("labels do not reflect membership: %+v", state)
	}
	if len(env.repo.roleUpdates) != 1 || env.repo.roleUpdates[0].Action != repository.ModActionVoid {
		t.Fatalf("unexpected role writes: %+v", env.repo.roleUpdates)
	}
}

func TestToggleRole_AlreadyHeldIsConflict(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	// role granted outside the bot; the button still says Add Talk
	env.addMember("user-1", testTalkRoleID)

	rec := &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonTalk, moderator(discord.PermissionManageRoles, 10))
	if len(rec.replies) != 1 || !strings.Contains(rec.replies[0], "already has the Talk role") {
		t.Fatalf("expected conflict reply, got %v", rec.replies)
	}
	if n := env.dc.roleCalls(); n != 0 {
		t.Fatalf("expected no role calls, got %d", n)
	}
	if artifact.ParseButtonState(env.dc.message(t, id).Rows).TalkLabel != artifact.LabelRemoveTalk {
		t.Fatal("expected label healed to Remove Talk")
	}
}

func TestBan_EndsTrackingAndUnbanReenablesReview(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.join(t, "user-1")
	env.clock.Advance(10 * time.Minute)

	rec := &interactionRecorder{}
	env.submit(t, rec, id, FormSummary, FormSummaryInput, "Talked about Go generics", moderator(discord.PermissionMoveMembers, 1))
	if rec.acks != 1 {
		t.Fatalf("expected summary acknowledged, replies=%v", rec.replies)
	}

	rec = &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonBan, moderator(discord.PermissionBanMembers, 1))
	if len(rec.forms) != 1 || rec.forms[0].CustomID != FormBan {
		t.Fatalf("expected ban form, got %+v", rec.forms)
	}

	env.submit(t, rec, id, FormBan, FormBanInput, "spam", moderator(discord.PermissionBanMembers, 1))
	if rec.acks != 1 {
		t.Fatalf("expected ban acknowledged, replies=%v", rec.replies)
	}
	msg := env.dc.message(t, id)
	state := artifact.ParseButtonState(msg.Rows)
	if colorOf(msg) != artifact.ColorModeration || state.BanLabel != artifact.LabelUnban || state.ReviewEnabled {
		t.Fatalf("unexpected banned render: color=%#x state=%+v", colorOf(msg), state)
	}
	if env.manager.registry.Len() != 0 {
		t.Fatal("ban must end tracking")
	}
	if len(env.repo.leaves) != 1 || env.repo.leaves[0].SecondsOnStage != 600 {
		t.Fatalf("expected 600 seconds stored, got %+v", env.repo.leaves)
	}
	if len(env.repo.banUpdates) != 1 || !env.repo.banUpdates[0].Banned || env.repo.banUpdates[0].ModeratorID != "mod-1" {
		t.Fatalf("unexpected ban writes: %+v", env.repo.banUpdates)
	}

	// the disconnect that follows a ban must not overwrite the render
	if err := env.manager.OnPresenceLeaveStage(ctx, Key{UserID: "user-1", ChannelID: testStageID}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if colorOf(env.dc.message(t, id)) != artifact.ColorModeration {
		t.Fatal("leave after ban changed the color")
	}

	rec = &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonBan, moderator(discord.PermissionBanMembers, 1))
	if rec.acks != 1 {
		t.Fatalf("expected unban acknowledged, replies=%v", rec.replies)
	}
	state = artifact.ParseButtonState(env.dc.message(t, id).Rows)
	if state.BanLabel != artifact.LabelBan || !state.ReviewEnabled {
		t.Fatalf("expected review re-enabled after unban: %+v", state)
	}
	if len(env.manager.QueueEntries()) != 1 {
		t.Fatalf("expected entry to stay queued, got %+v", env.manager.QueueEntries())
	}
}

func TestResolve_ConflictWhenNothingToReview(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	rec := &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonReview, moderator(discord.PermissionManageRoles, 10))
	if len(rec.replies) != 1 || rec.replies[0] != messageNothingToResolve {
		t.Fatalf("expected conflict reply, got %v", rec.replies)
	}
}

func TestTick_EvictsWhenMessageDeleted(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	_ = env.dc.DeleteMessage(context.Background(), discord.MessageRef{MessageID: id})

	env.manager.tick(context.Background(), Key{UserID: "user-1", ChannelID: testStageID})
	if env.manager.registry.Len() != 0 {
		t.Fatal("expected eviction after the message vanished")
	}
}

func TestReconcileIfBugged_RepairsStaleMessage(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	model := artifact.NewModel(artifact.NewModelInput{
		DisplayName: "Ghost",
		ChannelName: "Stage",
		ChannelID:   testStageID,
		UserID:      "ghost",
		FooterText:  messageFooter,
		StartedAt:   env.clock.Now(),
	})
	ref, _ := env.dc.SendArtifact(ctx, testTrackingID, discord.Artifact{
		Embeds: []discord.Embed{model.Embed(artifact.ColorActive)},
		Rows:   artifact.InitialButtonState(false, false).Rows(),
	})

	s, err := env.manager.sync.ReconcileIfBugged(ctx, env.dc.message(t, ref.MessageID))
	if err != nil || s == nil {
		t.Fatalf("expected repaired session, got %v %v", s, err)
	}
	msg := env.dc.message(t, ref.MessageID)
	if colorOf(msg) != artifact.ColorModeration {
		t.Fatalf("expected moderation color, got %#x", colorOf(msg))
	}
	if !strings.HasSuffix(msg.Embeds[0].Description, artifact.CorrectionMarker) {
		t.Fatalf("expected correction marker, got %q", msg.Embeds[0].Description)
	}
	if len(env.manager.QueueEntries()) != 1 {
		t.Fatal("expected repaired message to be queued")
	}

	again, err := env.manager.sync.ReconcileIfBugged(ctx, msg)
	if err != nil || again != nil {
		t.Fatalf("expected consistent message to be left alone, got %v %v", again, err)
	}
}

func TestReconcileIfBugged_LeavesTrackedMessage(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	s, err := env.manager.sync.ReconcileIfBugged(context.Background(), env.dc.message(t, id))
	if err != nil || s != nil {
		t.Fatalf("expected no repair, got %v %v", s, err)
	}
	if colorOf(env.dc.message(t, id)) != artifact.ColorActive {
		t.Fatal("tracked message must keep its color")
	}
}

func TestReconcileIfBugged_SkipsMessageEndedAfterRead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.join(t, "user-1")
	stale := env.dc.message(t, id)
	if err := env.manager.OnPresenceLeaveStage(ctx, Key{UserID: "user-1", ChannelID: testStageID}); err != nil {
		t.Fatalf("leave failed: %v", err)
	}

	s, err := env.manager.sync.ReconcileIfBugged(ctx, stale)
	if err != nil || s != nil {
		t.Fatalf("expected no repair, got %v %v", s, err)
	}
	msg := env.dc.message(t, id)
	if colorOf(msg) != artifact.ColorResolved || strings.HasSuffix(msg.Embeds[0].Description, artifact.CorrectionMarker) {
		t.Fatalf("final render overwritten: color=%#x desc=%q", colorOf(msg), msg.Embeds[0].Description)
	}
	if n := env.wh.count(webhook.NoticeNeedsModeration); n != 0 {
		t.Fatalf("expected no moderation notice, got %d", n)
	}
}

func TestOnTextCommand_LeaveDuringFetchKeepsResolved(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	env.clock.Advance(5 * time.Minute)

	var once sync.Once
	env.dc.afterFetch = func(ref discord.MessageRef) {
		if ref.MessageID != id {
			return
		}
		once.Do(func() {
			if err := env.manager.OnPresenceLeaveStage(context.Background(), Key{UserID: "user-1", ChannelID: testStageID}); err != nil {
				t.Errorf("leave failed: %v", err)
			}
		})
	}

	cmd, _ := env.dc.SendArtifact(context.Background(), testTrackingID, discord.Artifact{Content: "!rmpp"})
	env.manager.OnTextCommand(discord.TextCommandEvent{
		GuildID:    testGuildID,
		ChannelID:  testTrackingID,
		Command:    &discord.Message{Ref: cmd, Content: "!rmpp"},
		Referenced: env.dc.message(t, id),
		Actor:      moderator(discord.PermissionMoveMembers, 1),
	})

	msg := env.dc.message(t, id)
	if colorOf(msg) != artifact.ColorResolved {
		t.Fatalf("clean leave must stay resolved, got %#x", colorOf(msg))
	}
	if strings.HasSuffix(msg.Embeds[0].Description, artifact.CorrectionMarker) {
		t.Fatalf("unexpected correction marker: %q", msg.Embeds[0].Description)
	}
	if msg.Embeds[0].ThumbnailURL != "" {
		t.Fatal("expected picture removed from the final render")
	}
	if len(env.manager.QueueEntries()) != 0 {
		t.Fatalf("expected empty queue, got %+v", env.manager.QueueEntries())
	}
	if n := env.wh.count(webhook.NoticeNeedsModeration); n != 0 {
		t.Fatalf("expected no moderation notice, got %d", n)
	}
}

func TestOnTextCommand(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")

	send := func(content string, perms int64) {
		cmd, _ := env.dc.SendArtifact(context.Background(), testTrackingID, discord.Artifact{Content: content})
		env.manager.OnTextCommand(discord.TextCommandEvent{
			GuildID:    testGuildID,
			ChannelID:  testTrackingID,
			Command:    &discord.Message{Ref: cmd, Content: content},
			Referenced: env.dc.message(t, id),
			Actor:      moderator(perms, 1),
		})
	}

	send("!rmpp", discord.PermissionMoveMembers)
	if env.dc.message(t, id).Embeds[0].ThumbnailURL != "" {
		t.Fatal("expected picture removed")
	}

	send("hi", discord.PermissionMoveMembers)
	if len(env.dc.channelMsgs) != 1 || !strings.Contains(env.dc.channelMsgs[0], "> hi") {
		t.Fatalf("expected rejection echoing the text, got %v", env.dc.channelMsgs)
	}

	send("A longer note about the talk", 0)
	if len(env.dc.channelMsgs) != 2 || !strings.Contains(env.dc.channelMsgs[1], messageInsufficientPermissions) {
		t.Fatalf("expected permission reply, got %v", env.dc.channelMsgs)
	}

	send("A longer note about the talk", discord.PermissionMoveMembers)
	if _, text, ok := modelOf(env.dc.message(t, id)).Summary(); !ok || text != "A longer note about the talk" {
		t.Fatalf("expected summary from reply, got %q", text)
	}
	if len(env.dc.deleted) != 4 {
		t.Fatalf("expected every command deleted, got %v", env.dc.deleted)
	}
}

func TestShowHistory(t *testing.T) {
	env := newTestEnv(t)
	id := env.join(t, "user-1")
	secs := int64(90)
	env.repo.talks = []repository.Talk{{MessageID: "old", UserID: "user-1", MessageDatetime: env.clock.Now().Add(-time.Hour), UserTimeOnStage: &secs}}

	rec := &interactionRecorder{}
	env.button(t, rec, id, artifact.ButtonHistory, moderator(0, 0))
	if len(rec.replies) != 1 || !strings.Contains(rec.replies[0], "Conversations: 1") {
		t.Fatalf("unexpected history reply: %v", rec.replies)
	}
}

func TestRegistry_ConcurrentDoIsSerialized(t *testing.T) {
	r := NewRegistry()
	key := Key{UserID: "u", ChannelID: "c"}
	s := newTrackedSession(context.Background(), key, time.Now(), &artifact.Model{}, artifact.InitialButtonState(false, false))
	if err := r.Insert(s); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	if err := r.Insert(s); !errors.Is(err, errAlreadyTracked) {
		t.Fatalf("expected duplicate insert to fail, got %v", err)
	}

	counter := 0
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.Do(key, func(*Session) error {
				counter++
				return nil
			})
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 serialized calls, got %d", counter)
	}

	if !r.Remove(key) || r.Remove(key) {
		t.Fatal("expected exactly one successful remove")
	}
	if err := r.Do(key, func(*Session) error { return nil }); !errors.Is(err, errNotTracked) {
		t.Fatalf("expected not tracked, got %v", err)
	}
	if s.ctx.Err() == nil {
		t.Fatal("expected timer context cancelled")
	}
}

func TestRegistry_RemoveSessionKeepsNewerEntry(t *testing.T) {
	r := NewRegistry()
	key := Key{UserID: "u", ChannelID: "c"}
	old := newTrackedSession(context.Background(), key, time.Now(), &artifact.Model{}, artifact.ButtonState{})
	_ = r.Insert(old)
	r.Remove(key)
	fresh := newTrackedSession(context.Background(), key, time.Now(), &artifact.Model{}, artifact.ButtonState{})
	_ = r.Insert(fresh)

	if r.removeSession(old) {
		t.Fatal("stale session must not remove the newer entry")
	}
	if !r.Contains(key) {
		t.Fatal("expected newer session to stay tracked")
	}
}

func TestSnapshot_OrdersByStart(t *testing.T) {
	r := NewRegistry()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	late := newTrackedSession(context.Background(), Key{UserID: "b", ChannelID: "c"}, base.Add(time.Minute), &artifact.Model{}, artifact.ButtonState{})
	early := newTrackedSession(context.Background(), Key{UserID: "a", ChannelID: "c"}, base, &artifact.Model{}, artifact.ButtonState{})
	_ = r.Insert(late)
	_ = r.Insert(early)

	got := r.Snapshot(base.Add(2 * time.Minute))
	if len(got) != 2 || got[0].UserID != "a" || got[0].ElapsedSeconds != 120 || got[1].State != "clean" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}
}
