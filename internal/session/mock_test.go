package session

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/foxseedlab/stagewarden/internal/config"
	"github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
	"github.com/foxseedlab/stagewarden/internal/webhook"
)

const (
	testGuildID      = "guild-1"
	testTrackingID   = "tracking-1"
	testModerationID = "moderation-1"
	testActivityID   = "activity-1"
	testStageID      = "stage-1"
	testTalkRoleID   = "role-talk"
	testVoidRoleID   = "role-void"
	testNewRoleID    = "role-new"
	testBotRoleID    = "role-bot-approved"
	testStageRoleID  = "role-stage"
	testOverseerID   = "overseer-1"
	testBotUserID    = "bot-self"
)

type mockDiscordClient struct {
	mu          sync.Mutex
	nextID      int
	messages    map[string]*discord.Message
	members     map[string]*discord.Member
	roles       map[string]*discord.Role
	bans        map[string]struct{}
	dms         []string
	channelMsgs []string
	deleted     []string
	addRoles    []string
	removeRoles []string

	// afterFetch and afterRecent run once the read has released the lock.
	afterFetch  func(ref discord.MessageRef)
	afterRecent func(channelID string)
}

func newMockDiscordClient() *mockDiscordClient {
	return &mockDiscordClient{
		messages: make(map[string]*discord.Message),
		members:  make(map[string]*discord.Member),
		roles: map[string]*discord.Role{
			testTalkRoleID: {ID: testTalkRoleID, Name: "Talk", Position: 5},
			testVoidRoleID: {ID: testVoidRoleID, Name: "Void", Position: 6},
		},
		bans: make(map[string]struct{}),
	}
}

func (m *mockDiscordClient) Connect(_ context.Context) error { return nil }
func (m *mockDiscordClient) Close() error                    { return nil }
func (m *mockDiscordClient) Run() error                      { return nil }
func (m *mockDiscordClient) GetBotUserID() (string, error)   { return testBotUserID, nil }

func (m *mockDiscordClient) RegisterVoiceStateUpdateHandler(_ func(discord.StageVoiceEvent)) {}
func (m *mockDiscordClient) RegisterButtonHandler(_ func(discord.ButtonEvent))               {}
func (m *mockDiscordClient) RegisterFormSubmitHandler(_ func(discord.FormSubmitEvent))       {}
func (m *mockDiscordClient) RegisterTextCommandHandler(_ string, _ func(discord.TextCommandEvent)) {
}

func (m *mockDiscordClient) SendArtifact(_ context.Context, channelID string, art discord.Artifact) (discord.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	ref := discord.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("msg-%d", m.nextID)}
	m.messages[ref.MessageID] = &discord.Message{
		Ref:         ref,
		GuildID:     testGuildID,
		AuthorID:    testBotUserID,
		AuthorIsBot: true,
		Content:     art.Content,
		Embeds:      slices.Clone(art.Embeds),
		Rows:        art.Rows,
	}
	return ref, nil
}

func (m *mockDiscordClient) EditArtifact(_ context.Context, ref discord.MessageRef, art discord.Artifact) (discord.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[ref.MessageID]
	if !ok {
		return discord.MessageRef{}, discord.ErrArtifactNotFound
	}
	msg.Content = art.Content
	msg.Embeds = slices.Clone(art.Embeds)
	msg.Rows = art.Rows
	return ref, nil
}

func (m *mockDiscordClient) DeleteMessage(_ context.Context, ref discord.MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.messages, ref.MessageID)
	m.deleted = append(m.deleted, ref.MessageID)
	return nil
}

func (m *mockDiscordClient) FetchMessage(_ context.Context, ref discord.MessageRef) (*discord.Message, error) {
	m.mu.Lock()
	msg, ok := m.messages[ref.MessageID]
	var c discord.Message
	if ok {
		c = *msg
		c.Embeds = slices.Clone(msg.Embeds)
	}
	hook := m.afterFetch
	m.mu.Unlock()
	if hook != nil {
		hook(ref)
	}
	if !ok {
		return nil, discord.ErrArtifactNotFound
	}
	return &c, nil
}

func (m *mockDiscordClient) FetchRecentMessages(_ context.Context, channelID string, limit int) ([]*discord.Message, error) {
	m.mu.Lock()
	out := m.recentLocked(channelID, limit)
	hook := m.afterRecent
	m.mu.Unlock()
	if hook != nil {
		hook(channelID)
	}
	return out, nil
}

func (m *mockDiscordClient) recentLocked(channelID string, limit int) []*discord.Message {
	var out []*discord.Message
	for _, msg := range m.messages {
		if msg.Ref.ChannelID == channelID {
			out = append(out, msg)
		}
	}
	// newest first; ids grow monotonically
	slices.SortFunc(out, func(a, b *discord.Message) int {
		var x, y int
		fmt.Sscanf(a.Ref.MessageID, "msg-%d", &x)
		fmt.Sscanf(b.Ref.MessageID, "msg-%d", &y)
		return y - x
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *mockDiscordClient) PurgeChannel(_ context.Context, channelID string, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, msg := range m.messages {
		if msg.Ref.ChannelID == channelID {
			delete(m.messages, id)
		}
	}
	return nil
}

func (m *mockDiscordClient) SendChannelMessage(_ context.Context, channelID, content string) (discord.MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channelMsgs = append(m.channelMsgs, content)
	return discord.MessageRef{ChannelID: channelID, MessageID: fmt.Sprintf("reply-%d", len(m.channelMsgs))}, nil
}

func (m *mockDiscordClient) SendDirectMessage(_ context.Context, userID, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dms = append(m.dms, userID+":"+content)
	return nil
}

func (m *mockDiscordClient) ChannelName(_ context.Context, channelID string) (string, error) {
	return "Stage " + channelID, nil
}

func (m *mockDiscordClient) GetMember(_ context.Context, _, userID string) (*discord.Member, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem, ok := m.members[userID]
	if !ok {
		return nil, discord.ErrMemberNotFound
	}
	c := *mem
	c.RoleIDs = slices.Clone(mem.RoleIDs)
	return &c, nil
}

func (m *mockDiscordClient) GetRole(_ context.Context, _, roleID string) (*discord.Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("unknown role %s", roleID)
	}
	return r, nil
}

func (m *mockDiscordClient) AddRole(_ context.Context, _, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addRoles = append(m.addRoles, roleID)
	mem, ok := m.members[userID]
	if !ok {
		return discord.ErrMemberNotFound
	}
	if !slices.Contains(mem.RoleIDs, roleID) {
		mem.RoleIDs = append(mem.RoleIDs, roleID)
	}
	return nil
}

func (m *mockDiscordClient) RemoveRole(_ context.Context, _, userID, roleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeRoles = append(m.removeRoles, roleID)
	mem, ok := m.members[userID]
	if !ok {
		return discord.ErrMemberNotFound
	}
	mem.RoleIDs = slices.DeleteFunc(mem.RoleIDs, func(id string) bool { return id == roleID })
	return nil
}

func (m *mockDiscordClient) Ban(_ context.Context, _, userID, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bans[userID] = struct{}{}
	return nil
}

func (m *mockDiscordClient) Unban(_ context.Context, _, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bans, userID)
	return nil
}

func (m *mockDiscordClient) ListBans(_ context.Context, _ string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.bans), nil
}

func (m *mockDiscordClient) message(t *testing.T, messageID string) *discord.Message {
	t.Helper()
	msg, err := m.FetchMessage(context.Background(), discord.MessageRef{MessageID: messageID})
	if err != nil {
		t.Fatalf("message %s not found: %v", messageID, err)
	}
	return msg
}

func (m *mockDiscordClient) roleCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.addRoles) + len(m.removeRoles)
}

func (m *mockDiscordClient) dmCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dms)
}

type mockRepository struct {
	mu          sync.Mutex
	inserted    []repository.CreateTalkInput
	leaves      []repository.UpdateTalkOnLeaveInput
	summaries   []repository.UpdateTalkSummaryInput
	roleUpdates []repository.UpdateTalkRolesInput
	banUpdates  []repository.UpdateTalkBanInput
	talks       []repository.Talk
	activity    map[string]time.Time
	priorTalks  int
}

func newMockRepository() *mockRepository {
	return &mockRepository{activity: make(map[string]time.Time)}
}

func (r *mockRepository) InsertTalk(_ context.Context, in repository.CreateTalkInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inserted = append(r.inserted, in)
	return nil
}

func (r *mockRepository) UpdateTalkOnLeave(_ context.Context, in repository.UpdateTalkOnLeaveInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, in)
	return nil
}

func (r *mockRepository) UpdateTalkSummary(_ context.Context, in repository.UpdateTalkSummaryInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, in)
	return nil
}

func (r *mockRepository) UpdateTalkRoles(_ context.Context, in repository.UpdateTalkRolesInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roleUpdates = append(r.roleUpdates, in)
	return nil
}

func (r *mockRepository) UpdateTalkBan(_ context.Context, in repository.UpdateTalkBanInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.banUpdates = append(r.banUpdates, in)
	return nil
}

func (r *mockRepository) CountTalksByUser(_ context.Context, _ string) (int, error) {
	return r.priorTalks, nil
}

func (r *mockRepository) ListTalksByUser(_ context.Context, userID string) ([]repository.Talk, error) {
	var out []repository.Talk
	for _, t := range r.talks {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *mockRepository) ListTalks(_ context.Context) ([]repository.Talk, error) {
	return r.talks, nil
}

func (r *mockRepository) UpsertActivity(_ context.Context, userID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activity[userID] = at
	return nil
}

func (r *mockRepository) ListRecentActivity(_ context.Context, _ int) ([]repository.Activity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]repository.Activity, 0, len(r.activity))
	for id, at := range r.activity {
		out = append(out, repository.Activity{UserID: id, LastStageDatetime: at})
	}
	return out, nil
}

func (r *mockRepository) Close() {}

type mockWebhookSender struct {
	mu      sync.Mutex
	notices []webhook.ModerationNotice
}

func (w *mockWebhookSender) SendNotice(_ context.Context, n webhook.ModerationNotice) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.notices = append(w.notices, n)
	return nil
}

func (w *mockWebhookSender) count(event webhook.NoticeEvent) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, x := range w.notices {
		if x.Event == event {
			n++
		}
	}
	return n
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	manager *Manager
	dc      *mockDiscordClient
	repo    *mockRepository
	wh      *mockWebhookSender
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := &config.Config{
		Env:                        "test",
		DiscordGuildID:             testGuildID,
		DiscordTrackingChannelID:   testTrackingID,
		DiscordModerationChannelID: testModerationID,
		DiscordActivityChannelID:   testActivityID,
		DiscordTalkRoleID:          testTalkRoleID,
		DiscordVoidRoleID:          testVoidRoleID,
		DiscordNewRoleID:           testNewRoleID,
		DiscordBotApprovedRoleID:   testBotRoleID,
		DiscordStageRoleID:         testStageRoleID,
		DiscordOverseerUserID:      testOverseerID,
		TickIntervalSec:            3600,
		OvertimeThresholdMin:       45,
		QueueScanLimit:             100,
		QueueMaxEntries:            20,
		QueueRefreshMin:            60,
		ActivityBoardLimit:         10,
		DisplayTimezone:            "UTC",
	}
	env := &testEnv{
		dc:    newMockDiscordClient(),
		repo:  newMockRepository(),
		wh:    &mockWebhookSender{},
		clock: &testClock{now: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)},
	}
	env.manager = NewManager(cfg, env.repo, env.dc, env.wh)
	env.manager.now = env.clock.Now
	env.manager.replyTTL = 0
	t.Cleanup(env.manager.Stop)
	return env
}

func (e *testEnv) addMember(userID string, roleIDs ...string) *discord.Member {
	mem := &discord.Member{
		UserID:      userID,
		Username:    userID,
		DisplayName: "Display " + userID,
		Tag:         userID + "#0001",
		AvatarURL:   "https://cdn.example/" + userID + ".png",
		RoleIDs:     roleIDs,
	}
	e.dc.mu.Lock()
	e.dc.members[userID] = mem
	e.dc.mu.Unlock()
	c := *mem
	c.RoleIDs = slices.Clone(roleIDs)
	return &c
}

// join starts tracking userID on the test stage and returns the tracking message id.
func (e *testEnv) join(t *testing.T, userID string) string {
	t.Helper()
	mem := e.addMember(userID)
	key := Key{UserID: userID, ChannelID: testStageID}
	if err := e.manager.OnPresenceJoinStage(context.Background(), key, mem); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	var id string
	_ = e.manager.registry.Do(key, func(s *Session) error {
		id = s.Handle.MessageID
		return nil
	})
	if id == "" {
		t.Fatal("expected tracked session with a message")
	}
	return id
}

func moderator(perms int64, position int) discord.Actor {
	return discord.Actor{UserID: "mod-1", Username: "mod", Permissions: perms, HighestRolePosition: position}
}

type interactionRecorder struct {
	mu      sync.Mutex
	replies []string
	forms   []discord.FormSpec
	acks    int
}

func (r *interactionRecorder) respond(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, content)
	return nil
}

func (r *interactionRecorder) showForm(f discord.FormSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forms = append(r.forms, f)
	return nil
}

func (r *interactionRecorder) ack() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acks++
	return nil
}

func (e *testEnv) button(t *testing.T, rec *interactionRecorder, messageID, customID string, actor discord.Actor) {
	t.Helper()
	msg := e.dc.message(t, messageID)
	label := ""
	for _, row := range msg.Rows {
		for _, b := range row {
			if b.CustomID == customID {
				label = b.Label
			}
		}
	}
	e.manager.OnButtonAction(discord.ButtonEvent{
		GuildID:          testGuildID,
		ChannelID:        testTrackingID,
		CustomID:         customID,
		Label:            label,
		Message:          msg,
		Actor:            actor,
		RespondEphemeral: rec.respond,
		ShowForm:         rec.showForm,
		Acknowledge:      rec.ack,
	})
}

func (e *testEnv) submit(t *testing.T, rec *interactionRecorder, messageID, formID, inputID, value string, actor discord.Actor) {
	t.Helper()
	e.manager.OnFormSubmit(discord.FormSubmitEvent{
		GuildID:          testGuildID,
		ChannelID:        testTrackingID,
		CustomID:         formID,
		Values:           map[string]string{inputID: value},
		Message:          e.dc.message(t, messageID),
		Actor:            actor,
		RespondEphemeral: rec.respond,
		Acknowledge:      rec.ack,
	})
}
