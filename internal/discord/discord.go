package discord

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"
)

var (
	// ErrArtifactNotFound is returned when the referenced message no longer exists.
	ErrArtifactNotFound = errors.New("discord: message not found")
	// ErrMemberNotFound is returned when the user is not a member of the guild.
	ErrMemberNotFound = errors.New("discord: member not found")
)

// Permission bits as defined by the Discord API.
const (
	PermissionBanMembers    int64 = 1 << 2
	PermissionAdministrator int64 = 1 << 3
	PermissionMoveMembers   int64 = 1 << 24
	PermissionManageRoles   int64 = 1 << 28
)

type ButtonStyle int

const (
	ButtonPrimary   ButtonStyle = 1
	ButtonSecondary ButtonStyle = 2
	ButtonSuccess   ButtonStyle = 3
	ButtonDanger    ButtonStyle = 4
)

type MessageRef struct {
	ChannelID string
	MessageID string
}

func (r MessageRef) IsZero() bool {
	return r.MessageID == ""
}

func (r MessageRef) URL(guildID string) string {
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, r.ChannelID, r.MessageID)
}

type Button struct {
	CustomID string
	Label    string
	Emoji    string
	Style    ButtonStyle
	Disabled bool
}

type EmbedField struct {
	Name   string
	Value  string
	Inline bool
}

type Embed struct {
	Title         string
	Description   string
	Color         int
	ThumbnailURL  string
	FooterText    string
	FooterIconURL string
	Timestamp     time.Time
	Fields        []EmbedField
}

// Artifact is the outbound description of a message the bot renders.
type Artifact struct {
	Content string
	Embeds  []Embed
	Rows    [][]Button
}

// Message is an observed message as delivered by the platform.
type Message struct {
	Ref                 MessageRef
	GuildID             string
	AuthorID            string
	AuthorIsBot         bool
	Content             string
	Embeds              []Embed
	Rows                [][]Button
	ReferencedMessageID string
}

// FirstEmbed returns nil when the message carries no embed.
func (m *Message) FirstEmbed() *Embed {
	if m == nil || len(m.Embeds) == 0 {
		return nil
	}
	return &m.Embeds[0]
}

type Member struct {
	UserID      string
	Username    string
	DisplayName string
	Nickname    string
	Tag         string
	AvatarURL   string
	RoleIDs     []string
	RoleNames   []string
	Bot         bool
}

func (m *Member) HasRole(roleID string) bool {
	return m != nil && slices.Contains(m.RoleIDs, roleID)
}

func (m *Member) Mention() string {
	return "<@" + m.UserID + ">"
}

type Role struct {
	ID       string
	Name     string
	Position int
}

// Actor is the member who triggered an interaction.
type Actor struct {
	UserID              string
	Username            string
	Permissions         int64
	RoleIDs             []string
	HighestRolePosition int
}

func (a Actor) Has(permission int64) bool {
	if a.Permissions&PermissionAdministrator != 0 {
		return true
	}
	return a.Permissions&permission == permission
}

func (a Actor) Outranks(role *Role) bool {
	return role != nil && a.HighestRolePosition > role.Position
}

// FormSpec describes a single paragraph input form shown in response to a button.
type FormSpec struct {
	CustomID    string
	Title       string
	InputID     string
	Label       string
	Placeholder string
	Value       string
	Required    bool
	MinLength   int
	MaxLength   int
}

type StageVoiceEvent struct {
	GuildID              string
	UserID               string
	BeforeChannelID      string
	AfterChannelID       string
	StageChannel         bool
	RequestToSpeakBefore bool
	RequestToSpeakAfter  bool
	Suppressed           bool
	CanMoveMembers       bool
	Member               *Member
}

type ButtonEvent struct {
	GuildID          string
	ChannelID        string
	CustomID         string
	Label            string
	Message          *Message
	Actor            Actor
	RespondEphemeral func(content string) error
	ShowForm         func(form FormSpec) error
	Acknowledge      func() error
}

type FormSubmitEvent struct {
	GuildID          string
	ChannelID        string
	CustomID         string
	Values           map[string]string
	Message          *Message
	Actor            Actor
	RespondEphemeral func(content string) error
	Acknowledge      func() error
}

// TextCommandEvent is a reply posted in a watched channel to one of the bot's messages.
type TextCommandEvent struct {
	GuildID    string
	ChannelID  string
	Command    *Message
	Referenced *Message
	Actor      Actor
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	Run() error
	GetBotUserID() (string, error)

	RegisterVoiceStateUpdateHandler(handler func(StageVoiceEvent))
	RegisterButtonHandler(handler func(ButtonEvent))
	RegisterFormSubmitHandler(handler func(FormSubmitEvent))
	RegisterTextCommandHandler(channelID string, handler func(TextCommandEvent))

	SendArtifact(ctx context.Context, channelID string, artifact Artifact) (MessageRef, error)
	EditArtifact(ctx context.Context, ref MessageRef, artifact Artifact) (MessageRef, error)
	DeleteMessage(ctx context.Context, ref MessageRef) error
	FetchMessage(ctx context.Context, ref MessageRef) (*Message, error)
	FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]*Message, error)
	PurgeChannel(ctx context.Context, channelID string, limit int) error
	SendChannelMessage(ctx context.Context, channelID, content string) (MessageRef, error)
	SendDirectMessage(ctx context.Context, userID, content string) error
	ChannelName(ctx context.Context, channelID string) (string, error)

	GetMember(ctx context.Context, guildID, userID string) (*Member, error)
	GetRole(ctx context.Context, guildID, roleID string) (*Role, error)
	AddRole(ctx context.Context, guildID, userID, roleID string) error
	RemoveRole(ctx context.Context, guildID, userID, roleID string) error
	Ban(ctx context.Context, guildID, userID, reason string) error
	Unban(ctx context.Context, guildID, userID string) error
	ListBans(ctx context.Context, guildID string) (map[string]struct{}, error)
}
