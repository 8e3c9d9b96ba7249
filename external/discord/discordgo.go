package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/stagewarden/internal/discord"
)

type Client struct {
	session   *discordgo.Session
	token     string
	botUserID string

	closeOnce sync.Once
	done      chan struct{}
}

func NewClient(token string) discordpkg.Client {
	return &Client{
		token: token,
		done:  make(chan struct{}),
	}
}

func (c *Client) Connect(ctx context.Context) error {
	_ = ctx
	s, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return err
	}
	c.session = s
	s.Identify.Intents = discordgo.MakeIntent(
		discordgo.IntentsGuilds |
			discordgo.IntentsGuildMembers |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsGuildVoiceStates |
			discordgo.IntentsMessageContent,
	)
	s.State.TrackVoice = true
	s.State.TrackMembers = true
	s.State.TrackRoles = true
	s.State.TrackChannels = true
	if err := s.Open(); err != nil {
		return err
	}
	userID, err := c.GetBotUserID()
	if err != nil {
		return err
	}
	c.botUserID = userID
	return nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

// Run blocks until Close is called.
func (c *Client) Run() error {
	<-c.done
	return nil
}

func (c *Client) GetBotUserID() (string, error) {
	if c.botUserID != "" {
		return c.botUserID, nil
	}
	if c.session == nil {
		return "", fmt.Errorf("discord session is not initialized")
	}
	if c.session.State != nil && c.session.State.User != nil && c.session.State.User.ID != "" {
		c.botUserID = c.session.State.User.ID
		return c.botUserID, nil
	}
	u, err := c.session.User("@me")
	if err != nil {
		return "", err
	}
	c.botUserID = u.ID
	return c.botUserID, nil
}

func (c *Client) RegisterVoiceStateUpdateHandler(handler func(discordpkg.StageVoiceEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
		if vs == nil || vs.VoiceState == nil || vs.GuildID == "" || vs.UserID == "" {
			return
		}
		handler(c.stageVoiceEvent(vs))
	})
}

func (c *Client) stageVoiceEvent(vs *discordgo.VoiceStateUpdate) discordpkg.StageVoiceEvent {
	ev := discordpkg.StageVoiceEvent{
		GuildID:             vs.GuildID,
		UserID:              vs.UserID,
		AfterChannelID:      vs.ChannelID,
		RequestToSpeakAfter: vs.RequestToSpeakTimestamp != nil,
		Suppressed:          vs.Suppress,
	}
	if vs.BeforeUpdate != nil {
		ev.BeforeChannelID = vs.BeforeUpdate.ChannelID
		ev.RequestToSpeakBefore = vs.BeforeUpdate.RequestToSpeakTimestamp != nil
	}

	channelID := ev.AfterChannelID
	if channelID == "" {
		channelID = ev.BeforeChannelID
	}
	if channelID == "" {
		return ev
	}
	ch := c.resolveChannel(channelID)
	ev.StageChannel = ch != nil && ch.Type == discordgo.ChannelTypeGuildStageVoice
	if !ev.StageChannel {
		return ev
	}

	member := vs.Member
	if member == nil || member.User == nil {
		member = c.resolveGuildMember(context.Background(), vs.GuildID, vs.UserID)
	}
	if member != nil {
		ev.Member = c.toMember(vs.GuildID, member)
	}
	if perms, err := c.memberChannelPermissions(context.Background(), vs.GuildID, vs.UserID, channelID); err == nil {
		ev.CanMoveMembers = discordpkg.Actor{Permissions: perms}.Has(discordpkg.PermissionMoveMembers)
	}
	return ev
}

func (c *Client) RegisterButtonHandler(handler func(discordpkg.ButtonEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionMessageComponent {
			return
		}
		actor, ok := c.interactionActor(ic.Interaction)
		if !ok {
			return
		}
		data := ic.MessageComponentData()
		msg := toMessage(ic.Message)
		slog.Debug("button interaction received", "guild_id", ic.GuildID, "channel_id", ic.ChannelID, "custom_id", data.CustomID, "user_id", actor.UserID)
		handler(discordpkg.ButtonEvent{
			GuildID:          ic.GuildID,
			ChannelID:        ic.ChannelID,
			CustomID:         data.CustomID,
			Label:            buttonLabel(msg, data.CustomID),
			Message:          msg,
			Actor:            actor,
			RespondEphemeral: ephemeralResponder(s, ic.Interaction),
			ShowForm: func(form discordpkg.FormSpec) error {
				return s.InteractionRespond(ic.Interaction, formResponse(form))
			},
			Acknowledge: deferredUpdater(s, ic.Interaction),
		})
	})
}

func (c *Client) RegisterFormSubmitHandler(handler func(discordpkg.FormSubmitEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, ic *discordgo.InteractionCreate) {
		if ic == nil || ic.Type != discordgo.InteractionModalSubmit {
			return
		}
		actor, ok := c.interactionActor(ic.Interaction)
		if !ok {
			return
		}
		data := ic.ModalSubmitData()
		handler(discordpkg.FormSubmitEvent{
			GuildID:          ic.GuildID,
			ChannelID:        ic.ChannelID,
			CustomID:         data.CustomID,
			Values:           formValues(data.Components),
			Message:          toMessage(ic.Message),
			Actor:            actor,
			RespondEphemeral: ephemeralResponder(s, ic.Interaction),
			Acknowledge:      deferredUpdater(s, ic.Interaction),
		})
	})
}

// RegisterTextCommandHandler delivers replies to the bot's own messages posted in channelID.
func (c *Client) RegisterTextCommandHandler(channelID string, handler func(discordpkg.TextCommandEvent)) {
	c.session.AddHandler(func(s *discordgo.Session, mc *discordgo.MessageCreate) {
		if mc == nil || mc.Message == nil || mc.ChannelID != channelID || mc.GuildID == "" {
			return
		}
		if mc.Author == nil || mc.Author.Bot || mc.MessageReference == nil || mc.MessageReference.MessageID == "" {
			return
		}
		ctx := context.Background()
		referenced := mc.ReferencedMessage
		if referenced == nil {
			m, err := s.ChannelMessage(mc.ChannelID, mc.MessageReference.MessageID, discordgo.WithContext(ctx))
			if err != nil {
				slog.Warn("failed to fetch referenced message", "channel_id", mc.ChannelID, "message_id", mc.MessageReference.MessageID, "error", err)
				return
			}
			referenced = m
		}
		botID, _ := c.GetBotUserID()
		if referenced.Author == nil || referenced.Author.ID != botID {
			return
		}
		handler(discordpkg.TextCommandEvent{
			GuildID:    mc.GuildID,
			ChannelID:  mc.ChannelID,
			Command:    toMessage(mc.Message),
			Referenced: toMessage(referenced),
			Actor:      c.messageActor(ctx, mc.GuildID, mc.ChannelID, mc.Author, mc.Member),
		})
	})
}

func (c *Client) interactionActor(ic *discordgo.Interaction) (discordpkg.Actor, bool) {
	if ic.Member == nil || ic.Member.User == nil {
		return discordpkg.Actor{}, false
	}
	return discordpkg.Actor{
		UserID:              ic.Member.User.ID,
		Username:            ic.Member.User.Username,
		Permissions:         ic.Member.Permissions,
		RoleIDs:             ic.Member.Roles,
		HighestRolePosition: c.highestRolePosition(context.Background(), ic.GuildID, ic.Member.Roles),
	}, true
}

func (c *Client) messageActor(ctx context.Context, guildID, channelID string, author *discordgo.User, partial *discordgo.Member) discordpkg.Actor {
	actor := discordpkg.Actor{UserID: author.ID, Username: author.Username}
	if partial != nil {
		actor.RoleIDs = partial.Roles
	}
	perms, err := c.memberChannelPermissions(ctx, guildID, author.ID, channelID)
	if err != nil {
		slog.Warn("failed to resolve member permissions", "user_id", author.ID, "channel_id", channelID, "error", err)
	}
	actor.Permissions = perms
	if len(actor.RoleIDs) == 0 {
		if m := c.resolveGuildMember(ctx, guildID, author.ID); m != nil {
			actor.RoleIDs = m.Roles
		}
	}
	actor.HighestRolePosition = c.highestRolePosition(ctx, guildID, actor.RoleIDs)
	return actor
}

// memberChannelPermissions computes permissions from the state cache, priming it from REST on a miss.
func (c *Client) memberChannelPermissions(ctx context.Context, guildID, userID, channelID string) (int64, error) {
	if c.session.State == nil {
		return 0, discordgo.ErrNilState
	}
	perms, err := c.session.State.UserChannelPermissions(userID, channelID)
	if err == nil {
		return perms, nil
	}
	m, restErr := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if restErr != nil {
		return 0, restErr
	}
	if m.GuildID == "" {
		m.GuildID = guildID
	}
	if addErr := c.session.State.MemberAdd(m); addErr != nil {
		return 0, err
	}
	return c.session.State.UserChannelPermissions(userID, channelID)
}

func ephemeralResponder(s *discordgo.Session, ic *discordgo.Interaction) func(string) error {
	return func(content string) error {
		return s.InteractionRespond(ic, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{
				Content: content,
				Flags:   discordgo.MessageFlagsEphemeral,
			},
		})
	}
}

func deferredUpdater(s *discordgo.Session, ic *discordgo.Interaction) func() error {
	return func() error {
		return s.InteractionRespond(ic, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredMessageUpdate,
		})
	}
}

func formResponse(form discordpkg.FormSpec) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseModal,
		Data: &discordgo.InteractionResponseData{
			CustomID: form.CustomID,
			Title:    form.Title,
			Components: []discordgo.MessageComponent{
				discordgo.ActionsRow{
					Components: []discordgo.MessageComponent{
						discordgo.TextInput{
							CustomID:    form.InputID,
							Label:       form.Label,
							Style:       discordgo.TextInputParagraph,
							Placeholder: form.Placeholder,
							Value:       form.Value,
							Required:    form.Required,
							MinLength:   form.MinLength,
							MaxLength:   form.MaxLength,
						},
					},
				},
			},
		},
	}
}

func formValues(components []discordgo.MessageComponent) map[string]string {
	values := make(map[string]string)
	for _, comp := range components {
		row, ok := comp.(*discordgo.ActionsRow)
		if !ok {
			continue
		}
		for _, inner := range row.Components {
			if input, ok := inner.(*discordgo.TextInput); ok {
				values[input.CustomID] = input.Value
			}
		}
	}
	return values
}

func buttonLabel(msg *discordpkg.Message, customID string) string {
	if msg == nil {
		return ""
	}
	for _, row := range msg.Rows {
		for _, b := range row {
			if b.CustomID == customID {
				return b.Label
			}
		}
	}
	return ""
}

func isRESTNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound {
		return true
	}
	if restErr.Message == nil {
		return false
	}
	switch restErr.Message.Code {
	case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
		return true
	}
	return false
}

// notFoundAs maps a REST 404 onto the given sentinel, keeping the original error in the chain.
func notFoundAs(err, sentinel error) error {
	if err == nil {
		return nil
	}
	if isRESTNotFound(err) {
		return fmt.Errorf("%w: %w", sentinel, err)
	}
	return err
}
