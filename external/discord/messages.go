package discord

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/stagewarden/internal/discord"
)

const maxMessagesPerFetch = 100

func (c *Client) SendArtifact(ctx context.Context, channelID string, artifact discordpkg.Artifact) (discordpkg.MessageRef, error) {
	m, err := c.session.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Content:    artifact.Content,
		Embeds:     toDiscordEmbeds(artifact.Embeds),
		Components: toDiscordComponents(artifact.Rows),
	}, discordgo.WithContext(ctx))
	if err != nil {
		return discordpkg.MessageRef{}, err
	}
	return discordpkg.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (c *Client) EditArtifact(ctx context.Context, ref discordpkg.MessageRef, artifact discordpkg.Artifact) (discordpkg.MessageRef, error) {
	content := artifact.Content
	embeds := toDiscordEmbeds(artifact.Embeds)
	components := toDiscordComponents(artifact.Rows)
	m, err := c.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
		ID:         ref.MessageID,
		Channel:    ref.ChannelID,
		Content:    &content,
		Embeds:     &embeds,
		Components: &components,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return ref, notFoundAs(err, discordpkg.ErrArtifactNotFound)
	}
	return discordpkg.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (c *Client) DeleteMessage(ctx context.Context, ref discordpkg.MessageRef) error {
	err := c.session.ChannelMessageDelete(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	return notFoundAs(err, discordpkg.ErrArtifactNotFound)
}

func (c *Client) FetchMessage(ctx context.Context, ref discordpkg.MessageRef) (*discordpkg.Message, error) {
	m, err := c.session.ChannelMessage(ref.ChannelID, ref.MessageID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, notFoundAs(err, discordpkg.ErrArtifactNotFound)
	}
	return toMessage(m), nil
}

// FetchRecentMessages returns up to limit messages, newest first.
func (c *Client) FetchRecentMessages(ctx context.Context, channelID string, limit int) ([]*discordpkg.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	if limit > maxMessagesPerFetch {
		limit = maxMessagesPerFetch
	}
	list, err := c.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, err
	}
	out := make([]*discordpkg.Message, 0, len(list))
	for _, m := range list {
		if m == nil {
			continue
		}
		out = append(out, toMessage(m))
	}
	return out, nil
}

// PurgeChannel deletes the most recent messages of a channel. Bulk deletion rejects
// messages older than two weeks, so those are removed one by one.
func (c *Client) PurgeChannel(ctx context.Context, channelID string, limit int) error {
	if limit > maxMessagesPerFetch {
		limit = maxMessagesPerFetch
	}
	list, err := c.session.ChannelMessages(channelID, limit, "", "", "", discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(list))
	for _, m := range list {
		if m != nil {
			ids = append(ids, m.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	err = c.session.ChannelMessagesBulkDelete(channelID, ids, discordgo.WithContext(ctx))
	if err == nil {
		return nil
	}
	slog.Debug("bulk delete failed; deleting individually", "channel_id", channelID, "error", err)
	for _, id := range ids {
		if err := c.session.ChannelMessageDelete(channelID, id, discordgo.WithContext(ctx)); err != nil && !isRESTNotFound(err) {
			return err
		}
	}
	return nil
}

func (c *Client) SendChannelMessage(ctx context.Context, channelID, content string) (discordpkg.MessageRef, error) {
	m, err := c.session.ChannelMessageSend(channelID, content, discordgo.WithContext(ctx))
	if err != nil {
		return discordpkg.MessageRef{}, err
	}
	return discordpkg.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID}, nil
}

func (c *Client) SendDirectMessage(ctx context.Context, userID, content string) error {
	ch, err := c.session.UserChannelCreate(userID, discordgo.WithContext(ctx))
	if err != nil {
		return err
	}
	_, err = c.session.ChannelMessageSend(ch.ID, content, discordgo.WithContext(ctx))
	return err
}

func (c *Client) ChannelName(ctx context.Context, channelID string) (string, error) {
	_ = ctx
	ch := c.resolveChannel(channelID)
	if ch == nil {
		return "", fmt.Errorf("channel %s could not be resolved", channelID)
	}
	return ch.Name, nil
}

func (c *Client) resolveChannel(channelID string) *discordgo.Channel {
	if c.session == nil {
		return nil
	}
	if c.session.State != nil {
		channel, err := c.session.State.Channel(channelID)
		if err == nil && channel != nil && channel.Name != "" {
			return channel
		}
	}
	channel, err := c.session.Channel(channelID)
	if err != nil || channel == nil {
		return nil
	}
	if channel.Name == "" {
		return nil
	}
	return channel
}

func toDiscordEmbeds(embeds []discordpkg.Embed) []*discordgo.MessageEmbed {
	out := make([]*discordgo.MessageEmbed, 0, len(embeds))
	for _, e := range embeds {
		me := &discordgo.MessageEmbed{
			Title:       e.Title,
			Description: e.Description,
			Color:       e.Color,
		}
		if e.ThumbnailURL != "" {
			me.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: e.ThumbnailURL}
		}
		if e.FooterText != "" {
			me.Footer = &discordgo.MessageEmbedFooter{Text: e.FooterText, IconURL: e.FooterIconURL}
		}
		if !e.Timestamp.IsZero() {
			me.Timestamp = e.Timestamp.UTC().Format(time.RFC3339)
		}
		for _, f := range e.Fields {
			me.Fields = append(me.Fields, &discordgo.MessageEmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, me)
	}
	return out
}

func toDiscordComponents(rows [][]discordpkg.Button) []discordgo.MessageComponent {
	out := make([]discordgo.MessageComponent, 0, len(rows))
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		buttons := make([]discordgo.MessageComponent, 0, len(row))
		for _, b := range row {
			btn := discordgo.Button{
				CustomID: b.CustomID,
				Label:    b.Label,
				Style:    discordgo.ButtonStyle(b.Style),
				Disabled: b.Disabled,
			}
			if b.Emoji != "" {
				btn.Emoji = &discordgo.ComponentEmoji{Name: b.Emoji}
			}
			buttons = append(buttons, btn)
		}
		out = append(out, discordgo.ActionsRow{Components: buttons})
	}
	return out
}

func toMessage(m *discordgo.Message) *discordpkg.Message {
	if m == nil {
		return nil
	}
	out := &discordpkg.Message{
		Ref:     discordpkg.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
		GuildID: m.GuildID,
		Content: m.Content,
		Embeds:  fromDiscordEmbeds(m.Embeds),
		Rows:    fromDiscordComponents(m.Components),
	}
	if m.Author != nil {
		out.AuthorID = m.Author.ID
		out.AuthorIsBot = m.Author.Bot
	}
	if m.MessageReference != nil {
		out.ReferencedMessageID = m.MessageReference.MessageID
	}
	return out
}

func fromDiscordEmbeds(embeds []*discordgo.MessageEmbed) []discordpkg.Embed {
	out := make([]discordpkg.Embed, 0, len(embeds))
	for _, me := range embeds {
		if me == nil {
			continue
		}
		e := discordpkg.Embed{
			Title:       me.Title,
			Description: me.Description,
			Color:       me.Color,
		}
		if me.Thumbnail != nil {
			e.ThumbnailURL = me.Thumbnail.URL
		}
		if me.Footer != nil {
			e.FooterText = me.Footer.Text
			e.FooterIconURL = me.Footer.IconURL
		}
		if me.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339, me.Timestamp); err == nil {
				e.Timestamp = ts
			}
		}
		for _, f := range me.Fields {
			if f == nil {
				continue
			}
			e.Fields = append(e.Fields, discordpkg.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		out = append(out, e)
	}
	return out
}

func fromDiscordComponents(components []discordgo.MessageComponent) [][]discordpkg.Button {
	var rows [][]discordpkg.Button
	for _, comp := range components {
		var inner []discordgo.MessageComponent
		switch row := comp.(type) {
		case *discordgo.ActionsRow:
			inner = row.Components
		case discordgo.ActionsRow:
			inner = row.Components
		default:
			continue
		}
		var buttons []discordpkg.Button
		for _, ic := range inner {
			var b discordgo.Button
			switch v := ic.(type) {
			case *discordgo.Button:
				b = *v
			case discordgo.Button:
				b = v
			default:
				continue
			}
			btn := discordpkg.Button{
				CustomID: b.CustomID,
				Label:    b.Label,
				Style:    discordpkg.ButtonStyle(b.Style),
				Disabled: b.Disabled,
			}
			if b.Emoji != nil {
				btn.Emoji = b.Emoji.Name
			}
			buttons = append(buttons, btn)
		}
		rows = append(rows, buttons)
	}
	return rows
}
