package discord

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	discordpkg "github.com/foxseedlab/stagewarden/internal/discord"
)

const bansPageSize = 1000

// GetMember always asks the REST API so role membership reflects the latest mutation.
func (c *Client) GetMember(ctx context.Context, guildID, userID string) (*discordpkg.Member, error) {
	m, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, notFoundAs(err, discordpkg.ErrMemberNotFound)
	}
	if m.GuildID == "" {
		m.GuildID = guildID
	}
	if c.session.State != nil {
		_ = c.session.State.MemberAdd(m)
	}
	return c.toMember(guildID, m), nil
}

func (c *Client) GetRole(ctx context.Context, guildID, roleID string) (*discordpkg.Role, error) {
	r := c.resolveRole(ctx, guildID, roleID)
	if r == nil {
		return nil, fmt.Errorf("role %s not found in guild %s", roleID, guildID)
	}
	return &discordpkg.Role{ID: r.ID, Name: r.Name, Position: r.Position}, nil
}

func (c *Client) AddRole(ctx context.Context, guildID, userID, roleID string) error {
	err := c.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithContext(ctx))
	return notFoundAs(err, discordpkg.ErrMemberNotFound)
}

func (c *Client) RemoveRole(ctx context.Context, guildID, userID, roleID string) error {
	err := c.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithContext(ctx))
	return notFoundAs(err, discordpkg.ErrMemberNotFound)
}

func (c *Client) Ban(ctx context.Context, guildID, userID, reason string) error {
	return c.session.GuildBanCreateWithReason(guildID, userID, reason, 0, discordgo.WithContext(ctx))
}

func (c *Client) Unban(ctx context.Context, guildID, userID string) error {
	return c.session.GuildBanDelete(guildID, userID, discordgo.WithContext(ctx))
}

func (c *Client) ListBans(ctx context.Context, guildID string) (map[string]struct{}, error) {
	banned := make(map[string]struct{})
	after := ""
	for {
		page, err := c.session.GuildBans(guildID, bansPageSize, "", after, discordgo.WithContext(ctx))
		if err != nil {
			return nil, err
		}
		for _, b := range page {
			if b == nil || b.User == nil {
				continue
			}
			banned[b.User.ID] = struct{}{}
			after = b.User.ID
		}
		if len(page) < bansPageSize {
			return banned, nil
		}
	}
}

func (c *Client) toMember(guildID string, m *discordgo.Member) *discordpkg.Member {
	out := &discordpkg.Member{
		Nickname: m.Nick,
		RoleIDs:  append([]string(nil), m.Roles...),
	}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		out.Tag = m.User.String()
		out.Bot = m.User.Bot
		out.DisplayName = preferredDiscordName(m.Nick, preferredDiscordName(m.User.GlobalName, m.User.Username, m.User.ID), m.User.ID)
		if m.GuildID == "" {
			m.GuildID = guildID
		}
		out.AvatarURL = m.AvatarURL("")
	}
	for _, roleID := range m.Roles {
		if r := c.resolveRole(context.Background(), guildID, roleID); r != nil {
			out.RoleNames = append(out.RoleNames, r.Name)
		}
	}
	return out
}

func (c *Client) resolveGuildMember(ctx context.Context, guildID, userID string) *discordgo.Member {
	if c.session == nil {
		return nil
	}
	if c.session.State != nil {
		member, err := c.session.State.Member(guildID, userID)
		if err == nil && member != nil {
			return member
		}
	}
	member, err := c.session.GuildMember(guildID, userID, discordgo.WithContext(ctx))
	if err != nil {
		return nil
	}
	return member
}

func (c *Client) resolveRole(ctx context.Context, guildID, roleID string) *discordgo.Role {
	if c.session == nil {
		return nil
	}
	if c.session.State != nil {
		role, err := c.session.State.Role(guildID, roleID)
		if err == nil && role != nil {
			return role
		}
	}
	roles, err := c.session.GuildRoles(guildID, discordgo.WithContext(ctx))
	if err != nil {
		slog.Warn("failed to list guild roles", "guild_id", guildID, "error", err)
		return nil
	}
	var found *discordgo.Role
	for _, r := range roles {
		if r == nil {
			continue
		}
		if c.session.State != nil {
			_ = c.session.State.RoleAdd(guildID, r)
		}
		if r.ID == roleID {
			found = r
		}
	}
	return found
}

func (c *Client) highestRolePosition(ctx context.Context, guildID string, roleIDs []string) int {
	highest := 0
	for _, id := range roleIDs {
		if r := c.resolveRole(ctx, guildID, id); r != nil && r.Position > highest {
			highest = r.Position
		}
	}
	return highest
}

func preferredDiscordName(globalName, username, fallback string) string {
	if globalName != "" {
		return globalName
	}
	if username != "" {
		return username
	}
	return fallback
}
