package repository

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/foxseedlab/stagewarden/internal/repository"
)

// Queries are written with ? placeholders; the Postgres repository rebinds them.
const (
	insertTalkQuery = `INSERT INTO talks (message_id, user_id, user_nickname, user_tag, user_roles, message_datetime, user_banned)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (message_id, user_id) DO NOTHING`
	updateTalkOnLeaveQuery = `UPDATE talks SET user_time_on_stage = ? WHERE message_id = ? AND user_id = ?`
	updateTalkSummaryQuery = `UPDATE talks SET summary = ?, last_summary_mod_id = ? WHERE message_id = ? AND user_id = ?`
	updateTalkBanQuery     = `UPDATE talks SET user_banned = ?, last_ban_mod_id = ? WHERE message_id = ? AND user_id = ?`
	countTalksByUserQuery  = `SELECT COUNT(*) FROM talks WHERE user_id = ?`
	selectTalkColumns      = `SELECT id, message_id, user_id, user_nickname, user_tag, user_roles, message_datetime,
		user_time_on_stage, summary, user_banned, last_summary_mod_id, last_void_mod_id, last_talk_mod_id,
		last_timeout_mod_id, last_ban_mod_id FROM talks`
	listTalksByUserQuery = selectTalkColumns + ` WHERE user_id = ? ORDER BY message_datetime ASC, id ASC`
	listTalksQuery       = selectTalkColumns + ` ORDER BY message_datetime ASC, id ASC`
	upsertActivityQuery  = `INSERT INTO activity (user_id, last_stage_datetime) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET last_stage_datetime = excluded.last_stage_datetime`
	listRecentActivityQuery = `SELECT user_id, last_stage_datetime FROM activity ORDER BY last_stage_datetime DESC LIMIT ?`
)

func updateTalkRolesQuery(action repository.ModAction) (string, error) {
	column := repository.ModeratorColumn(action)
	if column == "" {
		return "", fmt.Errorf("unknown moderation action %q", action)
	}
	return `UPDATE talks SET user_roles = ?, ` + column + ` = ? WHERE message_id = ? AND user_id = ?`, nil
}

// rebindDollar rewrites ? placeholders into $1, $2, ... for pgx.
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTalk(row rowScanner) (repository.Talk, error) {
	var t repository.Talk
	err := row.Scan(
		&t.ID, &t.MessageID, &t.UserID, &t.UserNickname, &t.UserTag, &t.UserRoles, &t.MessageDatetime,
		&t.UserTimeOnStage, &t.Summary, &t.UserBanned, &t.LastSummaryModID, &t.LastVoidModID, &t.LastTalkModID,
		&t.LastTimeoutModID, &t.LastBanModID,
	)
	return t, err
}
