package repository

import (
	"context"
	"strings"
	"time"
)

type CreateTalkInput struct {
	MessageID    string
	UserID       string
	UserNickname string
	UserTag      string
	UserRoles    []string
	JoinedAt     time.Time
}

type UpdateTalkOnLeaveInput struct {
	MessageID      string
	UserID         string
	SecondsOnStage int64
}

type UpdateTalkSummaryInput struct {
	MessageID   string
	UserID      string
	Summary     string
	ModeratorID string
}

type UpdateTalkRolesInput struct {
	MessageID   string
	UserID      string
	UserRoles   []string
	Action      ModAction
	ModeratorID string
}

type UpdateTalkBanInput struct {
	MessageID   string
	UserID      string
	Banned      bool
	ModeratorID string
}

type TalkRepository interface {
	InsertTalk(ctx context.Context, input CreateTalkInput) error
	UpdateTalkOnLeave(ctx context.Context, input UpdateTalkOnLeaveInput) error
	UpdateTalkSummary(ctx context.Context, input UpdateTalkSummaryInput) error
	UpdateTalkRoles(ctx context.Context, input UpdateTalkRolesInput) error
	UpdateTalkBan(ctx context.Context, input UpdateTalkBanInput) error
	CountTalksByUser(ctx context.Context, userID string) (int, error)
	ListTalksByUser(ctx context.Context, userID string) ([]Talk, error)
	ListTalks(ctx context.Context) ([]Talk, error)
}

type ActivityRepository interface {
	UpsertActivity(ctx context.Context, userID string, at time.Time) error
	ListRecentActivity(ctx context.Context, limit int) ([]Activity, error)
}

type Repository interface {
	TalkRepository
	ActivityRepository
	Close()
}

// JoinRoles renders a role snapshot the way it is stored in user_roles.
func JoinRoles(names []string) string {
	return strings.Join(names, ", ")
}

// ModeratorColumn maps an action to its last-moderator column; unknown actions yield "".
func ModeratorColumn(action ModAction) string {
	switch action {
	case ModActionSummary, ModActionVoid, ModActionTalk, ModActionTimeout, ModActionBan:
		return "last_" + string(action) + "_mod_id"
	default:
		return ""
	}
}
