package repository

import "time"

// ModAction names the moderator-id column updated by an action.
type ModAction string

const (
	ModActionSummary ModAction = "summary"
	ModActionVoid    ModAction = "void"
	ModActionTalk    ModAction = "talk"
	ModActionTimeout ModAction = "timeout"
	ModActionBan     ModAction = "ban"
)

// Talk is the durable record of one stage appearance, keyed by message and user.
type Talk struct {
	ID               int64
	MessageID        string
	UserID           string
	UserNickname     *string
	UserTag          string
	UserRoles        *string
	MessageDatetime  time.Time
	UserTimeOnStage  *int64
	Summary          *string
	UserBanned       bool
	LastSummaryModID *string
	LastVoidModID    *string
	LastTalkModID    *string
	LastTimeoutModID *string
	LastBanModID     *string
}

// Activity tracks when a stage moderator was last seen speaking.
type Activity struct {
	UserID            string
	LastStageDatetime time.Time
}
