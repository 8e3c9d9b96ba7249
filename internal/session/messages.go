package session

import (
	"fmt"
	"strings"
	"time"

	"github.com/foxseedlab/stagewarden/internal/artifact"
)

const (
	messageFooter = "Stage tracking"

	messageInsufficientPermissions = ":warning: **You do not have enough permissions.**"
	messageTargetNotAvailable      = ":warning: **This user or tracking message is not available anymore.**"
	messageArtifactLost            = ":warning: **The tracking message no longer exists.**"
	messageActionFailed            = ":warning: **Something went wrong, please try again.**"
	messageNotATrackingMessage     = ":warning: **This is not a tracking message.**"

	messageNothingToResolve   = "This tracking message does not need moderation."
	messageResolveWhileBanned = "The user is banned; unban them before marking this as resolved."
	messageAlreadyBanned      = "The user is already banned."
	messageNotBanned          = "The user is not banned."
	messageNoPicture          = "The tracking message has no profile picture."

	messageQueueHeader = "Tracking messages awaiting moderation:"
	messageQueueEmpty  = "No moderation currently required."

	messageActivityHeader = "**Last stage activity of moderators**"
	messageActivityEmpty  = "No stage activity recorded yet."
	messageActivityReload = "Reload"

	formSummaryTitle       = "Summary"
	formSummaryLabel       = "What was the conversation about?"
	formSummaryPlaceholder = "At least 4 characters"
	formBanTitle           = "Ban"
	formBanLabel           = "Reason"
	formBanPlaceholder     = "Why is this user banned?"

	commandRemovePicture     = "!rmpp"
	commandRemovePictureLong = "!removeprofilepicture"

	messageLegend = "**Legend**\n" +
		"🟢 On stage\n" +
		"🟡 On stage for longer than the overtime threshold\n" +
		"🔴 Needs moderation\n" +
		"🔵 Left the stage, nothing to review"
)

// Log actions as they appear in the artifact's Log field.
const (
	actionAddedSummary   = "Added Summary"
	actionEditedSummary  = "Edited Summary"
	actionAddedTalk      = "Added Talk"
	actionRemovedTalk    = "Removed Talk"
	actionAddedVoid      = "Added Void"
	actionRemovedVoid    = "Removed Void"
	actionBanned         = "Banned"
	actionUnbanned       = "Unbanned"
	actionResolved       = "Marked as resolved"
	actionRemovedPicture = "Removed picture"
)

// logLine renders "<Action> by <username> [<time>]" in the display timezone.
func logLine(action, username string, at time.Time, loc *time.Location) string {
	return fmt.Sprintf("%s by %s [%s]", action, username, at.In(loc).Format("2006-01-02 15:04"))
}

func summaryLengthMessage(n int) string {
	return fmt.Sprintf("A summary needs between %d and %d characters, got %d.", MinSummaryLength, MaxSummaryLength, n)
}

func summaryRejectedMessage(mention, text, reason string) string {
	return fmt.Sprintf("%s %s\n> %s", mention, reason, strings.ReplaceAll(text, "\n", "\n> "))
}

func roleAlreadyMessage(mention, roleName string, has bool) string {
	if has {
		return fmt.Sprintf("%s already has the %s role.", mention, roleName)
	}
	return fmt.Sprintf("%s does not have the %s role.", mention, roleName)
}

func overtimeNoticeMessage(mention string, threshold time.Duration, url string) string {
	return fmt.Sprintf("%s has been on stage for more than %s: %s", mention, artifact.FormatHMS(threshold), url)
}

func queueContent(entries []QueueEntry) string {
	if len(entries) == 0 {
		return messageQueueEmpty
	}
	var b strings.Builder
	b.WriteString(messageQueueHeader)
	for _, e := range entries {
		b.WriteString("\n- ")
		if e.ShortLabel != "" {
			b.WriteString(e.ShortLabel)
			b.WriteString(" ")
		}
		b.WriteString(e.URL)
	}
	return b.String()
}
