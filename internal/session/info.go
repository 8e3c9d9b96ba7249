package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/foxseedlab/stagewarden/internal/artifact"
	"github.com/foxseedlab/stagewarden/internal/discord"
	"github.com/foxseedlab/stagewarden/internal/repository"
)

const historyRecentTalks = 3

// historyText summarizes finished talks of a user. Talks without a recorded
// duration are still on stage and left out.
func historyText(userID string, talks []repository.Talk, trackingChannelID, guildID string, loc *time.Location) string {
	finished := make([]repository.Talk, 0, len(talks))
	var total int64
	for _, t := range talks {
		if t.UserTimeOnStage == nil {
			continue
		}
		finished = append(finished, t)
		total += *t.UserTimeOnStage
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**History of <@%s>**\n", userID)
	if len(finished) == 0 {
		b.WriteString("No previous conversations.")
		return b.String()
	}

	sort.SliceStable(finished, func(i, j int) bool {
		return finished[i].MessageDatetime.After(finished[j].MessageDatetime)
	})
	fmt.Fprintf(&b, "Conversations: %d\n", len(finished))
	fmt.Fprintf(&b, "Total talk time: %s\n", artifact.FormatHMS(time.Duration(total)*time.Second))
	fmt.Fprintf(&b, "Last conversation: %s\n", finished[0].MessageDatetime.In(loc).Format("2006-01-02 15:04"))

	// talks with a summary first, newest first within each group
	recent := make([]repository.Talk, len(finished))
	copy(recent, finished)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Summary != nil && recent[j].Summary == nil
	})
	if len(recent) > historyRecentTalks {
		recent = recent[:historyRecentTalks]
	}
	b.WriteString("Recent talks:")
	for _, t := range recent {
		summary := "no summary"
		if t.Summary != nil {
			summary = *t.Summary
		}
		url := discord.MessageRef{ChannelID: trackingChannelID, MessageID: t.MessageID}.URL(guildID)
		fmt.Fprintf(&b, "\n- %s (%s): %s %s",
			t.MessageDatetime.In(loc).Format("2006-01-02"),
			artifact.FormatHMS(time.Duration(*t.UserTimeOnStage)*time.Second),
			summary, url)
	}
	return b.String()
}

func statsText(talks []repository.Talk) string {
	var timed, talkGrants, voidGrants, bans int
	var total int64
	for _, t := range talks {
		if t.UserTimeOnStage != nil {
			timed++
			total += *t.UserTimeOnStage
		}
		if t.LastTalkModID != nil {
			talkGrants++
		}
		if t.LastVoidModID != nil {
			voidGrants++
		}
		if t.UserBanned {
			bans++
		}
	}
	var avg int64
	if timed > 0 {
		avg = total / int64(timed)
	}
	return fmt.Sprintf("**Stats**\nConversations: %d\nAverage talk time: %s\nTotal talk time: %s\nGiven talks: %d\nGiven voids: %d\nExecuted bans: %d",
		len(talks),
		artifact.FormatHMS(time.Duration(avg)*time.Second),
		artifact.FormatHMS(time.Duration(total)*time.Second),
		talkGrants, voidGrants, bans)
}
