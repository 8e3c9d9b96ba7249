package artifact

import "github.com/foxseedlab/stagewarden/internal/discord"

const (
	ButtonSummary = "summary-button"
	ButtonTalk    = "talk-button"
	ButtonVoid    = "void-button"
	ButtonBan     = "ban-button"
	ButtonReview  = "review-button"
	ButtonHistory = "history-button"
	ButtonLegend  = "legend-button"
	ButtonStats   = "stats-button"
)

const (
	LabelAddSummary  = "Add Summary"
	LabelEditSummary = "Edit Summary"
	LabelAddTalk     = "Add Talk"
	LabelRemoveTalk  = "Remove Talk"
	LabelAddVoid     = "Add Void"
	LabelRemoveVoid  = "Remove Void"
	LabelBan         = "Ban"
	LabelUnban       = "Unban"
)

// ButtonState is the typed record every rendered button row is derived from.
type ButtonState struct {
	SummaryLabel  string
	TalkLabel     string
	VoidLabel     string
	BanLabel      string
	ReviewEnabled bool
}

func InitialButtonState(hasTalk, hasVoid bool) ButtonState {
	b := ButtonState{
		SummaryLabel: LabelAddSummary,
		BanLabel:     LabelBan,
	}
	b.SetRoles(hasTalk, hasVoid)
	return b
}

// SetRoles relabels talk and void buttons from actual role membership.
func (b *ButtonState) SetRoles(hasTalk, hasVoid bool) {
	b.TalkLabel = LabelAddTalk
	if hasTalk {
		b.TalkLabel = LabelRemoveTalk
	}
	b.VoidLabel = LabelAddVoid
	if hasVoid {
		b.VoidLabel = LabelRemoveVoid
	}
}

func (b *ButtonState) SetBanned(banned bool) {
	b.BanLabel = LabelBan
	if banned {
		b.BanLabel = LabelUnban
	}
}

func (b *ButtonState) SetSummary(hasSummary bool) {
	b.SummaryLabel = LabelAddSummary
	if hasSummary {
		b.SummaryLabel = LabelEditSummary
	}
}

// Labels returns the moderation labels in display order.
func (b ButtonState) Labels() []string {
	return []string{b.SummaryLabel, b.TalkLabel, b.VoidLabel, b.BanLabel}
}

func (b ButtonState) Rows() [][]discord.Button {
	return [][]discord.Button{
		{
			{CustomID: ButtonSummary, Label: b.SummaryLabel, Style: discord.ButtonPrimary},
			{CustomID: ButtonTalk, Label: b.TalkLabel, Style: discord.ButtonSuccess},
			{CustomID: ButtonVoid, Label: b.VoidLabel, Style: discord.ButtonSecondary},
			{CustomID: ButtonBan, Label: b.BanLabel, Style: discord.ButtonDanger},
			{CustomID: ButtonReview, Emoji: "✅", Style: discord.ButtonPrimary, Disabled: !b.ReviewEnabled},
		},
		{
			{CustomID: ButtonHistory, Emoji: "📜", Style: discord.ButtonSecondary},
			{CustomID: ButtonLegend, Emoji: "❔", Style: discord.ButtonSecondary},
			{CustomID: ButtonStats, Emoji: "📊", Style: discord.ButtonSecondary},
		},
	}
}

// ParseButtonState recovers the record from rendered rows, falling back to
// initial labels for buttons that are missing.
func ParseButtonState(rows [][]discord.Button) ButtonState {
	b := InitialButtonState(false, false)
	for _, row := range rows {
		for _, btn := range row {
			switch btn.CustomID {
			case ButtonSummary:
				if btn.Label != "" {
					b.SummaryLabel = btn.Label
				}
			case ButtonTalk:
				if btn.Label != "" {
					b.TalkLabel = btn.Label
				}
			case ButtonVoid:
				if btn.Label != "" {
					b.VoidLabel = btn.Label
				}
			case ButtonBan:
				if btn.Label != "" {
					b.BanLabel = btn.Label
				}
			case ButtonReview:
				b.ReviewEnabled = !btn.Disabled
			}
		}
	}
	return b
}
