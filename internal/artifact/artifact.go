// Package artifact models the status message rendered for one stage
// appearance: its embed fields, its moderation buttons and the colors moderators read.
package artifact

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/foxseedlab/stagewarden/internal/discord"
)

type Color int

const (
	ColorActive     Color = 0x57F287
	ColorOvertime   Color = 0xFEE75C
	ColorModeration Color = 0xED4245
	ColorResolved   Color = 0x3498DB
)

// IsOnStage reports whether c is one of the colors used while a participant is speaking.
func (c Color) IsOnStage() bool {
	return c == ColorActive || c == ColorOvertime
}

const (
	FieldUser          = "User"
	FieldUserID        = "User-ID"
	FieldStage         = "Stage"
	FieldLog           = "Log"
	SummaryFieldPrefix = "Summary by "

	// MaxLogLength is the platform's limit for a single field value.
	MaxLogLength = 1024

	CorrectionMarker = " (Maybe incorrect)"
)

var timeOnStagePattern = regexp.MustCompile(`\d{2,}:\d{2}:\d{2}`)

type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Model is the mutable embed description of one artifact. Color is not part of
// the model; it is projected from the moderation state at render time.
type Model struct {
	Title         string
	Description   string
	ThumbnailURL  string
	FooterText    string
	FooterIconURL string
	Timestamp     time.Time
	Fields        []Field
}

type NewModelInput struct {
	DisplayName   string
	ChannelName   string
	ChannelID     string
	UserID        string
	Conversations int
	AvatarURL     string
	FooterText    string
	FooterIconURL string
	StartedAt     time.Time
}

func NewModel(in NewModelInput) *Model {
	return &Model{
		Title:         fmt.Sprintf("%s joined %s", in.DisplayName, in.ChannelName),
		Description:   fmt.Sprintf("Number conversations: %d\nTime on Stage: %s", in.Conversations, FormatHMS(0)),
		ThumbnailURL:  in.AvatarURL,
		FooterText:    in.FooterText,
		FooterIconURL: in.FooterIconURL,
		Timestamp:     in.StartedAt,
		Fields: []Field{
			{Name: FieldUser, Value: "<@" + in.UserID + ">", Inline: true},
			{Name: FieldUserID, Value: in.UserID, Inline: true},
			{Name: FieldStage, Value: "<#" + in.ChannelID + ">", Inline: true},
		},
	}
}

// FromEmbed rebuilds a model from an observed embed.
func FromEmbed(e discord.Embed) *Model {
	m := &Model{
		Title:         e.Title,
		Description:   e.Description,
		ThumbnailURL:  e.ThumbnailURL,
		FooterText:    e.FooterText,
		FooterIconURL: e.FooterIconURL,
		Timestamp:     e.Timestamp,
		Fields:        make([]Field, 0, len(e.Fields)),
	}
	for _, f := range e.Fields {
		m.Fields = append(m.Fields, Field{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return m
}

func (m *Model) Clone() *Model {
	c := *m
	c.Fields = slices.Clone(m.Fields)
	return &c
}

func (m *Model) Embed(color Color) discord.Embed {
	fields := make([]discord.EmbedField, 0, len(m.Fields))
	for _, f := range m.Fields {
		fields = append(fields, discord.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return discord.Embed{
		Title:         m.Title,
		Description:   m.Description,
		Color:         int(color),
		ThumbnailURL:  m.ThumbnailURL,
		FooterText:    m.FooterText,
		FooterIconURL: m.FooterIconURL,
		Timestamp:     m.Timestamp,
		Fields:        fields,
	}
}

// UserID returns the raw id stored in field 1, the join key for every lookup.
func (m *Model) UserID() string {
	if len(m.Fields) < 2 || m.Fields[1].Name != FieldUserID {
		return ""
	}
	return strings.TrimSpace(m.Fields[1].Value)
}

// UserMention returns field 0.
func (m *Model) UserMention() string {
	if len(m.Fields) == 0 {
		return ""
	}
	return m.Fields[0].Value
}

func (m *Model) ChannelID() string {
	i := m.fieldIndex(FieldStage)
	if i < 0 {
		return ""
	}
	v := strings.TrimSpace(m.Fields[i].Value)
	return strings.TrimSuffix(strings.TrimPrefix(v, "<#"), ">")
}

func (m *Model) fieldIndex(name string) int {
	return slices.IndexFunc(m.Fields, func(f Field) bool { return f.Name == name })
}

func (m *Model) summaryIndex() int {
	return slices.IndexFunc(m.Fields, func(f Field) bool { return strings.HasPrefix(f.Name, SummaryFieldPrefix) })
}

func (m *Model) Summary() (author, text string, ok bool) {
	i := m.summaryIndex()
	if i < 0 {
		return "", "", false
	}
	return strings.TrimPrefix(m.Fields[i].Name, SummaryFieldPrefix), m.Fields[i].Value, true
}

func (m *Model) HasSummary() bool {
	return m.summaryIndex() >= 0
}

// SetSummary stores the note, keeping it ahead of the Log field. It reports
// whether an existing summary was replaced.
func (m *Model) SetSummary(author, text string) bool {
	field := Field{Name: SummaryFieldPrefix + author, Value: text}
	if i := m.summaryIndex(); i >= 0 {
		m.Fields[i] = field
		return true
	}
	if i := m.fieldIndex(FieldLog); i >= 0 {
		m.Fields = slices.Insert(m.Fields, i, field)
		return false
	}
	m.Fields = append(m.Fields, field)
	return false
}

func (m *Model) Log() string {
	i := m.fieldIndex(FieldLog)
	if i < 0 {
		return ""
	}
	return m.Fields[i].Value
}

// AppendLog adds line to the Log field. A line that would push the field past
// MaxLogLength is dropped and the model is left untouched.
func (m *Model) AppendLog(line string) bool {
	i := m.fieldIndex(FieldLog)
	value := line
	if i >= 0 {
		value = m.Fields[i].Value + "\n" + line
	}
	if utf8.RuneCountInString(value) > MaxLogLength {
		return false
	}
	if i >= 0 {
		m.Fields[i].Value = value
		return true
	}
	m.Fields = append(m.Fields, Field{Name: FieldLog, Value: value})
	return true
}

func (m *Model) SetTimeOnStage(d time.Duration) {
	hms := FormatHMS(d)
	if timeOnStagePattern.MatchString(m.Description) {
		replaced := false
		m.Description = timeOnStagePattern.ReplaceAllStringFunc(m.Description, func(s string) string {
			if replaced {
				return s
			}
			replaced = true
			return hms
		})
		return
	}
	m.Description = strings.TrimRight(m.Description, "\n") + "\nTime on Stage: " + hms
}

// MarkCorrection annotates the description once.
func (m *Model) MarkCorrection() bool {
	if strings.HasSuffix(m.Description, CorrectionMarker) {
		return false
	}
	m.Description += CorrectionMarker
	return true
}

func (m *Model) RemoveThumbnail() bool {
	if m.ThumbnailURL == "" {
		return false
	}
	m.ThumbnailURL = ""
	return true
}

func FormatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
