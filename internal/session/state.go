package session

import "github.com/foxseedlab/stagewarden/internal/artifact"

// State is the moderation status of one stage appearance.
type State int

const (
	StateClean State = iota
	StateSummaryAttached
	StateFlagged
	StateNeedsModeration
	StateResolved
)

func (s State) String() string {
	switch s {
	case StateClean:
		return "clean"
	case StateSummaryAttached:
		return "summary_attached"
	case StateFlagged:
		return "flagged"
	case StateNeedsModeration:
		return "needs_moderation"
	case StateResolved:
		return "resolved"
	default:
		return "unknown"
	}
}

// Color projects a state onto the embed color moderators read.
func (s State) Color() artifact.Color {
	switch s {
	case StateFlagged:
		return artifact.ColorOvertime
	case StateNeedsModeration:
		return artifact.ColorModeration
	case StateResolved:
		return artifact.ColorResolved
	default:
		return artifact.ColorActive
	}
}

// IsActive reports whether the participant is still considered on stage.
func (s State) IsActive() bool {
	return s == StateClean || s == StateSummaryAttached || s == StateFlagged
}

// StateFromColor recovers a state for artifacts that are not tracked in memory.
// hasSummary distinguishes the two states sharing the active color.
func StateFromColor(c artifact.Color, hasSummary bool) State {
	switch c {
	case artifact.ColorOvertime:
		return StateFlagged
	case artifact.ColorModeration:
		return StateNeedsModeration
	case artifact.ColorResolved:
		return StateResolved
	}
	if hasSummary {
		return StateSummaryAttached
	}
	return StateClean
}
