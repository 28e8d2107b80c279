package pipeline

import "fmt"

// State is a unit's position in the state machine.
type State string

const (
	Discovered    State = "Discovered"
	Building      State = "Building"
	Built         State = "Built"
	BuildFailed   State = "BuildFailed"
	Resolving     State = "Resolving"
	Resolved      State = "Resolved"
	ResolveFailed State = "ResolveFailed"
	Publishing    State = "Publishing"
	Published     State = "Published"
	PublishFailed State = "PublishFailed"
	// Cancelled is reached when the run is cancelled before the unit
	// reached another terminal state.
	Cancelled State = "Cancelled"
)

// IsTerminal reports whether s ends a unit's processing.
func (s State) IsTerminal() bool {
	switch s {
	case Published, PublishFailed, ResolveFailed, Cancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to State) bool {
	if to == Cancelled {
		return !from.IsTerminal()
	}
	switch from {
	case Discovered:
		return to == Building
	case Building:
		return to == Built || to == BuildFailed
	case BuildFailed:
		return to == Resolving
	case Resolving:
		return to == Resolved || to == ResolveFailed
	case Built, Resolved:
		return to == Publishing
	case Publishing:
		return to == Published || to == PublishFailed
	default:
		return false
	}
}

// stageOf names the stage a unit is in, or was last in, while in state s.
func stageOf(s State) Stage {
	switch s {
	case Building, Built, BuildFailed:
		return StageBuild
	case Resolving, Resolved, ResolveFailed:
		return StageResolve
	case Publishing, Published, PublishFailed:
		return StagePublish
	default:
		return StageDispatch
	}
}

// invalidTransition is raised for edges outside the machine; it indicates
// a bug in the pipeline, never bad input.
type invalidTransition struct {
	unit     string
	from, to State
}

func (e invalidTransition) Error() string {
	return fmt.Sprintf("invalid transition for %s: %s -> %s", e.unit, e.from, e.to)
}
