package catchment

import (
	"fmt"
	"strings"
)

// State is the lifecycle state of a reach within the catchment.
type State string

const (
	StateWaiting       State = "waiting"
	StateCanStart      State = "can_start"
	StateRunning       State = "running"
	StateRunDone       State = "run_done"
	StateCanBeCleaned  State = "can_be_cleaned"
	StateCleaning      State = "cleaning"
	StateDone          State = "done"
	StateError         State = "error"
	StateUpstreamError State = "upstream_error"
)

// ParseState normalizes a serialized state. Accepts a few aliases seen in
// run artifacts from earlier revisions.
func ParseState(s string) (State, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.ReplaceAll(v, "-", "_")
	switch v {
	case "waiting":
		return StateWaiting, nil
	case "can_start", "canstart":
		return StateCanStart, nil
	case "running":
		return StateRunning, nil
	case "run_done", "rundone":
		return StateRunDone, nil
	case "can_be_cleaned", "canbecleaned":
		return StateCanBeCleaned, nil
	case "cleaning":
		return StateCleaning, nil
	case "done":
		return StateDone, nil
	case "error", "failed":
		return StateError, nil
	case "upstream_error", "upstreamerror":
		return StateUpstreamError, nil
	default:
		return "", fmt.Errorf("unknown reach state %q", s)
	}
}

// Terminal reports whether the state is final: the reach will receive no
// further commands.
func (s State) Terminal() bool {
	switch s {
	case StateDone, StateError, StateUpstreamError:
		return true
	default:
		return false
	}
}

// PastRun reports whether the reach's simulation has completed, i.e. its
// outputs (including any upstream-flux file) exist on disk.
func (s State) PastRun() bool {
	switch s {
	case StateRunDone, StateCanBeCleaned, StateCleaning, StateDone:
		return true
	default:
		return false
	}
}

// Failed reports whether the reach ended in an error state.
func (s State) Failed() bool {
	return s == StateError || s == StateUpstreamError
}
