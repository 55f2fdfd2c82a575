package monitor

import (
	"time"

	"github.com/dyluth/warren/pkg/board"
)

// Probe is the monitor's view of an outstanding liveness probe for one agent.
type Probe int

const (
	ProbeNone     Probe = iota // no probe outstanding
	ProbePending               // probe sent, window still open
	ProbeAnswered              // a heartbeat arrived after the probe was sent
	ProbeExpired               // window closed with no answer
)

// Action is what the monitor must do after a supervisor step.
type Action int

const (
	ActionNone        Action = iota
	ActionProbe              // send a health_check and open the probe window
	ActionMarkHealthy        // accepted heartbeat clears a stall
	ActionRecover            // confirmed stall: release tasks, alert, mark stalled
	ActionReplace            // second confirmed stall: substitute the agent
)

func (a Action) String() string {
	switch a {
	case ActionProbe:
		return "probe"
	case ActionMarkHealthy:
		return "mark_healthy"
	case ActionRecover:
		return "recover"
	case ActionReplace:
		return "replace"
	default:
		return "none"
	}
}

// NextState is the supervisor step function. It is pure: given the agent's
// recorded health state, the time since its last observed activity, its
// staleness threshold, and the state of any outstanding probe, it returns
// the next health state and the action the monitor must take.
//
// The lifecycle is healthy -> stalled -> unresponsive -> replaced, strictly
// forward except that an accepted heartbeat returns a stalled agent to
// healthy. Replaced is terminal. A silent agent is never punished on the
// first missed threshold: it always gets a probe and a full probe window
// to answer first.
func NextState(state board.HealthStatus, elapsed, threshold time.Duration, probe Probe) (board.HealthStatus, Action) {
	switch state {
	case board.HealthReplaced:
		return board.HealthReplaced, ActionNone

	case board.HealthUnresponsive:
		// Replacement did not finish last cycle; try again.
		return board.HealthUnresponsive, ActionReplace

	case board.HealthStalled:
		if probe == ProbeAnswered || elapsed <= threshold {
			return board.HealthHealthy, ActionMarkHealthy
		}
		switch probe {
		case ProbeNone:
			return board.HealthStalled, ActionProbe
		case ProbePending:
			return board.HealthStalled, ActionNone
		default: // ProbeExpired: second consecutive confirmed stall
			return board.HealthUnresponsive, ActionReplace
		}

	default: // healthy
		if elapsed <= threshold {
			return board.HealthHealthy, ActionNone
		}
		switch probe {
		case ProbeNone:
			return board.HealthHealthy, ActionProbe
		case ProbePending, ProbeAnswered:
			return board.HealthHealthy, ActionNone
		default: // ProbeExpired
			return board.HealthStalled, ActionRecover
		}
	}
}
