package review

import "fmt"

const (
	StateDue              State = "due"
	StateSending          State = "sending"
	StateAwaitingResponse State = "awaiting_response"
	StateScheduled        State = "scheduled"
)

type State string

type transition struct {
	from, to State
}

//nolint:gochecknoglobals // transition table
var (
	claimStep   = transition{from: StateDue, to: StateSending}
	sendStep    = transition{from: StateSending, to: StateAwaitingResponse}
	releaseStep = transition{from: StateSending, to: StateDue}
	rateStep    = transition{from: StateAwaitingResponse, to: StateScheduled}
	expireStep  = transition{from: StateAwaitingResponse, to: StateDue}
	promoteStep = transition{from: StateScheduled, to: StateDue}

	transitions = []transition{claimStep, sendStep, releaseStep, rateStep, expireStep, promoteStep}
)

func (s State) Valid() bool {
	for _, t := range transitions {
		if t.from == s || t.to == s {
			return true
		}
	}
	return false
}

func (s State) String() string {
	return string(s)
}

// HoldsMessage reports whether an item in this state must carry LastMessageID.
func (s State) HoldsMessage() bool {
	return s == StateSending || s == StateAwaitingResponse
}

func CanTransition(from, to State) bool {
	for _, t := range transitions {
		if t.from == from && t.to == to {
			return true
		}
	}
	return false
}

func CheckTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// check rejects the transition unless the item currently sits in its source state.
func (t transition) check(current State) error {
	if current != t.from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, t.to)
	}
	return CheckTransition(t.from, t.to)
}

func ParseState(val string) (State, error) {
	s := State(val)
	if !s.Valid() {
		return "", fmt.Errorf("unknown state %q", val)
	}
	return s, nil
}
