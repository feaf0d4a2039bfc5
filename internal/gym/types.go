package gym

import (
	"fmt"

	"github.com/joeycumines/leangym/internal/prover"
)

// Rewards.
const (
	RewardFailure = -1
	RewardNeutral = 0
	RewardProved  = 1
)

// Status is the lifecycle stage of an [Env].
type Status int

const (
	StatusUninitialized Status = iota
	StatusActive
	StatusTerminated
)

// String implements fmt.Stringer.
func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// State is the session cursor.
type State struct {
	SID   prover.StateID
	State string
}

// Outcome is the result of one step.
type Outcome struct {
	Observation string
	// Reward is RewardFailure, RewardNeutral or RewardProved.
	Reward int
	Done   bool
	// Truncated marks termination caused by an infrastructure failure
	// (timeout, crash) rather than by the prover's verdict.
	Truncated bool
	Info      map[string]any
}

// ResetOptions selects a cached state to resume from. A nil *ResetOptions
// restarts the prover.
type ResetOptions struct {
	SID prover.StateID
}

// ResetInfo accompanies the observation returned by Reset.
type ResetInfo struct {
	SID prover.StateID
}

// Environment is the turn-based contract a search driver relies on.
type Environment interface {
	Reset(opts *ResetOptions) (string, ResetInfo, error)
	Step(action string) Outcome
	Close() error
	ObservationSpace() TextSpace
	ActionSpace() TextSpace
}
