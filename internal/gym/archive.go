package gym

import "github.com/joeycumines/leangym/internal/prover"

// Archive maps state ids to the post-processed tactic states observed during
// an episode. Entries are never overwritten: the first state recorded for an
// id is the one every later lookup returns.
type Archive struct {
	states map[prover.StateID]string
	order  []prover.StateID
}

// NewArchive returns an empty archive.
func NewArchive() *Archive {
	return &Archive{states: make(map[prover.StateID]string)}
}

// Insert records state under sid and reports whether it was new.
func (a *Archive) Insert(sid prover.StateID, state string) bool {
	if _, ok := a.states[sid]; ok {
		return false
	}
	a.states[sid] = state
	a.order = append(a.order, sid)
	return true
}

// Lookup returns the state recorded for sid.
func (a *Archive) Lookup(sid prover.StateID) (string, bool) {
	state, ok := a.states[sid]
	return state, ok
}

// Len returns the number of recorded states.
func (a *Archive) Len() int { return len(a.states) }

// IDs returns the recorded ids in insertion order.
func (a *Archive) IDs() []prover.StateID {
	return append([]prover.StateID(nil), a.order...)
}

// Reset drops every entry. Only a fresh process restart calls it.
func (a *Archive) Reset() {
	clear(a.states)
	a.order = a.order[:0]
}
