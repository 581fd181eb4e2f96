// Package measurement is the thin read/collapse surface over a superposition.
package measurement

import (
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// Target is the part of a superposition measurement needs.
type Target interface {
	CollapseAll(reason string) bool
	GetActiveState() (state.QuantumState, bool)
}

// Result describes a collapse.
type Result struct {
	Collapsed      bool            `json:"collapsed"`
	CollapsedState state.StateType `json:"collapsed_state"`
	Reason         string          `json:"reason"`
}

// Collapse collapses t with trigger as reason. Collapsing an already collapsed
// target reports the same result.
func Collapse(t Target, trigger string) Result {
	t.CollapseAll(trigger)
	return Result{Collapsed: true, CollapsedState: state.Collapsed, Reason: trigger}
}

// ReadState returns the active state, or false when there is none or it is collapsed.
func ReadState(t Target) (state.QuantumState, bool) {
	st, ok := t.GetActiveState()
	if !ok || st.Type == state.Collapsed {
		return state.QuantumState{}, false
	}
	return st, true
}
