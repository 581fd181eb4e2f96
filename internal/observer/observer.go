// Package observer reacts to unauthorized access by poisoning or collapsing protected data.
package observer

import (
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// #region transformation

// Transformation names the defensive transform an observation triggers.
type Transformation string

const (
	TransformNone              Transformation = "none"
	TransformLightPoison       Transformation = "light_poison"
	TransformProgressivePoison Transformation = "progressive_poison"
	TransformQuantumCollapse   Transformation = "quantum_collapse"
)

// #endregion transformation

// #region result

// Result is returned by every trigger on an Effect.
type Result struct {
	StateChanged   bool
	NewState       state.StateType
	Transformation Transformation
	Reason         string
	Attempts       int
}

// AccessInfo describes the offending access, kept for the caller's audit trail.
type AccessInfo struct {
	UserID    string
	SourceIP  string
	Timestamp time.Time
}

// #endregion result

// #region effect

// Effect counts unauthorized attempts against a threshold.
// Healthy → {Poisoned, Degraded} → Collapsed; only Reset leaves Collapsed.
type Effect struct {
	mu        sync.Mutex
	threshold int
	attempts  int
	current   state.StateType
}

// New creates an Effect. threshold must be positive.
func New(threshold int) (*Effect, error) {
	if threshold <= 0 {
		return nil, errs.InvalidArgument("observer threshold must be > 0, got %d", threshold)
	}
	return &Effect{threshold: threshold, current: state.Healthy}, nil
}

// OnUnauthorizedAccess records one unauthorized attempt against itemID.
func (e *Effect) OnUnauthorizedAccess(itemID string, _ AccessInfo) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.attempts++
	prev := e.current
	if e.attempts >= e.threshold {
		e.current = state.Collapsed
		return Result{
			StateChanged:   prev != state.Collapsed,
			NewState:       state.Collapsed,
			Transformation: TransformQuantumCollapse,
			Reason:         "threshold exceeded",
			Attempts:       e.attempts,
		}
	}
	if prev == state.Collapsed {
		// collapsed early by OnThresholdExceeded; stays terminal
		return Result{NewState: state.Collapsed, Transformation: TransformQuantumCollapse, Reason: "already collapsed", Attempts: e.attempts}
	}

	e.current = state.Poisoned
	return Result{
		StateChanged:   prev != state.Poisoned,
		NewState:       state.Poisoned,
		Transformation: TransformLightPoison,
		Reason:         fmt.Sprintf("unauthorized access to %s (%d/%d)", itemID, e.attempts, e.threshold),
		Attempts:       e.attempts,
	}
}

// OnSuspiciousPattern degrades without touching the unauthorized-attempt counter.
func (e *Effect) OnSuspiciousPattern(itemID, pattern string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.current == state.Collapsed {
		return Result{NewState: state.Collapsed, Transformation: TransformQuantumCollapse, Reason: "already collapsed", Attempts: e.attempts}
	}
	prev := e.current
	e.current = state.Degraded
	return Result{
		StateChanged:   prev != state.Degraded,
		NewState:       state.Degraded,
		Transformation: TransformProgressivePoison,
		Reason:         fmt.Sprintf("suspicious pattern %q on %s", pattern, itemID),
		Attempts:       e.attempts,
	}
}

// OnThresholdExceeded escalates straight to collapse for callers with their own metric.
func (e *Effect) OnThresholdExceeded(itemID string, metric string) Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.current
	e.current = state.Collapsed
	return Result{
		StateChanged:   prev != state.Collapsed,
		NewState:       state.Collapsed,
		Transformation: TransformQuantumCollapse,
		Reason:         fmt.Sprintf("threshold exceeded: %s on %s", metric, itemID),
		Attempts:       e.attempts,
	}
}

// Reset returns to Healthy and zeroes the counter. Callers gate this behind authorization.
func (e *Effect) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.attempts = 0
	e.current = state.Healthy
}

// State returns the current classification.
func (e *Effect) State() state.StateType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// Attempts returns the unauthorized-attempt count.
func (e *Effect) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Threshold returns the configured threshold.
func (e *Effect) Threshold() int {
	return e.threshold
}

// #endregion effect
