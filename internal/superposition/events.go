package superposition

import (
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// #region events

// EventType names a lifecycle notification.
type EventType string

const (
	EventStateRotated             EventType = "state_rotated"
	EventStateSelected            EventType = "state_selected"
	EventStatePoisoned            EventType = "state_poisoned"
	EventStateDegraded            EventType = "state_degraded"
	EventSuperpositionCollapsed   EventType = "superposition_collapsed"
	EventObservationLimitExceeded EventType = "observation_limit_exceeded"
)

// Event is delivered to listeners after the superposition lock is released.
type Event struct {
	Type             EventType
	SuperpositionID  string
	PreviousStateID  string
	NewStateID       string
	State            *state.QuantumState
	Reason           string
	StatesCount      int
	ObservationCount int64
	Timestamp        time.Time
}

// Listener receives events. It runs on the goroutine that caused the event and
// may call back into the Superposition, except Destroy.
type Listener func(Event)

// AuditEntry is one line of the per-superposition audit trail.
type AuditEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	Message   string         `json:"message"`
	StateID   string         `json:"state_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// Transition records one change of a state's type.
type Transition struct {
	StateID   string          `json:"state_id"`
	From      state.StateType `json:"from"`
	To        state.StateType `json:"to"`
	Trigger   string          `json:"trigger"`
	Timestamp time.Time       `json:"timestamp"`
}

// #endregion events

// #region listeners

// Subscribe registers l and returns a function that removes it.
func (s *Superposition) Subscribe(l Listener) func() {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = l
	return func() {
		s.listenersMu.Lock()
		defer s.listenersMu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Superposition) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	s.listenersMu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for i := 0; i < s.nextListener; i++ {
		if l, ok := s.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	s.listenersMu.Unlock()
	for _, ev := range events {
		for _, l := range ls {
			l(ev)
		}
	}
}

// #endregion listeners
