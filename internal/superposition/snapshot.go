package superposition

import (
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// Snapshot is the serializable form of a Superposition.
type Snapshot struct {
	ID                       string               `json:"id"`
	CreatedAt                time.Time            `json:"created_at"`
	LastRotation             time.Time            `json:"last_rotation"`
	ExportedAt               time.Time            `json:"exported_at"`
	ActiveStateID            string               `json:"active_state_id,omitempty"`
	IsCollapsed              bool                 `json:"is_collapsed"`
	ObservationCount         int64                `json:"observation_count"`
	ObservationLimitReported bool                 `json:"observation_limit_reported"`
	Config                   Config               `json:"config"`
	States                   []state.QuantumState `json:"states"`
	AuditLogs                []AuditEntry         `json:"audit_logs,omitempty"`
	Transitions              []Transition         `json:"transitions,omitempty"`
}

// ExportState captures everything needed to rebuild this superposition.
func (s *Superposition) ExportState() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:                       s.id,
		CreatedAt:                s.createdAt,
		LastRotation:             s.lastRotation,
		ExportedAt:               s.now().UTC(),
		ActiveStateID:            s.activeID,
		IsCollapsed:              s.collapsed,
		ObservationCount:         s.observations,
		ObservationLimitReported: s.limitFired,
		Config:                   s.cfg,
		States:                   make([]state.QuantumState, 0, len(s.order)),
		AuditLogs:                s.audit.items(),
		Transitions:              s.transitions.items(),
	}
	for _, id := range s.order {
		snap.States = append(snap.States, s.states[id].Clone())
	}
	return snap
}

// FromSnapshot rebuilds a Superposition. The active pointer, counters and trails
// are restored as exported; timers start unless the snapshot is collapsed.
func FromSnapshot(snap Snapshot, opts ...Option) (*Superposition, error) {
	if len(snap.States) == 0 {
		return nil, errs.InvalidArgument("snapshot %s has no states", snap.ID)
	}
	cfg, err := snap.Config.normalize()
	if err != nil {
		return nil, err
	}
	s := newEmpty(cfg, append([]Option{WithID(snap.ID)}, opts...))
	s.createdAt = snap.CreatedAt
	s.lastRotation = snap.LastRotation
	s.collapsed = snap.IsCollapsed
	s.observations = snap.ObservationCount
	s.limitFired = snap.ObservationLimitReported

	for i := range snap.States {
		st := snap.States[i].Clone()
		if st.ID == "" {
			return nil, errs.InvalidArgument("snapshot %s contains a state without id", snap.ID)
		}
		if _, dup := s.states[st.ID]; dup {
			return nil, errs.InvalidArgument("duplicate state id %s", st.ID)
		}
		st.Active = false
		s.states[st.ID] = &st
		s.order = append(s.order, st.ID)
	}
	if !s.collapsed {
		active := snap.ActiveStateID
		if _, ok := s.states[active]; !ok {
			active = s.order[0]
		}
		s.states[active].Active = true
		s.activeID = active
	}
	s.audit.load(snap.AuditLogs)
	s.transitions.load(snap.Transitions)

	if !s.collapsed {
		s.start()
	} else {
		s.stopTimers()
	}
	return s, nil
}
