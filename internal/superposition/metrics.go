package superposition

import (
	"math"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// Metrics is a point-in-time health summary.
type Metrics struct {
	SuperpositionID      string                  `json:"superposition_id"`
	TotalStates          int                     `json:"total_states"`
	ByType               map[state.StateType]int `json:"by_type"`
	ActiveStateID        string                  `json:"active_state_id,omitempty"`
	IsCollapsed          bool                    `json:"is_collapsed"`
	ObservationCount     int64                   `json:"observation_count"`
	UnauthorizedAttempts int                     `json:"unauthorized_attempts"`
	AverageCoherenceTime time.Duration           `json:"average_coherence_time"`
	Entropy              float64                 `json:"entropy"`
	HealthScore          float64                 `json:"health_score"`
	AuditLogSize         int                     `json:"audit_log_size"`
	TransitionCount      int                     `json:"transition_count"`
	LastRotation         time.Time               `json:"last_rotation"`
}

// GetMetrics computes Metrics under the lock.
func (s *Superposition) GetMetrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Metrics{
		SuperpositionID:  s.id,
		TotalStates:      len(s.order),
		ByType:           make(map[state.StateType]int, len(state.AllStateTypes)),
		ActiveStateID:    s.activeID,
		IsCollapsed:      s.collapsed,
		ObservationCount: s.observations,
		AuditLogSize:     s.audit.len(),
		TransitionCount:  s.transitions.len(),
		LastRotation:     s.lastRotation,
	}
	for _, t := range state.AllStateTypes {
		m.ByType[t] = 0
	}

	var coherence time.Duration
	healthy := 0
	for _, id := range s.order {
		st := s.states[id]
		m.ByType[st.Type]++
		coherence += st.Metadata.CoherenceTime
		if st.Type == state.Healthy && st.DegradationLevel < lowDegradation {
			healthy++
		}
	}
	if m.TotalStates > 0 {
		m.AverageCoherenceTime = coherence / time.Duration(m.TotalStates)
		m.HealthScore = float64(healthy) / float64(m.TotalStates)
		m.Entropy = typeEntropy(m.ByType, m.TotalStates)
	}

	for _, e := range s.audit.items() {
		if strings.Contains(strings.ToLower(e.Event), "unauthorized") || strings.Contains(strings.ToLower(e.Message), "unauthorized") {
			m.UnauthorizedAttempts++
		}
	}
	return m
}

// typeEntropy is the Shannon entropy, in bits, of the state-type distribution.
func typeEntropy(byType map[state.StateType]int, total int) float64 {
	p := make([]float64, 0, len(state.AllStateTypes))
	for _, t := range state.AllStateTypes {
		p = append(p, float64(byType[t])/float64(total))
	}
	return stat.Entropy(p) / math.Ln2
}
