package state

import (
	"time"
)

// #region state-type

// StateType classifies a replica's health.
type StateType string

const (
	Healthy   StateType = "healthy"
	Poisoned  StateType = "poisoned"
	Degraded  StateType = "degraded"
	Collapsed StateType = "collapsed"
)

// AllStateTypes lists the four buckets in a stable order.
var AllStateTypes = []StateType{Healthy, Poisoned, Degraded, Collapsed}

// Valid reports whether t is one of the four known types.
func (t StateType) Valid() bool {
	switch t {
	case Healthy, Poisoned, Degraded, Collapsed:
		return true
	}
	return false
}

// #endregion state-type

// #region entanglement-link

// LinkType distinguishes symmetric and asymmetric entanglement.
type LinkType string

const (
	Symmetric  LinkType = "symmetric"
	Asymmetric LinkType = "asymmetric"
)

// EntanglementLink is a back-reference from one logical item to another.
type EntanglementLink struct {
	TargetID  string    `json:"target_id"`
	Strength  float64   `json:"strength"`
	Type      LinkType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// #endregion entanglement-link

// #region metadata

// StateMetadata carries per-replica bookkeeping.
type StateMetadata struct {
	OriginalHash  string        `json:"original_hash"`
	Size          int           `json:"size"`
	CoherenceTime time.Duration `json:"coherence_time"`
	NoiseLevel    float64       `json:"noise_level"`
	Operations    int           `json:"operations"`
	MaxOperations int           `json:"max_operations"`
	KeyID         string        `json:"key_id,omitempty"`
}

// #endregion metadata

// #region quantum-state

// QuantumState is one encrypted replica of a protected payload.
type QuantumState struct {
	ID     string `json:"id"`
	Index  int    `json:"index"`
	DataID string `json:"data_id"`

	Ciphertext []byte `json:"ciphertext"`
	Nonce      []byte `json:"nonce"`
	MAC        []byte `json:"mac"`

	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastAccessed *time.Time `json:"last_accessed,omitempty"`
	Active       bool       `json:"active"`

	Type             StateType `json:"state_type"`
	AccessCount      int64     `json:"access_count"`
	DegradationLevel float64   `json:"degradation_level"`
	PoisonLevel      float64   `json:"poison_level"`

	Entanglements []EntanglementLink `json:"entanglements,omitempty"`
	Metadata      StateMetadata      `json:"metadata"`
}

// Clone returns a deep copy that shares no memory with q.
func (q QuantumState) Clone() QuantumState {
	out := q
	out.Ciphertext = cloneBytes(q.Ciphertext)
	out.Nonce = cloneBytes(q.Nonce)
	out.MAC = cloneBytes(q.MAC)
	if q.LastAccessed != nil {
		t := *q.LastAccessed
		out.LastAccessed = &t
	}
	if q.Entanglements != nil {
		out.Entanglements = make([]EntanglementLink, len(q.Entanglements))
		copy(out.Entanglements, q.Entanglements)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// #endregion quantum-state

// #region access-context

// AccessContext drives replica selection. A nil pointer means "not provided".
type AccessContext struct {
	TrustScore  *float64 `json:"trust_score,omitempty"`
	Environment string   `json:"environment,omitempty"`
	RiskLevel   *float64 `json:"risk_level,omitempty"`
}

// WithTrust returns an AccessContext carrying only a trust score.
func WithTrust(score float64) AccessContext {
	return AccessContext{TrustScore: &score}
}

// WithRisk returns an AccessContext carrying only a risk level.
func WithRisk(risk float64) AccessContext {
	return AccessContext{RiskLevel: &risk}
}

// #endregion access-context
