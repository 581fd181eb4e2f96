package orchestrator

// #region imports
import (
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/crypto"
	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/gate"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #endregion

// #region constants

const (
	// trustFloor is the score below which a request is treated as unauthorized.
	trustFloor = 0.5

	// rotateEvery rotates the active state after every Nth read of it.
	rotateEvery = 10

	// maxReplicaRetries bounds the fallback reads after a damaged replica.
	maxReplicaRetries = 2

	defaultEntanglementStrength = 0.5

	// collapseStrength is the link strength at which a collapse propagates as a collapse.
	collapseStrength = 0.9

	proofCircuit = "qshield-integrity-v1"
)

// #endregion

// #region policy

// Policy tunes one ProtectData call. Zero fields fall back to the client config.
type Policy struct {
	StateCount           int                      `json:"state_count" validate:"gte=0,lte=64"`
	RequireZKProof       *bool                    `json:"require_zk_proof,omitempty"`
	EntangleWith         []string                 `json:"entangle_with,omitempty" validate:"dive,required"`
	EntanglementStrength float64                  `json:"entanglement_strength" validate:"gte=0,lte=1"`
	EntanglementType     state.LinkType           `json:"entanglement_type,omitempty" validate:"omitempty,oneof=symmetric asymmetric"`
	KeyID                string                   `json:"key_id,omitempty"`
	CoherenceTime        time.Duration            `json:"coherence_time" validate:"gte=0"`
	MaxObservations      int64                    `json:"max_observations" validate:"gte=0"`
	DegradationThreshold float64                  `json:"degradation_threshold" validate:"gte=0,lte=1"`
	AutoRotationInterval time.Duration            `json:"auto_rotation_interval" validate:"gte=0"`
	AuditLevel           superposition.AuditLevel `json:"audit_level,omitempty" validate:"omitempty,oneof=minimal standard verbose"`
}

// requireProof defaults to true.
func (p Policy) requireProof() bool {
	return p.RequireZKProof == nil || *p.RequireZKProof
}

// apply overlays the non-zero policy fields on base.
func (p Policy) apply(base superposition.Config) superposition.Config {
	if p.StateCount > 0 {
		base.StateCount = p.StateCount
	}
	if p.CoherenceTime > 0 {
		base.CoherenceTime = p.CoherenceTime
	}
	if p.MaxObservations > 0 {
		base.MaxObservations = p.MaxObservations
	}
	if p.DegradationThreshold > 0 {
		base.DegradationThreshold = p.DegradationThreshold
	}
	if p.AutoRotationInterval > 0 {
		base.AutoRotationInterval = p.AutoRotationInterval
	}
	if p.AuditLevel != "" {
		base.AuditLevel = p.AuditLevel
	}
	return base
}

// #endregion

// #region results

// ProtectResult is returned by ProtectData.
type ProtectResult struct {
	ID            string                    `json:"id"`
	StateCount    int                       `json:"state_count"`
	Proof         *crypto.Proof             `json:"proof,omitempty"`
	Entangled     []string                  `json:"entangled,omitempty"`
	CorrelationID string                    `json:"correlation_id"`
	Performance   logging.PerformanceResult `json:"performance"`
}

// ObserveRequest is everything a caller presents to read an item.
type ObserveRequest struct {
	Credentials gate.Credentials
	Request     trust.RequestContext
	Environment string        // optional selector hint, used when trust is absent
	Proof       *crypto.Proof // optional, verified before data is released
}

// ObserveResult is the outcome of ObserveData. Unauthorized callers get
// Success=false, possibly with poisoned Data, never an error.
type ObserveResult struct {
	Success       bool              `json:"success"`
	Data          any               `json:"data,omitempty"`
	State         state.StateType   `json:"state"`
	StateID       string            `json:"state_id,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	TrustScore    float64           `json:"trust_score"`
	AccessCount   int64             `json:"access_count,omitempty"`
	Rotated       bool              `json:"rotated,omitempty"`
	Severity      defense.Severity  `json:"severity,omitempty"`
	Defense       *defense.Response `json:"defense,omitempty"`
	CorrelationID string            `json:"correlation_id"`
	Duration      time.Duration     `json:"duration"`
}

// #endregion

// #region events

// Event is a superposition event relayed with the item's correlation id.
type Event struct {
	superposition.Event
	ItemID        string
	CorrelationID string
}

// Listener receives relayed events on the goroutine that caused them.
type Listener func(Event)

// #endregion
