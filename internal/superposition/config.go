package superposition

import (
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

// #region constants

const (
	// MaxAuditLogs caps the audit ring buffer.
	MaxAuditLogs = 10000
	// MaxTransitions caps the transition ring buffer.
	MaxTransitions = 1000
	// DefaultDecoherenceFactor is the step ApplyDecoherence uses when called with zero.
	DefaultDecoherenceFactor = 0.1
	// DefaultPoisonLevel is the step PoisonState callers use when they have no better value.
	DefaultPoisonLevel = 0.5

	lowDegradation = 0.5
)

// #endregion constants

// #region audit-level

// AuditLevel filters which events reach the audit ring buffer.
type AuditLevel string

const (
	AuditMinimal  AuditLevel = "minimal"  // collapse, poison, degrade, unauthorized access
	AuditStandard AuditLevel = "standard" // + rotation, selection, state set changes
	AuditVerbose  AuditLevel = "verbose"  // + every read
)

func (l AuditLevel) rank() int {
	switch l {
	case AuditMinimal:
		return 0
	case AuditVerbose:
		return 2
	default:
		return 1
	}
}

// #endregion audit-level

// #region config

// Config holds per-superposition tuning.
type Config struct {
	StateCount             int           `json:"state_count" yaml:"state_count" validate:"gte=1,lte=64"`
	CoherenceTime          time.Duration `json:"coherence_time" yaml:"coherence_time" validate:"gte=0"`
	MaxObservations        int64         `json:"max_observations" yaml:"max_observations" validate:"gte=0"`
	DegradationThreshold   float64       `json:"degradation_threshold" yaml:"degradation_threshold" validate:"gt=0,lte=1"`
	AutoRotationInterval   time.Duration `json:"auto_rotation_interval" yaml:"auto_rotation_interval" validate:"gte=0"`
	CoherenceCheckInterval time.Duration `json:"coherence_check_interval" yaml:"coherence_check_interval" validate:"gte=0"`
	EnableEntanglement     bool          `json:"enable_entanglement" yaml:"enable_entanglement"`
	AuditLevel             AuditLevel    `json:"audit_level" yaml:"audit_level" validate:"omitempty,oneof=minimal standard verbose"`
	CompressionEnabled     bool          `json:"compression_enabled" yaml:"compression_enabled"`
}

// DefaultConfig returns the settings used when a caller supplies none.
func DefaultConfig() Config {
	return Config{
		StateCount:             3,
		CoherenceTime:          time.Minute,
		MaxObservations:        100,
		DegradationThreshold:   0.8,
		AutoRotationInterval:   30 * time.Second,
		CoherenceCheckInterval: 10 * time.Second,
		EnableEntanglement:     true,
		AuditLevel:             AuditStandard,
		CompressionEnabled:     true,
	}
}

// normalize fills zero values from DefaultConfig and rejects negative values.
// A zero AutoRotationInterval disables auto-rotation.
func (c Config) normalize() (Config, error) {
	d := DefaultConfig()
	if c.StateCount == 0 {
		c.StateCount = d.StateCount
	}
	if c.CoherenceTime == 0 {
		c.CoherenceTime = d.CoherenceTime
	}
	if c.DegradationThreshold == 0 {
		c.DegradationThreshold = d.DegradationThreshold
	}
	if c.CoherenceCheckInterval == 0 {
		c.CoherenceCheckInterval = d.CoherenceCheckInterval
	}
	if c.AuditLevel == "" {
		c.AuditLevel = d.AuditLevel
	}
	if c.StateCount < 0 || c.CoherenceTime < 0 || c.MaxObservations < 0 {
		return c, errs.InvalidArgument("negative superposition config value")
	}
	if c.DegradationThreshold < 0 || c.DegradationThreshold > 1 {
		return c, errs.InvalidArgument("degradation threshold %.3f outside (0,1]", c.DegradationThreshold)
	}
	if c.AutoRotationInterval < 0 || c.CoherenceCheckInterval < 0 {
		return c, errs.InvalidArgument("negative timer interval")
	}
	return c, nil
}

// #endregion config
