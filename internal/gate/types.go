package gate

// #region veto-type
// VetoType enumerates hard veto categories.
type VetoType string

const (
	VetoMissingUser   VetoType = "missing_user"
	VetoWeakToken     VetoType = "weak_token"
	VetoLowTrust      VetoType = "low_trust"
	VetoBlockedSource VetoType = "blocked_source"
)

// #endregion veto-type

// #region veto-signal
// VetoSignal represents a detected hard veto condition.
type VetoSignal struct {
	Type   VetoType
	Reason string
}

// #endregion veto-signal

// #region credentials
// Credentials are the caller-supplied identity. The check is structural only.
type Credentials struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// #endregion credentials

// #region gate-config
// GateConfig holds thresholds for gate decisions.
type GateConfig struct {
	MinTokenLength int     // token must be strictly longer than this
	TrustFloor     float64 // trust below this is a hard veto
}

// DefaultGateConfig returns the structural placeholder check: token longer than 10, trust >= 0.5.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinTokenLength: 10,
		TrustFloor:     0.5,
	}
}

// #endregion gate-config

// #region gate-decision
// Action is the outcome of a gate evaluation.
type Action string

const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// GateDecision is the output of the gate evaluation.
type GateDecision struct {
	Action      Action
	Reason      string
	Vetoed      bool
	Authorized  bool         // credentials passed the structural check
	VetoSignals []VetoSignal // non-empty if vetoed
	SoftScore   float64      // 0-1 composite of soft signals (for logging)
}

// #endregion gate-decision
