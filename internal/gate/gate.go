package gate

import (
	"fmt"
	"math"
	"sync"

	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #region gate
// Gate decides whether an access attempt may see real data.
type Gate struct {
	config GateConfig

	mu      sync.RWMutex
	blocked map[string]string
}

// NewGate creates a gate with the given configuration.
func NewGate(config GateConfig) *Gate {
	return &Gate{config: config, blocked: make(map[string]string)}
}

// Evaluate checks hard vetoes first, then scores soft signals.
func (g *Gate) Evaluate(creds Credentials, analysis trust.Analysis, source string) GateDecision {
	var vetoes []VetoSignal

	// --- Hard veto pass ---

	// 1. Missing identity
	if creds.UserID == "" {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoMissingUser,
			Reason: "user id is empty",
		})
	}

	// 2. Token too short
	if len(creds.Token) <= g.config.MinTokenLength {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoWeakToken,
			Reason: fmt.Sprintf("token length %d not above %d", len(creds.Token), g.config.MinTokenLength),
		})
	}
	authorized := len(vetoes) == 0

	// 3. Trust floor
	if analysis.TrustScore < g.config.TrustFloor {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoLowTrust,
			Reason: fmt.Sprintf("trust %.4f below floor %.4f", analysis.TrustScore, g.config.TrustFloor),
		})
	}

	// 4. Source blocked by an earlier defense response
	if reason, ok := g.blockedReason(source); ok {
		vetoes = append(vetoes, VetoSignal{
			Type:   VetoBlockedSource,
			Reason: fmt.Sprintf("source %s blocked: %s", source, reason),
		})
	}

	if len(vetoes) > 0 {
		return GateDecision{
			Action:      ActionDeny,
			Reason:      fmt.Sprintf("hard veto: %s", vetoes[0].Reason),
			Vetoed:      true,
			Authorized:  authorized,
			VetoSignals: vetoes,
			SoftScore:   0,
		}
	}

	// --- Soft scoring ---
	softScore := computeSoftScore(analysis)

	return GateDecision{
		Action:      ActionAllow,
		Reason:      fmt.Sprintf("passed gate: soft_score=%.4f", softScore),
		Vetoed:      false,
		Authorized:  true,
		VetoSignals: nil,
		SoftScore:   softScore,
	}
}

// #endregion gate

// #region blocklist
// Block denies every later request from source.
func (g *Gate) Block(source, reason string) {
	if source == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.blocked[source] = reason
}

// Unblock lifts a block.
func (g *Gate) Unblock(source string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.blocked, source)
}

func (g *Gate) blockedReason(source string) (string, bool) {
	if source == "" {
		return "", false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.blocked[source]
	return r, ok
}

// #endregion blocklist

// #region helpers
// computeSoftScore produces a 0-1 composite from trust margin and anomaly count.
// Logged but does not block.
func computeSoftScore(analysis trust.Analysis) float64 {
	var score float64

	// Trust component (weight 0.7)
	score += 0.7 * analysis.TrustScore

	// Anomaly component: fewer anomalies is cleaner (weight 0.3)
	n := float64(len(analysis.Anomalies))
	score += 0.3 * (1 - math.Min(1, n/4))

	return score
}

// #endregion helpers
