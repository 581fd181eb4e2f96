package defense

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

func TestHoneypotValidation(t *testing.T) {
	h := NewHoneypot()
	assert.ErrorIs(t, h.AddTrap(Trap{Type: TrapData}), errs.ErrInvalidArgument)
	assert.ErrorIs(t, h.AddTrap(Trap{Name: "x", Type: "wormhole"}), errs.ErrInvalidArgument)
}

func TestHoneypotSeverities(t *testing.T) {
	h := NewHoneypot()
	require.NoError(t, h.AddTrap(Trap{Name: "payroll", Type: TrapData, ResourceIDs: []string{"decoy-1"}, Metadata: map[string]string{"sensitivity": "high"}}))
	require.NoError(t, h.AddTrap(Trap{Name: "archive", Type: TrapData, ResourceIDs: []string{"decoy-2"}}))
	require.NoError(t, h.AddTrap(Trap{Name: "enum", Type: TrapBehavioral, Patterns: []string{"burst"}}))
	require.NoError(t, h.AddTrap(Trap{Name: "tor", Type: TrapNetwork, Sources: []string{"198.51.100.0/24", "203.0.113.9"}}))

	alerts := h.Evaluate(Attempt{ResourceID: "decoy-1"})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertCritical, alerts[0].Severity)

	alerts = h.Evaluate(Attempt{ResourceID: "decoy-2"})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertHigh, alerts[0].Severity)

	alerts = h.Evaluate(Attempt{Patterns: []string{"Request Burst"}})
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertMedium, alerts[0].Severity)

	alerts = h.Evaluate(Attempt{Source: "198.51.100.77", ResourceID: "decoy-1"})
	require.Len(t, alerts, 2)
	assert.Equal(t, "payroll", alerts[0].TrapName)
	assert.Equal(t, "tor", alerts[1].TrapName)

	assert.Len(t, h.Evaluate(Attempt{Source: "203.0.113.9"}), 1)
	assert.Empty(t, h.Evaluate(Attempt{Source: "192.0.2.1", ResourceID: "real"}))
	assert.Len(t, h.Alerts(), 6)
	assert.True(t, h.IsTrap("decoy-2"))
	assert.False(t, h.IsTrap("real"))

	assert.True(t, h.RemoveTrap("tor"))
	assert.Empty(t, h.Evaluate(Attempt{Source: "203.0.113.9"}))
}
