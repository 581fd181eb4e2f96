package defense

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeverityThresholds(t *testing.T) {
	assert.Equal(t, SeverityLight, SeverityFor(0))
	assert.Equal(t, SeverityLight, SeverityFor(0.29))
	assert.Equal(t, SeverityProgressive, SeverityFor(0.3))
	assert.Equal(t, SeverityProgressive, SeverityFor(0.69))
	assert.Equal(t, SeverityHeavy, SeverityFor(0.7))
	assert.Equal(t, SeverityHeavy, SeverityFor(1))
}

func TestLightPoisonJittersWithinHalfPercent(t *testing.T) {
	p := NewPoisoner(7)
	in := map[string]any{"balance": 100, "name": "alice", "nested": map[string]any{"limit": 2000.0}}

	out := p.Light(in)
	balance, ok := out["balance"].(float64)
	require.True(t, ok)
	assert.InDelta(t, 100, balance, 0.5)
	assert.Equal(t, "alice", out["name"], "light poison leaves strings alone")
	assert.InDelta(t, 2000, out["nested"].(map[string]any)["limit"].(float64), 10)
	assert.Contains(t, out, "_warning")
	assert.Equal(t, 100, in["balance"], "input must not be mutated")
}

func TestProgressivePoison(t *testing.T) {
	p := NewPoisoner(7)
	out := p.Progressive(map[string]any{"balance": 100.0, "account": "checking-account"}, 0.5)

	assert.InDelta(t, 100, out["balance"].(float64), 20)
	acct := out["account"].(string)
	assert.Len(t, acct, len("checking-account"))
	assert.Equal(t, byte('c'), acct[0])
	assert.Equal(t, byte('t'), acct[len(acct)-1])
	assert.ElementsMatch(t, []rune("checking-account"), []rune(acct))
	assert.Equal(t, 0.5, out["_poison_level"])
	assert.Contains(t, out, "_warning")
}

func TestHeavyPoisonLeaksNothing(t *testing.T) {
	p := NewPoisoner(1)
	p.now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }

	out, sev := p.Apply(map[string]any{"ssn": "123-45-6789"}, "req-1", 0.9)
	assert.Equal(t, SeverityHeavy, sev)
	assert.NotContains(t, out, "ssn")
	assert.Equal(t, "ACCESS_DENIED", out["error"])
	assert.Equal(t, "req-1", out["request_id"])
	for _, v := range out {
		assert.NotEqual(t, "123-45-6789", v)
	}
}

func TestPoisonWrapsScalars(t *testing.T) {
	p := NewPoisoner(3)
	out := p.Light(42)
	assert.InDelta(t, 42, out["value"].(float64), 0.21)
}

func TestPoisonIsReproducibleForSeed(t *testing.T) {
	in := map[string]any{"a": 1.0, "b": 2.0, "s": "scramble-me"}
	a := NewPoisoner(99).Progressive(in, 0.4)
	b := NewPoisoner(99).Progressive(in, 0.4)
	assert.Equal(t, a, b)
}
