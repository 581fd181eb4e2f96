package defense

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actions(results []ActionResult) []ActionType {
	out := make([]ActionType, len(results))
	for i, r := range results {
		out[i] = r.Action
	}
	return out
}

func TestSelectStrategyThresholds(t *testing.T) {
	assert.Equal(t, StrategyLight, SelectStrategy(0.39))
	assert.Equal(t, StrategyModerate, SelectStrategy(0.4))
	assert.Equal(t, StrategyHeavy, SelectStrategy(0.7))
	assert.Equal(t, StrategyEmergency, SelectStrategy(0.9))
}

func TestRespondLight(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil, nil)
	resp := r.Respond(context.Background(), ThreatAssessment{ItemID: "i", Source: "10.0.0.1", RiskScore: 0.2})

	assert.Equal(t, StrategyLight, resp.Strategy)
	assert.False(t, resp.Escalated)
	assert.Zero(t, resp.Failed)
	assert.Equal(t, []ActionType{ActionLog, ActionMonitor}, actions(resp.Results))
	assert.True(t, r.Watched("10.0.0.1"))
}

func TestRespondContinuesPastFailures(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil, nil)
	r.Handle(ActionPoison, func(context.Context, ThreatAssessment) (string, error) {
		return "", errors.New("poison failed")
	})
	resp := r.Respond(context.Background(), ThreatAssessment{ItemID: "i", Source: "10.0.0.2", RiskScore: 0.5})

	assert.Equal(t, StrategyModerate, resp.Strategy)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 4)
	assert.False(t, resp.Results[2].Success)
	assert.True(t, resp.Results[3].Success, "rate_limit still runs after poison failed")
	assert.False(t, resp.Escalated)
}

func TestRespondEscalatesOnFailures(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil, nil)
	var collapsed bool
	r.Handle(ActionBlockSource, func(context.Context, ThreatAssessment) (string, error) { return "blocked", nil })
	r.Handle(ActionCollapse, func(context.Context, ThreatAssessment) (string, error) {
		collapsed = true
		return "collapsed", nil
	})
	// heavy: poison (no handler) + honeypot (none configured) fail, plus a failing alert
	r.Handle(ActionAlert, func(context.Context, ThreatAssessment) (string, error) { return "", errors.New("pager down") })

	resp := r.Respond(context.Background(), ThreatAssessment{ItemID: "i", Source: "10.0.0.3", RiskScore: 0.8})
	assert.True(t, resp.Escalated)
	assert.Equal(t, StrategyEmergency, resp.Strategy)
	assert.True(t, collapsed)
	assert.Equal(t, []ActionType{
		ActionLog, ActionPoison, ActionRateLimit, ActionHoneypot, ActionAlert,
		ActionLog, ActionAlert, ActionBlockSource, ActionCollapse,
	}, actions(resp.Results))
}

func TestRespondEmergencyDoesNotEscalateTwice(t *testing.T) {
	r := NewResponder(DefaultResponderConfig(), nil, nil)
	resp := r.Respond(context.Background(), ThreatAssessment{ItemID: "i", RiskScore: 0.99})
	assert.Equal(t, StrategyEmergency, resp.Strategy)
	assert.False(t, resp.Escalated)
	assert.Len(t, resp.Results, 4)
	assert.Equal(t, 2, resp.Failed, "block_source and collapse have no handlers")
	assert.Len(t, r.Alerts(), 1)
	assert.Equal(t, ThreatCritical, r.Alerts()[0].Level)
}

func TestRateLimitActionThrottles(t *testing.T) {
	cfg := DefaultResponderConfig()
	cfg.RateLimit = 0
	cfg.RateBurst = 1
	r := NewResponder(cfg, nil, nil)
	now := time.Now()

	assert.False(t, r.Throttled("10.0.0.4", now), "no limiter before rate_limit ran")
	r.Handle(ActionPoison, func(context.Context, ThreatAssessment) (string, error) { return "ok", nil })
	r.Respond(context.Background(), ThreatAssessment{ItemID: "i", Source: "10.0.0.4", RiskScore: 0.5})

	assert.False(t, r.Throttled("10.0.0.4", now), "burst of one passes")
	assert.True(t, r.Throttled("10.0.0.4", now))
}

func TestHoneypotActionEvaluatesTraps(t *testing.T) {
	h := NewHoneypot()
	require.NoError(t, h.AddTrap(Trap{Name: "decoy", Type: TrapData, ResourceIDs: []string{"bait"}}))
	r := NewResponder(DefaultResponderConfig(), h, nil)
	r.Handle(ActionPoison, func(context.Context, ThreatAssessment) (string, error) { return "ok", nil })

	resp := r.Respond(context.Background(), ThreatAssessment{ItemID: "bait", RiskScore: 0.75})
	assert.Equal(t, StrategyHeavy, resp.Strategy)
	assert.Zero(t, resp.Failed)
	assert.Len(t, h.Alerts(), 1)
}
