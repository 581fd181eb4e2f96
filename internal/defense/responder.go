package defense

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// #region types

// ThreatLevel is the qualitative rating of a threat.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// LevelFor maps a risk score onto a ThreatLevel with the strategy thresholds.
func LevelFor(risk float64) ThreatLevel {
	switch {
	case risk < 0.4:
		return ThreatLow
	case risk < 0.7:
		return ThreatMedium
	case risk < 0.9:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}

// ThreatAssessment is the input to Respond.
type ThreatAssessment struct {
	ItemID     string      `json:"item_id"`
	Source     string      `json:"source,omitempty"`
	UserID     string      `json:"user_id,omitempty"`
	Level      ThreatLevel `json:"level"`
	RiskScore  float64     `json:"risk_score"`
	Indicators []string    `json:"indicators,omitempty"`
}

// ActionType names a defensive action.
type ActionType string

const (
	ActionLog         ActionType = "log"
	ActionMonitor     ActionType = "monitor"
	ActionPoison      ActionType = "poison"
	ActionRateLimit   ActionType = "rate_limit"
	ActionHoneypot    ActionType = "honeypot"
	ActionAlert       ActionType = "alert"
	ActionBlockSource ActionType = "block_source"
	ActionCollapse    ActionType = "collapse"
)

// StrategyID names an escalation tier.
type StrategyID string

const (
	StrategyLight     StrategyID = "light_defense"
	StrategyModerate  StrategyID = "moderate_defense"
	StrategyHeavy     StrategyID = "heavy_defense"
	StrategyEmergency StrategyID = "emergency_defense"
)

// ActionHandler performs one action and returns a short detail string.
type ActionHandler func(ctx context.Context, ta ThreatAssessment) (string, error)

// ActionResult records one executed action.
type ActionResult struct {
	Action   ActionType    `json:"action"`
	Success  bool          `json:"success"`
	Detail   string        `json:"detail,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Response is what Respond did.
type Response struct {
	Strategy  StrategyID     `json:"strategy"`
	Escalated bool           `json:"escalated"`
	Results   []ActionResult `json:"results"`
	Failed    int            `json:"failed"`
}

// #endregion types

// #region strategy-definitions

// Strategies lists the actions each tier runs, in order.
var Strategies = map[StrategyID][]ActionType{
	StrategyLight:     {ActionLog, ActionMonitor},
	StrategyModerate:  {ActionLog, ActionMonitor, ActionPoison, ActionRateLimit},
	StrategyHeavy:     {ActionLog, ActionPoison, ActionRateLimit, ActionHoneypot, ActionAlert},
	StrategyEmergency: {ActionLog, ActionAlert, ActionBlockSource, ActionCollapse},
}

// SelectStrategy maps a risk score to a tier by the 0.4/0.7/0.9 thresholds.
func SelectStrategy(risk float64) StrategyID {
	switch LevelFor(risk) {
	case ThreatLow:
		return StrategyLight
	case ThreatMedium:
		return StrategyModerate
	case ThreatHigh:
		return StrategyHeavy
	default:
		return StrategyEmergency
	}
}

// #endregion strategy-definitions

// #region config

// ResponderConfig tunes escalation and the rate_limit action.
type ResponderConfig struct {
	EscalationThreshold int        `yaml:"escalation_threshold" validate:"gte=0"`
	EmergencyRisk       float64    `yaml:"emergency_risk" validate:"gte=0,lte=1"`
	RateLimit           rate.Limit `yaml:"rate_limit"`
	RateBurst           int        `yaml:"rate_burst" validate:"gte=1"`
}

// DefaultResponderConfig escalates after more than 2 failed actions or risk above 0.95.
func DefaultResponderConfig() ResponderConfig {
	return ResponderConfig{
		EscalationThreshold: 2,
		EmergencyRisk:       0.95,
		RateLimit:           rate.Every(time.Second),
		RateBurst:           1,
	}
}

// #endregion config

// #region responder

// Responder maps threat assessments to escalating strategies and runs their
// actions. Handlers for poison, block_source and collapse are supplied by the
// owner; log, monitor, rate_limit, honeypot and alert have built-in handlers.
type Responder struct {
	cfg      ResponderConfig
	logger   *slog.Logger
	honeypot *Honeypot

	mu       sync.Mutex
	handlers map[ActionType]ActionHandler
	watched  map[string]time.Time
	limiters map[string]*rate.Limiter
	alerts   []ThreatAssessment
	now      func() time.Time
}

// NewResponder wires the built-in handlers. honeypot may be nil.
func NewResponder(cfg ResponderConfig, honeypot *Honeypot, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Responder{
		cfg:      cfg,
		logger:   logger,
		honeypot: honeypot,
		handlers: make(map[ActionType]ActionHandler),
		watched:  make(map[string]time.Time),
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
	r.handlers[ActionLog] = r.logAction
	r.handlers[ActionMonitor] = r.monitorAction
	r.handlers[ActionRateLimit] = r.rateLimitAction
	r.handlers[ActionHoneypot] = r.honeypotAction
	r.handlers[ActionAlert] = r.alertAction
	return r
}

// Handle installs or replaces the handler for action.
func (r *Responder) Handle(action ActionType, h ActionHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[action] = h
}

// Respond picks a strategy, runs it and escalates to emergency when more than
// EscalationThreshold actions failed or the risk exceeds EmergencyRisk.
func (r *Responder) Respond(ctx context.Context, ta ThreatAssessment) Response {
	if ta.Level == "" {
		ta.Level = LevelFor(ta.RiskScore)
	}
	resp := Response{Strategy: SelectStrategy(ta.RiskScore)}
	resp.Results = r.run(ctx, resp.Strategy, ta)
	resp.Failed = countFailed(resp.Results)

	if resp.Strategy != StrategyEmergency && (resp.Failed > r.cfg.EscalationThreshold || ta.RiskScore > r.cfg.EmergencyRisk) {
		r.logger.Warn("escalating defense", "item_id", ta.ItemID, "from", resp.Strategy, "failed", resp.Failed, "risk", ta.RiskScore)
		resp.Escalated = true
		resp.Strategy = StrategyEmergency
		more := r.run(ctx, StrategyEmergency, ta)
		resp.Results = append(resp.Results, more...)
		resp.Failed += countFailed(more)
	}
	return resp
}

// run executes every action of id in order, continuing past failures.
func (r *Responder) run(ctx context.Context, id StrategyID, ta ThreatAssessment) []ActionResult {
	actions := Strategies[id]
	results := make([]ActionResult, 0, len(actions))
	for _, action := range actions {
		r.mu.Lock()
		h, ok := r.handlers[action]
		r.mu.Unlock()

		start := r.now()
		res := ActionResult{Action: action}
		switch {
		case !ok:
			res.Error = fmt.Sprintf("no handler for action %s", action)
		case ctx.Err() != nil:
			res.Error = ctx.Err().Error()
		default:
			detail, err := h(ctx, ta)
			res.Detail = detail
			if err != nil {
				res.Error = err.Error()
			} else {
				res.Success = true
			}
		}
		res.Duration = r.now().Sub(start)
		if !res.Success {
			r.logger.Debug("defense action failed", "action", action, "item_id", ta.ItemID, "error", res.Error)
		}
		results = append(results, res)
	}
	return results
}

func countFailed(results []ActionResult) int {
	n := 0
	for _, res := range results {
		if !res.Success {
			n++
		}
	}
	return n
}

// #endregion responder

// #region queries

// Throttled reports whether source is rate limited and over its budget at t.
// Each call consumes one token when a limiter exists.
func (r *Responder) Throttled(source string, t time.Time) bool {
	r.mu.Lock()
	lim, ok := r.limiters[source]
	r.mu.Unlock()
	return ok && !lim.AllowN(t, 1)
}

// Watched reports whether source has been put under monitoring.
func (r *Responder) Watched(source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.watched[source]
	return ok
}

// Alerts returns the assessments that triggered the alert action.
func (r *Responder) Alerts() []ThreatAssessment {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ThreatAssessment(nil), r.alerts...)
}

// #endregion queries

// #region builtin-actions

func (r *Responder) logAction(_ context.Context, ta ThreatAssessment) (string, error) {
	r.logger.Info("threat assessed", "item_id", ta.ItemID, "source", ta.Source, "level", string(ta.Level), "risk", ta.RiskScore, "indicators", ta.Indicators)
	return "logged", nil
}

func (r *Responder) monitorAction(_ context.Context, ta ThreatAssessment) (string, error) {
	key := watchKey(ta)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.watched[key] = r.now()
	return "monitoring " + key, nil
}

func (r *Responder) rateLimitAction(_ context.Context, ta ThreatAssessment) (string, error) {
	key := watchKey(ta)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.limiters[key]; !ok {
		r.limiters[key] = rate.NewLimiter(r.cfg.RateLimit, r.cfg.RateBurst)
	}
	return "rate limited " + key, nil
}

func (r *Responder) honeypotAction(_ context.Context, ta ThreatAssessment) (string, error) {
	if r.honeypot == nil {
		return "", fmt.Errorf("no honeypot configured")
	}
	alerts := r.honeypot.Evaluate(Attempt{
		ResourceID: ta.ItemID,
		Source:     ta.Source,
		UserID:     ta.UserID,
		Patterns:   ta.Indicators,
		Timestamp:  r.now(),
	})
	return fmt.Sprintf("%d honeypot alerts", len(alerts)), nil
}

func (r *Responder) alertAction(_ context.Context, ta ThreatAssessment) (string, error) {
	r.mu.Lock()
	r.alerts = append(r.alerts, ta)
	if over := len(r.alerts) - maxAlerts; over > 0 {
		r.alerts = r.alerts[over:]
	}
	r.mu.Unlock()
	r.logger.Warn("security alert", "item_id", ta.ItemID, "source", ta.Source, "level", string(ta.Level), "risk", ta.RiskScore)
	return "alert raised", nil
}

// watchKey prefers the network source, then the user.
func watchKey(ta ThreatAssessment) string {
	if ta.Source != "" {
		return ta.Source
	}
	if ta.UserID != "" {
		return "user:" + ta.UserID
	}
	return "item:" + ta.ItemID
}

// #endregion builtin-actions
