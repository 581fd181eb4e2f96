package orchestrator

// #region imports
import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/gate"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/measurement"
	"github.com/danielpatrickdp/quantum-shield/internal/observer"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/telemetry"
	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #endregion

// #region observe

// ObserveData reads item id on behalf of req. Refused reads are results, not
// errors: the caller gets Success=false with poisoned data or a collapse
// notice. Errors wrap errs.ErrDataObservationFailed and are reserved for
// unknown ids and internal failures.
func (c *Client) ObserveData(ctx context.Context, id string, req ObserveRequest) (res ObserveResult, err error) {
	start := c.now()
	ctx, span := telemetry.StartSpan(ctx, c.tracer, "qshield.ObserveData", attribute.String("item.id", id))
	defer func() {
		outcome := telemetry.OutcomeSuccess
		switch {
		case err != nil:
			outcome = telemetry.OutcomeError
		case !res.Success:
			outcome = telemetry.OutcomeUnauthorized
		}
		res.Duration = c.now().Sub(start)
		c.metrics.ObserveOperation("observe", outcome, res.Duration)
		telemetry.EndSpan(span, err)
	}()

	if err := c.checkOpen(); err != nil {
		return ObserveResult{}, fmt.Errorf("%w: %w", errs.ErrDataObservationFailed, err)
	}
	it, ok := c.get(id)
	if !ok {
		return ObserveResult{}, fmt.Errorf("%w: %w", errs.ErrDataObservationFailed, errs.NotFound("item %s", id))
	}

	source := sourceKey(req.Request)
	actx := logging.AuditContext{
		UserID:        req.Credentials.UserID,
		CorrelationID: it.correlation,
		Source:        source,
	}
	if actx.UserID == "" {
		actx.UserID = req.Request.UserID
	}
	res = ObserveResult{CorrelationID: it.correlation}

	if it.sp.IsCollapsed() {
		res.State, res.Reason = state.Collapsed, "superposition collapsed"
		c.auditAccess(ctx, "collapsed_access", logging.LevelWarn, it, res, actx)
		return res, nil
	}
	if req.Request.Timestamp.IsZero() {
		req.Request.Timestamp = c.now()
	}
	if req.Request.UserID == "" {
		req.Request.UserID = req.Credentials.UserID
	}
	analysis, err := c.detector.Analyze(ctx, req.Request)
	if err != nil {
		c.logger.Error("trust analysis failed", "item_id", id, "error", err)
		return ObserveResult{}, fmt.Errorf("%w: trust analysis: %w", errs.ErrDataObservationFailed, err)
	}
	decision := c.gate.Evaluate(req.Credentials, analysis, source)
	res.TrustScore = analysis.TrustScore
	span.SetAttributes(attribute.Float64("trust.score", analysis.TrustScore), attribute.String("gate.action", string(decision.Action)))

	if !decision.Authorized || analysis.TrustScore < trustFloor || decision.Action == gate.ActionDeny {
		return c.refuse(ctx, it, req, analysis, decision, source, actx, res), nil
	}
	c.detector.Remember(req.Request.UserID, analysis.Fingerprint)
	res, err = c.read(ctx, it, req, analysis, res)
	if err != nil {
		c.auditor.Log(ctx, logging.LevelError, logging.CategoryAccess, "data_observation_failed",
			"observe failed", map[string]any{"item_id": id, "error": err.Error()}, actx)
		return ObserveResult{}, fmt.Errorf("%w: %w", errs.ErrDataObservationFailed, err)
	}
	c.auditAccess(ctx, "data_observed", logging.LevelInfo, it, res, actx)
	return res, nil
}

// #endregion

// #region authorized

// read selects a replica by trust, verifies and decrypts it and rotates the
// active pointer on every rotateEvery-th read of the selected state.
func (c *Client) read(ctx context.Context, it *item, req ObserveRequest, analysis trust.Analysis, res ObserveResult) (ObserveResult, error) {
	trustScore, risk := analysis.TrustScore, analysis.RiskLevel
	if _, ok := it.sp.SelectStateByContext(state.AccessContext{TrustScore: &trustScore, Environment: req.Environment, RiskLevel: &risk}); !ok {
		res.State, res.Reason = state.Collapsed, "superposition collapsed"
		return res, nil
	}
	st, ok := measurement.ReadState(it.sp)
	if !ok {
		res.State, res.Reason = state.Collapsed, "superposition collapsed"
		return res, nil
	}

	plaintext, st, err := c.openReplica(ctx, it, st)
	if err != nil {
		return res, err
	}

	if req.Proof != nil {
		valid, err := c.proofs.VerifyProof(ctx, req.Proof.Proof, req.Proof.PublicSignals, req.Proof.VerificationKey)
		if err != nil || !valid || !c.proofMatches(it, req.Proof.PublicSignals) {
			res.State, res.StateID, res.Reason = st.Type, st.ID, "integrity proof rejected"
			return res, nil
		}
	}

	var data any
	if err := json.Unmarshal(plaintext, &data); err != nil {
		return res, fmt.Errorf("%w: decode payload: %v", errs.ErrIntegrityViolation, err)
	}

	res.Success = true
	res.Data = data
	res.State = st.Type
	res.StateID = st.ID
	res.AccessCount = st.AccessCount
	if st.AccessCount > 0 && st.AccessCount%rotateEvery == 0 {
		_, res.Rotated = it.sp.RotateState()
		c.persistQuietly(ctx, it)
	}
	return res, nil
}

// openReplica checks the MAC and decrypts st through the decrypt breaker. When
// st fails verification, up to maxReplicaRetries other non-collapsed replicas
// are tried in order.
func (c *Client) openReplica(ctx context.Context, it *item, st state.QuantumState) ([]byte, state.QuantumState, error) {
	candidates := []state.QuantumState{st}
	for _, other := range it.sp.States() {
		if len(candidates) > maxReplicaRetries {
			break
		}
		if other.ID != st.ID && other.Type != state.Collapsed {
			candidates = append(candidates, other)
		}
	}

	var lastErr error
	for i, cand := range candidates {
		pt, err := c.decrypt(ctx, it, cand)
		if err == nil {
			if i > 0 {
				c.logger.Warn("served fallback replica", "item_id", it.id, "state_id", cand.ID, "attempt", i+1)
			}
			return pt, cand, nil
		}
		lastErr = err
		if !errors.Is(err, errs.ErrIntegrityViolation) {
			return nil, cand, err
		}
		c.logger.Warn("replica failed verification", "item_id", it.id, "state_id", cand.ID, "error", err)
	}
	return nil, st, lastErr
}

func (c *Client) decrypt(ctx context.Context, it *item, st state.QuantumState) ([]byte, error) {
	ok, err := c.encryptor.VerifyMAC(it.id, st.Ciphertext, st.Nonce, st.MAC, it.keyID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: mac mismatch on state %s", errs.ErrIntegrityViolation, st.ID)
	}
	return defense.Execute(ctx, c.breakers.Get("decrypt"), func(ctx context.Context) ([]byte, error) {
		return c.encryptor.Decrypt(ctx, st.Ciphertext, it.keyID)
	})
}

// proofMatches ties a caller proof to this item's own proof statement.
func (c *Client) proofMatches(it *item, signals []string) bool {
	return it.proof == nil || slices.Equal(signals, it.proof.PublicSignals)
}

// #endregion

// #region unauthorized

// refuse counts the attempt against the observer effect, then either collapses
// the item or poisons the active state and answers with poisoned data, and
// finally lets the responder act on the threat. A source over its rate limit
// still gets the same envelope; only the responder is skipped, unless the
// attempt collapsed the item.
func (c *Client) refuse(ctx context.Context, it *item, req ObserveRequest, analysis trust.Analysis, decision gate.GateDecision, source string, actx logging.AuditContext, res ObserveResult) ObserveResult {
	effect := c.observers.For(it.id)
	result := effect.OnUnauthorizedAccess(it.id, observer.AccessInfo{
		UserID:    actx.UserID,
		SourceIP:  req.Request.SourceIP,
		Timestamp: req.Request.Timestamp,
	})
	reason := decision.Reason
	if reason == "" {
		reason = fmt.Sprintf("trust %.2f below %.2f", analysis.TrustScore, trustFloor)
	}
	it.sp.LogAccess("unauthorized_access", reason, map[string]any{
		"user_id":     actx.UserID,
		"source":      source,
		"attempts":    result.Attempts,
		"trust_score": analysis.TrustScore,
		"transform":   string(result.Transformation),
	})

	level := math.Min(1, float64(result.Attempts)/float64(effect.Threshold()))
	if result.NewState == state.Collapsed {
		measurement.Collapse(it.sp, "Observer effect: "+result.Reason)
		c.metrics.Collapsed("observer_effect")
		res.State, res.Reason = state.Collapsed, "superposition collapsed"
		level = 1
	} else {
		res.State, res.Reason = state.Poisoned, "access denied"
		res.Data, res.Severity, res.StateID = c.poisonedView(ctx, it, level)
		c.metrics.Poisoned(string(res.Severity))
	}

	ta := defense.ThreatAssessment{
		ItemID:     it.id,
		Source:     source,
		UserID:     actx.UserID,
		RiskScore:  math.Max(analysis.RiskLevel, level),
		Indicators: indicators(analysis, decision),
	}
	ta.Level = defense.LevelFor(ta.RiskScore)
	throttled := c.responder.Throttled(source, c.now())
	var resp defense.Response
	if !throttled || res.State == state.Collapsed {
		resp = c.responder.Respond(ctx, ta)
		res.Defense = &resp
		for _, r := range resp.Results {
			c.metrics.DefenseAction(string(r.Action), r.Success)
		}
		if c.outcomes != nil {
			if err := c.outcomes.recordResponse(ctx, ta, resp); err != nil {
				c.logger.Warn("defense outcome not recorded", "item_id", it.id, "error", err)
			}
		}
	}

	c.persistQuietly(ctx, it)
	event := "unauthorized_access"
	if res.State == state.Collapsed {
		event = "superposition_collapsed"
	}
	c.audit(ctx, logging.AuditEvent{
		Level:    logging.LevelCritical,
		Category: logging.CategorySecurity,
		Event:    event,
		Message:  reason,
		Data: map[string]any{
			"item_id":     it.id,
			"attempts":    result.Attempts,
			"threshold":   effect.Threshold(),
			"trust_score": analysis.TrustScore,
			"state":       string(res.State),
			"strategy":    string(resp.Strategy),
			"escalated":   resp.Escalated,
			"throttled":   throttled,
			"token":       req.Credentials.Token,
		},
		Context: actx,
	})
	return res
}

// poisonedView marks the active state poisoned and returns a poisoned copy of
// its payload. A replica that cannot be opened yields the heavy denial envelope.
func (c *Client) poisonedView(ctx context.Context, it *item, level float64) (any, defense.Severity, string) {
	activeID := it.sp.ActiveStateID()
	st, ok := it.sp.State(activeID)
	if !ok {
		return c.poisoner.Heavy(it.id), defense.SeverityHeavy, ""
	}
	it.sp.PoisonState(activeID, level)

	var payload any
	pt, err := c.decrypt(ctx, it, st)
	if err == nil {
		err = json.Unmarshal(pt, &payload)
	}
	if err != nil {
		c.logger.Debug("poisoning without payload", "item_id", it.id, "error", err)
		return c.poisoner.Heavy(it.id), defense.SeverityHeavy, activeID
	}
	data, sev := c.poisoner.Apply(payload, it.id, level)
	return data, sev, activeID
}

func indicators(analysis trust.Analysis, decision gate.GateDecision) []string {
	out := append([]string(nil), analysis.Anomalies...)
	for _, v := range decision.VetoSignals {
		out = append(out, string(v.Type))
	}
	return out
}

// #endregion

// #region defense-actions

func (c *Client) poisonAction(_ context.Context, ta defense.ThreatAssessment) (string, error) {
	it, ok := c.get(ta.ItemID)
	if !ok {
		return "", errs.NotFound("item %s", ta.ItemID)
	}
	activeID := it.sp.ActiveStateID()
	st, ok := it.sp.State(activeID)
	if !ok {
		return "", fmt.Errorf("item %s: %w", ta.ItemID, errs.ErrCollapsed)
	}
	if st.Type == state.Poisoned {
		return "already poisoned " + activeID, nil
	}
	it.sp.PoisonState(activeID, ta.RiskScore)
	return "poisoned " + activeID, nil
}

func (c *Client) blockSourceAction(_ context.Context, ta defense.ThreatAssessment) (string, error) {
	if ta.Source == "" {
		return "", errs.InvalidArgument("no source to block")
	}
	c.gate.Block(ta.Source, fmt.Sprintf("%s threat against %s", ta.Level, ta.ItemID))
	return "blocked " + ta.Source, nil
}

func (c *Client) collapseAction(_ context.Context, ta defense.ThreatAssessment) (string, error) {
	it, ok := c.get(ta.ItemID)
	if !ok {
		return "", errs.NotFound("item %s", ta.ItemID)
	}
	if !it.sp.CollapseAll(fmt.Sprintf("Defense response: %s threat", ta.Level)) {
		return "already collapsed", nil
	}
	c.metrics.Collapsed("defense")
	return "collapsed " + ta.ItemID, nil
}

// #endregion

// #region helpers

// sourceKey names the requester the way the responder keys its limiters.
func sourceKey(rc trust.RequestContext) string {
	if rc.SourceIP != "" {
		return rc.SourceIP
	}
	if rc.UserID != "" {
		return "user:" + rc.UserID
	}
	return "anonymous"
}

func (c *Client) auditAccess(ctx context.Context, event string, level logging.Level, it *item, res ObserveResult, actx logging.AuditContext) {
	c.audit(ctx, logging.AuditEvent{
		Level:    level,
		Category: logging.CategoryAccess,
		Event:    event,
		Message:  res.Reason,
		Data: map[string]any{
			"item_id":      it.id,
			"state_id":     res.StateID,
			"state":        string(res.State),
			"success":      res.Success,
			"trust_score":  res.TrustScore,
			"access_count": res.AccessCount,
			"rotated":      res.Rotated,
		},
		Context: actx,
	})
}

// #endregion
