package orchestrator

// #region imports
import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/crypto"
	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/entanglement"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
	"github.com/danielpatrickdp/quantum-shield/internal/telemetry"
)

// #endregion

// #region protect

// ProtectData encrypts data into a new superposition of replicas and registers
// it. Every failure wraps errs.ErrDataProtectionFailed. A superposition that
// was built before a later step failed is destroyed, not left registered.
func (c *Client) ProtectData(ctx context.Context, data any, policy Policy, actx logging.AuditContext) (res ProtectResult, err error) {
	start := c.now()
	ctx, span := telemetry.StartSpan(ctx, c.tracer, "qshield.ProtectData", attribute.Int("policy.state_count", policy.StateCount))
	defer func() {
		outcome := telemetry.OutcomeSuccess
		if err != nil {
			outcome = telemetry.OutcomeError
		}
		c.metrics.ObserveOperation("protect", outcome, c.now().Sub(start))
		telemetry.EndSpan(span, err)
	}()

	id := uuid.NewString()
	if actx.CorrelationID == "" {
		actx.CorrelationID = uuid.NewString()
	}
	timerID := "protect:" + id
	c.auditor.StartPerformanceTimer(timerID)

	res, err = c.protect(ctx, id, data, policy, actx)
	perf, _ := c.auditor.EndPerformanceTimer(timerID)
	if err != nil {
		c.auditor.Log(ctx, logging.LevelError, logging.CategorySecurity, "data_protection_failed",
			"protect failed", map[string]any{"item_id": id, "error": err.Error()}, actx)
		return ProtectResult{}, fmt.Errorf("%w: %w", errs.ErrDataProtectionFailed, err)
	}
	res.Performance = perf

	c.audit(ctx, logging.AuditEvent{
		Level:    logging.LevelInfo,
		Category: logging.CategorySecurity,
		Event:    "data_protected",
		Message:  "payload protected",
		Data: map[string]any{
			"item_id":     id,
			"state_count": res.StateCount,
			"proof":       res.Proof != nil,
			"entangled":   len(res.Entangled),
			"duration_ms": perf.Duration.Milliseconds(),
		},
		Context: actx,
	})
	span.SetAttributes(attribute.String("item.id", id), attribute.Int("item.states", res.StateCount))
	return res, nil
}

func (c *Client) protect(ctx context.Context, id string, data any, policy Policy, actx logging.AuditContext) (ProtectResult, error) {
	if err := c.checkOpen(); err != nil {
		return ProtectResult{}, err
	}
	if err := config.Validate(policy); err != nil {
		return ProtectResult{}, err
	}
	cfg := policy.apply(c.cfg.Superposition)
	if cfg.StateCount <= 0 {
		return ProtectResult{}, errs.InvalidArgument("state count must be positive")
	}

	body, err := json.Marshal(data)
	if err != nil {
		return ProtectResult{}, errs.InvalidArgument("payload is not serializable: %v", err)
	}
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	keyID, err := c.ensureKey(policy.KeyID)
	if err != nil {
		return ProtectResult{}, err
	}
	states, err := c.sealReplicas(ctx, id, body, hash, keyID, cfg)
	if err != nil {
		return ProtectResult{}, err
	}

	it := &item{id: id, keyID: keyID, correlation: actx.CorrelationID}
	sp, err := superposition.New(states, cfg,
		superposition.WithID(id),
		superposition.WithClock(c.now),
		superposition.WithLogger(c.logger.With("item_id", id)),
	)
	if err != nil {
		return ProtectResult{}, err
	}
	it.sp = sp

	if policy.requireProof() {
		proof, err := c.proofs.GenerateProof(ctx, map[string]any{
			"item_id":      id,
			"content_hash": hash,
			"state_count":  len(states),
		}, proofCircuit)
		if err != nil {
			sp.Destroy()
			return ProtectResult{}, fmt.Errorf("generate proof: %w", err)
		}
		it.proof = &proof
	}

	if err := c.persist(ctx, it, true); err != nil {
		c.rollback(ctx, it)
		return ProtectResult{}, err
	}

	if cfg.EnableEntanglement {
		it.ent = entanglement.New(id)
	}
	if err := c.register(it); err != nil {
		c.rollback(ctx, it)
		return ProtectResult{}, err
	}
	entangled := c.entangle(it, policy)

	return ProtectResult{
		ID:            id,
		StateCount:    len(states),
		Proof:         it.proof,
		Entangled:     entangled,
		CorrelationID: actx.CorrelationID,
	}, nil
}

// ensureKey resolves keyID, generating it on first use. Empty means the default key.
func (c *Client) ensureKey(keyID string) (string, error) {
	if keyID == "" {
		return "", nil
	}
	_, err := c.keys.GetKey(keyID)
	if errors.Is(err, errs.ErrKeyNotFound) {
		_, err = c.keys.GenerateKeyPair(keyID)
	}
	return keyID, err
}

// sealReplicas encrypts body once per replica in parallel. Index 0 starts active.
func (c *Client) sealReplicas(ctx context.Context, id string, body []byte, hash, keyID string, cfg superposition.Config) ([]state.QuantumState, error) {
	now := c.now().UTC()
	states := make([]state.QuantumState, cfg.StateCount)
	g, gctx := errgroup.WithContext(ctx)
	for i := range states {
		i := i
		g.Go(func() error {
			ct, err := defense.Execute(gctx, c.breakers.Get("encrypt"), func(ctx context.Context) ([]byte, error) {
				return c.encryptor.Encrypt(ctx, body, keyID)
			})
			if err != nil {
				return fmt.Errorf("encrypt replica %d: %w", i, err)
			}
			nonce, err := crypto.Nonce(ct)
			if err != nil {
				return err
			}
			mac, err := c.encryptor.MAC(id, ct, nonce, keyID)
			if err != nil {
				return fmt.Errorf("mac replica %d: %w", i, err)
			}
			states[i] = state.QuantumState{
				ID:         uuid.NewString(),
				Index:      i,
				DataID:     id,
				Ciphertext: ct,
				Nonce:      nonce,
				MAC:        mac,
				CreatedAt:  now,
				UpdatedAt:  now,
				Active:     i == 0,
				Type:       state.Healthy,
				Metadata: state.StateMetadata{
					OriginalHash:  hash,
					Size:          len(body),
					CoherenceTime: cfg.CoherenceTime,
					MaxOperations: int(cfg.MaxObservations),
					KeyID:         keyID,
				},
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return states, nil
}

// register adds it to the item map and starts relaying its events.
func (c *Client) register(it *item) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client: %w", errs.ErrNotInitialized)
	}
	if _, dup := c.items[it.id]; dup {
		c.mu.Unlock()
		return errs.InvalidArgument("item %s is already registered", it.id)
	}
	c.items[it.id] = it
	n := len(c.items)
	c.mu.Unlock()

	it.unsubscribe = it.sp.Subscribe(func(ev superposition.Event) { c.onEvent(it, ev) })
	c.metrics.SetProtectedItems(n)
	return nil
}

// #endregion

// #region persistence

// persist writes the snapshot and, when withStates is set, every replica
// through the storage manager. A nil store is a no-op.
func (c *Client) persist(ctx context.Context, it *item, withStates bool) error {
	if c.store == nil {
		return nil
	}
	if withStates {
		for _, st := range it.sp.States() {
			if _, err := c.store.SaveState(ctx, st); err != nil {
				return fmt.Errorf("save state %s: %w", st.ID, err)
			}
		}
	}
	if _, err := c.store.SaveSnapshot(ctx, it.sp.ExportState()); err != nil {
		return fmt.Errorf("save snapshot %s: %w", it.id, err)
	}
	return nil
}

// rollback undoes a protect that failed after its superposition was built:
// stored records are deleted and the timers stop.
func (c *Client) rollback(ctx context.Context, it *item) {
	states := it.sp.States()
	it.sp.Destroy()
	if err := c.purge(ctx, it.id, states); err != nil {
		c.logger.Warn("rollback left stored records", "item_id", it.id, "error", err)
	}
}

// persistQuietly is persist for paths where storage failure must not change
// the caller-visible outcome.
func (c *Client) persistQuietly(ctx context.Context, it *item) {
	if err := c.persist(ctx, it, false); err != nil {
		c.logger.Warn("write-through failed", "item_id", it.id, "error", err)
	}
}

// #endregion

// #region audit

// audit writes ev and logs, rather than returns, a sink failure.
func (c *Client) audit(ctx context.Context, ev logging.AuditEvent) {
	if _, err := c.auditor.Audit(ctx, ev); err != nil {
		c.logger.Error("audit write failed", "event", ev.Event, "error", err)
	}
}

// #endregion
