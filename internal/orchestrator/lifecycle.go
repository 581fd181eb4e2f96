package orchestrator

// #region imports
import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/quantum-shield/internal/entanglement"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

// #endregion

// #region metrics

// Metrics returns the health summary of item id.
func (c *Client) Metrics(id string) (superposition.Metrics, error) {
	it, ok := c.get(id)
	if !ok {
		return superposition.Metrics{}, errs.NotFound("item %s", id)
	}
	return it.sp.GetMetrics(), nil
}

// #endregion

// #region restore

// RestoreData reloads item id from its stored snapshot and registers it again.
// Concurrent restores of one id share a single load. Restoring a live item
// returns its current metrics.
func (c *Client) RestoreData(ctx context.Context, id string) (superposition.Metrics, error) {
	if c.store == nil {
		return superposition.Metrics{}, fmt.Errorf("restore %s: %w", id, errs.ErrNotInitialized)
	}
	if it, ok := c.get(id); ok {
		return it.sp.GetMetrics(), nil
	}
	v, err, _ := c.restores.Do(id, func() (any, error) {
		if it, ok := c.get(id); ok {
			return it.sp.GetMetrics(), nil
		}
		snap, err := c.store.LoadSnapshot(ctx, id)
		if err != nil {
			return nil, err
		}
		sp, err := superposition.FromSnapshot(snap,
			superposition.WithClock(c.now),
			superposition.WithLogger(c.logger.With("item_id", id)),
		)
		if err != nil {
			return nil, err
		}
		it := &item{id: id, sp: sp, correlation: uuid.NewString()}
		if states := sp.States(); len(states) > 0 {
			it.keyID = states[0].Metadata.KeyID
		}
		if snap.Config.EnableEntanglement {
			it.ent = entanglement.New(id)
		}
		if err := c.register(it); err != nil {
			sp.Destroy()
			return nil, err
		}
		c.audit(ctx, logging.AuditEvent{
			Level:    logging.LevelInfo,
			Category: logging.CategorySystem,
			Event:    "data_restored",
			Message:  "item restored from snapshot",
			Data:     map[string]any{"item_id": id, "states": len(snap.States), "collapsed": snap.IsCollapsed},
			Context:  logging.AuditContext{CorrelationID: it.correlation},
		})
		return sp.GetMetrics(), nil
	})
	if err != nil {
		return superposition.Metrics{}, fmt.Errorf("restore %s: %w", id, err)
	}
	return v.(superposition.Metrics), nil
}

// #endregion

// #region unload-destroy

// UnloadData writes item id through to storage and drops it from memory.
// RestoreData brings it back.
func (c *Client) UnloadData(ctx context.Context, id string) error {
	if c.store == nil {
		return fmt.Errorf("unload %s: %w", id, errs.ErrNotInitialized)
	}
	it, ok := c.get(id)
	if !ok {
		return errs.NotFound("item %s", id)
	}
	if err := c.persist(ctx, it, false); err != nil {
		return err
	}
	c.drop(it)
	c.logger.Info("item unloaded", "item_id", id)
	return nil
}

// DestroyData discards item id: its superposition, entanglement links,
// observer counter and every stored record.
func (c *Client) DestroyData(ctx context.Context, id string) error {
	it, ok := c.get(id)
	if !ok {
		return errs.NotFound("item %s", id)
	}
	states := it.sp.States()
	c.drop(it)
	c.unlink(id)
	c.observers.Forget(id)

	err := c.purge(ctx, id, states)
	c.audit(ctx, logging.AuditEvent{
		Level:    logging.LevelInfo,
		Category: logging.CategorySecurity,
		Event:    "data_destroyed",
		Message:  "item destroyed",
		Data:     map[string]any{"item_id": id, "states": len(states)},
		Context:  logging.AuditContext{CorrelationID: it.correlation},
	})
	return err
}

// purge deletes the stored states and snapshot of item id. Records that were
// never written are not an error.
func (c *Client) purge(ctx context.Context, id string, states []state.QuantumState) error {
	if c.store == nil {
		return nil
	}
	var failures []error
	for _, st := range states {
		if err := c.store.DeleteState(ctx, st.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			failures = append(failures, err)
		}
	}
	if err := c.store.DeleteSnapshot(ctx, id); err != nil && !errors.Is(err, errs.ErrNotFound) {
		failures = append(failures, err)
	}
	return errors.Join(failures...)
}

// drop unregisters it and stops its superposition.
func (c *Client) drop(it *item) {
	c.mu.Lock()
	delete(c.items, it.id)
	n := len(c.items)
	c.mu.Unlock()

	it.unsubscribe()
	it.sp.Destroy()
	c.metrics.SetProtectedItems(n)
}

// #endregion
