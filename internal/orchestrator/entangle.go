package orchestrator

// #region imports
import (
	"fmt"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

// #endregion

// #region links

// entangle links it to every policy target that is live and has entanglement
// enabled. Symmetric links are mirrored on the target. Returns the linked ids.
func (c *Client) entangle(it *item, policy Policy) []string {
	if it.ent == nil || len(policy.EntangleWith) == 0 {
		return nil
	}
	strength := policy.EntanglementStrength
	if strength == 0 {
		strength = defaultEntanglementStrength
	}
	typ := policy.EntanglementType
	if typ == "" {
		typ = state.Symmetric
	}

	var linked []string
	for _, targetID := range policy.EntangleWith {
		target, ok := c.get(targetID)
		if !ok {
			c.logger.Debug("entanglement target not registered", "item_id", it.id, "target_id", targetID)
			continue
		}
		if err := it.ent.AddLink(state.EntanglementLink{TargetID: targetID, Strength: strength, Type: typ}); err != nil {
			c.logger.Warn("entanglement link rejected", "item_id", it.id, "target_id", targetID, "error", err)
			continue
		}
		if typ == state.Symmetric && target.ent != nil {
			if err := target.ent.AddLink(state.EntanglementLink{TargetID: it.id, Strength: strength, Type: typ}); err != nil {
				c.logger.Warn("reverse entanglement link rejected", "item_id", targetID, "target_id", it.id, "error", err)
			}
		}
		linked = append(linked, targetID)
	}
	return linked
}

// Links returns the outgoing entanglement links of id.
func (c *Client) Links(id string) ([]state.EntanglementLink, error) {
	it, ok := c.get(id)
	if !ok {
		return nil, errs.NotFound("item %s", id)
	}
	if it.ent == nil {
		return nil, nil
	}
	return it.ent.GetLinks(), nil
}

// unlink removes every link pointing at id.
func (c *Client) unlink(id string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, other := range c.items {
		if other.ent != nil {
			other.ent.RemoveLink(id)
		}
	}
}

// #endregion

// #region propagation

// propagate pushes a collapse or poison of origin to its entangled items,
// walking the link graph once per item. Changes made here are not propagated
// again by the targets' own listeners.
func (c *Client) propagate(origin *item, typ superposition.EventType) {
	if origin.ent == nil || c.isPropagating(origin.id) {
		return
	}
	st := state.Poisoned
	if typ == superposition.EventSuperpositionCollapsed {
		st = state.Collapsed
	}
	c.propagateFrom(origin, st, map[string]bool{origin.id: true})
}

func (c *Client) propagateFrom(origin *item, st state.StateType, visited map[string]bool) {
	type hop struct {
		target *item
		st     state.StateType
	}
	var next []hop

	err := origin.ent.PropagateStateChange(st, func(targetID string, change state.StateType, strength float64) error {
		if visited[targetID] {
			return nil
		}
		visited[targetID] = true
		target, ok := c.get(targetID)
		if !ok {
			return errs.NotFound("entangled item %s", targetID)
		}
		c.setPropagating(targetID, true)
		applied, ok := c.applyEntangled(origin.id, target, change, strength)
		c.setPropagating(targetID, false)
		if ok && target.ent != nil {
			next = append(next, hop{target: target, st: applied})
		}
		return nil
	})
	if err != nil {
		c.logger.Debug("entanglement propagation incomplete", "item_id", origin.id, "error", err)
	}
	for _, h := range next {
		c.propagateFrom(h.target, h.st, visited)
	}
}

// applyEntangled collapses target when a collapse arrives over a link of at
// least collapseStrength; otherwise it poisons target's active state, at the
// link strength for a collapse and half of it for a poison.
func (c *Client) applyEntangled(originID string, target *item, st state.StateType, strength float64) (state.StateType, bool) {
	if st == state.Collapsed && strength >= collapseStrength {
		if !target.sp.CollapseAll(fmt.Sprintf("entangled collapse from %s", originID)) {
			return "", false
		}
		c.metrics.Collapsed("entanglement")
		c.logger.Warn("entangled collapse", "item_id", target.id, "origin_id", originID, "strength", strength)
		return state.Collapsed, true
	}

	level := strength
	if st == state.Poisoned {
		level = 0.5 * strength
	}
	activeID := target.sp.ActiveStateID()
	if activeID == "" || level <= 0 || !target.sp.PoisonState(activeID, level) {
		return "", false
	}
	c.logger.Info("entangled poison", "item_id", target.id, "origin_id", originID, "level", level)
	return state.Poisoned, true
}

func (c *Client) isPropagating(id string) bool {
	c.propMu.Lock()
	defer c.propMu.Unlock()
	return c.propagating[id]
}

func (c *Client) setPropagating(id string, on bool) {
	c.propMu.Lock()
	defer c.propMu.Unlock()
	if on {
		c.propagating[id] = true
	} else {
		delete(c.propagating, id)
	}
}

// #endregion
