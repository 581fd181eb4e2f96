// Package entanglement keeps declared relations from one protected item to others.
//
// Propagation calls the supplied function for every link regardless of LinkType.
// Directionality is the caller's job: for an asymmetric link only the initiating
// side holds the link, so only it propagates.
package entanglement

import (
	"errors"
	"sync"
	"time"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// PropagateFunc receives one call per link during PropagateStateChange.
type PropagateFunc func(targetID string, st state.StateType, strength float64) error

// #region entanglement

// Entanglement holds the outgoing links of one logical item.
type Entanglement struct {
	mu     sync.RWMutex
	itemID string
	order  []string
	links  map[string]state.EntanglementLink
	now    func() time.Time
}

// New creates an empty Entanglement for itemID.
func New(itemID string) *Entanglement {
	return &Entanglement{
		itemID: itemID,
		links:  make(map[string]state.EntanglementLink),
		now:    time.Now,
	}
}

// ItemID returns the owning item.
func (e *Entanglement) ItemID() string {
	return e.itemID
}

// AddLink inserts or replaces the link to link.TargetID.
func (e *Entanglement) AddLink(link state.EntanglementLink) error {
	if link.TargetID == "" {
		return errs.InvalidArgument("entanglement target id is empty")
	}
	if link.TargetID == e.itemID {
		return errs.InvalidArgument("item %s cannot entangle with itself", e.itemID)
	}
	if link.Strength < 0 || link.Strength > 1 {
		return errs.InvalidArgument("entanglement strength %.3f outside [0,1]", link.Strength)
	}
	if link.Type == "" {
		link.Type = state.Symmetric
	}
	if link.CreatedAt.IsZero() {
		link.CreatedAt = e.now().UTC()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.links[link.TargetID]; !exists {
		e.order = append(e.order, link.TargetID)
	}
	e.links[link.TargetID] = link
	return nil
}

// GetLinks returns a copy of all links in insertion order.
func (e *Entanglement) GetLinks() []state.EntanglementLink {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]state.EntanglementLink, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.links[id])
	}
	return out
}

// RemoveLink drops the link to targetID and reports whether it existed.
func (e *Entanglement) RemoveLink(targetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.links[targetID]; !ok {
		return false
	}
	delete(e.links, targetID)
	for i, id := range e.order {
		if id == targetID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return true
}

// UpdateStrength changes the strength of an existing link.
func (e *Entanglement) UpdateStrength(targetID string, strength float64) error {
	if strength < 0 || strength > 1 {
		return errs.InvalidArgument("entanglement strength %.3f outside [0,1]", strength)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	link, ok := e.links[targetID]
	if !ok {
		return errs.NotFound("entanglement link %s -> %s", e.itemID, targetID)
	}
	link.Strength = strength
	e.links[targetID] = link
	return nil
}

// PropagateStateChange calls fn once per link. A failing call does not stop the rest;
// all failures are joined into the returned error.
func (e *Entanglement) PropagateStateChange(st state.StateType, fn PropagateFunc) error {
	links := e.GetLinks()
	var failures []error
	for _, l := range links {
		if err := fn(l.TargetID, st, l.Strength); err != nil {
			failures = append(failures, err)
		}
	}
	return errors.Join(failures...)
}

// #endregion entanglement
