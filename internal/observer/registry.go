package observer

import (
	"sync"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

// #region scope

// Scope decides how many Effects exist.
type Scope string

const (
	// ScopeGlobal shares one counter across every protected item.
	ScopeGlobal Scope = "global"
	// ScopePerItem keeps an independent counter per item.
	ScopePerItem Scope = "per_item"
)

// #endregion scope

// #region registry

// Registry hands out the Effect responsible for an item under the configured scope.
type Registry struct {
	mu        sync.Mutex
	scope     Scope
	threshold int
	global    *Effect
	items     map[string]*Effect
}

// NewRegistry validates scope and threshold.
func NewRegistry(scope Scope, threshold int) (*Registry, error) {
	if scope == "" {
		scope = ScopeGlobal
	}
	if scope != ScopeGlobal && scope != ScopePerItem {
		return nil, errs.InvalidArgument("unknown observer scope %q", scope)
	}
	r := &Registry{scope: scope, threshold: threshold, items: make(map[string]*Effect)}
	if scope == ScopeGlobal {
		e, err := New(threshold)
		if err != nil {
			return nil, err
		}
		r.global = e
	} else if threshold <= 0 {
		return nil, errs.InvalidArgument("observer threshold must be > 0, got %d", threshold)
	}
	return r, nil
}

// For returns the Effect for itemID, creating a per-item one on first use.
func (r *Registry) For(itemID string) *Effect {
	if r.scope == ScopeGlobal {
		return r.global
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[itemID]
	if !ok {
		e, _ = New(r.threshold)
		r.items[itemID] = e
	}
	return e
}

// Forget drops a per-item Effect. No-op under ScopeGlobal.
func (r *Registry) Forget(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, itemID)
}

// Scope returns the configured scope.
func (r *Registry) Scope() Scope {
	return r.scope
}

// #endregion registry
