// Package storage persists QuantumState records and superposition snapshots
// across memory, file and database tiers.
package storage

import (
	"context"

	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// #region adapter

// Adapter is one storage tier. Load returns errs.ErrNotFound for a missing id;
// Delete of a missing id is not an error.
type Adapter interface {
	Tier() state.Tier
	Store(ctx context.Context, rec state.StateRecord) error
	Load(ctx context.Context, id string) (state.StateRecord, error)
	Delete(ctx context.Context, id string) error
	Close() error
}

// #endregion adapter
