package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// DefaultMemoryCapacity bounds the memory tier when no capacity is given.
const DefaultMemoryCapacity = 4096

// MemoryAdapter keeps records in a bounded LRU. Evicted records are recovered
// from replicas by the Manager.
type MemoryAdapter struct {
	cache *lru.Cache
}

// NewMemoryAdapter returns a memory tier holding at most capacity records.
func NewMemoryAdapter(capacity int) (*MemoryAdapter, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	cache, err := lru.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("memory tier: %w", err)
	}
	return &MemoryAdapter{cache: cache}, nil
}

func (m *MemoryAdapter) Tier() state.Tier { return state.TierMemory }

func (m *MemoryAdapter) Store(ctx context.Context, rec state.StateRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.ID == "" {
		return errs.InvalidArgument("record id is required")
	}
	m.cache.Add(rec.ID, rec.Clone())
	return nil
}

func (m *MemoryAdapter) Load(ctx context.Context, id string) (state.StateRecord, error) {
	if err := ctx.Err(); err != nil {
		return state.StateRecord{}, err
	}
	v, ok := m.cache.Get(id)
	if !ok {
		return state.StateRecord{}, errs.NotFound("record %s in memory tier", id)
	}
	return v.(state.StateRecord).Clone(), nil
}

func (m *MemoryAdapter) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.cache.Remove(id)
	return nil
}

// Len reports how many records are resident.
func (m *MemoryAdapter) Len() int { return m.cache.Len() }

func (m *MemoryAdapter) Close() error {
	m.cache.Purge()
	return nil
}
