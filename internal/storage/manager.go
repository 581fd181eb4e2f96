package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
)

const snapshotPrefix = "snapshot:"

// #region config

// Config tunes placement and compression.
type Config struct {
	// ReplicationFactor is the total number of copies, primary included.
	ReplicationFactor int `json:"replication_factor" yaml:"replication_factor" validate:"gte=1,lte=3"`

	Compression bool `json:"compression" yaml:"compression"`

	// CompressionMinSize is the smallest body, in bytes, worth compressing.
	CompressionMinSize int `json:"compression_min_size" yaml:"compression_min_size" validate:"gte=0"`
}

// DefaultConfig keeps one replica besides the primary and compresses bodies of 64 bytes or more.
func DefaultConfig() Config {
	return Config{ReplicationFactor: 2, Compression: true, CompressionMinSize: 64}
}

// #endregion config

// #region manager

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithLogger sets the logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

type entry struct {
	location  state.Location
	createdAt time.Time
	history   []state.AccessEntry
}

// Manager places records across tiers, verifies checksums on load and repairs
// damaged or missing copies from a healthy one.
type Manager struct {
	cfg      Config
	adapters map[state.Tier]Adapter
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	loads    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger

	mu    sync.Mutex
	index map[string]*entry
}

// NewManager takes ownership of the adapters; at most one per tier.
func NewManager(cfg Config, adapters []Adapter, opts ...Option) (*Manager, error) {
	if len(adapters) == 0 {
		return nil, errs.InvalidArgument("at least one storage tier is required")
	}
	if cfg.ReplicationFactor <= 0 {
		cfg.ReplicationFactor = DefaultConfig().ReplicationFactor
	}
	if cfg.CompressionMinSize < 0 {
		return nil, errs.InvalidArgument("compression min size must be >= 0, got %d", cfg.CompressionMinSize)
	}
	m := &Manager{
		cfg:      cfg,
		adapters: make(map[state.Tier]Adapter, len(adapters)),
		now:      time.Now,
		logger:   slog.Default(),
		index:    make(map[string]*entry),
	}
	for _, a := range adapters {
		if _, dup := m.adapters[a.Tier()]; dup {
			return nil, errs.InvalidArgument("duplicate %s tier", a.Tier())
		}
		m.adapters[a.Tier()] = a
	}
	for _, o := range opts {
		o(m)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	m.enc, m.dec = enc, dec
	return m, nil
}

// Adapter returns the adapter serving tier, if configured.
func (m *Manager) Adapter(tier state.Tier) (Adapter, bool) {
	a, ok := m.adapters[tier]
	return a, ok
}

// Close releases the codecs and every adapter.
func (m *Manager) Close() error {
	m.enc.Close()
	m.dec.Close()
	var out []error
	for _, t := range []state.Tier{state.TierMemory, state.TierFile, state.TierDatabase} {
		if a, ok := m.adapters[t]; ok {
			if err := a.Close(); err != nil {
				out = append(out, fmt.Errorf("close %s tier: %w", t, err))
			}
		}
	}
	return errors.Join(out...)
}

// #endregion manager

// #region placement

// placement returns the configured tiers in preference order. Active healthy
// states prefer memory; everything else prefers file. The database tier comes
// second either way, so it stands in for a missing primary tier.
func (m *Manager) placement(hot bool) []state.Tier {
	pref := []state.Tier{state.TierFile, state.TierDatabase, state.TierMemory}
	if hot {
		pref = []state.Tier{state.TierMemory, state.TierDatabase, state.TierFile}
	}
	out := make([]state.Tier, 0, len(pref))
	for _, t := range pref {
		if _, ok := m.adapters[t]; ok {
			out = append(out, t)
		}
	}
	if len(out) > m.cfg.ReplicationFactor {
		out = out[:m.cfg.ReplicationFactor]
	}
	return out
}

// searchOrder lists the tiers to probe for id: the recorded location first,
// then any other configured tier.
func (m *Manager) searchOrder(id string) (tiers []state.Tier, expected map[state.Tier]bool) {
	expected = make(map[state.Tier]bool)
	m.mu.Lock()
	if e, ok := m.index[id]; ok {
		tiers = append(tiers, e.location.Primary)
		tiers = append(tiers, e.location.Replicas...)
	}
	m.mu.Unlock()
	for _, t := range tiers {
		expected[t] = true
	}
	for _, t := range []state.Tier{state.TierMemory, state.TierFile, state.TierDatabase} {
		if _, ok := m.adapters[t]; ok && !expected[t] {
			tiers = append(tiers, t)
		}
	}
	return tiers, expected
}

// #endregion placement

// #region write

func (m *Manager) build(id string, kind state.RecordKind, body []byte, tiers []state.Tier) state.StateRecord {
	now := m.now().UTC()
	rec := state.StateRecord{
		ID:                id,
		Kind:              kind,
		Payload:           body,
		ChecksumSHA256:    state.Checksum(body),
		CompressionRatio:  1,
		ReplicationFactor: len(tiers),
		Location:          state.Location{Primary: tiers[0], Replicas: slices.Clone(tiers[1:])},
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if m.cfg.Compression && len(body) >= m.cfg.CompressionMinSize && len(body) > 0 {
		if packed := m.enc.EncodeAll(body, nil); len(packed) < len(body) {
			rec.Payload = packed
			rec.Compressed = true
			rec.CompressionRatio = float64(len(packed)) / float64(len(body))
		}
	}

	m.mu.Lock()
	if e, ok := m.index[id]; ok {
		rec.CreatedAt = e.createdAt
		rec.AccessHistory = slices.Clone(e.history)
	}
	m.mu.Unlock()
	rec.RecordAccess("save", now)
	return rec
}

// write stores rec on its primary and replica tiers concurrently. A failed
// replica is logged and left out of the recorded location; a failed primary
// fails the save.
func (m *Manager) write(ctx context.Context, rec state.StateRecord) (state.StateRecord, error) {
	replicas := rec.Location.Replicas
	stored := make([]bool, len(replicas))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := m.adapters[rec.Location.Primary].Store(gctx, rec); err != nil {
			return fmt.Errorf("store %s on %s tier: %w", rec.ID, rec.Location.Primary, err)
		}
		return nil
	})
	for i, t := range replicas {
		i, t := i, t
		g.Go(func() error {
			if err := m.adapters[t].Store(gctx, rec); err != nil {
				m.logger.Warn("replica write failed", "id", rec.ID, "tier", t, "error", err)
				return nil
			}
			stored[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return state.StateRecord{}, err
	}

	var kept []state.Tier
	for i, t := range replicas {
		if stored[i] {
			kept = append(kept, t)
		}
	}
	rec.Location.Replicas = kept

	m.mu.Lock()
	prev, had := m.index[rec.ID]
	m.index[rec.ID] = &entry{location: rec.Location, createdAt: rec.CreatedAt, history: slices.Clone(rec.AccessHistory)}
	m.mu.Unlock()

	if had {
		m.dropStale(ctx, rec.ID, prev.location, rec.Location)
	}
	return rec, nil
}

// dropStale removes copies left on tiers the record no longer lives on.
func (m *Manager) dropStale(ctx context.Context, id string, prev, cur state.Location) {
	keep := map[state.Tier]bool{cur.Primary: true}
	for _, t := range cur.Replicas {
		keep[t] = true
	}
	for _, t := range append([]state.Tier{prev.Primary}, prev.Replicas...) {
		if keep[t] {
			continue
		}
		if err := m.adapters[t].Delete(ctx, id); err != nil {
			m.logger.Warn("stale copy not removed", "id", id, "tier", t, "error", err)
		}
	}
}

// #endregion write

// #region read

type loaded struct {
	rec  state.StateRecord
	body []byte
}

// load returns the first copy whose checksum verifies, repairing every
// expected copy that was missing or damaged on the way.
func (m *Manager) load(ctx context.Context, id string) (loaded, error) {
	v, err, _ := m.loads.Do(id, func() (any, error) {
		tiers, expected := m.searchOrder(id)
		var (
			damaged  []state.Tier
			mismatch int
			lastErr  error
		)
		for _, t := range tiers {
			rec, err := m.adapters[t].Load(ctx, id)
			if errors.Is(err, errs.ErrNotFound) {
				if expected[t] {
					damaged = append(damaged, t)
				}
				continue
			}
			if err != nil {
				m.logger.Warn("tier read failed", "id", id, "tier", t, "error", err)
				lastErr = err
				continue
			}
			body, err := m.verify(rec)
			if err != nil {
				m.logger.Warn("checksum mismatch", "id", id, "tier", t, "error", err)
				mismatch++
				damaged = append(damaged, t)
				continue
			}
			m.repair(ctx, rec, damaged)
			return loaded{rec: rec, body: body}, nil
		}
		switch {
		case mismatch > 0:
			return nil, fmt.Errorf("%w: no intact copy of %s (%d damaged)", errs.ErrIntegrityViolation, id, mismatch)
		case lastErr != nil:
			return nil, fmt.Errorf("load %s: %w", id, lastErr)
		default:
			return nil, errs.NotFound("record %s", id)
		}
	})
	if err != nil {
		return loaded{}, err
	}
	l := v.(loaded)
	l.rec = l.rec.Clone()
	l.body = slices.Clone(l.body)

	m.mu.Lock()
	e, ok := m.index[id]
	if !ok {
		e = &entry{location: l.rec.Location, createdAt: l.rec.CreatedAt, history: slices.Clone(l.rec.AccessHistory)}
		m.index[id] = e
	}
	e.history = append(e.history, state.AccessEntry{At: m.now().UTC(), Action: "load"})
	if over := len(e.history) - state.MaxAccessHistory; over > 0 {
		e.history = slices.Clone(e.history[over:])
	}
	m.mu.Unlock()
	return l, nil
}

func (m *Manager) verify(rec state.StateRecord) ([]byte, error) {
	body := rec.Payload
	if rec.Compressed {
		out, err := m.dec.DecodeAll(rec.Payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress %s: %v", errs.ErrIntegrityViolation, rec.ID, err)
		}
		body = out
	}
	if got := state.Checksum(body); got != rec.ChecksumSHA256 {
		return nil, fmt.Errorf("%w: checksum %s, want %s", errs.ErrIntegrityViolation, got, rec.ChecksumSHA256)
	}
	return body, nil
}

// repair rewrites good onto the damaged tiers. Failures are logged only; the
// read already succeeded.
func (m *Manager) repair(ctx context.Context, good state.StateRecord, damaged []state.Tier) {
	for _, t := range damaged {
		if err := m.adapters[t].Store(ctx, good); err != nil {
			m.logger.Warn("replica recovery failed", "id", good.ID, "tier", t, "error", err)
			continue
		}
		m.logger.Info("replica recovered", "id", good.ID, "tier", t)
	}
}

// #endregion read

// #region states

// SaveState writes q to its tiers. Active healthy states are kept hot in memory.
func (m *Manager) SaveState(ctx context.Context, q state.QuantumState) (state.StateRecord, error) {
	if q.ID == "" {
		return state.StateRecord{}, errs.InvalidArgument("state id is required")
	}
	body, err := state.EncodeState(q)
	if err != nil {
		return state.StateRecord{}, err
	}
	tiers := m.placement(q.Active && q.Type == state.Healthy)
	return m.write(ctx, m.build(q.ID, state.KindState, body, tiers))
}

// GetState loads and decodes a state. It returns errs.ErrNotFound when no tier
// holds it and errs.ErrIntegrityViolation when every copy is damaged.
func (m *Manager) GetState(ctx context.Context, id string) (state.QuantumState, error) {
	l, err := m.load(ctx, id)
	if err != nil {
		return state.QuantumState{}, err
	}
	if l.rec.Kind != state.KindState {
		return state.QuantumState{}, errs.InvalidArgument("record %s is a %s, not a state", id, l.rec.Kind)
	}
	return state.DecodeState(l.body)
}

// Record returns the stored record for id after verification.
func (m *Manager) Record(ctx context.Context, id string) (state.StateRecord, error) {
	l, err := m.load(ctx, id)
	if err != nil {
		return state.StateRecord{}, err
	}
	return l.rec, nil
}

// DeleteState removes every copy of id.
func (m *Manager) DeleteState(ctx context.Context, id string) error {
	return m.deleteAll(ctx, id)
}

func (m *Manager) deleteAll(ctx context.Context, id string) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, a := range m.adapters {
		a := a
		g.Go(func() error { return a.Delete(gctx, id) })
	}
	err := g.Wait()
	m.mu.Lock()
	delete(m.index, id)
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("delete %s: %w", id, err)
	}
	return nil
}

// #endregion states

// #region snapshots

// SaveSnapshot persists a whole superposition. Snapshots are cold and never
// placed in memory first.
func (m *Manager) SaveSnapshot(ctx context.Context, snap superposition.Snapshot) (state.StateRecord, error) {
	if snap.ID == "" {
		return state.StateRecord{}, errs.InvalidArgument("snapshot id is required")
	}
	body, err := json.Marshal(snap)
	if err != nil {
		return state.StateRecord{}, fmt.Errorf("encode snapshot %s: %w", snap.ID, err)
	}
	return m.write(ctx, m.build(snapshotPrefix+snap.ID, state.KindSnapshot, body, m.placement(false)))
}

// LoadSnapshot returns the snapshot stored for superposition id.
func (m *Manager) LoadSnapshot(ctx context.Context, id string) (superposition.Snapshot, error) {
	l, err := m.load(ctx, snapshotPrefix+id)
	if err != nil {
		return superposition.Snapshot{}, err
	}
	if l.rec.Kind != state.KindSnapshot {
		return superposition.Snapshot{}, errs.InvalidArgument("record %s is a %s, not a snapshot", l.rec.ID, l.rec.Kind)
	}
	var snap superposition.Snapshot
	if err := json.Unmarshal(l.body, &snap); err != nil {
		return superposition.Snapshot{}, fmt.Errorf("decode snapshot %s: %w", id, err)
	}
	return snap, nil
}

// DeleteSnapshot removes every copy of the snapshot for superposition id.
func (m *Manager) DeleteSnapshot(ctx context.Context, id string) error {
	return m.deleteAll(ctx, snapshotPrefix+id)
}

// #endregion snapshots
