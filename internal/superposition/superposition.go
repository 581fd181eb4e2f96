// Package superposition holds the N encrypted states of one protected item and
// exactly one "active" pointer into them. It owns rotation, context selection,
// collapse, decoherence and poisoning, plus the audit and transition trails.
package superposition

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/state"
)

// DecoherenceTrigger is the transition trigger recorded when a state degrades.
const DecoherenceTrigger = "Decoherence threshold exceeded"

// #region options

// Option customises a Superposition at construction.
type Option func(*Superposition)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Superposition) { s.now = now }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Superposition) { s.logger = l }
}

// WithID pins the superposition id instead of generating one.
func WithID(id string) Option {
	return func(s *Superposition) { s.id = id }
}

// #endregion options

// #region superposition

// Superposition is safe for concurrent use. A single mutex guards the state set,
// the active pointer and the collapse flag so they never disagree.
type Superposition struct {
	mu           sync.Mutex
	id           string
	cfg          Config
	createdAt    time.Time
	lastRotation time.Time
	states       map[string]*state.QuantumState
	order        []string
	activeID     string
	collapsed    bool
	destroyed    bool
	observations int64
	limitFired   bool
	audit        *ring[AuditEntry]
	transitions  *ring[Transition]

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	now    func() time.Time
	logger *slog.Logger
}

func newEmpty(cfg Config, opts []Option) *Superposition {
	s := &Superposition{
		cfg:         cfg,
		states:      make(map[string]*state.QuantumState),
		audit:       newRing[AuditEntry](MaxAuditLogs),
		transitions: newRing[Transition](MaxTransitions),
		listeners:   make(map[int]Listener),
		stop:        make(chan struct{}),
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s
}

// New builds a superposition over initial. States without an id get one; the
// first state flagged Active (or the first state) becomes active. Background
// rotation and coherence timers start immediately.
func New(initial []state.QuantumState, cfg Config, opts ...Option) (*Superposition, error) {
	if len(initial) == 0 {
		return nil, errs.InvalidArgument("superposition needs at least one state")
	}
	cfg, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	s := newEmpty(cfg, opts)
	now := s.now().UTC()
	s.createdAt, s.lastRotation = now, now

	for i := range initial {
		st := initial[i].Clone()
		if st.ID == "" {
			st.ID = uuid.NewString()
		}
		if _, dup := s.states[st.ID]; dup {
			return nil, errs.InvalidArgument("duplicate state id %s", st.ID)
		}
		st.Index = i
		if st.Type == "" {
			st.Type = state.Healthy
		}
		if st.CreatedAt.IsZero() {
			st.CreatedAt = now
		}
		if st.UpdatedAt.IsZero() {
			st.UpdatedAt = st.CreatedAt
		}
		if st.Metadata.CoherenceTime == 0 {
			st.Metadata.CoherenceTime = cfg.CoherenceTime
		}
		if st.Active && s.activeID == "" {
			s.activeID = st.ID
		}
		s.states[st.ID] = &st
		s.order = append(s.order, st.ID)
	}
	if s.activeID == "" {
		s.activeID = s.order[0]
	}
	s.activateLocked(s.activeID, now)
	s.auditLocked(AuditStandard, "superposition_created", fmt.Sprintf("created with %d states", len(s.order)), s.activeID, nil)
	s.start()
	return s, nil
}

// ID returns the superposition id.
func (s *Superposition) ID() string {
	return s.id
}

// Config returns the normalized configuration.
func (s *Superposition) Config() Config {
	return s.cfg
}

// #endregion superposition

// #region rotation

// RotateState moves the active pointer to the next state in insertion order.
// With a single state it returns the current state without emitting an event.
// Returns false when collapsed or empty.
func (s *Superposition) RotateState() (state.QuantumState, bool) {
	s.mu.Lock()
	if s.collapsed || s.destroyed || len(s.order) == 0 {
		s.mu.Unlock()
		return state.QuantumState{}, false
	}
	now := s.now().UTC()
	if len(s.order) == 1 {
		id := s.order[0]
		if s.activeID != id {
			s.activateLocked(id, now)
		}
		out := s.states[id].Clone()
		s.mu.Unlock()
		return out, true
	}

	prev := s.activeID
	next := s.order[(s.indexLocked(prev)+1)%len(s.order)]
	s.activateLocked(next, now)
	s.lastRotation = now
	s.auditLocked(AuditStandard, "state_rotated", "active state rotated", next, map[string]any{"previous_state_id": prev})
	out := s.states[next].Clone()
	ev := Event{
		Type:            EventStateRotated,
		SuperpositionID: s.id,
		PreviousStateID: prev,
		NewStateID:      next,
		State:           &out,
		Timestamp:       now,
	}
	s.mu.Unlock()

	s.emit(ev)
	return out, true
}

// SelectStateByContext activates the state chosen by ctx and returns it.
// Trust score wins over environment, which wins over risk level. With none set
// the current active state is returned unchanged.
func (s *Superposition) SelectStateByContext(ctx state.AccessContext) (state.QuantumState, bool) {
	s.mu.Lock()
	if s.collapsed || s.destroyed || len(s.order) == 0 {
		s.mu.Unlock()
		return state.QuantumState{}, false
	}
	n := len(s.order)
	idx := -1
	selector := ""
	switch {
	case ctx.TrustScore != nil:
		idx, selector = scoreIndex(*ctx.TrustScore, n), "trust"
	case ctx.Environment != "":
		h := sha256.Sum256([]byte(ctx.Environment))
		idx, selector = int(h[0])%n, "environment"
	case ctx.RiskLevel != nil:
		idx, selector = scoreIndex(1-*ctx.RiskLevel, n), "risk"
	}
	if idx < 0 {
		st, ok := s.states[s.activeID]
		if !ok {
			s.mu.Unlock()
			return state.QuantumState{}, false
		}
		out := st.Clone()
		s.mu.Unlock()
		return out, true
	}

	now := s.now().UTC()
	prev := s.activeID
	id := s.order[idx]
	s.activateLocked(id, now)
	s.auditLocked(AuditStandard, "state_selected", "state selected by "+selector, id, map[string]any{"index": idx})
	out := s.states[id].Clone()
	ev := Event{
		Type:            EventStateSelected,
		SuperpositionID: s.id,
		PreviousStateID: prev,
		NewStateID:      id,
		State:           &out,
		Reason:          selector,
		Timestamp:       now,
	}
	s.mu.Unlock()

	s.emit(ev)
	return out, true
}

// scoreIndex maps a score in [0,1] to floor(score*n), clamped to [0,n-1].
func scoreIndex(score float64, n int) int {
	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	idx := int(math.Floor(score * float64(n)))
	if idx >= n {
		idx = n - 1
	}
	return idx
}

// #endregion rotation

// #region collapse

// CollapseAll marks every state Collapsed, clears the active pointer and stops
// the timers. It reports whether this call performed the collapse; later calls
// are no-ops.
func (s *Superposition) CollapseAll(reason string) bool {
	s.mu.Lock()
	if s.collapsed || s.destroyed {
		s.mu.Unlock()
		return false
	}
	now := s.now().UTC()
	for _, id := range s.order {
		st := s.states[id]
		s.transitionLocked(st, state.Collapsed, reason, now)
		st.Active = false
	}
	s.activeID = ""
	s.collapsed = true
	s.auditLocked(AuditMinimal, "superposition_collapsed", reason, "", map[string]any{"states_count": len(s.order)})
	ev := Event{
		Type:            EventSuperpositionCollapsed,
		SuperpositionID: s.id,
		Reason:          reason,
		StatesCount:     len(s.order),
		Timestamp:       now,
	}
	s.mu.Unlock()

	s.stopTimers()
	s.logger.Warn("superposition collapsed", "superposition_id", s.id, "reason", reason, "states", ev.StatesCount)
	s.emit(ev)
	return true
}

// IsCollapsed reports whether CollapseAll has run.
func (s *Superposition) IsCollapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.collapsed
}

// #endregion collapse

// #region read

// GetActiveState returns a copy of the active state and counts the access.
// The observation-limit event fires once, when the count first reaches
// Config.MaxObservations.
func (s *Superposition) GetActiveState() (state.QuantumState, bool) {
	s.mu.Lock()
	st, ok := s.states[s.activeID]
	if s.collapsed || s.destroyed || !ok {
		s.mu.Unlock()
		return state.QuantumState{}, false
	}
	now := s.now().UTC()
	st.AccessCount++
	st.LastAccessed = &now
	st.Metadata.Operations++
	s.observations++
	s.auditLocked(AuditVerbose, "state_read", "active state read", st.ID, map[string]any{"access_count": st.AccessCount})

	var events []Event
	if !s.limitFired && s.cfg.MaxObservations > 0 && s.observations >= s.cfg.MaxObservations {
		s.limitFired = true
		s.auditLocked(AuditMinimal, "observation_limit_exceeded", "observation limit reached", st.ID, map[string]any{"observations": s.observations})
		events = append(events, Event{
			Type:             EventObservationLimitExceeded,
			SuperpositionID:  s.id,
			ObservationCount: s.observations,
			Timestamp:        now,
		})
	}
	out := st.Clone()
	s.mu.Unlock()

	s.emit(events...)
	return out, true
}

// State returns a copy of the state with id.
func (s *Superposition) State(id string) (state.QuantumState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[id]
	if !ok {
		return state.QuantumState{}, false
	}
	return st.Clone(), true
}

// States returns copies of every state in insertion order.
func (s *Superposition) States() []state.QuantumState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]state.QuantumState, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.states[id].Clone())
	}
	return out
}

// ActiveStateID returns the active pointer, empty when collapsed.
func (s *Superposition) ActiveStateID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeID
}

// ObservationCount returns how many times GetActiveState succeeded.
func (s *Superposition) ObservationCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observations
}

// AuditLogs returns the audit trail, oldest first.
func (s *Superposition) AuditLogs() []AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.audit.items()
}

// Transitions returns the transition trail, oldest first.
func (s *Superposition) Transitions() []Transition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions.items()
}

// #endregion read

// #region mutate

// AddState appends a state. The first state added to a superposition without
// an active pointer becomes active.
func (s *Superposition) AddState(st state.QuantumState) (state.QuantumState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.collapsed || s.destroyed {
		return state.QuantumState{}, fmt.Errorf("add state: %w", errs.ErrCollapsed)
	}
	st = st.Clone()
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if _, dup := s.states[st.ID]; dup {
		return state.QuantumState{}, errs.InvalidArgument("duplicate state id %s", st.ID)
	}
	now := s.now().UTC()
	st.Index = s.nextIndexLocked()
	if st.Type == "" {
		st.Type = state.Healthy
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	if st.Metadata.CoherenceTime == 0 {
		st.Metadata.CoherenceTime = s.cfg.CoherenceTime
	}
	st.Active = false
	s.states[st.ID] = &st
	s.order = append(s.order, st.ID)
	if s.activeID == "" {
		s.activateLocked(st.ID, now)
	}
	s.auditLocked(AuditStandard, "state_added", "state added", st.ID, map[string]any{"index": st.Index})
	return st.Clone(), nil
}

// RemoveState deletes a state. Removing the active state activates the state
// that followed it (or the new last one).
func (s *Superposition) RemoveState(id string) error {
	s.mu.Lock()
	if s.collapsed || s.destroyed {
		s.mu.Unlock()
		return fmt.Errorf("remove state: %w", errs.ErrCollapsed)
	}
	if _, ok := s.states[id]; !ok {
		s.mu.Unlock()
		return errs.NotFound("state %s", id)
	}
	idx := s.indexLocked(id)
	delete(s.states, id)
	s.order = append(s.order[:idx], s.order[idx+1:]...)
	s.auditLocked(AuditStandard, "state_removed", "state removed", id, nil)

	var events []Event
	if s.activeID == id {
		s.activeID = ""
		if len(s.order) > 0 {
			now := s.now().UTC()
			next := s.order[min(idx, len(s.order)-1)]
			s.activateLocked(next, now)
			out := s.states[next].Clone()
			events = append(events, Event{
				Type:            EventStateRotated,
				SuperpositionID: s.id,
				PreviousStateID: id,
				NewStateID:      next,
				State:           &out,
				Reason:          "active state removed",
				Timestamp:       now,
			})
		}
	}
	s.mu.Unlock()

	s.emit(events...)
	return nil
}

// ApplyDecoherence raises every state's degradation and noise by factor. States
// crossing the degradation threshold become Degraded. Returns how many did.
// A zero factor means DefaultDecoherenceFactor; a negative one is rejected and
// changes nothing.
func (s *Superposition) ApplyDecoherence(factor float64) int {
	if factor == 0 {
		factor = DefaultDecoherenceFactor
	}
	s.mu.Lock()
	if s.collapsed || s.destroyed || factor < 0 || math.IsNaN(factor) {
		s.mu.Unlock()
		return 0
	}
	now := s.now().UTC()
	var events []Event
	for _, id := range s.order {
		if ev, ok := s.decohereLocked(s.states[id], factor, now); ok {
			events = append(events, ev)
		}
	}
	s.mu.Unlock()

	s.emit(events...)
	return len(events)
}

func (s *Superposition) decohereLocked(st *state.QuantumState, factor float64, now time.Time) (Event, bool) {
	before := st.DegradationLevel
	st.DegradationLevel = math.Min(1, before+factor)
	st.Metadata.NoiseLevel = math.Min(1, st.Metadata.NoiseLevel+factor)
	st.UpdatedAt = now

	thr := s.cfg.DegradationThreshold
	if before >= thr || st.DegradationLevel < thr || st.Type == state.Degraded || st.Type == state.Collapsed {
		return Event{}, false
	}
	s.transitionLocked(st, state.Degraded, DecoherenceTrigger, now)
	s.auditLocked(AuditMinimal, "state_degraded", DecoherenceTrigger, st.ID, map[string]any{"degradation_level": st.DegradationLevel})
	out := st.Clone()
	return Event{
		Type:            EventStateDegraded,
		SuperpositionID: s.id,
		NewStateID:      st.ID,
		State:           &out,
		Reason:          DecoherenceTrigger,
		Timestamp:       now,
	}, true
}

// PoisonState raises the poison level of one state and marks it Poisoned.
func (s *Superposition) PoisonState(id string, level float64) bool {
	s.mu.Lock()
	st, ok := s.states[id]
	if s.collapsed || s.destroyed || !ok {
		s.mu.Unlock()
		return false
	}
	now := s.now().UTC()
	st.PoisonLevel = math.Min(1, st.PoisonLevel+math.Max(0, level))
	trigger := fmt.Sprintf("Poisoned (level %.2f)", level)
	if st.Type != state.Poisoned {
		s.transitionLocked(st, state.Poisoned, trigger, now)
	}
	st.UpdatedAt = now
	s.auditLocked(AuditMinimal, "state_poisoned", trigger, id, map[string]any{"poison_level": st.PoisonLevel})
	out := st.Clone()
	ev := Event{
		Type:            EventStatePoisoned,
		SuperpositionID: s.id,
		NewStateID:      id,
		State:           &out,
		Reason:          trigger,
		Timestamp:       now,
	}
	s.mu.Unlock()

	s.emit(ev)
	return true
}

// LogAccess appends an entry to the audit trail regardless of audit level.
// The orchestrator uses it to record unauthorized access attempts.
func (s *Superposition) LogAccess(event, message string, details map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditLocked(AuditMinimal, event, message, s.activeID, details)
}

// #endregion mutate

// #region destroy

// Destroy stops the timers, waits for them to exit and discards all states.
// It is idempotent. Do not call it from a Listener.
func (s *Superposition) Destroy() {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return
	}
	s.destroyed = true
	for _, st := range s.states {
		st.Ciphertext, st.Nonce, st.MAC = nil, nil, nil
	}
	s.states = make(map[string]*state.QuantumState)
	s.order = nil
	s.activeID = ""
	s.mu.Unlock()

	s.stopTimers()
	s.wg.Wait()

	s.listenersMu.Lock()
	s.listeners = make(map[int]Listener)
	s.listenersMu.Unlock()
	s.logger.Debug("superposition destroyed", "superposition_id", s.id)
}

// #endregion destroy

// #region helpers

func (s *Superposition) activateLocked(id string, now time.Time) {
	for _, st := range s.states {
		st.Active = false
	}
	st := s.states[id]
	st.Active = true
	st.UpdatedAt = now
	s.activeID = id
}

func (s *Superposition) indexLocked(id string) int {
	for i, v := range s.order {
		if v == id {
			return i
		}
	}
	return -1
}

func (s *Superposition) nextIndexLocked() int {
	next := 0
	for _, st := range s.states {
		if st.Index >= next {
			next = st.Index + 1
		}
	}
	return next
}

func (s *Superposition) transitionLocked(st *state.QuantumState, to state.StateType, trigger string, now time.Time) {
	s.transitions.push(Transition{StateID: st.ID, From: st.Type, To: to, Trigger: trigger, Timestamp: now})
	st.Type = to
	st.UpdatedAt = now
}

func (s *Superposition) auditLocked(level AuditLevel, event, message, stateID string, details map[string]any) {
	if s.cfg.AuditLevel.rank() < level.rank() {
		return
	}
	s.audit.push(AuditEntry{
		Timestamp: s.now().UTC(),
		Event:     event,
		Message:   message,
		StateID:   stateID,
		Details:   details,
	})
}

// #endregion helpers
