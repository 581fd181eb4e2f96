// Package orchestrator is the client facade over the protection core: it turns
// payloads into encrypted superpositions, gates every read through trust
// analysis and access checks, and drives the defense subsystem when a read is
// refused.
package orchestrator

// #region imports
import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/crypto"
	"github.com/danielpatrickdp/quantum-shield/internal/defense"
	"github.com/danielpatrickdp/quantum-shield/internal/entanglement"
	"github.com/danielpatrickdp/quantum-shield/internal/errs"
	"github.com/danielpatrickdp/quantum-shield/internal/gate"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/observer"
	"github.com/danielpatrickdp/quantum-shield/internal/storage"
	"github.com/danielpatrickdp/quantum-shield/internal/superposition"
	"github.com/danielpatrickdp/quantum-shield/internal/telemetry"
	"github.com/danielpatrickdp/quantum-shield/internal/trust"
)

// #endregion

// #region options

// Option configures a Client at construction.
type Option func(*Client)

// WithLogger sets the structured logger; nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithAuditSink persists audit events, typically a logging.SQLiteSink.
func WithAuditSink(s logging.Sink) Option { return func(c *Client) { c.sink = s } }

// WithMetrics records Prometheus metrics.
func WithMetrics(m *telemetry.Metrics) Option { return func(c *Client) { c.metrics = m } }

// WithTracerProvider selects the OpenTelemetry provider; nil means the global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = telemetry.Tracer(tp) }
}

// WithStorage enables write-through persistence. The client takes ownership
// and closes m on Close.
func WithStorage(m *storage.Manager) Option { return func(c *Client) { c.store = m } }

// WithDefenseMemory records every Responder run.
func WithDefenseMemory(m *DefenseMemory) Option { return func(c *Client) { c.outcomes = m } }

// WithGeoLocator feeds the trust detector's geolocation signal.
func WithGeoLocator(l trust.GeoLocator) Option { return func(c *Client) { c.locator = l } }

// WithDetectorConfig overrides the trust weights and thresholds.
func WithDetectorConfig(dc trust.DetectorConfig) Option {
	return func(c *Client) { c.detectorCfg = dc }
}

// WithGateConfig overrides the credential and trust-floor checks.
func WithGateConfig(gc gate.GateConfig) Option { return func(c *Client) { c.gateCfg = gc } }

// WithHoneypot supplies a honeypot with traps already installed.
func WithHoneypot(h *defense.Honeypot) Option { return func(c *Client) { c.honeypot = h } }

// WithClock replaces time.Now for the client and every superposition it builds.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// #endregion

// #region client-struct

// item is one protected payload and everything hanging off it.
type item struct {
	id          string
	sp          *superposition.Superposition
	ent         *entanglement.Entanglement
	keyID       string
	correlation string
	proof       *crypto.Proof
	unsubscribe func()
}

// Client is safe for concurrent use. The items map is the only state shared
// across protected items; each superposition guards itself.
type Client struct {
	cfg         config.Config
	logger      *slog.Logger
	sink        logging.Sink
	auditor     *logging.Auditor
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	now         func() time.Time
	locator     trust.GeoLocator
	detectorCfg trust.DetectorConfig
	gateCfg     gate.GateConfig

	keys      *crypto.KeyManager
	encryptor *crypto.AEADEncryptor
	proofs    *crypto.SchnorrProofSystem
	detector  *trust.Detector
	gate      *gate.Gate
	observers *observer.Registry
	breakers  *defense.BreakerSet
	poisoner  *defense.Poisoner
	honeypot  *defense.Honeypot
	responder *defense.Responder
	store     *storage.Manager
	outcomes  *DefenseMemory
	restores  singleflight.Group

	mu     sync.RWMutex
	items  map[string]*item
	closed bool

	listenersMu  sync.Mutex
	listeners    map[int]Listener
	nextListener int

	propMu      sync.Mutex
	propagating map[string]bool
}

// #endregion

// #region constructor

// New validates cfg, wires every collaborator and initializes the encryptor and
// proof system, so the returned client is ready for use.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	c := &Client{
		cfg:         cfg,
		logger:      slog.Default(),
		tracer:      telemetry.Tracer(nil),
		now:         time.Now,
		detectorCfg: trust.DefaultDetectorConfig(),
		gateCfg:     gate.DefaultGateConfig(),
		items:       make(map[string]*item),
		listeners:   make(map[int]Listener),
		propagating: make(map[string]bool),
	}
	for _, o := range opts {
		o(c)
	}

	observers, err := observer.NewRegistry(cfg.Observer.Scope, cfg.Observer.Threshold)
	if err != nil {
		return nil, err
	}
	c.observers = observers
	c.auditor = logging.NewAuditor(c.logger, c.sink)
	c.keys = crypto.NewKeyManager()
	c.encryptor = crypto.NewAEADEncryptor(c.keys)
	c.proofs = crypto.NewSchnorrProofSystem()
	c.detector = trust.NewDetector(c.locator, c.detectorCfg)
	c.gate = gate.NewGate(c.gateCfg)
	c.poisoner = defense.NewPoisoner(cfg.Defense.PoisonSeed)
	c.breakers = defense.NewBreakerSet(cfg.Defense.Breaker, c.onBreakerChange, c.logger)
	if c.honeypot == nil {
		c.honeypot = defense.NewHoneypot()
	}
	c.responder = defense.NewResponder(cfg.Defense.Responder, c.honeypot, c.logger)
	c.responder.Handle(defense.ActionPoison, c.poisonAction)
	c.responder.Handle(defense.ActionBlockSource, c.blockSourceAction)
	c.responder.Handle(defense.ActionCollapse, c.collapseAction)

	if err := c.encryptor.Init(ctx); err != nil {
		return nil, fmt.Errorf("init encryptor: %w", err)
	}
	if err := c.proofs.Init(ctx); err != nil {
		return nil, fmt.Errorf("init proof system: %w", err)
	}
	c.logger.Info("qshield client ready",
		"observer_scope", string(observers.Scope()),
		"observer_threshold", cfg.Observer.Threshold,
		"storage", c.store != nil,
	)
	return c, nil
}

// #endregion

// #region accessors

// Lookup returns the live superposition for id.
func (c *Client) Lookup(id string) (*superposition.Superposition, bool) {
	it, ok := c.get(id)
	if !ok {
		return nil, false
	}
	return it.sp, true
}

// Items lists the ids of live items.
func (c *Client) Items() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.items))
	for id := range c.items {
		out = append(out, id)
	}
	return out
}

// Auditor exposes the audit trail writer.
func (c *Client) Auditor() *logging.Auditor { return c.auditor }

// Gate exposes the access gate, e.g. to lift a block.
func (c *Client) Gate() *gate.Gate { return c.gate }

// Responder exposes the defense responder.
func (c *Client) Responder() *defense.Responder { return c.responder }

// Breakers exposes the encrypt/decrypt circuit breakers.
func (c *Client) Breakers() *defense.BreakerSet { return c.breakers }

// Keys exposes the key manager.
func (c *Client) Keys() *crypto.KeyManager { return c.keys }

func (c *Client) get(id string) (*item, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[id]
	return it, ok
}

func (c *Client) checkOpen() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("client: %w", errs.ErrNotInitialized)
	}
	return nil
}

// #endregion

// #region listeners

// Subscribe registers l for events from every item and returns a function
// that removes it.
func (c *Client) Subscribe(l Listener) func() {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextListener
	c.nextListener++
	c.listeners[id] = l
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) relay(ev Event) {
	c.listenersMu.Lock()
	ls := make([]Listener, 0, len(c.listeners))
	for i := 0; i < c.nextListener; i++ {
		if l, ok := c.listeners[i]; ok {
			ls = append(ls, l)
		}
	}
	c.listenersMu.Unlock()
	for _, l := range ls {
		l(ev)
	}
}

// onEvent relays a superposition event and propagates collapse and poison
// across entanglement links.
func (c *Client) onEvent(it *item, ev superposition.Event) {
	c.relay(Event{Event: ev, ItemID: it.id, CorrelationID: it.correlation})
	switch ev.Type {
	case superposition.EventSuperpositionCollapsed, superposition.EventStatePoisoned:
		c.propagate(it, ev.Type)
	case superposition.EventObservationLimitExceeded:
		c.logger.Warn("observation limit reached", "item_id", it.id, "observations", ev.ObservationCount)
	}
}

func (c *Client) onBreakerChange(name string, from, to defense.BreakerState) {
	c.metrics.SetBreakerState(name, int(to))
	c.auditor.Log(context.Background(), logging.LevelWarn, logging.CategorySystem, "breaker_transition",
		"circuit breaker changed state", map[string]any{"breaker": name, "from": from.String(), "to": to.String()}, logging.AuditContext{})
}

// #endregion

// #region close

// Close destroys every live superposition and closes storage. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	items := c.items
	c.items = make(map[string]*item)
	c.mu.Unlock()

	for _, it := range items {
		it.unsubscribe()
		it.sp.Destroy()
	}
	c.metrics.SetProtectedItems(0)

	if c.store != nil {
		return c.store.Close()
	}
	return nil
}

// #endregion
