package logging

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

type timer struct {
	started time.Time
	rss     uint64
}

// Auditor fans structured events out to slog and, when a Sink is attached,
// to the persistent audit trail. Every Data map is masked before either sees it.
type Auditor struct {
	logger *slog.Logger
	sink   Sink
	now    func() time.Time

	mu     sync.Mutex
	last   string
	timers map[string]timer
	proc   *process.Process
}

// NewAuditor builds an Auditor; a nil logger means slog.Default() and a nil sink
// keeps audit events in the log stream only.
func NewAuditor(logger *slog.Logger, sink Sink) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Auditor{
		logger: logger,
		sink:   sink,
		now:    time.Now,
		timers: make(map[string]timer),
	}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		a.proc = p
	}
	return a
}

// Logger exposes the underlying slog logger for components that log directly.
func (a *Auditor) Logger() *slog.Logger { return a.logger }

// #region log

// Log writes one structured line. It does not touch the audit trail.
func (a *Auditor) Log(ctx context.Context, level Level, category Category, event, message string, data map[string]any, actx AuditContext) {
	attrs := []slog.Attr{
		slog.String("category", string(category)),
		slog.String("event", event),
	}
	attrs = append(attrs, contextAttrs(actx)...)
	if masked := MaskSensitive(data); len(masked) > 0 {
		attrs = append(attrs, slog.Any("data", masked))
	}
	a.logger.LogAttrs(ctx, level.Slog(), message, attrs...)
}

func contextAttrs(actx AuditContext) []slog.Attr {
	var out []slog.Attr
	if actx.UserID != "" {
		out = append(out, slog.String("user_id", actx.UserID))
	}
	if actx.SessionID != "" {
		out = append(out, slog.String("session_id", actx.SessionID))
	}
	if actx.CorrelationID != "" {
		out = append(out, slog.String("correlation_id", actx.CorrelationID))
	}
	if actx.Source != "" {
		out = append(out, slog.String("source", actx.Source))
	}
	return out
}

// #endregion log

// #region audit

// Audit fills in id, timestamp and the chained checksum, logs the event and
// persists it. The returned event is what was written.
func (a *Auditor) Audit(ctx context.Context, ev AuditEvent) (AuditEvent, error) {
	if ev.Event == "" {
		return AuditEvent{}, errs.InvalidArgument("audit event name is required")
	}
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.Level == "" {
		ev.Level = LevelInfo
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = a.now().UTC()
	}
	data, err := normalizeData(MaskSensitive(ev.Data))
	if err != nil {
		return AuditEvent{}, err
	}
	ev.Data = data

	a.mu.Lock()
	ev.PrevHash = a.last
	sum, err := Checksum(ev)
	if err != nil {
		a.mu.Unlock()
		return AuditEvent{}, err
	}
	ev.Checksum = sum
	if a.sink != nil {
		if err := a.sink.WriteAudit(ctx, ev); err != nil {
			a.mu.Unlock()
			a.logger.Error("audit sink write failed", "event", ev.Event, "error", err)
			return AuditEvent{}, err
		}
	}
	a.last = sum
	a.mu.Unlock()

	a.Log(ctx, ev.Level, ev.Category, ev.Event, ev.Message, ev.Data, ev.Context)
	return ev, nil
}

// Checksum hashes every field of ev except Checksum itself, so a row edited
// after the fact no longer matches and breaks the chain after it.
func Checksum(ev AuditEvent) (string, error) {
	ev.Checksum = ""
	ev.Timestamp = ev.Timestamp.UTC().Truncate(0)
	b, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("hash audit event: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// normalizeData round-trips data through JSON so the hash of a persisted
// event matches the hash of the same event read back.
func normalizeData(data map[string]any) (map[string]any, error) {
	if len(data) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal audit data: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("unmarshal audit data: %w", err)
	}
	return out, nil
}

// VerifyChain checks that events, in write order, are unmodified and contiguous.
func VerifyChain(events []AuditEvent) error {
	prev := ""
	for i, ev := range events {
		if i > 0 && ev.PrevHash != prev {
			return fmt.Errorf("%w: audit event %s does not follow %s", errs.ErrIntegrityViolation, ev.ID, events[i-1].ID)
		}
		sum, err := Checksum(ev)
		if err != nil {
			return err
		}
		if sum != ev.Checksum {
			return fmt.Errorf("%w: audit event %s was modified", errs.ErrIntegrityViolation, ev.ID)
		}
		prev = ev.Checksum
	}
	return nil
}

// #endregion audit

// #region performance

// StartPerformanceTimer begins timing id, replacing any timer already running under it.
func (a *Auditor) StartPerformanceTimer(id string) {
	rss, _ := a.rss()
	a.mu.Lock()
	a.timers[id] = timer{started: a.now(), rss: rss}
	a.mu.Unlock()
}

// EndPerformanceTimer stops id and reports its duration plus process memory.
// Memory figures are best effort; a failed probe is recorded in MemoryErr.
func (a *Auditor) EndPerformanceTimer(id string) (PerformanceResult, error) {
	a.mu.Lock()
	t, ok := a.timers[id]
	delete(a.timers, id)
	a.mu.Unlock()
	if !ok {
		return PerformanceResult{}, errs.NotFound("performance timer %s", id)
	}

	res := PerformanceResult{ID: id, Started: t.started, Duration: a.now().Sub(t.started)}
	if a.proc == nil {
		res.MemoryErr = "process handle unavailable"
	} else if mem, err := a.proc.MemoryInfo(); err != nil {
		res.MemoryErr = err.Error()
	} else {
		res.RSSBytes = mem.RSS
		res.VMSBytes = mem.VMS
		res.RSSDelta = int64(mem.RSS) - int64(t.rss)
	}
	a.logger.Debug("performance", "id", id, "duration", res.Duration, "rss_bytes", res.RSSBytes)
	return res, nil
}

func (a *Auditor) rss() (uint64, error) {
	if a.proc == nil {
		return 0, errs.ErrNotInitialized
	}
	mem, err := a.proc.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

// #endregion performance
