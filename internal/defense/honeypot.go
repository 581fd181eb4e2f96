package defense

import (
	"net"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/danielpatrickdp/quantum-shield/internal/errs"
)

const maxAlerts = 1000

// #region types

// TrapType classifies what a trap watches.
type TrapType string

const (
	TrapData       TrapType = "data"
	TrapBehavioral TrapType = "behavioral"
	TrapNetwork    TrapType = "network"
)

// AlertSeverity ranks honeypot alerts.
type AlertSeverity string

const (
	AlertLow      AlertSeverity = "low"
	AlertMedium   AlertSeverity = "medium"
	AlertHigh     AlertSeverity = "high"
	AlertCritical AlertSeverity = "critical"
)

// Trap is a named decoy. Which match fields apply depends on Type: data traps
// watch ResourceIDs, behavioral traps watch Patterns, network traps watch
// Sources (IPs or CIDRs).
type Trap struct {
	Name        string            `json:"name"`
	Type        TrapType          `json:"type"`
	ResourceIDs []string          `json:"resource_ids,omitempty"`
	Patterns    []string          `json:"patterns,omitempty"`
	Sources     []string          `json:"sources,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Attempt is one access evaluated against the traps.
type Attempt struct {
	ResourceID string    `json:"resource_id,omitempty"`
	Source     string    `json:"source,omitempty"`
	UserID     string    `json:"user_id,omitempty"`
	Patterns   []string  `json:"patterns,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Alert is raised when an attempt trips a trap.
type Alert struct {
	ID        string        `json:"id"`
	TrapName  string        `json:"trap_name"`
	TrapType  TrapType      `json:"trap_type"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	Attempt   Attempt       `json:"attempt"`
	Timestamp time.Time     `json:"timestamp"`
}

// #endregion types

// #region honeypot

// Honeypot holds traps and the alerts they raised.
type Honeypot struct {
	mu     sync.Mutex
	traps  map[string]Trap
	order  []string
	alerts []Alert
	now    func() time.Time
}

// NewHoneypot returns an empty honeypot.
func NewHoneypot() *Honeypot {
	return &Honeypot{traps: make(map[string]Trap), now: time.Now}
}

// AddTrap registers or replaces a trap.
func (h *Honeypot) AddTrap(t Trap) error {
	if t.Name == "" {
		return errs.InvalidArgument("trap name is empty")
	}
	switch t.Type {
	case TrapData, TrapBehavioral, TrapNetwork:
	default:
		return errs.InvalidArgument("unknown trap type %q", t.Type)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.traps[t.Name]; !ok {
		h.order = append(h.order, t.Name)
	}
	h.traps[t.Name] = t
	return nil
}

// RemoveTrap drops a trap by name.
func (h *Honeypot) RemoveTrap(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.traps[name]; !ok {
		return false
	}
	delete(h.traps, name)
	h.order = slices.DeleteFunc(h.order, func(n string) bool { return n == name })
	return true
}

// IsTrap reports whether resourceID is watched by any data trap.
func (h *Honeypot) IsTrap(resourceID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range h.traps {
		if t.Type == TrapData && slices.Contains(t.ResourceIDs, resourceID) {
			return true
		}
	}
	return false
}

// Evaluate checks a against every trap and returns the alerts raised.
func (h *Honeypot) Evaluate(a Attempt) []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := h.now().UTC()
	if a.Timestamp.IsZero() {
		a.Timestamp = now
	}
	var raised []Alert
	for _, name := range h.order {
		t := h.traps[name]
		msg, hit := t.match(a)
		if !hit {
			continue
		}
		raised = append(raised, Alert{
			ID:        uuid.NewString(),
			TrapName:  t.Name,
			TrapType:  t.Type,
			Severity:  t.severity(),
			Message:   msg,
			Attempt:   a,
			Timestamp: now,
		})
	}
	h.alerts = append(h.alerts, raised...)
	if over := len(h.alerts) - maxAlerts; over > 0 {
		h.alerts = slices.Clone(h.alerts[over:])
	}
	return raised
}

// Alerts returns every retained alert, oldest first.
func (h *Honeypot) Alerts() []Alert {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.alerts)
}

// #endregion honeypot

// #region matching

func (t Trap) match(a Attempt) (string, bool) {
	switch t.Type {
	case TrapData:
		if a.ResourceID != "" && slices.Contains(t.ResourceIDs, a.ResourceID) {
			return "decoy resource " + a.ResourceID + " accessed", true
		}
	case TrapBehavioral:
		for _, p := range a.Patterns {
			for _, want := range t.Patterns {
				if strings.Contains(strings.ToLower(p), strings.ToLower(want)) {
					return "behavior matched " + want, true
				}
			}
		}
	case TrapNetwork:
		ip := net.ParseIP(a.Source)
		for _, src := range t.Sources {
			if src == a.Source {
				return "access from watched source " + a.Source, true
			}
			if _, cidr, err := net.ParseCIDR(src); err == nil && ip != nil && cidr.Contains(ip) {
				return "access from watched network " + src, true
			}
		}
	}
	return "", false
}

// severity derives from trap type and metadata. A data trap marked high
// sensitivity is critical.
func (t Trap) severity() AlertSeverity {
	sensitivity := strings.ToLower(t.Metadata["sensitivity"])
	switch t.Type {
	case TrapData:
		if sensitivity == "high" {
			return AlertCritical
		}
		return AlertHigh
	case TrapNetwork:
		if sensitivity == "high" {
			return AlertHigh
		}
		return AlertMedium
	default:
		if sensitivity == "low" {
			return AlertLow
		}
		return AlertMedium
	}
}

// #endregion matching
