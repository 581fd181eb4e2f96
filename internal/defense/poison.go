package defense

import (
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"
)

// #region severity

// Severity is the poisoning transform applied to a payload.
type Severity string

const (
	SeverityLight       Severity = "light"
	SeverityProgressive Severity = "progressive"
	SeverityHeavy       Severity = "heavy"
)

const (
	lightThreshold       = 0.3
	progressiveThreshold = 0.7
	lightJitter          = 0.005
	progressiveJitter    = 0.20
)

// SeverityFor maps a [0,1] level onto a transform.
func SeverityFor(level float64) Severity {
	switch {
	case level < lightThreshold:
		return SeverityLight
	case level < progressiveThreshold:
		return SeverityProgressive
	default:
		return SeverityHeavy
	}
}

// #endregion severity

// #region poisoner

// Poisoner corrupts payloads handed to unauthorized callers. The random source
// is seeded so transforms are reproducible.
type Poisoner struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewPoisoner seeds the random source.
func NewPoisoner(seed uint64) *Poisoner {
	return &Poisoner{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// Apply dispatches on level using the 0.3/0.7 thresholds.
func (p *Poisoner) Apply(data any, id string, level float64) (map[string]any, Severity) {
	sev := SeverityFor(level)
	switch sev {
	case SeverityLight:
		return p.Light(data), sev
	case SeverityProgressive:
		return p.Progressive(data, level), sev
	default:
		return p.Heavy(id), sev
	}
}

// Light jitters numbers by up to ±0.5% and appends a warning.
func (p *Poisoner) Light(data any) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := asObject(p.transform(normalize(data), lightJitter, false))
	out["_warning"] = "Data integrity could not be fully verified"
	return out
}

// Progressive jitters numbers by up to ±20%, scrambles strings and records the level.
func (p *Poisoner) Progressive(data any, level float64) map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := asObject(p.transform(normalize(data), progressiveJitter, true))
	out["_warning"] = "Data may be corrupted"
	out["_poison_level"] = level
	return out
}

// Heavy returns a denial envelope. Nothing from the input is included.
func (p *Poisoner) Heavy(id string) map[string]any {
	return map[string]any{
		"error":      "ACCESS_DENIED",
		"message":    "Insufficient authorization for requested data",
		"request_id": id,
		"timestamp":  p.now().UTC().Format(time.RFC3339Nano),
	}
}

// transform walks a JSON-shaped value and returns a corrupted copy.
func (p *Poisoner) transform(v any, jitter float64, scramble bool) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = p.transform(inner, jitter, scramble)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = p.transform(inner, jitter, scramble)
		}
		return out
	case float64:
		return t * (1 + (p.rng.Float64()*2-1)*jitter)
	case string:
		if scramble {
			return p.scramble(t)
		}
		return t
	default:
		return t
	}
}

// scramble shuffles every rune except the first and last.
func (p *Poisoner) scramble(s string) string {
	r := []rune(s)
	if len(r) <= 3 {
		return s
	}
	mid := r[1 : len(r)-1]
	p.rng.Shuffle(len(mid), func(i, j int) { mid[i], mid[j] = mid[j], mid[i] })
	return string(r)
}

// #endregion poisoner

// #region helpers

// normalize turns arbitrary Go values into the JSON-decoded shape transform
// understands. It also detaches the result from the caller's maps.
func normalize(data any) any {
	b, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return out
}

func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

// #endregion helpers
