package superposition

import (
	"time"
)

// #region timers

// start launches the auto-rotation and coherence loops. Both exit when stop closes.
func (s *Superposition) start() {
	if s.cfg.AutoRotationInterval > 0 {
		s.wg.Add(1)
		go s.every(s.cfg.AutoRotationInterval, s.autoRotate)
	}
	if s.cfg.CoherenceCheckInterval > 0 {
		s.wg.Add(1)
		go s.every(s.cfg.CoherenceCheckInterval, s.checkCoherence)
	}
}

func (s *Superposition) stopTimers() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *Superposition) every(interval time.Duration, fn func()) {
	defer s.wg.Done()
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-t.C:
			fn()
		}
	}
}

func (s *Superposition) autoRotate() {
	s.mu.Lock()
	skip := s.collapsed || s.destroyed || len(s.order) <= 1
	s.mu.Unlock()
	if !skip {
		s.RotateState()
	}
}

// checkCoherence degrades every state older than its coherence time. The step
// grows with how far past coherence the state is, up to DefaultDecoherenceFactor.
func (s *Superposition) checkCoherence() {
	s.mu.Lock()
	if s.collapsed || s.destroyed {
		s.mu.Unlock()
		return
	}
	now := s.now().UTC()
	var events []Event
	for _, id := range s.order {
		st := s.states[id]
		coherence := st.Metadata.CoherenceTime
		if coherence <= 0 {
			coherence = s.cfg.CoherenceTime
		}
		age := now.Sub(st.CreatedAt)
		if coherence <= 0 || age <= coherence {
			continue
		}
		over := float64(age-coherence) / float64(coherence)
		factor := DefaultDecoherenceFactor * min(1, over)
		if factor <= 0 {
			continue
		}
		if ev, ok := s.decohereLocked(st, factor, now); ok {
			events = append(events, ev)
		}
	}
	s.mu.Unlock()

	s.emit(events...)
}

// #endregion timers
