package learning

import "strings"

// UpdateAccuracyFromInteraction pushes one interaction into the history
// ring buffer (evicting the oldest entry at capacity), updates the
// per-set rolling accuracy window, and rebuilds the derived accuracy
// caches used by the confidence adjuster.
func (s *Store) UpdateAccuracyFromInteraction(rec InteractionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.clock()
	}
	s.history = append(s.history, rec)
	if len(s.history) > s.historyCapacity {
		s.history = s.history[len(s.history)-s.historyCapacity:]
	}

	if set := strings.ToUpper(strings.TrimSpace(rec.Context.SetCode)); set != "" {
		outcome := 0
		if rec.WasCorrect {
			outcome = 1
		}
		window := append(s.setAccuracy[set], outcome)
		if len(window) > s.setAccuracyLen {
			window = window[len(window)-s.setAccuracyLen:]
		}
		s.setAccuracy[set] = window
	}

	s.updateAccuracyCachesLocked()
}

// updateAccuracyCachesLocked recomputes overall recent accuracy, per
// card-type accuracy, and the recent error count from the history ring.
func (s *Store) updateAccuracyCachesLocked() {
	correct := 0
	typeCorrect := make(map[string]int)
	typeTotal := make(map[string]int)
	for _, rec := range s.history {
		if rec.WasCorrect {
			correct++
		}
		if t := rec.Context.CardType; t != "" {
			typeTotal[t]++
			if rec.WasCorrect {
				typeCorrect[t]++
			}
		}
	}
	if len(s.history) > 0 {
		s.recentAccuracy = float64(correct) / float64(len(s.history))
	} else {
		s.recentAccuracy = 0
	}

	s.cardTypeAccuracy = make(map[string]float64, len(typeTotal))
	for t, total := range typeTotal {
		s.cardTypeAccuracy[t] = float64(typeCorrect[t]) / float64(total)
	}

	// Errors among the last 10 interactions.
	s.recentErrors = 0
	start := len(s.history) - 10
	if start < 0 {
		start = 0
	}
	for _, rec := range s.history[start:] {
		if !rec.WasCorrect {
			s.recentErrors++
		}
	}
}

// HistoryLen returns the number of interactions currently in the ring.
func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// History returns a copy of the ring buffer in arrival order.
func (s *Store) History() []InteractionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]InteractionRecord, len(s.history))
	copy(out, s.history)
	return out
}

// RecentAccuracy returns the fraction of correct interactions over the
// whole history ring. Zero when the ring is empty.
func (s *Store) RecentAccuracy() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentAccuracy
}

// CardTypeAccuracy returns the recent accuracy for one card type.
// ok is false when the type has no observations yet.
func (s *Store) CardTypeAccuracy(cardType string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.cardTypeAccuracy[cardType]
	return v, ok
}

// SetAccuracy returns the rolling accuracy for one set code.
// ok is false when the set has no observations yet.
func (s *Store) SetAccuracy(setCode string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.setAccuracy[strings.ToUpper(strings.TrimSpace(setCode))]
	if len(window) == 0 {
		return 0, false
	}
	sum := 0
	for _, v := range window {
		sum += v
	}
	return float64(sum) / float64(len(window)), true
}

// RecentErrors returns the number of incorrect interactions among the
// last ten.
func (s *Store) RecentErrors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recentErrors
}

// ArchetypePreference returns the learned preference strength for an
// archetype name. ok is false when the archetype has never been observed.
func (s *Store) ArchetypePreference(name string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pref, ok := s.archetypePrefs[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, false
	}
	return pref.Strength, true
}
