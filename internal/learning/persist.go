package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/voxrip/voxrip/internal/fault"
	"github.com/voxrip/voxrip/internal/kvstore"
)

// stateDoc is the persisted pattern document stored under [PatternsKey].
// Unknown top-level keys in stored documents are ignored on load
// (forward compatibility); an unknown version is rejected.
type stateDoc struct {
	Version     string              `json:"version"`
	Timestamp   int64               `json:"timestamp"`
	Patterns    map[string]*Pattern `json:"patterns"`
	Rules       map[string]*Rule    `json:"rules"`
	Categories  categoriesDoc       `json:"categories"`
	Stats       persistedStats      `json:"stats"`
	SetAccuracy map[string][]int    `json:"setAccuracy,omitempty"`
}

// categoriesDoc groups learned state by category as the persisted layout
// requires. Pronunciation and preference hold summaries derived from the
// top-level maps; correction and archetype are authoritative.
type categoriesDoc struct {
	Pronunciation map[string]float64        `json:"pronunciation"`
	Preference    map[string]int            `json:"preference"`
	Correction    map[string]*Rejection     `json:"correction"`
	Archetype     map[string]*ArchetypePref `json:"archetype"`
}

type persistedStats struct {
	PatternsLearned    int `json:"patternsLearned"`
	AdaptationsApplied int `json:"adaptationsApplied"`
}

// snapshotLocked marshals the current state into the persisted documents.
// Callers hold mu.
func (s *Store) snapshotLocked() (patternsBlob, historyBlob []byte, err error) {
	doc := stateDoc{
		Version:   StateVersion,
		Timestamp: s.clock().UnixMilli(),
		Patterns:  s.patterns,
		Rules:     s.rules,
		Categories: categoriesDoc{
			Pronunciation: make(map[string]float64, len(s.rules)),
			Preference:    make(map[string]int),
			Correction:    s.rejections,
			Archetype:     s.archetypePrefs,
		},
		Stats: persistedStats{
			PatternsLearned:    s.stats.PatternsLearned,
			AdaptationsApplied: s.stats.AdaptationsApplied,
		},
		SetAccuracy: s.setAccuracy,
	}
	for k, r := range s.rules {
		doc.Categories.Pronunciation[k] = r.Strength
	}
	for _, p := range s.patterns {
		doc.Categories.Preference[p.TargetBaseName] += p.Successes
	}

	patternsBlob, err = json.Marshal(doc)
	if err != nil {
		return nil, nil, fmt.Errorf("learning: marshal state: %w", err)
	}
	historyBlob, err = json.Marshal(s.history)
	if err != nil {
		return nil, nil, fmt.Errorf("learning: marshal history: %w", err)
	}
	return patternsBlob, historyBlob, nil
}

// Persist serializes the full store under its two keys. Persist calls are
// serialized by the store; a Persist that arrives while another write is
// in flight coalesces with it into one further write. A failed write
// leaves in-memory state untouched and the next Persist retries.
func (s *Store) Persist(ctx context.Context) error {
	s.mu.Lock()
	if s.persisting {
		s.persistPending = true
		s.mu.Unlock()
		return nil
	}
	s.persisting = true

	for {
		patternsBlob, historyBlob, err := s.snapshotLocked()
		if err != nil {
			s.persisting = false
			s.persistPending = false
			s.mu.Unlock()
			return err
		}
		s.mu.Unlock()

		writeErr := s.kv.Set(ctx, PatternsKey, patternsBlob)
		if writeErr == nil {
			writeErr = s.kv.Set(ctx, HistoryKey, historyBlob)
		}

		s.mu.Lock()
		if writeErr != nil {
			s.persisting = false
			s.persistPending = false
			s.mu.Unlock()
			s.log.Warn("persist failed; state kept in memory", "err", writeErr)
			return fault.Wrap(fault.KindNetwork, "persist learning state", writeErr)
		}
		if !s.persistPending {
			s.persisting = false
			s.mu.Unlock()
			return nil
		}
		s.persistPending = false
		s.stats.CoalescedPersists++
	}
}

// Load reconstructs the store from the persisted blobs. Missing blobs
// yield an empty store. Individual pattern records that fail schema
// checks are skipped and counted; the rest load normally. Load is
// idempotent.
func (s *Store) Load(ctx context.Context) error {
	patternsBlob, err := s.kv.Get(ctx, PatternsKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		patternsBlob = nil
	} else if err != nil {
		return fault.Wrap(fault.KindNetwork, "load learning state", err)
	}

	historyBlob, err := s.kv.Get(ctx, HistoryKey)
	if errors.Is(err, kvstore.ErrNotFound) {
		historyBlob = nil
	} else if err != nil {
		return fault.Wrap(fault.KindNetwork, "load history", err)
	}

	var doc stateDoc
	if patternsBlob != nil {
		if err := json.Unmarshal(patternsBlob, &doc); err != nil {
			return fault.Wrap(fault.KindBadFormat, "parse learning state", err)
		}
		if doc.Version != StateVersion {
			return fault.Newf(fault.KindBadFormat, "unknown state version %q", doc.Version)
		}
	}

	var history []InteractionRecord
	if historyBlob != nil {
		if err := json.Unmarshal(historyBlob, &history); err != nil {
			return fault.Wrap(fault.KindBadFormat, "parse history", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetStateLocked()

	skipped := 0
	for k, p := range doc.Patterns {
		if p == nil || !p.valid() {
			skipped++
			continue
		}
		s.patterns[k] = p
	}
	if skipped > 0 {
		s.log.Warn("skipped corrupt pattern records on load", "skipped", skipped)
	}
	s.stats.SkippedOnLastLoad = skipped

	for k, r := range doc.Rules {
		if r != nil && r.From != "" && r.To != "" {
			s.rules[k] = r
		}
	}
	for k, r := range doc.Categories.Correction {
		if r != nil && r.VoiceInput != "" && r.RejectedBaseName != "" {
			s.rejections[k] = r
		}
	}
	for name, pref := range doc.Categories.Archetype {
		if pref != nil {
			s.archetypePrefs[name] = pref
		}
	}
	for set, window := range doc.SetAccuracy {
		if len(window) > s.setAccuracyLen {
			window = window[len(window)-s.setAccuracyLen:]
		}
		s.setAccuracy[set] = window
	}

	if len(history) > s.historyCapacity {
		history = history[len(history)-s.historyCapacity:]
	}
	s.history = history
	s.stats.PatternsLearned = doc.Stats.PatternsLearned
	s.stats.AdaptationsApplied = doc.Stats.AdaptationsApplied
	s.updateAccuracyCachesLocked()
	return nil
}

// Reset clears all in-memory state and removes the persisted blobs.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	s.resetStateLocked()
	s.mu.Unlock()

	if err := s.kv.Remove(ctx, PatternsKey); err != nil {
		return fault.Wrap(fault.KindNetwork, "remove persisted state", err)
	}
	if err := s.kv.Remove(ctx, HistoryKey); err != nil {
		return fault.Wrap(fault.KindNetwork, "remove persisted history", err)
	}
	return nil
}

// ExportPatterns produces the versioned pattern document as a blob.
func (s *Store) ExportPatterns() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, _, err := s.snapshotLocked()
	return blob, err
}

// ImportPatterns merges (or replaces) store state from a previously
// exported document. An unknown version or malformed blob is rejected
// with a BadFormat error and leaves the store unchanged. With merge,
// colliding patterns keep the higher reinforcement count and colliding
// rules and rejections keep the higher strength.
func (s *Store) ImportPatterns(blob []byte, merge bool) error {
	var doc stateDoc
	if err := json.Unmarshal(blob, &doc); err != nil {
		return fault.Wrap(fault.KindBadFormat, "parse imported patterns", err)
	}
	if doc.Version != StateVersion {
		return fault.Newf(fault.KindBadFormat, "unknown import version %q", doc.Version)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !merge {
		s.resetStateLocked()
	}

	for k, p := range doc.Patterns {
		if p == nil || !p.valid() {
			continue
		}
		if existing, ok := s.patterns[k]; ok && existing.Reinforcements >= p.Reinforcements {
			continue
		}
		s.patterns[k] = p
	}
	for k, r := range doc.Rules {
		if r == nil || r.From == "" || r.To == "" {
			continue
		}
		if existing, ok := s.rules[k]; ok && existing.Strength >= r.Strength {
			continue
		}
		s.rules[k] = r
	}
	for k, r := range doc.Categories.Correction {
		if r == nil || r.VoiceInput == "" || r.RejectedBaseName == "" {
			continue
		}
		if existing, ok := s.rejections[k]; ok && existing.Strength >= r.Strength {
			continue
		}
		s.rejections[k] = r
	}
	for name, pref := range doc.Categories.Archetype {
		if pref == nil {
			continue
		}
		if existing, ok := s.archetypePrefs[name]; ok && existing.Strength >= pref.Strength {
			continue
		}
		s.archetypePrefs[name] = pref
	}
	return nil
}
