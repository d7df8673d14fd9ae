package session

import (
	"slices"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// refreshActiveLocked recomputes the active view. The previous slice is kept
// when the result is unchanged so readers see the same value. Caller holds s.mu.
func (s *Store) refreshActiveLocked() {
	next := s.computeActiveLocked()
	if slices.Equal(next, s.active) {
		return
	}
	s.active = next
}

// computeActiveLocked lists active sessions in the order stock, coin, kiwoom
// set order, then the legacy kiwoom projection if not already represented.
func (s *Store) computeActiveLocked() []domain.Summary {
	out := make([]domain.Summary, 0, s.cfg.Ceiling)
	seen := make(map[string]struct{})
	add := func(sess *domain.Session) {
		if sess == nil || !sess.Status.IsActive() {
			return
		}
		if _, dup := seen[sess.SessionID]; dup {
			return
		}
		seen[sess.SessionID] = struct{}{}
		out = append(out, sess.Summarize())
	}

	for _, m := range domain.Markets {
		for _, sess := range s.slices[m].sessions {
			add(sess)
		}
	}
	add(s.slices[domain.MarketKiwoom].latest())
	return out
}

// ActiveSessions returns every session satisfying the activity predicate.
//
// The returned slice is shared: with no intervening mutation repeated calls
// return the identical slice. Callers must not modify it.
func (s *Store) ActiveSessions() []domain.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// CountActive returns the number of active sessions per market.
func (s *Store) CountActive() map[domain.MarketType]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[domain.MarketType]int, len(domain.Markets))
	for _, m := range domain.Markets {
		counts[m] = 0
	}
	for _, sum := range s.active {
		counts[sum.MarketType]++
	}
	return counts
}

// Capacity reports the advisory concurrency ceiling. Exceeding it is
// possible; enforcement belongs to the session-creation collaborator.
func (s *Store) Capacity() domain.Capacity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	active := len(s.active)
	avail := s.cfg.Ceiling - active
	if avail < 0 {
		avail = 0
	}
	return domain.Capacity{Active: active, Ceiling: s.cfg.Ceiling, Available: avail}
}

// LegacyKiwoom projects the kiwoom slice onto the old single-slot field:
// the most recently tracked kiwoom session.
func (s *Store) LegacyKiwoom() (domain.Summary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess := s.slices[domain.MarketKiwoom].latest()
	if sess == nil {
		return domain.Summary{}, false
	}
	return sess.Summarize(), true
}
