package session

import "github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"

// slice holds the sessions of one market in insertion order. Single-slot
// markets hold at most one session.
type slice struct {
	market   domain.MarketType
	sessions []*domain.Session
}

func newSlice(market domain.MarketType) *slice {
	return &slice{market: market}
}

func (sl *slice) find(sessionID string) (int, *domain.Session) {
	for i, s := range sl.sessions {
		if s.SessionID == sessionID {
			return i, s
		}
	}
	return -1, nil
}

// put stores sess. On a single-slot market it returns the session it displaced.
func (sl *slice) put(sess *domain.Session) *domain.Session {
	if sl.market.MultiSlot() {
		sl.sessions = append(sl.sessions, sess)
		return nil
	}
	var evicted *domain.Session
	if len(sl.sessions) > 0 {
		evicted = sl.sessions[0]
	}
	sl.sessions = []*domain.Session{sess}
	return evicted
}

// remove drops one session without disturbing its siblings.
func (sl *slice) remove(sessionID string) bool {
	i, _ := sl.find(sessionID)
	if i < 0 {
		return false
	}
	sl.sessions = append(sl.sessions[:i:i], sl.sessions[i+1:]...)
	return true
}

// reset empties the slice and returns the removed ids.
func (sl *slice) reset() []string {
	ids := make([]string, 0, len(sl.sessions))
	for _, s := range sl.sessions {
		ids = append(ids, s.SessionID)
	}
	sl.sessions = nil
	return ids
}

// latest is the most recently stored session, or nil. For kiwoom this is
// the legacy single-slot projection.
func (sl *slice) latest() *domain.Session {
	if len(sl.sessions) == 0 {
		return nil
	}
	return sl.sessions[len(sl.sessions)-1]
}

// status is idle when the slice is empty, otherwise the latest session's.
func (sl *slice) status() domain.SessionStatus {
	if s := sl.latest(); s != nil {
		return s.Status
	}
	return domain.StatusIdle
}
