package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/approval"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/policy"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/realtime"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/teardown"
)

// TrackSession registers a newly started session and attaches its push
// channel. A session displaced from a single-slot market loses its channel.
// A channel that could not be opened yet is retried in the background and
// does not fail the call.
func (s *Service) TrackSession(ctx context.Context, req domain.TrackRequest) (domain.Session, error) {
	var displaced []domain.Session
	if req.MarketType.Valid() && !req.MarketType.MultiSlot() {
		displaced = s.store.Sessions(req.MarketType)
	}

	sess, err := s.store.Track(req)
	if err != nil {
		return domain.Session{}, err
	}
	for _, old := range displaced {
		if old.SessionID != sess.SessionID {
			s.channels.Disconnect(old.SessionID)
		}
	}

	log := s.logger.WithFields(logrus.Fields{"session_id": sess.SessionID, "market": sess.MarketType})
	if err := s.channels.Connect(ctx, sess.SessionID, sess.MarketType); err != nil {
		log.WithError(err).Warn("push channel not connected yet")
	}
	log.Info("session tracked")
	return sess, nil
}

// GetSession returns one tracked session.
func (s *Service) GetSession(sessionID string) (domain.Session, error) {
	sess, ok := s.store.Session(sessionID)
	if !ok {
		return domain.Session{}, domain.NewError(domain.KindNotFound, "get_session", sessionID, "session not tracked")
	}
	return sess, nil
}

// ActiveSessions returns the active view with the advisory capacity, the
// sessions with a decision in flight and the legacy kiwoom projection.
func (s *Service) ActiveSessions() domain.ActiveSessionsResponse {
	resp := domain.ActiveSessionsResponse{
		Sessions: s.store.ActiveSessions(),
		Capacity: s.store.Capacity(),
		Deciding: []string{},
	}
	for _, sum := range resp.Sessions {
		if sum.Status == domain.StatusAwaitingApproval && s.gate.Pending(sum.SessionID) {
			resp.Deciding = append(resp.Deciding, sum.SessionID)
		}
	}
	if legacy, ok := s.store.LegacyKiwoom(); ok {
		resp.LegacyKiwoom = &legacy
	}
	return resp
}

// RemoveSession tears down one session. The store's view of market and
// status wins over the caller's; the caller's is used for sessions the store
// no longer knows, so a remote run can still be cancelled.
func (s *Service) RemoveSession(ctx context.Context, sessionID string, req domain.RemoveRequest) (teardown.Outcome, error) {
	const op = "remove_session"
	market, status := req.MarketType, req.Status
	if sess, ok := s.store.Session(sessionID); ok {
		market, status = sess.MarketType, sess.Status
	}
	if market == "" {
		return teardown.Outcome{}, domain.NewError(domain.KindNotFound, op, sessionID, "session not tracked and no market given")
	}
	if !market.Valid() {
		return teardown.Outcome{}, domain.NewError(domain.KindInvalidArgument, op, sessionID, "unknown market %q", market)
	}
	if status != "" && !status.Valid() {
		return teardown.Outcome{}, domain.NewError(domain.KindInvalidArgument, op, sessionID, "unknown status %q", status)
	}
	return s.teardown.Remove(ctx, sessionID, market, status), nil
}

// RecordDecision forwards a human decision through the approval gate. A
// decision that ends the session also closes its push channel.
func (s *Service) RecordDecision(ctx context.Context, sessionID string, req domain.DecisionRequest) (approval.Result, error) {
	res, err := s.gate.RecordDecision(ctx, sessionID, req.Decision, req.Feedback)
	if err != nil {
		return res, err
	}
	if res.Committed && res.Status.IsTerminal() {
		s.channels.Disconnect(sessionID)
	}
	return res, nil
}

// ResetMarket returns a market to idle and closes the channels of its
// sessions. Remote runs are not cancelled.
func (s *Service) ResetMarket(market domain.MarketType) ([]string, error) {
	if !market.Valid() {
		return nil, domain.NewError(domain.KindInvalidArgument, "reset_market", "", "unknown market %q", market)
	}
	ids := s.store.Reset(market)
	for _, id := range ids {
		s.channels.Disconnect(id)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Hydrate rebuilds the store from a server snapshot, closes channels of
// sessions that are gone and opens channels for live ones.
func (s *Service) Hydrate(ctx context.Context, snap domain.Snapshot) error {
	before := make(map[string]struct{})
	for _, m := range domain.Markets {
		for _, sess := range s.store.Sessions(m) {
			before[sess.SessionID] = struct{}{}
		}
	}

	if err := s.store.Hydrate(snap); err != nil {
		return err
	}

	for _, m := range domain.Markets {
		for _, sess := range s.store.Sessions(m) {
			delete(before, sess.SessionID)
			if sess.Status.IsTerminal() {
				s.channels.Disconnect(sess.SessionID)
				continue
			}
			if err := s.channels.Connect(ctx, sess.SessionID, m); err != nil {
				s.logger.WithFields(logrus.Fields{"session_id": sess.SessionID, "market": m}).
					WithError(err).Warn("push channel not connected yet")
			}
		}
	}
	for id := range before {
		s.channels.Disconnect(id)
	}
	return nil
}

// History queries the ledger.
func (s *Service) History(filter domain.HistoryFilter) ([]domain.HistoryEntry, error) {
	const op = "history"
	if filter.MarketType != "" && !filter.MarketType.Valid() {
		return nil, domain.NewError(domain.KindInvalidArgument, op, "", "unknown market %q", filter.MarketType)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, domain.NewError(domain.KindInvalidArgument, op, "", "unknown status %q", filter.Status)
	}
	return s.ledger.Query(filter), nil
}

// Admission evaluates whether a new session for market would fit. The
// answer is advisory; nothing is enforced here.
func (s *Service) Admission(ctx context.Context, market domain.MarketType) (policy.Admission, error) {
	if !market.Valid() {
		return policy.Admission{}, domain.NewError(domain.KindInvalidArgument, "admission", "", "unknown market %q", market)
	}
	return s.policyEngine.Evaluate(ctx, market, s.store.CountActive(), s.store.Capacity())
}

// Connectivity reports push channel state.
func (s *Service) Connectivity() realtime.Connectivity {
	return s.channels.Connectivity()
}
