package service

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Resync polls one session's remote state and applies any drift as
// ordinary events. It reports whether the session is finished (terminal or
// no longer tracked) afterwards, which makes it usable as a
// realtime.ResyncFunc.
func (s *Service) Resync(ctx context.Context, sessionID string, market domain.MarketType) bool {
	sess, err := s.resync(ctx, sessionID, market)
	if err != nil {
		s.logger.WithFields(logrus.Fields{"session_id": sessionID, "market": market}).
			WithError(err).Warn("resync failed")
	}
	if cur, ok := s.store.Session(sessionID); ok {
		sess = &cur
	}
	return sess == nil || sess.Status.IsTerminal()
}

// resync returns the local session before reconciliation, or nil when it is
// not tracked.
func (s *Service) resync(ctx context.Context, sessionID string, market domain.MarketType) (*domain.Session, error) {
	local, ok := s.store.Session(sessionID)
	if !ok || local.MarketType != market {
		return nil, nil
	}
	if local.Status.IsTerminal() || s.status == nil {
		return &local, nil
	}

	log := s.logger.WithFields(logrus.Fields{"session_id": sessionID, "market": market})
	remote, err := s.status.GetStatus(ctx, market, sessionID)
	if errors.Is(err, domain.ErrNotFound) {
		// The workflow service no longer knows the session; it will never
		// report an outcome.
		log.Info("session unknown to workflow service, marking it failed")
		remote = &domain.RemoteStatus{SessionID: sessionID, Status: domain.StatusError, Error: unknownRemoteReason}
	} else if err != nil {
		return &local, err
	}

	resume, evs := driftEvents(local, remote)
	if resume {
		if _, err := s.store.Resume(sessionID, remote.CurrentStage); err != nil {
			if errors.Is(err, domain.ErrRoutingMismatch) {
				return &local, nil
			}
			log.WithError(err).Debug("resume not applied")
		} else {
			log.Debug("proposal settled remotely, session resumed")
		}
	}
	for _, ev := range evs {
		ev.SessionID = sessionID
		ev.Ts = time.Now()
		if err := s.store.ApplyMarketEvent(market, sessionID, ev); err != nil {
			if errors.Is(err, domain.ErrRoutingMismatch) {
				// Removed meanwhile.
				return &local, nil
			}
			log.WithField("event", ev.Type).WithError(err).Debug("drift event not applied")
			continue
		}
		log.WithField("event", ev.Type).Debug("applied drift event")
	}
	return &local, nil
}

const unknownRemoteReason = "session unknown to workflow service"

// driftEvents converts the difference between local and remote state into
// the events that would have produced it. resume reports that a proposal
// pending locally was settled remotely and the workflow runs again; it is
// applied before the events. Reasoning entries carry their log position so
// a push frame for the same entry is dropped.
func driftEvents(local domain.Session, remote *domain.RemoteStatus) (resume bool, evs []domain.Event) {
	if remote == nil || local.Status.IsTerminal() {
		return false, nil
	}

	if n := len(local.ReasoningLog); len(remote.ReasoningLog) > n {
		for i, text := range remote.ReasoningLog[n:] {
			evs = append(evs, domain.Event{Type: domain.EventReasoningAppend, Text: text, Seq: n + i + 1})
		}
	}

	// Sessions leave queued only through running.
	start := func() {
		if local.Status == domain.StatusQueued {
			evs = append(evs, domain.Event{Type: domain.EventStageUpdate, Stage: remote.CurrentStage})
		}
	}

	switch remote.Status {
	case domain.StatusRunning:
		switch local.Status {
		case domain.StatusAwaitingApproval:
			resume = true
		case domain.StatusQueued:
			start()
		case domain.StatusRunning:
			if remote.CurrentStage != "" && remote.CurrentStage != local.CurrentStage {
				evs = append(evs, domain.Event{Type: domain.EventStageUpdate, Stage: remote.CurrentStage})
			}
		}
	case domain.StatusAwaitingApproval:
		if local.Status != domain.StatusAwaitingApproval && remote.TradeProposal != nil {
			start()
			evs = append(evs, domain.Event{Type: domain.EventProposalReady, Proposal: remote.TradeProposal.Clone()})
		}
	case domain.StatusCompleted:
		start()
		evs = append(evs, domain.Event{Type: domain.EventCompleted})
	case domain.StatusError:
		evs = append(evs, domain.Event{Type: domain.EventError, Error: remote.Error})
	case domain.StatusCancelled:
		evs = append(evs, domain.Event{Type: domain.EventCancelled})
	}
	return resume, evs
}

// ReconcileReport summarizes one reconciliation pass.
type ReconcileReport struct {
	Checked  int      `json:"checked"`
	Finished []string `json:"finished"`
	Failed   []string `json:"failed"`
}

// Reconcile resyncs every tracked, unfinished session whose push channel is
// down; a connected channel already delivers the same changes. Sessions
// that finished lose their channel; live sessions without one get it back.
func (s *Service) Reconcile(ctx context.Context) ReconcileReport {
	report := ReconcileReport{Finished: []string{}, Failed: []string{}}
	for _, m := range domain.Markets {
		for _, sess := range s.store.Sessions(m) {
			if ctx.Err() != nil {
				return report
			}
			if sess.Status.IsTerminal() || s.channels.Connected(sess.SessionID) {
				continue
			}
			report.Checked++

			log := s.logger.WithFields(logrus.Fields{"session_id": sess.SessionID, "market": m})
			if _, err := s.resync(ctx, sess.SessionID, m); err != nil {
				log.WithError(err).Warn("reconcile failed")
				report.Failed = append(report.Failed, sess.SessionID)
			}

			cur, ok := s.store.Session(sess.SessionID)
			switch {
			case !ok || cur.Status.IsTerminal():
				s.channels.Disconnect(sess.SessionID)
				report.Finished = append(report.Finished, sess.SessionID)
			case !s.channels.Has(sess.SessionID):
				if err := s.channels.Connect(ctx, sess.SessionID, m); err != nil {
					log.WithError(err).Debug("push channel still down")
				}
			}
		}
	}
	return report
}

// RunReconciler calls Reconcile every interval until ctx is done. A
// non-positive interval disables it.
func (s *Service) RunReconciler(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		s.logger.Info("reconciler disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report := s.Reconcile(ctx)
			if report.Checked > 0 {
				s.logger.WithFields(logrus.Fields{
					"checked":  report.Checked,
					"finished": len(report.Finished),
					"failed":   len(report.Failed),
				}).Debug("reconcile pass done")
			}
		}
	}
}
