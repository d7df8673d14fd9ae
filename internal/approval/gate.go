// Package approval gates trade proposals behind a human decision.
//
// A decision is only committed locally after the workflow service has
// acknowledged it, so a failed submission leaves the session awaiting
// approval and the user can retry.
package approval

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Submitter delivers a decision to the workflow service.
type Submitter interface {
	SubmitDecision(ctx context.Context, market domain.MarketType, sessionID string, decision domain.Decision, feedback string) error
}

// SessionStore is the part of session.Store the gate needs.
type SessionStore interface {
	Session(sessionID string) (domain.Session, bool)
	ResolveApproval(sessionID string, decision domain.Decision) (domain.Session, error)
}

// Result describes a recorded decision.
type Result struct {
	SessionID string               `json:"session_id"`
	Decision  domain.Decision      `json:"decision"`
	Status    domain.SessionStatus `json:"status"`
	// Committed is false when the session went away, or moved on, while
	// the submission was in flight.
	Committed bool `json:"committed"`
}

// Gate records approval decisions.
type Gate struct {
	store     SessionStore
	submitter Submitter
	timeout   time.Duration
	logger    *logrus.Entry

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// NewGate creates a gate. timeout bounds each remote submission; zero
// leaves it to the caller's context.
func NewGate(store SessionStore, submitter Submitter, timeout time.Duration, logger *logrus.Entry) *Gate {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Gate{
		store:     store,
		submitter: submitter,
		timeout:   timeout,
		logger:    logger.WithField("component", "approval_gate"),
		inFlight:  make(map[string]struct{}),
	}
}

// RecordDecision submits decision for sessionID and, once acknowledged,
// commits it to the store.
func (g *Gate) RecordDecision(ctx context.Context, sessionID string, decision domain.Decision, feedback string) (Result, error) {
	const op = "record_decision"
	if !decision.Valid() {
		return Result{}, domain.NewError(domain.KindInvalidArgument, op, sessionID, "unknown decision %q", decision)
	}

	sess, ok := g.store.Session(sessionID)
	if !ok {
		return Result{}, domain.NewError(domain.KindPreconditionFailed, op, sessionID, "session is not tracked")
	}
	if sess.Status != domain.StatusAwaitingApproval || sess.TradeProposal == nil {
		return Result{}, domain.NewError(domain.KindPreconditionFailed, op, sessionID, "no pending trade proposal (status %s)", sess.Status)
	}

	if !g.acquire(sessionID) {
		return Result{}, domain.NewError(domain.KindPreconditionFailed, op, sessionID, "a decision is already in flight")
	}
	defer g.release(sessionID)

	log := g.logger.WithFields(logrus.Fields{"session_id": sessionID, "market": sess.MarketType, "decision": decision})

	submitCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		submitCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.submitter.SubmitDecision(submitCtx, sess.MarketType, sessionID, decision, feedback); err != nil {
		log.WithError(err).Warn("decision submission failed")
		return Result{}, domain.WrapError(domain.KindRemoteCallFailed, op, sessionID, err)
	}

	updated, err := g.store.ResolveApproval(sessionID, decision)
	switch {
	case err == nil:
		log.WithField("status", updated.Status).Info("decision committed")
		return Result{SessionID: sessionID, Decision: decision, Status: updated.Status, Committed: true}, nil
	case errors.Is(err, domain.ErrRoutingMismatch):
		log.Info("session removed while decision was in flight")
		return Result{SessionID: sessionID, Decision: decision, Status: domain.StatusIdle}, nil
	case errors.Is(err, domain.ErrPreconditionFailed):
		status := domain.StatusIdle
		if cur, ok := g.store.Session(sessionID); ok {
			status = cur.Status
		}
		log.WithField("status", status).Info("session moved on while decision was in flight")
		return Result{SessionID: sessionID, Decision: decision, Status: status}, nil
	default:
		return Result{}, err
	}
}

// Pending reports whether a decision for sessionID is in flight.
func (g *Gate) Pending(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.inFlight[sessionID]
	return ok
}

func (g *Gate) acquire(sessionID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inFlight[sessionID]; busy {
		return false
	}
	g.inFlight[sessionID] = struct{}{}
	return true
}

func (g *Gate) release(sessionID string) {
	g.mu.Lock()
	delete(g.inFlight, sessionID)
	g.mu.Unlock()
}
