package session

import (
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// Recorder receives history snapshots taken by the store.
type Recorder interface {
	Append(entry domain.HistoryEntry)
}

// Observer is called after each mutation that changed state.
type Observer func(change domain.Change)

// Config holds store configuration.
type Config struct {
	Ceiling      int
	RejectPolicy domain.RejectPolicy
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Ceiling:      3,
		RejectPolicy: domain.RejectContinue,
	}
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder sets the history recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the state container for all three market slices.
type Store struct {
	cfg      Config
	logger   *logrus.Entry
	now      func() time.Time
	recorder Recorder

	mu      sync.RWMutex
	slices  map[domain.MarketType]*slice
	index   map[string]domain.MarketType // session id → owning market
	version uint64
	active  []domain.Summary

	obsMu     sync.Mutex
	observers map[uint64]Observer
	nextObsID uint64

	// queue holds changes not yet delivered, in version order. It is
	// appended under mu; at most one goroutine drains it at a time.
	qmu         sync.Mutex
	queue       []domain.Change
	dispatching bool
}

// NewStore creates an empty store with every slice idle.
func NewStore(cfg Config, opts ...Option) *Store {
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = DefaultConfig().Ceiling
	}
	if cfg.RejectPolicy == "" {
		cfg.RejectPolicy = domain.RejectContinue
	}

	s := &Store{
		cfg:       cfg,
		now:       time.Now,
		slices:    make(map[domain.MarketType]*slice, len(domain.Markets)),
		index:     make(map[string]domain.MarketType),
		active:    []domain.Summary{},
		observers: make(map[uint64]Observer),
	}
	for _, m := range domain.Markets {
		s.slices[m] = newSlice(m)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	s.logger = s.logger.WithField("component", "session_store")
	return s
}

// pending collects side effects to run after the lock is released.
type pending struct {
	entries []domain.HistoryEntry
}

// commitLocked bumps the version, refreshes the active view and queues the
// change for observers. Caller holds s.mu.
func (s *Store) commitLocked(p *pending, change domain.Change) {
	s.version++
	change.Version = s.version
	s.refreshActiveLocked()

	s.qmu.Lock()
	s.queue = append(s.queue, change)
	s.qmu.Unlock()
}

func (s *Store) snapshotLocked(p *pending, sess *domain.Session) {
	p.entries = append(p.entries, domain.HistoryEntry{
		ID:            uuid.NewString(),
		SessionID:     sess.SessionID,
		Ticker:        sess.Ticker,
		DisplayName:   sess.Label(),
		MarketType:    sess.MarketType,
		Timestamp:     s.now(),
		Status:        sess.Status,
		TradeProposal: sess.TradeProposal.Clone(),
	})
}

// publish records history and notifies observers. Must not hold s.mu.
func (s *Store) publish(p *pending) {
	if s.recorder != nil {
		for _, e := range p.entries {
			s.recorder.Append(e)
		}
	}
	s.dispatch()
}

// dispatch delivers queued changes unless another call is already doing so,
// in which case that call picks them up. This makes mutations from inside an
// observer safe: they enqueue and return.
func (s *Store) dispatch() {
	s.qmu.Lock()
	if s.dispatching {
		s.qmu.Unlock()
		return
	}
	s.dispatching = true
	s.qmu.Unlock()

	drained := false
	defer func() {
		if !drained {
			// An observer panicked.
			s.qmu.Lock()
			s.dispatching = false
			s.qmu.Unlock()
		}
	}()

	for {
		s.qmu.Lock()
		batch := s.queue
		s.queue = nil
		if len(batch) == 0 {
			s.dispatching = false
			s.qmu.Unlock()
			drained = true
			return
		}
		s.qmu.Unlock()

		obs := s.observerList()
		for _, c := range batch {
			for _, fn := range obs {
				fn(c)
			}
		}
	}
}

func (s *Store) observerList() []Observer {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	ids := make([]uint64, 0, len(s.observers))
	for id := range s.observers {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	obs := make([]Observer, 0, len(ids))
	for _, id := range ids {
		obs = append(obs, s.observers[id])
	}
	return obs
}

// Subscribe registers fn for change notifications. The returned func
// removes the registration.
//
// Observers run one at a time, outside the store lock, and see changes in
// version order. fn may call back into the store; a change it causes is
// delivered after fn returns, possibly on another mutating goroutine.
func (s *Store) Subscribe(fn Observer) func() {
	s.obsMu.Lock()
	s.nextObsID++
	id := s.nextObsID
	s.observers[id] = fn
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

// Track registers a session created by the external start-analysis call.
// Tracking an id that already lives in the same market is a no-op.
func (s *Store) Track(req domain.TrackRequest) (domain.Session, error) {
	const op = "track"
	if strings.TrimSpace(req.SessionID) == "" {
		return domain.Session{}, domain.NewError(domain.KindInvalidArgument, op, "", "session_id is required")
	}
	if !req.MarketType.Valid() {
		return domain.Session{}, domain.NewError(domain.KindInvalidArgument, op, req.SessionID, "unknown market %q", req.MarketType)
	}
	if strings.TrimSpace(req.Ticker) == "" {
		return domain.Session{}, domain.NewError(domain.KindInvalidArgument, op, req.SessionID, "ticker is required")
	}
	status := req.Status
	if status == "" {
		status = domain.StatusQueued
	}
	if status != domain.StatusQueued && status != domain.StatusRunning {
		return domain.Session{}, domain.NewError(domain.KindInvalidArgument, op, req.SessionID, "initial status must be queued or running, got %q", status)
	}

	var p pending
	s.mu.Lock()
	if owner, ok := s.index[req.SessionID]; ok {
		if owner != req.MarketType {
			s.mu.Unlock()
			return domain.Session{}, domain.NewError(domain.KindPreconditionFailed, op, req.SessionID, "session already tracked in %s", owner)
		}
		_, existing := s.slices[owner].find(req.SessionID)
		cp := existing.Clone()
		s.mu.Unlock()
		return cp, nil
	}

	now := s.now()
	sess := &domain.Session{
		SessionID:    req.SessionID,
		MarketType:   req.MarketType,
		Ticker:       req.Ticker,
		DisplayName:  req.DisplayName,
		Status:       status,
		ReasoningLog: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
		Stock:        req.Stock,
		Coin:         req.Coin,
		Kiwoom:       req.Kiwoom,
	}
	*sess = sess.Clone() // detach caller-owned instrument pointers
	sess.Instrument()

	if evicted := s.slices[req.MarketType].put(sess); evicted != nil {
		delete(s.index, evicted.SessionID)
		fields := logrus.Fields{"market": req.MarketType, "evicted": evicted.SessionID, "session_id": sess.SessionID}
		if evicted.Status.IsActive() {
			s.logger.WithFields(fields).Warn("replacing active session in single-slot market")
		} else {
			s.logger.WithFields(fields).Debug("replacing session in single-slot market")
		}
	}
	s.index[sess.SessionID] = req.MarketType
	s.commitLocked(&p, domain.Change{SessionID: sess.SessionID, Market: sess.MarketType, Status: sess.Status, Reason: domain.ChangeTracked})
	cp := sess.Clone()
	s.mu.Unlock()

	s.publish(&p)
	return cp, nil
}

// ApplyEvent routes ev to the slice owning sessionID.
// Unknown or stale ids fail with a routing mismatch and change nothing.
func (s *Store) ApplyEvent(sessionID string, ev domain.Event) error {
	return s.applyEvent("", sessionID, ev)
}

// ApplyMarketEvent is ApplyEvent with an explicit market hint; the event is
// dropped unless the hinted market owns the session.
func (s *Store) ApplyMarketEvent(market domain.MarketType, sessionID string, ev domain.Event) error {
	return s.applyEvent(market, sessionID, ev)
}

func (s *Store) applyEvent(hint domain.MarketType, sessionID string, ev domain.Event) error {
	log := s.logger.WithFields(logrus.Fields{"session_id": sessionID, "event": ev.Type})
	if ev.SessionID != "" && ev.SessionID != sessionID {
		log.WithField("event_session_id", ev.SessionID).Debug("dropping event addressed to another session")
		return domain.NewError(domain.KindRoutingMismatch, string(ev.Type), sessionID, "event addressed to %s", ev.SessionID)
	}

	var p pending
	s.mu.Lock()
	market, ok := s.index[sessionID]
	if !ok || (hint != "" && hint != market) {
		s.mu.Unlock()
		log.Debug("dropping event for unknown or stale session")
		return domain.NewError(domain.KindRoutingMismatch, string(ev.Type), sessionID, "")
	}
	_, sess := s.slices[market].find(sessionID)

	prev := sess.Status
	if err := transition(sess, ev, s.now()); err != nil {
		s.mu.Unlock()
		log.WithError(err).Debug("event rejected by state machine")
		return err
	}
	if sess.Status != prev && snapshotWorthy(sess.Status) {
		s.snapshotLocked(&p, sess)
	}
	s.commitLocked(&p, domain.Change{SessionID: sessionID, Market: market, Status: sess.Status, Reason: domain.ChangeEvent})
	s.mu.Unlock()

	s.publish(&p)
	return nil
}

// ResolveApproval commits a decision that the remote side has already
// acknowledged. Approved sessions complete with their proposal; rejected ones
// lose the proposal and move per the configured RejectPolicy.
func (s *Store) ResolveApproval(sessionID string, decision domain.Decision) (domain.Session, error) {
	const op = "resolve_approval"
	if !decision.Valid() {
		return domain.Session{}, domain.NewError(domain.KindInvalidArgument, op, sessionID, "unknown decision %q", decision)
	}

	var p pending
	s.mu.Lock()
	market, ok := s.index[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, domain.NewError(domain.KindRoutingMismatch, op, sessionID, "")
	}
	_, sess := s.slices[market].find(sessionID)
	if err := checkPending(op, sess); err != nil {
		s.mu.Unlock()
		return domain.Session{}, err
	}

	sess.CurrentStage = ""
	switch decision {
	case domain.DecisionApproved:
		sess.Status = domain.StatusCompleted
	case domain.DecisionRejected:
		sess.TradeProposal = nil
		if s.cfg.RejectPolicy == domain.RejectEnd {
			sess.Status = domain.StatusCompleted
		} else {
			sess.Status = domain.StatusRunning
		}
	}
	sess.UpdatedAt = s.now()
	if snapshotWorthy(sess.Status) {
		s.snapshotLocked(&p, sess)
	}
	s.commitLocked(&p, domain.Change{SessionID: sessionID, Market: market, Status: sess.Status, Reason: domain.ChangeDecision})
	cp := sess.Clone()
	s.mu.Unlock()

	s.publish(&p)
	return cp, nil
}

// Resume returns a session awaiting approval to running when its proposal
// was settled outside this process. The proposal is dropped and stage
// becomes the current stage.
func (s *Store) Resume(sessionID, stage string) (domain.Session, error) {
	const op = "resume"
	var p pending
	s.mu.Lock()
	market, ok := s.index[sessionID]
	if !ok {
		s.mu.Unlock()
		return domain.Session{}, domain.NewError(domain.KindRoutingMismatch, op, sessionID, "")
	}
	_, sess := s.slices[market].find(sessionID)
	if sess.Status != domain.StatusAwaitingApproval {
		s.mu.Unlock()
		return domain.Session{}, domain.NewError(domain.KindInvalidTransition, op, sessionID, "session is %s, not awaiting approval", sess.Status)
	}

	sess.Status = domain.StatusRunning
	sess.TradeProposal = nil
	sess.CurrentStage = stage
	sess.UpdatedAt = s.now()
	s.commitLocked(&p, domain.Change{SessionID: sessionID, Market: market, Status: sess.Status, Reason: domain.ChangeResumed})
	cp := sess.Clone()
	s.mu.Unlock()

	s.publish(&p)
	return cp, nil
}

// checkPending verifies a session is waiting on a human decision.
func checkPending(op string, sess *domain.Session) error {
	if sess.Status != domain.StatusAwaitingApproval {
		return domain.NewError(domain.KindPreconditionFailed, op, sess.SessionID, "session is %s, not awaiting approval", sess.Status)
	}
	if sess.TradeProposal == nil {
		return domain.NewError(domain.KindPreconditionFailed, op, sess.SessionID, "no pending trade proposal")
	}
	return nil
}

// RemoveSession removes exactly one session from its owning slice.
// It reports whether the id was present.
func (s *Store) RemoveSession(sessionID string) bool {
	var p pending
	s.mu.Lock()
	market, ok := s.index[sessionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.slices[market].remove(sessionID)
	delete(s.index, sessionID)
	s.commitLocked(&p, domain.Change{SessionID: sessionID, Market: market, Status: domain.StatusIdle, Reason: domain.ChangeRemoved})
	s.mu.Unlock()

	s.publish(&p)
	return true
}

// Reset returns a whole market slice to idle and reports the removed ids.
// For kiwoom this drops every sub-session.
func (s *Store) Reset(market domain.MarketType) []string {
	var p pending
	s.mu.Lock()
	sl, ok := s.slices[market]
	if !ok || len(sl.sessions) == 0 {
		s.mu.Unlock()
		return nil
	}
	ids := sl.reset()
	for _, id := range ids {
		delete(s.index, id)
	}
	s.commitLocked(&p, domain.Change{Market: market, Status: domain.StatusIdle, Reason: domain.ChangeReset})
	s.mu.Unlock()

	s.publish(&p)
	return ids
}

// Hydrate replaces every slice with the server's snapshot. Sessions are
// de-duplicated by id, first occurrence wins, in the order stock, coin,
// kiwoom list, legacy kiwoom.
func (s *Store) Hydrate(snap domain.Snapshot) error {
	const op = "hydrate"

	type placed struct {
		slot domain.MarketType
		sess domain.Session
	}
	var candidates []placed
	if snap.Stock != nil {
		candidates = append(candidates, placed{domain.MarketStock, *snap.Stock})
	}
	if snap.Coin != nil {
		candidates = append(candidates, placed{domain.MarketCoin, *snap.Coin})
	}
	for _, k := range snap.Kiwoom {
		candidates = append(candidates, placed{domain.MarketKiwoom, k})
	}
	if snap.LegacyKiwoom != nil {
		candidates = append(candidates, placed{domain.MarketKiwoom, *snap.LegacyKiwoom})
	}

	rebuilt := make(map[domain.MarketType]*slice, len(domain.Markets))
	for _, m := range domain.Markets {
		rebuilt[m] = newSlice(m)
	}
	index := make(map[string]domain.MarketType)
	now := s.now()

	for _, c := range candidates {
		sess := c.sess.Clone()
		if sess.SessionID == "" {
			return domain.NewError(domain.KindInvalidArgument, op, "", "%s session without id", c.slot)
		}
		if sess.MarketType == "" {
			sess.MarketType = c.slot
		}
		if sess.MarketType != c.slot {
			return domain.NewError(domain.KindInvalidArgument, op, sess.SessionID, "session of market %s in %s slot", sess.MarketType, c.slot)
		}
		if _, dup := index[sess.SessionID]; dup {
			continue
		}
		if !sess.Status.Valid() || sess.Status == domain.StatusIdle {
			return domain.NewError(domain.KindInvalidArgument, op, sess.SessionID, "invalid status %q", sess.Status)
		}
		if sess.TradeProposal != nil && sess.Status != domain.StatusAwaitingApproval && sess.Status != domain.StatusCompleted {
			s.logger.WithFields(logrus.Fields{"session_id": sess.SessionID, "status": sess.Status}).Warn("dropping proposal on session that cannot carry one")
			sess.TradeProposal = nil
		}
		if sess.Status != domain.StatusRunning {
			sess.CurrentStage = ""
		}
		if sess.ReasoningLog == nil {
			sess.ReasoningLog = []string{}
		}
		if sess.CreatedAt.IsZero() {
			sess.CreatedAt = now
		}
		if sess.UpdatedAt.IsZero() {
			sess.UpdatedAt = now
		}
		sess.Instrument()
		rebuilt[c.slot].put(&sess)
		index[sess.SessionID] = c.slot
	}

	var p pending
	s.mu.Lock()
	s.slices = rebuilt
	s.index = index
	s.commitLocked(&p, domain.Change{Reason: domain.ChangeHydrated})
	s.mu.Unlock()

	s.publish(&p)
	return nil
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(sessionID string) (domain.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	market, ok := s.index[sessionID]
	if !ok {
		return domain.Session{}, false
	}
	_, sess := s.slices[market].find(sessionID)
	return sess.Clone(), true
}

// MarketOf returns the market owning sessionID.
func (s *Store) MarketOf(sessionID string) (domain.MarketType, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.index[sessionID]
	return m, ok
}

// Sessions returns copies of every session in a market, in slice order.
func (s *Store) Sessions(market domain.MarketType) []domain.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slices[market]
	if !ok {
		return nil
	}
	out := make([]domain.Session, 0, len(sl.sessions))
	for _, sess := range sl.sessions {
		out = append(out, sess.Clone())
	}
	return out
}

// Status reports a market slice's status: idle when empty.
func (s *Store) Status(market domain.MarketType) domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.slices[market]
	if !ok {
		return domain.StatusIdle
	}
	return sl.status()
}

// Version is incremented on every state change.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
