// Package domain defines the core domain models for the session orchestrator.
package domain

// MarketType identifies the venue a session runs against.
type MarketType string

const (
	MarketStock  MarketType = "stock"
	MarketCoin   MarketType = "coin"
	MarketKiwoom MarketType = "kiwoom"
)

// Markets lists every market in registry display order.
var Markets = []MarketType{MarketStock, MarketCoin, MarketKiwoom}

// Valid reports whether m is one of the known markets.
func (m MarketType) Valid() bool {
	switch m {
	case MarketStock, MarketCoin, MarketKiwoom:
		return true
	}
	return false
}

// MultiSlot reports whether the market holds several concurrent sessions.
func (m MarketType) MultiSlot() bool {
	return m == MarketKiwoom
}

// SessionStatus represents the status of an analysis session.
type SessionStatus string

const (
	StatusIdle             SessionStatus = "idle"
	StatusQueued           SessionStatus = "queued"
	StatusRunning          SessionStatus = "running"
	StatusAwaitingApproval SessionStatus = "awaiting_approval"
	StatusCompleted        SessionStatus = "completed"
	StatusError            SessionStatus = "error"
	StatusCancelled        SessionStatus = "cancelled"
)

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusQueued, StatusRunning, StatusAwaitingApproval,
		StatusCompleted, StatusError, StatusCancelled:
		return true
	}
	return false
}

// IsActive is the activity predicate: the session counts toward the
// concurrency ceiling and appears in the active view.
func (s SessionStatus) IsActive() bool {
	return s == StatusRunning || s == StatusAwaitingApproval
}

// IsTerminal reports whether no further transitions are allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// EventType represents the kind of an inbound workflow event.
type EventType string

const (
	EventStageUpdate     EventType = "stage_update"
	EventReasoningAppend EventType = "reasoning_append"
	EventProposalReady   EventType = "proposal_ready"
	EventCompleted       EventType = "completed"
	EventError           EventType = "error"
	EventCancelled       EventType = "cancelled"
)

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventStageUpdate, EventReasoningAppend, EventProposalReady,
		EventCompleted, EventError, EventCancelled:
		return true
	}
	return false
}

// Decision is a human verdict on a trade proposal.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// Valid reports whether d is approved or rejected.
func (d Decision) Valid() bool {
	return d == DecisionApproved || d == DecisionRejected
}

// TradeAction is the recommended side of a proposal.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionHold TradeAction = "HOLD"
)

// RejectPolicy selects where a session goes after its proposal is rejected.
type RejectPolicy string

const (
	// RejectContinue returns the session to running; the workflow may go on.
	RejectContinue RejectPolicy = "continue"
	// RejectEnd completes the session without a proposal.
	RejectEnd RejectPolicy = "end"
)
