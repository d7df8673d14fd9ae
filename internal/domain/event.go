package domain

import "time"

// Event is a single inbound workflow notification for one session.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	Stage     string         `json:"stage,omitempty"`
	Text      string         `json:"text,omitempty"`
	Proposal  *TradeProposal `json:"proposal,omitempty"`
	Error     string         `json:"error,omitempty"`
	// Seq is the 1-based position of a reasoning entry in the session's
	// log. Zero means the sender does not number entries.
	Seq int       `json:"seq,omitempty"`
	Ts  time.Time `json:"ts"`
}

// Change is delivered to registry observers after a mutation.
type Change struct {
	Version   uint64        `json:"version"`
	SessionID string        `json:"session_id,omitempty"`
	Market    MarketType    `json:"market,omitempty"`
	Status    SessionStatus `json:"status,omitempty"`
	Reason    string        `json:"reason"`
}

// Change reasons.
const (
	ChangeTracked  = "tracked"
	ChangeEvent    = "event"
	ChangeDecision = "decision"
	ChangeResumed  = "resumed"
	ChangeRemoved  = "removed"
	ChangeReset    = "reset"
	ChangeHydrated = "hydrated"
)
