package domain

import "time"

// HistoryEntry is an immutable snapshot of a session taken when it reached
// awaiting_approval or a terminal state.
type HistoryEntry struct {
	ID            string         `json:"id"`
	SessionID     string         `json:"session_id"`
	Ticker        string         `json:"ticker"`
	DisplayName   string         `json:"display_name"`
	MarketType    MarketType     `json:"market_type"`
	Timestamp     time.Time      `json:"timestamp"`
	Status        SessionStatus  `json:"status"`
	TradeProposal *TradeProposal `json:"trade_proposal,omitempty"`
}

// HistoryFilter narrows a history query. Zero fields match everything.
type HistoryFilter struct {
	MarketType MarketType    `json:"market_type,omitempty" query:"market_type"`
	Status     SessionStatus `json:"status,omitempty" query:"status"`
	Text       string        `json:"text,omitempty" query:"q"`
}
