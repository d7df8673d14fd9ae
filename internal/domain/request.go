package domain

// TrackRequest registers a session created by the "start analysis" call.
type TrackRequest struct {
	SessionID   string        `json:"session_id"`
	MarketType  MarketType    `json:"market_type"`
	Ticker      string        `json:"ticker"`
	DisplayName string        `json:"display_name,omitempty"`
	Status      SessionStatus `json:"status,omitempty"`

	Stock  *StockInstrument  `json:"stock,omitempty"`
	Coin   *CoinInstrument   `json:"coin,omitempty"`
	Kiwoom *KiwoomInstrument `json:"kiwoom,omitempty"`
}

// DecisionRequest is the body of a human approval decision.
type DecisionRequest struct {
	Decision Decision `json:"decision"`
	Feedback string   `json:"feedback,omitempty"`
}

// RemoveRequest carries the caller's view of the session being closed.
type RemoveRequest struct {
	MarketType MarketType    `json:"market_type,omitempty" query:"market_type"`
	Status     SessionStatus `json:"status,omitempty" query:"status"`
}

// ActiveSessionsResponse is returned by the active sessions endpoint.
type ActiveSessionsResponse struct {
	Sessions []Summary `json:"sessions"`
	Capacity Capacity  `json:"capacity"`
	// Deciding lists sessions whose decision is being submitted.
	Deciding []string `json:"deciding"`
	// LegacyKiwoom is the single-slot kiwoom field older clients read.
	LegacyKiwoom *Summary `json:"legacy_kiwoom,omitempty"`
}

// HistoryResponse is returned by the history endpoint.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
}

// Snapshot is the server's full view of session state, used for rebuilds.
// Kiwoom may arrive in both the multi list and the legacy single field.
type Snapshot struct {
	Stock        *Session  `json:"stock,omitempty"`
	Coin         *Session  `json:"coin,omitempty"`
	Kiwoom       []Session `json:"kiwoom_sessions,omitempty"`
	LegacyKiwoom *Session  `json:"kiwoom,omitempty"`
}
