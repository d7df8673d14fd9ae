package domain

// RemoteStatus is the workflow service's view of one session, returned by
// its status endpoint and used for poll-based reconciliation.
type RemoteStatus struct {
	SessionID     string         `json:"session_id"`
	Status        SessionStatus  `json:"status"`
	CurrentStage  string         `json:"current_stage,omitempty"`
	ReasoningLog  []string       `json:"reasoning_log"`
	TradeProposal *TradeProposal `json:"trade_proposal,omitempty"`
	Error         string         `json:"error,omitempty"`
}
