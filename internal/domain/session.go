package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StockInstrument is the payload of a US equity session.
type StockInstrument struct {
	Symbol   string `json:"symbol"`
	Exchange string `json:"exchange,omitempty"`
	Name     string `json:"name,omitempty"`
}

// CoinInstrument is the payload of a crypto session. Market is the
// exchange code such as "KRW-BTC".
type CoinInstrument struct {
	Market      string `json:"market"`
	KoreanName  string `json:"korean_name,omitempty"`
	EnglishName string `json:"english_name,omitempty"`
}

// KiwoomInstrument is the payload of a Korean equity session.
type KiwoomInstrument struct {
	StockCode string `json:"stock_code"`
	StockName string `json:"stock_name,omitempty"`
}

// TradeProposal is the structured recommendation attached when a workflow
// reaches its decision stage.
type TradeProposal struct {
	Action     TradeAction         `json:"action"`
	Quantity   decimal.Decimal     `json:"quantity"`
	EntryPrice decimal.NullDecimal `json:"entry_price"`
	StopLoss   decimal.NullDecimal `json:"stop_loss"`
	TakeProfit decimal.NullDecimal `json:"take_profit"`
	RiskScore  float64             `json:"risk_score"`
	Rationale  string              `json:"rationale,omitempty"`
}

// Clone returns a copy of p, or nil.
func (p *TradeProposal) Clone() *TradeProposal {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Session is one running instance of a ticker analysis workflow.
//
// Exactly one of Stock, Coin or Kiwoom is set, matching MarketType.
type Session struct {
	SessionID     string         `json:"session_id"`
	MarketType    MarketType     `json:"market_type"`
	Ticker        string         `json:"ticker"`
	DisplayName   string         `json:"display_name"`
	Status        SessionStatus  `json:"status"`
	CurrentStage  string         `json:"current_stage,omitempty"`
	ReasoningLog  []string       `json:"reasoning_log"`
	TradeProposal *TradeProposal `json:"trade_proposal,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`

	Stock  *StockInstrument  `json:"stock,omitempty"`
	Coin   *CoinInstrument   `json:"coin,omitempty"`
	Kiwoom *KiwoomInstrument `json:"kiwoom,omitempty"`
}

// Clone returns a deep copy of s.
func (s *Session) Clone() Session {
	cp := *s
	if s.ReasoningLog != nil {
		cp.ReasoningLog = append([]string(nil), s.ReasoningLog...)
	}
	cp.TradeProposal = s.TradeProposal.Clone()
	if s.Stock != nil {
		v := *s.Stock
		cp.Stock = &v
	}
	if s.Coin != nil {
		v := *s.Coin
		cp.Coin = &v
	}
	if s.Kiwoom != nil {
		v := *s.Kiwoom
		cp.Kiwoom = &v
	}
	return cp
}

// Label derives the human-readable name shown on a session tile.
func (s *Session) Label() string {
	switch s.MarketType {
	case MarketStock:
		if s.Stock != nil && s.Stock.Name != "" {
			return s.Stock.Name
		}
	case MarketCoin:
		if s.Coin != nil && s.Coin.KoreanName != "" {
			return s.Coin.KoreanName
		}
	case MarketKiwoom:
		if s.Kiwoom != nil && s.Kiwoom.StockName != "" {
			return s.Kiwoom.StockName
		}
	}
	if s.DisplayName != "" {
		return s.DisplayName
	}
	return s.Ticker
}

// Instrument fills the market payload from the ticker and display name
// when the caller did not supply one.
func (s *Session) Instrument() {
	switch s.MarketType {
	case MarketStock:
		if s.Stock == nil {
			s.Stock = &StockInstrument{Symbol: s.Ticker, Name: s.DisplayName}
		}
	case MarketCoin:
		if s.Coin == nil {
			s.Coin = &CoinInstrument{Market: s.Ticker, KoreanName: s.DisplayName}
		}
	case MarketKiwoom:
		if s.Kiwoom == nil {
			s.Kiwoom = &KiwoomInstrument{StockCode: s.Ticker, StockName: s.DisplayName}
		}
	}
}

// Summary is the registry's read-only view of a session. It holds only
// comparable fields so two summaries of unchanged state compare equal.
type Summary struct {
	SessionID      string        `json:"session_id"`
	MarketType     MarketType    `json:"market_type"`
	Ticker         string        `json:"ticker"`
	DisplayName    string        `json:"display_name"`
	Status         SessionStatus `json:"status"`
	CurrentStage   string        `json:"current_stage,omitempty"`
	HasProposal    bool          `json:"has_proposal"`
	ReasoningCount int           `json:"reasoning_count"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Summarize builds the registry summary of s.
func (s *Session) Summarize() Summary {
	return Summary{
		SessionID:      s.SessionID,
		MarketType:     s.MarketType,
		Ticker:         s.Ticker,
		DisplayName:    s.Label(),
		Status:         s.Status,
		CurrentStage:   s.CurrentStage,
		HasProposal:    s.TradeProposal != nil,
		ReasoningCount: len(s.ReasoningLog),
		UpdatedAt:      s.UpdatedAt,
	}
}

// Capacity reports the advisory concurrency ceiling for display.
type Capacity struct {
	Active    int `json:"active"`
	Ceiling   int `json:"ceiling"`
	Available int `json:"available"`
}
