package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLabel(t *testing.T) {
	tests := []struct {
		name string
		sess Session
		want string
	}{
		{"stock name", Session{MarketType: MarketStock, Ticker: "AAPL", Stock: &StockInstrument{Symbol: "AAPL", Name: "Apple Inc."}}, "Apple Inc."},
		{"coin korean name", Session{MarketType: MarketCoin, Ticker: "KRW-BTC", Coin: &CoinInstrument{Market: "KRW-BTC", KoreanName: "비트코인"}}, "비트코인"},
		{"kiwoom stock name", Session{MarketType: MarketKiwoom, Ticker: "005930", Kiwoom: &KiwoomInstrument{StockCode: "005930", StockName: "삼성전자"}}, "삼성전자"},
		{"display name fallback", Session{MarketType: MarketCoin, Ticker: "KRW-ETH", DisplayName: "이더리움"}, "이더리움"},
		{"ticker fallback", Session{MarketType: MarketStock, Ticker: "TSLA", Stock: &StockInstrument{Symbol: "TSLA"}}, "TSLA"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.Label())
		})
	}
}

func TestSessionInstrument(t *testing.T) {
	s := Session{MarketType: MarketKiwoom, Ticker: "000660", DisplayName: "SK하이닉스"}
	s.Instrument()
	require.NotNil(t, s.Kiwoom)
	assert.Equal(t, "000660", s.Kiwoom.StockCode)
	assert.Equal(t, "SK하이닉스", s.Kiwoom.StockName)
	assert.Nil(t, s.Stock)
	assert.Nil(t, s.Coin)

	given := &CoinInstrument{Market: "KRW-BTC", KoreanName: "비트코인"}
	c := Session{MarketType: MarketCoin, Ticker: "KRW-BTC", Coin: given}
	c.Instrument()
	assert.Same(t, given, c.Coin)
}

func TestSessionClone(t *testing.T) {
	orig := Session{
		SessionID:     "s1",
		MarketType:    MarketStock,
		ReasoningLog:  []string{"a"},
		TradeProposal: &TradeProposal{Action: ActionBuy, Quantity: decimal.NewFromInt(10)},
		Stock:         &StockInstrument{Symbol: "AAPL"},
	}
	cp := orig.Clone()
	cp.ReasoningLog[0] = "changed"
	cp.TradeProposal.Action = ActionSell
	cp.Stock.Symbol = "MSFT"

	assert.Equal(t, "a", orig.ReasoningLog[0])
	assert.Equal(t, ActionBuy, orig.TradeProposal.Action)
	assert.Equal(t, "AAPL", orig.Stock.Symbol)
	assert.Nil(t, (*TradeProposal)(nil).Clone())
}

func TestSummarize(t *testing.T) {
	s := Session{
		SessionID:     "k1",
		MarketType:    MarketKiwoom,
		Ticker:        "005930",
		Status:        StatusAwaitingApproval,
		ReasoningLog:  []string{"a", "b"},
		TradeProposal: &TradeProposal{Action: ActionHold},
		Kiwoom:        &KiwoomInstrument{StockCode: "005930", StockName: "삼성전자"},
	}
	sum := s.Summarize()
	assert.Equal(t, "삼성전자", sum.DisplayName)
	assert.True(t, sum.HasProposal)
	assert.Equal(t, 2, sum.ReasoningCount)
	cp := s.Clone()
	assert.Equal(t, sum, cp.Summarize())
}

func TestStatusPredicates(t *testing.T) {
	for _, s := range []SessionStatus{StatusCompleted, StatusError, StatusCancelled} {
		assert.True(t, s.IsTerminal(), s)
		assert.False(t, s.IsActive(), s)
	}
	for _, s := range []SessionStatus{StatusRunning, StatusAwaitingApproval} {
		assert.True(t, s.IsActive(), s)
		assert.False(t, s.IsTerminal(), s)
	}
	assert.False(t, StatusQueued.IsActive())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusIdle.IsActive())
	assert.False(t, SessionStatus("paused").Valid())
	assert.True(t, MarketKiwoom.MultiSlot())
	assert.False(t, MarketCoin.MultiSlot())
	assert.False(t, MarketType("forex").Valid())
	assert.False(t, Decision("maybe").Valid())
}
