package history

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/tests/helpers"
)

var base = time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC)

func entry(n int, market domain.MarketType) domain.HistoryEntry {
	return domain.HistoryEntry{
		ID:          fmt.Sprintf("%s-%d", market, n),
		SessionID:   fmt.Sprintf("sess-%d", n),
		Ticker:      fmt.Sprintf("TCK%d", n),
		DisplayName: fmt.Sprintf("Company %d", n),
		MarketType:  market,
		Timestamp:   base.Add(time.Duration(n) * time.Minute),
		Status:      domain.StatusCompleted,
	}
}

func TestAppendEvictsOldestPastCapacity(t *testing.T) {
	l := NewLedger(3)
	for i := 1; i <= 4; i++ {
		l.Append(entry(i, domain.MarketStock))
	}

	got := l.Query(domain.HistoryFilter{MarketType: domain.MarketStock})
	require.Len(t, got, 3)
	assert.Equal(t, "stock-4", got[0].ID)
	assert.Equal(t, "stock-2", got[2].ID)
	for _, e := range got {
		assert.NotEqual(t, "stock-1", e.ID)
	}
}

func TestCapacityIsPerMarket(t *testing.T) {
	l := NewLedger(2)
	for i := 1; i <= 3; i++ {
		l.Append(entry(i, domain.MarketStock))
	}
	l.Append(entry(10, domain.MarketKiwoom))

	assert.Equal(t, 2, l.Len(domain.MarketStock))
	assert.Equal(t, 1, l.Len(domain.MarketKiwoom))
	assert.Equal(t, 0, l.Len(domain.MarketCoin))
}

func TestQueryFilters(t *testing.T) {
	l := NewLedger(DefaultCapacity)
	l.Append(domain.HistoryEntry{ID: "1", Ticker: "AAPL", DisplayName: "Apple Inc.", MarketType: domain.MarketStock, Status: domain.StatusCompleted, Timestamp: base})
	l.Append(domain.HistoryEntry{ID: "2", Ticker: "KRW-BTC", DisplayName: "비트코인", MarketType: domain.MarketCoin, Status: domain.StatusAwaitingApproval, Timestamp: base.Add(time.Minute)})
	l.Append(domain.HistoryEntry{ID: "3", Ticker: "005930", DisplayName: "삼성전자", MarketType: domain.MarketKiwoom, Status: domain.StatusCancelled, Timestamp: base.Add(2 * time.Minute)})
	l.Append(domain.HistoryEntry{ID: "4", Ticker: "MSFT", DisplayName: "Microsoft", MarketType: domain.MarketStock, Status: domain.StatusError, Timestamp: base.Add(3 * time.Minute)})

	ids := func(entries []domain.HistoryEntry) []string {
		var out []string
		for _, e := range entries {
			out = append(out, e.ID)
		}
		return out
	}

	assert.Equal(t, []string{"4", "3", "2", "1"}, ids(l.Query(domain.HistoryFilter{})))
	assert.Equal(t, []string{"4", "1"}, ids(l.Query(domain.HistoryFilter{MarketType: domain.MarketStock})))
	assert.Equal(t, []string{"2"}, ids(l.Query(domain.HistoryFilter{Status: domain.StatusAwaitingApproval})))
	assert.Equal(t, []string{"1"}, ids(l.Query(domain.HistoryFilter{Text: "apple"})))
	assert.Equal(t, []string{"1"}, ids(l.Query(domain.HistoryFilter{Text: "aApL"})))
	assert.Equal(t, []string{"3"}, ids(l.Query(domain.HistoryFilter{Text: "삼성"})))
	assert.Equal(t, []string{"2"}, ids(l.Query(domain.HistoryFilter{Text: "btc"})))
	assert.Empty(t, l.Query(domain.HistoryFilter{MarketType: domain.MarketCoin, Text: "apple"}))
}

func TestQueryReturnsCopies(t *testing.T) {
	l := NewLedger(DefaultCapacity)
	l.Append(domain.HistoryEntry{ID: "1", MarketType: domain.MarketStock, TradeProposal: &domain.TradeProposal{Action: domain.ActionBuy}})

	got := l.Query(domain.HistoryFilter{})
	got[0].TradeProposal.Action = domain.ActionSell

	again := l.Query(domain.HistoryFilter{})
	assert.Equal(t, domain.ActionBuy, again[0].TradeProposal.Action)
}

func TestLedgerPersistsAndLoads(t *testing.T) {
	store := helpers.NewTestSQLiteStore(t)

	l := NewLedger(2, WithPersister(store))
	for i := 1; i <= 3; i++ {
		l.Append(entry(i, domain.MarketCoin))
	}
	l.Close()
	l.Close()

	restored := NewLedger(2, WithPersister(store))
	require.NoError(t, restored.Load(context.Background()))

	got := restored.Query(domain.HistoryFilter{MarketType: domain.MarketCoin})
	require.Len(t, got, 2)
	assert.Equal(t, "coin-3", got[0].ID)
	assert.Equal(t, "coin-2", got[1].ID)
}

type failingPersister struct{}

func (failingPersister) CreateHistoryEntry(context.Context, *domain.HistoryEntry) error {
	return errors.New("disk full")
}

func (failingPersister) ListHistoryEntries(context.Context, domain.MarketType, int) ([]domain.HistoryEntry, error) {
	return nil, errors.New("disk full")
}

func (failingPersister) PruneHistory(context.Context, domain.MarketType, int) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPersistenceFailureKeepsInMemoryEntry(t *testing.T) {
	l := NewLedger(5, WithPersister(failingPersister{}))
	l.Append(entry(1, domain.MarketStock))
	l.Close()

	assert.Equal(t, 1, l.Len(domain.MarketStock))
	assert.Error(t, l.Load(context.Background()))
	assert.Equal(t, 1, l.Len(domain.MarketStock), "failed load keeps current entries")
}

// blockingPersister holds every insert until release is closed.
type blockingPersister struct {
	release chan struct{}
	mu      sync.Mutex
	created []string
}

func (p *blockingPersister) CreateHistoryEntry(ctx context.Context, e *domain.HistoryEntry) error {
	<-p.release
	p.mu.Lock()
	p.created = append(p.created, e.ID)
	p.mu.Unlock()
	return nil
}

func (p *blockingPersister) ListHistoryEntries(context.Context, domain.MarketType, int) ([]domain.HistoryEntry, error) {
	return nil, nil
}

func (p *blockingPersister) PruneHistory(context.Context, domain.MarketType, int) (int64, error) {
	return 0, nil
}

func TestAppendDoesNotWaitForPersister(t *testing.T) {
	p := &blockingPersister{release: make(chan struct{})}
	l := NewLedger(5, WithPersister(p))

	done := make(chan struct{})
	go func() {
		l.Append(entry(1, domain.MarketStock))
		l.Append(entry(2, domain.MarketStock))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Append blocked on a slow persister")
	}
	assert.Equal(t, 2, l.Len(domain.MarketStock))

	close(p.release)
	l.Close()
	l.Append(entry(3, domain.MarketStock))

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.Equal(t, []string{"stock-1", "stock-2"}, p.created)
	assert.Equal(t, 3, l.Len(domain.MarketStock), "appends after Close stay in memory")
}
