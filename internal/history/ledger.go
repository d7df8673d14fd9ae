// Package history keeps the per-market ledger of session snapshots.
package history

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// DefaultCapacity is the number of entries kept per market.
const DefaultCapacity = 20

// writeBuffer is how many entries may wait for the persister.
const writeBuffer = 256

// writeTimeout bounds one insert plus prune.
const writeTimeout = 5 * time.Second

// Persister stores entries durably. *repository.SQLiteStore satisfies it.
type Persister interface {
	CreateHistoryEntry(ctx context.Context, entry *domain.HistoryEntry) error
	ListHistoryEntries(ctx context.Context, market domain.MarketType, limit int) ([]domain.HistoryEntry, error)
	PruneHistory(ctx context.Context, market domain.MarketType, keep int) (int64, error)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPersister mirrors every append to p.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persister = p }
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is an append-only, capped list of history entries per market,
// newest first. With a persister, writes happen on a background goroutine
// so Append never waits on the database; Close drains it.
type Ledger struct {
	capacity  int
	persister Persister
	logger    *logrus.Entry

	mu      sync.RWMutex
	entries map[domain.MarketType][]domain.HistoryEntry

	wmu     sync.Mutex
	writes  chan domain.HistoryEntry
	closed  bool
	written chan struct{}
}

// NewLedger creates an empty ledger. capacity <= 0 uses DefaultCapacity.
func NewLedger(capacity int, opts ...Option) *Ledger {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	l := &Ledger{
		capacity: capacity,
		entries:  make(map[domain.MarketType][]domain.HistoryEntry, len(domain.Markets)),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	l.logger = l.logger.WithField("component", "history")
	if l.persister != nil {
		l.writes = make(chan domain.HistoryEntry, writeBuffer)
		l.written = make(chan struct{})
		go l.writeLoop()
	}
	return l
}

// Append inserts entry at the head of its market's list, evicting the
// oldest entry past capacity, and queues it for the persister. Persistence
// failures are logged, not returned.
func (l *Ledger) Append(entry domain.HistoryEntry) {
	entry.TradeProposal = entry.TradeProposal.Clone()

	l.mu.Lock()
	list := l.entries[entry.MarketType]
	list = append(list, domain.HistoryEntry{})
	copy(list[1:], list)
	list[0] = entry
	if len(list) > l.capacity {
		list = list[:l.capacity]
	}
	l.entries[entry.MarketType] = list
	l.mu.Unlock()

	if l.persister == nil {
		return
	}
	l.wmu.Lock()
	defer l.wmu.Unlock()
	if l.closed {
		return
	}
	select {
	case l.writes <- entry:
	default:
		l.logger.WithFields(logrus.Fields{"session_id": entry.SessionID, "market": entry.MarketType}).
			Warn("history write buffer full, entry kept in memory only")
	}
}

func (l *Ledger) writeLoop() {
	defer close(l.written)
	for entry := range l.writes {
		l.persist(entry)
	}
}

func (l *Ledger) persist(entry domain.HistoryEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	log := l.logger.WithFields(logrus.Fields{"session_id": entry.SessionID, "market": entry.MarketType})
	if err := l.persister.CreateHistoryEntry(ctx, &entry); err != nil {
		log.WithError(err).Warn("failed to persist history entry")
		return
	}
	if _, err := l.persister.PruneHistory(ctx, entry.MarketType, l.capacity); err != nil {
		log.WithError(err).Warn("failed to prune history")
	}
}

// Close stops accepting writes and waits until queued entries are persisted.
// Appends after Close stay in memory. Safe to call more than once.
func (l *Ledger) Close() {
	if l.persister == nil {
		return
	}
	l.wmu.Lock()
	if !l.closed {
		l.closed = true
		close(l.writes)
	}
	l.wmu.Unlock()
	<-l.written
}

// Load replaces the in-memory lists with the newest persisted entries.
func (l *Ledger) Load(ctx context.Context) error {
	if l.persister == nil {
		return nil
	}
	loaded := make(map[domain.MarketType][]domain.HistoryEntry, len(domain.Markets))
	for _, m := range domain.Markets {
		entries, err := l.persister.ListHistoryEntries(ctx, m, l.capacity)
		if err != nil {
			return fmt.Errorf("failed to load %s history: %w", m, err)
		}
		loaded[m] = entries
	}

	l.mu.Lock()
	l.entries = loaded
	l.mu.Unlock()
	return nil
}

// Query returns copies of the entries matching filter, newest first.
func (l *Ledger) Query(filter domain.HistoryFilter) []domain.HistoryEntry {
	text := strings.ToLower(strings.TrimSpace(filter.Text))

	l.mu.RLock()
	var out []domain.HistoryEntry
	for _, m := range domain.Markets {
		if filter.MarketType != "" && filter.MarketType != m {
			continue
		}
		for _, e := range l.entries[m] {
			if filter.Status != "" && e.Status != filter.Status {
				continue
			}
			if text != "" && !strings.Contains(strings.ToLower(e.Ticker), text) &&
				!strings.Contains(strings.ToLower(e.DisplayName), text) {
				continue
			}
			e.TradeProposal = e.TradeProposal.Clone()
			out = append(out, e)
		}
	}
	l.mu.RUnlock()

	// Each market list is already newest first; a stable sort merges them.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Len returns the number of entries held for market.
func (l *Ledger) Len(market domain.MarketType) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries[market])
}

// Capacity returns the per-market cap.
func (l *Ledger) Capacity() int {
	return l.capacity
}
