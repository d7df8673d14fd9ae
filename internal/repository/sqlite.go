package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// SQLiteStore persists history entries in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS history_entries (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ticker TEXT NOT NULL,
			market_type TEXT NOT NULL,
			status TEXT NOT NULL,
			ts DATETIME NOT NULL,
			trade_proposal TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_market_ts ON history_entries(market_type, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_history_session ON history_entries(session_id)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// display_name arrived after the first schema; add it for existing DBs.
	if err := s.ensureColumn("history_entries", "display_name", "ALTER TABLE history_entries ADD COLUMN display_name TEXT NOT NULL DEFAULT ''"); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateHistoryEntry inserts one snapshot. Re-inserting an existing id is ignored.
func (s *SQLiteStore) CreateHistoryEntry(ctx context.Context, entry *domain.HistoryEntry) error {
	var proposal sql.NullString
	if entry.TradeProposal != nil {
		raw, err := json.Marshal(entry.TradeProposal)
		if err != nil {
			return fmt.Errorf("failed to encode trade proposal: %w", err)
		}
		proposal = nullStringBytes(raw)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO history_entries (id, session_id, ticker, display_name, market_type, status, ts, trade_proposal) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.SessionID, entry.Ticker, entry.DisplayName, entry.MarketType, entry.Status, entry.Timestamp.UTC(), proposal)
	return err
}

// ListHistoryEntries returns up to limit entries, newest first. An empty
// market lists every market.
func (s *SQLiteStore) ListHistoryEntries(ctx context.Context, market domain.MarketType, limit int) ([]domain.HistoryEntry, error) {
	query := `SELECT id, session_id, ticker, display_name, market_type, status, ts, trade_proposal FROM history_entries`
	var args []interface{}
	if market != "" {
		query += ` WHERE market_type = ?`
		args = append(args, market)
	}
	query += ` ORDER BY ts DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.HistoryEntry
	for rows.Next() {
		var e domain.HistoryEntry
		var ts time.Time
		var proposal sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Ticker, &e.DisplayName, &e.MarketType, &e.Status, &ts, &proposal); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		if proposal.Valid {
			var p domain.TradeProposal
			if err := json.Unmarshal([]byte(proposal.String), &p); err != nil {
				return nil, fmt.Errorf("failed to decode trade proposal of %s: %w", e.ID, err)
			}
			e.TradeProposal = &p
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory keeps the newest keep entries of market and deletes the rest.
func (s *SQLiteStore) PruneHistory(ctx context.Context, market domain.MarketType, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM history_entries WHERE market_type = ? AND id NOT IN (
			SELECT id FROM history_entries WHERE market_type = ? ORDER BY ts DESC, rowid DESC LIMIT ?
		)`,
		market, market, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
