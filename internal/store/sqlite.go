package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "breakout-scanner/internal/errors"
	"breakout-scanner/internal/models"
)

const dateLayout = "2006-01-02"

// SQLiteStore implements DataStore using SQLite. Timestamps are stored in UTC.
type SQLiteStore struct {
	db        *sql.DB
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- Base-resolution OHLCV data
	CREATE TABLE IF NOT EXISTS candles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(symbol, timeframe, timestamp)
	);

	-- Scanner sessions, one per symbol and trading date
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		date TEXT NOT NULL,
		status TEXT NOT NULL,
		current_timeframe INTEGER NOT NULL,
		completed_timeframes TEXT,
		trade_count INTEGER DEFAULT 0,
		total_pnl REAL DEFAULT 0,
		warnings TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Simulated trades
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		session_id TEXT,
		symbol TEXT NOT NULL,
		timeframe INTEGER NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		target_price REAL NOT NULL,
		stop_loss REAL NOT NULL,
		exit_price REAL,
		exit_reason TEXT,
		pnl REAL,
		risk_free INTEGER DEFAULT 0,
		trigger_position TEXT,
		pattern TEXT,
		entry_time DATETIME NOT NULL,
		exit_time DATETIME,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	-- Sync status table
	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_candles_symbol_timeframe ON candles(symbol, timeframe);
	CREATE INDEX IF NOT EXISTS idx_candles_timestamp ON candles(timestamp);
	CREATE INDEX IF NOT EXISTS idx_sessions_symbol_date ON sessions(symbol, date);
	CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id);
	CREATE INDEX IF NOT EXISTS idx_trades_entry_time ON trades(entry_time);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Candles Methods
// ============================================================================

// SaveCandles saves candles to the database, replacing rows with the same timestamp.
func (s *SQLiteStore) SaveCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return dbError("begin transaction", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO candles (symbol, timeframe, timestamp, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return dbError("prepare statement", err)
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.ExecContext(ctx, symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		if err != nil {
			return dbError("insert candle", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return dbError("commit transaction", err)
	}

	return nil
}

// GetCandles retrieves candles in [from, to).
func (s *SQLiteStore) GetCandles(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume
		FROM candles
		WHERE symbol = ? AND timeframe = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp ASC
	`, symbol, timeframe, from.UTC(), to.UTC())
	if err != nil {
		return nil, dbError("query candles", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, dbError("scan candle", err)
		}
		c.Index = len(candles) + 1
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("iterate candles", err)
	}

	return candles, nil
}

// GetCandlesFreshness returns the timestamp of the most recent candle.
func (s *SQLiteStore) GetCandlesFreshness(ctx context.Context, symbol, timeframe string) (time.Time, error) {
	var timestamp sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(timestamp) FROM candles WHERE symbol = ? AND timeframe = ?
	`, symbol, timeframe).Scan(&timestamp)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, dbError("get candles freshness", err)
	}
	if !timestamp.Valid {
		return time.Time{}, nil
	}
	return parseTimestamp(timestamp.String)
}

// ============================================================================
// Session Methods
// ============================================================================

// SaveSession inserts or replaces the session summary.
func (s *SQLiteStore) SaveSession(ctx context.Context, session *models.ScannerSession) error {
	completed, _ := json.Marshal(session.Completed())
	warnings, _ := json.Marshal(session.Warnings)
	summary := models.Summarize(session.Trades)

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (
			id, symbol, date, status, current_timeframe, completed_timeframes,
			trade_count, total_pnl, warnings, started_at, finished_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, session.ID, session.Symbol, session.Date.Format(dateLayout), string(session.Status),
		session.CurrentTimeframe, string(completed), summary.Count, summary.TotalPnL,
		string(warnings), nullTime(session.StartedAt), nullTime(session.FinishedAt), time.Now().UTC())
	if err != nil {
		return dbError("save session", err)
	}
	return nil
}

// GetSessions returns session summaries, most recent date first.
func (s *SQLiteStore) GetSessions(ctx context.Context, filter SessionFilter) ([]SessionRecord, error) {
	query := `SELECT id, symbol, date, status, current_timeframe, completed_timeframes,
		trade_count, total_pnl, warnings, started_at, finished_at FROM sessions WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if !filter.StartDate.IsZero() {
		query += " AND date >= ?"
		args = append(args, filter.StartDate.Format(dateLayout))
	}
	if !filter.EndDate.IsZero() {
		query += " AND date <= ?"
		args = append(args, filter.EndDate.Format(dateLayout))
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}

	query += " ORDER BY date DESC, started_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query sessions", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var date, status string
		var completed, warnings sql.NullString
		var startedAt, finishedAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.Symbol, &date, &status, &r.CurrentTimeframe, &completed,
			&r.TradeCount, &r.TotalPnL, &warnings, &startedAt, &finishedAt); err != nil {
			return nil, dbError("scan session", err)
		}
		r.Status = models.SessionStatus(status)
		r.Date, _ = time.Parse(dateLayout, date)
		if completed.Valid {
			_ = json.Unmarshal([]byte(completed.String), &r.CompletedTimeframes)
		}
		if warnings.Valid {
			_ = json.Unmarshal([]byte(warnings.String), &r.Warnings)
		}
		if startedAt.Valid {
			r.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			r.FinishedAt = finishedAt.Time
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("iterate sessions", err)
	}
	return records, nil
}

// ============================================================================
// Trades Methods
// ============================================================================

// LogTrade saves a simulated trade, replacing an earlier row with the same ID.
func (s *SQLiteStore) LogTrade(ctx context.Context, sessionID string, trade *models.SimulatedTrade) error {
	var pattern []byte
	if trade.Pattern != nil {
		pattern, _ = json.Marshal(trade.Pattern)
	}
	riskFree := 0
	if trade.RiskFree {
		riskFree = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO trades (
			id, session_id, symbol, timeframe, side, quantity, entry_price, target_price,
			stop_loss, exit_price, exit_reason, pnl, risk_free, trigger_position, pattern,
			entry_time, exit_time
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, trade.ID, sessionID, trade.Symbol, trade.Timeframe, string(trade.Side), trade.Quantity,
		trade.EntryPrice, trade.TargetPrice, trade.StopLoss, trade.ExitPrice, string(trade.ExitReason),
		trade.ProfitLoss, riskFree, string(trade.TriggerPos), string(pattern),
		trade.EntryTimestamp.UTC(), nullTime(trade.ExitTimestamp))
	if err != nil {
		return dbError("log trade", err)
	}
	return nil
}

// GetTrades retrieves trades with optional filters, newest entry first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]models.SimulatedTrade, error) {
	query := `SELECT id, symbol, timeframe, side, quantity, entry_price, target_price, stop_loss,
		exit_price, exit_reason, pnl, risk_free, trigger_position, pattern, entry_time, exit_time
		FROM trades WHERE 1=1`
	args := []interface{}{}

	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if !filter.StartDate.IsZero() {
		query += " AND entry_time >= ?"
		args = append(args, filter.StartDate.UTC())
	}
	if !filter.EndDate.IsZero() {
		query += " AND entry_time < ?"
		args = append(args, filter.EndDate.UTC())
	}
	if filter.Side != "" {
		query += " AND side = ?"
		args = append(args, string(filter.Side))
	}
	if filter.Reason != "" {
		query += " AND exit_reason = ?"
		args = append(args, string(filter.Reason))
	}
	if filter.Timeframe > 0 {
		query += " AND timeframe = ?"
		args = append(args, filter.Timeframe)
	}

	query += " ORDER BY entry_time DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, dbError("query trades", err)
	}
	defer rows.Close()

	var trades []models.SimulatedTrade
	for rows.Next() {
		var t models.SimulatedTrade
		var side, reason, position string
		var exitPrice, pnl sql.NullFloat64
		var riskFree int
		var pattern sql.NullString
		var exitTime sql.NullTime
		if err := rows.Scan(&t.ID, &t.Symbol, &t.Timeframe, &side, &t.Quantity, &t.EntryPrice,
			&t.TargetPrice, &t.StopLoss, &exitPrice, &reason, &pnl, &riskFree, &position,
			&pattern, &t.EntryTimestamp, &exitTime); err != nil {
			return nil, dbError("scan trade", err)
		}
		t.Side = models.Side(side)
		t.ExitReason = models.ExitReason(reason)
		t.TriggerPos = models.TriggerPosition(position)
		t.RiskFree = riskFree == 1
		if exitPrice.Valid {
			t.ExitPrice = exitPrice.Float64
		}
		if pnl.Valid {
			t.ProfitLoss = pnl.Float64
		}
		if exitTime.Valid {
			t.ExitTimestamp = exitTime.Time
		}
		if pattern.Valid && pattern.String != "" {
			var p models.Pattern
			if err := json.Unmarshal([]byte(pattern.String), &p); err == nil {
				t.Pattern = &p
			}
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, dbError("iterate trades", err)
	}
	return trades, nil
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t.UTC(), time.Now().UTC())
	if err != nil {
		return dbError("set last sync", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}

func dbError(op string, err error) error {
	return apperrors.Wrapf(apperrors.ErrDatabaseError, "failed to %s: %v", op, err)
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// parseTimestamp parses the text form go-sqlite3 writes for time.Time values.
// Aggregates such as MAX() lose the column type and come back as strings.
func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, apperrors.Wrapf(apperrors.ErrDataMalformed, "unparseable timestamp %q", s)
}

var _ DataStore = (*SQLiteStore)(nil)
