// File: dataprovider/db.go
package dataprovider

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/jsj9346/makenaide-sub002/utilities"

	_ "github.com/mattn/go-sqlite3"
)

// dustQty is the quantity below which a ledger position counts as closed.
const dustQty = 1e-8

// SQLiteStore is the system of record: the trade ledger, intervention log,
// technical snapshots, buy candidate queue, and an OHLCV cache.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(cfg utilities.DatabaseConfig) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, err
	}
	schema := `
	CREATE TABLE IF NOT EXISTS trade_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		order_id TEXT,
		quantity REAL NOT NULL,
		price REAL NOT NULL,
		amount_krw REAL NOT NULL,
		fee REAL NOT NULL,
		reason TEXT,
		dry_run INTEGER NOT NULL DEFAULT 0,
		executed_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trade_log_ticker_time ON trade_log (ticker, executed_at);

	CREATE TABLE IF NOT EXISTS manual_override_log (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		detection_type TEXT NOT NULL,
		expected_quantity REAL NOT NULL,
		actual_quantity REAL NOT NULL,
		quantity_diff REAL NOT NULL,
		description TEXT,
		detected_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS technical_analysis (
		ticker TEXT PRIMARY KEY,
		atr REAL NOT NULL DEFAULT 0,
		supertrend REAL NOT NULL DEFAULT 0,
		macd_histogram REAL NOT NULL DEFAULT 0,
		support_level REAL NOT NULL DEFAULT 0,
		stage INTEGER NOT NULL DEFAULT 0,
		ma200_trend REAL NOT NULL DEFAULT 0,
		volume_surge_ratio REAL NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS buy_candidates (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		pattern TEXT NOT NULL DEFAULT '',
		quality_score REAL NOT NULL DEFAULT 0,
		kelly_percent REAL NOT NULL,
		breakout_price REAL NOT NULL DEFAULT 0,
		advisor_signal TEXT NOT NULL DEFAULT '',
		advisor_confidence REAL NOT NULL DEFAULT 0,
		consumed INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS ohlcv_bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		provider TEXT NOT NULL,
		coin_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume REAL NOT NULL,
		UNIQUE(provider, coin_id, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_provider_coin_timestamp ON ohlcv_bars (provider, coin_id, timestamp);
	`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// --- Trade Ledger ---

func (s *SQLiteStore) SaveTrade(rec TradeRecord) error {
	dryRun := 0
	if rec.DryRun {
		dryRun = 1
	}
	_, err := s.db.Exec(
		`INSERT INTO trade_log (ticker, side, status, order_id, quantity, price, amount_krw, fee, reason, dry_run, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Ticker, rec.Side, rec.Status, rec.OrderID, rec.Quantity, rec.Price, rec.AmountKRW, rec.Fee, rec.Reason, dryRun, rec.ExecutedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save trade record for %s: %w", rec.Ticker, err)
	}
	return nil
}

// FirstBuyTimestamp returns the time of the earliest filled buy for a
// ticker. Hold-day rules count from here. The second return is false when
// no buy has ever been ledgered. Dry-run rows never count.
func (s *SQLiteStore) FirstBuyTimestamp(ticker string) (time.Time, bool, error) {
	var ts sql.NullInt64
	err := s.db.QueryRow(
		`SELECT MIN(executed_at) FROM trade_log
		 WHERE ticker = ? AND side IN ('buy', 'pyramid_buy') AND quantity > ? AND dry_run = 0`,
		ticker, dustQty).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query first buy for %s: %w", ticker, err)
	}
	if !ts.Valid {
		return time.Time{}, false, nil
	}
	return time.Unix(ts.Int64, 0), true, nil
}

// HasBuyRecord reports whether any filled buy exists for the ticker.
func (s *SQLiteStore) HasBuyRecord(ticker string) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM trade_log WHERE ticker = ? AND side IN ('buy', 'pyramid_buy') AND quantity > ? AND dry_run = 0`,
		ticker, dustQty).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query buy record for %s: %w", ticker, err)
	}
	return n > 0, nil
}

// ExpectedHoldings aggregates the ledger into per-ticker net positions.
// Tickers whose net quantity has dropped to dust are omitted. Dry-run rows
// are excluded so simulated trades never look like exchange divergence.
func (s *SQLiteStore) ExpectedHoldings() (map[string]ExpectedHolding, error) {
	rows, err := s.db.Query(
		`SELECT ticker, side, quantity, executed_at FROM trade_log
		 WHERE quantity > ? AND dry_run = 0 ORDER BY ticker, executed_at`, dustQty)
	if err != nil {
		return nil, fmt.Errorf("failed to query trade ledger: %w", err)
	}
	defer rows.Close()

	holdings := make(map[string]ExpectedHolding)
	for rows.Next() {
		var ticker, side string
		var qty float64
		var ts int64
		if err := rows.Scan(&ticker, &side, &qty, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		h := holdings[ticker]
		h.Ticker = ticker
		switch side {
		case "buy", "pyramid_buy":
			h.Quantity += qty
			h.TotalBought += qty
			h.BuyCount++
		case "sell":
			h.Quantity -= qty
			h.TotalSold += qty
			h.SellCount++
		}
		h.LastTradeDate = time.Unix(ts, 0)
		holdings[ticker] = h
	}
	for ticker, h := range holdings {
		if h.Quantity <= dustQty {
			delete(holdings, ticker)
		}
	}
	return holdings, rows.Err()
}

// BuyCountSince counts filled buys for a ticker after the given time. Used
// by the pyramiding guard.
func (s *SQLiteStore) BuyCountSince(ticker string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM trade_log
		 WHERE ticker = ? AND side IN ('buy', 'pyramid_buy') AND quantity > ? AND dry_run = 0 AND executed_at >= ?`,
		ticker, dustQty, since.Unix()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count buys for %s: %w", ticker, err)
	}
	return n, nil
}

// --- Manual Override Log ---

func (s *SQLiteStore) InsertManualOverride(ov ManualOverride) error {
	_, err := s.db.Exec(
		`INSERT INTO manual_override_log (ticker, detection_type, expected_quantity, actual_quantity, quantity_diff, description, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ov.Ticker, ov.DetectionType, ov.ExpectedQuantity, ov.ActualQuantity, ov.QuantityDiff, ov.Description, ov.DetectedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to log manual override for %s: %w", ov.Ticker, err)
	}
	return nil
}

// RecentOverrideExists reports whether an equivalent detection was already
// recorded inside the dedupe window.
func (s *SQLiteStore) RecentOverrideExists(ticker, detectionType string, quantityDiff float64, window time.Duration) (bool, error) {
	cutoff := time.Now().Add(-window).Unix()
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM manual_override_log
		 WHERE ticker = ? AND detection_type = ? AND ABS(quantity_diff - ?) < ? AND detected_at >= ?`,
		ticker, detectionType, quantityDiff, dustQty, cutoff).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query override log for %s: %w", ticker, err)
	}
	return n > 0, nil
}

// --- Technical Snapshots ---

func (s *SQLiteStore) TechnicalSnapshot(ticker string) (*TechnicalSnapshot, error) {
	var snap TechnicalSnapshot
	var ts int64
	err := s.db.QueryRow(
		`SELECT ticker, atr, supertrend, macd_histogram, support_level, stage, ma200_trend, volume_surge_ratio, updated_at
		 FROM technical_analysis WHERE ticker = ?`, ticker).
		Scan(&snap.Ticker, &snap.ATR, &snap.Supertrend, &snap.MACDHistogram, &snap.SupportLevel,
			&snap.Stage, &snap.MA200Trend, &snap.VolumeSurgeRatio, &ts)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query technical snapshot for %s: %w", ticker, err)
	}
	snap.UpdatedAt = time.Unix(ts, 0)
	return &snap, nil
}

func (s *SQLiteStore) SaveTechnicalSnapshot(snap TechnicalSnapshot) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO technical_analysis (ticker, atr, supertrend, macd_histogram, support_level, stage, ma200_trend, volume_surge_ratio, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.Ticker, snap.ATR, snap.Supertrend, snap.MACDHistogram, snap.SupportLevel,
		snap.Stage, snap.MA200Trend, snap.VolumeSurgeRatio, snap.UpdatedAt.Unix())
	return err
}

// --- Buy Candidate Queue ---

func (s *SQLiteStore) PendingBuyCandidates() ([]BuyCandidate, error) {
	rows, err := s.db.Query(
		`SELECT id, ticker, pattern, quality_score, kelly_percent, breakout_price, advisor_signal, advisor_confidence, created_at
		 FROM buy_candidates WHERE consumed = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query buy candidates: %w", err)
	}
	defer rows.Close()

	var candidates []BuyCandidate
	for rows.Next() {
		var c BuyCandidate
		var ts int64
		if err := rows.Scan(&c.ID, &c.Ticker, &c.Pattern, &c.QualityScore, &c.KellyPercent, &c.BreakoutPrice, &c.AdvisorSignal, &c.AdvisorConfidence, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan candidate row: %w", err)
		}
		c.CreatedAt = time.Unix(ts, 0)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

func (s *SQLiteStore) EnqueueBuyCandidate(c BuyCandidate) error {
	_, err := s.db.Exec(
		`INSERT INTO buy_candidates (ticker, pattern, quality_score, kelly_percent, breakout_price, advisor_signal, advisor_confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Ticker, c.Pattern, c.QualityScore, c.KellyPercent, c.BreakoutPrice, c.AdvisorSignal, c.AdvisorConfidence, c.CreatedAt.Unix())
	return err
}

func (s *SQLiteStore) MarkCandidateConsumed(id int64) error {
	_, err := s.db.Exec(`UPDATE buy_candidates SET consumed = 1 WHERE id = ?`, id)
	return err
}

// LatestAdvisorSignal returns the most recent qualitative signal the screener
// recorded for a ticker, consumed rows included, or "" when none exists.
func (s *SQLiteStore) LatestAdvisorSignal(ticker string) (string, error) {
	var signal string
	err := s.db.QueryRow(
		`SELECT advisor_signal FROM buy_candidates WHERE ticker = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		ticker).Scan(&signal)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to query advisor signal for %s: %w", ticker, err)
	}
	return signal, nil
}

// --- OHLCV Bar Caching ---

func (s *SQLiteStore) SaveBar(provider, coinID string, bar utilities.OHLCVBar) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO ohlcv_bars (provider, coin_id, timestamp, open, high, low, close, volume) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		provider, coinID, bar.Timestamp, bar.Open, bar.High, bar.Low, bar.Close, bar.Volume)
	return err
}

func (s *SQLiteStore) GetBars(provider, coinID string, start, end int64) ([]utilities.OHLCVBar, error) {
	rows, err := s.db.Query(`SELECT timestamp, open, high, low, close, volume FROM ohlcv_bars WHERE provider=? AND coin_id=? AND timestamp BETWEEN ? AND ? ORDER BY timestamp ASC`,
		provider, coinID, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bars []utilities.OHLCVBar
	for rows.Next() {
		var bar utilities.OHLCVBar
		if err := rows.Scan(&bar.Timestamp, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// --- Cleanup ---

func (s *SQLiteStore) CleanupOldBars(provider string, olderThan time.Time) error {
	cutoff := olderThan.UnixMilli()
	_, err := s.db.Exec(`DELETE FROM ohlcv_bars WHERE provider=? AND timestamp < ?`, provider, cutoff)
	return err
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StartScheduledCleanup(interval time.Duration, provider string) {
	go func() {
		for {
			cutoff := time.Now().AddDate(0, 0, -14)
			if err := s.CleanupOldBars(provider, cutoff); err != nil {
				log.Printf("Scheduled cleanup error for %s: %v", provider, err)
			}
			time.Sleep(interval)
		}
	}()
}
