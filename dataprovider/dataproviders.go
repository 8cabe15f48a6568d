// File: dataprovider/dataproviders.go
package dataprovider

import (
	"context"
	"time"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

// FearGreedProvider serves the market sentiment input for position sizing.
type FearGreedProvider interface {
	GetFearGreedIndex(ctx context.Context) (FearGreedIndex, error)
}

// BarsProvider is a secondary OHLCV source, consulted when the exchange
// cannot serve enough history for indicator computation.
type BarsProvider interface {
	GetCoinID(ctx context.Context, symbol string) (string, error)
	GetOHLCVBars(ctx context.Context, coinID, quoteCurrency string, days int) ([]utilities.OHLCVBar, error)
}

// BarCache persists fetched candles so repeated indicator lookups do not
// burn through provider rate limits. SQLiteStore implements it.
type BarCache interface {
	SaveBar(provider, coinID string, bar utilities.OHLCVBar) error
	GetBars(provider, coinID string, start, end int64) ([]utilities.OHLCVBar, error)
}

// FearGreedIndex is a normalized Fear & Greed reading.
type FearGreedIndex struct {
	Value     int    `json:"value"`     // 0 (extreme fear) .. 100 (extreme greed)
	Level     string `json:"level"`     // e.g., "Fear", "Greed"
	Timestamp int64  `json:"timestamp"` // unix seconds
}

// SentimentMultiplier converts the index into a sizing multiplier.
// Score is centered on 50 and scaled to [-1, 1]; the multiplier stays
// within [0.6, 1.4].
func (f FearGreedIndex) SentimentMultiplier() float64 {
	score := (float64(f.Value) - 50.0) / 50.0
	multiplier := 1.0 + 0.4*score
	if multiplier < 0.6 {
		multiplier = 0.6
	}
	if multiplier > 1.4 {
		multiplier = 1.4
	}
	return multiplier
}

// TradeRecord is one ledgered execution attempt. Every order attempt writes
// exactly one record, whatever its outcome.
type TradeRecord struct {
	ID         int64     `json:"id"`
	Ticker     string    `json:"ticker"`
	Side       string    `json:"side"`   // "buy", "pyramid_buy", "sell"
	Status     string    `json:"status"` // executor result status string
	OrderID    string    `json:"order_id"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	AmountKRW  float64   `json:"amount_krw"`
	Fee        float64   `json:"fee"`
	Reason     string    `json:"reason"`
	DryRun     bool      `json:"dry_run"`
	ExecutedAt time.Time `json:"executed_at"`
}

// ExpectedHolding is the ledger-derived view of what the bot believes it
// holds for one ticker.
type ExpectedHolding struct {
	Ticker        string
	Quantity      float64
	TotalBought   float64
	TotalSold     float64
	BuyCount      int
	SellCount     int
	LastTradeDate time.Time
}

// ManualOverride is one detected divergence between exchange balances and
// the ledger.
type ManualOverride struct {
	Ticker           string
	DetectionType    string // "manual_buy", "manual_sell", "quantity_mismatch"
	ExpectedQuantity float64
	ActualQuantity   float64
	QuantityDiff     float64
	Description      string
	DetectedAt       time.Time
}

// TechnicalSnapshot is the latest per-ticker indicator row maintained by the
// upstream analysis pipeline. The stop and sell engines read it; stale or
// missing rows trigger fallback computation.
type TechnicalSnapshot struct {
	Ticker           string
	ATR              float64
	Supertrend       float64
	MACDHistogram    float64
	SupportLevel     float64
	Stage            int
	MA200Trend       float64
	VolumeSurgeRatio float64
	UpdatedAt        time.Time
}

// BuyCandidate is one entry queued by the upstream screener for the session
// to act on. KellyPercent, when positive, overrides the pattern-derived
// sizing entirely.
type BuyCandidate struct {
	ID                int64
	Ticker            string
	Pattern           string
	QualityScore      float64
	KellyPercent      float64
	BreakoutPrice     float64
	AdvisorSignal     string
	AdvisorConfidence float64
	CreatedAt         time.Time
}
