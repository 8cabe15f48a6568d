// File: dataprovider/db_test.go
package dataprovider

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

func newMemoryStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(utilities.DatabaseConfig{DBPath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSaveTradeAndFirstBuyTimestamp(t *testing.T) {
	store := newMemoryStore(t)

	_, found, err := store.FirstBuyTimestamp("KRW-BTC")
	require.NoError(t, err)
	assert.False(t, found)

	first := time.Now().Add(-48 * time.Hour).Truncate(time.Second)
	second := time.Now().Add(-24 * time.Hour).Truncate(time.Second)
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "buy", Status: "FULL_FILLED",
		Quantity: 0.5, Price: 100000, AmountKRW: 50000, ExecutedAt: first,
	}))
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "pyramid_buy", Status: "FULL_FILLED",
		Quantity: 0.25, Price: 110000, AmountKRW: 27500, ExecutedAt: second,
	}))

	// Hold days count from the opening buy, not the latest add.
	ts, found, err := store.FirstBuyTimestamp("KRW-BTC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, first.Unix(), ts.Unix())

	has, err := store.HasBuyRecord("KRW-BTC")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = store.HasBuyRecord("KRW-ETH")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestDryRunTradesStayOutOfLedgerAggregates(t *testing.T) {
	store := newMemoryStore(t)
	now := time.Now()

	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "buy", Status: "FULL_FILLED", OrderID: "DRYRUN-1",
		Quantity: 0.5, Price: 100000, AmountKRW: 50000, DryRun: true,
		ExecutedAt: now.Add(-48 * time.Hour),
	}))
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-ETH", Side: "sell", Status: "FULL_FILLED", OrderID: "DRYRUN-2",
		Quantity: 1.0, Price: 3000000, AmountKRW: 3000000, DryRun: true,
		ExecutedAt: now.Add(-time.Hour),
	}))

	// A simulated buy must not look like an exchange holding that went missing.
	holdings, err := store.ExpectedHoldings()
	require.NoError(t, err)
	assert.NotContains(t, holdings, "KRW-BTC")
	assert.NotContains(t, holdings, "KRW-ETH")

	has, err := store.HasBuyRecord("KRW-BTC")
	require.NoError(t, err)
	assert.False(t, has)

	_, found, err := store.FirstBuyTimestamp("KRW-BTC")
	require.NoError(t, err)
	assert.False(t, found)

	n, err := store.BuyCountSince("KRW-BTC", now.Add(-72*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	// A real buy alongside the simulated ones still counts normally.
	realBuy := now.Add(-24 * time.Hour).Truncate(time.Second)
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "buy", Status: "FULL_FILLED",
		Quantity: 0.1, Price: 100000, AmountKRW: 10000, ExecutedAt: realBuy,
	}))
	ts, found, err := store.FirstBuyTimestamp("KRW-BTC")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, realBuy.Unix(), ts.Unix())

	holdings, err = store.ExpectedHoldings()
	require.NoError(t, err)
	require.Contains(t, holdings, "KRW-BTC")
	assert.InDelta(t, 0.1, holdings["KRW-BTC"].Quantity, 1e-9)
	assert.Equal(t, 1, holdings["KRW-BTC"].BuyCount)
}

func TestExpectedHoldingsAggregation(t *testing.T) {
	store := newMemoryStore(t)
	now := time.Now()

	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "buy", Status: "FULL_FILLED",
		Quantity: 1.0, Price: 100000, AmountKRW: 100000, ExecutedAt: now.Add(-3 * time.Hour),
	}))
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "pyramid_buy", Status: "FULL_FILLED",
		Quantity: 0.5, Price: 110000, AmountKRW: 55000, ExecutedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-BTC", Side: "sell", Status: "PARTIAL_FILLED",
		Quantity: 0.6, Price: 120000, AmountKRW: 72000, ExecutedAt: now.Add(-time.Hour),
	}))

	// A fully exited position nets to zero and is omitted.
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-ETH", Side: "buy", Status: "FULL_FILLED",
		Quantity: 2.0, Price: 3000000, AmountKRW: 6000000, ExecutedAt: now.Add(-2 * time.Hour),
	}))
	require.NoError(t, store.SaveTrade(TradeRecord{
		Ticker: "KRW-ETH", Side: "sell", Status: "FULL_FILLED",
		Quantity: 2.0, Price: 3100000, AmountKRW: 6200000, ExecutedAt: now.Add(-time.Hour),
	}))

	holdings, err := store.ExpectedHoldings()
	require.NoError(t, err)
	require.Contains(t, holdings, "KRW-BTC")
	assert.NotContains(t, holdings, "KRW-ETH")

	btc := holdings["KRW-BTC"]
	assert.InDelta(t, 0.9, btc.Quantity, 1e-9)
	assert.InDelta(t, 1.5, btc.TotalBought, 1e-9)
	assert.InDelta(t, 0.6, btc.TotalSold, 1e-9)
	assert.Equal(t, 2, btc.BuyCount)
	assert.Equal(t, 1, btc.SellCount)
}

func TestRecentOverrideDedupe(t *testing.T) {
	store := newMemoryStore(t)

	ov := ManualOverride{
		Ticker:         "KRW-BTC",
		DetectionType:  "manual_buy",
		ActualQuantity: 0.5,
		QuantityDiff:   0.5,
		Description:    "exchange holds 0.5 with no ledgered buy",
		DetectedAt:     time.Now(),
	}
	require.NoError(t, store.InsertManualOverride(ov))

	seen, err := store.RecentOverrideExists("KRW-BTC", "manual_buy", 0.5, 24*time.Hour)
	require.NoError(t, err)
	assert.True(t, seen)

	// Different quantity is a different divergence.
	seen, err = store.RecentOverrideExists("KRW-BTC", "manual_buy", 0.7, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, seen)

	// Different detection type is a different divergence.
	seen, err = store.RecentOverrideExists("KRW-BTC", "manual_sell", 0.5, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestRecentOverrideWindowExpiry(t *testing.T) {
	store := newMemoryStore(t)

	ov := ManualOverride{
		Ticker:        "KRW-BTC",
		DetectionType: "manual_buy",
		QuantityDiff:  0.5,
		DetectedAt:    time.Now().Add(-48 * time.Hour),
	}
	require.NoError(t, store.InsertManualOverride(ov))

	seen, err := store.RecentOverrideExists("KRW-BTC", "manual_buy", 0.5, 24*time.Hour)
	require.NoError(t, err)
	assert.False(t, seen, "overrides outside the window do not dedupe")
}

func TestTechnicalSnapshotRoundTrip(t *testing.T) {
	store := newMemoryStore(t)

	missing, err := store.TechnicalSnapshot("KRW-BTC")
	require.NoError(t, err)
	assert.Nil(t, missing, "missing snapshot is nil, not an error")

	snap := TechnicalSnapshot{
		Ticker:           "KRW-BTC",
		ATR:              3000,
		Supertrend:       95000,
		MACDHistogram:    -0.5,
		SupportLevel:     92000,
		Stage:            2,
		MA200Trend:       1.2,
		VolumeSurgeRatio: 1.6,
		UpdatedAt:        time.Now().Truncate(time.Second),
	}
	require.NoError(t, store.SaveTechnicalSnapshot(snap))

	got, err := store.TechnicalSnapshot("KRW-BTC")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.InDelta(t, snap.ATR, got.ATR, 1e-9)
	assert.Equal(t, snap.Stage, got.Stage)

	// Upsert replaces the row.
	snap.ATR = 3500
	require.NoError(t, store.SaveTechnicalSnapshot(snap))
	got, err = store.TechnicalSnapshot("KRW-BTC")
	require.NoError(t, err)
	assert.InDelta(t, 3500, got.ATR, 1e-9)
}

func TestBuyCandidateQueue(t *testing.T) {
	store := newMemoryStore(t)

	require.NoError(t, store.EnqueueBuyCandidate(BuyCandidate{
		Ticker:        "KRW-BTC",
		Pattern:       "vcp",
		QualityScore:  16.5,
		BreakoutPrice: 100000,
		CreatedAt:     time.Now().Add(-time.Hour),
	}))
	require.NoError(t, store.EnqueueBuyCandidate(BuyCandidate{
		Ticker:       "KRW-ETH",
		KellyPercent: 4.0,
		CreatedAt:    time.Now(),
	}))

	pending, err := store.PendingBuyCandidates()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "KRW-BTC", pending[0].Ticker, "oldest first")
	assert.Equal(t, "vcp", pending[0].Pattern)
	assert.InDelta(t, 16.5, pending[0].QualityScore, 1e-9)

	require.NoError(t, store.MarkCandidateConsumed(pending[0].ID))
	pending, err = store.PendingBuyCandidates()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "KRW-ETH", pending[0].Ticker)
}

func TestLatestAdvisorSignal(t *testing.T) {
	store := newMemoryStore(t)

	signal, err := store.LatestAdvisorSignal("KRW-BTC")
	require.NoError(t, err)
	assert.Empty(t, signal)

	require.NoError(t, store.EnqueueBuyCandidate(BuyCandidate{
		Ticker:        "KRW-BTC",
		AdvisorSignal: "buy",
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}))
	require.NoError(t, store.EnqueueBuyCandidate(BuyCandidate{
		Ticker:        "KRW-BTC",
		AdvisorSignal: "sell",
		CreatedAt:     time.Now().Add(-time.Hour),
	}))

	// The newest opinion wins, even after the row has been consumed.
	pending, err := store.PendingBuyCandidates()
	require.NoError(t, err)
	for _, c := range pending {
		require.NoError(t, store.MarkCandidateConsumed(c.ID))
	}

	signal, err = store.LatestAdvisorSignal("KRW-BTC")
	require.NoError(t, err)
	assert.Equal(t, "sell", signal)
}

func TestBarCacheRoundTrip(t *testing.T) {
	store := newMemoryStore(t)

	bar := utilities.OHLCVBar{Timestamp: 1700000000000, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100}
	require.NoError(t, store.SaveBar("coingecko", "bitcoin", bar))
	// Replacing the same timestamp is an upsert, not a duplicate.
	bar.Close = 1.6
	require.NoError(t, store.SaveBar("coingecko", "bitcoin", bar))

	bars, err := store.GetBars("coingecko", "bitcoin", 0, 1800000000000)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.InDelta(t, 1.6, bars[0].Close, 1e-9)
}
