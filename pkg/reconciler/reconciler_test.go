// File: pkg/reconciler/reconciler_test.go
package reconciler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

type fakeBroker struct {
	balances []broker.Balance
	prices   map[string]float64
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, ticker, side, orderType string, volume, price float64, clientOrderID string) (string, error) {
	panic("reconciler must never place an order")
}

func (f *fakeBroker) CancelOrder(ctx context.Context, orderID string) error {
	panic("reconciler must never cancel an order")
}

func (f *fakeBroker) GetOrderStatus(ctx context.Context, orderID string) (broker.Order, error) {
	return broker.Order{}, nil
}

func (f *fakeBroker) FindOrderByClientID(ctx context.Context, clientOrderID string) (broker.Order, error) {
	return broker.Order{}, nil
}

func (f *fakeBroker) GetBalance(ctx context.Context, currency string) (broker.Balance, error) {
	return broker.Balance{}, nil
}

func (f *fakeBroker) GetBalances(ctx context.Context) ([]broker.Balance, error) {
	return f.balances, nil
}

func (f *fakeBroker) GetAccountValue(ctx context.Context, quoteCurrency string) (float64, error) {
	return 0, nil
}

func (f *fakeBroker) GetTicker(ctx context.Context, ticker string) (broker.TickerData, error) {
	return broker.TickerData{Ticker: ticker, LastPrice: f.prices[ticker]}, nil
}

func (f *fakeBroker) GetLastNOHLCVBars(ctx context.Context, ticker, timeframe string, nBars int) ([]utilities.OHLCVBar, error) {
	return nil, nil
}

type fakeStore struct {
	expected  map[string]dataprovider.ExpectedHolding
	recent    map[string]bool // ticker + "|" + detection type
	overrides []dataprovider.ManualOverride
	trades    []dataprovider.TradeRecord
}

func (f *fakeStore) ExpectedHoldings() (map[string]dataprovider.ExpectedHolding, error) {
	if f.expected == nil {
		return map[string]dataprovider.ExpectedHolding{}, nil
	}
	return f.expected, nil
}

func (f *fakeStore) HasBuyRecord(ticker string) (bool, error) {
	_, ok := f.expected[ticker]
	return ok, nil
}

func (f *fakeStore) RecentOverrideExists(ticker, detectionType string, quantityDiff float64, window time.Duration) (bool, error) {
	return f.recent[ticker+"|"+detectionType], nil
}

func (f *fakeStore) InsertManualOverride(ov dataprovider.ManualOverride) error {
	f.overrides = append(f.overrides, ov)
	return nil
}

func (f *fakeStore) SaveTrade(rec dataprovider.TradeRecord) error {
	f.trades = append(f.trades, rec)
	return nil
}

func newTestReconciler(fb *fakeBroker, fs *fakeStore, policy string, blacklist map[string]bool) *PortfolioReconciler {
	syncCfg := utilities.SyncConfig{
		Policy:             policy,
		ConservativeCapKRW: 100000,
		ModerateCapKRW:     1000000,
		EstimatedFeeRate:   0.0005,
		DedupeWindowHours:  24,
		BackfillHour:       9,
	}
	trading := utilities.TradingConfig{
		QuoteCurrency:    "KRW",
		DustThresholdKRW: 1000,
	}
	return NewPortfolioReconciler(fb, fs, syncCfg, trading, blacklist, utilities.NewLogger(utilities.Error))
}

func TestDetectManualBuy(t *testing.T) {
	fb := &fakeBroker{
		balances: []broker.Balance{{Currency: "BTC", Total: 0.5, AvgBuyPrice: 100000}},
		prices:   map[string]float64{"KRW-BTC": 100000},
	}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "moderate", nil)

	mismatches, err := r.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, DetectManualBuy, mismatches[0].DetectionType)
	assert.Equal(t, "KRW-BTC", mismatches[0].Ticker)
	assert.InDelta(t, 50000, mismatches[0].EstimatedValue, 0.01)
	require.Len(t, fs.overrides, 1)
}

func TestDetectQuantityMismatch(t *testing.T) {
	fb := &fakeBroker{
		balances: []broker.Balance{{Currency: "ETH", Total: 0.5, AvgBuyPrice: 3000000}},
		prices:   map[string]float64{"KRW-ETH": 3000000},
	}
	fs := &fakeStore{
		expected: map[string]dataprovider.ExpectedHolding{
			"KRW-ETH": {Ticker: "KRW-ETH", Quantity: 0.3},
		},
	}
	r := newTestReconciler(fb, fs, "moderate", nil)

	mismatches, err := r.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, DetectQuantityMismatch, mismatches[0].DetectionType)
	assert.InDelta(t, 0.2, mismatches[0].QuantityDiff, 1e-9)
}

func TestDetectManualSell(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{}}
	fs := &fakeStore{
		expected: map[string]dataprovider.ExpectedHolding{
			"KRW-XRP": {Ticker: "KRW-XRP", Quantity: 100},
		},
	}
	r := newTestReconciler(fb, fs, "moderate", nil)

	mismatches, err := r.Detect(context.Background())
	require.NoError(t, err)
	require.Len(t, mismatches, 1)
	assert.Equal(t, DetectManualSell, mismatches[0].DetectionType)
	assert.InDelta(t, -100, mismatches[0].QuantityDiff, 1e-9)
}

func TestDetectDedupeWindow(t *testing.T) {
	fb := &fakeBroker{
		balances: []broker.Balance{{Currency: "BTC", Total: 0.5, AvgBuyPrice: 100000}},
		prices:   map[string]float64{"KRW-BTC": 100000},
	}
	fs := &fakeStore{recent: map[string]bool{"KRW-BTC|manual_buy": true}}
	r := newTestReconciler(fb, fs, "moderate", nil)

	mismatches, err := r.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mismatches)
	assert.Empty(t, fs.overrides)
}

func TestDetectSkipsBlacklistAndDust(t *testing.T) {
	fb := &fakeBroker{
		balances: []broker.Balance{
			{Currency: "LUNA", Total: 100, AvgBuyPrice: 500},
			{Currency: "SHIB", Total: 10, AvgBuyPrice: 10},
		},
		prices: map[string]float64{"KRW-LUNA": 500, "KRW-SHIB": 10},
	}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "moderate", map[string]bool{"KRW-LUNA": true})

	mismatches, err := r.Detect(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mismatches, "blacklisted and dust balances are ignored")
}

func TestSyncBackfillsWithinBudget(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{"KRW-BTC": 100000}}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "conservative", nil)

	mismatches := []Mismatch{{
		Ticker:         "KRW-BTC",
		DetectionType:  DetectManualBuy,
		ActualQuantity: 0.5,
		AvgBuyPrice:    100000,
		EstimatedValue: 50000,
		Description:    "exchange holds 0.5 with no ledgered buy",
	}}

	result, err := r.Sync(context.Background(), mismatches)
	require.NoError(t, err)
	require.Len(t, result.Synced, 1)
	assert.Empty(t, result.Unresolved)

	require.Len(t, fs.trades, 1)
	rec := fs.trades[0]
	assert.Equal(t, "buy", rec.Side)
	assert.Equal(t, "FULL_FILLED", rec.Status)
	assert.True(t, strings.HasPrefix(rec.OrderID, SyncOrderIDPrefix))
	assert.InDelta(t, 50000, rec.AmountKRW, 0.01)
	assert.InDelta(t, 50000*0.0005, rec.Fee, 0.01)

	// Backfills are dated to yesterday at the fixed hour.
	assert.Equal(t, 9, rec.ExecutedAt.Hour())
	assert.True(t, rec.ExecutedAt.Before(time.Now()))
}

func TestSyncRespectsConservativeCap(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{"KRW-BTC": 100000}}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "conservative", nil)

	mismatches := []Mismatch{{
		Ticker:         "KRW-BTC",
		DetectionType:  DetectManualBuy,
		ActualQuantity: 1.5,
		AvgBuyPrice:    100000,
		EstimatedValue: 150000,
	}}

	result, err := r.Sync(context.Background(), mismatches)
	require.NoError(t, err)
	assert.Empty(t, result.Synced)
	require.Len(t, result.Unresolved, 1)
	assert.Empty(t, fs.trades, "over-cap balances are reported, never silently absorbed")
}

func TestSyncGreedySmallestFirst(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{}}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "conservative", nil)

	mismatches := []Mismatch{
		{Ticker: "KRW-A", DetectionType: DetectManualBuy, ActualQuantity: 7, AvgBuyPrice: 10000, EstimatedValue: 70000},
		{Ticker: "KRW-B", DetectionType: DetectManualBuy, ActualQuantity: 6, AvgBuyPrice: 10000, EstimatedValue: 60000},
	}

	result, err := r.Sync(context.Background(), mismatches)
	require.NoError(t, err)
	require.Len(t, result.Synced, 1)
	assert.Equal(t, "KRW-B", result.Synced[0].Ticker, "smallest mismatch is accepted first")
	require.Len(t, result.Unresolved, 1)
	assert.LessOrEqual(t, result.SyncedNotional, 100000.0)
}

func TestSyncAggressiveIsUnlimited(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{}}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "aggressive", nil)

	mismatches := []Mismatch{{
		Ticker:         "KRW-BTC",
		DetectionType:  DetectManualBuy,
		ActualQuantity: 50,
		AvgBuyPrice:    100000,
		EstimatedValue: 5000000,
	}}

	result, err := r.Sync(context.Background(), mismatches)
	require.NoError(t, err)
	assert.Len(t, result.Synced, 1)
}

func TestSyncManualSellIsNeverAutoRepaired(t *testing.T) {
	fb := &fakeBroker{prices: map[string]float64{}}
	fs := &fakeStore{}
	r := newTestReconciler(fb, fs, "aggressive", nil)

	mismatches := []Mismatch{{
		Ticker:        "KRW-XRP",
		DetectionType: DetectManualSell,
		QuantityDiff:  -100,
	}}

	result, err := r.Sync(context.Background(), mismatches)
	require.NoError(t, err)
	assert.Empty(t, result.Synced)
	assert.Len(t, result.Unresolved, 1)
	assert.Empty(t, fs.trades)
}
