// File: pkg/reconciler/reconciler.go
package reconciler

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Detection types for a divergence between exchange balances and the ledger.
const (
	DetectManualBuy        = "manual_buy"
	DetectManualSell       = "manual_sell"
	DetectQuantityMismatch = "quantity_mismatch"
)

// SyncOrderIDPrefix marks every synthetic backfill record so a reconstructed
// fill can always be told apart from a real one.
const SyncOrderIDPrefix = "AUTO_SYNC"

const quantityTolerance = 1e-8

// Mismatch is one detected divergence, enriched with the pricing needed to
// decide whether automatic repair is allowed.
type Mismatch struct {
	Ticker           string
	DetectionType    string
	ExpectedQuantity float64
	ActualQuantity   float64
	QuantityDiff     float64
	AvgBuyPrice      float64
	EstimatedValue   float64
	Description      string
}

// SyncResult summarizes one repair pass.
type SyncResult struct {
	Synced         []Mismatch
	Unresolved     []Mismatch
	SyncedNotional float64
}

// Store is the slice of the trade store the reconciler reads and writes.
type Store interface {
	ExpectedHoldings() (map[string]dataprovider.ExpectedHolding, error)
	HasBuyRecord(ticker string) (bool, error)
	RecentOverrideExists(ticker, detectionType string, quantityDiff float64, window time.Duration) (bool, error)
	InsertManualOverride(ov dataprovider.ManualOverride) error
	SaveTrade(rec dataprovider.TradeRecord) error
}

// PortfolioReconciler detects and repairs divergence between the exchange's
// authoritative balances and the local ledger. It reads the exchange and
// writes the ledger; it never places an order.
type PortfolioReconciler struct {
	adapter   broker.Broker
	store     Store
	syncCfg   utilities.SyncConfig
	trading   utilities.TradingConfig
	blacklist map[string]bool
	logger    *utilities.Logger
	now       func() time.Time
}

func NewPortfolioReconciler(adapter broker.Broker, store Store, syncCfg utilities.SyncConfig, trading utilities.TradingConfig, blacklist map[string]bool, logger *utilities.Logger) *PortfolioReconciler {
	if syncCfg.DedupeWindowHours <= 0 {
		syncCfg.DedupeWindowHours = 24
	}
	if syncCfg.EstimatedFeeRate <= 0 {
		syncCfg.EstimatedFeeRate = 0.0005
	}
	if syncCfg.BackfillHour <= 0 {
		syncCfg.BackfillHour = 9
	}
	if syncCfg.ConservativeCapKRW <= 0 {
		syncCfg.ConservativeCapKRW = 100000
	}
	if syncCfg.ModerateCapKRW <= 0 {
		syncCfg.ModerateCapKRW = 1000000
	}
	if trading.DustThresholdKRW <= 0 {
		trading.DustThresholdKRW = 1000
	}
	return &PortfolioReconciler{
		adapter:   adapter,
		store:     store,
		syncCfg:   syncCfg,
		trading:   trading,
		blacklist: blacklist,
		logger:    logger,
		now:       time.Now,
	}
}

// Detect compares every non-quote exchange balance against the ledger's
// expected holdings and records each fresh divergence in the override log.
// Divergences already logged within the dedupe window are skipped.
func (r *PortfolioReconciler) Detect(ctx context.Context) ([]Mismatch, error) {
	balances, err := r.adapter.GetBalances(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching exchange balances: %w", err)
	}

	expected, err := r.store.ExpectedHoldings()
	if err != nil {
		return nil, fmt.Errorf("aggregating ledger holdings: %w", err)
	}

	quote := r.trading.QuoteCurrency
	if quote == "" {
		quote = "KRW"
	}

	var mismatches []Mismatch

	actual := make(map[string]broker.Balance, len(balances))
	for _, bal := range balances {
		if bal.Currency == quote {
			continue
		}
		ticker := quote + "-" + strings.ToUpper(bal.Currency)
		actual[ticker] = bal

		exp, known := expected[ticker]
		expQty := 0.0
		if known {
			expQty = exp.Quantity
		}
		diff := bal.Total - expQty
		if math.Abs(diff) <= quantityTolerance {
			continue
		}

		value := r.estimateValue(ctx, ticker, bal.Total, bal.AvgBuyPrice)
		if value < r.trading.DustThresholdKRW {
			continue
		}
		if r.blacklist[ticker] {
			r.logger.LogDebug("Reconciler %s: divergence on blacklisted ticker ignored", ticker)
			continue
		}

		detType := DetectQuantityMismatch
		desc := fmt.Sprintf("exchange holds %.8f, ledger expects %.8f", bal.Total, expQty)
		if expQty <= quantityTolerance {
			detType = DetectManualBuy
			desc = fmt.Sprintf("exchange holds %.8f with no ledgered buy", bal.Total)
		}

		m := Mismatch{
			Ticker:           ticker,
			DetectionType:    detType,
			ExpectedQuantity: expQty,
			ActualQuantity:   bal.Total,
			QuantityDiff:     diff,
			AvgBuyPrice:      bal.AvgBuyPrice,
			EstimatedValue:   value,
			Description:      desc,
		}
		if r.record(m) {
			mismatches = append(mismatches, m)
		}
	}

	// Ledger expects a holding the exchange no longer has.
	for ticker, exp := range expected {
		if _, held := actual[ticker]; held {
			continue
		}
		if exp.Quantity <= quantityTolerance || r.blacklist[ticker] {
			continue
		}
		m := Mismatch{
			Ticker:           ticker,
			DetectionType:    DetectManualSell,
			ExpectedQuantity: exp.Quantity,
			ActualQuantity:   0,
			QuantityDiff:     -exp.Quantity,
			Description:      fmt.Sprintf("ledger expects %.8f but exchange holds none", exp.Quantity),
		}
		if r.record(m) {
			mismatches = append(mismatches, m)
		}
	}

	if len(mismatches) > 0 {
		r.logger.LogInfo("Reconciler: %d fresh divergence(s) detected", len(mismatches))
	}
	return mismatches, nil
}

// record logs one divergence into the override table unless the same
// divergence was already recorded within the dedupe window.
func (r *PortfolioReconciler) record(m Mismatch) bool {
	window := time.Duration(r.syncCfg.DedupeWindowHours) * time.Hour
	seen, err := r.store.RecentOverrideExists(m.Ticker, m.DetectionType, m.QuantityDiff, window)
	if err != nil {
		r.logger.LogError("Reconciler %s: dedupe lookup failed: %v", m.Ticker, err)
		return false
	}
	if seen {
		r.logger.LogDebug("Reconciler %s: %s already recorded within %s, skipping", m.Ticker, m.DetectionType, window)
		return false
	}

	ov := dataprovider.ManualOverride{
		Ticker:           m.Ticker,
		DetectionType:    m.DetectionType,
		ExpectedQuantity: m.ExpectedQuantity,
		ActualQuantity:   m.ActualQuantity,
		QuantityDiff:     m.QuantityDiff,
		Description:      m.Description,
		DetectedAt:       r.now(),
	}
	if err := r.store.InsertManualOverride(ov); err != nil {
		r.logger.LogError("Reconciler %s: recording override failed: %v", m.Ticker, err)
		return false
	}
	r.logger.LogWarn("Reconciler %s: %s (%s)", m.Ticker, m.DetectionType, m.Description)
	return true
}

// Sync backfills manual buys with synthetic ledger records, smallest first,
// up to the policy's notional cap. Everything above the cap is returned
// unresolved for manual handling.
func (r *PortfolioReconciler) Sync(ctx context.Context, mismatches []Mismatch) (SyncResult, error) {
	var result SyncResult

	budget := r.policyCap()

	var candidates []Mismatch
	for _, m := range mismatches {
		if m.DetectionType == DetectManualBuy {
			candidates = append(candidates, m)
		} else {
			result.Unresolved = append(result.Unresolved, m)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].EstimatedValue < candidates[j].EstimatedValue
	})

	for _, m := range candidates {
		if budget > 0 && result.SyncedNotional+m.EstimatedValue > budget {
			r.logger.LogWarn("Reconciler %s: %.0f KRW exceeds the %s auto-sync budget, left for manual review",
				m.Ticker, m.EstimatedValue, r.syncCfg.Policy)
			result.Unresolved = append(result.Unresolved, m)
			continue
		}

		price := m.AvgBuyPrice
		if price <= 0 {
			price = r.lastPrice(ctx, m.Ticker)
		}
		if price <= 0 {
			r.logger.LogError("Reconciler %s: no usable price for backfill, left unresolved", m.Ticker)
			result.Unresolved = append(result.Unresolved, m)
			continue
		}

		notional := m.ActualQuantity * price
		rec := dataprovider.TradeRecord{
			Ticker:     m.Ticker,
			Side:       "buy",
			Status:     "FULL_FILLED",
			OrderID:    fmt.Sprintf("%s-%s", SyncOrderIDPrefix, uuid.NewString()),
			Quantity:   m.ActualQuantity,
			Price:      price,
			AmountKRW:  notional,
			Fee:        notional * r.syncCfg.EstimatedFeeRate,
			Reason:     fmt.Sprintf("%s: %s", SyncOrderIDPrefix, m.Description),
			ExecutedAt: r.backfillTimestamp(),
		}
		if err := r.store.SaveTrade(rec); err != nil {
			r.logger.LogError("Reconciler %s: backfill write failed: %v", m.Ticker, err)
			result.Unresolved = append(result.Unresolved, m)
			continue
		}

		result.Synced = append(result.Synced, m)
		result.SyncedNotional += m.EstimatedValue
		r.logger.LogInfo("Reconciler %s: backfilled %.8f @ %.2f (%.0f KRW) as %s",
			m.Ticker, m.ActualQuantity, price, notional, rec.OrderID)
	}

	return result, nil
}

// Run performs one detect-then-sync pass.
func (r *PortfolioReconciler) Run(ctx context.Context) (SyncResult, error) {
	mismatches, err := r.Detect(ctx)
	if err != nil {
		return SyncResult{}, err
	}
	if len(mismatches) == 0 {
		return SyncResult{}, nil
	}
	return r.Sync(ctx, mismatches)
}

// policyCap maps the configured policy onto its total auto-repair budget.
// Zero means unlimited.
func (r *PortfolioReconciler) policyCap() float64 {
	switch strings.ToLower(r.syncCfg.Policy) {
	case "conservative":
		return r.syncCfg.ConservativeCapKRW
	case "aggressive":
		return 0
	default:
		return r.syncCfg.ModerateCapKRW
	}
}

// backfillTimestamp dates a synthetic record to yesterday at the fixed
// backfill hour, since the true entry time is unrecoverable.
func (r *PortfolioReconciler) backfillTimestamp() time.Time {
	y := r.now().AddDate(0, 0, -1)
	return time.Date(y.Year(), y.Month(), y.Day(), r.syncCfg.BackfillHour, 0, 0, 0, y.Location())
}

func (r *PortfolioReconciler) estimateValue(ctx context.Context, ticker string, qty, avgBuyPrice float64) float64 {
	price := r.lastPrice(ctx, ticker)
	if price <= 0 {
		price = avgBuyPrice
	}
	return qty * price
}

func (r *PortfolioReconciler) lastPrice(ctx context.Context, ticker string) float64 {
	td, err := r.adapter.GetTicker(ctx, ticker)
	if err != nil {
		return 0
	}
	return td.LastPrice
}
