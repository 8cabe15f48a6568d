// File: pkg/executor/executor.go
package executor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/pkg/broker"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Terminal order statuses. An attempt always ends in exactly one of these
// and is ledgered exactly once.
const (
	StatusFullFilled         = "FULL_FILLED"
	StatusPartialFilled      = "PARTIAL_FILLED"
	StatusPartialFilledNoAvg = "PARTIAL_FILLED_NO_AVG_PRICE"
	StatusFailed             = "FAILED"
	StatusCancelled          = "CANCELLED"
)

// Order sides as ledgered.
const (
	SideBuy        = "buy"
	SidePyramidBuy = "pyramid_buy"
	SideSell       = "sell"
)

// TradeResult is the executor's tagged outcome for one order attempt.
// Status is the discriminator; the fallback fields record how the numbers
// were obtained when the exchange response was incomplete.
type TradeResult struct {
	Ticker             string
	Side               string
	Status             string
	OrderID            string
	RequestedAmountKRW float64
	RequestedQuantity  float64
	FilledQuantity     float64
	FilledAmountKRW    float64
	AvgPrice           float64
	Fee                float64
	Reason             string
	PriceFallback      bool // avg price came from the last market price, not fills
	PartialAfterCancel bool // fills happened, then the order was cancelled
	DryRun             bool
	ExecutedAt         time.Time
}

// Succeeded reports whether any quantity actually filled.
func (r TradeResult) Succeeded() bool {
	switch r.Status {
	case StatusFullFilled, StatusPartialFilled, StatusPartialFilledNoAvg:
		return true
	}
	return false
}

// SessionStats accumulates per-run execution counters. It is flushed to the
// reporting side at end of session, never read mid-flight by trading logic.
type SessionStats struct {
	Attempted        int
	FullFilled       int
	PartialFilled    int
	PartialCancelled int
	Failed           int
	Cancelled        int
	TotalNotionalKRW float64
	TotalFeesKRW     float64
}

// SuccessRate returns filled orders over attempted, in percent.
func (s SessionStats) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	filled := s.FullFilled + s.PartialFilled + s.PartialCancelled
	return float64(filled) / float64(s.Attempted) * 100.0
}

// AvgOrderSizeKRW returns the mean notional across filled orders.
func (s SessionStats) AvgOrderSizeKRW() float64 {
	filled := s.FullFilled + s.PartialFilled + s.PartialCancelled
	if filled == 0 {
		return 0
	}
	return s.TotalNotionalKRW / float64(filled)
}

// Ledger is the slice of the trade store the executor writes through.
type Ledger interface {
	SaveTrade(rec dataprovider.TradeRecord) error
}

// OrderExecutor owns the submit-verify-classify-ledger sequence for market
// orders. It is the only writer of live trade records.
type OrderExecutor struct {
	adapter broker.Broker
	ledger  Ledger
	orders  utilities.OrdersConfig
	trading utilities.TradingConfig
	retry   RetryPolicy
	logger  *utilities.Logger

	mu    sync.Mutex
	stats SessionStats
}

func NewOrderExecutor(adapter broker.Broker, ledger Ledger, orders utilities.OrdersConfig, trading utilities.TradingConfig, retry RetryPolicy, logger *utilities.Logger) *OrderExecutor {
	if orders.FillThreshold <= 0 {
		orders.FillThreshold = 0.99
	}
	if orders.SettleDelaySec <= 0 {
		orders.SettleDelaySec = 3
	}
	if trading.MinOrderKRW <= 0 {
		trading.MinOrderKRW = 10000
	}
	if trading.MinSellNotionalKRW <= 0 {
		trading.MinSellNotionalKRW = 5000
	}
	return &OrderExecutor{
		adapter: adapter,
		ledger:  ledger,
		orders:  orders,
		trading: trading,
		retry:   retry,
		logger:  logger,
	}
}

// Stats returns a copy of the running session counters.
func (e *OrderExecutor) Stats() SessionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Buy submits a market buy for the given quote notional. isPyramid marks an
// additive entry into an existing position; it changes the ledgered side,
// nothing else.
func (e *OrderExecutor) Buy(ctx context.Context, ticker string, amountKRW float64, isPyramid bool, reason string) (TradeResult, error) {
	side := SideBuy
	if isPyramid {
		side = SidePyramidBuy
	}

	res := TradeResult{
		Ticker:             ticker,
		Side:               side,
		RequestedAmountKRW: amountKRW,
		Reason:             reason,
		ExecutedAt:         time.Now(),
	}

	if amountKRW < e.trading.MinOrderKRW {
		res.Status = StatusCancelled
		res.Reason = fmt.Sprintf("below minimum order: %.0f KRW < %.0f KRW", amountKRW, e.trading.MinOrderKRW)
		return e.finish(res)
	}

	// Spend the fee out of the requested budget, not on top of it.
	netNotional := amountKRW / (1.0 + e.trading.TakerFeeRate)

	if e.trading.DryRun {
		return e.dryRunFill(ctx, res, netNotional, 0)
	}

	clientOrderID := uuid.NewString()
	orderID, err := e.submit(ctx, ticker, "buy", netNotional, 0, clientOrderID)
	if err != nil {
		return e.classifySubmitError(ctx, res, clientOrderID, err)
	}

	order, err := e.settleAndFetch(ctx, orderID)
	if err != nil {
		res.Status = StatusFailed
		res.OrderID = orderID
		res.Reason = fmt.Sprintf("status query failed after submit: %v", err)
		return e.finish(res)
	}
	return e.classifyAndFinish(ctx, res, order)
}

// Sell submits a market sell for the given base quantity.
func (e *OrderExecutor) Sell(ctx context.Context, ticker string, quantity float64, reason string) (TradeResult, error) {
	res := TradeResult{
		Ticker:            ticker,
		Side:              SideSell,
		RequestedQuantity: quantity,
		Reason:            reason,
		ExecutedAt:        time.Now(),
	}

	if quantity <= 0 {
		res.Status = StatusCancelled
		res.Reason = "nothing to sell: zero quantity"
		return e.finish(res)
	}

	lastPrice, err := e.lastPrice(ctx, ticker)
	if err == nil && lastPrice*quantity < e.trading.MinSellNotionalKRW {
		res.Status = StatusCancelled
		res.Reason = fmt.Sprintf("below minimum sell notional: %.0f KRW < %.0f KRW",
			lastPrice*quantity, e.trading.MinSellNotionalKRW)
		return e.finish(res)
	}

	if e.trading.DryRun {
		return e.dryRunFill(ctx, res, 0, quantity)
	}

	clientOrderID := uuid.NewString()
	orderID, err := e.submit(ctx, ticker, "sell", 0, quantity, clientOrderID)
	if err != nil {
		return e.classifySubmitError(ctx, res, clientOrderID, err)
	}

	order, err := e.settleAndFetch(ctx, orderID)
	if err != nil {
		res.Status = StatusFailed
		res.OrderID = orderID
		res.Reason = fmt.Sprintf("status query failed after submit: %v", err)
		return e.finish(res)
	}
	return e.classifyAndFinish(ctx, res, order)
}

// submit places the market order under the retry policy. Business rejections
// break out of the retry loop on the first attempt.
func (e *OrderExecutor) submit(ctx context.Context, ticker, side string, notional, quantity float64, clientOrderID string) (string, error) {
	var orderID string
	err := e.retry.Do(ctx, func() error {
		var placeErr error
		orderID, placeErr = e.adapter.PlaceOrder(ctx, ticker, side, "market", quantity, notional, clientOrderID)
		return placeErr
	})
	if err != nil {
		return "", err
	}
	if orderID == "" {
		return "", fmt.Errorf("exchange returned no order id for %s %s", side, ticker)
	}
	return orderID, nil
}

// classifySubmitError turns a failed submit into its terminal status. A
// transport failure gets one re-verification pass by client order id before
// being declared FAILED, because the order may have been accepted even
// though the response was lost.
func (e *OrderExecutor) classifySubmitError(ctx context.Context, res TradeResult, clientOrderID string, err error) (TradeResult, error) {
	if !broker.IsRetryable(err) {
		res.Status = StatusCancelled
		res.Reason = fmt.Sprintf("rejected by exchange: %v", err)
		return e.finish(res)
	}

	e.logger.LogWarn("Executor %s: submit failed (%v), re-verifying by client order id", res.Ticker, err)
	e.settleSleep(ctx)

	order, verr := e.adapter.FindOrderByClientID(ctx, clientOrderID)
	if verr != nil {
		res.Status = StatusFailed
		res.Reason = fmt.Sprintf("submit failed, no order found on re-verify: %v", err)
		return e.finish(res)
	}

	// The order was accepted even though the submit response was lost.
	// Classification handles it from here, including cancelling it if it is
	// still resting unfilled.
	e.logger.LogInfo("Executor %s: re-verify recovered order %s with executed volume %.8f",
		res.Ticker, order.ID, order.ExecutedVol)
	res.Reason = appendNote(res.Reason, "order recovered by client id after lost submit response")
	return e.classifyAndFinish(ctx, res, order)
}

// settleAndFetch waits the settle delay once and queries the order status.
// A single bounded poll, not a loop; market orders on this venue settle
// within seconds or not at all.
func (e *OrderExecutor) settleAndFetch(ctx context.Context, orderID string) (broker.Order, error) {
	e.settleSleep(ctx)

	var order broker.Order
	err := e.retry.Do(ctx, func() error {
		var qErr error
		order, qErr = e.adapter.GetOrderStatus(ctx, orderID)
		return qErr
	})
	return order, err
}

func (e *OrderExecutor) settleSleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Duration(e.orders.SettleDelaySec) * time.Second):
	}
}

// classifyAndFinish applies the classification to a fetched order, fills in
// the result numbers with fallbacks where the exchange response was
// incomplete, and ledgers the outcome.
func (e *OrderExecutor) classifyAndFinish(ctx context.Context, res TradeResult, order broker.Order) (TradeResult, error) {
	res.OrderID = order.ID
	res.FilledQuantity = order.ExecutedVol
	if res.RequestedQuantity == 0 {
		res.RequestedQuantity = order.RequestedVol
	}

	status, partialAfterCancel := Classify(order, res.RequestedQuantity, e.orders.FillThreshold)
	res.Status = status
	res.PartialAfterCancel = partialAfterCancel

	if res.Succeeded() {
		res.AvgPrice = order.AvgFillPrice
		if res.AvgPrice <= 0 {
			last, err := e.lastPrice(ctx, res.Ticker)
			if err != nil || last <= 0 {
				last = order.Price
			}
			res.AvgPrice = last
			res.PriceFallback = true
			res.Reason = appendNote(res.Reason, "avg price estimated from last market price")
		}
		res.FilledAmountKRW = res.FilledQuantity * res.AvgPrice
		res.Fee = order.Fee
		if res.Fee <= 0 {
			res.Fee = res.FilledAmountKRW * e.trading.TakerFeeRate
		}
		if partialAfterCancel {
			res.Reason = appendNote(res.Reason, "order cancelled after partial execution")
		}
	} else {
		res.Reason = appendNote(res.Reason, fmt.Sprintf("no execution (state=%s)", order.State))
		// Do not leave an unfilled order resting on the book.
		if order.ID != "" && order.State == broker.StateWait {
			if cErr := e.adapter.CancelOrder(ctx, order.ID); cErr != nil {
				e.logger.LogWarn("Executor %s: cancel of unfilled order %s failed: %v", res.Ticker, order.ID, cErr)
			} else {
				res.Reason = appendNote(res.Reason, "unfilled order cancelled")
			}
		}
	}

	return e.finish(res)
}

// finish performs the single ledger write and the counter updates. This is
// the only exit path for every attempt, successful or not.
func (e *OrderExecutor) finish(res TradeResult) (TradeResult, error) {
	rec := dataprovider.TradeRecord{
		Ticker:     res.Ticker,
		Side:       res.Side,
		Status:     res.Status,
		OrderID:    res.OrderID,
		Quantity:   res.FilledQuantity,
		Price:      res.AvgPrice,
		AmountKRW:  res.FilledAmountKRW,
		Fee:        res.Fee,
		Reason:     res.Reason,
		DryRun:     res.DryRun,
		ExecutedAt: res.ExecutedAt,
	}
	if err := e.ledger.SaveTrade(rec); err != nil {
		// The order may be live on the exchange; losing the ledger row is
		// worse than a duplicate log line, so surface it loudly.
		e.logger.LogError("Executor %s: ledger write failed for %s order %s: %v",
			res.Ticker, res.Status, res.OrderID, err)
		return res, fmt.Errorf("ledger write for %s: %w", res.Ticker, err)
	}

	e.mu.Lock()
	e.stats.Attempted++
	switch {
	case res.Status == StatusFullFilled:
		e.stats.FullFilled++
	case res.PartialAfterCancel:
		e.stats.PartialCancelled++
	case res.Status == StatusPartialFilled || res.Status == StatusPartialFilledNoAvg:
		e.stats.PartialFilled++
	case res.Status == StatusFailed:
		e.stats.Failed++
	case res.Status == StatusCancelled:
		e.stats.Cancelled++
	}
	if res.Succeeded() {
		e.stats.TotalNotionalKRW += res.FilledAmountKRW
		e.stats.TotalFeesKRW += res.Fee
	}
	e.mu.Unlock()

	e.logger.LogInfo("Executor %s %s: %s qty=%.8f avg=%.2f amount=%.0f KRW fee=%.2f (%s)",
		res.Ticker, res.Side, res.Status, res.FilledQuantity, res.AvgPrice, res.FilledAmountKRW, res.Fee, res.Reason)
	return res, nil
}

// dryRunFill simulates a full fill at the current market price.
func (e *OrderExecutor) dryRunFill(ctx context.Context, res TradeResult, notional, quantity float64) (TradeResult, error) {
	price, err := e.lastPrice(ctx, res.Ticker)
	if err != nil || price <= 0 {
		res.Status = StatusFailed
		res.Reason = appendNote(res.Reason, fmt.Sprintf("dry run: no market price available: %v", err))
		res.DryRun = true
		return e.finish(res)
	}

	res.DryRun = true
	res.Status = StatusFullFilled
	res.OrderID = "DRYRUN-" + uuid.NewString()
	res.AvgPrice = price
	if quantity > 0 {
		res.FilledQuantity = quantity
	} else {
		res.FilledQuantity = notional / price
	}
	res.FilledAmountKRW = res.FilledQuantity * price
	res.Fee = res.FilledAmountKRW * e.trading.TakerFeeRate
	res.Reason = appendNote(res.Reason, "dry run")
	return e.finish(res)
}

func (e *OrderExecutor) lastPrice(ctx context.Context, ticker string) (float64, error) {
	td, err := e.adapter.GetTicker(ctx, ticker)
	if err != nil {
		return 0, err
	}
	return td.LastPrice, nil
}

// Classify maps a normalized order onto one of the terminal statuses. It is
// a pure function of its inputs; the second return marks a partial fill
// that ended in cancellation rather than completion.
func Classify(order broker.Order, requestedQty, fillThreshold float64) (string, bool) {
	if fillThreshold <= 0 {
		fillThreshold = 0.99
	}

	executed := order.ExecutedVol
	if executed <= 0 {
		return StatusFailed, false
	}

	hasDetail := len(order.Fills) > 0 || order.AvgFillPrice > 0

	full := false
	if requestedQty > 0 {
		full = executed >= fillThreshold*requestedQty
	} else {
		full = order.State == broker.StateDone && order.RemainingVol <= 0
	}

	if order.State == broker.StateCancel {
		// Filled, then cancelled. Never a full fill even if the volume is
		// close; the exchange said it stopped short.
		if full && requestedQty > 0 && executed >= requestedQty {
			return StatusFullFilled, false
		}
		if hasDetail {
			return StatusPartialFilled, true
		}
		return StatusPartialFilledNoAvg, true
	}

	if full {
		return StatusFullFilled, false
	}
	if hasDetail {
		return StatusPartialFilled, false
	}
	return StatusPartialFilledNoAvg, false
}

func appendNote(reason, note string) string {
	if reason == "" {
		return note
	}
	if strings.Contains(reason, note) {
		return reason
	}
	return reason + "; " + note
}
