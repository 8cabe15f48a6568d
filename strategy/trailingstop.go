// File: strategy/trailingstop.go
package strategy

import (
	"context"
	"sync"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

// Stop type tags describe which rule produced the current stop price.
const (
	StopTypeATRTrailing = "atr_trailing"
	StopTypeATRFixed    = "atr_fixed"
	StopTypeClampedMin  = "clamped_min"
	StopTypeClampedMax  = "clamped_max"
)

// ATRResolver supplies an ATR value for a ticker at the given price. The
// caller wires the fallback chain (ledger snapshot, computed from candles,
// percent-of-price default) behind this.
type ATRResolver func(ctx context.Context, ticker string, currentPrice float64) float64

type stopState struct {
	entryPrice   float64
	highestPrice float64
	atr          float64
	stopPrice    float64
	stopType     string
}

// TrailingStopEngine maintains a monotonically tightening ATR stop per
// ticker. The stop never moves down while a position is held.
type TrailingStopEngine struct {
	cfg        utilities.StopConfig
	logger     *utilities.Logger
	resolveATR ATRResolver

	mu     sync.Mutex
	states map[string]*stopState
}

func NewTrailingStopEngine(cfg utilities.StopConfig, logger *utilities.Logger, resolveATR ATRResolver) *TrailingStopEngine {
	if cfg.ATRMultiplier <= 0 {
		cfg.ATRMultiplier = 1.0
	}
	if cfg.MinStopDistancePercent <= 0 {
		cfg.MinStopDistancePercent = 5.0
	}
	if cfg.MaxStopDistancePercent <= 0 {
		cfg.MaxStopDistancePercent = 15.0
	}
	if cfg.DefaultATRPercent <= 0 {
		cfg.DefaultATRPercent = 3.0
	}
	return &TrailingStopEngine{
		cfg:        cfg,
		logger:     logger,
		resolveATR: resolveATR,
		states:     make(map[string]*stopState),
	}
}

// Update records a price observation and reports whether the stop has been
// hit. The first observation for a ticker arms the stop at the current price
// and never signals an exit.
func (e *TrailingStopEngine) Update(ctx context.Context, ticker string, currentPrice float64) bool {
	if currentPrice <= 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.states[ticker]
	if !ok {
		atr := 0.0
		if e.resolveATR != nil {
			atr = e.resolveATR(ctx, ticker, currentPrice)
		}
		if atr <= 0 {
			atr = currentPrice * e.cfg.DefaultATRPercent / 100.0
			e.logger.LogWarn("TrailingStop %s: no ATR available, defaulting to %.1f%% of price (%.2f)",
				ticker, e.cfg.DefaultATRPercent, atr)
		}

		st = &stopState{
			entryPrice:   currentPrice,
			highestPrice: currentPrice,
			atr:          atr,
		}
		st.stopPrice, st.stopType = e.clampStop(st, currentPrice-atr, StopTypeATRFixed)
		e.states[ticker] = st

		e.logger.LogInfo("TrailingStop %s armed: entry=%.2f ATR=%.2f stop=%.2f (%s)",
			ticker, currentPrice, atr, st.stopPrice, st.stopType)
		return false
	}

	if currentPrice > st.highestPrice {
		st.highestPrice = currentPrice
	}

	trailPrice := st.highestPrice - st.atr*e.cfg.ATRMultiplier
	fixedStop := st.entryPrice - st.atr

	rawStop := fixedStop
	rawType := StopTypeATRFixed
	if trailPrice > fixedStop {
		rawStop = trailPrice
		rawType = StopTypeATRTrailing
	}

	newStop, newType := e.clampStop(st, rawStop, rawType)

	// The stop only tightens.
	if newStop > st.stopPrice {
		st.stopPrice = newStop
		st.stopType = newType
	}

	if currentPrice <= st.stopPrice {
		e.logger.LogInfo("TrailingStop %s exit: price=%.2f <= stop=%.2f (%s, peak=%.2f)",
			ticker, currentPrice, st.stopPrice, st.stopType, st.highestPrice)
		return true
	}
	return false
}

// clampStop bounds the loss-side stop distance to the configured band of the
// entry price. Stops at or above entry are locking in profit and pass
// through untouched.
func (e *TrailingStopEngine) clampStop(st *stopState, rawStop float64, rawType string) (float64, string) {
	if rawStop >= st.entryPrice {
		return rawStop, rawType
	}

	distancePct := (st.entryPrice - rawStop) / st.entryPrice * 100.0
	if distancePct < e.cfg.MinStopDistancePercent {
		return st.entryPrice * (1.0 - e.cfg.MinStopDistancePercent/100.0), StopTypeClampedMin
	}
	if distancePct > e.cfg.MaxStopDistancePercent {
		return st.entryPrice * (1.0 - e.cfg.MaxStopDistancePercent/100.0), StopTypeClampedMax
	}
	return rawStop, rawType
}

// StopPrice returns the current stop for a ticker, if armed.
func (e *TrailingStopEngine) StopPrice(ticker string) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ticker]
	if !ok {
		return 0, false
	}
	return st.stopPrice, true
}

// StopType returns the tag of the rule that produced the current stop.
func (e *TrailingStopEngine) StopType(ticker string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[ticker]
	if !ok {
		return "", false
	}
	return st.stopType, true
}

// Forget clears the state for a ticker after its position closes.
func (e *TrailingStopEngine) Forget(ticker string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, ticker)
}

// Armed reports whether a ticker has trailing stop state.
func (e *TrailingStopEngine) Armed(ticker string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.states[ticker]
	return ok
}

// ArmedTickers lists every ticker with live stop state.
func (e *TrailingStopEngine) ArmedTickers() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	tickers := make([]string, 0, len(e.states))
	for t := range e.states {
		tickers = append(tickers, t)
	}
	return tickers
}
