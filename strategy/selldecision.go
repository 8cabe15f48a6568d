// File: strategy/selldecision.go
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// SellDecision is the outcome of one exit evaluation. Reason is the audit
// trail for why an exit did or did not fire; it is a contract, not cosmetic.
type SellDecision struct {
	ShouldSell bool
	Rule       string
	Reason     string
}

// Exit rule identifiers, in priority order.
const (
	RuleTrailingStop = "trailing_stop"
	RuleSupportBreak = "support_break"
	RuleTechnical    = "technical_exit"
	RuleStopLoss     = "stop_loss"
	RuleTakeProfit   = "take_profit"
	RuleLongHold     = "long_hold"
	RuleHold         = "hold"
)

// SellDecisionEngine combines the trailing stop signal, indicator
// thresholds, the qualitative advisor signal, fixed stop/take-profit
// percentages, and the long-hold rule into a single exit decision.
// Rules are evaluated in strict priority order; the first match wins.
type SellDecisionEngine struct {
	cfg      utilities.TradingConfig
	trailing *TrailingStopEngine
	logger   *utilities.Logger
}

func NewSellDecisionEngine(cfg utilities.TradingConfig, trailing *TrailingStopEngine, logger *utilities.Logger) *SellDecisionEngine {
	if cfg.StopLossPercent == 0 {
		cfg.StopLossPercent = -8.0
	}
	if cfg.TakeProfitPercent == 0 {
		cfg.TakeProfitPercent = 20.0
	}
	if cfg.LongHoldDays == 0 {
		cfg.LongHoldDays = 30
	}
	if cfg.LongHoldMinProfitPercent == 0 {
		cfg.LongHoldMinProfitPercent = 10.0
	}
	return &SellDecisionEngine{
		cfg:      cfg,
		trailing: trailing,
		logger:   logger,
	}
}

// Decide evaluates the exit rules for one open position. The snapshot and
// qualitative signal may be nil/empty; the price-driven rules still apply.
func (e *SellDecisionEngine) Decide(ctx context.Context, pos utilities.Position, snap *dataprovider.TechnicalSnapshot, qualitativeSignal string) SellDecision {
	price := pos.CurrentPrice

	// 1. Trailing stop. Purely price-driven, cannot be overridden.
	if e.trailing != nil && e.trailing.Update(ctx, pos.Ticker, price) {
		stop, _ := e.trailing.StopPrice(pos.Ticker)
		stopType, _ := e.trailing.StopType(pos.Ticker)
		return SellDecision{
			ShouldSell: true,
			Rule:       RuleTrailingStop,
			Reason:     fmt.Sprintf("trailing stop hit: price %.2f <= stop %.2f (%s)", price, stop, stopType),
		}
	}

	// 2. Support break.
	if snap != nil && snap.SupportLevel > 0 && price < snap.SupportLevel {
		return SellDecision{
			ShouldSell: true,
			Rule:       RuleSupportBreak,
			Reason:     fmt.Sprintf("support broken: price %.2f below support %.2f", price, snap.SupportLevel),
		}
	}

	// 3. Technical deterioration. Technical alone is sufficient; the
	// advisor signal only raises reported confidence.
	if snap != nil {
		var triggers []string
		if snap.Supertrend > 0 && price < snap.Supertrend {
			triggers = append(triggers, fmt.Sprintf("price %.2f below supertrend %.2f", price, snap.Supertrend))
		}
		if snap.MACDHistogram < 0 {
			triggers = append(triggers, fmt.Sprintf("MACD histogram negative (%.4f)", snap.MACDHistogram))
		}
		if len(triggers) > 0 {
			reason := strings.Join(triggers, "; ")
			if advisorSaysSell(qualitativeSignal) {
				reason += " [advisor concurs: sell]"
			}
			return SellDecision{ShouldSell: true, Rule: RuleTechnical, Reason: reason}
		}
	}

	// 4. Fixed stop-loss.
	if pos.UnrealizedPnLPercent <= e.cfg.StopLossPercent {
		return SellDecision{
			ShouldSell: true,
			Rule:       RuleStopLoss,
			Reason:     fmt.Sprintf("stop loss: pnl %.2f%% <= %.2f%%", pos.UnrealizedPnLPercent, e.cfg.StopLossPercent),
		}
	}

	// 5. Fixed take-profit.
	if pos.UnrealizedPnLPercent >= e.cfg.TakeProfitPercent {
		return SellDecision{
			ShouldSell: true,
			Rule:       RuleTakeProfit,
			Reason:     fmt.Sprintf("take profit: pnl %.2f%% >= %.2f%%", pos.UnrealizedPnLPercent, e.cfg.TakeProfitPercent),
		}
	}

	// 6. Long-hold profit rule: do not let capital sit in slow winners.
	if pos.HoldDays >= e.cfg.LongHoldDays && pos.UnrealizedPnLPercent >= e.cfg.LongHoldMinProfitPercent {
		return SellDecision{
			ShouldSell: true,
			Rule:       RuleLongHold,
			Reason: fmt.Sprintf("long hold: %d days held with pnl %.2f%% >= %.2f%%",
				pos.HoldDays, pos.UnrealizedPnLPercent, e.cfg.LongHoldMinProfitPercent),
		}
	}

	return SellDecision{
		ShouldSell: false,
		Rule:       RuleHold,
		Reason:     fmt.Sprintf("hold: pnl %.2f%%, %d days held, no exit condition met", pos.UnrealizedPnLPercent, pos.HoldDays),
	}
}

func advisorSaysSell(signal string) bool {
	return strings.Contains(strings.ToLower(signal), "sell")
}
