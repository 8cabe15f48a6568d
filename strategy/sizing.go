// File: strategy/sizing.go
package strategy

import (
	"github.com/jsj9346/makenaide-sub002/utilities"
)

// PositionSizer converts a Kelly estimate and a sentiment multiplier into an
// order notional, bounded so that no single estimate is ever trusted beyond
// the configured ceiling or floored into dust.
type PositionSizer struct {
	cfg         utilities.SizingConfig
	minOrderKRW float64
	logger      *utilities.Logger
}

func NewPositionSizer(cfg utilities.SizingConfig, minOrderKRW float64, logger *utilities.Logger) *PositionSizer {
	if cfg.MinPositionPercent <= 0 {
		cfg.MinPositionPercent = 1.0
	}
	if cfg.MaxPositionPercent <= 0 {
		cfg.MaxPositionPercent = 8.0
	}
	return &PositionSizer{
		cfg:         cfg,
		minOrderKRW: minOrderKRW,
		logger:      logger,
	}
}

// Size returns the order notional for one entry. A zero return means no
// trade: the clamped allocation would not clear the exchange minimum.
func (s *PositionSizer) Size(ticker string, kellyPct, sentimentMultiplier, totalEquity float64) float64 {
	if totalEquity <= 0 {
		return 0
	}
	if sentimentMultiplier <= 0 {
		sentimentMultiplier = 1.0
	}

	adjustedPct := kellyPct * sentimentMultiplier
	if adjustedPct < s.cfg.MinPositionPercent {
		adjustedPct = s.cfg.MinPositionPercent
	}
	if adjustedPct > s.cfg.MaxPositionPercent {
		adjustedPct = s.cfg.MaxPositionPercent
	}

	amount := totalEquity * adjustedPct / 100.0
	if amount < s.minOrderKRW {
		s.logger.LogDebug("Sizer %s: %.2f%% of equity (%.0f KRW) is below the exchange minimum, skipping",
			ticker, adjustedPct, amount)
		return 0
	}

	s.logger.LogDebug("Sizer %s: kelly %.2f%% x sentiment %.2f -> %.2f%% = %.0f KRW",
		ticker, kellyPct, sentimentMultiplier, adjustedPct, amount)
	return amount
}

// MaxPositionPercent exposes the sizing ceiling for the pyramiding guard.
func (s *PositionSizer) MaxPositionPercent() float64 {
	return s.cfg.MaxPositionPercent
}
