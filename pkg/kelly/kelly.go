// File: pkg/kelly/kelly.go
package kelly

import (
	"fmt"
	"strings"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

// RiskLevel scales the technical position up or down across the whole book.
type RiskLevel string

const (
	Conservative RiskLevel = "conservative"
	Moderate     RiskLevel = "moderate"
	Aggressive   RiskLevel = "aggressive"
)

// ParseRiskLevel converts the config string into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	switch strings.ToLower(s) {
	case "", "moderate":
		return Moderate, nil
	case "conservative":
		return Conservative, nil
	case "aggressive":
		return Aggressive, nil
	default:
		return Moderate, fmt.Errorf("invalid risk level: %s", s)
	}
}

// PatternType identifies the breakout setup a candidate was screened on.
type PatternType string

const (
	PatternStage1To2     PatternType = "stage_1_to_2"
	PatternVCP           PatternType = "vcp"
	PatternCupHandle     PatternType = "cup_handle"
	Pattern60DayBreakout PatternType = "60d_high_breakout"
	PatternStage2Cont    PatternType = "stage_2_continuation"
	PatternMA200Breakout PatternType = "ma200_breakout"
	PatternUnknown       PatternType = "unknown"
)

// PatternProbability holds the historically validated odds for a pattern.
type PatternProbability struct {
	WinRate      float64 // 0.0-1.0
	AvgWin       float64 // average winning return
	AvgLoss      float64 // average losing return, positive number
	BasePosition float64 // base position size in percent of equity
}

// qualityBand maps a setup quality score onto a sizing multiplier.
type qualityBand struct {
	min, max   float64
	multiplier float64
	label      string
}

// Calculator derives a Kelly-grounded position percentage from the pattern
// probability table, the setup quality score, and the account risk level.
type Calculator struct {
	riskLevel         RiskLevel
	maxSinglePosition float64
	patterns          map[PatternType]PatternProbability
	qualityBands      []qualityBand
	logger            *utilities.Logger
}

func NewCalculator(riskLevel RiskLevel, maxSinglePosition float64, logger *utilities.Logger) *Calculator {
	if maxSinglePosition <= 0 {
		maxSinglePosition = 8.0
	}
	return &Calculator{
		riskLevel:         riskLevel,
		maxSinglePosition: maxSinglePosition,
		patterns: map[PatternType]PatternProbability{
			PatternStage1To2:     {WinRate: 0.675, AvgWin: 0.25, AvgLoss: 0.08, BasePosition: 5.0},
			PatternVCP:           {WinRate: 0.625, AvgWin: 0.22, AvgLoss: 0.08, BasePosition: 4.0},
			PatternCupHandle:     {WinRate: 0.625, AvgWin: 0.20, AvgLoss: 0.08, BasePosition: 4.0},
			Pattern60DayBreakout: {WinRate: 0.575, AvgWin: 0.18, AvgLoss: 0.08, BasePosition: 3.0},
			PatternStage2Cont:    {WinRate: 0.55, AvgWin: 0.15, AvgLoss: 0.08, BasePosition: 2.0},
			PatternMA200Breakout: {WinRate: 0.525, AvgWin: 0.12, AvgLoss: 0.08, BasePosition: 1.5},
		},
		qualityBands: []qualityBand{
			{20.0, 25.0, 1.4, "exceptional"},
			{18.0, 20.0, 1.3, "excellent"},
			{15.0, 18.0, 1.2, "strong"},
			{12.0, 15.0, 1.0, "good"},
			{10.0, 12.0, 0.8, "weak"},
			{0.0, 10.0, 0.6, "poor"},
		},
		logger: logger,
	}
}

// Fraction returns the raw Kelly fraction for a pattern:
// f = w - (1-w)/b where b is the payoff ratio avg_win/avg_loss.
func (p PatternProbability) Fraction() float64 {
	if p.AvgLoss <= 0 {
		return 0
	}
	b := p.AvgWin / p.AvgLoss
	if b <= 0 {
		return 0
	}
	f := p.WinRate - (1.0-p.WinRate)/b
	if f < 0 {
		return 0
	}
	return f
}

// QualityMultiplier maps the quality score onto the adjustment multiplier.
func (c *Calculator) QualityMultiplier(score float64) (float64, string) {
	for _, band := range c.qualityBands {
		if score >= band.min && score < band.max {
			return band.multiplier, band.label
		}
	}
	return 1.0, "default"
}

func (c *Calculator) riskAdjustment() float64 {
	switch c.riskLevel {
	case Conservative:
		return 0.7
	case Aggressive:
		return 1.3
	default:
		return 1.0
	}
}

// TechnicalPosition computes the pre-advisor position percentage:
// base position x quality multiplier x risk adjustment, capped at the
// single-position ceiling.
func (c *Calculator) TechnicalPosition(pattern PatternType, qualityScore float64) float64 {
	prob, ok := c.patterns[pattern]
	basePosition := 1.0
	if ok {
		basePosition = prob.BasePosition
	} else {
		c.logger.LogWarn("Kelly: unknown pattern %q, using minimum base position", pattern)
	}

	qualityMult, qualityLabel := c.QualityMultiplier(qualityScore)
	riskAdj := c.riskAdjustment()

	position := basePosition * qualityMult * riskAdj
	if position > c.maxSinglePosition {
		position = c.maxSinglePosition
	}

	c.logger.LogDebug("Kelly %s: %.1f%% x %.2f (%s) x %.2f (%s) = %.2f%%",
		pattern, basePosition, qualityMult, qualityLabel, riskAdj, c.riskLevel, position)
	return position
}

// AdvisorAdjustment applies the optional qualitative recommendation on top
// of the technical position. Confidence is 0.0-1.0; the combined multiplier
// is bounded to [0.5, 1.5] so the advisor can temper but never dominate.
func (c *Calculator) AdvisorAdjustment(technicalPosition float64, recommendation string, confidence float64) float64 {
	if recommendation == "" {
		return technicalPosition
	}

	var base float64
	switch strings.ToUpper(recommendation) {
	case "STRONG_BUY":
		base = 1.4
	case "BUY":
		base = 1.2
	case "HOLD":
		base = 1.0
	case "AVOID":
		base = 0.3
	default:
		base = 1.0
	}

	adjustment := base * (0.5 + confidence)
	if adjustment < 0.5 {
		adjustment = 0.5
	}
	if adjustment > 1.5 {
		adjustment = 1.5
	}

	position := technicalPosition * adjustment
	if position > c.maxSinglePosition {
		position = c.maxSinglePosition
	}
	return position
}
