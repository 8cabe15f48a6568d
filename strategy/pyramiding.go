// File: strategy/pyramiding.go
package strategy

import (
	"fmt"
	"sync"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

type pyramidState struct {
	level         int
	lastBreakout  float64
	originalEntry float64
}

// PyramidingManager tracks scale-in levels per ticker. Each additional buy
// is half the size of the previous one and requires a fresh breakout above
// the last recorded level plus a Stage-2 confirmation.
type PyramidingManager struct {
	cfg    utilities.PyramidingConfig
	logger *utilities.Logger

	mu     sync.Mutex
	states map[string]*pyramidState
}

func NewPyramidingManager(cfg utilities.PyramidingConfig, logger *utilities.Logger) *PyramidingManager {
	if cfg.MaxLevels <= 0 {
		cfg.MaxLevels = 3
	}
	if cfg.SizeMultiplier <= 0 {
		cfg.SizeMultiplier = 0.5
	}
	if cfg.BreakoutStep <= 0 {
		cfg.BreakoutStep = 1.05
	}
	if cfg.BasePositionPercent <= 0 {
		cfg.BasePositionPercent = 2.0
	}
	if cfg.VolumeSurgeMin <= 0 {
		cfg.VolumeSurgeMin = 1.3
	}
	return &PyramidingManager{
		cfg:    cfg,
		logger: logger,
		states: make(map[string]*pyramidState),
	}
}

// Register records the initial entry as pyramid level zero.
func (p *PyramidingManager) Register(ticker string, entryPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.states[ticker] = &pyramidState{
		level:         0,
		lastBreakout:  entryPrice,
		originalEntry: entryPrice,
	}
}

// ShouldPyramid reports whether a ticker qualifies for one more scale-in and
// why not otherwise.
func (p *PyramidingManager) ShouldPyramid(ticker string, currentPrice float64, snap *dataprovider.TechnicalSnapshot) (bool, string) {
	if !p.cfg.Enabled {
		return false, "pyramiding disabled"
	}

	p.mu.Lock()
	st, ok := p.states[ticker]
	p.mu.Unlock()
	if !ok {
		return false, "position not registered for pyramiding"
	}
	if st.level >= p.cfg.MaxLevels-1 {
		return false, fmt.Sprintf("max pyramid level reached (%d)", st.level)
	}

	threshold := st.lastBreakout * p.cfg.BreakoutStep
	if currentPrice < threshold {
		return false, fmt.Sprintf("price %.2f below breakout threshold %.2f", currentPrice, threshold)
	}

	if snap == nil {
		return false, "no technical snapshot for Stage-2 confirmation"
	}
	if snap.Stage != 2 {
		return false, fmt.Sprintf("not in Stage 2 (stage=%d)", snap.Stage)
	}
	if snap.MA200Trend <= 0 {
		return false, "MA200 trend not rising"
	}
	if snap.VolumeSurgeRatio < p.cfg.VolumeSurgeMin {
		return false, fmt.Sprintf("volume surge %.2f below %.2f", snap.VolumeSurgeRatio, p.cfg.VolumeSurgeMin)
	}

	return true, fmt.Sprintf("breakout above %.2f with Stage-2 confirmation", threshold)
}

// NextSizePercent returns the equity percentage for the next pyramid buy:
// the base allocation shrunk by the size multiplier per completed level.
func (p *PyramidingManager) NextSizePercent(ticker string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[ticker]
	if !ok {
		return p.cfg.BasePositionPercent
	}
	pct := p.cfg.BasePositionPercent
	for i := 0; i <= st.level; i++ {
		pct *= p.cfg.SizeMultiplier
	}
	return pct
}

// Advance records a filled pyramid buy at the given price.
func (p *PyramidingManager) Advance(ticker string, breakoutPrice float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.states[ticker]
	if !ok {
		return
	}
	st.level++
	st.lastBreakout = breakoutPrice
	p.logger.LogInfo("Pyramiding %s: advanced to level %d at %.2f", ticker, st.level, breakoutPrice)
}

// Level returns the current pyramid level for a ticker.
func (p *PyramidingManager) Level(ticker string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.states[ticker]; ok {
		return st.level
	}
	return 0
}

// Forget clears state after a position closes.
func (p *PyramidingManager) Forget(ticker string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.states, ticker)
}
