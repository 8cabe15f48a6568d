// File: strategy/pyramiding_test.go
package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsj9346/makenaide-sub002/dataprovider"
	"github.com/jsj9346/makenaide-sub002/utilities"
)

func newTestPyramids() *PyramidingManager {
	return NewPyramidingManager(utilities.PyramidingConfig{
		Enabled:             true,
		MaxLevels:           3,
		SizeMultiplier:      0.5,
		BreakoutStep:        1.05,
		BasePositionPercent: 2.0,
		VolumeSurgeMin:      1.3,
	}, quietLogger())
}

func stage2Snap() *dataprovider.TechnicalSnapshot {
	return &dataprovider.TechnicalSnapshot{
		Stage:            2,
		MA200Trend:       1.0,
		VolumeSurgeRatio: 1.5,
	}
}

func TestShouldPyramidRequiresBreakout(t *testing.T) {
	p := newTestPyramids()
	p.Register("KRW-BTC", 100000)

	ok, reason := p.ShouldPyramid("KRW-BTC", 104000, stage2Snap())
	assert.False(t, ok)
	assert.Contains(t, reason, "breakout threshold")

	ok, _ = p.ShouldPyramid("KRW-BTC", 106000, stage2Snap())
	assert.True(t, ok)
}

func TestShouldPyramidRequiresStage2Confirmation(t *testing.T) {
	p := newTestPyramids()
	p.Register("KRW-BTC", 100000)

	snap := stage2Snap()
	snap.Stage = 1
	ok, _ := p.ShouldPyramid("KRW-BTC", 106000, snap)
	assert.False(t, ok)

	snap = stage2Snap()
	snap.MA200Trend = -0.5
	ok, _ = p.ShouldPyramid("KRW-BTC", 106000, snap)
	assert.False(t, ok)

	snap = stage2Snap()
	snap.VolumeSurgeRatio = 1.0
	ok, _ = p.ShouldPyramid("KRW-BTC", 106000, snap)
	assert.False(t, ok)

	ok, _ = p.ShouldPyramid("KRW-BTC", 106000, nil)
	assert.False(t, ok)
}

func TestPyramidSizeShrinksPerLevel(t *testing.T) {
	p := newTestPyramids()
	p.Register("KRW-BTC", 100000)

	assert.InDelta(t, 1.0, p.NextSizePercent("KRW-BTC"), 1e-9)

	p.Advance("KRW-BTC", 106000)
	assert.Equal(t, 1, p.Level("KRW-BTC"))
	assert.InDelta(t, 0.5, p.NextSizePercent("KRW-BTC"), 1e-9)
}

func TestPyramidMaxLevels(t *testing.T) {
	p := newTestPyramids()
	p.Register("KRW-BTC", 100000)

	p.Advance("KRW-BTC", 106000)
	p.Advance("KRW-BTC", 112000)
	require.Equal(t, 2, p.Level("KRW-BTC"))

	ok, reason := p.ShouldPyramid("KRW-BTC", 200000, stage2Snap())
	assert.False(t, ok)
	assert.Contains(t, reason, "max pyramid level")
}

func TestPyramidUnregisteredTicker(t *testing.T) {
	p := newTestPyramids()
	ok, reason := p.ShouldPyramid("KRW-DOGE", 1000, stage2Snap())
	assert.False(t, ok)
	assert.Contains(t, reason, "not registered")
}

func TestPyramidForget(t *testing.T) {
	p := newTestPyramids()
	p.Register("KRW-BTC", 100000)
	p.Advance("KRW-BTC", 106000)
	p.Forget("KRW-BTC")
	assert.Equal(t, 0, p.Level("KRW-BTC"))
}
