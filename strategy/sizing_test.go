// File: strategy/sizing_test.go
package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

func newTestSizer() *PositionSizer {
	return NewPositionSizer(utilities.SizingConfig{
		MinPositionPercent: 1.0,
		MaxPositionPercent: 8.0,
	}, 10000, quietLogger())
}

func TestSizeWithinBounds(t *testing.T) {
	sizer := newTestSizer()
	amount := sizer.Size("KRW-BTC", 4.0, 1.0, 10_000_000)
	assert.InDelta(t, 400000, amount, 0.01)
}

func TestSizeClampedToFloor(t *testing.T) {
	sizer := newTestSizer()
	amount := sizer.Size("KRW-BTC", 0.2, 1.0, 10_000_000)
	assert.InDelta(t, 100000, amount, 0.01, "sub-floor estimates size at the 1%% minimum")
}

func TestSizeClampedToCeiling(t *testing.T) {
	sizer := newTestSizer()
	amount := sizer.Size("KRW-BTC", 30.0, 1.4, 10_000_000)
	assert.InDelta(t, 800000, amount, 0.01, "no estimate is trusted beyond 8%%")
}

func TestSizeSentimentScaling(t *testing.T) {
	sizer := newTestSizer()
	neutral := sizer.Size("KRW-BTC", 4.0, 1.0, 10_000_000)
	greedy := sizer.Size("KRW-BTC", 4.0, 1.4, 10_000_000)
	fearful := sizer.Size("KRW-BTC", 4.0, 0.6, 10_000_000)

	assert.InDelta(t, neutral*1.4, greedy, 0.01)
	assert.InDelta(t, neutral*0.6, fearful, 0.01)
}

func TestSizeBelowExchangeMinimum(t *testing.T) {
	sizer := newTestSizer()
	// 8% of 100k equity is 8,000 KRW, below the 10,000 minimum.
	assert.Zero(t, sizer.Size("KRW-BTC", 8.0, 1.0, 100000))
}

func TestSizeZeroEquity(t *testing.T) {
	sizer := newTestSizer()
	assert.Zero(t, sizer.Size("KRW-BTC", 4.0, 1.0, 0))
	assert.Zero(t, sizer.Size("KRW-BTC", 4.0, 1.0, -100))
}
