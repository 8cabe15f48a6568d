// File: strategy/indicators_test.go
package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

func flatBars(n int, price, rangeSize, volume float64) []utilities.OHLCVBar {
	bars := make([]utilities.OHLCVBar, n)
	for i := range bars {
		bars[i] = utilities.OHLCVBar{
			Timestamp: int64(i) * 86400000,
			Open:      price,
			High:      price + rangeSize/2,
			Low:       price - rangeSize/2,
			Close:     price,
			Volume:    volume,
		}
	}
	return bars
}

func TestCalculateATRFlatRange(t *testing.T) {
	bars := flatBars(15, 100000, 1000, 10)
	atr, err := CalculateATR(bars, 14)
	require.NoError(t, err)
	assert.InDelta(t, 1000, atr, 0.01, "constant true range averages to itself")
}

func TestCalculateATRNotEnoughBars(t *testing.T) {
	bars := flatBars(10, 100000, 1000, 10)
	_, err := CalculateATR(bars, 14)
	assert.Error(t, err)
}

func TestVolumeSurgeRatio(t *testing.T) {
	bars := flatBars(21, 100000, 1000, 100)
	bars[len(bars)-1].Volume = 300

	ratio := VolumeSurgeRatio(bars, 20)
	assert.InDelta(t, 3.0, ratio, 1e-9)
}

func TestVolumeSurgeRatioNotEnoughBars(t *testing.T) {
	assert.Zero(t, VolumeSurgeRatio(flatBars(5, 100, 1, 10), 20))
}

func TestFindSupportLevel(t *testing.T) {
	bars := flatBars(21, 100000, 1000, 10)
	// Rising lows so the carved dip is the only pivot.
	for i := range bars {
		bars[i].Low = 99000 + float64(i)*10
	}
	bars[10].Low = 95000
	bars[10].Close = 96000

	support := FindSupportLevel(bars, 3)
	assert.InDelta(t, 95000, support, 0.01)
}

func TestFindSupportLevelNone(t *testing.T) {
	// All lows identical and equal to the close band: nothing below the
	// last close qualifies as a pivot under it.
	bars := flatBars(5, 100, 0, 10)
	assert.Zero(t, FindSupportLevel(bars, 3))
}

func TestComputeEMASeriesLength(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	series := ComputeEMASeries(data, 3)
	require.Len(t, series, len(data))
	// EMA of a rising series rises and lags the raw value.
	assert.Greater(t, series[9], series[5])
	assert.Less(t, series[9], data[9])
}

func TestCalculateSupertrendTrend(t *testing.T) {
	// A steady uptrend should put price above the supertrend line.
	bars := make([]utilities.OHLCVBar, 40)
	price := 100.0
	for i := range bars {
		bars[i] = utilities.OHLCVBar{
			Timestamp: int64(i) * 86400000,
			Open:      price,
			High:      price + 2,
			Low:       price - 2,
			Close:     price + 1,
			Volume:    10,
		}
		price += 3
	}

	line, trendUp, err := CalculateSupertrend(bars, 10, 3.0)
	require.NoError(t, err)
	assert.True(t, trendUp)
	assert.Less(t, line, bars[len(bars)-1].Close)
}
