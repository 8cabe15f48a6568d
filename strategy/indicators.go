package strategy

import (
	"fmt"
	"math"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

// ComputeEMASeries explicitly computes the Exponential Moving Average (EMA).
func ComputeEMASeries(data []float64, period int) []float64 {
	if period <= 0 || len(data) == 0 {
		return nil
	}

	ema := make([]float64, len(data))
	multiplier := 2.0 / float64(period+1)

	ema[0] = data[0]
	for i := 1; i < len(data); i++ {
		ema[i] = (data[i]-ema[i-1])*multiplier + ema[i-1]
	}
	return ema
}

// CalculateSMA computes the simple moving average over the last 'period' values.
func CalculateSMA(data []float64, period int) float64 {
	if len(data) < period || period <= 0 {
		return 0.0
	}

	segment := data[len(data)-period:]
	sum := 0.0
	for _, v := range segment {
		sum += v
	}
	return sum / float64(period)
}

// CalculateATR explicitly calculates the Average True Range (ATR) over the last 'period' bars.
func CalculateATR(bars []utilities.OHLCVBar, period int) (float64, error) {
	n := len(bars)
	if period <= 0 || n < period+1 {
		return 0.0, fmt.Errorf("not enough bars (%d) for ATR calculation of period %d", n, period)
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		curr := bars[n-i]
		prev := bars[n-i-1]

		highLow := curr.High - curr.Low
		highClose := math.Abs(curr.High - prev.Close)
		lowClose := math.Abs(curr.Low - prev.Close)

		trueRange := math.Max(highLow, math.Max(highClose, lowClose))
		sum += trueRange
	}
	return sum / float64(period), nil
}

// CalculateMACDHistogram computes the final MACD histogram value over the given bars.
func CalculateMACDHistogram(bars []utilities.OHLCVBar, fastPeriod, slowPeriod, signalPeriod int) float64 {
	closes := extractCloses(bars)
	if len(closes) == 0 {
		return 0.0
	}
	fastEMA := ComputeEMASeries(closes, fastPeriod)
	slowEMA := ComputeEMASeries(closes, slowPeriod)

	macdLine := make([]float64, len(closes))
	for i := range closes {
		macdLine[i] = fastEMA[i] - slowEMA[i]
	}
	signalEMA := ComputeEMASeries(macdLine, signalPeriod)

	idx := len(macdLine) - 1
	return macdLine[idx] - signalEMA[idx]
}

// CalculateSupertrend computes the final supertrend line value over the
// given bars. The returned bool is true when price closed above the line
// (uptrend) on the last bar.
func CalculateSupertrend(bars []utilities.OHLCVBar, period int, multiplier float64) (float64, bool, error) {
	if len(bars) < period+1 {
		return 0, false, fmt.Errorf("not enough bars (%d) for supertrend of period %d", len(bars), period)
	}

	upper := make([]float64, len(bars))
	lower := make([]float64, len(bars))
	trendUp := true
	line := 0.0

	for i := period; i < len(bars); i++ {
		atr, err := CalculateATR(bars[:i+1], period)
		if err != nil {
			return 0, false, err
		}
		mid := (bars[i].High + bars[i].Low) / 2.0
		basicUpper := mid + multiplier*atr
		basicLower := mid - multiplier*atr

		if i == period {
			upper[i] = basicUpper
			lower[i] = basicLower
		} else {
			if basicUpper < upper[i-1] || bars[i-1].Close > upper[i-1] {
				upper[i] = basicUpper
			} else {
				upper[i] = upper[i-1]
			}
			if basicLower > lower[i-1] || bars[i-1].Close < lower[i-1] {
				lower[i] = basicLower
			} else {
				lower[i] = lower[i-1]
			}
		}

		if bars[i].Close > upper[i] {
			trendUp = true
		} else if bars[i].Close < lower[i] {
			trendUp = false
		}
		if trendUp {
			line = lower[i]
		} else {
			line = upper[i]
		}
	}
	return line, trendUp, nil
}

// VolumeSurgeRatio returns the last bar's volume relative to the average of
// the preceding 'period' bars. Returns 0 when there is not enough history.
func VolumeSurgeRatio(bars []utilities.OHLCVBar, period int) float64 {
	if len(bars) <= period || period <= 0 {
		return 0.0
	}
	volumes := make([]float64, len(bars)-1)
	for i := range volumes {
		volumes[i] = bars[i].Volume
	}
	avg := CalculateSMA(volumes, period)
	if avg == 0 {
		return 0.0
	}
	return bars[len(bars)-1].Volume / avg
}

// FindSupportLevel locates the highest pivot low below the current close.
// A pivot low is a bar whose low undercuts its 'window' neighbors on both
// sides. Returns 0 when no support can be established.
func FindSupportLevel(bars []utilities.OHLCVBar, window int) float64 {
	if len(bars) < window*2+1 || window <= 0 {
		return 0.0
	}
	lastClose := bars[len(bars)-1].Close

	support := 0.0
	for i := window; i < len(bars)-window; i++ {
		isPivot := true
		for j := i - window; j <= i+window; j++ {
			if bars[j].Low < bars[i].Low {
				isPivot = false
				break
			}
		}
		if isPivot && bars[i].Low < lastClose && bars[i].Low > support {
			support = bars[i].Low
		}
	}
	return support
}

func extractCloses(bars []utilities.OHLCVBar) []float64 {
	closes := make([]float64, len(bars))
	for i, bar := range bars {
		closes[i] = bar.Close
	}
	return closes
}
