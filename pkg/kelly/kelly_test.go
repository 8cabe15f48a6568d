// File: pkg/kelly/kelly_test.go
package kelly

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jsj9346/makenaide-sub002/utilities"
)

func testCalculator(risk RiskLevel) *Calculator {
	return NewCalculator(risk, 8.0, utilities.NewLogger(utilities.Error))
}

func TestParseRiskLevel(t *testing.T) {
	level, err := ParseRiskLevel("")
	require.NoError(t, err)
	assert.Equal(t, Moderate, level)

	level, err = ParseRiskLevel("Conservative")
	require.NoError(t, err)
	assert.Equal(t, Conservative, level)

	_, err = ParseRiskLevel("yolo")
	assert.Error(t, err)
}

func TestFraction(t *testing.T) {
	p := PatternProbability{WinRate: 0.675, AvgWin: 0.25, AvgLoss: 0.08}
	// f = w - (1-w)/b with b = 0.25/0.08
	assert.InDelta(t, 0.675-(0.325/(0.25/0.08)), p.Fraction(), 1e-9)

	// Negative edge floors at zero.
	losing := PatternProbability{WinRate: 0.3, AvgWin: 0.05, AvgLoss: 0.10}
	assert.Zero(t, losing.Fraction())

	assert.Zero(t, PatternProbability{WinRate: 0.6, AvgWin: 0.1}.Fraction())
}

func TestQualityMultiplierBands(t *testing.T) {
	c := testCalculator(Moderate)

	cases := []struct {
		score float64
		mult  float64
	}{
		{22.0, 1.4},
		{19.0, 1.3},
		{16.0, 1.2},
		{13.0, 1.0},
		{11.0, 0.8},
		{5.0, 0.6},
	}
	for _, tc := range cases {
		mult, _ := c.QualityMultiplier(tc.score)
		assert.InDelta(t, tc.mult, mult, 1e-9, "score %.1f", tc.score)
	}
}

func TestTechnicalPosition(t *testing.T) {
	c := testCalculator(Moderate)

	// Stage 1->2 base 5.0% at good quality stays 5.0%.
	assert.InDelta(t, 5.0, c.TechnicalPosition(PatternStage1To2, 13.0), 1e-9)

	// Exceptional quality scales it 1.4x.
	assert.InDelta(t, 7.0, c.TechnicalPosition(PatternStage1To2, 22.0), 1e-9)

	// Unknown patterns get the minimum base.
	assert.InDelta(t, 1.0, c.TechnicalPosition(PatternUnknown, 13.0), 1e-9)
}

func TestTechnicalPositionRiskAdjustment(t *testing.T) {
	conservative := testCalculator(Conservative)
	aggressive := testCalculator(Aggressive)

	assert.InDelta(t, 5.0*0.7, conservative.TechnicalPosition(PatternStage1To2, 13.0), 1e-9)
	assert.InDelta(t, 5.0*1.3, aggressive.TechnicalPosition(PatternStage1To2, 13.0), 1e-9)
}

func TestTechnicalPositionCapped(t *testing.T) {
	c := testCalculator(Aggressive)
	// 5.0 x 1.4 x 1.3 = 9.1, capped at 8.
	assert.InDelta(t, 8.0, c.TechnicalPosition(PatternStage1To2, 22.0), 1e-9)
}

func TestAdvisorAdjustment(t *testing.T) {
	c := testCalculator(Moderate)

	// STRONG_BUY at high confidence hits the 1.5 ceiling: 1.4 x (0.5+0.9).
	assert.InDelta(t, 4.0*1.5, c.AdvisorAdjustment(4.0, "STRONG_BUY", 0.9), 1e-9)

	// AVOID at full confidence hits the 0.5 floor: 0.3 x 1.5 = 0.45.
	assert.InDelta(t, 4.0*0.5, c.AdvisorAdjustment(4.0, "AVOID", 1.0), 1e-9)

	// HOLD at middling confidence: 1.0 x (0.5+0.5) = 1.0.
	assert.InDelta(t, 4.0, c.AdvisorAdjustment(4.0, "HOLD", 0.5), 1e-9)

	// No recommendation passes through untouched.
	assert.InDelta(t, 4.0, c.AdvisorAdjustment(4.0, "", 0.0), 1e-9)
}

func TestAdvisorAdjustmentCapped(t *testing.T) {
	c := testCalculator(Moderate)
	assert.InDelta(t, 8.0, c.AdvisorAdjustment(7.0, "STRONG_BUY", 0.9), 1e-9)
}
