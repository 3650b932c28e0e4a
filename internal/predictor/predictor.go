package predictor

import (
	"fmt"
	"math"

	"crypto-terminal/pkg/models"
)

// TrendClass is the qualitative outcome of a prediction.
type TrendClass string

const (
	TrendUp           TrendClass = "up"
	TrendDown         TrendClass = "down"
	TrendFlat         TrendClass = "flat"
	TrendCrash        TrendClass = "crash"
	TrendInsufficient TrendClass = "insufficient"
)

// significance is the share of the last close an average change must exceed
// to count as a trend (0.05%).
const significance = 0.0005

const minCandles = 2

type Prediction struct {
	Price float64
	Label string
	Class TrendClass
}

// Sufficient reports whether a price was computed.
func (p Prediction) Sufficient() bool {
	return p.Class != TrendInsufficient
}

// Predict extrapolates the next close from the average close-to-close change
// over the last max(2, lookback) candles. Candles are expected oldest first.
func Predict(candles []models.Candle, lookback int) Prediction {
	window := lookback
	if window < minCandles {
		window = minCandles
	}
	if len(candles) < window {
		return Prediction{Label: "Insufficient data", Class: TrendInsufficient}
	}

	recent := candles[len(candles)-window:]
	var total float64
	for i := 1; i < len(recent); i++ {
		total += recent[i].Close - recent[i-1].Close
	}
	avg := total / float64(len(recent)-1)
	last := recent[len(recent)-1].Close

	predicted := round(last + avg)
	if predicted < 0 {
		return Prediction{Price: 0, Label: "Crash to zero?", Class: TrendCrash}
	}

	threshold := last * significance
	switch {
	case avg > threshold:
		return Prediction{Price: predicted, Label: fmt.Sprintf("Expected rise to ~%v", predicted), Class: TrendUp}
	case avg < -threshold:
		return Prediction{Price: predicted, Label: fmt.Sprintf("Expected fall to ~%v", predicted), Class: TrendDown}
	}
	return Prediction{Price: predicted, Label: fmt.Sprintf("Expected sideways, price ~%v", predicted), Class: TrendFlat}
}

// round keeps 4 decimals above 1 and 8 otherwise.
func round(v float64) float64 {
	digits := 8.0
	if v > 1 {
		digits = 4
	}
	scale := math.Pow(10, digits)
	return math.Round(v*scale) / scale
}
