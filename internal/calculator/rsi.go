package calculator

import (
	"errors"

	"CandleDesk/internal/model"
)

// RSI computes the Wilder-smoothed RSI of weekly closes over the given period.
// Requires at least period+1 bars.
func RSI(weekly []model.WeeklyBar, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	cl := closes(weekly)
	if len(cl) < period+1 {
		return 0, ErrInsufficientData
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := cl[i].Sub(cl[i-1]).InexactFloat64()
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	for i := period + 1; i < len(cl); i++ {
		change := cl[i].Sub(cl[i-1]).InexactFloat64()
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, nil
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs), nil
}
