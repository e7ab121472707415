package calculator

import (
	"errors"

	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

// Range returns the highest high and lowest low over the last n weekly bars.
func Range(weekly []model.WeeklyBar, n int) (high, low decimal.Decimal, err error) {
	if n <= 0 {
		return decimal.Zero, decimal.Zero, errors.New("window must be positive")
	}
	start := max(len(weekly)-n, 0)
	var hasHigh, hasLow bool
	for _, b := range weekly[start:] {
		if b.High.Valid && (!hasHigh || b.High.Decimal.GreaterThan(high)) {
			high, hasHigh = b.High.Decimal, true
		}
		if b.Low.Valid && (!hasLow || b.Low.Decimal.LessThan(low)) {
			low, hasLow = b.Low.Decimal, true
		}
	}
	if !hasHigh || !hasLow {
		return decimal.Zero, decimal.Zero, ErrInsufficientData
	}
	return high, low, nil
}

// Range52w scans the most recent 52 weekly bars.
func Range52w(weekly []model.WeeklyBar) (high, low decimal.Decimal, err error) {
	return Range(weekly, 52)
}

// Position returns where current sits within [low, high] (0.0~1.0), clamped.
func Position(current, high, low decimal.Decimal) (float64, error) {
	if high.Equal(low) {
		return 0.5, nil
	}
	if high.LessThan(low) {
		return 0, errors.New("high must be >= low")
	}
	pos := current.Sub(low).Div(high.Sub(low)).InexactFloat64()
	if pos < 0 {
		pos = 0
	}
	if pos > 1 {
		pos = 1
	}
	return pos, nil
}
