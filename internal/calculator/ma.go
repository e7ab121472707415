package calculator

import (
	"errors"

	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

// ErrInsufficientData is returned when there are fewer bars than the period needs.
var ErrInsufficientData = errors.New("not enough data")

// SMA computes the simple moving average of the last period values.
func SMA(values []decimal.Decimal, period int) (decimal.Decimal, error) {
	if period <= 0 {
		return decimal.Zero, errors.New("period must be positive")
	}
	if len(values) < period {
		return decimal.Zero, ErrInsufficientData
	}
	sum := decimal.Sum(values[len(values)-period], values[len(values)-period+1:]...)
	return sum.Div(decimal.NewFromInt(int64(period))), nil
}

// MA20w returns the 20-week simple moving average of weekly closes.
func MA20w(weekly []model.WeeklyBar) (decimal.Decimal, error) {
	return SMA(closes(weekly), 20)
}

// MA50w returns the 50-week simple moving average of weekly closes.
func MA50w(weekly []model.WeeklyBar) (decimal.Decimal, error) {
	return SMA(closes(weekly), 50)
}

// closes extracts the present closes of weekly bars. Resampled bars always
// carry a close.
func closes(bars []model.WeeklyBar) []decimal.Decimal {
	out := make([]decimal.Decimal, 0, len(bars))
	for _, b := range bars {
		if b.Close.Valid {
			out = append(out, b.Close.Decimal)
		}
	}
	return out
}
