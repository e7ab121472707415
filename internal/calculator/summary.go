package calculator

import (
	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

// Summary holds the weekly figures shown next to a candlestick table.
// Fields whose Has flag is false could not be computed from the history.
type Summary struct {
	Weeks     int
	LastClose decimal.Decimal

	MA20w, MA50w       decimal.Decimal
	HasMA20w, HasMA50w bool

	High52w, Low52w decimal.Decimal
	Position52w     float64
	HasRange        bool

	RSI14  float64
	HasRSI bool
}

// Summarize computes every figure it can from weekly bars (ascending).
func Summarize(weekly []model.WeeklyBar) Summary {
	s := Summary{Weeks: len(weekly)}
	cl := closes(weekly)
	if len(cl) == 0 {
		return s
	}
	s.LastClose = cl[len(cl)-1]

	if ma, err := MA20w(weekly); err == nil {
		s.MA20w, s.HasMA20w = ma, true
	}
	if ma, err := MA50w(weekly); err == nil {
		s.MA50w, s.HasMA50w = ma, true
	}
	if h, l, err := Range52w(weekly); err == nil {
		if pos, err := Position(s.LastClose, h, l); err == nil {
			s.High52w, s.Low52w, s.Position52w, s.HasRange = h, l, pos, true
		}
	}
	if rsi, err := RSI(weekly, 14); err == nil {
		s.RSI14, s.HasRSI = rsi, true
	}
	return s
}
