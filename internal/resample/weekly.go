package resample

import (
	"fmt"
	"sort"
	"time"

	"CandleDesk/internal/model"
)

// InvalidInputError reports input the resampler refuses to aggregate.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "resample: invalid input: " + e.Reason
}

// WeekEnd returns the Friday on or after t's calendar date.
func WeekEnd(t time.Time) time.Time {
	d := model.Day(t)
	offset := (int(time.Friday) - int(d.Weekday()) + 7) % 7
	return d.AddDate(0, 0, offset)
}

// Weekly converts one symbol's daily bars into weekly bars ending on Friday.
// The input is not modified. Weeks without a resolvable open and close are dropped.
func Weekly(daily []model.DailyBar) ([]model.WeeklyBar, error) {
	if len(daily) == 0 {
		return nil, &InvalidInputError{Reason: "no daily bars"}
	}
	symbol := daily[0].Symbol
	for _, d := range daily[1:] {
		if d.Symbol != symbol {
			return nil, &InvalidInputError{
				Reason: fmt.Sprintf("mixed symbols %q and %q", symbol, d.Symbol),
			}
		}
	}

	rows := make([]model.DailyBar, len(daily))
	copy(rows, daily)
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].TradingDate.Before(rows[j].TradingDate)
	})

	var weekly []model.WeeklyBar
	var cur *model.WeeklyBar
	flush := func() {
		if cur != nil && cur.Open.Valid && cur.Close.Valid {
			weekly = append(weekly, *cur)
		}
	}

	for _, d := range rows {
		end := WeekEnd(d.TradingDate)
		if cur == nil || !cur.WeekEndDate.Equal(end) {
			flush()
			cur = &model.WeeklyBar{WeekEndDate: end}
			cur.Symbol = symbol
		}
		fold(&cur.Quote, &d.Quote)
	}
	flush()

	return weekly, nil
}

// fold merges a later daily quote into the running weekly quote.
func fold(w, d *model.Quote) {
	if !w.Open.Valid && d.Open.Valid {
		w.Open = d.Open
	}
	if d.Close.Valid {
		w.Close = d.Close
	}
	if d.High.Valid && (!w.High.Valid || d.High.Decimal.GreaterThan(w.High.Decimal)) {
		w.High = d.High
	}
	if d.Low.Valid && (!w.Low.Valid || d.Low.Decimal.LessThan(w.Low.Decimal)) {
		w.Low = d.Low
	}
	w.Volume += d.Volume
	w.Amount = w.Amount.Add(d.Amount)
	if d.ChangeRatio.Valid {
		w.ChangeRatio = d.ChangeRatio
	}
	if d.ShortName != "" {
		w.ShortName = d.ShortName
	}
}
