package export

import (
	"time"

	"github.com/shopspring/decimal"

	"CandleDesk/internal/model"
)

// Row is the flat record written by every Saver. Absent prices stay nil.
type Row struct {
	Date        string   `json:"date" parquet:"date"`
	Symbol      string   `json:"symbol" parquet:"symbol"`
	ShortName   string   `json:"short_name" parquet:"short_name"`
	Open        *float64 `json:"open" parquet:"open,optional"`
	High        *float64 `json:"high" parquet:"high,optional"`
	Low         *float64 `json:"low" parquet:"low,optional"`
	Close       *float64 `json:"close" parquet:"close,optional"`
	Volume      int64    `json:"volume" parquet:"volume"`
	Amount      float64  `json:"amount" parquet:"amount"`
	ChangeRatio *float64 `json:"change_ratio" parquet:"change_ratio,optional"`
}

func optional(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	f := d.Decimal.InexactFloat64()
	return &f
}

func newRow(date time.Time, q model.Quote) Row {
	return Row{
		Date:        date.Format(model.DateLayout),
		Symbol:      q.Symbol,
		ShortName:   q.ShortName,
		Open:        optional(q.Open),
		High:        optional(q.High),
		Low:         optional(q.Low),
		Close:       optional(q.Close),
		Volume:      q.Volume,
		Amount:      q.Amount.InexactFloat64(),
		ChangeRatio: optional(q.ChangeRatio),
	}
}

// FromDaily converts daily bars to rows keyed by trading date.
func FromDaily(bars []model.DailyBar) []Row {
	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = newRow(b.TradingDate, b.Quote)
	}
	return rows
}

// FromWeekly converts weekly bars to rows keyed by week end date.
func FromWeekly(bars []model.WeeklyBar) []Row {
	rows := make([]Row, len(bars))
	for i, b := range bars {
		rows[i] = newRow(b.WeekEndDate, b.Quote)
	}
	return rows
}
