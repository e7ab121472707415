package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SymbolWidth is the fixed width of an A-share instrument code.
const SymbolWidth = 6

// DateLayout is the calendar date format used on disk and on the wire.
const DateLayout = "2006-01-02"

// Quote holds the fields shared by daily and weekly bars.
// Prices and ChangeRatio are nullable: an invalid value means "no measurement".
type Quote struct {
	Symbol      string
	ShortName   string
	Open        decimal.NullDecimal
	High        decimal.NullDecimal
	Low         decimal.NullDecimal
	Close       decimal.NullDecimal
	Volume      int64               // shares
	Amount      decimal.Decimal     // currency units
	ChangeRatio decimal.NullDecimal // percent
}

// DailyBar is one trading day of one instrument.
type DailyBar struct {
	TradingDate time.Time
	Quote
}

// WeeklyBar is one calendar week of one instrument, keyed by the Friday that ends it.
type WeeklyBar struct {
	WeekEndDate time.Time
	Quote
}

// Price wraps a present decimal value.
func Price(d decimal.Decimal) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: d, Valid: true}
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string (a trailing time part is ignored).
func ParseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(DateLayout) {
		s = s[:len(DateLayout)]
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// NormalizeSymbol trims s and left-pads purely numeric codes with zeros to SymbolWidth.
func NormalizeSymbol(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || len(s) >= SymbolWidth {
		return s
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return s
		}
	}
	return strings.Repeat("0", SymbolWidth-len(s)) + s
}
